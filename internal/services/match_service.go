package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/markoz2707/opzmanager/internal/logger"
	"github.com/markoz2707/opzmanager/internal/repos"
	"github.com/markoz2707/opzmanager/internal/types"
)

const complianceSystemPrompt = `You assess how well an equipment candidate satisfies procurement requirements.
For every requirement judge one of: met, partial, not_met, not_applicable.
Use not_applicable only when the requirement targets a different device category.
Respond with a single JSON object:
{"overall_score": <0-100>, "summary": "<one paragraph>", "requirements": [{"id": "<requirement id>", "status": "<status>", "explanation": "<short reason>"}]}
Respond with JSON only.`

const noDocumentationPlaceholder = "No additional documentation available."

var deviceTagPattern = regexp.MustCompile(`^\s*\[([^\]]+)\]`)

// MatchService scores candidate equipment against the requirement set of one
// OPZ document and persists a ranked match list with per-requirement
// compliance rows.
type MatchService interface {
	Match(ctx context.Context, opzDocumentID uuid.UUID, requirements []*types.Requirement, candidates []*types.Equipment) ([]*types.EquipmentMatch, error)
}

type matchService struct {
	db  *gorm.DB
	log *logger.Logger

	matchRepo repos.EquipmentMatchRepo
	search    KnowledgeSearchService
	reasoning ReasoningClient

	scoreThreshold float64
	resultLimit    int
	contextTopK    int
	maxTokens      int
	temperature    float64
}

func NewMatchService(
	db *gorm.DB,
	baseLog *logger.Logger,
	matchRepo repos.EquipmentMatchRepo,
	search KnowledgeSearchService,
	reasoning ReasoningClient,
	scoreThreshold float64,
	resultLimit int,
	contextTopK int,
	maxTokens int,
	temperature float64,
) MatchService {
	if resultLimit <= 0 {
		resultLimit = 5
	}
	if contextTopK <= 0 {
		contextTopK = 3
	}
	return &matchService{
		db:             db,
		log:            baseLog.With("service", "MatchService"),
		matchRepo:      matchRepo,
		search:         search,
		reasoning:      reasoning,
		scoreThreshold: scoreThreshold,
		resultLimit:    resultLimit,
		contextTopK:    contextTopK,
		maxTokens:      maxTokens,
		temperature:    temperature,
	}
}

func (s *matchService) Match(ctx context.Context, opzDocumentID uuid.UUID, requirements []*types.Requirement, candidates []*types.Equipment) ([]*types.EquipmentMatch, error) {
	if len(requirements) == 0 {
		return nil, nil
	}

	// Matching is a full recompute: old matches go first so a run that keeps
	// nothing still clears stale results.
	if err := s.matchRepo.DeleteByOPZDocumentID(ctx, s.db, opzDocumentID); err != nil {
		return nil, fmt.Errorf("delete existing matches: %w", err)
	}

	deviceTags := parseDeviceTags(requirements)
	queryText := concatRequirementTexts(requirements)

	reasoningUp := s.reasoning != nil && s.reasoning.TestConnection(ctx)
	if !reasoningUp {
		s.log.Warn("Reasoning service unreachable, falling back to heuristic scoring", "opz_document_id", opzDocumentID)
	}

	var kept []*types.EquipmentMatch
	for _, candidate := range candidates {
		match, err := s.assessCandidate(ctx, opzDocumentID, requirements, deviceTags, queryText, candidate, reasoningUp)
		if err != nil {
			// One bad candidate never aborts the batch.
			s.log.Warn("Candidate assessment failed, skipping",
				"opz_document_id", opzDocumentID,
				"equipment_id", candidate.ID,
				"error", err,
			)
			continue
		}
		if match == nil || match.MatchScore <= s.scoreThreshold {
			continue
		}
		kept = append(kept, match)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].MatchScore > kept[j].MatchScore })
	if len(kept) > s.resultLimit {
		kept = kept[:s.resultLimit]
	}

	if err := s.matchRepo.ReplaceForOPZDocument(ctx, s.db, opzDocumentID, kept); err != nil {
		return nil, fmt.Errorf("persist matches: %w", err)
	}
	return kept, nil
}

func (s *matchService) assessCandidate(
	ctx context.Context,
	opzDocumentID uuid.UUID,
	requirements []*types.Requirement,
	deviceTags []string,
	queryText string,
	candidate *types.Equipment,
	reasoningUp bool,
) (*types.EquipmentMatch, error) {
	if !reasoningUp {
		score := heuristicScore(requirements, deviceTags, candidate)
		return &types.EquipmentMatch{
			ID:            uuid.New(),
			OPZDocumentID: opzDocumentID,
			EquipmentID:   candidate.ID,
			MatchScore:    clamp01(score),
			Explanation:   "Heuristic keyword assessment; reasoning service was unavailable.",
		}, nil
	}

	// KB context only feeds the reasoning prompt, so the heuristic path above
	// skips the embed and search round trips entirely.
	kbContext := s.retrieveContext(ctx, candidate.ID, queryText)

	judgment, err := s.requestJudgment(ctx, requirements, deviceTags, candidate, kbContext)
	if err != nil {
		return nil, err
	}

	score := normalizeScore(requirements, judgment)
	match := &types.EquipmentMatch{
		ID:            uuid.New(),
		OPZDocumentID: opzDocumentID,
		EquipmentID:   candidate.ID,
		MatchScore:    score,
		Explanation:   judgment.Summary,
	}
	for _, req := range requirements {
		j, ok := judgment.ByRequirement[req.ID]
		if !ok {
			j = requirementJudgment{Status: types.ComplianceNotApplicable}
		}
		row := types.RequirementCompliance{
			ID:            uuid.New(),
			MatchID:       match.ID,
			RequirementID: req.ID,
			Status:        j.Status,
		}
		// met rows carry no explanation to keep the payload lean
		if j.Status != types.ComplianceMet {
			row.Explanation = j.Explanation
		}
		match.Compliances = append(match.Compliances, row)
	}
	return match, nil
}

// retrieveContext is best effort: absent or failing KB search degrades to a
// placeholder, never to an error.
func (s *matchService) retrieveContext(ctx context.Context, equipmentID uuid.UUID, queryText string) string {
	if s.search == nil {
		return noDocumentationPlaceholder
	}
	fragments, err := s.search.Search(ctx, equipmentID, queryText, s.contextTopK)
	if err != nil {
		s.log.Warn("KB fragment retrieval failed", "equipment_id", equipmentID, "error", err)
		return noDocumentationPlaceholder
	}
	if len(fragments) == 0 {
		return noDocumentationPlaceholder
	}
	var b strings.Builder
	for i, f := range fragments {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(f.Content)
	}
	return b.String()
}

type requirementJudgment struct {
	Status      types.ComplianceStatus
	Explanation string
}

type candidateJudgment struct {
	OverallScore  float64
	Summary       string
	ByRequirement map[uuid.UUID]requirementJudgment
}

func (s *matchService) requestJudgment(
	ctx context.Context,
	requirements []*types.Requirement,
	deviceTags []string,
	candidate *types.Equipment,
	kbContext string,
) (*candidateJudgment, error) {
	prompt := buildCompliancePrompt(requirements, deviceTags, candidate, kbContext)

	raw, err := s.reasoning.Chat(ctx, complianceSystemPrompt, prompt, s.maxTokens, s.temperature)
	if err != nil {
		return nil, fmt.Errorf("reasoning call: %w", err)
	}
	judgment, parseErr := parseJudgment(raw)
	if parseErr != nil {
		s.log.Warn("Reasoning response was not parseable, scoring conservatively",
			"equipment_id", candidate.ID,
			"error", parseErr,
		)
	}
	return judgment, nil
}

func buildCompliancePromptHeader(deviceTags []string) string {
	uniq := map[string]bool{}
	var tags []string
	for _, t := range deviceTags {
		if !uniq[t] {
			uniq[t] = true
			tags = append(tags, t)
		}
	}
	return "Device categories in this requirement set: " + strings.Join(tags, ", ")
}

func buildCompliancePrompt(requirements []*types.Requirement, deviceTags []string, candidate *types.Equipment, kbContext string) string {
	var b strings.Builder
	b.WriteString(buildCompliancePromptHeader(deviceTags))
	b.WriteString("\n\nRequirements:\n")
	for i, r := range requirements {
		fmt.Fprintf(&b, "%d. id=%s [%s] %s\n", i+1, r.ID, deviceTags[i], strings.TrimSpace(r.Text))
	}
	b.WriteString("\nCandidate equipment:\n")
	b.WriteString(equipmentSpecText(candidate))
	b.WriteString("\nRelevant documentation fragments:\n")
	b.WriteString(kbContext)
	return b.String()
}

func equipmentSpecText(eq *types.Equipment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", eq.Name)
	if eq.Manufacturer != "" {
		fmt.Fprintf(&b, "Manufacturer: %s\n", eq.Manufacturer)
	}
	if eq.Type != "" {
		fmt.Fprintf(&b, "Type: %s\n", eq.Type)
	}
	if eq.Model != "" {
		fmt.Fprintf(&b, "Model: %s\n", eq.Model)
	}
	specs := eq.SpecMap()
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, specs[k])
	}
	return b.String()
}

// parseJudgment always yields a usable judgment: malformed responses degrade
// to a zero-score, all-not_applicable default (which drops the candidate below
// the threshold) and report the parse failure for the caller to log.
func parseJudgment(raw string) (*candidateJudgment, error) {
	out := &candidateJudgment{ByRequirement: map[uuid.UUID]requirementJudgment{}}

	block, err := extractJSONBlock(raw)
	if err != nil {
		return out, err
	}
	var payload struct {
		OverallScore float64 `json:"overall_score"`
		Summary      string  `json:"summary"`
		Requirements []struct {
			ID          string `json:"id"`
			Status      string `json:"status"`
			Explanation string `json:"explanation"`
		} `json:"requirements"`
	}
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		return out, fmt.Errorf("decode judgment: %w", err)
	}

	out.OverallScore = payload.OverallScore
	out.Summary = payload.Summary
	for _, r := range payload.Requirements {
		id, err := uuid.Parse(strings.TrimSpace(r.ID))
		if err != nil {
			continue
		}
		status := types.ComplianceStatus(strings.ToLower(strings.TrimSpace(r.Status)))
		if !status.Valid() {
			status = types.ComplianceNotApplicable
		}
		out.ByRequirement[id] = requirementJudgment{Status: status, Explanation: r.Explanation}
	}
	return out, nil
}

// normalizeScore averages status weights over the applicable requirements;
// when every requirement is judged not_applicable the model's overall score
// carries the result instead.
func normalizeScore(requirements []*types.Requirement, judgment *candidateJudgment) float64 {
	applicable := 0
	sum := 0.0
	for _, req := range requirements {
		j, ok := judgment.ByRequirement[req.ID]
		if !ok || j.Status == types.ComplianceNotApplicable {
			continue
		}
		applicable++
		switch j.Status {
		case types.ComplianceMet:
			sum += 1.0
		case types.CompliancePartial:
			sum += 0.5
		}
	}
	if applicable == 0 {
		return clamp01(judgment.OverallScore / 100.0)
	}
	return clamp01(sum / float64(applicable))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// parseDeviceTags reads the leading [Device] bracket of each requirement.
// The tag is context for the reasoning service, never a candidate filter: a
// requirement set may span multiple device types.
func parseDeviceTags(requirements []*types.Requirement) []string {
	tags := make([]string, len(requirements))
	for i, r := range requirements {
		tags[i] = "General"
		if m := deviceTagPattern.FindStringSubmatch(r.Text); m != nil {
			tags[i] = strings.TrimSpace(m[1])
		} else if t := strings.TrimSpace(r.DeviceTag); t != "" {
			tags[i] = t
		}
	}
	return tags
}

func concatRequirementTexts(requirements []*types.Requirement) string {
	parts := make([]string, 0, len(requirements))
	for _, r := range requirements {
		parts = append(parts, strings.TrimSpace(r.Text))
	}
	return strings.Join(parts, "\n")
}

var technicalKeywords = []string{"ram", "storage", "cpu", "raid", "ssd", "memory", "core", "gpu", "disk"}

var performanceKeywords = []string{"throughput", "iops", "latency", "bandwidth", "rps", "performance"}

func isPerformanceTag(tag string) bool {
	t := strings.ToLower(tag)
	return strings.Contains(t, "performance") || strings.Contains(t, "storage") || strings.Contains(t, "network")
}

// heuristicScore is the degraded single-score path used when the reasoning
// service is unreachable. Per requirement it accumulates partial credit for
// textual overlap with the candidate's catalog data, capped at 1.0, and
// averages across all requirements.
func heuristicScore(requirements []*types.Requirement, deviceTags []string, eq *types.Equipment) float64 {
	if len(requirements) == 0 {
		return 0
	}
	specs := eq.SpecMap()
	specBlob := strings.ToLower(equipmentSpecText(eq))

	total := 0.0
	for i, req := range requirements {
		lowerReq := strings.ToLower(req.Text)
		credit := 0.0

		for k, v := range specs {
			if (k != "" && strings.Contains(lowerReq, strings.ToLower(k))) ||
				(v != "" && strings.Contains(lowerReq, strings.ToLower(v))) {
				credit += 0.3
				break
			}
		}
		if eq.Manufacturer != "" && strings.Contains(lowerReq, strings.ToLower(eq.Manufacturer)) {
			credit += 0.2
		}
		if eq.Type != "" && strings.Contains(lowerReq, strings.ToLower(eq.Type)) {
			credit += 0.2
		}
		if eq.Model != "" && strings.Contains(lowerReq, strings.ToLower(eq.Model)) {
			credit += 0.3
		}

		keywords := technicalKeywords
		if isPerformanceTag(deviceTags[i]) {
			keywords = performanceKeywords
		}
		for _, kw := range keywords {
			if strings.Contains(lowerReq, kw) && strings.Contains(specBlob, kw) {
				credit += 0.1
			}
		}

		if credit > 1.0 {
			credit = 1.0
		}
		total += credit
	}
	return total / float64(len(requirements))
}
