package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/markoz2707/opzmanager/internal/types"
)

// In-memory repo fakes. The tx argument is ignored everywhere; services pass
// their own handle through and the fakes keep state in maps.

type fakeDocRepo struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*types.KnowledgeDocument

	progressLog []int
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{docs: map[uuid.UUID]*types.KnowledgeDocument{}}
}

func (r *fakeDocRepo) Create(ctx context.Context, tx *gorm.DB, doc *types.KnowledgeDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *fakeDocRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.KnowledgeDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	cp := *doc
	return &cp, nil
}

func (r *fakeDocRepo) GetByEquipmentID(ctx context.Context, tx *gorm.DB, equipmentID uuid.UUID) ([]*types.KnowledgeDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.KnowledgeDocument
	for _, doc := range r.docs {
		if doc.EquipmentID == equipmentID {
			cp := *doc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeDocRepo) ListByStatuses(ctx context.Context, tx *gorm.DB, statuses []types.DocumentStatus) ([]*types.KnowledgeDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.KnowledgeDocument
	for _, doc := range r.docs {
		for _, s := range statuses {
			if doc.Status == s {
				cp := *doc
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (r *fakeDocRepo) MarkProcessing(ctx context.Context, tx *gorm.DB, id uuid.UUID, step string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	doc.Status = types.DocumentStatusProcessing
	doc.Progress = 0
	doc.Step = step
	doc.ErrorMessage = ""
	r.progressLog = append(r.progressLog, 0)
	return nil
}

func (r *fakeDocRepo) SetProgress(ctx context.Context, tx *gorm.DB, id uuid.UUID, progress int, step string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	doc.Progress = progress
	doc.Step = step
	r.progressLog = append(r.progressLog, progress)
	return nil
}

func (r *fakeDocRepo) MarkIndexed(ctx context.Context, tx *gorm.DB, id uuid.UUID, chunkCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	now := time.Now()
	doc.Status = types.DocumentStatusIndexed
	doc.Progress = 100
	doc.Step = ""
	doc.ErrorMessage = ""
	doc.ChunkCount = chunkCount
	doc.IndexedAt = &now
	r.progressLog = append(r.progressLog, 100)
	return nil
}

func (r *fakeDocRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	doc.Status = types.DocumentStatusFailed
	doc.Progress = 0
	doc.Step = ""
	doc.ErrorMessage = errMsg
	return nil
}

func (r *fakeDocRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}

type fakeChunkRepo struct {
	mu     sync.Mutex
	chunks map[uuid.UUID][]*types.KnowledgeChunk // by document id
	docs   *fakeDocRepo
}

func newFakeChunkRepo(docs *fakeDocRepo) *fakeChunkRepo {
	return &fakeChunkRepo{chunks: map[uuid.UUID][]*types.KnowledgeChunk{}, docs: docs}
}

func (r *fakeChunkRepo) ReplaceForDocument(ctx context.Context, tx *gorm.DB, documentID uuid.UUID, chunks []*types.KnowledgeChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks[documentID] = append([]*types.KnowledgeChunk{}, chunks...)
	return nil
}

func (r *fakeChunkRepo) DeleteByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chunks, documentID)
	return nil
}

func (r *fakeChunkRepo) GetByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) ([]*types.KnowledgeChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.KnowledgeChunk{}, r.chunks[documentID]...), nil
}

func (r *fakeChunkRepo) GetIndexedByEquipmentID(ctx context.Context, tx *gorm.DB, equipmentID uuid.UUID) ([]*types.KnowledgeChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.KnowledgeChunk
	for docID, chunks := range r.chunks {
		doc, ok := r.docs.docs[docID]
		if !ok || doc.EquipmentID != equipmentID || doc.Status != types.DocumentStatusIndexed {
			continue
		}
		for _, c := range chunks {
			if len(c.Embedding) == 0 {
				continue
			}
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeEquipmentRepo struct {
	mu        sync.Mutex
	equipment map[uuid.UUID]*types.Equipment
	merged    map[uuid.UUID]map[string]string
}

func newFakeEquipmentRepo() *fakeEquipmentRepo {
	return &fakeEquipmentRepo{
		equipment: map[uuid.UUID]*types.Equipment{},
		merged:    map[uuid.UUID]map[string]string{},
	}
}

func (r *fakeEquipmentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Equipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eq, ok := r.equipment[id]
	if !ok {
		return nil, fmt.Errorf("equipment %s not found", id)
	}
	return eq, nil
}

func (r *fakeEquipmentRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Equipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Equipment
	for _, id := range ids {
		if eq, ok := r.equipment[id]; ok {
			out = append(out, eq)
		}
	}
	return out, nil
}

func (r *fakeEquipmentRepo) ListAll(ctx context.Context, tx *gorm.DB) ([]*types.Equipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Equipment
	for _, eq := range r.equipment {
		out = append(out, eq)
	}
	return out, nil
}

func (r *fakeEquipmentRepo) MergeSpecifications(ctx context.Context, tx *gorm.DB, id uuid.UUID, newSpecs map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.merged[id] == nil {
		r.merged[id] = map[string]string{}
	}
	for k, v := range newSpecs {
		r.merged[id][k] = v
	}
	return nil
}

type fakeMatchRepo struct {
	mu       sync.Mutex
	replaced map[uuid.UUID][]*types.EquipmentMatch
	deleted  int
}

func newFakeMatchRepo() *fakeMatchRepo {
	return &fakeMatchRepo{replaced: map[uuid.UUID][]*types.EquipmentMatch{}}
}

func (r *fakeMatchRepo) ReplaceForOPZDocument(ctx context.Context, tx *gorm.DB, opzDocumentID uuid.UUID, matches []*types.EquipmentMatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaced[opzDocumentID] = append([]*types.EquipmentMatch{}, matches...)
	return nil
}

func (r *fakeMatchRepo) DeleteByOPZDocumentID(ctx context.Context, tx *gorm.DB, opzDocumentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted++
	delete(r.replaced, opzDocumentID)
	return nil
}

func (r *fakeMatchRepo) GetByOPZDocumentID(ctx context.Context, tx *gorm.DB, opzDocumentID uuid.UUID) ([]*types.EquipmentMatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.EquipmentMatch{}, r.replaced[opzDocumentID]...), nil
}

// fakeEmbedder returns deterministic vectors; vecFor can be overridden per test.
type fakeEmbedder struct {
	mu     sync.Mutex
	calls  int
	model  string
	vecFor func(text string) []float32
	err    error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		model: "fake/embed-v1",
		vecFor: func(text string) []float32 {
			return []float32{float32(len(text)), 1, 0}
		},
	}
}

func (f *fakeEmbedder) EmbedModel() string { return f.model }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vecFor(t)
	}
	return out, nil
}

func (f *fakeEmbedder) TestConnection(ctx context.Context) bool { return f.err == nil }

// fakeReasoning replays scripted responses in call order.
type fakeReasoning struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	reachable bool
}

func (f *fakeReasoning) Chat(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", fmt.Errorf("no scripted response for call %d", i)
}

func (f *fakeReasoning) TestConnection(ctx context.Context) bool { return f.reachable }

type fakeSearch struct {
	results []SearchResult
	err     error
	queries []string
}

func (f *fakeSearch) Search(ctx context.Context, equipmentID uuid.UUID, query string, topK int) ([]SearchResult, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > topK {
		return f.results[:topK], nil
	}
	return f.results, nil
}

// fakeKnowledge records processed document ids for queue tests.
type fakeKnowledge struct {
	mu        sync.Mutex
	processed []uuid.UUID
	done      chan uuid.UUID
	err       error
}

func newFakeKnowledge() *fakeKnowledge {
	return &fakeKnowledge{done: make(chan uuid.UUID, 64)}
}

func (f *fakeKnowledge) CreateFromFile(ctx context.Context, equipmentID uuid.UUID, filename string, data []byte) (*types.KnowledgeDocument, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeKnowledge) Process(ctx context.Context, documentID uuid.UUID) error {
	f.mu.Lock()
	f.processed = append(f.processed, documentID)
	f.mu.Unlock()
	f.done <- documentID
	return f.err
}

func (f *fakeKnowledge) Delete(ctx context.Context, documentID uuid.UUID) error { return nil }
