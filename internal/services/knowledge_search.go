package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/markoz2707/opzmanager/internal/logger"
	"github.com/markoz2707/opzmanager/internal/repos"
)

type SearchResult struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Content    string    `json:"content"`
	ChunkIndex int       `json:"chunk_index"`
	// Score is 1 minus cosine distance; higher is better.
	Score float64 `json:"score"`
}

type KnowledgeSearchService interface {
	Search(ctx context.Context, equipmentID uuid.UUID, query string, topK int) ([]SearchResult, error)
}

type knowledgeSearchService struct {
	db  *gorm.DB
	log *logger.Logger

	chunkRepo repos.KnowledgeChunkRepo
	embedder  EmbeddingClient
}

func NewKnowledgeSearchService(db *gorm.DB, baseLog *logger.Logger, chunkRepo repos.KnowledgeChunkRepo, embedder EmbeddingClient) KnowledgeSearchService {
	return &knowledgeSearchService{
		db:        db,
		log:       baseLog.With("service", "KnowledgeSearchService"),
		chunkRepo: chunkRepo,
		embedder:  embedder,
	}
}

func (s *knowledgeSearchService) Search(ctx context.Context, equipmentID uuid.UUID, query string, topK int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" || topK <= 0 {
		return nil, nil
	}

	qVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// The repo already filters to indexed documents and non-null embeddings.
	chunks, err := s.chunkRepo.GetIndexedByEquipmentID(ctx, s.db, equipmentID)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	results := make([]SearchResult, 0, len(chunks))
	for _, c := range chunks {
		vec := c.Vector()
		if vec == nil {
			continue
		}
		results = append(results, SearchResult{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Content:    c.Text,
			ChunkIndex: c.Index,
			Score:      cosineSimilarity(qVec, vec),
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < len(a); i++ {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
