package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/markoz2707/opzmanager/internal/chunker"
	"github.com/markoz2707/opzmanager/internal/logger"
	"github.com/markoz2707/opzmanager/internal/repos"
	"github.com/markoz2707/opzmanager/internal/types"
)

// maxErrorMessageLen bounds what we store on a failed document.
const maxErrorMessageLen = 2000

const specExtractionSystemPrompt = `You extract technical specifications from equipment documentation.
Respond with a single JSON object mapping specification names to values, e.g.
{"RAM": "64 GB", "Storage": "2x 960 GB SSD"}. Use only facts stated in the text.
Respond with JSON only.`

// KnowledgeService owns the document ingestion pipeline: extract, chunk,
// embed, store. It is the only writer of a document's chunk set.
type KnowledgeService interface {
	CreateFromFile(ctx context.Context, equipmentID uuid.UUID, filename string, data []byte) (*types.KnowledgeDocument, error)
	// Process runs the full pipeline for one document and always leaves it in
	// a terminal state. The returned error mirrors what was recorded on the
	// document; the worker only logs it.
	Process(ctx context.Context, documentID uuid.UUID) error
	Delete(ctx context.Context, documentID uuid.UUID) error
}

type knowledgeService struct {
	db  *gorm.DB
	log *logger.Logger

	docRepo       repos.KnowledgeDocumentRepo
	chunkRepo     repos.KnowledgeChunkRepo
	equipmentRepo repos.EquipmentRepo

	extractor TextExtractor
	embedder  EmbeddingClient
	reasoning ReasoningClient

	storageDir     string
	chunkSize      int
	chunkOverlap   int
	embedBatchSize int
}

func NewKnowledgeService(
	db *gorm.DB,
	baseLog *logger.Logger,
	docRepo repos.KnowledgeDocumentRepo,
	chunkRepo repos.KnowledgeChunkRepo,
	equipmentRepo repos.EquipmentRepo,
	extractor TextExtractor,
	embedder EmbeddingClient,
	reasoning ReasoningClient,
	storageDir string,
	chunkSize int,
	chunkOverlap int,
	embedBatchSize int,
) KnowledgeService {
	if embedBatchSize <= 0 {
		embedBatchSize = 20
	}
	return &knowledgeService{
		db:             db,
		log:            baseLog.With("service", "KnowledgeService"),
		docRepo:        docRepo,
		chunkRepo:      chunkRepo,
		equipmentRepo:  equipmentRepo,
		extractor:      extractor,
		embedder:       embedder,
		reasoning:      reasoning,
		storageDir:     storageDir,
		chunkSize:      chunkSize,
		chunkOverlap:   chunkOverlap,
		embedBatchSize: embedBatchSize,
	}
}

func (s *knowledgeService) CreateFromFile(ctx context.Context, equipmentID uuid.UUID, filename string, data []byte) (*types.KnowledgeDocument, error) {
	if _, err := s.equipmentRepo.GetByID(ctx, s.db, equipmentID); err != nil {
		return nil, fmt.Errorf("load equipment: %w", err)
	}

	id := uuid.New()
	dir := filepath.Join(s.storageDir, equipmentID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	path := filepath.Join(dir, id.String()+"_"+filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	doc := &types.KnowledgeDocument{
		ID:          id,
		EquipmentID: equipmentID,
		Filename:    filepath.Base(filename),
		StoragePath: path,
		SizeBytes:   int64(len(data)),
		Status:      types.DocumentStatusPending,
	}
	if err := s.docRepo.Create(ctx, s.db, doc); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

func (s *knowledgeService) Process(ctx context.Context, documentID uuid.UUID) (err error) {
	doc, err := s.docRepo.GetByID(ctx, s.db, documentID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", documentID, err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during processing: %v", r)
		}
		if err == nil {
			return
		}
		if errors.Is(err, context.Canceled) {
			// Shutdown mid-flight: leave the document non-terminal so the
			// next startup recovery scan re-enqueues it.
			s.log.Info("Document processing interrupted, leaving for recovery", "document_id", documentID)
			return
		}
		s.log.Warn("Document processing failed", "document_id", documentID, "error", err)
		if mErr := s.docRepo.MarkFailed(ctx, s.db, documentID, truncateError(err)); mErr != nil {
			s.log.Error("Failed to mark document failed", "document_id", documentID, "error", mErr)
		}
	}()

	if err = s.docRepo.MarkProcessing(ctx, s.db, documentID, "Extracting text"); err != nil {
		return err
	}

	text, extractErr := s.extractor.ExtractText(ctx, doc.StoragePath)
	if extractErr != nil {
		return fmt.Errorf("extract text: %w", extractErr)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("document contains no extractable text")
	}

	if err = s.docRepo.SetProgress(ctx, s.db, documentID, 20, "Chunking text"); err != nil {
		return err
	}
	pieces := chunker.Split(text, s.chunkSize, s.chunkOverlap)
	if len(pieces) == 0 {
		return fmt.Errorf("chunking produced no chunks")
	}

	// Drop the previous generation before embedding so a failure mid-way
	// never leaves chunks from two generations side by side.
	if err = s.chunkRepo.DeleteByDocumentID(ctx, s.db, documentID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	chunks := make([]*types.KnowledgeChunk, 0, len(pieces))
	for start := 0; start < len(pieces); start += s.embedBatchSize {
		end := start + s.embedBatchSize
		if end > len(pieces) {
			end = len(pieces)
		}
		batch := pieces[start:end]

		vectors, embedErr := s.embedder.EmbedBatch(ctx, batch)
		if embedErr != nil {
			return fmt.Errorf("embed batch at chunk %d: %w", start, embedErr)
		}

		for i, content := range batch {
			c := &types.KnowledgeChunk{
				ID:         uuid.New(),
				DocumentID: documentID,
				Index:      start + i,
				Text:       content,
				TokenCount: chunker.EstimateTokens(content),
			}
			if vErr := c.SetVector(vectors[i]); vErr != nil {
				return fmt.Errorf("encode embedding: %w", vErr)
			}
			chunks = append(chunks, c)
		}

		progress := 20 + (75*end)/len(pieces)
		if progress > 95 {
			progress = 95
		}
		if err = s.docRepo.SetProgress(ctx, s.db, documentID, progress, "Generating embeddings"); err != nil {
			return err
		}
	}

	if err = s.chunkRepo.ReplaceForDocument(ctx, s.db, documentID, chunks); err != nil {
		return fmt.Errorf("persist chunks: %w", err)
	}
	if err = s.docRepo.MarkIndexed(ctx, s.db, documentID, len(chunks)); err != nil {
		return err
	}

	// Post-index spec extraction is best effort: the index stays valid even
	// when the reasoning service is down or returns garbage.
	s.extractSpecifications(ctx, doc, text)

	s.log.Info("Document indexed", "document_id", documentID, "chunks", len(chunks))
	return nil
}

func (s *knowledgeService) extractSpecifications(ctx context.Context, doc *types.KnowledgeDocument, text string) {
	if s.reasoning == nil {
		return
	}
	const maxSpecInput = 12000
	if len(text) > maxSpecInput {
		text = text[:maxSpecInput]
	}

	raw, err := s.reasoning.Chat(ctx, specExtractionSystemPrompt, text, 1000, 0.0)
	if err != nil {
		s.log.Warn("Spec extraction call failed", "document_id", doc.ID, "error", err)
		return
	}
	block, err := extractJSONBlock(raw)
	if err != nil {
		s.log.Warn("Spec extraction returned no JSON", "document_id", doc.ID, "error", err)
		return
	}
	specs := map[string]string{}
	if err := json.Unmarshal([]byte(block), &specs); err != nil {
		s.log.Warn("Spec extraction returned malformed JSON", "document_id", doc.ID, "error", err)
		return
	}
	if len(specs) == 0 {
		return
	}
	if err := s.equipmentRepo.MergeSpecifications(ctx, s.db, doc.EquipmentID, specs); err != nil {
		s.log.Warn("Merging extracted specifications failed", "document_id", doc.ID, "error", err)
		return
	}
	s.log.Info("Extracted specifications merged", "document_id", doc.ID, "keys", len(specs))
}

func (s *knowledgeService) Delete(ctx context.Context, documentID uuid.UUID) error {
	doc, err := s.docRepo.GetByID(ctx, s.db, documentID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", documentID, err)
	}
	if err := s.chunkRepo.DeleteByDocumentID(ctx, s.db, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := s.docRepo.Delete(ctx, s.db, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if doc.StoragePath != "" {
		if err := os.Remove(doc.StoragePath); err != nil && !os.IsNotExist(err) {
			s.log.Warn("Failed to remove stored file", "document_id", documentID, "path", doc.StoragePath, "error", err)
		}
	}
	return nil
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	return msg
}
