package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/markoz2707/opzmanager/internal/logger"
	"github.com/markoz2707/opzmanager/internal/repos"
	"github.com/markoz2707/opzmanager/internal/services"
	"github.com/markoz2707/opzmanager/internal/types"
)

// App wires repositories and services into the running core. An outer
// transport calls the entry-point methods; the ingest worker runs inside Run.
type App struct {
	db  *gorm.DB
	log *logger.Logger

	Config Config

	Documents    repos.KnowledgeDocumentRepo
	Chunks       repos.KnowledgeChunkRepo
	Equipment    repos.EquipmentRepo
	Requirements repos.RequirementRepo
	Matches      repos.EquipmentMatchRepo

	Knowledge services.KnowledgeService
	Search    services.KnowledgeSearchService
	Matcher   services.MatchService
	Queue     *services.IngestQueue
}

func New(db *gorm.DB, cfg Config, log *logger.Logger) (*App, error) {
	a := &App{db: db, log: log, Config: cfg}

	log.Info("Setting up Repos...")
	a.Documents = repos.NewKnowledgeDocumentRepo(db, log)
	a.Chunks = repos.NewKnowledgeChunkRepo(db, log)
	a.Equipment = repos.NewEquipmentRepo(db, log)
	a.Requirements = repos.NewRequirementRepo(db, log)
	a.Matches = repos.NewEquipmentMatchRepo(db, log)

	log.Info("Setting up AI clients...")
	embedder, err := services.NewEmbeddingClient(cfg.EmbedProvider, cfg.EmbedMaxRetries, log)
	if err != nil {
		return nil, fmt.Errorf("init embedding client: %w", err)
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		embedder = services.NewCachedEmbeddingClient(embedder, rdb, log)
		log.Info("Query embedding cache enabled", "redis_addr", cfg.RedisAddr)
	}
	reasoning, err := services.NewReasoningClient(cfg.ReasoningProvider, cfg.EmbedMaxRetries, log)
	if err != nil {
		// Matching degrades to the heuristic path without a reasoning backend.
		log.Warn("Could not init reasoning client, continuing without it", "error", err)
		reasoning = nil
	}

	log.Info("Setting up Services...")
	extractor := services.NewLocalTextExtractor()
	a.Knowledge = services.NewKnowledgeService(
		db,
		log,
		a.Documents,
		a.Chunks,
		a.Equipment,
		extractor,
		embedder,
		reasoning,
		cfg.StorageDir,
		cfg.ChunkSize,
		cfg.ChunkOverlap,
		cfg.EmbedBatchSize,
	)
	a.Search = services.NewKnowledgeSearchService(db, log, a.Chunks, embedder)
	a.Matcher = services.NewMatchService(
		db,
		log,
		a.Matches,
		a.Search,
		reasoning,
		cfg.MatchScoreThreshold,
		cfg.MatchResultLimit,
		cfg.MatchContextTopK,
		cfg.ReasoningMaxTokens,
		cfg.ReasoningTemperature,
	)
	a.Queue = services.NewIngestQueue(
		db,
		log,
		a.Documents,
		a.Knowledge,
		cfg.QueueCapacity,
		time.Duration(cfg.QueueItemDelayMS)*time.Millisecond,
	)
	return a, nil
}

// Run starts the ingest worker and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	a.Queue.Start(ctx)
	a.log.Info("Ingest worker started", "queue_capacity", a.Config.QueueCapacity)
	<-ctx.Done()
	a.log.Info("Shutting down", "pending_documents", a.Queue.Pending())
}

// UploadDocument stores the file, records the document, and enqueues it for
// processing. This is the single processing trigger for new uploads.
func (a *App) UploadDocument(ctx context.Context, equipmentID uuid.UUID, filename string, data []byte) (*types.KnowledgeDocument, error) {
	doc, err := a.Knowledge.CreateFromFile(ctx, equipmentID, filename, data)
	if err != nil {
		return nil, err
	}
	a.Queue.Enqueue(doc.ID)
	return doc, nil
}

// MatchDocument recomputes the ranked match set for one OPZ document against
// the full equipment catalog.
func (a *App) MatchDocument(ctx context.Context, opzDocumentID uuid.UUID) ([]*types.EquipmentMatch, error) {
	requirements, err := a.Requirements.GetByOPZDocumentID(ctx, nil, opzDocumentID)
	if err != nil {
		return nil, fmt.Errorf("load requirements: %w", err)
	}
	candidates, err := a.Equipment.ListAll(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("load equipment catalog: %w", err)
	}
	return a.Matcher.Match(ctx, opzDocumentID, requirements, candidates)
}
