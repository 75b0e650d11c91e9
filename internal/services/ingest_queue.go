package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/markoz2707/opzmanager/internal/logger"
	"github.com/markoz2707/opzmanager/internal/repos"
	"github.com/markoz2707/opzmanager/internal/types"
)

// IngestQueue serializes document processing through a single background
// worker so the embedding service only ever sees one document at a time.
// Enqueue is the one entry point for every lifecycle transition (upload,
// reprocess, crash recovery), which keeps duplicate triggers out by design of
// the call graph rather than by locking.
type IngestQueue struct {
	db  *gorm.DB
	log *logger.Logger

	docRepo   repos.KnowledgeDocumentRepo
	knowledge KnowledgeService

	ch        chan uuid.UUID
	itemDelay time.Duration
	pending   atomic.Int64
}

func NewIngestQueue(db *gorm.DB, baseLog *logger.Logger, docRepo repos.KnowledgeDocumentRepo, knowledge KnowledgeService, capacity int, itemDelay time.Duration) *IngestQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &IngestQueue{
		db:        db,
		log:       baseLog.With("service", "IngestQueue"),
		docRepo:   docRepo,
		knowledge: knowledge,
		ch:        make(chan uuid.UUID, capacity),
		itemDelay: itemDelay,
	}
}

// Enqueue is non-blocking. A full queue is logged and dropped; the document
// stays pending and the next startup recovery scan picks it up.
func (q *IngestQueue) Enqueue(documentID uuid.UUID) {
	select {
	case q.ch <- documentID:
		q.pending.Add(1)
	default:
		q.log.Warn("Ingest queue full, dropping enqueue", "document_id", documentID)
	}
}

// Pending reports how many documents are waiting in the queue.
func (q *IngestQueue) Pending() int64 {
	return q.pending.Load()
}

// Start launches the single worker. It first re-enqueues documents stuck in
// non-terminal states from a previous run, then serves new work until ctx is
// cancelled. A document cancelled mid-flight stays non-terminal and is
// recovered on the next startup.
func (q *IngestQueue) Start(ctx context.Context) {
	go func() {
		q.recoverStuck(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-q.ch:
				q.pending.Add(-1)
				if err := q.knowledge.Process(ctx, id); err != nil {
					q.log.Warn("Document processing failed, continuing", "document_id", id, "error", err)
				}
				if q.itemDelay > 0 {
					if err := sleepCtx(ctx, q.itemDelay); err != nil {
						return
					}
				}
			}
		}
	}()
}

func (q *IngestQueue) recoverStuck(ctx context.Context) {
	docs, err := q.docRepo.ListByStatuses(ctx, q.db, []types.DocumentStatus{
		types.DocumentStatusPending,
		types.DocumentStatusProcessing,
	})
	if err != nil {
		q.log.Warn("Recovery scan failed", "error", err)
		return
	}
	if len(docs) == 0 {
		return
	}
	q.log.Info("Re-enqueueing stuck documents", "count", len(docs))
	for _, doc := range docs {
		q.Enqueue(doc.ID)
	}
}
