package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/markoz2707/opzmanager/internal/logger"
	"github.com/markoz2707/opzmanager/internal/types"
)

type KnowledgeChunkRepo interface {
	// ReplaceForDocument swaps a document's chunk set in one transaction so no
	// reader ever observes chunks from two generations.
	ReplaceForDocument(ctx context.Context, tx *gorm.DB, documentID uuid.UUID, chunks []*types.KnowledgeChunk) error
	DeleteByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) error
	GetByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) ([]*types.KnowledgeChunk, error)
	// GetIndexedByEquipmentID returns only chunks with a computed embedding
	// whose owning document is indexed.
	GetIndexedByEquipmentID(ctx context.Context, tx *gorm.DB, equipmentID uuid.UUID) ([]*types.KnowledgeChunk, error)
}

type knowledgeChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKnowledgeChunkRepo(db *gorm.DB, baseLog *logger.Logger) KnowledgeChunkRepo {
	return &knowledgeChunkRepo{db: db, log: baseLog.With("repo", "KnowledgeChunkRepo")}
}

func (r *knowledgeChunkRepo) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *knowledgeChunkRepo) ReplaceForDocument(ctx context.Context, tx *gorm.DB, documentID uuid.UUID, chunks []*types.KnowledgeChunk) error {
	// Keep batches small because Text is large.
	const batchSize = 100
	return r.handle(tx).WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		if err := inner.
			Where("document_id = ?", documentID).
			Delete(&types.KnowledgeChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return inner.CreateInBatches(chunks, batchSize).Error
	})
}

func (r *knowledgeChunkRepo) DeleteByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) error {
	return r.handle(tx).WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&types.KnowledgeChunk{}).Error
}

func (r *knowledgeChunkRepo) GetByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) ([]*types.KnowledgeChunk, error) {
	var chunks []*types.KnowledgeChunk
	if err := r.handle(tx).WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("index ASC").
		Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *knowledgeChunkRepo) GetIndexedByEquipmentID(ctx context.Context, tx *gorm.DB, equipmentID uuid.UUID) ([]*types.KnowledgeChunk, error) {
	var chunks []*types.KnowledgeChunk
	if err := r.handle(tx).WithContext(ctx).
		Joins("JOIN knowledge_document ON knowledge_document.id = knowledge_chunk.document_id").
		Where("knowledge_document.equipment_id = ?", equipmentID).
		Where("knowledge_document.status = ?", types.DocumentStatusIndexed).
		Where("knowledge_chunk.embedding IS NOT NULL").
		Order("knowledge_chunk.document_id, knowledge_chunk.index ASC").
		Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}
