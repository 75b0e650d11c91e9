package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/markoz2707/opzmanager/internal/logger"
	"github.com/markoz2707/opzmanager/internal/types"
)

type KnowledgeDocumentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, doc *types.KnowledgeDocument) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.KnowledgeDocument, error)
	GetByEquipmentID(ctx context.Context, tx *gorm.DB, equipmentID uuid.UUID) ([]*types.KnowledgeDocument, error)
	ListByStatuses(ctx context.Context, tx *gorm.DB, statuses []types.DocumentStatus) ([]*types.KnowledgeDocument, error)
	MarkProcessing(ctx context.Context, tx *gorm.DB, id uuid.UUID, step string) error
	SetProgress(ctx context.Context, tx *gorm.DB, id uuid.UUID, progress int, step string) error
	MarkIndexed(ctx context.Context, tx *gorm.DB, id uuid.UUID, chunkCount int) error
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type knowledgeDocumentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKnowledgeDocumentRepo(db *gorm.DB, baseLog *logger.Logger) KnowledgeDocumentRepo {
	return &knowledgeDocumentRepo{db: db, log: baseLog.With("repo", "KnowledgeDocumentRepo")}
}

func (r *knowledgeDocumentRepo) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *knowledgeDocumentRepo) Create(ctx context.Context, tx *gorm.DB, doc *types.KnowledgeDocument) error {
	return r.handle(tx).WithContext(ctx).Create(doc).Error
}

func (r *knowledgeDocumentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.KnowledgeDocument, error) {
	var doc types.KnowledgeDocument
	if err := r.handle(tx).WithContext(ctx).
		Where("id = ?", id).
		First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *knowledgeDocumentRepo) GetByEquipmentID(ctx context.Context, tx *gorm.DB, equipmentID uuid.UUID) ([]*types.KnowledgeDocument, error) {
	var docs []*types.KnowledgeDocument
	if err := r.handle(tx).WithContext(ctx).
		Where("equipment_id = ?", equipmentID).
		Order("created_at ASC").
		Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *knowledgeDocumentRepo) ListByStatuses(ctx context.Context, tx *gorm.DB, statuses []types.DocumentStatus) ([]*types.KnowledgeDocument, error) {
	var docs []*types.KnowledgeDocument
	if len(statuses) == 0 {
		return docs, nil
	}
	if err := r.handle(tx).WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *knowledgeDocumentRepo) MarkProcessing(ctx context.Context, tx *gorm.DB, id uuid.UUID, step string) error {
	return r.handle(tx).WithContext(ctx).
		Model(&types.KnowledgeDocument{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        types.DocumentStatusProcessing,
			"progress":      0,
			"step":          step,
			"error_message": "",
			"updated_at":    time.Now(),
		}).Error
}

func (r *knowledgeDocumentRepo) SetProgress(ctx context.Context, tx *gorm.DB, id uuid.UUID, progress int, step string) error {
	return r.handle(tx).WithContext(ctx).
		Model(&types.KnowledgeDocument{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"progress":   progress,
			"step":       step,
			"updated_at": time.Now(),
		}).Error
}

func (r *knowledgeDocumentRepo) MarkIndexed(ctx context.Context, tx *gorm.DB, id uuid.UUID, chunkCount int) error {
	now := time.Now()
	return r.handle(tx).WithContext(ctx).
		Model(&types.KnowledgeDocument{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        types.DocumentStatusIndexed,
			"progress":      100,
			"step":          "",
			"error_message": "",
			"chunk_count":   chunkCount,
			"indexed_at":    now,
			"updated_at":    now,
		}).Error
}

func (r *knowledgeDocumentRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error {
	return r.handle(tx).WithContext(ctx).
		Model(&types.KnowledgeDocument{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        types.DocumentStatusFailed,
			"progress":      0,
			"step":          "",
			"error_message": errMsg,
			"updated_at":    time.Now(),
		}).Error
}

func (r *knowledgeDocumentRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.handle(tx).WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.KnowledgeDocument{}).Error
}
