package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/markoz2707/opzmanager/internal/logger"
	"github.com/markoz2707/opzmanager/internal/types"
)

type RequirementRepo interface {
	GetByOPZDocumentID(ctx context.Context, tx *gorm.DB, opzDocumentID uuid.UUID) ([]*types.Requirement, error)
}

type requirementRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRequirementRepo(db *gorm.DB, baseLog *logger.Logger) RequirementRepo {
	return &requirementRepo{db: db, log: baseLog.With("repo", "RequirementRepo")}
}

func (r *requirementRepo) GetByOPZDocumentID(ctx context.Context, tx *gorm.DB, opzDocumentID uuid.UUID) ([]*types.Requirement, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Requirement
	if err := transaction.WithContext(ctx).
		Where("opz_document_id = ?", opzDocumentID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
