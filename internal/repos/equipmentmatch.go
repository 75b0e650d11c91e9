package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/markoz2707/opzmanager/internal/logger"
	"github.com/markoz2707/opzmanager/internal/types"
)

type EquipmentMatchRepo interface {
	// ReplaceForOPZDocument drops every match (and its compliance rows) for the
	// OPZ document and inserts the fresh set in one transaction.
	ReplaceForOPZDocument(ctx context.Context, tx *gorm.DB, opzDocumentID uuid.UUID, matches []*types.EquipmentMatch) error
	DeleteByOPZDocumentID(ctx context.Context, tx *gorm.DB, opzDocumentID uuid.UUID) error
	GetByOPZDocumentID(ctx context.Context, tx *gorm.DB, opzDocumentID uuid.UUID) ([]*types.EquipmentMatch, error)
}

type equipmentMatchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEquipmentMatchRepo(db *gorm.DB, baseLog *logger.Logger) EquipmentMatchRepo {
	return &equipmentMatchRepo{db: db, log: baseLog.With("repo", "EquipmentMatchRepo")}
}

func (r *equipmentMatchRepo) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *equipmentMatchRepo) ReplaceForOPZDocument(ctx context.Context, tx *gorm.DB, opzDocumentID uuid.UUID, matches []*types.EquipmentMatch) error {
	return r.handle(tx).WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		if err := deleteMatches(inner, opzDocumentID); err != nil {
			return err
		}
		for _, m := range matches {
			if err := inner.Create(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *equipmentMatchRepo) DeleteByOPZDocumentID(ctx context.Context, tx *gorm.DB, opzDocumentID uuid.UUID) error {
	return deleteMatches(r.handle(tx).WithContext(ctx), opzDocumentID)
}

func deleteMatches(db *gorm.DB, opzDocumentID uuid.UUID) error {
	if err := db.
		Where("match_id IN (?)", db.Session(&gorm.Session{NewDB: true}).
			Model(&types.EquipmentMatch{}).
			Select("id").
			Where("opz_document_id = ?", opzDocumentID)).
		Delete(&types.RequirementCompliance{}).Error; err != nil {
		return err
	}
	return db.
		Where("opz_document_id = ?", opzDocumentID).
		Delete(&types.EquipmentMatch{}).Error
}

func (r *equipmentMatchRepo) GetByOPZDocumentID(ctx context.Context, tx *gorm.DB, opzDocumentID uuid.UUID) ([]*types.EquipmentMatch, error) {
	var results []*types.EquipmentMatch
	if err := r.handle(tx).WithContext(ctx).
		Preload("Compliances").
		Where("opz_document_id = ?", opzDocumentID).
		Order("match_score DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
