package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/markoz2707/opzmanager/internal/logger"
	"github.com/markoz2707/opzmanager/internal/types"
)

type EquipmentRepo interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Equipment, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Equipment, error)
	ListAll(ctx context.Context, tx *gorm.DB) ([]*types.Equipment, error)
	// MergeSpecifications folds newSpecs into the stored specification map.
	// Incoming keys win on conflict.
	MergeSpecifications(ctx context.Context, tx *gorm.DB, id uuid.UUID, newSpecs map[string]string) error
}

type equipmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEquipmentRepo(db *gorm.DB, baseLog *logger.Logger) EquipmentRepo {
	return &equipmentRepo{db: db, log: baseLog.With("repo", "EquipmentRepo")}
}

func (r *equipmentRepo) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *equipmentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Equipment, error) {
	var eq types.Equipment
	if err := r.handle(tx).WithContext(ctx).
		Where("id = ?", id).
		First(&eq).Error; err != nil {
		return nil, err
	}
	return &eq, nil
}

func (r *equipmentRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Equipment, error) {
	var results []*types.Equipment
	if len(ids) == 0 {
		return results, nil
	}
	if err := r.handle(tx).WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *equipmentRepo) ListAll(ctx context.Context, tx *gorm.DB) ([]*types.Equipment, error) {
	var results []*types.Equipment
	if err := r.handle(tx).WithContext(ctx).
		Order("name ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *equipmentRepo) MergeSpecifications(ctx context.Context, tx *gorm.DB, id uuid.UUID, newSpecs map[string]string) error {
	if len(newSpecs) == 0 {
		return nil
	}
	return r.handle(tx).WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		var eq types.Equipment
		if err := inner.Where("id = ?", id).First(&eq).Error; err != nil {
			return err
		}
		merged := eq.SpecMap()
		for k, v := range newSpecs {
			merged[k] = v
		}
		raw, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode specifications: %w", err)
		}
		return inner.
			Model(&types.Equipment{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"specifications": datatypes.JSON(raw),
				"updated_at":     time.Now(),
			}).Error
	})
}
