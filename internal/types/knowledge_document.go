package types

import (
	"time"

	"github.com/google/uuid"
)

type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusIndexed    DocumentStatus = "indexed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

func (s DocumentStatus) Terminal() bool {
	return s == DocumentStatusIndexed || s == DocumentStatusFailed
}

type KnowledgeDocument struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EquipmentID uuid.UUID  `gorm:"type:uuid;not null;index" json:"equipment_id"`
	Equipment   *Equipment `gorm:"constraint:OnDelete:CASCADE;foreignKey:EquipmentID;references:ID" json:"equipment,omitempty"`

	Filename    string `gorm:"column:filename;not null" json:"filename"`
	StoragePath string `gorm:"column:storage_path;not null" json:"storage_path"`
	SizeBytes   int64  `gorm:"column:size_bytes" json:"size_bytes"`

	Status       DocumentStatus `gorm:"column:status;not null;default:'pending';index" json:"status"`
	Progress     int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Step         string         `gorm:"column:step" json:"step"`
	ErrorMessage string         `gorm:"column:error_message" json:"error_message"`

	ChunkCount int        `gorm:"column:chunk_count;not null;default:0" json:"chunk_count"`
	IndexedAt  *time.Time `gorm:"column:indexed_at" json:"indexed_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (KnowledgeDocument) TableName() string { return "knowledge_document" }
