package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type KnowledgeChunk struct {
	ID         uuid.UUID          `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DocumentID uuid.UUID          `gorm:"type:uuid;not null;index" json:"document_id"`
	Document   *KnowledgeDocument `gorm:"constraint:OnDelete:CASCADE;foreignKey:DocumentID;references:ID" json:"document,omitempty"`

	Index      int            `gorm:"column:index;not null" json:"index"`
	Text       string         `gorm:"column:text;not null" json:"text"`
	TokenCount int            `gorm:"column:token_count;not null;default:0" json:"token_count"`
	Embedding  datatypes.JSON `gorm:"type:jsonb;column:embedding" json:"embedding"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (KnowledgeChunk) TableName() string { return "knowledge_chunk" }

// Vector decodes the stored embedding. Returns nil when none was computed.
func (c *KnowledgeChunk) Vector() []float32 {
	if len(c.Embedding) == 0 {
		return nil
	}
	var vec []float32
	if err := json.Unmarshal(c.Embedding, &vec); err != nil {
		return nil
	}
	return vec
}

// SetVector encodes vec into the embedding column.
func (c *KnowledgeChunk) SetVector(vec []float32) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	c.Embedding = datatypes.JSON(raw)
	return nil
}
