package types

import (
	"time"

	"github.com/google/uuid"
)

// Requirement is one atomic procurement line extracted from an OPZ document.
// The matching engine consumes these read-only.
type Requirement struct {
	ID            uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OPZDocumentID uuid.UUID `gorm:"type:uuid;not null;index" json:"opz_document_id"`

	Text      string `gorm:"column:text;not null" json:"text"`
	DeviceTag string `gorm:"column:device_tag" json:"device_tag"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Requirement) TableName() string { return "requirement" }
