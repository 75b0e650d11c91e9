package types

import (
	"time"

	"github.com/google/uuid"
)

type ComplianceStatus string

const (
	ComplianceMet           ComplianceStatus = "met"
	CompliancePartial       ComplianceStatus = "partial"
	ComplianceNotMet        ComplianceStatus = "not_met"
	ComplianceNotApplicable ComplianceStatus = "not_applicable"
)

func (s ComplianceStatus) Valid() bool {
	switch s {
	case ComplianceMet, CompliancePartial, ComplianceNotMet, ComplianceNotApplicable:
		return true
	}
	return false
}

// EquipmentMatch scores one candidate equipment against the requirement set of
// one OPZ document. Matches for a document are always rebuilt as a whole.
type EquipmentMatch struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OPZDocumentID uuid.UUID  `gorm:"type:uuid;not null;index" json:"opz_document_id"`
	EquipmentID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"equipment_id"`
	Equipment     *Equipment `gorm:"foreignKey:EquipmentID;references:ID" json:"equipment,omitempty"`

	MatchScore  float64 `gorm:"column:match_score;not null" json:"match_score"`
	Explanation string  `gorm:"column:explanation" json:"explanation"`

	Compliances []RequirementCompliance `gorm:"constraint:OnDelete:CASCADE;foreignKey:MatchID;references:ID" json:"compliances,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (EquipmentMatch) TableName() string { return "equipment_match" }

type RequirementCompliance struct {
	ID            uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	MatchID       uuid.UUID `gorm:"type:uuid;not null;index" json:"match_id"`
	RequirementID uuid.UUID `gorm:"type:uuid;not null;index" json:"requirement_id"`

	Status ComplianceStatus `gorm:"column:status;not null" json:"status"`
	// Explanation stays empty for met requirements to keep payloads lean.
	Explanation string `gorm:"column:explanation" json:"explanation"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (RequirementCompliance) TableName() string { return "requirement_compliance" }
