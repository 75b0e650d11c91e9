package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Equipment struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name         string    `gorm:"column:name;not null" json:"name"`
	Manufacturer string    `gorm:"column:manufacturer" json:"manufacturer"`
	Type         string    `gorm:"column:type" json:"type"`
	Model        string    `gorm:"column:model" json:"model"`

	Specifications datatypes.JSON `gorm:"type:jsonb;column:specifications" json:"specifications"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Equipment) TableName() string { return "equipment" }

// SpecMap decodes the specifications column. Returns an empty map when unset.
func (e *Equipment) SpecMap() map[string]string {
	out := map[string]string{}
	if len(e.Specifications) == 0 {
		return out
	}
	_ = json.Unmarshal(e.Specifications, &out)
	return out
}
