package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GramsPerKg converts vault holdings between units
var GramsPerKg = decimal.NewFromInt(1000)

// VaultLocation is a physical storage site
type VaultLocation struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	Name              string          `gorm:"size:64;uniqueIndex;not null" json:"name"` // Referenced by tallies
	CapacityKg        decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"capacity_kg"`
	CurrentHoldingsKg decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"current_holdings_kg"`
	SecurityLevel     string          `gorm:"size:32" json:"security_level"`
	IsActive          bool            `gorm:"not null;default:true" json:"is_active"`
	IsPrimary         bool            `gorm:"not null;default:false" json:"is_primary"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TableName pins the table name
func (VaultLocation) TableName() string {
	return "vault_locations"
}

// HoldingsG returns current holdings in grams
func (v *VaultLocation) HoldingsG() decimal.Decimal {
	return v.CurrentHoldingsKg.Mul(GramsPerKg)
}

// CustodyBar is a bar physically held in a vault; one row per serial per vault
type CustodyBar struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	VaultLocation string          `gorm:"size:64;uniqueIndex:idx_custody_serial;not null" json:"vault_location"`
	Serial        string          `gorm:"size:64;uniqueIndex:idx_custody_serial;not null" json:"serial"`
	WeightG       decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"weight_g"`
	Purity        decimal.Decimal `gorm:"type:decimal(8,2);not null" json:"purity"`
	TallyID       uuid.UUID       `gorm:"type:char(36);index;not null" json:"tally_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TableName pins the table name
func (CustodyBar) TableName() string {
	return "custody_bars"
}
