package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ConversionDirection is the way value moves between the two wallets
type ConversionDirection string

const (
	LGPWToFGPW ConversionDirection = "LGPW_TO_FGPW"
	FGPWToLGPW ConversionDirection = "FGPW_TO_LGPW"
)

// Valid reports whether d is a known direction
func (d ConversionDirection) Valid() bool {
	return d == LGPWToFGPW || d == FGPWToLGPW
}

// Source is the wallet debited by the conversion
func (d ConversionDirection) Source() WalletType {
	if d == FGPWToLGPW {
		return WalletFGPW
	}
	return WalletLGPW
}

// Target is the wallet credited by the conversion
func (d ConversionDirection) Target() WalletType {
	if d == FGPWToLGPW {
		return WalletLGPW
	}
	return WalletFGPW
}

// ConversionStatus is the state of a conversion request
type ConversionStatus string

const (
	ConversionPending   ConversionStatus = "pending"
	ConversionCompleted ConversionStatus = "completed"
	ConversionRejected  ConversionStatus = "rejected"
)

// ConversionRequest Model
type ConversionRequest struct {
	ID                  uuid.UUID           `gorm:"type:char(36);primaryKey" json:"id"`
	UserID              uint                `gorm:"index;not null" json:"user_id"`
	Direction           ConversionDirection `gorm:"size:16;not null" json:"direction"`
	GoldGrams           decimal.Decimal     `gorm:"type:decimal(24,6);not null" json:"gold_grams"`
	SpotPriceUSDPerGram decimal.Decimal     `gorm:"type:decimal(24,6);not null" json:"spot_price_usd_per_gram"` // Locked at request time
	Status              ConversionStatus    `gorm:"size:16;index;not null" json:"status"`
	ReviewedBy          string              `gorm:"size:64" json:"reviewed_by,omitempty"`
	AdminNotes          string              `gorm:"type:text" json:"admin_notes,omitempty"`
	RejectionReason     string              `gorm:"type:text" json:"rejection_reason,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	ReviewedAt          *time.Time          `json:"reviewed_at,omitempty"`
}

// TableName pins the table name
func (ConversionRequest) TableName() string {
	return "conversion_requests"
}

// ValueUSD is grams times the locked price
func (c *ConversionRequest) ValueUSD() decimal.Decimal {
	return c.GoldGrams.Mul(c.SpotPriceUSDPerGram).Round(2)
}
