package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GoldWallet Model
type GoldWallet struct {
	ID             uint            `gorm:"primaryKey" json:"id"`                                            // Primary key
	UserID         uint            `gorm:"uniqueIndex:idx_wallet_owner;not null" json:"user_id"`            // Owner
	Type           WalletType      `gorm:"uniqueIndex:idx_wallet_owner;size:8;not null" json:"wallet_type"` // LGPW or FGPW
	BalanceG       decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"balance_g"`          // Credited grams
	ReservedG      decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"reserved_g"`         // Held by pending conversions
	LockedValueUSD decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"locked_value_usd"`   // FGPW only: grams x locked price
	Version        int64           `gorm:"not null;default:1" json:"version"`                               // Optimistic lock
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TableName pins the table name
func (GoldWallet) TableName() string {
	return "gold_wallets"
}

// AvailableG is the balance not reserved by pending conversions
func (w *GoldWallet) AvailableG() decimal.Decimal {
	return w.BalanceG.Sub(w.ReservedG)
}

// AverageLockedPrice is the FGPW cost basis per gram, zero when empty
func (w *GoldWallet) AverageLockedPrice() decimal.Decimal {
	if !w.BalanceG.IsPositive() {
		return decimal.Zero
	}
	return w.LockedValueUSD.Div(w.BalanceG)
}

// WalletKey identifies a wallet for locking
type WalletKey struct {
	UserID uint
	Type   WalletType
}
