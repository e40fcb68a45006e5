package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CashDirection says whether an entry adds to or removes from the safety account
type CashDirection string

const (
	CashCredit CashDirection = "credit"
	CashDebit  CashDirection = "debit"
)

// Cash ledger entry types
const (
	EntryFGPWAcquisition      = "FGPW_ACQUISITION"
	EntryConversionToFGPW     = "CONVERSION_LGPW_TO_FGPW"
	EntryConversionFromFGPW   = "CONVERSION_FGPW_TO_LGPW"
	EntryManualBankFunding    = "MANUAL_BANK_FUNDING"
	EntryManualBankWithdrawal = "MANUAL_BANK_WITHDRAWAL"
)

// CashLedgerEntry is an append-only movement of the FGPW cash-safety account
type CashLedgerEntry struct {
	Seq               uint64          `gorm:"primaryKey;autoIncrement" json:"seq"` // Creation order
	EntryType         string          `gorm:"size:40;not null" json:"entry_type"`
	AmountUSD         decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"amount_usd"` // Always positive
	Direction         CashDirection   `gorm:"size:8;not null" json:"direction"`
	RunningBalanceUSD decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"running_balance_usd"`
	ConversionID      *uuid.UUID      `gorm:"type:char(36);index" json:"conversion_id,omitempty"`
	TallyID           *uuid.UUID      `gorm:"type:char(36);index" json:"tally_id,omitempty"`
	UserID            *uint           `gorm:"index" json:"user_id,omitempty"`
	BankReference     string          `gorm:"size:128" json:"bank_reference,omitempty"`
	Notes             string          `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// TableName pins the table name
func (CashLedgerEntry) TableName() string {
	return "cash_ledger_entries"
}

// Signed returns the amount with the sign of its direction
func (e *CashLedgerEntry) Signed() decimal.Decimal {
	if e.Direction == CashDebit {
		return e.AmountUSD.Neg()
	}
	return e.AmountUSD
}

// FoldCash replays entries in creation order. It returns the derived balance
// and whether every stored running balance matched the replay.
func FoldCash(entries []CashLedgerEntry) (decimal.Decimal, bool) {
	balance := decimal.Zero
	consistent := true
	for i := range entries {
		balance = balance.Add(entries[i].Signed())
		if !balance.Equal(entries[i].RunningBalanceUSD) {
			consistent = false
		}
	}
	return balance, consistent
}

// ProfitEntry records the economics of one completed tally
type ProfitEntry struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	TallyID        uuid.UUID       `gorm:"type:char(36);uniqueIndex;not null" json:"tally_id"`
	FeeAmount      decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"fee_amount"`
	TotalCostsUSD  decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"total_costs_usd"`
	WingoldCostUSD decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"wingold_cost_usd"`
	NetProfitUSD   decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"net_profit_usd"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TableName pins the table name
func (ProfitEntry) TableName() string {
	return "profit_entries"
}
