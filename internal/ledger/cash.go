package ledger

import (
	"context"
	"fmt"
	"strings"

	"gold_tally/internal/domain"
	"gold_tally/internal/repository"

	"github.com/shopspring/decimal"
)

// ManualEntry is an operator-recorded bank movement of the safety account
type ManualEntry struct {
	Direction     domain.CashDirection `json:"direction" validate:"required,oneof=credit debit"`
	AmountUSD     decimal.Decimal      `json:"amount_usd" validate:"gt=0"`
	BankReference string               `json:"bank_reference" validate:"required,max=128"`
	Notes         string               `json:"notes"`
}

// PostManual appends a MANUAL_BANK_FUNDING or MANUAL_BANK_WITHDRAWAL entry in its own transaction
func PostManual(ctx context.Context, store repository.Store, m ManualEntry) (*domain.CashLedgerEntry, error) {
	m.BankReference = strings.TrimSpace(m.BankReference)
	if err := domain.Validate(&m); err != nil {
		return nil, err
	}
	entry := &domain.CashLedgerEntry{
		EntryType:     domain.EntryManualBankFunding,
		AmountUSD:     m.AmountUSD,
		Direction:     m.Direction,
		BankReference: m.BankReference,
		Notes:         m.Notes,
	}
	if m.Direction == domain.CashDebit {
		entry.EntryType = domain.EntryManualBankWithdrawal
	}
	var out *domain.CashLedgerEntry
	err := store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		out, err = AppendCash(ctx, tx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CashPosition is the cash-safety account as stored and as replayed
type CashPosition struct {
	BalanceUSD        decimal.Decimal          `json:"balance_usd"`         // Fold of all entries
	RunningBalanceUSD decimal.Decimal          `json:"running_balance_usd"` // Tail entry's running balance
	Consistent        bool                     `json:"consistent"`
	Entries           []domain.CashLedgerEntry `json:"entries,omitempty"`
}

// Position folds the whole cash ledger
func Position(ctx context.Context, store repository.Store, withEntries bool) (CashPosition, error) {
	entries, err := store.ListCashEntries(ctx)
	if err != nil {
		return CashPosition{}, fmt.Errorf("list cash entries: %w", err)
	}
	balance, consistent := domain.FoldCash(entries)
	pos := CashPosition{BalanceUSD: balance, RunningBalanceUSD: decimal.Zero, Consistent: consistent}
	if n := len(entries); n > 0 {
		pos.RunningBalanceUSD = entries[n-1].RunningBalanceUSD
	}
	if withEntries {
		pos.Entries = entries
	}
	return pos, nil
}
