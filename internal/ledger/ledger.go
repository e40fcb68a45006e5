// Package ledger applies the all-or-nothing update across wallet balances,
// vault holdings, physical custody, profit and the cash-safety account.
//
// Plan is pure: it turns a priced tally into a Delta. Apply writes a Delta
// through a repository transaction, and Snapshot.After previews the same
// Delta without writing, so projection and approval cannot disagree.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gold_tally/internal/domain"
	"gold_tally/internal/pricing"
	"gold_tally/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrVaultInactive = errors.New("vault location is inactive")
	ErrVaultCapacity = errors.New("vault capacity exceeded")
)

// CashMove is a pending cash-safety entry
type CashMove struct {
	EntryType string               `json:"entry_type"`
	Direction domain.CashDirection `json:"direction"`
	AmountUSD decimal.Decimal      `json:"amount_usd"`
}

// Signed returns the amount with the sign of its direction
func (m CashMove) Signed() decimal.Decimal {
	if m.Direction == domain.CashDebit {
		return m.AmountUSD.Neg()
	}
	return m.AmountUSD
}

// Delta is every ledger effect of crediting one tally
type Delta struct {
	TallyID        uuid.UUID           `json:"tally_id"`
	UserID         uint                `json:"user_id"`
	Wallet         domain.WalletType   `json:"wallet_type"`
	CreditG        decimal.Decimal     `json:"credit_g"` // Allocated grams, never the theoretical equivalent
	LockedValueUSD decimal.Decimal     `json:"locked_value_usd"`
	Vault          string              `json:"vault_location"`
	VaultDeltaKg   decimal.Decimal     `json:"vault_delta_kg"`
	Bars           []domain.CustodyBar `json:"bars"`
	Profit         domain.ProfitEntry  `json:"profit"`
	Cash           *CashMove           `json:"cash,omitempty"`
}

// BarsG sums the custody bars of the delta
func (d Delta) BarsG() decimal.Decimal {
	total := decimal.Zero
	for _, b := range d.Bars {
		total = total.Add(b.WeightG)
	}
	return total
}

// Plan derives the ledger delta of a priced tally. The tally must carry its
// allocation, vault, bar manifest, rate and settled economics.
//
// FGPW credits move allocated x rate into the cash-safety account: cash enters
// safety on FGPW acquisition and leaves on FGPW liquidation.
func Plan(t *domain.TallyTransaction) (Delta, error) {
	if !t.PhysicalGoldAllocatedG.IsPositive() {
		return Delta{}, domain.GoldenRule("physical_gold_allocated_g", "must be greater than zero")
	}
	if strings.TrimSpace(t.VaultLocation) == "" {
		return Delta{}, domain.GoldenRule("vault_location", "is required")
	}
	if !t.WalletType.Valid() {
		return Delta{}, &domain.ValidationError{Field: "wallet_type", Message: fmt.Sprintf("unknown wallet type %q", t.WalletType)}
	}

	d := Delta{
		TallyID:        t.ID,
		UserID:         t.UserID,
		Wallet:         t.WalletType,
		CreditG:        t.PhysicalGoldAllocatedG,
		LockedValueUSD: decimal.Zero,
		Vault:          t.VaultLocation,
		VaultDeltaKg:   t.PhysicalGoldAllocatedG.Div(domain.GramsPerKg),
		Profit: domain.ProfitEntry{
			TallyID:        t.ID,
			FeeAmount:      t.FeeAmount,
			TotalCostsUSD:  t.TotalCostsUSD,
			WingoldCostUSD: t.WingoldCostUSD,
			NetProfitUSD:   t.NetProfitUSD,
		},
	}
	for _, b := range t.Bars {
		d.Bars = append(d.Bars, domain.CustodyBar{
			VaultLocation: t.VaultLocation,
			Serial:        strings.TrimSpace(b.Serial),
			WeightG:       b.WeightG,
			Purity:        b.Purity,
			TallyID:       t.ID,
		})
	}
	if t.WalletType == domain.WalletFGPW {
		if !t.GoldRateValue.IsPositive() {
			return Delta{}, domain.GoldenRule("gold_rate_value", "must be greater than zero")
		}
		value := pricing.LockedValue(t.PhysicalGoldAllocatedG, t.GoldRateValue)
		d.LockedValueUSD = value
		d.Cash = &CashMove{EntryType: domain.EntryFGPWAcquisition, Direction: domain.CashCredit, AmountUSD: value}
	}
	return d, nil
}

// Apply writes d through tx. Run it inside Store.Transaction; any error leaves
// the caller to roll back.
func Apply(ctx context.Context, tx repository.Store, d Delta) error {
	if err := creditWallet(ctx, tx, d); err != nil {
		return err
	}
	if err := addHoldings(ctx, tx, d.Vault, d.VaultDeltaKg); err != nil {
		return err
	}
	if err := tx.AddCustodyBars(ctx, append([]domain.CustodyBar(nil), d.Bars...)); err != nil {
		return fmt.Errorf("record custody bars: %w", err)
	}
	profit := d.Profit
	if err := tx.AppendProfit(ctx, &profit); err != nil {
		return fmt.Errorf("append profit entry: %w", err)
	}
	if d.Cash != nil {
		tallyID, userID := d.TallyID, d.UserID
		entry := &domain.CashLedgerEntry{
			EntryType: d.Cash.EntryType,
			AmountUSD: d.Cash.AmountUSD,
			Direction: d.Cash.Direction,
			TallyID:   &tallyID,
			UserID:    &userID,
		}
		if _, err := AppendCash(ctx, tx, entry); err != nil {
			return err
		}
	}
	return nil
}

func creditWallet(ctx context.Context, tx repository.Store, d Delta) error {
	w, err := LoadWallet(ctx, tx, d.UserID, d.Wallet)
	if err != nil {
		return err
	}
	w.BalanceG = w.BalanceG.Add(d.CreditG)
	w.LockedValueUSD = w.LockedValueUSD.Add(d.LockedValueUSD)
	if err := tx.SaveWallet(ctx, w); err != nil {
		return fmt.Errorf("credit %s wallet of user %d: %w", d.Wallet, d.UserID, err)
	}
	return nil
}

func addHoldings(ctx context.Context, tx repository.Store, name string, deltaKg decimal.Decimal) error {
	v, err := tx.GetVault(ctx, name)
	if err != nil {
		return fmt.Errorf("load vault %q: %w", name, err)
	}
	if !v.IsActive {
		return fmt.Errorf("%w: %s", ErrVaultInactive, name)
	}
	next := v.CurrentHoldingsKg.Add(deltaKg)
	if v.CapacityKg.IsPositive() && next.GreaterThan(v.CapacityKg) {
		return fmt.Errorf("%w: %s would hold %s kg of %s kg", ErrVaultCapacity, name, next, v.CapacityKg)
	}
	v.CurrentHoldingsKg = next
	if err := tx.SaveVault(ctx, v); err != nil {
		return fmt.Errorf("update vault %q: %w", name, err)
	}
	return nil
}

// LoadWallet returns the user's wallet, or a new unsaved one (ID 0) if none exists
func LoadWallet(ctx context.Context, s repository.Store, userID uint, typ domain.WalletType) (*domain.GoldWallet, error) {
	w, err := s.GetWallet(ctx, userID, typ)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.GoldWallet{UserID: userID, Type: typ, BalanceG: decimal.Zero, ReservedG: decimal.Zero, LockedValueUSD: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s wallet of user %d: %w", typ, userID, err)
	}
	return w, nil
}

// AppendCash chains e onto the cash-safety ledger. The running balance is the
// previous entry's plus the signed amount; a debit may not take it below zero.
// Inside a transaction the tail read locks, so appends serialize.
func AppendCash(ctx context.Context, tx repository.Store, e *domain.CashLedgerEntry) (*domain.CashLedgerEntry, error) {
	if !e.AmountUSD.IsPositive() {
		return nil, &domain.ValidationError{Field: "amount_usd", Message: "must be greater than zero"}
	}
	if e.Direction != domain.CashCredit && e.Direction != domain.CashDebit {
		return nil, &domain.ValidationError{Field: "direction", Message: fmt.Sprintf("unknown direction %q", e.Direction)}
	}
	last, err := tx.LastCashEntry(ctx)
	if err != nil {
		return nil, fmt.Errorf("read cash ledger tail: %w", err)
	}
	prev := decimal.Zero
	if last != nil {
		prev = last.RunningBalanceUSD
	}
	next := prev.Add(e.Signed())
	if next.IsNegative() {
		return nil, fmt.Errorf("%w: balance %s cannot cover %s", domain.ErrInsufficientCashSafety, prev.StringFixed(2), e.AmountUSD.StringFixed(2))
	}
	e.RunningBalanceUSD = next
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := tx.AppendCashEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("append cash entry: %w", err)
	}
	return e, nil
}
