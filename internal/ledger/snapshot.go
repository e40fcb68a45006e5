package ledger

import (
	"context"
	"errors"
	"fmt"

	"gold_tally/internal/domain"
	"gold_tally/internal/repository"

	"github.com/shopspring/decimal"
)

// Snapshot is the state of every ledger a Delta touches
type Snapshot struct {
	WalletBalanceG       decimal.Decimal `json:"wallet_balance_g"`
	WalletAvailableG     decimal.Decimal `json:"wallet_available_g"`
	WalletLockedValueUSD decimal.Decimal `json:"wallet_locked_value_usd"`
	VaultHoldingsKg      decimal.Decimal `json:"vault_holdings_kg"`
	CustodyBarsG         decimal.Decimal `json:"custody_bars_g"`
	CashSafetyUSD        decimal.Decimal `json:"cash_safety_usd"`
	ProfitTotalUSD       decimal.Decimal `json:"profit_total_usd"`
}

// Read loads the current snapshot for the wallet and vault named by d.
// A missing wallet or vault reads as zero.
func Read(ctx context.Context, s repository.Store, d Delta) (Snapshot, error) {
	snap := Snapshot{
		WalletBalanceG: decimal.Zero, WalletAvailableG: decimal.Zero, WalletLockedValueUSD: decimal.Zero,
		VaultHoldingsKg: decimal.Zero, CustodyBarsG: decimal.Zero, CashSafetyUSD: decimal.Zero, ProfitTotalUSD: decimal.Zero,
	}

	w, err := LoadWallet(ctx, s, d.UserID, d.Wallet)
	if err != nil {
		return Snapshot{}, err
	}
	snap.WalletBalanceG = w.BalanceG
	snap.WalletAvailableG = w.AvailableG()
	snap.WalletLockedValueUSD = w.LockedValueUSD

	if d.Vault != "" {
		v, err := s.GetVault(ctx, d.Vault)
		switch {
		case err == nil:
			snap.VaultHoldingsKg = v.CurrentHoldingsKg
		case !errors.Is(err, domain.ErrNotFound):
			return Snapshot{}, fmt.Errorf("load vault %q: %w", d.Vault, err)
		}
		bars, err := s.ListCustodyBars(ctx, d.Vault)
		if err != nil {
			return Snapshot{}, fmt.Errorf("list custody bars: %w", err)
		}
		for _, b := range bars {
			snap.CustodyBarsG = snap.CustodyBarsG.Add(b.WeightG)
		}
	}

	last, err := s.LastCashEntry(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read cash ledger tail: %w", err)
	}
	if last != nil {
		snap.CashSafetyUSD = last.RunningBalanceUSD
	}

	profits, err := s.ListProfit(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list profit entries: %w", err)
	}
	for _, p := range profits {
		snap.ProfitTotalUSD = snap.ProfitTotalUSD.Add(p.NetProfitUSD)
	}
	return snap, nil
}

// After is the snapshot once d is applied
func (s Snapshot) After(d Delta) Snapshot {
	next := s
	next.WalletBalanceG = s.WalletBalanceG.Add(d.CreditG)
	next.WalletAvailableG = s.WalletAvailableG.Add(d.CreditG)
	next.WalletLockedValueUSD = s.WalletLockedValueUSD.Add(d.LockedValueUSD)
	next.VaultHoldingsKg = s.VaultHoldingsKg.Add(d.VaultDeltaKg)
	next.CustodyBarsG = s.CustodyBarsG.Add(d.BarsG())
	next.ProfitTotalUSD = s.ProfitTotalUSD.Add(d.Profit.NetProfitUSD)
	if d.Cash != nil {
		next.CashSafetyUSD = s.CashSafetyUSD.Add(d.Cash.Signed())
	}
	return next
}

// Before is the snapshot prior to d having been applied
func (s Snapshot) Before(d Delta) Snapshot {
	prev := s
	prev.WalletBalanceG = s.WalletBalanceG.Sub(d.CreditG)
	prev.WalletAvailableG = s.WalletAvailableG.Sub(d.CreditG)
	prev.WalletLockedValueUSD = s.WalletLockedValueUSD.Sub(d.LockedValueUSD)
	prev.VaultHoldingsKg = s.VaultHoldingsKg.Sub(d.VaultDeltaKg)
	prev.CustodyBarsG = s.CustodyBarsG.Sub(d.BarsG())
	prev.ProfitTotalUSD = s.ProfitTotalUSD.Sub(d.Profit.NetProfitUSD)
	if d.Cash != nil {
		prev.CashSafetyUSD = s.CashSafetyUSD.Sub(d.Cash.Signed())
	}
	return prev
}
