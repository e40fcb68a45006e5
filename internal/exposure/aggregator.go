// Package exposure sums the open ledgers into coverage ratios and alerts.
// It only reads committed state.
package exposure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gold_tally/internal/domain"
	"gold_tally/internal/ledger"
	"gold_tally/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Alert codes
const (
	AlertMPGWCoverage     = "MPGW_COVERAGE_BELOW_100"
	AlertFPGWCoverage     = "FPGW_COVERAGE_BELOW_100"
	AlertUnlinked         = "UNLINKED_DEPOSITS"
	AlertCashInconsistent = "CASH_LEDGER_INCONSISTENT"
)

var hundred = decimal.NewFromInt(100)

// Alert is one breached invariant
type Alert struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Dashboard is a point-in-time view of liabilities against backing
type Dashboard struct {
	LGPWLiabilityG     decimal.Decimal  `json:"lgpw_liability_g"`
	FGPWLiabilityG     decimal.Decimal  `json:"fgpw_liability_g"`
	FGPWLockedValueUSD decimal.Decimal  `json:"fgpw_locked_value_usd"`
	VaultHoldingsG     decimal.Decimal  `json:"vault_holdings_g"`
	CustodyBarsG       decimal.Decimal  `json:"custody_bars_g"`
	CashSafetyUSD      decimal.Decimal  `json:"cash_safety_usd"`
	MPGWCoveragePct    *decimal.Decimal `json:"mpgw_coverage_pct"` // Nil when there is no LGPW liability
	FPGWCoveragePct    *decimal.Decimal `json:"fpgw_coverage_pct"` // Nil when there is no FGPW liability
	CashConsistent     bool             `json:"cash_ledger_consistent"`
	UnlinkedDeposits   int              `json:"unlinked_deposits"`
	UnlinkedTallyIDs   []uuid.UUID      `json:"unlinked_tally_ids,omitempty"`
	Alerts             []Alert          `json:"alerts"`
	GeneratedAt        time.Time        `json:"generated_at"`
}

// Aggregator computes dashboards from a store
type Aggregator struct {
	store repository.Store
	now   func() time.Time
}

// NewAggregator returns an aggregator over store
func NewAggregator(store repository.Store) *Aggregator {
	return &Aggregator{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Dashboard recomputes every total from the ledgers
func (a *Aggregator) Dashboard(ctx context.Context) (*Dashboard, error) {
	out := &Dashboard{
		LGPWLiabilityG: decimal.Zero, FGPWLiabilityG: decimal.Zero, FGPWLockedValueUSD: decimal.Zero,
		VaultHoldingsG: decimal.Zero, CustodyBarsG: decimal.Zero, Alerts: []Alert{}, GeneratedAt: a.now(),
	}

	wallets, err := a.store.ListWallets(ctx, repository.WalletFilter{})
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	for _, w := range wallets {
		switch w.Type {
		case domain.WalletLGPW:
			out.LGPWLiabilityG = out.LGPWLiabilityG.Add(w.BalanceG)
		case domain.WalletFGPW:
			out.FGPWLiabilityG = out.FGPWLiabilityG.Add(w.BalanceG)
			out.FGPWLockedValueUSD = out.FGPWLockedValueUSD.Add(w.LockedValueUSD)
		}
	}

	vaults, err := a.store.ListVaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vaults: %w", err)
	}
	for i := range vaults {
		out.VaultHoldingsG = out.VaultHoldingsG.Add(vaults[i].HoldingsG())
	}
	bars, err := a.store.ListCustodyBars(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list custody bars: %w", err)
	}
	for _, b := range bars {
		out.CustodyBarsG = out.CustodyBarsG.Add(b.WeightG)
	}

	cash, err := ledger.Position(ctx, a.store, false)
	if err != nil {
		return nil, err
	}
	out.CashSafetyUSD = cash.RunningBalanceUSD
	out.CashConsistent = cash.Consistent

	credited, _, err := a.store.ListTallies(ctx, repository.TallyFilter{
		Statuses: []domain.TallyStatus{domain.StatusCredited, domain.StatusCompleted},
		Unpaged:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("list credited tallies: %w", err)
	}
	for i := range credited {
		if unlinked(&credited[i]) {
			out.UnlinkedTallyIDs = append(out.UnlinkedTallyIDs, credited[i].ID)
		}
	}
	out.UnlinkedDeposits = len(out.UnlinkedTallyIDs)

	out.MPGWCoveragePct = coverage(out.VaultHoldingsG, out.LGPWLiabilityG)
	out.FPGWCoveragePct = coverage(out.CashSafetyUSD, out.FGPWLockedValueUSD)
	out.Alerts = alerts(out)
	return out, nil
}

// unlinked reports a credited tally with no traceable physical backing
func unlinked(t *domain.TallyTransaction) bool {
	return strings.TrimSpace(t.StorageCertificateID) == "" || !t.PhysicalGoldAllocatedG.IsPositive()
}

func coverage(backing, liability decimal.Decimal) *decimal.Decimal {
	if !liability.IsPositive() {
		return nil
	}
	pct := backing.Mul(hundred).DivRound(liability, 2)
	return &pct
}

func alerts(d *Dashboard) []Alert {
	out := []Alert{}
	if d.MPGWCoveragePct != nil && d.MPGWCoveragePct.LessThan(hundred) {
		out = append(out, Alert{Code: AlertMPGWCoverage, Message: fmt.Sprintf("physical custody covers %s%% of LGPW liability", d.MPGWCoveragePct.StringFixed(2))})
	}
	if d.FPGWCoveragePct != nil && d.FPGWCoveragePct.LessThan(hundred) {
		out = append(out, Alert{Code: AlertFPGWCoverage, Message: fmt.Sprintf("cash safety covers %s%% of FGPW locked value", d.FPGWCoveragePct.StringFixed(2))})
	}
	if d.UnlinkedDeposits > 0 {
		out = append(out, Alert{Code: AlertUnlinked, Message: fmt.Sprintf("%d credited deposits lack a certificate or allocation", d.UnlinkedDeposits)})
	}
	if !d.CashConsistent {
		out = append(out, Alert{Code: AlertCashInconsistent, Message: "cash ledger running balance does not match its entries"})
	}
	return out
}
