package tally

import (
	"context"
	"testing"

	"gold_tally/internal/domain"
	"gold_tally/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sameSnapshot(t *testing.T, want, got ledger.Snapshot) {
	t.Helper()
	pairs := map[string][2]string{
		"wallet":    {want.WalletBalanceG.String(), got.WalletBalanceG.String()},
		"available": {want.WalletAvailableG.String(), got.WalletAvailableG.String()},
		"locked":    {want.WalletLockedValueUSD.String(), got.WalletLockedValueUSD.String()},
		"vault":     {want.VaultHoldingsKg.String(), got.VaultHoldingsKg.String()},
		"custody":   {want.CustodyBarsG.String(), got.CustodyBarsG.String()},
		"cash":      {want.CashSafetyUSD.String(), got.CashSafetyUSD.String()},
		"profit":    {want.ProfitTotalUSD.String(), got.ProfitTotalUSD.String()},
	}
	for name, p := range pairs {
		assert.True(t, d(p[0]).Equal(d(p[1])), "%s: want %s, got %s", name, p[0], p[1])
	}
}

func TestProjection_MatchesCommittedApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tally := f.certified(t, bankDeposit(domain.WalletFGPW), allocation("104.7368", manifest()...))

	rate := d("95")
	preview, err := f.svc.Projection(ctx, tally.ID, &rate)
	require.NoError(t, err)
	assert.Empty(t, preview.Blockers)
	assert.False(t, preview.Committed)
	require.NotNil(t, preview.Delta)

	stored, _ := f.svc.Get(ctx, tally.ID)
	assert.Equal(t, tally.Version, stored.Version, "projection never writes")

	_, err = f.svc.ApproveCredit(ctx, tally.ID, manual("95"))
	require.NoError(t, err)

	actual, err := ledger.Read(ctx, f.store, *preview.Delta)
	require.NoError(t, err)
	sameSnapshot(t, preview.After, actual)
}

func TestProjection_AfterApprovalShowsTheCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tally := f.certified(t, bankDeposit(domain.WalletFGPW), allocation("104.7368", manifest()...))
	_, err := f.svc.ApproveCredit(ctx, tally.ID, manual("95"))
	require.NoError(t, err)

	p, err := f.svc.Projection(ctx, tally.ID, nil)
	require.NoError(t, err)
	assert.True(t, p.Committed)
	assert.True(t, p.After.WalletBalanceG.Sub(p.Before.WalletBalanceG).Equal(d("104.7368")))
	assert.True(t, p.After.VaultHoldingsKg.Sub(p.Before.VaultHoldingsKg).Equal(d("0.1047368")))
	assert.True(t, p.After.CustodyBarsG.Sub(p.Before.CustodyBarsG).Equal(d("104.7368")))
	assert.True(t, p.After.CashSafetyUSD.Sub(p.Before.CashSafetyUSD).Equal(d("9950")))
	assert.NotEmpty(t, p.Blockers, "a second approval would fail")
}

func TestProjection_ReportsBlockers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tally := f.certified(t, bankDeposit(domain.WalletLGPW), allocation("100", domain.GoldBar{Serial: "WG-100", WeightG: d("100"), Purity: d("999.9")}))

	p, err := f.svc.Projection(ctx, tally.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.PricingLive, p.PricingMode, "falls back to the feed")
	require.Len(t, p.Blockers, 1)
	assert.Contains(t, p.Blockers[0], domain.ErrUnjustifiedVariance.Error())
	assert.True(t, p.After.WalletBalanceG.Equal(d("100")))

	opened, err := f.svc.Open(ctx, bankDeposit(domain.WalletLGPW), "intake")
	require.NoError(t, err)
	empty, err := f.svc.Projection(ctx, opened.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, empty.Delta)
	assert.GreaterOrEqual(t, len(empty.Blockers), 4)
	sameSnapshot(t, empty.Before, empty.After)
}
