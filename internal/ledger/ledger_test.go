package ledger

import (
	"context"
	"errors"
	"testing"

	"gold_tally/internal/domain"
	"gold_tally/internal/repository"
	"gold_tally/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pricedTally(wallet domain.WalletType) *domain.TallyTransaction {
	return &domain.TallyTransaction{
		ID:                     uuid.New(),
		UserID:                 42,
		WalletType:             wallet,
		DepositMethod:          domain.MethodBank,
		GoldRateValue:          d("95"),
		FeeAmount:              d("50"),
		TotalCostsUSD:          d("5"),
		WingoldCostUSD:         d("9950"),
		NetProfitUSD:           d("-9905"),
		PhysicalGoldAllocatedG: d("104.7368"),
		VaultLocation:          "Dubai",
		StorageCertificateID:   "PSC-1",
		Bars: []domain.GoldBar{
			{Serial: " WG-1 ", WeightG: d("100"), Purity: d("999.9")},
			{Serial: "WG-2", WeightG: d("4.7368"), Purity: d("999.9")},
		},
	}
}

func seedVault(t *testing.T, s repository.Store, active bool, capacityKg string) {
	t.Helper()
	require.NoError(t, s.CreateVault(context.Background(), &domain.VaultLocation{Name: "Dubai", CapacityKg: d(capacityKg), IsActive: active}))
}

func assertSameSnapshot(t *testing.T, want, got Snapshot) {
	t.Helper()
	assert.True(t, want.WalletBalanceG.Equal(got.WalletBalanceG), "wallet balance %s != %s", want.WalletBalanceG, got.WalletBalanceG)
	assert.True(t, want.WalletAvailableG.Equal(got.WalletAvailableG), "available %s != %s", want.WalletAvailableG, got.WalletAvailableG)
	assert.True(t, want.WalletLockedValueUSD.Equal(got.WalletLockedValueUSD), "locked value %s != %s", want.WalletLockedValueUSD, got.WalletLockedValueUSD)
	assert.True(t, want.VaultHoldingsKg.Equal(got.VaultHoldingsKg), "vault %s != %s", want.VaultHoldingsKg, got.VaultHoldingsKg)
	assert.True(t, want.CustodyBarsG.Equal(got.CustodyBarsG), "custody %s != %s", want.CustodyBarsG, got.CustodyBarsG)
	assert.True(t, want.CashSafetyUSD.Equal(got.CashSafetyUSD), "cash %s != %s", want.CashSafetyUSD, got.CashSafetyUSD)
	assert.True(t, want.ProfitTotalUSD.Equal(got.ProfitTotalUSD), "profit %s != %s", want.ProfitTotalUSD, got.ProfitTotalUSD)
}

func TestPlan_LGPW(t *testing.T) {
	delta, err := Plan(pricedTally(domain.WalletLGPW))
	require.NoError(t, err)
	assert.True(t, delta.CreditG.Equal(d("104.7368")))
	assert.True(t, delta.VaultDeltaKg.Equal(d("0.1047368")))
	assert.Nil(t, delta.Cash, "LGPW credits do not touch the cash ledger")
	require.Len(t, delta.Bars, 2)
	assert.Equal(t, "WG-1", delta.Bars[0].Serial)
	assert.True(t, delta.BarsG().Equal(d("104.7368")))
}

func TestPlan_FGPWMovesCashIntoSafety(t *testing.T) {
	delta, err := Plan(pricedTally(domain.WalletFGPW))
	require.NoError(t, err)
	require.NotNil(t, delta.Cash)
	assert.Equal(t, domain.EntryFGPWAcquisition, delta.Cash.EntryType)
	assert.Equal(t, domain.CashCredit, delta.Cash.Direction)
	assert.True(t, delta.Cash.AmountUSD.Equal(d("9950.00")), "cash %s", delta.Cash.AmountUSD)
	assert.True(t, delta.LockedValueUSD.Equal(delta.Cash.AmountUSD))
}

func TestPlan_RequiresAllocationAndVault(t *testing.T) {
	tally := pricedTally(domain.WalletLGPW)
	tally.PhysicalGoldAllocatedG = decimal.Zero
	_, err := Plan(tally)
	assert.ErrorIs(t, err, domain.ErrGoldenRuleViolation)

	tally = pricedTally(domain.WalletLGPW)
	tally.VaultLocation = ""
	_, err = Plan(tally)
	assert.ErrorIs(t, err, domain.ErrGoldenRuleViolation)
}

func TestApply_UpdatesEveryLedger(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedVault(t, store, true, "1000")
	delta, err := Plan(pricedTally(domain.WalletFGPW))
	require.NoError(t, err)

	before, err := Read(ctx, store, delta)
	require.NoError(t, err)
	require.NoError(t, store.Transaction(ctx, func(tx repository.Store) error { return Apply(ctx, tx, delta) }))
	after, err := Read(ctx, store, delta)
	require.NoError(t, err)

	assertSameSnapshot(t, before.After(delta), after)
	assert.True(t, after.WalletBalanceG.Equal(d("104.7368")))
	assert.True(t, after.VaultHoldingsKg.Equal(d("0.1047368")))
	assert.True(t, after.CustodyBarsG.Equal(d("104.7368")))
	assert.True(t, after.CashSafetyUSD.Equal(d("9950")))
	assert.True(t, after.ProfitTotalUSD.Equal(d("-9905")))

	entries, _ := store.ListCashEntries(ctx)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].TallyID)
	assert.Equal(t, delta.TallyID, *entries[0].TallyID)
}

func TestApply_DuplicateSerialRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedVault(t, store, true, "0")

	first, _ := Plan(pricedTally(domain.WalletLGPW))
	require.NoError(t, store.Transaction(ctx, func(tx repository.Store) error { return Apply(ctx, tx, first) }))

	second, _ := Plan(pricedTally(domain.WalletLGPW)) // Same serials, same vault
	err := store.Transaction(ctx, func(tx repository.Store) error { return Apply(ctx, tx, second) })
	require.ErrorIs(t, err, domain.ErrConflict)

	w, _ := store.GetWallet(ctx, 42, domain.WalletLGPW)
	assert.True(t, w.BalanceG.Equal(d("104.7368")), "second credit rolled back")
	profits, _ := store.ListProfit(ctx)
	assert.Len(t, profits, 1)
}

func TestApply_VaultChecks(t *testing.T) {
	ctx := context.Background()
	delta, _ := Plan(pricedTally(domain.WalletLGPW))

	inactive := memory.New()
	seedVault(t, inactive, false, "0")
	err := inactive.Transaction(ctx, func(tx repository.Store) error { return Apply(ctx, tx, delta) })
	assert.ErrorIs(t, err, ErrVaultInactive)

	tiny := memory.New()
	seedVault(t, tiny, true, "0.1")
	err = tiny.Transaction(ctx, func(tx repository.Store) error { return Apply(ctx, tx, delta) })
	assert.ErrorIs(t, err, ErrVaultCapacity)

	missing := memory.New()
	err = missing.Transaction(ctx, func(tx repository.Store) error { return Apply(ctx, tx, delta) })
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = missing.GetWallet(ctx, 42, domain.WalletLGPW)
	assert.ErrorIs(t, err, domain.ErrNotFound, "wallet credit rolled back")
}

func TestApply_InjectedFailureLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedVault(t, store, true, "0")
	store.FailNext("AppendCashEntry", errors.New("connection reset"))

	delta, _ := Plan(pricedTally(domain.WalletFGPW))
	err := store.Transaction(ctx, func(tx repository.Store) error { return Apply(ctx, tx, delta) })
	require.Error(t, err)

	v, _ := store.GetVault(ctx, "Dubai")
	assert.True(t, v.CurrentHoldingsKg.IsZero())
	bars, _ := store.ListCustodyBars(ctx, "")
	assert.Empty(t, bars)
	profits, _ := store.ListProfit(ctx)
	assert.Empty(t, profits)
}

func TestAppendCash_RunningBalance(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	post := func(dir domain.CashDirection, amount string) error {
		return store.Transaction(ctx, func(tx repository.Store) error {
			_, err := AppendCash(ctx, tx, &domain.CashLedgerEntry{EntryType: domain.EntryManualBankFunding, AmountUSD: d(amount), Direction: dir})
			return err
		})
	}
	require.NoError(t, post(domain.CashCredit, "1000"))
	require.NoError(t, post(domain.CashDebit, "400"))
	assert.ErrorIs(t, post(domain.CashDebit, "600.01"), domain.ErrInsufficientCashSafety)
	assert.ErrorIs(t, post(domain.CashCredit, "0"), domain.ErrValidation)

	pos, err := Position(ctx, store, true)
	require.NoError(t, err)
	assert.True(t, pos.BalanceUSD.Equal(d("600")))
	assert.True(t, pos.RunningBalanceUSD.Equal(d("600")))
	assert.True(t, pos.Consistent)
	assert.Len(t, pos.Entries, 2)
}

func TestPostManual(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	in, err := PostManual(ctx, store, ManualEntry{Direction: domain.CashCredit, AmountUSD: d("2500"), BankReference: "WIRE-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryManualBankFunding, in.EntryType)

	out, err := PostManual(ctx, store, ManualEntry{Direction: domain.CashDebit, AmountUSD: d("500"), BankReference: "WIRE-2"})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryManualBankWithdrawal, out.EntryType)
	assert.True(t, out.RunningBalanceUSD.Equal(d("2000")))

	_, err = PostManual(ctx, store, ManualEntry{Direction: domain.CashCredit, AmountUSD: d("1")})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "bank_reference", ve.Field)

	_, err = PostManual(ctx, store, ManualEntry{Direction: "sideways", AmountUSD: d("1"), BankReference: "X"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPosition_DetectsTamperedRunningBalance(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.AppendCashEntry(ctx, &domain.CashLedgerEntry{
		EntryType: domain.EntryManualBankFunding, AmountUSD: d("10"), Direction: domain.CashCredit, RunningBalanceUSD: d("11"),
	}))
	pos, err := Position(ctx, store, false)
	require.NoError(t, err)
	assert.False(t, pos.Consistent)
	assert.Nil(t, pos.Entries)
}
