package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"gold_tally/internal/domain"
	"gold_tally/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTally(user uint) *domain.TallyTransaction {
	return &domain.TallyTransaction{
		UserID:        user,
		WalletType:    domain.WalletLGPW,
		DepositMethod: domain.MethodBank,
		DepositAmount: decimal.NewFromInt(1000),
		Status:        domain.StatusPendingPayment,
		Bars:          []domain.GoldBar{{Serial: "SN-1", WeightG: decimal.NewFromInt(10), Purity: decimal.RequireFromString("999.9")}},
	}
}

func TestTransaction_RollsBackEveryWrite(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(tx repository.Store) error {
		require.NoError(t, tx.CreateTally(ctx, newTally(1)))
		require.NoError(t, tx.SaveWallet(ctx, &domain.GoldWallet{UserID: 1, Type: domain.WalletLGPW}))
		require.NoError(t, tx.AppendCashEntry(ctx, &domain.CashLedgerEntry{EntryType: domain.EntryManualBankFunding, AmountUSD: decimal.NewFromInt(5), Direction: domain.CashCredit}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	list, total, err := s.ListTallies(ctx, repository.TallyFilter{Unpaged: true})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, total)
	_, err = s.GetWallet(ctx, 1, domain.WalletLGPW)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	last, err := s.LastCashEntry(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestTransaction_CommitIsVisible(t *testing.T) {
	ctx := context.Background()
	s := New()
	tally := newTally(7)

	require.NoError(t, s.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.CreateTally(ctx, tally); err != nil {
			return err
		}
		// Reads inside the transaction see its own writes
		got, err := tx.GetTally(ctx, tally.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		return nil
	}))

	got, err := s.GetTally(ctx, tally.ID)
	require.NoError(t, err)
	assert.Equal(t, uint(7), got.UserID)
	require.Len(t, got.Bars, 1)
	assert.Equal(t, tally.ID, got.Bars[0].TallyID)
}

func TestFailNext_AbortsTransaction(t *testing.T) {
	ctx := context.Background()
	s := New()
	injected := errors.New("disk full")
	s.FailNext("AppendProfit", injected)

	err := s.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.SaveWallet(ctx, &domain.GoldWallet{UserID: 2, Type: domain.WalletFGPW}); err != nil {
			return err
		}
		return tx.AppendProfit(ctx, &domain.ProfitEntry{TallyID: uuid.New()})
	})
	require.ErrorIs(t, err, injected)
	_, err = s.GetWallet(ctx, 2, domain.WalletFGPW)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The fault fires once
	require.NoError(t, s.AppendProfit(ctx, &domain.ProfitEntry{TallyID: uuid.New()}))
}

func TestUpdateTally_VersionConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	tally := newTally(1)
	require.NoError(t, s.CreateTally(ctx, tally))

	first, _ := s.GetTally(ctx, tally.ID)
	second, _ := s.GetTally(ctx, tally.ID)

	first.Status = domain.StatusPaymentConfirmed
	require.NoError(t, s.UpdateTally(ctx, first, 1))
	assert.Equal(t, int64(2), first.Version)

	second.Status = domain.StatusCancelled
	err := s.UpdateTally(ctx, second, 1)
	require.ErrorIs(t, err, domain.ErrConflict)

	got, _ := s.GetTally(ctx, tally.ID)
	assert.Equal(t, domain.StatusPaymentConfirmed, got.Status)
	assert.Len(t, got.Bars, 1, "UpdateTally leaves bars alone")
}

func TestReplaceBars(t *testing.T) {
	ctx := context.Background()
	s := New()
	tally := newTally(1)
	require.NoError(t, s.CreateTally(ctx, tally))

	bars := []domain.GoldBar{
		{Serial: "A", WeightG: decimal.NewFromInt(5), Purity: decimal.NewFromInt(999)},
		{Serial: "B", WeightG: decimal.NewFromInt(6), Purity: decimal.NewFromInt(999)},
	}
	require.NoError(t, s.ReplaceBars(ctx, tally.ID, bars))
	got, _ := s.GetTally(ctx, tally.ID)
	require.Len(t, got.Bars, 2)
	assert.Equal(t, "A", got.Bars[0].Serial)
	assert.True(t, got.BarsWeightG().Equal(decimal.NewFromInt(11)))

	assert.ErrorIs(t, s.ReplaceBars(ctx, uuid.New(), bars), domain.ErrNotFound)
}

func TestListTallies_FilterAndPage(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		tally := newTally(1)
		tally.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if i%2 == 0 {
			tally.Status = domain.StatusCertReceived
		}
		require.NoError(t, s.CreateTally(ctx, tally))
	}
	require.NoError(t, s.CreateTally(ctx, newTally(2)))

	list, total, err := s.ListTallies(ctx, repository.TallyFilter{UserID: 1, Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, list, 2)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt), "newest first")

	certs, total, err := s.ListTallies(ctx, repository.TallyFilter{Statuses: []domain.TallyStatus{domain.StatusCertReceived}, Unpaged: true})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, certs, 3)

	beyond, _, err := s.ListTallies(ctx, repository.TallyFilter{Page: 9, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func TestSaveWallet_CreateAndOptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()

	w := &domain.GoldWallet{UserID: 3, Type: domain.WalletLGPW, BalanceG: decimal.NewFromInt(10)}
	require.NoError(t, s.SaveWallet(ctx, w))
	assert.NotZero(t, w.ID)
	assert.Equal(t, int64(1), w.Version)

	dup := &domain.GoldWallet{UserID: 3, Type: domain.WalletLGPW}
	assert.ErrorIs(t, s.SaveWallet(ctx, dup), domain.ErrConflict)

	stale, _ := s.GetWallet(ctx, 3, domain.WalletLGPW)
	w.BalanceG = decimal.NewFromInt(20)
	require.NoError(t, s.SaveWallet(ctx, w))
	assert.Equal(t, int64(2), w.Version)

	stale.BalanceG = decimal.NewFromInt(99)
	assert.ErrorIs(t, s.SaveWallet(ctx, stale), domain.ErrConflict)

	got, _ := s.GetWallet(ctx, 3, domain.WalletLGPW)
	assert.True(t, got.BalanceG.Equal(decimal.NewFromInt(20)))
}

func TestCustodyBars_RejectDuplicateSerialPerVault(t *testing.T) {
	ctx := context.Background()
	s := New()
	tallyID := uuid.New()
	bar := domain.CustodyBar{VaultLocation: "Dubai", Serial: "X1", WeightG: decimal.NewFromInt(1000), Purity: decimal.NewFromInt(999), TallyID: tallyID}

	require.NoError(t, s.AddCustodyBars(ctx, []domain.CustodyBar{bar}))
	assert.ErrorIs(t, s.AddCustodyBars(ctx, []domain.CustodyBar{bar}), domain.ErrConflict)

	other := bar
	other.VaultLocation = "Zurich"
	require.NoError(t, s.AddCustodyBars(ctx, []domain.CustodyBar{other}))

	dubai, _ := s.ListCustodyBars(ctx, "Dubai")
	all, _ := s.ListCustodyBars(ctx, "")
	assert.Len(t, dubai, 1)
	assert.Len(t, all, 2)
}

func TestCashEntries_KeepCreationOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.AppendCashEntry(ctx, &domain.CashLedgerEntry{
			EntryType: domain.EntryManualBankFunding,
			AmountUSD: decimal.NewFromInt(int64(i)),
			Direction: domain.CashCredit,
		}))
	}
	entries, err := s.ListCashEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
	last, err := s.LastCashEntry(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last.Seq)
}

func TestUpdateConversion_GuardsStatus(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := &domain.ConversionRequest{UserID: 1, Direction: domain.LGPWToFGPW, GoldGrams: decimal.NewFromInt(5), Status: domain.ConversionPending}
	require.NoError(t, s.CreateConversion(ctx, c))

	c.Status = domain.ConversionCompleted
	require.NoError(t, s.UpdateConversion(ctx, c, domain.ConversionPending))

	c.Status = domain.ConversionRejected
	assert.ErrorIs(t, s.UpdateConversion(ctx, c, domain.ConversionPending), domain.ErrConflict)

	got, err := s.GetConversion(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversionCompleted, got.Status)

	_, err = s.GetConversion(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransaction_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New().Transaction(ctx, func(repository.Store) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
