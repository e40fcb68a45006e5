package tally

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gold_tally/internal/domain"
	"gold_tally/internal/ledger"
	"gold_tally/internal/lock"
	"gold_tally/internal/pricefeed"
	"gold_tally/internal/repository"
	"gold_tally/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

type fixture struct {
	store *memory.Store
	svc   *Service
	hook  *test.Hook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	store := memory.New()
	require.NoError(t, store.CreateVault(context.Background(), &domain.VaultLocation{Name: "Dubai", IsActive: true, IsPrimary: true}))
	prices := pricefeed.NewService(pricefeed.Static{Price: d("95")}, nil, time.Minute, logger)
	svc := NewService(store, lock.NewLocal(), prices, Options{LockWait: time.Second, Logger: logger})
	return &fixture{store: store, svc: svc, hook: hook}
}

func bankDeposit(wallet domain.WalletType) domain.PendingPayment {
	return domain.CashPayment{Via: domain.MethodBank, UserID: 7, Target: wallet, Amount: d("10000"), Currency: "USD"}
}

func allocation(grams string, bars ...domain.GoldBar) Draft {
	return Draft{
		OrderID:       ptr("WG-ORD-1"),
		VaultLocation: ptr("Dubai"),
		AllocatedG:    ptr(d(grams)),
		Bars:          &bars,
		CertificateID: ptr("PSC-1"),
	}
}

func manifest() []domain.GoldBar {
	return []domain.GoldBar{
		{Serial: "WG-0001", WeightG: d("100"), Purity: d("999.9")},
		{Serial: "WG-0002", WeightG: d("4.7368"), Purity: d("999.9")},
	}
}

// certified walks a deposit up to CERT_RECEIVED
func (f *fixture) certified(t *testing.T, p domain.PendingPayment, draft Draft) *domain.TallyTransaction {
	t.Helper()
	ctx := context.Background()
	opened, err := f.svc.Open(ctx, p, "intake")
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, opened.ID, "REF-"+opened.ID.String()[:8], decimal.Zero, "ops")
	require.NoError(t, err)
	saved, err := f.svc.SaveWingoldDraft(ctx, opened.ID, draft, "ops")
	require.NoError(t, err)
	return saved
}

func manual(rate string) ApproveInput {
	return ApproveInput{PricingMode: domain.PricingManual, GoldRateValue: d(rate), ApprovedBy: "admin"}
}

func TestApproveCredit_BankDepositAtLiveRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tally := f.certified(t, bankDeposit(domain.WalletLGPW), allocation("104.7368", manifest()...))
	require.Equal(t, domain.StatusCertReceived, tally.Status)

	res, err := f.svc.ApproveCredit(ctx, tally.ID, ApproveInput{PricingMode: domain.PricingLive, ApprovedBy: "admin"})
	require.NoError(t, err)

	assert.True(t, res.Quote.FeeAmount.Equal(d("50")), "fee %s", res.Quote.FeeAmount)
	assert.True(t, res.Quote.NetAmount.Equal(d("9950")))
	assert.True(t, res.Quote.GoldEquivalentG.Equal(d("104.7368")), "grams %s", res.Quote.GoldEquivalentG)
	assert.Equal(t, domain.StatusCompleted, res.Tally.Status)
	assert.Equal(t, domain.PricingLive, res.Tally.PricingMode)

	w, err := f.store.GetWallet(ctx, 7, domain.WalletLGPW)
	require.NoError(t, err)
	assert.True(t, w.BalanceG.Equal(d("104.7368")))

	stored, err := f.svc.Get(ctx, tally.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, "admin", stored.ApprovedBy)
	require.NotNil(t, stored.CompletedAt)

	events, err := f.svc.Events(ctx, tally.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(events), 2)
	last := events[len(events)-2:]
	assert.Equal(t, domain.StatusCredited, last[0].To)
	assert.Equal(t, domain.StatusCompleted, last[1].To)
}

func TestApproveCredit_ShortAllocationNeedsNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tally := f.certified(t, bankDeposit(domain.WalletLGPW), allocation("100", domain.GoldBar{Serial: "WG-100", WeightG: d("100"), Purity: d("999.9")}))

	_, err := f.svc.ApproveCredit(ctx, tally.ID, manual("95"))
	require.ErrorIs(t, err, domain.ErrUnjustifiedVariance)

	stored, _ := f.svc.Get(ctx, tally.ID)
	assert.Equal(t, domain.StatusCertReceived, stored.Status)

	in := manual("95")
	in.VarianceNotes = "supplier shipped a single 100 g bar, remainder refunded"
	res, err := f.svc.ApproveCredit(ctx, tally.ID, in)
	require.NoError(t, err)
	assert.Equal(t, in.VarianceNotes, res.Tally.VarianceNotes)

	w, _ := f.store.GetWallet(ctx, 7, domain.WalletLGPW)
	assert.True(t, w.BalanceG.Equal(d("100")), "allocated grams are credited, not the equivalent")
}

func TestApproveCredit_DraftNotesJustifyVariance(t *testing.T) {
	f := newFixture(t)
	draft := allocation("100", domain.GoldBar{Serial: "WG-100", WeightG: d("100"), Purity: d("999.9")})
	draft.VarianceNotes = ptr("short shipment")
	tally := f.certified(t, bankDeposit(domain.WalletLGPW), draft)

	_, err := f.svc.ApproveCredit(context.Background(), tally.ID, manual("95"))
	assert.NoError(t, err)
}

func TestApproveCredit_PhysicalWithoutCertificate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := domain.VaultGoldDeposit{UserID: 7, Target: domain.WalletLGPW, InspectedGrams: d("50"), VaultLocation: "Dubai"}
	draft := Draft{AllocatedG: ptr(d("50")), Bars: &[]domain.GoldBar{{Serial: "CUST-50", WeightG: d("50"), Purity: d("999.9")}}}
	tally := f.certified(t, p, draft)
	assert.Equal(t, domain.StatusPhysicalAllocated, tally.Status, "vault gold needs no supplier order")

	_, err := f.svc.ApproveCredit(ctx, tally.ID, manual("95"))
	require.ErrorIs(t, err, domain.ErrGoldenRuleViolation)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "storage_certificate_id", ve.Field)
	assert.True(t, domain.IsValidation(err))

	_, err = f.store.GetWallet(ctx, 7, domain.WalletLGPW)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApproveCredit_PhysicalDepositHasNoFee(t *testing.T) {
	f := newFixture(t)
	p := domain.VaultGoldDeposit{UserID: 7, Target: domain.WalletLGPW, InspectedGrams: d("50"), VaultLocation: "Dubai"}
	draft := Draft{AllocatedG: ptr(d("50")), CertificateID: ptr("PSC-9"), Bars: &[]domain.GoldBar{{Serial: "CUST-50", WeightG: d("50"), Purity: d("999.9")}}}
	tally := f.certified(t, p, draft)
	require.Equal(t, domain.StatusCertReceived, tally.Status)

	res, err := f.svc.ApproveCredit(context.Background(), tally.ID, manual("95"))
	require.NoError(t, err)
	assert.True(t, res.Quote.FeeAmount.IsZero())
	assert.True(t, res.Quote.GoldEquivalentG.Equal(d("50")))
}

func TestApproveCredit_GoldenRuleChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tally := f.certified(t, bankDeposit(domain.WalletLGPW), allocation("104.7368", manifest()...))

	_, err := f.svc.ApproveCredit(ctx, tally.ID, ApproveInput{PricingMode: domain.PricingManual, ApprovedBy: "admin"})
	assert.ErrorIs(t, err, domain.ErrGoldenRuleViolation, "zero manual rate")

	_, err = f.svc.ApproveCredit(ctx, tally.ID, ApproveInput{PricingMode: "GUESS", GoldRateValue: d("95")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	in := manual("95")
	in.Costs.OpsUSD = d("-1")
	_, err = f.svc.ApproveCredit(ctx, tally.ID, in)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestApproveCredit_RequiresCertReceived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := allocation("104.7368", manifest()...)
	tally := f.certified(t, bankDeposit(domain.WalletLGPW), draft)

	// Drafts never regress, so force the status through the store
	forced := tally.Clone()
	forced.Status = domain.StatusPhysicalAllocated
	require.NoError(t, f.store.UpdateTally(ctx, forced, tally.Version))

	_, err := f.svc.ApproveCredit(ctx, tally.ID, manual("95"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestApproveCredit_RepeatFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tally := f.certified(t, bankDeposit(domain.WalletLGPW), allocation("104.7368", manifest()...))

	_, err := f.svc.ApproveCredit(ctx, tally.ID, manual("95"))
	require.NoError(t, err)
	_, err = f.svc.ApproveCredit(ctx, tally.ID, manual("95"))
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	w, _ := f.store.GetWallet(ctx, 7, domain.WalletLGPW)
	assert.True(t, w.BalanceG.Equal(d("104.7368")))
}

func TestApproveCredit_ConcurrentCallsCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tally := f.certified(t, bankDeposit(domain.WalletLGPW), allocation("104.7368", manifest()...))

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.ApproveCredit(ctx, tally.ID, manual("95"))
		}(i)
	}
	close(start)
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	}
	assert.Equal(t, 1, successes)

	w, _ := f.store.GetWallet(ctx, 7, domain.WalletLGPW)
	assert.True(t, w.BalanceG.Equal(d("104.7368")), "credited exactly once, got %s", w.BalanceG)
	profits, _ := f.store.ListProfit(ctx)
	assert.Len(t, profits, 1)
}

func TestApproveCredit_LedgerFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tally := f.certified(t, bankDeposit(domain.WalletFGPW), allocation("104.7368", manifest()...))

	cause := errors.New("deadlock found when trying to get lock")
	f.store.FailNext("AppendCashEntry", cause)
	_, err := f.svc.ApproveCredit(ctx, tally.ID, manual("95"))
	require.ErrorIs(t, err, domain.ErrLedgerUpdateFailure)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), cause.Error())

	stored, _ := f.svc.Get(ctx, tally.ID)
	assert.Equal(t, domain.StatusCertReceived, stored.Status)
	_, err = f.store.GetWallet(ctx, 7, domain.WalletFGPW)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	v, _ := f.store.GetVault(ctx, "Dubai")
	assert.True(t, v.CurrentHoldingsKg.IsZero())
	entries, _ := f.store.ListCashEntries(ctx)
	assert.Empty(t, entries)

	var logged bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "ledger update failed" {
			logged = true
		}
	}
	assert.True(t, logged)

	// Recoverable by retrying once the fault is gone
	_, err = f.svc.ApproveCredit(ctx, tally.ID, manual("95"))
	require.NoError(t, err)
}

func TestApproveCredit_ConcurrentEditIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tally := f.certified(t, bankDeposit(domain.WalletLGPW), allocation("104.7368", manifest()...))

	f.store.FailNext("UpdateTally", fmt.Errorf("%w: tally %s is no longer at version %d", domain.ErrConflict, tally.ID, tally.Version))
	_, err := f.svc.ApproveCredit(ctx, tally.ID, manual("95"))
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.NotErrorIs(t, err, domain.ErrAlreadyProcessed, "nothing was credited")
	assert.NotErrorIs(t, err, domain.ErrLedgerUpdateFailure)

	stored, _ := f.svc.Get(ctx, tally.ID)
	assert.Equal(t, domain.StatusCertReceived, stored.Status)
	_, err = f.store.GetWallet(ctx, 7, domain.WalletLGPW)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.ApproveCredit(ctx, tally.ID, manual("95"))
	require.NoError(t, err)
}

func TestApproveCredit_BackingCheckedBeforeLiveRate(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := memory.New()
	require.NoError(t, store.CreateVault(context.Background(), &domain.VaultLocation{Name: "Dubai", IsActive: true}))
	outage := pricefeed.NewService(pricefeed.Static{Price: decimal.Zero}, nil, time.Minute, logger)
	f := &fixture{store: store, svc: NewService(store, lock.NewLocal(), outage, Options{LockWait: time.Second, Logger: logger})}
	ctx := context.Background()

	p := domain.VaultGoldDeposit{UserID: 7, Target: domain.WalletLGPW, InspectedGrams: d("50"), VaultLocation: "Dubai"}
	uncertified := f.certified(t, p, Draft{AllocatedG: ptr(d("50")), Bars: &[]domain.GoldBar{{Serial: "CUST-50", WeightG: d("50"), Purity: d("999.9")}}})
	_, err := f.svc.ApproveCredit(ctx, uncertified.ID, ApproveInput{PricingMode: domain.PricingLive, ApprovedBy: "admin"})
	require.ErrorIs(t, err, domain.ErrGoldenRuleViolation)
	assert.NotErrorIs(t, err, pricefeed.ErrNoPrice)

	ready := f.certified(t, bankDeposit(domain.WalletLGPW), allocation("104.7368", manifest()...))
	_, err = f.svc.ApproveCredit(ctx, ready.ID, ApproveInput{PricingMode: domain.PricingLive, ApprovedBy: "admin"})
	assert.ErrorIs(t, err, pricefeed.ErrNoPrice, "a certified tally still needs a live price")
}

func TestApproveCredit_FGPWFundsCashSafety(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tally := f.certified(t, bankDeposit(domain.WalletFGPW), allocation("104.7368", manifest()...))

	res, err := f.svc.ApproveCredit(ctx, tally.ID, manual("95"))
	require.NoError(t, err)
	require.NotNil(t, res.Delta.Cash)
	assert.Equal(t, domain.CashCredit, res.Delta.Cash.Direction)

	w, _ := f.store.GetWallet(ctx, 7, domain.WalletFGPW)
	assert.True(t, w.LockedValueUSD.Equal(d("9950")), "locked value %s", w.LockedValueUSD)
	pos, err := ledger.Position(ctx, f.store, false)
	require.NoError(t, err)
	assert.True(t, pos.BalanceUSD.Equal(d("9950")))
	assert.True(t, pos.Consistent)
}

func TestApproveCredit_ProfitIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := allocation("104.7368", manifest()...)
	draft.BuyRate = ptr(d("94.10"))
	tally := f.certified(t, bankDeposit(domain.WalletLGPW), draft)

	in := manual("95")
	in.Costs = domain.CostBreakdown{GatewayUSD: d("0"), BankUSD: d("12.50"), NetworkUSD: d("0"), OpsUSD: d("3.25")}
	res, err := f.svc.ApproveCredit(ctx, tally.ID, in)
	require.NoError(t, err)

	got := res.Tally
	assert.True(t, got.WingoldCostUSD.Equal(d("9855.73")), "wingold cost %s", got.WingoldCostUSD)
	assert.True(t, got.TotalCostsUSD.Equal(d("15.75")))
	assert.True(t, got.NetProfitUSD.Equal(got.FeeAmount.Sub(got.TotalCostsUSD).Sub(got.WingoldCostUSD)))

	profits, _ := f.store.ListProfit(ctx)
	require.Len(t, profits, 1)
	assert.True(t, profits[0].NetProfitUSD.Equal(got.NetProfitUSD))
}

func TestGoldenRuleHoldsForEveryCreditedTally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.certified(t, bankDeposit(domain.WalletLGPW), allocation("104.7368", manifest()...))
	second := f.certified(t, bankDeposit(domain.WalletFGPW), allocation("104.7368",
		domain.GoldBar{Serial: "WG-0003", WeightG: d("104.7368"), Purity: d("999.9")}))
	_, err := f.svc.ApproveCredit(ctx, second.ID, manual("95"))
	require.NoError(t, err)

	all, _, err := f.svc.List(ctx, repository.TallyFilter{Unpaged: true})
	require.NoError(t, err)
	for _, tally := range all {
		if tally.Status.Credited() {
			assert.NotEmpty(t, tally.StorageCertificateID)
			assert.True(t, tally.PhysicalGoldAllocatedG.IsPositive())
		}
	}
}

func TestConfirmPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opened, err := f.svc.Open(ctx, bankDeposit(domain.WalletLGPW), "intake")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingPayment, opened.Status)

	_, err = f.svc.ConfirmPayment(ctx, opened.ID, " ", decimal.Zero, "ops")
	assert.ErrorIs(t, err, domain.ErrValidation)

	first, err := f.svc.ConfirmPayment(ctx, opened.ID, "WIRE-77", d("9990"), "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaymentConfirmed, first.Status)
	assert.True(t, first.DepositAmount.Equal(d("9990")), "confirmed amount wins")

	retry, err := f.svc.ConfirmPayment(ctx, opened.ID, "WIRE-77", d("9990"), "ops")
	require.NoError(t, err)
	assert.Equal(t, first.Version, retry.Version, "retry writes nothing")

	_, err = f.svc.ConfirmPayment(ctx, opened.ID, "WIRE-78", decimal.Zero, "ops")
	assert.ErrorIs(t, err, domain.ErrAlreadyConfirmed)

	_, err = f.svc.ConfirmPayment(ctx, uuid.New(), "WIRE-1", decimal.Zero, "ops")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpen_Validates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Open(ctx, nil, "intake")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.Open(ctx, domain.CashPayment{Via: domain.MethodCard, UserID: 7, Target: "GOLD", Amount: d("1")}, "intake")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.Open(ctx, domain.CashPayment{Via: domain.MethodCard, UserID: 7, Target: domain.WalletLGPW, Amount: d("0")}, "intake")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSaveWingoldDraft_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := allocation("104.7368", manifest()...)
	first := f.certified(t, bankDeposit(domain.WalletLGPW), draft)

	second, err := f.svc.SaveWingoldDraft(ctx, first.ID, draft, "ops")
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.Status, second.Status)
	assert.Len(t, second.Bars, 2, "no duplicate bars")

	events, _ := f.svc.Events(ctx, first.ID)
	assert.Len(t, events, 3, "opened, confirmed, certified")
}

func TestSaveWingoldDraft_AdvancesOpportunistically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opened, err := f.svc.Open(ctx, bankDeposit(domain.WalletLGPW), "intake")
	require.NoError(t, err)

	_, err = f.svc.SaveWingoldDraft(ctx, opened.ID, Draft{OrderID: ptr("WG-1")}, "ops")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "drafts open after confirmation")

	_, err = f.svc.ConfirmPayment(ctx, opened.ID, "WIRE-1", decimal.Zero, "ops")
	require.NoError(t, err)

	ordered, err := f.svc.SaveWingoldDraft(ctx, opened.ID, Draft{OrderID: ptr("WG-1")}, "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPhysicalOrdered, ordered.Status)

	bars := manifest()
	allocated, err := f.svc.SaveWingoldDraft(ctx, opened.ID, Draft{AllocatedG: ptr(d("104.7368")), Bars: &bars}, "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPhysicalAllocated, allocated.Status)
	assert.Equal(t, "WG-1", allocated.WingoldOrderID, "absent fields are kept")

	certified, err := f.svc.SaveWingoldDraft(ctx, opened.ID, Draft{CertificateID: ptr("PSC-1"), VaultLocation: ptr("Dubai")}, "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCertReceived, certified.Status)

	// Clearing the certificate would leave a CERT_RECEIVED tally uncertified
	_, err = f.svc.SaveWingoldDraft(ctx, opened.ID, Draft{CertificateID: ptr("")}, "ops")
	assert.ErrorIs(t, err, domain.ErrValidation)

	replaced := []domain.GoldBar{{Serial: "WG-9", WeightG: d("104.7368"), Purity: d("999.9")}}
	swapped, err := f.svc.SaveWingoldDraft(ctx, opened.ID, Draft{Bars: &replaced}, "ops")
	require.NoError(t, err)
	require.Len(t, swapped.Bars, 1)
	assert.Equal(t, "WG-9", swapped.Bars[0].Serial)
}

func TestSaveWingoldDraft_CannotClearFieldsTheStatusNeeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tally := f.certified(t, bankDeposit(domain.WalletLGPW), allocation("104.7368", manifest()...))

	empty := []domain.GoldBar{}
	for _, tc := range []struct {
		draft Draft
		field string
	}{
		{Draft{CertificateID: ptr(" ")}, "storage_certificate_id"},
		{Draft{Bars: &empty}, "bars"},
		{Draft{AllocatedG: ptr(decimal.Zero)}, "physical_gold_allocated_g"},
		{Draft{OrderID: ptr("")}, "wingold_order_id"},
	} {
		_, err := f.svc.SaveWingoldDraft(ctx, tally.ID, tc.draft, "ops")
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve, tc.field)
		assert.Equal(t, tc.field, ve.Field)
		assert.ErrorIs(t, err, domain.ErrValidation)
	}

	stored, err := f.svc.Get(ctx, tally.ID)
	require.NoError(t, err)
	assert.Equal(t, tally.Version, stored.Version, "rejected drafts write nothing")
	assert.Equal(t, "PSC-1", stored.StorageCertificateID)
	assert.Len(t, stored.Bars, 2)

	// Replacing a value is still allowed
	updated, err := f.svc.SaveWingoldDraft(ctx, tally.ID, Draft{CertificateID: ptr("PSC-2")}, "ops")
	require.NoError(t, err)
	assert.Equal(t, "PSC-2", updated.StorageCertificateID)
	assert.Equal(t, domain.StatusCertReceived, updated.Status)

	_, err = f.svc.ApproveCredit(ctx, tally.ID, manual("95"))
	require.NoError(t, err)
}

func TestSaveWingoldDraft_OrderIDOptionalForVaultGold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := domain.VaultGoldDeposit{UserID: 7, Target: domain.WalletLGPW, InspectedGrams: d("50"), VaultLocation: "Dubai"}
	draft := Draft{AllocatedG: ptr(d("50")), Bars: &[]domain.GoldBar{{Serial: "CUST-50", WeightG: d("50"), Purity: d("999.9")}}}
	tally := f.certified(t, p, draft)
	require.Equal(t, domain.StatusPhysicalAllocated, tally.Status)

	saved, err := f.svc.SaveWingoldDraft(ctx, tally.ID, Draft{OrderID: ptr("")}, "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPhysicalAllocated, saved.Status)

	_, err = f.svc.SaveWingoldDraft(ctx, tally.ID, Draft{AllocatedG: ptr(decimal.Zero)}, "ops")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSaveWingoldDraft_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tally := f.certified(t, bankDeposit(domain.WalletLGPW), allocation("104.7368", manifest()...))

	_, err := f.svc.SaveWingoldDraft(ctx, tally.ID, Draft{AllocatedG: ptr(d("-1"))}, "ops")
	assert.ErrorIs(t, err, domain.ErrValidation)

	bad := []domain.GoldBar{{Serial: "", WeightG: d("1"), Purity: d("999.9")}}
	_, err = f.svc.SaveWingoldDraft(ctx, tally.ID, Draft{Bars: &bad}, "ops")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.ApproveCredit(ctx, tally.ID, manual("95"))
	require.NoError(t, err)
	_, err = f.svc.SaveWingoldDraft(ctx, tally.ID, Draft{OrderID: ptr("WG-2")}, "ops")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "drafts close once credited")
}

func TestRejectAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opened, err := f.svc.Open(ctx, bankDeposit(domain.WalletLGPW), "intake")
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, opened.ID, "", "admin")
	assert.ErrorIs(t, err, domain.ErrValidation)

	rejected, err := f.svc.Reject(ctx, opened.ID, "chargeback", "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	assert.Equal(t, "chargeback", rejected.RejectionReason)

	_, err = f.svc.Cancel(ctx, opened.ID, "admin")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.ApproveCredit(ctx, opened.ID, manual("95"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	credited := f.certified(t, bankDeposit(domain.WalletLGPW), allocation("104.7368", manifest()...))
	cancelled := f.certified(t, bankDeposit(domain.WalletLGPW), allocation("104.7368",
		domain.GoldBar{Serial: "WG-0009", WeightG: d("104.7368"), Purity: d("999.9")}))
	_, err = f.svc.Cancel(ctx, cancelled.ID, "admin")
	require.NoError(t, err)

	_, err = f.svc.ApproveCredit(ctx, credited.ID, manual("95"))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, credited.ID, "admin")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "credited tallies cannot escape")
}

func TestList_RejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.List(context.Background(), repository.TallyFilter{Statuses: []domain.TallyStatus{"LOST"}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
