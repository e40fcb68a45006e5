// Package tally owns the lifecycle of a tally transaction, from a captured
// payment through physical allocation and certification to wallet credit.
package tally

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gold_tally/internal/domain"
	"gold_tally/internal/lock"
	"gold_tally/internal/pricefeed"
	"gold_tally/internal/pricing"
	"gold_tally/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SpotSource provides the live gold rate
type SpotSource interface {
	Spot(ctx context.Context) (pricefeed.Rate, error)
}

// Options tune a Service; zero values pick defaults
type Options struct {
	Calculator pricing.Calculator
	LockWait   time.Duration // Bounded wait for wallet locks
	Logger     logrus.FieldLogger
}

// Service runs the tally state machine
type Service struct {
	store    repository.Store
	locks    lock.Locker
	prices   SpotSource
	calc     pricing.Calculator
	lockWait time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewService wires the state machine
func NewService(store repository.Store, locks lock.Locker, prices SpotSource, opts Options) *Service {
	calc := opts.Calculator
	if !calc.Tolerance.IsPositive() {
		calc = pricing.NewCalculator(pricing.DefaultFeeRate, pricing.DefaultTolerance)
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Service{
		store:    store,
		locks:    locks,
		prices:   prices,
		calc:     calc,
		lockWait: opts.LockWait,
		log:      opts.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Open records a captured payment as a PENDING_PAYMENT tally
func (s *Service) Open(ctx context.Context, p domain.PendingPayment, actor string) (*domain.TallyTransaction, error) {
	if p == nil {
		return nil, &domain.ValidationError{Field: "payment", Message: "is required"}
	}
	if p.Owner() == 0 {
		return nil, &domain.ValidationError{Field: "user_id", Message: "is required"}
	}
	if !p.Wallet().Valid() {
		return nil, &domain.ValidationError{Field: "wallet_type", Message: fmt.Sprintf("unknown wallet type %q", p.Wallet())}
	}
	if !p.AmountOrGrams().IsPositive() {
		return nil, &domain.ValidationError{Field: "amount", Message: "must be greater than zero"}
	}

	t := &domain.TallyTransaction{
		ID:            uuid.New(),
		UserID:        p.Owner(),
		WalletType:    p.Wallet(),
		DepositMethod: p.Method(),
		Status:        domain.StatusPendingPayment,
		Version:       1,
		CreatedAt:     s.now(),
	}
	switch pay := p.(type) {
	case domain.CashPayment:
		t.DepositAmount = pay.Amount
		t.DepositCurrency = pay.Currency
		t.PaymentRef = pay.Reference
	case domain.VaultGoldDeposit:
		t.InspectedGoldG = pay.InspectedGrams
		t.VaultLocation = pay.VaultLocation
		t.PaymentRef = pay.Reference
	}

	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.CreateTally(ctx, t); err != nil {
			return err
		}
		return tx.AppendTallyEvent(ctx, &domain.TallyEvent{TallyID: t.ID, To: t.Status, Actor: actor, Note: "payment captured"})
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"user_id": t.UserID, "error": err}).Error("failed to open tally")
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"tally_id": t.ID, "user_id": t.UserID, "wallet": t.WalletType, "method": t.DepositMethod,
		"amount": p.AmountOrGrams().String(),
	}).Info("tally opened")
	return t, nil
}

// ConfirmPayment moves PENDING_PAYMENT to PAYMENT_CONFIRMED. Retrying with the
// reference that confirmed it returns the tally unchanged.
func (s *Service) ConfirmPayment(ctx context.Context, id uuid.UUID, reference string, confirmed decimal.Decimal, actor string) (*domain.TallyTransaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, &domain.ValidationError{Field: "payment_reference", Message: "is required"}
	}
	if confirmed.IsNegative() {
		return nil, &domain.ValidationError{Field: "confirmed_amount", Message: "must not be negative"}
	}

	t, err := s.store.GetTally(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.StatusPendingPayment {
		if t.ConfirmedAt != nil && t.PaymentRef == reference {
			return t, nil // Idempotent retry
		}
		return nil, fmt.Errorf("%w: tally %s is %s", domain.ErrAlreadyConfirmed, id, t.Status)
	}

	expected := t.Version
	next := t.Clone()
	now := s.now()
	next.PaymentRef = reference
	next.ConfirmedAt = &now
	next.Status = domain.StatusPaymentConfirmed
	if confirmed.IsPositive() {
		if next.IsPhysical() {
			next.InspectedGoldG = confirmed
		} else {
			next.DepositAmount = confirmed
		}
	}
	if err := s.commit(ctx, next, expected, t.Status, actor, "payment confirmed"); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"tally_id": id, "reference": reference, "status": next.Status}).Info("payment confirmed")
	return next, nil
}

// Get loads one tally with its bar manifest
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.TallyTransaction, error) {
	return s.store.GetTally(ctx, id)
}

// List pages through tallies
func (s *Service) List(ctx context.Context, f repository.TallyFilter) ([]domain.TallyTransaction, int64, error) {
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, 0, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", st)}
		}
	}
	return s.store.ListTallies(ctx, f)
}

// Events returns the status history of a tally
func (s *Service) Events(ctx context.Context, id uuid.UUID) ([]domain.TallyEvent, error) {
	if _, err := s.store.GetTally(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListTallyEvents(ctx, id)
}

// Reject terminates a tally that has not been credited. A reason is required.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason, actor string) (*domain.TallyTransaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &domain.ValidationError{Field: "reason", Message: "is required"}
	}
	return s.escape(ctx, id, domain.StatusRejected, reason, actor)
}

// Cancel terminates a tally that has not been credited
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor string) (*domain.TallyTransaction, error) {
	return s.escape(ctx, id, domain.StatusCancelled, "", actor)
}

func (s *Service) escape(ctx context.Context, id uuid.UUID, to domain.TallyStatus, reason, actor string) (*domain.TallyTransaction, error) {
	release, err := s.locks.Acquire(ctx, lock.TallyKey(id), s.lockWait)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	defer release()

	t, err := s.store.GetTally(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Status.Escapable() {
		return nil, fmt.Errorf("%w: cannot move %s tally to %s", domain.ErrInvalidTransition, t.Status, to)
	}
	next := t.Clone()
	next.Status = to
	next.RejectionReason = reason
	if err := s.commit(ctx, next, t.Version, t.Status, actor, reason); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"tally_id": id, "from": t.Status, "status": to, "actor": actor}).Info("tally closed")
	return next, nil
}

// commit writes a status change and its event in one transaction
func (s *Service) commit(ctx context.Context, next *domain.TallyTransaction, expected int64, from domain.TallyStatus, actor, note string) error {
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.UpdateTally(ctx, next, expected); err != nil {
			return err
		}
		if from == next.Status {
			return nil
		}
		return tx.AppendTallyEvent(ctx, &domain.TallyEvent{TallyID: next.ID, From: from, To: next.Status, Actor: actor, Note: note})
	})
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		s.log.WithFields(logrus.Fields{"tally_id": next.ID, "status": next.Status, "error": err}).Error("tally update failed")
	}
	return err
}
