// Package conversion moves gold between the LGPW and FGPW wallets under admin
// approval, keeping the cash-safety account in step with the FGPW liability.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gold_tally/internal/domain"
	"gold_tally/internal/ledger"
	"gold_tally/internal/lock"
	"gold_tally/internal/pricefeed"
	"gold_tally/internal/pricing"
	"gold_tally/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SpotSource provides the live gold rate locked into new requests
type SpotSource interface {
	Spot(ctx context.Context) (pricefeed.Rate, error)
}

// Service runs the conversion workflow
type Service struct {
	store    repository.Store
	locks    lock.Locker
	prices   SpotSource
	lockWait time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewService wires the workflow. lockWait bounds the wait for wallet locks.
func NewService(store repository.Store, locks lock.Locker, prices SpotSource, lockWait time.Duration, log logrus.FieldLogger) *Service {
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		store:    store,
		locks:    locks,
		prices:   prices,
		lockWait: lockWait,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Request reserves grams in the source wallet and records a pending
// conversion at the current spot price
func (s *Service) Request(ctx context.Context, userID uint, direction domain.ConversionDirection, grams decimal.Decimal) (*domain.ConversionRequest, error) {
	if userID == 0 {
		return nil, &domain.ValidationError{Field: "user_id", Message: "is required"}
	}
	if !direction.Valid() {
		return nil, &domain.ValidationError{Field: "direction", Message: fmt.Sprintf("unknown direction %q", direction)}
	}
	if !grams.IsPositive() {
		return nil, &domain.ValidationError{Field: "gold_grams", Message: "must be greater than zero"}
	}

	// The feed is called before any lock is held
	rate, err := s.prices.Spot(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture spot price: %w", err)
	}

	source := direction.Source()
	release, err := s.locks.Acquire(ctx, lock.WalletKey(userID, source), s.lockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	c := &domain.ConversionRequest{
		ID:                  uuid.New(),
		UserID:              userID,
		Direction:           direction,
		GoldGrams:           grams,
		SpotPriceUSDPerGram: rate.USDPerGram,
		Status:              domain.ConversionPending,
		CreatedAt:           s.now(),
	}
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		w, err := tx.GetWallet(ctx, userID, source)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: user %d has no %s wallet", domain.ErrInsufficientBalance, userID, source)
		}
		if err != nil {
			return err
		}
		if w.AvailableG().LessThan(grams) {
			return fmt.Errorf("%w: %s g available in %s, %s g requested", domain.ErrInsufficientBalance, w.AvailableG(), source, grams)
		}
		w.ReservedG = w.ReservedG.Add(grams)
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		return tx.CreateConversion(ctx, c)
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"user_id": userID, "direction": direction, "grams": grams.String(), "error": err}).Warn("conversion request refused")
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"conversion_id": c.ID, "user_id": userID, "direction": direction,
		"grams": grams.String(), "spot": rate.USDPerGram.String(),
	}).Info("conversion requested")
	return c, nil
}

// Approve debits the source wallet, credits the target at the locked price
// and writes the matching cash-safety entry, all in one commit
func (s *Service) Approve(ctx context.Context, id uuid.UUID, reviewer, notes string) (*domain.ConversionRequest, error) {
	c, release, err := s.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	releaseWallets, err := lock.AcquireAll(ctx, s.locks, s.lockWait,
		lock.WalletKey(c.UserID, c.Direction.Source()),
		lock.WalletKey(c.UserID, c.Direction.Target()))
	if err != nil {
		return nil, err
	}
	defer releaseWallets()

	now := s.now()
	next := *c
	next.Status = domain.ConversionCompleted
	next.ReviewedBy = reviewer
	next.AdminNotes = strings.TrimSpace(notes)
	next.ReviewedAt = &now

	value := c.ValueUSD()
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		src, err := tx.GetWallet(ctx, c.UserID, c.Direction.Source())
		if err != nil {
			return fmt.Errorf("load source wallet: %w", err)
		}
		if src.BalanceG.LessThan(c.GoldGrams) || src.ReservedG.LessThan(c.GoldGrams) {
			return fmt.Errorf("%w: %s wallet holds %s g with %s g reserved", domain.ErrInsufficientBalance, src.Type, src.BalanceG, src.ReservedG)
		}
		dst, err := ledger.LoadWallet(ctx, tx, c.UserID, c.Direction.Target())
		if err != nil {
			return err
		}

		cash := &domain.CashLedgerEntry{ConversionID: &next.ID, UserID: &next.UserID, AmountUSD: value}
		switch c.Direction {
		case domain.LGPWToFGPW:
			dst.LockedValueUSD = dst.LockedValueUSD.Add(value)
			cash.EntryType, cash.Direction = domain.EntryConversionToFGPW, domain.CashCredit
		case domain.FGPWToLGPW:
			src.LockedValueUSD = releasedValue(src, c.GoldGrams)
			cash.EntryType, cash.Direction = domain.EntryConversionFromFGPW, domain.CashDebit
		}
		src.BalanceG = src.BalanceG.Sub(c.GoldGrams)
		src.ReservedG = src.ReservedG.Sub(c.GoldGrams)
		dst.BalanceG = dst.BalanceG.Add(c.GoldGrams)

		if err := tx.SaveWallet(ctx, src); err != nil {
			return fmt.Errorf("debit %s wallet: %w", src.Type, err)
		}
		if err := tx.SaveWallet(ctx, dst); err != nil {
			return fmt.Errorf("credit %s wallet: %w", dst.Type, err)
		}
		if value.IsPositive() {
			if _, err := ledger.AppendCash(ctx, tx, cash); err != nil {
				return err
			}
		}
		return tx.UpdateConversion(ctx, &next, domain.ConversionPending)
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"conversion_id": id, "user_id": c.UserID, "error": err}).Error("conversion approval failed")
		if errors.Is(err, domain.ErrInsufficientCashSafety) || errors.Is(err, domain.ErrInsufficientBalance) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrLedgerUpdateFailure, err)
	}
	s.log.WithFields(logrus.Fields{
		"conversion_id": id, "user_id": c.UserID, "direction": c.Direction,
		"grams": c.GoldGrams.String(), "value_usd": value.String(), "reviewed_by": reviewer,
	}).Info("conversion approved")
	return &next, nil
}

// releasedValue is the FGPW locked value left after removing grams at the
// wallet's average locked cost
func releasedValue(w *domain.GoldWallet, grams decimal.Decimal) decimal.Decimal {
	if grams.GreaterThanOrEqual(w.BalanceG) {
		return decimal.Zero
	}
	left := w.LockedValueUSD.Sub(pricing.LockedValue(grams, w.AverageLockedPrice()))
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

// Reject releases the reservation without touching any ledger
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reviewer, reason string) (*domain.ConversionRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &domain.ValidationError{Field: "reason", Message: "is required"}
	}
	c, release, err := s.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	source := c.Direction.Source()
	releaseWallet, err := s.locks.Acquire(ctx, lock.WalletKey(c.UserID, source), s.lockWait)
	if err != nil {
		return nil, err
	}
	defer releaseWallet()

	now := s.now()
	next := *c
	next.Status = domain.ConversionRejected
	next.ReviewedBy = reviewer
	next.RejectionReason = reason
	next.ReviewedAt = &now
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		w, err := tx.GetWallet(ctx, c.UserID, source)
		if err != nil {
			return fmt.Errorf("load source wallet: %w", err)
		}
		w.ReservedG = decimal.Max(w.ReservedG.Sub(c.GoldGrams), decimal.Zero)
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		return tx.UpdateConversion(ctx, &next, domain.ConversionPending)
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"conversion_id": id, "error": err}).Error("conversion rejection failed")
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"conversion_id": id, "user_id": c.UserID, "reviewed_by": reviewer}).Info("conversion rejected")
	return &next, nil
}

// claim try-locks a conversion and checks it is still pending
func (s *Service) claim(ctx context.Context, id uuid.UUID) (*domain.ConversionRequest, lock.Release, error) {
	release, err := s.locks.Acquire(ctx, lock.ConversionKey(id), 0)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, nil, fmt.Errorf("%w: conversion %s is being reviewed", domain.ErrAlreadyProcessed, id)
		}
		return nil, nil, err
	}
	c, err := s.store.GetConversion(ctx, id)
	if err != nil {
		release()
		return nil, nil, err
	}
	if c.Status != domain.ConversionPending {
		release()
		return nil, nil, fmt.Errorf("%w: conversion %s is %s", domain.ErrAlreadyProcessed, id, c.Status)
	}
	return c, release, nil
}

// Get loads one conversion
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.ConversionRequest, error) {
	return s.store.GetConversion(ctx, id)
}

// List pages through conversions
func (s *Service) List(ctx context.Context, f repository.ConversionFilter) ([]domain.ConversionRequest, int64, error) {
	switch f.Status {
	case "", domain.ConversionPending, domain.ConversionCompleted, domain.ConversionRejected:
	default:
		return nil, 0, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", f.Status)}
	}
	return s.store.ListConversions(ctx, f)
}
