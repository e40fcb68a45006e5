package tally

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gold_tally/internal/domain"
	"gold_tally/internal/ledger"
	"gold_tally/internal/lock"
	"gold_tally/internal/pricing"
	"gold_tally/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ApproveInput is the admin's credit decision
type ApproveInput struct {
	PricingMode   domain.PricingMode   `json:"pricing_mode"`
	GoldRateValue decimal.Decimal      `json:"gold_rate_value"` // Required for MANUAL, ignored for LIVE
	Costs         domain.CostBreakdown `json:"costs"`
	VarianceNotes string               `json:"variance_notes"`
	ApprovedBy    string               `json:"-"`
}

// Approval is the committed result of ApproveCredit
type Approval struct {
	Tally    *domain.TallyTransaction `json:"tally"`
	Quote    pricing.Quote            `json:"quote"`
	Delta    ledger.Delta             `json:"delta"`
	Variance decimal.Decimal          `json:"allocation_variance"`
}

// quoted is a tally priced at a rate, not yet persisted
type quoted struct {
	tally     *domain.TallyTransaction
	quote     pricing.Quote
	economics pricing.Economics
	variance  decimal.Decimal
}

// resolveRate captures the rate. It runs after the backing checks and before
// any lock is taken.
func (s *Service) resolveRate(ctx context.Context, mode domain.PricingMode, manual decimal.Decimal) (domain.PricingMode, decimal.Decimal, error) {
	if mode == "" {
		mode = domain.PricingManual
		if manual.IsZero() {
			mode = domain.PricingLive
		}
	}
	switch mode {
	case domain.PricingManual:
		return mode, manual, nil
	case domain.PricingLive:
		if s.prices == nil {
			return mode, decimal.Zero, fmt.Errorf("%w: no live price feed configured", domain.ErrValidation)
		}
		rate, err := s.prices.Spot(ctx)
		if err != nil {
			return mode, decimal.Zero, fmt.Errorf("capture live rate: %w", err)
		}
		return mode, rate.USDPerGram, nil
	}
	return mode, decimal.Zero, &domain.ValidationError{Field: "pricing_mode", Message: fmt.Sprintf("unknown pricing mode %q", mode)}
}

// price derives fee, grams, variance and economics on a copy of t.
// Preview and approval both go through here.
func (s *Service) price(t *domain.TallyTransaction, mode domain.PricingMode, rate decimal.Decimal, costs domain.CostBreakdown, notes string) (quoted, error) {
	q, err := s.calc.Quote(domain.PaymentOf(t), rate)
	if err != nil {
		return quoted{}, err
	}
	next := t.Clone()
	next.PricingMode = mode
	next.GoldRateValue = rate
	next.FeeRate = q.FeeRate
	next.FeeAmount = q.FeeAmount
	next.NetAmount = q.NetAmount
	next.GoldEquivalentG = q.GoldEquivalentG
	next.AllocationVariance = pricing.Variance(t.PhysicalGoldAllocatedG, q.GoldEquivalentG)
	if notes = strings.TrimSpace(notes); notes != "" {
		next.VarianceNotes = notes
	}
	next.SetCosts(costs)
	econ := pricing.Settle(q.FeeAmount, t.PhysicalGoldAllocatedG, t.WingoldBuyRate, rate, costs)
	next.WingoldBuyRate = econ.WingoldBuyRate
	next.WingoldCostUSD = econ.WingoldCostUSD
	next.TotalCostsUSD = econ.TotalCostsUSD
	next.NetProfitUSD = econ.NetProfitUSD
	return quoted{tally: next, quote: q, economics: econ, variance: next.AllocationVariance}, nil
}

// varianceBlocked reports an off-tolerance allocation with no justification
func (s *Service) varianceBlocked(q quoted) error {
	if s.calc.NeedsJustification(q.variance) && strings.TrimSpace(q.tally.VarianceNotes) == "" {
		return fmt.Errorf("%w: allocation is off by %s%% of %s g", domain.ErrUnjustifiedVariance,
			q.variance.Mul(decimal.NewFromInt(100)).StringFixed(2), q.quote.GoldEquivalentG)
	}
	return nil
}

// approvable rejects a tally that is already credited, closed, or missing
// physical backing. It needs no rate.
func (s *Service) approvable(t *domain.TallyTransaction) error {
	switch {
	case t.Status.Credited():
		return fmt.Errorf("%w: tally %s is %s", domain.ErrAlreadyProcessed, t.ID, t.Status)
	case t.Status.Terminal():
		return fmt.Errorf("%w: tally %s is %s", domain.ErrInvalidTransition, t.ID, t.Status)
	}
	if v := backingViolations(t); len(v) > 0 {
		s.log.WithFields(logrus.Fields{"tally_id": t.ID, "error": v[0]}).Warn("golden rule blocked approval")
		return v[0]
	}
	return nil
}

// ApproveCredit is the terminal gate. It checks the Golden Rule and the
// variance tolerance, then credits every ledger and completes the tally in a
// single commit. Any ledger failure leaves the tally in CERT_RECEIVED.
//
// The backing checks run on an unlocked read before the rate is captured, so
// an uncertified tally is refused even while the price feed is down. They run
// again under the tally lock.
func (s *Service) ApproveCredit(ctx context.Context, id uuid.UUID, in ApproveInput) (*Approval, error) {
	if err := domain.Validate(&in.Costs); err != nil {
		return nil, err
	}
	pre, err := s.store.GetTally(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.approvable(pre); err != nil {
		return nil, err
	}
	mode, rate, err := s.resolveRate(ctx, in.PricingMode, in.GoldRateValue)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, lock.TallyKey(id), 0)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("%w: tally %s is being approved", domain.ErrAlreadyProcessed, id)
		}
		return nil, err
	}
	defer release()

	t, err := s.store.GetTally(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.approvable(t); err != nil {
		return nil, err
	}
	if err := checkGoldenRule(t, rate); err != nil {
		s.log.WithFields(logrus.Fields{"tally_id": id, "error": err}).Warn("golden rule blocked approval")
		return nil, err
	}
	if t.Status != domain.StatusCertReceived {
		return nil, fmt.Errorf("%w: tally %s is %s, want %s", domain.ErrInvalidTransition, id, t.Status, domain.StatusCertReceived)
	}

	q, err := s.price(t, mode, rate, in.Costs, in.VarianceNotes)
	if err != nil {
		return nil, err
	}
	if err := s.varianceBlocked(q); err != nil {
		return nil, err
	}

	now := s.now()
	next := q.tally
	next.Status = domain.StatusCompleted
	next.ApprovedBy = in.ApprovedBy
	next.ApprovedAt = &now
	next.CompletedAt = &now
	delta, err := ledger.Plan(next)
	if err != nil {
		return nil, err
	}

	releaseWallet, err := s.locks.Acquire(ctx, lock.WalletKey(t.UserID, t.WalletType), s.lockWait)
	if err != nil {
		return nil, err
	}
	defer releaseWallet()

	var raced error
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := ledger.Apply(ctx, tx, delta); err != nil {
			return err
		}
		if err := tx.UpdateTally(ctx, next, t.Version); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				raced = err
			}
			return err
		}
		for _, e := range []domain.TallyEvent{
			{TallyID: id, From: t.Status, To: domain.StatusCredited, Actor: in.ApprovedBy, Note: fmt.Sprintf("credited %s g to %s", delta.CreditG, delta.Wallet)},
			{TallyID: id, From: domain.StatusCredited, To: domain.StatusCompleted, Actor: in.ApprovedBy},
		} {
			if err := tx.AppendTallyEvent(ctx, &e); err != nil {
				return err
			}
		}
		return nil
	})
	if raced != nil {
		return nil, s.describeRace(ctx, id, raced)
	}
	if err != nil {
		s.log.WithFields(logrus.Fields{"tally_id": id, "user_id": t.UserID, "error": err}).Error("ledger update failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrLedgerUpdateFailure, err)
	}

	s.log.WithFields(logrus.Fields{
		"tally_id":    id,
		"user_id":     t.UserID,
		"wallet":      t.WalletType,
		"allocated_g": delta.CreditG.String(),
		"rate":        rate.String(),
		"fee":         next.FeeAmount.String(),
		"net_profit":  next.NetProfitUSD.String(),
		"approved_by": in.ApprovedBy,
	}).Info("tally credited")
	return &Approval{Tally: next, Quote: q.quote, Delta: delta, Variance: q.variance}, nil
}

// describeRace classifies a lost version check. Only a tally that has since
// been credited is reported as processed; any other writer, such as a draft
// saved mid-approval, is a conflict the caller can retry.
func (s *Service) describeRace(ctx context.Context, id uuid.UUID, raced error) error {
	cur, err := s.store.GetTally(ctx, id)
	if err == nil && cur.Status.Credited() {
		return fmt.Errorf("%w: %v", domain.ErrAlreadyProcessed, raced)
	}
	s.log.WithFields(logrus.Fields{"tally_id": id, "error": raced}).Warn("tally changed during approval")
	return fmt.Errorf("%w: tally %s changed during approval, retry", domain.ErrConflict, id)
}
