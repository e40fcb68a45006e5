package tally

import (
	"context"
	"errors"
	"fmt"

	"gold_tally/internal/domain"
	"gold_tally/internal/ledger"
	"gold_tally/internal/pricing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Projection previews the ledger effect of approving a tally
type Projection struct {
	TallyID     uuid.UUID          `json:"tally_id"`
	Status      domain.TallyStatus `json:"status"`
	Committed   bool               `json:"committed"` // Already credited; Before is reconstructed
	PricingMode domain.PricingMode `json:"pricing_mode"`
	Quote       *pricing.Quote     `json:"quote,omitempty"`
	Economics   *pricing.Economics `json:"economics,omitempty"`
	Variance    decimal.Decimal    `json:"allocation_variance"`
	Delta       *ledger.Delta      `json:"delta,omitempty"`
	Before      ledger.Snapshot    `json:"before"`
	After       ledger.Snapshot    `json:"after"`
	Blockers    []string           `json:"blockers"` // Reasons ApproveCredit would fail now
}

// Projection computes before/after snapshots with the same pricing and
// ledger plan ApproveCredit commits. It never writes. The rate is the given
// one, else the rate stored on the tally, else the live spot rate.
func (s *Service) Projection(ctx context.Context, id uuid.UUID, rate *decimal.Decimal) (*Projection, error) {
	t, err := s.store.GetTally(ctx, id)
	if err != nil {
		return nil, err
	}

	mode := domain.PricingManual
	var r decimal.Decimal
	switch {
	case rate != nil:
		r = *rate
	case t.GoldRateValue.IsPositive():
		r, mode = t.GoldRateValue, t.PricingMode
	default:
		mode, r, err = s.resolveRate(ctx, domain.PricingLive, decimal.Zero)
		if err != nil {
			return nil, err
		}
	}

	p := &Projection{TallyID: id, Status: t.Status, Committed: t.Status.Credited(), PricingMode: mode, Blockers: []string{}}
	for _, v := range goldenRuleViolations(t, r) {
		p.Blockers = append(p.Blockers, v.Error())
	}
	switch {
	case t.Status.Credited():
		p.Blockers = append(p.Blockers, fmt.Sprintf("%s: tally is %s", domain.ErrAlreadyProcessed, t.Status))
	case t.Status != domain.StatusCertReceived:
		p.Blockers = append(p.Blockers, fmt.Sprintf("%s: tally is %s, want %s", domain.ErrInvalidTransition, t.Status, domain.StatusCertReceived))
	}

	next := t
	if !p.Committed {
		q, err := s.price(t, mode, r, t.Costs(), "")
		switch {
		case err == nil:
			next = q.tally
			p.Quote, p.Economics, p.Variance = &q.quote, &q.economics, q.variance
			if err := s.varianceBlocked(q); err != nil {
				p.Blockers = append(p.Blockers, err.Error())
			}
		case domain.IsValidation(err):
			p.Blockers = append(p.Blockers, err.Error())
		default:
			return nil, err
		}
	} else {
		p.Variance = t.AllocationVariance
	}

	delta, planErr := ledger.Plan(next)
	var probe ledger.Delta
	if planErr == nil {
		probe = delta
		p.Delta = &delta
	} else {
		var ve *domain.ValidationError
		if !errors.As(planErr, &ve) {
			return nil, planErr
		}
		probe = ledger.Delta{UserID: t.UserID, Wallet: t.WalletType, Vault: t.VaultLocation}
	}

	current, err := ledger.Read(ctx, s.store, probe)
	if err != nil {
		return nil, err
	}
	switch {
	case planErr != nil:
		p.Before, p.After = current, current
	case p.Committed:
		p.Before, p.After = current.Before(delta), current
	default:
		p.Before, p.After = current, current.After(delta)
	}
	return p, nil
}
