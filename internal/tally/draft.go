package tally

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gold_tally/internal/domain"
	"gold_tally/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Draft is a partial wingold form. Nil fields are left as stored; a non-nil
// Bars replaces the whole manifest.
type Draft struct {
	OrderID           *string           `json:"wingold_order_id"`
	SupplierInvoiceID *string           `json:"wingold_supplier_invoice_id"`
	BuyRate           *decimal.Decimal  `json:"wingold_buy_rate"`
	CostUSD           *decimal.Decimal  `json:"wingold_cost_usd"`
	VaultLocation     *string           `json:"vault_location"`
	AllocatedG        *decimal.Decimal  `json:"physical_gold_allocated_g"`
	Bars              *[]domain.GoldBar `json:"bars"`
	CertificateID     *string           `json:"storage_certificate_id"`
	CertificateURL    *string           `json:"certificate_file_url"`
	CertificateDate   *time.Time        `json:"certificate_date"`
	VarianceNotes     *string           `json:"variance_notes"`
}

func (d Draft) validate() error {
	nonNegative := []struct {
		field string
		v     *decimal.Decimal
	}{
		{"wingold_buy_rate", d.BuyRate},
		{"wingold_cost_usd", d.CostUSD},
		{"physical_gold_allocated_g", d.AllocatedG},
	}
	for _, n := range nonNegative {
		if n.v != nil && n.v.IsNegative() {
			return &domain.ValidationError{Field: n.field, Message: "must not be negative"}
		}
	}
	if d.Bars != nil {
		return domain.ValidateBars(*d.Bars)
	}
	return nil
}

// apply copies the present fields onto t and reports whether bars changed
func (d Draft) apply(t *domain.TallyTransaction) bool {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&t.WingoldOrderID, d.OrderID)
	setString(&t.WingoldSupplierInvoiceID, d.SupplierInvoiceID)
	setString(&t.VaultLocation, d.VaultLocation)
	setString(&t.StorageCertificateID, d.CertificateID)
	setString(&t.CertificateFileURL, d.CertificateURL)
	setString(&t.VarianceNotes, d.VarianceNotes)
	if d.BuyRate != nil {
		t.WingoldBuyRate = *d.BuyRate
	}
	if d.CostUSD != nil {
		t.WingoldCostUSD = *d.CostUSD
	}
	if d.AllocatedG != nil {
		t.PhysicalGoldAllocatedG = *d.AllocatedG
	}
	if d.CertificateDate != nil {
		date := d.CertificateDate.UTC()
		t.CertificateDate = &date
	}
	if d.Bars == nil {
		return false
	}
	next := make([]domain.GoldBar, len(*d.Bars))
	for i, b := range *d.Bars {
		next[i] = domain.GoldBar{Serial: strings.TrimSpace(b.Serial), WeightG: b.WeightG, Purity: b.Purity, Notes: b.Notes}
	}
	changed := !sameBars(t.Bars, next)
	t.Bars = next
	return changed
}

// SaveWingoldDraft records sourcing, allocation and certificate data while the
// tally is between PAYMENT_CONFIRMED and CERT_RECEIVED. Saving the same draft
// twice leaves the tally as it was after the first save.
func (s *Service) SaveWingoldDraft(ctx context.Context, id uuid.UUID, d Draft, actor string) (*domain.TallyTransaction, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	t, err := s.store.GetTally(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Status.InDraftWindow() {
		return nil, fmt.Errorf("%w: drafts are closed for %s tallies", domain.ErrInvalidTransition, t.Status)
	}

	next := t.Clone()
	barsChanged := d.apply(next)
	if err := clearedField(t.Status, next); err != nil {
		return nil, err
	}
	next.Status = advance(t.Status, targetStatus(next))
	if !barsChanged && sameDraftFields(t, next) {
		return t, nil // Nothing to write
	}

	expected := t.Version
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if barsChanged {
			if err := tx.ReplaceBars(ctx, id, next.Bars); err != nil {
				return err
			}
		}
		if err := tx.UpdateTally(ctx, next, expected); err != nil {
			return err
		}
		if next.Status != t.Status {
			return tx.AppendTallyEvent(ctx, &domain.TallyEvent{TallyID: id, From: t.Status, To: next.Status, Actor: actor, Note: "wingold draft saved"})
		}
		return nil
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"tally_id": id, "error": err}).Error("failed to save wingold draft")
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"tally_id": id, "status": next.Status, "allocated_g": next.PhysicalGoldAllocatedG.String(), "bars": len(next.Bars),
	}).Info("wingold draft saved")
	return s.store.GetTally(ctx, id)
}

func sameBars(a, b []domain.GoldBar) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Serial != b[i].Serial || !a[i].WeightG.Equal(b[i].WeightG) || !a[i].Purity.Equal(b[i].Purity) || a[i].Notes != b[i].Notes {
			return false
		}
	}
	return true
}

func sameDraftFields(a, b *domain.TallyTransaction) bool {
	sameTime := func(x, y *time.Time) bool {
		if x == nil || y == nil {
			return x == y
		}
		return x.Equal(*y)
	}
	return a.Status == b.Status &&
		a.WingoldOrderID == b.WingoldOrderID &&
		a.WingoldSupplierInvoiceID == b.WingoldSupplierInvoiceID &&
		a.VaultLocation == b.VaultLocation &&
		a.StorageCertificateID == b.StorageCertificateID &&
		a.CertificateFileURL == b.CertificateFileURL &&
		a.VarianceNotes == b.VarianceNotes &&
		a.WingoldBuyRate.Equal(b.WingoldBuyRate) &&
		a.WingoldCostUSD.Equal(b.WingoldCostUSD) &&
		a.PhysicalGoldAllocatedG.Equal(b.PhysicalGoldAllocatedG) &&
		sameTime(a.CertificateDate, b.CertificateDate)
}
