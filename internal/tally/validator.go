package tally

import (
	"strings"

	"gold_tally/internal/domain"

	"github.com/shopspring/decimal"
)

// goldenRuleViolations lists every missing prerequisite for crediting t at rate.
// No digital credit is finalized without certified physical backing.
func goldenRuleViolations(t *domain.TallyTransaction, rate decimal.Decimal) []*domain.ValidationError {
	out := backingViolations(t)
	if !rate.IsPositive() {
		out = append(out, domain.GoldenRule("gold_rate_value", "must be greater than zero"))
	}
	return out
}

// backingViolations is the rate-independent part of the Golden Rule
func backingViolations(t *domain.TallyTransaction) []*domain.ValidationError {
	var out []*domain.ValidationError
	if strings.TrimSpace(t.StorageCertificateID) == "" {
		out = append(out, domain.GoldenRule("storage_certificate_id", "is required"))
	}
	if !t.PhysicalGoldAllocatedG.IsPositive() {
		out = append(out, domain.GoldenRule("physical_gold_allocated_g", "must be greater than zero"))
	}
	if len(t.Bars) == 0 {
		out = append(out, domain.GoldenRule("bars", "manifest is empty"))
	}
	if strings.TrimSpace(t.VaultLocation) == "" {
		out = append(out, domain.GoldenRule("vault_location", "is required"))
	}
	return out
}

// checkGoldenRule returns the first violation, or nil
func checkGoldenRule(t *domain.TallyTransaction, rate decimal.Decimal) error {
	if v := goldenRuleViolations(t, rate); len(v) > 0 {
		return v[0]
	}
	return nil
}

// targetStatus is the furthest draft status the recorded data supports.
// VAULT_GOLD deposits need no supplier order.
func targetStatus(t *domain.TallyTransaction) domain.TallyStatus {
	ordered := strings.TrimSpace(t.WingoldOrderID) != "" || t.IsPhysical()
	allocated := ordered && t.PhysicalGoldAllocatedG.IsPositive() && len(t.Bars) > 0
	switch {
	case allocated && strings.TrimSpace(t.StorageCertificateID) != "":
		return domain.StatusCertReceived
	case allocated:
		return domain.StatusPhysicalAllocated
	case ordered:
		return domain.StatusPhysicalOrdered
	}
	return domain.StatusPaymentConfirmed
}

// clearedField names the first field whose removal would leave t short of the
// data its current status already depends on, or nil.
func clearedField(current domain.TallyStatus, t *domain.TallyTransaction) error {
	if targetStatus(t).Rank() >= current.Rank() {
		return nil
	}
	field := "storage_certificate_id"
	switch {
	case current.Rank() >= domain.StatusPhysicalOrdered.Rank() && !t.IsPhysical() && strings.TrimSpace(t.WingoldOrderID) == "":
		field = "wingold_order_id"
	case current.Rank() >= domain.StatusPhysicalAllocated.Rank() && !t.PhysicalGoldAllocatedG.IsPositive():
		field = "physical_gold_allocated_g"
	case current.Rank() >= domain.StatusPhysicalAllocated.Rank() && len(t.Bars) == 0:
		field = "bars"
	}
	return &domain.ValidationError{Field: field, Message: "cannot be cleared once the tally is " + string(current)}
}

// advance never moves a tally backwards
func advance(current, target domain.TallyStatus) domain.TallyStatus {
	if target.Rank() > current.Rank() {
		return target
	}
	return current
}
