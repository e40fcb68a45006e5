// Package pricing turns a pending payment and a gold rate into fees, grams
// and deposit economics. Everything here is a pure function of its inputs so
// projection previews and committed approvals always agree.
package pricing

import (
	"fmt"

	"gold_tally/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	gramPlaces = 4 // Grams are quoted to 0.1 mg
	usdPlaces  = 2 // Cents
)

var (
	// DefaultFeeRate is the platform fee on cash deposits (0.5%)
	DefaultFeeRate = decimal.RequireFromString("0.005")
	// DefaultTolerance is the allowed allocation variance before notes are required (1%)
	DefaultTolerance = decimal.RequireFromString("0.01")
)

// Quote is the priced view of a pending payment
type Quote struct {
	Method          domain.DepositMethod `json:"method"`
	DepositAmount   decimal.Decimal      `json:"deposit_amount"`
	FeeRate         decimal.Decimal      `json:"fee_rate"`
	FeeAmount       decimal.Decimal      `json:"fee_amount"`
	NetAmount       decimal.Decimal      `json:"net_amount"`
	GoldRate        decimal.Decimal      `json:"gold_rate"`
	GoldEquivalentG decimal.Decimal      `json:"gold_equivalent_g"`
}

// Economics is the sourcing cost and profit of a deposit
type Economics struct {
	WingoldBuyRate decimal.Decimal `json:"wingold_buy_rate"`
	WingoldCostUSD decimal.Decimal `json:"wingold_cost_usd"`
	TotalCostsUSD  decimal.Decimal `json:"total_costs_usd"`
	NetProfitUSD   decimal.Decimal `json:"net_profit_usd"`
}

// Calculator holds the configured fee rate and variance tolerance
type Calculator struct {
	FeeRate   decimal.Decimal
	Tolerance decimal.Decimal
}

// NewCalculator returns a calculator, falling back to defaults for a negative fee rate or non-positive tolerance
func NewCalculator(feeRate, tolerance decimal.Decimal) Calculator {
	if feeRate.IsNegative() {
		feeRate = DefaultFeeRate
	}
	if !tolerance.IsPositive() {
		tolerance = DefaultTolerance
	}
	return Calculator{FeeRate: feeRate, Tolerance: tolerance}
}

// Quote prices a payment at rate USD per gram.
// Cash: fee = amount x feeRate, net = amount - fee, grams = net / rate.
// Bullion: grams come from inspection, no fee and no rate conversion.
func (c Calculator) Quote(p domain.PendingPayment, rate decimal.Decimal) (Quote, error) {
	if p == nil {
		return Quote{}, &domain.ValidationError{Field: "payment", Message: "is required"}
	}
	q := Quote{Method: p.Method(), GoldRate: rate, FeeRate: decimal.Zero, FeeAmount: decimal.Zero, NetAmount: decimal.Zero}
	switch pay := p.(type) {
	case domain.VaultGoldDeposit:
		if !pay.InspectedGrams.IsPositive() {
			return Quote{}, &domain.ValidationError{Field: "inspected_gold_g", Message: "must be greater than zero"}
		}
		q.DepositAmount = decimal.Zero
		q.GoldEquivalentG = pay.InspectedGrams
		return q, nil
	case domain.CashPayment:
		if !pay.Amount.IsPositive() {
			return Quote{}, &domain.ValidationError{Field: "deposit_amount", Message: "must be greater than zero"}
		}
		if !rate.IsPositive() {
			return Quote{}, domain.GoldenRule("gold_rate_value", "must be greater than zero")
		}
		q.DepositAmount = pay.Amount
		q.FeeRate = c.FeeRate
		q.FeeAmount = pay.Amount.Mul(c.FeeRate).Round(usdPlaces)
		q.NetAmount = pay.Amount.Sub(q.FeeAmount)
		q.GoldEquivalentG = q.NetAmount.DivRound(rate, gramPlaces)
		return q, nil
	}
	return Quote{}, fmt.Errorf("%w: unsupported payment %T", domain.ErrValidation, p)
}

// Settle derives sourcing cost and profit. A zero buy rate means the user-facing rate was used.
// NetProfitUSD = fee - total costs - wingold cost, with no rounding after the subtraction.
func Settle(fee, allocatedG, buyRate, userRate decimal.Decimal, costs domain.CostBreakdown) Economics {
	if !buyRate.IsPositive() {
		buyRate = userRate
	}
	wingold := allocatedG.Mul(buyRate).Round(usdPlaces)
	total := costs.Total()
	return Economics{
		WingoldBuyRate: buyRate,
		WingoldCostUSD: wingold,
		TotalCostsUSD:  total,
		NetProfitUSD:   fee.Sub(total).Sub(wingold),
	}
}

// Variance is (allocated - equivalent) / equivalent; zero when nothing is owed
func Variance(allocatedG, equivalentG decimal.Decimal) decimal.Decimal {
	if equivalentG.IsZero() {
		return decimal.Zero
	}
	return allocatedG.Sub(equivalentG).DivRound(equivalentG, 6)
}

// NeedsJustification reports whether |variance| exceeds the tolerance
func (c Calculator) NeedsJustification(variance decimal.Decimal) bool {
	return variance.Abs().GreaterThan(c.Tolerance)
}

// LockedValue is grams times the locked price, in cents
func LockedValue(grams, price decimal.Decimal) decimal.Decimal {
	return grams.Mul(price).Round(usdPlaces)
}
