package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TallyStatus is the lifecycle state of a tally transaction
type TallyStatus string

const (
	StatusPendingPayment    TallyStatus = "PENDING_PAYMENT"
	StatusPaymentConfirmed  TallyStatus = "PAYMENT_CONFIRMED"
	StatusPhysicalOrdered   TallyStatus = "PHYSICAL_ORDERED"
	StatusPhysicalAllocated TallyStatus = "PHYSICAL_ALLOCATED"
	StatusCertReceived      TallyStatus = "CERT_RECEIVED"
	StatusCredited          TallyStatus = "CREDITED"
	StatusCompleted         TallyStatus = "COMPLETED"
	StatusRejected          TallyStatus = "REJECTED"
	StatusCancelled         TallyStatus = "CANCELLED"
)

// statusRank orders the happy path; escape states have no rank
var statusRank = map[TallyStatus]int{
	StatusPendingPayment:    1,
	StatusPaymentConfirmed:  2,
	StatusPhysicalOrdered:   3,
	StatusPhysicalAllocated: 4,
	StatusCertReceived:      5,
	StatusCredited:          6,
	StatusCompleted:         7,
}

// Rank returns the position of the status on the happy path (0 for REJECTED/CANCELLED)
func (s TallyStatus) Rank() int {
	return statusRank[s]
}

// Valid reports whether s is one of the nine known states
func (s TallyStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusRejected || s == StatusCancelled
}

// Terminal reports whether no further transition is possible
func (s TallyStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// Credited reports whether the wallet has already been credited for this status
func (s TallyStatus) Credited() bool {
	return s == StatusCredited || s == StatusCompleted
}

// Escapable reports whether REJECTED or CANCELLED may still be reached
func (s TallyStatus) Escapable() bool {
	return !s.Terminal() && !s.Credited()
}

// InDraftWindow reports whether wingold form drafts may be saved in this status
func (s TallyStatus) InDraftWindow() bool {
	r := s.Rank()
	return r >= StatusPaymentConfirmed.Rank() && r <= StatusCertReceived.Rank()
}

// WalletType identifies the two gold balances
type WalletType string

const (
	WalletLGPW WalletType = "LGPW" // Market-price wallet, backed by physical custody
	WalletFGPW WalletType = "FGPW" // Fixed-price wallet, backed by the cash-safety account
)

// Valid reports whether w is a known wallet type
func (w WalletType) Valid() bool {
	return w == WalletLGPW || w == WalletFGPW
}

// PricingMode says where the gold rate of an approval came from
type PricingMode string

const (
	PricingLive   PricingMode = "LIVE"   // Rate captured from the price feed
	PricingManual PricingMode = "MANUAL" // Rate entered by the admin
)

// Valid reports whether m is a known pricing mode
func (m PricingMode) Valid() bool {
	return m == PricingLive || m == PricingManual
}

// TallyTransaction tracks one deposit from payment through physical backing to wallet credit
type TallyTransaction struct {
	ID              uuid.UUID       `gorm:"type:char(36);primaryKey" json:"id"`                      // Primary key
	UserID          uint            `gorm:"index;not null" json:"user_id"`                           // Owner of the credited wallet
	WalletType      WalletType      `gorm:"size:8;not null" json:"wallet_type"`                      // LGPW or FGPW
	DepositMethod   DepositMethod   `gorm:"size:16;not null" json:"deposit_method"`                  // CARD, BANK, CRYPTO, VAULT_GOLD
	DepositAmount   decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"deposit_amount"`
	DepositCurrency string          `gorm:"size:8" json:"deposit_currency"`
	InspectedGoldG  decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"inspected_gold_g"` // Physical deposits only
	PaymentRef      string          `gorm:"size:128" json:"payment_reference"`

	FeeRate         decimal.Decimal `gorm:"type:decimal(12,6);not null;default:0" json:"fee_rate"`
	FeeAmount       decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"fee_amount"`
	NetAmount       decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"net_amount"`
	PricingMode     PricingMode     `gorm:"size:8" json:"pricing_mode"`
	GoldRateValue   decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"gold_rate_value"`   // USD per gram
	GoldEquivalentG decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"gold_equivalent_g"` // Grams owed to the user

	PhysicalGoldAllocatedG decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"physical_gold_allocated_g"`
	AllocationVariance     decimal.Decimal `gorm:"type:decimal(12,6);not null;default:0" json:"allocation_variance"`
	VarianceNotes          string          `gorm:"type:text" json:"variance_notes,omitempty"`
	Bars                   []GoldBar       `gorm:"foreignKey:TallyID;references:ID" json:"bars,omitempty"`

	WingoldOrderID           string          `gorm:"size:64" json:"wingold_order_id,omitempty"`
	WingoldSupplierInvoiceID string          `gorm:"size:64" json:"wingold_supplier_invoice_id,omitempty"`
	WingoldBuyRate           decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"wingold_buy_rate"`
	WingoldCostUSD           decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"wingold_cost_usd"`
	VaultLocation            string          `gorm:"size:64" json:"vault_location,omitempty"`
	StorageCertificateID     string          `gorm:"size:64;index" json:"storage_certificate_id,omitempty"`
	CertificateFileURL       string          `gorm:"size:512" json:"certificate_file_url,omitempty"`
	CertificateDate          *time.Time      `json:"certificate_date,omitempty"`

	GatewayCostUSD decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"gateway_cost_usd"`
	BankCostUSD    decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"bank_cost_usd"`
	NetworkCostUSD decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"network_cost_usd"`
	OpsCostUSD     decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"ops_cost_usd"`
	TotalCostsUSD  decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"total_costs_usd"`
	NetProfitUSD   decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"net_profit_usd"`

	Status          TallyStatus `gorm:"size:24;index;not null" json:"status"`
	RejectionReason string      `gorm:"type:text" json:"rejection_reason,omitempty"`
	ApprovedBy      string      `gorm:"size:64" json:"approved_by,omitempty"`
	Version         int64       `gorm:"not null;default:1" json:"version"` // Optimistic lock

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName pins the table name
func (TallyTransaction) TableName() string {
	return "tally_transactions"
}

// IsPhysical reports whether the deposit was bullion rather than cash
func (t *TallyTransaction) IsPhysical() bool {
	return t.DepositMethod == MethodVaultGold
}

// Costs returns the stored cost breakdown
func (t *TallyTransaction) Costs() CostBreakdown {
	return CostBreakdown{
		GatewayUSD: t.GatewayCostUSD,
		BankUSD:    t.BankCostUSD,
		NetworkUSD: t.NetworkCostUSD,
		OpsUSD:     t.OpsCostUSD,
	}
}

// SetCosts stores a cost breakdown and its total
func (t *TallyTransaction) SetCosts(c CostBreakdown) {
	t.GatewayCostUSD = c.GatewayUSD
	t.BankCostUSD = c.BankUSD
	t.NetworkCostUSD = c.NetworkUSD
	t.OpsCostUSD = c.OpsUSD
	t.TotalCostsUSD = c.Total()
}

// BarsWeightG sums the manifest weights
func (t *TallyTransaction) BarsWeightG() decimal.Decimal {
	total := decimal.Zero
	for _, b := range t.Bars {
		total = total.Add(b.WeightG)
	}
	return total
}

// Clone returns a deep copy so callers can mutate without touching stored state
func (t *TallyTransaction) Clone() *TallyTransaction {
	c := *t
	c.Bars = append([]GoldBar(nil), t.Bars...)
	return &c
}

// GoldBar is one bar of a tally's physical allocation
type GoldBar struct {
	ID      uint            `gorm:"primaryKey" json:"-"`
	TallyID uuid.UUID       `gorm:"type:char(36);index;not null" json:"-"`
	Serial  string          `gorm:"size:64;not null" json:"serial" validate:"required,max=64"`
	WeightG decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"weight_g" validate:"gt=0"`
	Purity  decimal.Decimal `gorm:"type:decimal(8,2);not null" json:"purity" validate:"gt=0,lte=1000"` // Per mille, e.g. 999.9
	Notes   string          `gorm:"type:text" json:"notes,omitempty"`
}

// TableName pins the table name
func (GoldBar) TableName() string {
	return "tally_gold_bars"
}

// TallyEvent is an append-only record of a status change
type TallyEvent struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	TallyID   uuid.UUID   `gorm:"type:char(36);index;not null" json:"tally_id"`
	From      TallyStatus `gorm:"size:24" json:"from"`
	To        TallyStatus `gorm:"size:24;not null" json:"to"`
	Actor     string      `gorm:"size:64" json:"actor,omitempty"`
	Note      string      `gorm:"type:text" json:"note,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// TableName pins the table name
func (TallyEvent) TableName() string {
	return "tally_events"
}

// CostBreakdown holds the per-deposit operating costs in USD
type CostBreakdown struct {
	GatewayUSD decimal.Decimal `json:"gateway_usd" validate:"gte=0"`
	BankUSD    decimal.Decimal `json:"bank_usd" validate:"gte=0"`
	NetworkUSD decimal.Decimal `json:"network_usd" validate:"gte=0"`
	OpsUSD     decimal.Decimal `json:"ops_usd" validate:"gte=0"`
}

// Total sums all cost lines
func (c CostBreakdown) Total() decimal.Decimal {
	return c.GatewayUSD.Add(c.BankUSD).Add(c.NetworkUSD).Add(c.OpsUSD)
}
