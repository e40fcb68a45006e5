package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DepositMethod is the closed set of ways value can enter the platform
type DepositMethod string

const (
	MethodCard      DepositMethod = "CARD"
	MethodBank      DepositMethod = "BANK"
	MethodCrypto    DepositMethod = "CRYPTO"
	MethodVaultGold DepositMethod = "VAULT_GOLD" // Physically deposited bullion
)

// Valid reports whether m is a known deposit method
func (m DepositMethod) Valid() bool {
	switch m {
	case MethodCard, MethodBank, MethodCrypto, MethodVaultGold:
		return true
	}
	return false
}

// PendingPayment is a captured payment event waiting to be tallied.
// Implementations are CashPayment and VaultGoldDeposit.
type PendingPayment interface {
	Method() DepositMethod
	// AmountOrGrams is the cash amount for cash methods and inspected grams for bullion
	AmountOrGrams() decimal.Decimal
	Owner() uint
	Wallet() WalletType
	isPendingPayment()
}

// CashPayment covers card, bank wire and crypto deposits
type CashPayment struct {
	Via       DepositMethod   // CARD, BANK or CRYPTO
	UserID    uint            // Depositing user
	Target    WalletType      // Wallet to credit
	Amount    decimal.Decimal // Captured amount
	Currency  string          // ISO code, USD assumed when empty
	Reference string          // Gateway reference, may be empty until confirmation
}

func (p CashPayment) Method() DepositMethod          { return p.Via }
func (p CashPayment) AmountOrGrams() decimal.Decimal { return p.Amount }
func (p CashPayment) Owner() uint                    { return p.UserID }
func (p CashPayment) Wallet() WalletType             { return p.Target }
func (CashPayment) isPendingPayment()                {}

// VaultGoldDeposit is bullion delivered to a vault and inspected there
type VaultGoldDeposit struct {
	UserID         uint            // Depositing user
	Target         WalletType      // Wallet to credit
	InspectedGrams decimal.Decimal // Fine grams accepted by the vault inspection
	VaultLocation  string          // Vault that received the bullion
	Reference      string          // Inspection reference
}

func (p VaultGoldDeposit) Method() DepositMethod          { return MethodVaultGold }
func (p VaultGoldDeposit) AmountOrGrams() decimal.Decimal { return p.InspectedGrams }
func (p VaultGoldDeposit) Owner() uint                    { return p.UserID }
func (p VaultGoldDeposit) Wallet() WalletType             { return p.Target }
func (VaultGoldDeposit) isPendingPayment()                {}

// NewPendingPayment builds the right variant from loosely typed intake fields
func NewPendingPayment(method DepositMethod, userID uint, wallet WalletType, amount decimal.Decimal, currency, vault, reference string) (PendingPayment, error) {
	if userID == 0 {
		return nil, &ValidationError{Field: "user_id", Message: "is required"}
	}
	if !wallet.Valid() {
		return nil, &ValidationError{Field: "wallet_type", Message: fmt.Sprintf("unknown wallet type %q", wallet)}
	}
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	switch method {
	case MethodCard, MethodBank, MethodCrypto:
		if currency == "" {
			currency = "USD"
		}
		return CashPayment{Via: method, UserID: userID, Target: wallet, Amount: amount, Currency: strings.ToUpper(currency), Reference: reference}, nil
	case MethodVaultGold:
		return VaultGoldDeposit{UserID: userID, Target: wallet, InspectedGrams: amount, VaultLocation: vault, Reference: reference}, nil
	}
	return nil, &ValidationError{Field: "deposit_method", Message: fmt.Sprintf("unknown deposit method %q", method)}
}

// PaymentOf rebuilds the pending payment carried by a stored tally
func PaymentOf(t *TallyTransaction) PendingPayment {
	if t.IsPhysical() {
		return VaultGoldDeposit{UserID: t.UserID, Target: t.WalletType, InspectedGrams: t.InspectedGoldG, VaultLocation: t.VaultLocation, Reference: t.PaymentRef}
	}
	return CashPayment{Via: t.DepositMethod, UserID: t.UserID, Target: t.WalletType, Amount: t.DepositAmount, Currency: t.DepositCurrency, Reference: t.PaymentRef}
}
