// Package repository persists the tally, conversion and ledger tables.
package repository

import (
	"context"

	"gold_tally/internal/domain"

	"github.com/google/uuid"
)

// Store is the persistence contract of the engine. Every method participates in
// the surrounding Transaction when called on the tx handed to fn.
type Store interface {
	// Transaction runs fn atomically; any error rolls back every write made through tx
	Transaction(ctx context.Context, fn func(tx Store) error) error

	CreateTally(ctx context.Context, t *domain.TallyTransaction) error
	GetTally(ctx context.Context, id uuid.UUID) (*domain.TallyTransaction, error)
	// UpdateTally writes t if the stored version still equals expectedVersion, else ErrConflict.
	// Bars are not touched; use ReplaceBars.
	UpdateTally(ctx context.Context, t *domain.TallyTransaction, expectedVersion int64) error
	ReplaceBars(ctx context.Context, tallyID uuid.UUID, bars []domain.GoldBar) error
	ListTallies(ctx context.Context, f TallyFilter) ([]domain.TallyTransaction, int64, error)
	AppendTallyEvent(ctx context.Context, e *domain.TallyEvent) error
	ListTallyEvents(ctx context.Context, tallyID uuid.UUID) ([]domain.TallyEvent, error)

	// GetWallet returns ErrNotFound when the user has no wallet of that type yet
	GetWallet(ctx context.Context, userID uint, typ domain.WalletType) (*domain.GoldWallet, error)
	// SaveWallet creates a wallet with ID 0, otherwise updates it if its version is unchanged
	SaveWallet(ctx context.Context, w *domain.GoldWallet) error
	ListWallets(ctx context.Context, f WalletFilter) ([]domain.GoldWallet, error)

	CreateVault(ctx context.Context, v *domain.VaultLocation) error
	GetVault(ctx context.Context, name string) (*domain.VaultLocation, error)
	SaveVault(ctx context.Context, v *domain.VaultLocation) error
	ListVaults(ctx context.Context) ([]domain.VaultLocation, error)
	// AddCustodyBars fails with ErrConflict when a serial is already held in the same vault
	AddCustodyBars(ctx context.Context, bars []domain.CustodyBar) error
	ListCustodyBars(ctx context.Context, vault string) ([]domain.CustodyBar, error)

	AppendProfit(ctx context.Context, p *domain.ProfitEntry) error
	ListProfit(ctx context.Context) ([]domain.ProfitEntry, error)

	// LastCashEntry returns nil, nil on an empty ledger. Inside a transaction it
	// locks the tail so concurrent appends serialize.
	LastCashEntry(ctx context.Context) (*domain.CashLedgerEntry, error)
	AppendCashEntry(ctx context.Context, e *domain.CashLedgerEntry) error
	// ListCashEntries returns the ledger in creation order
	ListCashEntries(ctx context.Context) ([]domain.CashLedgerEntry, error)

	CreateConversion(ctx context.Context, c *domain.ConversionRequest) error
	GetConversion(ctx context.Context, id uuid.UUID) (*domain.ConversionRequest, error)
	// UpdateConversion writes c if its stored status still equals from, else ErrConflict
	UpdateConversion(ctx context.Context, c *domain.ConversionRequest, from domain.ConversionStatus) error
	ListConversions(ctx context.Context, f ConversionFilter) ([]domain.ConversionRequest, int64, error)
}

// TallyFilter narrows ListTallies; zero values match everything
type TallyFilter struct {
	UserID   uint
	Statuses []domain.TallyStatus
	Page     int
	PageSize int
	Unpaged  bool // Return every match, ignoring Page and PageSize
}

// WalletFilter narrows ListWallets
type WalletFilter struct {
	UserID uint
	Type   domain.WalletType
}

// ConversionFilter narrows ListConversions
type ConversionFilter struct {
	UserID   uint
	Status   domain.ConversionStatus
	Page     int
	PageSize int
	Unpaged  bool
}

// Bounds converts page/pageSize into offset/limit with the api defaults (page 1, size 20, max 100).
// Unpaged queries get limit -1.
func Bounds(page, pageSize int, unpaged bool) (offset, limit int) {
	if unpaged {
		return 0, -1
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return (page - 1) * pageSize, pageSize
}
