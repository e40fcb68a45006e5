package repository

import (
	"context"
	"errors"
	"fmt"

	"gold_tally/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on a *gorm.DB (MySQL in production)
type GormStore struct {
	db   *gorm.DB
	inTx bool
}

// NewGormStore wraps db
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// translate maps gorm errors onto engine sentinels
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return err
}

// Transaction runs fn inside db.Transaction; nested calls reuse the open transaction
func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, inTx: true})
	})
}

func (s *GormStore) CreateTally(ctx context.Context, t *domain.TallyTransaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Version == 0 {
		t.Version = 1 // Column default is not read back
	}
	return translate(s.db.WithContext(ctx).Create(t).Error) // Bars are created with the tally
}

func (s *GormStore) GetTally(ctx context.Context, id uuid.UUID) (*domain.TallyTransaction, error) {
	var t domain.TallyTransaction
	err := s.db.WithContext(ctx).
		Preload("Bars", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") }).
		Where("id = ?", id).
		First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *GormStore) UpdateTally(ctx context.Context, t *domain.TallyTransaction, expectedVersion int64) error {
	t.Version = expectedVersion + 1
	res := s.db.WithContext(ctx).
		Model(&domain.TallyTransaction{}).
		Where("id = ? AND version = ?", t.ID, expectedVersion).
		Select("*").
		Omit("id", "created_at", clause.Associations).
		Updates(t)
	if res.Error != nil {
		t.Version = expectedVersion
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		t.Version = expectedVersion
		return fmt.Errorf("%w: tally %s is no longer at version %d", domain.ErrConflict, t.ID, expectedVersion)
	}
	return nil
}

func (s *GormStore) ReplaceBars(ctx context.Context, tallyID uuid.UUID, bars []domain.GoldBar) error {
	db := s.db.WithContext(ctx)
	if err := db.Where("tally_id = ?", tallyID).Delete(&domain.GoldBar{}).Error; err != nil {
		return translate(err)
	}
	if len(bars) == 0 {
		return nil
	}
	rows := make([]domain.GoldBar, len(bars))
	for i, b := range bars {
		b.ID = 0 // Fresh rows on every replace
		b.TallyID = tallyID
		rows[i] = b
	}
	return translate(db.Create(&rows).Error)
}

func (s *GormStore) ListTallies(ctx context.Context, f TallyFilter) ([]domain.TallyTransaction, int64, error) {
	query := s.db.WithContext(ctx).Model(&domain.TallyTransaction{})
	if f.UserID != 0 {
		query = query.Where("user_id = ?", f.UserID) // Filter by user
	}
	if len(f.Statuses) > 0 {
		query = query.Where("status IN ?", f.Statuses) // Filter by status
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}
	offset, limit := Bounds(f.Page, f.PageSize, f.Unpaged)
	var out []domain.TallyTransaction
	err := query.Preload("Bars").Order("created_at desc").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, translate(err)
}

func (s *GormStore) AppendTallyEvent(ctx context.Context, e *domain.TallyEvent) error {
	return translate(s.db.WithContext(ctx).Create(e).Error)
}

func (s *GormStore) ListTallyEvents(ctx context.Context, tallyID uuid.UUID) ([]domain.TallyEvent, error) {
	var out []domain.TallyEvent
	err := s.db.WithContext(ctx).Where("tally_id = ?", tallyID).Order("id asc").Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) GetWallet(ctx context.Context, userID uint, typ domain.WalletType) (*domain.GoldWallet, error) {
	var w domain.GoldWallet
	if err := s.db.WithContext(ctx).Where("user_id = ? AND type = ?", userID, typ).First(&w).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

func (s *GormStore) SaveWallet(ctx context.Context, w *domain.GoldWallet) error {
	db := s.db.WithContext(ctx)
	if w.ID == 0 {
		w.Version = 1
		return translate(db.Create(w).Error)
	}
	res := db.Model(&domain.GoldWallet{}).
		Where("id = ? AND version = ?", w.ID, w.Version).
		Updates(map[string]any{
			"balance_g":        w.BalanceG,
			"reserved_g":       w.ReservedG,
			"locked_value_usd": w.LockedValueUSD,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: wallet %d changed concurrently", domain.ErrConflict, w.ID)
	}
	w.Version++
	return nil
}

func (s *GormStore) ListWallets(ctx context.Context, f WalletFilter) ([]domain.GoldWallet, error) {
	query := s.db.WithContext(ctx).Model(&domain.GoldWallet{})
	if f.UserID != 0 {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	var out []domain.GoldWallet
	err := query.Order("id asc").Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) CreateVault(ctx context.Context, v *domain.VaultLocation) error {
	return translate(s.db.WithContext(ctx).Create(v).Error)
}

func (s *GormStore) GetVault(ctx context.Context, name string) (*domain.VaultLocation, error) {
	var v domain.VaultLocation
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&v).Error; err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

func (s *GormStore) SaveVault(ctx context.Context, v *domain.VaultLocation) error {
	return translate(s.db.WithContext(ctx).Save(v).Error)
}

func (s *GormStore) ListVaults(ctx context.Context) ([]domain.VaultLocation, error) {
	var out []domain.VaultLocation
	err := s.db.WithContext(ctx).Order("name asc").Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) AddCustodyBars(ctx context.Context, bars []domain.CustodyBar) error {
	if len(bars) == 0 {
		return nil
	}
	return translate(s.db.WithContext(ctx).Create(&bars).Error) // Unique (vault, serial) index rejects duplicates
}

func (s *GormStore) ListCustodyBars(ctx context.Context, vault string) ([]domain.CustodyBar, error) {
	query := s.db.WithContext(ctx).Model(&domain.CustodyBar{})
	if vault != "" {
		query = query.Where("vault_location = ?", vault)
	}
	var out []domain.CustodyBar
	err := query.Order("id asc").Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) AppendProfit(ctx context.Context, p *domain.ProfitEntry) error {
	return translate(s.db.WithContext(ctx).Create(p).Error)
}

func (s *GormStore) ListProfit(ctx context.Context) ([]domain.ProfitEntry, error) {
	var out []domain.ProfitEntry
	err := s.db.WithContext(ctx).Order("id asc").Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) LastCashEntry(ctx context.Context) (*domain.CashLedgerEntry, error) {
	query := s.db.WithContext(ctx)
	if s.inTx {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"}) // SELECT ... FOR UPDATE on the tail
	}
	var e domain.CashLedgerEntry
	err := query.Order("seq desc").Limit(1).Find(&e).Error
	if err != nil {
		return nil, translate(err)
	}
	if e.Seq == 0 {
		return nil, nil // Empty ledger
	}
	return &e, nil
}

func (s *GormStore) AppendCashEntry(ctx context.Context, e *domain.CashLedgerEntry) error {
	return translate(s.db.WithContext(ctx).Create(e).Error)
}

func (s *GormStore) ListCashEntries(ctx context.Context) ([]domain.CashLedgerEntry, error) {
	var out []domain.CashLedgerEntry
	err := s.db.WithContext(ctx).Order("seq asc").Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) CreateConversion(ctx context.Context, c *domain.ConversionRequest) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return translate(s.db.WithContext(ctx).Create(c).Error)
}

func (s *GormStore) GetConversion(ctx context.Context, id uuid.UUID) (*domain.ConversionRequest, error) {
	var c domain.ConversionRequest
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *GormStore) UpdateConversion(ctx context.Context, c *domain.ConversionRequest, from domain.ConversionStatus) error {
	res := s.db.WithContext(ctx).
		Model(&domain.ConversionRequest{}).
		Where("id = ? AND status = ?", c.ID, from).
		Updates(map[string]any{
			"status":           c.Status,
			"reviewed_by":      c.ReviewedBy,
			"admin_notes":      c.AdminNotes,
			"rejection_reason": c.RejectionReason,
			"reviewed_at":      c.ReviewedAt,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: conversion %s is no longer %s", domain.ErrConflict, c.ID, from)
	}
	return nil
}

func (s *GormStore) ListConversions(ctx context.Context, f ConversionFilter) ([]domain.ConversionRequest, int64, error) {
	query := s.db.WithContext(ctx).Model(&domain.ConversionRequest{})
	if f.UserID != 0 {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}
	offset, limit := Bounds(f.Page, f.PageSize, f.Unpaged)
	var out []domain.ConversionRequest
	err := query.Order("created_at desc").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, translate(err)
}

var _ Store = (*GormStore)(nil)
