// Package memory is an in-process repository.Store used by tests and by the
// server when STORE_DRIVER=memory.
//
// Transactions are copy-on-write: a writer works on a private copy of the
// state and swaps it in on commit, so a failed transaction leaves nothing
// behind. Writers are serialized; readers see the last committed state.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gold_tally/internal/domain"
	"gold_tally/internal/repository"

	"github.com/google/uuid"
)

type state struct {
	tallies     map[uuid.UUID]domain.TallyTransaction
	tallyOrder  []uuid.UUID
	events      []domain.TallyEvent
	wallets     map[uint]domain.GoldWallet
	walletByKey map[domain.WalletKey]uint
	vaults      map[string]domain.VaultLocation
	custody     []domain.CustodyBar
	profit      []domain.ProfitEntry
	cash        []domain.CashLedgerEntry
	conversions map[uuid.UUID]domain.ConversionRequest
	convOrder   []uuid.UUID

	nextBarID     uint
	nextEventID   uint
	nextWalletID  uint
	nextVaultID   uint
	nextCustodyID uint
	nextProfitID  uint
	nextCashSeq   uint64
}

func newState() *state {
	return &state{
		tallies:     map[uuid.UUID]domain.TallyTransaction{},
		wallets:     map[uint]domain.GoldWallet{},
		walletByKey: map[domain.WalletKey]uint{},
		vaults:      map[string]domain.VaultLocation{},
		conversions: map[uuid.UUID]domain.ConversionRequest{},
	}
}

// clone copies every container; stored values are never mutated in place
func (s *state) clone() *state {
	c := *s
	c.tallies = make(map[uuid.UUID]domain.TallyTransaction, len(s.tallies))
	for k, v := range s.tallies {
		c.tallies[k] = v
	}
	c.wallets = make(map[uint]domain.GoldWallet, len(s.wallets))
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	c.walletByKey = make(map[domain.WalletKey]uint, len(s.walletByKey))
	for k, v := range s.walletByKey {
		c.walletByKey[k] = v
	}
	c.vaults = make(map[string]domain.VaultLocation, len(s.vaults))
	for k, v := range s.vaults {
		c.vaults[k] = v
	}
	c.conversions = make(map[uuid.UUID]domain.ConversionRequest, len(s.conversions))
	for k, v := range s.conversions {
		c.conversions[k] = v
	}
	c.tallyOrder = append([]uuid.UUID(nil), s.tallyOrder...)
	c.convOrder = append([]uuid.UUID(nil), s.convOrder...)
	c.events = append([]domain.TallyEvent(nil), s.events...)
	c.custody = append([]domain.CustodyBar(nil), s.custody...)
	c.profit = append([]domain.ProfitEntry(nil), s.profit...)
	c.cash = append([]domain.CashLedgerEntry(nil), s.cash...)
	return &c
}

// Store is the in-memory repository.Store
type Store struct {
	writeMu sync.Mutex   // One transaction at a time
	mu      sync.RWMutex // Guards cur
	cur     *state

	faultMu sync.Mutex
	faults  map[string]error

	now func() time.Time
}

// New returns an empty store
func New() *Store {
	return &Store{cur: newState(), faults: map[string]error{}, now: time.Now}
}

// FailNext makes the next call of the named Store method (e.g. "AppendCashEntry")
// return err. Used to exercise rollback paths.
func (s *Store) FailNext(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	err, ok := s.faults[op]
	if !ok {
		return nil
	}
	delete(s.faults, op)
	return err
}

func (s *Store) committed() *tx {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &tx{store: s, st: s.cur, readOnly: true}
}

// Transaction runs fn on a private copy of the state and commits it when fn returns nil
func (s *Store) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	work := &tx{store: s, st: s.cur.clone()}
	s.mu.RUnlock()

	if err := fn(work); err != nil {
		return err // Discard the copy
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cur = work.st
	s.mu.Unlock()
	return nil
}

// write runs a single mutation as its own transaction
func (s *Store) write(ctx context.Context, fn func(t *tx) error) error {
	return s.Transaction(ctx, func(t repository.Store) error { return fn(t.(*tx)) })
}

func (s *Store) CreateTally(ctx context.Context, t *domain.TallyTransaction) error {
	return s.write(ctx, func(x *tx) error { return x.CreateTally(ctx, t) })
}

func (s *Store) GetTally(ctx context.Context, id uuid.UUID) (*domain.TallyTransaction, error) {
	return s.committed().GetTally(ctx, id)
}

func (s *Store) UpdateTally(ctx context.Context, t *domain.TallyTransaction, expectedVersion int64) error {
	return s.write(ctx, func(x *tx) error { return x.UpdateTally(ctx, t, expectedVersion) })
}

func (s *Store) ReplaceBars(ctx context.Context, tallyID uuid.UUID, bars []domain.GoldBar) error {
	return s.write(ctx, func(x *tx) error { return x.ReplaceBars(ctx, tallyID, bars) })
}

func (s *Store) ListTallies(ctx context.Context, f repository.TallyFilter) ([]domain.TallyTransaction, int64, error) {
	return s.committed().ListTallies(ctx, f)
}

func (s *Store) AppendTallyEvent(ctx context.Context, e *domain.TallyEvent) error {
	return s.write(ctx, func(x *tx) error { return x.AppendTallyEvent(ctx, e) })
}

func (s *Store) ListTallyEvents(ctx context.Context, tallyID uuid.UUID) ([]domain.TallyEvent, error) {
	return s.committed().ListTallyEvents(ctx, tallyID)
}

func (s *Store) GetWallet(ctx context.Context, userID uint, typ domain.WalletType) (*domain.GoldWallet, error) {
	return s.committed().GetWallet(ctx, userID, typ)
}

func (s *Store) SaveWallet(ctx context.Context, w *domain.GoldWallet) error {
	return s.write(ctx, func(x *tx) error { return x.SaveWallet(ctx, w) })
}

func (s *Store) ListWallets(ctx context.Context, f repository.WalletFilter) ([]domain.GoldWallet, error) {
	return s.committed().ListWallets(ctx, f)
}

func (s *Store) CreateVault(ctx context.Context, v *domain.VaultLocation) error {
	return s.write(ctx, func(x *tx) error { return x.CreateVault(ctx, v) })
}

func (s *Store) GetVault(ctx context.Context, name string) (*domain.VaultLocation, error) {
	return s.committed().GetVault(ctx, name)
}

func (s *Store) SaveVault(ctx context.Context, v *domain.VaultLocation) error {
	return s.write(ctx, func(x *tx) error { return x.SaveVault(ctx, v) })
}

func (s *Store) ListVaults(ctx context.Context) ([]domain.VaultLocation, error) {
	return s.committed().ListVaults(ctx)
}

func (s *Store) AddCustodyBars(ctx context.Context, bars []domain.CustodyBar) error {
	return s.write(ctx, func(x *tx) error { return x.AddCustodyBars(ctx, bars) })
}

func (s *Store) ListCustodyBars(ctx context.Context, vault string) ([]domain.CustodyBar, error) {
	return s.committed().ListCustodyBars(ctx, vault)
}

func (s *Store) AppendProfit(ctx context.Context, p *domain.ProfitEntry) error {
	return s.write(ctx, func(x *tx) error { return x.AppendProfit(ctx, p) })
}

func (s *Store) ListProfit(ctx context.Context) ([]domain.ProfitEntry, error) {
	return s.committed().ListProfit(ctx)
}

func (s *Store) LastCashEntry(ctx context.Context) (*domain.CashLedgerEntry, error) {
	return s.committed().LastCashEntry(ctx)
}

func (s *Store) AppendCashEntry(ctx context.Context, e *domain.CashLedgerEntry) error {
	return s.write(ctx, func(x *tx) error { return x.AppendCashEntry(ctx, e) })
}

func (s *Store) ListCashEntries(ctx context.Context) ([]domain.CashLedgerEntry, error) {
	return s.committed().ListCashEntries(ctx)
}

func (s *Store) CreateConversion(ctx context.Context, c *domain.ConversionRequest) error {
	return s.write(ctx, func(x *tx) error { return x.CreateConversion(ctx, c) })
}

func (s *Store) GetConversion(ctx context.Context, id uuid.UUID) (*domain.ConversionRequest, error) {
	return s.committed().GetConversion(ctx, id)
}

func (s *Store) UpdateConversion(ctx context.Context, c *domain.ConversionRequest, from domain.ConversionStatus) error {
	return s.write(ctx, func(x *tx) error { return x.UpdateConversion(ctx, c, from) })
}

func (s *Store) ListConversions(ctx context.Context, f repository.ConversionFilter) ([]domain.ConversionRequest, int64, error) {
	return s.committed().ListConversions(ctx, f)
}

// tx operates on one state snapshot. Inside Transaction the snapshot is private.
type tx struct {
	store    *Store
	st       *state
	readOnly bool
}

func (t *tx) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	if t.readOnly {
		return t.store.Transaction(ctx, fn)
	}
	return fn(t) // Nested: join the open transaction
}

func (t *tx) check(op string) error {
	if t.readOnly {
		return fmt.Errorf("memory: %s outside a transaction", op)
	}
	return t.store.fault(op)
}

func (t *tx) CreateTally(_ context.Context, in *domain.TallyTransaction) error {
	if err := t.check("CreateTally"); err != nil {
		return err
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if _, exists := t.st.tallies[in.ID]; exists {
		return fmt.Errorf("%w: tally %s already exists", domain.ErrConflict, in.ID)
	}
	now := t.store.now()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.UpdatedAt = now
	if in.Version == 0 {
		in.Version = 1
	}
	for i := range in.Bars {
		t.st.nextBarID++
		in.Bars[i].ID = t.st.nextBarID
		in.Bars[i].TallyID = in.ID
	}
	t.st.tallies[in.ID] = *in.Clone()
	t.st.tallyOrder = append(t.st.tallyOrder, in.ID)
	return nil
}

func (t *tx) GetTally(_ context.Context, id uuid.UUID) (*domain.TallyTransaction, error) {
	stored, ok := t.st.tallies[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return stored.Clone(), nil
}

func (t *tx) UpdateTally(_ context.Context, in *domain.TallyTransaction, expectedVersion int64) error {
	if err := t.check("UpdateTally"); err != nil {
		return err
	}
	stored, ok := t.st.tallies[in.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("%w: tally %s is no longer at version %d", domain.ErrConflict, in.ID, expectedVersion)
	}
	next := *in.Clone()
	next.Bars = stored.Bars // Bars change through ReplaceBars only
	next.CreatedAt = stored.CreatedAt
	next.UpdatedAt = t.store.now()
	next.Version = expectedVersion + 1
	t.st.tallies[in.ID] = next
	in.Version = next.Version
	in.UpdatedAt = next.UpdatedAt
	return nil
}

func (t *tx) ReplaceBars(_ context.Context, tallyID uuid.UUID, bars []domain.GoldBar) error {
	if err := t.check("ReplaceBars"); err != nil {
		return err
	}
	stored, ok := t.st.tallies[tallyID]
	if !ok {
		return domain.ErrNotFound
	}
	rows := make([]domain.GoldBar, len(bars))
	for i, b := range bars {
		t.st.nextBarID++
		b.ID = t.st.nextBarID
		b.TallyID = tallyID
		rows[i] = b
	}
	stored.Bars = rows
	t.st.tallies[tallyID] = stored
	return nil
}

func (t *tx) ListTallies(_ context.Context, f repository.TallyFilter) ([]domain.TallyTransaction, int64, error) {
	want := make(map[domain.TallyStatus]bool, len(f.Statuses))
	for _, s := range f.Statuses {
		want[s] = true
	}
	var matched []domain.TallyTransaction
	for _, id := range t.st.tallyOrder {
		tt := t.st.tallies[id]
		if f.UserID != 0 && tt.UserID != f.UserID {
			continue
		}
		if len(want) > 0 && !want[tt.Status] {
			continue
		}
		matched = append(matched, *tt.Clone())
	}
	// Newest first, insertion order breaks ties
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return page(matched, f.Page, f.PageSize, f.Unpaged), int64(len(matched)), nil
}

func (t *tx) AppendTallyEvent(_ context.Context, e *domain.TallyEvent) error {
	if err := t.check("AppendTallyEvent"); err != nil {
		return err
	}
	t.st.nextEventID++
	e.ID = t.st.nextEventID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.store.now()
	}
	t.st.events = append(t.st.events, *e)
	return nil
}

func (t *tx) ListTallyEvents(_ context.Context, tallyID uuid.UUID) ([]domain.TallyEvent, error) {
	var out []domain.TallyEvent
	for _, e := range t.st.events {
		if e.TallyID == tallyID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *tx) GetWallet(_ context.Context, userID uint, typ domain.WalletType) (*domain.GoldWallet, error) {
	id, ok := t.st.walletByKey[domain.WalletKey{UserID: userID, Type: typ}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	w := t.st.wallets[id]
	return &w, nil
}

func (t *tx) SaveWallet(_ context.Context, w *domain.GoldWallet) error {
	if err := t.check("SaveWallet"); err != nil {
		return err
	}
	w.UpdatedAt = t.store.now()
	if w.ID == 0 {
		key := domain.WalletKey{UserID: w.UserID, Type: w.Type}
		if _, dup := t.st.walletByKey[key]; dup {
			return fmt.Errorf("%w: user %d already has a %s wallet", domain.ErrConflict, w.UserID, w.Type)
		}
		t.st.nextWalletID++
		w.ID = t.st.nextWalletID
		w.Version = 1
		t.st.wallets[w.ID] = *w
		t.st.walletByKey[key] = w.ID
		return nil
	}
	stored, ok := t.st.wallets[w.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != w.Version {
		return fmt.Errorf("%w: wallet %d changed concurrently", domain.ErrConflict, w.ID)
	}
	w.Version++
	t.st.wallets[w.ID] = *w
	return nil
}

func (t *tx) ListWallets(_ context.Context, f repository.WalletFilter) ([]domain.GoldWallet, error) {
	var out []domain.GoldWallet
	for _, w := range t.st.wallets {
		if f.UserID != 0 && w.UserID != f.UserID {
			continue
		}
		if f.Type != "" && w.Type != f.Type {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) CreateVault(_ context.Context, v *domain.VaultLocation) error {
	if err := t.check("CreateVault"); err != nil {
		return err
	}
	if _, dup := t.st.vaults[v.Name]; dup {
		return fmt.Errorf("%w: vault %q already exists", domain.ErrConflict, v.Name)
	}
	now := t.store.now()
	t.st.nextVaultID++
	v.ID = t.st.nextVaultID
	v.CreatedAt, v.UpdatedAt = now, now
	t.st.vaults[v.Name] = *v
	return nil
}

func (t *tx) GetVault(_ context.Context, name string) (*domain.VaultLocation, error) {
	v, ok := t.st.vaults[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &v, nil
}

func (t *tx) SaveVault(ctx context.Context, v *domain.VaultLocation) error {
	if v.ID == 0 {
		return t.CreateVault(ctx, v)
	}
	if err := t.check("SaveVault"); err != nil {
		return err
	}
	for name, stored := range t.st.vaults {
		if stored.ID == v.ID {
			delete(t.st.vaults, name)
			break
		}
	}
	v.UpdatedAt = t.store.now()
	t.st.vaults[v.Name] = *v
	return nil
}

func (t *tx) ListVaults(_ context.Context) ([]domain.VaultLocation, error) {
	out := make([]domain.VaultLocation, 0, len(t.st.vaults))
	for _, v := range t.st.vaults {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *tx) AddCustodyBars(_ context.Context, bars []domain.CustodyBar) error {
	if err := t.check("AddCustodyBars"); err != nil {
		return err
	}
	held := make(map[[2]string]bool, len(t.st.custody))
	for _, b := range t.st.custody {
		held[[2]string{b.VaultLocation, b.Serial}] = true
	}
	now := t.store.now()
	for i := range bars {
		key := [2]string{bars[i].VaultLocation, bars[i].Serial}
		if held[key] {
			return fmt.Errorf("%w: bar %s is already held in %s", domain.ErrConflict, bars[i].Serial, bars[i].VaultLocation)
		}
		held[key] = true
		t.st.nextCustodyID++
		bars[i].ID = t.st.nextCustodyID
		bars[i].CreatedAt = now
		t.st.custody = append(t.st.custody, bars[i])
	}
	return nil
}

func (t *tx) ListCustodyBars(_ context.Context, vault string) ([]domain.CustodyBar, error) {
	var out []domain.CustodyBar
	for _, b := range t.st.custody {
		if vault == "" || b.VaultLocation == vault {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *tx) AppendProfit(_ context.Context, p *domain.ProfitEntry) error {
	if err := t.check("AppendProfit"); err != nil {
		return err
	}
	for _, existing := range t.st.profit {
		if existing.TallyID == p.TallyID {
			return fmt.Errorf("%w: profit already recorded for tally %s", domain.ErrConflict, p.TallyID)
		}
	}
	t.st.nextProfitID++
	p.ID = t.st.nextProfitID
	p.CreatedAt = t.store.now()
	t.st.profit = append(t.st.profit, *p)
	return nil
}

func (t *tx) ListProfit(_ context.Context) ([]domain.ProfitEntry, error) {
	return append([]domain.ProfitEntry(nil), t.st.profit...), nil
}

func (t *tx) LastCashEntry(_ context.Context) (*domain.CashLedgerEntry, error) {
	if len(t.st.cash) == 0 {
		return nil, nil
	}
	e := t.st.cash[len(t.st.cash)-1]
	return &e, nil
}

func (t *tx) AppendCashEntry(_ context.Context, e *domain.CashLedgerEntry) error {
	if err := t.check("AppendCashEntry"); err != nil {
		return err
	}
	t.st.nextCashSeq++
	e.Seq = t.st.nextCashSeq
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.store.now()
	}
	t.st.cash = append(t.st.cash, *e)
	return nil
}

func (t *tx) ListCashEntries(_ context.Context) ([]domain.CashLedgerEntry, error) {
	return append([]domain.CashLedgerEntry(nil), t.st.cash...), nil
}

func (t *tx) CreateConversion(_ context.Context, c *domain.ConversionRequest) error {
	if err := t.check("CreateConversion"); err != nil {
		return err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, exists := t.st.conversions[c.ID]; exists {
		return fmt.Errorf("%w: conversion %s already exists", domain.ErrConflict, c.ID)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = t.store.now()
	}
	t.st.conversions[c.ID] = *c
	t.st.convOrder = append(t.st.convOrder, c.ID)
	return nil
}

func (t *tx) GetConversion(_ context.Context, id uuid.UUID) (*domain.ConversionRequest, error) {
	c, ok := t.st.conversions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (t *tx) UpdateConversion(_ context.Context, c *domain.ConversionRequest, from domain.ConversionStatus) error {
	if err := t.check("UpdateConversion"); err != nil {
		return err
	}
	stored, ok := t.st.conversions[c.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Status != from {
		return fmt.Errorf("%w: conversion %s is no longer %s", domain.ErrConflict, c.ID, from)
	}
	stored.Status = c.Status
	stored.ReviewedBy = c.ReviewedBy
	stored.AdminNotes = c.AdminNotes
	stored.RejectionReason = c.RejectionReason
	stored.ReviewedAt = c.ReviewedAt
	t.st.conversions[c.ID] = stored
	return nil
}

func (t *tx) ListConversions(_ context.Context, f repository.ConversionFilter) ([]domain.ConversionRequest, int64, error) {
	var matched []domain.ConversionRequest
	for _, id := range t.st.convOrder {
		c := t.st.conversions[id]
		if f.UserID != 0 && c.UserID != f.UserID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		matched = append(matched, c)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return page(matched, f.Page, f.PageSize, f.Unpaged), int64(len(matched)), nil
}

func page[T any](rows []T, p, size int, unpaged bool) []T {
	offset, limit := repository.Bounds(p, size, unpaged)
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

var (
	_ repository.Store = (*Store)(nil)
	_ repository.Store = (*tx)(nil)
)
