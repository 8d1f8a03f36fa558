package memory

import (
	"context"
	"sort"
	"sync"

	"token-rollup/internal/domain"
	"token-rollup/internal/storage"
)

// AggregateStore is an in-memory implementation of storage.AggregateStore.
// Writes made inside Atomic are staged and merged only when the callback succeeds.
type AggregateStore struct {
	aggregates

	mu   sync.RWMutex
	data *dataset
}

// NewAggregateStore creates a new in-memory aggregate store.
func NewAggregateStore() *AggregateStore {
	s := &AggregateStore{data: newDataset()}
	s.aggregates = aggregates{v: &view{lock: &s.mu, base: s.data}}
	return s
}

// Atomic runs fn against a staged view. The store is locked for the whole call,
// so fn must only use the view it receives.
func (s *AggregateStore) Atomic(_ context.Context, fn func(tx storage.Aggregates) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stage := newDataset()
	if err := fn(aggregates{v: &view{lock: noopLocker{}, base: s.data, stage: stage}}); err != nil {
		return err
	}

	stage.mergeInto(s.data)
	return nil
}

var _ storage.AggregateStore = (*AggregateStore)(nil)

// dataset holds one copy of every table, keyed by record ID.
type dataset struct {
	tokens         map[string]domain.Token
	accounts       map[string]domain.Account
	balances       map[string]domain.AccountBalance
	transfers      map[string]domain.TransferEvent
	snapshots      map[string]domain.TokenDailySnapshot
	contractEvents map[string]domain.ContractEvent
	cursors        map[string]domain.Cursor
}

func newDataset() *dataset {
	return &dataset{
		tokens:         make(map[string]domain.Token),
		accounts:       make(map[string]domain.Account),
		balances:       make(map[string]domain.AccountBalance),
		transfers:      make(map[string]domain.TransferEvent),
		snapshots:      make(map[string]domain.TokenDailySnapshot),
		contractEvents: make(map[string]domain.ContractEvent),
		cursors:        make(map[string]domain.Cursor),
	}
}

func (d *dataset) mergeInto(dst *dataset) {
	merge(d.tokens, dst.tokens)
	merge(d.accounts, dst.accounts)
	merge(d.balances, dst.balances)
	merge(d.transfers, dst.transfers)
	merge(d.snapshots, dst.snapshots)
	merge(d.contractEvents, dst.contractEvents)
	merge(d.cursors, dst.cursors)
}

func merge[T any](src, dst map[string]T) {
	for k, v := range src {
		dst[k] = v
	}
}

type rwLocker interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

// noopLocker is used by staged views; the owning store already holds its lock.
type noopLocker struct{}

func (noopLocker) Lock()    {}
func (noopLocker) Unlock()  {}
func (noopLocker) RLock()   {}
func (noopLocker) RUnlock() {}

// view reads through stage (if any) to base and writes to stage when present.
type view struct {
	lock  rwLocker
	base  *dataset
	stage *dataset
}

func lookup[T any](v *view, table func(*dataset) map[string]T, key string) (T, bool) {
	v.lock.RLock()
	defer v.lock.RUnlock()

	if v.stage != nil {
		if r, ok := table(v.stage)[key]; ok {
			return r, true
		}
	}
	r, ok := table(v.base)[key]
	return r, ok
}

func put[T any](v *view, table func(*dataset) map[string]T, key string, r T) {
	v.lock.Lock()
	defer v.lock.Unlock()

	target := v.base
	if v.stage != nil {
		target = v.stage
	}
	table(target)[key] = r
}

func scan[T any](v *view, table func(*dataset) map[string]T, keep func(T) bool) []T {
	v.lock.RLock()
	defer v.lock.RUnlock()

	merged := make(map[string]T, len(table(v.base)))
	merge(table(v.base), merged)
	if v.stage != nil {
		merge(table(v.stage), merged)
	}

	out := make([]T, 0, len(merged))
	for _, r := range merged {
		if keep == nil || keep(r) {
			out = append(out, r)
		}
	}
	return out
}

type aggregates struct {
	v *view
}

func (a aggregates) Tokens() storage.TokenStore                 { return tokenStore(a) }
func (a aggregates) Accounts() storage.AccountStore             { return accountStore(a) }
func (a aggregates) Balances() storage.BalanceStore             { return balanceStore(a) }
func (a aggregates) Transfers() storage.TransferStore           { return transferStore(a) }
func (a aggregates) Snapshots() storage.SnapshotStore           { return snapshotStore(a) }
func (a aggregates) ContractEvents() storage.ContractEventStore { return contractEventStore(a) }
func (a aggregates) Cursors() storage.CursorStore               { return cursorStore(a) }

func tokensTable(d *dataset) map[string]domain.Token                { return d.tokens }
func accountsTable(d *dataset) map[string]domain.Account            { return d.accounts }
func balancesTable(d *dataset) map[string]domain.AccountBalance     { return d.balances }
func transfersTable(d *dataset) map[string]domain.TransferEvent     { return d.transfers }
func snapshotsTable(d *dataset) map[string]domain.TokenDailySnapshot { return d.snapshots }
func contractEventsTable(d *dataset) map[string]domain.ContractEvent { return d.contractEvents }
func cursorsTable(d *dataset) map[string]domain.Cursor              { return d.cursors }

type tokenStore aggregates

// Get retrieves a token by address. Returns ErrNotFound if not exists.
func (s tokenStore) Get(_ context.Context, address string) (*domain.Token, error) {
	t, ok := lookup(s.v, tokensTable, address)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &t, nil
}

// Upsert creates or overwrites the token.
func (s tokenStore) Upsert(_ context.Context, t *domain.Token) error {
	if t == nil || t.Address == "" {
		return storage.ErrInvalidInput
	}
	put(s.v, tokensTable, t.Address, *t)
	return nil
}

// List retrieves all tokens ordered by address ASC.
func (s tokenStore) List(_ context.Context) ([]*domain.Token, error) {
	rows := scan(s.v, tokensTable, nil)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Address < rows[j].Address })
	return pointers(rows), nil
}

type accountStore aggregates

// Get retrieves an account by address. Returns ErrNotFound if not exists.
func (s accountStore) Get(_ context.Context, address string) (*domain.Account, error) {
	a, ok := lookup(s.v, accountsTable, address)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &a, nil
}

// Upsert creates the account.
func (s accountStore) Upsert(_ context.Context, a *domain.Account) error {
	if a == nil || a.Address == "" {
		return storage.ErrInvalidInput
	}
	put(s.v, accountsTable, a.Address, *a)
	return nil
}

type balanceStore aggregates

// Get retrieves a balance by ID. Returns ErrNotFound if not exists.
func (s balanceStore) Get(_ context.Context, id string) (*domain.AccountBalance, error) {
	b, ok := lookup(s.v, balancesTable, id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &b, nil
}

// Upsert creates or overwrites the balance.
func (s balanceStore) Upsert(_ context.Context, b *domain.AccountBalance) error {
	if b == nil || b.ID == "" {
		return storage.ErrInvalidInput
	}
	put(s.v, balancesTable, b.ID, *b)
	return nil
}

// ListByToken retrieves all balances of a token ordered by account ASC.
func (s balanceStore) ListByToken(_ context.Context, token string) ([]*domain.AccountBalance, error) {
	rows := scan(s.v, balancesTable, func(b domain.AccountBalance) bool { return b.Token == token })
	sort.Slice(rows, func(i, j int) bool { return rows[i].Account < rows[j].Account })
	return pointers(rows), nil
}

type transferStore aggregates

// Get retrieves a transfer record by ID. Returns ErrNotFound if not exists.
func (s transferStore) Get(_ context.Context, id string) (*domain.TransferEvent, error) {
	e, ok := lookup(s.v, transfersTable, id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &e, nil
}

// Upsert creates or overwrites the transfer record.
func (s transferStore) Upsert(_ context.Context, e *domain.TransferEvent) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}
	put(s.v, transfersTable, e.ID, *e)
	return nil
}

// ListOrdered retrieves all records ordered by (block_number ASC, log_index ASC).
func (s transferStore) ListOrdered(_ context.Context) ([]*domain.TransferEvent, error) {
	rows := scan(s.v, transfersTable, nil)
	sort.Slice(rows, func(i, j int) bool {
		pi := domain.Position{BlockNumber: rows[i].BlockNumber, LogIndex: rows[i].LogIndex}
		pj := domain.Position{BlockNumber: rows[j].BlockNumber, LogIndex: rows[j].LogIndex}
		if c := pi.Compare(pj); c != 0 {
			return c < 0
		}
		return rows[i].ID < rows[j].ID
	})
	return pointers(rows), nil
}

// Count returns the number of stored records.
func (s transferStore) Count(_ context.Context) (int, error) {
	return len(scan(s.v, transfersTable, nil)), nil
}

type snapshotStore aggregates

// Get retrieves a snapshot by ID. Returns ErrNotFound if not exists.
func (s snapshotStore) Get(_ context.Context, id string) (*domain.TokenDailySnapshot, error) {
	snap, ok := lookup(s.v, snapshotsTable, id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &snap, nil
}

// Upsert creates or overwrites the snapshot.
func (s snapshotStore) Upsert(_ context.Context, snap *domain.TokenDailySnapshot) error {
	if snap == nil || snap.ID == "" {
		return storage.ErrInvalidInput
	}
	put(s.v, snapshotsTable, snap.ID, *snap)
	return nil
}

// ListByToken retrieves all snapshots of a token ordered by day ASC.
func (s snapshotStore) ListByToken(_ context.Context, token string) ([]*domain.TokenDailySnapshot, error) {
	rows := scan(s.v, snapshotsTable, func(snap domain.TokenDailySnapshot) bool { return snap.Token == token })
	sort.Slice(rows, func(i, j int) bool { return rows[i].DayID < rows[j].DayID })
	return pointers(rows), nil
}

type contractEventStore aggregates

// Get retrieves a contract event by ID. Returns ErrNotFound if not exists.
func (s contractEventStore) Get(_ context.Context, id string) (*domain.ContractEvent, error) {
	e, ok := lookup(s.v, contractEventsTable, id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	e.Params = copyParams(e.Params)
	return &e, nil
}

// Upsert creates or overwrites the contract event.
func (s contractEventStore) Upsert(_ context.Context, e *domain.ContractEvent) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}
	eventCopy := *e
	eventCopy.Params = copyParams(e.Params)
	put(s.v, contractEventsTable, e.ID, eventCopy)
	return nil
}

// ListByToken retrieves all events of a token ordered by (block_number ASC, log_index ASC).
func (s contractEventStore) ListByToken(_ context.Context, token string) ([]*domain.ContractEvent, error) {
	rows := scan(s.v, contractEventsTable, func(e domain.ContractEvent) bool { return e.Token == token })
	sort.Slice(rows, func(i, j int) bool {
		pi := domain.Position{BlockNumber: rows[i].BlockNumber, LogIndex: rows[i].LogIndex}
		pj := domain.Position{BlockNumber: rows[j].BlockNumber, LogIndex: rows[j].LogIndex}
		return pi.Compare(pj) < 0
	})
	out := pointers(rows)
	for _, e := range out {
		e.Params = copyParams(e.Params)
	}
	return out, nil
}

type cursorStore aggregates

// Get returns the cursor of a stream. Returns ErrNotFound if not set.
func (s cursorStore) Get(_ context.Context, stream string) (*domain.Cursor, error) {
	c, ok := lookup(s.v, cursorsTable, stream)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

// Set saves the cursor of a stream.
func (s cursorStore) Set(_ context.Context, c *domain.Cursor) error {
	if c == nil || c.Stream == "" {
		return storage.ErrInvalidInput
	}
	put(s.v, cursorsTable, c.Stream, *c)
	return nil
}

func pointers[T any](rows []T) []*T {
	out := make([]*T, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out
}

func copyParams(p map[string]string) map[string]string {
	if p == nil {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
