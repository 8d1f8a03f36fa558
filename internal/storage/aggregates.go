package storage

import (
	"context"

	"token-rollup/internal/domain"
)

// TokenStore provides access to tokens storage.
type TokenStore interface {
	// Get retrieves a token by contract address. Returns ErrNotFound if not exists.
	Get(ctx context.Context, address string) (*domain.Token, error)

	// Upsert creates or overwrites the token keyed by its address.
	Upsert(ctx context.Context, t *domain.Token) error

	// List retrieves all tokens ordered by address ASC.
	List(ctx context.Context) ([]*domain.Token, error)
}

// AccountStore provides access to accounts storage.
type AccountStore interface {
	// Get retrieves an account by address. Returns ErrNotFound if not exists.
	Get(ctx context.Context, address string) (*domain.Account, error)

	// Upsert creates the account if missing. Accounts carry no mutable state.
	Upsert(ctx context.Context, a *domain.Account) error
}

// BalanceStore provides access to account_balances storage.
type BalanceStore interface {
	// Get retrieves a balance by idhash.BalanceKey. Returns ErrNotFound if not exists.
	Get(ctx context.Context, id string) (*domain.AccountBalance, error)

	// Upsert creates or overwrites the balance keyed by its ID.
	Upsert(ctx context.Context, b *domain.AccountBalance) error

	// ListByToken retrieves all balances of a token ordered by account ASC.
	ListByToken(ctx context.Context, token string) ([]*domain.AccountBalance, error)
}

// TransferStore provides access to transfer_events storage.
type TransferStore interface {
	// Get retrieves a transfer record by idhash.TransferRecordKey. Returns ErrNotFound if not exists.
	Get(ctx context.Context, id string) (*domain.TransferEvent, error)

	// Upsert creates or overwrites the record keyed by its ID.
	// Re-applying the same log overwrites in place.
	Upsert(ctx context.Context, e *domain.TransferEvent) error

	// ListOrdered retrieves all records ordered by (block_number ASC, log_index ASC).
	ListOrdered(ctx context.Context) ([]*domain.TransferEvent, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// SnapshotStore provides access to token_daily_snapshots storage.
type SnapshotStore interface {
	// Get retrieves a snapshot by idhash.SnapshotKey. Returns ErrNotFound if not exists.
	Get(ctx context.Context, id string) (*domain.TokenDailySnapshot, error)

	// Upsert creates or overwrites the snapshot keyed by its ID.
	Upsert(ctx context.Context, s *domain.TokenDailySnapshot) error

	// ListByToken retrieves all snapshots of a token ordered by day ASC.
	ListByToken(ctx context.Context, token string) ([]*domain.TokenDailySnapshot, error)
}

// ContractEventStore provides access to contract_events storage.
type ContractEventStore interface {
	// Get retrieves an event by idhash.ContractEventKey. Returns ErrNotFound if not exists.
	Get(ctx context.Context, id string) (*domain.ContractEvent, error)

	// Upsert creates or overwrites the event keyed by its ID.
	Upsert(ctx context.Context, e *domain.ContractEvent) error

	// ListByToken retrieves all events of a token ordered by (block_number ASC, log_index ASC).
	ListByToken(ctx context.Context, token string) ([]*domain.ContractEvent, error)
}

// CursorStore persists the last applied position per event stream.
// This enables resumption after restarts without re-applying events.
type CursorStore interface {
	// Get returns the cursor of a stream. Returns ErrNotFound if nothing was applied yet.
	Get(ctx context.Context, stream string) (*domain.Cursor, error)

	// Set saves the cursor of a stream.
	Set(ctx context.Context, c *domain.Cursor) error
}

// Aggregates bundles the stores mutated while applying one event.
type Aggregates interface {
	Tokens() TokenStore
	Accounts() AccountStore
	Balances() BalanceStore
	Transfers() TransferStore
	Snapshots() SnapshotStore
	ContractEvents() ContractEventStore
	Cursors() CursorStore
}

// AggregateStore is the backing store of the aggregation engine.
type AggregateStore interface {
	Aggregates

	// Atomic runs fn against a transactional view of the store.
	// Writes made through the view are persisted only if fn returns nil;
	// otherwise none of them are observable.
	Atomic(ctx context.Context, fn func(tx Aggregates) error) error
}

// ArchiveStore is the append-only analytical copy of applied records.
// Writes are idempotent by record key; readers see the latest version.
type ArchiveStore interface {
	// InsertTransfers appends transfer records.
	InsertTransfers(ctx context.Context, events []*domain.TransferEvent) error

	// InsertSnapshots appends snapshot versions; the latest block wins per (token, day).
	InsertSnapshots(ctx context.Context, snaps []*domain.TokenDailySnapshot) error

	// InsertContractEvents appends contract event records.
	InsertContractEvents(ctx context.Context, events []*domain.ContractEvent) error

	// TransfersByToken retrieves a token's transfers ordered by (block_number ASC, log_index ASC).
	TransfersByToken(ctx context.Context, token string) ([]*domain.TransferEvent, error)

	// SnapshotsByToken retrieves a token's latest snapshot per day ordered by day ASC.
	SnapshotsByToken(ctx context.Context, token string) ([]*domain.TokenDailySnapshot, error)
}
