package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"token-rollup/internal/domain"
	"token-rollup/internal/storage"
)

// AggregateStore implements storage.AggregateStore using PostgreSQL.
// Atomic runs the callback inside one database transaction.
type AggregateStore struct {
	aggregates
	pool *Pool
}

// NewAggregateStore creates a new AggregateStore.
func NewAggregateStore(pool *Pool) *AggregateStore {
	return &AggregateStore{aggregates: aggregates{q: pool}, pool: pool}
}

// Compile-time interface check.
var _ storage.AggregateStore = (*AggregateStore)(nil)

// Atomic runs fn in a transaction that commits only if fn returns nil.
func (s *AggregateStore) Atomic(ctx context.Context, fn func(tx storage.Aggregates) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(aggregates{q: tx})
	})
}

type aggregates struct {
	q querier
}

func (a aggregates) Tokens() storage.TokenStore                 { return &TokenStore{q: a.q} }
func (a aggregates) Accounts() storage.AccountStore             { return &AccountStore{q: a.q} }
func (a aggregates) Balances() storage.BalanceStore             { return &BalanceStore{q: a.q} }
func (a aggregates) Transfers() storage.TransferStore           { return &TransferStore{q: a.q} }
func (a aggregates) Snapshots() storage.SnapshotStore           { return &SnapshotStore{q: a.q} }
func (a aggregates) ContractEvents() storage.ContractEventStore { return &ContractEventStore{q: a.q} }
func (a aggregates) Cursors() storage.CursorStore               { return &CursorStore{q: a.q} }

// AccountStore implements storage.AccountStore using PostgreSQL.
type AccountStore struct {
	q querier
}

// Get retrieves an account by address. Returns ErrNotFound if not exists.
func (s *AccountStore) Get(ctx context.Context, address string) (*domain.Account, error) {
	var a domain.Account
	err := s.q.QueryRow(ctx, `SELECT address FROM accounts WHERE address = $1`, address).Scan(&a.Address)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// Upsert creates the account if missing.
func (s *AccountStore) Upsert(ctx context.Context, a *domain.Account) error {
	if a == nil || a.Address == "" {
		return storage.ErrInvalidInput
	}
	_, err := s.q.Exec(ctx, `INSERT INTO accounts (address) VALUES ($1) ON CONFLICT (address) DO NOTHING`, a.Address)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// CursorStore implements storage.CursorStore using PostgreSQL.
type CursorStore struct {
	q querier
}

// NewCursorStore creates a new CursorStore.
func NewCursorStore(pool *Pool) *CursorStore {
	return &CursorStore{q: pool}
}

// Get returns the cursor of a stream. Returns ErrNotFound if nothing was applied yet.
func (s *CursorStore) Get(ctx context.Context, stream string) (*domain.Cursor, error) {
	var (
		block    int64
		logIndex int32
	)
	err := s.q.QueryRow(ctx, `
		SELECT block_number, log_index
		FROM stream_cursors
		WHERE stream = $1
	`, stream).Scan(&block, &logIndex)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	return &domain.Cursor{
		Stream:   stream,
		Position: domain.Position{BlockNumber: uint64(block), LogIndex: uint32(logIndex)},
	}, nil
}

// Set saves the cursor of a stream.
func (s *CursorStore) Set(ctx context.Context, c *domain.Cursor) error {
	if c == nil || c.Stream == "" {
		return storage.ErrInvalidInput
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO stream_cursors (stream, block_number, log_index, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (stream) DO UPDATE SET
			block_number = EXCLUDED.block_number,
			log_index = EXCLUDED.log_index,
			updated_at = NOW()
	`, c.Stream, int64(c.Position.BlockNumber), int32(c.Position.LogIndex))
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
