package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"token-rollup/internal/domain"
	"token-rollup/internal/storage"
)

// BalanceStore implements storage.BalanceStore using PostgreSQL.
type BalanceStore struct {
	q querier
}

// NewBalanceStore creates a new BalanceStore.
func NewBalanceStore(pool *Pool) *BalanceStore {
	return &BalanceStore{q: pool}
}

// Compile-time interface check.
var _ storage.BalanceStore = (*BalanceStore)(nil)

// Get retrieves a balance by key. Returns ErrNotFound if not exists.
func (s *BalanceStore) Get(ctx context.Context, id string) (*domain.AccountBalance, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, account, token, amount::text, block_number
		FROM account_balances
		WHERE id = $1
	`, id)
	b, err := scanBalance(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

// Upsert creates or overwrites the balance keyed by its ID.
func (s *BalanceStore) Upsert(ctx context.Context, b *domain.AccountBalance) error {
	if b == nil || b.ID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO account_balances (id, account, token, amount, block_number)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (id) DO UPDATE SET
			amount = EXCLUDED.amount,
			block_number = EXCLUDED.block_number
	`, b.ID, b.Account, b.Token, b.Amount.String(), int64(b.BlockNumber))
	if err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}
	return nil
}

// ListByToken retrieves all balances of a token ordered by account ASC.
func (s *BalanceStore) ListByToken(ctx context.Context, token string) ([]*domain.AccountBalance, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, account, token, amount::text, block_number
		FROM account_balances
		WHERE token = $1
		ORDER BY account ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var result []*domain.AccountBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func scanBalance(row pgx.Row) (*domain.AccountBalance, error) {
	var (
		b      domain.AccountBalance
		amount string
		block  int64
	)
	if err := row.Scan(&b.ID, &b.Account, &b.Token, &amount, &block); err != nil {
		return nil, err
	}

	var err error
	if b.Amount, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	b.BlockNumber = uint64(block)
	return &b, nil
}
