package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"token-rollup/internal/domain"
	"token-rollup/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	q querier
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{q: pool}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

const tokenColumns = `
	address, name, symbol, decimals,
	total_supply::text, total_minted::text, total_burned::text,
	transfer_count, mint_count, burn_count,
	current_holder_count, cumulative_holder_count,
	created_block, updated_block
`

// Get retrieves a token by contract address. Returns ErrNotFound if not exists.
func (s *TokenStore) Get(ctx context.Context, address string) (*domain.Token, error) {
	row := s.q.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE address = $1`, address)
	t, err := scanToken(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// Upsert creates or overwrites the token. Name, symbol and decimals are
// written only on first insert.
func (s *TokenStore) Upsert(ctx context.Context, t *domain.Token) error {
	if t == nil || t.Address == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO tokens (
			address, name, symbol, decimals,
			total_supply, total_minted, total_burned,
			transfer_count, mint_count, burn_count,
			current_holder_count, cumulative_holder_count,
			created_block, updated_block
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (address) DO UPDATE SET
			total_supply = EXCLUDED.total_supply,
			total_minted = EXCLUDED.total_minted,
			total_burned = EXCLUDED.total_burned,
			transfer_count = EXCLUDED.transfer_count,
			mint_count = EXCLUDED.mint_count,
			burn_count = EXCLUDED.burn_count,
			current_holder_count = EXCLUDED.current_holder_count,
			cumulative_holder_count = EXCLUDED.cumulative_holder_count,
			updated_block = EXCLUDED.updated_block
	`

	_, err := s.q.Exec(ctx, query,
		t.Address,
		t.Name,
		t.Symbol,
		int16(t.Decimals),
		t.TotalSupply.String(),
		t.TotalMinted.String(),
		t.TotalBurned.String(),
		int64(t.TransferCount),
		int64(t.MintCount),
		int64(t.BurnCount),
		t.CurrentHolderCount,
		t.CumulativeHolderCount,
		int64(t.CreatedBlock),
		int64(t.UpdatedBlock),
	)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

// List retrieves all tokens ordered by address ASC.
func (s *TokenStore) List(ctx context.Context) ([]*domain.Token, error) {
	rows, err := s.q.Query(ctx, `SELECT `+tokenColumns+` FROM tokens ORDER BY address ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var result []*domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func scanToken(row pgx.Row) (*domain.Token, error) {
	var (
		t                          domain.Token
		decimals                   int16
		supply, minted, burned     string
		transfers, mints, burns    int64
		createdBlock, updatedBlock int64
	)
	err := row.Scan(
		&t.Address, &t.Name, &t.Symbol, &decimals,
		&supply, &minted, &burned,
		&transfers, &mints, &burns,
		&t.CurrentHolderCount, &t.CumulativeHolderCount,
		&createdBlock, &updatedBlock,
	)
	if err != nil {
		return nil, err
	}

	if t.TotalSupply, err = parseNumeric(supply); err != nil {
		return nil, err
	}
	if t.TotalMinted, err = parseNumeric(minted); err != nil {
		return nil, err
	}
	if t.TotalBurned, err = parseNumeric(burned); err != nil {
		return nil, err
	}

	t.Decimals = uint8(decimals)
	t.TransferCount = uint64(transfers)
	t.MintCount = uint64(mints)
	t.BurnCount = uint64(burns)
	t.CreatedBlock = uint64(createdBlock)
	t.UpdatedBlock = uint64(updatedBlock)
	return &t, nil
}
