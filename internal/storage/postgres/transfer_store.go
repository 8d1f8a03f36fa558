package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"token-rollup/internal/domain"
	"token-rollup/internal/storage"
)

// TransferStore implements storage.TransferStore using PostgreSQL.
type TransferStore struct {
	q querier
}

// NewTransferStore creates a new TransferStore.
func NewTransferStore(pool *Pool) *TransferStore {
	return &TransferStore{q: pool}
}

// Compile-time interface check.
var _ storage.TransferStore = (*TransferStore)(nil)

const transferColumns = `
	id, tx_hash, log_index, nonce, token, from_address, to_address,
	amount::text, block_number, block_time
`

// Get retrieves a transfer record by key. Returns ErrNotFound if not exists.
func (s *TransferStore) Get(ctx context.Context, id string) (*domain.TransferEvent, error) {
	row := s.q.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfer_events WHERE id = $1`, id)
	e, err := scanTransfer(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transfer event: %w", err)
	}
	return e, nil
}

// Upsert creates or overwrites the record keyed by its ID.
func (s *TransferStore) Upsert(ctx context.Context, e *domain.TransferEvent) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO transfer_events (
			id, tx_hash, log_index, nonce, token, from_address, to_address,
			amount, block_number, block_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			tx_hash = EXCLUDED.tx_hash,
			log_index = EXCLUDED.log_index,
			nonce = EXCLUDED.nonce,
			token = EXCLUDED.token,
			from_address = EXCLUDED.from_address,
			to_address = EXCLUDED.to_address,
			amount = EXCLUDED.amount,
			block_number = EXCLUDED.block_number,
			block_time = EXCLUDED.block_time
	`

	_, err := s.q.Exec(ctx, query,
		e.ID,
		e.TxHash,
		int32(e.LogIndex),
		int64(e.Nonce),
		e.Token,
		e.From,
		e.To,
		e.Amount.String(),
		int64(e.BlockNumber),
		e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert transfer event: %w", err)
	}
	return nil
}

// ListOrdered retrieves all records ordered by (block_number ASC, log_index ASC).
func (s *TransferStore) ListOrdered(ctx context.Context) ([]*domain.TransferEvent, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+transferColumns+`
		FROM transfer_events
		ORDER BY block_number ASC, log_index ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list transfer events: %w", err)
	}
	defer rows.Close()

	var result []*domain.TransferEvent
	for rows.Next() {
		e, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer event: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Count returns the number of stored records.
func (s *TransferStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM transfer_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transfer events: %w", err)
	}
	return int(n), nil
}

func scanTransfer(row pgx.Row) (*domain.TransferEvent, error) {
	var (
		e            domain.TransferEvent
		logIndex     int32
		nonce, block int64
		amount       string
	)
	err := row.Scan(
		&e.ID, &e.TxHash, &logIndex, &nonce, &e.Token, &e.From, &e.To,
		&amount, &block, &e.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	if e.Amount, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	e.LogIndex = uint32(logIndex)
	e.Nonce = uint64(nonce)
	e.BlockNumber = uint64(block)
	return &e, nil
}
