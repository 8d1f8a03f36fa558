package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"token-rollup/internal/domain"
	"token-rollup/internal/storage"
)

// ContractEventStore implements storage.ContractEventStore using PostgreSQL.
type ContractEventStore struct {
	q querier
}

// NewContractEventStore creates a new ContractEventStore.
func NewContractEventStore(pool *Pool) *ContractEventStore {
	return &ContractEventStore{q: pool}
}

// Compile-time interface check.
var _ storage.ContractEventStore = (*ContractEventStore)(nil)

const contractEventColumns = `id, kind, token, tx_hash, log_index, block_number, block_time, params`

// Get retrieves an event by key. Returns ErrNotFound if not exists.
func (s *ContractEventStore) Get(ctx context.Context, id string) (*domain.ContractEvent, error) {
	row := s.q.QueryRow(ctx, `SELECT `+contractEventColumns+` FROM contract_events WHERE id = $1`, id)
	e, err := scanContractEvent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get contract event: %w", err)
	}
	return e, nil
}

// Upsert creates or overwrites the event keyed by its ID.
func (s *ContractEventStore) Upsert(ctx context.Context, e *domain.ContractEvent) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	params := e.Params
	if params == nil {
		params = map[string]string{}
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO contract_events (id, kind, token, tx_hash, log_index, block_number, block_time, params)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			token = EXCLUDED.token,
			block_number = EXCLUDED.block_number,
			block_time = EXCLUDED.block_time,
			params = EXCLUDED.params
	`,
		e.ID,
		string(e.Kind),
		e.Token,
		e.TxHash,
		int32(e.LogIndex),
		int64(e.BlockNumber),
		e.Timestamp,
		params,
	)
	if err != nil {
		return fmt.Errorf("upsert contract event: %w", err)
	}
	return nil
}

// ListByToken retrieves all events of a token ordered by (block_number ASC, log_index ASC).
func (s *ContractEventStore) ListByToken(ctx context.Context, token string) ([]*domain.ContractEvent, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+contractEventColumns+`
		FROM contract_events
		WHERE token = $1
		ORDER BY block_number ASC, log_index ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("list contract events: %w", err)
	}
	defer rows.Close()

	var result []*domain.ContractEvent
	for rows.Next() {
		e, err := scanContractEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contract event: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanContractEvent(row pgx.Row) (*domain.ContractEvent, error) {
	var (
		e        domain.ContractEvent
		kind     string
		logIndex int32
		block    int64
	)
	if err := row.Scan(&e.ID, &kind, &e.Token, &e.TxHash, &logIndex, &block, &e.Timestamp, &e.Params); err != nil {
		return nil, err
	}
	e.Kind = domain.ContractEventKind(kind)
	e.LogIndex = uint32(logIndex)
	e.BlockNumber = uint64(block)
	return &e, nil
}
