package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"token-rollup/internal/domain"
	"token-rollup/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	q querier
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

const snapshotColumns = `
	id, token, day_id,
	daily_total_supply::text, current_holder_count, cumulative_holder_count,
	daily_event_count, daily_transfer_count, daily_transfer_amount::text,
	daily_mint_count, daily_mint_amount::text,
	daily_burn_count, daily_burn_amount::text,
	block_number, block_time
`

// Get retrieves a snapshot by key. Returns ErrNotFound if not exists.
func (s *SnapshotStore) Get(ctx context.Context, id string) (*domain.TokenDailySnapshot, error) {
	row := s.q.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM token_daily_snapshots WHERE id = $1`, id)
	snap, err := scanSnapshot(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

// Upsert creates or overwrites the snapshot keyed by its ID.
func (s *SnapshotStore) Upsert(ctx context.Context, snap *domain.TokenDailySnapshot) error {
	if snap == nil || snap.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO token_daily_snapshots (
			id, token, day_id,
			daily_total_supply, current_holder_count, cumulative_holder_count,
			daily_event_count, daily_transfer_count, daily_transfer_amount,
			daily_mint_count, daily_mint_amount,
			daily_burn_count, daily_burn_amount,
			block_number, block_time
		) VALUES (
			$1, $2, $3,
			$4::numeric, $5, $6,
			$7, $8, $9::numeric,
			$10, $11::numeric,
			$12, $13::numeric,
			$14, $15
		)
		ON CONFLICT (id) DO UPDATE SET
			daily_total_supply = EXCLUDED.daily_total_supply,
			current_holder_count = EXCLUDED.current_holder_count,
			cumulative_holder_count = EXCLUDED.cumulative_holder_count,
			daily_event_count = EXCLUDED.daily_event_count,
			daily_transfer_count = EXCLUDED.daily_transfer_count,
			daily_transfer_amount = EXCLUDED.daily_transfer_amount,
			daily_mint_count = EXCLUDED.daily_mint_count,
			daily_mint_amount = EXCLUDED.daily_mint_amount,
			daily_burn_count = EXCLUDED.daily_burn_count,
			daily_burn_amount = EXCLUDED.daily_burn_amount,
			block_number = EXCLUDED.block_number,
			block_time = EXCLUDED.block_time
	`

	_, err := s.q.Exec(ctx, query,
		snap.ID,
		snap.Token,
		snap.DayID,
		snap.DailyTotalSupply.String(),
		snap.CurrentHolderCount,
		snap.CumulativeHolderCount,
		int64(snap.DailyEventCount),
		int64(snap.DailyTransferCount),
		snap.DailyTransferAmount.String(),
		int64(snap.DailyMintCount),
		snap.DailyMintAmount.String(),
		int64(snap.DailyBurnCount),
		snap.DailyBurnAmount.String(),
		int64(snap.BlockNumber),
		snap.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// ListByToken retrieves all snapshots of a token ordered by day ASC.
func (s *SnapshotStore) ListByToken(ctx context.Context, token string) ([]*domain.TokenDailySnapshot, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+snapshotColumns+`
		FROM token_daily_snapshots
		WHERE token = $1
		ORDER BY day_id ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var result []*domain.TokenDailySnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		result = append(result, snap)
	}
	return result, rows.Err()
}

func scanSnapshot(row pgx.Row) (*domain.TokenDailySnapshot, error) {
	var (
		snap                                   domain.TokenDailySnapshot
		supply, transferAmt, mintAmt, burnAmt  string
		events, transfers, mints, burns, block int64
	)
	err := row.Scan(
		&snap.ID, &snap.Token, &snap.DayID,
		&supply, &snap.CurrentHolderCount, &snap.CumulativeHolderCount,
		&events, &transfers, &transferAmt,
		&mints, &mintAmt,
		&burns, &burnAmt,
		&block, &snap.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	if snap.DailyTotalSupply, err = parseNumeric(supply); err != nil {
		return nil, err
	}
	if snap.DailyTransferAmount, err = parseNumeric(transferAmt); err != nil {
		return nil, err
	}
	if snap.DailyMintAmount, err = parseNumeric(mintAmt); err != nil {
		return nil, err
	}
	if snap.DailyBurnAmount, err = parseNumeric(burnAmt); err != nil {
		return nil, err
	}

	snap.DailyEventCount = uint64(events)
	snap.DailyTransferCount = uint64(transfers)
	snap.DailyMintCount = uint64(mints)
	snap.DailyBurnCount = uint64(burns)
	snap.BlockNumber = uint64(block)
	return &snap, nil
}
