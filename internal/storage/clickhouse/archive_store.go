package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"token-rollup/internal/domain"
	"token-rollup/internal/idhash"
	"token-rollup/internal/storage"
)

// ArchiveStore implements storage.ArchiveStore using ClickHouse.
// Tables are ReplacingMergeTree, so re-inserting a record replaces it on merge
// and reads use FINAL.
type ArchiveStore struct {
	conn *Conn
}

// NewArchiveStore creates a new ArchiveStore.
func NewArchiveStore(conn *Conn) *ArchiveStore {
	return &ArchiveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ArchiveStore = (*ArchiveStore)(nil)

// InsertTransfers appends transfer records in one batch.
func (s *ArchiveStore) InsertTransfers(ctx context.Context, events []*domain.TransferEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO transfer_events (
			id, tx_hash, log_index, nonce, token, from_address, to_address,
			amount, is_mint, is_burn, block_number, block_time
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		mint := domain.IsZeroAddress(e.From) && !domain.IsZeroAddress(e.To)
		burn := domain.IsZeroAddress(e.To) && !domain.IsZeroAddress(e.From)
		err = batch.Append(
			e.ID, e.TxHash, e.LogIndex, e.Nonce, e.Token, e.From, e.To,
			e.Amount.String(), boolToUInt8(mint), boolToUInt8(burn),
			e.BlockNumber, time.Unix(e.Timestamp, 0).UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// InsertSnapshots appends snapshot versions in one batch.
func (s *ArchiveStore) InsertSnapshots(ctx context.Context, snaps []*domain.TokenDailySnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO token_daily_snapshots (
			token, day_id, daily_total_supply, current_holder_count, cumulative_holder_count,
			daily_event_count, daily_transfer_count, daily_transfer_amount,
			daily_mint_count, daily_mint_amount, daily_burn_count, daily_burn_amount,
			block_number, block_time
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snaps {
		err = batch.Append(
			snap.Token, snap.DayID, snap.DailyTotalSupply.String(),
			snap.CurrentHolderCount, snap.CumulativeHolderCount,
			snap.DailyEventCount, snap.DailyTransferCount, snap.DailyTransferAmount.String(),
			snap.DailyMintCount, snap.DailyMintAmount.String(),
			snap.DailyBurnCount, snap.DailyBurnAmount.String(),
			snap.BlockNumber, time.Unix(snap.Timestamp, 0).UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// InsertContractEvents appends contract event records in one batch.
func (s *ArchiveStore) InsertContractEvents(ctx context.Context, events []*domain.ContractEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO contract_events (
			id, kind, token, tx_hash, log_index, block_number, block_time, params
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		params := e.Params
		if params == nil {
			params = map[string]string{}
		}
		err = batch.Append(
			e.ID, string(e.Kind), e.Token, e.TxHash, e.LogIndex,
			e.BlockNumber, time.Unix(e.Timestamp, 0).UTC(), params,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// TransfersByToken retrieves a token's transfers ordered by (block_number ASC, log_index ASC).
func (s *ArchiveStore) TransfersByToken(ctx context.Context, token string) ([]*domain.TransferEvent, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, tx_hash, log_index, nonce, token, from_address, to_address,
			amount, block_number, block_time
		FROM transfer_events FINAL
		WHERE token = ?
		ORDER BY block_number ASC, log_index ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("query transfer events: %w", err)
	}
	defer rows.Close()

	var result []*domain.TransferEvent
	for rows.Next() {
		var (
			e         domain.TransferEvent
			amount    string
			blockTime time.Time
		)
		err := rows.Scan(
			&e.ID, &e.TxHash, &e.LogIndex, &e.Nonce, &e.Token, &e.From, &e.To,
			&amount, &e.BlockNumber, &blockTime,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transfer event: %w", err)
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		e.Timestamp = blockTime.Unix()
		result = append(result, &e)
	}
	return result, rows.Err()
}

// SnapshotsByToken retrieves a token's latest snapshot per day ordered by day ASC.
func (s *ArchiveStore) SnapshotsByToken(ctx context.Context, token string) ([]*domain.TokenDailySnapshot, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT token, day_id, daily_total_supply, current_holder_count, cumulative_holder_count,
			daily_event_count, daily_transfer_count, daily_transfer_amount,
			daily_mint_count, daily_mint_amount, daily_burn_count, daily_burn_amount,
			block_number, block_time
		FROM token_daily_snapshots FINAL
		WHERE token = ?
		ORDER BY day_id ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var result []*domain.TokenDailySnapshot
	for rows.Next() {
		var (
			snap                                  domain.TokenDailySnapshot
			supply, transferAmt, mintAmt, burnAmt string
			blockTime                             time.Time
		)
		err := rows.Scan(
			&snap.Token, &snap.DayID, &supply, &snap.CurrentHolderCount, &snap.CumulativeHolderCount,
			&snap.DailyEventCount, &snap.DailyTransferCount, &transferAmt,
			&snap.DailyMintCount, &mintAmt, &snap.DailyBurnCount, &burnAmt,
			&snap.BlockNumber, &blockTime,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&snap.DailyTotalSupply, supply},
			{&snap.DailyTransferAmount, transferAmt},
			{&snap.DailyMintAmount, mintAmt},
			{&snap.DailyBurnAmount, burnAmt},
		} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, fmt.Errorf("parse snapshot amount: %w", err)
			}
		}
		snap.ID = idhash.DaySnapshotKey(snap.Token, snap.DayID)
		snap.Timestamp = blockTime.Unix()
		result = append(result, &snap)
	}
	return result, rows.Err()
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
