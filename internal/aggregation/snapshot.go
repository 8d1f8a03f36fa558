package aggregation

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"token-rollup/internal/domain"
	"token-rollup/internal/idhash"
	"token-rollup/internal/storage"
)

// Roller maintains one daily snapshot per (token, day bucket).
type Roller struct {
	snapshots storage.SnapshotStore
}

// NewRoller creates a snapshot roller over the given store.
func NewRoller(snapshots storage.SnapshotStore) *Roller {
	return &Roller{snapshots: snapshots}
}

// Rollup folds one event into the snapshot of the day containing timestamp.
// token must already carry the post-event totals.
// Counters accumulate, so each event must be rolled up exactly once.
func (r *Roller) Rollup(
	ctx context.Context,
	token *domain.Token,
	blockNumber uint64,
	timestamp int64,
	isMint, isBurn bool,
	amount decimal.Decimal,
) (*domain.TokenDailySnapshot, error) {
	day := idhash.DayBucket(timestamp)
	id := idhash.DaySnapshotKey(token.Address, day)

	snap, err := r.snapshots.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		snap = newSnapshot(id, token, day)
	} else if err != nil {
		return nil, err
	}

	snap.DailyEventCount++
	snap.DailyTransferCount++
	snap.DailyTransferAmount = snap.DailyTransferAmount.Add(amount)
	if isMint {
		snap.DailyMintCount++
		snap.DailyMintAmount = snap.DailyMintAmount.Add(amount)
	}
	if isBurn {
		snap.DailyBurnCount++
		snap.DailyBurnAmount = snap.DailyBurnAmount.Add(amount)
	}

	mirror(snap, token)
	snap.BlockNumber = blockNumber
	snap.Timestamp = timestamp

	if err := r.snapshots.Upsert(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func newSnapshot(id string, token *domain.Token, day int64) *domain.TokenDailySnapshot {
	snap := &domain.TokenDailySnapshot{
		ID:                  id,
		Token:               token.Address,
		DayID:               day,
		DailyTransferAmount: decimal.Zero,
		DailyMintAmount:     decimal.Zero,
		DailyBurnAmount:     decimal.Zero,
	}
	mirror(snap, token)
	return snap
}

func mirror(snap *domain.TokenDailySnapshot, token *domain.Token) {
	snap.DailyTotalSupply = token.TotalSupply
	snap.CurrentHolderCount = token.CurrentHolderCount
	snap.CumulativeHolderCount = token.CumulativeHolderCount
}
