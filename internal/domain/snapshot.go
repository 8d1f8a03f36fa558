package domain

import "github.com/shopspring/decimal"

// TokenDailySnapshot is the rollup of one token over one day bucket.
// Mirrored totals reflect the token after the last event of the bucket;
// Daily* counters accumulate over the bucket.
// Corresponds to token_daily_snapshots table in PostgreSQL.
type TokenDailySnapshot struct {
	ID    string // idhash.SnapshotKey(Token, DayID)
	Token string
	DayID int64 // floor(timestamp / 86400)

	// Mirrored totals
	DailyTotalSupply      decimal.Decimal
	CurrentHolderCount    int64
	CumulativeHolderCount int64

	// Accumulated within the bucket
	DailyEventCount     uint64
	DailyTransferCount  uint64
	DailyTransferAmount decimal.Decimal
	DailyMintCount      uint64
	DailyMintAmount     decimal.Decimal
	DailyBurnCount      uint64
	DailyBurnAmount     decimal.Decimal

	BlockNumber uint64 // block of the last event in the bucket
	Timestamp   int64  // timestamp of the last event in the bucket
}
