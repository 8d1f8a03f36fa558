package ingestion_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-rollup/internal/aggregation"
	"token-rollup/internal/domain"
	"token-rollup/internal/ingestion"
	"token-rollup/internal/ingestion/stub"
	"token-rollup/internal/storage/memory"
)

const (
	token = "0x00000000000000000000000000000000000000bb"
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
)

func transfer(block uint64, logIndex uint32, from, to string, amount int64) ingestion.Event {
	return ingestion.Event{Transfer: &domain.TransferLog{
		TxHash:      fmt.Sprintf("0xbackfill%d", block),
		LogIndex:    logIndex,
		BlockNumber: block,
		Timestamp:   int64(block) * 3600,
		Token:       token,
		From:        from,
		To:          to,
		Amount:      decimal.NewNullDecimal(decimal.NewFromInt(amount)),
	}}
}

func newRunner(store *memory.AggregateStore) *ingestion.Runner {
	return ingestion.NewRunner(ingestion.RunnerOptions{
		Processor: aggregation.NewProcessor(aggregation.ProcessorOptions{
			Store:    store,
			Metadata: aggregation.StaticMetadata{Symbol: "BF"},
		}),
	})
}

func TestBackfill_AppliesInOrderAcrossWindows(t *testing.T) {
	// Intentionally unordered
	src := stub.NewBatchSource([]ingestion.Event{
		transfer(30, 0, bob, alice, 5),
		transfer(5, 1, alice, bob, 20),
		transfer(5, 0, domain.ZeroAddress, alice, 100),
		transfer(12, 0, alice, domain.ZeroAddress, 10),
	})
	store := memory.NewAggregateStore()
	runner := newRunner(store)

	result, err := runner.Backfill(context.Background(), src, 1, 30, 10)
	require.NoError(t, err)

	assert.Equal(t, [][2]uint64{{1, 10}, {11, 20}, {21, 30}}, src.Calls)
	assert.Equal(t, 4, result.EventsFetched)
	assert.Equal(t, int64(4), result.TransfersApplied)
	assert.Equal(t, int64(0), result.Violations)

	tok, err := store.Tokens().Get(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, tok.TotalSupply.Equal(decimal.NewFromInt(90)))
	assert.Equal(t, uint64(1), tok.MintCount)
	assert.Equal(t, uint64(1), tok.BurnCount)
	assert.Equal(t, int64(2), tok.CurrentHolderCount)
}

func TestBackfill_OverlappingRangesAreIdempotent(t *testing.T) {
	src := stub.NewBatchSource([]ingestion.Event{
		transfer(1, 0, domain.ZeroAddress, alice, 50),
		transfer(2, 0, alice, bob, 10),
	})
	store := memory.NewAggregateStore()
	runner := newRunner(store)

	_, err := runner.Backfill(context.Background(), src, 1, 2, 0)
	require.NoError(t, err)

	again, err := runner.Backfill(context.Background(), src, 1, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.TransfersApplied)
	assert.Equal(t, int64(2), again.TransfersSkipped)
	assert.Equal(t, int64(0), again.OutOfOrderEvents, "both were applied the first time")

	n, err := store.Transfers().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBackfill_RejectsDuplicatePositions(t *testing.T) {
	src := stub.NewBatchSource([]ingestion.Event{
		transfer(1, 0, domain.ZeroAddress, alice, 50),
		transfer(1, 0, domain.ZeroAddress, alice, 50),
	})
	runner := newRunner(memory.NewAggregateStore())

	_, err := runner.Backfill(context.Background(), src, 1, 1, 0)
	require.ErrorIs(t, err, ingestion.ErrInvalidOrdering)
}

func TestBackfill_InvalidRange(t *testing.T) {
	runner := newRunner(memory.NewAggregateStore())

	_, err := runner.Backfill(context.Background(), stub.NewBatchSource(nil), 5, 4, 0)
	require.Error(t, err)
}

func TestRunner_StreamStub(t *testing.T) {
	store := memory.NewAggregateStore()
	runner := newRunner(store)

	src := stub.NewStreamSource(4)
	src.Send(transfer(1, 0, domain.ZeroAddress, alice, 3))
	src.Send(transfer(2, 0, alice, bob, 1))
	src.Close()

	err := runner.Run(context.Background(), src)
	require.ErrorIs(t, err, ingestion.ErrSourceClosed)

	stats := runner.Stats()
	assert.Equal(t, int64(2), stats.TransfersApplied)
	assert.Equal(t, uint64(2), stats.LastAppliedBlock)
}
