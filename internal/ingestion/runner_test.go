package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-rollup/internal/aggregation"
	"token-rollup/internal/domain"
	"token-rollup/internal/idhash"
	"token-rollup/internal/observability"
	"token-rollup/internal/storage/memory"
)

const (
	testToken = "0x00000000000000000000000000000000000000aa"
	holderA   = "0x1111111111111111111111111111111111111111"
	holderB   = "0x2222222222222222222222222222222222222222"
)

// mockStreamSource implements a controllable stream source for testing.
type mockStreamSource struct {
	ch chan Event
}

func newMockStreamSource() *mockStreamSource {
	return &mockStreamSource{ch: make(chan Event, 100)}
}

func (m *mockStreamSource) Subscribe(ctx context.Context) (<-chan Event, error) {
	return m.ch, nil
}

func (m *mockStreamSource) Send(ev Event) {
	m.ch <- ev
}

func (m *mockStreamSource) Close() {
	close(m.ch)
}

func transferEvent(block uint64, logIndex uint32, from, to string, amount int64) Event {
	return Event{Transfer: &domain.TransferLog{
		TxHash:      "0xtx" + decimal.NewFromInt(int64(block)).String(),
		LogIndex:    logIndex,
		BlockNumber: block,
		Timestamp:   int64(block) * 10,
		Token:       testToken,
		From:        from,
		To:          to,
		Amount:      decimal.NewNullDecimal(decimal.NewFromInt(amount)),
	}}
}

type testHarness struct {
	store   *memory.AggregateStore
	archive *memory.ArchiveStore
	runner  *Runner
	metrics *observability.Metrics
}

func newHarness(blockLag uint64) *testHarness {
	store := memory.NewAggregateStore()
	archive := memory.NewArchiveStore()
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	processor := aggregation.NewProcessor(aggregation.ProcessorOptions{
		Store:    store,
		Metadata: aggregation.StaticMetadata{Symbol: "TKN", Decimals: 18},
		Metrics:  metrics,
	})
	return &testHarness{
		store:   store,
		archive: archive,
		metrics: metrics,
		runner: NewRunner(RunnerOptions{
			Processor: processor,
			Archive:   archive,
			BlockLag:  blockLag,
			BatchSize: 1000,
			Metrics:   metrics,
		}),
	}
}

func (h *testHarness) balance(t *testing.T, account string) decimal.Decimal {
	t.Helper()
	bal, err := h.store.Balances().Get(context.Background(), idhash.BalanceKey(account, testToken))
	require.NoError(t, err)
	return bal.Amount
}

func (h *testHarness) transferCount(t *testing.T) int {
	t.Helper()
	n, err := h.store.Transfers().Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestRunner_BlockBasedOrdering(t *testing.T) {
	h := newHarness(2)
	ctx := context.Background()

	// Buffer events out of order; block 3 spends what block 2 mints
	require.NoError(t, h.runner.bufferEvent(ctx, transferEvent(3, 0, holderA, holderB, 40)))
	require.NoError(t, h.runner.bufferEvent(ctx, transferEvent(2, 1, domain.ZeroAddress, holderA, 100)))
	require.NoError(t, h.runner.bufferEvent(ctx, transferEvent(2, 0, domain.ZeroAddress, holderA, 1)))

	assert.Equal(t, 0, h.transferCount(t), "nothing confirmed yet")

	// Head at 5 confirms blocks <= 3
	require.NoError(t, h.runner.bufferEvent(ctx, transferEvent(5, 0, holderB, holderA, 1)))

	assert.Len(t, h.runner.buffer, 1, "Only block 5 should remain in buffer")
	assert.Contains(t, h.runner.buffer, uint64(5))
	assert.Equal(t, 3, h.transferCount(t))
	assert.True(t, h.balance(t, holderA).Equal(decimal.NewFromInt(61)))
	assert.True(t, h.balance(t, holderB).Equal(decimal.NewFromInt(40)))
	assert.Equal(t, int64(0), h.runner.Stats().Violations)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.BufferSize))
	assert.Equal(t, float64(5), testutil.ToFloat64(h.metrics.HighestBlockSeen))
}

func TestRunner_ZeroLagKeepsHeadBuffered(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()

	require.NoError(t, h.runner.bufferEvent(ctx, transferEvent(1, 0, domain.ZeroAddress, holderA, 10)))
	assert.Equal(t, 0, h.transferCount(t))

	require.NoError(t, h.runner.bufferEvent(ctx, transferEvent(2, 0, holderA, holderB, 5)))
	assert.Equal(t, 1, h.transferCount(t))
	assert.Contains(t, h.runner.buffer, uint64(2))
}

func TestRunner_LateEventBehindWatermark(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()

	require.NoError(t, h.runner.bufferEvent(ctx, transferEvent(1, 5, domain.ZeroAddress, holderA, 10)))
	require.NoError(t, h.runner.bufferEvent(ctx, transferEvent(2, 0, domain.ZeroAddress, holderA, 10)))

	// Block 1 is applied; an earlier log of it arrives late and is reported
	late := transferEvent(1, 2, domain.ZeroAddress, holderA, 99)
	late.Transfer.TxHash = "0xlate"
	require.NoError(t, h.runner.bufferEvent(ctx, late))

	// Redelivery of the applied log is a plain skip
	require.NoError(t, h.runner.bufferEvent(ctx, transferEvent(1, 5, domain.ZeroAddress, holderA, 10)))

	stats := h.runner.Stats()
	assert.Equal(t, int64(1), stats.TransfersApplied)
	assert.Equal(t, int64(1), stats.OutOfOrderEvents)
	assert.Equal(t, int64(1), stats.TransfersSkipped)
	assert.True(t, h.balance(t, holderA).Equal(decimal.NewFromInt(10)))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.OutOfOrderEvents))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.EventsSkipped))
}

func TestRunner_FlushOnShutdown(t *testing.T) {
	h := newHarness(10) // High lag so nothing auto-processes
	src := newMockStreamSource()

	src.Send(transferEvent(1, 0, domain.ZeroAddress, holderA, 100))
	src.Send(transferEvent(2, 0, holderA, holderB, 30))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.runner.Run(ctx, src) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	assert.Equal(t, 2, h.transferCount(t))
	assert.True(t, h.balance(t, holderB).Equal(decimal.NewFromInt(30)))
	assert.Empty(t, h.runner.buffer)
}

func TestRunner_SourceClosed(t *testing.T) {
	h := newHarness(3)
	src := newMockStreamSource()

	src.Send(transferEvent(1, 0, domain.ZeroAddress, holderA, 7))
	src.Close()

	err := h.runner.Run(context.Background(), src)
	assert.ErrorIs(t, err, ErrSourceClosed)
	assert.Equal(t, 1, h.transferCount(t))
}

func TestRunner_MalformedEventSkipped(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()

	bad := transferEvent(1, 0, domain.ZeroAddress, holderA, 5)
	bad.Transfer.Amount = decimal.NullDecimal{}

	require.NoError(t, h.runner.apply(ctx, bad))
	require.NoError(t, h.runner.apply(ctx, transferEvent(1, 1, domain.ZeroAddress, holderA, 5)))

	stats := h.runner.Stats()
	assert.Equal(t, int64(1), stats.MalformedEvents)
	assert.Equal(t, int64(1), stats.TransfersApplied)
	assert.Equal(t, uint64(1), stats.LastAppliedBlock)
}

func TestRunner_ContractEvents(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()

	ev := Event{Contract: &domain.ContractEvent{
		Kind:        domain.ContractEventApproval,
		Token:       testToken,
		TxHash:      "0xdead",
		LogIndex:    4,
		BlockNumber: 9,
		Params:      map[string]string{"owner": holderA, "spender": holderB, "value": "1"},
	}}
	require.NoError(t, h.runner.apply(ctx, ev))
	h.runner.flushArchive(ctx)

	stored, err := h.store.ContractEvents().Get(ctx, idhash.ContractEventKey("0xdead", 4))
	require.NoError(t, err)
	assert.Equal(t, domain.ContractEventApproval, stored.Kind)
	assert.Equal(t, 1, h.archive.ContractEventCount())
	assert.Equal(t, int64(1), h.runner.Stats().ContractEvents)

	archived, err := h.archive.ContractEventsByToken(ctx, testToken)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, idhash.ContractEventKey("0xdead", 4), archived[0].ID)
}

func TestRunner_ArchiveMirror(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()

	require.NoError(t, h.runner.apply(ctx, transferEvent(1, 0, domain.ZeroAddress, holderA, 100)))
	require.NoError(t, h.runner.apply(ctx, transferEvent(2, 0, holderA, holderB, 10)))
	h.runner.flushArchive(ctx)

	transfers, err := h.archive.TransfersByToken(ctx, testToken)
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, uint64(1), transfers[0].BlockNumber)

	snaps, err := h.archive.SnapshotsByToken(ctx, testToken)
	require.NoError(t, err)
	require.Len(t, snaps, 1, "both events fall in day 0")
	assert.Equal(t, uint64(2), snaps[0].DailyEventCount)
	assert.Equal(t, uint64(2), snaps[0].BlockNumber)

	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.SinkWrites.WithLabelValues("transfer_events")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.SinkWrites.WithLabelValues("token_daily_snapshots")))
}

type failingArchive struct{ *memory.ArchiveStore }

func (failingArchive) InsertTransfers(context.Context, []*domain.TransferEvent) error {
	return errors.New("clickhouse unavailable")
}

func TestRunner_ArchiveFailureIsNotFatal(t *testing.T) {
	h := newHarness(0)
	h.runner.archive = failingArchive{memory.NewArchiveStore()}
	ctx := context.Background()

	require.NoError(t, h.runner.apply(ctx, transferEvent(1, 0, domain.ZeroAddress, holderA, 1)))
	h.runner.flushArchive(ctx)

	assert.Equal(t, 1, h.transferCount(t))
	assert.Equal(t, int64(1), h.runner.Stats().ArchiveFailures)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.SinkErrors.WithLabelValues("transfer_events")))
	assert.Empty(t, h.runner.pendingTransfers)
}

func TestLatestSnapshots(t *testing.T) {
	snaps := []*domain.TokenDailySnapshot{
		{ID: "a", BlockNumber: 1},
		{ID: "b", BlockNumber: 2},
		{ID: "a", BlockNumber: 3},
	}

	out := latestSnapshots(snaps)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, uint64(3), out[0].BlockNumber)
	assert.Equal(t, "b", out[1].ID)
}
