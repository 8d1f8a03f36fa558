package ingestion

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"token-rollup/internal/aggregation"
	"token-rollup/internal/domain"
	"token-rollup/internal/observability"
	"token-rollup/internal/storage"
)

// ErrSourceClosed is returned by Run when the event source stops delivering.
var ErrSourceClosed = errors.New("event source closed")

// Runner applies events to the aggregation engine in canonical order and
// mirrors applied records into an optional archive store.
type Runner struct {
	processor     *aggregation.Processor
	archive       storage.ArchiveStore
	blockLag      uint64        // Number of blocks to buffer for ordering
	flushInterval time.Duration // Interval for periodic buffer flush
	batchSize     int           // Archive batch size
	metrics       *observability.Metrics
	logger        *zap.Logger

	// Block-based buffer for deterministic ordering
	// Events are grouped by block and applied once the block is behind the head by blockLag
	buffer       map[uint64][]Event
	highestBlock uint64

	// Pending archive writes
	pendingTransfers []*domain.TransferEvent
	pendingSnapshots []*domain.TokenDailySnapshot
	pendingContracts []*domain.ContractEvent

	stats RunnerStats
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Processor     *aggregation.Processor
	Archive       storage.ArchiveStore // optional
	BlockLag      uint64               // Default: 0 - apply a block as soon as a later one arrives
	FlushInterval time.Duration        // Default: 5s - force flush of confirmed blocks and archive batch
	BatchSize     int                  // Default: 500
	Metrics       *observability.Metrics
	Logger        *zap.Logger
}

// RunnerStats counts what the runner has applied.
type RunnerStats struct {
	TransfersApplied int64
	TransfersSkipped int64
	OutOfOrderEvents int64 // behind the watermark and never applied
	MalformedEvents  int64
	ContractEvents   int64
	Violations       int64
	ArchiveFailures  int64
	LastAppliedBlock uint64
	LastAppliedAt    time.Time
}

// NewRunner creates a new ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	flushInterval := opts.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = 500
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		processor:     opts.Processor,
		archive:       opts.Archive,
		blockLag:      opts.BlockLag,
		flushInterval: flushInterval,
		batchSize:     batchSize,
		metrics:       opts.Metrics,
		logger:        logger,
		buffer:        make(map[uint64][]Event),
	}
}

// Stats returns current runner statistics.
func (r *Runner) Stats() RunnerStats {
	return r.stats
}

// Run consumes a stream source until the context is cancelled, the source
// closes or a storage fault occurs. Buffered events are flushed before return.
func (r *Runner) Run(ctx context.Context, src StreamSource) error {
	events, err := src.Subscribe(ctx)
	if err != nil {
		return err
	}

	flushTicker := time.NewTicker(r.flushInterval)
	defer flushTicker.Stop()

	r.logger.Info("runner started",
		zap.Uint64("block_lag", r.blockLag),
		zap.Duration("flush_interval", r.flushInterval))

	for {
		select {
		case <-ctx.Done():
			// Use a fresh context so that shutdown still drains the buffer
			drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := r.flushAll(drainCtx)
			cancel()
			r.logger.Info("runner stopping")
			if err != nil {
				return err
			}
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				if err := r.flushAll(ctx); err != nil {
					return err
				}
				r.logger.Warn("event source closed")
				return ErrSourceClosed
			}
			if err := r.bufferEvent(ctx, ev); err != nil {
				return err
			}

		case <-flushTicker.C:
			// Periodic flush: apply confirmed blocks (respects blockLag)
			// and push the archive batch even when no new blocks arrive
			if err := r.processConfirmedBlocks(ctx); err != nil {
				return err
			}
			r.flushArchive(ctx)
		}
	}
}

// bufferEvent adds an event to the block buffer and applies confirmed blocks.
func (r *Runner) bufferEvent(ctx context.Context, ev Event) error {
	block := ev.Position().BlockNumber

	if r.isConfirmed(block) && len(r.buffer[block]) == 0 {
		// Late event for an already-applied block: the watermark decides
		// whether it is a redelivery or was never applied
		return r.apply(ctx, ev)
	}

	r.buffer[block] = append(r.buffer[block], ev)
	if block > r.highestBlock {
		r.highestBlock = block
		if r.metrics != nil {
			r.metrics.HighestBlockSeen.Set(float64(block))
		}
		if err := r.processConfirmedBlocks(ctx); err != nil {
			return err
		}
	}
	r.setBufferGauge()
	return nil
}

// isConfirmed reports whether a block is at least blockLag behind the head.
// With a zero lag the head block itself is unconfirmed until a later block arrives.
func (r *Runner) isConfirmed(block uint64) bool {
	if r.highestBlock < r.blockLag {
		return false
	}
	confirmed := r.highestBlock - r.blockLag
	return block < confirmed || (block == confirmed && r.blockLag > 0)
}

// processConfirmedBlocks applies every buffered confirmed block.
func (r *Runner) processConfirmedBlocks(ctx context.Context) error {
	var blocks []uint64
	for block := range r.buffer {
		if r.isConfirmed(block) {
			blocks = append(blocks, block)
		}
	}
	return r.processBlocks(ctx, blocks)
}

// flushAll applies every buffered block and flushes the archive batch.
func (r *Runner) flushAll(ctx context.Context) error {
	blocks := make([]uint64, 0, len(r.buffer))
	for block := range r.buffer {
		blocks = append(blocks, block)
	}
	if err := r.processBlocks(ctx, blocks); err != nil {
		return err
	}
	r.flushArchive(ctx)
	return nil
}

func (r *Runner) processBlocks(ctx context.Context, blocks []uint64) error {
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	for _, block := range blocks {
		events := r.buffer[block]
		SortEvents(events)
		for i, ev := range events {
			if err := r.apply(ctx, ev); err != nil {
				// Keep the unapplied remainder for a retry after restart
				r.buffer[block] = events[i:]
				r.setBufferGauge()
				return err
			}
		}
		delete(r.buffer, block)
	}
	r.setBufferGauge()
	return nil
}

func (r *Runner) setBufferGauge() {
	if r.metrics != nil {
		r.metrics.BufferSize.Set(float64(len(r.buffer)))
	}
}

// apply hands one event to the processor. Malformed events are counted and
// skipped; storage faults stop ingestion.
func (r *Runner) apply(ctx context.Context, ev Event) error {
	switch {
	case ev.Transfer != nil:
		res, err := r.processor.Process(ctx, ev.Transfer)
		var malformed *aggregation.MalformedEventError
		if errors.As(err, &malformed) {
			r.stats.MalformedEvents++
			return nil
		}
		if err != nil {
			return err
		}
		if res.OutOfOrder {
			r.stats.OutOfOrderEvents++
			return nil
		}
		if res.Skipped {
			r.stats.TransfersSkipped++
			return nil
		}
		r.stats.TransfersApplied++
		r.stats.Violations += int64(len(res.Violations))
		r.queueArchive(ctx, res.Event, res.Snapshot, nil)

	case ev.Contract != nil:
		rec, err := r.processor.RecordContractEvent(ctx, ev.Contract)
		var malformed *aggregation.MalformedEventError
		if errors.As(err, &malformed) {
			r.stats.MalformedEvents++
			return nil
		}
		if err != nil {
			return err
		}
		r.stats.ContractEvents++
		r.queueArchive(ctx, nil, nil, rec)

	default:
		return nil
	}

	pos := ev.Position()
	r.stats.LastAppliedBlock = pos.BlockNumber
	r.stats.LastAppliedAt = time.Now()
	if r.metrics != nil {
		r.metrics.LastSuccessfulIngestion.SetToCurrentTime()
	}
	return nil
}

func (r *Runner) queueArchive(ctx context.Context, te *domain.TransferEvent, snap *domain.TokenDailySnapshot, ce *domain.ContractEvent) {
	if r.archive == nil {
		return
	}
	if te != nil {
		r.pendingTransfers = append(r.pendingTransfers, te)
	}
	if snap != nil {
		r.pendingSnapshots = append(r.pendingSnapshots, snap)
	}
	if ce != nil {
		r.pendingContracts = append(r.pendingContracts, ce)
	}
	if len(r.pendingTransfers)+len(r.pendingSnapshots)+len(r.pendingContracts) >= r.batchSize {
		r.flushArchive(ctx)
	}
}

// flushArchive writes pending archive records. Failures are logged and
// counted; the aggregate store stays authoritative.
func (r *Runner) flushArchive(ctx context.Context) {
	if r.archive == nil {
		return
	}

	if len(r.pendingTransfers) > 0 {
		r.writeArchive("transfer_events", len(r.pendingTransfers), func() error {
			return r.archive.InsertTransfers(ctx, r.pendingTransfers)
		})
		r.pendingTransfers = nil
	}

	if len(r.pendingSnapshots) > 0 {
		snaps := latestSnapshots(r.pendingSnapshots)
		r.writeArchive("token_daily_snapshots", len(snaps), func() error {
			return r.archive.InsertSnapshots(ctx, snaps)
		})
		r.pendingSnapshots = nil
	}

	if len(r.pendingContracts) > 0 {
		r.writeArchive("contract_events", len(r.pendingContracts), func() error {
			return r.archive.InsertContractEvents(ctx, r.pendingContracts)
		})
		r.pendingContracts = nil
	}
}

func (r *Runner) writeArchive(table string, rows int, write func() error) {
	if err := write(); err != nil {
		r.stats.ArchiveFailures++
		r.logger.Error("archive write failed",
			zap.String("table", table), zap.Int("rows", rows), zap.Error(err))
		if r.metrics != nil {
			r.metrics.SinkErrors.WithLabelValues(table).Inc()
		}
		return
	}
	if r.metrics != nil {
		r.metrics.SinkWrites.WithLabelValues(table).Add(float64(rows))
	}
}

// latestSnapshots keeps the last version of each snapshot, in first-seen order.
func latestSnapshots(snaps []*domain.TokenDailySnapshot) []*domain.TokenDailySnapshot {
	index := make(map[string]int, len(snaps))
	var out []*domain.TokenDailySnapshot
	for _, s := range snaps {
		if i, ok := index[s.ID]; ok {
			out[i] = s
			continue
		}
		index[s.ID] = len(out)
		out = append(out, s)
	}
	return out
}
