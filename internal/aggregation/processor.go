// Package aggregation applies ERC-20 transfer logs to the aggregate store:
// balances, token supply and holder counts, transfer records and daily snapshots.
package aggregation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"token-rollup/internal/domain"
	"token-rollup/internal/idhash"
	"token-rollup/internal/observability"
	"token-rollup/internal/storage"
)

// DefaultStream is the watermark stream name used when none is configured.
const DefaultStream = "transfers"

// Result describes the outcome of applying one transfer log.
type Result struct {
	Event    *domain.TransferEvent
	Token    *domain.Token
	Snapshot *domain.TokenDailySnapshot
	IsMint   bool
	IsBurn   bool

	// Skipped is set when the log is at or behind the stream watermark
	// and was not applied again.
	Skipped bool

	// OutOfOrder is set alongside Skipped when the log is behind the
	// watermark but its transfer record does not exist: it arrived after a
	// later position was applied and was never counted.
	OutOfOrder bool

	// Violations lists advisory invariant breaches. They do not fail the event.
	Violations []Violation
}

// ProcessorOptions contains configuration for creating a Processor.
type ProcessorOptions struct {
	Store    storage.AggregateStore
	Metadata MetadataResolver
	Logger   *zap.Logger
	Metrics  *observability.Metrics // optional

	// Stream names the watermark cursor. Defaults to DefaultStream.
	Stream string

	// DisableWatermark turns off the processed-event watermark. Re-applying a
	// log then overwrites its transfer record but counts it again.
	DisableWatermark bool
}

// Processor applies transfer logs one at a time in canonical chain order.
// It is not safe for concurrent use.
type Processor struct {
	store     storage.AggregateStore
	metadata  MetadataResolver
	logger    *zap.Logger
	metrics   *observability.Metrics
	stream    string
	watermark bool
}

// NewProcessor creates a new transfer processor.
func NewProcessor(opts ProcessorOptions) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stream := opts.Stream
	if stream == "" {
		stream = DefaultStream
	}
	return &Processor{
		store:     opts.Store,
		metadata:  opts.Metadata,
		logger:    logger,
		metrics:   opts.Metrics,
		stream:    stream,
		watermark: !opts.DisableWatermark,
	}
}

// Process applies one transfer log. All of its writes commit together or not at all.
// Returns *MalformedEventError for invalid input and *StorageFaultError when
// the store fails; advisory violations are reported on the Result.
func (p *Processor) Process(ctx context.Context, log *domain.TransferLog) (*Result, error) {
	start := time.Now()

	if err := validate(log); err != nil {
		p.logger.Warn("rejecting malformed transfer", zap.Error(err))
		if p.metrics != nil {
			p.metrics.MalformedEvents.Inc()
		}
		return nil, err
	}

	ev := normalize(log)
	var res *Result

	err := p.store.Atomic(ctx, func(tx storage.Aggregates) error {
		res = &Result{}

		if p.watermark {
			behind, err := p.behindWatermark(ctx, tx, ev.Position())
			if err != nil {
				return err
			}
			if behind {
				res.Skipped = true
				applied, err := p.recorded(ctx, tx, ev)
				if err != nil {
					return err
				}
				res.OutOfOrder = !applied
				return nil
			}
		}

		if err := p.apply(ctx, tx, ev, res); err != nil {
			return err
		}

		if p.watermark {
			cursor := &domain.Cursor{Stream: p.stream, Position: ev.Position()}
			if err := tx.Cursors().Set(ctx, cursor); err != nil {
				return fault("advance watermark", err)
			}
		}
		return nil
	})
	if err != nil {
		var sf *StorageFaultError
		if !errors.As(err, &sf) {
			err = fault("commit", err)
		}
		p.logger.Error("transfer not applied",
			zap.String("tx_hash", ev.TxHash),
			zap.Uint32("log_index", ev.LogIndex),
			zap.Error(err),
		)
		if p.metrics != nil {
			p.metrics.StorageFaults.Inc()
		}
		return nil, err
	}

	p.report(ev, res, time.Since(start))
	return res, nil
}

func (p *Processor) behindWatermark(ctx context.Context, tx storage.Aggregates, pos domain.Position) (bool, error) {
	cursor, err := tx.Cursors().Get(ctx, p.stream)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fault("load watermark", err)
	}
	return pos.Compare(cursor.Position) <= 0, nil
}

// recorded reports whether a transfer record exists for the log's position.
func (p *Processor) recorded(ctx context.Context, tx storage.Aggregates, ev *domain.TransferLog) (bool, error) {
	_, err := tx.Transfers().Get(ctx, idhash.TransferRecordKey(ev.TxHash, ev.LogIndex))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fault("load transfer record", err)
	}
	return true, nil
}

func (p *Processor) apply(ctx context.Context, tx storage.Aggregates, ev *domain.TransferLog, res *Result) error {
	tokens := NewTokenManager(tx.Tokens(), p.metadata)
	ledger := NewLedger(tx.Balances())
	roller := NewRoller(tx.Snapshots())

	amount := ev.Amount.Decimal
	pos := ev.Position()
	selfTransfer := ev.From == ev.To

	// 1. Token and accounts
	token, err := tokens.GetOrCreate(ctx, ev.Token, ev.BlockNumber)
	if err != nil {
		return fault("load token", err)
	}
	if err := tx.Accounts().Upsert(ctx, &domain.Account{Address: ev.From}); err != nil {
		return fault("upsert sender account", err)
	}
	if !selfTransfer {
		if err := tx.Accounts().Upsert(ctx, &domain.Account{Address: ev.To}); err != nil {
			return fault("upsert receiver account", err)
		}
	}

	// 2. Balances, sharing one position for self-transfers
	sender, err := ledger.Open(ctx, ev.From, ev.Token)
	if err != nil {
		return fault("load sender balance", err)
	}
	receiver := sender
	if !selfTransfer {
		receiver, err = ledger.Open(ctx, ev.To, ev.Token)
		if err != nil {
			return fault("load receiver balance", err)
		}
	}

	// 3-4. Classification and token counters
	isMint, isBurn := Classify(ev.From, ev.To)
	res.IsMint, res.IsBurn = isMint, isBurn

	tokens.RecordTransfer(token)
	if isMint {
		tokens.RecordMint(token, amount)
	}
	if isBurn {
		tokens.RecordBurn(token, amount)
	}

	// 5. Balance deltas. The zero address is the supply source on mint and
	// the supply sink on burn, so its balance does not move in either case.
	if isMint {
		sender.Touch(ev.BlockNumber)
	} else {
		sender.ApplyDelta(amount.Neg(), ev.BlockNumber)
	}
	if isBurn {
		receiver.Touch(ev.BlockNumber)
	} else {
		receiver.ApplyDelta(amount, ev.BlockNumber)
	}

	for _, bp := range distinct(sender, receiver) {
		if bp.Balance().Amount.IsNegative() {
			res.Violations = append(res.Violations, Violation{
				Kind:     ViolationNegativeBalance,
				Token:    ev.Token,
				Account:  bp.Balance().Account,
				Value:    bp.Balance().Amount.String(),
				Position: pos,
			})
		}
	}

	// 6. Holder transitions from pre/post state
	if v := tokens.AdjustHolderCount(token, sender.HadPositiveBalance(), sender.IsPositive(), SideSender); v != nil {
		v.Position = pos
		res.Violations = append(res.Violations, *v)
	}
	if v := tokens.AdjustHolderCount(token, receiver.HadPositiveBalance(), receiver.IsPositive(), SideReceiver); v != nil {
		v.Position = pos
		res.Violations = append(res.Violations, *v)
	}
	token.UpdatedBlock = ev.BlockNumber

	// 7. Transfer record
	record := &domain.TransferEvent{
		ID:          idhash.TransferRecordKey(ev.TxHash, ev.LogIndex),
		TxHash:      ev.TxHash,
		LogIndex:    ev.LogIndex,
		Nonce:       ev.TxNonce,
		Token:       ev.Token,
		From:        ev.From,
		To:          ev.To,
		Amount:      amount,
		BlockNumber: ev.BlockNumber,
		Timestamp:   ev.Timestamp,
	}

	// 8. Commit
	if err := tokens.Commit(ctx, token); err != nil {
		return fault("upsert token", err)
	}
	for _, bp := range distinct(sender, receiver) {
		if err := ledger.Commit(ctx, bp); err != nil {
			return fault("upsert balance", err)
		}
	}
	if err := tx.Transfers().Upsert(ctx, record); err != nil {
		return fault("upsert transfer record", err)
	}

	// 9. Daily snapshot from post-transfer token state
	snap, err := roller.Rollup(ctx, token, ev.BlockNumber, ev.Timestamp, isMint, isBurn, amount)
	if err != nil {
		return fault("rollup snapshot", err)
	}

	res.Event = record
	res.Token = token
	res.Snapshot = snap
	return nil
}

// RecordContractEvent stores a decoded non-Transfer contract event and
// returns the stored record with its ID set. Records are keyed by chain
// position, so repeated delivery overwrites in place.
func (p *Processor) RecordContractEvent(ctx context.Context, e *domain.ContractEvent) (*domain.ContractEvent, error) {
	if e == nil || e.TxHash == "" || e.Token == "" || e.Kind == "" {
		return nil, &MalformedEventError{Field: "contract_event", Reason: "missing tx hash, token or kind"}
	}

	rec := *e
	rec.TxHash = domain.NormalizeAddress(e.TxHash)
	rec.Token = domain.NormalizeAddress(e.Token)
	rec.ID = idhash.ContractEventKey(rec.TxHash, rec.LogIndex)

	if err := p.store.ContractEvents().Upsert(ctx, &rec); err != nil {
		if p.metrics != nil {
			p.metrics.StorageFaults.Inc()
		}
		return nil, fault("upsert contract event", err)
	}
	if p.metrics != nil {
		p.metrics.ContractEventsRecorded.WithLabelValues(string(rec.Kind)).Inc()
	}
	return &rec, nil
}

func (p *Processor) report(ev *domain.TransferLog, res *Result, elapsed time.Duration) {
	if res.OutOfOrder {
		p.logger.Warn("transfer arrived behind watermark and was never applied",
			zap.String("tx_hash", ev.TxHash),
			zap.Uint32("log_index", ev.LogIndex),
			zap.Uint64("block", ev.BlockNumber),
			zap.String("token", ev.Token),
		)
		if p.metrics != nil {
			p.metrics.OutOfOrderEvents.Inc()
		}
		return
	}
	if res.Skipped {
		p.logger.Debug("transfer behind watermark, skipped",
			zap.String("tx_hash", ev.TxHash),
			zap.Uint32("log_index", ev.LogIndex),
			zap.Uint64("block", ev.BlockNumber),
		)
		if p.metrics != nil {
			p.metrics.EventsSkipped.Inc()
		}
		return
	}

	for _, v := range res.Violations {
		p.logger.Warn("invariant violation",
			zap.String("kind", string(v.Kind)),
			zap.String("token", v.Token),
			zap.String("account", v.Account),
			zap.String("value", v.Value),
			zap.Uint64("block", v.Position.BlockNumber),
			zap.Uint32("log_index", v.Position.LogIndex),
		)
		if p.metrics != nil {
			p.metrics.InvariantViolations.WithLabelValues(string(v.Kind)).Inc()
		}
	}

	if p.metrics != nil {
		p.metrics.EventsProcessed.Inc()
		p.metrics.EventProcessingLatency.Observe(elapsed.Seconds())
		p.metrics.LastProcessedBlock.Set(float64(ev.BlockNumber))
	}
}

func validate(log *domain.TransferLog) error {
	if log == nil {
		return &MalformedEventError{Field: "log", Reason: "nil"}
	}

	bad := func(field, reason string) error {
		return &MalformedEventError{TxHash: log.TxHash, LogIndex: log.LogIndex, Field: field, Reason: reason}
	}

	switch {
	case log.Removed:
		return bad("removed", "log was removed from the canonical chain")
	case log.TxHash == "":
		return bad("tx_hash", "missing")
	case log.Token == "":
		return bad("token", "missing")
	case log.From == "":
		return bad("from", "missing")
	case log.To == "":
		return bad("to", "missing")
	case !log.Amount.Valid:
		return bad("amount", "missing")
	case log.Amount.Decimal.IsNegative():
		return bad("amount", "negative")
	case !log.Amount.Decimal.Equal(log.Amount.Decimal.Truncate(0)):
		return bad("amount", "not an integer")
	}
	return nil
}

func normalize(log *domain.TransferLog) *domain.TransferLog {
	ev := *log
	ev.TxHash = domain.NormalizeAddress(log.TxHash)
	ev.Token = domain.NormalizeAddress(log.Token)
	ev.From = domain.NormalizeAddress(log.From)
	ev.To = domain.NormalizeAddress(log.To)
	return &ev
}

func distinct(a, b *Position) []*Position {
	if a == b {
		return []*Position{a}
	}
	return []*Position{a, b}
}
