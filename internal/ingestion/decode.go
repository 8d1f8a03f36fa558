package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"token-rollup/internal/evm"
	"token-rollup/internal/observability"
)

// logDecoder turns raw logs into events, resolving block timestamps and
// sender nonces through RPC. Lookups are cached per block and per transaction.
type logDecoder struct {
	rpc        evm.RPCClient
	fetchNonce bool
	logger     *zap.Logger
	metrics    *observability.Metrics

	mu         sync.Mutex
	blockTimes map[uint64]int64
	nonces     map[string]uint64
}

func newLogDecoder(rpc evm.RPCClient, fetchNonce bool, logger *zap.Logger, metrics *observability.Metrics) *logDecoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &logDecoder{
		rpc:        rpc,
		fetchNonce: fetchNonce,
		logger:     logger,
		metrics:    metrics,
		blockTimes: make(map[uint64]int64),
		nonces:     make(map[string]uint64),
	}
}

// decode returns the event for a log, or nil if the log is dropped.
// Removed logs, unknown events and structurally invalid logs are dropped.
func (d *logDecoder) decode(ctx context.Context, l evm.Log) (*Event, error) {
	if l.Removed {
		d.logger.Warn("dropping removed log",
			zap.String("tx_hash", l.TxHash),
			zap.Uint32("log_index", l.LogIndex),
			zap.Uint64("block", l.BlockNumber),
		)
		if d.metrics != nil {
			d.metrics.RemovedLogsDropped.Inc()
		}
		return nil, nil
	}

	blockTime, err := d.blockTime(ctx, l)
	if err != nil {
		return nil, err
	}

	var nonce uint64
	if d.fetchNonce && len(l.Topics) > 0 && strings.EqualFold(l.Topics[0], evm.TopicTransfer) {
		nonce, err = d.nonce(ctx, l.TxHash)
		if err != nil {
			return nil, err
		}
	}

	decoded, err := evm.DecodeLog(l, blockTime, nonce)
	if errors.Is(err, evm.ErrUnknownEvent) {
		d.logger.Debug("ignoring unknown event", zap.String("tx_hash", l.TxHash), zap.Uint32("log_index", l.LogIndex))
		return nil, nil
	}
	if err != nil {
		d.logger.Warn("dropping undecodable log",
			zap.String("tx_hash", l.TxHash),
			zap.Uint32("log_index", l.LogIndex),
			zap.Error(err),
		)
		if d.metrics != nil {
			d.metrics.MalformedEvents.Inc()
		}
		return nil, nil
	}

	return &Event{Transfer: decoded.Transfer, Contract: decoded.Contract}, nil
}

func (d *logDecoder) blockTime(ctx context.Context, l evm.Log) (int64, error) {
	if l.BlockTimestamp != 0 {
		return l.BlockTimestamp, nil
	}

	d.mu.Lock()
	ts, ok := d.blockTimes[l.BlockNumber]
	d.mu.Unlock()
	if ok {
		return ts, nil
	}

	block, err := d.rpc.GetBlockByNumber(ctx, l.BlockNumber)
	if err != nil {
		return 0, fmt.Errorf("get block %d: %w", l.BlockNumber, err)
	}
	if block == nil {
		return 0, fmt.Errorf("get block %d: not found", l.BlockNumber)
	}

	d.mu.Lock()
	d.blockTimes[l.BlockNumber] = block.Timestamp
	d.mu.Unlock()
	return block.Timestamp, nil
}

func (d *logDecoder) nonce(ctx context.Context, txHash string) (uint64, error) {
	d.mu.Lock()
	n, ok := d.nonces[txHash]
	d.mu.Unlock()
	if ok {
		return n, nil
	}

	tx, err := d.rpc.GetTransactionByHash(ctx, txHash)
	if err != nil {
		return 0, fmt.Errorf("get transaction %s: %w", txHash, err)
	}
	if tx == nil {
		return 0, fmt.Errorf("get transaction %s: not found", txHash)
	}

	d.mu.Lock()
	d.nonces[txHash] = tx.Nonce
	d.mu.Unlock()
	return tx.Nonce, nil
}

// forget drops cached lookups for blocks below the given height.
func (d *logDecoder) forget(below uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for b := range d.blockTimes {
		if b < below {
			delete(d.blockTimes, b)
		}
	}
	if len(d.nonces) > 100000 {
		d.nonces = make(map[string]uint64)
	}
}
