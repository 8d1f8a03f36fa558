package ingestion

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"token-rollup/internal/evm"
	"token-rollup/internal/observability"
)

// DefaultChunkSize is the default eth_getLogs block span.
const DefaultChunkSize = 2000

// RPCLogSource fetches token logs with eth_getLogs.
type RPCLogSource struct {
	rpc       evm.RPCClient
	decoder   *logDecoder
	tokens    []string
	chunkSize uint64
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// RPCLogSourceOptions contains configuration for creating an RPCLogSource.
type RPCLogSourceOptions struct {
	RPC    evm.RPCClient
	Tokens []string // token contracts to index; empty means every emitter

	// ChunkSize bounds the block span of a single eth_getLogs call. Default: 2000.
	ChunkSize uint64

	// FetchNonce resolves the sender nonce of each transfer's transaction.
	FetchNonce bool

	Logger  *zap.Logger
	Metrics *observability.Metrics // optional
}

// NewRPCLogSource creates a new RPC-based log source.
func NewRPCLogSource(opts RPCLogSourceOptions) *RPCLogSource {
	chunk := opts.ChunkSize
	if chunk == 0 {
		chunk = DefaultChunkSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RPCLogSource{
		rpc:       opts.RPC,
		decoder:   newLogDecoder(opts.RPC, opts.FetchNonce, logger, opts.Metrics),
		tokens:    opts.Tokens,
		chunkSize: chunk,
		metrics:   opts.Metrics,
		logger:    logger,
	}
}

// Compile-time interface check.
var _ BatchSource = (*RPCLogSource)(nil)

// Fetch returns decoded events in blocks [from, to], sorted canonically.
func (s *RPCLogSource) Fetch(ctx context.Context, from, to uint64) ([]Event, error) {
	if to < from {
		return nil, fmt.Errorf("invalid block range [%d, %d]", from, to)
	}

	var events []Event
	for start := from; start <= to; start += s.chunkSize {
		end := start + s.chunkSize - 1
		if end > to || end < start {
			end = to
		}

		logs, err := s.rpc.GetLogs(ctx, evm.LogFilter{
			FromBlock: start,
			ToBlock:   end,
			Addresses: s.tokens,
			Topics:    [][]string{evm.KnownTopics()},
		})
		if err != nil {
			return nil, fmt.Errorf("get logs [%d, %d]: %w", start, end, err)
		}
		if s.metrics != nil {
			s.metrics.LogsReceived.WithLabelValues("rpc").Add(float64(len(logs)))
		}
		s.logger.Debug("fetched logs",
			zap.Uint64("from", start), zap.Uint64("to", end), zap.Int("count", len(logs)))

		for _, l := range logs {
			ev, err := s.decoder.decode(ctx, l)
			if err != nil {
				return nil, err
			}
			if ev != nil {
				events = append(events, *ev)
			}
		}
		s.decoder.forget(end)

		if end == to {
			break
		}
	}

	SortEvents(events)
	return events, nil
}

// Head returns the latest block height reported by the node.
func (s *RPCLogSource) Head(ctx context.Context) (uint64, error) {
	return s.rpc.BlockNumber(ctx)
}
