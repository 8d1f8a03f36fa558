package ingestion

import (
	"context"

	"go.uber.org/zap"

	"token-rollup/internal/evm"
	"token-rollup/internal/observability"
)

// WSLogSource provides live token events via an eth_subscribe logs feed.
// Timestamps and nonces are resolved through RPC when the feed lacks them.
type WSLogSource struct {
	ws      evm.WSClient
	decoder *logDecoder
	tokens  []string
	metrics *observability.Metrics
	logger  *zap.Logger
}

// WSLogSourceOptions contains configuration for creating a WSLogSource.
type WSLogSourceOptions struct {
	WS         evm.WSClient
	RPC        evm.RPCClient
	Tokens     []string
	FetchNonce bool
	Logger     *zap.Logger
	Metrics    *observability.Metrics // optional
}

// NewWSLogSource creates a new WebSocket-based log source.
func NewWSLogSource(opts WSLogSourceOptions) *WSLogSource {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSLogSource{
		ws:      opts.WS,
		decoder: newLogDecoder(opts.RPC, opts.FetchNonce, logger, opts.Metrics),
		tokens:  opts.Tokens,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// Compile-time interface check.
var _ StreamSource = (*WSLogSource)(nil)

// Subscribe returns a channel of events from the live subscription.
// All tokens share one subscription so the node delivers logs in chain order.
// The channel is closed when the context is cancelled, the feed closes or
// a log cannot be resolved.
func (s *WSLogSource) Subscribe(ctx context.Context) (<-chan Event, error) {
	filter := evm.LogFilter{Addresses: s.tokens, Topics: [][]string{evm.KnownTopics()}}
	feed, err := s.ws.SubscribeLogs(ctx, filter)
	if err != nil {
		return nil, err
	}
	s.logger.Info("subscribed to token logs", zap.Strings("tokens", s.tokens))

	events := make(chan Event, 100)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case l, ok := <-feed:
				if !ok {
					s.logger.Warn("log feed closed")
					return
				}
				if s.metrics != nil {
					s.metrics.LogsReceived.WithLabelValues("ws").Inc()
				}

				ev, err := s.decoder.decode(ctx, l)
				if err != nil {
					// Stop before applying anything past the unresolved log
					s.logger.Error("failed to resolve log, closing feed",
						zap.String("tx_hash", l.TxHash),
						zap.Uint32("log_index", l.LogIndex),
						zap.Error(err),
					)
					return
				}
				if ev == nil {
					continue
				}

				select {
				case events <- *ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}
