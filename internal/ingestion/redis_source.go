package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"token-rollup/internal/domain"
	"token-rollup/internal/observability"
)

// payloadField is the stream entry field holding the JSON-encoded event.
const payloadField = "event"

// StreamMessage is the wire form of an event on a Redis stream.
// Kind is "Transfer" or a contract event kind.
type StreamMessage struct {
	Kind        string              `json:"kind"`
	TxHash      string              `json:"tx_hash"`
	LogIndex    uint32              `json:"log_index"`
	Nonce       uint64              `json:"nonce,omitempty"`
	BlockNumber uint64              `json:"block_number"`
	Timestamp   int64               `json:"timestamp"`
	Token       string              `json:"token"`
	From        string              `json:"from,omitempty"`
	To          string              `json:"to,omitempty"`
	Amount      decimal.NullDecimal `json:"amount"`
	Removed     bool                `json:"removed,omitempty"`
	Params      map[string]string   `json:"params,omitempty"`
}

const kindTransfer = "Transfer"

// Event converts the message into an Event.
func (m *StreamMessage) Event() (Event, error) {
	if m.Kind == "" {
		return Event{}, errors.New("missing kind")
	}
	if m.Kind == kindTransfer {
		return Event{Transfer: &domain.TransferLog{
			TxHash:      m.TxHash,
			LogIndex:    m.LogIndex,
			TxNonce:     m.Nonce,
			BlockNumber: m.BlockNumber,
			Timestamp:   m.Timestamp,
			Token:       m.Token,
			From:        m.From,
			To:          m.To,
			Amount:      m.Amount,
			Removed:     m.Removed,
		}}, nil
	}
	return Event{Contract: &domain.ContractEvent{
		Kind:        domain.ContractEventKind(m.Kind),
		Token:       m.Token,
		TxHash:      m.TxHash,
		LogIndex:    m.LogIndex,
		BlockNumber: m.BlockNumber,
		Timestamp:   m.Timestamp,
		Params:      m.Params,
	}}, nil
}

// NewStreamMessage converts an Event into its wire form.
func NewStreamMessage(ev Event) (*StreamMessage, error) {
	switch {
	case ev.Transfer != nil:
		t := ev.Transfer
		return &StreamMessage{
			Kind:        kindTransfer,
			TxHash:      t.TxHash,
			LogIndex:    t.LogIndex,
			Nonce:       t.TxNonce,
			BlockNumber: t.BlockNumber,
			Timestamp:   t.Timestamp,
			Token:       t.Token,
			From:        t.From,
			To:          t.To,
			Amount:      t.Amount,
			Removed:     t.Removed,
		}, nil
	case ev.Contract != nil:
		c := ev.Contract
		return &StreamMessage{
			Kind:        string(c.Kind),
			TxHash:      c.TxHash,
			LogIndex:    c.LogIndex,
			BlockNumber: c.BlockNumber,
			Timestamp:   c.Timestamp,
			Token:       c.Token,
			Params:      c.Params,
		}, nil
	}
	return nil, errors.New("empty event")
}

// RedisStreamConfig configures a RedisStreamSource.
type RedisStreamConfig struct {
	// Stream is the Redis stream name to consume from (required).
	Stream string

	// LastID is the starting position: "0" reads from the beginning,
	// "$" only new entries. Default: "0".
	LastID string

	// Count is the max number of entries to read per batch. Default: 100.
	Count int64

	// Block is how long XREAD waits for new entries. Default: 5 seconds.
	Block time.Duration

	// RetryInterval is how long to wait before retrying after an error.
	// Doubles up to MaxRetryInterval. Defaults: 1s and 30s.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration

	Logger  *zap.Logger
	Metrics *observability.Metrics // optional
}

// RedisStreamSource consumes JSON-encoded events from a Redis stream.
// Entries are read in stream order, which producers must keep canonical.
type RedisStreamSource struct {
	client *redis.Client
	config RedisStreamConfig
	logger *zap.Logger
}

// NewRedisStreamSource creates a new stream source.
func NewRedisStreamSource(client *redis.Client, config RedisStreamConfig) (*RedisStreamSource, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Stream == "" {
		return nil, errors.New("stream name is required")
	}

	if config.LastID == "" {
		config.LastID = "0"
	}
	if config.Count == 0 {
		config.Count = 100
	}
	if config.Block == 0 {
		config.Block = 5 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = 1 * time.Second
	}
	if config.MaxRetryInterval == 0 {
		config.MaxRetryInterval = 30 * time.Second
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisStreamSource{client: client, config: config, logger: logger}, nil
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Compile-time interface check.
var _ StreamSource = (*RedisStreamSource)(nil)

// Publish appends an event to the stream and returns its entry ID.
func (s *RedisStreamSource) Publish(ctx context.Context, ev Event) (string, error) {
	msg, err := NewStreamMessage(ev)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.config.Stream,
		Values: map[string]interface{}{payloadField: payload},
	}).Result()
}

// Subscribe starts consuming the stream. Read errors are retried with
// exponential backoff; undecodable entries are logged and skipped.
func (s *RedisStreamSource) Subscribe(ctx context.Context) (<-chan Event, error) {
	events := make(chan Event, s.config.Count)

	go func() {
		defer close(events)

		lastID := s.config.LastID
		retryInterval := s.config.RetryInterval

		for {
			if ctx.Err() != nil {
				return
			}

			streams, err := s.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{s.config.Stream, lastID},
				Count:   s.config.Count,
				Block:   s.config.Block,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if errors.Is(err, redis.Nil) {
					// No entries within the block window
					continue
				}

				s.logger.Warn("error reading from stream, will retry",
					zap.String("stream", s.config.Stream),
					zap.Error(err),
					zap.Duration("retry_in", retryInterval))

				select {
				case <-time.After(retryInterval):
					retryInterval = min(retryInterval*2, s.config.MaxRetryInterval)
				case <-ctx.Done():
					return
				}
				continue
			}
			retryInterval = s.config.RetryInterval

			for _, stream := range streams {
				for _, entry := range stream.Messages {
					lastID = entry.ID
					if s.config.Metrics != nil {
						s.config.Metrics.LogsReceived.WithLabelValues("redis").Inc()
					}

					ev, err := decodeEntry(entry)
					if err != nil {
						s.logger.Warn("skipping undecodable stream entry",
							zap.String("stream", s.config.Stream),
							zap.String("id", entry.ID),
							zap.Error(err))
						if s.config.Metrics != nil {
							s.config.Metrics.MalformedEvents.Inc()
						}
						continue
					}

					select {
					case events <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return events, nil
}

func decodeEntry(entry redis.XMessage) (Event, error) {
	raw, ok := entry.Values[payloadField]
	if !ok {
		return Event{}, fmt.Errorf("missing %q field", payloadField)
	}

	var payload []byte
	switch v := raw.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		return Event{}, fmt.Errorf("payload type %T not supported", raw)
	}

	var msg StreamMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return msg.Event()
}
