// Package ingestion feeds decoded token logs to the aggregation engine in
// canonical chain order.
package ingestion

import (
	"context"

	"token-rollup/internal/domain"
)

// Event is one decoded token log. Exactly one of Transfer and Contract is set.
type Event struct {
	Transfer *domain.TransferLog
	Contract *domain.ContractEvent
}

// Position returns the chain position of the event.
func (e Event) Position() domain.Position {
	if e.Transfer != nil {
		return e.Transfer.Position()
	}
	if e.Contract != nil {
		return domain.Position{BlockNumber: e.Contract.BlockNumber, LogIndex: e.Contract.LogIndex}
	}
	return domain.Position{}
}

// BatchSource provides historical events by block range.
type BatchSource interface {
	// Fetch returns events in blocks [from, to] (inclusive).
	// Events may be unordered; callers enforce canonical ordering.
	Fetch(ctx context.Context, from, to uint64) ([]Event, error)
}

// StreamSource provides events as they arrive.
type StreamSource interface {
	// Subscribe returns a channel of events. The channel is closed when the
	// context is cancelled or the source fails.
	Subscribe(ctx context.Context) (<-chan Event, error)
}
