package stub

import (
	"context"

	"token-rollup/internal/ingestion"
)

// BatchSource returns fixed in-memory events for testing.
// Events can be intentionally unordered to test sorting.
// Implements ingestion.BatchSource interface.
type BatchSource struct {
	events []ingestion.Event

	// Calls records every requested range.
	Calls [][2]uint64
}

// NewBatchSource creates a new stub batch source with the given events.
func NewBatchSource(events []ingestion.Event) *BatchSource {
	return &BatchSource{events: events}
}

// Fetch returns events whose block lies in [from, to].
func (s *BatchSource) Fetch(_ context.Context, from, to uint64) ([]ingestion.Event, error) {
	s.Calls = append(s.Calls, [2]uint64{from, to})

	var result []ingestion.Event
	for _, ev := range s.events {
		block := ev.Position().BlockNumber
		if block >= from && block <= to {
			result = append(result, ev)
		}
	}
	return result, nil
}

// StreamSource delivers events pushed through Send.
// Implements ingestion.StreamSource interface.
type StreamSource struct {
	ch chan ingestion.Event
}

// NewStreamSource creates a stream source with the given buffer size.
func NewStreamSource(buffer int) *StreamSource {
	return &StreamSource{ch: make(chan ingestion.Event, buffer)}
}

// Subscribe returns the source channel.
func (s *StreamSource) Subscribe(_ context.Context) (<-chan ingestion.Event, error) {
	return s.ch, nil
}

// Send pushes an event to subscribers.
func (s *StreamSource) Send(ev ingestion.Event) {
	s.ch <- ev
}

// Close closes the source channel.
func (s *StreamSource) Close() {
	close(s.ch)
}
