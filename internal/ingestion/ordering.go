package ingestion

import (
	"errors"
	"sort"
)

// ErrInvalidOrdering is returned when events are not properly ordered.
var ErrInvalidOrdering = errors.New("events are not in deterministic order")

// SortEvents orders events by (block_number ASC, log_index ASC).
// This provides deterministic ordering based on blockchain order.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareEvents(events[i], events[j]) < 0
	})
}

// ValidateOrdering checks if events are strictly ordered.
// Returns ErrInvalidOrdering if not.
func ValidateOrdering(events []Event) error {
	for i := 1; i < len(events); i++ {
		if compareEvents(events[i-1], events[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// compareEvents returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (block_number ASC, log_index ASC)
func compareEvents(a, b Event) int {
	return a.Position().Compare(b.Position())
}
