package ingestion

import (
	"errors"
	"testing"

	"token-rollup/internal/domain"
)

func transferAt(block uint64, logIndex uint32) Event {
	return Event{Transfer: &domain.TransferLog{BlockNumber: block, LogIndex: logIndex}}
}

func contractAt(block uint64, logIndex uint32) Event {
	return Event{Contract: &domain.ContractEvent{BlockNumber: block, LogIndex: logIndex}}
}

func TestSortEvents(t *testing.T) {
	// Intentionally unordered events
	events := []Event{
		transferAt(200, 0),
		transferAt(100, 3),
		contractAt(100, 1),
		transferAt(100, 0),
		transferAt(300, 0),
	}

	SortEvents(events)

	expected := []domain.Position{
		{BlockNumber: 100, LogIndex: 0},
		{BlockNumber: 100, LogIndex: 1},
		{BlockNumber: 100, LogIndex: 3},
		{BlockNumber: 200, LogIndex: 0},
		{BlockNumber: 300, LogIndex: 0},
	}

	for i, exp := range expected {
		if got := events[i].Position(); got != exp {
			t.Errorf("Index %d: got (%d, %d), want (%d, %d)",
				i, got.BlockNumber, got.LogIndex, exp.BlockNumber, exp.LogIndex)
		}
	}
	if events[1].Contract == nil {
		t.Error("contract event should keep its slot between transfers")
	}
}

func TestSortEvents_Empty(t *testing.T) {
	var events []Event
	SortEvents(events) // Should not panic
}

func TestSortEvents_SingleElement(t *testing.T) {
	events := []Event{transferAt(100, 0)}
	SortEvents(events)
	if events[0].Position().BlockNumber != 100 {
		t.Error("Single element should remain unchanged")
	}
}

func TestValidateOrdering(t *testing.T) {
	tests := []struct {
		name    string
		events  []Event
		wantErr bool
	}{
		{"empty", nil, false},
		{"single", []Event{transferAt(1, 0)}, false},
		{"ordered", []Event{transferAt(1, 0), transferAt(1, 1), contractAt(2, 0)}, false},
		{"block regression", []Event{transferAt(2, 0), transferAt(1, 5)}, true},
		{"log index regression", []Event{transferAt(1, 5), transferAt(1, 4)}, true},
		{"duplicate position", []Event{transferAt(1, 5), contractAt(1, 5)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrdering(tt.events)
			if tt.wantErr && !errors.Is(err, ErrInvalidOrdering) {
				t.Errorf("expected ErrInvalidOrdering, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestEventPosition_Empty(t *testing.T) {
	if (Event{}).Position() != (domain.Position{}) {
		t.Error("empty event should have zero position")
	}
}
