package memory

import (
	"context"
	"sort"
	"sync"

	"token-rollup/internal/domain"
	"token-rollup/internal/storage"
)

// ArchiveStore is an in-memory implementation of storage.ArchiveStore.
// Records are replaced by key; for snapshots the higher block wins.
type ArchiveStore struct {
	mu             sync.RWMutex
	transfers      map[string]domain.TransferEvent
	snapshots      map[string]domain.TokenDailySnapshot
	contractEvents map[string]domain.ContractEvent
}

// NewArchiveStore creates a new in-memory archive store.
func NewArchiveStore() *ArchiveStore {
	return &ArchiveStore{
		transfers:      make(map[string]domain.TransferEvent),
		snapshots:      make(map[string]domain.TokenDailySnapshot),
		contractEvents: make(map[string]domain.ContractEvent),
	}
}

var _ storage.ArchiveStore = (*ArchiveStore)(nil)

// InsertTransfers appends transfer records.
func (s *ArchiveStore) InsertTransfers(_ context.Context, events []*domain.TransferEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		s.transfers[e.ID] = *e
	}
	return nil
}

// InsertSnapshots appends snapshot versions.
func (s *ArchiveStore) InsertSnapshots(_ context.Context, snaps []*domain.TokenDailySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range snaps {
		if snap == nil || snap.ID == "" {
			return storage.ErrInvalidInput
		}
		if cur, ok := s.snapshots[snap.ID]; ok && cur.BlockNumber > snap.BlockNumber {
			continue
		}
		s.snapshots[snap.ID] = *snap
	}
	return nil
}

// InsertContractEvents appends contract event records.
func (s *ArchiveStore) InsertContractEvents(_ context.Context, events []*domain.ContractEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		rec := *e
		rec.Params = copyParams(e.Params)
		s.contractEvents[e.ID] = rec
	}
	return nil
}

// TransfersByToken retrieves a token's transfers ordered by (block_number ASC, log_index ASC).
func (s *ArchiveStore) TransfersByToken(_ context.Context, token string) ([]*domain.TransferEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TransferEvent
	for _, e := range s.transfers {
		if e.Token == token {
			e := e
			result = append(result, &e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		pi := domain.Position{BlockNumber: result[i].BlockNumber, LogIndex: result[i].LogIndex}
		pj := domain.Position{BlockNumber: result[j].BlockNumber, LogIndex: result[j].LogIndex}
		return pi.Compare(pj) < 0
	})
	return result, nil
}

// SnapshotsByToken retrieves a token's latest snapshot per day ordered by day ASC.
func (s *ArchiveStore) SnapshotsByToken(_ context.Context, token string) ([]*domain.TokenDailySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TokenDailySnapshot
	for _, snap := range s.snapshots {
		if snap.Token == token {
			snap := snap
			result = append(result, &snap)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DayID < result[j].DayID
	})
	return result, nil
}

// ContractEventsByToken retrieves a token's contract events ordered by chain position.
func (s *ArchiveStore) ContractEventsByToken(_ context.Context, token string) ([]*domain.ContractEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ContractEvent
	for _, e := range s.contractEvents {
		if e.Token == token {
			e := e
			e.Params = copyParams(e.Params)
			result = append(result, &e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		pi := domain.Position{BlockNumber: result[i].BlockNumber, LogIndex: result[i].LogIndex}
		pj := domain.Position{BlockNumber: result[j].BlockNumber, LogIndex: result[j].LogIndex}
		return pi.Compare(pj) < 0
	})
	return result, nil
}

// ContractEventCount returns the number of archived contract events.
func (s *ArchiveStore) ContractEventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contractEvents)
}
