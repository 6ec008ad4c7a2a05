package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/snowtrail/snowtrail/internal/payload"
	"github.com/snowtrail/snowtrail/pkg/types"
)

// MemoryStore is a bounded in-process store. Its contents do not survive a
// restart.
type MemoryStore struct {
	*capacityGuard

	mu     sync.Mutex
	rows   []Row
	ids    *types.ULIDGenerator
	closed bool
}

// NewMemoryStore creates a store holding at most capacity rows.
func NewMemoryStore(capacity int, logger *slog.Logger) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		capacityGuard: newCapacityGuard(capacity, logger),
		ids:           types.NewULIDGenerator(),
	}
}

func (s *MemoryStore) Add(_ context.Context, p *payload.Payload) (types.RowID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}
	if err := s.admit(int64(len(s.rows))); err != nil {
		return "", err
	}

	id, err := s.ids.Generate()
	if err != nil {
		return "", err
	}
	rowID := types.RowID(id.String())
	s.rows = append(s.rows, Row{ID: rowID, Payload: p.Clone()})
	return rowID, nil
}

func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

func (s *MemoryStore) Range(_ context.Context, limit int) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := clampLimit(limit, len(s.rows))
	out := make([]Row, n)
	for i := 0; i < n; i++ {
		out[i] = Row{ID: s.rows[i].ID, Payload: s.rows[i].Payload.Clone()}
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, ids []types.RowID) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[types.RowID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rows[:0]
	for _, r := range s.rows {
		if _, ok := drop[r.ID]; !ok {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(s.rows); i++ {
		s.rows[i] = Row{}
	}
	s.rows = kept
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
