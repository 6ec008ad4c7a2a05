package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/snowtrail/snowtrail/internal/errors"
	"github.com/snowtrail/snowtrail/internal/payload"
	"github.com/snowtrail/snowtrail/internal/wal"
	"github.com/snowtrail/snowtrail/pkg/types"
)

// LogStore keeps pending events in a segmented write-ahead log. The live
// set is rebuilt by replaying add and delete records on open; segments are
// removed once every event they added has been deleted.
type LogStore struct {
	*capacityGuard

	wal    *wal.WAL
	logger *slog.Logger
	mu     sync.Mutex

	live    map[uint64]logRow
	order   []uint64 // add LSNs in insertion order, may contain deleted ones
	segLive map[uint64]int
}

type logRow struct {
	payload *payload.Payload
	segment uint64
}

// NewLogStore opens the log in dir and replays it.
func NewLogStore(dir string, maxSegSize int64, capacity int, logger *slog.Logger) (*LogStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return nil, errors.NewConfigError(errors.CodeInvalidConfig, "log store requires a directory")
	}

	w, err := wal.Open(dir, maxSegSize, logger.WithGroup("wal"))
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeStoreIO, "failed to open log", err)
	}

	s := &LogStore{
		capacityGuard: newCapacityGuard(capacity, logger),
		wal:           w,
		logger:        logger,
		live:          make(map[uint64]logRow),
		segLive:       make(map[uint64]int),
	}

	start := time.Now()
	if err := w.Replay(s.apply); err != nil {
		w.Close()
		return nil, errors.NewStoreError(errors.CodeStoreCorrupt, "failed to replay log", err)
	}
	logger.Debug("replayed event log", "pending", len(s.live), "elapsed", time.Since(start))

	s.reclaim()
	return s, nil
}

// apply folds one log entry into the live set.
func (s *LogStore) apply(segment uint64, e *wal.Entry) error {
	if _, ok := s.segLive[segment]; !ok {
		s.segLive[segment] = 0
	}
	switch e.Op {
	case wal.OpAdd:
		p := payload.New()
		if err := json.Unmarshal(e.Payload, p); err != nil {
			s.logger.Warn("skipping undecodable log entry", "lsn", e.LSN, "error", err)
			return nil
		}
		s.addLive(e.LSN, segment, p)
	case wal.OpDelete:
		s.removeLive(e.Targets)
	}
	return nil
}

func (s *LogStore) addLive(lsn, segment uint64, p *payload.Payload) {
	s.live[lsn] = logRow{payload: p, segment: segment}
	s.order = append(s.order, lsn)
	s.segLive[segment]++
}

func (s *LogStore) removeLive(lsns []uint64) {
	for _, lsn := range lsns {
		row, ok := s.live[lsn]
		if !ok {
			continue
		}
		delete(s.live, lsn)
		s.segLive[row.segment]--
	}
	if len(s.order) > 64 && len(s.order) > 2*len(s.live) {
		kept := make([]uint64, 0, len(s.live))
		for _, lsn := range s.order {
			if _, ok := s.live[lsn]; ok {
				kept = append(kept, lsn)
			}
		}
		s.order = kept
	}
}

// reclaim removes the oldest segments while none of their adds are live.
func (s *LogStore) reclaim() {
	segs, err := s.wal.Segments()
	if err != nil {
		s.logger.Warn("failed to list log segments", "error", err)
		return
	}
	for _, id := range segs {
		if s.segLive[id] > 0 || !s.wal.Reclaimable(id) {
			return
		}
		if err := s.wal.RemoveSegment(id); err != nil {
			s.logger.Warn("failed to remove log segment", "segment", id, "error", err)
			return
		}
		delete(s.segLive, id)
		s.logger.Debug("reclaimed log segment", "segment", id)
	}
}

func (s *LogStore) Add(_ context.Context, p *payload.Payload) (types.RowID, error) {
	data, err := p.MarshalJSON()
	if err != nil {
		return "", errors.NewStoreError(errors.CodeEncodeFailed, "failed to encode payload", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.admit(int64(len(s.live))); err != nil {
		return "", err
	}

	lsn, segment, err := s.wal.Append(&wal.Entry{
		Op:        wal.OpAdd,
		Payload:   data,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return "", errors.NewStoreError(errors.CodeStoreIO, "failed to append event", err)
	}
	s.addLive(lsn, segment, p.Clone())
	return types.RowIDFromUint(lsn), nil
}

func (s *LogStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.live)), nil
}

func (s *LogStore) Range(_ context.Context, limit int) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := clampLimit(limit, len(s.live))
	out := make([]Row, 0, n)
	for _, lsn := range s.order {
		if len(out) == n {
			break
		}
		row, ok := s.live[lsn]
		if !ok {
			continue
		}
		out = append(out, Row{ID: types.RowIDFromUint(lsn), Payload: row.payload.Clone()})
	}
	return out, nil
}

func (s *LogStore) Delete(_ context.Context, ids []types.RowID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var targets []uint64
	for _, id := range ids {
		n, ok := id.Uint()
		if !ok {
			continue
		}
		if _, live := s.live[n]; live {
			targets = append(targets, n)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	if _, _, err := s.wal.Append(&wal.Entry{
		Op:        wal.OpDelete,
		Targets:   targets,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		return errors.NewStoreError(errors.CodeStoreIO, "failed to append delete", err)
	}
	s.removeLive(targets)
	s.reclaim()
	return nil
}

func (s *LogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}
