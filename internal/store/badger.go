package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/snowtrail/snowtrail/internal/errors"
	"github.com/snowtrail/snowtrail/internal/payload"
	"github.com/snowtrail/snowtrail/pkg/types"
)

const (
	badgerEventPrefix = "evt/"
	badgerSeqKey      = "seq/evt"
	badgerSeqLease    = 128
)

// BadgerStore keeps pending events in an embedded Badger database. Keys are
// the event prefix followed by a big-endian sequence number, so key order is
// insertion order.
type BadgerStore struct {
	*capacityGuard

	db     *badger.DB
	seq    *badger.Sequence
	logger *slog.Logger
	mu     sync.Mutex
	count  int64
}

// NewBadgerStore opens (or creates) a Badger database in dir.
func NewBadgerStore(dir string, capacity int, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return nil, errors.NewConfigError(errors.CodeInvalidConfig, "badger store requires a directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewStoreError(errors.CodeStoreIO, "failed to create store directory", err)
	}

	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(newBadgerLogger(logger.WithGroup("badger"))))
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeStoreIO, "failed to open badger", err)
	}

	seq, err := db.GetSequence([]byte(badgerSeqKey), badgerSeqLease)
	if err != nil {
		db.Close()
		return nil, errors.NewStoreError(errors.CodeStoreIO, "failed to open sequence", err)
	}

	s := &BadgerStore{
		capacityGuard: newCapacityGuard(capacity, logger),
		db:            db,
		seq:           seq,
		logger:        logger,
	}

	if err := s.recount(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) recount() error {
	prefix := []byte(badgerEventPrefix)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var n int64
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		s.count = n
		return nil
	})
}

func badgerKey(n uint64) []byte {
	key := make([]byte, len(badgerEventPrefix)+8)
	copy(key, badgerEventPrefix)
	binary.BigEndian.PutUint64(key[len(badgerEventPrefix):], n)
	return key
}

func (s *BadgerStore) Add(_ context.Context, p *payload.Payload) (types.RowID, error) {
	data, err := p.MarshalJSON()
	if err != nil {
		return "", errors.NewStoreError(errors.CodeEncodeFailed, "failed to encode payload", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.admit(s.count); err != nil {
		return "", err
	}

	next, err := s.seq.Next()
	if err != nil {
		return "", errors.NewStoreError(errors.CodeStoreIO, "failed to allocate row id", err)
	}
	n := next + 1

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(n), data)
	})
	if err != nil {
		return "", errors.NewStoreError(errors.CodeStoreIO, "failed to write event", err)
	}
	s.count++
	return types.RowIDFromUint(n), nil
}

func (s *BadgerStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, nil
}

func (s *BadgerStore) Range(_ context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Row
	prefix := []byte(badgerEventPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			n := binary.BigEndian.Uint64(key[len(badgerEventPrefix):])

			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			p := payload.New()
			if err := json.Unmarshal(val, p); err != nil {
				s.logger.Warn("skipping undecodable event row", "id", n, "error", err)
				continue
			}
			out = append(out, Row{ID: types.RowIDFromUint(n), Payload: p})
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeStoreIO, "failed to read events", err)
	}
	return out, nil
}

func (s *BadgerStore) Delete(_ context.Context, ids []types.RowID) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			n, ok := id.Uint()
			if !ok {
				continue
			}
			key := badgerKey(n)
			if _, err := txn.Get(key); err != nil {
				if stderrors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return errors.NewStoreError(errors.CodeStoreIO, "failed to delete events", err)
	}
	s.count -= removed
	return nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seq != nil {
		if err := s.seq.Release(); err != nil {
			s.logger.Warn("failed to release sequence", "error", err)
		}
		s.seq = nil
	}
	return s.db.Close()
}
