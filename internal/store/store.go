// Package store provides the durable event store the emitter drains from.
// Rows are returned oldest first and stay in the store until they are
// explicitly deleted after confirmed delivery.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/snowtrail/snowtrail/internal/errors"
	"github.com/snowtrail/snowtrail/internal/payload"
	"github.com/snowtrail/snowtrail/pkg/types"
)

// Row is a persisted payload together with its store-assigned identifier.
type Row struct {
	ID      types.RowID
	Payload *payload.Payload
}

// EventStore persists event payloads until they are delivered.
type EventStore interface {
	// Add persists p and returns the identifier assigned to it.
	Add(ctx context.Context, p *payload.Payload) (types.RowID, error)

	// Count returns the number of pending rows.
	Count(ctx context.Context) (int64, error)

	// Range returns up to limit of the oldest pending rows without
	// removing them. Payloads are copies owned by the caller.
	Range(ctx context.Context, limit int) ([]Row, error)

	// Delete removes the given rows. Unknown ids are ignored.
	Delete(ctx context.Context, ids []types.RowID) error

	// Close releases the underlying resources.
	Close() error
}

// Store types accepted by Open.
const (
	TypeMemory = "memory"
	TypeSQLite = "sqlite"
	TypeBadger = "badger"
	TypeLog    = "log"
)

// DefaultMemoryCapacity bounds the in-memory store when no capacity is set.
const DefaultMemoryCapacity = 10000

// DefaultMaxSegmentSize is the segment rotation size of the log store.
const DefaultMaxSegmentSize = 4 * 1024 * 1024

// ErrStoreFull is returned by Add once a bounded store reaches capacity.
var ErrStoreFull = errors.New(errors.ErrCategoryStore, errors.CodeStoreFull, "event store is at capacity")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New(errors.ErrCategoryStore, errors.CodeStoreClosed, "event store is closed")

// Options selects and configures a store backend.
type Options struct {
	Type string
	// Path is the database file (sqlite) or directory (badger, log).
	Path string
	// Capacity bounds the number of pending rows; 0 means unbounded
	// except for the memory store, which defaults to DefaultMemoryCapacity.
	Capacity       int
	MaxSegmentSize int64
	Logger         *slog.Logger
}

// Open creates the backend named by opts.Type.
func Open(opts Options) (EventStore, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.WithGroup("store")

	switch opts.Type {
	case TypeMemory, "":
		return NewMemoryStore(opts.Capacity, logger), nil
	case TypeSQLite:
		return NewSQLiteStore(opts.Path, opts.Capacity, logger)
	case TypeBadger:
		return NewBadgerStore(opts.Path, opts.Capacity, logger)
	case TypeLog:
		segSize := opts.MaxSegmentSize
		if segSize <= 0 {
			segSize = DefaultMaxSegmentSize
		}
		return NewLogStore(opts.Path, segSize, opts.Capacity, logger)
	default:
		return nil, errors.NewConfigError(errors.CodeInvalidConfig,
			fmt.Sprintf("unknown store type %q", opts.Type))
	}
}

// capacityGuard enforces a row limit and logs a warning once per overflow
// episode rather than once per dropped event.
type capacityGuard struct {
	capacity int
	logger   *slog.Logger
	dropped  atomic.Int64

	mu     sync.Mutex
	warned bool
}

func newCapacityGuard(capacity int, logger *slog.Logger) *capacityGuard {
	return &capacityGuard{capacity: capacity, logger: logger}
}

// admit reports whether another row fits next to count existing rows.
func (g *capacityGuard) admit(count int64) error {
	if g.capacity <= 0 || count < int64(g.capacity) {
		g.mu.Lock()
		g.warned = false
		g.mu.Unlock()
		return nil
	}

	g.dropped.Add(1)
	g.mu.Lock()
	if !g.warned {
		g.warned = true
		g.logger.Warn("event store at capacity, dropping new events", "capacity", g.capacity)
	}
	g.mu.Unlock()
	return ErrStoreFull
}

// Dropped returns how many events were rejected for capacity.
func (g *capacityGuard) Dropped() int64 {
	return g.dropped.Load()
}

// DroppedCounter is implemented by stores that reject events at capacity.
type DroppedCounter interface {
	Dropped() int64
}

func clampLimit(limit int, count int) int {
	if limit < 0 {
		return 0
	}
	if limit > count {
		return count
	}
	return limit
}
