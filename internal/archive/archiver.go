package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/snowtrail/snowtrail/internal/payload"
	"github.com/snowtrail/snowtrail/pkg/types"
)

// OversizePrefix is the key prefix for archived oversize payloads.
const OversizePrefix = "oversize"

// Record is the archived form of one payload.
type Record struct {
	RowID      types.RowID      `json:"row_id"`
	Method     string           `json:"method"`
	ByteSize   int              `json:"byte_size"`
	Limit      int              `json:"limit"`
	ArchivedAt time.Time        `json:"archived_at"`
	Payload    *payload.Payload `json:"payload"`
}

// Archiver writes oversize payloads to object storage under
// oversize/<yyyy>/<mm>/<dd>/<row-id>.json.
type Archiver struct {
	storage ObjectStorage
	logger  *slog.Logger
	now     func() time.Time
}

// NewArchiver creates an archiver on top of storage.
func NewArchiver(storage ObjectStorage, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		storage: storage,
		logger:  logger.WithGroup("archive"),
		now:     time.Now,
	}
}

// Key returns the object key for a record archived at t.
func Key(t time.Time, id types.RowID) string {
	t = t.UTC()
	return path.Join(OversizePrefix,
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("%02d", t.Day()),
		string(id)+".json")
}

// ArchiveOversize stores a copy of p and returns the key written.
func (a *Archiver) ArchiveOversize(ctx context.Context, id types.RowID, method string, limit int, p *payload.Payload) (string, error) {
	now := a.now()
	rec := Record{
		RowID:      id,
		Method:     method,
		ByteSize:   p.ByteSize(),
		Limit:      limit,
		ArchivedAt: now.UTC(),
		Payload:    p,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode archive record: %w", err)
	}

	key := Key(now, id)
	if err := a.storage.Put(ctx, key, data); err != nil {
		return "", err
	}
	a.logger.Info("archived oversize payload", "row_id", id, "key", key, "bytes", rec.ByteSize, "limit", limit)
	return key, nil
}

// FetchResult contains the outcome of a Fetch call.
type FetchResult struct {
	Records map[string]*Record
	Errors  map[string]error
}

// Fetch loads the given keys in parallel, at most concurrency at a time.
func (a *Archiver) Fetch(ctx context.Context, keys []string, concurrency int) *FetchResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	result := &FetchResult{
		Records: make(map[string]*Record),
		Errors:  make(map[string]error),
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, key := range keys {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[key] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(key string) {
			defer sem.Release(1)
			defer wg.Done()

			rec, err := a.get(ctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[key] = err
				return
			}
			result.Records[key] = rec
		}(key)
	}

	wg.Wait()
	return result
}

func (a *Archiver) get(ctx context.Context, key string) (*Record, error) {
	data, err := a.storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	rec := &Record{Payload: payload.New()}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return rec, nil
}

// List returns the keys of all archived oversize payloads.
func (a *Archiver) List(ctx context.Context) ([]string, error) {
	return a.storage.List(ctx, OversizePrefix+"/")
}
