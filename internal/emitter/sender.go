package emitter

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/snowtrail/snowtrail/internal/archive"
	"github.com/snowtrail/snowtrail/internal/store"
)

// Sender turns drained rows into requests and issues them concurrently.
type Sender struct {
	transport Transport
	archiver  *archive.Archiver
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	logger    *slog.Logger
	now       func() time.Time
}

// NewSender creates a sender. maxConcurrent and perSecond of zero leave
// concurrency and rate unbounded.
func NewSender(transport Transport, maxConcurrent int, perSecond float64, burst int, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sender{
		transport: transport,
		logger:    logger,
		now:       time.Now,
	}
	if maxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return s
}

// Plan partitions rows for method under the matching byte limit.
func Plan(method Method, rows []store.Row, byteLimitGet, byteLimitPost int) []Batch {
	if method == MethodGet {
		return PlanGet(rows, byteLimitGet)
	}
	return PlanPost(rows, byteLimitPost)
}

// Send plans, builds and issues one request per batch. It returns exactly
// one result per request, in completion order.
func (s *Sender) Send(ctx context.Context, cfg Config, rows []store.Row) []Result {
	if len(rows) == 0 {
		return nil
	}

	batches := Plan(cfg.Method, rows, cfg.ByteLimitGet, cfg.ByteLimitPost)
	uri := cfg.CollectorURI()
	limit := cfg.ByteLimitPost
	if cfg.Method == MethodGet {
		limit = cfg.ByteLimitGet
	}

	sentAt := s.now()
	requests := make([]*Request, 0, len(batches))
	for _, b := range batches {
		if b.Oversize {
			s.archiveOversize(ctx, cfg.Method, limit, b)
		}
		if cfg.Method == MethodGet {
			requests = append(requests, buildGet(uri, b, sentAt))
		} else {
			requests = append(requests, buildPost(uri, b, sentAt))
		}
	}

	results := make(chan Result, len(requests))
	for _, req := range requests {
		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				results <- resultFor(req, 0, err)
				continue
			}
		}
		go func(req *Request) {
			if s.sem != nil {
				defer s.sem.Release(1)
			}
			results <- s.do(ctx, req)
		}(req)
	}

	out := make([]Result, 0, len(requests))
	for i := 0; i < len(requests); i++ {
		out = append(out, <-results)
	}
	return out
}

func (s *Sender) do(ctx context.Context, req *Request) Result {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return resultFor(req, 0, err)
		}
	}
	status, err := s.transport.Do(ctx, req)
	if err != nil {
		s.logger.Debug("request failed", "method", req.Method, "rows", len(req.RowIDs), "status", status, "error", err)
	}
	return resultFor(req, status, err)
}

// archiveOversize keeps a copy of an oversize payload. Failures are logged
// and never block delivery.
func (s *Sender) archiveOversize(ctx context.Context, method Method, limit int, b Batch) {
	for _, row := range b.Rows {
		s.logger.Warn("payload exceeds byte limit, sending once without retry",
			"row_id", row.ID, "bytes", row.Payload.ByteSize(), "limit", limit)
		if s.archiver == nil {
			continue
		}
		if _, err := s.archiver.ArchiveOversize(ctx, row.ID, string(method), limit, row.Payload); err != nil {
			s.logger.Error("failed to archive oversize payload", "row_id", row.ID, "error", err)
		}
	}
}

func resultFor(req *Request, status int, err error) Result {
	ok := err == nil && (status == 0 || (status >= 200 && status < 300))
	return Result{
		Success:    ok || req.Oversize,
		RowIDs:     req.RowIDs,
		Oversize:   req.Oversize,
		StatusCode: status,
		Err:        err,
	}
}
