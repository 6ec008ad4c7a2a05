// Package collector is a development collector. It accepts events over
// GET and POST, drops duplicates by event id and keeps what it received
// for inspection.
package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/snowtrail/snowtrail/internal/emitter"
	"github.com/snowtrail/snowtrail/internal/payload"
)

// Defaults.
const (
	DefaultDedupeTTL    = 10 * time.Minute
	DefaultMaxEvents    = 10000
	DefaultMaxBodyBytes = 1 << 20
)

const payloadDataPrefix = "iglu:com.snowplowanalytics.snowplow/payload_data/"

// Config holds collector settings.
type Config struct {
	// DedupeTTL is how long an event id is remembered.
	DedupeTTL time.Duration
	// MaxEvents bounds the events kept for inspection; the oldest go first.
	MaxEvents    int
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Stats counts what the collector has seen.
type Stats struct {
	Requests   int64 `json:"requests"`
	Received   int64 `json:"received"`
	Duplicates int64 `json:"duplicates"`
	Rejected   int64 `json:"rejected"`
	Stored     int   `json:"stored"`
}

// Collector receives tracker requests.
type Collector struct {
	cfg    Config
	logger *slog.Logger

	seenMu sync.Mutex
	seen   *ttlcache.Cache[string, struct{}]

	mu     sync.Mutex
	events []*payload.Payload

	requests   atomic.Int64
	received   atomic.Int64
	duplicates atomic.Int64
	rejected   atomic.Int64
	// failNext makes the next n tracker requests answer 503.
	failNext atomic.Int64
}

// New creates a collector. Start must be called to expire remembered ids.
func New(cfg Config) *Collector {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = DefaultDedupeTTL
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	seen := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](cfg.DedupeTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)

	return &Collector{
		cfg:    cfg,
		logger: cfg.Logger.WithGroup("collector"),
		seen:   seen,
	}
}

// Start runs the expiry loop of the dedupe cache.
func (c *Collector) Start() {
	go c.seen.Start()
}

// Close stops the expiry loop.
func (c *Collector) Close() error {
	c.seen.Stop()
	return nil
}

// Handler returns the collector routes wrapped in the default middleware.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+emitter.GetPathSuffix, c.handleGet)
	mux.HandleFunc("POST "+emitter.PostPathSuffix, c.handlePost)
	mux.HandleFunc("GET /stats", c.handleStats)
	mux.HandleFunc("GET /events", c.handleEvents)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return ChainMiddleware(
		RequestIDMiddleware,
		RecoveryMiddleware(c.logger),
	)(mux)
}

// FailNext makes the next n tracker requests fail with 503.
func (c *Collector) FailNext(n int) {
	c.failNext.Store(int64(n))
}

func (c *Collector) injectFailure(w http.ResponseWriter, r *http.Request) bool {
	for {
		n := c.failNext.Load()
		if n <= 0 {
			return false
		}
		if c.failNext.CompareAndSwap(n, n-1) {
			writeError(w, http.StatusServiceUnavailable, "injected failure", GetRequestID(r.Context()))
			return true
		}
	}
}

func (c *Collector) handleGet(w http.ResponseWriter, r *http.Request) {
	c.requests.Add(1)
	if c.injectFailure(w, r) {
		return
	}

	p, err := ParseQuery(r.URL.RawQuery)
	if err != nil || p.Len() == 0 {
		c.rejected.Add(1)
		writeError(w, http.StatusBadRequest, "invalid query string", GetRequestID(r.Context()))
		return
	}
	c.accept(p)
	w.WriteHeader(http.StatusOK)
}

type postBody struct {
	Schema string            `json:"schema"`
	Data   []json.RawMessage `json:"data"`
}

func (c *Collector) handlePost(w http.ResponseWriter, r *http.Request) {
	c.requests.Add(1)
	requestID := GetRequestID(r.Context())
	if c.injectFailure(w, r) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		c.rejected.Add(1)
		writeError(w, http.StatusBadRequest, "failed to read body", requestID)
		return
	}
	if int64(len(body)) > c.cfg.MaxBodyBytes {
		c.rejected.Add(1)
		writeError(w, http.StatusRequestEntityTooLarge, "body too large", requestID)
		return
	}

	var pb postBody
	if err := json.Unmarshal(body, &pb); err != nil {
		c.rejected.Add(1)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if !strings.HasPrefix(pb.Schema, payloadDataPrefix) {
		c.rejected.Add(1)
		writeError(w, http.StatusBadRequest, "unexpected schema", requestID)
		return
	}

	events := make([]*payload.Payload, 0, len(pb.Data))
	for _, raw := range pb.Data {
		p := payload.New()
		if err := p.UnmarshalJSON(raw); err != nil {
			c.rejected.Add(1)
			writeError(w, http.StatusBadRequest, "invalid event", requestID)
			return
		}
		events = append(events, p)
	}
	for _, p := range events {
		c.accept(p)
	}
	w.WriteHeader(http.StatusOK)
}

func (c *Collector) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.Stats())
}

func (c *Collector) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := c.Events()
	out := make([]json.RawMessage, len(events))
	for i, p := range events {
		out[i], _ = p.MarshalJSON()
	}
	writeJSON(w, http.StatusOK, out)
}

// accept stores p unless its event id was seen within the dedupe window.
func (c *Collector) accept(p *payload.Payload) {
	c.received.Add(1)

	if eid, ok := p.Get(payload.KeyEventID); ok {
		c.seenMu.Lock()
		dup := c.seen.Get(eid) != nil
		if !dup {
			c.seen.Set(eid, struct{}{}, ttlcache.DefaultTTL)
		}
		c.seenMu.Unlock()
		if dup {
			c.duplicates.Add(1)
			c.logger.Debug("duplicate event", "eid", eid)
			return
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, p)
	if over := len(c.events) - c.cfg.MaxEvents; over > 0 {
		c.events = append([]*payload.Payload(nil), c.events[over:]...)
	}
}

// Events returns the unique events received, oldest first.
func (c *Collector) Events() []*payload.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*payload.Payload(nil), c.events...)
}

// Stats returns the current counters.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	stored := len(c.events)
	c.mu.Unlock()
	return Stats{
		Requests:   c.requests.Load(),
		Received:   c.received.Load(),
		Duplicates: c.duplicates.Load(),
		Rejected:   c.rejected.Load(),
		Stored:     stored,
	}
}

// ParseQuery decodes a GET query string into a payload, keeping the
// parameter order.
func ParseQuery(raw string) (*payload.Payload, error) {
	p := payload.New()
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, err
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, err
		}
		p.Set(key, value)
	}
	return p, nil
}
