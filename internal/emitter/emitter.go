// Package emitter delivers tracked events to a collector. Events pass
// through an in-memory queue into a durable store; an emission loop drains
// the store in batches, deletes what was delivered and keeps the rest for
// the next cycle.
package emitter

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/snowtrail/snowtrail/internal/archive"
	"github.com/snowtrail/snowtrail/internal/notify"
	"github.com/snowtrail/snowtrail/internal/payload"
	"github.com/snowtrail/snowtrail/internal/store"
)

// Emitter owns the store, the queue feeding it and the emission loop.
type Emitter struct {
	cfgMu sync.RWMutex
	cfg   Config

	store     store.EventStore
	transport Transport
	sender    *Sender
	archiver  *archive.Archiver
	notifier  *notify.Notifier
	tracer    trace.Tracer
	logger    *slog.Logger
	stats     Stats

	// after is time.After, replaceable in tests
	after func(time.Duration) <-chan time.Time

	lifeMu  sync.Mutex
	queue   *Queue
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	wake    chan struct{}
	sending atomic.Bool
	cycleMu sync.Mutex
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithStore sets the event store. The default is an in-memory store.
func WithStore(s store.EventStore) Option {
	return func(e *Emitter) { e.store = s }
}

// WithTransport replaces the HTTP transport.
func WithTransport(t Transport) Option {
	return func(e *Emitter) { e.transport = t }
}

// WithArchiver keeps copies of oversize payloads.
func WithArchiver(a *archive.Archiver) Option {
	return func(e *Emitter) { e.archiver = a }
}

// WithNotifier publishes cycle outcomes on n.
func WithNotifier(n *notify.Notifier) Option {
	return func(e *Emitter) { e.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Emitter) { e.logger = l }
}

// WithTracer sets the tracer used for drain spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Emitter) { e.tracer = t }
}

// New validates cfg and creates an emitter. Configuration errors are the
// only errors an emitter ever returns to the application.
func New(cfg Config, opts ...Option) (*Emitter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Emitter{
		cfg:   cfg,
		queue: NewQueue(),
		wake:  make(chan struct{}, 1),
		after: time.After,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.WithGroup("emitter")
	if e.store == nil {
		e.store = store.NewMemoryStore(store.DefaultMemoryCapacity, e.logger)
	}
	if e.transport == nil {
		e.transport = NewHTTPTransport(cfg.RequestTimeout)
	}
	if e.notifier == nil {
		e.notifier = notify.NewNotifier(16)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/snowtrail/snowtrail/internal/emitter")
	}

	e.sender = NewSender(e.transport, cfg.MaxConcurrentRequests, cfg.RequestsPerSecond, cfg.RequestBurst, e.logger)
	e.sender.archiver = e.archiver
	return e, nil
}

// Add hands p to the emitter. In async mode it only enqueues and never
// blocks; in sync mode it persists p and drains inline once the store
// holds SendLimit rows.
func (e *Emitter) Add(ctx context.Context, p *payload.Payload) {
	if p == nil {
		return
	}
	cfg := e.config()

	if cfg.Mode == ModeSync {
		e.persist(ctx, p)
		count, err := e.store.Count(ctx)
		if err != nil {
			e.logger.Error("failed to count events", "error", err)
			return
		}
		if count >= int64(cfg.SendLimit) {
			e.drain(ctx)
		}
		return
	}

	e.lifeMu.Lock()
	q := e.queue
	e.lifeMu.Unlock()
	if !q.Enqueue(p) {
		// closed between Stop and the queue swap; persist directly
		e.persist(ctx, p)
	}
}

// Start begins delivery. In async mode it launches the consumer and the
// emission loop; in sync mode it drains the store once.
func (e *Emitter) Start() {
	if e.config().Mode == ModeSync {
		e.drain(context.Background())
		return
	}

	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true

	e.wg.Add(2)
	go e.runConsumer(e.queue)
	go e.runLoop(ctx)

	e.logger.Info("emitter started", "collector", e.CollectorURI(), "send_limit", e.config().SendLimit)
}

// Stop halts the emission loop and waits for it. Requests already in
// flight finish, events still queued are persisted, and no new cycle
// starts. Stop is a no-op in sync mode.
func (e *Emitter) Stop() {
	e.lifeMu.Lock()
	if !e.running {
		e.lifeMu.Unlock()
		return
	}
	e.running = false
	e.cancel()
	q := e.queue
	q.Close()
	e.lifeMu.Unlock()

	e.wg.Wait()

	e.lifeMu.Lock()
	e.queue = NewQueue()
	e.lifeMu.Unlock()

	// Adds that raced with Close landed in the store directly; anything
	// else still sitting in q is persisted here.
	for {
		p, ok := q.TryDequeue()
		if !ok {
			break
		}
		e.persist(context.Background(), p)
	}
	e.logger.Info("emitter stopped")
}

// Close stops the emitter, persists queued events and closes the store.
func (e *Emitter) Close() error {
	e.Stop()

	e.lifeMu.Lock()
	q := e.queue
	e.lifeMu.Unlock()
	for {
		p, ok := q.TryDequeue()
		if !ok {
			break
		}
		e.persist(context.Background(), p)
	}
	return e.store.Close()
}

// IsSending reports whether a drain cycle is in progress in the background
// loop. It is always false in sync mode.
func (e *Emitter) IsSending() bool {
	return e.sending.Load()
}

// IsRunning reports whether the background loop is active.
func (e *Emitter) IsRunning() bool {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.running
}

// Flush persists everything still queued and drains the store inline
// until it is empty or a cycle fails completely.
func (e *Emitter) Flush(ctx context.Context) {
	e.lifeMu.Lock()
	q := e.queue
	e.lifeMu.Unlock()
	for {
		p, ok := q.TryDequeue()
		if !ok {
			break
		}
		e.persist(ctx, p)
	}
	e.drain(ctx)
}

// Store returns the event store.
func (e *Emitter) Store() store.EventStore { return e.store }

// Notifier returns the bus on which cycle outcomes are published.
func (e *Emitter) Notifier() *notify.Notifier { return e.notifier }

// Stats returns the current counters.
func (e *Emitter) Stats() StatsSnapshot { return e.stats.Snapshot() }

// QueueLen returns the number of events waiting to be persisted.
func (e *Emitter) QueueLen() int {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.queue.Len()
}

func (e *Emitter) config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Config returns a copy of the current configuration.
func (e *Emitter) Config() Config { return e.config() }

// CollectorURI returns the URI events are delivered to.
func (e *Emitter) CollectorURI() string { return e.config().CollectorURI() }

// Endpoint returns the collector host.
func (e *Emitter) Endpoint() string { return e.config().Endpoint }

// Protocol returns the collector scheme.
func (e *Emitter) Protocol() Protocol { return e.config().Protocol }

// Method returns the delivery method.
func (e *Emitter) Method() Method { return e.config().Method }

// SendLimit returns the maximum number of rows drained per cycle.
func (e *Emitter) SendLimit() int { return e.config().SendLimit }

// ByteLimitGet returns the byte budget of a GET request.
func (e *Emitter) ByteLimitGet() int { return e.config().ByteLimitGet }

// ByteLimitPost returns the byte budget of a POST body.
func (e *Emitter) ByteLimitPost() int { return e.config().ByteLimitPost }

// Mode returns the emission mode.
func (e *Emitter) Mode() Mode { return e.config().Mode }

// update applies fn to a copy of the configuration and keeps it only if
// the result is valid.
func (e *Emitter) update(fn func(*Config)) error {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	next := e.cfg
	fn(&next)
	if err := next.validate(); err != nil {
		return err
	}
	e.cfg = next
	return nil
}

// SetEndpoint changes the collector host.
func (e *Emitter) SetEndpoint(endpoint string) error {
	return e.update(func(c *Config) { c.Endpoint = endpoint })
}

// SetProtocol changes the collector scheme.
func (e *Emitter) SetProtocol(p Protocol) error {
	return e.update(func(c *Config) { c.Protocol = p })
}

// SetMethod switches between GET and POST delivery.
func (e *Emitter) SetMethod(m Method) error {
	return e.update(func(c *Config) { c.Method = m })
}

// SetSendLimit changes how many rows a cycle drains; non-positive values
// are ignored.
func (e *Emitter) SetSendLimit(n int) error {
	return e.update(func(c *Config) {
		if n > 0 {
			c.SendLimit = n
		}
	})
}

// SetByteLimitGet changes the GET size limit; non-positive values are ignored.
func (e *Emitter) SetByteLimitGet(n int) error {
	return e.update(func(c *Config) {
		if n > 0 {
			c.ByteLimitGet = n
		}
	})
}

// SetByteLimitPost changes the POST size limit; non-positive values are ignored.
func (e *Emitter) SetByteLimitPost(n int) error {
	return e.update(func(c *Config) {
		if n > 0 {
			c.ByteLimitPost = n
		}
	})
}
