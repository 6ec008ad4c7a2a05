// Package app wires configuration into a running tracker and the
// development collector.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/snowtrail/snowtrail/internal/archive"
	"github.com/snowtrail/snowtrail/internal/collector"
	"github.com/snowtrail/snowtrail/internal/config"
	"github.com/snowtrail/snowtrail/internal/emitter"
	"github.com/snowtrail/snowtrail/internal/notify"
	"github.com/snowtrail/snowtrail/internal/server"
	"github.com/snowtrail/snowtrail/internal/session"
	"github.com/snowtrail/snowtrail/internal/store"
	"github.com/snowtrail/snowtrail/internal/telemetry"
	"github.com/snowtrail/snowtrail/internal/tracker"
)

// App owns the tracker and everything behind it.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	shutdown *server.ShutdownManager

	store    store.EventStore
	archiver *archive.Archiver
	emitter  *emitter.Emitter
	session  *session.Session
	tracker  *tracker.Tracker

	mu      sync.Mutex
	running bool
}

// New validates cfg and prepares the data directory.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ValidateTracker(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		shutdown: server.NewShutdownManager(server.ShutdownConfig{Logger: logger}),
	}, nil
}

// Start opens the store and starts the tracker.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	otelShutdown, err := telemetry.Setup(ctx, a.cfg.Telemetry.Endpoint, a.cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	a.shutdown.RegisterCloser("telemetry", server.CloserFunc(func() error {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return otelShutdown(flushCtx)
	}))

	if err := a.initEmitter(ctx); err != nil {
		_ = a.shutdown.Shutdown(context.Background(), "start failed")
		return err
	}
	if err := a.initTracker(); err != nil {
		_ = a.shutdown.Shutdown(context.Background(), "start failed")
		return err
	}

	a.tracker.Start(ctx)
	a.shutdown.RegisterCloser("tracker", server.CloserFunc(func() error {
		a.tracker.Stop()
		return nil
	}))

	a.logger.Info("tracker started",
		"collector", a.emitter.CollectorURI(),
		"method", a.cfg.Emitter.Method,
		"mode", a.cfg.Emitter.Mode,
		"store", a.cfg.Store.Type,
		"session", a.session != nil)
	return nil
}

func (a *App) initEmitter(ctx context.Context) error {
	st, err := store.Open(store.Options{
		Type:           a.cfg.Store.Type,
		Path:           a.cfg.Store.Path,
		Capacity:       a.cfg.Store.Capacity,
		MaxSegmentSize: a.cfg.Store.MaxSegmentSize,
		Logger:         a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	a.store = st

	opts := []emitter.Option{
		emitter.WithStore(st),
		emitter.WithLogger(a.logger),
		emitter.WithNotifier(notify.NewNotifier(16)),
	}

	a.archiver, err = OpenArchive(ctx, a.cfg.Archive, a.logger)
	if err != nil {
		st.Close()
		return err
	}
	if a.archiver != nil {
		opts = append(opts, emitter.WithArchiver(a.archiver))
	}

	a.emitter, err = emitter.New(EmitterConfig(a.cfg.Emitter), opts...)
	if err != nil {
		st.Close()
		return err
	}
	// Close persists anything still queued and closes the store.
	a.shutdown.RegisterCloser("emitter", a.emitter)
	return nil
}

// OpenArchive builds the archiver named by cfg. It returns nil when no
// archive is configured.
func OpenArchive(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*archive.Archiver, error) {
	var (
		storage archive.ObjectStorage
		err     error
	)
	switch cfg.Type {
	case "local":
		storage, err = archive.NewLocalStorage(cfg.Path)
	case "s3":
		storage, err = archive.NewS3Storage(ctx, archive.S3Config{
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archive: %w", err)
	}
	logger.Info("archive initialized", "type", cfg.Type)
	return archive.NewArchiver(storage, logger), nil
}

func (a *App) initTracker() error {
	opts := []tracker.Option{
		tracker.WithNamespace(a.cfg.Tracker.Namespace),
		tracker.WithAppID(a.cfg.Tracker.AppID),
		tracker.WithPlatform(tracker.Platform(a.cfg.Tracker.Platform)),
		tracker.WithBase64(a.cfg.Tracker.Base64),
		tracker.WithSubject(tracker.NewSubject()),
		tracker.WithLogger(a.logger),
	}

	if a.cfg.Session.Enabled {
		sess, err := session.New(a.cfg.Session.Path,
			session.WithForegroundTimeout(a.cfg.Session.ForegroundTimeout),
			session.WithBackgroundTimeout(a.cfg.Session.BackgroundTimeout),
			session.WithCheckInterval(a.cfg.Session.CheckInterval),
			session.WithLogger(a.logger),
		)
		if err != nil {
			return fmt.Errorf("failed to initialize session: %w", err)
		}
		a.session = sess
		opts = append(opts, tracker.WithSession(sess))
	}

	t, err := tracker.New(a.emitter, opts...)
	if err != nil {
		return err
	}
	a.tracker = t
	return nil
}

// Stop stops the tracker, persists queued events and closes the store.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	return a.shutdown.Shutdown(ctx, "stop requested")
}

// WaitForShutdown blocks until a shutdown signal is received or ctx ends.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}

func (a *App) Tracker() *tracker.Tracker   { return a.tracker }
func (a *App) Emitter() *emitter.Emitter   { return a.emitter }
func (a *App) Session() *session.Session   { return a.session }
func (a *App) Archiver() *archive.Archiver { return a.archiver }

// EmitterConfig maps the configuration section onto the emitter settings.
func EmitterConfig(c config.EmitterConfig) emitter.Config {
	return emitter.Config{
		Endpoint:              c.Endpoint,
		Protocol:              emitter.Protocol(strings.ToLower(c.Protocol)),
		Method:                emitter.Method(strings.ToUpper(c.Method)),
		Mode:                  emitter.Mode(c.Mode),
		SendLimit:             c.SendLimit,
		ByteLimitGet:          c.ByteLimitGet,
		ByteLimitPost:         c.ByteLimitPost,
		RequestTimeout:        c.RequestTimeout,
		FailInterval:          c.FailInterval,
		MaxConcurrentRequests: c.MaxConcurrentRequests,
		RequestsPerSecond:     c.RequestsPerSecond,
		RequestBurst:          c.RequestBurst,
	}
}

// CollectorApp serves the development collector.
type CollectorApp struct {
	cfg       config.CollectorConfig
	logger    *slog.Logger
	collector *collector.Collector
	shutdown  *server.ShutdownManager
	server    *server.GracefulHTTPServer

	mu   sync.Mutex
	addr net.Addr
	wg   sync.WaitGroup
}

// NewCollector builds the collector service from cfg.
func NewCollector(cfg config.CollectorConfig, logger *slog.Logger) *CollectorApp {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollectorApp{
		cfg:    cfg,
		logger: logger,
		collector: collector.New(collector.Config{
			DedupeTTL: cfg.DedupeTTL,
			MaxEvents: cfg.MaxEvents,
			Logger:    logger,
		}),
		shutdown: server.NewShutdownManager(server.ShutdownConfig{Logger: logger}),
	}
}

// Start listens on the configured address and serves in the background.
func (c *CollectorApp) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.cfg.Addr, err)
	}

	c.collector.Start()
	c.shutdown.RegisterCloser("collector", c.collector)

	handler := server.ShutdownMiddleware(c.shutdown)(c.collector.Handler())
	c.server = server.NewGracefulHTTPServer(&http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, c.shutdown)

	c.mu.Lock()
	c.addr = ln.Addr()
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.logger.Error("collector server error", "error", err)
		}
	}()

	c.logger.Info("collector listening", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound listen address, valid after Start.
func (c *CollectorApp) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addr == nil {
		return ""
	}
	return c.addr.String()
}

// Collector exposes the handler state for inspection.
func (c *CollectorApp) Collector() *collector.Collector { return c.collector }

// Stop drains in-flight requests and stops serving.
func (c *CollectorApp) Stop(ctx context.Context) error {
	err := c.shutdown.Shutdown(ctx, "stop requested")
	c.wg.Wait()
	return err
}

// WaitForShutdown blocks until a shutdown signal is received or ctx ends.
func (c *CollectorApp) WaitForShutdown(ctx context.Context) error {
	return c.shutdown.ListenForSignals(ctx)
}
