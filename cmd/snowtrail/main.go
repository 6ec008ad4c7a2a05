// Package main implements the snowtrail tracker CLI.
// It tracks events read as JSON lines from stdin, generates demo events,
// or inspects the oversize archive.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/snowtrail/snowtrail/internal/app"
	"github.com/snowtrail/snowtrail/internal/config"
	"github.com/snowtrail/snowtrail/internal/event"
	"github.com/snowtrail/snowtrail/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		envFile     string
		dataDir     string
		endpoint    string
		method      string
		storeType   string
		logLevel    string
		logFormat   string
		demoCount   int
		demoEvery   time.Duration
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&envFile, "env-file", ".env", "Path to a .env file loaded before the environment")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for the event store and session")
	flag.StringVar(&endpoint, "endpoint", "", "Collector endpoint, host[:port]")
	flag.StringVar(&method, "method", "", "HTTP method: GET or POST")
	flag.StringVar(&storeType, "store", "", "Event store: memory, sqlite, badger or log")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&logFormat, "log-format", "", "Log format: console or json")
	flag.IntVar(&demoCount, "count", 20, "Number of events generated by the demo command")
	flag.DurationVar(&demoEvery, "interval", 200*time.Millisecond, "Delay between demo events")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "snowtrail - durable event tracker\n\n")
		fmt.Fprintf(os.Stderr, "Usage: snowtrail [options] [track|demo|archive list|archive show KEY...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  cat events.jsonl | snowtrail --endpoint collector.example.com\n")
		fmt.Fprintf(os.Stderr, "  snowtrail --endpoint localhost:9090 --count 100 demo\n")
		fmt.Fprintf(os.Stderr, "  snowtrail --config /etc/snowtrail/config.yaml archive list\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  SNOWTRAIL_DATA_DIR            Base directory for local state\n")
		fmt.Fprintf(os.Stderr, "  SNOWTRAIL_EMITTER_ENDPOINT    Collector endpoint\n")
		fmt.Fprintf(os.Stderr, "  SNOWTRAIL_EMITTER_METHOD      GET or POST\n")
		fmt.Fprintf(os.Stderr, "  SNOWTRAIL_STORE_TYPE          memory, sqlite, badger or log\n")
		fmt.Fprintf(os.Stderr, "  SNOWTRAIL_OTEL_ENDPOINT       OTLP/HTTP endpoint for traces\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("snowtrail version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(configFile, dataDir, endpoint, method, storeType, logLevel, logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format, "snowtrail")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	args := flag.Args()
	command := "track"
	if len(args) > 0 {
		command = args[0]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch command {
	case "track":
		err = runTrack(ctx, cfg, logger, os.Stdin)
	case "demo":
		err = runDemo(ctx, cfg, logger, demoCount, demoEvery)
	case "archive":
		err = runArchive(ctx, cfg, logger, args[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, dataDir, endpoint, method, storeType, logLevel, logFormat string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	// Flags take priority
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if endpoint != "" {
		cfg.Emitter.Endpoint = endpoint
	}
	if method != "" {
		cfg.Emitter.Method = method
	}
	if storeType != "" {
		cfg.Store.Type = storeType
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	return cfg, nil
}

func startApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app.App, error) {
	printBanner(logger, cfg)

	application, err := app.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := application.Start(ctx); err != nil {
		return nil, err
	}
	return application, nil
}

// runTrack tracks one event per input line until EOF or a signal.
func runTrack(ctx context.Context, cfg *config.Config, logger *slog.Logger, in io.Reader) error {
	application, err := startApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	lines := make(chan []byte)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Error("failed to read input", "error", err)
		}
	}()

	sigCtx, stopSignals := context.WithCancel(ctx)
	defer stopSignals()
	go func() {
		application.WaitForShutdown(sigCtx)
		stopSignals()
	}()

	tracked, rejected := 0, 0
loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if len(line) == 0 {
				continue
			}
			ev, err := event.Decode(line)
			if err == nil {
				err = application.Tracker().Track(ctx, ev)
			}
			if err != nil {
				rejected++
				logger.Warn("event rejected", "error", err)
				continue
			}
			tracked++
		case <-sigCtx.Done():
			// interrupted; shutdown already persisted what is queued
			logger.Info("input interrupted", "tracked", tracked, "rejected", rejected)
			return nil
		}
	}

	flushCtx, cancel := context.WithTimeout(ctx, cfg.Emitter.RequestTimeout)
	application.Emitter().Flush(flushCtx)
	cancel()

	stats := application.Emitter().Stats()
	logger.Info("input finished", "tracked", tracked, "rejected", rejected,
		"sent", stats.Sent, "failed", stats.Failed, "oversize", stats.Oversize)
	return application.Stop(context.Background())
}

// runDemo tracks generated events at a fixed interval.
func runDemo(ctx context.Context, cfg *config.Config, logger *slog.Logger, count int, every time.Duration) error {
	application, err := startApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	sigCtx, stopSignals := context.WithCancel(ctx)
	defer stopSignals()
	go func() {
		application.WaitForShutdown(sigCtx)
		stopSignals()
	}()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	screens := []string{"home", "search", "product", "cart", "checkout"}
	for i := 0; i < count; i++ {
		var ev event.Event
		switch i % 3 {
		case 0:
			ev = event.NewScreenView(screens[i%len(screens)], "")
		case 1:
			ev = event.NewStructured("demo", "click").WithValue(float64(i))
		default:
			ev = event.NewTiming("demo", "render", time.Duration(10+i)*time.Millisecond)
		}
		if err := application.Tracker().Track(ctx, ev); err != nil {
			logger.Warn("event rejected", "error", err)
		}

		select {
		case <-ticker.C:
		case <-sigCtx.Done():
			return nil
		}
	}

	stats := application.Emitter().Stats()
	logger.Info("demo finished", "events", count, "sent", stats.Sent, "failed", stats.Failed)
	return application.Stop(context.Background())
}

// runArchive lists archived oversize payloads or prints them.
func runArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if cfg.Archive.Type == "" || cfg.Archive.Type == "none" {
		return fmt.Errorf("no archive configured")
	}
	if len(args) == 0 {
		return fmt.Errorf("usage: snowtrail archive list|show KEY...")
	}

	cfg.Resolve()
	archiver, err := app.OpenArchive(ctx, cfg.Archive, logger)
	if err != nil {
		return err
	}

	switch args[0] {
	case "list":
		keys, err := archiver.List(ctx)
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	case "show":
		result := archiver.Fetch(ctx, args[1:], 8)
		for key, err := range result.Errors {
			logger.Error("failed to fetch record", "key", key, "error", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		for _, key := range args[1:] {
			if rec, ok := result.Records[key]; ok {
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown archive command %q", args[0])
	}
}

// printBanner logs the configuration summary.
func printBanner(logger *slog.Logger, cfg *config.Config) {
	logger.Info("snowtrail "+version,
		"commit", commit,
		"data_dir", cfg.DataDir,
		"endpoint", cfg.Emitter.Endpoint,
		"method", cfg.Emitter.Method,
		"mode", cfg.Emitter.Mode,
		"store", cfg.Store.Type,
		"archive", cfg.Archive.Type)
}
