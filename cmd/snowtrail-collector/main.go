// Package main runs the development collector.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/snowtrail/snowtrail/internal/app"
	"github.com/snowtrail/snowtrail/internal/config"
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
		addr        string
		dedupeTTL   time.Duration
		logLevel    string
		logFormat   string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&envFile, "env-file", ".env", "Path to a .env file loaded before the environment")
	flag.StringVar(&addr, "addr", "", "Listen address")
	flag.DurationVar(&dedupeTTL, "dedupe-ttl", 0, "How long event ids are remembered for de-duplication")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&logFormat, "log-format", "", "Log format: console or json")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("snowtrail-collector version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.Collector.Addr = addr
	}
	if dedupeTTL > 0 {
		cfg.Collector.DedupeTTL = dedupeTTL
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format, "collector")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("snowtrail-collector "+version, "commit", commit,
		"addr", cfg.Collector.Addr, "dedupe_ttl", cfg.Collector.DedupeTTL)

	collector := app.NewCollector(cfg.Collector, logger)
	if err := collector.Start(context.Background()); err != nil {
		logger.Error("failed to start collector", "error", err)
		os.Exit(1)
	}

	if err := collector.WaitForShutdown(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	stats := collector.Collector().Stats()
	logger.Info("collector stopped", "received", stats.Received, "duplicates", stats.Duplicates)
}
