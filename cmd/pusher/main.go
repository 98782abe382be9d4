package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"xbk-pusher/internal/config"
	"xbk-pusher/internal/feed"
	"xbk-pusher/internal/notify"
	"xbk-pusher/internal/pusher"
	"xbk-pusher/internal/server"
	"xbk-pusher/internal/state"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := config.ParseOptions(args)
	if errors.Is(err, config.ErrHelp) {
		return 0
	}
	if err != nil {
		return 2
	}

	// Load Config
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		slog.Error("Failed to load config", "path", opts.ConfigPath, "error", err)
		return 1
	}
	opts.Apply(cfg)

	// Setup Logger
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	source, err := newSource(cfg.Source)
	if err != nil {
		logger.Error("Failed to initialize feed source", "error", err)
		return 1
	}

	channels, err := notify.NewChannels(cfg.Notifiers)
	if err != nil {
		logger.Error("Failed to initialize notifiers", "error", err)
		return 1
	}

	// Init Store
	store, err := openStore(cfg.Store)
	if err != nil {
		logger.Error("Failed to initialize store", "error", err)
		return 1
	}
	defer store.Close()

	tracker := state.NewTracker(store, state.TrackerOptions{
		MarkerKey: cfg.Store.MarkerKey,
		SetKey:    cfg.Store.SetKey,
		TTL:       cfg.Store.TTL,
	})
	runner := pusher.NewRunner(source, tracker, notify.NewDispatcher(channels...), pusher.Options{
		Interval:         cfg.Interval,
		SkipInitialBatch: cfg.SkipInitialBatch,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.Once {
		if err := runner.RunCycle(ctx); err != nil {
			logger.Error("Cycle failed", "error", err)
			return 1
		}
		return 0
	}

	// Cleanup runs on every exit path from here on.
	defer runner.Shutdown()

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           server.NewServer(server.NewHandler(runner, tracker)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Starting metrics server", "address", cfg.Metrics.Address)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("Starting pusher",
		"source", cfg.Source.URL,
		"interval", cfg.Interval,
		"ttl", cfg.Store.TTL,
		"notifiers", len(channels))

	if err := runner.Run(ctx); err != nil {
		logger.Error("Runner failed", "error", err)
		return 1
	}
	logger.Info("Pusher stopped")
	return 0
}

func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, hopts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, hopts))
}

func newSource(c config.SourceConfig) (feed.Source, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	opts := feed.Options{
		URL:       c.URL,
		BaseURL:   c.BaseURL,
		UserAgent: c.UserAgent,
		Timeout:   c.Timeout,
		Location:  loc,
	}
	if c.Format == "rss" {
		return feed.NewRSSSource(opts)
	}
	return feed.NewJSONSource(opts)
}

func openStore(c config.StoreConfig) (state.Store, error) {
	if c.Type == "memory" {
		slog.Info("Using Memory Store")
		return state.NewMemoryStore(), nil
	}
	slog.Info("Using Valkey Store", "address", c.Address, "db", c.DB)
	return state.NewValkeyStore(state.ValkeyOptions{
		Address:   c.Address,
		Password:  c.Password,
		DB:        c.DB,
		OpTimeout: c.Timeout,
	})
}
