package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/antigravity-dev/tracker/internal/config"
	"github.com/antigravity-dev/tracker/internal/priority"
	"github.com/antigravity-dev/tracker/internal/queue"
	"github.com/antigravity-dev/tracker/internal/store"
	"github.com/antigravity-dev/tracker/internal/temporal"
	"github.com/antigravity-dev/tracker/internal/tracker"
)

const defaultConfigPath = "tracker.toml"

var (
	configPath string
	devLogs    bool
)

var rootCmd = &cobra.Command{
	Use:           "tracker",
	Short:         "Label-driven issue tracker",
	Long:          `Track issues whose state and priority live in their labels, over HTTP or from the command line.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to config file")
	rootCmd.PersistentFlags().BoolVar(&devLogs, "dev", false, "use text log format (default is JSON)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// logLevel backs every handler configureLogger builds. Setting it changes
// the level of loggers already handed to components.
var logLevel = new(slog.LevelVar)

func parseLogLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func configureLogger(level string, useDev bool) *slog.Logger {
	logLevel.Set(parseLogLevel(level))
	opts := &slog.HandlerOptions{Level: logLevel}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// loadConfig reads --config. A missing default file falls back to built-in
// defaults; a missing file named explicitly is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return config.Load(configPath)
}

// app bundles the components every command shares.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	engine   *tracker.Engine
	mux      *queue.Mux
	importer *tracker.Importer
	local    *queue.Local
	temporal client.Client
}

// openApp opens the store and wires the engine, importer and import queue
// selected by import.backend. Local tasks run under ctx.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	dbPath := config.ExpandHome(cfg.General.StateDB)
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", dbPath, err)
	}

	a := &app{cfg: cfg, logger: logger, store: st, mux: queue.NewMux()}
	a.engine = tracker.NewEngine(st, logger)
	a.engine.SetDefaultPriority(priority.Bucket(cfg.Priority.Default))

	var q queue.Queue
	switch cfg.Import.Backend {
	case config.BackendTemporal:
		c, err := temporal.Dial(cfg.Temporal, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
		a.temporal = c
		q = temporal.NewQueue(c, temporal.QueueOptions{
			TaskQueue:       cfg.Temporal.TaskQueue,
			ActivityTimeout: cfg.Temporal.ActivityTimeout.Duration,
			MaxAttempts:     int32(cfg.Import.MaxAttempts),
			StartRate:       cfg.Temporal.StartRate,
		}, logger)
	case config.BackendLocal:
		a.local = queue.NewLocal(ctx, a.mux, queue.LocalOptions{
			Workers:     cfg.Import.Workers,
			MaxAttempts: cfg.Import.MaxAttempts,
			Backoff:     cfg.Import.RetryBackoff.Duration,
			Retryable:   func(err error) bool { return !tracker.IsPermanent(err) },
		}, logger)
		q = a.local
	}

	a.importer = tracker.NewImporter(a.engine, q, logger)
	a.importer.Register(a.mux)
	return a, nil
}

func (a *app) activities() *temporal.Activities {
	return &temporal.Activities{Mux: a.mux, Permanent: tracker.IsPermanent}
}

// drain waits for queued local tasks and returns their joined failures.
func (a *app) drain() error {
	if a.local == nil {
		return nil
	}
	return a.local.Wait()
}

func (a *app) Close() {
	if a.temporal != nil {
		a.temporal.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
}

// setup loads config, configures logging and opens the app.
func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := configureLogger(cfg.General.LogLevel, devLogs)
	slog.SetDefault(logger)
	return openApp(cmd.Context(), cfg, logger)
}
