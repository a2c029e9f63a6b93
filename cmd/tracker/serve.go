package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/antigravity-dev/tracker/internal/api"
	"github.com/antigravity-dev/tracker/internal/config"
	"github.com/antigravity-dev/tracker/internal/priority"
	"github.com/antigravity-dev/tracker/internal/temporal"
	"github.com/antigravity-dev/tracker/internal/tracker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve tracker actions over HTTP. With import.backend = "temporal" the
Temporal worker runs in the same process. SIGHUP reloads the config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		cmd.SetContext(ctx)

		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		cfgManager := config.NewRWMutexManager(a.cfg)
		srv, err := api.NewServer(cfgManager, a.engine, a.importer, a.logger)
		if err != nil {
			return err
		}
		defer srv.Close()

		errCh := make(chan error, 2)
		go func() {
			if err := srv.Start(ctx); err != nil {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
		if a.temporal != nil {
			go func() {
				if err := temporal.StartWorker(ctx, a.temporal, a.cfg.Temporal.TaskQueue, a.activities(), a.logger); err != nil {
					errCh <- fmt.Errorf("temporal worker: %w", err)
				}
			}()
		}

		a.logger.Info("tracker started",
			"bind", a.cfg.API.Bind,
			"state_db", a.cfg.General.StateDB,
			"import_backend", a.cfg.Import.Backend,
			"tasks", a.mux.Names(),
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		for {
			select {
			case err := <-errCh:
				cancel()
				a.drain()
				return err
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					if err := reloadConfig(cfgManager, configPath, a.engine); err != nil {
						a.logger.Error(fmt.Sprintf("config reload failed: %v", err))
						continue
					}
					a.logger.Info("config reloaded")
					continue
				}
				shutdownStart := time.Now()
				a.logger.Info("received signal, shutting down", "signal", sig)
				cancel()
				if err := a.drain(); err != nil {
					a.logger.Warn("queued imports failed", "error", err)
				}
				a.logger.Info("tracker stopped", "shutdown_duration", time.Since(shutdownStart).String())
				return nil
			}
		}
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker only",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		cmd.SetContext(ctx)

		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.temporal == nil {
			return fmt.Errorf("worker requires import.backend = %q, got %q", config.BackendTemporal, a.cfg.Import.Backend)
		}
		return temporal.StartWorker(ctx, a.temporal, a.cfg.Temporal.TaskQueue, a.activities(), a.logger)
	},
}

// reloadConfig swaps in the config at path. The API reads the new security
// settings on its next request; the log level and default priority are pushed
// here. Changes to startup-only settings roll the whole reload back.
func reloadConfig(mgr config.ConfigManager, path string, engine *tracker.Engine) error {
	current := mgr.Get()
	if err := mgr.Reload(path); err != nil {
		return err
	}
	next := mgr.Get()
	if err := validateRuntimeConfigReload(current, next); err != nil {
		mgr.Set(current)
		return err
	}
	logLevel.Set(parseLogLevel(next.General.LogLevel))
	engine.SetDefaultPriority(priority.Bucket(next.Priority.Default))
	return nil
}

// validateRuntimeConfigReload rejects reloads that change settings only read
// at startup.
func validateRuntimeConfigReload(oldCfg, newCfg *config.Config) error {
	if oldCfg == nil || newCfg == nil {
		return fmt.Errorf("invalid config state during reload")
	}

	checks := []struct{ key, old, new string }{
		{"general.state_db", oldCfg.General.StateDB, newCfg.General.StateDB},
		{"api.bind", oldCfg.API.Bind, newCfg.API.Bind},
		{"api.security.audit_log", oldCfg.API.Security.AuditLog, newCfg.API.Security.AuditLog},
		{"import.backend", oldCfg.Import.Backend, newCfg.Import.Backend},
		{"temporal.host_port", oldCfg.Temporal.HostPort, newCfg.Temporal.HostPort},
	}
	for _, c := range checks {
		if strings.TrimSpace(c.old) != strings.TrimSpace(c.new) {
			return fmt.Errorf("%s changed (%q -> %q) and requires restart", c.key, c.old, c.new)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd, workerCmd)
}
