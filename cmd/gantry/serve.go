package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/gantryproject/gantry/internal/api"
	"github.com/gantryproject/gantry/internal/config"
	"github.com/gantryproject/gantry/internal/metrics"
)

func newServeCmd(configPath *string, verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the loader daemon with the admin API",
		Long: `Run gantry as a long-running daemon.

The daemon loads the construct set on startup, exposes the admission report
and Prometheus metrics over HTTP, and periodically re-fetches stale registry
keys so offline windows start with warm caches.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			return runServe(cfg, *verbose)
		},
	}

	return cmd
}

func runServe(cfg *config.Config, verbose bool) error {
	logger := newLogger(verbose)
	collector := metrics.New()

	l, err := newLoader(cfg, collector, logger)
	if err != nil {
		return err
	}
	defer l.Close()

	// Initial load so the API has a report to serve from the start.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	rep, err := l.load(ctx)
	cancel()
	if err != nil {
		return err
	}

	fmt.Printf("Gantry %s serving on %s\n", Version, cfg.ListenAddr())
	fmt.Printf("Initial load: %d admitted, %d unresolved\n", rep.Admitted, rep.Unresolved)

	// Stale-key refresh keeps the cache warm while the registry is
	// reachable; each refresh is followed by a fresh load so decisions
	// track key availability.
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.RefreshSchedule(), func() {
		refreshCtx, refreshCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer refreshCancel()

		l.cache.RefreshStale(refreshCtx)
		if _, err := l.load(refreshCtx); err != nil {
			logger.Error().Err(err).Msg("scheduled reload failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", cfg.RefreshSchedule(), err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := api.NewServer(l, collector.Handler(), logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(cfg.ListenAddr())
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("admin server: %w", err)
	case sig := <-sigChan:
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
		return nil
	}
}
