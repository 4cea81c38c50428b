package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gantryproject/gantry/internal/config"
	"github.com/gantryproject/gantry/internal/discovery"
	"github.com/gantryproject/gantry/internal/keycache"
	"github.com/gantryproject/gantry/internal/license"
	"github.com/gantryproject/gantry/internal/metrics"
	"github.com/gantryproject/gantry/internal/registry"
	"github.com/gantryproject/gantry/internal/report"
	"github.com/gantryproject/gantry/internal/resolver"
)

// loader wires discovery, the key cache, the validator, and the resolver
// together for the CLI and the serve daemon.
type loader struct {
	cfg       *config.Config
	cache     *keycache.Cache
	store     *keycache.Store
	validator *license.Validator
	disc      *discovery.Discoverer
	res       *resolver.Resolver
	collector *metrics.Collector
	logger    zerolog.Logger

	mu     sync.RWMutex
	latest *report.Report
}

// loadConfig reads the config file from the --config flag or the default
// location.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadDefault()
}

// newLoader assembles the full loading pipeline from configuration.
func newLoader(cfg *config.Config, collector *metrics.Collector, logger zerolog.Logger) (*loader, error) {
	var store *keycache.Store
	if cfg.Cache.Persist {
		cacheDir, err := cfg.CacheDir()
		if err != nil {
			return nil, err
		}
		store, err = keycache.NewStore(cacheDir, logger)
		if err != nil {
			return nil, err
		}
	}

	var fetcher keycache.Fetcher
	if cfg.Registry.URL != "" {
		fetcher = registry.NewClient(cfg.Registry.URL, cfg.FetchTimeout(), logger)
	}

	cache, err := keycache.New(keycache.Options{
		Fetcher:   fetcher,
		Store:     store,
		MaxKeyAge: cfg.MaxKeyAge(),
		Metrics:   collector,
		Logger:    logger,
	})
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	if cfg.BundledKeyDir != "" {
		if err := cache.LoadBundledDir(cfg.BundledKeyDir); err != nil {
			if store != nil {
				store.Close()
			}
			return nil, fmt.Errorf("load bundled keys: %w", err)
		}
	}

	validator := license.NewValidator(cache, logger)

	return &loader{
		cfg:       cfg,
		cache:     cache,
		store:     store,
		validator: validator,
		disc: discovery.New(discovery.Roots{
			Local:    cfg.Sources.Local,
			Override: cfg.Sources.Override,
			Registry: cfg.Sources.Registry,
			Pack:     cfg.Sources.Pack,
		}, logger),
		res: resolver.New(resolver.Options{
			Validator: validator,
			Workers:   cfg.Workers(),
			Metrics:   collector,
			Logger:    logger,
		}),
		collector: collector,
		logger:    logger.With().Str("component", "loader").Logger(),
	}, nil
}

// load runs one full discover-resolve-report cycle.
func (l *loader) load(ctx context.Context) (*report.Report, error) {
	candidates, err := l.disc.Discover()
	if err != nil {
		return nil, fmt.Errorf("discover constructs: %w", err)
	}

	decisions, err := l.res.Resolve(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("resolve constructs: %w", err)
	}

	rep := report.New(decisions)

	l.mu.Lock()
	l.latest = rep
	l.mu.Unlock()

	l.logger.Info().
		Int("admitted", rep.Admitted).
		Int("unresolved", rep.Unresolved).
		Str("run_id", rep.RunID.String()).
		Msg("load complete")

	return rep, nil
}

// Latest returns the most recent report, or nil before the first load.
func (l *loader) Latest() *report.Report {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest
}

// Reload runs a fresh load cycle.
func (l *loader) Reload(ctx context.Context) (*report.Report, error) {
	return l.load(ctx)
}

// Close releases held resources.
func (l *loader) Close() {
	if l.store != nil {
		if err := l.store.Close(); err != nil {
			l.logger.Warn().Err(err).Msg("close key store")
		}
	}
}
