// Package keycache holds public keys by key identifier and answers whether a
// usable key exists for a given id. It is the only mutable shared state in
// the loading subsystem; all mutation goes through the single-flight
// GetOrFetch path.
package keycache

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/gantryproject/gantry/internal/metrics"
)

// DefaultMaxKeyAge is how long a registry-fetched key is considered fresh.
// A stale key is still usable for validation while offline; staleness of a
// cache entry and staleness of a license are independent concepts.
const DefaultMaxKeyAge = 24 * time.Hour

// ErrKeyUnavailable indicates no entry exists for a key id and the registry
// could not provide one.
var ErrKeyUnavailable = errors.New("key unavailable")

// Source records where a cached key came from.
type Source string

const (
	// SourceRegistry marks a key fetched from the registry; it goes stale.
	SourceRegistry Source = "registry"
	// SourceBundled marks a key shipped with the binary; it never expires.
	SourceBundled Source = "bundled"
)

// Entry is a cached public key.
type Entry struct {
	KeyID     string    `json:"key_id"`
	PEM       []byte    `json:"pem"`
	FetchedAt time.Time `json:"fetched_at"`
	Source    Source    `json:"source"`
}

// RSAPublicKey parses the entry's PEM bytes into an RSA public key.
func (e *Entry) RSAPublicKey() (*rsa.PublicKey, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(e.PEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", e.KeyID, err)
	}
	return key, nil
}

// Fetcher retrieves key bytes from the registry. Failure is always
// recoverable here and must never abort the caller.
type Fetcher interface {
	Fetch(ctx context.Context, keyID string) ([]byte, error)
}

// Cache is the in-memory key cache with optional on-disk persistence for
// registry-fetched entries.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	group     singleflight.Group
	fetcher   Fetcher
	store     *Store
	maxKeyAge time.Duration
	metrics   *metrics.Collector
	logger    zerolog.Logger
	now       func() time.Time
}

// Options configures a Cache.
type Options struct {
	Fetcher Fetcher
	// Store persists registry-fetched keys across restarts. Optional.
	Store *Store
	// MaxKeyAge before a registry entry is stale (default: 24h).
	MaxKeyAge time.Duration
	Metrics   *metrics.Collector
	Logger    zerolog.Logger
}

// New creates a key cache. Persisted registry entries, if a store is
// configured, are loaded immediately so offline starts begin warm.
func New(opts Options) (*Cache, error) {
	if opts.MaxKeyAge == 0 {
		opts.MaxKeyAge = DefaultMaxKeyAge
	}

	c := &Cache{
		entries:   make(map[string]*Entry),
		fetcher:   opts.Fetcher,
		store:     opts.Store,
		maxKeyAge: opts.MaxKeyAge,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With().Str("component", "key_cache").Logger(),
		now:       time.Now,
	}

	if c.store != nil {
		entries, err := c.store.LoadAll(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load persisted keys: %w", err)
		}
		for _, e := range entries {
			c.entries[e.KeyID] = e
		}
		if len(entries) > 0 {
			c.logger.Info().Int("count", len(entries)).Msg("loaded persisted registry keys")
		}
	}

	return c, nil
}

// AddBundled registers a key shipped with the binary. Bundled entries never
// trigger network I/O and never expire.
func (c *Cache) AddBundled(keyID string, pem []byte) error {
	entry := &Entry{
		KeyID:     keyID,
		PEM:       pem,
		FetchedAt: c.now().UTC(),
		Source:    SourceBundled,
	}
	if _, err := entry.RSAPublicKey(); err != nil {
		return err
	}

	c.mu.Lock()
	c.entries[keyID] = entry
	c.mu.Unlock()

	c.logger.Debug().Str("key_id", keyID).Msg("bundled key registered")
	return nil
}

// LoadBundledDir registers every *.pem file in dir as a bundled key, keyed
// by file name without extension. A missing directory is not an error.
func (c *Cache) LoadBundledDir(dir string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read bundled key directory: %w", err)
	}

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".pem") {
			continue
		}
		pem, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			return fmt.Errorf("read bundled key %s: %w", f.Name(), err)
		}
		keyID := strings.TrimSuffix(f.Name(), ".pem")
		if err := c.AddBundled(keyID, pem); err != nil {
			c.logger.Warn().Err(err).Str("file", f.Name()).Msg("skipping unparseable bundled key")
		}
	}

	return nil
}

// GetOrFetch returns a usable entry for the key id, fetching from the
// registry when needed.
//
// Bundled entries win immediately. A fresh cached registry entry is
// returned as-is. Otherwise one fetch is started; concurrent callers for
// the same key id share its result. On fetch failure a stale cached entry,
// if any, is returned instead of the error -- stale-but-present beats hard
// failure and is what makes offline operation possible.
func (c *Cache) GetOrFetch(ctx context.Context, keyID string) (*Entry, error) {
	c.mu.RLock()
	entry := c.entries[keyID]
	c.mu.RUnlock()

	if entry != nil {
		if entry.Source == SourceBundled {
			c.metrics.CacheLookup("bundled")
			return entry, nil
		}
		if !c.isStale(entry) {
			c.metrics.CacheLookup("fresh")
			return entry, nil
		}
	}

	result, err, _ := c.group.Do(keyID, func() (interface{}, error) {
		return c.fetchLocked(ctx, keyID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Entry), nil
}

// fetchLocked runs inside the single-flight group: at most one execution per
// key id at a time, with all waiters sharing the outcome.
func (c *Cache) fetchLocked(ctx context.Context, keyID string) (*Entry, error) {
	// A concurrent flight may have refreshed the entry while this caller
	// waited on the group.
	c.mu.RLock()
	cached := c.entries[keyID]
	c.mu.RUnlock()
	if cached != nil && !c.isStale(cached) {
		return cached, nil
	}

	if c.fetcher == nil {
		if cached != nil {
			return cached, nil
		}
		return nil, ErrKeyUnavailable
	}

	pem, err := c.fetcher.Fetch(ctx, keyID)
	if err != nil {
		if cached != nil {
			c.metrics.CacheLookup("stale_rescue")
			c.metrics.KeyFetch("error")
			c.logger.Warn().Err(err).Str("key_id", keyID).
				Time("fetched_at", cached.FetchedAt).
				Msg("fetch failed, using stale cached key")
			return cached, nil
		}
		c.metrics.KeyFetch("error")
		c.logger.Warn().Err(err).Str("key_id", keyID).Msg("fetch failed with no cached key")
		return nil, fmt.Errorf("%w: %s", ErrKeyUnavailable, keyID)
	}

	entry := &Entry{
		KeyID:     keyID,
		PEM:       pem,
		FetchedAt: c.now().UTC(),
		Source:    SourceRegistry,
	}

	c.mu.Lock()
	c.entries[keyID] = entry
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Put(ctx, entry); err != nil {
			c.logger.Warn().Err(err).Str("key_id", keyID).Msg("failed to persist key")
		}
	}

	c.metrics.KeyFetch("ok")
	c.logger.Info().Str("key_id", keyID).Msg("public key fetched from registry")
	return entry, nil
}

// ResolveKey implements the validator's KeyResolver contract.
func (c *Cache) ResolveKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	entry, err := c.GetOrFetch(ctx, keyID)
	if err != nil {
		return nil, err
	}
	return entry.RSAPublicKey()
}

// RefreshStale re-fetches every stale registry entry while online so a later
// offline window starts with warm keys. Failures leave the stale entries in
// place.
func (c *Cache) RefreshStale(ctx context.Context) int {
	c.mu.RLock()
	var stale []string
	for id, entry := range c.entries {
		if entry.Source == SourceRegistry && c.isStale(entry) {
			stale = append(stale, id)
		}
	}
	c.mu.RUnlock()

	refreshed := 0
	for _, id := range stale {
		if _, err := c.GetOrFetch(ctx, id); err == nil {
			refreshed++
		}
	}

	if len(stale) > 0 {
		c.logger.Info().Int("stale", len(stale)).Int("refreshed", refreshed).Msg("stale key refresh complete")
	}
	return refreshed
}

// Entries returns a snapshot of all cached entries.
func (c *Cache) Entries() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		copied := *e
		out = append(out, &copied)
	}
	return out
}

// IsStale reports whether the entry is past the cache's max key age.
// Bundled entries are never stale.
func (c *Cache) IsStale(e *Entry) bool {
	return c.isStale(e)
}

func (c *Cache) isStale(e *Entry) bool {
	if e.Source == SourceBundled {
		return false
	}
	return c.now().Sub(e.FetchedAt) > c.maxKeyAge
}
