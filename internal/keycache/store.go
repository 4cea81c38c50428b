package keycache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Store persists registry-fetched keys in a local SQLite database so that a
// process restart while offline still finds the keys it had. Round-tripping
// an entry through the store reproduces it exactly.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens (or creates) the key database in the given directory.
func NewStore(cacheDir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	dbPath := filepath.Join(cacheDir, "keys.db")
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open key database: %w", err)
	}

	store := &Store{
		db:     db,
		logger: logger.With().Str("component", "key_store").Logger(),
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate key database: %w", err)
	}

	store.logger.Debug().Str("path", dbPath).Msg("key database initialized")
	return store, nil
}

// migrate creates the necessary tables.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS public_keys (
			key_id TEXT PRIMARY KEY,
			pem BLOB NOT NULL,
			fetched_at TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'registry'
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put stores or replaces a key entry.
func (s *Store) Put(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO public_keys (key_id, pem, fetched_at, source)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key_id) DO UPDATE SET
			pem = excluded.pem,
			fetched_at = excluded.fetched_at,
			source = excluded.source
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.KeyID,
		entry.PEM,
		entry.FetchedAt.UTC().Format(time.RFC3339Nano),
		string(entry.Source),
	)
	if err != nil {
		return fmt.Errorf("insert public key: %w", err)
	}

	return nil
}

// Get retrieves a single entry by key id, or nil when absent.
func (s *Store) Get(ctx context.Context, keyID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT key_id, pem, fetched_at, source FROM public_keys WHERE key_id = ?", keyID)

	entry, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

// LoadAll returns every persisted entry.
func (s *Store) LoadAll(ctx context.Context) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key_id, pem, fetched_at, source FROM public_keys ORDER BY key_id")
	if err != nil {
		return nil, fmt.Errorf("query public keys: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan public key row: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate public keys: %w", err)
	}

	return entries, nil
}

// Delete removes a persisted entry.
func (s *Store) Delete(ctx context.Context, keyID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM public_keys WHERE key_id = ?", keyID)
	if err != nil {
		return fmt.Errorf("delete public key: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanEntry converts a scanned row into an Entry.
func scanEntry(scan func(dest ...any) error) (*Entry, error) {
	var (
		keyID, fetchedAtStr, source string
		pem                         []byte
	)

	if err := scan(&keyID, &pem, &fetchedAtStr, &source); err != nil {
		return nil, err
	}

	fetchedAt, err := time.Parse(time.RFC3339Nano, fetchedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse fetched_at: %w", err)
	}

	return &Entry{
		KeyID:     keyID,
		PEM:       pem,
		FetchedAt: fetchedAt,
		Source:    Source(source),
	}, nil
}
