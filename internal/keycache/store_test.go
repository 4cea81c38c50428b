package keycache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := &Entry{
		KeyID:     "k1",
		PEM:       []byte("-----BEGIN PUBLIC KEY-----\npayload\n-----END PUBLIC KEY-----\n"),
		FetchedAt: time.Date(2026, 3, 1, 12, 30, 45, 123456789, time.UTC),
		Source:    SourceRegistry,
	}
	require.NoError(t, store.Put(ctx, entry))

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.KeyID, got.KeyID)
	assert.Equal(t, entry.PEM, got.PEM)
	assert.True(t, got.FetchedAt.Equal(entry.FetchedAt))
	assert.Equal(t, SourceRegistry, got.Source)
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStorePutReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &Entry{KeyID: "k1", PEM: []byte("old"), FetchedAt: time.Now().UTC(), Source: SourceRegistry}
	require.NoError(t, store.Put(ctx, first))

	second := &Entry{KeyID: "k1", PEM: []byte("new"), FetchedAt: time.Now().UTC().Add(time.Hour), Source: SourceRegistry}
	require.NoError(t, store.Put(ctx, second))

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("new"), got.PEM)

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStoreLoadAllOrdered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		entry := &Entry{KeyID: id, PEM: []byte(id), FetchedAt: time.Now().UTC(), Source: SourceRegistry}
		require.NoError(t, store.Put(ctx, entry))
	}

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].KeyID)
	assert.Equal(t, "bravo", all[1].KeyID)
	assert.Equal(t, "charlie", all[2].KeyID)
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := &Entry{KeyID: "k1", PEM: []byte("pem"), FetchedAt: time.Now().UTC(), Source: SourceRegistry}
	require.NoError(t, store.Put(ctx, entry))
	require.NoError(t, store.Delete(ctx, "k1"))

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheLoadsPersistedEntries(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewStore(dir, zerolog.Nop())
	require.NoError(t, err)

	pem := testPEM(t)
	entry := &Entry{KeyID: "k1", PEM: pem, FetchedAt: time.Now().UTC(), Source: SourceRegistry}
	require.NoError(t, store.Put(ctx, entry))
	require.NoError(t, store.Close())

	store, err = NewStore(dir, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cache, err := New(Options{Store: store, Logger: zerolog.Nop()})
	require.NoError(t, err)

	got, err := cache.GetOrFetch(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, pem, got.PEM)
}
