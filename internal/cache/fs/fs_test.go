package fs_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dddepg/subtrans/internal/cache"
	cachefs "github.com/dddepg/subtrans/internal/cache/fs"
	"github.com/dddepg/subtrans/internal/db"
)

func newBackend(t *testing.T, limits map[cache.Namespace]int64) *cachefs.Backend {
	t.Helper()
	dir := t.TempDir()

	database, err := db.Open(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	backend, err := cachefs.New(filepath.Join(dir, "blobs"), database, limits)
	require.NoError(t, err)
	return backend
}

func TestGetSet_RoundTrip(t *testing.T) {
	b := newBackend(t, nil)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, cache.NamespaceTranslation, "fp-1", []byte("translated bytes"), 0))

	v, err := b.Get(ctx, cache.NamespaceTranslation, "fp-1")
	require.NoError(t, err)
	require.Equal(t, "translated bytes", string(v))
}

func TestGet_MissingKey(t *testing.T) {
	b := newBackend(t, nil)
	_, err := b.Get(context.Background(), cache.NamespaceTranslation, "missing")
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestGet_ExpiredTTLDeletesBlob(t *testing.T) {
	b := newBackend(t, nil)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, cache.NamespacePartial, "p1", []byte("x"), time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	_, err := b.Get(ctx, cache.NamespacePartial, "p1")
	require.ErrorIs(t, err, cache.ErrNotFound)

	_, err = b.Metadata(ctx, cache.NamespacePartial, "p1")
	require.ErrorIs(t, err, cache.ErrNotFound, "expired entry's metadata row should be dropped too")
}

func TestSet_OverwritesExistingKey(t *testing.T) {
	b := newBackend(t, nil)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, cache.NamespaceTranslation, "k", []byte("v1"), 0))
	require.NoError(t, b.Set(ctx, cache.NamespaceTranslation, "k", []byte("v2-longer"), 0))

	v, err := b.Get(ctx, cache.NamespaceTranslation, "k")
	require.NoError(t, err)
	require.Equal(t, "v2-longer", string(v))

	size, err := b.Size(ctx, cache.NamespaceTranslation)
	require.NoError(t, err)
	require.Equal(t, int64(len("v2-longer")), size)
}

func TestDelete(t *testing.T) {
	b := newBackend(t, nil)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, cache.NamespaceSession, "k", []byte("v"), 0))
	require.NoError(t, b.Delete(ctx, cache.NamespaceSession, "k"))

	_, err := b.Get(ctx, cache.NamespaceSession, "k")
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestEviction_TrimsToEightyPercentOfLimit(t *testing.T) {
	b := newBackend(t, map[cache.Namespace]int64{cache.NamespaceTranslation: 50})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		require.NoError(t, b.Set(ctx, cache.NamespaceTranslation, key, []byte("0123456789"), 0))
	}

	size, err := b.Size(ctx, cache.NamespaceTranslation)
	require.NoError(t, err)
	require.LessOrEqual(t, size, int64(40))

	_, err = b.Get(ctx, cache.NamespaceTranslation, "a")
	require.ErrorIs(t, err, cache.ErrNotFound)
	_, err = b.Get(ctx, cache.NamespaceTranslation, "j")
	require.NoError(t, err)
}

func TestList(t *testing.T) {
	b := newBackend(t, nil)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, cache.NamespaceHistory, "alpha", []byte("x"), 0))
	require.NoError(t, b.Set(ctx, cache.NamespaceHistory, "beta", []byte("x"), 0))

	keys, err := b.List(ctx, cache.NamespaceHistory, "")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alpha", "beta"}, keys)

	filtered, err := b.List(ctx, cache.NamespaceHistory, "al*")
	require.NoError(t, err)
	require.Equal(t, []string{"alpha"}, filtered)
}

func TestHealthCheck(t *testing.T) {
	b := newBackend(t, nil)
	require.NoError(t, b.HealthCheck(context.Background()))
}
