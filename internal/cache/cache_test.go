package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dddepg/subtrans/internal/cache"
	"github.com/dddepg/subtrans/internal/cache/memcache"
)

func TestGetOrCompute_CacheHit(t *testing.T) {
	backend := memcache.New(0)
	c := cache.New(backend)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, cache.NamespaceTranslation, "k1", []byte("hello"), 0))

	var calls int32
	v, err := c.GetOrCompute(ctx, cache.NamespaceTranslation, "k1", 0, func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("should not be called"), nil
	})
	require.NoError(t, err)
	require.Equal(t, "hello", string(v))
	require.Zero(t, calls)
}

func TestGetOrCompute_MissInvokesProducerOnce(t *testing.T) {
	backend := memcache.New(0)
	c := cache.New(backend)
	ctx := context.Background()

	var calls int32
	v, err := c.GetOrCompute(ctx, cache.NamespaceTranslation, "k1", time.Hour, func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("computed"), nil
	})
	require.NoError(t, err)
	require.Equal(t, "computed", string(v))
	require.EqualValues(t, 1, calls)

	stored, err := backend.Get(ctx, cache.NamespaceTranslation, "k1")
	require.NoError(t, err)
	require.Equal(t, "computed", string(stored))
}

func TestGetOrCompute_ConcurrentCallersCoalesce(t *testing.T) {
	backend := memcache.New(0)
	c := cache.New(backend)
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	producer := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte("computed"), nil
	}

	const cohort = 20
	var wg sync.WaitGroup
	results := make([][]byte, cohort)
	errs := make([]error, cohort)
	for i := 0; i < cohort; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute(ctx, cache.NamespaceTranslation, "shared-key", time.Minute, producer)
			results[i] = v
			errs[i] = err
		}(i)
	}

	// Give every goroutine a chance to enter GetOrCompute before releasing
	// the producer, so they all land in the same singleflight cohort.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls, "producer should run exactly once for a coalesced cohort")
	for i := 0; i < cohort; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "computed", string(results[i]))
	}
}

func TestGetOrCompute_ProducerErrorPropagates(t *testing.T) {
	backend := memcache.New(0)
	c := cache.New(backend)
	ctx := context.Background()

	wantErr := errors.New("boom")
	_, err := c.GetOrCompute(ctx, cache.NamespaceTranslation, "k1", time.Hour, func(ctx context.Context) ([]byte, error) {
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)

	_, err = backend.Get(ctx, cache.NamespaceTranslation, "k1")
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestGetOrCompute_StorageFailureStillReturnsValue(t *testing.T) {
	backend := &failingSetBackend{Backend: memcache.New(0)}
	c := cache.New(backend)
	ctx := context.Background()

	v, err := c.GetOrCompute(ctx, cache.NamespaceTranslation, "k1", time.Hour, func(ctx context.Context) ([]byte, error) {
		return []byte("computed"), nil
	})
	require.NoError(t, err)
	require.Equal(t, "computed", string(v))
}

type failingSetBackend struct {
	cache.Backend
}

func (f *failingSetBackend) Set(ctx context.Context, ns cache.Namespace, key string, value []byte, ttl time.Duration) error {
	return cache.ErrStorageUnavailable
}
