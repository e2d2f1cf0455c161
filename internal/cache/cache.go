// Package cache implements the four-namespace byte-blob store described
// in spec §4.2: translation (LRU, no TTL), partial (LRU, 1h TTL), history
// (LRU, 30d TTL), and session (caller-owned, no eviction policy enforced
// here). Backends are content-agnostic; JSON encoding of model types is a
// transport detail handled by callers.
package cache

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"
)

// Namespace identifies one of the four logical cache partitions.
type Namespace string

const (
	NamespaceTranslation Namespace = "translation"
	NamespacePartial     Namespace = "partial"
	NamespaceHistory     Namespace = "history"
	NamespaceSession     Namespace = "session"
)

// ErrNotFound is returned by Get/Metadata when the key does not exist.
var ErrNotFound = errors.New("cache: not found")

// ErrStorageUnavailable wraps a backing-store failure, per spec §7's
// StorageUnavailable kind. Orchestration degrades gracefully on this.
var ErrStorageUnavailable = errors.New("cache: storage unavailable")

// Metadata describes a stored entry without its payload.
type Metadata struct {
	Namespace    Namespace
	Key          string
	Size         int64
	CreatedAt    time.Time
	LastAccessAt time.Time
	TTL          time.Duration // zero means no TTL
}

// Backend is implemented by each storage collaborator (filesystem, Redis,
// in-memory). All operations are content-agnostic byte-blob operations;
// ttl of zero means "no expiry".
type Backend interface {
	Get(ctx context.Context, ns Namespace, key string) ([]byte, error)
	Set(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, ns Namespace, key string) error
	List(ctx context.Context, ns Namespace, pattern string) ([]string, error)
	Size(ctx context.Context, ns Namespace) (int64, error)
	Metadata(ctx context.Context, ns Namespace, key string) (Metadata, error)
	Cleanup(ctx context.Context, ns Namespace) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// Cache wraps a Backend with process-wide single-flight coalescing for
// GetOrCompute, per spec §4.2's single-flight guarantee: at most one
// in-flight producer may exist process-wide for a given (ns, key).
// Coalescing is per process only: the rediscache package exposes
// AcquireLock/ReleaseLock/WaitForResult for an advisory cross-process
// lock, but GetOrCompute does not call them for any backend.
type Cache struct {
	Backend Backend
	group   singleflight.Group
}

// New wraps backend with single-flight coalescing.
func New(backend Backend) *Cache {
	return &Cache{Backend: backend}
}

// Producer computes a value to store under (ns, key) on a cache miss.
type Producer func(ctx context.Context) ([]byte, error)

// GetOrCompute returns the cached value at (ns, key) if present; otherwise
// it invokes producer at most once per concurrent cohort of callers
// requesting the same key, stores the result with the given ttl, and
// returns it to every waiter (success or failure alike).
func (c *Cache) GetOrCompute(ctx context.Context, ns Namespace, key string, ttl time.Duration, producer Producer) ([]byte, error) {
	if v, err := c.Backend.Get(ctx, ns, key); err == nil {
		return v, nil
	} else if !errors.Is(err, ErrNotFound) {
		// Backing store unreadable: run the producer without the
		// single-flight guard and still return its result; the write
		// is best-effort.
		result, perr := producer(ctx)
		if perr != nil {
			return nil, perr
		}
		_ = c.Backend.Set(ctx, ns, key, result, ttl)
		return result, nil
	}

	flightKey := string(ns) + "\x00" + key
	v, err, _ := c.group.Do(flightKey, func() (any, error) {
		// Re-check: another cohort may have completed between our Get
		// miss above and acquiring the singleflight slot.
		if v, err := c.Backend.Get(ctx, ns, key); err == nil {
			return v, nil
		}

		result, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		if setErr := c.Backend.Set(ctx, ns, key, result, ttl); setErr != nil {
			// Storage failures are best-effort per spec §7: the producer's
			// result is still returned to every waiter.
			return result, nil
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
