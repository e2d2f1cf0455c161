// Package memcache implements cache.Backend entirely in-memory, using a
// per-namespace doubly linked LRU list guarded by a mutex. It backs
// orchestrator/planner tests and serves as the "no-op" adapter for
// deployments that want neither the filesystem nor Redis backend.
package memcache

import (
	"container/list"
	"context"
	"path"
	"sync"
	"time"

	"github.com/dddepg/subtrans/internal/cache"
)

type entry struct {
	ns           cache.Namespace
	key          string
	value        []byte
	createdAt    time.Time
	lastAccessAt time.Time
	expiresAt    time.Time // zero means no expiry
}

// Backend is an in-memory cache.Backend. The zero value is not usable;
// construct with New.
type Backend struct {
	mu    sync.Mutex
	limit int64 // bytes per namespace; 0 means unlimited

	// order holds one LRU list per namespace (front = most recently
	// touched); elem.Value is *entry.
	order map[cache.Namespace]*list.List
	elems map[cache.Namespace]map[string]*list.Element
	sizes map[cache.Namespace]int64
}

// New constructs an empty Backend. limitBytes bounds each namespace
// independently; zero means unbounded (tests typically pass 0 and manage
// size explicitly, or a small limit to exercise eviction).
func New(limitBytes int64) *Backend {
	return &Backend{
		limit: limitBytes,
		order: make(map[cache.Namespace]*list.List),
		elems: make(map[cache.Namespace]map[string]*list.Element),
		sizes: make(map[cache.Namespace]int64),
	}
}

func (b *Backend) listFor(ns cache.Namespace) *list.List {
	l, ok := b.order[ns]
	if !ok {
		l = list.New()
		b.order[ns] = l
		b.elems[ns] = make(map[string]*list.Element)
	}
	return l
}

func (b *Backend) Get(ctx context.Context, ns cache.Namespace, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elem, ok := b.elems[ns][key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	e := elem.Value.(*entry)
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		b.removeLocked(ns, elem)
		return nil, cache.ErrNotFound
	}
	e.lastAccessAt = time.Now()
	b.listFor(ns).MoveToFront(elem)

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (b *Backend) Set(ctx context.Context, ns cache.Namespace, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	l := b.listFor(ns)
	if existing, ok := b.elems[ns][key]; ok {
		old := existing.Value.(*entry)
		b.sizes[ns] -= int64(len(old.value))
		old.value = append([]byte(nil), value...)
		old.createdAt = now
		old.lastAccessAt = now
		old.expiresAt = expiresAt
		l.MoveToFront(existing)
	} else {
		e := &entry{ns: ns, key: key, value: append([]byte(nil), value...), createdAt: now, lastAccessAt: now, expiresAt: expiresAt}
		elem := l.PushFront(e)
		b.elems[ns][key] = elem
	}
	b.sizes[ns] += int64(len(value))

	b.evictLocked(ns)
	return nil
}

// evictLocked evicts oldest entries (back of list) until size is at or
// under 80% of limit, per spec §4.2's LRU mechanics. Unlimited (limit<=0)
// namespaces never evict here.
func (b *Backend) evictLocked(ns cache.Namespace) {
	if b.limit <= 0 || b.sizes[ns] <= b.limit {
		return
	}
	target := int64(float64(b.limit) * 0.8)
	l := b.listFor(ns)
	for b.sizes[ns] > target {
		back := l.Back()
		if back == nil {
			return
		}
		b.removeLocked(ns, back)
	}
}

func (b *Backend) removeLocked(ns cache.Namespace, elem *list.Element) {
	e := elem.Value.(*entry)
	b.listFor(ns).Remove(elem)
	delete(b.elems[ns], e.key)
	b.sizes[ns] -= int64(len(e.value))
}

func (b *Backend) Delete(ctx context.Context, ns cache.Namespace, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	elem, ok := b.elems[ns][key]
	if !ok {
		return nil
	}
	b.removeLocked(ns, elem)
	return nil
}

func (b *Backend) List(ctx context.Context, ns cache.Namespace, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for key := range b.elems[ns] {
		if pattern == "" {
			out = append(out, key)
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			out = append(out, key)
		}
	}
	return out, nil
}

func (b *Backend) Size(ctx context.Context, ns cache.Namespace) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sizes[ns], nil
}

func (b *Backend) Metadata(ctx context.Context, ns cache.Namespace, key string) (cache.Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	elem, ok := b.elems[ns][key]
	if !ok {
		return cache.Metadata{}, cache.ErrNotFound
	}
	e := elem.Value.(*entry)
	var ttl time.Duration
	if !e.expiresAt.IsZero() {
		ttl = time.Until(e.expiresAt)
	}
	return cache.Metadata{
		Namespace:    ns,
		Key:          key,
		Size:         int64(len(e.value)),
		CreatedAt:    e.createdAt,
		LastAccessAt: e.lastAccessAt,
		TTL:          ttl,
	}, nil
}

func (b *Backend) Cleanup(ctx context.Context, ns cache.Namespace) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	l := b.listFor(ns)
	for elem := l.Front(); elem != nil; {
		next := elem.Next()
		e := elem.Value.(*entry)
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			b.removeLocked(ns, elem)
		}
		elem = next
	}
	return nil
}

func (b *Backend) HealthCheck(ctx context.Context) error { return nil }

func (b *Backend) Close() error { return nil }
