package provider

import "sync"

// KeyPool rotates through a set of API keys for one provider, guarded the
// same way RateLimiter guards a swappable rate.Limiter: a mutex around a
// small piece of mutable state that many goroutines read concurrently.
type KeyPool struct {
	mu   sync.Mutex
	keys []string
	next int
}

// NewKeyPool builds a pool from keys in rotation order. An empty pool is
// valid and always returns "".
func NewKeyPool(keys []string) *KeyPool {
	cp := make([]string, len(keys))
	copy(cp, keys)
	return &KeyPool{keys: cp}
}

// Size returns the number of keys in the pool.
func (p *KeyPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Current returns the key currently in use without advancing rotation.
func (p *KeyPool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return ""
	}
	return p.keys[p.next]
}

// Rotate advances to the next key and returns it. Calling Rotate more
// times than Size in one dispatch attempt means every key has been tried;
// callers are expected to track that themselves (spec §4.4 bounds
// rotation-driven retries to keyPool.size per batch).
func (p *KeyPool) Rotate() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return ""
	}
	p.next = (p.next + 1) % len(p.keys)
	return p.keys[p.next]
}
