package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/dddepg/subtrans/internal/cache"
)

// lockPollInterval is how often WaitForResult re-checks for the leader's
// value while the lock taken through AcquireLock is still held.
const lockPollInterval = 100 * time.Millisecond

// AcquireLock attempts to take the distributed single-flight lock for
// (ns, key) using SETNX with an expiring TTL, so a crashed holder never
// wedges the lock forever. It returns true if the lock was acquired.
func (b *Backend) AcquireLock(ctx context.Context, ns cache.Namespace, key string, ttl time.Duration) (bool, error) {
	lockKey := fmt.Sprintf("%slock:%s:%s", b.prefix, ns, key)
	return b.client.SetNX(ctx, lockKey, 1, ttl).Result()
}

// ReleaseLock drops the single-flight lock for (ns, key). Safe to call
// even if the lock already expired.
func (b *Backend) ReleaseLock(ctx context.Context, ns cache.Namespace, key string) error {
	lockKey := fmt.Sprintf("%slock:%s:%s", b.prefix, ns, key)
	return b.client.Del(ctx, lockKey).Err()
}

// WaitForResult polls (ns, key) until a value appears, the lock is
// released by its holder, or the context is cancelled. Used by followers
// that lost the AcquireLock race: rather than recomputing the value
// themselves, they poll for the leader's result.
func (b *Backend) WaitForResult(ctx context.Context, ns cache.Namespace, key string) ([]byte, error) {
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		if v, err := b.Get(ctx, ns, key); err == nil {
			return v, nil
		}

		lockKey := fmt.Sprintf("%slock:%s:%s", b.prefix, ns, key)
		held, err := b.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return nil, fmt.Errorf("rediscache: poll lock: %w", err)
		}
		if held == 0 {
			// Leader released the lock without ever writing a value
			// (failed computation); give up rather than poll forever.
			return nil, fmt.Errorf("rediscache: leader released lock without producing a result")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

