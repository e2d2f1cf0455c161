package provider

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dddepg/subtrans/internal/model"
)

const (
	defaultMaxRetries      = 2
	transientBaseBackoff   = time.Second
	rateLimitFallbackDelay = 5 * time.Second
)

// DispatchOutcome summarizes what happened while dispatching one batch,
// for the orchestrator's history bookkeeping (rateLimitErrors,
// keyRotations fields of model.HistoryRecord).
type DispatchOutcome struct {
	Result        BatchResult
	RateLimitHits int
	KeyRotations  int
}

// Broker drives retry, backoff and key rotation around a single Provider
// dispatch, per the policy table in spec §4.4. It holds no provider
// selection/failover logic; that belongs to the orchestrator, which picks
// primary vs. secondary and calls Dispatch against whichever is active.
type Broker struct {
	Limiter *RateLimiter
	Keys    *KeyPool
	// MaxRetries bounds Transient-kind retries and RateLimited waits
	// (after key rotations run out), sharing one attempt counter.
	// NewBroker maps zero or less to defaultMaxRetries.
	MaxRetries int
	// sleep is overridable in tests; defaults to a context-aware timer wait.
	sleep func(ctx context.Context, d time.Duration) error
	// sem caps how many Dispatch calls may be in flight against this
	// provider at once, independent of the orchestrator's own per-round
	// errgroup limit. It matters when a recovery batch for one request
	// races the main dispatch round of another request against the same
	// provider. Nil means unbounded.
	sem *semaphore.Weighted
}

// NewBroker constructs a Broker around a rate limiter and key pool.
func NewBroker(limiter *RateLimiter, keys *KeyPool, maxRetries int) *Broker {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Broker{
		Limiter:    limiter,
		Keys:       keys,
		MaxRetries: maxRetries,
		sleep:      sleepCtx,
	}
}

// SetSleepForTest overrides the backoff/retry-after wait function. Tests
// use this to avoid real sleeps while still exercising the ctx-cancellation
// path.
func (b *Broker) SetSleepForTest(sleep func(ctx context.Context, d time.Duration) error) {
	b.sleep = sleep
}

// WithConcurrency bounds the number of simultaneous Dispatch calls this
// Broker will let through, returning the same Broker for chaining at
// construction time.
func (b *Broker) WithConcurrency(maxConcurrent int64) *Broker {
	if maxConcurrent > 0 {
		b.sem = semaphore.NewWeighted(maxConcurrent)
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dispatch sends one batch to p, retrying and rotating keys according to
// the classified error kind, until success, a non-retryable error, budget
// exhaustion, or ctx cancellation.
func (b *Broker) Dispatch(ctx context.Context, p Provider, batch model.Batch, req Request) (DispatchOutcome, error) {
	var outcome DispatchOutcome

	if b.sem != nil {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return outcome, err
		}
		defer b.sem.Release(1)
	}

	keyRotationsLeft := 0
	if b.Keys != nil {
		keyRotationsLeft = b.Keys.Size()
		if keyRotationsLeft > 0 {
			req.APIKey = b.Keys.Current()
		}
	}

	// Drop optional parameters p does not support rather than sending them.
	caps := p.Capabilities()
	if !caps.ReasoningEffort {
		req.Parameters.ReasoningEffort = ""
	}
	if !caps.ThinkingBudget {
		req.Parameters.ThinkingBudget = nil
	}
	if !caps.Formality {
		req.Parameters.Formality = ""
	}
	if !caps.TopK {
		req.Parameters.TopK = nil
	}

	attempt := 0
	for {
		if b.Limiter != nil {
			if err := b.Limiter.Wait(ctx); err != nil {
				return outcome, err
			}
		}

		result, err := p.Translate(ctx, batch, req)
		if err == nil {
			outcome.Result = result
			return outcome, nil
		}

		var perr *ProviderError
		if !errors.As(err, &perr) {
			return outcome, err
		}

		switch perr.Kind {
		case RateLimited:
			outcome.RateLimitHits++
			if keyRotationsLeft > 0 && b.Keys != nil {
				req.APIKey = b.Keys.Rotate()
				keyRotationsLeft--
				outcome.KeyRotations++
				continue
			}
			if attempt >= b.MaxRetries {
				return outcome, err
			}
			delay := time.Duration(perr.RetryAfterSeconds) * time.Second
			if delay <= 0 {
				delay = rateLimitFallbackDelay
			}
			if serr := b.sleep(ctx, delay); serr != nil {
				return outcome, serr
			}
			attempt++
			continue

		case Transient:
			if attempt >= b.MaxRetries {
				return outcome, err
			}
			delay := jittered(transientBaseBackoff * (1 << attempt))
			if serr := b.sleep(ctx, delay); serr != nil {
				return outcome, serr
			}
			attempt++
			continue

		case AuthFailed:
			if keyRotationsLeft > 0 && b.Keys != nil {
				req.APIKey = b.Keys.Rotate()
				keyRotationsLeft--
				outcome.KeyRotations++
				continue
			}
			return outcome, err

		default: // InvalidRequest, Fatal, ShapeMismatch
			return outcome, err
		}
	}
}

// jittered applies +/-25% jitter to d.
func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) * 0.25
	delta := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + delta)
}
