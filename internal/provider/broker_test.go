package provider_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dddepg/subtrans/internal/model"
	"github.com/dddepg/subtrans/internal/provider"
)

type scriptedProvider struct {
	calls   int32
	results []struct {
		result provider.BatchResult
		err    error
	}
}

func (p *scriptedProvider) Name() string                        { return "scripted" }
func (p *scriptedProvider) Capabilities() provider.Capabilities { return provider.Capabilities{} }
func (p *scriptedProvider) Translate(ctx context.Context, batch model.Batch, req provider.Request) (provider.BatchResult, error) {
	n := atomic.AddInt32(&p.calls, 1)
	if int(n) > len(p.results) {
		return provider.BatchResult{}, errors.New("scriptedProvider: out of scripted responses")
	}
	step := p.results[n-1]
	return step.result, step.err
}

func withResult(r provider.BatchResult) struct {
	result provider.BatchResult
	err    error
} {
	return struct {
		result provider.BatchResult
		err    error
	}{result: r}
}

func withErr(err error) struct {
	result provider.BatchResult
	err    error
} {
	return struct {
		result provider.BatchResult
		err    error
	}{err: err}
}

func zeroSleepBroker(limiter *provider.RateLimiter, keys *provider.KeyPool, maxRetries int) *provider.Broker {
	b := provider.NewBroker(limiter, keys, maxRetries)
	b.SetSleepForTest(func(ctx context.Context, d time.Duration) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	})
	return b
}

func TestDispatch_SucceedsOnFirstTry(t *testing.T) {
	p := &scriptedProvider{results: []struct {
		result provider.BatchResult
		err    error
	}{withResult(provider.BatchResult{ModelUsed: "m"})}}
	b := zeroSleepBroker(nil, nil, 2)

	out, err := b.Dispatch(context.Background(), p, model.Batch{}, provider.Request{})
	require.NoError(t, err)
	require.Equal(t, "m", out.Result.ModelUsed)
	require.EqualValues(t, 1, p.calls)
}

func TestDispatch_TransientRetriesThenSucceeds(t *testing.T) {
	p := &scriptedProvider{results: []struct {
		result provider.BatchResult
		err    error
	}{
		withErr(provider.NewProviderError("scripted", provider.Transient, 0, errors.New("boom"))),
		withErr(provider.NewProviderError("scripted", provider.Transient, 0, errors.New("boom again"))),
		withResult(provider.BatchResult{ModelUsed: "m"}),
	}}
	b := zeroSleepBroker(nil, nil, 2)

	out, err := b.Dispatch(context.Background(), p, model.Batch{}, provider.Request{})
	require.NoError(t, err)
	require.Equal(t, "m", out.Result.ModelUsed)
	require.EqualValues(t, 3, p.calls)
}

func TestDispatch_TransientExhaustsRetries(t *testing.T) {
	p := &scriptedProvider{results: []struct {
		result provider.BatchResult
		err    error
	}{
		withErr(provider.NewProviderError("scripted", provider.Transient, 0, errors.New("1"))),
		withErr(provider.NewProviderError("scripted", provider.Transient, 0, errors.New("2"))),
		withErr(provider.NewProviderError("scripted", provider.Transient, 0, errors.New("3"))),
	}}
	b := zeroSleepBroker(nil, nil, 2)

	_, err := b.Dispatch(context.Background(), p, model.Batch{}, provider.Request{})
	require.Error(t, err)
	var perr *provider.ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, provider.Transient, perr.Kind)
	require.EqualValues(t, 3, p.calls)
}

func TestDispatch_RateLimitedRotatesKeysBeforeSleeping(t *testing.T) {
	p := &scriptedProvider{results: []struct {
		result provider.BatchResult
		err    error
	}{
		withErr(provider.NewProviderError("scripted", provider.RateLimited, 1, errors.New("429"))),
		withErr(provider.NewProviderError("scripted", provider.RateLimited, 1, errors.New("429"))),
		withResult(provider.BatchResult{ModelUsed: "m"}),
	}}
	keys := provider.NewKeyPool([]string{"key-a", "key-b"})
	b := zeroSleepBroker(nil, keys, 2)

	out, err := b.Dispatch(context.Background(), p, model.Batch{}, provider.Request{})
	require.NoError(t, err)
	require.Equal(t, "m", out.Result.ModelUsed)
	require.Equal(t, 2, out.KeyRotations)
	require.Equal(t, 2, out.RateLimitHits)
}

func TestDispatch_RateLimitedWithNoKeysEventuallyFails(t *testing.T) {
	p := &scriptedProvider{results: []struct {
		result provider.BatchResult
		err    error
	}{
		withErr(provider.NewProviderError("scripted", provider.RateLimited, 0, errors.New("429"))),
		withErr(provider.NewProviderError("scripted", provider.RateLimited, 0, errors.New("429"))),
		withErr(provider.NewProviderError("scripted", provider.RateLimited, 0, errors.New("429"))),
	}}
	b := zeroSleepBroker(nil, nil, 2)

	_, err := b.Dispatch(context.Background(), p, model.Batch{}, provider.Request{})
	require.Error(t, err)
	var perr *provider.ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, provider.RateLimited, perr.Kind)
	require.EqualValues(t, 3, p.calls, "Dispatch must eventually return so cumulative rate-limit budget can be evaluated by the caller")
}

func TestDispatch_AuthFailedRotatesThenFails(t *testing.T) {
	p := &scriptedProvider{results: []struct {
		result provider.BatchResult
		err    error
	}{
		withErr(provider.NewProviderError("scripted", provider.AuthFailed, 0, errors.New("401"))),
		withErr(provider.NewProviderError("scripted", provider.AuthFailed, 0, errors.New("401"))),
		withErr(provider.NewProviderError("scripted", provider.AuthFailed, 0, errors.New("401"))),
	}}
	keys := provider.NewKeyPool([]string{"key-a", "key-b"})
	b := zeroSleepBroker(nil, keys, 2)

	_, err := b.Dispatch(context.Background(), p, model.Batch{}, provider.Request{})
	require.Error(t, err)
	var perr *provider.ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, provider.AuthFailed, perr.Kind)
	require.EqualValues(t, 3, p.calls, "original key plus both rotated keys tried before giving up")
}

func TestDispatch_FatalReturnsImmediately(t *testing.T) {
	p := &scriptedProvider{results: []struct {
		result provider.BatchResult
		err    error
	}{withErr(provider.NewProviderError("scripted", provider.InvalidRequest, 0, errors.New("bad request")))}}
	b := zeroSleepBroker(nil, nil, 2)

	_, err := b.Dispatch(context.Background(), p, model.Batch{}, provider.Request{})
	require.Error(t, err)
	require.EqualValues(t, 1, p.calls)
}

func TestDispatch_ConcurrencyLimitQueuesExcessCallers(t *testing.T) {
	release := make(chan struct{})
	var inFlight, maxInFlight int32
	p := &blockingProvider{release: release, inFlight: &inFlight, maxInFlight: &maxInFlight}
	b := provider.NewBroker(nil, nil, 1).WithConcurrency(2)

	const callers = 5
	errCh := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := b.Dispatch(context.Background(), p, model.Batch{}, provider.Request{})
			errCh <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
	close(release)

	for i := 0; i < callers; i++ {
		require.NoError(t, <-errCh)
	}
}

type blockingProvider struct {
	release     chan struct{}
	inFlight    *int32
	maxInFlight *int32
}

func (p *blockingProvider) Name() string                        { return "blocking" }
func (p *blockingProvider) Capabilities() provider.Capabilities { return provider.Capabilities{} }
func (p *blockingProvider) Translate(ctx context.Context, batch model.Batch, req provider.Request) (provider.BatchResult, error) {
	n := atomic.AddInt32(p.inFlight, 1)
	for {
		cur := atomic.LoadInt32(p.maxInFlight)
		if n <= cur || atomic.CompareAndSwapInt32(p.maxInFlight, cur, n) {
			break
		}
	}
	<-p.release
	atomic.AddInt32(p.inFlight, -1)
	return provider.BatchResult{}, nil
}
