package orchestrator_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dddepg/subtrans/internal/cache"
	"github.com/dddepg/subtrans/internal/cache/memcache"
	"github.com/dddepg/subtrans/internal/model"
	"github.com/dddepg/subtrans/internal/orchestrator"
	"github.com/dddepg/subtrans/internal/provider"
)

const threeEntrySRT = "1\n00:00:01,000 --> 00:00:02,000\nHello\n\n2\n00:00:02,500 --> 00:00:03,500\nWorld\n\n3\n00:00:04,000 --> 00:00:05,000\nFoo\n"

// fakeProvider returns whatever its fn produces for each call;
// translations builds an fn returning canned text keyed by entry index.
type fakeProvider struct {
	name  string
	calls int32
	fn    func(calls int32, batch model.Batch, req provider.Request) (provider.BatchResult, error)
}

func (p *fakeProvider) Name() string                        { return p.name }
func (p *fakeProvider) Capabilities() provider.Capabilities { return provider.Capabilities{} }
func (p *fakeProvider) Translate(ctx context.Context, batch model.Batch, req provider.Request) (provider.BatchResult, error) {
	n := atomic.AddInt32(&p.calls, 1)
	return p.fn(n, batch, req)
}

func translations(m map[uint32]string) func(int32, model.Batch, provider.Request) (provider.BatchResult, error) {
	return func(_ int32, batch model.Batch, _ provider.Request) (provider.BatchResult, error) {
		entries := make([]model.Entry, 0, len(batch.Entries))
		for _, e := range batch.Entries {
			if text, ok := m[e.Index]; ok {
				entries = append(entries, e.Translated(text))
			}
		}
		return provider.BatchResult{Entries: entries, ModelUsed: "fake-model"}, nil
	}
}

func newTestOrchestrator(t *testing.T, primary provider.Provider, secondary provider.Provider) (*orchestrator.Orchestrator, *cache.Cache) {
	t.Helper()
	backend := memcache.New(0)
	c := cache.New(backend)

	registry := []provider.Provider{primary}
	brokers := map[string]*provider.Broker{
		primary.Name(): provider.NewBroker(nil, nil, 1),
	}
	if secondary != nil {
		registry = append(registry, secondary)
		brokers[secondary.Name()] = provider.NewBroker(nil, nil, 1)
	}

	o := orchestrator.New(c, provider.NewRegistry(registry...), brokers, nil, nil)
	return o, c
}

func baseRequest(primary string) orchestrator.Request {
	return orchestrator.Request{
		RequestID:    "req-1",
		SourceBytes:  []byte(threeEntrySRT),
		SourceFormat: model.FormatSRT,
		TargetLang:   "es",
		Provider:     primary,
		ModelID:      "model-1",
		Workflow:     model.WorkflowRebuildTimestamps,
	}
}

func TestTranslate_CacheHit(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: translations(map[uint32]string{1: "Hola", 2: "Mundo", 3: "Bar"})}
	o, c := newTestOrchestrator(t, primary, nil)

	req := baseRequest("primary")
	first, err := o.Translate(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.Cached)
	require.EqualValues(t, 1, primary.calls)

	second, err := o.Translate(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.Bytes, second.Bytes)
	require.EqualValues(t, 1, primary.calls, "broker must not be invoked again on a cache hit")

	_ = c
}

func TestTranslate_CleanMissSingleBatch(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: translations(map[uint32]string{1: "Hola", 2: "Mundo", 3: "Bar"})}
	o, _ := newTestOrchestrator(t, primary, nil)

	result, err := o.Translate(context.Background(), baseRequest("primary"))
	require.NoError(t, err)
	require.Equal(t, 3, result.EntryCount)
	require.Contains(t, string(result.Bytes), "Hola")
	require.Contains(t, string(result.Bytes), "Mundo")
	require.Contains(t, string(result.Bytes), "Bar")
}

func TestTranslate_MissingEntryRecovered(t *testing.T) {
	var call int32
	primary := &fakeProvider{name: "primary", fn: func(n int32, batch model.Batch, req provider.Request) (provider.BatchResult, error) {
		atomic.AddInt32(&call, 1)
		var entries []model.Entry
		for _, e := range batch.Entries {
			switch e.Index {
			case 1:
				entries = append(entries, e.Translated("Hola"))
			case 3:
				entries = append(entries, e.Translated("Bar"))
			case 2:
				if n > 1 {
					entries = append(entries, e.Translated("Mundo"))
				}
				// first call: index 2 silently dropped, simulating a
				// provider that skipped one cue.
			}
		}
		return provider.BatchResult{Entries: entries, ModelUsed: "fake-model"}, nil
	}}
	o, _ := newTestOrchestrator(t, primary, nil)

	result, err := o.Translate(context.Background(), baseRequest("primary"))
	require.NoError(t, err)
	require.Equal(t, 3, result.EntryCount)
	require.Contains(t, string(result.Bytes), "Mundo")
	require.GreaterOrEqual(t, primary.calls, int32(2), "a recovery batch must have been dispatched")
}

func TestTranslate_PrimaryExhaustedSecondarySucceeds(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: func(_ int32, batch model.Batch, _ provider.Request) (provider.BatchResult, error) {
		return provider.BatchResult{}, provider.NewProviderError("primary", provider.RateLimited, 0, fmt.Errorf("rate limited"))
	}}
	secondary := &fakeProvider{name: "secondary", fn: translations(map[uint32]string{1: "Hola", 2: "Mundo", 3: "Bar"})}

	o, _ := newTestOrchestrator(t, primary, secondary)

	req := baseRequest("primary")
	req.SecondaryProvider = "secondary"

	result, err := o.Translate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "secondary", result.Provider)
	require.Contains(t, string(result.Bytes), "Hola")
}

func TestTranslate_SingleFlightUnderConcurrency(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	primary := &fakeProvider{name: "primary", fn: func(_ int32, batch model.Batch, _ provider.Request) (provider.BatchResult, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		var entries []model.Entry
		for _, e := range batch.Entries {
			entries = append(entries, e.Translated("x"))
		}
		return provider.BatchResult{Entries: entries, ModelUsed: "fake-model"}, nil
	}}
	o, _ := newTestOrchestrator(t, primary, nil)

	req := baseRequest("primary")
	const cohort = 10
	var wg sync.WaitGroup
	results := make([]orchestrator.Result, cohort)
	errs := make([]error, cohort)
	for i := 0; i < cohort; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = o.Translate(context.Background(), req)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls, "the broker must be invoked exactly once for a coalesced cohort")
	for i := 0; i < cohort; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].Bytes, results[i].Bytes)
	}
}

func TestTranslate_CancellationMidFlightThenResume(t *testing.T) {
	var call int32
	block := make(chan struct{})
	primary := &fakeProvider{name: "primary", fn: func(n int32, batch model.Batch, _ provider.Request) (provider.BatchResult, error) {
		cur := atomic.AddInt32(&call, 1)
		if cur == 3 {
			<-block // third batch hangs until the test cancels the context
		}
		var entries []model.Entry
		for _, e := range batch.Entries {
			entries = append(entries, e.Translated("x"))
		}
		return provider.BatchResult{Entries: entries, ModelUsed: "fake-model"}, nil
	}}
	o, _ := newTestOrchestrator(t, primary, nil)

	doc := make([]byte, 0)
	for i := 0; i < 5; i++ {
		doc = append(doc, []byte(fmt.Sprintf("%d\n00:00:0%d,000 --> 00:00:0%d,500\nline%d\n\n", i+1, i, i, i))...)
	}
	req := baseRequest("primary")
	req.SourceBytes = doc
	req.MaxEntriesPerBatch = 1 // force 5 separate batches, one worker at a time
	req.WorkerConcurrency = 1

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
		close(block)
	}()

	_, err := o.Translate(ctx, req)
	require.Error(t, err)

	var terr *orchestrator.TranslateError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, orchestrator.Cancelled, terr.Kind)

	// Resuming with a fresh context should complete the remaining batches.
	atomic.StoreInt32(&call, 0)
	result, err := o.Translate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 5, result.EntryCount)
}
