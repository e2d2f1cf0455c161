// Package orchestrator implements the top-level translate algorithm of
// spec §4.5: fingerprinting, cache/single-flight, planning, bounded
// concurrent dispatch with primary/secondary failover, alignment
// recovery, and history bookkeeping.
package orchestrator

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dddepg/subtrans/internal/cache"
	"github.com/dddepg/subtrans/internal/logger"
	"github.com/dddepg/subtrans/internal/model"
	"github.com/dddepg/subtrans/internal/planner"
	"github.com/dddepg/subtrans/internal/provider"
	"github.com/dddepg/subtrans/internal/subtitle"
)

// defaultRateLimitBudget is the cumulative count of RateLimited hits on
// the primary provider that triggers failover to the secondary, per
// spec §4.5 step 7.
const defaultRateLimitBudget = 5

const defaultWorkerConcurrency = 3

const partialTTL = time.Hour

// defaultPerBatchDeadline bounds a single batch dispatch when the caller
// does not specify one.
const defaultPerBatchDeadline = 600 * time.Second

// HistoryRecorder persists a HistoryRecord. Implemented by
// internal/historyrepo; kept as a narrow interface here so orchestrator
// does not depend on the sqlite-backed index directly.
type HistoryRecorder interface {
	Write(ctx context.Context, rec model.HistoryRecord) error
}

// Request carries everything Translate needs for one translation.
type Request struct {
	RequestID          string
	SourceBytes        []byte
	SourceFormat       model.Format
	SourceLang         string
	TargetLang         string
	Provider           string
	SecondaryProvider  string // empty disables failover
	ModelID            string
	Workflow           model.Workflow
	Parameters         model.TranslationParameters
	Prompt             string
	APIKeyPool         []string
	Force              bool
	PerBatchDeadline   time.Duration
	WorkerConcurrency  int
	TokenBudget        int
	ContextSize        int
	MaxEntriesPerBatch int
	SingleBatchMode    bool
}

// Result is Translate's successful output.
type Result struct {
	Bytes      []byte
	Provider   string
	Model      string
	Cached     bool
	EntryCount int
	DurationMs int64
}

// Orchestrator wires together the cache, provider registry, and brokers
// needed to run Translate. It holds no mutable state of its own beyond
// its collaborators, per spec §9's explicit-CoreContext redesign note.
type Orchestrator struct {
	Cache     *cache.Cache
	Providers *provider.Registry
	// Brokers maps provider id to the Broker instance handling its
	// rate limiting and key rotation. Each provider gets its own Broker
	// so rotation state is never shared across backends.
	Brokers         map[string]*provider.Broker
	History         HistoryRecorder
	Clock           func() time.Time
	RateLimitBudget int
}

// New constructs an Orchestrator. clock defaults to time.Now when nil.
func New(c *cache.Cache, providers *provider.Registry, brokers map[string]*provider.Broker, history HistoryRecorder, clock func() time.Time) *Orchestrator {
	if clock == nil {
		clock = time.Now
	}
	return &Orchestrator{
		Cache:           c,
		Providers:       providers,
		Brokers:         brokers,
		History:         history,
		Clock:           clock,
		RateLimitBudget: defaultRateLimitBudget,
	}
}

// Translate runs the full pipeline described in spec §4.5.
func (o *Orchestrator) Translate(ctx context.Context, req Request) (Result, error) {
	start := o.Clock()

	// Strip a UTF-8 BOM and fold CRLF/CR to LF so byte-identical content
	// with different line endings shares one fingerprint.
	normalized := bytes.TrimPrefix(req.SourceBytes, []byte("\xef\xbb\xbf"))
	normalized = bytes.ReplaceAll(normalized, []byte("\r\n"), []byte("\n"))
	normalized = bytes.ReplaceAll(normalized, []byte("\r"), []byte("\n"))

	fp := model.ComputeFingerprint(model.FingerprintInput{
		NormalizedSource: normalized,
		SourceLang:       req.SourceLang,
		TargetLang:       req.TargetLang,
		ProviderID:       req.Provider,
		ModelID:          req.ModelID,
		WorkflowID:       string(req.Workflow),
		Parameters:       req.Parameters,
		PromptHash:       promptHash(req.Prompt),
	})
	key := fp.String()

	if req.Force {
		_ = o.Cache.Backend.Delete(ctx, cache.NamespaceTranslation, key)
		_ = o.Cache.Backend.Delete(ctx, cache.NamespacePartial, key)
	} else if cached, err := o.Cache.Backend.Get(ctx, cache.NamespaceTranslation, key); err == nil {
		o.writeHistory(ctx, req, fp, start, true, false, "", "", 0, 0, 0, 0, nil)
		return Result{Bytes: cached, Provider: req.Provider, Model: req.ModelID, Cached: true, EntryCount: entryCountOf(cached, req.SourceFormat)}, nil
	}

	outcome := &runOutcome{}
	bytesOut, err := o.Cache.GetOrCompute(ctx, cache.NamespaceTranslation, key, 0, func(ctx context.Context) ([]byte, error) {
		return o.run(ctx, req, fp, outcome)
	})
	if err != nil {
		o.writeHistory(ctx, req, fp, start, false, outcome.usedSecondary, outcome.primaryFailureReason, outcome.secondaryFailureReason, outcome.rateLimitHits, outcome.keyRotations, outcome.missingEntries, outcome.recoveredEntries, err)
		return Result{}, err
	}

	o.writeHistory(ctx, req, fp, start, false, outcome.usedSecondary, outcome.primaryFailureReason, outcome.secondaryFailureReason, outcome.rateLimitHits, outcome.keyRotations, outcome.missingEntries, outcome.recoveredEntries, nil)

	return Result{
		Bytes:      bytesOut,
		Provider:   outcome.finalProvider,
		Model:      outcome.finalModel,
		Cached:     false,
		EntryCount: outcome.entryCount,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// runOutcome accumulates bookkeeping produced by run, for history
// recording after the single-flight producer returns.
type runOutcome struct {
	usedSecondary          bool
	primaryFailureReason   string
	secondaryFailureReason string
	rateLimitHits          int
	keyRotations           int
	missingEntries         int
	recoveredEntries       int
	finalProvider          string
	finalModel             string
	entryCount             int
}

// run implements steps 3-11 of spec §4.5. It is invoked as the
// single-flight producer for fp.
func (o *Orchestrator) run(ctx context.Context, req Request, fp model.Fingerprint, outcome *runOutcome) ([]byte, error) {
	doc, err := subtitle.Parse(req.SourceBytes, req.SourceFormat)
	if err != nil {
		return nil, &TranslateError{Kind: Unparseable, Err: err}
	}

	key := fp.String()
	partial := o.loadPartial(ctx, key, fp)

	batches, err := planner.Plan(doc, req.Workflow, req.TokenBudget, planner.Options{
		MaxEntriesPerBatch: req.MaxEntriesPerBatch,
		ContextSize:        req.ContextSize,
		SingleBatchMode:    req.SingleBatchMode,
	})
	if err != nil {
		return nil, &TranslateError{Kind: InvalidRequest, Err: err}
	}

	primaryBroker, ok := o.Brokers[req.Provider]
	if !ok {
		return nil, &TranslateError{Kind: InvalidRequest, Err: fmt.Errorf("no broker configured for provider %q", req.Provider)}
	}
	primaryImpl, ok := o.Providers.Get(req.Provider)
	if !ok {
		return nil, &TranslateError{Kind: InvalidRequest, Err: fmt.Errorf("unknown provider %q", req.Provider)}
	}

	concurrency := req.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = defaultWorkerConcurrency
	}
	perBatchDeadline := req.PerBatchDeadline
	if perBatchDeadline <= 0 {
		perBatchDeadline = defaultPerBatchDeadline
	}

	active := activeBackend{
		name:   req.Provider,
		broker: primaryBroker,
		impl:   primaryImpl,
	}

	pending := make([]model.Batch, 0, len(batches))
	for _, b := range batches {
		if !partial.IsComplete(b.ID) {
			pending = append(pending, b)
		}
	}

	for len(pending) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)

		results := make([]provider.DispatchOutcome, len(pending))
		errs := make([]error, len(pending))

		for i, b := range pending {
			i, b := i, b
			g.Go(func() error {
				batchCtx, cancel := context.WithTimeout(gctx, perBatchDeadline)
				defer cancel()

				dreq := buildRequest(req, active.name)
				out, derr := active.broker.Dispatch(batchCtx, active.impl, b, dreq)
				results[i] = out
				errs[i] = derr
				return nil // collect per-batch errors without aborting the group
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			o.savePartial(ctx, key, partial)
			return nil, &TranslateError{Kind: Cancelled}
		}

		var needsFailover bool
		var failoverReason string

		for i, b := range pending {
			outcome.rateLimitHits += results[i].RateLimitHits
			outcome.keyRotations += results[i].KeyRotations

			if errs[i] != nil {
				if !active.isSecondary {
					outcome.primaryFailureReason = classifyFailureReason(errs[i])
				} else {
					outcome.secondaryFailureReason = classifyFailureReason(errs[i])
				}
				needsFailover = true
				failoverReason = classifyFailureReason(errs[i])
				continue
			}

			partial.MarkComplete(b.ID, results[i].Result.Entries, o.Clock())
			outcome.finalProvider = active.name
			outcome.finalModel = results[i].Result.ModelUsed
		}
		o.savePartial(ctx, key, partial)

		if !active.isSecondary && outcome.rateLimitHits > o.RateLimitBudget {
			needsFailover = true
			if outcome.primaryFailureReason == "" {
				outcome.primaryFailureReason = "cumulative rate limit retries exceeded budget"
			}
		}

		// Recompute the still-incomplete subset for the next round.
		var next []model.Batch
		for _, b := range batches {
			if !partial.IsComplete(b.ID) {
				next = append(next, b)
			}
		}
		pending = next

		if len(pending) == 0 {
			break
		}

		if needsFailover && !active.isSecondary {
			if req.SecondaryProvider == "" || req.SecondaryProvider == req.Provider {
				return nil, &TranslateError{Kind: ProviderExhausted, PrimaryFailureReason: outcome.primaryFailureReason, Err: fmt.Errorf("primary provider exhausted: %s", failoverReason)}
			}
			secondaryBroker, ok := o.Brokers[req.SecondaryProvider]
			if !ok {
				return nil, &TranslateError{Kind: ProviderExhausted, PrimaryFailureReason: outcome.primaryFailureReason, Err: fmt.Errorf("no broker configured for secondary provider %q", req.SecondaryProvider)}
			}
			secondaryImpl, ok := o.Providers.Get(req.SecondaryProvider)
			if !ok {
				return nil, &TranslateError{Kind: ProviderExhausted, PrimaryFailureReason: outcome.primaryFailureReason, Err: fmt.Errorf("unknown secondary provider %q", req.SecondaryProvider)}
			}
			active = activeBackend{name: req.SecondaryProvider, broker: secondaryBroker, impl: secondaryImpl, isSecondary: true}
			outcome.usedSecondary = true
			logger.Warn("orchestrator: failing over to secondary provider", "primary", req.Provider, "secondary", req.SecondaryProvider, "reason", outcome.primaryFailureReason)
			continue
		}

		if needsFailover && active.isSecondary {
			return nil, &TranslateError{Kind: ProviderExhausted, PrimaryFailureReason: outcome.primaryFailureReason, SecondaryFailureReason: outcome.secondaryFailureReason, Err: fmt.Errorf("secondary provider also failed: %s", failoverReason)}
		}
	}

	candidate := assemble(batches, partial)
	missing := findMissing(doc, candidate)

	if len(missing) > 0 {
		threshold := maxInt(5, (len(doc.Entries)*5)/100)
		if len(missing) > threshold {
			return nil, &TranslateError{Kind: AlignmentUnrecoverable, Missing: missing, Err: fmt.Errorf("%d entries missing after assembly, exceeds recovery threshold %d", len(missing), threshold)}
		}

		recovered, err := o.recoverMissing(ctx, doc, missing, req, active, perBatchDeadline)
		if err != nil {
			return nil, &TranslateError{Kind: AlignmentUnrecoverable, Missing: missing, Err: err}
		}
		for idx, e := range recovered {
			candidate[idx] = e
		}
		outcome.missingEntries = len(missing)
		outcome.recoveredEntries = len(recovered)

		stillMissing := findMissing(doc, candidate)
		if len(stillMissing) > 0 {
			return nil, &TranslateError{Kind: AlignmentUnrecoverable, Missing: stillMissing, Err: fmt.Errorf("%d entries still missing after recovery", len(stillMissing))}
		}
	}

	finalDoc := model.Document{Format: doc.Format, Header: doc.Header, Entries: orderedEntries(doc, candidate)}
	out, err := subtitle.Serialize(finalDoc)
	if err != nil {
		return nil, &TranslateError{Kind: InvalidRequest, Err: err}
	}

	outcome.entryCount = len(finalDoc.Entries)
	if outcome.finalProvider == "" {
		outcome.finalProvider = active.name
	}

	if setErr := o.Cache.Backend.Set(ctx, cache.NamespaceTranslation, key, out, 0); setErr != nil {
		logger.Warn("orchestrator: failed to persist translation result", "fingerprint", key, "error", setErr)
	}
	_ = o.Cache.Backend.Delete(ctx, cache.NamespacePartial, key)

	return out, nil
}

type activeBackend struct {
	name        string
	broker      *provider.Broker
	impl        provider.Provider
	isSecondary bool
}

func buildRequest(req Request, providerID string) provider.Request {
	var apiKey string
	if len(req.APIKeyPool) > 0 {
		apiKey = req.APIKeyPool[0]
	}
	timeout := int(req.PerBatchDeadline.Seconds())
	if timeout <= 0 {
		timeout = int(defaultPerBatchDeadline.Seconds())
	}
	return provider.Request{
		ProviderID: providerID,
		ModelID:    req.ModelID,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Workflow:   req.Workflow,
		Prompt:     req.Prompt,
		Parameters: req.Parameters,
		APIKey:     apiKey,
		Timeout:    timeout,
	}
}

func (o *Orchestrator) recoverMissing(ctx context.Context, doc model.Document, missing []uint32, req Request, active activeBackend, perBatchDeadline time.Duration) (map[uint32]model.Entry, error) {
	missingSet := make(map[uint32]bool, len(missing))
	for _, idx := range missing {
		missingSet[idx] = true
	}
	var recoveryEntries []model.Entry
	for _, e := range doc.Entries {
		if missingSet[e.Index] {
			recoveryEntries = append(recoveryEntries, e)
		}
	}

	recoveryBatch := model.Batch{ID: ^uint32(0), Entries: recoveryEntries}
	batchCtx, cancel := context.WithTimeout(ctx, perBatchDeadline)
	defer cancel()

	dreq := buildRequest(req, active.name)
	out, err := active.broker.Dispatch(batchCtx, active.impl, recoveryBatch, dreq)
	if err != nil {
		return nil, err
	}

	result := make(map[uint32]model.Entry, len(out.Result.Entries))
	for _, e := range out.Result.Entries {
		result[e.Index] = e
	}
	return result, nil
}

func assemble(batches []model.Batch, partial *model.Partial) map[uint32]model.Entry {
	out := make(map[uint32]model.Entry)
	for _, b := range batches {
		entries, ok := partial.PerBatchResults[b.ID]
		if !ok {
			continue
		}
		for _, e := range entries {
			out[e.Index] = e
		}
	}
	return out
}

func findMissing(doc model.Document, candidate map[uint32]model.Entry) []uint32 {
	var missing []uint32
	for _, e := range doc.Entries {
		if _, ok := candidate[e.Index]; !ok {
			missing = append(missing, e.Index)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

func orderedEntries(doc model.Document, candidate map[uint32]model.Entry) []model.Entry {
	out := make([]model.Entry, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		if translated, ok := candidate[e.Index]; ok {
			out = append(out, translated)
		} else {
			out = append(out, e)
		}
	}
	return out
}

func (o *Orchestrator) loadPartial(ctx context.Context, key string, fp model.Fingerprint) *model.Partial {
	raw, err := o.Cache.Backend.Get(ctx, cache.NamespacePartial, key)
	if err != nil {
		return model.NewPartial(fp)
	}
	var p model.Partial
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.NewPartial(fp)
	}
	if p.CompletedBatches == nil {
		p.CompletedBatches = make(map[uint32]bool)
	}
	if p.PerBatchResults == nil {
		p.PerBatchResults = make(map[uint32][]model.Entry)
	}
	return &p
}

func (o *Orchestrator) savePartial(ctx context.Context, key string, p *model.Partial) {
	raw, err := json.Marshal(p)
	if err != nil {
		logger.Warn("orchestrator: failed to marshal partial", "fingerprint", key, "error", err)
		return
	}
	if err := o.Cache.Backend.Set(ctx, cache.NamespacePartial, key, raw, partialTTL); err != nil {
		logger.Warn("orchestrator: failed to persist partial", "fingerprint", key, "error", err)
	}
}

func (o *Orchestrator) writeHistory(ctx context.Context, req Request, fp model.Fingerprint, start time.Time, cached, usedSecondary bool, primaryReason, secondaryReason string, rateLimitHits, keyRotations, missingEntries, recoveredEntries int, translateErr error) {
	if o.History == nil {
		return
	}
	rec := model.HistoryRecord{
		RequestID:              req.RequestID,
		Fingerprint:            fp,
		Provider:               req.Provider,
		Model:                  req.ModelID,
		Workflow:               req.Workflow,
		DurationMs:             time.Since(start).Milliseconds(),
		Cached:                 cached,
		UsedSecondary:          usedSecondary,
		PrimaryFailureReason:   primaryReason,
		SecondaryFailureReason: secondaryReason,
		RateLimitErrors:        rateLimitHits,
		KeyRotations:           keyRotations,
		MismatchDetected:       missingEntries > 0,
		MissingEntries:         missingEntries,
		RecoveredEntries:       recoveredEntries,
		CreatedAt:              o.Clock(),
	}
	if translateErr != nil {
		rec.ErrorTypes = []string{classifyFailureReason(translateErr)}
	}
	if err := o.History.Write(ctx, rec); err != nil {
		logger.Warn("orchestrator: failed to write history record", "error", err)
	}
}

func classifyFailureReason(err error) string {
	var perr *provider.ProviderError
	if errors.As(err, &perr) {
		switch perr.Kind {
		case provider.RateLimited:
			return "rate limit exceeded"
		case provider.Transient:
			return "transient upstream failure"
		case provider.AuthFailed:
			return "authentication failed"
		case provider.InvalidRequest:
			return "invalid request"
		case provider.ShapeMismatch:
			return "provider response shape mismatch"
		default:
			return "fatal provider error"
		}
	}
	return err.Error()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%x", sum)
}

func entryCountOf(serialized []byte, format model.Format) int {
	doc, err := subtitle.Parse(serialized, format)
	if err != nil {
		return 0
	}
	return doc.EntryCount()
}
