// Package provider abstracts over the translation backends (OpenAI and
// OpenAI-compatible APIs, Anthropic, Gemini, DeepL, Google Translate)
// behind a single interface, grounded on the teacher's ai.Provider
// abstraction over heterogeneous chat-completion SDKs.
package provider

import (
	"context"

	"github.com/dddepg/subtrans/internal/model"
)

// Capabilities describes which optional request parameters a provider
// understands, per the capability table in spec §4.4. Fields a provider
// does not support are dropped silently by the broker rather than sent.
type Capabilities struct {
	ReasoningEffort bool
	ThinkingBudget  bool
	Formality       bool
	TopK            bool
	Streaming       bool
	RequiresSourceLang bool
}

// Request carries everything a Provider needs to translate one batch,
// independent of the broker's retry/failover bookkeeping.
type Request struct {
	ProviderID string
	ModelID    string
	SourceLang string // empty means "auto", unless Capabilities.RequiresSourceLang
	TargetLang string
	Workflow   model.Workflow
	Prompt     string
	Parameters model.TranslationParameters
	APIKey     string
	Timeout    int // seconds
}

// BatchResult is a provider's successful response to one batch.
type BatchResult struct {
	Entries    []model.Entry
	ModelUsed  string
	RetryAfter int // seconds, set when the provider signalled one even on success (rare)
}

// Provider is the uniform interface every translation backend implements.
type Provider interface {
	// Name returns the provider's identifier (e.g. "openai", "deepl").
	Name() string
	// Capabilities reports which optional parameters this provider honors.
	Capabilities() Capabilities
	// Translate sends one batch and returns its translated entries.
	// Implementations classify failures via NewProviderError so the
	// broker can apply the right retry/rotation policy.
	Translate(ctx context.Context, batch model.Batch, req Request) (BatchResult, error)
}

// Registry looks providers up by id; the orchestrator resolves the
// primary and secondary provider through it on each run.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a Registry from a set of constructed providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider registered under id, or false if none is.
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}
