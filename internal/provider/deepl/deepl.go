// Package deepl implements provider.Provider over DeepL's translation
// API. DeepL's free-tier endpoint is sensitive to TLS/HTTP client
// fingerprinting, so this uses the azuretls Chrome-profile session the
// teacher already built for Anubis-protected feed sources
// (network.ClientFactory.NewAzureSession), rather than net/http directly.
package deepl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Noooste/azuretls-client"

	"github.com/dddepg/subtrans/internal/model"
	"github.com/dddepg/subtrans/internal/network"
	"github.com/dddepg/subtrans/internal/provider"
)

const Name = "deepl"

const defaultBaseURL = "https://api-free.deepl.com/v2/translate"

// Provider wraps an azuretls session for the DeepL HTTP API.
type Provider struct {
	factory *network.ClientFactory
	baseURL string
}

func New(factory *network.ClientFactory, baseURL string) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{factory: factory, baseURL: baseURL}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{Formality: true, RequiresSourceLang: true}
}

type deeplRequest struct {
	Text       []string `json:"text"`
	SourceLang string   `json:"source_lang,omitempty"`
	TargetLang string   `json:"target_lang"`
	Formality  string   `json:"formality,omitempty"`
}

type deeplTranslation struct {
	Text string `json:"text"`
}

type deeplResponse struct {
	Translations []deeplTranslation `json:"translations"`
	Message      string             `json:"message,omitempty"`
}

// Translate sends the batch's entries as one text-per-entry DeepL request.
// DeepL has no notion of a translation workflow or JSON payload shape; the
// provider flattens entries to plain strings and zips the response back
// by position rather than by the provider.ParsePayload index-matching
// contract used by the structured LLM providers.
func (p *Provider) Translate(ctx context.Context, batch model.Batch, req provider.Request) (provider.BatchResult, error) {
	if req.SourceLang == "" {
		return provider.BatchResult{}, &provider.ProviderError{Kind: provider.InvalidRequest, Provider: Name, Err: fmt.Errorf("deepl requires an explicit source language")}
	}

	texts := make([]string, len(batch.Entries))
	for i, e := range batch.Entries {
		texts[i] = e.Text
	}

	body, err := json.Marshal(deeplRequest{
		Text:       texts,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Formality:  string(req.Parameters.Formality),
	})
	if err != nil {
		return provider.BatchResult{}, provider.NewProviderError(Name, provider.Fatal, 0, err)
	}

	timeout := time.Duration(req.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	session := p.factory.NewAzureSession(ctx, timeout)
	defer session.Close()

	resp, err := session.Do(&azuretls.Request{
		Method: http.MethodPost,
		Url:    p.baseURL,
		Body:   body,
		OrderedHeaders: azuretls.OrderedHeaders{
			{"content-type", "application/json"},
			{"authorization", "DeepL-Auth-Key " + req.APIKey},
		},
	})
	if err != nil {
		return provider.BatchResult{}, provider.NewProviderError(Name, provider.Transient, 0, err)
	}

	if resp.StatusCode != http.StatusOK {
		retryAfter := 0
		if v := resp.Header.Get("Retry-After"); v != "" {
			retryAfter = parseSeconds(v)
		}
		kind, ra := provider.ClassifyHTTPStatus(resp.StatusCode, retryAfter)
		return provider.BatchResult{}, provider.NewProviderError(Name, kind, ra, fmt.Errorf("deepl: %s", string(resp.Body)))
	}

	var parsed deeplResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return provider.BatchResult{}, provider.NewProviderError(Name, provider.Fatal, 0, err)
	}
	if len(parsed.Translations) != len(batch.Entries) {
		missing := make([]uint32, 0)
		for i := len(parsed.Translations); i < len(batch.Entries); i++ {
			missing = append(missing, batch.Entries[i].Index)
		}
		return provider.BatchResult{}, &provider.ProviderError{Kind: provider.ShapeMismatch, Provider: Name, Missing: missing}
	}

	entries := make([]model.Entry, len(batch.Entries))
	for i, e := range batch.Entries {
		entries[i] = e.Translated(parsed.Translations[i].Text)
	}
	return provider.BatchResult{Entries: entries, ModelUsed: Name}, nil
}

func parseSeconds(v string) int {
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
