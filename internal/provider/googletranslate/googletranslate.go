// Package googletranslate implements provider.Provider over Google
// Translate's unofficial "single" translation endpoint, the same one
// browser extensions use. It has no notion of API keys, formality, or
// batched JSON payloads, so all entries of a batch are joined by a
// newline-wrapped invisible separator, sent as one translation call, and
// split back apart by position. Like deepl, this uses the azuretls Chrome-profile session
// because the endpoint is undocumented and sensitive to TLS/HTTP
// fingerprinting.
package googletranslate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Noooste/azuretls-client"

	"github.com/dddepg/subtrans/internal/model"
	"github.com/dddepg/subtrans/internal/network"
	"github.com/dddepg/subtrans/internal/provider"
)

const Name = "googletranslate"

const baseURL = "https://translate.googleapis.com/translate_a/single"

const entrySeparator = "\n⁣\n" // invisible separator, unlikely to appear in subtitle text

// Provider wraps an azuretls session for the Google Translate endpoint.
type Provider struct {
	factory *network.ClientFactory
}

func New(factory *network.ClientFactory) *Provider {
	return &Provider{factory: factory}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{}
}

func (p *Provider) Translate(ctx context.Context, batch model.Batch, req provider.Request) (provider.BatchResult, error) {
	source := req.SourceLang
	if source == "" {
		source = "auto"
	}

	texts := make([]string, len(batch.Entries))
	for i, e := range batch.Entries {
		texts[i] = e.Text
	}
	joined := strings.Join(texts, entrySeparator)

	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", source)
	q.Set("tl", req.TargetLang)
	q.Set("dt", "t")
	q.Set("q", joined)

	timeout := time.Duration(req.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	session := p.factory.NewAzureSession(ctx, timeout)
	defer session.Close()

	resp, err := session.Do(&azuretls.Request{
		Method: http.MethodGet,
		Url:    baseURL + "?" + q.Encode(),
	})
	if err != nil {
		return provider.BatchResult{}, provider.NewProviderError(Name, provider.Transient, 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		kind, ra := provider.ClassifyHTTPStatus(resp.StatusCode, 0)
		return provider.BatchResult{}, provider.NewProviderError(Name, kind, ra, fmt.Errorf("googletranslate: %s", string(resp.Body)))
	}

	// The endpoint returns a loosely-typed nested JSON array:
	// [[[translatedChunk, originalChunk, ...], ...], ...]
	var parsed []any
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return provider.BatchResult{}, provider.NewProviderError(Name, provider.Fatal, 0, err)
	}
	translated, err := extractTranslation(parsed)
	if err != nil {
		return provider.BatchResult{}, provider.NewProviderError(Name, provider.Fatal, 0, err)
	}

	parts := strings.Split(translated, strings.TrimSpace(entrySeparator))
	if len(parts) != len(batch.Entries) {
		missing := make([]uint32, 0)
		for i := len(parts); i < len(batch.Entries); i++ {
			missing = append(missing, batch.Entries[i].Index)
		}
		return provider.BatchResult{}, &provider.ProviderError{Kind: provider.ShapeMismatch, Provider: Name, Missing: missing}
	}

	entries := make([]model.Entry, len(batch.Entries))
	for i, e := range batch.Entries {
		entries[i] = e.Translated(strings.TrimSpace(parts[i]))
	}
	return provider.BatchResult{Entries: entries, ModelUsed: Name}, nil
}

func extractTranslation(parsed []any) (string, error) {
	if len(parsed) == 0 {
		return "", fmt.Errorf("empty response")
	}
	chunks, ok := parsed[0].([]any)
	if !ok {
		return "", fmt.Errorf("unexpected response shape")
	}
	var b strings.Builder
	for _, chunk := range chunks {
		c, ok := chunk.([]any)
		if !ok || len(c) == 0 {
			continue
		}
		text, ok := c[0].(string)
		if !ok {
			continue
		}
		b.WriteString(text)
	}
	return b.String(), nil
}
