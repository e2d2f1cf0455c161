// Package gemini implements provider.Provider over the Gemini
// generateContent REST endpoint. No Go SDK for Gemini exists anywhere in
// the retrieved corpus, so this is a small raw-HTTP client built on
// internal/network.ClientFactory, following the same method shape as the
// SDK-backed providers so the broker can treat all of them uniformly.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dddepg/subtrans/internal/model"
	"github.com/dddepg/subtrans/internal/network"
	"github.com/dddepg/subtrans/internal/provider"
)

const Name = "gemini"

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider wraps a plain HTTP client for the Gemini REST API.
type Provider struct {
	factory *network.ClientFactory
	baseURL string
}

// New constructs a Provider. baseURL empty uses the public endpoint.
func New(factory *network.ClientFactory, baseURL string) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{factory: factory, baseURL: baseURL}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{ThinkingBudget: true, TopK: true, Streaming: true}
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature      *float64           `json:"temperature,omitempty"`
	TopP             *float64           `json:"topP,omitempty"`
	TopK             *int               `json:"topK,omitempty"`
	MaxOutputTokens  *int               `json:"maxOutputTokens,omitempty"`
	ThinkingConfig   *geminiThinkConfig `json:"thinkingConfig,omitempty"`
}

type geminiThinkConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *geminiError      `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (p *Provider) Translate(ctx context.Context, batch model.Batch, req provider.Request) (provider.BatchResult, error) {
	payload, err := provider.EncodePayload(batch, req.Workflow)
	if err != nil {
		return provider.BatchResult{}, provider.NewProviderError(Name, provider.Fatal, 0, err)
	}

	genReq := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: req.Prompt}}},
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: payload}}},
		},
	}

	cfg := geminiGenConfig{
		Temperature:     req.Parameters.Temperature,
		TopP:            req.Parameters.TopP,
		TopK:            req.Parameters.TopK,
		MaxOutputTokens: req.Parameters.MaxOutputTokens,
	}
	if req.Parameters.ThinkingBudget != nil {
		cfg.ThinkingConfig = &geminiThinkConfig{ThinkingBudget: *req.Parameters.ThinkingBudget}
	}
	genReq.GenerationConfig = &cfg

	body, err := json.Marshal(genReq)
	if err != nil {
		return provider.BatchResult{}, provider.NewProviderError(Name, provider.Fatal, 0, err)
	}

	timeout := time.Duration(req.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := p.factory.NewHTTPClient(ctx, timeout)

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, req.ModelID, req.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return provider.BatchResult{}, provider.NewProviderError(Name, provider.Fatal, 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return provider.BatchResult{}, provider.NewProviderError(Name, provider.Transient, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.BatchResult{}, provider.NewProviderError(Name, provider.Transient, 0, err)
	}

	if resp.StatusCode != http.StatusOK {
		retryAfter := parseSeconds(resp.Header.Get("Retry-After"))
		kind, ra := provider.ClassifyHTTPStatus(resp.StatusCode, retryAfter)
		return provider.BatchResult{}, provider.NewProviderError(Name, kind, ra, fmt.Errorf("gemini: %s", string(raw)))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return provider.BatchResult{}, provider.NewProviderError(Name, provider.Fatal, 0, err)
	}
	if parsed.Error != nil {
		kind, ra := provider.ClassifyHTTPStatus(parsed.Error.Code, 0)
		return provider.BatchResult{}, provider.NewProviderError(Name, kind, ra, fmt.Errorf("gemini: %s", parsed.Error.Message))
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return provider.BatchResult{}, provider.NewProviderError(Name, provider.Fatal, 0, nil)
	}

	entries, err := provider.ParsePayload(Name, parsed.Candidates[0].Content.Parts[0].Text, req.Workflow, batch)
	if err != nil {
		return provider.BatchResult{}, err
	}
	return provider.BatchResult{Entries: entries, ModelUsed: req.ModelID}, nil
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
