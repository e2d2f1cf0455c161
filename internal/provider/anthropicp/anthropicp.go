// Package anthropicp implements provider.Provider over the Anthropic
// Messages API, adapted from the teacher's ai.AnthropicProvider.
package anthropicp

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dddepg/subtrans/internal/model"
	"github.com/dddepg/subtrans/internal/provider"
)

const Name = "anthropic"

// Provider wraps an anthropic-sdk-go client for one base-URL/model combo.
type Provider struct {
	baseURL string
}

// New constructs a Provider. baseURL is optional (empty means the default
// Anthropic endpoint).
func New(baseURL string) *Provider {
	return &Provider{baseURL: baseURL}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{ThinkingBudget: true, Streaming: true}
}

func (p *Provider) client(apiKey string) anthropic.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	return anthropic.NewClient(opts...)
}

func (p *Provider) Translate(ctx context.Context, batch model.Batch, req provider.Request) (provider.BatchResult, error) {
	payload, err := provider.EncodePayload(batch, req.Workflow)
	if err != nil {
		return provider.BatchResult{}, provider.NewProviderError(Name, provider.Fatal, 0, err)
	}

	maxTokens := int64(4096)
	if req.Parameters.MaxOutputTokens != nil {
		maxTokens = int64(*req.Parameters.MaxOutputTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.ModelID),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: req.Prompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(payload)),
		},
	}

	if req.Parameters.ThinkingBudget != nil && *req.Parameters.ThinkingBudget > 0 {
		params.MaxTokens = maxTokens + int64(*req.Parameters.ThinkingBudget)
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(*req.Parameters.ThinkingBudget))
	} else {
		disabled := anthropic.NewThinkingConfigDisabledParam()
		params.Thinking = anthropic.ThinkingConfigParamUnion{OfDisabled: &disabled}
	}
	if req.Parameters.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Parameters.Temperature)
	}
	if req.Parameters.TopP != nil {
		params.TopP = anthropic.Float(*req.Parameters.TopP)
	}

	client := p.client(req.APIKey)
	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return provider.BatchResult{}, classifyErr(err)
	}

	var text string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}
	if text == "" {
		return provider.BatchResult{}, provider.NewProviderError(Name, provider.Fatal, 0, nil)
	}

	entries, err := provider.ParsePayload(Name, text, req.Workflow, batch)
	if err != nil {
		return provider.BatchResult{}, err
	}
	return provider.BatchResult{Entries: entries, ModelUsed: req.ModelID}, nil
}

func classifyErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		retryAfter := 0
		if apiErr.Response != nil {
			if v := apiErr.Response.Header.Get("Retry-After"); v != "" {
				retryAfter = parseSeconds(v)
			}
		}
		kind, ra := provider.ClassifyHTTPStatus(apiErr.StatusCode, retryAfter)
		return provider.NewProviderError(Name, kind, ra, err)
	}
	return provider.NewProviderError(Name, provider.Transient, 0, err)
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
