// Package openaicompat implements provider.Provider over the OpenAI chat
// completions API and its "OpenAI-shaped" look-alikes (OpenRouter, xAI,
// DeepSeek, Mistral, Cloudflare Workers AI), adapted from the teacher's
// ai.OpenAIProvider and ai.CompatibleProvider.
package openaicompat

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dddepg/subtrans/internal/model"
	"github.com/dddepg/subtrans/internal/provider"
)

// Flavor distinguishes the native OpenAI API (which understands
// shared.ReasoningEffort natively) from the compatible look-alikes, which
// take reasoning/thinking config via a raw injected JSON field.
type Flavor string

const (
	FlavorOpenAI     Flavor = "openai"
	FlavorOpenRouter Flavor = "openrouter"
	FlavorXAI        Flavor = "xai"
	FlavorDeepSeek   Flavor = "deepseek"
	FlavorMistral    Flavor = "mistral"
	FlavorCFWorkers  Flavor = "cfworkers"
)

// Provider wraps an openai-go client for one flavor/base-URL/model combo.
type Provider struct {
	flavor  Flavor
	baseURL string
	name    string
}

// New constructs a Provider. baseURL is ignored for FlavorOpenAI unless
// set (e.g. Azure-compatible proxies); it is required for every other
// flavor.
func New(flavor Flavor, baseURL string) *Provider {
	name := string(flavor)
	return &Provider{flavor: flavor, baseURL: baseURL, name: name}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Capabilities() provider.Capabilities {
	if p.flavor == FlavorOpenAI {
		return provider.Capabilities{ReasoningEffort: true, Streaming: true}
	}
	return provider.Capabilities{Streaming: true}
}

func (p *Provider) client(apiKey string) openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	return openai.NewClient(opts...)
}

func (p *Provider) Translate(ctx context.Context, batch model.Batch, req provider.Request) (provider.BatchResult, error) {
	payload, err := providerEncode(batch, req.Workflow)
	if err != nil {
		return provider.BatchResult{}, provider.NewProviderError(p.name, provider.Fatal, 0, err)
	}

	systemPrompt := req.Prompt
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.ModelID),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(payload),
		},
	}
	if req.Parameters.Temperature != nil {
		params.Temperature = openai.Float(*req.Parameters.Temperature)
	}
	if req.Parameters.TopP != nil {
		params.TopP = openai.Float(*req.Parameters.TopP)
	}
	if req.Parameters.MaxOutputTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.Parameters.MaxOutputTokens))
	}

	var opts []option.RequestOption
	if p.flavor == FlavorOpenAI {
		if req.Parameters.ReasoningEffort != "" && isReasoningModel(req.ModelID) {
			params.ReasoningEffort = shared.ReasoningEffort(req.Parameters.ReasoningEffort)
		}
	} else {
		reasoning := map[string]any{}
		if req.Parameters.ReasoningEffort != "" {
			reasoning["effort"] = string(req.Parameters.ReasoningEffort)
		} else if req.Parameters.ThinkingBudget != nil && *req.Parameters.ThinkingBudget > 0 {
			reasoning["max_tokens"] = *req.Parameters.ThinkingBudget
		}
		if len(reasoning) > 0 {
			opts = append(opts, option.WithJSONSet("reasoning", reasoning))
		}
	}

	client := p.client(req.APIKey)
	resp, err := client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		return provider.BatchResult{}, classifyErr(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return provider.BatchResult{}, provider.NewProviderError(p.name, provider.Fatal, 0, nil)
	}

	entries, err := provider.ParsePayload(p.name, resp.Choices[0].Message.Content, req.Workflow, batch)
	if err != nil {
		return provider.BatchResult{}, err
	}
	return provider.BatchResult{Entries: entries, ModelUsed: req.ModelID}, nil
}

func providerEncode(batch model.Batch, workflow model.Workflow) (string, error) {
	return provider.EncodePayload(batch, workflow)
}

func isReasoningModel(modelID string) bool {
	m := strings.ToLower(modelID)
	return strings.HasPrefix(m, "o1") ||
		strings.HasPrefix(m, "o3") ||
		strings.HasPrefix(m, "o4") ||
		strings.HasPrefix(m, "gpt-5")
}

// classifyErr maps an openai-go client error to a *provider.ProviderError.
// The SDK surfaces HTTP failures as *openai.Error, which embeds the status
// code; anything else (context cancellation, dial failure) is Transient.
func classifyErr(name string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		retryAfter := 0
		if apiErr.Response != nil {
			if v := apiErr.Response.Header.Get("Retry-After"); v != "" {
				retryAfter = parseRetryAfterSeconds(v)
			}
		}
		kind, ra := provider.ClassifyHTTPStatus(apiErr.StatusCode, retryAfter)
		return provider.NewProviderError(name, kind, ra, err)
	}
	return provider.NewProviderError(name, provider.Transient, 0, err)
}

func parseRetryAfterSeconds(v string) int {
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
