package model

import "fmt"

// ReasoningEffort mirrors the provider-level reasoning/thinking effort knob.
type ReasoningEffort string

const (
	ReasoningNone   ReasoningEffort = "none"
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
)

// Formality mirrors DeepL-style formality control.
type Formality string

const (
	FormalityDefault Formality = "default"
	FormalityMore    Formality = "more"
	FormalityLess    Formality = "less"
)

// TranslationParameters is the enumerated replacement for the loosely typed
// "advancedSettings"/"providerParameters" dicts the source passes around.
// Only these fields influence translated output; TranslationTimeout and
// MaxRetries are operational knobs excluded from the fingerprint's
// parameter-hash (see Fingerprint).
type TranslationParameters struct {
	Temperature           *float64        `json:"temperature,omitempty"`
	TopP                  *float64        `json:"topP,omitempty"`
	TopK                  *int            `json:"topK,omitempty"`
	MaxOutputTokens       *int            `json:"maxOutputTokens,omitempty"`
	ThinkingBudget        *int            `json:"thinkingBudget,omitempty"`
	ReasoningEffort       ReasoningEffort `json:"reasoningEffort,omitempty"`
	Formality             Formality       `json:"formality,omitempty"`
	PreserveFormatting    bool            `json:"preserveFormatting,omitempty"`
	TranslationTimeoutSec int             `json:"-"`
	MaxRetries            *int            `json:"-"`
}

// Validate checks the bounds documented in spec §9. It does not check
// provider capability; that is the broker's job at dispatch time.
func (p TranslationParameters) Validate() error {
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		return fmt.Errorf("temperature out of range [0,2]: %v", *p.Temperature)
	}
	if p.TopP != nil && (*p.TopP < 0 || *p.TopP > 1) {
		return fmt.Errorf("topP out of range [0,1]: %v", *p.TopP)
	}
	if p.TopK != nil && (*p.TopK < 1 || *p.TopK > 100) {
		return fmt.Errorf("topK out of range [1,100]: %v", *p.TopK)
	}
	if p.MaxOutputTokens != nil && (*p.MaxOutputTokens < 1 || *p.MaxOutputTokens > 200000) {
		return fmt.Errorf("maxOutputTokens out of range [1,200000]: %v", *p.MaxOutputTokens)
	}
	if p.ThinkingBudget != nil && (*p.ThinkingBudget < -1 || *p.ThinkingBudget > 32768) {
		return fmt.Errorf("thinkingBudget out of range [-1,32768]: %v", *p.ThinkingBudget)
	}
	switch p.ReasoningEffort {
	case "", ReasoningNone, ReasoningLow, ReasoningMedium, ReasoningHigh:
	default:
		return fmt.Errorf("invalid reasoningEffort: %q", p.ReasoningEffort)
	}
	switch p.Formality {
	case "", FormalityDefault, FormalityMore, FormalityLess:
	default:
		return fmt.Errorf("invalid formality: %q", p.Formality)
	}
	if p.TranslationTimeoutSec != 0 && (p.TranslationTimeoutSec < 5 || p.TranslationTimeoutSec > 600) {
		return fmt.Errorf("translationTimeout out of range [5,600]s: %v", p.TranslationTimeoutSec)
	}
	if p.MaxRetries != nil && (*p.MaxRetries < 0 || *p.MaxRetries > 5) {
		return fmt.Errorf("maxRetries out of range [0,5]: %v", *p.MaxRetries)
	}
	return nil
}
