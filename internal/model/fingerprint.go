package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint is the 256-bit content-addressed identifier for a translation
// request. Equal fingerprints guarantee byte-identical results (spec §3).
type Fingerprint [sha256.Size]byte

// String renders the fingerprint as 64 lowercase hex characters, matching
// the on-disk/on-wire key format in spec §6.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether f is the unset fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// FingerprintInput carries exactly the fields the spec says influence the
// fingerprint (spec §3). Fields that only affect operational behavior
// (timeouts, retry counts, request IDs) are deliberately absent.
type FingerprintInput struct {
	NormalizedSource []byte
	SourceLang       string // "auto" if unset
	TargetLang       string
	ProviderID       string
	ModelID          string
	WorkflowID       string
	Parameters       TranslationParameters
	PromptHash       string
}

// parameterHashFields mirrors TranslationParameters but drops the
// operational fields (TranslationTimeoutSec, MaxRetries) and forces a
// stable field order for hashing regardless of Go struct layout.
type parameterHashFields struct {
	Temperature        *float64        `json:"temperature,omitempty"`
	TopP               *float64        `json:"topP,omitempty"`
	TopK               *int            `json:"topK,omitempty"`
	MaxOutputTokens    *int            `json:"maxOutputTokens,omitempty"`
	ThinkingBudget     *int            `json:"thinkingBudget,omitempty"`
	ReasoningEffort    ReasoningEffort `json:"reasoningEffort,omitempty"`
	Formality          Formality       `json:"formality,omitempty"`
	PreserveFormatting bool            `json:"preserveFormatting,omitempty"`
}

// ParameterHash returns the hex sha256 of the output-influencing subset of
// the parameters, per spec §3.
func ParameterHash(p TranslationParameters) string {
	fields := parameterHashFields{
		Temperature:        p.Temperature,
		TopP:               p.TopP,
		TopK:               p.TopK,
		MaxOutputTokens:    p.MaxOutputTokens,
		ThinkingBudget:     p.ThinkingBudget,
		ReasoningEffort:    p.ReasoningEffort,
		Formality:          p.Formality,
		PreserveFormatting: p.PreserveFormatting,
	}
	b, _ := json.Marshal(fields)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ComputeFingerprint builds the fingerprint digest over the tuple described
// in spec §3: (normalized source bytes, source-lang-or-"auto", target-lang,
// provider-id, model-id, workflow-id, parameter-hash, prompt-hash).
func ComputeFingerprint(in FingerprintInput) Fingerprint {
	sourceLang := in.SourceLang
	if sourceLang == "" {
		sourceLang = "auto"
	}

	h := sha256.New()
	fmt.Fprintf(h, "%x\n", sha256.Sum256(in.NormalizedSource))
	fmt.Fprintf(h, "%s\n%s\n%s\n%s\n%s\n%s\n%s\n",
		sourceLang, in.TargetLang, in.ProviderID, in.ModelID, in.WorkflowID,
		ParameterHash(in.Parameters), in.PromptHash)

	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}
