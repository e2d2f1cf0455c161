package model

import "time"

// Partial is the resumable, in-progress state of a translation keyed by
// fingerprint. Created on the first batch success, discarded on full
// completion or 1-hour TTL expiry (spec §3).
type Partial struct {
	Fingerprint      Fingerprint           `json:"fingerprint"`
	CompletedBatches map[uint32]bool       `json:"completedBatches"`
	PerBatchResults  map[uint32][]Entry    `json:"perBatchResults"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

// NewPartial returns an empty Partial for fp.
func NewPartial(fp Fingerprint) *Partial {
	return &Partial{
		Fingerprint:      fp,
		CompletedBatches: make(map[uint32]bool),
		PerBatchResults:  make(map[uint32][]Entry),
	}
}

// MarkComplete records batchID's result and marks it done.
func (p *Partial) MarkComplete(batchID uint32, entries []Entry, now time.Time) {
	p.CompletedBatches[batchID] = true
	p.PerBatchResults[batchID] = entries
	p.UpdatedAt = now
}

// IsComplete reports whether batchID has already succeeded.
func (p *Partial) IsComplete(batchID uint32) bool {
	return p.CompletedBatches[batchID]
}

// FinalTranslationRecord describes the result of a completed translation
// (spec §3). The orchestrator does not persist this type: the translation
// namespace stores the serialized subtitle bytes, written once and
// evicted only by that namespace's LRU/size policy, never by TTL.
type FinalTranslationRecord struct {
	Fingerprint  Fingerprint `json:"fingerprint"`
	Entries      []Entry     `json:"entries"`
	ProviderUsed string      `json:"providerUsed"`
	ModelUsed    string      `json:"modelUsed"`
	Workflow     Workflow    `json:"workflow"`
	EntryCount   int         `json:"entryCount"`
	CreatedAt    time.Time   `json:"createdAt"`
	CompletedAt  time.Time   `json:"completedAt"`
}

// HistoryRecord is an observability record written on pipeline completion
// (success or failure), with a 30-day TTL (spec §3).
type HistoryRecord struct {
	RequestID            string    `json:"requestId"`
	Fingerprint          Fingerprint `json:"fingerprint"`
	Provider             string    `json:"provider"`
	Model                string    `json:"model"`
	Workflow             Workflow  `json:"workflow"`
	EntryCount           int       `json:"entryCount"`
	DurationMs           int64     `json:"durationMs"`
	Cached               bool      `json:"cached"`
	UsedSecondary        bool      `json:"usedSecondary"`
	PrimaryFailureReason string    `json:"primaryFailureReason,omitempty"`
	SecondaryFailureReason string  `json:"secondaryFailureReason,omitempty"`
	RateLimitErrors      int       `json:"rateLimitErrors"`
	KeyRotations         int       `json:"keyRotations"`
	MismatchDetected     bool      `json:"mismatchDetected"`
	MissingEntries       int       `json:"missingEntries"`
	RecoveredEntries     int       `json:"recoveredEntries"`
	ErrorTypes           []string  `json:"errorTypes,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
}
