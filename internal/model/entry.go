package model

import (
	"encoding/json"
	"time"
)

// Entry is a single timed subtitle cue.
type Entry struct {
	Index      uint32          `json:"index"`
	Start      time.Duration   `json:"start"`
	End        time.Duration   `json:"end"`
	Text       string          `json:"text"`
	StyleHints json.RawMessage `json:"styleHints,omitempty"`
}

// Translated returns a copy of e with Text replaced, keeping timing and
// style hints untouched. Used by the rebuild-timestamps and structured
// workflows where returned timestamps are never authoritative.
func (e Entry) Translated(text string) Entry {
	e.Text = text
	return e
}

// Retimed returns a copy of e with both text and timing replaced. Used by
// the ai-timestamps workflow where the provider's timestamps win.
func (e Entry) Retimed(text string, start, end time.Duration) Entry {
	e.Text = text
	e.Start = start
	e.End = end
	return e
}
