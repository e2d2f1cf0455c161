package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dddepg/subtrans/internal/model"
)

// structuredLine is the wire shape for the structured workflow.
type structuredLine struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// timedLine is the wire shape for the ai-timestamps workflow; Start/End
// are milliseconds.
type timedLine struct {
	Index int    `json:"index"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	Text  string `json:"text"`
}

// EncodePayload renders batch.Entries as the wire format the given
// workflow expects, with context entries rendered as read-only hints
// ahead of the target lines (spec §4.3's "context entries are sent as
// read-only translation hints, not returned").
func EncodePayload(batch model.Batch, workflow model.Workflow) (string, error) {
	var b strings.Builder

	switch workflow {
	case model.WorkflowRebuildTimestamps:
		writeContextHints(&b, batch)
		for _, e := range batch.Entries {
			fmt.Fprintf(&b, "%d. %s\n", e.Index, e.Text)
		}
		return b.String(), nil

	case model.WorkflowStructured:
		writeContextHints(&b, batch)
		lines := make([]structuredLine, len(batch.Entries))
		for i, e := range batch.Entries {
			lines[i] = structuredLine{Index: int(e.Index), Text: e.Text}
		}
		out, err := json.Marshal(lines)
		if err != nil {
			return "", err
		}
		b.Write(out)
		return b.String(), nil

	case model.WorkflowAITimestamps:
		writeContextHints(&b, batch)
		lines := make([]timedLine, len(batch.Entries))
		for i, e := range batch.Entries {
			lines[i] = timedLine{
				Index: int(e.Index),
				Start: e.Start.Milliseconds(),
				End:   e.End.Milliseconds(),
				Text:  e.Text,
			}
		}
		out, err := json.Marshal(lines)
		if err != nil {
			return "", err
		}
		b.Write(out)
		return b.String(), nil

	default:
		return "", fmt.Errorf("provider: unsupported workflow %q", workflow)
	}
}

func writeContextHints(b *strings.Builder, batch model.Batch) {
	if len(batch.ContextBefore) == 0 && len(batch.ContextAfter) == 0 {
		return
	}
	b.WriteString("[context, do not translate or return]\n")
	for _, e := range batch.ContextBefore {
		fmt.Fprintf(b, "before %d: %s\n", e.Index, e.Text)
	}
	for _, e := range batch.ContextAfter {
		fmt.Fprintf(b, "after %d: %s\n", e.Index, e.Text)
	}
	b.WriteString("[end context]\n")
}

// ParsePayload decodes a provider's raw text response for the given
// workflow against the indices requested by batch, enforcing spec §4.4's
// "exactly the indices requested" rule. A mismatch returns a
// *ProviderError{Kind: ShapeMismatch}.
func ParsePayload(providerName string, raw string, workflow model.Workflow, batch model.Batch) ([]model.Entry, error) {
	wanted := make(map[uint32]model.Entry, len(batch.Entries))
	for _, e := range batch.Entries {
		wanted[e.Index] = e
	}

	var got map[uint32]model.Entry
	var err error

	switch workflow {
	case model.WorkflowRebuildTimestamps:
		got, err = parseNumberedLines(raw, wanted)
	case model.WorkflowStructured:
		got, err = parseStructuredLines(raw, wanted)
	case model.WorkflowAITimestamps:
		got, err = parseTimedLines(raw, wanted)
	default:
		return nil, fmt.Errorf("provider: unsupported workflow %q", workflow)
	}
	if err != nil {
		return nil, NewProviderError(providerName, Fatal, 0, err)
	}

	var missing, extra []uint32
	for idx := range wanted {
		if _, ok := got[idx]; !ok {
			missing = append(missing, idx)
		}
	}
	for idx := range got {
		if _, ok := wanted[idx]; !ok {
			extra = append(extra, idx)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		return nil, &ProviderError{Kind: ShapeMismatch, Provider: providerName, Missing: missing, Extra: extra}
	}

	out := make([]model.Entry, len(batch.Entries))
	for i, e := range batch.Entries {
		out[i] = got[e.Index]
	}
	return out, nil
}

func parseNumberedLines(raw string, wanted map[uint32]model.Entry) (map[uint32]model.Entry, error) {
	out := make(map[uint32]model.Entry)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		dot := strings.IndexByte(line, '.')
		if dot < 0 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(line[:dot]))
		if err != nil {
			continue
		}
		idx := uint32(n)
		src, ok := wanted[idx]
		if !ok {
			continue
		}
		text := strings.TrimSpace(line[dot+1:])
		out[idx] = src.Translated(text)
	}
	return out, nil
}

func parseStructuredLines(raw string, wanted map[uint32]model.Entry) (map[uint32]model.Entry, error) {
	var lines []structuredLine
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, fmt.Errorf("parse structured response: %w", err)
	}
	out := make(map[uint32]model.Entry, len(lines))
	for _, l := range lines {
		idx := uint32(l.Index)
		src, ok := wanted[idx]
		if !ok {
			continue
		}
		out[idx] = src.Translated(l.Text)
	}
	return out, nil
}

func parseTimedLines(raw string, wanted map[uint32]model.Entry) (map[uint32]model.Entry, error) {
	var lines []timedLine
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, fmt.Errorf("parse ai-timestamps response: %w", err)
	}
	out := make(map[uint32]model.Entry, len(lines))
	for _, l := range lines {
		idx := uint32(l.Index)
		src, ok := wanted[idx]
		if !ok {
			continue
		}
		out[idx] = src.Retimed(l.Text, time.Duration(l.Start)*time.Millisecond, time.Duration(l.End)*time.Millisecond)
	}
	return out, nil
}
