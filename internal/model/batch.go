package model

// Workflow selects how timestamps are handled for a translation request.
type Workflow string

const (
	// WorkflowRebuildTimestamps sends only text; timestamps are
	// re-applied from the source by index on return.
	WorkflowRebuildTimestamps Workflow = "rebuild-timestamps"
	// WorkflowStructured sends {index, text} tuples; timestamps are
	// re-applied by index on return.
	WorkflowStructured Workflow = "structured"
	// WorkflowAITimestamps sends {index, start, end, text}; the
	// provider's returned timestamps are authoritative.
	WorkflowAITimestamps Workflow = "ai-timestamps"
)

// Valid reports whether w is a known workflow.
func (w Workflow) Valid() bool {
	switch w {
	case WorkflowRebuildTimestamps, WorkflowStructured, WorkflowAITimestamps:
		return true
	default:
		return false
	}
}

// Batch is a contiguous slice of a document's entries dispatched to a
// provider as a single request, plus read-only context from neighboring
// entries (spec §3/§4.3).
type Batch struct {
	ID             uint32
	Entries        []Entry
	ContextBefore  []Entry
	ContextAfter   []Entry
	TokenEstimate  uint32
}

// FirstIndex returns the index of the first entry in the batch, or 0 if
// the batch is empty.
func (b Batch) FirstIndex() uint32 {
	if len(b.Entries) == 0 {
		return 0
	}
	return b.Entries[0].Index
}

// LastIndex returns the index of the last entry in the batch, or 0 if the
// batch is empty.
func (b Batch) LastIndex() uint32 {
	if len(b.Entries) == 0 {
		return 0
	}
	return b.Entries[len(b.Entries)-1].Index
}

// Indices returns the indices of every entry targeted by the batch (not
// including context entries, which are hints rather than targets).
func (b Batch) Indices() []uint32 {
	out := make([]uint32, len(b.Entries))
	for i, e := range b.Entries {
		out[i] = e.Index
	}
	return out
}
