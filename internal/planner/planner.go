package planner

import (
	"fmt"

	"github.com/dddepg/subtrans/internal/model"
)

// DefaultMaxEntriesPerBatch caps how many entries a single batch may
// target before the planner starts a new one, independent of the token
// budget.
const DefaultMaxEntriesPerBatch = 50

// PlanErrorKind enumerates why Plan could not produce a valid partition.
type PlanErrorKind string

const (
	// SinglePassTooLarge means singleBatchMode was requested but the
	// whole document exceeds tokenBudget.
	SinglePassTooLarge PlanErrorKind = "single_pass_too_large"
)

// PlanError reports a planning failure.
type PlanError struct {
	Kind PlanErrorKind
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("planner: %s", e.Kind)
}

// Options tunes Plan's batch-sizing behavior.
type Options struct {
	// MaxEntriesPerBatch caps entries per batch; zero uses
	// DefaultMaxEntriesPerBatch.
	MaxEntriesPerBatch int
	// ContextSize is how many neighboring entries on each side of a
	// batch are attached as read-only translation hints.
	ContextSize int
	// SingleBatchMode forces exactly one batch covering the whole
	// document, failing with PlanError{SinglePassTooLarge} if it does
	// not fit tokenBudget.
	SingleBatchMode bool
}

// Plan partitions doc.Entries into batches for workflow, each staying
// within tokenBudget and MaxEntriesPerBatch, in document order, per
// spec §4.3's invariants: every entry appears in exactly one batch, in
// document order, and the batch sizes sum to the document's entry count.
func Plan(doc model.Document, workflow model.Workflow, tokenBudget int, opts Options) ([]model.Batch, error) {
	maxEntries := opts.MaxEntriesPerBatch
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntriesPerBatch
	}

	if opts.SingleBatchMode {
		total := 0
		for _, e := range doc.Entries {
			total += estimateEntryTokens(len(e.Text))
		}
		if tokenBudget > 0 && total > tokenBudget {
			return nil, &PlanError{Kind: SinglePassTooLarge}
		}
		if len(doc.Entries) == 0 {
			return nil, nil
		}
		return []model.Batch{buildBatch(0, doc.Entries, doc.Entries, opts.ContextSize, uint32(total))}, nil
	}

	var batches []model.Batch
	var batchID uint32
	i := 0
	for i < len(doc.Entries) {
		start := i
		runningTokens := 0
		for i < len(doc.Entries) {
			entryTokens := estimateEntryTokens(len(doc.Entries[i].Text))
			if i > start && (tokenBudget > 0 && runningTokens+entryTokens > tokenBudget) {
				break
			}
			if i-start >= maxEntries {
				break
			}
			runningTokens += entryTokens
			i++
		}
		if i == start {
			// A single entry alone exceeds tokenBudget; still must be
			// placed somewhere so the partition stays exhaustive.
			i++
			runningTokens = estimateEntryTokens(len(doc.Entries[start].Text))
		}

		batches = append(batches, buildBatch(batchID, doc.Entries[start:i], doc.Entries, opts.ContextSize, uint32(runningTokens)))
		batchID++
	}

	return batches, nil
}

func buildBatch(id uint32, target []model.Entry, all []model.Entry, contextSize int, tokenEstimate uint32) model.Batch {
	b := model.Batch{
		ID:            id,
		Entries:       target,
		TokenEstimate: tokenEstimate,
	}
	if contextSize <= 0 || len(target) == 0 {
		return b
	}

	firstIdx := indexOf(all, target[0].Index)
	lastIdx := indexOf(all, target[len(target)-1].Index)
	if firstIdx < 0 || lastIdx < 0 {
		return b
	}

	beforeStart := firstIdx - contextSize
	if beforeStart < 0 {
		beforeStart = 0
	}
	if beforeStart < firstIdx {
		b.ContextBefore = all[beforeStart:firstIdx]
	}

	afterEnd := lastIdx + 1 + contextSize
	if afterEnd > len(all) {
		afterEnd = len(all)
	}
	if lastIdx+1 < afterEnd {
		b.ContextAfter = all[lastIdx+1 : afterEnd]
	}

	return b
}

// indexOf finds the position of the entry with the given model.Entry.Index
// field within all, by linear scan. Documents are small enough (subtitle
// tracks, not corpora) that this is not worth indexing ahead of time.
func indexOf(all []model.Entry, wantIndex uint32) int {
	for i, e := range all {
		if e.Index == wantIndex {
			return i
		}
	}
	return -1
}
