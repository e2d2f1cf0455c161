package planner_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dddepg/subtrans/internal/model"
	"github.com/dddepg/subtrans/internal/planner"
)

func makeEntries(n int, textLen int) []model.Entry {
	entries := make([]model.Entry, n)
	text := strings.Repeat("a", textLen)
	for i := 0; i < n; i++ {
		entries[i] = model.Entry{Index: uint32(i), Text: text}
	}
	return entries
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		chars int
		want  int
	}{
		{0, 0},
		{1, 1},
		{3, 1},
		{4, 2},
		{7, 2},
		{35, 10},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, planner.EstimateTokens(tc.chars), "chars=%d", tc.chars)
	}
}

func TestPlan_ExhaustiveAndOrdered(t *testing.T) {
	doc := model.Document{Format: model.FormatSRT, Entries: makeEntries(120, 10)}

	batches, err := planner.Plan(doc, model.WorkflowRebuildTimestamps, 0, planner.Options{MaxEntriesPerBatch: 50})
	require.NoError(t, err)
	require.Len(t, batches, 3)

	var seen []uint32
	for i, b := range batches {
		require.EqualValues(t, i, b.ID)
		seen = append(seen, b.Indices()...)
	}
	require.Len(t, seen, 120)
	for i, idx := range seen {
		require.EqualValues(t, i, idx, "entries must be emitted in document order with no gaps or duplicates")
	}
}

func TestPlan_RespectsTokenBudget(t *testing.T) {
	// Each entry costs EstimateTokens(20)+4 = 6+4 = 10 tokens; budget 35
	// should fit at most 3 entries per batch (30 <= 35, 40 > 35).
	doc := model.Document{Entries: makeEntries(10, 20)}

	batches, err := planner.Plan(doc, model.WorkflowStructured, 35, planner.Options{})
	require.NoError(t, err)

	for _, b := range batches {
		require.LessOrEqual(t, len(b.Entries), 3)
	}

	total := 0
	for _, b := range batches {
		total += len(b.Entries)
	}
	require.Equal(t, 10, total)
}

func TestPlan_SingleEntryExceedingBudgetStillPlaced(t *testing.T) {
	doc := model.Document{Entries: []model.Entry{{Index: 0, Text: strings.Repeat("a", 1000)}}}

	batches, err := planner.Plan(doc, model.WorkflowStructured, 5, planner.Options{})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Entries, 1)
}

func TestPlan_SingleBatchMode(t *testing.T) {
	doc := model.Document{Entries: makeEntries(30, 5)}

	batches, err := planner.Plan(doc, model.WorkflowRebuildTimestamps, 0, planner.Options{SingleBatchMode: true})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Entries, 30)
}

func TestPlan_SingleBatchModeTooLarge(t *testing.T) {
	doc := model.Document{Entries: makeEntries(100, 50)}

	_, err := planner.Plan(doc, model.WorkflowRebuildTimestamps, 10, planner.Options{SingleBatchMode: true})
	require.Error(t, err)

	var planErr *planner.PlanError
	require.ErrorAs(t, err, &planErr)
	require.Equal(t, planner.SinglePassTooLarge, planErr.Kind)
}

func TestPlan_ContextWindows(t *testing.T) {
	doc := model.Document{Entries: makeEntries(10, 5)}

	batches, err := planner.Plan(doc, model.WorkflowStructured, 0, planner.Options{MaxEntriesPerBatch: 3, ContextSize: 2})
	require.NoError(t, err)
	require.Len(t, batches, 4) // 3,3,3,1

	// Second batch targets indices 3-5; context before should be 1,2 and
	// context after should be 6,7.
	second := batches[1]
	require.EqualValues(t, 3, second.FirstIndex())
	require.EqualValues(t, 5, second.LastIndex())
	require.Len(t, second.ContextBefore, 2)
	require.EqualValues(t, 1, second.ContextBefore[0].Index)
	require.EqualValues(t, 2, second.ContextBefore[1].Index)
	require.Len(t, second.ContextAfter, 2)
	require.EqualValues(t, 6, second.ContextAfter[0].Index)
	require.EqualValues(t, 7, second.ContextAfter[1].Index)

	// First batch has no entries before it to use as context.
	first := batches[0]
	require.Empty(t, first.ContextBefore)
}

func TestPlan_EmptyDocument(t *testing.T) {
	batches, err := planner.Plan(model.Document{}, model.WorkflowStructured, 100, planner.Options{})
	require.NoError(t, err)
	require.Empty(t, batches)
}
