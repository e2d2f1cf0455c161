// Package planner splits a parsed subtitle document into provider-sized
// batches, attaching read-only context windows from neighboring entries.
package planner

import "math"

// charsPerToken is the deterministic divisor used to estimate tokens from
// character counts, per spec §4.3. It is intentionally crude: the exact
// tokenizer differs per provider/model, and the planner only needs a
// stable, reproducible estimate to size batches consistently.
const charsPerToken = 3.5

// EstimateTokens returns ceil(charCount / 3.5).
func EstimateTokens(charCount int) int {
	if charCount <= 0 {
		return 0
	}
	return int(math.Ceil(float64(charCount) / charsPerToken))
}

// estimateEntryTokens approximates the token cost of one entry's text,
// including a small fixed overhead for the index/timestamp wrapper the
// workflow's payload encoding adds around it.
func estimateEntryTokens(charCount int) int {
	const perEntryOverhead = 4
	return EstimateTokens(charCount) + perEntryOverhead
}
