package provider

import (
	"fmt"

	"github.com/dddepg/subtrans/internal/model"
)

// BuildSystemPrompt returns the system prompt for one batch, shaped by the
// workflow so the model knows exactly what structure to echo back.
func BuildSystemPrompt(workflow model.Workflow, sourceLang, targetLang string, preserveFormatting bool) string {
	srcLine := "the source language"
	if sourceLang != "" {
		srcLine = sourceLang
	}

	formatting := ""
	if preserveFormatting {
		formatting = "\nPreserve all inline markup, tags, and line breaks exactly as given in each entry."
	}

	switch workflow {
	case model.WorkflowRebuildTimestamps:
		return fmt.Sprintf(`You are a subtitle translator. Translate each numbered line from %s into %s.

CRITICAL: You MUST translate into %s. Any response not in %s is a FAILURE.

Rules:
- Output one numbered line per input line, same numbering, same order
- Do not merge, split, add, or drop lines
- Do not add commentary before or after the numbered lines%s`, srcLine, targetLang, targetLang, targetLang, formatting)

	case model.WorkflowStructured:
		return fmt.Sprintf(`You are a subtitle translator. You will receive a JSON array of {"index": number, "text": string} objects in %s.

CRITICAL: Translate every "text" field into %s. Any response not in %s is a FAILURE.

Rules:
- Return a JSON array with the same "index" values, translated "text"
- Do not add, remove, or reorder indices
- Do not add any field other than "index" and "text"%s`, srcLine, targetLang, targetLang, formatting)

	case model.WorkflowAITimestamps:
		return fmt.Sprintf(`You are a subtitle translator and timing editor. You will receive a JSON array of {"index": number, "start": number, "end": number, "text": string} objects (start/end in milliseconds) in %s.

CRITICAL: Translate every "text" field into %s. Any response not in %s is a FAILURE.

Rules:
- Return a JSON array with the same "index" values
- You may adjust "start"/"end" to better fit natural reading pace in %s, but keep them monotonic and non-overlapping
- Do not add, remove, or reorder indices%s`, srcLine, targetLang, targetLang, targetLang, formatting)

	default:
		return fmt.Sprintf("Translate the following subtitle text from %s into %s.%s", srcLine, targetLang, formatting)
	}
}
