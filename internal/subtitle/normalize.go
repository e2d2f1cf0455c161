package subtitle

import "strings"

// stripBOM removes a UTF-8 byte-order mark if present.
func stripBOM(b []byte) []byte {
	const bom = "﻿"
	if len(b) >= 3 && string(b[:3]) == bom {
		return b[3:]
	}
	return b
}

// normalizeLineEndings converts CRLF and lone CR to LF.
func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// collapseBlankLines collapses runs of 3+ blank lines down to 2, matching
// the serializer's "at most two consecutive blank lines" rule.
func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
