package subtitle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dddepg/subtrans/internal/model"
)

// timestampLine matches "HH:MM:SS[.,]mmm --> HH:MM:SS[.,]mmm", optionally
// followed by VTT cue settings which are ignored.
var timestampLine = regexp.MustCompile(
	`^\s*(\d{2,}):(\d{2}):(\d{2})[.,](\d{3})\s*-->\s*(\d{2,}):(\d{2}):(\d{2})[.,](\d{3})`,
)

func parseTimestampClause(h, m, s, ms string) (time.Duration, error) {
	hh, err := strconv.Atoi(h)
	if err != nil {
		return 0, err
	}
	mm, err := strconv.Atoi(m)
	if err != nil {
		return 0, err
	}
	ss, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	mmm, err := strconv.Atoi(ms)
	if err != nil {
		return 0, err
	}
	return time.Duration(hh)*time.Hour +
		time.Duration(mm)*time.Minute +
		time.Duration(ss)*time.Second +
		time.Duration(mmm)*time.Millisecond, nil
}

func formatTimestamp(d time.Duration, sep byte) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}

// parseSRTVTT parses SRT or VTT source into a Document. See spec §4.1 for
// the exact failure-mode thresholds.
func parseSRTVTT(data []byte, format model.Format) (model.Document, error) {
	text := normalizeLineEndings(string(stripBOM(data)))

	header := ""
	if format == model.FormatVTT {
		if !strings.HasPrefix(strings.TrimLeft(text, "\n"), "WEBVTT") {
			return model.Document{}, &ParseError{Kind: EmptyOrInvalid, Reason: "missing WEBVTT header"}
		}
		// Header is everything up to the first blank line.
		if idx := strings.Index(text, "\n\n"); idx >= 0 {
			header = text[:idx]
			text = text[idx+2:]
		} else {
			header = text
			text = ""
		}
	}

	blocks := splitBlocks(text)

	var entries []model.Entry
	candidates := 0
	malformed := 0
	nextIndex := uint32(1)

	for _, block := range blocks {
		lines := strings.Split(block, "\n")
		li := 0
		if li < len(lines) && !strings.Contains(lines[li], "-->") {
			// SRT numeric index or VTT cue identifier line; skip it.
			li++
		}
		if li >= len(lines) {
			continue
		}
		if !strings.Contains(lines[li], "-->") {
			// Not a timing line at all; not a candidate cue.
			continue
		}
		candidates++

		m := timestampLine.FindStringSubmatch(lines[li])
		if m == nil {
			malformed++
			continue
		}
		start, err1 := parseTimestampClause(m[1], m[2], m[3], m[4])
		end, err2 := parseTimestampClause(m[5], m[6], m[7], m[8])
		if err1 != nil || err2 != nil {
			malformed++
			continue
		}

		textLines := lines[li+1:]
		cueText := strings.TrimRight(strings.Join(textLines, "\n"), "\n")
		cueText = strings.TrimSpace(cueText)
		if cueText == "" {
			// Empty cues are dropped silently, not counted as malformed.
			continue
		}

		entries = append(entries, model.Entry{
			Index: nextIndex,
			Start: start,
			End:   end,
			Text:  cueText,
		})
		nextIndex++
	}

	if candidates > 0 && malformed*4 >= candidates {
		return model.Document{}, &ParseError{Kind: Malformed, Skipped: malformed, Reason: "malformed timestamp on >=25% of candidate cues"}
	}
	if len(entries) == 0 {
		return model.Document{}, &ParseError{Kind: EmptyOrInvalid, Reason: "no usable cues after filtering"}
	}

	return model.Document{Format: format, Header: header, Entries: entries}, nil
}

// splitBlocks splits cue text on blank-line boundaries.
func splitBlocks(text string) []string {
	text = strings.Trim(text, "\n")
	if text == "" {
		return nil
	}
	raw := regexp.MustCompile(`\n{2,}`).Split(text, -1)
	blocks := make([]string, 0, len(raw))
	for _, b := range raw {
		if strings.TrimSpace(b) != "" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// serializeSRTVTT re-emits a Document in SRT or VTT form.
func serializeSRTVTT(doc model.Document) []byte {
	var b strings.Builder

	sep := byte(',')
	if doc.Format == model.FormatVTT {
		b.WriteString("WEBVTT\n\n")
		sep = '.'
	}

	for i, e := range doc.Entries {
		if doc.Format == model.FormatSRT {
			fmt.Fprintf(&b, "%d\n", i+1)
		}
		fmt.Fprintf(&b, "%s --> %s\n", formatTimestamp(e.Start, sep), formatTimestamp(e.End, sep))
		b.WriteString(e.Text)
		b.WriteString("\n\n")
	}

	out := collapseBlankLines(b.String())
	out = strings.TrimRight(out, "\n") + "\n"
	return []byte(out)
}
