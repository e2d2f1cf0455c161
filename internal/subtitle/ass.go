package subtitle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dddepg/subtrans/internal/model"
)

// assTimestamp matches ASS's "H:MM:SS.cc" form (centiseconds, single-digit
// hour is the common case but not guaranteed).
var assTimestamp = regexp.MustCompile(`^(\d+):(\d{2}):(\d{2})\.(\d{2})$`)

// overrideTag matches a full {\...} override block.
var overrideTag = regexp.MustCompile(`\{\\[^}]*\}`)

// drawingBlock matches a {\p1}...{\p0} vector-drawing span, text included.
var drawingBlock = regexp.MustCompile(`\{\\p[1-9][0-9]*\}.*?\{\\p0\}`)

func parseASSTimestamp(s string) (time.Duration, error) {
	m := assTimestamp.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("malformed ass timestamp %q", s)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	ss, _ := strconv.Atoi(m[3])
	cs, _ := strconv.Atoi(m[4])
	return time.Duration(h)*time.Hour +
		time.Duration(mm)*time.Minute +
		time.Duration(ss)*time.Second +
		time.Duration(cs)*10*time.Millisecond, nil
}

func formatASSTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	cs := d / (10 * time.Millisecond)
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}

// stripASSOverrides removes override-tag blocks from dialogue text and
// converts the remaining ASS escape sequences to plain text, per spec
// §4.1: \h becomes a space, \N and \n become line breaks, and drawing
// commands are dropped along with the vertices they wrap.
func stripASSOverrides(text string) string {
	text = drawingBlock.ReplaceAllString(text, "")
	text = overrideTag.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, `\h`, " ")
	text = strings.ReplaceAll(text, `\N`, "\n")
	text = strings.ReplaceAll(text, `\n`, "\n")
	return text
}

// escapeASSText is stripASSOverrides's inverse for plain-text runs: it
// does not attempt to reconstruct override tags, only re-encodes line
// breaks the way libass-family renderers expect them on write-back.
func escapeASSText(text string) string {
	return strings.ReplaceAll(text, "\n", `\N`)
}

// parseASS parses an ASS/SSA script into a Document. Only the Events
// section's Dialogue lines become entries; everything else (Script Info,
// Styles, comments) is preserved verbatim as the document header so it
// round-trips on serialize.
func parseASS(data []byte, format model.Format) (model.Document, error) {
	text := normalizeLineEndings(string(stripBOM(data)))
	lines := strings.Split(text, "\n")

	var headerLines []string
	var format10 []string
	var entries []model.Entry
	candidates := 0
	malformed := 0
	inEvents := false
	nextIndex := uint32(1)

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)

		if strings.HasPrefix(lower, "[events]") {
			inEvents = true
			headerLines = append(headerLines, line)
			continue
		}
		if strings.HasPrefix(trimmed, "[") && inEvents {
			inEvents = false
		}
		if !inEvents {
			headerLines = append(headerLines, line)
			continue
		}

		if strings.HasPrefix(lower, "format:") {
			format10 = splitASSFields(trimmed[len("format:"):], -1)
			headerLines = append(headerLines, line)
			continue
		}
		if !strings.HasPrefix(lower, "dialogue:") {
			// Comment lines and blank lines inside Events are preserved
			// verbatim but are not candidate cues.
			headerLines = append(headerLines, line)
			continue
		}

		candidates++
		numFields := 10
		if len(format10) > 0 {
			numFields = len(format10)
		}
		// Known renderer quirk: a naive split on the Format line's field
		// count under-counts when the text field itself contains commas,
		// so the text field must absorb every comma past the 9th. We
		// implement that by limiting the split count instead of inserting
		// a literal space, which gives the same result without mutating
		// the source line.
		fields := splitASSFields(trimmed[len("dialogue:"):], numFields)
		if len(fields) < 10 {
			malformed++
			continue
		}

		start, err1 := parseASSTimestamp(fields[1])
		end, err2 := parseASSTimestamp(fields[2])
		if err1 != nil || err2 != nil {
			malformed++
			continue
		}

		raw := fields[len(fields)-1]
		cueText := strings.TrimSpace(stripASSOverrides(raw))
		if cueText == "" {
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
		return model.Document{}, &ParseError{Kind: Malformed, Skipped: malformed, Reason: "malformed dialogue line on >=25% of candidate cues"}
	}
	if len(entries) == 0 {
		return model.Document{}, &ParseError{Kind: EmptyOrInvalid, Reason: "no usable dialogue cues"}
	}

	return model.Document{
		Format:  format,
		Header:  strings.Join(headerLines, "\n"),
		Entries: entries,
	}, nil
}

// splitASSFields splits a comma-separated ASS field list, capping the
// field count at max by folding any excess commas into the final field
// (the Text field, which is free to contain literal commas). max < 0
// means split on every comma.
func splitASSFields(s string, max int) []string {
	if max < 0 {
		return strings.Split(s, ",")
	}
	return strings.SplitN(s, ",", max)
}

// serializeASS re-emits a Document as an ASS/SSA script, reusing the
// preserved header (Script Info, Styles, and any non-dialogue Events
// lines) and re-rendering one Dialogue line per entry.
func serializeASS(doc model.Document) []byte {
	var b strings.Builder

	header := doc.Header
	if header != "" {
		b.WriteString(header)
		if !strings.HasSuffix(header, "\n") {
			b.WriteString("\n")
		}
	} else {
		b.WriteString("[Events]\n")
		b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	}

	for _, e := range doc.Entries {
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			formatASSTimestamp(e.Start), formatASSTimestamp(e.End), escapeASSText(e.Text))
	}

	out := collapseBlankLines(b.String())
	out = strings.TrimRight(out, "\n") + "\n"
	return []byte(out)
}
