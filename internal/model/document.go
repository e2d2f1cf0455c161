package model

// Format identifies a subtitle container format.
type Format string

const (
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
	FormatASS Format = "ass"
	FormatSSA Format = "ssa"
)

// Valid reports whether f is one of the known container formats.
func (f Format) Valid() bool {
	switch f {
	case FormatSRT, FormatVTT, FormatASS, FormatSSA:
		return true
	default:
		return false
	}
}

// Document is a parsed subtitle file: an ordered sequence of entries plus
// whatever header material the source format carries (for VTT, the text
// before the first blank line, starting with "WEBVTT"; later NOTE/STYLE
// blocks are not kept. For ASS/SSA, every non-Dialogue line, including
// the Script Info/Styles sections).
type Document struct {
	Format  Format  `json:"format"`
	Header  string  `json:"header,omitempty"`
	Entries []Entry `json:"entries"`
}

// EntryCount returns the number of entries in the document.
func (d Document) EntryCount() int {
	return len(d.Entries)
}

// Indices returns the set of entry indices present in the document, in
// document order.
func (d Document) Indices() []uint32 {
	out := make([]uint32, len(d.Entries))
	for i, e := range d.Entries {
		out[i] = e.Index
	}
	return out
}
