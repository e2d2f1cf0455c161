// Package subtitle parses and serializes SRT, VTT, ASS, and SSA subtitle
// documents into the provider-agnostic model.Document representation used
// by the rest of the pipeline.
package subtitle

import (
	"fmt"

	"github.com/dddepg/subtrans/internal/model"
)

// Parse decodes data as the given format. It returns a *ParseError when the
// input is empty/invalid or exceeds the malformed-cue threshold described
// in spec §4.1; callers should use errors.Is against subtitle.ErrEmpty /
// subtitle.ErrMalformed (or inspect the Kind field directly) to branch on
// failure mode.
func Parse(data []byte, format model.Format) (model.Document, error) {
	switch format {
	case model.FormatSRT, model.FormatVTT:
		return parseSRTVTT(data, format)
	case model.FormatASS, model.FormatSSA:
		return parseASS(data, format)
	default:
		return model.Document{}, fmt.Errorf("subtitle: unsupported format %q", format)
	}
}

// Serialize re-encodes doc in its own Format.
func Serialize(doc model.Document) ([]byte, error) {
	switch doc.Format {
	case model.FormatSRT, model.FormatVTT:
		return serializeSRTVTT(doc), nil
	case model.FormatASS, model.FormatSSA:
		return serializeASS(doc), nil
	default:
		return nil, fmt.Errorf("subtitle: unsupported format %q", doc.Format)
	}
}

// ErrEmpty and ErrMalformed are sentinels usable with errors.Is against a
// returned *ParseError; a ParseError compares equal to either when its Kind
// matches.
var (
	ErrEmpty     = &ParseError{Kind: EmptyOrInvalid}
	ErrMalformed = &ParseError{Kind: Malformed}
)
