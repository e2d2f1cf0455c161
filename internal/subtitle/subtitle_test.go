package subtitle_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dddepg/subtrans/internal/model"
	"github.com/dddepg/subtrans/internal/subtitle"
)

const sampleSRT = `1
00:00:01,000 --> 00:00:02,500
Hello there.

2
00:00:03,000 --> 00:00:04,000
General Kenobi.
`

const sampleVTT = `WEBVTT

00:00:01.000 --> 00:00:02.500
Hello there.

00:00:03.000 --> 00:00:04.000
General Kenobi.
`

const sampleASS = `[Script Info]
Title: Test

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
Dialogue: 0,0:00:01.00,0:00:02.50,Default,,0,0,0,,Hello there.
Dialogue: 0,0:00:03.00,0:00:04.00,Default,,0,0,0,,General Kenobi.
`

func TestParseSRT(t *testing.T) {
	doc, err := subtitle.Parse([]byte(sampleSRT), model.FormatSRT)
	require.NoError(t, err)
	require.Equal(t, model.FormatSRT, doc.Format)
	require.Len(t, doc.Entries, 2)
	require.Equal(t, "Hello there.", doc.Entries[0].Text)
	require.Equal(t, time.Second, doc.Entries[0].Start)
	require.Equal(t, 2500*time.Millisecond, doc.Entries[0].End)
	require.Equal(t, uint32(1), doc.Entries[0].Index)
	require.Equal(t, uint32(2), doc.Entries[1].Index)
}

func TestParseVTT(t *testing.T) {
	doc, err := subtitle.Parse([]byte(sampleVTT), model.FormatVTT)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 2)
	require.Equal(t, "General Kenobi.", doc.Entries[1].Text)
}

func TestParseVTT_MissingHeader(t *testing.T) {
	_, err := subtitle.Parse([]byte("00:00:01.000 --> 00:00:02.000\nhi\n"), model.FormatVTT)
	require.Error(t, err)
	require.True(t, errors.Is(err, subtitle.ErrEmpty))
}

func TestParseASS(t *testing.T) {
	doc, err := subtitle.Parse([]byte(sampleASS), model.FormatASS)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 2)
	require.Equal(t, "Hello there.", doc.Entries[0].Text)
	require.Equal(t, 2500*time.Millisecond, doc.Entries[0].End)
}

func TestParseASS_OverrideTagsStripped(t *testing.T) {
	src := `[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
Dialogue: 0,0:00:01.00,0:00:02.00,Default,,0,0,0,,{\i1}Hello{\i0}\Nworld{\h}!
`
	doc, err := subtitle.Parse([]byte(src), model.FormatASS)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	require.Equal(t, "Hello\nworld!", doc.Entries[0].Text)
}

func TestParseASS_DrawingCommandsStripped(t *testing.T) {
	src := `[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
Dialogue: 0,0:00:01.00,0:00:02.00,Default,,0,0,0,,{\p1}m 0 0 l 100 0 100 100{\p0}Caption text
`
	doc, err := subtitle.Parse([]byte(src), model.FormatASS)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	require.Equal(t, "Caption text", doc.Entries[0].Text)
}

func TestParseASS_TextFieldWithCommasNotTruncated(t *testing.T) {
	src := `[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
Dialogue: 0,0:00:01.00,0:00:02.00,Default,,0,0,0,,Wait, what, really?
`
	doc, err := subtitle.Parse([]byte(src), model.FormatASS)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	require.Equal(t, "Wait, what, really?", doc.Entries[0].Text)
}

func TestParse_MalformedThreshold(t *testing.T) {
	// 3 of 4 candidate cues have garbage timestamps: 75% >= 25% threshold.
	src := `1
bad --> timestamp
one

2
bad --> timestamp
two

3
bad --> timestamp
three

4
00:00:01,000 --> 00:00:02,000
four
`
	_, err := subtitle.Parse([]byte(src), model.FormatSRT)
	require.Error(t, err)
	require.True(t, errors.Is(err, subtitle.ErrMalformed))
}

func TestParse_EmptyCuesDroppedSilentlyNotMalformed(t *testing.T) {
	src := `1
00:00:01,000 --> 00:00:02,000


2
00:00:03,000 --> 00:00:04,000
Real text
`
	doc, err := subtitle.Parse([]byte(src), model.FormatSRT)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	require.Equal(t, "Real text", doc.Entries[0].Text)
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		format model.Format
		src    string
	}{
		{"srt", model.FormatSRT, sampleSRT},
		{"vtt", model.FormatVTT, sampleVTT},
		{"ass", model.FormatASS, sampleASS},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := subtitle.Parse([]byte(tc.src), tc.format)
			require.NoError(t, err)

			out, err := subtitle.Serialize(doc)
			require.NoError(t, err)

			doc2, err := subtitle.Parse(out, tc.format)
			require.NoError(t, err)

			require.Equal(t, len(doc.Entries), len(doc2.Entries))
			for i := range doc.Entries {
				require.Equal(t, doc.Entries[i].Text, doc2.Entries[i].Text)
				require.Equal(t, doc.Entries[i].Start, doc2.Entries[i].Start)
				require.Equal(t, doc.Entries[i].End, doc2.Entries[i].End)
			}
		})
	}
}
