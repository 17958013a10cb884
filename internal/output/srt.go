package output

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/snarg/talkpace/internal/analysis"
)

// LowConfidence is the confidence below which SRT cues get [LOW_CONF].
const LowConfidence = 0.5

// WriteSRT renders one subtitle cue per record, tagging unusual cadence,
// overlapping speech and low confidence.
func WriteSRT(w io.Writer, doc *Document) error {
	bw := bufio.NewWriter(w)
	for i, r := range doc.Records {
		fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n\n", i+1, srtTime(r.Start), srtTime(r.End), cueText(r))
	}
	return bw.Flush()
}

func cueText(r analysis.Record) string {
	var tags []string
	switch r.Cadence {
	case analysis.CadenceSlow:
		tags = append(tags, "[SLOW_CADENCE]")
	case analysis.CadenceFast:
		tags = append(tags, "[FAST_CADENCE]")
	}
	if r.SpeakerOverlap == analysis.OverlapDetected {
		tags = append(tags, "[OVERLAP]")
	}
	if r.Confidence < LowConfidence {
		tags = append(tags, "[LOW_CONF]")
	}
	if len(tags) == 0 {
		return r.Text
	}
	return r.Text + " " + strings.Join(tags, " ")
}

// srtTime formats seconds as HH:MM:SS,mmm.
func srtTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	m := ms % 3_600_000 / 60_000
	s := ms % 60_000 / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}
