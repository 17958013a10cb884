package output

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
)

var csvHeader = []string{
	"bucket_index", "start_time", "end_time", "duration", "text", "word_count",
	"confidence_score", "speaker_overlap", "word_gap_count", "word_gap_mean",
	"word_gap_var", "words_per_second", "cadence", "gap_deviation_from_global",
}

// WriteCSV renders one row per record.
func WriteCSV(w io.Writer, doc *Document) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	p := doc.precision()
	for _, r := range doc.Records {
		var wps float64
		if r.Duration > 0 {
			wps = float64(r.WordCount) / r.Duration
		}
		row := []string{
			strconv.Itoa(r.BucketIndex),
			ftoa(r.Start, 3),
			ftoa(r.End, 3),
			ftoa(r.Duration, 3),
			r.Text,
			strconv.Itoa(r.WordCount),
			ftoa(r.Confidence, 3),
			string(r.SpeakerOverlap),
			strconv.Itoa(r.GapCount),
			ftoa(r.GapMean, p),
			ftoa(r.GapVar, p+2),
			ftoa(wps, 2),
			string(r.Cadence),
			ftoa(math.Abs(r.GapMean-doc.Context.GlobalMean), p),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ftoa(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
