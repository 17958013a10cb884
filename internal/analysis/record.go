package analysis

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Record is the fully analysed form of one bucket.
type Record struct {
	BucketIndex    int           `json:"bucket_index"`
	Start          float64       `json:"start_time"`
	End            float64       `json:"end_time"`
	Duration       float64       `json:"duration"`
	Text           string        `json:"text"`
	WordCount      int           `json:"word_count"`
	GapCount       int           `json:"word_gap_count"`
	Gaps           []float64     `json:"word_gaps"`
	GapMean        float64       `json:"word_gap_mean"`
	GapVar         float64       `json:"word_gap_var"`
	Cadence        Cadence       `json:"cadence"`
	SpeakerOverlap OverlapStatus `json:"speaker_overlap"`
	Confidence     float64       `json:"confidence_score"`
	Words          []Word        `json:"words"`
}

// Map flattens the record into plain values for serializers that do not
// go through struct tags.
func (r Record) Map() map[string]any {
	words := make([]map[string]any, len(r.Words))
	for i, w := range r.Words {
		words[i] = map[string]any{
			"word":        w.Text,
			"start":       w.Start,
			"end":         w.End,
			"probability": w.Confidence,
		}
	}
	gaps := r.Gaps
	if gaps == nil {
		gaps = []float64{}
	}
	return map[string]any{
		"bucket_index":     r.BucketIndex,
		"start_time":       r.Start,
		"end_time":         r.End,
		"duration":         r.Duration,
		"text":             r.Text,
		"word_count":       r.WordCount,
		"word_gap_count":   r.GapCount,
		"word_gaps":        gaps,
		"word_gap_mean":    r.GapMean,
		"word_gap_var":     r.GapVar,
		"cadence":          string(r.Cadence),
		"speaker_overlap":  string(r.SpeakerOverlap),
		"confidence_score": r.Confidence,
		"words":            words,
	}
}

// TimeRange formats the record span as "MM:SS–MM:SS".
func (r Record) TimeRange() string {
	return FormatClock(r.Start) + "–" + FormatClock(r.End)
}

// GapsString formats the gap list. maxGaps <= 0 includes every gap.
func (r Record) GapsString(precision, maxGaps int) string {
	return FormatGaps(r.Gaps, maxGaps, precision)
}

// FormatClock renders seconds as zero-padded MM:SS, truncating fractions.
func FormatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// AverageConfidence averages the confidence of words that report one.
// Words with confidence 0 are treated as unset and excluded.
func AverageConfidence(words []Word) float64 {
	var sum float64
	n := 0
	for _, w := range words {
		if w.Confidence > 0 {
			sum += w.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// AssembleOptions controls overlap lookup during assembly.
type AssembleOptions struct {
	AudioPath     string
	DetectOverlap bool
	Detector      *OverlapDetector
	Log           zerolog.Logger
}

// Assemble builds one record per bucket, in order. Overlap statuses are
// fetched for all buckets in a single detector call. A failure while
// building one record produces a conservative fallback record for that
// bucket and assembly continues.
func Assemble(ctx context.Context, buckets []Bucket, actx AnalysisContext, opts AssembleOptions) []Record {
	if len(buckets) == 0 {
		return []Record{}
	}
	log := opts.Log

	detect := opts.DetectOverlap && opts.AudioPath != "" && opts.Detector != nil
	var statuses []OverlapStatus
	if detect {
		ranges := make([]TimeRange, len(buckets))
		for i, b := range buckets {
			ranges[i] = TimeRange{Start: b.Start, End: b.End}
		}
		statuses = opts.Detector.DetectBatch(ctx, opts.AudioPath, ranges)
		log.Info().Int("buckets", len(buckets)).Msg("batch overlap detection complete")
	}

	records := make([]Record, 0, len(buckets))
	for i, b := range buckets {
		rec, err := assembleOne(i, b, actx, statuses, log)
		if err != nil {
			log.Error().Err(err).Int("bucket", i).Msg("failed to assemble record, using fallback")
			rec = fallbackRecord(i, b)
		}
		records = append(records, rec)
	}

	log.Info().Int("records", len(records)).Msg("assembled records")
	return records
}

func assembleOne(i int, b Bucket, actx AnalysisContext, statuses []OverlapStatus, log zerolog.Logger) (rec Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bucket %d: panic: %v", i, r)
		}
	}()

	if len(b.Words) == 0 {
		return Record{}, fmt.Errorf("bucket %d: no words", i)
	}

	st, cad := AnalyzeBucket(b, actx)

	overlap := OverlapUnknown
	if i < len(statuses) {
		overlap = statuses[i]
	}

	words := make([]Word, len(b.Words))
	copy(words, b.Words)

	rec = Record{
		BucketIndex:    i,
		Start:          b.Start,
		End:            b.End,
		Duration:       b.Duration(),
		Text:           JoinText(words),
		WordCount:      len(words),
		GapCount:       st.Count,
		Gaps:           st.Gaps,
		GapMean:        st.Mean,
		GapVar:         st.Variance,
		Cadence:        cad,
		SpeakerOverlap: overlap,
		Confidence:     AverageConfidence(words),
		Words:          words,
	}
	log.Debug().
		Int("bucket", i).
		Float64("duration", rec.Duration).
		Int("words", rec.WordCount).
		Str("cadence", string(cad)).
		Msg("assembled record")
	return rec, nil
}

func fallbackRecord(i int, b Bucket) Record {
	words := make([]Word, len(b.Words))
	copy(words, b.Words)
	return Record{
		BucketIndex:    i,
		Start:          b.Start,
		End:            b.End,
		Duration:       b.Duration(),
		Text:           JoinText(words),
		WordCount:      len(words),
		Gaps:           []float64{},
		Cadence:        CadenceNormal,
		SpeakerOverlap: OverlapUnknown,
		Words:          words,
	}
}
