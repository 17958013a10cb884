package analysis

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Bucket is a contiguous window of words, roughly BucketSeconds long.
// Start and End come from the words themselves, not from a fixed grid.
type Bucket struct {
	Start float64
	End   float64
	Words []Word
}

// Duration returns the window length in seconds.
func (b Bucket) Duration() float64 { return b.End - b.Start }

// WordCount returns the number of words in the window.
func (b Bucket) WordCount() int { return len(b.Words) }

// Text returns the window's words joined with single spaces.
func (b Bucket) Text() string { return JoinText(b.Words) }

func (b Bucket) String() string {
	return fmt.Sprintf("Bucket(%.1f-%.1fs, %d words)", b.Start, b.End, len(b.Words))
}

// Bucketize partitions chronologically sorted words into windows of about
// seconds ± tolerance without ever splitting a word.
//
// After each word is appended the elapsed time (word end minus window start)
// is checked: at or past seconds+tolerance the window closes unconditionally;
// at or past seconds-tolerance it closes once the word end reaches the
// nominal target. The next window starts at the closing word's end. A short
// trailing window is kept as-is.
func Bucketize(words []Word, seconds, tolerance float64, log zerolog.Logger) []Bucket {
	if len(words) == 0 {
		return []Bucket{}
	}

	minDur := seconds - tolerance
	maxDur := seconds + tolerance

	var buckets []Bucket
	start := words[0].Start
	first := 0

	for i, w := range words {
		elapsed := w.End - start
		closeNow := false
		switch {
		case elapsed >= maxDur:
			closeNow = true
		case elapsed >= minDur && w.End >= start+seconds:
			closeNow = true
		}
		if !closeNow {
			continue
		}

		buckets = append(buckets, newBucket(start, words[first:i+1]))
		start = w.End
		first = i + 1
	}

	if first < len(words) {
		buckets = append(buckets, newBucket(start, words[first:]))
	}

	log.Debug().Int("buckets", len(buckets)).Int("words", len(words)).Msg("bucketized words")
	return buckets
}

func newBucket(start float64, words []Word) Bucket {
	cp := make([]Word, len(words))
	copy(cp, words)
	return Bucket{Start: start, End: cp[len(cp)-1].End, Words: cp}
}

// MergeShortBuckets folds any bucket shorter than minSeconds into the
// bucket that follows it. The final bucket has no successor and is left
// alone.
func MergeShortBuckets(buckets []Bucket, minSeconds float64) []Bucket {
	if len(buckets) <= 1 {
		return buckets
	}

	merged := make([]Bucket, 0, len(buckets))
	for i := 0; i < len(buckets); i++ {
		cur := buckets[i]
		if cur.Duration() < minSeconds && i < len(buckets)-1 {
			next := buckets[i+1]
			words := make([]Word, 0, len(cur.Words)+len(next.Words))
			words = append(words, cur.Words...)
			words = append(words, next.Words...)
			merged = append(merged, Bucket{Start: cur.Start, End: next.End, Words: words})
			i++
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

// DurationViolation describes a non-final bucket outside target ± tolerance.
type DurationViolation struct {
	BucketIndex int     `json:"bucket_index"`
	Duration    float64 `json:"duration"`
	Min         float64 `json:"expected_min"`
	Max         float64 `json:"expected_max"`
}

// BucketStats summarises a bucket list.
type BucketStats struct {
	BucketCount      int     `json:"bucket_count"`
	TotalDuration    float64 `json:"total_duration"`
	AverageDuration  float64 `json:"average_duration"`
	AverageWordCount float64 `json:"average_word_count"`
	MinDuration      float64 `json:"min_duration"`
	MaxDuration      float64 `json:"max_duration"`
}

// BucketReport is the result of ValidateBuckets.
type BucketReport struct {
	Valid      bool                `json:"valid"`
	Violations []DurationViolation `json:"duration_violations"`
	Stats      BucketStats         `json:"statistics"`
}

// ValidateBuckets checks every bucket except the last against
// target ± tolerance. Problems are reported, never returned as errors.
func ValidateBuckets(buckets []Bucket, target, tolerance float64) BucketReport {
	report := BucketReport{Valid: true, Violations: []DurationViolation{}}
	if len(buckets) == 0 {
		return report
	}

	lo, hi := target-tolerance, target+tolerance
	for i, b := range buckets[:len(buckets)-1] {
		d := b.Duration()
		if d < lo || d > hi {
			report.Violations = append(report.Violations, DurationViolation{
				BucketIndex: i,
				Duration:    d,
				Min:         lo,
				Max:         hi,
			})
		}
	}
	report.Valid = len(report.Violations) == 0

	st := BucketStats{
		BucketCount: len(buckets),
		MinDuration: buckets[0].Duration(),
		MaxDuration: buckets[0].Duration(),
	}
	words := 0
	for _, b := range buckets {
		d := b.Duration()
		st.TotalDuration += d
		st.MinDuration = min(st.MinDuration, d)
		st.MaxDuration = max(st.MaxDuration, d)
		words += len(b.Words)
	}
	st.AverageDuration = st.TotalDuration / float64(len(buckets))
	st.AverageWordCount = float64(words) / float64(len(buckets))
	report.Stats = st
	return report
}
