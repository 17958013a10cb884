package analysis

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Cadence classifies a bucket's pacing relative to the whole transcript.
type Cadence string

const (
	CadenceSlow   Cadence = "slow"
	CadenceNormal Cadence = "normal"
	CadenceFast   Cadence = "fast"
)

// Valid reports whether c is one of the three known classifications.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceSlow, CadenceNormal, CadenceFast:
		return true
	}
	return false
}

// Gaps returns the silences between adjacent words, clamped at zero.
func Gaps(words []Word) []float64 {
	if len(words) < 2 {
		return []float64{}
	}
	gaps := make([]float64, len(words)-1)
	for i := 1; i < len(words); i++ {
		gaps[i-1] = max(0, words[i].Start-words[i-1].End)
	}
	return gaps
}

// GapStatistics describes the inter-word gaps of one bucket. Variance is
// the population variance (divided by N).
type GapStatistics struct {
	Gaps     []float64 `json:"gaps"`
	Count    int       `json:"count"`
	Mean     float64   `json:"mean"`
	Variance float64   `json:"variance"`
	StdDev   float64   `json:"std"`
	Min      float64   `json:"min"`
	Max      float64   `json:"max"`
}

// ComputeGapStats returns the gap statistics of b. Buckets with fewer than
// two words have no gaps and yield zero-filled statistics.
func ComputeGapStats(b Bucket) GapStatistics {
	return gapStats(Gaps(b.Words))
}

func gapStats(gaps []float64) GapStatistics {
	if len(gaps) == 0 {
		return GapStatistics{Gaps: []float64{}}
	}
	mean, variance := meanVariance(gaps)
	st := GapStatistics{
		Gaps:     gaps,
		Count:    len(gaps),
		Mean:     mean,
		Variance: variance,
		StdDev:   math.Sqrt(variance),
		Min:      gaps[0],
		Max:      gaps[0],
	}
	for _, g := range gaps[1:] {
		st.Min = min(st.Min, g)
		st.Max = max(st.Max, g)
	}
	return st
}

func meanVariance(xs []float64) (mean, variance float64) {
	n := float64(len(xs))
	for _, x := range xs {
		mean += x
	}
	mean /= n
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= n
	return mean, variance
}

// AnalysisContext holds the transcript-wide gap statistics that every
// bucket is classified against. Build it once, after segmentation is
// complete, and share it read-only.
type AnalysisContext struct {
	GlobalMean     float64 `json:"global_mean_gap"`
	GlobalStdDev   float64 `json:"global_std_gap"`
	GlobalVariance float64 `json:"global_variance_gap"`
	TotalGaps      int     `json:"total_gaps"`
	GapThreshold   float64 `json:"gap_threshold"`
}

// SlowThreshold is the mean gap above which a bucket is slow.
func (c AnalysisContext) SlowThreshold() float64 {
	return c.GlobalMean + c.GapThreshold*c.GlobalStdDev
}

// FastThreshold is the mean gap below which a bucket is fast.
func (c AnalysisContext) FastThreshold() float64 {
	return c.GlobalMean - c.GapThreshold*c.GlobalStdDev
}

// NewAnalysisContext computes global statistics over every gap of every
// bucket. A transcript without gaps yields an all-zero context.
func NewAnalysisContext(buckets []Bucket, threshold float64, log zerolog.Logger) AnalysisContext {
	var all []float64
	for _, b := range buckets {
		all = append(all, Gaps(b.Words)...)
	}

	ctx := AnalysisContext{GapThreshold: threshold}
	if len(all) == 0 {
		log.Debug().Int("buckets", len(buckets)).Msg("no gaps in transcript, using zero context")
		return ctx
	}

	mean, variance := meanVariance(all)
	ctx.GlobalMean = mean
	ctx.GlobalVariance = variance
	ctx.GlobalStdDev = math.Sqrt(variance)
	ctx.TotalGaps = len(all)

	log.Debug().
		Int("gaps", ctx.TotalGaps).
		Float64("mean", mean).
		Float64("std", ctx.GlobalStdDev).
		Msg("analysis context built")
	return ctx
}

// Classify maps a bucket's mean gap onto slow, normal or fast. Both
// thresholds are exclusive and a bucket without gaps is normal.
func Classify(st GapStatistics, ctx AnalysisContext) Cadence {
	if st.Count == 0 {
		return CadenceNormal
	}
	switch {
	case st.Mean > ctx.SlowThreshold():
		return CadenceSlow
	case st.Mean < ctx.FastThreshold():
		return CadenceFast
	default:
		return CadenceNormal
	}
}

// AnalyzeBucket computes b's gap statistics and classifies them.
func AnalyzeBucket(b Bucket, ctx AnalysisContext) (GapStatistics, Cadence) {
	st := ComputeGapStats(b)
	return st, Classify(st, ctx)
}

// FormatGaps renders gaps as a comma separated list with fixed precision.
// maxGaps <= 0 includes every gap.
func FormatGaps(gaps []float64, maxGaps, precision int) string {
	if maxGaps > 0 && len(gaps) > maxGaps {
		gaps = gaps[:maxGaps]
	}
	parts := make([]string, len(gaps))
	for i, g := range gaps {
		parts[i] = strconv.FormatFloat(g, 'f', precision, 64)
	}
	return strings.Join(parts, ", ")
}

// GapAnalysisReport summarises cadence analysis over a whole transcript.
type GapAnalysisReport struct {
	TotalBuckets        int             `json:"total_buckets"`
	BucketsWithGaps     int             `json:"buckets_with_gaps"`
	TotalGaps           int             `json:"total_gaps"`
	CadenceDistribution map[Cadence]int `json:"cadence_distribution"`
	Global              AnalysisContext `json:"global_statistics"`
	QualityScore        float64         `json:"quality_score"`
	Issues              []string        `json:"issues"`
}

// ValidateGapAnalysis cross-checks bucket gaps against ctx and reports the
// cadence distribution. The quality score is the share of buckets that
// carry at least one gap.
func ValidateGapAnalysis(buckets []Bucket, ctx AnalysisContext) GapAnalysisReport {
	r := GapAnalysisReport{
		TotalBuckets: len(buckets),
		CadenceDistribution: map[Cadence]int{
			CadenceSlow:   0,
			CadenceNormal: 0,
			CadenceFast:   0,
		},
		Global: ctx,
		Issues: []string{},
	}

	for i, b := range buckets {
		st, cad := AnalyzeBucket(b, ctx)
		if st.Count != max(0, len(b.Words)-1) {
			r.Issues = append(r.Issues, fmt.Sprintf("Bucket %d: gap count %d for %d words", i, st.Count, len(b.Words)))
		}
		if st.Count > 0 {
			r.BucketsWithGaps++
		}
		r.TotalGaps += st.Count
		r.CadenceDistribution[cad]++
	}

	if r.TotalGaps != ctx.TotalGaps {
		r.Issues = append(r.Issues, fmt.Sprintf("Context gap total %d does not match buckets (%d)", ctx.TotalGaps, r.TotalGaps))
	}
	if len(buckets) > 0 {
		r.QualityScore = float64(r.BucketsWithGaps) / float64(len(buckets))
	}
	return r
}
