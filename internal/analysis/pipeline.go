package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Options configures one analysis run.
type Options struct {
	BucketSeconds    float64 `json:"bucket_seconds" yaml:"bucket_seconds"`
	Tolerance        float64 `json:"bucket_tolerance" yaml:"bucket_tolerance"`
	GapThreshold     float64 `json:"gap_threshold" yaml:"gap_threshold"`
	TimingRepair     bool    `json:"timing_repair" yaml:"timing_repair"`
	DetectOverlap    bool    `json:"overlap_detection" yaml:"overlap_detection"`
	MinBucketSeconds float64 `json:"min_bucket_seconds" yaml:"min_bucket_seconds"` // 0 disables merging

	// UncertaintyThreshold is the confidence below which a record is
	// flagged for review. 0 disables the confidence check.
	UncertaintyThreshold float64 `json:"uncertainty_threshold" yaml:"uncertainty_threshold"`
}

// DefaultOptions returns 4s buckets with ±0.25s tolerance and a 1.5σ
// cadence threshold, with timing repair and overlap detection on.
func DefaultOptions() Options {
	return Options{
		BucketSeconds: 4.0,
		Tolerance:     0.25,
		GapThreshold:  1.5,
		TimingRepair:  true,
		DetectOverlap: true,

		UncertaintyThreshold: DefaultUncertaintyThreshold,
	}
}

// Validate rejects option sets that cannot produce buckets.
func (o Options) Validate() error {
	var errs []error
	if o.BucketSeconds <= 0 {
		errs = append(errs, fmt.Errorf("bucket seconds must be positive, got %v", o.BucketSeconds))
	}
	if o.Tolerance < 0 || o.Tolerance >= o.BucketSeconds {
		errs = append(errs, fmt.Errorf("bucket tolerance must be in [0, bucket seconds), got %v", o.Tolerance))
	}
	if o.GapThreshold < 0 {
		errs = append(errs, fmt.Errorf("gap threshold must not be negative, got %v", o.GapThreshold))
	}
	if o.MinBucketSeconds < 0 {
		errs = append(errs, fmt.Errorf("min bucket seconds must not be negative, got %v", o.MinBucketSeconds))
	}
	if o.UncertaintyThreshold < 0 || o.UncertaintyThreshold > 1 {
		errs = append(errs, fmt.Errorf("uncertainty threshold must be in [0, 1], got %v", o.UncertaintyThreshold))
	}
	return errors.Join(errs...)
}

// Segment runs the first stage: word validation, bucketing and the
// optional short-bucket merge. Its output must be complete before
// NewAnalysisContext is called.
func Segment(words []Word, opts Options, log zerolog.Logger) ([]Word, []Bucket) {
	valid := ValidateWords(words, opts.TimingRepair, log)
	buckets := Bucketize(valid, opts.BucketSeconds, opts.Tolerance, log)
	if opts.MinBucketSeconds > 0 {
		buckets = MergeShortBuckets(buckets, opts.MinBucketSeconds)
	}
	return valid, buckets
}

// Result is everything one run produces.
type Result struct {
	Words       []Word             `json:"-"`
	Buckets     []Bucket           `json:"-"`
	Context     AnalysisContext    `json:"context"`
	Records     []Record           `json:"records"`
	BucketCheck BucketReport       `json:"bucket_report"`
	GapReport   GapAnalysisReport  `json:"gap_report"`
	Validation  ValidationReport   `json:"validation"`
	Summary     *Summary           `json:"summary,omitempty"`
	Uncertainty *UncertaintyReport `json:"uncertainty"`
	Elapsed     time.Duration      `json:"-"`
}

// Run executes the full analysis over a word stream: validate, bucketize,
// build the global context, assemble records and validate them. detector
// may be nil, in which case every bucket's overlap status is unknown.
// Only invalid options produce an error.
func Run(ctx context.Context, words []Word, audioPath string, opts Options, detector *OverlapDetector, log zerolog.Logger) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analysis options: %w", err)
	}
	started := time.Now()

	valid, buckets := Segment(words, opts, log)
	actx := NewAnalysisContext(buckets, opts.GapThreshold, log)

	records := Assemble(ctx, buckets, actx, AssembleOptions{
		AudioPath:     audioPath,
		DetectOverlap: opts.DetectOverlap,
		Detector:      detector,
		Log:           log,
	})

	res := &Result{
		Words:       valid,
		Buckets:     buckets,
		Context:     actx,
		Records:     records,
		BucketCheck: ValidateBuckets(buckets, opts.BucketSeconds, opts.Tolerance),
		GapReport:   ValidateGapAnalysis(buckets, actx),
		Validation:  ValidateRecords(records),
		Summary:     Summarize(records),
		Uncertainty: AnalyzeUncertainty(records, opts.UncertaintyThreshold),
	}
	res.Validation.Metrics.applyUncertainty(res.Uncertainty)
	res.Elapsed = time.Since(started)

	if !res.Validation.Valid {
		log.Warn().Strs("violations", res.Validation.Errors).Msg("record validation reported problems")
	}
	log.Info().
		Int("input_words", len(words)).
		Int("words", len(valid)).
		Int("buckets", len(buckets)).
		Int("flagged", res.Uncertainty.FlaggedRecords).
		Dur("elapsed", res.Elapsed).
		Msg("analysis complete")
	return res, nil
}
