package analysis

import (
	"math"
	"regexp"
	"slices"
	"sort"
	"strings"
)

// DefaultUncertaintyThreshold is the record confidence below which a
// record is flagged for low model confidence.
const DefaultUncertaintyThreshold = 0.4

// Confidence bands. Records at or above lowUncertaintyMin are trusted,
// records below highUncertaintyMax are treated as likely wrong.
const (
	lowUncertaintyMin  = 0.6
	highUncertaintyMax = 0.25
)

// UncertaintyLevel grades how far a record's text can be trusted.
type UncertaintyLevel string

const (
	UncertaintyLow     UncertaintyLevel = "low"
	UncertaintyMedium  UncertaintyLevel = "medium"
	UncertaintyHigh    UncertaintyLevel = "high"
	UncertaintyUnknown UncertaintyLevel = "unknown" // engine reported no confidence
)

// Reasons attached to a RecordUncertainty.
const (
	ReasonLowConfidence      = "low_model_confidence"
	ReasonLowConfidenceWords = "low_confidence_words"
	ReasonRepetitive         = "repetitive_text"
	ReasonFillers            = "excessive_fillers"
	ReasonPunctuation        = "unusual_punctuation"
	ReasonIncoherent         = "incoherent_text"
	ReasonVeryShort          = "very_short_segment"
	ReasonVeryLong           = "very_long_segment"
	ReasonTooFast            = "speech_too_fast"
	ReasonTooSlow            = "speech_too_slow"
	ReasonDurationMismatch   = "duration_text_mismatch"
)

var (
	fillerWords       = map[string]bool{"uh": true, "um": true, "er": true, "ah": true, "like": true}
	unusualPunct      = regexp.MustCompile(`\.{2,}|\?{2,}|!{2,}`)
	consonantClusters = regexp.MustCompile(`\b[bcdfghjklmnpqrstvwxz]{4,}\b`)
)

// RecordUncertainty is the uncertainty assessment of one record.
type RecordUncertainty struct {
	BucketIndex        int              `json:"bucket_index"`
	Start              float64          `json:"start_time"`
	End                float64          `json:"end_time"`
	Confidence         float64          `json:"confidence_score"`
	Level              UncertaintyLevel `json:"uncertainty_level"`
	Reasons            []string         `json:"uncertainty_reasons"`
	LowConfidenceWords int              `json:"low_confidence_words"`
	FillerRatio        float64          `json:"filler_ratio"`
	SuggestedReview    bool             `json:"suggested_review"`
}

// ConfidenceStats summarises record confidences. Records without a
// confidence are left out.
type ConfidenceStats struct {
	Scored       int            `json:"scored_records"`
	Mean         float64        `json:"mean_confidence"`
	Median       float64        `json:"median_confidence"`
	StdDev       float64        `json:"std_confidence"`
	Min          float64        `json:"min_confidence"`
	Max          float64        `json:"max_confidence"`
	Distribution map[string]int `json:"confidence_distribution"`
	LowCount     int            `json:"low_confidence_count"`
	MediumCount  int            `json:"medium_confidence_count"`
	HighCount    int            `json:"high_confidence_count"`
}

// UncertaintyReport is the result of AnalyzeUncertainty.
type UncertaintyReport struct {
	Threshold           float64             `json:"uncertainty_threshold"`
	Records             []RecordUncertainty `json:"records"`
	Stats               ConfidenceStats     `json:"confidence_stats"`
	QualityScore        float64             `json:"overall_quality_score"`
	Reliability         float64             `json:"transcription_reliability"`
	EstimatedAccuracy   float64             `json:"estimated_accuracy"`
	ProblematicRatio    float64             `json:"problematic_records_ratio"`
	Consistency         float64             `json:"consistency_score"`
	TemporalConsistency float64             `json:"temporal_consistency"`
	TotalRecords        int                 `json:"total_records"`
	FlaggedRecords      int                 `json:"flagged_records"`
	FlaggedPercentage   float64             `json:"flagged_percentage"`
	Recommendations     []string            `json:"recommendations"`
}

// Flagged returns the records suggested for review, in order.
func (u *UncertaintyReport) Flagged() []RecordUncertainty {
	var out []RecordUncertainty
	for _, r := range u.Records {
		if r.SuggestedReview {
			out = append(out, r)
		}
	}
	return out
}

// AnalyzeUncertainty grades every record by its confidence and by text
// and timing heuristics, then derives transcript-wide confidence
// statistics and quality scores. A record is suggested for review when its
// level is high, its confidence is below threshold, or it has two or more
// reasons.
func AnalyzeUncertainty(records []Record, threshold float64) *UncertaintyReport {
	rep := &UncertaintyReport{
		Threshold:       threshold,
		Records:         make([]RecordUncertainty, len(records)),
		TotalRecords:    len(records),
		Recommendations: []string{},
	}
	var scores []float64
	for i, r := range records {
		ru := assessRecord(r, threshold)
		rep.Records[i] = ru
		if ru.SuggestedReview {
			rep.FlaggedRecords++
		}
		if r.Confidence > 0 {
			scores = append(scores, r.Confidence)
		}
	}
	if len(records) == 0 {
		return rep
	}
	rep.FlaggedPercentage = round(float64(rep.FlaggedRecords)/float64(len(records))*100, 1)
	rep.Stats = confidenceStats(scores)
	rep.scoreQuality(records)
	rep.Recommendations = recommend(rep)
	return rep
}

func assessRecord(r Record, threshold float64) RecordUncertainty {
	ru := RecordUncertainty{
		BucketIndex: r.BucketIndex,
		Start:       r.Start,
		End:         r.End,
		Confidence:  r.Confidence,
		Level:       levelFor(r.Confidence),
		Reasons:     []string{},
	}

	if r.Confidence > 0 && r.Confidence < threshold {
		ru.Reasons = append(ru.Reasons, ReasonLowConfidence)
	}
	scored := 0
	for _, w := range r.Words {
		if w.Confidence > 0 {
			scored++
			if w.Confidence < threshold {
				ru.LowConfidenceWords++
			}
		}
	}
	if scored > 0 && float64(ru.LowConfidenceWords)/float64(scored) > 0.3 {
		ru.Reasons = append(ru.Reasons, ReasonLowConfidenceWords)
	}

	ru.Reasons, ru.FillerRatio = textReasons(r.Text, ru.Reasons)
	ru.Reasons = append(ru.Reasons, pacingReasons(r)...)

	ru.SuggestedReview = ru.Level == UncertaintyHigh ||
		len(ru.Reasons) >= 2 ||
		slices.Contains(ru.Reasons, ReasonLowConfidence)
	return ru
}

func levelFor(conf float64) UncertaintyLevel {
	switch {
	case conf <= 0:
		return UncertaintyUnknown
	case conf >= lowUncertaintyMin:
		return UncertaintyLow
	case conf >= highUncertaintyMax:
		return UncertaintyMedium
	default:
		return UncertaintyHigh
	}
}

func textReasons(text string, reasons []string) ([]string, float64) {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return reasons, 0
	}

	for i := 1; i < len(tokens); i++ {
		if prev := trimPunct(tokens[i-1]); prev != "" && prev == trimPunct(tokens[i]) {
			reasons = append(reasons, ReasonRepetitive)
			break
		}
	}

	fillers := 0
	for i, tok := range tokens {
		t := trimPunct(tok)
		if fillerWords[t] || (t == "know" && i > 0 && trimPunct(tokens[i-1]) == "you") {
			fillers++
		}
	}
	ratio := float64(fillers) / float64(len(tokens))
	if ratio > 0.2 {
		reasons = append(reasons, ReasonFillers)
	}

	if unusualPunct.MatchString(text) {
		reasons = append(reasons, ReasonPunctuation)
	}
	if consonantClusters.MatchString(strings.ToLower(text)) {
		reasons = append(reasons, ReasonIncoherent)
	}

	switch {
	case len(tokens) < 2:
		reasons = append(reasons, ReasonVeryShort)
	case len(tokens) > 50:
		reasons = append(reasons, ReasonVeryLong)
	}
	return reasons, round(ratio, 3)
}

func trimPunct(s string) string {
	return strings.Trim(s, ".,!?;:\"'()")
}

// pacingReasons flags word rates outside what speech can plausibly reach.
// Typical speech runs 2-4 words per second.
func pacingReasons(r Record) []string {
	var out []string
	dur := r.End - r.Start
	if dur > 0 {
		wps := float64(r.WordCount) / dur
		switch {
		case wps > 6:
			out = append(out, ReasonTooFast)
		case wps < 0.5 && r.WordCount > 1:
			out = append(out, ReasonTooSlow)
		}
	}
	if dur < 1 && r.WordCount > 10 {
		out = append(out, ReasonDurationMismatch)
	}
	return out
}

func confidenceStats(scores []float64) ConfidenceStats {
	st := ConfidenceStats{
		Scored:       len(scores),
		Distribution: map[string]int{"very_low": 0, "low": 0, "medium": 0, "high": 0},
	}
	if len(scores) == 0 {
		return st
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	n := len(sorted)
	st.Min, st.Max = sorted[0], sorted[n-1]
	if n%2 == 1 {
		st.Median = sorted[n/2]
	} else {
		st.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	var sum float64
	for _, s := range sorted {
		sum += s
	}
	st.Mean = sum / float64(n)
	var sq float64
	for _, s := range sorted {
		d := s - st.Mean
		sq += d * d
	}
	st.StdDev = math.Sqrt(sq / float64(n))

	for _, s := range sorted {
		switch {
		case s < 0.15:
			st.Distribution["very_low"]++
		case s < DefaultUncertaintyThreshold:
			st.Distribution["low"]++
		case s < lowUncertaintyMin:
			st.Distribution["medium"]++
		default:
			st.Distribution["high"]++
		}
		switch levelFor(s) {
		case UncertaintyHigh:
			st.LowCount++
		case UncertaintyMedium:
			st.MediumCount++
		default:
			st.HighCount++
		}
	}

	st.Mean = round(st.Mean, 4)
	st.Median = round(st.Median, 4)
	st.StdDev = round(st.StdDev, 4)
	return st
}

func (u *UncertaintyReport) scoreQuality(records []Record) {
	problematic := 0
	for _, r := range u.Records {
		if r.Level == UncertaintyMedium || r.Level == UncertaintyHigh || r.SuggestedReview {
			problematic++
		}
	}
	n := float64(len(u.Records))
	u.ProblematicRatio = round(float64(problematic)/n, 3)

	st := u.Stats
	u.Consistency = 1
	u.TemporalConsistency = temporalConsistency(records)
	if st.Scored > 0 {
		u.Reliability = 1 - float64(st.LowCount)/float64(st.Scored)
		switch {
		case st.Mean >= lowUncertaintyMin:
			u.EstimatedAccuracy = 0.95
		case st.Mean >= DefaultUncertaintyThreshold:
			u.EstimatedAccuracy = 0.90
		case st.Mean >= highUncertaintyMax:
			u.EstimatedAccuracy = 0.80
		default:
			u.EstimatedAccuracy = 0.70
		}
		// Confidences live in [0,1], so a standard deviation of 0.5 is
		// the worst case.
		if st.Scored > 1 {
			u.Consistency = math.Max(0, 1-st.StdDev/0.5)
		}
	}

	u.QualityScore = round(u.Reliability*0.3+
		u.EstimatedAccuracy*0.3+
		(1-u.ProblematicRatio)*0.2+
		u.Consistency*0.1+
		u.TemporalConsistency*0.1, 3)
	u.Reliability = round(u.Reliability, 3)
	u.Consistency = round(u.Consistency, 3)
}

// temporalConsistency is the share of adjacent record pairs with neither
// an overlap nor a gap longer than 5 seconds.
func temporalConsistency(records []Record) float64 {
	if len(records) < 2 {
		return 1
	}
	issues := 0
	for i := 1; i < len(records); i++ {
		gap := records[i].Start - records[i-1].End
		if gap > 5 || gap < 0 {
			issues++
		}
	}
	return round(1-float64(issues)/float64(len(records)-1), 3)
}

func recommend(u *UncertaintyReport) []string {
	var out []string
	if u.Stats.Scored == 0 {
		out = append(out, "No confidence scores reported; only text and timing heuristics were applied")
	} else if u.QualityScore < 0.7 {
		out = append(out, "Consider a higher quality audio source or different model settings")
	}
	if u.ProblematicRatio > 0.3 {
		out = append(out, "High number of problematic records detected, manual review recommended")
	}

	counts := map[string]int{}
	for _, r := range u.Records {
		for _, reason := range r.Reasons {
			counts[reason]++
		}
	}
	n := float64(u.TotalRecords)
	if float64(counts[ReasonLowConfidence]) > n*0.2 {
		out = append(out, "Consider a larger model for better confidence")
	}
	if counts[ReasonRepetitive] > 0 {
		out = append(out, "Repetitive text detected, may indicate model hallucination")
	}
	if counts[ReasonFillers] > 0 {
		out = append(out, "Excessive filler words detected, consider post-processing cleanup")
	}
	if u.Stats.Scored > 1 && u.Consistency < 0.8 {
		out = append(out, "Low confidence consistency, check for audio quality variations")
	}
	if u.TemporalConsistency < 0.9 {
		out = append(out, "Temporal inconsistencies detected, check audio segmentation")
	}

	if len(out) == 0 {
		if u.QualityScore < 0.9 {
			out = append(out, "Good quality transcription with minor areas for improvement")
		} else {
			out = append(out, "High quality transcription, minimal issues detected")
		}
	}
	return out
}
