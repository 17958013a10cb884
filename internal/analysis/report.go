package analysis

import (
	"fmt"
	"math"
)

// QualityMetrics aggregates a record set for dashboards and tests.
type QualityMetrics struct {
	TotalRecords        int                   `json:"total_records"`
	TotalDuration       float64               `json:"total_duration"`
	TotalWords          int                   `json:"total_words"`
	TotalGaps           int                   `json:"total_gaps"`
	AverageConfidence   float64               `json:"average_confidence"`
	CadenceDistribution map[Cadence]int       `json:"cadence_distribution"`
	OverlapDistribution map[OverlapStatus]int `json:"overlap_distribution"`
	WordsPerSecond      float64               `json:"words_per_second"`
	GapsPerRecord       float64               `json:"gaps_per_record"`
	FlaggedRecords      int                   `json:"flagged_records"`
	FlaggedPercentage   float64               `json:"flagged_percentage"`
	QualityScore        float64               `json:"overall_quality_score"`
}

func (m *QualityMetrics) applyUncertainty(u *UncertaintyReport) {
	if m == nil || u == nil {
		return
	}
	m.FlaggedRecords = u.FlaggedRecords
	m.FlaggedPercentage = u.FlaggedPercentage
	m.QualityScore = u.QualityScore
}

// ValidationReport is the result of ValidateRecords.
type ValidationReport struct {
	Valid       bool            `json:"valid"`
	RecordCount int             `json:"record_count"`
	Errors      []string        `json:"validation_errors"`
	Metrics     *QualityMetrics `json:"quality_metrics,omitempty"`
}

// ValidateRecords checks each record's internal consistency and computes
// quality metrics. Problems are reported, not returned as errors.
func ValidateRecords(records []Record) ValidationReport {
	report := ValidationReport{Valid: true, Errors: []string{}}
	if len(records) == 0 {
		return report
	}

	for i, r := range records {
		if r.Start >= r.End {
			report.Errors = append(report.Errors, fmt.Sprintf("Record %d: Invalid time range", i))
		}
		if r.WordCount != len(r.Words) {
			report.Errors = append(report.Errors, fmt.Sprintf("Record %d: Word count mismatch", i))
		}
		if r.GapCount != len(r.Gaps) || r.GapCount != max(0, r.WordCount-1) {
			report.Errors = append(report.Errors, fmt.Sprintf("Record %d: Gap count mismatch", i))
		}
		if !r.Cadence.Valid() {
			report.Errors = append(report.Errors, fmt.Sprintf("Record %d: Invalid cadence classification", i))
		}
		if !r.SpeakerOverlap.Valid() {
			report.Errors = append(report.Errors, fmt.Sprintf("Record %d: Invalid speaker overlap status", i))
		}
		if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
			report.Errors = append(report.Errors, fmt.Sprintf("Record %d: Invalid confidence score", i))
		}
	}

	m := &QualityMetrics{
		TotalRecords:        len(records),
		CadenceDistribution: cadenceCounts(records),
		OverlapDistribution: overlapCounts(records),
	}
	var confSum float64
	for _, r := range records {
		m.TotalDuration += r.Duration
		m.TotalWords += r.WordCount
		m.TotalGaps += r.GapCount
		confSum += r.Confidence
	}
	m.AverageConfidence = confSum / float64(len(records))
	if m.TotalDuration > 0 {
		m.WordsPerSecond = float64(m.TotalWords) / m.TotalDuration
	}
	m.GapsPerRecord = float64(m.TotalGaps) / float64(len(records))

	report.RecordCount = len(records)
	report.Valid = len(report.Errors) == 0
	report.Metrics = m
	return report
}

func cadenceCounts(records []Record) map[Cadence]int {
	out := map[Cadence]int{CadenceSlow: 0, CadenceNormal: 0, CadenceFast: 0}
	for _, r := range records {
		out[r.Cadence]++
	}
	return out
}

func overlapCounts(records []Record) map[OverlapStatus]int {
	out := map[OverlapStatus]int{OverlapDetected: 0, OverlapSingle: 0, OverlapUnknown: 0}
	for _, r := range records {
		out[r.SpeakerOverlap]++
	}
	return out
}

// Summary is a rounded, presentation-friendly digest of a record set.
type Summary struct {
	RecordCount       int     `json:"record_count"`
	TotalDuration     float64 `json:"total_duration"`
	TotalWords        int     `json:"total_words"`
	TotalGaps         int     `json:"total_gaps"`
	AverageConfidence float64 `json:"average_confidence"`

	Cadence struct {
		Distribution map[Cadence]int     `json:"distribution"`
		Percentages  map[Cadence]float64 `json:"percentages"`
	} `json:"cadence_analysis"`

	Speaker struct {
		Distribution       map[OverlapStatus]int `json:"distribution"`
		OverlapDetected    bool                  `json:"overlap_detected"`
		DetectionAvailable bool                  `json:"detection_available"`
	} `json:"speaker_analysis"`

	Performance struct {
		WordsPerSecond        float64 `json:"words_per_second"`
		AverageBucketDuration float64 `json:"average_bucket_duration"`
		AverageWordsPerBucket float64 `json:"average_words_per_bucket"`
	} `json:"performance"`
}

// Summarize digests records. It returns nil for an empty set. Average
// confidence only counts records that have one.
func Summarize(records []Record) *Summary {
	if len(records) == 0 {
		return nil
	}
	n := float64(len(records))

	s := &Summary{RecordCount: len(records)}
	var confSum float64
	confN := 0
	for _, r := range records {
		s.TotalDuration += r.Duration
		s.TotalWords += r.WordCount
		s.TotalGaps += r.GapCount
		if r.Confidence > 0 {
			confSum += r.Confidence
			confN++
		}
	}

	s.Cadence.Distribution = cadenceCounts(records)
	s.Cadence.Percentages = make(map[Cadence]float64, len(s.Cadence.Distribution))
	for k, v := range s.Cadence.Distribution {
		s.Cadence.Percentages[k] = round(float64(v)/n*100, 1)
	}

	s.Speaker.Distribution = overlapCounts(records)
	s.Speaker.OverlapDetected = s.Speaker.Distribution[OverlapDetected] > 0
	s.Speaker.DetectionAvailable = s.Speaker.Distribution[OverlapUnknown] == 0

	if s.TotalDuration > 0 {
		s.Performance.WordsPerSecond = round(float64(s.TotalWords)/s.TotalDuration, 2)
	}
	s.Performance.AverageBucketDuration = round(s.TotalDuration/n, 2)
	s.Performance.AverageWordsPerBucket = round(float64(s.TotalWords)/n, 1)

	if confN > 0 {
		s.AverageConfidence = round(confSum/float64(confN), 3)
	}
	s.TotalDuration = round(s.TotalDuration, 2)
	return s
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
