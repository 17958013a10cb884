package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// OverlapStatus reports whether more than one speaker is active in a range.
type OverlapStatus string

const (
	OverlapDetected OverlapStatus = "overlap"
	OverlapSingle   OverlapStatus = "single"
	OverlapUnknown  OverlapStatus = "unknown"
)

// Valid reports whether s is one of the three known statuses.
func (s OverlapStatus) Valid() bool {
	switch s {
	case OverlapDetected, OverlapSingle, OverlapUnknown:
		return true
	}
	return false
}

// Interval is a [Start, End) span in seconds.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Timeline is a sorted list of non-overlapping intervals.
type Timeline struct {
	intervals []Interval
}

// NewTimeline sorts the intervals and merges any that touch or overlap.
// Empty or inverted intervals are dropped.
func NewTimeline(intervals []Interval) Timeline {
	cp := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.End > iv.Start {
			cp = append(cp, iv)
		}
	}
	sort.Slice(cp, func(i, j int) bool { return cp[i].Start < cp[j].Start })

	merged := cp[:0]
	for _, iv := range cp {
		if n := len(merged); n > 0 && iv.Start <= merged[n-1].End {
			merged[n-1].End = max(merged[n-1].End, iv.End)
			continue
		}
		merged = append(merged, iv)
	}
	return Timeline{intervals: merged}
}

// Intervals returns a copy of the timeline's intervals.
func (t Timeline) Intervals() []Interval {
	out := make([]Interval, len(t.intervals))
	copy(out, t.intervals)
	return out
}

// Len returns the number of intervals.
func (t Timeline) Len() int { return len(t.intervals) }

// Intersects reports whether any interval overlaps [start, end).
func (t Timeline) Intersects(start, end float64) bool {
	// First interval whose end is past start; only it can begin before end.
	i := sort.Search(len(t.intervals), func(i int) bool { return t.intervals[i].End > start })
	return i < len(t.intervals) && t.intervals[i].Start < end
}

// Diarizer produces the overlapped-speech timeline of an audio file.
type Diarizer interface {
	Overlaps(ctx context.Context, audioPath string) (Timeline, error)
}

// Availability is the result of probing for a diarization backend.
type Availability struct {
	d      Diarizer
	reason string
}

// Available wraps a ready diarizer.
func Available(d Diarizer) Availability { return Availability{d: d} }

// Unavailable records why diarization cannot run.
func Unavailable(reason string) Availability { return Availability{reason: reason} }

// Diarizer returns the handle and whether it is usable.
func (a Availability) Diarizer() (Diarizer, bool) { return a.d, a.d != nil }

// Reason explains an Unavailable result. Empty when available.
func (a Availability) Reason() string { return a.reason }

// TimeRange is a [Start, End) query range.
type TimeRange struct {
	Start float64
	End   float64
}

// OverlapDetector answers overlap queries for a single job. The diarizer
// runs at most once per audio path and its timeline is cached for the
// detector's lifetime. It never returns errors: failures become unknown.
type OverlapDetector struct {
	avail Availability
	log   zerolog.Logger

	mu    sync.Mutex
	cache map[string]timelineResult
}

type timelineResult struct {
	tl  Timeline
	err error
}

// NewOverlapDetector creates a detector for one job.
func NewOverlapDetector(av Availability, log zerolog.Logger) *OverlapDetector {
	return &OverlapDetector{
		avail: av,
		log:   log.With().Str("component", "overlap").Logger(),
		cache: make(map[string]timelineResult),
	}
}

// DetectBatch returns one status per range. The diarizer is invoked once
// for the whole file.
func (d *OverlapDetector) DetectBatch(ctx context.Context, audioPath string, ranges []TimeRange) []OverlapStatus {
	out := make([]OverlapStatus, len(ranges))
	tl, ok := d.timeline(ctx, audioPath)
	for i, r := range ranges {
		switch {
		case !ok:
			out[i] = OverlapUnknown
		case tl.Intersects(r.Start, r.End):
			out[i] = OverlapDetected
		default:
			out[i] = OverlapSingle
		}
	}
	return out
}

// Detect answers a single range, reusing any cached timeline.
func (d *OverlapDetector) Detect(ctx context.Context, audioPath string, start, end float64) OverlapStatus {
	return d.DetectBatch(ctx, audioPath, []TimeRange{{Start: start, End: end}})[0]
}

func (d *OverlapDetector) timeline(ctx context.Context, audioPath string) (Timeline, bool) {
	if d == nil || audioPath == "" {
		return Timeline{}, false
	}
	diar, ok := d.avail.Diarizer()
	if !ok {
		return Timeline{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	res, cached := d.cache[audioPath]
	if !cached {
		res = d.run(ctx, diar, audioPath)
		d.cache[audioPath] = res
	}
	return res.tl, res.err == nil
}

func (d *OverlapDetector) run(ctx context.Context, diar Diarizer, audioPath string) (res timelineResult) {
	defer func() {
		if r := recover(); r != nil {
			res = timelineResult{err: fmt.Errorf("diarizer panic: %v", r)}
			d.log.Warn().Interface("panic", r).Str("audio", audioPath).Msg("diarization panicked, overlap unknown")
		}
	}()

	tl, err := diar.Overlaps(ctx, audioPath)
	if err != nil {
		d.log.Warn().Err(err).Str("audio", audioPath).Msg("diarization failed, overlap unknown")
		return timelineResult{err: err}
	}
	d.log.Debug().Int("overlaps", tl.Len()).Str("audio", audioPath).Msg("overlap timeline ready")
	return timelineResult{tl: tl}
}
