package diarize

import (
	"sort"

	"github.com/snarg/talkpace/internal/analysis"
)

// Turn is one speaker's contiguous speech span.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// OverlapsFromTurns returns the spans where two or more distinct speakers
// talk at once. A speaker's own overlapping turns count once.
func OverlapsFromTurns(turns []Turn) []analysis.Interval {
	bySpeaker := make(map[string][]analysis.Interval)
	for _, t := range turns {
		bySpeaker[t.Speaker] = append(bySpeaker[t.Speaker], analysis.Interval{Start: t.Start, End: t.End})
	}

	type edge struct {
		at    float64
		delta int
	}
	var edges []edge
	for _, ivs := range bySpeaker {
		for _, iv := range analysis.NewTimeline(ivs).Intervals() {
			edges = append(edges, edge{iv.Start, +1}, edge{iv.End, -1})
		}
	}
	// Ends sort before starts at the same instant: touching turns do not overlap.
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at != edges[j].at {
			return edges[i].at < edges[j].at
		}
		return edges[i].delta < edges[j].delta
	})

	var out []analysis.Interval
	active := 0
	var openAt float64
	for _, e := range edges {
		prev := active
		active += e.delta
		switch {
		case prev < 2 && active >= 2:
			openAt = e.at
		case prev >= 2 && active < 2:
			if e.at > openAt {
				out = append(out, analysis.Interval{Start: openAt, End: e.at})
			}
		}
	}
	return out
}
