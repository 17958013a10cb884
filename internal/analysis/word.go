package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const (
	// repairEpsilon is the synthetic duration given to zero-length words.
	// 20ms matches Whisper's frame stride.
	repairEpsilon = 0.02

	// overlapNudge separates a word from the end of the word before it.
	overlapNudge = 0.001
)

// Word is a single recognised word with timing and confidence.
type Word struct {
	Text       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"probability"`
	Repaired   bool    `json:"timing_repaired,omitempty"`
}

// Duration returns the length of the word in seconds.
func (w Word) Duration() float64 { return w.End - w.Start }

func (w Word) String() string {
	return fmt.Sprintf("Word(%q, %.3f-%.3f)", w.Text, w.Start, w.End)
}

// WordLike is implemented by engine word types that expose their fields
// through methods rather than as a decoded map.
type WordLike interface {
	WordText() string
	WordStart() float64
	WordEnd() float64
	WordProbability() float64
}

// SegmentLike is implemented by engine segment types.
type SegmentLike interface {
	SegmentText() string
	SegmentStart() float64
	SegmentEnd() float64
	SegmentWords() []WordLike
}

// NormalizeWord converts one engine word entry into a Word. It accepts a
// Word, a WordLike, or a map decoded from JSON (keys word|text, start, end,
// probability|confidence). Entries with no text are rejected.
func NormalizeWord(v any) (Word, bool) {
	var w Word
	switch e := v.(type) {
	case Word:
		w = e
	case *Word:
		if e == nil {
			return Word{}, false
		}
		w = *e
	case WordLike:
		w = Word{
			Text:       e.WordText(),
			Start:      e.WordStart(),
			End:        e.WordEnd(),
			Confidence: e.WordProbability(),
		}
	case map[string]any:
		text, ok := lookupString(e, "word", "text")
		if !ok {
			return Word{}, false
		}
		w.Text = text
		w.Start, _ = lookupFloat(e, "start")
		w.End, _ = lookupFloat(e, "end")
		w.Confidence, _ = lookupFloat(e, "probability", "confidence")
	default:
		return Word{}, false
	}
	w.Text = strings.TrimSpace(w.Text)
	if w.Text == "" {
		return Word{}, false
	}
	return w, true
}

// FlattenSegments turns the engine's hierarchical segment output into a
// flat, start-sorted word list. Segments without word timings contribute a
// single word spanning the segment. Unrecognised shapes are skipped.
func FlattenSegments(segments []any, log zerolog.Logger) []Word {
	var words []Word
	for i, seg := range segments {
		switch s := seg.(type) {
		case SegmentLike:
			sw := s.SegmentWords()
			if len(sw) == 0 {
				words = appendSegmentWord(words, s.SegmentText(), s.SegmentStart(), s.SegmentEnd())
				continue
			}
			for _, wl := range sw {
				if w, ok := NormalizeWord(wl); ok {
					words = append(words, w)
				}
			}
		case map[string]any:
			raw, _ := s["words"].([]any)
			if len(raw) == 0 {
				text, ok := lookupString(s, "text")
				if !ok {
					log.Warn().Int("segment", i).Msg("segment has neither words nor text, skipping")
					continue
				}
				start, _ := lookupFloat(s, "start")
				end, _ := lookupFloat(s, "end")
				words = appendSegmentWord(words, text, start, end)
				continue
			}
			for _, r := range raw {
				if w, ok := NormalizeWord(r); ok {
					words = append(words, w)
				}
			}
		default:
			// A bare word entry at the top level is accepted as-is.
			if w, ok := NormalizeWord(seg); ok {
				words = append(words, w)
				continue
			}
			log.Warn().Int("segment", i).Str("type", fmt.Sprintf("%T", seg)).Msg("unrecognized segment shape, skipping")
		}
	}

	sort.SliceStable(words, func(i, j int) bool { return words[i].Start < words[j].Start })
	log.Debug().Int("words", len(words)).Int("segments", len(segments)).Msg("flattened segments")
	return words
}

func appendSegmentWord(words []Word, text string, start, end float64) []Word {
	text = strings.TrimSpace(text)
	if text == "" {
		return words
	}
	return append(words, Word{Text: text, Start: start, End: end})
}

// ValidateWords returns a cleaned copy of words: non-finite or negative
// timings dropped, zero or inverted durations repaired (or dropped when
// repair is false), sorted by start, and overlaps removed by nudging each
// word past the end of the one before it. A non-finite confidence is
// cleared to 0. The input slice is not modified.
func ValidateWords(words []Word, repair bool, log zerolog.Logger) []Word {
	if len(words) == 0 {
		return []Word{}
	}

	valid := make([]Word, 0, len(words))
	for _, w := range words {
		if !finite(w.Start) || !finite(w.End) {
			log.Debug().Stringer("word", w).Msg("skipping word with non-finite timing")
			continue
		}
		if !finite(w.Confidence) {
			w.Confidence = 0
		}
		if w.Start < 0 || w.End < 0 {
			log.Debug().Stringer("word", w).Msg("skipping word with negative timing")
			continue
		}
		if w.End <= w.Start {
			if !repair {
				log.Debug().Stringer("word", w).Msg("skipping zero-length word (repair disabled)")
				continue
			}
			w.End = w.Start + repairEpsilon
			w.Repaired = true
		}
		valid = append(valid, w)
	}

	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Start < valid[j].Start })

	for i := 1; i < len(valid); i++ {
		prev := valid[i-1]
		if valid[i].Start < prev.End {
			dur := valid[i].Duration()
			valid[i].Start = prev.End + overlapNudge
			if valid[i].End <= valid[i].Start {
				valid[i].End = valid[i].Start + dur
			}
		}
	}

	if dropped := len(words) - len(valid); dropped > 0 {
		log.Debug().Int("input", len(words)).Int("dropped", dropped).Msg("validated word timings")
	}
	return valid
}

// JoinText concatenates word texts with single spaces.
func JoinText(words []Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

func lookupString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

func lookupFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := toFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
