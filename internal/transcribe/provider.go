package transcribe

import (
	"context"
	"fmt"
	"time"

	"github.com/snarg/talkpace/internal/analysis"
)

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error)
	Name() string  // "whisper", "elevenlabs", "deepinfra"
	Model() string // model identifier for DB/logs
}

// TranscribeOpts are per-request options. Zero-value fields are omitted
// from requests so servers fall back to their own defaults.
type TranscribeOpts struct {
	Temperature float64
	Language    string
	Prompt      string // initial_prompt / domain vocabulary
	Hotwords    string // vocabulary boost terms
	BeamSize    int    // 0 = server default
	VadFilter   bool
}

// Response is the common transcription result from any provider.
type Response struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"` // audio duration in seconds
	Segments []Segment `json:"segments"`
}

// Segment is a span of recognised speech. Words may be empty when the
// provider only reports segment timings.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words,omitempty"`
}

// Word is a timestamped word from any STT provider. Probability is 0 when
// the provider does not report one.
type Word struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

func (w Word) WordText() string         { return w.Word }
func (w Word) WordStart() float64       { return w.Start }
func (w Word) WordEnd() float64         { return w.End }
func (w Word) WordProbability() float64 { return w.Probability }

func (s Segment) SegmentText() string   { return s.Text }
func (s Segment) SegmentStart() float64 { return s.Start }
func (s Segment) SegmentEnd() float64   { return s.End }

func (s Segment) SegmentWords() []analysis.WordLike {
	out := make([]analysis.WordLike, len(s.Words))
	for i, w := range s.Words {
		out[i] = w
	}
	return out
}

// AnalysisSegments exposes the segments in the shape FlattenSegments takes.
func (r *Response) AnalysisSegments() []any {
	out := make([]any, len(r.Segments))
	for i, s := range r.Segments {
		out[i] = s
	}
	return out
}

// WordCount returns the number of timed words across all segments.
func (r *Response) WordCount() int {
	n := 0
	for _, s := range r.Segments {
		n += len(s.Words)
	}
	return n
}

// ProviderConfig selects and configures a backend.
type ProviderConfig struct {
	Provider string // whisper, elevenlabs, deepinfra
	Timeout  time.Duration

	WhisperURL   string
	WhisperModel string

	ElevenLabsAPIKey   string
	ElevenLabsModel    string
	ElevenLabsKeyterms string

	DeepInfraAPIKey string
	DeepInfraModel  string
}

// NewProvider builds the configured backend.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "whisper":
		return NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, cfg.Timeout), nil
	case "elevenlabs":
		return NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsModel, cfg.ElevenLabsKeyterms, cfg.Timeout), nil
	case "deepinfra":
		return NewDeepInfraClient(cfg.DeepInfraAPIKey, cfg.DeepInfraModel, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown STT provider %q", cfg.Provider)
}

// segmentFromWords wraps a flat word list in a single segment.
func segmentFromWords(text string, words []Word) []Segment {
	if len(words) == 0 {
		return nil
	}
	return []Segment{{
		Text:  text,
		Start: words[0].Start,
		End:   words[len(words)-1].End,
		Words: words,
	}}
}
