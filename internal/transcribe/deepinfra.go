package transcribe

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const deepInfraBaseURL = "https://api.deepinfra.com/v1/inference/"

// DeepInfraClient calls DeepInfra's native inference API for Whisper models.
// Implements the Provider interface.
type DeepInfraClient struct {
	baseURL string
	apiKey  string
	model   string // e.g. "openai/whisper-large-v3-turbo"
	client  *http.Client
}

// deepInfraResponse is the JSON response from the DeepInfra inference API.
type deepInfraResponse struct {
	Text     string             `json:"text"`
	Language string             `json:"language"`
	Duration float64            `json:"duration"`
	Words    []deepInfraWord    `json:"words"`
	Segments []deepInfraSegment `json:"segments"`
}

// deepInfraWord uses "text" where OpenAI uses "word".
type deepInfraWord struct {
	Text        string  `json:"text"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// deepInfraSegment is only used when no word timings come back.
type deepInfraSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewDeepInfraClient creates a new DeepInfra inference client.
func NewDeepInfraClient(apiKey, model string, timeout time.Duration) *DeepInfraClient {
	return &DeepInfraClient{
		baseURL: deepInfraBaseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (di *DeepInfraClient) Name() string { return "deepinfra" }

// Model returns the configured model identifier.
func (di *DeepInfraClient) Model() string { return di.model }

// Transcribe posts to {baseURL}{model}. Without word timings the segment
// text is spread evenly over each segment.
func (di *DeepInfraClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	// DeepInfra uses "audio", not "file"
	form := newAudioForm("audio")
	form.addIf("language", opts.Language)
	form.addIf("initial_prompt", opts.Prompt)
	form.header.Set("Authorization", "Bearer "+di.apiKey)

	var result deepInfraResponse
	if err := postAudio(ctx, di.client, di.Name(), di.baseURL+di.model, audioPath, form, &result); err != nil {
		return nil, err
	}

	var segments []Segment
	switch {
	case len(result.Words) > 0:
		words := make([]Word, len(result.Words))
		for i, dw := range result.Words {
			words[i] = Word{Word: dw.Text, Start: dw.Start, End: dw.End, Probability: dw.Probability}
		}
		segments = segmentFromWords(result.Text, words)
	case len(result.Segments) > 0:
		segments = interpolateSegments(result.Segments)
	}

	return &Response{
		Text:     result.Text,
		Language: result.Language,
		Duration: result.Duration,
		Segments: segments,
	}, nil
}

// interpolateSegments synthesizes word-level entries from segment-level
// timestamps. Each segment's text is split into words and timestamps are
// spread evenly across the segment. Interpolated words carry no
// probability.
func interpolateSegments(segments []deepInfraSegment) []Segment {
	var out []Segment
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		tokens := strings.Fields(text)
		wordDur := (seg.End - seg.Start) / float64(len(tokens))
		s := Segment{Text: text, Start: seg.Start, End: seg.End, Words: make([]Word, len(tokens))}
		for i, tok := range tokens {
			s.Words[i] = Word{
				Word:  tok,
				Start: seg.Start + float64(i)*wordDur,
				End:   seg.Start + float64(i+1)*wordDur,
			}
		}
		out = append(out, s)
	}
	return out
}
