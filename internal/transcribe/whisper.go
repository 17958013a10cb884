package transcribe

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
// Implements the Provider interface.
type WhisperClient struct {
	url    string
	model  string
	client *http.Client
}

// whisperResponse is the verbose_json response. OpenAI returns words at the
// top level; faster-whisper servers nest them under each segment and add
// per-word probability.
type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Words    []whisperWord    `json:"words"`
	Segments []whisperSegment `json:"segments"`
}

type whisperSegment struct {
	Text  string        `json:"text"`
	Start float64       `json:"start"`
	End   float64       `json:"end"`
	Words []whisperWord `json:"words"`
}

type whisperWord struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

func (w whisperWord) toWord() Word {
	return Word{Word: w.Word, Start: w.Start, End: w.End, Probability: w.Probability}
}

// NewWhisperClient creates a new Whisper HTTP client.
func NewWhisperClient(url, model string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (wc *WhisperClient) Name() string { return "whisper" }

// Model returns the configured model identifier.
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe sends an audio file to the Whisper API and returns the result.
// Only non-default parameters are sent, so this works with speaches,
// faster-whisper-server, or any OpenAI-compatible endpoint.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	form := newAudioForm("file")
	form.addIf("model", wc.model)
	form.add("language", languageOrDefault(opts.Language))
	form.add("temperature", strconv.FormatFloat(opts.Temperature, 'f', 2, 64))

	// verbose_json carries both word and segment timings
	form.add("response_format", "verbose_json")
	form.add("timestamp_granularities[]", "word")
	form.add("timestamp_granularities[]", "segment")

	form.addIf("prompt", opts.Prompt)
	form.addIf("hotwords", opts.Hotwords)
	if opts.BeamSize > 0 {
		form.add("beam_size", strconv.Itoa(opts.BeamSize))
	}
	if opts.VadFilter {
		form.add("vad_filter", "true")
	}

	var result whisperResponse
	if err := postAudio(ctx, wc.client, wc.Name(), wc.url, audioPath, form, &result); err != nil {
		return nil, err
	}
	return &Response{
		Text:     result.Text,
		Language: result.Language,
		Duration: result.Duration,
		Segments: whisperSegments(result),
	}, nil
}

// whisperSegments normalises both response layouts into segments with
// nested words. Top-level words are attached to the segment they start in.
func whisperSegments(r whisperResponse) []Segment {
	if len(r.Segments) == 0 {
		words := make([]Word, len(r.Words))
		for i, ww := range r.Words {
			words[i] = ww.toWord()
		}
		return segmentFromWords(r.Text, words)
	}

	segs := make([]Segment, len(r.Segments))
	nested := false
	for i, s := range r.Segments {
		segs[i] = Segment{Text: s.Text, Start: s.Start, End: s.End}
		for _, ww := range s.Words {
			segs[i].Words = append(segs[i].Words, ww.toWord())
			nested = true
		}
	}
	if nested || len(r.Words) == 0 {
		return segs
	}

	si := 0
	for _, ww := range r.Words {
		for si < len(segs)-1 && ww.Start >= segs[si].End {
			si++
		}
		segs[si].Words = append(segs[si].Words, ww.toWord())
	}
	return segs
}
