package transcribe

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"
)

const elevenLabsSTTEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"

// ElevenLabsClient calls the ElevenLabs speech-to-text API. Word timings
// come back in seconds with a logprob per word.
type ElevenLabsClient struct {
	endpoint string
	apiKey   string
	model    string // "scribe_v1" or "scribe_v2"
	keyterms string // comma-separated boost terms
	client   *http.Client
}

type elevenlabsResponse struct {
	LanguageCode        string           `json:"language_code"`
	LanguageProbability float64          `json:"language_probability"`
	Text                string           `json:"text"`
	Words               []elevenlabsWord `json:"words"`
}

type elevenlabsWord struct {
	Text    string   `json:"text"`
	Type    string   `json:"type"`  // "word", "spacing" or "audio_event"
	Start   float64  `json:"start"` // seconds
	End     float64  `json:"end"`
	Logprob *float64 `json:"logprob"`
}

// NewElevenLabsClient creates a new ElevenLabs STT client.
func NewElevenLabsClient(apiKey, model, keyterms string, timeout time.Duration) *ElevenLabsClient {
	return &ElevenLabsClient{
		endpoint: elevenLabsSTTEndpoint,
		apiKey:   apiKey,
		model:    model,
		keyterms: keyterms,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (el *ElevenLabsClient) Name() string { return "elevenlabs" }

// Model returns the configured model identifier.
func (el *ElevenLabsClient) Model() string { return el.model }

// Transcribe requests word timestamps; spacing and audio_event entries are
// dropped and logprob is mapped to a probability.
func (el *ElevenLabsClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	form := newAudioForm("file")
	form.add("model_id", el.model)
	form.add("language_code", languageOrDefault(opts.Language))
	form.add("timestamps_granularity", "word")
	form.addIf("keyterms", el.buildKeyterms(opts.Hotwords))
	form.header.Set("xi-api-key", el.apiKey)

	var result elevenlabsResponse
	if err := postAudio(ctx, el.client, el.Name(), el.endpoint, audioPath, form, &result); err != nil {
		return nil, err
	}

	words := make([]Word, 0, len(result.Words))
	for _, ew := range result.Words {
		if ew.Type != "word" {
			continue
		}
		words = append(words, Word{
			Word:        ew.Text,
			Start:       ew.Start,
			End:         ew.End,
			Probability: logprobToProbability(ew.Logprob),
		})
	}

	var duration float64
	if n := len(words); n > 0 {
		duration = words[n-1].End
	}
	return &Response{
		Text:     result.Text,
		Language: result.LanguageCode,
		Duration: duration,
		Segments: segmentFromWords(result.Text, words),
	}, nil
}

// logprobToProbability converts a natural-log probability. A missing
// value maps to 0, which the analyser treats as unset.
func logprobToProbability(lp *float64) float64 {
	if lp == nil {
		return 0
	}
	return math.Min(1, math.Exp(*lp))
}

// buildKeyterms merges configured keyterms and per-request hotwords into
// the JSON array of {"text": term} objects the API expects.
func (el *ElevenLabsClient) buildKeyterms(hotwords string) string {
	terms := splitTerms(el.keyterms, hotwords)
	if len(terms) == 0 {
		return ""
	}
	type keyterm struct {
		Text string `json:"text"`
	}
	arr := make([]keyterm, len(terms))
	for i, t := range terms {
		arr[i] = keyterm{Text: t}
	}
	b, _ := json.Marshal(arr)
	return string(b)
}
