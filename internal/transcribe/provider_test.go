package transcribe

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempAudio(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(p, []byte("RIFF0000WAVE"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func jsonServer(t *testing.T, check func(*http.Request), body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ── NewProvider ──────────────────────────────────────────────────────

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     string
		wantErr  bool
	}{
		{"", "whisper", false},
		{"whisper", "whisper", false},
		{"elevenlabs", "elevenlabs", false},
		{"deepinfra", "deepinfra", false},
		{"vosk", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(ProviderConfig{Provider: tt.provider, Timeout: time.Second})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.want)
			}
		})
	}
}

// ── Whisper ──────────────────────────────────────────────────────────

func TestWhisper_NestedWords(t *testing.T) {
	srv := jsonServer(t, func(r *http.Request) {
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language = %q, want default en", got)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
	}, map[string]any{
		"text": "one two", "language": "en", "duration": 2.0,
		"segments": []map[string]any{{
			"text": "one two", "start": 0.0, "end": 1.0,
			"words": []map[string]any{
				{"word": "one", "start": 0.0, "end": 0.4, "probability": 0.9},
				{"word": "two", "start": 0.5, "end": 1.0, "probability": 0.8},
			},
		}},
	})

	wc := NewWhisperClient(srv.URL, "large-v3", 5*time.Second)
	resp, err := wc.Transcribe(context.Background(), writeTempAudio(t), TranscribeOpts{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.WordCount() != 2 {
		t.Fatalf("WordCount = %d, want 2", resp.WordCount())
	}
	if w := resp.Segments[0].Words[1]; w.Word != "two" || w.Probability != 0.8 {
		t.Errorf("word = %+v", w)
	}
}

func TestWhisper_TopLevelWords(t *testing.T) {
	srv := jsonServer(t, nil, map[string]any{
		"text": "a b c",
		"segments": []map[string]any{
			{"text": "a b", "start": 0.0, "end": 1.0},
			{"text": "c", "start": 1.0, "end": 2.0},
		},
		"words": []map[string]any{
			{"word": "a", "start": 0.0, "end": 0.4},
			{"word": "b", "start": 0.5, "end": 0.9},
			{"word": "c", "start": 1.2, "end": 1.8},
		},
	})

	resp, err := NewWhisperClient(srv.URL, "", time.Second).Transcribe(context.Background(), writeTempAudio(t), TranscribeOpts{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(resp.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(resp.Segments))
	}
	if len(resp.Segments[0].Words) != 2 || len(resp.Segments[1].Words) != 1 {
		t.Errorf("words per segment = %d/%d, want 2/1",
			len(resp.Segments[0].Words), len(resp.Segments[1].Words))
	}
}

func TestWhisper_WordsOnly(t *testing.T) {
	srv := jsonServer(t, nil, map[string]any{
		"text":  "hi there",
		"words": []map[string]any{{"word": "hi", "start": 0.1, "end": 0.3}, {"word": "there", "start": 0.4, "end": 0.9}},
	})
	resp, err := NewWhisperClient(srv.URL, "", time.Second).Transcribe(context.Background(), writeTempAudio(t), TranscribeOpts{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(resp.Segments) != 1 || resp.Segments[0].Start != 0.1 || resp.Segments[0].End != 0.9 {
		t.Errorf("segments = %+v", resp.Segments)
	}
}

func TestWhisper_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewWhisperClient(srv.URL, "", time.Second).Transcribe(context.Background(), writeTempAudio(t), TranscribeOpts{})
	if err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestWhisper_MissingFile(t *testing.T) {
	_, err := NewWhisperClient("http://127.0.0.1:0", "", time.Second).Transcribe(context.Background(), "/nonexistent.wav", TranscribeOpts{})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

// ── ElevenLabs ───────────────────────────────────────────────────────

func TestElevenLabs_Transcribe(t *testing.T) {
	lp := -0.1
	srv := jsonServer(t, func(r *http.Request) {
		if r.Header.Get("xi-api-key") != "secret" {
			t.Errorf("xi-api-key = %q", r.Header.Get("xi-api-key"))
		}
		if got := r.FormValue("keyterms"); got != `[{"text":"alpha"},{"text":"beta"}]` {
			t.Errorf("keyterms = %q", got)
		}
	}, map[string]any{
		"language_code": "en",
		"text":          "hello there",
		"words": []map[string]any{
			{"text": "hello", "type": "word", "start": 0.0, "end": 0.5, "logprob": lp},
			{"text": " ", "type": "spacing", "start": 0.5, "end": 0.6},
			{"text": "there", "type": "word", "start": 0.6, "end": 1.1},
		},
	})

	el := NewElevenLabsClient("secret", "scribe_v1", "alpha", time.Second)
	el.endpoint = srv.URL
	resp, err := el.Transcribe(context.Background(), writeTempAudio(t), TranscribeOpts{Hotwords: " beta ,"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.WordCount() != 2 {
		t.Fatalf("WordCount = %d, want 2 (spacing filtered)", resp.WordCount())
	}
	words := resp.Segments[0].Words
	if math.Abs(words[0].Probability-math.Exp(lp)) > 1e-9 {
		t.Errorf("probability = %v, want exp(%v)", words[0].Probability, lp)
	}
	if words[1].Probability != 0 {
		t.Errorf("missing logprob probability = %v, want 0", words[1].Probability)
	}
	if resp.Duration != 1.1 {
		t.Errorf("Duration = %v, want 1.1", resp.Duration)
	}
}

func TestLogprobToProbability(t *testing.T) {
	zero, pos := 0.0, 0.5
	if got := logprobToProbability(nil); got != 0 {
		t.Errorf("nil = %v, want 0", got)
	}
	if got := logprobToProbability(&zero); got != 1 {
		t.Errorf("0 = %v, want 1", got)
	}
	if got := logprobToProbability(&pos); got != 1 {
		t.Errorf("positive logprob = %v, want clamp to 1", got)
	}
}

// ── DeepInfra ────────────────────────────────────────────────────────

func TestDeepInfra_Words(t *testing.T) {
	srv := jsonServer(t, func(r *http.Request) {
		if r.URL.Path != "/openai/whisper-large-v3-turbo" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if _, _, err := r.FormFile("audio"); err != nil {
			t.Errorf("missing audio part: %v", err)
		}
	}, map[string]any{
		"text":  "go now",
		"words": []map[string]any{{"text": "go", "start": 0.0, "end": 0.3, "probability": 0.7}, {"text": "now", "start": 0.4, "end": 0.8}},
	})

	di := NewDeepInfraClient("key", "openai/whisper-large-v3-turbo", time.Second)
	di.baseURL = srv.URL + "/"
	resp, err := di.Transcribe(context.Background(), writeTempAudio(t), TranscribeOpts{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.WordCount() != 2 || resp.Segments[0].Words[0].Word != "go" {
		t.Errorf("segments = %+v", resp.Segments)
	}
}

func TestDeepInfra_SegmentInterpolation(t *testing.T) {
	srv := jsonServer(t, nil, map[string]any{
		"text": "one two three four",
		"segments": []map[string]any{
			{"text": " one two ", "start": 0.0, "end": 1.0},
			{"text": "   ", "start": 1.0, "end": 1.5},
			{"text": "three four", "start": 2.0, "end": 3.0},
		},
	})

	di := NewDeepInfraClient("key", "m", time.Second)
	di.baseURL = srv.URL + "/"
	resp, err := di.Transcribe(context.Background(), writeTempAudio(t), TranscribeOpts{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(resp.Segments) != 2 {
		t.Fatalf("segments = %d, want 2 (blank skipped)", len(resp.Segments))
	}
	w := resp.Segments[1].Words
	if w[0].Start != 2.0 || w[0].End != 2.5 || w[1].Start != 2.5 || w[1].End != 3.0 {
		t.Errorf("interpolated = %+v", w)
	}
	if w[0].Probability != 0 {
		t.Errorf("interpolated probability = %v, want 0", w[0].Probability)
	}
}
