package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/snarg/talkpace/internal/analysis"
)

// Client calls a pyannote diarization sidecar.
// Implements analysis.Diarizer.
type Client struct {
	baseURL string
	client  *http.Client
}

// result is the sidecar response, also used for sidecar files on disk.
// Overlaps is a pointer so an absent key can be told apart from an empty
// list; when absent, overlaps are derived from the speaker turns.
type result struct {
	Segments []Turn               `json:"segments"`
	Overlaps *[]analysis.Interval `json:"overlaps"`
	Error    string               `json:"error"`
}

func (r result) timeline() (analysis.Timeline, error) {
	if r.Error != "" {
		return analysis.Timeline{}, fmt.Errorf("diarization error: %s", r.Error)
	}
	if r.Overlaps != nil {
		return analysis.NewTimeline(*r.Overlaps), nil
	}
	return analysis.NewTimeline(OverlapsFromTurns(r.Segments)), nil
}

// NewClient creates a sidecar client. baseURL is the service root; audio
// is posted to {baseURL}/diarize.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Health checks GET {baseURL}/health.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("diarize health: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("diarize health: status %d", resp.StatusCode)
	}
	return nil
}

// Overlaps uploads the audio file and returns its overlapped-speech timeline.
func (c *Client) Overlaps(ctx context.Context, audioPath string) (analysis.Timeline, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return analysis.Timeline{}, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return analysis.Timeline{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return analysis.Timeline{}, fmt.Errorf("copy audio data: %w", err)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/diarize", &buf)
	if err != nil {
		return analysis.Timeline{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return analysis.Timeline{}, fmt.Errorf("diarize request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return analysis.Timeline{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return analysis.Timeline{}, fmt.Errorf("diarize API error (status %d): %s", resp.StatusCode, string(body))
	}

	var res result
	if err := json.Unmarshal(body, &res); err != nil {
		return analysis.Timeline{}, fmt.Errorf("decode response: %w", err)
	}
	return res.timeline()
}
