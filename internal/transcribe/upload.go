package transcribe

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
)

// maxErrorBody caps how much of a failed response is quoted in the error.
const maxErrorBody = 512

// audioForm is a multipart upload of one audio file plus text fields.
// Fields keep their order and may repeat.
type audioForm struct {
	fileField string
	fields    [][2]string
	header    http.Header
}

func newAudioForm(fileField string) *audioForm {
	return &audioForm{fileField: fileField, header: http.Header{}}
}

func (f *audioForm) add(key, value string) {
	f.fields = append(f.fields, [2]string{key, value})
}

// addIf adds the field only when value is non-empty.
func (f *audioForm) addIf(key, value string) {
	if value != "" {
		f.add(key, value)
	}
}

func (f *audioForm) encode(audioPath string) (*bytes.Buffer, string, error) {
	src, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio file: %w", err)
	}
	defer src.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(f.fileField, filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return nil, "", fmt.Errorf("copy audio data: %w", err)
	}
	for _, kv := range f.fields {
		if err := w.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", kv[0], err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// postAudio uploads the form to url and decodes a 200 JSON response into
// out. Other statuses become errors quoting the provider and the body.
func postAudio(ctx context.Context, client *http.Client, provider, url, audioPath string, form *audioForm, out any) error {
	body, contentType, err := form.encode(audioPath)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range form.header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody] + "..."
		}
		return fmt.Errorf("%s API error (status %d): %s", provider, resp.StatusCode, msg)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", provider, err)
	}
	return nil
}

// splitTerms splits comma-separated lists, dropping blanks.
func splitTerms(lists ...string) []string {
	var terms []string
	for _, list := range lists {
		for _, t := range strings.Split(list, ",") {
			if t = strings.TrimSpace(t); t != "" {
				terms = append(terms, t)
			}
		}
	}
	return terms
}

// languageOrDefault falls back to English, which every backend accepts.
func languageOrDefault(lang string) string {
	if lang == "" {
		return "en"
	}
	return lang
}
