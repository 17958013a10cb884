package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestSplitTerms(t *testing.T) {
	got := splitTerms(" alpha, ,beta", "", "gamma,")
	want := []string{"alpha", "beta", "gamma"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitTerms = %v, want %v", got, want)
	}
	if got := splitTerms("", " , "); got != nil {
		t.Errorf("splitTerms(blank) = %v, want nil", got)
	}
}

func TestPostAudio_FieldsAndHeaders(t *testing.T) {
	var grans []string
	srv := jsonServer(t, func(r *http.Request) {
		grans = r.MultipartForm.Value["timestamp_granularities[]"]
		if r.Header.Get("X-Test") != "yes" {
			t.Errorf("X-Test = %q, want yes", r.Header.Get("X-Test"))
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
	}, map[string]string{"text": "ok"})

	form := newAudioForm("file")
	form.add("timestamp_granularities[]", "word")
	form.add("timestamp_granularities[]", "segment")
	form.addIf("prompt", "")
	form.header.Set("X-Test", "yes")

	var out struct{ Text string }
	if err := postAudio(context.Background(), srv.Client(), "test", srv.URL, writeTempAudio(t), form, &out); err != nil {
		t.Fatalf("postAudio: %v", err)
	}
	if out.Text != "ok" {
		t.Errorf("Text = %q, want ok", out.Text)
	}
	if !reflect.DeepEqual(grans, []string{"word", "segment"}) {
		t.Errorf("repeated field = %v, want [word segment]", grans)
	}
}

func TestPostAudio_ErrorBodyTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(strings.Repeat("x", 2000)))
	}))
	defer srv.Close()

	var out struct{}
	err := postAudio(context.Background(), srv.Client(), "test", srv.URL, writeTempAudio(t), newAudioForm("file"), &out)
	if err == nil {
		t.Fatal("expected error for 502")
	}
	msg := err.Error()
	if !strings.Contains(msg, "test API error (status 502)") {
		t.Errorf("error = %q", msg)
	}
	if len(msg) > maxErrorBody+100 {
		t.Errorf("error length = %d, want body truncated", len(msg))
	}
}
