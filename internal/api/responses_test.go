package api

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ── ParsePagination ──────────────────────────────────────────────────

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{"defaults", "", 50, 0, false},
		{"valid_custom", "limit=25&offset=10", 25, 10, false},
		{"limit_max", "limit=1000", 1000, 0, false},
		{"limit_over_max", "limit=2000", 50, 0, true},
		{"limit_zero", "limit=0", 50, 0, true},
		{"negative_offset", "offset=-5", 50, 0, true},
		{"non_numeric", "limit=abc", 50, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/?"+tt.query, nil)
			p, err := ParsePagination(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if p.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", p.Limit, tt.wantLimit)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", p.Offset, tt.wantOffset)
			}
		})
	}
}

// ── Query helpers ────────────────────────────────────────────────────

func TestQueryBool(t *testing.T) {
	tests := []struct {
		query  string
		want   bool
		wantOK bool
	}{
		{"", false, false},
		{"v=true", true, true},
		{"v=0", false, true},
		{"v=maybe", false, false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/?"+tt.query, nil)
		got, ok := QueryBool(req, "v")
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("QueryBool(%q) = %v, %v; want %v, %v", tt.query, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestQueryTime(t *testing.T) {
	req := httptest.NewRequest("GET", "/?since=2026-03-01T12:00:00Z&bad=yesterday", nil)
	if got, ok := QueryTime(req, "since"); !ok || got.Hour() != 12 {
		t.Errorf("QueryTime(since) = %v, %v", got, ok)
	}
	if _, ok := QueryTime(req, "bad"); ok {
		t.Error("QueryTime(bad) should fail")
	}
	if _, ok := QueryTime(req, "missing"); ok {
		t.Error("QueryTime(missing) should be false")
	}
}

func TestQueryStringList(t *testing.T) {
	req := httptest.NewRequest("GET", "/?status=queued,%20running,,failed", nil)
	got := QueryStringList(req, "status")
	want := []string{"queued", "running", "failed"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("QueryStringList = %v, want %v", got, want)
	}
	if QueryStringList(req, "none") != nil {
		t.Error("missing param should be nil")
	}
}

// ── WriteJSON ────────────────────────────────────────────────────────

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"msg": "ok"})

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body["msg"] != "ok" {
		t.Errorf("body = %v, want msg=ok", body)
	}
}

func TestWriteJSON_Unencodable(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, map[string]float64{"x": math.NaN()})

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Error == "" {
		t.Error("error message missing")
	}
}

// ── WriteError ───────────────────────────────────────────────────────

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, "bad input")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Error != "bad input" {
		t.Errorf("Error = %q, want %q", body.Error, "bad input")
	}
}

// ── DecodeJSON ───────────────────────────────────────────────────────

func TestDecodeJSON(t *testing.T) {
	t.Run("valid_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"test"}`))
		var dst struct {
			Name string `json:"name"`
		}
		if err := DecodeJSON(req, &dst); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dst.Name != "test" {
			t.Errorf("Name = %q, want %q", dst.Name, "test")
		}
	})
	t.Run("nil_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", nil)
		req.Body = nil
		var dst struct{}
		if err := DecodeJSON(req, &dst); err == nil {
			t.Error("expected error for nil body")
		}
	})
	t.Run("malformed_json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{bad`))
		var dst struct{}
		if err := DecodeJSON(req, &dst); err == nil {
			t.Error("expected error for malformed JSON")
		}
	})
}

// ── WriteErrorDetail ─────────────────────────────────────────────────

func TestWriteErrorDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorDetail(rec, http.StatusUnprocessableEntity, "validation failed", "name is required")

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Error != "validation failed" {
		t.Errorf("Error = %q, want %q", body.Error, "validation failed")
	}
	if body.Detail != "name is required" {
		t.Errorf("Detail = %q, want %q", body.Detail, "name is required")
	}
}
