package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/talkpace/internal/analysis"
	"github.com/snarg/talkpace/internal/config"
	"github.com/snarg/talkpace/internal/database"
	"github.com/snarg/talkpace/internal/events"
	"github.com/snarg/talkpace/internal/storage"
	"github.com/snarg/talkpace/internal/transcribe"
)

type fakeQueue struct {
	store *database.MemStore
	mu    sync.Mutex
	jobs  []transcribe.Job
	full  bool
	err   error
}

func (q *fakeQueue) Submit(ctx context.Context, j transcribe.Job) (*database.Job, error) {
	if q.full {
		return nil, transcribe.ErrQueueFull
	}
	if q.err != nil {
		return nil, q.err
	}
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()
	row := &database.Job{ID: j.ID, Status: database.JobQueued, Source: j.Source, Filename: j.Filename, AudioPath: j.AudioPath, CreatedAt: time.Now()}
	if err := q.store.InsertJob(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

func (q *fakeQueue) Stats() transcribe.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return transcribe.QueueStats{Pending: len(q.jobs)}
}

type testServer struct {
	router    http.Handler
	store     *database.MemStore
	queue     *fakeQueue
	artifacts *storage.LocalStore
	bus       *events.Bus
	cfg       *config.Config
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	store := database.NewMemStore()
	ts := &testServer{
		store:     store,
		queue:     &fakeQueue{store: store},
		artifacts: storage.NewLocalStore(t.TempDir()),
		bus:       events.NewBus(16),
		cfg: &config.Config{
			AudioDir:        t.TempDir(),
			MaxUploadMB:     1,
			AuthToken:       token,
			BucketSeconds:   4,
			BucketTolerance: 0.25,
			GapThreshold:    1.5,
			TimingRepair:    true,
		},
	}
	ts.router = NewRouter(ServerOptions{
		Config:      ts.cfg,
		Store:       store,
		Pool:        ts.queue,
		Artifacts:   ts.artifacts,
		Events:      ts.bus,
		Diarization: analysis.Unavailable("disabled"),
		Version:     "test",
		StartTime:   time.Now(),
		Log:         zerolog.Nop(),
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

// completedJob stores a finished job with one record and a markdown artifact.
func (ts *testServer) completedJob(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	if err := ts.store.InsertJob(ctx, &database.Job{ID: id, Status: database.JobQueued, Filename: "talk.wav", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	key := id + "/transcript.md"
	if err := ts.artifacts.Save(ctx, key, []byte("# talk\n"), "text/markdown"); err != nil {
		t.Fatal(err)
	}
	err := ts.store.CompleteJob(ctx, id, database.JobCompletion{
		Records: []analysis.Record{{
			BucketIndex: 0, Start: 0, End: 1, Duration: 1, Text: "hi there",
			WordCount: 2, GapCount: 1, Gaps: []float64{0.1},
			Cadence: analysis.CadenceNormal, SpeakerOverlap: analysis.OverlapUnknown,
		}},
		Validation: analysis.ValidationReport{Valid: true},
		Artifacts:  map[string]string{"md": key},
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

// ── health ───────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "secret")
	rec := ts.do(httptest.NewRequest("GET", "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (health needs no auth)", rec.Code)
	}
	var body HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "healthy" || body.Version != "test" {
		t.Errorf("body = %+v", body)
	}
	if body.Checks["database"] != "ok" || body.Checks["diarization"] != "unavailable" || body.Checks["storage"] != "local" {
		t.Errorf("checks = %v", body.Checks)
	}
	if body.Queue == nil {
		t.Error("queue stats missing")
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, "secret")
	rec := ts.do(httptest.NewRequest("GET", "/api/v1/jobs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	req := httptest.NewRequest("GET", "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer secret")
	if rec := ts.do(req); rec.Code != http.StatusOK {
		t.Errorf("status with token = %d, want 200", rec.Code)
	}
}

// ── analyze ──────────────────────────────────────────────────────────

const analyzeBody = `{
	"title": "standup",
	"segments": [
		{"text": "hello there friend", "start": 0, "end": 4.0,
		 "words": [{"word": "hello", "start": 0, "end": 0.5, "probability": 0.9},
		           {"word": "there", "start": 0.6, "end": 1.2, "probability": 0.7},
		           {"word": "friend", "start": 3.5, "end": 4.0, "probability": 0.8}]},
		{"text": "general kenobi", "start": 4.5, "end": 6.0}
	],
	"metadata": {"Source File": "standup.wav"}
}`

func TestAnalyze_JSON(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(httptest.NewRequest("POST", "/api/v1/analyze", strings.NewReader(analyzeBody)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var body struct {
		Records    []analysis.Record         `json:"records"`
		Validation analysis.ValidationReport `json:"validation"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(body.Records))
	}
	for _, r := range body.Records {
		if r.SpeakerOverlap != analysis.OverlapUnknown {
			t.Errorf("record %d overlap = %s, want unknown without audio", r.BucketIndex, r.SpeakerOverlap)
		}
	}
	if !body.Validation.Valid {
		t.Errorf("validation errors: %v", body.Validation.Errors)
	}
}

func TestAnalyze_NonFiniteTimings(t *testing.T) {
	ts := newTestServer(t, "")
	body := `{"words":[
		{"word":"a","start":0,"end":0.5},
		{"word":"b","start":"NaN","end":"NaN"},
		{"word":"c","start":0.6,"end":"Inf"}
	]}`
	rec := ts.do(httptest.NewRequest("POST", "/api/v1/analyze", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got struct {
		Records     []analysis.Record           `json:"records"`
		Uncertainty *analysis.UncertaintyReport `json:"uncertainty"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v (body %q)", err, rec.Body)
	}
	if len(got.Records) != 1 || got.Records[0].Text != "a" {
		t.Errorf("records = %+v, want only the finite word", got.Records)
	}
	if got.Uncertainty == nil || got.Uncertainty.TotalRecords != 1 {
		t.Errorf("uncertainty = %+v", got.Uncertainty)
	}
}

func TestAnalyze_Markdown(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(httptest.NewRequest("POST", "/api/v1/analyze?format=md", strings.NewReader(analyzeBody)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "standup") {
		t.Error("markdown missing title")
	}
}

func TestAnalyze_BadRequests(t *testing.T) {
	ts := newTestServer(t, "")
	tests := []struct {
		name string
		url  string
		body string
	}{
		{"unknown_format", "/api/v1/analyze?format=docx", analyzeBody},
		{"malformed", "/api/v1/analyze", `{`},
		{"empty", "/api/v1/analyze", `{}`},
		{"bad_options", "/api/v1/analyze", `{"words":[{"word":"a","start":0,"end":1}],"options":{"bucket_seconds":0}}`},
		{"bad_uncertainty", "/api/v1/analyze", `{"words":[{"word":"a","start":0,"end":1}],"options":{"uncertainty_threshold":2}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(httptest.NewRequest("POST", tt.url, strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

// ── jobs ─────────────────────────────────────────────────────────────

func uploadRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()
	req := httptest.NewRequest("POST", "/api/v1/jobs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestCreateJob(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(uploadRequest(t, "Meeting.WAV", []byte("RIFF0000WAVE")))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var job database.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	if job.Status != database.JobQueued || job.Filename != "Meeting.WAV" || job.Source != "upload" {
		t.Errorf("job = %+v", job)
	}
	if loc := rec.Header().Get("Location"); loc != "/api/v1/jobs/"+job.ID {
		t.Errorf("Location = %q", loc)
	}

	saved := filepath.Join(ts.cfg.AudioDir, ts.queue.jobs[0].AudioPath)
	data, err := os.ReadFile(saved)
	if err != nil || string(data) != "RIFF0000WAVE" {
		t.Errorf("saved upload = %q, %v", data, err)
	}
	if filepath.Ext(saved) != ".wav" {
		t.Errorf("saved ext = %q, want .wav", filepath.Ext(saved))
	}
}

func TestCreateJob_Rejections(t *testing.T) {
	ts := newTestServer(t, "")

	if rec := ts.do(uploadRequest(t, "notes.txt", []byte("x"))); rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("unsupported ext status = %d, want 415", rec.Code)
	}
	if rec := ts.do(uploadRequest(t, "big.wav", make([]byte, 2<<20))); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversize status = %d, want 413", rec.Code)
	}

	ts.queue.full = true
	rec := ts.do(uploadRequest(t, "a.mp3", []byte("ID3")))
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") == "" {
		t.Errorf("queue full status = %d, Retry-After %q", rec.Code, rec.Header().Get("Retry-After"))
	}
}

func TestCreateJob_RejectedUploadRemoved(t *testing.T) {
	tests := []struct {
		name   string
		full   bool
		err    error
		status int
	}{
		{"queue full", true, nil, http.StatusServiceUnavailable},
		{"insert failed", false, errors.New("insert job: connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, "")
			ts.queue.full, ts.queue.err = tt.full, tt.err

			rec := ts.do(uploadRequest(t, "a.mp3", []byte("ID3")))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			entries, err := os.ReadDir(filepath.Join(ts.cfg.AudioDir, uploadDir))
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				t.Fatal(err)
			}
			if len(entries) != 0 {
				t.Errorf("uploads left on disk: %d", len(entries))
			}
		})
	}
}

func TestGetJob(t *testing.T) {
	ts := newTestServer(t, "")
	id := ts.completedJob(t)

	rec := ts.do(httptest.NewRequest("GET", "/api/v1/jobs/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var job database.Job
	json.Unmarshal(rec.Body.Bytes(), &job)
	if job.Status != database.JobCompleted || job.RecordCount != 1 {
		t.Errorf("job = %+v", job)
	}

	if rec := ts.do(httptest.NewRequest("GET", "/api/v1/jobs/"+uuid.NewString(), nil)); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", rec.Code)
	}
	if rec := ts.do(httptest.NewRequest("GET", "/api/v1/jobs/not-a-uuid", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t, "")
	ts.completedJob(t)
	ts.do(uploadRequest(t, "b.wav", []byte("RIFF")))

	rec := ts.do(httptest.NewRequest("GET", "/api/v1/jobs?status=completed", nil))
	var page ListResponse[database.Job]
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].Status != database.JobCompleted {
		t.Errorf("page = %+v", page)
	}

	rec = ts.do(httptest.NewRequest("GET", "/api/v1/jobs?limit=1", nil))
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 2 || len(page.Items) != 1 {
		t.Errorf("limited page total=%d items=%d, want 2/1", page.Total, len(page.Items))
	}

	for _, q := range []string{"status=done", "limit=0", "since=yesterday"} {
		if rec := ts.do(httptest.NewRequest("GET", "/api/v1/jobs?"+q, nil)); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestJobRecords(t *testing.T) {
	ts := newTestServer(t, "")
	id := ts.completedJob(t)

	rec := ts.do(httptest.NewRequest("GET", "/api/v1/jobs/"+id+"/records", nil))
	var body struct {
		Records []map[string]any `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Records) != 1 || body.Records[0]["cadence"] != "normal" || body.Records[0]["text"] != "hi there" {
		t.Errorf("records = %v", body.Records)
	}
}

func TestJobOutput(t *testing.T) {
	ts := newTestServer(t, "")
	id := ts.completedJob(t)

	rec := ts.do(httptest.NewRequest("GET", "/api/v1/jobs/"+id+"/output/md", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if rec.Body.String() != "# talk\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="talk.md"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}

	if rec := ts.do(httptest.NewRequest("GET", "/api/v1/jobs/"+id+"/output/srt", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("unrendered format status = %d, want 404", rec.Code)
	}
	if rec := ts.do(httptest.NewRequest("GET", "/api/v1/jobs/"+id+"/output/pdf", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown format status = %d, want 400", rec.Code)
	}

	// Local storage has no presigned URLs; the body is streamed instead.
	if rec := ts.do(httptest.NewRequest("GET", "/api/v1/jobs/"+id+"/output/md?presign=true", nil)); rec.Body.String() != "# talk\n" {
		t.Errorf("presign fallback body = %q", rec.Body.String())
	}
}

func TestJobOutput_NotCompleted(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(uploadRequest(t, "c.wav", []byte("RIFF")))
	var job database.Job
	json.Unmarshal(rec.Body.Bytes(), &job)

	if rec := ts.do(httptest.NewRequest("GET", "/api/v1/jobs/"+job.ID+"/output/md", nil)); rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

// ── events ───────────────────────────────────────────────────────────

func TestStreamEvents_Replay(t *testing.T) {
	ts := newTestServer(t, "")
	first, _ := events.New(events.JobQueued, "j1", map[string]string{"job_id": "j1"})
	second, _ := events.New(events.JobCompleted, "j1", map[string]string{"job_id": "j1"})
	other, _ := events.New(events.JobQueued, "j2", nil)
	ts.bus.Publish(context.Background(), first)
	ts.bus.Publish(context.Background(), second)
	ts.bus.Publish(context.Background(), other)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/v1/events/stream?job_id=j1", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", first.ID)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		ts.router.ServeHTTP(rec, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(body, "id: "+second.ID) || !strings.Contains(body, "event: job.completed") {
		t.Errorf("replayed body missing completed event: %q", body)
	}
	if strings.Contains(body, first.ID) || strings.Contains(body, other.ID) {
		t.Errorf("body contains events that should be filtered: %q", body)
	}
}
