package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/talkpace/internal/audio"
	"github.com/snarg/talkpace/internal/database"
	"github.com/snarg/talkpace/internal/output"
	"github.com/snarg/talkpace/internal/storage"
	"github.com/snarg/talkpace/internal/transcribe"
)

// uploadDir is where uploads land, relative to the audio directory.
const uploadDir = "uploads"

// JobSubmitter queues audio for transcription and analysis.
type JobSubmitter interface {
	Submit(ctx context.Context, j transcribe.Job) (*database.Job, error)
}

// JobsHandler serves job submission, listing and result download.
type JobsHandler struct {
	store     database.Store
	submitter JobSubmitter
	artifacts storage.ArtifactStore
	audioDir  string
	maxUpload int64
	log       zerolog.Logger
}

func NewJobsHandler(store database.Store, submitter JobSubmitter, artifacts storage.ArtifactStore, audioDir string, maxUpload int64, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store:     store,
		submitter: submitter,
		artifacts: artifacts,
		audioDir:  audioDir,
		maxUpload: maxUpload,
		log:       log.With().Str("handler", "jobs").Logger(),
	}
}

// Routes registers job routes on the given router.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.Create)
	r.Get("/jobs", h.List)
	r.Get("/jobs/{id}", h.Get)
	r.Get("/jobs/{id}/records", h.Records)
	r.Get("/jobs/{id}/output/{format}", h.Output)
}

// Create handles POST /api/v1/jobs. The audio arrives as the multipart
// "file" field; the job is queued and returned with 202.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.submitter == nil {
		WriteError(w, http.StatusServiceUnavailable, "transcription not configured")
		return
	}
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit))
			return
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, `missing "file" field`)
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !audio.IsSupported(name) {
		WriteErrorDetail(w, http.StatusUnsupportedMediaType, "unsupported audio format", filepath.Ext(name))
		return
	}

	id := uuid.NewString()
	rel := filepath.Join(uploadDir, id+strings.ToLower(filepath.Ext(name)))
	if err := h.saveUpload(file, rel); err != nil {
		h.log.Error().Err(err).Str("file", name).Msg("failed to save upload")
		WriteError(w, http.StatusInternalServerError, "failed to save upload")
		return
	}

	job, err := h.submitter.Submit(r.Context(), transcribe.Job{
		ID:        id,
		AudioPath: rel,
		Filename:  name,
		Source:    "upload",
	})
	if err != nil {
		h.discardUpload(rel)
	}
	if errors.Is(err, transcribe.ErrQueueFull) {
		w.Header().Set("Retry-After", "30")
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", id).Msg("submit failed")
		WriteError(w, http.StatusInternalServerError, "failed to queue job")
		return
	}

	w.Header().Set("Location", "/api/v1/jobs/"+id)
	WriteJSON(w, http.StatusAccepted, job)
}

// discardUpload removes a saved upload whose job was never queued.
func (h *JobsHandler) discardUpload(rel string) {
	if err := os.Remove(filepath.Join(h.audioDir, rel)); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.log.Warn().Err(err).Str("path", rel).Msg("failed to remove rejected upload")
	}
}

func (h *JobsHandler) saveUpload(src io.Reader, rel string) error {
	dst := filepath.Join(h.audioDir, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(dst)
		return fmt.Errorf("write upload: %w", err)
	}
	return f.Close()
}

// List handles GET /api/v1/jobs?status=&source=&since=&limit=&offset=.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := database.JobFilter{Limit: p.Limit, Offset: p.Offset}
	for _, s := range QueryStringList(r, "status") {
		st := database.JobStatus(s)
		if !st.Valid() {
			WriteErrorDetail(w, http.StatusBadRequest, "invalid status", s)
			return
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	if v, ok := QueryString(r, "source"); ok {
		filter.Source = v
	}
	if v, ok := QueryString(r, "since"); ok {
		t, ok := QueryTime(r, "since")
		if !ok {
			WriteErrorDetail(w, http.StatusBadRequest, "invalid since", v)
			return
		}
		filter.Since = &t
	}

	jobs, total, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("list jobs failed")
		WriteError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []database.Job{}
	}
	WriteJSON(w, http.StatusOK, ListResponse[database.Job]{Items: jobs, Total: total, Limit: p.Limit, Offset: p.Offset})
}

// Get handles GET /api/v1/jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// Records handles GET /api/v1/jobs/{id}/records.
func (h *JobsHandler) Records(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	recs, err := h.store.ListRecords(r.Context(), job.ID)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", job.ID).Msg("list records failed")
		WriteError(w, http.StatusInternalServerError, "failed to load records")
		return
	}
	items := make([]map[string]any, len(recs))
	for i, rec := range recs {
		items[i] = rec.Map()
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"job_id":  job.ID,
		"status":  job.Status,
		"records": items,
	})
}

// Output handles GET /api/v1/jobs/{id}/output/{format}. With ?presign=true
// and an S3 backend the response is a JSON download URL instead of the body.
func (h *JobsHandler) Output(w http.ResponseWriter, r *http.Request) {
	format := chi.URLParam(r, "format")
	if !output.Supported(format) {
		WriteErrorDetail(w, http.StatusBadRequest, "unknown output format", format)
		return
	}
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != database.JobCompleted {
		WriteErrorDetail(w, http.StatusConflict, "job not completed", string(job.Status))
		return
	}
	key, ok := job.Artifacts[format]
	if !ok || h.artifacts == nil {
		WriteErrorDetail(w, http.StatusNotFound, "output not rendered", format)
		return
	}

	if presign, _ := QueryBool(r, "presign"); presign {
		url, err := h.artifacts.URL(r.Context(), key)
		if err != nil {
			h.log.Error().Err(err).Str("key", key).Msg("presign failed")
			WriteError(w, http.StatusInternalServerError, "failed to presign output")
			return
		}
		if url != "" {
			WriteJSON(w, http.StatusOK, map[string]string{"url": url})
			return
		}
	}

	rc, err := h.artifacts.Open(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		WriteErrorDetail(w, http.StatusNotFound, "output missing from storage", key)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("open artifact failed")
		WriteError(w, http.StatusInternalServerError, "failed to open output")
		return
	}
	defer rc.Close()

	base := strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename))
	if base == "" {
		base = job.ID
	}
	w.Header().Set("Content-Type", output.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, base, format))
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn().Err(err).Str("key", key).Msg("output stream interrupted")
	}
}

func (h *JobsHandler) loadJob(w http.ResponseWriter, r *http.Request) (*database.Job, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid job id", id)
		return nil, false
	}
	job, err := h.store.GetJob(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", id).Msg("get job failed")
		WriteError(w, http.StatusInternalServerError, "failed to load job")
		return nil, false
	}
	return job, true
}
