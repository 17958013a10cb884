package database

import (
	"context"
	"errors"
	"time"

	"github.com/snarg/talkpace/internal/analysis"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("not found")

// JobStatus is the lifecycle state of a transcription job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobRunning, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Job is the persisted state of one analysis job.
type Job struct {
	ID               string                      `json:"id"`
	Status           JobStatus                   `json:"status"`
	Source           string                      `json:"source"`
	Filename         string                      `json:"filename"`
	AudioPath        string                      `json:"audio_path,omitempty"`
	Provider         string                      `json:"provider,omitempty"`
	Model            string                      `json:"model,omitempty"`
	Language         string                      `json:"language,omitempty"`
	Options          analysis.Options            `json:"options"`
	Error            string                      `json:"error,omitempty"`
	AudioDuration    float64                     `json:"audio_duration,omitempty"`
	WordCount        int                         `json:"word_count"`
	RecordCount      int                         `json:"record_count"`
	Valid            *bool                       `json:"valid,omitempty"`
	ValidationErrors []string                    `json:"validation_errors,omitempty"`
	Context          *analysis.AnalysisContext   `json:"context,omitempty"`
	Summary          *analysis.Summary           `json:"summary,omitempty"`
	Uncertainty      *analysis.UncertaintyReport `json:"uncertainty,omitempty"`
	Artifacts        map[string]string           `json:"artifacts,omitempty"`
	ProcessingMs     int64                       `json:"processing_ms,omitempty"`
	CreatedAt        time.Time                   `json:"created_at"`
	StartedAt        *time.Time                  `json:"started_at,omitempty"`
	CompletedAt      *time.Time                  `json:"completed_at,omitempty"`
}

// JobCompletion carries everything a finished job writes back.
type JobCompletion struct {
	Provider      string
	Model         string
	Language      string
	AudioDuration float64
	WordCount     int
	Records       []analysis.Record
	Context       analysis.AnalysisContext
	Validation    analysis.ValidationReport
	Summary       *analysis.Summary
	Uncertainty   *analysis.UncertaintyReport
	Artifacts     map[string]string // format -> artifact key
	ProcessingMs  int64
}

// JobFilter specifies filters for listing jobs.
type JobFilter struct {
	Statuses []JobStatus
	Source   string
	Since    *time.Time
	Limit    int
	Offset   int
}

// Store persists jobs and their records. DB implements it on PostgreSQL;
// MemStore keeps everything in process when no database is configured.
type Store interface {
	InsertJob(ctx context.Context, job *Job) error
	MarkJobRunning(ctx context.Context, id string) error
	CompleteJob(ctx context.Context, id string, c JobCompletion) error
	FailJob(ctx context.Context, id string, reason string) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, int, error)
	ListRecords(ctx context.Context, jobID string) ([]analysis.Record, error)
	HealthCheck(ctx context.Context) error
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*MemStore)(nil)
)

func applyCompletion(j *Job, c JobCompletion, now time.Time) {
	valid := c.Validation.Valid
	j.Status = JobCompleted
	j.Provider = c.Provider
	j.Model = c.Model
	j.Language = c.Language
	j.AudioDuration = c.AudioDuration
	j.WordCount = c.WordCount
	j.RecordCount = len(c.Records)
	j.Valid = &valid
	j.ValidationErrors = c.Validation.Errors
	ctx := c.Context
	j.Context = &ctx
	j.Summary = c.Summary
	j.Uncertainty = c.Uncertainty
	j.Artifacts = c.Artifacts
	j.ProcessingMs = c.ProcessingMs
	j.Error = ""
	j.CompletedAt = &now
}
