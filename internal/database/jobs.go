package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/snarg/talkpace/internal/analysis"
)

const jobColumns = `id::text, status, source, filename, COALESCE(audio_path, ''),
	COALESCE(provider, ''), COALESCE(model, ''), COALESCE(language, ''),
	options, COALESCE(error, ''), COALESCE(audio_duration, 0),
	word_count, record_count, valid, validation_errors,
	context, summary, uncertainty, artifacts, COALESCE(processing_ms, 0),
	created_at, started_at, completed_at`

// InsertJob creates a queued job. ID and CreatedAt must be set.
func (db *DB) InsertJob(ctx context.Context, job *Job) error {
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	if job.Status == "" {
		job.Status = JobQueued
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO jobs (id, status, source, filename, audio_path, options, created_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
	`, job.ID, job.Status, job.Source, job.Filename, pqString(job.AudioPath), opts, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// MarkJobRunning moves a job to running and stamps started_at.
func (db *DB) MarkJobRunning(ctx context.Context, id string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE jobs SET status = 'running', started_at = now()
		WHERE id = $1::uuid
	`, id)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteJob stores a job's results in one transaction:
// 1) Updates the job row with the run summary
// 2) Replaces the job's records via a batch insert
func (db *DB) CompleteJob(ctx context.Context, id string, c JobCompletion) error {
	jctx, err := json.Marshal(c.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	summary, err := pqJSON(c.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	uncertainty, err := pqJSON(c.Uncertainty)
	if err != nil {
		return fmt.Errorf("marshal uncertainty: %w", err)
	}
	artifacts, err := pqJSON(c.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET
			status = 'completed', error = NULL,
			provider = $2, model = $3, language = $4, audio_duration = $5,
			word_count = $6, record_count = $7, valid = $8, validation_errors = $9,
			context = $10, summary = $11, artifacts = $12, processing_ms = $13,
			uncertainty = $14, completed_at = now()
		WHERE id = $1::uuid
	`, id, pqString(c.Provider), pqString(c.Model), pqString(c.Language), pqFloat(c.AudioDuration),
		c.WordCount, len(c.Records), c.Validation.Valid, c.Validation.Errors,
		jctx, summary, artifacts, c.ProcessingMs, uncertainty)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM records WHERE job_id = $1::uuid`, id); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}

	batch := &pgx.Batch{}
	for _, r := range c.Records {
		words, err := json.Marshal(r.Words)
		if err != nil {
			return fmt.Errorf("marshal words for bucket %d: %w", r.BucketIndex, err)
		}
		gaps := r.Gaps
		if gaps == nil {
			gaps = []float64{}
		}
		batch.Queue(`
			INSERT INTO records (
				job_id, bucket_index, start_time, end_time, duration, text,
				word_count, word_gap_count, word_gaps, word_gap_mean, word_gap_var,
				cadence, speaker_overlap, confidence_score, words
			) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, id, r.BucketIndex, r.Start, r.End, r.Duration, r.Text,
			r.WordCount, r.GapCount, gaps, r.GapMean, r.GapVar,
			string(r.Cadence), string(r.SpeakerOverlap), r.Confidence, words)
	}
	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert record %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FailJob marks a job failed with reason.
func (db *DB) FailJob(ctx context.Context, id string, reason string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE jobs SET status = 'failed', error = $2, completed_at = now()
		WHERE id = $1::uuid
	`, id, reason)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob returns a job by ID, or ErrNotFound.
func (db *DB) GetJob(ctx context.Context, id string) (*Job, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1::uuid`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// ListJobs returns jobs matching filter, newest first, plus the total count.
func (db *DB) ListJobs(ctx context.Context, filter JobFilter) ([]Job, int, error) {
	whereClause, args := jobWhere(filter)

	var total int
	if err := db.Pool.QueryRow(ctx, "SELECT count(*) FROM jobs"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	dataQuery := fmt.Sprintf(`SELECT %s FROM jobs %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		jobColumns, whereClause, filter.Limit, filter.Offset)
	rows, err := db.Pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, total, rows.Err()
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j                                           Job
		status                                      string
		opts, jctx, summary, uncertainty, artifacts []byte
		startedAt, completedAt                      *time.Time
	)
	if err := row.Scan(
		&j.ID, &status, &j.Source, &j.Filename, &j.AudioPath,
		&j.Provider, &j.Model, &j.Language,
		&opts, &j.Error, &j.AudioDuration,
		&j.WordCount, &j.RecordCount, &j.Valid, &j.ValidationErrors,
		&jctx, &summary, &uncertainty, &artifacts, &j.ProcessingMs,
		&j.CreatedAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	j.StartedAt = startedAt
	j.CompletedAt = completedAt

	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &j.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	if len(jctx) > 0 {
		j.Context = &analysis.AnalysisContext{}
		if err := json.Unmarshal(jctx, j.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	if len(summary) > 0 {
		j.Summary = &analysis.Summary{}
		if err := json.Unmarshal(summary, j.Summary); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
	}
	if len(uncertainty) > 0 {
		j.Uncertainty = &analysis.UncertaintyReport{}
		if err := json.Unmarshal(uncertainty, j.Uncertainty); err != nil {
			return nil, fmt.Errorf("decode uncertainty: %w", err)
		}
	}
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &j.Artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts: %w", err)
		}
	}
	return &j, nil
}
