package transcribe

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/talkpace/internal/analysis"
	"github.com/snarg/talkpace/internal/audio"
	"github.com/snarg/talkpace/internal/database"
	"github.com/snarg/talkpace/internal/events"
	"github.com/snarg/talkpace/internal/metrics"
	"github.com/snarg/talkpace/internal/output"
)

// ErrQueueFull is returned by Submit when the queue has no room.
var ErrQueueFull = errors.New("transcription queue full")

// Job is one audio file to transcribe and analyse.
type Job struct {
	ID        string
	AudioPath string // relative to Dir, or absolute
	Dir       string // base directory; empty means the pool's AudioDir
	Filename  string // original file name, for display
	Source    string // "upload", "watch"
}

// QueueStats reports the current state of the transcription queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	InFlight  int   `json:"in_flight"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// WorkerPoolOptions configures the transcription worker pool.
type WorkerPoolOptions struct {
	Provider    Provider
	Store       database.Store
	Artifacts   output.Saver
	Publisher   events.Publisher      // may be nil
	Diarization analysis.Availability // shared by every job
	Analysis    analysis.Options
	Formats     []string

	AudioDir        string
	PreprocessAudio bool
	Timeout         time.Duration // per job; 0 = no limit
	Transcribe      TranscribeOpts
	Workers         int
	QueueSize       int
	Log             zerolog.Logger
}

// WorkerPool manages transcription workers.
type WorkerPool struct {
	jobs   chan Job
	opts   WorkerPoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	inFlight  atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64
}

// NewWorkerPool creates a new transcription worker pool.
func NewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobs:   make(chan Job, opts.QueueSize),
		opts:   opts,
		log:    opts.Log.With().Str("component", "transcribe").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	// Check sox availability at startup
	if wp.opts.PreprocessAudio {
		if CheckSox() {
			wp.log.Info().Msg("audio preprocessing enabled (sox found)")
		} else {
			wp.log.Warn().Msg("PREPROCESS_AUDIO=true but sox not found in PATH; preprocessing disabled")
		}
	}
	if _, ok := wp.opts.Diarization.Diarizer(); !ok && wp.opts.Analysis.DetectOverlap {
		wp.log.Info().Str("reason", wp.opts.Diarization.Reason()).Msg("overlap detection unavailable")
	}

	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Info().Int("workers", wp.opts.Workers).Int("queue_size", wp.opts.QueueSize).Msg("transcription worker pool started")
}

// Stop signals workers to drain and waits for completion. Safe to call
// more than once.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobs)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.cancel()
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Msg("transcription worker pool stopped")
}

// Enqueue adds a job to the queue. Returns false if the queue is full or
// the pool is stopped.
func (wp *WorkerPool) Enqueue(j Job) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return false
	}
	select {
	case wp.jobs <- j:
		return true
	default:
		return false
	}
}

// Submit records a queued job and enqueues it. A job that cannot be
// queued is marked failed and ErrQueueFull is returned.
func (wp *WorkerPool) Submit(ctx context.Context, j Job) (*database.Job, error) {
	row := &database.Job{
		ID:        j.ID,
		Status:    database.JobQueued,
		Source:    j.Source,
		Filename:  j.Filename,
		AudioPath: j.AudioPath,
		Options:   wp.opts.Analysis,
		CreatedAt: time.Now().UTC(),
	}
	if row.Filename == "" {
		row.Filename = filepath.Base(j.AudioPath)
	}
	if err := wp.opts.Store.InsertJob(ctx, row); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	// Published before the send so subscribers never see started first.
	wp.emit(ctx, events.JobQueued, j.ID, map[string]any{
		"job_id":   j.ID,
		"filename": row.Filename,
		"source":   j.Source,
	})
	if !wp.Enqueue(j) {
		if err := wp.opts.Store.FailJob(ctx, j.ID, ErrQueueFull.Error()); err != nil {
			wp.log.Warn().Err(err).Str("job_id", j.ID).Msg("failed to mark rejected job")
		}
		wp.emit(ctx, events.JobFailed, j.ID, map[string]any{
			"job_id": j.ID,
			"error":  ErrQueueFull.Error(),
		})
		return nil, ErrQueueFull
	}
	return row, nil
}

// Stats returns current queue statistics.
func (wp *WorkerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(wp.jobs),
		InFlight:  int(wp.inFlight.Load()),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
	}
}

// QueueLen returns the number of jobs waiting.
func (wp *WorkerPool) QueueLen() int { return len(wp.jobs) }

// InFlight returns the number of jobs being processed.
func (wp *WorkerPool) InFlight() int { return int(wp.inFlight.Load()) }

// Workers returns the number of worker goroutines.
func (wp *WorkerPool) Workers() int { return wp.opts.Workers }

// Provider returns the configured STT backend.
func (wp *WorkerPool) Provider() Provider { return wp.opts.Provider }

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for job := range wp.jobs {
		wp.inFlight.Add(1)
		err := wp.processJob(log, job)
		wp.inFlight.Add(-1)
		if err != nil {
			wp.failed.Add(1)
			metrics.JobsTotal.WithLabelValues(string(database.JobFailed)).Inc()
			log.Warn().Err(err).Str("job_id", job.ID).Str("file", job.Filename).Msg("job failed")
			wp.fail(job, err)
		} else {
			wp.completed.Add(1)
			metrics.JobsTotal.WithLabelValues(string(database.JobCompleted)).Inc()
		}
	}
}

func (wp *WorkerPool) fail(job Job, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wp.opts.Store.FailJob(ctx, job.ID, cause.Error()); err != nil {
		wp.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to record job failure")
	}
	wp.emit(ctx, events.JobFailed, job.ID, map[string]any{
		"job_id": job.ID,
		"error":  cause.Error(),
	})
}

func (wp *WorkerPool) processJob(log zerolog.Logger, job Job) error {
	start := time.Now()
	ctx, cancel := wp.jobContext()
	defer cancel()
	log = log.With().Str("job_id", job.ID).Logger()

	if err := wp.opts.Store.MarkJobRunning(ctx, job.ID); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	wp.emit(ctx, events.JobStarted, job.ID, map[string]any{"job_id": job.ID})

	// 1. Resolve audio file path
	dir := job.Dir
	if dir == "" {
		dir = wp.opts.AudioDir
	}
	audioPath := audio.ResolveFile(dir, job.AudioPath)
	if audioPath == "" {
		return fmt.Errorf("audio file not found: %q", job.AudioPath)
	}

	// 2. Audio preprocessing (optional)
	transcribePath := audioPath
	if wp.opts.PreprocessAudio {
		stage := time.Now()
		processed, cleanup, err := Preprocess(ctx, audioPath)
		if err != nil {
			log.Warn().Err(err).Msg("preprocessing failed, using original audio")
		} else {
			transcribePath = processed
			defer cleanup()
		}
		metrics.JobStageDuration.WithLabelValues("preprocess").Observe(time.Since(stage).Seconds())
	}

	// 3. Speech to text
	stage := time.Now()
	resp, err := wp.opts.Provider.Transcribe(ctx, transcribePath, wp.opts.Transcribe)
	if err != nil {
		return fmt.Errorf("%s: %w", wp.opts.Provider.Name(), err)
	}
	metrics.JobStageDuration.WithLabelValues("transcribe").Observe(time.Since(stage).Seconds())

	// 4. Analysis. Diarization runs on the original audio.
	stage = time.Now()
	words := analysis.FlattenSegments(resp.AnalysisSegments(), log)
	detector := analysis.NewOverlapDetector(wp.opts.Diarization, log)
	res, err := analysis.Run(ctx, words, audioPath, wp.opts.Analysis, detector, log)
	if err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	metrics.JobStageDuration.WithLabelValues("analyze").Observe(time.Since(stage).Seconds())
	observeResult(res)

	// 5. Render outputs
	stage = time.Now()
	doc := output.NewDocument(job.Filename, res, wp.opts.Analysis.BucketSeconds,
		output.Field{Key: "Source File", Value: job.Filename},
		output.Field{Key: "Provider", Value: wp.opts.Provider.Name()},
		output.Field{Key: "Model", Value: wp.opts.Provider.Model()},
		output.Field{Key: "Language", Value: resp.Language},
		output.Field{Key: "Audio Duration", Value: fmt.Sprintf("%.1f seconds", resp.Duration)},
	)
	artifacts, err := output.WriteAll(ctx, wp.opts.Artifacts, job.ID, wp.opts.Formats, doc)
	if err != nil {
		return fmt.Errorf("write outputs: %w", err)
	}
	metrics.JobStageDuration.WithLabelValues("render").Observe(time.Since(stage).Seconds())

	// 6. Persist
	elapsed := time.Since(start)
	err = wp.opts.Store.CompleteJob(ctx, job.ID, database.JobCompletion{
		Provider:      wp.opts.Provider.Name(),
		Model:         wp.opts.Provider.Model(),
		Language:      resp.Language,
		AudioDuration: resp.Duration,
		WordCount:     len(res.Words),
		Records:       res.Records,
		Context:       res.Context,
		Validation:    res.Validation,
		Summary:       res.Summary,
		Uncertainty:   res.Uncertainty,
		Artifacts:     artifacts,
		ProcessingMs:  elapsed.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("store results: %w", err)
	}

	// 7. Publish
	wp.emit(ctx, events.JobCompleted, job.ID, map[string]any{
		"job_id":        job.ID,
		"filename":      job.Filename,
		"records":       len(res.Records),
		"words":         len(res.Words),
		"valid":         res.Validation.Valid,
		"flagged":       res.Uncertainty.FlaggedRecords,
		"summary":       res.Summary,
		"artifacts":     artifacts,
		"processing_ms": elapsed.Milliseconds(),
	})

	log.Info().
		Str("file", job.Filename).
		Int("words", len(res.Words)).
		Int("records", len(res.Records)).
		Bool("valid", res.Validation.Valid).
		Int("flagged", res.Uncertainty.FlaggedRecords).
		Dur("elapsed", elapsed).
		Msg("job complete")
	return nil
}

func (wp *WorkerPool) jobContext() (context.Context, context.CancelFunc) {
	if wp.opts.Timeout > 0 {
		return context.WithTimeout(wp.ctx, wp.opts.Timeout)
	}
	return context.WithCancel(wp.ctx)
}

func (wp *WorkerPool) emit(ctx context.Context, typ, jobID string, payload any) {
	if wp.opts.Publisher == nil {
		return
	}
	events.Emit(ctx, wp.opts.Publisher, wp.log, typ, jobID, payload)
	metrics.EventsPublishedTotal.WithLabelValues(typ).Inc()
}

func observeResult(res *analysis.Result) {
	metrics.WordsProcessedTotal.Add(float64(len(res.Words)))
	for _, r := range res.Records {
		metrics.RecordsTotal.WithLabelValues(string(r.Cadence), string(r.SpeakerOverlap)).Inc()
	}
	if res.Uncertainty != nil {
		for _, u := range res.Uncertainty.Records {
			metrics.RecordsUncertaintyTotal.WithLabelValues(string(u.Level), strconv.FormatBool(u.SuggestedReview)).Inc()
		}
	}
	if !res.Validation.Valid {
		metrics.ValidationFailuresTotal.Inc()
	}
}
