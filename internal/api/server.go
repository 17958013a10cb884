package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/talkpace/internal/analysis"
	"github.com/snarg/talkpace/internal/config"
	"github.com/snarg/talkpace/internal/database"
	"github.com/snarg/talkpace/internal/metrics"
	"github.com/snarg/talkpace/internal/storage"
)

// JobQueue is the transcription worker pool as seen by the API.
type JobQueue interface {
	JobSubmitter
	QueueStatsSource
}

// ServerOptions holds everything the HTTP API serves. Pool, Watcher, MQTT
// and Events may be nil.
type ServerOptions struct {
	Config      *config.Config
	Store       database.Store
	Pool        JobQueue
	Artifacts   storage.ArtifactStore
	Events      EventSource
	Watcher     WatcherStatusSource
	MQTT        ConnChecker
	Diarization analysis.Availability
	Version     string
	StartTime   time.Time
	Log         zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	r := NewRouter(opts)

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(opts ServerOptions) chi.Router {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Logger(opts.Log))
	r.Use(Recoverer)
	r.Use(CORSWithOrigins(strings.Split(cfg.CORSOrigins, ",")))
	r.Use(metrics.InstrumentHandler)

	health := &HealthHandler{
		db:          opts.Store,
		mqtt:        opts.MQTT,
		watcher:     opts.Watcher,
		diarization: opts.Diarization,
		version:     opts.Version,
		startTime:   opts.StartTime,
	}
	if opts.Pool != nil {
		health.queue = opts.Pool
	}
	if opts.Artifacts != nil {
		health.storageType = opts.Artifacts.Type()
	}

	r.Handle("/metrics", promhttp.Handler())

	maxUpload := cfg.MaxUploadMB << 20
	var submitter JobSubmitter
	if opts.Pool != nil {
		submitter = opts.Pool
	}
	jobs := NewJobsHandler(opts.Store, submitter, opts.Artifacts, cfg.AudioDir, maxUpload, opts.Log)
	analyze := NewAnalyzeHandler(cfg.AnalysisOptions(), maxUpload)
	eventsHandler := NewEventsHandler(opts.Events)

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint: no auth
		r.Get("/health", health.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			r.Post("/analyze", analyze.Analyze)
			jobs.Routes(r)
			eventsHandler.Routes(r)
		})
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
