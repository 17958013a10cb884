package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	talkpace "github.com/snarg/talkpace"
	"github.com/snarg/talkpace/internal/api"
	"github.com/snarg/talkpace/internal/config"
	"github.com/snarg/talkpace/internal/database"
	"github.com/snarg/talkpace/internal/diarize"
	"github.com/snarg/talkpace/internal/events"
	"github.com/snarg/talkpace/internal/ingest"
	"github.com/snarg/talkpace/internal/metrics"
	"github.com/snarg/talkpace/internal/mqttclient"
	"github.com/snarg/talkpace/internal/storage"
	"github.com/snarg/talkpace/internal/transcribe"
)

// eventRing is how many recent events the SSE bus keeps for Last-Event-ID replay.
const eventRing = 500

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	var ov config.Overrides
	fs.StringVar(&ov.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	fs.StringVar(&ov.DatabaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	fs.StringVar(&ov.AudioDir, "audio-dir", "", "audio directory (overrides AUDIO_DIR)")
	fs.StringVar(&ov.WatchDir, "watch-dir", "", "directory to watch for new audio (overrides WATCH_DIR)")
	fs.Parse(args)
	ov.EnvFile, ov.LogLevel, ov.Profile = common.envFile, common.logLevel, common.profile

	startTime := time.Now()

	// Config
	cfg, err := config.Load(ov)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	log, closeLog := newLogger(cfg, os.Stdout)
	defer closeLog()
	log.Info().Str("version", version).Msg("talkpace starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	var store database.Store
	var dbPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.InitSchema(ctx, talkpace.SchemaSQL); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate schema")
		}
		store, dbPool = db, db.Pool
	} else {
		dbLog.Warn().Msg("DATABASE_URL not set, jobs are kept in memory only")
		store = database.NewMemStore()
	}

	// Artifact storage
	artifacts, err := storage.New(cfg.S3, cfg.OutputDir, log.With().Str("component", "storage").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize artifact storage")
	}

	// Diarization, probed once and shared by every job
	diarization := diarize.Load(ctx, cfg.DiarizeURL, cfg.DiarizeTimeout, log)

	// Events: SSE bus always, MQTT and Kafka when configured
	bus := events.NewBus(eventRing)
	fanout := events.NewFanout(log.With().Str("component", "events").Logger())
	fanout.Add("sse", bus)

	var mqttHealth api.ConnChecker
	if cfg.MQTTBrokerURL != "" {
		mqtt, err := mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		fanout.Add("mqtt", events.NewMQTTPublisher(mqtt))
		mqttHealth = mqtt
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		defer kafka.Close()
		fanout.Add("kafka", kafka)
	}
	log.Info().Strs("sinks", fanout.Sinks()).Msg("event sinks ready")

	// Transcription
	provider, err := transcribe.NewProvider(transcribe.ProviderConfig{
		Provider:           cfg.STTProvider,
		Timeout:            cfg.WhisperTimeout,
		WhisperURL:         cfg.WhisperURL,
		WhisperModel:       cfg.WhisperModel,
		ElevenLabsAPIKey:   cfg.ElevenLabsAPIKey,
		ElevenLabsModel:    cfg.ElevenLabsModel,
		ElevenLabsKeyterms: cfg.ElevenLabsKeyterms,
		DeepInfraAPIKey:    cfg.DeepInfraAPIKey,
		DeepInfraModel:     cfg.DeepInfraModel,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure transcription provider")
	}

	pool := transcribe.NewWorkerPool(transcribe.WorkerPoolOptions{
		Provider:        provider,
		Store:           store,
		Artifacts:       artifacts,
		Publisher:       fanout,
		Diarization:     diarization,
		Analysis:        cfg.AnalysisOptions(),
		Formats:         cfg.OutputFormats,
		AudioDir:        cfg.AudioDir,
		PreprocessAudio: cfg.PreprocessAudio,
		Timeout:         cfg.WhisperTimeout + cfg.DiarizeTimeout,
		Transcribe: transcribe.TranscribeOpts{
			Temperature: cfg.WhisperTemperature,
			Language:    cfg.WhisperLanguage,
			Prompt:      cfg.WhisperPrompt,
			BeamSize:    cfg.WhisperBeamSize,
		},
		Workers:   cfg.TranscribeWorkers,
		QueueSize: cfg.TranscribeQueueSize,
		Log:       log,
	})
	pool.Start()
	log.Info().
		Str("provider", provider.Name()).
		Str("model", provider.Model()).
		Int("workers", cfg.TranscribeWorkers).
		Msg("transcription ready")

	// File watcher
	var watcherStatus api.WatcherStatusSource
	var watcher *ingest.FileWatcher
	if cfg.WatchDir != "" {
		watcher = ingest.NewFileWatcher(ingest.WatcherOptions{
			Dir:      cfg.WatchDir,
			Backfill: cfg.WatchBackfill,
			Handler:  submitWatched(pool),
			Log:      log,
		})
		if err := watcher.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.WatchDir).Msg("failed to start file watcher")
		}
		watcherStatus = watcher
	}

	prometheus.MustRegister(metrics.NewCollector(dbPool, pool, bus))

	// HTTP Server
	srv := api.NewServer(api.ServerOptions{
		Config:      cfg,
		Store:       store,
		Pool:        pool,
		Artifacts:   artifacts,
		Events:      bus,
		Watcher:     watcherStatus,
		MQTT:        mqttHealth,
		Diarization: diarization,
		Version:     version,
		StartTime:   startTime,
		Log:         log.With().Str("component", "http").Logger(),
	})

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if watcher != nil {
		watcher.Stop()
	}
	pool.Stop()

	log.Info().Msg("talkpace stopped")
	return nil
}

// submitWatched queues files found by the watcher. Paths are absolute, so
// the job's AudioPath bypasses the pool's AudioDir.
func submitWatched(pool *transcribe.WorkerPool) ingest.Handler {
	return func(ctx context.Context, path string) error {
		_, err := pool.Submit(ctx, transcribe.Job{
			ID:        uuid.NewString(),
			AudioPath: path,
			Filename:  filepath.Base(path),
			Source:    "watch",
		})
		if err != nil {
			return fmt.Errorf("submit %s: %w", filepath.Base(path), err)
		}
		return nil
	}
}
