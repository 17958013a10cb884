package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/snarg/talkpace/internal/analysis"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`

	AudioDir      string `env:"AUDIO_DIR" envDefault:"./audio"`
	OutputDir     string `env:"OUTPUT_DIR" envDefault:"./output"`
	WatchDir      string `env:"WATCH_DIR"`
	WatchBackfill bool   `env:"WATCH_BACKFILL" envDefault:"false"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadMB  int64         `env:"MAX_UPLOAD_MB" envDefault:"512"`
	CORSOrigins  string        `env:"CORS_ORIGINS"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"` // json or console
	LogFile   string `env:"LOG_FILE"`

	// Analysis
	BucketSeconds    float64 `env:"BUCKET_SECONDS" envDefault:"4.0"`
	BucketTolerance  float64 `env:"BUCKET_TOLERANCE" envDefault:"0.25"`
	GapThreshold     float64 `env:"GAP_THRESHOLD" envDefault:"1.5"`
	TimingRepair     bool    `env:"TIMING_REPAIR" envDefault:"true"`
	OverlapDetection bool    `env:"OVERLAP_DETECTION" envDefault:"true"`
	MinBucketSeconds float64 `env:"MIN_BUCKET_SECONDS" envDefault:"0"`
	AnalysisProfile  string  `env:"ANALYSIS_PROFILE"`

	UncertaintyThreshold float64 `env:"UNCERTAINTY_THRESHOLD" envDefault:"0.4"`

	// Speech-to-text
	STTProvider         string        `env:"STT_PROVIDER" envDefault:"whisper"`
	WhisperURL          string        `env:"WHISPER_URL" envDefault:"http://localhost:8000/v1/audio/transcriptions"`
	WhisperModel        string        `env:"WHISPER_MODEL"`
	WhisperTimeout      time.Duration `env:"WHISPER_TIMEOUT" envDefault:"300s"`
	WhisperTemperature  float64       `env:"WHISPER_TEMPERATURE" envDefault:"0"`
	WhisperLanguage     string        `env:"WHISPER_LANGUAGE" envDefault:"en"`
	WhisperPrompt       string        `env:"WHISPER_PROMPT"`
	WhisperBeamSize     int           `env:"WHISPER_BEAM_SIZE" envDefault:"0"`
	ElevenLabsAPIKey    string        `env:"ELEVENLABS_API_KEY"`
	ElevenLabsModel     string        `env:"ELEVENLABS_MODEL" envDefault:"scribe_v1"`
	ElevenLabsKeyterms  string        `env:"ELEVENLABS_KEYTERMS"`
	DeepInfraAPIKey     string        `env:"DEEPINFRA_API_KEY"`
	DeepInfraModel      string        `env:"DEEPINFRA_MODEL" envDefault:"openai/whisper-large-v3-turbo"`
	PreprocessAudio     bool          `env:"PREPROCESS_AUDIO" envDefault:"false"`
	TranscribeWorkers   int           `env:"TRANSCRIBE_WORKERS" envDefault:"2"`
	TranscribeQueueSize int           `env:"TRANSCRIBE_QUEUE_SIZE" envDefault:"100"`

	// Diarization sidecar; empty disables overlap detection.
	DiarizeURL     string        `env:"DIARIZE_URL"`
	DiarizeTimeout time.Duration `env:"DIARIZE_TIMEOUT" envDefault:"600s"`

	OutputFormats []string `env:"OUTPUT_FORMATS" envDefault:"md,json" envSeparator:","`

	// S3 artifact storage; empty bucket keeps artifacts on local disk.
	S3 S3Config `envPrefix:"S3_"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"talkpace"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"talkpace"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"talkpace.events"`
}

// S3Config configures the S3-compatible artifact backend.
type S3Config struct {
	Bucket        string        `env:"BUCKET"`
	Endpoint      string        `env:"ENDPOINT"`
	Region        string        `env:"REGION" envDefault:"us-east-1"`
	AccessKey     string        `env:"ACCESS_KEY"`
	SecretKey     string        `env:"SECRET_KEY"`
	Prefix        string        `env:"PREFIX"`
	PresignExpiry time.Duration `env:"PRESIGN_EXPIRY" envDefault:"1h"`
}

// Enabled reports whether an S3 bucket is configured.
func (s S3Config) Enabled() bool { return s.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	AudioDir    string
	WatchDir    string
	Profile     string
}

// Load reads configuration from .env file, environment variables, an
// optional YAML analysis profile and CLI overrides.
// Priority: CLI flags > analysis profile > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.Profile != "" {
		cfg.AnalysisProfile = overrides.Profile
	}
	if cfg.AnalysisProfile != "" {
		if err := cfg.applyProfile(cfg.AnalysisProfile); err != nil {
			return nil, err
		}
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.AudioDir != "" {
		cfg.AudioDir = overrides.AudioDir
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Profile is the YAML analysis profile. Only keys present in the file
// override the environment.
type Profile struct {
	Analysis struct {
		BucketSeconds    *float64 `yaml:"bucket_seconds"`
		BucketTolerance  *float64 `yaml:"bucket_tolerance"`
		GapThreshold     *float64 `yaml:"gap_threshold"`
		TimingRepair     *bool    `yaml:"timing_repair"`
		OverlapDetection *bool    `yaml:"overlap_detection"`
		MinBucketSeconds *float64 `yaml:"min_bucket_seconds"`

		UncertaintyThreshold *float64 `yaml:"uncertainty_threshold"`
	} `yaml:"analysis"`
	Output struct {
		Formats []string `yaml:"formats"`
	} `yaml:"output"`
}

func (c *Config) applyProfile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read analysis profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse analysis profile %s: %w", path, err)
	}

	a := p.Analysis
	setFloat(&c.BucketSeconds, a.BucketSeconds)
	setFloat(&c.BucketTolerance, a.BucketTolerance)
	setFloat(&c.GapThreshold, a.GapThreshold)
	setFloat(&c.MinBucketSeconds, a.MinBucketSeconds)
	setFloat(&c.UncertaintyThreshold, a.UncertaintyThreshold)
	if a.TimingRepair != nil {
		c.TimingRepair = *a.TimingRepair
	}
	if a.OverlapDetection != nil {
		c.OverlapDetection = *a.OverlapDetection
	}
	if len(p.Output.Formats) > 0 {
		c.OutputFormats = p.Output.Formats
	}
	return nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// AnalysisOptions returns the analysis settings as pipeline options.
func (c *Config) AnalysisOptions() analysis.Options {
	return analysis.Options{
		BucketSeconds:    c.BucketSeconds,
		Tolerance:        c.BucketTolerance,
		GapThreshold:     c.GapThreshold,
		TimingRepair:     c.TimingRepair,
		DetectOverlap:    c.OverlapDetection,
		MinBucketSeconds: c.MinBucketSeconds,

		UncertaintyThreshold: c.UncertaintyThreshold,
	}
}

var validFormats = map[string]bool{"md": true, "json": true, "csv": true, "srt": true}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if err := c.AnalysisOptions().Validate(); err != nil {
		errs = append(errs, err)
	}

	switch c.STTProvider {
	case "whisper":
		if c.WhisperURL == "" {
			errs = append(errs, errors.New("WHISPER_URL is required for STT_PROVIDER=whisper"))
		}
	case "elevenlabs":
		if c.ElevenLabsAPIKey == "" {
			errs = append(errs, errors.New("ELEVENLABS_API_KEY is required for STT_PROVIDER=elevenlabs"))
		}
	case "deepinfra":
		if c.DeepInfraAPIKey == "" {
			errs = append(errs, errors.New("DEEPINFRA_API_KEY is required for STT_PROVIDER=deepinfra"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STT_PROVIDER %q", c.STTProvider))
	}

	for i, f := range c.OutputFormats {
		f = strings.ToLower(strings.TrimSpace(f))
		c.OutputFormats[i] = f
		if !validFormats[f] {
			errs = append(errs, fmt.Errorf("unknown output format %q", f))
		}
	}

	if c.TranscribeWorkers < 1 {
		errs = append(errs, fmt.Errorf("TRANSCRIBE_WORKERS must be at least 1, got %d", c.TranscribeWorkers))
	}
	return errors.Join(errs...)
}
