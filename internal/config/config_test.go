package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"DATABASE_URL":   "postgres://localhost/test",
		"GAP_THRESHOLD":  "2.0",
		"OUTPUT_FORMATS": "md, SRT",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.BucketSeconds != 4.0 {
			t.Errorf("BucketSeconds = %v, want 4.0", cfg.BucketSeconds)
		}
		if cfg.UncertaintyThreshold != 0.4 {
			t.Errorf("UncertaintyThreshold = %v, want 0.4", cfg.UncertaintyThreshold)
		}
		if cfg.BucketTolerance != 0.25 {
			t.Errorf("BucketTolerance = %v, want 0.25", cfg.BucketTolerance)
		}
		if !cfg.TimingRepair {
			t.Error("TimingRepair = false, want true")
		}
		if !cfg.OverlapDetection {
			t.Error("OverlapDetection = false, want true")
		}
		if cfg.STTProvider != "whisper" {
			t.Errorf("STTProvider = %q, want whisper", cfg.STTProvider)
		}
		if cfg.MQTTTopicPrefix != "talkpace" {
			t.Errorf("MQTTTopicPrefix = %q, want talkpace", cfg.MQTTTopicPrefix)
		}
	})

	t.Run("env_vars_read", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.DatabaseURL != "postgres://localhost/test" {
			t.Errorf("DatabaseURL = %q, want postgres://localhost/test", cfg.DatabaseURL)
		}
		if cfg.GapThreshold != 2.0 {
			t.Errorf("GapThreshold = %v, want 2.0", cfg.GapThreshold)
		}
		if len(cfg.OutputFormats) != 2 || cfg.OutputFormats[0] != "md" || cfg.OutputFormats[1] != "srt" {
			t.Errorf("OutputFormats = %v, want [md srt]", cfg.OutputFormats)
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:     "nonexistent.env",
			HTTPAddr:    ":9090",
			LogLevel:    "debug",
			DatabaseURL: "postgres://override/db",
			AudioDir:    "/tmp/audio",
			WatchDir:    "/tmp/inbox",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.DatabaseURL != "postgres://override/db" {
			t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
		}
		if cfg.AudioDir != "/tmp/audio" {
			t.Errorf("AudioDir = %q, want /tmp/audio", cfg.AudioDir)
		}
		if cfg.WatchDir != "/tmp/inbox" {
			t.Errorf("WatchDir = %q, want /tmp/inbox", cfg.WatchDir)
		}
	})
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	profile := `
analysis:
  bucket_seconds: 6
  gap_threshold: 1.0
  uncertainty_threshold: 0.55
  overlap_detection: false
output:
  formats: [csv]
`
	if err := os.WriteFile(path, []byte(profile), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(Overrides{EnvFile: "nonexistent.env", Profile: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	opts := cfg.AnalysisOptions()
	if opts.BucketSeconds != 6 {
		t.Errorf("BucketSeconds = %v, want 6", opts.BucketSeconds)
	}
	if opts.GapThreshold != 1.0 {
		t.Errorf("GapThreshold = %v, want 1.0", opts.GapThreshold)
	}
	if opts.DetectOverlap {
		t.Error("DetectOverlap = true, want false from profile")
	}
	if opts.UncertaintyThreshold != 0.55 {
		t.Errorf("UncertaintyThreshold = %v, want 0.55 from profile", opts.UncertaintyThreshold)
	}
	if opts.Tolerance != 0.25 {
		t.Errorf("Tolerance = %v, want untouched default 0.25", opts.Tolerance)
	}
	if !opts.TimingRepair {
		t.Error("TimingRepair = false, want untouched default true")
	}
	if len(cfg.OutputFormats) != 1 || cfg.OutputFormats[0] != "csv" {
		t.Errorf("OutputFormats = %v, want [csv]", cfg.OutputFormats)
	}
}

func TestLoadProfileMissing(t *testing.T) {
	_, err := Load(Overrides{EnvFile: "nonexistent.env", Profile: "/nonexistent/profile.yaml"})
	if err == nil {
		t.Error("expected error for missing profile")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		envs map[string]string
	}{
		{"bad tolerance", map[string]string{"BUCKET_TOLERANCE": "5"}},
		{"unknown provider", map[string]string{"STT_PROVIDER": "carrier-pigeon"}},
		{"elevenlabs without key", map[string]string{"STT_PROVIDER": "elevenlabs", "ELEVENLABS_API_KEY": ""}},
		{"unknown format", map[string]string{"OUTPUT_FORMATS": "md,docx"}},
		{"zero workers", map[string]string{"TRANSCRIBE_WORKERS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanup := setEnvs(t, tt.envs)
			defer cleanup()
			if _, err := Load(Overrides{EnvFile: "nonexistent.env"}); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
