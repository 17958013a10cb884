package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/talkpace/internal/config"
)

func TestLocalStore_SaveOpen(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir)
	ctx := context.Background()

	if err := s.Save(ctx, "job-1/transcript.md", []byte("# hi\n"), "text/markdown"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.Exists(ctx, "job-1/transcript.md") {
		t.Error("Exists = false after Save")
	}

	rc, err := s.Open(ctx, "job-1/transcript.md")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "# hi\n" {
		t.Errorf("content = %q", got)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(filepath.Join(dir, "job-1"))
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1", len(entries))
	}
}

func TestLocalStore_Overwrite(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()
	_ = s.Save(ctx, "a/b.json", []byte("1"), "application/json")
	if err := s.Save(ctx, "a/b.json", []byte("2"), "application/json"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rc, _ := s.Open(ctx, "a/b.json")
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "2" {
		t.Errorf("content = %q, want 2", got)
	}
}

func TestLocalStore_Missing(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	_, err := s.Open(context.Background(), "nope/x.md")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Open err = %v, want ErrNotFound", err)
	}
	if s.Exists(context.Background(), "nope/x.md") {
		t.Error("Exists = true for missing key")
	}
}

func TestLocalStore_RejectsEscapes(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	for _, key := range []string{"../x", "a/../../x", "/etc/passwd", ""} {
		if err := s.Save(context.Background(), key, []byte("x"), ""); err == nil {
			t.Errorf("Save(%q) succeeded, want error", key)
		}
	}
}

func TestLocalStore_URLAndType(t *testing.T) {
	s := NewLocalStore("out")
	if u, err := s.URL(context.Background(), "k"); u != "" || err != nil {
		t.Errorf("URL = %q, %v", u, err)
	}
	if s.Type() != "local" {
		t.Errorf("Type = %q", s.Type())
	}
}

func TestNew_LocalWhenS3Disabled(t *testing.T) {
	st, err := New(config.S3Config{}, t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if st.Type() != "local" {
		t.Errorf("Type = %q, want local", st.Type())
	}
}

func TestS3ObjectKey(t *testing.T) {
	tests := []struct {
		prefix, key, want string
	}{
		{"", "j/t.md", "artifacts/j/t.md"},
		{"prod", "j/t.md", "prod/artifacts/j/t.md"},
	}
	for _, tt := range tests {
		s := &S3Store{prefix: tt.prefix}
		if got := s.objectKey(tt.key); got != tt.want {
			t.Errorf("objectKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
