package output

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

type format struct {
	ext         string
	contentType string
	write       func(io.Writer, *Document) error
}

var formats = map[string]format{
	"md":   {"md", "text/markdown; charset=utf-8", WriteMarkdown},
	"json": {"json", "application/json", WriteJSON},
	"csv":  {"csv", "text/csv; charset=utf-8", WriteCSV},
	"srt":  {"srt", "application/x-subrip", WriteSRT},
}

// Formats lists the supported output format names.
func Formats() []string {
	return []string{"md", "json", "csv", "srt"}
}

// Supported reports whether name is a known format.
func Supported(name string) bool {
	_, ok := formats[name]
	return ok
}

// ContentType returns the MIME type for a format.
func ContentType(name string) string {
	return formats[name].contentType
}

// Render writes doc in the named format.
func Render(name string, doc *Document) ([]byte, error) {
	f, ok := formats[name]
	if !ok {
		return nil, fmt.Errorf("unknown output format %q", name)
	}
	var buf bytes.Buffer
	if err := f.write(&buf, doc); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// Key returns the artifact key for a format under prefix, e.g.
// "<job id>/transcript.md".
func Key(prefix, name string) string {
	return prefix + "/transcript." + formats[name].ext
}

// Saver is the subset of storage.ArtifactStore used to persist renders.
type Saver interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
}

// WriteAll renders every requested format concurrently and saves each
// under prefix. It returns format -> key for the saved artifacts. The
// first failure cancels the remaining saves.
func WriteAll(ctx context.Context, store Saver, prefix string, names []string, doc *Document) (map[string]string, error) {
	for _, name := range names {
		if !Supported(name) {
			return nil, fmt.Errorf("unknown output format %q", name)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	keys := make(map[string]string, len(names))
	for _, name := range names {
		g.Go(func() error {
			data, err := Render(name, doc)
			if err != nil {
				return err
			}
			key := Key(prefix, name)
			if err := store.Save(ctx, key, data, ContentType(name)); err != nil {
				return fmt.Errorf("save %s: %w", key, err)
			}
			mu.Lock()
			keys[name] = key
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}
