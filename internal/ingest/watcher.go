package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/snarg/talkpace/internal/audio"
)

// DefaultDebounce is how long a file must stay quiet before it is handed
// off. Recorders write in several chunks; this coalesces Create+Write.
const DefaultDebounce = 500 * time.Millisecond

// Handler receives the absolute path of a settled audio file.
type Handler func(ctx context.Context, path string) error

// WatcherStatus is the watcher state reported by the health endpoint.
type WatcherStatus struct {
	Status         string `json:"status"`
	WatchDir       string `json:"watch_dir"`
	FilesProcessed int64  `json:"files_processed"`
	FilesSkipped   int64  `json:"files_skipped"`
}

// WatcherOptions configures a FileWatcher.
type WatcherOptions struct {
	Dir      string
	Backfill bool // submit files already present at start
	Debounce time.Duration
	Handler  Handler
	Log      zerolog.Logger
}

// FileWatcher monitors a directory tree for new audio files and passes each
// one to a Handler once it has stopped changing.
type FileWatcher struct {
	dir      string
	backfill bool
	debounce time.Duration
	handle   Handler
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
	seen           map[string]bool

	filesProcessed atomic.Int64
	filesSkipped   atomic.Int64
	status         atomic.Value // "starting", "backfilling", "watching", "stopped"
}

// NewFileWatcher creates a watcher. Call Start to begin watching.
func NewFileWatcher(opts WatcherOptions) *FileWatcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	fw := &FileWatcher{
		dir:            opts.Dir,
		backfill:       opts.Backfill,
		debounce:       opts.Debounce,
		handle:         opts.Handler,
		log:            opts.Log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
		seen:           make(map[string]bool),
	}
	fw.status.Store("starting")
	return fw
}

// Start adds every directory under the watch root to fsnotify and begins
// processing events. With backfill enabled, existing files are submitted
// oldest-first in the background.
func (fw *FileWatcher) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	fw.watcher = w
	fw.ctx, fw.cancel = context.WithCancel(ctx)

	dirCount := 0
	err = filepath.WalkDir(fw.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fw.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil
		}
		if d.IsDir() {
			if addErr := w.Add(path); addErr != nil {
				fw.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		w.Close()
		return err
	}

	fw.log.Info().
		Int("directories", dirCount).
		Str("watch_dir", fw.dir).
		Msg("file watcher initialized")

	fw.wg.Add(1)
	go fw.watchLoop()

	if fw.backfill {
		fw.wg.Add(1)
		go fw.runBackfill()
	} else {
		fw.status.Store("watching")
	}
	return nil
}

// Stop closes the fsnotify watcher, cancels pending debounce timers and
// waits for the event loop to exit.
func (fw *FileWatcher) Stop() {
	fw.status.Store("stopped")
	if fw.cancel != nil {
		fw.cancel()
	}
	if fw.watcher != nil {
		fw.watcher.Close()
	}
	fw.debounceMu.Lock()
	for path, t := range fw.debounceTimers {
		t.Stop()
		delete(fw.debounceTimers, path)
	}
	fw.debounceMu.Unlock()
	fw.wg.Wait()

	fw.log.Info().
		Int64("files_processed", fw.filesProcessed.Load()).
		Int64("files_skipped", fw.filesSkipped.Load()).
		Msg("file watcher stopped")
}

// Status returns the current watcher status for the health endpoint.
func (fw *FileWatcher) Status() WatcherStatus {
	s, _ := fw.status.Load().(string)
	return WatcherStatus{
		Status:         s,
		WatchDir:       fw.dir,
		FilesProcessed: fw.filesProcessed.Load(),
		FilesSkipped:   fw.filesSkipped.Load(),
	}
}

func (fw *FileWatcher) watchLoop() {
	defer fw.wg.Done()
	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// New subdirectory: watch it too.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := fw.watcher.Add(event.Name); err != nil {
					fw.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				} else {
					fw.log.Debug().Str("path", event.Name).Msg("watching new directory")
				}
				continue
			}

			if !audio.IsSupported(event.Name) || isHidden(event.Name) {
				continue
			}
			fw.scheduleProcess(event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleProcess restarts the file's debounce timer.
func (fw *FileWatcher) scheduleProcess(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if t, ok := fw.debounceTimers[path]; ok {
		t.Reset(fw.debounce)
		return
	}

	fw.debounceTimers[path] = time.AfterFunc(fw.debounce, func() {
		fw.debounceMu.Lock()
		delete(fw.debounceTimers, path)
		fw.debounceMu.Unlock()

		fw.processFile(path)
	})
}

// processFile hands a file to the handler at most once per watcher.
func (fw *FileWatcher) processFile(path string) {
	if fw.ctx.Err() != nil {
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	fw.debounceMu.Lock()
	dup := fw.seen[abs]
	fw.seen[abs] = true
	fw.debounceMu.Unlock()
	if dup {
		fw.filesSkipped.Add(1)
		return
	}

	info, err := os.Stat(abs)
	if err != nil || info.IsDir() || info.Size() == 0 {
		fw.filesSkipped.Add(1)
		fw.log.Debug().Str("path", abs).Msg("skipping empty or vanished file")
		fw.debounceMu.Lock()
		delete(fw.seen, abs)
		fw.debounceMu.Unlock()
		return
	}

	if err := fw.handle(fw.ctx, abs); err != nil {
		fw.log.Warn().Err(err).Str("path", abs).Msg("failed to submit watched file")
		return
	}
	fw.filesProcessed.Add(1)
}

// runBackfill submits files already in the watch directory, oldest first.
func (fw *FileWatcher) runBackfill() {
	defer fw.wg.Done()
	fw.status.Store("backfilling")
	start := time.Now()

	type fileEntry struct {
		path    string
		modTime time.Time
	}
	var files []fileEntry

	_ = filepath.WalkDir(fw.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !audio.IsSupported(path) || isHidden(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, fileEntry{path: path, modTime: info.ModTime()})
		return nil
	})

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	fw.log.Info().Int("files", len(files)).Msg("backfill starting")

	for i, f := range files {
		if fw.ctx.Err() != nil {
			fw.log.Info().Int("processed", i).Msg("backfill interrupted by shutdown")
			return
		}
		fw.processFile(f.path)
	}

	if fw.ctx.Err() == nil {
		fw.status.Store("watching")
	}
	fw.log.Info().
		Int("files", len(files)).
		Dur("elapsed", time.Since(start)).
		Msg("backfill complete")
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
