package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/talkpace/internal/analysis"
	"github.com/snarg/talkpace/internal/config"
	"github.com/snarg/talkpace/internal/database"
	"github.com/snarg/talkpace/internal/transcribe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEngineOutput(t *testing.T) {
	t.Run("object", func(t *testing.T) {
		doc, err := parseEngineOutput([]byte(`{"title":"standup","segments":[{"text":"hi","start":0,"end":1}],"words":[{"word":"x","start":1,"end":2}]}`))
		require.NoError(t, err)
		assert.Equal(t, "standup", doc.Title)
		assert.Len(t, doc.Segments, 1)
		assert.Len(t, doc.Words, 1)
	})

	t.Run("bare array", func(t *testing.T) {
		doc, err := parseEngineOutput([]byte("  [{\"text\":\"hi\",\"start\":0,\"end\":1}]\n"))
		require.NoError(t, err)
		assert.Len(t, doc.Segments, 1)
		assert.Empty(t, doc.Words)
	})

	t.Run("empty object", func(t *testing.T) {
		_, err := parseEngineOutput([]byte(`{"title":"nothing"}`))
		assert.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := parseEngineOutput([]byte(`{"segments":`))
		assert.Error(t, err)
	})
}

func TestReadEngineOutput_MissingFile(t *testing.T) {
	_, err := readEngineOutput(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestNewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		log, done := newLogger(&config.Config{LogLevel: "warn", LogFormat: "json"}, &buf)
		defer done()
		log.Info().Msg("hidden")
		log.Warn().Msg("shown")
		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, `"message":"shown"`)
	})

	t.Run("bad level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		log, done := newLogger(&config.Config{LogLevel: "loud"}, &buf)
		defer done()
		log.Debug().Msg("debug")
		log.Info().Msg("info")
		assert.NotContains(t, buf.String(), `"debug"`)
		assert.Contains(t, buf.String(), `"message":"info"`)
	})

	t.Run("file", func(t *testing.T) {
		var buf bytes.Buffer
		path := filepath.Join(t.TempDir(), "talkpace.log")
		log, done := newLogger(&config.Config{LogLevel: "info", LogFormat: "console", LogFile: path}, &buf)
		log.Info().Str("job_id", "j1").Msg("written")
		done()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"job_id":"j1"`)
		assert.Contains(t, buf.String(), "written")
		assert.False(t, strings.HasPrefix(buf.String(), "{"), "console output should not be JSON")
	})
}

func newIdlePool(store database.Store) *transcribe.WorkerPool {
	return transcribe.NewWorkerPool(transcribe.WorkerPoolOptions{
		Store:     store,
		Analysis:  analysis.DefaultOptions(),
		QueueSize: 1,
		Log:       zerolog.Nop(),
	})
}

func TestSubmitWatched(t *testing.T) {
	store := database.NewMemStore()
	pool := newIdlePool(store)

	require.NoError(t, submitWatched(pool)(context.Background(), "/data/in/call.mp3"))

	jobs, total, err := store.ListJobs(context.Background(), database.JobFilter{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "watch", jobs[0].Source)
	assert.Equal(t, "call.mp3", jobs[0].Filename)
	assert.Equal(t, "/data/in/call.mp3", jobs[0].AudioPath)
	assert.Equal(t, database.JobQueued, jobs[0].Status)
}

func TestSubmitWatched_StoppedPool(t *testing.T) {
	pool := newIdlePool(database.NewMemStore())
	pool.Stop()

	err := submitWatched(pool)(context.Background(), "/data/in/call.mp3")
	require.Error(t, err)
	assert.ErrorIs(t, err, transcribe.ErrQueueFull)
	assert.Contains(t, err.Error(), "call.mp3")
}
