package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/talkpace/internal/analysis"
	"github.com/snarg/talkpace/internal/ingest"
	"github.com/snarg/talkpace/internal/transcribe"
)

// HealthChecker is anything that can report its own reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnChecker reports broker connectivity.
type ConnChecker interface {
	IsConnected() bool
}

// WatcherStatusSource reports the file watcher state.
type WatcherStatusSource interface {
	Status() ingest.WatcherStatus
}

// QueueStatsSource reports transcription queue state.
type QueueStatsSource interface {
	Stats() transcribe.QueueStats
}

type HealthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Checks        map[string]string      `json:"checks"`
	Queue         *transcribe.QueueStats `json:"queue,omitempty"`
	Watcher       *ingest.WatcherStatus  `json:"watcher,omitempty"`
}

type HealthHandler struct {
	db          HealthChecker
	mqtt        ConnChecker
	watcher     WatcherStatusSource
	queue       QueueStatsSource
	diarization analysis.Availability
	storageType string
	version     string
	startTime   time.Time
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Database check
	if h.db == nil {
		checks["database"] = "not_configured"
	} else if err := h.db.HealthCheck(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	// Overlap detection degrades to "unknown" records; not an outage.
	if _, ok := h.diarization.Diarizer(); ok {
		checks["diarization"] = "ok"
	} else {
		checks["diarization"] = "unavailable"
	}

	if h.storageType != "" {
		checks["storage"] = h.storageType
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	if h.queue != nil {
		qs := h.queue.Stats()
		resp.Queue = &qs
		checks["transcription"] = "ok"
	} else {
		checks["transcription"] = "not_configured"
	}
	if h.watcher != nil {
		ws := h.watcher.Status()
		resp.Watcher = &ws
		checks["file_watcher"] = ws.Status
	}

	WriteJSON(w, httpStatus, resp)
}
