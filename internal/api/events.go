package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/talkpace/internal/events"
)

// EventSource is the live event feed behind the SSE endpoint.
type EventSource interface {
	Subscribe(filter events.Filter) (<-chan events.Event, func())
	ReplaySince(lastEventID string, filter events.Filter) []events.Event
}

type EventsHandler struct {
	live      EventSource
	keepalive time.Duration
}

func NewEventsHandler(live EventSource) *EventsHandler {
	return &EventsHandler{live: live, keepalive: 15 * time.Second}
}

// StreamEvents opens an SSE connection and pushes filtered job events.
// Query params: types (comma-separated, "job.*" allowed), job_id.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	filter := events.Filter{Types: QueryStringList(r, "types")}
	if v, ok := QueryString(r, "job_id"); ok {
		filter.JobID = v
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := h.live.Subscribe(filter)
	defer cancel()

	sent := make(map[string]bool)
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, e := range h.live.ReplaySince(lastEventID, filter) {
			writeEvent(w, e)
			sent[e.ID] = true
		}
	}
	if err := rc.Flush(); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("SSE flush not supported")
		return
	}

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Strs("types", filter.Types).Str("job_id", filter.JobID).Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if sent[event.ID] {
				delete(sent, event.ID)
				continue
			}
			writeEvent(w, event)
			rc.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			rc.Flush()
		}
	}
}

func writeEvent(w io.Writer, e events.Event) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events/stream", h.StreamEvents)
}
