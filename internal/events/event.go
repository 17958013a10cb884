package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types published over the job lifecycle.
const (
	JobQueued    = "job.queued"
	JobStarted   = "job.started"
	JobCompleted = "job.completed"
	JobFailed    = "job.failed"
)

// Event is one lifecycle notification. Data is the JSON-encoded payload.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	JobID     string          `json:"job_id,omitempty"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// New builds an event with a fresh ID and the current time.
func New(typ, jobID string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		JobID:     jobID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}, nil
}

// Publisher delivers events to some sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Filter selects events for a subscriber. Empty fields match everything.
type Filter struct {
	Types []string
	JobID string
}

// Matches reports whether e passes the filter. A type ending in ".*"
// matches by prefix, e.g. "job.*".
func (f Filter) Matches(e Event) bool {
	if f.JobID != "" && e.JobID != f.JobID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		t = strings.TrimSpace(t)
		if prefix, ok := strings.CutSuffix(t, "*"); ok {
			if strings.HasPrefix(e.Type, prefix) {
				return true
			}
			continue
		}
		if t == e.Type {
			return true
		}
	}
	return false
}
