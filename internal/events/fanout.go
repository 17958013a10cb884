package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Fanout publishes each event to every configured sink. A failing sink
// does not stop delivery to the others.
type Fanout struct {
	sinks []namedSink
	log   zerolog.Logger
}

type namedSink struct {
	name string
	pub  Publisher
}

// NewFanout creates an empty fan-out publisher.
func NewFanout(log zerolog.Logger) *Fanout {
	return &Fanout{log: log.With().Str("component", "events").Logger()}
}

// Add registers a sink. Nil publishers are ignored.
func (f *Fanout) Add(name string, p Publisher) {
	if p == nil {
		return
	}
	f.sinks = append(f.sinks, namedSink{name: name, pub: p})
}

// Sinks returns the registered sink names.
func (f *Fanout) Sinks() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.name
	}
	return names
}

// Publish delivers e to all sinks and joins their errors.
func (f *Fanout) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.pub.Publish(ctx, e); err != nil {
			f.log.Warn().Err(err).Str("sink", s.name).Str("type", e.Type).Msg("event publish failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Emit builds and publishes an event, logging instead of returning errors.
// Nil publishers are allowed.
func Emit(ctx context.Context, p Publisher, log zerolog.Logger, typ, jobID string, payload any) {
	if p == nil {
		return
	}
	e, err := New(typ, jobID, payload)
	if err != nil {
		log.Warn().Err(err).Str("type", typ).Msg("failed to build event")
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		log.Debug().Err(err).Str("type", typ).Str("job_id", jobID).Msg("event not fully delivered")
	}
}
