// Package events carries lifecycle, progress and log events from the
// orchestrator to its observers.
package events

import (
	"time"

	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/progress"
)

// Type identifies what an Event carries.
type Type string

const (
	TypeStatus   Type = "status"
	TypeProgress Type = "progress"
	TypeLog      Type = "log"
	TypeOutcome  Type = "outcome"
)

// Event is one notification about a request.
type Event struct {
	DownloadID string           `json:"download_id"`
	Type       Type             `json:"type"`
	Record     *progress.Record `json:"record,omitempty"`
	Line       string           `json:"line,omitempty"`
	Outcome    *media.Outcome   `json:"outcome,omitempty"`
	At         time.Time        `json:"at"`
}

// Droppable reports whether e may be coalesced or dropped for a slow observer.
// Status and outcome events are always delivered.
func (e Event) Droppable() bool {
	return e.Type == TypeProgress || e.Type == TypeLog
}

// Sink receives events.
type Sink interface {
	Publish(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event)

func (f SinkFunc) Publish(e Event) {
	f(e)
}

// Callback returns a Sink calling fn synchronously for every event. It suits
// observers that render inline, like the CLI.
func Callback(fn func(e Event)) Sink {
	return SinkFunc(fn)
}

type fanout []Sink

func (f fanout) Publish(e Event) {
	for _, s := range f {
		s.Publish(e)
	}
}

// Fanout publishes every event to each non-nil sink in order.
func Fanout(sinks ...Sink) Sink {
	out := make(fanout, 0, len(sinks))

	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}

	return out
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})
