package backend

import (
	"context"

	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/progress"
	"github.com/italolelis/mediafetch/internal/quality"
	"github.com/italolelis/mediafetch/internal/telemetry"
)

// InstrumentedBackend wraps a Backend with telemetry.
type InstrumentedBackend struct {
	backend   Backend
	telemetry *telemetry.Telemetry
}

// NewInstrumented creates a new instrumented backend.
func NewInstrumented(b Backend, tel *telemetry.Telemetry) *InstrumentedBackend {
	return &InstrumentedBackend{
		backend:   b,
		telemetry: tel,
	}
}

func (b *InstrumentedBackend) ID() media.BackendID {
	return b.backend.ID()
}

// Attempt runs one attempt with telemetry.
func (b *InstrumentedBackend) Attempt(ctx context.Context, req media.Request, sel quality.Selector, sink progress.Sink) media.AttemptResult {
	var result media.AttemptResult

	_ = b.telemetry.InstrumentAttempt(ctx, string(b.backend.ID()), func(ctx context.Context) error {
		result = b.backend.Attempt(ctx, req, sel, sink)
		if result.Failure != nil {
			return result.Failure
		}

		return nil
	})

	return result
}
