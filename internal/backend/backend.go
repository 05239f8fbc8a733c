// Package backend defines the capability every extraction backend offers to
// the orchestrator.
package backend

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/progress"
	"github.com/italolelis/mediafetch/internal/quality"
)

// Backend retrieves one media resource. Attempt never panics and never
// returns a Go error: every failure is reported in the result.
type Backend interface {
	ID() media.BackendID
	Attempt(ctx context.Context, req media.Request, sel quality.Selector, sink progress.Sink) media.AttemptResult
}

// Safe wraps b so that a panic inside Attempt becomes an unexpected failure.
func Safe(b Backend) Backend {
	return &safeBackend{inner: b}
}

type safeBackend struct {
	inner Backend
}

func (s *safeBackend) ID() media.BackendID {
	return s.inner.ID()
}

func (s *safeBackend) Attempt(ctx context.Context, req media.Request, sel quality.Selector, sink progress.Sink) (res media.AttemptResult) {
	defer func() {
		if r := recover(); r != nil {
			logctx.LoggerFromContext(ctx).Error("backend panicked",
				"backend", s.inner.ID(),
				"panic", r,
				"stack", string(debug.Stack()),
			)

			res = media.AttemptResult{
				Backend: s.inner.ID(),
				Failure: &media.Failure{Kind: media.ErrUnexpected, Detail: fmt.Sprintf("panic: %v", r)},
			}
		}
	}()

	return s.inner.Attempt(ctx, req, sel, sink)
}
