package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// InstrumentedFunc is the unit of work wrapped by the Instrument helpers.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation runs fn inside a span named name. Span attributes must
// be low cardinality.
func (t *Telemetry) InstrumentOperation(ctx context.Context, name, component string, fn InstrumentedFunc, attrs ...attribute.KeyValue) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	ctx, span := t.tracer.Start(ctx, name)
	defer span.End()

	span.SetAttributes(append(attrs, attribute.String("component", component))...)

	err := fn(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(attribute.String("status", statusOf(err)))

	return err
}

// InstrumentDBOperation traces a repository call and records its latency.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentDownload traces one request from validation to outcome and keeps
// the active downloads gauge current while it runs.
func (t *Telemetry) InstrumentDownload(ctx context.Context, kind string, fn InstrumentedFunc) error {
	start := time.Now()

	t.IncrementActiveDownloads()
	defer t.DecrementActiveDownloads()

	err := t.InstrumentOperation(ctx, "download", "orchestrator", fn, attribute.String("download.kind", kind))

	t.RecordDownload(statusOf(err), time.Since(start))

	return err
}

// InstrumentAttempt traces one backend attempt.
func (t *Telemetry) InstrumentAttempt(ctx context.Context, backend string, fn InstrumentedFunc) error {
	err := t.InstrumentOperation(ctx, "attempt", "backend", fn, attribute.String("backend", backend))

	t.RecordAttempt(backend, statusOf(err))

	return err
}

func statusOf(err error) string {
	if err == nil {
		return "success"
	}

	return "error"
}
