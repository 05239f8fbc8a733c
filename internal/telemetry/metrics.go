package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Labels must stay bounded: backend ids, media kinds, statuses and component
// names are fine. Download ids, URLs and paths belong in logs.

type instruments struct {
	httpRequests    metric.Int64Counter
	httpDuration    metric.Float64Histogram
	httpInFlight    metric.Int64UpDownCounter
	downloads       metric.Int64Counter
	downloadsActive metric.Int64UpDownCounter
	downloadSeconds metric.Float64Histogram
	attempts        metric.Int64Counter
	fallbacks       metric.Int64Counter
	conversions     metric.Int64Counter
	dbOperations    metric.Int64Counter
	dbSeconds       metric.Float64Histogram
	systemErrors    metric.Int64Counter
}

// instrumentBuilder collects creation errors so the instrument list reads as
// a flat declaration.
type instrumentBuilder struct {
	meter metric.Meter
	errs  []error
}

func (b *instrumentBuilder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("1"))
	b.track(name, err)

	return c
}

func (b *instrumentBuilder) gauge(name, desc string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit("1"))
	b.track(name, err)

	return c
}

func (b *instrumentBuilder) seconds(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
	b.track(name, err)

	return h
}

func (b *instrumentBuilder) track(name string, err error) {
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("%s: %w", name, err))
	}
}

func newInstruments(meter metric.Meter, started time.Time) (*instruments, error) {
	b := &instrumentBuilder{meter: meter}

	inst := &instruments{
		httpRequests:    b.counter("http_requests_total", "Total number of HTTP requests"),
		httpDuration:    b.seconds("http_request_duration_seconds", "HTTP request duration in seconds"),
		httpInFlight:    b.gauge("http_requests_in_flight", "Number of HTTP requests currently being processed"),
		downloads:       b.counter("downloads_total", "Total number of finished download requests"),
		downloadsActive: b.gauge("downloads_active", "Number of active download requests"),
		downloadSeconds: b.seconds("download_duration_seconds", "Download request duration in seconds"),
		attempts:        b.counter("attempts_total", "Total number of backend attempts"),
		fallbacks:       b.counter("fallbacks_total", "Total number of fallbacks to the next backend"),
		conversions:     b.counter("conversions_total", "Total number of post-processing results"),
		dbOperations:    b.counter("db_operations_total", "Total number of database operations"),
		dbSeconds:       b.seconds("db_operation_duration_seconds", "Database operation duration in seconds"),
		systemErrors:    b.counter("system_errors_total", "Total number of system errors"),
	}

	_, err := meter.Float64ObservableGauge("system_uptime_seconds",
		metric.WithDescription("System uptime in seconds"),
		metric.WithUnit("s"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(time.Since(started).Seconds())

			return nil
		}),
	)
	b.track("system_uptime_seconds", err)

	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	return inst, nil
}

type int64Adder interface {
	Add(ctx context.Context, incr int64, opts ...metric.AddOption)
}

func add(c int64Adder, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}

	c.Add(context.Background(), n, metric.WithAttributes(attrs...))
}

func observe(h metric.Float64Histogram, d time.Duration, attrs ...attribute.KeyValue) {
	if h == nil {
		return
	}

	h.Record(context.Background(), d.Seconds(), metric.WithAttributes(attrs...))
}

func (t *Telemetry) RecordHTTPRequest(method, route, statusClass string, d time.Duration) {
	if !t.enabled() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", route),
		attribute.String("status", statusClass),
	}

	add(t.inst.httpRequests, 1, attrs...)
	observe(t.inst.httpDuration, d, attrs...)
}

func (t *Telemetry) trackHTTPInFlight(delta int64) {
	if t.enabled() {
		add(t.inst.httpInFlight, delta)
	}
}

// RecordDownload records the end of one request.
func (t *Telemetry) RecordDownload(status string, d time.Duration) {
	if !t.enabled() {
		return
	}

	add(t.inst.downloads, 1, attribute.String("status", status))
	observe(t.inst.downloadSeconds, d, attribute.String("status", status))
}

func (t *Telemetry) IncrementActiveDownloads() {
	if t.enabled() {
		add(t.inst.downloadsActive, 1)
	}
}

func (t *Telemetry) DecrementActiveDownloads() {
	if t.enabled() {
		add(t.inst.downloadsActive, -1)
	}
}

// RecordAttempt counts one backend attempt by result.
func (t *Telemetry) RecordAttempt(backend, result string) {
	if t.enabled() {
		add(t.inst.attempts, 1, attribute.String("backend", backend), attribute.String("result", result))
	}
}

// RecordFallback counts a switch from one backend to the next.
func (t *Telemetry) RecordFallback(from, to string) {
	if t.enabled() {
		add(t.inst.fallbacks, 1, attribute.String("from", from), attribute.String("to", to))
	}
}

// RecordConversion counts post-processing results by conversion status.
func (t *Telemetry) RecordConversion(result string) {
	if t.enabled() {
		add(t.inst.conversions, 1, attribute.String("result", result))
	}
}

func (t *Telemetry) RecordDBOperation(operation, status string, d time.Duration) {
	if !t.enabled() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("status", status),
	}

	add(t.inst.dbOperations, 1, attrs...)
	observe(t.inst.dbSeconds, d, attrs...)
}

func (t *Telemetry) RecordSystemError(component, errorType string) {
	if t.enabled() {
		add(t.inst.systemErrors, 1, attribute.String("component", component), attribute.String("error_type", errorType))
	}
}
