package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type HTTPMiddleware struct {
	telemetry *Telemetry
}

func NewHTTPMiddleware(telemetry *Telemetry) *HTTPMiddleware {
	return &HTTPMiddleware{telemetry: telemetry}
}

// Tracing starts a server span per request.
func (m *HTTPMiddleware) Tracing(next http.Handler) http.Handler {
	if !m.telemetry.enabled() {
		return next
	}

	return otelhttp.NewHandler(next, "http_request",
		otelhttp.WithMeterProvider(m.telemetry.provider),
	)
}

// Middleware records request rate, errors and duration, labelled by route.
func (m *HTTPMiddleware) Middleware(next http.Handler) http.Handler {
	if !m.telemetry.enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		m.telemetry.trackHTTPInFlight(1)
		defer m.telemetry.trackHTTPInFlight(-1)

		sr := recordStatus(w)
		next.ServeHTTP(sr, r)

		m.telemetry.RecordHTTPRequest(r.Method, routePattern(r), statusClass(sr.status), time.Since(start))
	})
}

// routePattern uses the matched chi pattern so path labels stay bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}

	return "unmatched"
}

func statusClass(code int) string {
	if code < 200 || code > 599 {
		return "unknown"
	}

	return fmt.Sprintf("%dxx", code/100)
}
