// Package trace logs and measures every HTTP request.
package trace

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"

	"invoiceflow/internal/log"
)

// Observer receives the outcome of each request; *metrics.Metrics implements it.
type Observer interface {
	ObserveRequest(method, route string, status int, d time.Duration)
}

// Middleware handles request tracing and logging. It expects chi's
// RequestID middleware to run first.
type Middleware struct {
	logger    *log.Logger
	extractIP func(*http.Request) string
	observer  Observer
}

// NewMiddleware creates a new trace middleware. observer may be nil.
func NewMiddleware(logger *log.Logger, extractIP func(*http.Request) string, observer Observer) *Middleware {
	return &Middleware{
		logger:    logger,
		extractIP: extractIP,
		observer:  observer,
	}
}

// Middleware returns HTTP middleware for request tracing
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	withLogger := log.Middleware(m.logger, RequestID)

	return withLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}

		log.FromContext(ctx).DebugContext(ctx, "HTTP request started",
			log.NewFields().WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery).ToSlice()...)

		ww := chimid.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		log.LogHTTPEnd(ctx, r, status, duration.Milliseconds(), clientIP)

		if m.observer != nil {
			route := ""
			if rc := chi.RouteContext(ctx); rc != nil {
				route = rc.RoutePattern()
			}
			m.observer.ObserveRequest(r.Method, route, status, duration)
		}
	}))
}

// RequestID extracts the request ID assigned by chi.
func RequestID(r *http.Request) string {
	return chimid.GetReqID(r.Context())
}
