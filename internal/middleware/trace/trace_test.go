package trace

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"

	"invoiceflow/internal/log"
)

type observed struct {
	method, route string
	status        int
}

type recorder struct {
	mu   sync.Mutex
	seen []observed
}

func (r *recorder) ObserveRequest(method, route string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, observed{method, route, status})
}

func TestMiddlewareLogsAndObserves(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Handler: slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})})
	rec := &recorder{}

	r := chi.NewRouter()
	r.Use(chimid.RequestID)
	r.Use(NewMiddleware(logger, func(*http.Request) string { return "203.0.113.9" }, rec).Middleware)
	r.Get("/invoices/{id}", func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).InfoContext(r.Context(), "handler ran")
		w.WriteHeader(http.StatusTeapot)
	})

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/invoices/42?x=1", nil))

	if res.Code != http.StatusTeapot {
		t.Fatalf("status = %d", res.Code)
	}
	if len(rec.seen) != 1 || rec.seen[0] != (observed{http.MethodGet, "/invoices/{id}", http.StatusTeapot}) {
		t.Fatalf("observed = %+v", rec.seen)
	}

	out := buf.String()
	for _, want := range []string{"HTTP request started", "handler ran", "HTTP request completed", "status_code=418", "client_ip=203.0.113.9", "request_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "level=WARN") {
		t.Errorf("4xx should log at warn:\n%s", out)
	}
}

func TestMiddlewareDefaultsStatusToOK(t *testing.T) {
	rec := &recorder{}
	r := chi.NewRouter()
	r.Use(chimid.RequestID)
	r.Use(NewMiddleware(log.Discard(), nil, rec).Middleware)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.seen[0].status != http.StatusOK {
		t.Fatalf("status = %d", rec.seen[0].status)
	}
}
