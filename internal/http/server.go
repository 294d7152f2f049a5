// Package http serves the invoice ledger as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"invoiceflow/internal/log"
	"invoiceflow/internal/metrics"
	"invoiceflow/internal/middleware/ratelimit"
	"invoiceflow/internal/middleware/security"
	"invoiceflow/internal/middleware/trace"
	"invoiceflow/internal/report"
	"invoiceflow/internal/services"
)

// Pinger reports whether the persistence backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the API serves.
type Deps struct {
	Invoices   *services.InvoiceService
	Membership *services.MembershipService
	Analytics  *services.AnalyticsService
	Metrics    *metrics.Metrics
	// Ready is optional; without it /readyz always succeeds.
	Ready Pinger
}

// Config tunes the server. Zero values fall back to defaults.
type Config struct {
	Addr        string
	InviteLimit ratelimit.Config
	// TrustedProxies may set identity and forwarding headers. Defaults to
	// DefaultTrustedProxies.
	TrustedProxies ProxyList
}

type Server struct {
	http.Server

	invoices   *services.InvoiceService
	membership *services.MembershipService
	analytics  *services.AnalyticsService
	metrics    *metrics.Metrics
	ready      Pinger

	formatter     *report.Formatter
	validate      *validator.Validate
	inviteLimiter *ratelimit.Limiter
	proxies       ProxyList
	logger        *log.Logger
	started       time.Time
	now           func() time.Time

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, deps Deps, logger *log.Logger) *Server {
	if cfg.InviteLimit.RequestsPerWindow == 0 {
		cfg.InviteLimit = ratelimit.Config{RequestsPerWindow: 10, Window: time.Minute}
	}
	if cfg.TrustedProxies == nil {
		cfg.TrustedProxies = DefaultTrustedProxies()
	}

	s := &Server{
		invoices:      deps.Invoices,
		membership:    deps.Membership,
		analytics:     deps.Analytics,
		metrics:       deps.Metrics,
		ready:         deps.Ready,
		formatter:     report.NewFormatter(),
		validate:      newValidator(),
		inviteLimiter: ratelimit.NewLimiter(cfg.InviteLimit),
		proxies:       cfg.TrustedProxies,
		logger:        logger.WithComponent(log.ComponentHTTP),
		started:       time.Now(),
		now:           time.Now,
	}
	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimid.RequestID)
	r.Use(trace.NewMiddleware(s.logger, s.proxies.clientIP, s.metrics).Middleware)
	r.Use(chimid.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "Not found.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed.")
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireIdentity)

		r.Post("/session", s.handleStartSession)
		r.Get("/session", s.handleGetSession)
		r.Put("/session/workspace", s.handleSwitchWorkspace)

		r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
			r.Use(s.requireMember)

			r.Get("/", s.handleGetWorkspace)
			r.Get("/members", s.handleListMembers)
			r.With(s.inviteLimiter.Middleware(s.rateLimitKey, s.handleRateLimited)).
				Post("/invites", s.handleInvite)

			r.Get("/invoices", s.handleListInvoices)
			r.Post("/invoices", s.handleCreateInvoice)
			r.Get("/invoices/stream", s.handleInvoiceStream)
			r.Get("/invoices/{invoiceID}", s.handleGetInvoice)
			r.Patch("/invoices/{invoiceID}/status", s.handleSetStatus)
			r.Get("/invoices/{invoiceID}/export.csv", s.handleExportInvoice)

			r.Get("/due", s.handleDueOn)
			r.Get("/due-days", s.handleDueDays)

			r.Get("/analytics", s.handleAnalytics)
			r.Get("/report.csv", s.handleYearlyReport)
		})
	})

	return r
}

// Shutdown stops background routines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.inviteLimiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
