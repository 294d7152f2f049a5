// Package metrics exposes Prometheus collectors for the HTTP API and the
// invoice ledger.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"invoiceflow/internal/core"
)

// Metrics owns a registry so tests and multiple servers do not collide on
// the global one.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	invoiceChanges  *prometheus.CounterVec
	invoiceAmount   *prometheus.CounterVec
	invites         *prometheus.CounterVec
	rateLimited     prometheus.Counter
	reportExports   *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "invoiceflow_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		invoiceChanges: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoiceflow_invoice_changes_total",
				Help: "Persisted invoice changes by kind",
			},
			[]string{"kind"},
		),
		invoiceAmount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoiceflow_invoice_amount_cents_total",
				Help: "Sum of amounts of created or paid invoices, in cents",
			},
			[]string{"kind"},
		),
		invites: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoiceflow_invites_total",
				Help: "Workspace invitations by outcome",
			},
			[]string{"success"},
		),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "invoiceflow_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
		reportExports: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoiceflow_report_exports_total",
				Help: "Report exports by format",
			},
			[]string{"format"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one served request. route is the matched pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// InvoiceChanged counts persisted invoice changes.
func (m *Metrics) InvoiceChanged(_ context.Context, change core.InvoiceChange) {
	kind := string(change.Kind)
	m.invoiceChanges.WithLabelValues(kind).Inc()
	if change.Kind == core.ChangeCreated || change.Invoice.Status == core.StatusPaid {
		m.invoiceAmount.WithLabelValues(kind).Add(float64(change.Invoice.Amount.Cents))
	}
}

func (m *Metrics) RecordInvite(success bool) {
	m.invites.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

func (m *Metrics) RecordExport(format string) {
	m.reportExports.WithLabelValues(format).Inc()
}
