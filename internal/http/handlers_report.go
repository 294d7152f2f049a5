package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"invoiceflow/internal/core"
	"invoiceflow/internal/log"
	"invoiceflow/internal/report"
)

type monthJSON struct {
	Month      int    `json:"month"`
	Name       string `json:"name"`
	Count      int    `json:"count"`
	TotalCents int64  `json:"total_cents"`
	Total      string `json:"total"`
}

type analyticsJSON struct {
	Year           int         `json:"year"`
	AvailableYears []int       `json:"available_years"`
	Count          int         `json:"count"`
	TotalCents     int64       `json:"total_cents"`
	Total          string      `json:"total"`
	Months         []monthJSON `json:"months"`
}

// handleAnalytics returns the monthly totals of ?year=. When that year has no
// invoices the most recent year with data is returned instead.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	year, err := queryYear(r, s.now())
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	rep, err := s.analytics.Yearly(r.Context(), workspaceFrom(r.Context()).ID, year)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}

	years := rep.AvailableYears
	if years == nil {
		years = []int{}
	}
	out := analyticsJSON{
		Year:           rep.Year,
		AvailableYears: years,
		Count:          rep.Count,
		TotalCents:     rep.Total.Cents,
		Total:          s.formatter.Money(rep.Total),
		Months:         make([]monthJSON, 0, len(rep.Buckets)),
	}
	for _, b := range rep.Buckets {
		out.Months = append(out.Months, monthJSON{
			Month:      b.Month,
			Name:       time.Month(b.Month).String(),
			Count:      b.Count,
			TotalCents: b.Total.Cents,
			Total:      s.formatter.Money(b.Total),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleYearlyReport downloads the monthly totals of ?year= as CSV.
func (s *Server) handleYearlyReport(w http.ResponseWriter, r *http.Request) {
	year, err := queryYear(r, s.now())
	if err != nil {
		writeError(w, r, log.OpExport, err)
		return
	}
	ws := workspaceFrom(r.Context())
	rep, err := s.analytics.Yearly(r.Context(), ws.ID, year)
	if err != nil {
		writeError(w, r, log.OpExport, err)
		return
	}
	title := fmt.Sprintf("%s Invoices %d", ws.Name, rep.Year)
	doc := report.MonthlyDocument(s.formatter, title, rep.Buckets, s.now())
	s.writeCSV(w, r, report.YearlyFilename(rep.Year, "csv"), doc)
}

// handleExportInvoice downloads a single invoice as CSV.
func (s *Server) handleExportInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.invoiceInWorkspace(r)
	if err != nil {
		writeError(w, r, log.OpExport, err)
		return
	}
	doc := report.InvoiceDocument(s.formatter, "Invoice "+inv.ProjectName, []core.Invoice{inv}, s.now())
	s.writeCSV(w, r, report.InvoiceFilename(inv.ID, "csv"), doc)
}

func (s *Server) writeCSV(w http.ResponseWriter, r *http.Request, filename string, doc report.Document) {
	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, s.formatter, doc); err != nil {
		writeError(w, r, log.OpExport, err)
		return
	}
	s.metrics.RecordExport("csv")
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady checks the persistence backend.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"store": "ok"}
	status, code := "ready", http.StatusOK

	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
			checks["store"] = "unavailable"
			status, code = "not_ready", http.StatusServiceUnavailable
		}
	}
	checks["invite_rate_limiter"] = fmt.Sprintf("%d active clients", s.inviteLimiter.ActiveClients())

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}
