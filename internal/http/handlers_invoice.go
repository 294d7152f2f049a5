package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"invoiceflow/internal/core"
	"invoiceflow/internal/log"
)

type invoiceJSON struct {
	ID            string    `json:"id"`
	WorkspaceID   string    `json:"workspace_id"`
	ProjectName   string    `json:"project_name"`
	Client        string    `json:"client"`
	AmountCents   int64     `json:"amount_cents"`
	Amount        string    `json:"amount"`
	DueDate       string    `json:"due_date"`
	DueDateLabel  string    `json:"due_date_label"`
	Status        string    `json:"status"`
	DisplayStatus string    `json:"display_status"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *Server) toInvoiceJSON(inv core.Invoice, now time.Time) invoiceJSON {
	return invoiceJSON{
		ID:            inv.ID,
		WorkspaceID:   inv.WorkspaceID,
		ProjectName:   inv.ProjectName,
		Client:        inv.Client,
		AmountCents:   inv.Amount.Cents,
		Amount:        s.formatter.Money(inv.Amount),
		DueDate:       inv.DueDate.UTC().Format(dayLayout),
		DueDateLabel:  s.formatter.Date(inv.DueDate),
		Status:        string(inv.Status),
		DisplayStatus: string(inv.Display(now)),
		CreatedAt:     inv.CreatedAt.UTC(),
	}
}

func (s *Server) toInvoiceList(list []core.Invoice) []invoiceJSON {
	now := s.now()
	out := make([]invoiceJSON, 0, len(list))
	for _, inv := range list {
		out = append(out, s.toInvoiceJSON(inv, now))
	}
	return out
}

type createInvoiceRequest struct {
	ProjectName string `json:"project_name" validate:"required,max=200"`
	Client      string `json:"client" validate:"required,max=200"`
	// Amount is a decimal string such as "1525.50".
	Amount  string `json:"amount" validate:"required"`
	DueDate string `json:"due_date" validate:"required,datetime=2006-01-02"`
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	due, err := parseDay(req.DueDate)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}

	inv, err := s.invoices.Create(r.Context(), core.NewInvoice{
		WorkspaceID: workspaceFrom(r.Context()).ID,
		ProjectName: sanitizeInput(req.ProjectName),
		Client:      sanitizeInput(req.Client),
		Amount:      core.Money{Cents: cents},
		DueDate:     due,
	})
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/workspaces/%s/invoices/%s", inv.WorkspaceID, inv.ID))
	writeJSON(w, http.StatusCreated, s.toInvoiceJSON(inv, s.now()))
}

// handleListInvoices lists invoices, optionally filtered by ?status=
// pending|paid|overdue|all.
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	filter, err := core.ParseDisplayStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	seq, err := s.invoices.List(r.Context(), workspaceFrom(r.Context()).ID, filter)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toInvoiceList(slices.Collect(seq)))
}

// invoiceInWorkspace loads the routed invoice. Invoices of other workspaces
// are reported as missing.
func (s *Server) invoiceInWorkspace(r *http.Request) (core.Invoice, error) {
	inv, err := s.invoices.Get(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		return core.Invoice{}, err
	}
	if inv.WorkspaceID != workspaceFrom(r.Context()).ID {
		return core.Invoice{}, core.ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.invoiceInWorkspace(r)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toInvoiceJSON(inv, s.now()))
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending paid"`
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpSetStatus, err)
		return
	}
	status, err := core.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, log.OpSetStatus, err)
		return
	}
	inv, err := s.invoiceInWorkspace(r)
	if err != nil {
		writeError(w, r, log.OpSetStatus, err)
		return
	}
	inv, err = s.invoices.SetStatus(r.Context(), inv.ID, status)
	if err != nil {
		writeError(w, r, log.OpSetStatus, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toInvoiceJSON(inv, s.now()))
}

// handleDueOn lists the invoices due on ?day=YYYY-MM-DD.
func (s *Server) handleDueOn(w http.ResponseWriter, r *http.Request) {
	day, err := parseDay(r.URL.Query().Get("day"))
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	list, err := s.invoices.DueOn(r.Context(), workspaceFrom(r.Context()).ID, day)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toInvoiceList(list))
}

func (s *Server) handleDueDays(w http.ResponseWriter, r *http.Request) {
	days, err := s.invoices.DueDays(r.Context(), workspaceFrom(r.Context()).ID)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, d.Format(dayLayout))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleInvoiceStream pushes the workspace invoice list as Server-Sent Events,
// one "invoices" event per snapshot, starting with the current one.
func (s *Server) handleInvoiceStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeMessage(w, http.StatusInternalServerError, core.MessageUnexpected)
		return
	}
	ctx := r.Context()
	sub, err := s.invoices.Subscribe(ctx, workspaceFrom(ctx).ID)
	if err != nil {
		writeError(w, r, log.OpSubscribe, err)
		return
	}
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(s.toInvoiceList(snapshot))
			if err != nil {
				log.LogError(ctx, "Encode invoice snapshot", err, log.OpSubscribe, nil)
				return
			}
			if _, err := fmt.Fprintf(w, "event: invoices\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
