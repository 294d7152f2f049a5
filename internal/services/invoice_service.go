package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"

	"invoiceflow/internal/core"
	"invoiceflow/internal/log"
	"invoiceflow/internal/store"
)

// InvoiceService owns invoice writes and reads for a workspace and fans every
// persisted change out to the registered listeners.
type InvoiceService struct {
	invoices   store.Invoices
	workspaces store.DirectoryReader
	feed       *Feed
	listeners  []core.ChangeListener
	logger     *log.Logger
	now        func() time.Time
	newID      func() string
}

func NewInvoiceService(invoices store.Invoices, workspaces store.DirectoryReader, logger *log.Logger, listeners ...core.ChangeListener) *InvoiceService {
	s := &InvoiceService{
		invoices:   invoices,
		workspaces: workspaces,
		listeners:  listeners,
		logger:     logger.WithComponent(log.ComponentInvoice),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	s.feed = NewFeed(s.All, logger)
	return s
}

// AddListener registers l for subsequent changes.
func (s *InvoiceService) AddListener(l core.ChangeListener) {
	s.listeners = append(s.listeners, l)
}

// Create validates and stores a new pending invoice.
func (s *InvoiceService) Create(ctx context.Context, in core.NewInvoice) (core.Invoice, error) {
	if err := in.Validate(); err != nil {
		return core.Invoice{}, err
	}
	if err := s.requireWorkspace(ctx, in.WorkspaceID); err != nil {
		return core.Invoice{}, err
	}

	inv := core.Invoice{
		ID:          s.newID(),
		WorkspaceID: in.WorkspaceID,
		ProjectName: strings.TrimSpace(in.ProjectName),
		Client:      strings.TrimSpace(in.Client),
		Amount:      in.Amount,
		DueDate:     core.Timestamp(in.DueDate),
		Status:      core.StatusPending,
		CreatedAt:   core.Timestamp(s.now()),
	}
	saved, err := s.invoices.CreateInvoice(ctx, inv)
	if err != nil {
		return core.Invoice{}, mapStoreError("create invoice", err, core.ErrWorkspaceNotFound)
	}

	s.logger.InfoContext(ctx, "Invoice created", log.NewFields().
		WithInvoice(saved.ID, saved.WorkspaceID, saved.Amount.Cents, string(saved.Status)).
		WithOperation(log.OpCreate).ToSlice()...)

	s.notify(ctx, core.InvoiceChange{Kind: core.ChangeCreated, Invoice: saved})
	return saved, nil
}

// SetStatus stores status on the invoice. Setting the current status again is
// a no-op that returns the record unchanged and notifies nobody.
func (s *InvoiceService) SetStatus(ctx context.Context, invoiceID string, status core.Status) (core.Invoice, error) {
	if !status.Valid() {
		return core.Invoice{}, core.ErrInvalidStatus
	}
	inv, changed, err := s.invoices.UpdateInvoiceStatus(ctx, invoiceID, status)
	if err != nil {
		return core.Invoice{}, mapStoreError("set invoice status", err, core.ErrInvoiceNotFound)
	}
	if !changed {
		return inv, nil
	}

	s.logger.InfoContext(ctx, "Invoice status changed", log.NewFields().
		WithInvoice(inv.ID, inv.WorkspaceID, inv.Amount.Cents, string(inv.Status)).
		WithOperation(log.OpSetStatus).ToSlice()...)

	s.notify(ctx, core.InvoiceChange{Kind: core.ChangeStatusChanged, Invoice: inv})
	return inv, nil
}

func (s *InvoiceService) Get(ctx context.Context, invoiceID string) (core.Invoice, error) {
	inv, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return core.Invoice{}, mapStoreError("get invoice", err, core.ErrInvoiceNotFound)
	}
	return inv, nil
}

// All returns every invoice of the workspace, due date descending with ties in
// insertion order.
func (s *InvoiceService) All(ctx context.Context, workspaceID string) ([]core.Invoice, error) {
	list, err := s.invoices.ListInvoices(ctx, workspaceID)
	if err != nil {
		return nil, mapStoreError("list invoices", err, core.ErrWorkspaceNotFound)
	}
	return list, nil
}

// List returns the workspace invoices matching filter. The filter is applied
// lazily against the time captured when List is called.
func (s *InvoiceService) List(ctx context.Context, workspaceID string, filter core.DisplayStatus) (iter.Seq[core.Invoice], error) {
	if !filter.Valid() {
		return nil, core.ErrInvalidStatus
	}
	if err := s.requireWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	list, err := s.All(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return func(yield func(core.Invoice) bool) {
		for _, inv := range list {
			if !inv.Matches(filter, now) {
				continue
			}
			if !yield(inv) {
				return
			}
		}
	}, nil
}

// DueOn returns the invoices whose due date falls on day's UTC calendar date.
func (s *InvoiceService) DueOn(ctx context.Context, workspaceID string, day time.Time) ([]core.Invoice, error) {
	if err := s.requireWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	list, err := s.All(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	target := core.UTCDay(day)
	out := make([]core.Invoice, 0)
	for _, inv := range list {
		if core.UTCDay(inv.DueDate).Equal(target) {
			out = append(out, inv)
		}
	}
	return out, nil
}

// DueDays returns the distinct UTC days on which at least one invoice is due.
func (s *InvoiceService) DueDays(ctx context.Context, workspaceID string) ([]time.Time, error) {
	if err := s.requireWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	list, err := s.All(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return core.DueDays(list), nil
}

// Subscribe streams full workspace snapshots, starting with the current one.
func (s *InvoiceService) Subscribe(ctx context.Context, workspaceID string) (*Subscription, error) {
	if err := s.requireWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	sub, err := s.feed.Subscribe(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return sub, nil
}

// Feed exposes the live snapshot hub.
func (s *InvoiceService) Feed() *Feed {
	return s.feed
}

func (s *InvoiceService) notify(ctx context.Context, change core.InvoiceChange) {
	s.feed.InvoiceChanged(ctx, change)
	for _, l := range s.listeners {
		l.InvoiceChanged(ctx, change)
	}
}

func (s *InvoiceService) requireWorkspace(ctx context.Context, workspaceID string) error {
	if strings.TrimSpace(workspaceID) == "" {
		return core.ErrEmptyWorkspace
	}
	if _, err := s.workspaces.GetWorkspace(ctx, workspaceID); err != nil {
		return mapStoreError("get workspace", err, core.ErrWorkspaceNotFound)
	}
	return nil
}

// mapStoreError translates store sentinels into domain errors. notFound is
// returned for store.ErrNotFound.
func mapStoreError(op string, err error, notFound error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFound
	case errors.Is(err, store.ErrBusy):
		return fmt.Errorf("%s: %w", op, core.ErrTransactionConflict)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
