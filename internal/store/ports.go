// Package store defines the persistence ports the ledger runs on.
package store

import (
	"context"
	"errors"

	"invoiceflow/internal/core"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict reports a primary-key or uniqueness collision.
	ErrConflict = errors.New("record already exists")
	// ErrAmbiguous reports that a lookup expected to be unique matched
	// several records.
	ErrAmbiguous = errors.New("more than one record matches")
	// ErrBusy reports that a transaction could not acquire its locks.
	ErrBusy = errors.New("store busy")
)

// Ports for outbound adapters.
type (
	Invoices interface {
		// CreateInvoice persists inv and returns it with Seq assigned.
		CreateInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, error)
		GetInvoice(ctx context.Context, id string) (core.Invoice, error)
		// UpdateInvoiceStatus sets the status and reports whether it changed.
		UpdateInvoiceStatus(ctx context.Context, id string, status core.Status) (inv core.Invoice, changed bool, err error)
		// ListInvoices returns every invoice of the workspace, due date
		// descending, ties in insertion order.
		ListInvoices(ctx context.Context, workspaceID string) ([]core.Invoice, error)
	}

	// DirectoryReader reads profiles and workspaces.
	DirectoryReader interface {
		GetProfile(ctx context.Context, userID string) (core.UserProfile, error)
		FindProfileByEmail(ctx context.Context, email string) (core.UserProfile, error)
		GetWorkspace(ctx context.Context, id string) (core.Workspace, error)
	}

	// DirectoryTx is the write view inside a transaction. Nothing written
	// through it is visible outside until the transaction commits.
	DirectoryTx interface {
		DirectoryReader
		CreateWorkspace(ctx context.Context, ws core.Workspace) error
		CreateProfile(ctx context.Context, p core.UserProfile) error
		// AddWorkspaceMember appends userID to the workspace; a no-op when present.
		AddWorkspaceMember(ctx context.Context, workspaceID, userID string) error
		// AddProfileWorkspace appends workspaceID to the profile; a no-op when present.
		AddProfileWorkspace(ctx context.Context, userID, workspaceID string) error
	}

	Directory interface {
		DirectoryReader
		// RunInTx runs fn atomically: all writes commit together or none do.
		RunInTx(ctx context.Context, fn func(tx DirectoryTx) error) error
	}

	// Backend is a full persistence collaborator.
	Backend interface {
		Invoices
		Directory
		Close() error
	}
)
