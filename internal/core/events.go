package core

import "context"

// ChangeKind names what happened to an invoice.
type ChangeKind string

const (
	ChangeCreated       ChangeKind = "created"
	ChangeStatusChanged ChangeKind = "status_changed"
)

// InvoiceChange is emitted after an invoice write has been persisted.
type InvoiceChange struct {
	Kind    ChangeKind
	Invoice Invoice
}

// ChangeListener is notified of persisted invoice changes. Implementations
// must not block.
type ChangeListener interface {
	InvoiceChanged(ctx context.Context, change InvoiceChange)
}

// ChangeListenerFunc adapts a function to ChangeListener.
type ChangeListenerFunc func(ctx context.Context, change InvoiceChange)

func (f ChangeListenerFunc) InvoiceChanged(ctx context.Context, change InvoiceChange) {
	f(ctx, change)
}
