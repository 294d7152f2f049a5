package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"invoiceflow/internal/core"
	"invoiceflow/internal/identity"
	"invoiceflow/internal/log"
	"invoiceflow/internal/store"
	"invoiceflow/internal/store/memory"
)

var fixedNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store      *memory.Store
	identities *identity.Static
	members    *MembershipService
	invoices   *InvoiceService
}

func newFixture(t *testing.T, listeners ...core.ChangeListener) *fixture {
	t.Helper()
	st := memory.New()
	ids := identity.NewStatic()
	logger := log.Discard()

	f := &fixture{
		store:      st,
		identities: ids,
		members:    NewMembershipService(st, identity.Chain{ids, identity.NewProfileLookup(st)}, logger),
		invoices:   NewInvoiceService(st, st, logger, listeners...),
	}
	f.invoices.now = func() time.Time { return fixedNow }
	return f
}

// signUp bootstraps a user and returns their personal workspace.
func (f *fixture) signUp(t *testing.T, id, name string) core.Workspace {
	t.Helper()
	ident := core.Identity{ID: id, DisplayName: name, Email: id + "@example.com"}
	f.identities.Add(ident)
	_, ws, err := f.members.BootstrapUserWorkspace(context.Background(), ident)
	if err != nil {
		t.Fatalf("bootstrap %s: %v", id, err)
	}
	return ws
}

func (f *fixture) create(t *testing.T, wsID, project string, cents int64, due time.Time) core.Invoice {
	t.Helper()
	inv, err := f.invoices.Create(context.Background(), core.NewInvoice{
		WorkspaceID: wsID,
		ProjectName: project,
		Client:      "Acme",
		Amount:      core.Money{Cents: cents},
		DueDate:     due,
	})
	if err != nil {
		t.Fatalf("create %s: %v", project, err)
	}
	return inv
}

// recorder is a ChangeListener that keeps every change it sees.
type recorder struct {
	mu      sync.Mutex
	changes []core.InvoiceChange
}

func (r *recorder) InvoiceChanged(_ context.Context, c core.InvoiceChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

// failingDirectory wraps a Directory and fails the transaction write path.
type failingDirectory struct {
	store.Directory
	failAdd error
	txCalls int
}

func (d *failingDirectory) RunInTx(ctx context.Context, fn func(tx store.DirectoryTx) error) error {
	d.txCalls++
	return d.Directory.RunInTx(ctx, func(tx store.DirectoryTx) error {
		return fn(failingTx{DirectoryTx: tx, failAdd: d.failAdd})
	})
}

type failingTx struct {
	store.DirectoryTx
	failAdd error
}

func (t failingTx) AddProfileWorkspace(ctx context.Context, userID, workspaceID string) error {
	if t.failAdd != nil {
		return t.failAdd
	}
	return t.DirectoryTx.AddProfileWorkspace(ctx, userID, workspaceID)
}

// erroringLookup fails every lookup with err.
type erroringLookup struct{ err error }

func (l erroringLookup) LookupByEmail(context.Context, string) (core.Identity, error) {
	return core.Identity{}, fmt.Errorf("identity provider: %w", l.err)
}

func ids(invoices []core.Invoice) []string {
	out := make([]string, len(invoices))
	for i, inv := range invoices {
		out[i] = inv.ProjectName
	}
	return out
}
