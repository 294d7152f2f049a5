package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"invoiceflow/internal/core"
	"invoiceflow/internal/store"
)

// Store is an in-process document store. Transactions hold the store lock for
// their whole duration and stage writes until commit.
type Store struct {
	mu         sync.Mutex
	seq        int64
	invoices   map[string]core.Invoice
	byWS       map[string][]string
	profiles   map[string]core.UserProfile
	workspaces map[string]core.Workspace
}

var (
	_ store.Backend     = (*Store)(nil)
	_ store.DirectoryTx = (*tx)(nil)
)

func New() *Store {
	return &Store{
		invoices:   make(map[string]core.Invoice),
		byWS:       make(map[string][]string),
		profiles:   make(map[string]core.UserProfile),
		workspaces: make(map[string]core.Workspace),
	}
}

func (s *Store) Close() error { return nil }

// CreateInvoice stores the invoice and assigns its insertion sequence.
func (s *Store) CreateInvoice(_ context.Context, inv core.Invoice) (core.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workspaces[inv.WorkspaceID]; !ok {
		return core.Invoice{}, fmt.Errorf("workspace %s: %w", inv.WorkspaceID, store.ErrNotFound)
	}
	if _, ok := s.invoices[inv.ID]; ok {
		return core.Invoice{}, fmt.Errorf("invoice %s: %w", inv.ID, store.ErrConflict)
	}
	s.seq++
	inv.Seq = s.seq
	s.invoices[inv.ID] = inv
	s.byWS[inv.WorkspaceID] = append(s.byWS[inv.WorkspaceID], inv.ID)
	return inv, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (core.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return core.Invoice{}, store.ErrNotFound
	}
	return inv, nil
}

func (s *Store) UpdateInvoiceStatus(_ context.Context, id string, status core.Status) (core.Invoice, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return core.Invoice{}, false, store.ErrNotFound
	}
	if inv.Status == status {
		return inv, false, nil
	}
	inv.Status = status
	s.invoices[id] = inv
	return inv, true, nil
}

func (s *Store) ListInvoices(_ context.Context, workspaceID string) ([]core.Invoice, error) {
	s.mu.Lock()
	ids := s.byWS[workspaceID]
	out := make([]core.Invoice, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.invoices[id])
	}
	s.mu.Unlock()
	core.SortInvoices(out)
	return out, nil
}

func (s *Store) GetProfile(_ context.Context, userID string) (core.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().getProfile(userID)
}

func (s *Store) FindProfileByEmail(_ context.Context, email string) (core.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().findByEmail(email)
}

func (s *Store) GetWorkspace(_ context.Context, id string) (core.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().getWorkspace(id)
}

// RunInTx runs fn against a staged view and applies the staged writes only if
// fn returns nil.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.DirectoryTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.view()
	if err := fn(t); err != nil {
		return err
	}
	for id, p := range t.profiles {
		s.profiles[id] = p
	}
	for id, w := range t.workspaces {
		s.workspaces[id] = w
	}
	return nil
}

// view returns a transaction over the current state. Callers hold s.mu.
func (s *Store) view() *tx {
	return &tx{
		base:       s,
		profiles:   make(map[string]core.UserProfile),
		workspaces: make(map[string]core.Workspace),
	}
}

type tx struct {
	base       *Store
	profiles   map[string]core.UserProfile
	workspaces map[string]core.Workspace
}

func (t *tx) getProfile(userID string) (core.UserProfile, error) {
	p, ok := t.profiles[userID]
	if !ok {
		p, ok = t.base.profiles[userID]
	}
	if !ok {
		return core.UserProfile{}, store.ErrNotFound
	}
	p.Workspaces = slices.Clone(p.Workspaces)
	return p, nil
}

func (t *tx) getWorkspace(id string) (core.Workspace, error) {
	w, ok := t.workspaces[id]
	if !ok {
		w, ok = t.base.workspaces[id]
	}
	if !ok {
		return core.Workspace{}, store.ErrNotFound
	}
	w.Members = slices.Clone(w.Members)
	return w, nil
}

func (t *tx) findByEmail(email string) (core.UserProfile, error) {
	email = normalizeEmail(email)
	matches := map[string]struct{}{}
	for id, p := range t.profiles {
		if normalizeEmail(p.Email) == email {
			matches[id] = struct{}{}
		}
	}
	for id, p := range t.base.profiles {
		if _, staged := t.profiles[id]; !staged && normalizeEmail(p.Email) == email {
			matches[id] = struct{}{}
		}
	}
	switch len(matches) {
	case 0:
		return core.UserProfile{}, store.ErrNotFound
	case 1:
		for id := range matches {
			return t.getProfile(id)
		}
	}
	return core.UserProfile{}, store.ErrAmbiguous
}

func (t *tx) GetProfile(_ context.Context, userID string) (core.UserProfile, error) {
	return t.getProfile(userID)
}

func (t *tx) FindProfileByEmail(_ context.Context, email string) (core.UserProfile, error) {
	return t.findByEmail(email)
}

func (t *tx) GetWorkspace(_ context.Context, id string) (core.Workspace, error) {
	return t.getWorkspace(id)
}

func (t *tx) CreateWorkspace(_ context.Context, ws core.Workspace) error {
	if _, err := t.getWorkspace(ws.ID); err == nil {
		return fmt.Errorf("workspace %s: %w", ws.ID, store.ErrConflict)
	}
	ws.Members = slices.Clone(ws.Members)
	t.workspaces[ws.ID] = ws
	return nil
}

func (t *tx) CreateProfile(_ context.Context, p core.UserProfile) error {
	if _, err := t.getProfile(p.ID); err == nil {
		return fmt.Errorf("profile %s: %w", p.ID, store.ErrConflict)
	}
	for _, wsID := range p.Workspaces {
		if _, err := t.getWorkspace(wsID); err != nil {
			return fmt.Errorf("workspace %s: %w", wsID, store.ErrNotFound)
		}
	}
	p.Workspaces = slices.Clone(p.Workspaces)
	t.profiles[p.ID] = p
	return nil
}

func (t *tx) AddWorkspaceMember(_ context.Context, workspaceID, userID string) error {
	w, err := t.getWorkspace(workspaceID)
	if err != nil {
		return fmt.Errorf("workspace %s: %w", workspaceID, err)
	}
	if !slices.Contains(w.Members, userID) {
		w.Members = append(w.Members, userID)
	}
	t.workspaces[workspaceID] = w
	return nil
}

func (t *tx) AddProfileWorkspace(_ context.Context, userID, workspaceID string) error {
	p, err := t.getProfile(userID)
	if err != nil {
		return fmt.Errorf("profile %s: %w", userID, err)
	}
	if !slices.Contains(p.Workspaces, workspaceID) {
		p.Workspaces = append(p.Workspaces, workspaceID)
	}
	t.profiles[userID] = p
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
