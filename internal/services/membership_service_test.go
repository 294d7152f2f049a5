package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"invoiceflow/internal/core"
	"invoiceflow/internal/identity"
	"invoiceflow/internal/log"
	"invoiceflow/internal/store"
)

func TestBootstrapCreatesProfileAndWorkspace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ident := core.Identity{ID: "u1", DisplayName: "Ada", Email: "ada@example.com"}

	p, ws, err := f.members.BootstrapUserWorkspace(ctx, ident)
	if err != nil {
		t.Fatal(err)
	}
	if ws.Name != "Ada's Workspace" || ws.OwnerID != "u1" || !ws.IsMember("u1") {
		t.Fatalf("unexpected workspace: %+v", ws)
	}
	if len(p.Workspaces) != 1 || p.Workspaces[0] != ws.ID {
		t.Fatalf("profile not linked: %+v", p)
	}

	p2, ws2, err := f.members.BootstrapUserWorkspace(ctx, ident)
	if err != nil {
		t.Fatal(err)
	}
	if ws2.ID != ws.ID || p2.ID != p.ID {
		t.Fatalf("second bootstrap created new records: %+v %+v", p2, ws2)
	}
}

func TestConcurrentBootstrapCreatesOneWorkspace(t *testing.T) {
	f := newFixture(t)
	ident := core.Identity{ID: "u1", DisplayName: "Ada", Email: "ada@example.com"}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]struct{}{}
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ws, err := f.members.BootstrapUserWorkspace(context.Background(), ident)
			if err != nil {
				t.Errorf("bootstrap: %v", err)
				return
			}
			mu.Lock()
			seen[ws.ID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 1 {
		t.Fatalf("expected a single workspace, got %d", len(seen))
	}
	p, err := f.members.Profile(context.Background(), "u1")
	if err != nil || len(p.Workspaces) != 1 {
		t.Fatalf("profile: %+v %v", p, err)
	}
}

// gatedDirectory holds the first transaction until release is closed and
// honours cancellation of the transaction context like a database would.
type gatedDirectory struct {
	store.Directory
	entered chan struct{}
	release chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (d *gatedDirectory) RunInTx(ctx context.Context, fn func(tx store.DirectoryTx) error) error {
	first := false
	d.once.Do(func() { first = true })
	if !first {
		return d.Directory.RunInTx(ctx, fn)
	}
	defer close(d.done)
	close(d.entered)
	<-d.release
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.Directory.RunInTx(ctx, fn)
}

func TestBootstrapSurvivesCancelledCaller(t *testing.T) {
	f := newFixture(t)
	dir := &gatedDirectory{
		Directory: f.store,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	members := NewMembershipService(dir, identity.NewProfileLookup(f.store), log.Discard())
	ident := core.Identity{ID: "u1", DisplayName: "Ada", Email: "ada@example.com"}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := members.BootstrapUserWorkspace(ctx, ident)
		firstErr <- err
	}()
	<-dir.entered

	type result struct {
		ws  core.Workspace
		err error
	}
	second := make(chan result, 1)
	go func() {
		_, ws, err := members.BootstrapUserWorkspace(context.Background(), ident)
		second <- result{ws, err}
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller: err = %v", err)
	}
	close(dir.release)
	<-dir.done

	p, err := members.Profile(context.Background(), "u1")
	if err != nil || len(p.Workspaces) != 1 {
		t.Fatalf("bootstrap abandoned with its first caller: %+v %v", p, err)
	}
	got := <-second
	if got.err != nil || got.ws.ID != p.Workspaces[0] {
		t.Fatalf("second caller: %+v %v", got.ws, got.err)
	}
}

func TestBootstrapRejectsEmptyID(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.members.BootstrapUserWorkspace(context.Background(), core.Identity{}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInviteByEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := f.signUp(t, "owner", "Owner")
	bobWS := f.signUp(t, "bob", "Bob")

	res := f.members.InviteByEmail(ctx, ws.ID, "bob@example.com")
	if !res.Success || res.Message != "Successfully invited bob@example.com." {
		t.Fatalf("unexpected result: %+v", res)
	}

	got, _ := f.members.Workspace(ctx, ws.ID)
	bob, _ := f.members.Profile(ctx, "bob")
	if !got.IsMember("bob") || !bob.BelongsTo(ws.ID) {
		t.Fatalf("membership not linked both ways: ws=%+v bob=%+v", got, bob)
	}
	if bob.Workspaces[0] != bobWS.ID {
		t.Fatalf("default workspace changed: %v", bob.Workspaces)
	}

	again := f.members.InviteByEmail(ctx, ws.ID, "bob@example.com")
	if again.Success || !errors.Is(again.Reason, core.ErrAlreadyMember) ||
		again.Message != "User is already a member of this workspace." {
		t.Fatalf("unexpected duplicate result: %+v", again)
	}
	got, _ = f.members.Workspace(ctx, ws.ID)
	if len(got.Members) != 2 {
		t.Fatalf("duplicate member written: %v", got.Members)
	}
}

func TestInviteFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := f.signUp(t, "owner", "Owner")
	f.signUp(t, "bob", "Bob")
	// Known to the identity provider but never signed in.
	f.identities.Add(core.Identity{ID: "ghost", Email: "ghost@example.com"})

	tests := []struct {
		name        string
		workspaceID string
		email       string
		wantErr     error
		wantMsg     string
	}{
		{"bad email", ws.ID, "not-an-email", core.ErrInvalidEmail, "Please enter a valid email address."},
		{"unknown user", ws.ID, "nobody@example.com", core.ErrUserNotFound, "User with that email does not exist."},
		{"unknown workspace", "missing", "bob@example.com", core.ErrWorkspaceNotFound, "Workspace not found."},
		{"no profile", ws.ID, "ghost@example.com", core.ErrProfileNotFound, "User profile not found."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.members.InviteByEmail(ctx, tt.workspaceID, tt.email)
			if res.Success || !errors.Is(res.Reason, tt.wantErr) || res.Message != tt.wantMsg {
				t.Fatalf("got %+v", res)
			}
		})
	}

	got, _ := f.members.Workspace(ctx, ws.ID)
	if len(got.Members) != 1 {
		t.Fatalf("failed invites must not write: %v", got.Members)
	}
}

func TestInviteRejectsSharedEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := f.signUp(t, "owner", "Owner")
	for _, id := range []string{"b1", "b2"} {
		if _, _, err := f.members.BootstrapUserWorkspace(ctx, core.Identity{ID: id, DisplayName: id, Email: "bob@example.com"}); err != nil {
			t.Fatal(err)
		}
	}
	members := NewMembershipService(f.store, identity.NewProfileLookup(f.store), log.Discard())

	res := members.InviteByEmail(ctx, ws.ID, "bob@example.com")
	if res.Success || !errors.Is(res.Reason, core.ErrAmbiguousEmail) || res.Message != "More than one user has that email address." {
		t.Fatalf("unexpected result: %+v", res)
	}
	got, _ := members.Workspace(ctx, ws.ID)
	if len(got.Members) != 1 {
		t.Fatalf("members changed: %v", got.Members)
	}
}

func TestInviteUnexpectedErrorIsHidden(t *testing.T) {
	f := newFixture(t)
	ws := f.signUp(t, "owner", "Owner")
	m := NewMembershipService(f.store, erroringLookup{err: errors.New("tls handshake timeout")}, log.Discard())

	res := m.InviteByEmail(context.Background(), ws.ID, "bob@example.com")
	if res.Success || res.Message != core.MessageUnexpected || res.Reason == nil {
		t.Fatalf("got %+v", res)
	}
}

func TestInviteIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := f.signUp(t, "owner", "Owner")
	f.signUp(t, "bob", "Bob")

	dir := &failingDirectory{Directory: f.store, failAdd: errors.New("disk full")}
	m := NewMembershipService(dir, identity.NewProfileLookup(f.store), log.Discard())

	res := m.InviteByEmail(ctx, ws.ID, "bob@example.com")
	if res.Success || res.Message != core.MessageUnexpected {
		t.Fatalf("got %+v", res)
	}
	if dir.txCalls != 1 {
		t.Fatalf("expected one transaction, got %d", dir.txCalls)
	}
	got, _ := f.members.Workspace(ctx, ws.ID)
	bob, _ := f.members.Profile(ctx, "bob")
	if got.IsMember("bob") || bob.BelongsTo(ws.ID) {
		t.Fatalf("partial write leaked: ws=%v bob=%v", got.Members, bob.Workspaces)
	}
}

func TestConcurrentDuplicateInvites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := f.signUp(t, "owner", "Owner")
	f.signUp(t, "bob", "Bob")

	var wg sync.WaitGroup
	results := make(chan InviteResult, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.members.InviteByEmail(ctx, ws.ID, "bob@example.com")
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for r := range results {
		if r.Success {
			ok++
		} else if !errors.Is(r.Reason, core.ErrAlreadyMember) {
			t.Errorf("unexpected failure: %+v", r)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one successful invite, got %d", ok)
	}
	got, _ := f.members.Workspace(ctx, ws.ID)
	if len(got.Members) != 2 {
		t.Fatalf("members: %v", got.Members)
	}
}

func TestInviteAsRequiresOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := f.signUp(t, "owner", "Owner")
	f.signUp(t, "bob", "Bob")
	f.signUp(t, "carol", "Carol")

	if res := f.members.InviteByEmail(ctx, ws.ID, "bob@example.com"); !res.Success {
		t.Fatalf("seed invite: %+v", res)
	}
	res := f.members.InviteAs(ctx, "bob", ws.ID, "carol@example.com")
	if res.Success || !errors.Is(res.Reason, core.ErrNotOwner) {
		t.Fatalf("member invite should be refused: %+v", res)
	}
	if res := f.members.InviteAs(ctx, "owner", ws.ID, "carol@example.com"); !res.Success {
		t.Fatalf("owner invite: %+v", res)
	}
}

func TestSwitchActiveWorkspaceAndMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := f.signUp(t, "owner", "Owner")
	f.signUp(t, "bob", "Bob")

	if _, err := f.members.SwitchActiveWorkspace(ctx, "bob", ws.ID); !errors.Is(err, core.ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}
	if _, err := f.members.Authorize(ctx, "bob", ws.ID); !errors.Is(err, core.ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}
	f.members.InviteByEmail(ctx, ws.ID, "bob@example.com")

	got, err := f.members.SwitchActiveWorkspace(ctx, "bob", ws.ID)
	if err != nil || got.ID != ws.ID {
		t.Fatalf("switch: %+v %v", got, err)
	}

	members, err := f.members.ListMembers(ctx, ws.ID)
	if err != nil || len(members) != 2 || members[0].ID != "owner" || members[1].ID != "bob" {
		t.Fatalf("members: %+v %v", members, err)
	}
	if _, err := f.members.Profile(ctx, "nobody"); !errors.Is(err, core.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}
