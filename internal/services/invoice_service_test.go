package services

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"invoiceflow/internal/core"
	"invoiceflow/internal/identity"
	"invoiceflow/internal/log"
	"invoiceflow/internal/storage"
	"invoiceflow/internal/store"
	"invoiceflow/internal/store/memory"
)

func TestCreateInvoice(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, rec)
	ws := f.signUp(t, "u1", "Ada")

	due := time.Date(2024, 7, 1, 0, 0, 0, 0, time.FixedZone("CET", 3600))
	inv := f.create(t, ws.ID, "  Website  ", 0, due)

	if inv.ID == "" || inv.Status != core.StatusPending || inv.ProjectName != "Website" {
		t.Fatalf("unexpected invoice: %+v", inv)
	}
	if inv.DueDate.Location() != time.UTC || !inv.DueDate.Equal(due) {
		t.Fatalf("due date not normalised to UTC: %v", inv.DueDate)
	}
	if !inv.CreatedAt.Equal(fixedNow) {
		t.Fatalf("created at = %v", inv.CreatedAt)
	}
	if rec.count() != 1 || rec.changes[0].Kind != core.ChangeCreated {
		t.Fatalf("expected one created change, got %+v", rec.changes)
	}
}

func TestCreatedInvoiceReadsBackUnchanged(t *testing.T) {
	sqlite, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ts.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	due := time.Date(2024, 7, 1, 9, 30, 0, 123456789, time.UTC)
	created := time.Date(2024, 6, 15, 12, 0, 0, 987654321, time.UTC)

	backends := []struct {
		name string
		st   store.Backend
	}{
		{"memory", memory.New()},
		{"sqlite", sqlite},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			members := NewMembershipService(b.st, identity.NewProfileLookup(b.st), log.Discard())
			_, ws, err := members.BootstrapUserWorkspace(ctx, core.Identity{ID: "u1", DisplayName: "Ada"})
			if err != nil {
				t.Fatal(err)
			}
			invoices := NewInvoiceService(b.st, b.st, log.Discard())
			invoices.now = func() time.Time { return created }

			inv, err := invoices.Create(ctx, core.NewInvoice{
				WorkspaceID: ws.ID, ProjectName: "P", Client: "C", DueDate: due,
			})
			if err != nil {
				t.Fatal(err)
			}
			if !inv.DueDate.Equal(core.Timestamp(due)) || !inv.CreatedAt.Equal(core.Timestamp(created)) {
				t.Fatalf("created with due=%v created=%v", inv.DueDate, inv.CreatedAt)
			}

			got, err := invoices.Get(ctx, inv.ID)
			if err != nil {
				t.Fatal(err)
			}
			if !got.DueDate.Equal(inv.DueDate) || !got.CreatedAt.Equal(inv.CreatedAt) {
				t.Fatalf("read back due=%v created=%v, want due=%v created=%v",
					got.DueDate, got.CreatedAt, inv.DueDate, inv.CreatedAt)
			}
		})
	}
}

func TestCreateInvoiceValidation(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, rec)
	ws := f.signUp(t, "u1", "Ada")
	due := fixedNow.AddDate(0, 1, 0)

	tests := []struct {
		name string
		in   core.NewInvoice
		want error
	}{
		{"negative amount", core.NewInvoice{WorkspaceID: ws.ID, ProjectName: "P", Client: "C", Amount: core.Money{Cents: -1}, DueDate: due}, core.ErrInvalidAmount},
		{"empty project", core.NewInvoice{WorkspaceID: ws.ID, ProjectName: " ", Client: "C", DueDate: due}, core.ErrEmptyProject},
		{"empty client", core.NewInvoice{WorkspaceID: ws.ID, ProjectName: "P", DueDate: due}, core.ErrEmptyClient},
		{"no due date", core.NewInvoice{WorkspaceID: ws.ID, ProjectName: "P", Client: "C"}, core.ErrInvalidDueDate},
		{"unknown workspace", core.NewInvoice{WorkspaceID: "nope", ProjectName: "P", Client: "C", DueDate: due}, core.ErrWorkspaceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.invoices.Create(context.Background(), tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}

	list, _ := f.invoices.All(context.Background(), ws.ID)
	if len(list) != 0 || rec.count() != 0 {
		t.Fatalf("rejected invoices must not be written: %v, %d changes", list, rec.count())
	}
}

func TestSetStatusIsIdempotent(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, rec)
	ws := f.signUp(t, "u1", "Ada")
	inv := f.create(t, ws.ID, "P", 100, fixedNow.AddDate(0, 0, 5))

	for i := 0; i < 3; i++ {
		got, err := f.invoices.SetStatus(context.Background(), inv.ID, core.StatusPaid)
		if err != nil || got.Status != core.StatusPaid {
			t.Fatalf("set status #%d: %+v %v", i, got, err)
		}
	}
	if rec.count() != 2 {
		t.Fatalf("expected create + one status change, got %d changes", rec.count())
	}

	if _, err := f.invoices.SetStatus(context.Background(), "missing", core.StatusPaid); !errors.Is(err, core.ErrInvoiceNotFound) {
		t.Fatalf("expected ErrInvoiceNotFound, got %v", err)
	}
	if _, err := f.invoices.SetStatus(context.Background(), inv.ID, core.Status("void")); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	f := newFixture(t)
	ws := f.signUp(t, "u1", "Ada")
	ctx := context.Background()

	past := fixedNow.AddDate(0, 0, -3)
	future := fixedNow.AddDate(0, 0, 3)
	f.create(t, ws.ID, "overdue", 100, past)
	paid := f.create(t, ws.ID, "paid", 100, past)
	f.create(t, ws.ID, "pending-a", 100, future)
	f.create(t, ws.ID, "pending-b", 100, future)
	if _, err := f.invoices.SetStatus(ctx, paid.ID, core.StatusPaid); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		filter core.DisplayStatus
		want   []string
	}{
		{core.DisplayAll, []string{"pending-a", "pending-b", "overdue", "paid"}},
		{core.DisplayPending, []string{"pending-a", "pending-b"}},
		{core.DisplayOverdue, []string{"overdue"}},
		{core.DisplayPaid, []string{"paid"}},
	}
	for _, tt := range tests {
		seq, err := f.invoices.List(ctx, ws.ID, tt.filter)
		if err != nil {
			t.Fatalf("list %q: %v", tt.filter, err)
		}
		got := ids(slices.Collect(seq))
		if !slices.Equal(got, tt.want) {
			t.Errorf("filter %q: got %v want %v", tt.filter, got, tt.want)
		}
	}

	if _, err := f.invoices.List(ctx, ws.ID, core.DisplayStatus("late")); !errors.Is(err, core.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := f.invoices.List(ctx, "missing", core.DisplayAll); !errors.Is(err, core.ErrWorkspaceNotFound) {
		t.Fatalf("expected ErrWorkspaceNotFound, got %v", err)
	}
}

func TestListStopsEarly(t *testing.T) {
	f := newFixture(t)
	ws := f.signUp(t, "u1", "Ada")
	for _, p := range []string{"a", "b", "c"} {
		f.create(t, ws.ID, p, 1, fixedNow.AddDate(0, 0, 1))
	}
	seq, _ := f.invoices.List(context.Background(), ws.ID, core.DisplayAll)
	n := 0
	for range seq {
		n++
		break
	}
	if n != 1 {
		t.Fatalf("iterated %d", n)
	}
}

func TestDueOnAndDueDays(t *testing.T) {
	f := newFixture(t)
	ws := f.signUp(t, "u1", "Ada")
	ctx := context.Background()

	d1 := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)
	d2 := time.Date(2024, 5, 3, 8, 0, 0, 0, time.UTC)
	f.create(t, ws.ID, "late-night", 1, d1)
	f.create(t, ws.ID, "morning", 1, d1.Add(-20*time.Hour))
	f.create(t, ws.ID, "other", 1, d2)

	got, err := f.invoices.DueOn(ctx, ws.ID, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(ids(got), []string{"late-night", "morning"}) {
		t.Fatalf("due on: %v", ids(got))
	}

	days, err := f.invoices.DueDays(ctx, ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 2 || !days[0].Equal(core.UTCDay(d1)) || !days[1].Equal(core.UTCDay(d2)) {
		t.Fatalf("due days: %v", days)
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	f := newFixture(t)
	ws := f.signUp(t, "u1", "Ada")
	other := f.signUp(t, "u2", "Bob")
	ctx := context.Background()

	sub, err := f.invoices.Subscribe(ctx, ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	if snap := <-sub.C(); len(snap) != 0 {
		t.Fatalf("initial snapshot should be empty, got %d", len(snap))
	}

	inv := f.create(t, ws.ID, "P", 100, fixedNow.AddDate(0, 0, 1))
	snap := <-sub.C()
	if len(snap) != 1 || snap[0].ID != inv.ID {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	f.create(t, other.ID, "elsewhere", 1, fixedNow)
	select {
	case s := <-sub.C():
		t.Fatalf("received snapshot for another workspace: %+v", s)
	default:
	}

	if _, err := f.invoices.SetStatus(ctx, inv.ID, core.StatusPaid); err != nil {
		t.Fatal(err)
	}
	snap = <-sub.C()
	if snap[0].Status != core.StatusPaid {
		t.Fatalf("expected paid snapshot, got %+v", snap[0])
	}

	if _, err := f.invoices.SetStatus(ctx, inv.ID, core.StatusPaid); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-sub.C():
		t.Fatalf("no-op status change must not notify: %+v", s)
	default:
	}
}

func TestSlowSubscriberSeesLatestSnapshot(t *testing.T) {
	f := newFixture(t)
	ws := f.signUp(t, "u1", "Ada")

	sub, err := f.invoices.Subscribe(context.Background(), ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	for i := 0; i < 5; i++ {
		f.create(t, ws.ID, "P", 1, fixedNow)
	}
	snap := <-sub.C()
	if len(snap) != 5 {
		t.Fatalf("expected coalesced snapshot of 5, got %d", len(snap))
	}
}

func TestCancelIsSynchronousAndIdempotent(t *testing.T) {
	f := newFixture(t)
	ws := f.signUp(t, "u1", "Ada")

	sub, err := f.invoices.Subscribe(context.Background(), ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	sub.Cancel()
	sub.Cancel()

	f.create(t, ws.ID, "P", 1, fixedNow)

	<-sub.C() // initial snapshot still buffered
	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed after Cancel")
	}
	if n := f.invoices.Feed().Subscribers(ws.ID); n != 0 {
		t.Fatalf("subscribers = %d", n)
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	f := newFixture(t)
	ws := f.signUp(t, "u1", "Ada")

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := f.invoices.Subscribe(ctx, ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	<-sub.C()
	cancel()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not cancelled by context")
	}
}
