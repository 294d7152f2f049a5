package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"invoiceflow/internal/cache"
	"invoiceflow/internal/core"
	"invoiceflow/internal/identity"
	"invoiceflow/internal/log"
	"invoiceflow/internal/metrics"
	"invoiceflow/internal/middleware/ratelimit"
	"invoiceflow/internal/services"
	"invoiceflow/internal/store/memory"
)

type testEnv struct {
	t   *testing.T
	srv *Server
}

func newTestEnv(t *testing.T, cfg Config, ready Pinger) *testEnv {
	t.Helper()
	st := memory.New()
	logger := log.Discard()

	invoices := services.NewInvoiceService(st, st, logger)
	analytics := services.NewAnalyticsService(invoices, cache.NewLRUCache[services.YearlyReport](16, time.Minute), logger)
	m := metrics.New()
	invoices.AddListener(analytics)
	invoices.AddListener(m)

	srv := NewServer(cfg, Deps{
		Invoices:   invoices,
		Membership: services.NewMembershipService(st, identity.NewProfileLookup(st), logger),
		Analytics:  analytics,
		Metrics:    m,
		Ready:      ready,
	}, logger)
	t.Cleanup(srv.inviteLimiter.Stop)
	return &testEnv{t: t, srv: srv}
}

func (e *testEnv) do(method, path, user, body string) *httptest.ResponseRecorder {
	e.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(HeaderUserID, user)
		req.Header.Set(HeaderName, strings.ToUpper(user[:1])+user[1:])
		req.Header.Set(HeaderEmail, user+"@example.com")
	}
	req.RemoteAddr = "10.0.0.2:41000"
	rec := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

// signIn bootstraps user and returns their workspace id.
func (e *testEnv) signIn(user string) string {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/session", user, "")
	if rec.Code != http.StatusOK {
		e.t.Fatalf("sign in %s: %d %s", user, rec.Code, rec.Body.String())
	}
	return decode[sessionJSON](e.t, rec).ActiveWorkspace.ID
}

func (e *testEnv) createInvoice(ws, user, project, amount, due string) invoiceJSON {
	e.t.Helper()
	body := fmt.Sprintf(`{"project_name":%q,"client":"Acme","amount":%q,"due_date":%q}`, project, amount, due)
	rec := e.do(http.MethodPost, "/api/workspaces/"+ws+"/invoices", user, body)
	if rec.Code != http.StatusCreated {
		e.t.Fatalf("create invoice: %d %s", rec.Code, rec.Body.String())
	}
	return decode[invoiceJSON](e.t, rec)
}

func TestRequiresIdentity(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	rec := env.do(http.MethodGet, "/api/session", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestIdentityHeadersRequireTrustedProxy(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	for _, addr := range []string{"203.0.113.7:5000", "[2001:db8::1]:5000", "garbage"} {
		req := httptest.NewRequest(http.MethodPost, "/api/session", nil)
		req.RemoteAddr = addr
		req.Header.Set(HeaderUserID, "victim")
		req.Header.Set(HeaderName, "Victim")
		rec := httptest.NewRecorder()
		env.srv.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", addr, rec.Code)
		}
	}

	if _, err := env.srv.membership.Profile(context.Background(), "victim"); !errors.Is(err, core.ErrProfileNotFound) {
		t.Fatalf("profile created from untrusted peer: %v", err)
	}
	if rec := env.do(http.MethodPost, "/api/session", "victim", ""); rec.Code != http.StatusOK {
		t.Fatalf("trusted proxy status = %d", rec.Code)
	}
}

func TestCustomTrustedProxies(t *testing.T) {
	proxies, err := ParseProxies([]string{"203.0.113.0/24"})
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, Config{TrustedProxies: proxies}, nil)

	if rec := env.do(http.MethodPost, "/api/session", "alice", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("default range still trusted: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/session", nil)
	req.RemoteAddr = "203.0.113.7:5000"
	req.Header.Set(HeaderUserID, "alice")
	rec := httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("configured proxy status = %d", rec.Code)
	}

	if _, err := ParseProxies([]string{"not-a-cidr"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestClientIP(t *testing.T) {
	proxies := DefaultTrustedProxies()
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct peer", "203.0.113.7:5000", "", "203.0.113.7"},
		{"untrusted peer ignores forwarding", "203.0.113.7:5000", "198.51.100.1", "203.0.113.7"},
		{"trusted proxy forwards", "10.0.0.2:5000", "198.51.100.1, 10.0.0.2", "198.51.100.1"},
		{"trusted proxy bad header", "127.0.0.1:5000", "nonsense", "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := proxies.clientIP(req); got != tt.want {
				t.Fatalf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionBootstrapIsIdempotent(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	first := env.signIn("alice")
	second := env.signIn("alice")
	if first == "" || first != second {
		t.Fatalf("workspaces differ: %q vs %q", first, second)
	}

	rec := env.do(http.MethodGet, "/api/session", "alice", "")
	got := decode[sessionJSON](t, rec)
	if got.Profile.DisplayName != "Alice" || got.ActiveWorkspace == nil || got.ActiveWorkspace.Name != "Alice's Workspace" {
		t.Fatalf("session = %+v", got)
	}
}

func TestInvoiceLifecycle(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ws := env.signIn("alice")

	old := env.createInvoice(ws, "alice", "Website", "1500.00", "2020-01-15")
	env.createInvoice(ws, "alice", "Logo", "25.5", "2099-03-01")

	if old.Amount != "$1,500.00" || old.DueDateLabel != "Jan 15, 2020" || old.DisplayStatus != "overdue" {
		t.Fatalf("created = %+v", old)
	}

	rec := env.do(http.MethodGet, "/api/workspaces/"+ws+"/invoices?status=overdue", "alice", "")
	if list := decode[[]invoiceJSON](t, rec); len(list) != 1 || list[0].ID != old.ID {
		t.Fatalf("overdue = %+v", list)
	}

	rec = env.do(http.MethodPatch, "/api/workspaces/"+ws+"/invoices/"+old.ID+"/status", "alice", `{"status":"paid"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set status: %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[invoiceJSON](t, rec); got.DisplayStatus != "paid" {
		t.Fatalf("display status = %q", got.DisplayStatus)
	}

	rec = env.do(http.MethodGet, "/api/workspaces/"+ws+"/invoices", "alice", "")
	list := decode[[]invoiceJSON](t, rec)
	if len(list) != 2 || list[0].ProjectName != "Logo" {
		t.Fatalf("list should be due date descending: %+v", list)
	}

	rec = env.do(http.MethodGet, "/api/workspaces/"+ws+"/due?day=2020-01-15", "alice", "")
	if due := decode[[]invoiceJSON](t, rec); len(due) != 1 {
		t.Fatalf("due on = %+v", due)
	}
	rec = env.do(http.MethodGet, "/api/workspaces/"+ws+"/due-days", "alice", "")
	if days := decode[[]string](t, rec); len(days) != 2 || days[0] != "2020-01-15" {
		t.Fatalf("due days = %v", days)
	}
}

func TestAnalyticsAndReports(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ws := env.signIn("alice")
	env.createInvoice(ws, "alice", "A", "100", "2023-01-10")
	env.createInvoice(ws, "alice", "B", "50", "2023-01-20")
	env.createInvoice(ws, "alice", "C", "10", "2023-07-01")
	inv := env.createInvoice(ws, "alice", "D", "99", "2022-05-05")

	rec := env.do(http.MethodGet, "/api/workspaces/"+ws+"/analytics?year=2023", "alice", "")
	got := decode[analyticsJSON](t, rec)
	if got.Year != 2023 || len(got.Months) != 12 || got.Months[0].TotalCents != 15000 || got.TotalCents != 16000 {
		t.Fatalf("analytics = %+v", got)
	}
	if len(got.AvailableYears) != 2 || got.AvailableYears[0] != 2023 {
		t.Fatalf("available years = %v", got.AvailableYears)
	}

	rec = env.do(http.MethodGet, "/api/workspaces/"+ws+"/analytics?year=2030", "alice", "")
	if got := decode[analyticsJSON](t, rec); got.Year != 2023 {
		t.Fatalf("year without data should fall back to the latest, got %d", got.Year)
	}

	rec = env.do(http.MethodGet, "/api/workspaces/"+ws+"/analytics?year=abc", "alice", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad year status = %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/workspaces/"+ws+"/report.csv?year=2023", "alice", "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("report: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "invoices-2023.csv") {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	if body := rec.Body.String(); !strings.Contains(body, "January,2,$150.00") || !strings.Contains(body, "Total,3,$160.00") {
		t.Fatalf("report body:\n%s", body)
	}

	rec = env.do(http.MethodGet, "/api/workspaces/"+ws+"/invoices/"+inv.ID+"/export.csv", "alice", "")
	if body := rec.Body.String(); rec.Code != http.StatusOK || !strings.Contains(body, "Project,Client,Due Date,Status,Amount") {
		t.Fatalf("export: %d\n%s", rec.Code, body)
	}
}

func TestCreateInvoiceValidation(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ws := env.signIn("alice")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"project_name":`, http.StatusBadRequest},
		{"unknown field", `{"project_name":"A","client":"B","amount":"1","due_date":"2024-01-01","x":1}`, http.StatusBadRequest},
		{"missing client", `{"project_name":"A","amount":"1","due_date":"2024-01-01"}`, http.StatusUnprocessableEntity},
		{"negative amount", `{"project_name":"A","client":"B","amount":"-1","due_date":"2024-01-01"}`, http.StatusUnprocessableEntity},
		{"bad date", `{"project_name":"A","client":"B","amount":"1","due_date":"01/02/2024"}`, http.StatusUnprocessableEntity},
		{"blank project", `{"project_name":"   ","client":"B","amount":"1","due_date":"2024-01-01"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/workspaces/"+ws+"/invoices", "alice", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if msg := decode[errorBody](t, rec).Error; msg == "" {
				t.Fatal("error message missing")
			}
		})
	}

	rec := env.do(http.MethodGet, "/api/workspaces/"+ws+"/invoices?status=late", "alice", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad filter status = %d", rec.Code)
	}
}

func TestWorkspaceIsolation(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	alice := env.signIn("alice")
	bob := env.signIn("bob")
	inv := env.createInvoice(alice, "alice", "Secret", "10", "2024-01-01")

	rec := env.do(http.MethodGet, "/api/workspaces/"+alice+"/invoices", "bob", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-member status = %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/workspaces/"+bob+"/invoices/"+inv.ID, "bob", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign invoice status = %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/workspaces/missing/invoices", "bob", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing workspace status = %d", rec.Code)
	}

	rec = env.do(http.MethodPut, "/api/session/workspace", "bob", fmt.Sprintf(`{"workspace_id":%q}`, alice))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("switch to foreign workspace status = %d", rec.Code)
	}
}

func TestInvites(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	alice := env.signIn("alice")
	env.signIn("bob")
	invite := func(user, email string) (int, inviteJSON) {
		rec := env.do(http.MethodPost, "/api/workspaces/"+alice+"/invites", user, fmt.Sprintf(`{"email":%q}`, email))
		return rec.Code, decode[inviteJSON](t, rec)
	}

	if code, res := invite("alice", "bob@example.com"); code != http.StatusOK || !res.Success {
		t.Fatalf("invite bob: %d %+v", code, res)
	}
	if code, res := invite("alice", "BOB@example.com"); code != http.StatusConflict || res.Message != "User is already a member of this workspace." {
		t.Fatalf("re-invite: %d %+v", code, res)
	}
	if code, res := invite("alice", "nobody@example.com"); code != http.StatusNotFound || !strings.Contains(res.Message, "does not exist") {
		t.Fatalf("unknown email: %d %+v", code, res)
	}
	if code, _ := invite("alice", "not-an-email"); code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid email: %d", code)
	}
	if code, _ := invite("bob", "alice@example.com"); code != http.StatusForbidden {
		t.Fatalf("non-owner invite: %d", code)
	}

	rec := env.do(http.MethodGet, "/api/workspaces/"+alice+"/members", "bob", "")
	members := decode[[]profileJSON](t, rec)
	if len(members) != 2 || members[0].ID != "alice" || members[1].ID != "bob" {
		t.Fatalf("members = %+v", members)
	}

	rec = env.do(http.MethodPut, "/api/session/workspace", "bob", fmt.Sprintf(`{"workspace_id":%q}`, alice))
	if rec.Code != http.StatusOK {
		t.Fatalf("switch: %d %s", rec.Code, rec.Body.String())
	}
}

func TestInviteRateLimit(t *testing.T) {
	env := newTestEnv(t, Config{InviteLimit: ratelimit.Config{RequestsPerWindow: 1, Window: time.Hour}}, nil)
	ws := env.signIn("alice")

	env.do(http.MethodPost, "/api/workspaces/"+ws+"/invites", "alice", `{"email":"x@example.com"}`)
	rec := env.do(http.MethodPost, "/api/workspaces/"+ws+"/invites", "alice", `{"email":"x@example.com"}`)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		message string
	}{
		{core.ErrEmptyClient, http.StatusUnprocessableEntity, core.ErrEmptyClient.Error()},
		{core.ErrInvoiceNotFound, http.StatusNotFound, "Invoice not found."},
		{core.ErrNotOwner, http.StatusForbidden, "Only the workspace owner can invite new members."},
		{core.ErrAmbiguousEmail, http.StatusConflict, "More than one user has that email address."},
		{fmt.Errorf("invite: %w", core.ErrTransactionConflict), http.StatusConflict, "The workspace was modified concurrently, please try again."},
		{errors.New("disk on fire"), http.StatusInternalServerError, core.MessageUnexpected},
		{badRequest("nope"), http.StatusBadRequest, "nope"},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.status {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.status)
		}
		if got := messageFor(tt.err); got != tt.message {
			t.Errorf("messageFor(%v) = %q, want %q", tt.err, got, tt.message)
		}
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t, Config{}, pingFunc(func(context.Context) error { return errors.New("db down") }))

	if rec := env.do(http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	rec := env.do(http.MethodGet, "/readyz", "", "")
	if rec.Code != http.StatusServiceUnavailable || strings.Contains(rec.Body.String(), "db down") {
		t.Fatalf("readyz = %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(http.MethodGet, "/metrics", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing")
	}
}

func TestInvoiceStream(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ws := env.signIn("alice")
	ts := httptest.NewServer(env.srv.Handler)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/workspaces/"+ws+"/invoices/stream", nil)
	req.Header.Set(HeaderUserID, "alice")
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := bufio.NewScanner(res.Body)
	nextData := func() string {
		t.Helper()
		for lines.Scan() {
			if data, ok := strings.CutPrefix(lines.Text(), "data: "); ok {
				return data
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return ""
	}

	if first := nextData(); first != "[]" {
		t.Fatalf("initial snapshot = %s", first)
	}
	env.createInvoice(ws, "alice", "Streamed", "1", "2024-01-01")
	if next := nextData(); !strings.Contains(next, `"project_name":"Streamed"`) {
		t.Fatalf("snapshot after create = %s", next)
	}
}
