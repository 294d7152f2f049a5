package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"invoiceflow/internal/core"
	"invoiceflow/internal/store"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

var _ store.Backend = (*SQLiteRepository)(nil)

// dsn enables foreign keys, waits on locks instead of failing immediately, and
// makes every transaction take the write lock up front.
func dsn(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping is used by the readiness check.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) CreateInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, error) {
	row, err := r.queries.CreateInvoice(ctx, CreateInvoiceParams{
		ID:          inv.ID,
		WorkspaceID: inv.WorkspaceID,
		ProjectName: inv.ProjectName,
		Client:      inv.Client,
		AmountCents: inv.Amount.Cents,
		DueDate:     toMillis(inv.DueDate),
		Status:      string(inv.Status),
		CreatedAt:   toMillis(inv.CreatedAt),
	})
	if err != nil {
		return core.Invoice{}, fmt.Errorf("create invoice: %w", mapError(err))
	}

	slog.DebugContext(ctx, "Invoice saved to SQLite",
		"id", row.ID,
		"workspace_id", row.WorkspaceID,
		"seq", row.Seq)

	return invoiceFromRow(row), nil
}

func (r *SQLiteRepository) GetInvoice(ctx context.Context, id string) (core.Invoice, error) {
	row, err := r.queries.GetInvoice(ctx, id)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("get invoice %s: %w", id, mapError(err))
	}
	return invoiceFromRow(row), nil
}

// UpdateInvoiceStatus writes status and reports whether the stored value changed.
func (r *SQLiteRepository) UpdateInvoiceStatus(ctx context.Context, id string, status core.Status) (core.Invoice, bool, error) {
	n, err := r.queries.UpdateInvoiceStatus(ctx, UpdateInvoiceStatusParams{
		ID:        id,
		Status:    string(status),
		UpdatedAt: toMillis(time.Now()),
	})
	if err != nil {
		return core.Invoice{}, false, fmt.Errorf("update invoice status: %w", mapError(err))
	}
	inv, err := r.GetInvoice(ctx, id)
	if err != nil {
		return core.Invoice{}, false, err
	}
	return inv, n > 0, nil
}

func (r *SQLiteRepository) ListInvoices(ctx context.Context, workspaceID string) ([]core.Invoice, error) {
	rows, err := r.queries.ListInvoicesByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", mapError(err))
	}
	out := make([]core.Invoice, len(rows))
	for i, row := range rows {
		out[i] = invoiceFromRow(row)
	}
	return out, nil
}

func (r *SQLiteRepository) GetProfile(ctx context.Context, userID string) (core.UserProfile, error) {
	return directory{q: r.queries}.GetProfile(ctx, userID)
}

func (r *SQLiteRepository) FindProfileByEmail(ctx context.Context, email string) (core.UserProfile, error) {
	return directory{q: r.queries}.FindProfileByEmail(ctx, email)
}

func (r *SQLiteRepository) GetWorkspace(ctx context.Context, id string) (core.Workspace, error) {
	return directory{q: r.queries}.GetWorkspace(ctx, id)
}

// RunInTx runs fn inside a single IMMEDIATE transaction. The transaction is
// committed only when fn returns nil.
func (r *SQLiteRepository) RunInTx(ctx context.Context, fn func(tx store.DirectoryTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", mapError(err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(directory{q: r.queries.WithTx(tx)}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapError(err))
	}
	return nil
}

// directory implements store.DirectoryTx over either the pool or a transaction.
type directory struct {
	q *Queries
}

func (d directory) GetProfile(ctx context.Context, userID string) (core.UserProfile, error) {
	row, err := d.q.GetProfile(ctx, userID)
	if err != nil {
		return core.UserProfile{}, fmt.Errorf("get profile %s: %w", userID, mapError(err))
	}
	return d.hydrateProfile(ctx, row)
}

func (d directory) FindProfileByEmail(ctx context.Context, email string) (core.UserProfile, error) {
	rows, err := d.q.FindProfilesByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return core.UserProfile{}, fmt.Errorf("find profile by email: %w", mapError(err))
	}
	switch len(rows) {
	case 0:
		return core.UserProfile{}, fmt.Errorf("find profile by email: %w", store.ErrNotFound)
	case 1:
		return d.hydrateProfile(ctx, rows[0])
	default:
		return core.UserProfile{}, fmt.Errorf("find profile by email: %w", store.ErrAmbiguous)
	}
}

func (d directory) hydrateProfile(ctx context.Context, row ProfileRow) (core.UserProfile, error) {
	ws, err := d.q.ListProfileWorkspaces(ctx, row.ID)
	if err != nil {
		return core.UserProfile{}, fmt.Errorf("list profile workspaces: %w", mapError(err))
	}
	return core.UserProfile{
		ID:          row.ID,
		DisplayName: row.DisplayName,
		Email:       row.Email,
		AvatarURL:   row.AvatarURL,
		Workspaces:  ws,
	}, nil
}

func (d directory) GetWorkspace(ctx context.Context, id string) (core.Workspace, error) {
	row, err := d.q.GetWorkspace(ctx, id)
	if err != nil {
		return core.Workspace{}, fmt.Errorf("get workspace %s: %w", id, mapError(err))
	}
	members, err := d.q.ListWorkspaceMembers(ctx, id)
	if err != nil {
		return core.Workspace{}, fmt.Errorf("list workspace members: %w", mapError(err))
	}
	return core.Workspace{
		ID:      row.ID,
		Name:    row.Name,
		OwnerID: row.OwnerID,
		Members: members,
	}, nil
}

func (d directory) CreateWorkspace(ctx context.Context, ws core.Workspace) error {
	err := d.q.CreateWorkspace(ctx, WorkspaceRow{
		ID:        ws.ID,
		Name:      ws.Name,
		OwnerID:   ws.OwnerID,
		CreatedAt: toMillis(time.Now()),
	})
	if err != nil {
		return fmt.Errorf("create workspace: %w", mapError(err))
	}
	for _, m := range ws.Members {
		if err := d.AddWorkspaceMember(ctx, ws.ID, m); err != nil {
			return err
		}
	}
	return nil
}

func (d directory) CreateProfile(ctx context.Context, p core.UserProfile) error {
	err := d.q.CreateProfile(ctx, ProfileRow{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		AvatarURL:   p.AvatarURL,
		CreatedAt:   toMillis(time.Now()),
	})
	if err != nil {
		return fmt.Errorf("create profile: %w", mapError(err))
	}
	for _, wsID := range p.Workspaces {
		if err := d.AddProfileWorkspace(ctx, p.ID, wsID); err != nil {
			return err
		}
	}
	return nil
}

func (d directory) AddWorkspaceMember(ctx context.Context, workspaceID, userID string) error {
	if err := d.q.AddWorkspaceMember(ctx, workspaceID, userID); err != nil {
		return fmt.Errorf("add workspace member: %w", mapError(err))
	}
	return nil
}

func (d directory) AddProfileWorkspace(ctx context.Context, userID, workspaceID string) error {
	if err := d.q.AddProfileWorkspace(ctx, userID, workspaceID); err != nil {
		return fmt.Errorf("add profile workspace: %w", mapError(err))
	}
	return nil
}

func invoiceFromRow(row InvoiceRow) core.Invoice {
	return core.Invoice{
		ID:          row.ID,
		WorkspaceID: row.WorkspaceID,
		ProjectName: row.ProjectName,
		Client:      row.Client,
		Amount:      core.Money{Cents: row.AmountCents},
		DueDate:     fromMillis(row.DueDate),
		Status:      core.Status(row.Status),
		CreatedAt:   fromMillis(row.CreatedAt),
		Seq:         row.Seq,
	}
}

// mapError translates driver errors into the store sentinels.
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return err
	}
	code := serr.Code()
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %v", store.ErrBusy, err)
	case sqlite3.SQLITE_CONSTRAINT:
		if code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY || strings.Contains(serr.Error(), "FOREIGN KEY") {
			return fmt.Errorf("%w: %v", store.ErrNotFound, err)
		}
		if code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			strings.Contains(serr.Error(), "UNIQUE") {
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
	}
	return err
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
