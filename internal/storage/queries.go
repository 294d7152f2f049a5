package storage

import "context"

type InvoiceRow struct {
	Seq         int64
	ID          string
	WorkspaceID string
	ProjectName string
	Client      string
	AmountCents int64
	DueDate     int64
	Status      string
	CreatedAt   int64
	UpdatedAt   int64
}

type ProfileRow struct {
	ID          string
	DisplayName string
	Email       string
	AvatarURL   string
	CreatedAt   int64
}

type WorkspaceRow struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt int64
}

const invoiceColumns = `seq, id, workspace_id, project_name, client, amount_cents, due_date, status, created_at, updated_at`

func scanInvoice(row interface{ Scan(...any) error }) (InvoiceRow, error) {
	var i InvoiceRow
	err := row.Scan(
		&i.Seq,
		&i.ID,
		&i.WorkspaceID,
		&i.ProjectName,
		&i.Client,
		&i.AmountCents,
		&i.DueDate,
		&i.Status,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createInvoice = `INSERT INTO invoices (id, workspace_id, project_name, client, amount_cents, due_date, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + invoiceColumns

type CreateInvoiceParams struct {
	ID          string
	WorkspaceID string
	ProjectName string
	Client      string
	AmountCents int64
	DueDate     int64
	Status      string
	CreatedAt   int64
}

func (q *Queries) CreateInvoice(ctx context.Context, arg CreateInvoiceParams) (InvoiceRow, error) {
	row := q.db.QueryRowContext(ctx, createInvoice,
		arg.ID,
		arg.WorkspaceID,
		arg.ProjectName,
		arg.Client,
		arg.AmountCents,
		arg.DueDate,
		arg.Status,
		arg.CreatedAt,
		arg.CreatedAt,
	)
	return scanInvoice(row)
}

const getInvoice = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`

func (q *Queries) GetInvoice(ctx context.Context, id string) (InvoiceRow, error) {
	return scanInvoice(q.db.QueryRowContext(ctx, getInvoice, id))
}

const updateInvoiceStatus = `UPDATE invoices SET status = ?, updated_at = ?
WHERE id = ? AND status <> ?`

type UpdateInvoiceStatusParams struct {
	ID        string
	Status    string
	UpdatedAt int64
}

// UpdateInvoiceStatus returns the number of rows whose status actually changed.
func (q *Queries) UpdateInvoiceStatus(ctx context.Context, arg UpdateInvoiceStatusParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateInvoiceStatus, arg.Status, arg.UpdatedAt, arg.ID, arg.Status)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listInvoicesByWorkspace = `SELECT ` + invoiceColumns + ` FROM invoices
WHERE workspace_id = ?
ORDER BY due_date DESC, seq ASC`

func (q *Queries) ListInvoicesByWorkspace(ctx context.Context, workspaceID string) ([]InvoiceRow, error) {
	rows, err := q.db.QueryContext(ctx, listInvoicesByWorkspace, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []InvoiceRow
	for rows.Next() {
		i, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getProfile = `SELECT id, display_name, email, avatar_url, created_at FROM user_profiles WHERE id = ?`

func (q *Queries) GetProfile(ctx context.Context, id string) (ProfileRow, error) {
	var p ProfileRow
	err := q.db.QueryRowContext(ctx, getProfile, id).Scan(&p.ID, &p.DisplayName, &p.Email, &p.AvatarURL, &p.CreatedAt)
	return p, err
}

const findProfileByEmail = `SELECT id, display_name, email, avatar_url, created_at FROM user_profiles
WHERE lower(email) = lower(?)
ORDER BY created_at ASC
LIMIT 2`

// FindProfilesByEmail returns at most two matches, enough to tell a unique
// address from a shared one.
func (q *Queries) FindProfilesByEmail(ctx context.Context, email string) ([]ProfileRow, error) {
	rows, err := q.db.QueryContext(ctx, findProfileByEmail, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ProfileRow
	for rows.Next() {
		var p ProfileRow
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Email, &p.AvatarURL, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createProfile = `INSERT INTO user_profiles (id, display_name, email, avatar_url, created_at)
VALUES (?, ?, ?, ?, ?)`

func (q *Queries) CreateProfile(ctx context.Context, p ProfileRow) error {
	_, err := q.db.ExecContext(ctx, createProfile, p.ID, p.DisplayName, p.Email, p.AvatarURL, p.CreatedAt)
	return err
}

const getWorkspace = `SELECT id, name, owner_id, created_at FROM workspaces WHERE id = ?`

func (q *Queries) GetWorkspace(ctx context.Context, id string) (WorkspaceRow, error) {
	var w WorkspaceRow
	err := q.db.QueryRowContext(ctx, getWorkspace, id).Scan(&w.ID, &w.Name, &w.OwnerID, &w.CreatedAt)
	return w, err
}

const createWorkspace = `INSERT INTO workspaces (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)`

func (q *Queries) CreateWorkspace(ctx context.Context, w WorkspaceRow) error {
	_, err := q.db.ExecContext(ctx, createWorkspace, w.ID, w.Name, w.OwnerID, w.CreatedAt)
	return err
}

const addWorkspaceMember = `INSERT INTO workspace_members (workspace_id, user_id, position)
SELECT ?1, ?2, COALESCE(MAX(position), -1) + 1 FROM workspace_members WHERE workspace_id = ?1
ON CONFLICT (workspace_id, user_id) DO NOTHING`

func (q *Queries) AddWorkspaceMember(ctx context.Context, workspaceID, userID string) error {
	_, err := q.db.ExecContext(ctx, addWorkspaceMember, workspaceID, userID)
	return err
}

const listWorkspaceMembers = `SELECT user_id FROM workspace_members WHERE workspace_id = ? ORDER BY position ASC`

func (q *Queries) ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]string, error) {
	return q.listStrings(ctx, listWorkspaceMembers, workspaceID)
}

const addProfileWorkspace = `INSERT INTO profile_workspaces (user_id, workspace_id, position)
SELECT ?1, ?2, COALESCE(MAX(position), -1) + 1 FROM profile_workspaces WHERE user_id = ?1
ON CONFLICT (user_id, workspace_id) DO NOTHING`

func (q *Queries) AddProfileWorkspace(ctx context.Context, userID, workspaceID string) error {
	_, err := q.db.ExecContext(ctx, addProfileWorkspace, userID, workspaceID)
	return err
}

const listProfileWorkspaces = `SELECT workspace_id FROM profile_workspaces WHERE user_id = ? ORDER BY position ASC`

func (q *Queries) ListProfileWorkspaces(ctx context.Context, userID string) ([]string, error) {
	return q.listStrings(ctx, listProfileWorkspaces, userID)
}

func (q *Queries) listStrings(ctx context.Context, query string, arg string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
