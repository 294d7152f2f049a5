package core

import (
	"strings"
	"time"
)

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

const (
	// DisplayAll is the empty filter: every invoice matches.
	DisplayAll     DisplayStatus = ""
	DisplayPending DisplayStatus = "pending"
	DisplayPaid    DisplayStatus = "paid"
	DisplayOverdue DisplayStatus = "overdue"
)

const maxTextLength = 200

type (
	// Status is the stored lifecycle state of an invoice.
	Status string

	// DisplayStatus is derived at read time and never persisted.
	DisplayStatus string

	Money struct {
		Cents int64
	}

	Invoice struct {
		ID          string
		WorkspaceID string
		ProjectName string
		Client      string
		Amount      Money
		DueDate     time.Time
		Status      Status
		CreatedAt   time.Time
		// Seq is the insertion sequence, used to break due-date ties.
		Seq int64
	}

	// NewInvoice carries the caller-supplied fields of an invoice.
	NewInvoice struct {
		WorkspaceID string
		ProjectName string
		Client      string
		Amount      Money
		DueDate     time.Time
	}

	// Identity is what the external auth provider knows about a user.
	Identity struct {
		ID          string
		DisplayName string
		Email       string
		AvatarURL   string
	}

	UserProfile struct {
		ID          string
		DisplayName string
		Email       string
		AvatarURL   string
		Workspaces  []string
	}

	Workspace struct {
		ID      string
		Name    string
		OwnerID string
		Members []string
	}
)

// Valid reports whether s is one of the stored statuses.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusPaid
}

// Valid reports whether d is a known display status or the empty filter.
func (d DisplayStatus) Valid() bool {
	switch d {
	case DisplayAll, DisplayPending, DisplayPaid, DisplayOverdue:
		return true
	}
	return false
}

// ParseDisplayStatus accepts "all", "" and the three display statuses.
func ParseDisplayStatus(s string) (DisplayStatus, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "all" {
		return DisplayAll, nil
	}
	d := DisplayStatus(s)
	if !d.Valid() {
		return DisplayAll, ErrInvalidStatus
	}
	return d, nil
}

// ParseStatus parses a stored status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", ErrInvalidStatus
	}
	return st, nil
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (n NewInvoice) Validate() error {
	if strings.TrimSpace(n.WorkspaceID) == "" {
		return ErrEmptyWorkspace
	}
	project := strings.TrimSpace(n.ProjectName)
	if project == "" {
		return ErrEmptyProject
	}
	if len(project) > maxTextLength {
		return ErrTextTooLong
	}
	client := strings.TrimSpace(n.Client)
	if client == "" {
		return ErrEmptyClient
	}
	if len(client) > maxTextLength {
		return ErrTextTooLong
	}
	if err := n.Amount.Validate(); err != nil {
		return err
	}
	if n.DueDate.IsZero() {
		return ErrInvalidDueDate
	}
	return nil
}

// IsMember reports whether userID is in the workspace member set.
func (w Workspace) IsMember(userID string) bool {
	return contains(w.Members, userID)
}

// BelongsTo reports whether the profile lists workspaceID.
func (p UserProfile) BelongsTo(workspaceID string) bool {
	return contains(p.Workspaces, workspaceID)
}

// DefaultWorkspace returns the workspace a fresh session starts in.
func (p UserProfile) DefaultWorkspace() (string, bool) {
	if len(p.Workspaces) == 0 {
		return "", false
	}
	return p.Workspaces[0], true
}

// PersonalWorkspaceName is the name given to a workspace created at first login.
func PersonalWorkspaceName(displayName string) string {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return "Personal Workspace"
	}
	return displayName + "'s Workspace"
}

// Timestamp normalizes t to UTC at millisecond precision, the resolution
// every store persists, so a stored instant reads back unchanged.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// UTCDay truncates t to the start of its calendar day in UTC.
func UTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
