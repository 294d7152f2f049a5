package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"invoiceflow/internal/core"
)

type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticating
	StateBootstrapping
	StateReady
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateBootstrapping:
		return "bootstrapping"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// SessionDirectory is the part of MembershipService a session drives.
type SessionDirectory interface {
	Profile(ctx context.Context, userID string) (core.UserProfile, error)
	Workspace(ctx context.Context, workspaceID string) (core.Workspace, error)
	BootstrapUserWorkspace(ctx context.Context, ident core.Identity) (core.UserProfile, core.Workspace, error)
	SwitchActiveWorkspace(ctx context.Context, userID, workspaceID string) (core.Workspace, error)
}

// Session tracks one user's sign-in lifecycle and active workspace.
type Session struct {
	mu        sync.Mutex
	directory SessionDirectory
	state     SessionState
	identity  core.Identity
	profile   core.UserProfile
	active    core.Workspace
}

func NewSession(directory SessionDirectory) *Session {
	return &Session{directory: directory}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Profile() core.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// ActiveWorkspace is only meaningful in StateReady.
func (s *Session) ActiveWorkspace() core.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// BeginSignIn moves an unauthenticated session into Authenticating.
func (s *Session) BeginSignIn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnauthenticated {
		return s.invalid("begin sign-in")
	}
	s.state = StateAuthenticating
	return nil
}

// CompleteSignIn records the authenticated identity. A user without a profile
// goes through Bootstrapping first; a failed bootstrap returns the session to
// Unauthenticated.
func (s *Session) CompleteSignIn(ctx context.Context, ident core.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticating {
		return s.invalid("complete sign-in")
	}
	s.identity = ident

	profile, err := s.directory.Profile(ctx, ident.ID)
	if err == nil {
		ws, werr := s.defaultWorkspace(ctx, profile)
		if werr == nil {
			s.ready(profile, ws)
			return nil
		}
		err = werr
	}
	if !errors.Is(err, core.ErrProfileNotFound) && !errors.Is(err, core.ErrWorkspaceNotFound) {
		s.reset()
		return err
	}

	s.state = StateBootstrapping
	profile, ws, err := s.directory.BootstrapUserWorkspace(ctx, ident)
	if err != nil {
		s.reset()
		return fmt.Errorf("bootstrap: %w", err)
	}
	s.ready(profile, ws)
	return nil
}

// SwitchWorkspace changes the active workspace of a ready session.
func (s *Session) SwitchWorkspace(ctx context.Context, workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return s.invalid("switch workspace")
	}
	ws, err := s.directory.SwitchActiveWorkspace(ctx, s.profile.ID, workspaceID)
	if err != nil {
		return err
	}
	s.active = ws
	return nil
}

// SignOut returns the session to Unauthenticated from any state.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Session) defaultWorkspace(ctx context.Context, p core.UserProfile) (core.Workspace, error) {
	id, ok := p.DefaultWorkspace()
	if !ok {
		return core.Workspace{}, core.ErrWorkspaceNotFound
	}
	return s.directory.Workspace(ctx, id)
}

func (s *Session) ready(p core.UserProfile, ws core.Workspace) {
	s.profile = p
	s.active = ws
	s.state = StateReady
}

func (s *Session) reset() {
	s.state = StateUnauthenticated
	s.identity = core.Identity{}
	s.profile = core.UserProfile{}
	s.active = core.Workspace{}
}

func (s *Session) invalid(action string) error {
	return fmt.Errorf("%w: cannot %s while %s", core.ErrInvalidTransition, action, s.state)
}
