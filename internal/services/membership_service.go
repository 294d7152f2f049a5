package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"invoiceflow/internal/core"
	"invoiceflow/internal/identity"
	"invoiceflow/internal/log"
	"invoiceflow/internal/store"
)

// InviteResult is the outcome of an invitation. Message is always safe to show
// to the user; Reason carries the domain error on failure.
type InviteResult struct {
	Success bool
	Message string
	Reason  error
}

// MembershipService maintains user profiles, workspaces and the membership
// links between them.
type MembershipService struct {
	directory  store.Directory
	identities identity.Lookup
	validate   *validator.Validate
	bootstraps singleflight.Group
	logger     *log.Logger
	newID      func() string
}

func NewMembershipService(directory store.Directory, identities identity.Lookup, logger *log.Logger) *MembershipService {
	return &MembershipService{
		directory:  directory,
		identities: identities,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger.WithComponent(log.ComponentMembership),
		newID:      uuid.NewString,
	}
}

type bootstrapResult struct {
	profile   core.UserProfile
	workspace core.Workspace
}

// BootstrapUserWorkspace returns the user's profile and default workspace,
// creating both in one transaction on first login. Concurrent calls for the
// same user share a single attempt.
func (s *MembershipService) BootstrapUserWorkspace(ctx context.Context, ident core.Identity) (core.UserProfile, core.Workspace, error) {
	if strings.TrimSpace(ident.ID) == "" {
		return core.UserProfile{}, core.Workspace{}, fmt.Errorf("%w: empty user id", core.ErrValidation)
	}

	// The shared attempt must outlive any single caller, each of which
	// waits on its own ctx.
	ch := s.bootstraps.DoChan(ident.ID, func() (any, error) {
		return s.bootstrap(context.WithoutCancel(ctx), ident)
	})
	var r singleflight.Result
	select {
	case <-ctx.Done():
		return core.UserProfile{}, core.Workspace{}, ctx.Err()
	case r = <-ch:
	}
	v, err, shared := r.Val, r.Err, r.Shared
	if err != nil {
		s.logger.ErrorContext(ctx, "Bootstrap failed", log.NewFields().
			WithUser(ident.ID).WithOperation(log.OpBootstrap).WithError(err).ToSlice()...)
		return core.UserProfile{}, core.Workspace{}, err
	}
	res := v.(bootstrapResult)
	if shared {
		s.logger.DebugContext(ctx, "Bootstrap shared with concurrent caller", log.FieldUserID, ident.ID)
	}
	return res.profile, res.workspace, nil
}

func (s *MembershipService) bootstrap(ctx context.Context, ident core.Identity) (bootstrapResult, error) {
	var res bootstrapResult
	created := false

	err := s.directory.RunInTx(ctx, func(tx store.DirectoryTx) error {
		existing, err := tx.GetProfile(ctx, ident.ID)
		if err == nil {
			ws, err := defaultWorkspace(ctx, tx, existing)
			res = bootstrapResult{profile: existing, workspace: ws}
			return err
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		ws := core.Workspace{
			ID:      s.newID(),
			Name:    core.PersonalWorkspaceName(ident.DisplayName),
			OwnerID: ident.ID,
			Members: []string{ident.ID},
		}
		if err := tx.CreateWorkspace(ctx, ws); err != nil {
			return err
		}
		profile := core.UserProfile{
			ID:          ident.ID,
			DisplayName: ident.DisplayName,
			Email:       strings.TrimSpace(ident.Email),
			AvatarURL:   ident.AvatarURL,
			Workspaces:  []string{ws.ID},
		}
		if err := tx.CreateProfile(ctx, profile); err != nil {
			return err
		}
		res = bootstrapResult{profile: profile, workspace: ws}
		created = true
		return nil
	})

	// Another process created the profile between our read and our insert.
	if errors.Is(err, store.ErrConflict) {
		profile, gerr := s.directory.GetProfile(ctx, ident.ID)
		if gerr != nil {
			return bootstrapResult{}, mapStoreError("reload profile", gerr, core.ErrProfileNotFound)
		}
		ws, gerr := defaultWorkspace(ctx, s.directory, profile)
		if gerr != nil {
			return bootstrapResult{}, gerr
		}
		return bootstrapResult{profile: profile, workspace: ws}, nil
	}
	if err != nil {
		return bootstrapResult{}, mapStoreError("bootstrap user workspace", err, core.ErrWorkspaceNotFound)
	}

	if created {
		s.logger.InfoContext(ctx, "Personal workspace created", log.NewFields().
			WithUser(ident.ID).WithWorkspace(res.workspace.ID).WithOperation(log.OpBootstrap).ToSlice()...)
	}
	return res, nil
}

func defaultWorkspace(ctx context.Context, r store.DirectoryReader, p core.UserProfile) (core.Workspace, error) {
	wsID, ok := p.DefaultWorkspace()
	if !ok {
		return core.Workspace{}, core.ErrWorkspaceNotFound
	}
	ws, err := r.GetWorkspace(ctx, wsID)
	if err != nil {
		return core.Workspace{}, mapStoreError("get default workspace", err, core.ErrWorkspaceNotFound)
	}
	return ws, nil
}

// InviteByEmail adds the user registered under email to the workspace. Both
// sides of the membership link are written in one transaction.
func (s *MembershipService) InviteByEmail(ctx context.Context, workspaceID, email string) InviteResult {
	email = strings.TrimSpace(email)
	res := s.invite(ctx, workspaceID, email)

	fields := log.NewFields().WithWorkspace(workspaceID).WithOperation(log.OpInvite)
	fields[log.FieldEmail] = email
	switch {
	case res.Success:
		s.logger.InfoContext(ctx, "Member invited", fields.ToSlice()...)
	case res.Message == core.MessageUnexpected:
		s.logger.ErrorContext(ctx, "Invite failed", fields.WithError(res.Reason).ToSlice()...)
	default:
		s.logger.WarnContext(ctx, "Invite rejected", fields.WithError(res.Reason).ToSlice()...)
	}
	return res
}

// InviteAs is InviteByEmail restricted to the workspace owner.
func (s *MembershipService) InviteAs(ctx context.Context, actorID, workspaceID, email string) InviteResult {
	ws, err := s.directory.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return failed(mapStoreError("get workspace", err, core.ErrWorkspaceNotFound))
	}
	if ws.OwnerID != actorID {
		return failed(core.ErrNotOwner)
	}
	return s.InviteByEmail(ctx, workspaceID, email)
}

func (s *MembershipService) invite(ctx context.Context, workspaceID, email string) InviteResult {
	if err := s.validate.Var(email, "required,email"); err != nil {
		return failed(core.ErrInvalidEmail)
	}

	invitee, err := s.identities.LookupByEmail(ctx, email)
	if err != nil {
		return failed(err)
	}

	ws, err := s.directory.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return failed(mapStoreError("get workspace", err, core.ErrWorkspaceNotFound))
	}
	if _, err := s.directory.GetProfile(ctx, invitee.ID); err != nil {
		return failed(mapStoreError("get profile", err, core.ErrProfileNotFound))
	}
	if ws.IsMember(invitee.ID) {
		return failed(core.ErrAlreadyMember)
	}

	err = s.directory.RunInTx(ctx, func(tx store.DirectoryTx) error {
		current, err := tx.GetWorkspace(ctx, workspaceID)
		if err != nil {
			return mapStoreError("get workspace", err, core.ErrWorkspaceNotFound)
		}
		if current.IsMember(invitee.ID) {
			return core.ErrAlreadyMember
		}
		if err := tx.AddWorkspaceMember(ctx, workspaceID, invitee.ID); err != nil {
			return err
		}
		return tx.AddProfileWorkspace(ctx, invitee.ID, workspaceID)
	})
	if err != nil {
		return failed(mapStoreError("invite member", err, core.ErrProfileNotFound))
	}

	return InviteResult{Success: true, Message: fmt.Sprintf("Successfully invited %s.", email)}
}

func failed(err error) InviteResult {
	return InviteResult{Message: core.Message(err), Reason: err}
}

// SwitchActiveWorkspace returns the workspace when the user's profile lists it.
func (s *MembershipService) SwitchActiveWorkspace(ctx context.Context, userID, workspaceID string) (core.Workspace, error) {
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return core.Workspace{}, err
	}
	if !profile.BelongsTo(workspaceID) {
		return core.Workspace{}, core.ErrNotAMember
	}
	return s.Workspace(ctx, workspaceID)
}

// Authorize returns the workspace if userID is one of its members.
func (s *MembershipService) Authorize(ctx context.Context, userID, workspaceID string) (core.Workspace, error) {
	ws, err := s.Workspace(ctx, workspaceID)
	if err != nil {
		return core.Workspace{}, err
	}
	if !ws.IsMember(userID) {
		return core.Workspace{}, core.ErrNotAMember
	}
	return ws, nil
}

// ListMembers returns the profiles of the workspace members in join order.
// Members without a profile are skipped.
func (s *MembershipService) ListMembers(ctx context.Context, workspaceID string) ([]core.UserProfile, error) {
	ws, err := s.Workspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	out := make([]core.UserProfile, 0, len(ws.Members))
	for _, id := range ws.Members {
		p, err := s.directory.GetProfile(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, mapStoreError("get member profile", err, core.ErrProfileNotFound)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *MembershipService) Profile(ctx context.Context, userID string) (core.UserProfile, error) {
	p, err := s.directory.GetProfile(ctx, userID)
	if err != nil {
		return core.UserProfile{}, mapStoreError("get profile", err, core.ErrProfileNotFound)
	}
	return p, nil
}

func (s *MembershipService) Workspace(ctx context.Context, workspaceID string) (core.Workspace, error) {
	ws, err := s.directory.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return core.Workspace{}, mapStoreError("get workspace", err, core.ErrWorkspaceNotFound)
	}
	return ws, nil
}
