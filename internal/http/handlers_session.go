package http

import (
	"net/http"

	"invoiceflow/internal/core"
	"invoiceflow/internal/log"
)

type profileJSON struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Email       string   `json:"email"`
	AvatarURL   string   `json:"avatar_url,omitempty"`
	Workspaces  []string `json:"workspaces"`
}

type workspaceJSON struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	OwnerID string   `json:"owner_id"`
	Members []string `json:"members"`
}

type sessionJSON struct {
	Profile         profileJSON    `json:"profile"`
	ActiveWorkspace *workspaceJSON `json:"active_workspace"`
}

type inviteJSON struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func toProfileJSON(p core.UserProfile) profileJSON {
	ws := p.Workspaces
	if ws == nil {
		ws = []string{}
	}
	return profileJSON{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		AvatarURL:   p.AvatarURL,
		Workspaces:  ws,
	}
}

func toWorkspaceJSON(ws core.Workspace) *workspaceJSON {
	members := ws.Members
	if members == nil {
		members = []string{}
	}
	return &workspaceJSON{ID: ws.ID, Name: ws.Name, OwnerID: ws.OwnerID, Members: members}
}

// handleStartSession bootstraps the caller on first login and returns the
// profile with its default workspace.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	profile, ws, err := s.membership.BootstrapUserWorkspace(r.Context(), ident)
	if err != nil {
		writeError(w, r, log.OpBootstrap, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON{
		Profile:         toProfileJSON(profile),
		ActiveWorkspace: toWorkspaceJSON(ws),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profile, err := s.membership.Profile(ctx, identityFrom(ctx).ID)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	out := sessionJSON{Profile: toProfileJSON(profile)}
	if id, ok := profile.DefaultWorkspace(); ok {
		ws, err := s.membership.Workspace(ctx, id)
		if err != nil {
			writeError(w, r, log.OpRead, err)
			return
		}
		out.ActiveWorkspace = toWorkspaceJSON(ws)
	}
	writeJSON(w, http.StatusOK, out)
}

type switchWorkspaceRequest struct {
	WorkspaceID string `json:"workspace_id" validate:"required"`
}

func (s *Server) handleSwitchWorkspace(w http.ResponseWriter, r *http.Request) {
	var req switchWorkspaceRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpSwitch, err)
		return
	}
	ws, err := s.membership.SwitchActiveWorkspace(r.Context(), identityFrom(r.Context()).ID, req.WorkspaceID)
	if err != nil {
		writeError(w, r, log.OpSwitch, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ActiveWorkspace *workspaceJSON `json:"active_workspace"`
	}{toWorkspaceJSON(ws)})
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toWorkspaceJSON(workspaceFrom(r.Context())))
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.membership.ListMembers(r.Context(), workspaceFrom(r.Context()).ID)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	out := make([]profileJSON, 0, len(members))
	for _, m := range members {
		out = append(out, toProfileJSON(m))
	}
	writeJSON(w, http.StatusOK, out)
}

type inviteRequest struct {
	Email string `json:"email" validate:"required,max=254"`
}

// handleInvite adds an existing user to the workspace. Only the owner may invite.
func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpInvite, err)
		return
	}
	ctx := r.Context()
	res := s.membership.InviteAs(ctx, identityFrom(ctx).ID, workspaceFrom(ctx).ID, req.Email)
	s.metrics.RecordInvite(res.Success)

	status := http.StatusOK
	if !res.Success {
		status = statusFor(res.Reason)
		if status == http.StatusInternalServerError {
			log.LogError(ctx, "Invite failed", res.Reason, log.OpInvite, nil)
		}
	}
	writeJSON(w, status, inviteJSON{Success: res.Success, Message: res.Message})
}
