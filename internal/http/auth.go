package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"invoiceflow/internal/core"
	"invoiceflow/internal/log"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	workspaceKey
)

// identityFromHeaders reads the identity asserted by the authenticating proxy.
func identityFromHeaders(r *http.Request) (core.Identity, bool) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return core.Identity{}, false
	}
	return core.Identity{
		ID:          id,
		DisplayName: sanitizeInput(r.Header.Get(HeaderName)),
		Email:       strings.TrimSpace(r.Header.Get(HeaderEmail)),
		AvatarURL:   strings.TrimSpace(r.Header.Get(HeaderAvatar)),
	}, true
}

func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := identityFromHeaders(r)
		if ok && !s.proxies.peerTrusted(r) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Identity headers from untrusted peer",
				log.FieldClientIP, peerIP(r))
			ok = false
		}
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "Authentication required.")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, ident)
		ctx = log.IntoContext(ctx, log.FromContext(ctx).With(log.FieldUserID, ident.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireMember rejects callers who are not members of the routed workspace.
func (s *Server) requireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident := identityFrom(r.Context())
		ws, err := s.membership.Authorize(r.Context(), ident.ID, chi.URLParam(r, "workspaceID"))
		if err != nil {
			writeError(w, r, "authorize", err)
			return
		}
		ctx := context.WithValue(r.Context(), workspaceKey, ws)
		ctx = log.IntoContext(ctx, log.FromContext(ctx).With(log.FieldWorkspaceID, ws.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(ctx context.Context) core.Identity {
	ident, _ := ctx.Value(identityKey).(core.Identity)
	return ident
}

func workspaceFrom(ctx context.Context) core.Workspace {
	ws, _ := ctx.Value(workspaceKey).(core.Workspace)
	return ws
}

// rateLimitKey limits authenticated callers per user and everyone else per IP.
func (s *Server) rateLimitKey(r *http.Request) string {
	if id := identityFrom(r.Context()).ID; id != "" {
		return "user:" + id
	}
	return "ip:" + s.proxies.clientIP(r)
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordRateLimited()
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.proxies.clientIP(r))
	writeMessage(w, http.StatusTooManyRequests, "Too many requests, please try again later.")
}
