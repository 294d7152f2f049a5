// Package identity resolves users known to the external auth provider.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"invoiceflow/internal/core"
	"invoiceflow/internal/store"
)

// Lookup resolves an email address to an identity. Implementations return
// core.ErrUserNotFound when nobody is registered under the address.
type Lookup interface {
	LookupByEmail(ctx context.Context, email string) (core.Identity, error)
}

// ProfileLookup treats every bootstrapped profile as a registered identity.
type ProfileLookup struct {
	profiles store.DirectoryReader
}

func NewProfileLookup(profiles store.DirectoryReader) *ProfileLookup {
	return &ProfileLookup{profiles: profiles}
}

func (l *ProfileLookup) LookupByEmail(ctx context.Context, email string) (core.Identity, error) {
	p, err := l.profiles.FindProfileByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return core.Identity{}, core.ErrUserNotFound
	}
	if errors.Is(err, store.ErrAmbiguous) {
		return core.Identity{}, core.ErrAmbiguousEmail
	}
	if err != nil {
		return core.Identity{}, fmt.Errorf("find profile by email: %w", err)
	}
	return core.Identity{ID: p.ID, DisplayName: p.DisplayName, Email: p.Email, AvatarURL: p.AvatarURL}, nil
}

// Static is an in-memory directory of identities, keyed by lower-cased email.
type Static struct {
	mu      sync.RWMutex
	byEmail map[string]core.Identity
}

func NewStatic(ids ...core.Identity) *Static {
	s := &Static{byEmail: make(map[string]core.Identity, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s *Static) Add(id core.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEmail[normalize(id.Email)] = id
}

func (s *Static) LookupByEmail(_ context.Context, email string) (core.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalize(email)]
	if !ok {
		return core.Identity{}, core.ErrUserNotFound
	}
	return id, nil
}

// Chain tries each lookup in order and returns the first hit.
type Chain []Lookup

func (c Chain) LookupByEmail(ctx context.Context, email string) (core.Identity, error) {
	for _, l := range c {
		id, err := l.LookupByEmail(ctx, email)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, core.ErrUserNotFound) {
			return core.Identity{}, err
		}
	}
	return core.Identity{}, core.ErrUserNotFound
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
