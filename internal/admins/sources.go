package admins

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/users"
)

// Source is one place that can recognize an identity as an admin.
type Source interface {
	Name() string
	Recognizes(ctx context.Context, id Identity) (bool, error)
}

// StaticSource answers from the file-backed list.
type StaticSource struct {
	Set *CachedFileSet
}

func (StaticSource) Name() string { return "static" }

func (s StaticSource) Recognizes(_ context.Context, id Identity) (bool, error) {
	n, err := ParseExternalID(id.Subject())
	if err != nil {
		return false, nil
	}
	return s.Set.Contains(n)
}

// DynamicSource answers from active database records.
type DynamicSource struct {
	Store   Store
	Timeout time.Duration
}

func (DynamicSource) Name() string { return "dynamic" }

func (s DynamicSource) Recognizes(ctx context.Context, id Identity) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	ok, err := s.Store.IsActive(ctx, id.Subject())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return ok, nil
}

// SessionRoleSource is the legacy fallback for logged-in sessions. It only
// answers for SessionIdentity, and only when both the credential and the stored
// account still carry the admin role.
type SessionRoleSource struct {
	Roles   RoleLookup
	Timeout time.Duration
}

func (SessionRoleSource) Name() string { return "session_role" }

func (s SessionRoleSource) Recognizes(ctx context.Context, id Identity) (bool, error) {
	sid, ok := id.(SessionIdentity)
	if !ok || sid.Role != users.RoleAdmin || s.Roles == nil {
		return false, nil
	}
	n, err := ParseExternalID(sid.ID)
	if err != nil {
		return false, nil
	}

	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	role, err := s.Roles.RoleOf(ctx, n)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return role == users.RoleAdmin, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
