package auth

import (
	"context"
	"slices"
	"time"

	"github.com/unclebandit/mailcast-backend/internal/model"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	SubjectID int64
	TokenID   string
	Roles     []string
	ExpiresAt time.Time
}

func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

func (p Principal) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, p.HasRole)
}

func (p Principal) IsAdmin() bool {
	return p.HasRole(model.RoleAdmin)
}

// CanWrite reports whether the principal may create or change campaigns.
func (p Principal) CanWrite() bool {
	return p.HasAnyRole(model.RoleAdmin, model.RoleMarketer)
}

// CanRead reports whether the principal may look at campaigns at all.
func (p Principal) CanRead() bool {
	return p.HasAnyRole(model.RoleAdmin, model.RoleMarketer, model.RoleViewer)
}

// Owns reports whether the principal owns the resource. Admins own everything.
func (p Principal) Owns(ownerID int64) bool {
	return p.IsAdmin() || p.SubjectID == ownerID
}

type contextKey struct {
	name string
}

var principalCtxKey = &contextKey{"principal"}

// WithPrincipal stores the principal for the lifetime of the request.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, p)
}

// PrincipalFrom extracts the principal placed by Authenticate.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey).(Principal)
	return p, ok
}
