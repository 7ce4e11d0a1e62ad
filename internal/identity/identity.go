// Package identity authenticates API callers and carries their identity
// through request contexts. Verification is delegated to an OIDC provider;
// roles come from a configurable token claim.
package identity

import (
	"context"
	"slices"
)

// Well-known roles recognized by the administration API.
const (
	RoleAdmin    = "admin"
	RoleDesigner = "workflow-designer"
)

// Caller is an authenticated API caller.
type Caller struct {
	Subject string   `json:"subject"`
	Name    string   `json:"name,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// HasRole reports whether the caller holds the given role.
func (c *Caller) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// Require returns nil when the caller holds at least one of the given roles.
func Require(c *Caller, roles ...string) error {
	if c == nil {
		return ErrUnauthenticated
	}
	for _, role := range roles {
		if c.HasRole(role) {
			return nil
		}
	}
	return ErrForbidden
}

type callerKey struct{}

// WithCaller returns a context carrying the caller.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// FromContext extracts the caller set by the authentication middleware.
func FromContext(ctx context.Context) (*Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(*Caller)
	return c, ok && c != nil
}
