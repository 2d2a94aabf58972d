// Package auth verifies caller identity tokens and decides which tenants a
// caller may act for.
package auth

import "context"

// Role is a dashboard role carried in the identity token
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleWispOwner  Role = "WISP_OWNER"
	RoleWispStaff  Role = "WISP_STAFF"
	RoleWispTech   Role = "WISP_TECH"
	RoleAdmin      Role = "ADMIN"
	RoleSupport    Role = "SUPPORT"
	RoleTech       Role = "TECH"
	RoleClient     Role = "CLIENT"
	RoleMarketing  Role = "MARKETING"
)

// Identity is the verified caller behind a request
type Identity struct {
	Subject  string
	Role     Role
	TenantID string
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity, or nil
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
