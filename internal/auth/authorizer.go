package auth

import (
	"fmt"

	"github.com/nugacorp/device-jobs/internal/domain"
)

// tenantRoles may act only within their own tenant
var tenantRoles = map[Role]bool{
	RoleWispOwner: true,
	RoleWispStaff: true,
	RoleWispTech:  true,
	RoleAdmin:     true,
	RoleSupport:   true,
	RoleTech:      true,
}

// RoleAuthorizer decides tenant access from the caller's role
type RoleAuthorizer struct{}

// NewRoleAuthorizer creates a RoleAuthorizer
func NewRoleAuthorizer() *RoleAuthorizer {
	return &RoleAuthorizer{}
}

// Authorize returns nil when id may enqueue or read device jobs for tenantID
func (a *RoleAuthorizer) Authorize(id *Identity, tenantID string) error {
	if id == nil {
		return domain.ErrUnauthenticated
	}

	if id.Role == RoleSuperAdmin {
		return nil
	}

	if !tenantRoles[id.Role] {
		return fmt.Errorf("%w: role %q cannot manage device jobs", domain.ErrUnauthorized, id.Role)
	}

	if id.TenantID == "" || id.TenantID != tenantID {
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, tenantID)
	}

	return nil
}
