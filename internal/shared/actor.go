package shared

import (
	"fmt"
	"strings"
)

// Role is the coarse access level of an authenticated user.
type Role string

const (
	RoleSuperuser Role = "superuser"
	RoleAdmin     Role = "admin"
	RoleWarehouse Role = "warehouse"
	RoleStaff     Role = "staff"
)

// ParseRole normalises a role name.
func ParseRole(raw string) (Role, error) {
	switch role := Role(strings.ToLower(strings.TrimSpace(raw))); role {
	case RoleSuperuser, RoleAdmin, RoleWarehouse, RoleStaff:
		return role, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
}

// Actor is the already authenticated caller of a core operation.
// FacilityID is zero for users that are not attached to a facility, such as
// warehouse staff and superusers.
type Actor struct {
	UserID     int64
	Role       Role
	FacilityID int64
}

// IsSuperUser reports whether the actor bypasses scoping rules.
func (a Actor) IsSuperUser() bool {
	return a.Role == RoleSuperuser
}

// HasFacility reports whether the actor is attached to a facility.
func (a Actor) HasFacility() bool {
	return a.FacilityID > 0
}

// Can reports whether the actor's role grants perm.
func (a Actor) Can(perm string) bool {
	if a.IsSuperUser() {
		return true
	}
	perm = strings.ToLower(strings.TrimSpace(perm))
	for _, granted := range rolePermissions[a.Role] {
		if granted == perm {
			return true
		}
	}
	return false
}

// Require returns ErrForbidden unless the actor holds every permission.
func (a Actor) Require(perms ...string) error {
	for _, perm := range perms {
		if !a.Can(perm) {
			return fmt.Errorf("%w: %s lacks %s", ErrForbidden, a.Role, perm)
		}
	}
	return nil
}

// CanSeeFacility reports whether facility-scoped data of facilityID is visible.
func (a Actor) CanSeeFacility(facilityID int64) bool {
	return a.IsSuperUser() || (a.HasFacility() && a.FacilityID == facilityID)
}
