// Package auth provides service account authentication: pre-shared key
// verification, bearer token minting and validation, and role checks.
//
// Clients are non-human services. Each account is statically configured
// with the bcrypt hash of its key and the roles it holds; the server never
// sees or stores plaintext keys.
package auth

import "fmt"

// Role is a capability a service account may hold. Mutating endpoints each
// assert one role.
type Role string

const (
	// RoleDisable allows quarantining and re-enabling data products.
	RoleDisable Role = "disable"

	// RolePause allows pausing and unpausing datasets.
	RolePause Role = "pause"

	// RolePublish allows plan submissions.
	RolePublish Role = "publish"

	// RoleUpdate allows data product state changes.
	RoleUpdate Role = "update"
)

// ValidRoles returns all roles a service account may be granted.
func ValidRoles() []Role {
	return []Role{RoleDisable, RolePause, RolePublish, RoleUpdate}
}

// IsValid checks if the Role is one of the known capabilities.
func (r Role) IsValid() bool {
	for _, valid := range ValidRoles() {
		if r == valid {
			return true
		}
	}

	return false
}

// ParseRole converts a wire string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}

	return r, nil
}
