package models

import "fmt"

// Role is a member's privilege level inside a workspace.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

// Rank orders roles by privilege: viewer(0) < editor(1) < owner(2).
// Unknown roles rank below viewer.
func (r Role) Rank() int {
	switch r {
	case RoleViewer:
		return 0
	case RoleEditor:
		return 1
	case RoleOwner:
		return 2
	default:
		return -1
	}
}

func (r Role) Valid() bool {
	return r.Rank() >= 0
}

// ParseRole converts user input into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q", s)
	}
	return r, nil
}
