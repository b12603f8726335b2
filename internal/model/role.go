package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is the privilege level returned by the admin identity lookup.
type Role string

const (
	RoleNone  Role = "none"
	RoleStaff Role = "staff"
	RoleOwner Role = "owner"
)

func (r Role) rank() int {
	switch r {
	case RoleStaff:
		return 1
	case RoleOwner:
		return 2
	}
	return 0
}

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return r.rank() >= min.rank()
}

func (r Role) IsPrivileged() bool {
	return r.AtLeast(RoleStaff)
}

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleNone, "":
		return RoleNone, nil
	case RoleStaff:
		return RoleStaff, nil
	case RoleOwner:
		return RoleOwner, nil
	}
	return RoleNone, fmt.Errorf("unknown role %q", s)
}

// StaffMember is a principal granted staff or owner access.
type StaffMember struct {
	PrincipalID string    `json:"principal_id"`
	Name        string    `json:"name,omitempty"`
	Role        Role      `json:"role"`
	AddedBy     string    `json:"added_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
