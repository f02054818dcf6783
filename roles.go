package accounts

import "strings"

// Role is the authorization role of an account
type Role string

const (
	// RoleUser is a regular account, limited to self-scoped actions
	RoleUser Role = "USER"
	// RoleAdmin may act on any account
	RoleAdmin Role = "ADMIN"
)

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsAdmin reports whether r is the admin role
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

func (r Role) String() string {
	return string(r)
}

// ParseRole converts user input into a Role, ignoring case and surrounding space.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

// AccountStatus is the lifecycle state of an account
type AccountStatus string

const (
	StatusPending           AccountStatus = "PENDING"
	StatusActive            AccountStatus = "ACTIVE"
	StatusDeactivated       AccountStatus = "DEACTIVATED"
	StatusDeletionRequested AccountStatus = "DELETION_REQUESTED"
)

// IsValid checks if the status is known
func (s AccountStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusDeactivated, StatusDeletionRequested:
		return true
	default:
		return false
	}
}

// IsHeld reports whether the account is waiting for the purge job and may not change.
func (s AccountStatus) IsHeld() bool {
	return s == StatusDeletionRequested
}

func (s AccountStatus) String() string {
	return string(s)
}
