package domain

import (
	"errors"
	"time"

	"multirole-accounts/internal/role"
)

// User is the identity anchor. GrantedRoles is the set of role kinds the
// user holds (including deactivated ones awaiting purge); ActiveRole is the
// single role currently governing the user's authorization context, or
// role.KindNone. The User row, not any issued credential, is authoritative
// for ActiveRole.
type User struct {
	ID           string
	Email        string
	GrantedRoles []role.Kind
	ActiveRole   role.Kind
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate validates the user for persistence.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.ActiveRole != role.KindNone && !u.HasGranted(u.ActiveRole) {
		return errors.New("active role must be in the granted set")
	}
	return nil
}

// HasGranted reports whether k is in the granted set.
func (u *User) HasGranted(k role.Kind) bool {
	for _, g := range u.GrantedRoles {
		if g == k {
			return true
		}
	}
	return false
}
