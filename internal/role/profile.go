package role

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the activation state of a profile. A purged profile has no row
// at all, so there is no purged Status.
type Status string

const (
	StatusActive      Status = "active"
	StatusDeactivated Status = "deactivated"
)

// Profile is the per-(user, role kind) persistent record. Payload is opaque
// to the lifecycle core; role-specific services own its schema.
type Profile struct {
	UserID    string
	Kind      Kind
	Status    Status
	PurgeAt   *time.Time // non-nil iff Status == StatusDeactivated
	Payload   json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the profile for persistence, including the
// deactivated-iff-purge-scheduled invariant.
func (p *Profile) Validate() error {
	if p.UserID == "" {
		return errors.New("user id is required")
	}
	if !p.Kind.Valid() {
		return errors.New("role kind is invalid")
	}
	switch p.Status {
	case StatusActive:
		if p.PurgeAt != nil {
			return errors.New("active profile must not have purge_at set")
		}
	case StatusDeactivated:
		if p.PurgeAt == nil {
			return errors.New("deactivated profile must have purge_at set")
		}
	default:
		return errors.New("status is invalid")
	}
	return nil
}

// Active reports whether the profile can back an active role.
func (p *Profile) Active() bool {
	return p != nil && p.Status == StatusActive
}

// PurgeDue reports whether the grace period has elapsed at now.
func (p *Profile) PurgeDue(now time.Time) bool {
	return p != nil && p.Status == StatusDeactivated && p.PurgeAt != nil && !p.PurgeAt.After(now)
}
