// Package events defines the role lifecycle event stream. Events are
// emitted best-effort after a lifecycle transaction commits; they are an
// observability feed, never a source of truth for role state.
package events

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event types emitted by the lifecycle service and the purge sweeper.
const (
	TypeRoleGranted     = "role.granted"
	TypeRoleReactivated = "role.reactivated"
	TypeRoleSwitched    = "role.switched"
	TypeRoleDeactivated = "role.deactivated"
	TypeRolePurged      = "role.purged"
)

// RoleEvent is one lifecycle transition of a (user, role kind) pair.
// ActiveRole is the user's active role after the transition ("" = none).
type RoleEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	RoleKind   string    `json:"roleKind"`
	EventType  string    `json:"eventType"`
	ActiveRole string    `json:"activeRole,omitempty"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"createdAt"`
}

// New builds a RoleEvent with a fresh ULID id and created-at now.
func New(eventType, userID, roleKind, activeRole, source string) *RoleEvent {
	return &RoleEvent{
		ID:         ulid.MustNew(ulid.Timestamp(time.Now().UTC()), ulid.DefaultEntropy()).String(),
		UserID:     userID,
		RoleKind:   roleKind,
		EventType:  eventType,
		ActiveRole: activeRole,
		Source:     source,
		CreatedAt:  time.Now().UTC(),
	}
}

// Emitter emits role events (to Kafka, OTel logs, or both). Best-effort:
// callers log and ignore errors.
type Emitter interface {
	Emit(ctx context.Context, event *RoleEvent) error
}
