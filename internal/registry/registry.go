// Package registry owns the per-user granted-roles set and the single
// active-role pointer on the users row. Its low-level mutators are only
// called by the lifecycle service inside one transaction.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"multirole-accounts/internal/db"
	"multirole-accounts/internal/role"
)

var (
	// ErrRoleNotGranted is returned when the role kind is absent from the
	// user's granted set.
	ErrRoleNotGranted = errors.New("role not granted")
	// ErrRoleNotActive is returned when the role's backing profile is not
	// in the active state.
	ErrRoleNotActive = errors.New("role profile not active")
	// ErrUserNotFound is returned when the users row does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// ProfileGetter is the slice of the profile store the registry needs to
// re-validate a role's backing profile inside the caller's transaction.
type ProfileGetter interface {
	Get(ctx context.Context, q db.Querier, userID string, kind role.Kind) (*role.Profile, error)
}

// Registry reads and mutates granted_roles and active_role on users rows.
type Registry struct {
	profiles ProfileGetter
}

// New returns a Registry that validates profiles through profiles.
func New(profiles ProfileGetter) *Registry {
	return &Registry{profiles: profiles}
}

// GrantedRoles returns the user's granted role kinds, including deactivated
// ones still inside their grace period.
func (r *Registry) GrantedRoles(ctx context.Context, q db.Querier, userID string) ([]role.Kind, error) {
	var granted []string
	err := q.QueryRowContext(ctx, `SELECT granted_roles FROM users WHERE id = $1`, userID).
		Scan(pq.Array(&granted))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	out := make([]role.Kind, len(granted))
	for i, g := range granted {
		out[i] = role.Kind(g)
	}
	return out, nil
}

// ActiveRole returns the user's current active role, or role.KindNone.
// Authorization checks must call this (through the authoritative store)
// rather than trust a credential's embedded role.
func (r *Registry) ActiveRole(ctx context.Context, q db.Querier, userID string) (role.Kind, error) {
	var active sql.NullString
	err := q.QueryRowContext(ctx, `SELECT active_role FROM users WHERE id = $1`, userID).
		Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return role.KindNone, ErrUserNotFound
		}
		return role.KindNone, err
	}
	if !active.Valid {
		return role.KindNone, nil
	}
	return role.Kind(active.String), nil
}

// RegisterActive sets the user's active role to kind. The granted set and
// the profile's activation state are re-validated inside the caller's
// transaction so a concurrent deactivation cannot leave active_role
// pointing at a deactivated profile.
func (r *Registry) RegisterActive(ctx context.Context, q db.Querier, userID string, kind role.Kind, now time.Time) error {
	granted, err := r.GrantedRoles(ctx, q, userID)
	if err != nil {
		return err
	}
	found := false
	for _, g := range granted {
		if g == kind {
			found = true
			break
		}
	}
	if !found {
		return ErrRoleNotGranted
	}

	p, err := r.profiles.Get(ctx, q, userID, kind)
	if err != nil {
		return err
	}
	if !p.Active() {
		return ErrRoleNotActive
	}

	_, err = q.ExecContext(ctx, `UPDATE users SET active_role = $2, updated_at = $3 WHERE id = $1`,
		userID, string(kind), now)
	return err
}

// AddGranted adds kind to the granted set. Idempotent.
func (r *Registry) AddGranted(ctx context.Context, q db.Querier, userID string, kind role.Kind, now time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE users SET granted_roles = array_append(granted_roles, $2), updated_at = $3
		WHERE id = $1 AND NOT ($2 = ANY(granted_roles))`,
		userID, string(kind), now)
	if err != nil {
		return fmt.Errorf("add granted role: %w", err)
	}
	// Zero rows means either the role was already granted or the user is
	// missing; callers hold the user row lock, so missing users are caught
	// earlier in the transaction.
	_, err = res.RowsAffected()
	return err
}

// RemoveGranted removes kind from the granted set. Idempotent.
func (r *Registry) RemoveGranted(ctx context.Context, q db.Querier, userID string, kind role.Kind, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE users SET granted_roles = array_remove(granted_roles, $2), updated_at = $3
		WHERE id = $1`,
		userID, string(kind), now)
	if err != nil {
		return fmt.Errorf("remove granted role: %w", err)
	}
	return nil
}

// ClearActiveIfEquals sets active_role to none only when it currently
// points at kind. No-op otherwise.
func (r *Registry) ClearActiveIfEquals(ctx context.Context, q db.Querier, userID string, kind role.Kind, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE users SET active_role = NULL, updated_at = $3
		WHERE id = $1 AND active_role = $2`,
		userID, string(kind), now)
	if err != nil {
		return fmt.Errorf("clear active role: %w", err)
	}
	return nil
}
