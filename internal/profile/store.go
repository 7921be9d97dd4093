// Package profile is the profile store: one persistent record per
// (user, role kind), dispatched to a storage adapter per role kind so the
// purge sweep and lifecycle service stay independent of role-specific
// tables.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"multirole-accounts/internal/db"
	"multirole-accounts/internal/role"
)

var (
	// ErrAlreadyExists is returned when creating a profile of a kind the
	// user already holds in the active state.
	ErrAlreadyExists = errors.New("profile already exists")
	// ErrNotFound is returned when no profile row exists for (user, kind).
	ErrNotFound = errors.New("profile not found")
	// ErrNotEligible is returned by Purge when the profile is active or its
	// grace period has not elapsed.
	ErrNotEligible = errors.New("profile not eligible for purge")
)

// Adapter binds one role kind to its profile table and the role-specific
// dependent tables that must be purged with it. Adding a role kind means
// implementing one Adapter.
type Adapter interface {
	Kind() role.Kind
	Insert(ctx context.Context, q db.Querier, userID string, payload json.RawMessage, now time.Time) error
	Get(ctx context.Context, q db.Querier, userID string) (*role.Profile, error)
	SetActivation(ctx context.Context, q db.Querier, userID string, status role.Status, purgeAt *time.Time, now time.Time) error
	// Purge re-checks eligibility under a row lock inside the caller's
	// transaction, removes dependent rows, then the profile row.
	Purge(ctx context.Context, q db.Querier, userID string, now time.Time) error
	// ListExpired returns user ids whose grace period has elapsed at now.
	ListExpired(ctx context.Context, q db.Querier, now time.Time, limit int) ([]string, error)
}

// Store dispatches profile operations to the adapter for each role kind.
type Store struct {
	adapters map[role.Kind]Adapter
}

// NewStore returns a Store over the given adapters.
func NewStore(adapters ...Adapter) *Store {
	m := make(map[role.Kind]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Kind()] = a
	}
	return &Store{adapters: m}
}

func (s *Store) adapter(kind role.Kind) (Adapter, error) {
	a, ok := s.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no profile adapter for role kind %q", kind)
	}
	return a, nil
}

// Create inserts an active profile for (userID, kind). If a deactivated
// profile of that kind exists it is reactivated (purge_at cleared) instead
// of duplicated; the returned bool reports that case. An existing active
// profile yields ErrAlreadyExists.
func (s *Store) Create(ctx context.Context, q db.Querier, userID string, kind role.Kind, payload json.RawMessage, now time.Time) (reactivated bool, err error) {
	a, err := s.adapter(kind)
	if err != nil {
		return false, err
	}
	existing, err := a.Get(ctx, q, userID)
	if err != nil {
		return false, err
	}
	switch {
	case existing == nil:
		return false, a.Insert(ctx, q, userID, payload, now)
	case existing.Status == role.StatusActive:
		return false, ErrAlreadyExists
	default:
		return true, a.SetActivation(ctx, q, userID, role.StatusActive, nil, now)
	}
}

// Get returns the profile for (userID, kind), or nil if absent.
func (s *Store) Get(ctx context.Context, q db.Querier, userID string, kind role.Kind) (*role.Profile, error) {
	a, err := s.adapter(kind)
	if err != nil {
		return nil, err
	}
	return a.Get(ctx, q, userID)
}

// SetActivation transitions the profile's activation state. It is a pure
// state change with no effect on other roles.
func (s *Store) SetActivation(ctx context.Context, q db.Querier, userID string, kind role.Kind, status role.Status, purgeAt *time.Time, now time.Time) error {
	a, err := s.adapter(kind)
	if err != nil {
		return err
	}
	return a.SetActivation(ctx, q, userID, status, purgeAt, now)
}

// Purge irreversibly deletes the profile and its dependent role-specific
// rows. Eligibility (deactivated, grace elapsed) is re-checked inside the
// caller's transaction; ErrNotEligible when the state flipped since the
// caller's read.
func (s *Store) Purge(ctx context.Context, q db.Querier, userID string, kind role.Kind, now time.Time) error {
	a, err := s.adapter(kind)
	if err != nil {
		return err
	}
	return a.Purge(ctx, q, userID, now)
}

// ListExpired returns up to limit user ids of the given kind whose grace
// period elapsed at now.
func (s *Store) ListExpired(ctx context.Context, q db.Querier, kind role.Kind, now time.Time, limit int) ([]string, error) {
	a, err := s.adapter(kind)
	if err != nil {
		return nil, err
	}
	return a.ListExpired(ctx, q, now, limit)
}

// Kinds lists the role kinds this store has adapters for.
func (s *Store) Kinds() []role.Kind {
	out := make([]role.Kind, 0, len(s.adapters))
	for _, k := range role.Kinds() {
		if _, ok := s.adapters[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
