// Package lifecycle implements the role lifecycle state machine: grant,
// switch, deactivate, and the authoritative my-roles read. Every mutation
// runs as one transaction scoped to the user's row; a failure partway rolls
// back fully, so the registry and the profile store never disagree.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"multirole-accounts/internal/audit"
	"multirole-accounts/internal/credential"
	"multirole-accounts/internal/db"
	"multirole-accounts/internal/events"
	identitydomain "multirole-accounts/internal/identity/domain"
	"multirole-accounts/internal/profile"
	"multirole-accounts/internal/registry"
	"multirole-accounts/internal/role"
	"multirole-accounts/internal/security"
	userdomain "multirole-accounts/internal/user/domain"
)

const eventSource = "lifecycle"

// Sentinel errors; the transport edge maps them to response codes.
var (
	// ErrUnknownRole rejects a bad role kind before any transaction starts.
	ErrUnknownRole = errors.New("unknown role kind")
	// ErrInvalidPassword rejects a failed account-ownership re-proof before
	// any mutation.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrUserNotFound is returned when the user row does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrAlreadyActive is returned by Grant when the role is already
	// granted and active; state is unchanged.
	ErrAlreadyActive = errors.New("role already granted and active")
	// ErrRoleNotGranted and ErrRoleNotActive surface registry state
	// conflicts unchanged.
	ErrRoleNotGranted = registry.ErrRoleNotGranted
	ErrRoleNotActive  = registry.ErrRoleNotActive
)

// TxRunner runs fn inside one atomic transaction. The db-backed runner
// bounds it with a short timeout; on any error nothing fn did is visible.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, q db.Querier) error) error
}

// UserStore is the slice of the user repository the service needs.
type UserStore interface {
	GetByID(ctx context.Context, q db.Querier, id string) (*userdomain.User, error)
	GetForUpdate(ctx context.Context, q db.Querier, id string) (*userdomain.User, error)
}

// ProfileStore is the slice of the profile store the service needs.
type ProfileStore interface {
	Create(ctx context.Context, q db.Querier, userID string, kind role.Kind, payload json.RawMessage, now time.Time) (reactivated bool, err error)
	Get(ctx context.Context, q db.Querier, userID string, kind role.Kind) (*role.Profile, error)
	SetActivation(ctx context.Context, q db.Querier, userID string, kind role.Kind, status role.Status, purgeAt *time.Time, now time.Time) error
}

// Registry is the slice of the role registry the service needs.
type Registry interface {
	RegisterActive(ctx context.Context, q db.Querier, userID string, kind role.Kind, now time.Time) error
	AddGranted(ctx context.Context, q db.Querier, userID string, kind role.Kind, now time.Time) error
	ClearActiveIfEquals(ctx context.Context, q db.Querier, userID string, kind role.Kind, now time.Time) error
}

// IdentityStore loads the local password identity for the re-proof.
type IdentityStore interface {
	GetByUser(ctx context.Context, q db.Querier, userID string) (*identitydomain.Identity, error)
}

// CredentialIssuer mints a fresh credential from authoritative state.
type CredentialIssuer interface {
	Issue(ctx context.Context, userID string) (*credential.Credential, error)
}

// GrantResult is the response of Grant.
type GrantResult struct {
	GrantedRoles []role.Kind // active listing only
	ActiveRole   role.Kind
	Credential   *credential.Credential
}

// SwitchResult is the response of Switch.
type SwitchResult struct {
	ActiveRole role.Kind
	Credential *credential.Credential
}

// DeactivateResult is the response of Deactivate.
type DeactivateResult struct {
	DeactivatedRole      role.Kind
	NewActiveRole        role.Kind // KindNone unless another role stays active
	RemainingActiveRoles []role.Kind
}

// RolesResult is the response of MyRoles.
type RolesResult struct {
	GrantedRoles []role.Kind // active listing only
	ActiveRole   role.Kind
}

// Service is the lifecycle controller.
type Service struct {
	reader     db.Querier // pool handle for reads outside transactions
	txs        TxRunner
	users      UserStore
	profiles   ProfileStore
	registry   Registry
	identities IdentityStore
	hasher     *security.Hasher
	issuer     CredentialIssuer
	auditLog   audit.AuditLogger
	emitter    events.Emitter
	grace      time.Duration
	now        func() time.Time
}

// Option customizes Service construction.
type Option func(*Service)

// WithClock injects a clock; tests use it to advance through the grace
// period.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAuditLogger sets the audit sink. Nil disables auditing.
func WithAuditLogger(l audit.AuditLogger) Option {
	return func(s *Service) { s.auditLog = l }
}

// WithEmitter sets the role event sink. Nil disables events.
func WithEmitter(e events.Emitter) Option {
	return func(s *Service) { s.emitter = e }
}

// NewService returns the lifecycle controller. grace is the recovery window
// between deactivation and purge (default 90 days when zero).
func NewService(
	reader db.Querier,
	txs TxRunner,
	users UserStore,
	profiles ProfileStore,
	reg Registry,
	identities IdentityStore,
	hasher *security.Hasher,
	issuer CredentialIssuer,
	grace time.Duration,
	opts ...Option,
) *Service {
	if grace <= 0 {
		grace = 90 * 24 * time.Hour
	}
	s := &Service{
		reader:     reader,
		txs:        txs,
		users:      users,
		profiles:   profiles,
		registry:   reg,
		identities: identities,
		hasher:     hasher,
		issuer:     issuer,
		grace:      grace,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Grant grants kind to the user: creates the profile when ungranted,
// reactivates it (clearing the scheduled purge) when deactivated. The
// active role changes only when the user had none. Requires a password
// re-proof; a wrong password aborts before any mutation.
func (s *Service) Grant(ctx context.Context, userID, kindStr, password string, payload json.RawMessage) (*GrantResult, error) {
	kind, err := role.ParseKind(kindStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, kindStr)
	}
	if err := s.verifyPassword(ctx, userID, password); err != nil {
		return nil, err
	}

	var reactivated bool
	err = s.txs.InTx(ctx, func(ctx context.Context, q db.Querier) error {
		u, err := s.users.GetForUpdate(ctx, q, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return ErrUserNotFound
		}
		now := s.now()
		reactivated, err = s.profiles.Create(ctx, q, userID, kind, payload, now)
		if err != nil {
			if errors.Is(err, profile.ErrAlreadyExists) {
				return ErrAlreadyActive
			}
			return err
		}
		if err := s.registry.AddGranted(ctx, q, userID, kind, now); err != nil {
			return err
		}
		// Auto-activate only when nothing was active; an established
		// active role is never displaced by a grant.
		if u.ActiveRole == role.KindNone {
			if err := s.registry.RegisterActive(ctx, q, userID, kind, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetByID(ctx, s.reader, userID)
	if err != nil {
		return nil, err
	}
	cred, err := s.issuer.Issue(ctx, userID)
	if err != nil {
		return nil, err
	}
	active, err := s.activeGrantedRoles(ctx, u)
	if err != nil {
		return nil, err
	}

	action, eventType := audit.ActionGrant, events.TypeRoleGranted
	if reactivated {
		action, eventType = audit.ActionReactivate, events.TypeRoleReactivated
	}
	s.record(ctx, userID, kind, u.ActiveRole, action, eventType)

	return &GrantResult{GrantedRoles: active, ActiveRole: u.ActiveRole, Credential: cred}, nil
}

// Switch makes kind the user's active role. The target's granted state and
// profile activation are re-validated inside the same transaction as the
// write, so two racing switches serialize on the user row and neither can
// leave the active role pointing at a deactivated profile.
func (s *Service) Switch(ctx context.Context, userID, kindStr string) (*SwitchResult, error) {
	kind, err := role.ParseKind(kindStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, kindStr)
	}

	err = s.txs.InTx(ctx, func(ctx context.Context, q db.Querier) error {
		u, err := s.users.GetForUpdate(ctx, q, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return ErrUserNotFound
		}
		return s.registry.RegisterActive(ctx, q, userID, kind, s.now())
	})
	if err != nil {
		return nil, err
	}

	// The caller's previous credential is now superseded. It is not
	// revoked server-side; authorization re-reads active_role anyway.
	cred, err := s.issuer.Issue(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, userID, kind, kind, audit.ActionSwitch, events.TypeRoleSwitched)

	return &SwitchResult{ActiveRole: kind, Credential: cred}, nil
}

// Deactivate puts kind into its grace period (scheduled for purge after the
// grace duration) after a password re-proof. If kind was the active role,
// the user is left with no active role; no replacement is auto-selected.
// Deactivating the last role is allowed.
func (s *Service) Deactivate(ctx context.Context, userID, kindStr, password string) (*DeactivateResult, error) {
	kind, err := role.ParseKind(kindStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, kindStr)
	}
	if err := s.verifyPassword(ctx, userID, password); err != nil {
		return nil, err
	}

	err = s.txs.InTx(ctx, func(ctx context.Context, q db.Querier) error {
		u, err := s.users.GetForUpdate(ctx, q, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return ErrUserNotFound
		}
		p, err := s.profiles.Get(ctx, q, userID, kind)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrRoleNotGranted
		}
		if !p.Active() {
			return ErrRoleNotActive
		}
		now := s.now()
		purgeAt := now.Add(s.grace)
		if err := s.profiles.SetActivation(ctx, q, userID, kind, role.StatusDeactivated, &purgeAt, now); err != nil {
			return err
		}
		return s.registry.ClearActiveIfEquals(ctx, q, userID, kind, now)
	})
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetByID(ctx, s.reader, userID)
	if err != nil {
		return nil, err
	}
	remaining, err := s.activeGrantedRoles(ctx, u)
	if err != nil {
		return nil, err
	}
	s.record(ctx, userID, kind, u.ActiveRole, audit.ActionDeactivate, events.TypeRoleDeactivated)

	return &DeactivateResult{
		DeactivatedRole:      kind,
		NewActiveRole:        u.ActiveRole,
		RemainingActiveRoles: remaining,
	}, nil
}

// MyRoles returns the user's active-listed granted roles and active role.
// It always re-reads the authoritative store; the caller's credential is
// never consulted.
func (s *Service) MyRoles(ctx context.Context, userID string) (*RolesResult, error) {
	u, err := s.users.GetByID(ctx, s.reader, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	active, err := s.activeGrantedRoles(ctx, u)
	if err != nil {
		return nil, err
	}
	return &RolesResult{GrantedRoles: active, ActiveRole: u.ActiveRole}, nil
}

// verifyPassword re-proves account ownership. It runs before any mutation
// so a wrong password never leaves a partial effect, and its failure is
// distinct from role-state conflicts.
func (s *Service) verifyPassword(ctx context.Context, userID, password string) error {
	ident, err := s.identities.GetByUser(ctx, s.reader, userID)
	if err != nil {
		return err
	}
	if ident == nil {
		return ErrUserNotFound
	}
	if err := s.hasher.Compare(ident.PasswordHash, []byte(password)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}

// activeGrantedRoles filters the granted set down to roles whose profile is
// active; deactivated roles stay granted but are excluded from listings.
func (s *Service) activeGrantedRoles(ctx context.Context, u *userdomain.User) ([]role.Kind, error) {
	if u == nil {
		return nil, ErrUserNotFound
	}
	out := make([]role.Kind, 0, len(u.GrantedRoles))
	for _, k := range u.GrantedRoles {
		p, err := s.profiles.Get(ctx, s.reader, u.ID, k)
		if err != nil {
			return nil, err
		}
		if p.Active() {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, userID string, kind, activeRole role.Kind, action, eventType string) {
	if s.auditLog != nil {
		s.auditLog.LogEvent(ctx, userID, action, string(kind), "")
	}
	if s.emitter != nil {
		events.EmitAsync(s.emitter, events.New(eventType, userID, string(kind), string(activeRole), eventSource))
	}
}
