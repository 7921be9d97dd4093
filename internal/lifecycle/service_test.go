package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"multirole-accounts/internal/credential"
	"multirole-accounts/internal/db"
	identitydomain "multirole-accounts/internal/identity/domain"
	"multirole-accounts/internal/profile"
	"multirole-accounts/internal/registry"
	"multirole-accounts/internal/role"
	"multirole-accounts/internal/security"
	userdomain "multirole-accounts/internal/user/domain"
)

// memStore is an in-memory implementation of every narrow store interface
// the service consumes, backing all of them with one state so the fake
// stays consistent the way the database is.
type memStore struct {
	mu         sync.Mutex
	users      map[string]*userdomain.User
	profiles   map[string]map[role.Kind]*role.Profile
	identities map[string]*identitydomain.Identity

	failAddGranted error // injected fault for atomicity tests
}

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[string]*userdomain.User),
		profiles:   make(map[string]map[role.Kind]*role.Profile),
		identities: make(map[string]*identitydomain.Identity),
	}
}

func (m *memStore) snapshot() *memStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := newMemStore()
	for id, u := range m.users {
		cp := *u
		cp.GrantedRoles = append([]role.Kind(nil), u.GrantedRoles...)
		s.users[id] = &cp
	}
	for id, byKind := range m.profiles {
		s.profiles[id] = make(map[role.Kind]*role.Profile, len(byKind))
		for k, p := range byKind {
			cp := *p
			if p.PurgeAt != nil {
				t := *p.PurgeAt
				cp.PurgeAt = &t
			}
			s.profiles[id][k] = &cp
		}
	}
	for id, ident := range m.identities {
		cp := *ident
		s.identities[id] = &cp
	}
	return s
}

func (m *memStore) restore(s *memStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = s.users
	m.profiles = s.profiles
	m.identities = s.identities
}

// InTx runs fn against the store, restoring the pre-transaction state when
// fn fails so the fake honors the all-or-nothing contract.
func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, q db.Querier) error) error {
	snap := m.snapshot()
	if err := fn(ctx, nil); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) GetByID(_ context.Context, _ db.Querier, id string) (*userdomain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	cp.GrantedRoles = append([]role.Kind(nil), u.GrantedRoles...)
	return &cp, nil
}

func (m *memStore) GetForUpdate(ctx context.Context, q db.Querier, id string) (*userdomain.User, error) {
	return m.GetByID(ctx, q, id)
}

func (m *memStore) Create(_ context.Context, _ db.Querier, userID string, kind role.Kind, payload json.RawMessage, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKind := m.profiles[userID]
	if byKind == nil {
		byKind = make(map[role.Kind]*role.Profile)
		m.profiles[userID] = byKind
	}
	existing := byKind[kind]
	switch {
	case existing == nil:
		byKind[kind] = &role.Profile{
			UserID:    userID,
			Kind:      kind,
			Status:    role.StatusActive,
			Payload:   payload,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return false, nil
	case existing.Status == role.StatusActive:
		return false, profile.ErrAlreadyExists
	default:
		existing.Status = role.StatusActive
		existing.PurgeAt = nil
		existing.UpdatedAt = now
		return true, nil
	}
}

func (m *memStore) Get(_ context.Context, _ db.Querier, userID string, kind role.Kind) (*role.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[userID][kind]
	if p == nil {
		return nil, nil
	}
	cp := *p
	if p.PurgeAt != nil {
		t := *p.PurgeAt
		cp.PurgeAt = &t
	}
	return &cp, nil
}

func (m *memStore) SetActivation(_ context.Context, _ db.Querier, userID string, kind role.Kind, status role.Status, purgeAt *time.Time, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[userID][kind]
	if p == nil {
		return profile.ErrNotFound
	}
	p.Status = status
	p.PurgeAt = purgeAt
	p.UpdatedAt = now
	return nil
}

func (m *memStore) RegisterActive(_ context.Context, _ db.Querier, userID string, kind role.Kind, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return registry.ErrUserNotFound
	}
	granted := false
	for _, k := range u.GrantedRoles {
		if k == kind {
			granted = true
			break
		}
	}
	if !granted {
		return registry.ErrRoleNotGranted
	}
	if !m.profiles[userID][kind].Active() {
		return registry.ErrRoleNotActive
	}
	u.ActiveRole = kind
	u.UpdatedAt = now
	return nil
}

func (m *memStore) AddGranted(_ context.Context, _ db.Querier, userID string, kind role.Kind, now time.Time) error {
	if m.failAddGranted != nil {
		return m.failAddGranted
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return registry.ErrUserNotFound
	}
	for _, k := range u.GrantedRoles {
		if k == kind {
			return nil
		}
	}
	u.GrantedRoles = append(u.GrantedRoles, kind)
	u.UpdatedAt = now
	return nil
}

func (m *memStore) ClearActiveIfEquals(_ context.Context, _ db.Querier, userID string, kind role.Kind, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return registry.ErrUserNotFound
	}
	if u.ActiveRole == kind {
		u.ActiveRole = role.KindNone
		u.UpdatedAt = now
	}
	return nil
}

func (m *memStore) GetByUser(_ context.Context, _ db.Querier, userID string) (*identitydomain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[userID]
	if !ok {
		return nil, nil
	}
	cp := *ident
	return &cp, nil
}

// fakeIssuer snapshots the store's active role into the credential the way
// the real issuer re-reads the registry at issuance.
type fakeIssuer struct {
	store *memStore
}

func (f *fakeIssuer) Issue(_ context.Context, userID string) (*credential.Credential, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	u, ok := f.store.users[userID]
	if !ok {
		return nil, errors.New("fake issuer: user not found")
	}
	return &credential.Credential{
		Token:      "tok-" + userID + "-" + string(u.ActiveRole),
		ActiveRole: u.ActiveRole,
		ExpiresAt:  time.Now().Add(15 * time.Minute),
	}, nil
}

// fakeAudit records audit actions synchronously.
type fakeAudit struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeAudit) LogEvent(_ context.Context, _, action, _, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
}

func (f *fakeAudit) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.actions) == 0 {
		return ""
	}
	return f.actions[len(f.actions)-1]
}

const (
	testUserID   = "user-1"
	testPassword = "correct horse"
)

type fixture struct {
	store *memStore
	audit *fakeAudit
	svc   *Service
	clock *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	hasher := security.NewHasher(4)
	hash, err := hasher.Hash([]byte(testPassword))
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	store.users[testUserID] = &userdomain.User{ID: testUserID, Email: "u@example.com"}
	store.identities[testUserID] = &identitydomain.Identity{ID: "ident-1", UserID: testUserID, PasswordHash: hash}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{store: store, audit: &fakeAudit{}, clock: &now}
	f.svc = NewService(
		nil,
		store,
		store,
		store,
		store,
		store,
		hasher,
		&fakeIssuer{store: store},
		90*24*time.Hour,
		WithClock(func() time.Time { return *f.clock }),
		WithAuditLogger(f.audit),
	)
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *fixture) mustGrant(t *testing.T, kind string) *GrantResult {
	t.Helper()
	res, err := f.svc.Grant(context.Background(), testUserID, kind, testPassword, nil)
	if err != nil {
		t.Fatalf("grant %s: %v", kind, err)
	}
	return res
}

func containsKind(kinds []role.Kind, k role.Kind) bool {
	for _, got := range kinds {
		if got == k {
			return true
		}
	}
	return false
}

func TestGrantFirstRoleAutoActivates(t *testing.T) {
	f := newFixture(t)

	res := f.mustGrant(t, "student")

	if res.ActiveRole != role.KindStudent {
		t.Errorf("active role = %q, want student", res.ActiveRole)
	}
	if len(res.GrantedRoles) != 1 || res.GrantedRoles[0] != role.KindStudent {
		t.Errorf("granted roles = %v, want [student]", res.GrantedRoles)
	}
	if res.Credential == nil || res.Credential.ActiveRole != role.KindStudent {
		t.Errorf("credential should embed the new active role, got %+v", res.Credential)
	}
	if got := f.audit.last(); got != "role.grant" {
		t.Errorf("audit action = %q, want role.grant", got)
	}
}

func TestGrantSecondRoleKeepsActiveRole(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, "student")

	res := f.mustGrant(t, "tutor")

	if res.ActiveRole != role.KindStudent {
		t.Errorf("active role = %q, want student (grant never displaces it)", res.ActiveRole)
	}
	if !containsKind(res.GrantedRoles, role.KindTutor) || !containsKind(res.GrantedRoles, role.KindStudent) {
		t.Errorf("granted roles = %v, want both student and tutor", res.GrantedRoles)
	}
}

func TestGrantActiveRoleFailsUnchanged(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, "student")

	_, err := f.svc.Grant(context.Background(), testUserID, "student", testPassword, nil)
	if !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("err = %v, want ErrAlreadyActive", err)
	}

	roles, err := f.svc.MyRoles(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("my roles: %v", err)
	}
	if len(roles.GrantedRoles) != 1 || roles.ActiveRole != role.KindStudent {
		t.Errorf("state changed after rejected grant: %+v", roles)
	}
}

func TestGrantUnknownRole(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Grant(context.Background(), testUserID, "astronaut", testPassword, nil)
	if !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("err = %v, want ErrUnknownRole", err)
	}
}

func TestGrantWrongPasswordMutatesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Grant(context.Background(), testUserID, "student", "nope", nil)
	if !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("err = %v, want ErrInvalidPassword", err)
	}
	if len(f.store.profiles[testUserID]) != 0 {
		t.Error("profile created despite failed password re-proof")
	}
	if got := f.audit.last(); got != "" {
		t.Errorf("audit recorded %q for a rejected request", got)
	}
}

func TestGrantRollsBackOnPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failAddGranted = errors.New("boom")

	_, err := f.svc.Grant(context.Background(), testUserID, "student", testPassword, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if p := f.store.profiles[testUserID][role.KindStudent]; p != nil {
		t.Error("profile survived a failed transaction")
	}
}

func TestSwitchChangesActiveRoleImmediately(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, "student")
	grantCred := f.mustGrant(t, "tutor").Credential

	res, err := f.svc.Switch(context.Background(), testUserID, "tutor")
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if res.ActiveRole != role.KindTutor {
		t.Errorf("active role = %q, want tutor", res.ActiveRole)
	}
	if res.Credential.ActiveRole != role.KindTutor {
		t.Errorf("new credential embeds %q, want tutor", res.Credential.ActiveRole)
	}
	// The pre-switch credential still says student; the authoritative read
	// must not.
	if grantCred.ActiveRole != role.KindStudent {
		t.Fatalf("precondition: old credential embeds %q", grantCred.ActiveRole)
	}
	roles, err := f.svc.MyRoles(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("my roles: %v", err)
	}
	if roles.ActiveRole != role.KindTutor {
		t.Errorf("authoritative active role = %q, want tutor", roles.ActiveRole)
	}
	if got := f.audit.last(); got != "role.switch" {
		t.Errorf("audit action = %q, want role.switch", got)
	}
}

func TestSwitchToUngrantedRole(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, "student")

	_, err := f.svc.Switch(context.Background(), testUserID, "tutor")
	if !errors.Is(err, ErrRoleNotGranted) {
		t.Fatalf("err = %v, want ErrRoleNotGranted", err)
	}
	if f.store.users[testUserID].ActiveRole != role.KindStudent {
		t.Error("active role changed on a rejected switch")
	}
}

func TestSwitchToDeactivatedRole(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, "student")
	f.mustGrant(t, "tutor")
	if _, err := f.svc.Deactivate(context.Background(), testUserID, "tutor", testPassword); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := f.svc.Switch(context.Background(), testUserID, "tutor")
	if !errors.Is(err, ErrRoleNotActive) {
		t.Fatalf("err = %v, want ErrRoleNotActive", err)
	}
	if f.store.users[testUserID].ActiveRole != role.KindStudent {
		t.Error("active role changed on a rejected switch")
	}
}

func TestDeactivateActiveRoleLeavesNoneActive(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, "student")
	f.mustGrant(t, "tutor")

	res, err := f.svc.Deactivate(context.Background(), testUserID, "student", testPassword)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if res.DeactivatedRole != role.KindStudent {
		t.Errorf("deactivated = %q, want student", res.DeactivatedRole)
	}
	// No replacement is auto-selected even though tutor is still active.
	if res.NewActiveRole != role.KindNone {
		t.Errorf("new active role = %q, want none", res.NewActiveRole)
	}
	if len(res.RemainingActiveRoles) != 1 || res.RemainingActiveRoles[0] != role.KindTutor {
		t.Errorf("remaining = %v, want [tutor]", res.RemainingActiveRoles)
	}

	p := f.store.profiles[testUserID][role.KindStudent]
	if p.Status != role.StatusDeactivated {
		t.Errorf("profile status = %q, want deactivated", p.Status)
	}
	wantPurge := f.clock.Add(90 * 24 * time.Hour)
	if p.PurgeAt == nil || !p.PurgeAt.Equal(wantPurge) {
		t.Errorf("purge at = %v, want %v", p.PurgeAt, wantPurge)
	}
	if got := f.audit.last(); got != "role.deactivate" {
		t.Errorf("audit action = %q, want role.deactivate", got)
	}
}

func TestDeactivateNonActiveProfile(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, "student")
	f.mustGrant(t, "tutor")
	if _, err := f.svc.Deactivate(context.Background(), testUserID, "tutor", testPassword); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if _, err := f.svc.Deactivate(context.Background(), testUserID, "tutor", testPassword); !errors.Is(err, ErrRoleNotActive) {
		t.Errorf("second deactivate err = %v, want ErrRoleNotActive", err)
	}
	if _, err := f.svc.Deactivate(context.Background(), testUserID, "parent", testPassword); !errors.Is(err, ErrRoleNotGranted) {
		t.Errorf("ungranted deactivate err = %v, want ErrRoleNotGranted", err)
	}
}

func TestDeactivateLastRoleAllowed(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, "member")

	res, err := f.svc.Deactivate(context.Background(), testUserID, "member", testPassword)
	if err != nil {
		t.Fatalf("deactivate last role: %v", err)
	}
	if res.NewActiveRole != role.KindNone || len(res.RemainingActiveRoles) != 0 {
		t.Errorf("want an account with zero active roles, got %+v", res)
	}
}

func TestDeactivateWrongPasswordMutatesNothing(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, "student")

	_, err := f.svc.Deactivate(context.Background(), testUserID, "student", "nope")
	if !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("err = %v, want ErrInvalidPassword", err)
	}
	if !f.store.profiles[testUserID][role.KindStudent].Active() {
		t.Error("profile deactivated despite failed password re-proof")
	}
}

func TestRegrantWithinGraceReactivates(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, "student")
	if _, err := f.svc.Deactivate(context.Background(), testUserID, "student", testPassword); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	f.advance(89 * 24 * time.Hour)

	res := f.mustGrant(t, "student")

	p := f.store.profiles[testUserID][role.KindStudent]
	if !p.Active() || p.PurgeAt != nil {
		t.Errorf("profile not reactivated: status=%q purgeAt=%v", p.Status, p.PurgeAt)
	}
	// Nothing else was active, so reactivation makes it active again.
	if res.ActiveRole != role.KindStudent {
		t.Errorf("active role = %q, want student", res.ActiveRole)
	}
	if got := f.audit.last(); got != "role.reactivate" {
		t.Errorf("audit action = %q, want role.reactivate", got)
	}

	// Repeating the grant is rejected and leaves the state alone.
	if _, err := f.svc.Grant(context.Background(), testUserID, "student", testPassword, nil); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("repeat grant err = %v, want ErrAlreadyActive", err)
	}
	if p := f.store.profiles[testUserID][role.KindStudent]; !p.Active() {
		t.Error("state changed after rejected repeat grant")
	}
}

// A role past its purge deadline but not yet swept can still be recovered:
// reactivation wins any race the sweeper has not committed.
func TestRegrantAfterGraceBeforeSweepStillReactivates(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, "student")
	if _, err := f.svc.Deactivate(context.Background(), testUserID, "student", testPassword); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	f.advance(91 * 24 * time.Hour)
	if !f.store.profiles[testUserID][role.KindStudent].PurgeDue(*f.clock) {
		t.Fatal("precondition: profile should be purge-due")
	}

	res := f.mustGrant(t, "student")
	p := f.store.profiles[testUserID][role.KindStudent]
	if !p.Active() || p.PurgeAt != nil {
		t.Errorf("profile not recovered: status=%q purgeAt=%v", p.Status, p.PurgeAt)
	}
	if res.ActiveRole != role.KindStudent {
		t.Errorf("active role = %q, want student", res.ActiveRole)
	}
}

func TestDeactivatedRoleHiddenFromListings(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, "student")
	f.mustGrant(t, "tutor")
	if _, err := f.svc.Deactivate(context.Background(), testUserID, "tutor", testPassword); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	roles, err := f.svc.MyRoles(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("my roles: %v", err)
	}
	if containsKind(roles.GrantedRoles, role.KindTutor) {
		t.Errorf("deactivated tutor listed in %v", roles.GrantedRoles)
	}
	if !containsKind(roles.GrantedRoles, role.KindStudent) {
		t.Errorf("student missing from %v", roles.GrantedRoles)
	}
	// The grant itself survives underneath for the grace period.
	if !containsKind(f.store.users[testUserID].GrantedRoles, role.KindTutor) {
		t.Error("tutor grant removed before purge")
	}
}

func TestMyRolesUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.MyRoles(context.Background(), "ghost")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

// The full journey: a student becomes a tutor, works as one, steps back to
// studying, and retires the tutor role.
func TestStudentTutorLifecycle(t *testing.T) {
	f := newFixture(t)

	f.mustGrant(t, "student")
	f.mustGrant(t, "tutor")

	if _, err := f.svc.Switch(context.Background(), testUserID, "tutor"); err != nil {
		t.Fatalf("switch to tutor: %v", err)
	}
	if _, err := f.svc.Switch(context.Background(), testUserID, "student"); err != nil {
		t.Fatalf("switch back to student: %v", err)
	}

	res, err := f.svc.Deactivate(context.Background(), testUserID, "tutor", testPassword)
	if err != nil {
		t.Fatalf("deactivate tutor: %v", err)
	}
	// Student stays active: deactivating a non-active role never touches
	// the active selection.
	if f.store.users[testUserID].ActiveRole != role.KindStudent {
		t.Errorf("active role = %q, want student", f.store.users[testUserID].ActiveRole)
	}
	if res.NewActiveRole != role.KindStudent {
		t.Errorf("new active role = %q, want student", res.NewActiveRole)
	}

	roles, err := f.svc.MyRoles(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("my roles: %v", err)
	}
	if len(roles.GrantedRoles) != 1 || roles.GrantedRoles[0] != role.KindStudent {
		t.Errorf("granted = %v, want [student]", roles.GrantedRoles)
	}
}
