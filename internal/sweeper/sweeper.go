// Package sweeper is the periodic purge job: it finds roles whose grace
// period has elapsed and performs the irreversible delete. Each row is its
// own transaction; eligibility is re-checked inside that transaction, so a
// reactivation that commits first always wins.
package sweeper

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/time/rate"

	"multirole-accounts/internal/audit"
	"multirole-accounts/internal/db"
	"multirole-accounts/internal/events"
	"multirole-accounts/internal/profile"
	"multirole-accounts/internal/role"
	userdomain "multirole-accounts/internal/user/domain"
)

const (
	eventSource = "sweeper"
	// batchLimit bounds candidates fetched per role kind per sweep.
	batchLimit = 500
)

// TxRunner runs one purge transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, q db.Querier) error) error
}

// ProfileStore is the slice of the profile store the sweeper needs.
type ProfileStore interface {
	Kinds() []role.Kind
	ListExpired(ctx context.Context, q db.Querier, kind role.Kind, now time.Time, limit int) ([]string, error)
	Purge(ctx context.Context, q db.Querier, userID string, kind role.Kind, now time.Time) error
}

// Registry is the slice of the role registry the sweeper needs.
type Registry interface {
	RemoveGranted(ctx context.Context, q db.Querier, userID string, kind role.Kind, now time.Time) error
	ClearActiveIfEquals(ctx context.Context, q db.Querier, userID string, kind role.Kind, now time.Time) error
}

// UserLocker locks the user row so purge transactions take locks in the
// same order as lifecycle transactions.
type UserLocker interface {
	GetForUpdate(ctx context.Context, q db.Querier, id string) (*userdomain.User, error)
}

// Summary reports one sweep pass.
type Summary struct {
	RolesPurged int
	Errors      int
}

// Sweeper purges expired deactivated roles.
type Sweeper struct {
	reader   db.Querier
	txs      TxRunner
	profiles ProfileStore
	registry Registry
	users    UserLocker
	limiter  *rate.Limiter
	auditLog audit.AuditLogger
	emitter  events.Emitter
	now      func() time.Time
}

// Option customizes Sweeper construction.
type Option func(*Sweeper)

// WithClock injects a clock for grace-period tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAuditLogger sets the audit sink. Nil disables auditing.
func WithAuditLogger(l audit.AuditLogger) Option {
	return func(s *Sweeper) { s.auditLog = l }
}

// WithEmitter sets the role event sink. Nil disables events.
func WithEmitter(e events.Emitter) Option {
	return func(s *Sweeper) { s.emitter = e }
}

// New returns a Sweeper. rowsPerSecond paces the per-row transactions so a
// long sweep cannot starve user-facing traffic; non-positive means 20.
func New(reader db.Querier, txs TxRunner, profiles ProfileStore, reg Registry, users UserLocker, rowsPerSecond float64, opts ...Option) *Sweeper {
	if rowsPerSecond <= 0 {
		rowsPerSecond = 20
	}
	s := &Sweeper{
		reader:   reader,
		txs:      txs,
		profiles: profiles,
		registry: reg,
		users:    users,
		limiter:  rate.NewLimiter(rate.Limit(rowsPerSecond), 1),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs one pass over every role kind. Row failures are counted,
// logged, and skipped; they never abort the pass. Eligibility is idempotent
// per row, so the next scheduled run retries whatever this one missed.
func (s *Sweeper) Sweep(ctx context.Context) (Summary, error) {
	start := s.now()
	var sum Summary
	for _, kind := range s.profiles.Kinds() {
		ids, err := s.profiles.ListExpired(ctx, s.reader, kind, s.now(), batchLimit)
		if err != nil {
			log.Printf("sweeper: list expired %s: %v", kind, err)
			sum.Errors++
			sweepErrorsTotal.Inc()
			continue
		}
		for _, userID := range ids {
			if err := s.limiter.Wait(ctx); err != nil {
				sweepDuration.Observe(time.Since(start).Seconds())
				return sum, err
			}
			switch err := s.purgeOne(ctx, userID, kind); {
			case err == nil:
				sum.RolesPurged++
				rolesPurgedTotal.WithLabelValues(string(kind)).Inc()
				if s.auditLog != nil {
					s.auditLog.LogEvent(ctx, userID, audit.ActionPurge, string(kind), "")
				}
				if s.emitter != nil {
					events.EmitAsync(s.emitter, events.New(events.TypeRolePurged, userID, string(kind), "", eventSource))
				}
			case errors.Is(err, profile.ErrNotEligible), errors.Is(err, profile.ErrNotFound):
				// Lost the race to a reactivation or an earlier purge;
				// nothing to do.
			default:
				log.Printf("sweeper: purge %s/%s: %v", userID, kind, err)
				sum.Errors++
				sweepErrorsTotal.Inc()
			}
		}
	}
	sweepDuration.Observe(time.Since(start).Seconds())
	return sum, nil
}

// purgeOne removes one (user, roleKind) in a single transaction: lock the
// user row, re-check purge eligibility, delete profile and dependents, drop
// the role from the granted set.
func (s *Sweeper) purgeOne(ctx context.Context, userID string, kind role.Kind) error {
	return s.txs.InTx(ctx, func(ctx context.Context, q db.Querier) error {
		// Lock the user row first, matching lifecycle lock order. The row
		// may be gone already; the profile is then an orphan and is still
		// purged.
		if _, err := s.users.GetForUpdate(ctx, q, userID); err != nil {
			return err
		}
		now := s.now()
		if err := s.profiles.Purge(ctx, q, userID, kind, now); err != nil {
			return err
		}
		if err := s.registry.ClearActiveIfEquals(ctx, q, userID, kind, now); err != nil {
			return err
		}
		return s.registry.RemoveGranted(ctx, q, userID, kind, now)
	})
}

// RunPeriodic sweeps immediately and then on every interval tick until ctx
// is done. Pass summaries are logged.
func (s *Sweeper) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		sum, err := s.Sweep(ctx)
		if err != nil {
			log.Printf("sweeper: sweep aborted: %v", err)
		} else {
			log.Printf("sweeper: rolesPurged=%d errors=%d", sum.RolesPurged, sum.Errors)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
