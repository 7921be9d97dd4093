package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"multirole-accounts/internal/db"
	"multirole-accounts/internal/role"
)

// pgAdapter is the Postgres storage adapter for one role kind. Each kind
// owns a profile table plus the dependent tables deleted on purge.
type pgAdapter struct {
	kind       role.Kind
	table      string
	dependents []string // deleted in order before the profile row
}

// NewStudentAdapter returns the adapter for student profiles and their
// enrollments.
func NewStudentAdapter() Adapter {
	return &pgAdapter{kind: role.KindStudent, table: "student_profiles", dependents: []string{"student_enrollments"}}
}

// NewTutorAdapter returns the adapter for tutor profiles and their listings.
func NewTutorAdapter() Adapter {
	return &pgAdapter{kind: role.KindTutor, table: "tutor_profiles", dependents: []string{"tutor_listings"}}
}

// NewParentAdapter returns the adapter for parent profiles and child links.
func NewParentAdapter() Adapter {
	return &pgAdapter{kind: role.KindParent, table: "parent_profiles", dependents: []string{"parent_child_links"}}
}

// NewAdvertiserAdapter returns the adapter for advertiser profiles and
// their campaigns.
func NewAdvertiserAdapter() Adapter {
	return &pgAdapter{kind: role.KindAdvertiser, table: "advertiser_profiles", dependents: []string{"advertiser_campaigns"}}
}

// NewMemberAdapter returns the adapter for generic member profiles and
// their bookmarks.
func NewMemberAdapter() Adapter {
	return &pgAdapter{kind: role.KindMember, table: "member_profiles", dependents: []string{"member_bookmarks"}}
}

// NewPostgresStore returns a Store with the adapters for every role kind.
func NewPostgresStore() *Store {
	return NewStore(
		NewStudentAdapter(),
		NewTutorAdapter(),
		NewParentAdapter(),
		NewAdvertiserAdapter(),
		NewMemberAdapter(),
	)
}

func (a *pgAdapter) Kind() role.Kind { return a.kind }

func (a *pgAdapter) Insert(ctx context.Context, q db.Querier, userID string, payload json.RawMessage, now time.Time) error {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err := q.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (user_id, status, purge_at, payload, created_at, updated_at)
		VALUES ($1, $2, NULL, $3, $4, $4)`, a.table),
		userID, role.StatusActive, []byte(payload), now,
	)
	return err
}

func (a *pgAdapter) Get(ctx context.Context, q db.Querier, userID string) (*role.Profile, error) {
	row := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT status, purge_at, payload, created_at, updated_at
		FROM %s WHERE user_id = $1`, a.table), userID)

	var (
		p       role.Profile
		status  string
		purgeAt sql.NullTime
		payload []byte
	)
	err := row.Scan(&status, &purgeAt, &payload, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.UserID = userID
	p.Kind = a.kind
	p.Status = role.Status(status)
	if purgeAt.Valid {
		t := purgeAt.Time
		p.PurgeAt = &t
	}
	p.Payload = json.RawMessage(payload)
	return &p, nil
}

func (a *pgAdapter) SetActivation(ctx context.Context, q db.Querier, userID string, status role.Status, purgeAt *time.Time, now time.Time) error {
	var purge sql.NullTime
	if purgeAt != nil {
		purge = sql.NullTime{Time: *purgeAt, Valid: true}
	}
	res, err := q.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = $2, purge_at = $3, updated_at = $4
		WHERE user_id = $1`, a.table),
		userID, status, purge, now,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Purge locks the profile row, re-checks purge eligibility under that lock,
// deletes dependent rows, then the profile row with the same guard. The
// re-check inside the transaction is what keeps a racing reactivation safe:
// whichever commits first wins.
func (a *pgAdapter) Purge(ctx context.Context, q db.Querier, userID string, now time.Time) error {
	var (
		status  string
		purgeAt sql.NullTime
	)
	err := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT status, purge_at FROM %s WHERE user_id = $1 FOR UPDATE`, a.table), userID).
		Scan(&status, &purgeAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if role.Status(status) != role.StatusDeactivated || !purgeAt.Valid || purgeAt.Time.After(now) {
		return ErrNotEligible
	}

	for _, dep := range a.dependents {
		if _, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, dep), userID); err != nil {
			return fmt.Errorf("purge %s: %w", dep, err)
		}
	}

	res, err := q.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE user_id = $1 AND status = $2 AND purge_at <= $3`, a.table),
		userID, role.StatusDeactivated, now,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotEligible
	}
	return nil
}

func (a *pgAdapter) ListExpired(ctx context.Context, q db.Querier, now time.Time, limit int) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT user_id FROM %s
		WHERE status = $1 AND purge_at <= $2
		ORDER BY purge_at
		LIMIT $3`, a.table),
		role.StatusDeactivated, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
