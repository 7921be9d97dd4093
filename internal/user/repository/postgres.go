package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"multirole-accounts/internal/db"
	"multirole-accounts/internal/role"
	"multirole-accounts/internal/user/domain"
)

// PostgresRepository persists users in the users table.
type PostgresRepository struct{}

// NewPostgresRepository returns a user repository over the users table.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

const userColumns = `id, email, granted_roles, active_role, created_at, updated_at`

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, q db.Querier, id string) (*domain.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, q db.Querier, email string) (*domain.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// GetForUpdate returns the user for id with its row locked until the
// surrounding transaction ends, or nil if not found.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, q db.Querier, id string) (*domain.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
	return scanUser(row)
}

// Create persists the user. The user must have ID set; it is not assigned here.
func (r *PostgresRepository) Create(ctx context.Context, q db.Querier, u *domain.User) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO users (id, email, granted_roles, active_role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, pq.Array(kindsToStrings(u.GrantedRoles)), nullableKind(u.ActiveRole),
		u.CreatedAt, u.UpdatedAt,
	)
	return err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u       domain.User
		granted []string
		active  sql.NullString
		created time.Time
		updated time.Time
	)
	err := row.Scan(&u.ID, &u.Email, pq.Array(&granted), &active, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.GrantedRoles = stringsToKinds(granted)
	if active.Valid {
		u.ActiveRole = role.Kind(active.String)
	}
	u.CreatedAt = created
	u.UpdatedAt = updated
	return &u, nil
}

func nullableKind(k role.Kind) sql.NullString {
	return sql.NullString{String: string(k), Valid: k != role.KindNone}
}

func kindsToStrings(ks []role.Kind) []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = string(k)
	}
	return out
}

func stringsToKinds(ss []string) []role.Kind {
	out := make([]role.Kind, len(ss))
	for i, s := range ss {
		out[i] = role.Kind(s)
	}
	return out
}
