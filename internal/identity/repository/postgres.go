package repository

import (
	"context"
	"database/sql"
	"errors"

	"multirole-accounts/internal/db"
	"multirole-accounts/internal/identity/domain"
)

// PostgresRepository persists identities in the identities table.
type PostgresRepository struct{}

// NewPostgresRepository returns an identity repository over the identities table.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// GetByUser returns the local identity for userID, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByUser(ctx context.Context, q db.Querier, userID string) (*domain.Identity, error) {
	var i domain.Identity
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, password_hash, created_at
		FROM identities WHERE user_id = $1`, userID).
		Scan(&i.ID, &i.UserID, &i.PasswordHash, &i.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &i, nil
}

// Create persists the identity. The identity must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, q db.Querier, i *domain.Identity) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO identities (id, user_id, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`,
		i.ID, i.UserID, i.PasswordHash, i.CreatedAt,
	)
	return err
}
