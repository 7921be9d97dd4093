package repository

import (
	"context"

	"multirole-accounts/internal/db"
	"multirole-accounts/internal/identity/domain"
)

// Repository defines persistence for local password identities.
type Repository interface {
	GetByUser(ctx context.Context, q db.Querier, userID string) (*domain.Identity, error)
	Create(ctx context.Context, q db.Querier, i *domain.Identity) error
}
