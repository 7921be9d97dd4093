package repository

import (
	"context"

	"multirole-accounts/internal/db"
	"multirole-accounts/internal/user/domain"
)

// Repository defines persistence for users. Methods that participate in
// lifecycle transactions take an explicit db.Querier.
type Repository interface {
	GetByID(ctx context.Context, q db.Querier, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, q db.Querier, email string) (*domain.User, error)
	Create(ctx context.Context, q db.Querier, u *domain.User) error
	// GetForUpdate locks the user row for the duration of the surrounding
	// transaction. Lifecycle operations serialize on this lock.
	GetForUpdate(ctx context.Context, q db.Querier, id string) (*domain.User, error)
}
