// Package users provides access to the durable user directory records.
package users

import (
	"context"

	"github.com/avoronov/userdir/internal/server/models"
)

// Repository is the store contract for user records. Implementations must
// surface common.ErrorNotFound for missing records and
// common.ErrorAlreadyExists for email uniqueness conflicts.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	Update(ctx context.Context, user *models.User) (*models.User, error)
	Delete(ctx context.Context, id int64) (*models.User, error)
}
