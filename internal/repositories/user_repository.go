package repositories

import (
	"context"
	"errors"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository resolves students and instructors from the identity provider.
// The service never writes user data.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
	HasRole(ctx context.Context, id string, role models.UserRole) (bool, error)
}
