package ports

import (
	"context"

	"github.com/quickbite/order-tracking/internal/core/domain"
)

// RegisterInput carries the data needed to create a user account.
type RegisterInput struct {
	Username   string
	Password   string
	Email      string
	Role       string
	CourierID  string
	BusinessID string
}

type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	Login(ctx context.Context, username, password string) (string, *domain.User, error)
}
