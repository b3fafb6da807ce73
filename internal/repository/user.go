package repository

import (
	"context"
	"errors"

	"user-registry/internal/domain"
)

var (
	// ErrUserExists is returned by Create when the username is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned by lookups that match no row.
	ErrUserNotFound = errors.New("user not found")
)

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) error
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Count(ctx context.Context) (int, error)
}
