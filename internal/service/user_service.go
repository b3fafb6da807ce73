package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"user-registry/internal/domain"
	"user-registry/internal/repository"
)

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserAlreadyExists is returned when attempting to register with an existing username.
	ErrUserAlreadyExists = errors.New("user already exists")
)

// UserService describes user lifecycle operations.
type UserService interface {
	Init(ctx context.Context) error
	Register(ctx context.Context, username, email, password string) (*domain.User, error)
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
}

type userService struct {
	users  repository.UserRepository
	scheme PasswordScheme
	logger *logrus.Logger
}

func NewUserService(users repository.UserRepository, scheme PasswordScheme, logger *logrus.Logger) UserService {
	if scheme == nil {
		scheme = plainScheme{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &userService{
		users:  users,
		scheme: scheme,
		logger: logger,
	}
}

func (s *userService) Init(ctx context.Context) error {
	if err := s.users.Init(ctx); err != nil {
		return fmt.Errorf("init user store: %w", err)
	}
	return nil
}

func (s *userService) Register(ctx context.Context, username, email, password string) (*domain.User, error) {
	stored, err := s.scheme.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username: username,
		Email:    email,
		Password: stored,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			s.logger.WithField("username", username).Info("registration rejected: username taken")
			return nil, ErrUserAlreadyExists
		}
		return nil, err
	}

	s.logger.WithField("username", username).Info("user registered")
	return user, nil
}

func (s *userService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.scheme.Compare(user.Password, password) {
		s.logger.WithField("username", username).Debug("password mismatch")
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

func (s *userService) List(ctx context.Context) ([]domain.User, error) {
	return s.users.List(ctx)
}
