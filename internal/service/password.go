package service

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	PasswordSchemePlain  = "plain"
	PasswordSchemeBcrypt = "bcrypt"
)

// PasswordScheme turns a supplied password into its stored form and checks
// candidates against it.
type PasswordScheme interface {
	Hash(password string) (string, error)
	Compare(stored, candidate string) bool
}

// NewPasswordScheme returns the scheme registered under name.
func NewPasswordScheme(name string) (PasswordScheme, error) {
	switch name {
	case "", PasswordSchemePlain:
		return plainScheme{}, nil
	case PasswordSchemeBcrypt:
		return bcryptScheme{cost: bcrypt.DefaultCost}, nil
	default:
		return nil, fmt.Errorf("unknown password scheme %q", name)
	}
}

// plainScheme stores passwords as provided.
type plainScheme struct{}

func (plainScheme) Hash(password string) (string, error) { return password, nil }

func (plainScheme) Compare(stored, candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}

type bcryptScheme struct {
	cost int
}

func (s bcryptScheme) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s bcryptScheme) Compare(stored, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(candidate)) == nil
}
