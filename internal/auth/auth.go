// Package auth implements account registration, credential verification and
// JWT session tokens.
package auth

import (
	"context"
	"errors"

	"romana/internal/core"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrMissingToken       = errors.New("authorization token required")
)

// Authenticator is the account entry point. The interface keeps the HTTP
// layer independent of the credential mechanism.
type Authenticator interface {
	// Register creates a new account. The password is validated and
	// hashed by the implementation.
	Register(ctx context.Context, email, password, displayName string) (core.User, error)

	// Authenticate verifies email and password, returning the account
	// on success and ErrInvalidCredentials otherwise.
	Authenticate(ctx context.Context, email, password string) (core.User, error)
}

// UserStore is the persistence surface the authenticator needs. The
// backend repositories satisfy it.
type UserStore interface {
	CreateUser(ctx context.Context, user core.User) error
	UserByEmail(ctx context.Context, email string) (core.User, error)
	UserByID(ctx context.Context, id string) (core.User, error)
}
