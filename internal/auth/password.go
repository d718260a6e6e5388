package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"romana/internal/core"
	"romana/internal/storage"
)

const minPasswordLength = 8

// PasswordAuthenticator implements Authenticator with bcrypt-hashed
// passwords over a UserStore.
type PasswordAuthenticator struct {
	store UserStore
	cost  int
}

// NewPasswordAuthenticator creates a password authenticator. cost is the
// bcrypt work factor; out-of-range values fall back to the bcrypt default.
func NewPasswordAuthenticator(store UserStore, cost int) *PasswordAuthenticator {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordAuthenticator{store: store, cost: cost}
}

var _ Authenticator = (*PasswordAuthenticator)(nil)

func (a *PasswordAuthenticator) Register(ctx context.Context, email, password, displayName string) (core.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return core.User{}, err
	}
	if len(password) < minPasswordLength {
		return core.User{}, ErrWeakPassword
	}

	if _, err := a.store.UserByEmail(ctx, email); err == nil {
		return core.User{}, ErrEmailExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return core.User{}, fmt.Errorf("check existing email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return core.User{}, fmt.Errorf("hash password: %w", err)
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = email[:strings.Index(email, "@")]
	}

	user := core.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  displayName,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		// Two concurrent registrations can both pass the existence
		// check; the unique index settles it.
		if errors.Is(err, storage.ErrDuplicate) {
			return core.User{}, ErrEmailExists
		}
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (a *PasswordAuthenticator) Authenticate(ctx context.Context, email, password string) (core.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return core.User{}, ErrInvalidCredentials
	}

	user, err := a.store.UserByEmail(ctx, email)
	if err != nil {
		return core.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return core.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 {
		return "", ErrInvalidEmail
	}
	return email, nil
}
