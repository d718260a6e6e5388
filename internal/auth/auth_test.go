package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"romana/internal/core"
	"romana/internal/storage"

	"golang.org/x/crypto/bcrypt"
)

func newAuthenticator() *PasswordAuthenticator {
	return NewPasswordAuthenticator(storage.NewMemoryStore(), bcrypt.MinCost)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	a := newAuthenticator()

	u, err := a.Register(ctx, "Mario@Example.com ", "hunter2secret", "Mario")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Email != "mario@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if u.ID == "" || u.PasswordHash == "" {
		t.Fatalf("incomplete user: %+v", u)
	}
	if u.PasswordHash == "hunter2secret" {
		t.Fatal("password stored in clear")
	}

	got, err := a.Authenticate(ctx, "mario@example.com", "hunter2secret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("authenticated wrong user: %s != %s", got.ID, u.ID)
	}

	if _, err := a.Authenticate(ctx, "mario@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, err := a.Authenticate(ctx, "nobody@example.com", "hunter2secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: got %v, want ErrInvalidCredentials", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	a := newAuthenticator()

	cases := []struct {
		email    string
		password string
		want     error
	}{
		{"not-an-email", "hunter2secret", ErrInvalidEmail},
		{"@example.com", "hunter2secret", ErrInvalidEmail},
		{"mario@", "hunter2secret", ErrInvalidEmail},
		{"mario@example.com", "short", ErrWeakPassword},
		{"mario@example.com", "", ErrWeakPassword},
	}
	for i, c := range cases {
		if _, err := a.Register(ctx, c.email, c.password, ""); !errors.Is(err, c.want) {
			t.Fatalf("case %d (%s): got %v, want %v", i, c.email, err, c.want)
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	a := newAuthenticator()

	if _, err := a.Register(ctx, "mario@example.com", "hunter2secret", "Mario"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := a.Register(ctx, "MARIO@example.com", "otherpassword", "Other"); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("duplicate register: got %v, want ErrEmailExists", err)
	}
}

func TestRegisterDefaultsDisplayName(t *testing.T) {
	ctx := context.Background()
	a := newAuthenticator()

	u, err := a.Register(ctx, "luigi@example.com", "hunter2secret", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.DisplayName != "luigi" {
		t.Fatalf("display name default: got %q, want %q", u.DisplayName, "luigi")
	}
}

func TestJWTRoundtrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	user := core.User{ID: "u1", Email: "mario@example.com"}

	token, err := m.Generate(user)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "mario@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestJWTRejectsBadTokens(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	user := core.User{ID: "u1", Email: "mario@example.com"}

	token, err := m.Generate(user)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := m.Validate(token + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token: got %v, want ErrInvalidToken", err)
	}
	if _, err := m.Validate("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: got %v, want ErrInvalidToken", err)
	}

	other := NewJWTManager("different-secret", time.Hour)
	otherToken, err := other.Generate(user)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := m.Validate(otherToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: got %v, want ErrInvalidToken", err)
	}
}

func TestJWTExpiry(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Minute)
	user := core.User{ID: "u1", Email: "mario@example.com"}

	token, err := m.Generate(user)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: got %v, want ErrInvalidToken", err)
	}
}
