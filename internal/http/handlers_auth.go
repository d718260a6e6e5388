package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"romana/internal/auth"
	"romana/internal/core"
)

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresIn int          `json:"expires_in"`
	User      userResponse `json:"user"`
}

func toUserResponse(u core.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	user, err := s.authn.Register(ctx, req.Email, req.Password, req.DisplayName)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidEmail):
		writeError(ctx, w, http.StatusUnprocessableEntity, codeValidationFailed, err.Error())
		return
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(ctx, w, http.StatusUnprocessableEntity, codeWeakPassword, err.Error())
		return
	case errors.Is(err, auth.ErrEmailExists):
		writeError(ctx, w, http.StatusConflict, codeEmailExists, err.Error())
		return
	default:
		slog.ErrorContext(ctx, "Registration failed", "error", err)
		writeError(ctx, w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	slog.InfoContext(ctx, "Account registered", "user_id", user.ID)

	token, err := s.jwt.Generate(user)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to generate token", "error", err, "user_id", user.ID)
		writeError(ctx, w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	writeJSON(ctx, w, http.StatusCreated, sessionResponse{
		Token:     token,
		ExpiresIn: int(s.jwt.TTL().Seconds()),
		User:      toUserResponse(user),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	user, err := s.authn.Authenticate(ctx, req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(ctx, w, http.StatusUnauthorized, codeInvalidCredentials, err.Error())
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "Login failed", "error", err)
		writeError(ctx, w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	slog.InfoContext(ctx, "User logged in", "user_id", user.ID)

	token, err := s.jwt.Generate(user)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to generate token", "error", err, "user_id", user.ID)
		writeError(ctx, w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	writeJSON(ctx, w, http.StatusOK, sessionResponse{
		Token:     token,
		ExpiresIn: int(s.jwt.TTL().Seconds()),
		User:      toUserResponse(user),
	})
}
