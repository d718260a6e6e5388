package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"romana/internal/core"
	"romana/internal/log"
	"romana/internal/storage"
)

// Error codes carried in the error envelope. Clients switch on these, so
// they are part of the API contract and never change meaning.
const (
	codeInvalidRequest     = "invalid_request"
	codeInvalidCredentials = "invalid_credentials"
	codeEmailExists        = "email_exists"
	codeWeakPassword       = "weak_password"
	codeUnauthorized       = "unauthorized"
	codeNotFound           = "not_found"
	codeConflict           = "conflict"
	codeValidationFailed   = "validation_failed"
	codeRateLimited        = "rate_limited"
	codeInternal           = "internal"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Failed to encode response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	writeJSON(ctx, w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// validationErrs are the domain errors that mean "the client sent a shape
// we understand but cannot accept", reported as 422 with the error text.
var validationErrs = []error{
	core.ErrInvalidDate,
	core.ErrInvalidAmount,
	core.ErrEmptyTitle,
	core.ErrTitleTooLong,
	core.ErrEmptySplit,
	core.ErrEmptyParticipant,
	core.ErrDuplicateParticipant,
	core.ErrEmptyFriendName,
	core.ErrReservedFriendName,
	core.ErrInvalidDayOfMonth,
}

func isValidationErr(err error) bool {
	for _, v := range validationErrs {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

// writeDomainError maps storage and validation errors onto the envelope.
// Anything unrecognized is an internal error and gets logged here, once.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, codeNotFound, "resource not found")
	case errors.Is(err, storage.ErrDuplicate):
		writeError(ctx, w, http.StatusConflict, codeConflict, "resource already exists")
	case isValidationErr(err):
		writeError(ctx, w, http.StatusUnprocessableEntity, codeValidationFailed, err.Error())
	default:
		log.FromContext(ctx).ErrorContext(ctx, "Request failed", "error", err)
		writeError(ctx, w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
