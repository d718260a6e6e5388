package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"romana/internal/core"
	authmw "romana/internal/middleware/auth"
	"romana/internal/paylink"
)

type friendRequest struct {
	Name   string `json:"name"`
	Handle string `json:"handle"`
}

type friendResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Handle    string    `json:"handle,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toFriendResponse(f core.Friend) friendResponse {
	return friendResponse{
		ID:        f.ID,
		Name:      f.Name,
		Handle:    f.Handle,
		CreatedAt: f.CreatedAt,
	}
}

func (s *Server) handleListFriends(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := authmw.GetUserID(ctx)

	friends, err := s.backend.ListFriends(ctx, userID)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	out := make([]friendResponse, 0, len(friends))
	for _, f := range friends {
		out = append(out, toFriendResponse(f))
	}
	writeJSON(ctx, w, http.StatusOK, out)
}

func (s *Server) handleCreateFriend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := authmw.GetUserID(ctx)

	var req friendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	friend := core.Friend{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		Handle:    strings.TrimSpace(req.Handle),
		CreatedAt: time.Now().UTC(),
	}

	if err := friend.Validate(); err != nil {
		writeError(ctx, w, http.StatusUnprocessableEntity, codeValidationFailed, err.Error())
		return
	}
	if !paylink.Valid(friend.Handle) {
		writeError(ctx, w, http.StatusUnprocessableEntity, codeValidationFailed,
			"unrecognized payment handle: expected $cashtag, @venmoname or a PromptPay id")
		return
	}

	if err := s.backend.CreateFriend(ctx, userID, friend); err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	slog.InfoContext(ctx, "Friend added",
		"user_id", userID,
		"friend_id", friend.ID)

	writeJSON(ctx, w, http.StatusCreated, toFriendResponse(friend))
}

func (s *Server) handleDeleteFriend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := authmw.GetUserID(ctx)
	id := r.PathValue("id")

	if err := s.backend.DeleteFriend(ctx, userID, id); err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	slog.InfoContext(ctx, "Friend removed",
		"user_id", userID,
		"friend_id", id)

	w.WriteHeader(http.StatusNoContent)
}
