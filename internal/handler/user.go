package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/lilofinance/usermanager/internal/auth"
	"github.com/lilofinance/usermanager/internal/model"
	"github.com/lilofinance/usermanager/internal/respond"
)

// UserHandler serves the self-service routes of the authenticated user.
// Every route must sit behind middleware.Authenticate.
type UserHandler struct {
	service AccountService
	logger  *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(service AccountService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		service: service,
		logger:  logger.With("component", "handler.user"),
	}
}

// GetMe returns the authenticated user.
// GET /api/v1/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	id := auth.MustPrincipalFromContext(r.Context())

	user, err := h.service.GetMe(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	respond.Success(w, http.StatusOK, user.ToResponse())
}

// UpdateMe applies one update shape to the authenticated user. An empty
// body leaves the account unchanged and returns it.
// PATCH /api/v1/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	id := auth.MustPrincipalFromContext(r.Context())

	var req model.PatchUserRequest
	if err := respond.DecodeStrict(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.service.UpdateMe(r.Context(), id, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	respond.Success(w, http.StatusOK, user.ToResponse())
}

// DeleteMe permanently removes the authenticated user.
// DELETE /api/v1/users/me
func (h *UserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	id := auth.MustPrincipalFromContext(r.Context())

	if err := h.service.DeleteMe(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
