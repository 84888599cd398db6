// Package handler provides HTTP request handlers.
package handler

import (
	"net/http"

	"github.com/lilofinance/usermanager/internal/respond"
)

// Handler serves the service root and the router fallbacks.
type Handler struct {
	version string
}

// New creates a new Handler reporting version at the API root.
func New(version string) *Handler {
	return &Handler{version: version}
}

// VersionResponse is the body of the API root.
type VersionResponse struct {
	Message string `json:"message"`
}

// Version reports the running version.
// GET /api/v1/
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, VersionResponse{Message: h.version})
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	respond.Status(w, http.StatusNotFound, "Not Found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respond.Status(w, http.StatusMethodNotAllowed, "Method Not Allowed")
}
