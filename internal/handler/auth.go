package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/lilofinance/usermanager/internal/apperr"
	"github.com/lilofinance/usermanager/internal/auth"
	"github.com/lilofinance/usermanager/internal/middleware"
	"github.com/lilofinance/usermanager/internal/model"
	"github.com/lilofinance/usermanager/internal/respond"
)

// AccountService is the business contract behind the auth and user routes.
// *service.UserService implements it.
type AccountService interface {
	Signup(ctx context.Context, req model.CreateUserRequest) (*model.User, error)
	Login(ctx context.Context, req model.LoginRequest) (auth.Token, error)
	GetMe(ctx context.Context, id string) (*model.User, error)
	UpdateMe(ctx context.Context, id string, req model.PatchUserRequest) (*model.User, error)
	DeleteMe(ctx context.Context, id string) error
}

// TokenTypeBearer is the token_type reported on login.
const TokenTypeBearer = "bearer"

// MessageResponse is a body carrying a single message.
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginResponse is the body returned by a successful login.
type LoginResponse struct {
	AccessToken    string `json:"access_token"`
	TokenType      string `json:"token_type"`
	ExpirationTime string `json:"expiration_time"`
}

// AuthHandler serves signup and login.
type AuthHandler struct {
	service AccountService
	logger  *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(service AccountService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  logger.With("component", "handler.auth"),
	}
}

// Signup creates an account.
// POST /api/v1/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req model.CreateUserRequest
	if err := respond.DecodeStrict(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if _, err := h.service.Signup(r.Context(), req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusCreated, MessageResponse{Message: "User created successfully"})
}

// Login exchanges credentials for a bearer token.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := respond.DecodeStrict(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	token, err := h.service.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusOK, LoginResponse{
		AccessToken:    token.Value,
		TokenType:      TokenTypeBearer,
		ExpirationTime: token.Expiration(),
	})
}

// writeError logs unclassified failures with the request id and writes the
// public part of err.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		logger.Error("request failed",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("endpoint", r.Method+" "+r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	respond.Error(w, err)
}
