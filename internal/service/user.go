// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lilofinance/usermanager/internal/apperr"
	"github.com/lilofinance/usermanager/internal/auth"
	"github.com/lilofinance/usermanager/internal/messaging"
	"github.com/lilofinance/usermanager/internal/metrics"
	"github.com/lilofinance/usermanager/internal/model"
	"github.com/lilofinance/usermanager/internal/repository"
)

// dummyPassword is hashed once at startup so that logins for unknown
// emails still pay for one full verification.
const dummyPassword = "timing-equalization-placeholder"

// Store is the persistence contract of the user service.
// *repository.Repository implements it.
type Store interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateUser(ctx context.Context, id string, upd model.UserUpdate) (*model.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// TokenIssuer issues bearer tokens for a subject.
type TokenIssuer interface {
	Issue(subject string, now time.Time) (auth.Token, error)
}

// UserService handles signup, login and self-service account management.
type UserService struct {
	store     Store
	hasher    auth.Hasher
	tokens    TokenIssuer
	publisher messaging.EventPublisher
	logger    *slog.Logger
	metrics   metrics.Recorder
	now       func() time.Time
	dummyHash string
}

// NewUserService creates a new UserService. A nil publisher discards
// events and a nil recorder discards metrics.
func NewUserService(
	store Store,
	hasher auth.Hasher,
	tokens TokenIssuer,
	publisher messaging.EventPublisher,
	logger *slog.Logger,
	recorder metrics.Recorder,
) (*UserService, error) {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if publisher == nil {
		publisher = messaging.NoopPublisher{}
	}

	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}

	return &UserService{
		store:     store,
		hasher:    hasher,
		tokens:    tokens,
		publisher: publisher,
		logger:    logger.With("component", "service.user"),
		metrics:   recorder,
		now:       time.Now,
		dummyHash: dummyHash,
	}, nil
}

// SetClock overrides the time source.
func (s *UserService) SetClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Signup validates req and creates a user with the default role.
func (s *UserService) Signup(ctx context.Context, req model.CreateUserRequest) (*model.User, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, unprocessable(err)
	}

	hash, err := s.hash(req.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		ID:           ulid.Make().String(),
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
		Role:         model.DefaultRole,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, apperr.Wrap(apperr.KindConflict, apperr.MessageEmailExists, err)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.metrics.IncSignup()
	s.publish(messaging.EventUserCreated, user.ID)
	s.logger.Info("user signed up", "user_id", user.ID)

	return user, nil
}

// Login exchanges credentials for a bearer token. Unknown emails and wrong
// passwords produce the same error.
func (s *UserService) Login(ctx context.Context, req model.LoginRequest) (auth.Token, error) {
	if err := req.Validate(); err != nil {
		return auth.Token{}, unprocessable(err)
	}

	email := model.NormalizeEmail(req.Email)
	invalid := apperr.New(apperr.KindUnauthorized, apperr.MessageInvalidCredentials)

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return auth.Token{}, fmt.Errorf("get user by email: %w", err)
		}
		_, _ = s.verify(req.Password, s.dummyHash)
		s.metrics.IncLogin(metrics.LoginFailure)
		return auth.Token{}, invalid
	}

	ok, err := s.verify(req.Password, user.PasswordHash)
	if err != nil {
		s.logger.Error("stored credential is corrupt", "user_id", user.ID, "error", err)
	}
	if !ok {
		s.metrics.IncLogin(metrics.LoginFailure)
		return auth.Token{}, invalid
	}

	token, err := s.tokens.Issue(user.ID, s.now())
	if err != nil {
		return auth.Token{}, fmt.Errorf("issue token: %w", err)
	}

	s.metrics.IncLogin(metrics.LoginSuccess)
	return token, nil
}

// GetMe returns the authenticated user.
func (s *UserService) GetMe(ctx context.Context, id string) (*model.User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, s.lookupError(id, err)
	}
	return user, nil
}

// UpdateMe applies exactly one update shape resolved from req.
func (s *UserService) UpdateMe(ctx context.Context, id string, req model.PatchUserRequest) (*model.User, error) {
	patch, err := req.Resolve()
	if err != nil {
		return nil, unprocessable(err)
	}

	switch patch.Kind {
	case model.PatchPassword:
		return s.ChangePassword(ctx, id, patch.OldPassword, patch.NewPassword)
	case model.PatchEmail:
		return s.update(ctx, id, patch.Kind, model.UserUpdate{Email: &patch.Email})
	case model.PatchProfile:
		return s.update(ctx, id, patch.Kind, model.UserUpdate{FullName: &patch.FullName})
	default:
		return s.GetMe(ctx, id)
	}
}

func (s *UserService) update(ctx context.Context, id string, kind model.PatchKind, upd model.UserUpdate) (*model.User, error) {
	user, err := s.store.UpdateUser(ctx, id, upd)
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, apperr.Wrap(apperr.KindConflict, apperr.MessageEmailExists, err)
		}
		return nil, s.lookupError(id, err)
	}

	s.metrics.IncUserUpdated(kind.String())
	s.publish(messaging.EventUserUpdated, id)
	return user, nil
}

// ChangePassword replaces the credential of id after re-verifying the old
// password. The store is not touched when the passwords are equal, and the
// credential is left unchanged when the old password does not verify.
func (s *UserService) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) (*model.User, error) {
	if newPassword == oldPassword {
		return nil, apperr.New(apperr.KindUnprocessable, apperr.MessageSamePassword)
	}
	if newPassword == "" {
		return nil, apperr.New(apperr.KindUnprocessable, apperr.MessageUnprocessable)
	}

	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, s.lookupError(id, err)
	}

	ok, err := s.verify(oldPassword, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify old password: %w", err)
	}
	if !ok {
		return nil, apperr.New(apperr.KindUnauthorized, apperr.MessageInvalidPassword)
	}

	hash, err := s.hash(newPassword)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateUser(ctx, id, model.UserUpdate{PasswordHash: &hash})
	if err != nil {
		return nil, s.lookupError(id, err)
	}

	s.metrics.IncPasswordChanged()
	s.metrics.IncUserUpdated(model.PatchPassword.String())
	s.publish(messaging.EventPasswordChanged, id)
	s.logger.Info("password changed", "user_id", id)

	return updated, nil
}

// DeleteMe permanently removes the authenticated user.
func (s *UserService) DeleteMe(ctx context.Context, id string) error {
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return s.lookupError(id, err)
	}

	s.metrics.IncUserDeleted()
	s.publish(messaging.EventUserDeleted, id)
	s.logger.Info("user deleted", "user_id", id)
	return nil
}

// lookupError maps a store error for an authenticated principal. A
// missing row means the token outlived its account.
func (s *UserService) lookupError(id string, err error) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		s.logger.Warn("authenticated principal not found", "user_id", id)
		return apperr.Wrap(apperr.KindNotFound, apperr.MessageUserNotFound, err)
	}
	return fmt.Errorf("user %s: %w", id, err)
}

func (s *UserService) hash(password string) (string, error) {
	start := time.Now()
	hash, err := s.hasher.Hash(password)
	s.metrics.ObserveHashDuration(time.Since(start))
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

func (s *UserService) verify(password, stored string) (bool, error) {
	start := time.Now()
	ok, err := s.hasher.Verify(password, stored)
	s.metrics.ObserveHashDuration(time.Since(start))
	return ok, err
}

func (s *UserService) publish(eventType messaging.EventType, userID string) {
	s.publisher.PublishAsync(messaging.NewEvent(eventType, userID, s.now()))
}

func unprocessable(err error) error {
	return apperr.Wrap(apperr.KindUnprocessable, err.Error(), err)
}
