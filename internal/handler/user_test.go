package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lilofinance/usermanager/internal/apperr"
	"github.com/lilofinance/usermanager/internal/model"
)

func sampleUser() *model.User {
	ts := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	return &model.User{
		ID:           "01HZXUSER",
		Email:        "ada@example.com",
		PasswordHash: "$2a$12$secretsecretsecretsecretsecretsecretsecretsecretsecr",
		FullName:     "Ada Lovelace",
		Role:         model.RoleUser,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
}

type userEnvelope struct {
	Status string             `json:"status"`
	Data   model.UserResponse `json:"data"`
}

func TestUserHandler_GetMe(t *testing.T) {
	t.Parallel()

	svc := &fakeAccounts{user: sampleUser()}
	h := NewUserHandler(svc, discardLogger())

	rec := httptest.NewRecorder()
	h.GetMe(rec, asPrincipal(jsonRequest(http.MethodGet, "/api/v1/users/me", ""), "01HZXUSER"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "01HZXUSER", svc.gotID)
	assert.NotContains(t, rec.Body.String(), "password", "hash must never be serialized")

	var body userEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, "ada@example.com", body.Data.Email)
	assert.Equal(t, model.RoleUser, body.Data.Role)
}

func TestUserHandler_GetMeNotFound(t *testing.T) {
	t.Parallel()

	svc := &fakeAccounts{err: apperr.New(apperr.KindNotFound, apperr.MessageUserNotFound)}
	h := NewUserHandler(svc, discardLogger())

	rec := httptest.NewRecorder()
	h.GetMe(rec, asPrincipal(jsonRequest(http.MethodGet, "/api/v1/users/me", ""), "gone"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"details":{"status":404,"message":"User not found"}}`, rec.Body.String())
}

func TestUserHandler_UpdateMe(t *testing.T) {
	t.Parallel()

	svc := &fakeAccounts{user: sampleUser()}
	h := NewUserHandler(svc, discardLogger())

	rec := httptest.NewRecorder()
	h.UpdateMe(rec, asPrincipal(
		jsonRequest(http.MethodPatch, "/api/v1/users/me", `{"old_password":"a","new_password":"b"}`),
		"01HZXUSER",
	))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.gotPatch.OldPassword.Set)
	assert.Equal(t, "a", svc.gotPatch.OldPassword.Value)
	assert.Equal(t, "b", svc.gotPatch.NewPassword.Value)
	assert.False(t, svc.gotPatch.Email.Set)
}

func TestUserHandler_UpdateMeEmptyBody(t *testing.T) {
	t.Parallel()

	svc := &fakeAccounts{user: sampleUser()}
	h := NewUserHandler(svc, discardLogger())

	rec := httptest.NewRecorder()
	h.UpdateMe(rec, asPrincipal(jsonRequest(http.MethodPatch, "/api/v1/users/me", ""), "01HZXUSER"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.PatchUserRequest{}, svc.gotPatch)
}

func TestUserHandler_UpdateMeEmptyChunkedBody(t *testing.T) {
	t.Parallel()

	svc := &fakeAccounts{user: sampleUser()}
	h := NewUserHandler(svc, discardLogger())

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/me", strings.NewReader(""))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	h.UpdateMe(rec, asPrincipal(req, "01HZXUSER"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.PatchUserRequest{}, svc.gotPatch)
}

func TestUserHandler_UpdateMeRejectsRole(t *testing.T) {
	t.Parallel()

	svc := &fakeAccounts{user: sampleUser()}
	h := NewUserHandler(svc, discardLogger())

	rec := httptest.NewRecorder()
	h.UpdateMe(rec, asPrincipal(jsonRequest(http.MethodPatch, "/api/v1/users/me", `{"role":"admin"}`), "01HZXUSER"))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Zero(t, svc.calls)
}

func TestUserHandler_DeleteMe(t *testing.T) {
	t.Parallel()

	svc := &fakeAccounts{}
	h := NewUserHandler(svc, discardLogger())

	rec := httptest.NewRecorder()
	h.DeleteMe(rec, asPrincipal(jsonRequest(http.MethodDelete, "/api/v1/users/me", ""), "01HZXUSER"))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "01HZXUSER", svc.gotID)
}

func TestUserHandler_DeleteMeTwice(t *testing.T) {
	t.Parallel()

	svc := &fakeAccounts{err: apperr.New(apperr.KindNotFound, apperr.MessageUserNotFound)}
	h := NewUserHandler(svc, discardLogger())

	rec := httptest.NewRecorder()
	h.DeleteMe(rec, asPrincipal(jsonRequest(http.MethodDelete, "/api/v1/users/me", ""), "01HZXUSER"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
