package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/lilofinance/usermanager/internal/auth"
	"github.com/lilofinance/usermanager/internal/model"
)

// fakeAccounts records the last request and returns canned results.
type fakeAccounts struct {
	user  *model.User
	token auth.Token
	err   error

	gotSignup model.CreateUserRequest
	gotLogin  model.LoginRequest
	gotPatch  model.PatchUserRequest
	gotID     string
	calls     int
}

func (f *fakeAccounts) Signup(_ context.Context, req model.CreateUserRequest) (*model.User, error) {
	f.calls++
	f.gotSignup = req
	return f.user, f.err
}

func (f *fakeAccounts) Login(_ context.Context, req model.LoginRequest) (auth.Token, error) {
	f.calls++
	f.gotLogin = req
	return f.token, f.err
}

func (f *fakeAccounts) GetMe(_ context.Context, id string) (*model.User, error) {
	f.calls++
	f.gotID = id
	return f.user, f.err
}

func (f *fakeAccounts) UpdateMe(_ context.Context, id string, req model.PatchUserRequest) (*model.User, error) {
	f.calls++
	f.gotID = id
	f.gotPatch = req
	return f.user, f.err
}

func (f *fakeAccounts) DeleteMe(_ context.Context, id string) error {
	f.calls++
	f.gotID = id
	return f.err
}

func jsonRequest(method, target, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r, _ = http.NewRequest(method, target, nil)
	} else {
		r, _ = http.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	return r
}

func asPrincipal(r *http.Request, id string) *http.Request {
	return r.WithContext(auth.ContextWithPrincipal(r.Context(), id))
}
