package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lilofinance/usermanager/internal/apperr"
	"github.com/lilofinance/usermanager/internal/auth"
	"github.com/lilofinance/usermanager/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	issuedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens, err := auth.NewTokenService([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	token, err := tokens.Issue("01HZXUSER", issuedAt)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		now        time.Time
		wantStatus int
		wantReason string
	}{
		{"valid token", "Bearer " + token.Value, issuedAt.Add(time.Minute), http.StatusOK, ""},
		{"lower-case scheme", "bearer " + token.Value, issuedAt.Add(time.Minute), http.StatusOK, ""},
		{"missing header", "", issuedAt, http.StatusUnauthorized, "missing_token"},
		{"basic scheme", "Basic dXNlcjpwYXNz", issuedAt, http.StatusUnauthorized, "malformed_header"},
		{"garbage token", "Bearer not-a-jwt", issuedAt, http.StatusUnauthorized, "invalid_token"},
		{"expired token", "Bearer " + token.Value, issuedAt.Add(2 * time.Hour), http.StatusUnauthorized, "expired"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			recorder := metrics.NewInMemory()
			now := tt.now
			mw := Authenticate(AuthConfig{
				Logger:        discardLogger(),
				Authenticator: auth.NewAuthenticator(tokens, func() time.Time { return now }),
				Metrics:       recorder,
			})

			var gotPrincipal string
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPrincipal = auth.MustPrincipalFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			if tt.wantStatus == http.StatusOK {
				if gotPrincipal != "01HZXUSER" {
					t.Errorf("principal = %q, want 01HZXUSER", gotPrincipal)
				}
				return
			}

			if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
				t.Errorf("WWW-Authenticate = %q", got)
			}
			want := `{"details":{"status":401,"message":"Unauthorized"}}`
			if got := strings.TrimSpace(rec.Body.String()); got != want {
				t.Errorf("body = %s, want %s", got, want)
			}
			if got := recorder.Snapshot().AuthFailures[tt.wantReason]; got != 1 {
				t.Errorf("auth failures[%s] = %d, want 1", tt.wantReason, got)
			}
		})
	}
}

func TestAuthenticate_LogsReasonNotToken(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tokens, err := auth.NewTokenService([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	mw := Authenticate(AuthConfig{
		Logger:        slog.New(slog.NewJSONHandler(&buf, nil)),
		Authenticator: auth.NewAuthenticator(tokens, nil),
	})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer forged.token.value")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, `"reason":"invalid_token"`) {
		t.Errorf("reason not logged: %s", out)
	}
	if strings.Contains(out, "forged.token.value") {
		t.Error("token value must not be logged")
	}
}

func TestAuthFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want apperr.Kind
	}{
		{auth.ErrMissingToken, apperr.KindMissingToken},
		{auth.ErrMalformedHeader, apperr.KindMalformedHeader},
		{fmt.Errorf("%w: signature is invalid", auth.ErrInvalidToken), apperr.KindInvalidToken},
		{fmt.Errorf("%w: token is expired", auth.ErrTokenExpired), apperr.KindExpired},
		{errors.New("something else"), apperr.KindInvalidToken},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.want.String(), func(t *testing.T) {
			failure := authFailure(tt.err)
			if failure.Kind != tt.want {
				t.Errorf("kind = %s, want %s", failure.Kind, tt.want)
			}
			if !errors.Is(failure, tt.err) {
				t.Error("cause not wrapped")
			}
			status, message := apperr.Public(failure)
			if status != http.StatusUnauthorized || message != apperr.MessageUnauthorized {
				t.Errorf("public = %d %q", status, message)
			}
		})
	}
}
