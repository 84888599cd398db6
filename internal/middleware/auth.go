package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/lilofinance/usermanager/internal/apperr"
	"github.com/lilofinance/usermanager/internal/auth"
	"github.com/lilofinance/usermanager/internal/metrics"
	"github.com/lilofinance/usermanager/internal/respond"
)

// HeaderAuthenticator resolves an Authorization header to a principal id.
// *auth.Authenticator implements it.
type HeaderAuthenticator interface {
	Authenticate(header string) (string, error)
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger        *slog.Logger
	Authenticator HeaderAuthenticator
	Metrics       metrics.Recorder
}

// Authenticate returns a middleware that requires a valid bearer token.
// On success the principal id is stored in the request context. Every
// failure produces the same 401 body; the reason is only logged.
func Authenticate(cfg AuthConfig) func(http.Handler) http.Handler {
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID, err := cfg.Authenticator.Authenticate(r.Header.Get(auth.AuthorizationHeader))
			if err != nil {
				failure := authFailure(err)
				reason := auth.FailureReason(err)
				recorder.IncAuthFailure(reason)
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", reason),
					slog.String("ip", r.RemoteAddr),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				respond.Error(w, failure)
				return
			}

			ctx := auth.ContextWithPrincipal(r.Context(), principalID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authFailure classifies a pipeline error. Unrecognized errors count as an
// invalid token.
func authFailure(err error) *apperr.Error {
	kind := apperr.KindInvalidToken
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		kind = apperr.KindMissingToken
	case errors.Is(err, auth.ErrMalformedHeader):
		kind = apperr.KindMalformedHeader
	case errors.Is(err, auth.ErrTokenExpired):
		kind = apperr.KindExpired
	}
	return apperr.Wrap(kind, apperr.MessageUnauthorized, err)
}
