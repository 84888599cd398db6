package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/lilofinance/usermanager/internal/apperr"
	"github.com/lilofinance/usermanager/internal/respond"
)

// Recoverer is a middleware that recovers from panics. The panic and stack
// are logged and the client receives the generic 500 body.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				logger.Error("panic recovered",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.Any("panic", rvr),
					slog.String("stack", string(debug.Stack())),
				)

				respond.Status(w, http.StatusInternalServerError, apperr.MessageInternal)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
