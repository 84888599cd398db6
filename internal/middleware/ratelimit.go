package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/lilofinance/usermanager/internal/apperr"
	"github.com/lilofinance/usermanager/internal/cache"
	"github.com/lilofinance/usermanager/internal/metrics"
	"github.com/lilofinance/usermanager/internal/respond"
)

// LoginLimiter consumes one login attempt for an IP.
// *cache.Cache implements it.
type LoginLimiter interface {
	CheckLoginRateLimit(ctx context.Context, ip string, ratePerMinute, burst int) (*cache.RateLimitResult, error)
}

// RateLimitConfig holds configuration for the login rate limiter.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Limiter LoginLimiter
	Metrics metrics.Recorder
	// PerMinute is the sustained attempts per minute per IP. Zero disables
	// the limiter.
	PerMinute int
	Burst     int
}

// RateLimitLogin returns middleware that limits login attempts per client
// IP. A failing limiter lets the request through.
func RateLimitLogin(cfg RateLimitConfig) func(http.Handler) http.Handler {
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	return func(next http.Handler) http.Handler {
		if cfg.Limiter == nil || cfg.PerMinute <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			result, err := cfg.Limiter.CheckLoginRateLimit(r.Context(), ip, cfg.PerMinute, cfg.Burst)
			if err != nil {
				cfg.Logger.Error("login rate limit check failed",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, cfg.PerMinute, result.Remaining, result.ResetAt)

			if !result.Allowed {
				recorder.IncLogin(metrics.LoginRateLimited)
				cfg.Logger.Warn("rate limit exceeded",
					slog.String("type", "login"),
					slog.String("ip", ip),
					slog.Int64("retry_after_seconds", int64(result.RetryAfter.Seconds())),
					slog.String("request_id", GetRequestID(r.Context())),
				)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(result.RetryAfter)))
				respond.Status(w, http.StatusTooManyRequests, apperr.MessageTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// setRateLimitHeaders sets standard rate limit response headers.
func setRateLimitHeaders(w http.ResponseWriter, limit int, remaining int64, resetAt time.Time) {
	if limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(d.Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// clientIP returns the host part of RemoteAddr. Forwarded headers are
// trusted only through chi's RealIP middleware, which rewrites RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
