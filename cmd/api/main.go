// Package main is the entrypoint for the user management API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/lilofinance/usermanager/internal/auth"
	"github.com/lilofinance/usermanager/internal/cache"
	"github.com/lilofinance/usermanager/internal/config"
	"github.com/lilofinance/usermanager/internal/handler"
	"github.com/lilofinance/usermanager/internal/logging"
	"github.com/lilofinance/usermanager/internal/messaging"
	"github.com/lilofinance/usermanager/internal/metrics"
	"github.com/lilofinance/usermanager/internal/middleware"
	"github.com/lilofinance/usermanager/internal/repository"
	"github.com/lilofinance/usermanager/internal/server"
	"github.com/lilofinance/usermanager/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With("service", "usermanager")
	slog.SetDefault(logger)

	if cfg.MigrateOnStart {
		if err := repository.Migrate(ctx, cfg.DatabaseURL); err != nil {
			logger.Error("failed to run migrations", slog.String("error", sanitizeError(err, cfg.DatabaseURL)))
			os.Exit(1)
		}
		logger.Info("database migrations applied")
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL, repository.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	var cacheClient *cache.Cache
	if cfg.RedisURL != "" {
		cacheClient, err = cache.New(ctx, cfg.RedisURL, cache.Options{
			PoolSize:  cfg.RedisPoolSize,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			os.Exit(1)
		}
		logger.Info("connected to Redis")
	}
	if !cfg.RateLimitEnabled() {
		logger.Warn("login rate limiting disabled; set REDIS_URL and RATE_LIMIT_LOGIN_PER_MINUTE")
	}

	metricsRecorder := metrics.NewInMemory()

	tokens, err := newTokenService(cfg, logger)
	if err != nil {
		logger.Error("failed to create token service", "error", err)
		os.Exit(1)
	}

	hasher, err := auth.NewHasher(cfg.PasswordScheme, cfg.BcryptCost)
	if err != nil {
		logger.Error("failed to create password hasher", "error", err)
		os.Exit(1)
	}

	var (
		messenger *messaging.Messenger
		publisher messaging.EventPublisher = messaging.NoopPublisher{}
		kafkaPub  *messaging.KafkaPublisher
	)
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		messenger, err = messaging.New(ctx, messaging.Config{
			Brokers: brokers,
			Topic:   cfg.KafkaTopic,
			Logger:  logger,
		})
		if err != nil {
			logger.Error("failed to connect to Kafka", "error", err)
			os.Exit(1)
		}
		kafkaPub = messaging.NewKafkaPublisher(messenger, logger, metricsRecorder)
		publisher = kafkaPub
		logger.Info("publishing user events", "topic", cfg.KafkaTopic)
	} else {
		logger.Warn("KAFKA_BROKERS not set; user events are discarded")
	}

	userService, err := service.NewUserService(repo, hasher, tokens, publisher, logger, metricsRecorder)
	if err != nil {
		logger.Error("failed to create user service", "error", err)
		os.Exit(1)
	}

	var (
		redisChecker handler.HealthChecker
		limiter      middleware.LoginLimiter
	)
	if cacheClient != nil {
		redisChecker = cacheClient
		limiter = cacheClient
	}

	r := setupRouter(routerDeps{
		cfg:           cfg,
		logger:        logger,
		accounts:      userService,
		authenticator: auth.NewAuthenticator(tokens, nil),
		repo:          repo,
		redis:         redisChecker,
		limiter:       limiter,
		metrics:       metricsRecorder,
	})

	srv := server.New(r, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Registered first, closed last.
	srv.OnShutdown("database", func(context.Context) error {
		repo.Close()
		return nil
	})
	if cacheClient != nil {
		srv.OnShutdown("redis", func(context.Context) error { return cacheClient.Close() })
	}
	if messenger != nil {
		srv.OnShutdown("kafka", func(context.Context) error { return messenger.Close() })
		srv.OnShutdown("event publisher", kafkaPub.Shutdown)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"version", version,
		"token_ttl", tokens.TTL().String(),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// newTokenService builds the token service from SECRET_KEY, or from a random
// secret outside production.
func newTokenService(cfg *config.Config, logger *slog.Logger) (*auth.TokenService, error) {
	secret := []byte(cfg.SecretKey)
	if len(secret) == 0 {
		generated, err := auth.GenerateSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
		logger.Warn("SECRET_KEY not set; using a random secret, tokens will not survive a restart")
	}
	return auth.NewTokenService(secret, cfg.TokenTTL)
}

type routerDeps struct {
	cfg           *config.Config
	logger        *slog.Logger
	accounts      handler.AccountService
	authenticator middleware.HeaderAuthenticator
	repo          handler.HealthChecker
	redis         handler.HealthChecker
	limiter       middleware.LoginLimiter
	metrics       *metrics.InMemoryRecorder
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(d routerDeps) *chi.Mux {
	r := chi.NewRouter()

	// RealIP rewrites RemoteAddr from client-supplied headers, and the login
	// limiter keys on RemoteAddr. It must only run behind a trusted proxy.
	if d.cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.logger))
	r.Use(middleware.Recoverer(d.logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: d.cfg.IsDevelopment()}))

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = d.cfg.GetCORSAllowedOrigins()
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(d.cfg.MaxRequestBodySize))

	h := handler.New(version)
	authHandler := handler.NewAuthHandler(d.accounts, d.logger)
	userHandler := handler.NewUserHandler(d.accounts, d.logger)

	var limiter middleware.LoginLimiter
	if d.cfg.RateLimitEnabled() {
		limiter = d.limiter
	}
	healthHandler := handler.NewHealthHandler(d.logger,
		handler.Dependency{Name: "postgres", Checker: d.repo},
		handler.Dependency{Name: "redis", Checker: d.redis, Optional: true},
	)

	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)
	r.Get("/metrics", handler.NewMetricsHandler(d.metrics).Metrics)

	authenticate := middleware.Authenticate(middleware.AuthConfig{
		Logger:        d.logger,
		Authenticator: d.authenticator,
		Metrics:       d.metrics,
	})

	loginLimit := middleware.RateLimitLogin(middleware.RateLimitConfig{
		Logger:    d.logger,
		Limiter:   limiter,
		Metrics:   d.metrics,
		PerMinute: d.cfg.RateLimitLoginPerMinute,
		Burst:     d.cfg.RateLimitLoginBurst,
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", h.Version)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.Signup)
			r.With(loginLimit).Post("/login", authHandler.Login)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(authenticate)
			r.Get("/me", userHandler.GetMe)
			r.Patch("/me", userHandler.UpdateMe)
			r.Delete("/me", userHandler.DeleteMe)
		})
	})

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
