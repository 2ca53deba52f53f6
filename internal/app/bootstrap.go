package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"simpletask-backend/internal/auth"
	"simpletask-backend/internal/cache"
	"simpletask-backend/internal/db"
	"simpletask-backend/internal/maintenance"
	"simpletask-backend/internal/observability"
	"simpletask-backend/internal/tag"
	"simpletask-backend/internal/task"
	"simpletask-backend/internal/user"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()
	if EnvBoolOrDefault("LOG_DEBUG", false) {
		logger = observability.NewDebugLogger()
	}

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	redisURL, err := mustEnv("REDIS_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	redisCache, err := cache.NewFromURL(redisURL, envSecondsOrDefault("REDIS_OP_TIMEOUT_SECONDS", 2))
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("open redis: %w", err)
	}
	if err := redisCache.Ping(context.Background()); err != nil {
		_ = database.Close()
		_ = redisCache.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	codec, err := auth.NewTokenCodec(jwtSecret, envOrDefault("JWT_ALGORITHM", "HS256"))
	if err != nil {
		_ = database.Close()
		_ = redisCache.Close()
		return nil, fmt.Errorf("init token codec: %w", err)
	}

	authRepo := auth.NewRepository(database)
	hasher := auth.NewHasher(auth.DefaultHasherConfig())
	revocations := auth.NewRevocationStore(redisCache, logger)
	limiter := auth.NewRateLimiter(redisCache, logger, EnvBoolOrDefault("RATE_LIMIT_FAIL_OPEN", true))

	authService := auth.NewService(
		authRepo,
		hasher,
		codec,
		revocations,
		limiter,
		&auth.LogResetTokenSink{Logger: logger},
		logger,
		auth.ServiceConfig{
			AccessTokenTTL:   envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
			RefreshTokenTTL:  envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
			ResetTokenTTL:    envMinutesOrDefault("RESET_TOKEN_TTL_MINUTES", 60),
			MaxLoginAttempts: envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
			LockoutDuration:  envMinutesOrDefault("LOGIN_LOCK_MINUTES", 30),
			LoginRateLimit:   envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
			LoginRateWindow:  envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
		},
	)
	authHandler := auth.NewHandler(authService)

	userHandler := user.NewHandler(user.NewRepository(database))

	taskRepo := task.NewRepository(database)
	taskHandler := task.NewHandler(taskRepo)

	tagRepo := tag.NewRepository(database)
	tagHandler := tag.NewHandler(tagRepo)

	cleanupHandler := maintenance.NewCleanupHandler(
		taskRepo,
		tagRepo,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("TASK_ARCHIVED_RETENTION_DAYS", 30),
		envDaysOrDefault("TAG_INACTIVE_RETENTION_DAYS", 30),
		envIntOrDefault("CLEANUP_BATCH_SIZE", 500),
	)

	protect := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(authService, h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", authHandler.Register)
	mux.HandleFunc("POST /auth/login", authHandler.Login)
	mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	mux.Handle("POST /auth/logout", protect(authHandler.Logout))
	mux.Handle("PUT /auth/password", protect(authHandler.ChangePassword))
	mux.HandleFunc("POST /auth/password-reset/request", authHandler.RequestPasswordReset)
	mux.HandleFunc("POST /auth/password-reset/confirm", authHandler.ConfirmPasswordReset)
	mux.Handle("GET /auth/me", protect(authHandler.Me))

	mux.Handle("GET /users/me", protect(userHandler.Get))
	mux.Handle("PUT /users/me", protect(userHandler.Update))
	mux.Handle("DELETE /users/me", protect(userHandler.Delete))

	mux.Handle("GET /tasks", protect(taskHandler.List))
	mux.Handle("POST /tasks", protect(taskHandler.Create))
	mux.Handle("GET /tasks/overdue", protect(taskHandler.Overdue))
	mux.Handle("PATCH /tasks/reorder", protect(taskHandler.Reorder))
	mux.Handle("GET /tasks/{id}", protect(taskHandler.Get))
	mux.Handle("PUT /tasks/{id}", protect(taskHandler.Update))
	mux.Handle("PATCH /tasks/{id}/status", protect(taskHandler.UpdateStatus))
	mux.Handle("DELETE /tasks/{id}", protect(taskHandler.Delete))

	mux.Handle("GET /tags", protect(tagHandler.List))
	mux.Handle("POST /tags", protect(tagHandler.Create))
	mux.Handle("GET /tags/{id}", protect(tagHandler.Get))
	mux.Handle("PUT /tags/{id}", protect(tagHandler.Update))
	mux.Handle("DELETE /tags/{id}", protect(tagHandler.Delete))

	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database, redisCache))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			_ = redisCache.Close()
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB, redisCache *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{
			"status":   "ok",
			"database": "ok",
			"redis":    "ok",
			"time":     time.Now().UTC().Format(time.RFC3339),
		}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = "unavailable"
		}
		if err := redisCache.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["redis"] = "unavailable"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
