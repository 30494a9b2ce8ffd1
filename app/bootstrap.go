package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"accessmate/internal/auth"
	"accessmate/internal/config"
	"accessmate/internal/db"
	"accessmate/internal/httpx"
	"accessmate/internal/maintenance"
	"accessmate/internal/marker"
	"accessmate/internal/media"
	"accessmate/internal/observability"
)

const loginIPLimitRetention = 24 * time.Hour

type Options struct {
	LoadDotEnv bool
}

type Runtime struct {
	Handler http.Handler
	Config  *config.Config
	Logger  *observability.Logger
	Close   func() error
}

// Build wires the whole API from the environment. The caller owns Runtime.Close.
func Build(ctx context.Context, options Options) (*Runtime, error) {
	cfg, err := config.Load(options.LoadDotEnv)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLoggerWithWriter(os.Stdout, cfg.LogFormat)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	closers := []func() error{database.Close}
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*Runtime, error) {
		_ = closeAll()
		return nil, err
	}

	if err := database.PingContext(ctx); err != nil {
		return fail(fmt.Errorf("ping database: %w", err))
	}

	if cfg.RunMigrationsOnStartup {
		if err := db.RunMigrations(ctx, database, logger.Slog()); err != nil {
			return fail(fmt.Errorf("run migrations: %w", err))
		}
	}

	healthChecks := map[string]HealthCheck{"database": database.PingContext}

	authRepo := auth.NewRepository(database, cfg.DBQueryTimeout)

	var limiterStore auth.RateLimitStore
	switch cfg.LoginLimiterBackend() {
	case "redis":
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("parse redis url: %w", err))
		}
		client := redis.NewClient(redisOpts)
		closers = append(closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
		limiterStore = auth.NewRedisRateLimitStore(client)
		healthChecks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	case "postgres":
		limiterStore = auth.RateLimitStoreFunc(authRepo.AllowLoginIP)
	default:
		limiterStore = auth.NewMemoryRateLimitStore()
	}

	hasher, err := auth.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		return fail(err)
	}
	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret:     cfg.JWTSecret,
		AccessTTL:  cfg.AccessTokenTTL(),
		RefreshTTL: cfg.RefreshTokenTTL(),
	})
	if err != nil {
		return fail(err)
	}
	authService := auth.NewService(authRepo, hasher, tokens).WithStrictRotation(cfg.RefreshRotationStrict)

	if err := authService.BootstrapAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminDisplayName); err != nil {
		return fail(fmt.Errorf("bootstrap admin: %w", err))
	}

	var uploader media.ImageUploader
	if cfg.S3Enabled() {
		s3Uploader, err := media.NewS3Uploader(ctx, media.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("init s3 uploader: %w", err))
		}
		uploader = s3Uploader
	} else {
		logger.Warn("image_uploads_disabled", map[string]any{"reason": "S3_BUCKET is not set"})
	}

	responder := httpx.NewResponder(logger, cfg.ExposeErrorDetails)
	metrics := observability.NewMetrics()

	loginLimiter := auth.NewLoginRateLimiter(limiterStore, cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow, responder, logger)

	handler := NewRouter(RouterDeps{
		Logger:     logger,
		Metrics:    metrics,
		Responder:  responder,
		Tokens:     tokens,
		LoginLimit: loginLimiter.Middleware,
		Auth: auth.NewHandler(authService, responder, logger, metrics, auth.HandlerConfig{
			RefreshTTL:   cfg.RefreshTokenTTL(),
			SecureCookie: cfg.IsProduction(),
		}),
		Markers: marker.NewHandler(marker.NewRepository(database, cfg.DBQueryTimeout), responder, logger),
		Media:   media.NewUploadHandler(uploader, responder, logger),
		Cleanup: maintenance.NewCleanupHandler(
			authRepo,
			responder,
			logger,
			cfg.CronSecret,
			loginIPLimitRetention,
			cfg.CleanupBatchSize,
		),
		HealthChecks:       healthChecks,
		RequestTimeout:     cfg.RequestTimeout,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustProxyHeaders:  cfg.TrustProxyHeaders,
	})

	logger.Info("app_ready", map[string]any{
		"env":           cfg.AppEnv,
		"login_limiter": cfg.LoginLimiterBackend(),
		"uploads":       uploader != nil,
	})

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			return closeAll()
		},
	}, nil
}
