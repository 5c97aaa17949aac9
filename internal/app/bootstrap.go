package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"contacts-api/internal/auth"
	"contacts-api/internal/contacts"
	"contacts-api/internal/db"
	"contacts-api/internal/mail"
	"contacts-api/internal/maintenance"
	"contacts-api/internal/media"
	"contacts-api/internal/observability"
	"contacts-api/internal/users"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Config  Config
	Handler http.Handler
	Logger  *observability.Logger
	Cleaner *maintenance.Cleaner
	Close   func() error
}

// Build loads the configuration and wires every component. Close releases
// them in reverse order.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.Release); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		observability.FlushSentry()
		return errors.Join(errs...)
	}
	fail := func(err error) (*Runtime, error) {
		_ = closeAll()
		return nil, err
	}

	database, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxOpenConns:    cfg.DBPool.MaxOpenConns,
		MaxIdleConns:    cfg.DBPool.MaxIdleConns,
		ConnMaxLifetime: cfg.DBPool.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBPool.ConnMaxIdleTime,
	})
	if err != nil {
		return fail(err)
	}
	closers = append(closers, database.Close)

	if options.RunMigrations {
		if err := db.RunMigrations(ctx, database, logger); err != nil {
			return fail(fmt.Errorf("run migrations: %w", err))
		}
	}

	gormDB, err := db.NewGorm(database)
	if err != nil {
		return fail(err)
	}

	redisClient, err := newRedisClient(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	if redisClient != nil {
		closers = append(closers, redisClient.Close)
	}

	var (
		sessionCache auth.SessionCache
		hitCounter   auth.HitCounter
	)
	if redisClient != nil {
		sessionCache = auth.NewRedisSessionCache(redisClient, logger)
		hitCounter = auth.NewRedisHitCounter(redisClient)
	} else {
		sessionCache = auth.NewMemorySessionCache(cfg.SessionCache, auth.SessionCacheTTL)
		hitCounter = auth.NewMemoryHitCounter()
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		Secret:     cfg.JWTSecret,
		Algorithm:  cfg.JWTAlgorithm,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	if err != nil {
		return fail(err)
	}

	sender, err := newMailSender(cfg, logger)
	if err != nil {
		return fail(err)
	}
	notifier := mail.NewNotifier(sender, logger, metrics)
	closers = append(closers, func() error {
		notifier.Close()
		return nil
	})

	authRepo := auth.NewRepository(gormDB)
	authService := auth.NewService(authRepo, issuer, auth.NewBcryptHasher(cfg.BcryptCost), sessionCache, notifier)
	authService.WithCacheObserver(metrics)

	if err := authService.BootstrapAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return fail(fmt.Errorf("bootstrap admin: %w", err))
	}

	avatarStore, err := newAvatarStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	if avatarStore == nil {
		logger.Warn("avatar_store_disabled", map[string]any{"reason": "neither S3_BUCKET nor CLOUDINARY_URL is set"})
	}

	cleaner := maintenance.NewCleaner(authRepo, logger, metrics, cfg.CleanupBatchSize)

	handler := newRouter(routes{
		logger:   logger,
		metrics:  metrics,
		database: database,
		gate:     authService,
		auth:     auth.NewHandler(authService, cfg.PublicBaseURL),
		users:    users.NewHandler(authService, avatarStore),
		contacts: contacts.NewHandler(contacts.NewService(contacts.NewRepository(gormDB))),
		cleanup:  maintenance.NewCleanupHandler(cleaner, logger, cfg.CronSecret),
		loginLimiter: auth.NewLoginRateLimiter(
			hitCounter, logger, "login", cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow,
		),
		meLimiter: auth.NewLoginRateLimiter(
			hitCounter, logger, "me", cfg.MeRateLimitMax, cfg.MeRateLimitWindow,
		),
	})

	return &Runtime{
		Config:  cfg,
		Handler: handler,
		Logger:  logger,
		Cleaner: cleaner,
		Close:   closeAll,
	}, nil
}

type routes struct {
	logger       *observability.Logger
	metrics      *observability.Metrics
	database     *sql.DB
	gate         auth.Authenticator
	auth         *auth.Handler
	users        *users.Handler
	contacts     *contacts.Handler
	cleanup      *maintenance.CleanupHandler
	loginLimiter *auth.LoginRateLimiter
	meLimiter    *auth.LoginRateLimiter
}

func newRouter(rt routes) http.Handler {
	requireAuth := auth.RequireAuth(rt.gate)

	router := chi.NewRouter()
	router.Use(observability.RequestIDMiddleware)
	router.Use(func(next http.Handler) http.Handler {
		return observability.RecoverMiddleware(rt.logger, next)
	})
	router.Use(func(next http.Handler) http.Handler {
		return observability.RequestLoggingMiddleware(rt.logger, rt.metrics, next)
	})

	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not Found"})
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method Not Allowed"})
	})

	router.Route("/api", func(r chi.Router) {
		r.Get("/healthchecker", healthHandler(rt.database))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", rt.auth.Register)
			r.With(rt.loginLimiter.Middleware).Post("/login", rt.auth.Login)
			r.Post("/refresh-token", rt.auth.Refresh)
			r.With(requireAuth).Post("/logout", rt.auth.Logout)
			r.Get("/confirmed_email/{token}", rt.auth.ConfirmEmail)
			r.Post("/request_email", rt.auth.RequestEmail)
			r.Post("/request_password_reset", rt.auth.RequestPasswordReset)
			r.Post("/confirm_password_reset", rt.auth.ConfirmPasswordReset)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(requireAuth)
			r.With(rt.meLimiter.Middleware).Get("/me", rt.users.Me)
			r.With(auth.AdminOnly).Patch("/avatar", rt.users.UpdateAvatar)
		})

		r.With(requireAuth).Mount("/contacts", rt.contacts.Routes())
	})

	router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	router.Get("/internal/maintenance/cleanup", rt.cleanup.Handle)
	router.Post("/internal/maintenance/cleanup", rt.cleanup.Handle)

	return router
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		var one int
		if err := database.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil || one != 1 {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Error connecting to the database"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to contacts-api!"})
	}
}

// newRedisClient returns nil when Redis is not configured. An unreachable
// server is only logged: the cache and the rate limiter tolerate outages.
func newRedisClient(ctx context.Context, cfg Config, logger *observability.Logger) (*redis.Client, error) {
	var opts *redis.Options
	switch {
	case cfg.RedisURL != "":
		parsed, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	case cfg.RedisAddr != "":
		opts = &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	default:
		return nil, nil
	}

	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis_unreachable", map[string]any{"addr": opts.Addr, "error": err.Error()})
	}

	return client, nil
}

func newMailSender(cfg Config, logger *observability.Logger) (mail.Sender, error) {
	if cfg.Mail.Server == "" {
		return mail.NewLogSender(logger), nil
	}

	sender, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:           cfg.Mail.Server,
		Port:           cfg.Mail.Port,
		Username:       cfg.Mail.Username,
		Password:       cfg.Mail.Password,
		From:           cfg.Mail.From,
		FromName:       cfg.Mail.FromName,
		StartTLS:       cfg.Mail.StartTLS,
		ImplicitTLS:    cfg.Mail.SSLTLS,
		UseCredentials: cfg.Mail.UseCredentials,
		ValidateCerts:  cfg.Mail.ValidateCerts,
	})
	if err != nil {
		return nil, fmt.Errorf("init mail sender: %w", err)
	}
	return sender, nil
}

// newAvatarStore prefers S3 when a bucket is configured. It returns nil when
// no store is configured.
func newAvatarStore(ctx context.Context, cfg Config) (media.AvatarStore, error) {
	if cfg.S3.Bucket != "" {
		store, err := media.NewS3Store(ctx, media.S3Config{
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			UsePathStyle: cfg.S3.UsePathStyle,
			PublicURL:    cfg.S3.PublicURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 store: %w", err)
		}
		return store, nil
	}

	if cfg.CloudinaryURL != "" {
		store, err := media.NewCloudinary(cfg.CloudinaryURL, cfg.CloudinaryFolder)
		if err != nil {
			return nil, fmt.Errorf("init cloudinary: %w", err)
		}
		return store, nil
	}

	return nil, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
