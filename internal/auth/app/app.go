package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/gatekeeper/internal/auth/http"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/notify"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/service"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	redisstore "github.com/aussiebroadwan/gatekeeper/internal/auth/store/drivers/redis"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
	"github.com/redis/go-redis/v9"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the gatekeeper service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db         *sqlite.Store
	ephemeral  store.Ephemeral
	keyManager *jwtx.KeyManager
	hasher     *cryptox.Argon2Hasher
	sealer     *cryptox.Sealer
	notifier   service.Notifier
	lockout    service.LockoutPolicy

	// Services
	authService         *service.AuthService
	mfaService          *service.MFAService
	accountService      *service.AccountService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "gatekeeper",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	steps, err := service.ParseLockoutSchedule(cfg.LockoutSchedule)
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_LOCKOUT_SCHEDULE: %w", err)
	}
	app.lockout = service.LockoutPolicy{Steps: steps, FailureWindow: cfg.LockoutWindow}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initEphemeral(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initSecrets(); err != nil {
		app.closeStores()
		return nil, err
	}
	if err := app.initNotifier(); err != nil {
		app.closeStores()
		return nil, err
	}

	keyManager, err := InitAuthKeys(app.cfg, app.logger)
	if err != nil {
		app.closeStores()
		return nil, fmt.Errorf("failed to initialize JWT keys: %w", err)
	}
	app.keyManager = keyManager

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("gatekeeper starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gatekeeper...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if app.ephemeral != store.Ephemeral(app.db) {
		if err := app.ephemeral.Close(); err != nil {
			app.logger.Error("error closing ephemeral store", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("gatekeeper stopped")
	return nil
}

func (app *Application) closeStores() {
	if app.ephemeral != nil && app.ephemeral != store.Ephemeral(app.db) {
		_ = app.ephemeral.Close()
	}
	_ = app.db.Close()
}

// initDatabase opens the SQLite store and applies migrations.
func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(app.cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "path", app.cfg.DatabaseFile)
	return nil
}

// initEphemeral selects where challenges and lockout counters live. Redis
// lets several instances share them.
func (app *Application) initEphemeral() error {
	switch app.cfg.EphemeralStore {
	case "", "sqlite":
		app.ephemeral = app.db
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
		})
		eph := redisstore.NewStore(rdb, redisstore.Options{
			Retention:  app.cfg.ChallengeTTL,
			LockoutTTL: app.cfg.LockoutWindow,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eph.Ping(ctx); err != nil {
			_ = eph.Close()
			return fmt.Errorf("failed to connect to redis at %s: %w", app.cfg.RedisAddr, err)
		}
		app.ephemeral = eph
	default:
		return fmt.Errorf("unknown AUTH_EPHEMERAL_STORE %q (want sqlite or redis)", app.cfg.EphemeralStore)
	}

	app.logger.Info("ephemeral store ready", "backend", app.cfg.EphemeralStore)
	return nil
}

// initSecrets loads the hashing pepper and the TOTP sealing key, creating
// both files on first start.
func (app *Application) initSecrets() error {
	pepper, err := cryptox.LoadOrCreatePepper(app.cfg.PepperFile)
	if err != nil {
		return err
	}
	app.hasher = cryptox.NewArgon2Hasher(pepper)

	sealer, err := cryptox.LoadOrCreateSealer(app.cfg.MasterKeyFile)
	if err != nil {
		return err
	}
	app.sealer = sealer
	return nil
}

func (app *Application) initNotifier() error {
	switch app.cfg.Notifier {
	case "", "log":
		if app.cfg.Env == "prod" {
			app.logger.Warn("log notifier writes one-time codes to the log, do not use in production")
		}
		app.notifier = &notify.LogNotifier{Logger: app.logger}
	case "webhook":
		n, err := notify.NewWebhookNotifier(app.cfg.NotifierWebhookURL, app.cfg.NotifierWebhookToken)
		if err != nil {
			return err
		}
		app.notifier = n
	default:
		return fmt.Errorf("unknown AUTH_NOTIFIER %q (want log or webhook)", app.cfg.Notifier)
	}
	return nil
}

// initServices wires the business logic services.
func (app *Application) initServices() {
	lockout := &service.LockoutTracker{
		Lockouts: app.ephemeral.Lockouts(),
		Policy:   app.lockout,
	}
	credentials := &service.CredentialVerifier{
		Accounts: app.db.Accounts(),
		Lockout:  lockout,
		Hasher:   app.hasher,
	}
	tokens := &service.TokenService{
		KeyManager: app.keyManager,
		Store:      app.db,
		Issuer:     app.cfg.Issuer,
		AccessTTL:  app.cfg.AccessTTL,
		RefreshTTL: app.cfg.RefreshTTL,
	}

	app.authService = &service.AuthService{
		Credentials: credentials,
		TwoFactor: &service.TwoFactorManager{
			Challenges:  app.ephemeral.Challenges(),
			Accounts:    app.db.Accounts(),
			Tokens:      tokens,
			Notifier:    app.notifier,
			Sealer:      app.sealer,
			CodeTTL:     app.cfg.ChallengeTTL,
			MaxAttempts: app.cfg.ChallengeAttempts,
		},
		Tokens: tokens,
		Reset: &service.PasswordResetManager{
			Accounts:    app.db.Accounts(),
			Challenges:  app.ephemeral.Challenges(),
			Credentials: credentials,
			Lockout:     lockout,
			Tokens:      tokens,
			Notifier:    app.notifier,
			CodeTTL:     app.cfg.ResetTTL,
			MaxAttempts: app.cfg.ChallengeAttempts,
		},
		Audit: app.db.AuditEvents(),
	}
	app.mfaService = &service.MFAService{
		Accounts: app.db.Accounts(),
		Sealer:   app.sealer,
		Issuer:   app.cfg.Issuer,
	}
	app.accountService = &service.AccountService{
		Accounts: app.db.Accounts(),
		Hasher:   app.hasher,
		Tokens:   tokens,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.ephemeral,
		app.logger,
		app.cfg.HousekeepingInterval,
		service.Retention{
			// Past the refresh TTL no token can match a ledger row any more.
			Revocations: app.cfg.RefreshTTL + time.Hour,
			Challenges:  app.cfg.ChallengeTTL,
			Lockouts:    app.cfg.LockoutWindow,
			AuditEvents: 90 * 24 * time.Hour,
		},
	)
}

// initHTTP creates the router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keyManager.KeySet(),
		app.keyManager.Verifier(),
		BuildVersion,
		app.db,
		app.ephemeral,
		app.logger,
	)

	router.AuthService = app.authService
	router.MFAService = app.mfaService
	router.AccountService = app.accountService
	router.AdminToken = app.cfg.AdminToken
	router.ApplyRoutes()

	if app.cfg.AdminToken == "" {
		app.logger.Warn("AUTH_ADMIN_TOKEN not set, account provisioning endpoints are disabled")
	}

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
