package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekmate/portal/auth"
	"github.com/ekmate/portal/config"
	"github.com/ekmate/portal/credentials"
	"github.com/ekmate/portal/middleware"
	"github.com/ekmate/portal/services"
	"github.com/ekmate/portal/session"
	"github.com/ekmate/portal/views"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	Redis  *redis.Client // nil unless TOKEN_STORE=redis

	// Session
	Tokens     credentials.TokenStore
	AuthClient *services.AuthClient
	Sessions   *session.Store

	// Web
	Renderer    *views.Renderer
	Guard       *middleware.Guard
	authHandler *auth.Handler
}

// AuthHandler returns the auth handler for route wiring
func (d *Dependencies) AuthHandler() *auth.Handler {
	return d.authHandler
}

// NewDependencies creates and wires up all application dependencies. The
// session store is initialized before returning; enrichment of a stored
// token continues in the background.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initTokenStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize token store: %w", err)
	}

	deps.initSession(ctx, cfg)

	if err := deps.initWeb(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize views: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("token_store", string(cfg.TokenStore.Kind)),
		zap.String("backend", cfg.Backend.BaseURL))
	return deps, nil
}

// initTokenStore opens the configured token store
func (d *Dependencies) initTokenStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.TokenStore.Kind {
	case config.TokenStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.TokenStore.Redis.Addr,
			Password: cfg.TokenStore.Redis.Password,
			DB:       cfg.TokenStore.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("redis ping failed: %w", err)
		}

		d.Redis = client
		d.Tokens = credentials.NewRedisStore(client, cfg.TokenStore.Redis.Key)
		d.Logger.Info("redis token store connected", zap.String("addr", cfg.TokenStore.Redis.Addr))

	case config.TokenStoreMemory:
		d.Tokens = credentials.NewMemoryStore("")
		d.Logger.Warn("using in-memory token store, sessions will not survive a restart")

	default:
		path := cfg.TokenStore.File
		if path == "" {
			var err error
			if path, err = credentials.DefaultFilePath(); err != nil {
				return err
			}
		}
		store, err := credentials.NewFileStore(path)
		if err != nil {
			return err
		}
		d.Tokens = store
		d.Logger.Info("file token store ready", zap.String("path", store.Path()))
	}
	return nil
}

// initSession builds the auth client and session store and resolves any
// persisted token
func (d *Dependencies) initSession(ctx context.Context, cfg *config.Config) {
	d.AuthClient = services.NewAuthClient(cfg.Backend, d.Logger.Named("auth_client"))
	d.Sessions = session.New(d.Tokens, d.AuthClient, d.Logger.Named("session"))
	d.Sessions.Init(ctx)
}

// initWeb parses templates and builds the guards and sign-in handler
func (d *Dependencies) initWeb(cfg *config.Config) error {
	renderer, err := views.NewRenderer(views.Links{
		SignIn:    cfg.Routes.SignInPath,
		Dashboard: cfg.Routes.DashboardPath,
		Admin:     cfg.Routes.AdminPath,
		Logout:    LogoutPath,
	}, d.Logger)
	if err != nil {
		return err
	}
	d.Renderer = renderer

	d.Guard = middleware.NewGuard(d.Sessions, middleware.Paths{
		SignIn:    cfg.Routes.SignInPath,
		Dashboard: cfg.Routes.DashboardPath,
		Admin:     cfg.Routes.AdminPath,
	}, d.Logger.Named("guard"), middleware.WithLoadingView(renderer.Loading()))

	d.authHandler = auth.NewHandler(d.Sessions, renderer, cfg.Routes, d.Logger.Named("auth"))
	return nil
}

// LogoutPath is where the sign-out form posts
const LogoutPath = "/logout"

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Stop background enrichment
	if d.Sessions != nil {
		d.Sessions.Close()
	}

	// Close redis connection
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		} else {
			d.Logger.Info("redis connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}

	return nil
}
