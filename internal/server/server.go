// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer: it connects stores, services, handlers,
// middleware, and routes. Think of it as the control centre that decides:
// - Which backend stores users and tokens (SQLite or Postgres, Redis or nothing)
// - Which URL patterns map to which handler functions
// - Which access tier guards which route
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → New() opens the store (+ optional token cache)
//	store → TokenRegistry → AuthService / AccountService / DirectoryService
//	services → handlers → routes
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/config"
	"github.com/sakif/accounts/internal/handler"
	"github.com/sakif/accounts/internal/metrics"
	"github.com/sakif/accounts/internal/middleware"
	"github.com/sakif/accounts/internal/repository"
	pgRepo "github.com/sakif/accounts/internal/repository/postgres"
	redisRepo "github.com/sakif/accounts/internal/repository/redis"
	sqliteRepo "github.com/sakif/accounts/internal/repository/sqlite"
	"github.com/sakif/accounts/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store and the optional token cache. Both are closed
// when Start returns, after in-flight requests have drained.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	store  repository.Store
	cache  repository.TokenCache // nil when REDIS_URL is unset
}

// New opens the configured store and token cache and wires the router.
//
// IMPORT ALIASES:
// We import repository/sqlite as `sqliteRepo` (and friends) to avoid confusion
// with the driver packages of the same name.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var cache repository.TokenCache
	if cfg.RedisURL != "" {
		rc, err := redisRepo.New(ctx, cfg.RedisURL, cfg.TokenCacheTTL)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("opening token cache: %w", err)
		}
		cache = rc
		logger.Info("token cache enabled", slog.Duration("ttl", cfg.TokenCacheTTL))
	}

	return NewWithDeps(cfg, logger, store, cache), nil
}

// OpenStore picks the backend by DB_DRIVER. Both backends run their embedded
// migrations before the server accepts traffic.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		db, err := pgRepo.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating postgres: %w", err)
		}
		return db, nil

	default:
		// Ensure the data directory exists.
		// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
		if cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
		return db, nil
	}
}

// NewWithDeps wires a server around an already-open store and cache (cache
// may be nil). Tests use it with an in-memory SQLite store.
func NewWithDeps(cfg *config.Config, logger *slog.Logger, store repository.Store, cache repository.TokenCache) *Server {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  store,
		cache:  cache,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE (under API_PREFIX, default /api; trailing slashes optional):
//
//	POST  /register/          open
//	POST  /login/             open
//	POST  /logout/            authenticated
//	GET   /profile/           authenticated
//	PATCH /profile/           authenticated
//	PUT   /profile/           authenticated
//	POST  /change-password/   authenticated
//	GET   /users/             authenticated
//	GET   /users/{id}/        authenticated
//	GET   /admin/users/       admin
//
// Outside the prefix: GET /healthz, GET /metrics (when enabled).
//
// MIDDLEWARE ORDER MATTERS:
// Middleware executes in the order it's added:
// 1. RequestID: tags each request (and its log line) with an id
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request with timing info
// 4. Recoverer: catches panics and returns 500 instead of crashing
// 5. metrics, CORS, StripSlashes
// 6. auth.Identify on the API router, then auth.Require per route group
func (s *Server) setupRoutes() {
	r := s.router

	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)

	var recorder service.Recorder
	var registry *prometheus.Registry
	if s.config.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector := metrics.NewCollector(registry)
		recorder = collector
		r.Use(collector.Middleware)
	}

	if len(s.config.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader},
			MaxAge:         300,
		}))
	}

	// "/api/login/" and "/api/login" are the same route.
	r.Use(chimiddleware.StripSlashes)

	r.NotFound(handler.HandleNotFound)
	r.MethodNotAllowed(handler.HandleMethodNotAllowed)

	// === Services ===
	// Notice: the handlers never touch the store directly, and the services
	// never touch HTTP.
	tokens := service.NewTokenRegistry(s.store, s.cache, s.logger).WithRecorder(recorder)
	passwords := auth.NewPasswordService(s.config.BcryptCost)
	policy := auth.DefaultPolicy(s.config.PasswordMinLength)

	authService := service.NewAuthService(s.store, tokens, passwords, policy, s.logger).WithRecorder(recorder)
	accountService := service.NewAccountService(s.store.Users(), s.logger)
	directoryService := service.NewDirectoryService(s.store.Users())

	authHandler := handler.NewAuthHandler(authService, s.logger)
	accountHandler := handler.NewAccountHandler(accountService, s.logger)
	directoryHandler := handler.NewDirectoryHandler(directoryService)
	healthHandler := handler.NewHealthHandler(s.store, s.logger)

	// === Operational Routes ===
	r.Get("/healthz", healthHandler.HandleHealth)
	if registry != nil {
		r.Handle("/metrics", metrics.Handler(registry))
	}

	// === API Routes ===
	api := chi.NewRouter()
	api.NotFound(handler.HandleNotFound)
	api.MethodNotAllowed(handler.HandleMethodNotAllowed)

	// Resolve the caller once per request. Only a broken lookup rejects here.
	api.Use(auth.Identify(authService, handler.WriteError))

	// Open
	api.Post("/register", authHandler.HandleRegister)
	api.Post("/login", authHandler.HandleLogin)

	// Authenticated
	api.Group(func(r chi.Router) {
		r.Use(auth.Require(auth.TierAuthenticated, handler.WriteError))

		r.Post("/logout", authHandler.HandleLogout)
		r.Post("/change-password", authHandler.HandleChangePassword)

		r.Get("/profile", accountHandler.HandleGetProfile)
		r.Patch("/profile", accountHandler.HandleUpdateProfile)
		r.Put("/profile", accountHandler.HandleUpdateProfile)

		r.Get("/users", directoryHandler.HandleList)
		r.Get("/users/{id}", directoryHandler.HandleDetail)
	})

	// Admin
	api.Group(func(r chi.Router) {
		r.Use(auth.Require(auth.TierAdmin, handler.WriteError))

		r.Get("/admin/users", directoryHandler.HandleAdminList)
	})

	prefix := s.config.APIPrefix
	if prefix == "" {
		prefix = "/"
	}
	r.Mount(prefix, api)
}

// Handler exposes the router, for tests and for embedding in another server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the store and the token cache.
func (s *Server) Close() error {
	var errs []error
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing token cache: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	return errors.Join(errs...)
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the token cache and the store (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	// Create the HTTP server with sensible timeouts
	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to receive OS signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	// Channel to receive server errors
	serverErrors := make(chan error, 1)

	// Start the server in a goroutine (so it doesn't block)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("apiPrefix", s.config.APIPrefix),
			slog.String("driver", s.config.DBDriver),
			slog.Bool("tokenCache", s.cache != nil),
			slog.Bool("metrics", s.config.MetricsEnabled),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give in-flight requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
