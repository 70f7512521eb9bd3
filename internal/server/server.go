// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware and
// routes, and decides:
//   - Which URL patterns map to which handler functions
//   - What middleware runs on which routes
//   - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	main.go creates:  config → logger → sqlite.DB, catalog.Client
//	server.New wires: TokenService, PasswordService
//	                  → AuthService, WatchlistService
//	                  → AuthHandler, MovieHandler, WatchlistHandler
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
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/movie-watchlist/internal/auth"
	"github.com/sakif/movie-watchlist/internal/config"
	"github.com/sakif/movie-watchlist/internal/handler"
	"github.com/sakif/movie-watchlist/internal/middleware"
	sqliteRepo "github.com/sakif/movie-watchlist/internal/repository/sqlite"
	"github.com/sakif/movie-watchlist/internal/service"
)

// Catalog is the movie metadata source. *catalog.Client satisfies it; tests
// substitute a fake.
type Catalog interface {
	handler.MovieCatalog
}

// Options carries everything New needs. Passwords is optional and defaults
// to a PasswordService at Config.Auth.BcryptCost.
type Options struct {
	Config    *config.Config
	Logger    *slog.Logger
	DB        *sqliteRepo.DB
	Catalog   Catalog
	Passwords *auth.PasswordService
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection. Start closes it after the HTTP
// server has drained, so no request can see a closed database.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New creates a Server and wires the full dependency graph.
//
// IMPORT ALIAS:
// repository/sqlite is imported as sqliteRepo to avoid confusion with the
// sqlite driver package.
func New(opts Options) (*Server, error) {
	if opts.Config == nil || opts.DB == nil || opts.Catalog == nil {
		return nil, errors.New("server: config, database and catalog are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		router: chi.NewRouter(),
		config: opts.Config,
		logger: opts.Logger,
		db:     opts.DB,
	}

	if err := s.setupRoutes(opts); err != nil {
		return nil, fmt.Errorf("server: setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /api/health                    → liveness + database ping
//	POST   /api/auth/signup               → create account, returns token
//	POST   /api/auth/login                → returns token
//	GET    /api/movies/trending           → catalog passthrough
//	GET    /api/movies/search             → catalog passthrough
//	GET    /api/movies/{id}               → catalog passthrough
//	GET    /api/watchlist                 → [bearer] list
//	POST   /api/watchlist                 → [bearer] add (idempotent)
//	PUT    /api/watchlist/{movieId}/toggle → [bearer] flip watched
//	DELETE /api/watchlist/{movieId}        → [bearer] remove
//	GET    /metrics                       → Prometheus
//	GET    /*                             → SPA bundle, if configured
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: unique id per request, picked up by the logger
//  2. RealIP: client IP from proxy headers, used by the rate limiter
//  3. Logger: one line per request
//  4. Recoverer: a panic becomes a 500 instead of a crash, and is logged
//  5. Metrics: count and latency per route pattern
//  6. CORS: answers preflights before any handler runs
func (s *Server) setupRoutes(opts Options) error {
	cfg := s.config

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret,
		auth.WithTTL(cfg.Auth.TokenTTL),
		auth.WithIssuer(cfg.Auth.Issuer),
	)
	if err != nil {
		return err
	}

	passwords := opts.Passwords
	if passwords == nil {
		passwords, err = auth.NewPasswordService(cfg.Auth.BcryptCost)
		if err != nil {
			return err
		}
	}

	// s.db implements both repository interfaces. Services receive the
	// interfaces, handlers receive the services.
	authService := service.NewAuthService(s.db, tokens, passwords, s.logger)
	watchlistService := service.NewWatchlistService(s.db, opts.Catalog, s.logger)

	authHandler := handler.NewAuthHandler(authService, s.logger)
	movieHandler := handler.NewMovieHandler(opts.Catalog, s.logger)
	watchlistHandler := handler.NewWatchlistHandler(watchlistService, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Metrics)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Set before Route so the /api subrouters inherit them.
	s.router.NotFound(handler.NotFound)
	s.router.MethodNotAllowed(handler.MethodNotAllowed)

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.HandleHealth)

		r.Route("/auth", func(r chi.Router) {
			if cfg.Server.AuthRateLimit > 0 {
				r.Use(httprate.Limit(cfg.Server.AuthRateLimit, time.Minute,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(handler.TooManyRequests),
				))
			}
			r.Post("/signup", authHandler.HandleSignup)
			r.Post("/login", authHandler.HandleLogin)
		})

		r.Route("/movies", func(r chi.Router) {
			r.Get("/trending", movieHandler.HandleTrending)
			r.Get("/search", movieHandler.HandleSearch)
			r.Get("/{id}", movieHandler.HandleDetails)
		})

		r.Route("/watchlist", func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/", watchlistHandler.HandleList)
			r.Post("/", watchlistHandler.HandleAdd)
			r.Put("/{movieId}/toggle", watchlistHandler.HandleToggle)
			r.Delete("/{movieId}", watchlistHandler.HandleRemove)
		})
	})

	// === SPA bundle ===
	if cfg.Server.StaticDir != "" {
		spa, err := handler.NewSPAHandler(cfg.Server.StaticDir, s.logger)
		if err != nil {
			return fmt.Errorf("static dir %s: %w", cfg.Server.StaticDir, err)
		}
		s.router.Handle("/*", spa)
	}

	return nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (server.shutdown_timeout)
//  3. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start(ctx context.Context) error {
	defer func() {
		if err := s.db.Close(); err != nil {
			s.logger.Error("closing database", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Server.Port)),
			slog.String("database", s.config.Database.Path),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
