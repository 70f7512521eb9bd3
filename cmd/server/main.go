// Package main is the entry point for the movie watchlist server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
//  1. Read configuration (defaults, config file, .env, environment)
//  2. Create dependencies (logger, database, movie catalog client)
//  3. Start the application
//
// All actual logic lives in imported packages (internal/server,
// internal/service, etc.).
//
// COMMANDS:
//
//	watchlist serve    → run the HTTP server (also the default)
//	watchlist migrate  → apply pending database migrations and exit
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/sakif/movie-watchlist/internal/catalog"
	"github.com/sakif/movie-watchlist/internal/config"
	"github.com/sakif/movie-watchlist/internal/logging"
	sqliteRepo "github.com/sakif/movie-watchlist/internal/repository/sqlite"
	"github.com/sakif/movie-watchlist/internal/server"
)

func main() {
	app := &cli.Command{
		Name:  "watchlist",
		Usage: "Movie watchlist API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				Sources: cli.EnvVars(config.ConfigPathEnvVar),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Apply pending database migrations and exit",
				Action: migrate,
			},
		},
		Action: serve,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "watchlist: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads the configuration and sets up logging. The returned
// closer flushes the log file, if any.
func bootstrap(cmd *cli.Command) (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, nil, err
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("setting up logging: %w", err)
	}
	slog.SetDefault(logger)

	return cfg, logger, closer, nil
}

// openDB makes sure the database directory exists and opens the store.
// os.MkdirAll works like `mkdir -p`.
func openDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sqliteRepo.DB, error) {
	if cfg.Database.Path != ":memory:" {
		dir := filepath.Dir(cfg.Database.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	return sqliteRepo.Open(ctx, sqliteRepo.Options{
		Path:              cfg.Database.Path,
		ConnectAttempts:   cfg.Database.ConnectAttempts,
		ConnectRetryDelay: cfg.Database.ConnectRetryDelay,
		Logger:            logger,
	})
}

func serve(ctx context.Context, cmd *cli.Command) error {
	// === 1. CONFIGURATION AND LOGGING ===
	cfg, logger, closer, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	// Ctrl+C and SIGTERM (docker stop, Kubernetes) both end the context.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === 2. DATABASE ===
	// Migrations run on every start. goose records what it applied, so this
	// is a no-op when the schema is current.
	db, err := openDB(ctx, cfg, logger)
	if err != nil {
		return err
	}
	applied, err := db.Migrate(ctx)
	if err != nil {
		db.Close()
		return fmt.Errorf("running migrations: %w", err)
	}
	if applied > 0 {
		logger.Info("database migrated", slog.Int("applied", applied))
	}

	// === 3. MOVIE CATALOG ===
	movies, err := catalog.New(catalog.Config{
		BaseURL:           cfg.TMDB.BaseURL,
		APIKey:            cfg.TMDB.APIKey,
		ReadToken:         cfg.TMDB.ReadToken,
		Language:          cfg.TMDB.Language,
		Timeout:           cfg.TMDB.Timeout,
		MaxAttempts:       cfg.TMDB.MaxAttempts,
		RetryBaseDelay:    cfg.TMDB.RetryBaseDelay,
		MaxRetryWait:      cfg.TMDB.MaxRetryWait,
		RequestsPerSecond: cfg.TMDB.RequestsPerSecond,
		Burst:             cfg.TMDB.Burst,
		CacheSize:         cfg.TMDB.CacheSize,
		CacheTTL:          cfg.TMDB.CacheTTL,
		BreakerFailures:   uint32(cfg.TMDB.BreakerFailures),
		BreakerTimeout:    cfg.TMDB.BreakerTimeout,
	}, logger)
	if err != nil {
		db.Close()
		return fmt.Errorf("creating movie catalog client: %w", err)
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(server.Options{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Catalog: movies,
	})
	if err != nil {
		db.Close()
		return err
	}

	// Start blocks until the context ends, then closes the database.
	return srv.Start(ctx)
}

func migrate(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, closer, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	db, err := openDB(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := db.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations complete",
		slog.Int("applied", applied),
		slog.String("database", cfg.Database.Path),
	)
	return nil
}
