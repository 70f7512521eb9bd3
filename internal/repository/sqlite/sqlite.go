// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code.
//
// LIFECYCLE:
// The handle is built explicitly and injected into the services; nothing in
// this package keeps global state.
//
//	db, err := sqlite.New(ctx, sqlite.Options{Path: "data/watchlist.db"})
//	if err != nil { ... }
//	defer db.Close()
//
// New = Open (connect with a bounded retry, apply PRAGMAs) + Migrate.
//
// SCHEMA:
// Tables and their foreign keys are declared in migrations/*.sql, embedded
// into the binary and applied by goose. There is no runtime model
// registration: the relationships users → watchlist_entries ← movies are
// fixed at compile time.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pressly/goose/v3"
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Options configures how the database is opened.
type Options struct {
	// Path examples:
	//   - "data/watchlist.db" → file-based database (persistent)
	//   - ":memory:"          → in-memory database (tests)
	Path string

	// ConnectAttempts bounds how many times the first ping is tried before
	// Open gives up. Values below 1 are treated as 1.
	ConnectAttempts int
	// ConnectRetryDelay is the base delay between attempts (exponential backoff).
	ConnectRetryDelay time.Duration

	// Logger receives retry warnings. Optional.
	Logger *slog.Logger
}

// DB wraps a sql.DB connection pool and implements
// repository.UserRepository and repository.WatchlistRepository.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New opens the database and applies pending migrations.
func New(ctx context.Context, opts Options) (*DB, error) {
	db, err := Open(ctx, opts)
	if err != nil {
		return nil, err
	}

	if _, err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Open connects to the database without touching the schema.
//
// CONNECTION POOL:
// sql.Open() does NOT actually open a connection. We ping to force one, and
// retry the ping a bounded number of times: on a freshly mounted volume the
// file may not be writable for the first moments of the container's life.
//
// ONE CONNECTION:
// SQLite serialises writers anyway, and an in-memory database exists per
// connection. Capping the pool at one connection keeps ":memory:" databases
// coherent and makes the per-connection PRAGMAs below stick.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.Path == "" {
		return nil, errors.New("sqlite: database path is required")
	}
	attempts := opts.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := opts.ConnectRetryDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	err = retry.Do(
		func() error { return conn.PingContext(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("database not reachable, retrying",
				slog.String("path", opts.Path),
				slog.Uint64("attempt", uint64(n+1)),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database after %d attempt(s): %w", attempts, err)
	}

	// WAL lets readers proceed while a write is in flight.
	// foreign_keys is OFF by default in SQLite; the schema relies on it for
	// ON DELETE CASCADE.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	return &DB{conn: conn, logger: logger}, nil
}

// Migrate applies every pending migration and returns how many ran.
func (db *DB) Migrate(ctx context.Context) (int, error) {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("loading embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db.conn, fsys)
	if err != nil {
		return 0, fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("applying migrations: %w", err)
	}

	for _, r := range results {
		db.logger.Info("migration applied",
			slog.String("source", r.Source.Path),
			slog.Duration("duration", r.Duration),
		)
	}
	return len(results), nil
}

// Ping reports whether the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// constraintViolation reports whether err is a SQLite constraint failure and,
// if so, returns the driver message (e.g. "UNIQUE constraint failed: users.email").
//
// Extended result codes such as SQLITE_CONSTRAINT_UNIQUE (2067) keep the
// primary code in the low byte, so masking catches every variant.
func constraintViolation(err error) (string, bool) {
	var se *sqlitedriver.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return se.Error(), true
	}
	return "", false
}

func isForeignKeyViolation(msg string) bool {
	return strings.Contains(msg, "FOREIGN KEY")
}
