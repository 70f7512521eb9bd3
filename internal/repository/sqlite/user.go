package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/movie-watchlist/internal/apperror"
	"github.com/sakif/movie-watchlist/internal/model"
	"github.com/sakif/movie-watchlist/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// Create inserts a new user and fills in ID and timestamps.
//
// The service layer checks for duplicates first to give a friendly message,
// but two concurrent signups can both pass that check. The UNIQUE
// constraints on users.email and users.username are what actually hold the
// invariant, so a constraint failure here is translated to the same
// conflict errors the pre-check would have produced.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if msg, ok := constraintViolation(err); ok {
			switch {
			case strings.Contains(msg, "users.email"):
				return apperror.Conflict("email", "Email already in use.")
			case strings.Contains(msg, "users.username"):
				return apperror.Conflict("username", "Username already taken")
			}
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Username, err)
	}

	return nil
}

// GetByEmail looks a user up by normalized email.
// Returns apperror.ErrNotFound if nobody registered with it.
func (db *DB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, created_at, updated_at
		 FROM users WHERE email = ?`,
		email,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// ExistsByEmail matches exactly. Callers pass an address that is already
// trimmed and lower-cased.
func (db *DB) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return db.exists(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`, email)
}

// ExistsByUsername is case-insensitive: the column is declared COLLATE NOCASE.
func (db *DB) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return db.exists(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`, username)
}

func (db *DB) exists(ctx context.Context, query string, arg any) (bool, error) {
	var found bool
	if err := db.conn.QueryRowContext(ctx, query, arg).Scan(&found); err != nil {
		return false, fmt.Errorf("sqlite: checking user existence: %w", err)
	}
	return found, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
