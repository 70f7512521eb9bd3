package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/movie-watchlist/internal/apperror"
	"github.com/sakif/movie-watchlist/internal/model"
	"github.com/sakif/movie-watchlist/internal/repository"
)

var _ repository.WatchlistRepository = (*DB)(nil)

// entryColumns selects an entry joined with its movie, in scanEntry order.
const entryColumns = `
	w.id, w.user_id, w.movie_id, w.watched, w.created_at, w.updated_at,
	m.id, m.title, m.poster_path, m.release_date, m.overview, m.created_at, m.updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(s rowScanner) (*model.WatchlistEntry, error) {
	var e model.WatchlistEntry
	var m model.Movie
	err := s.Scan(
		&e.ID, &e.UserID, &e.MovieID, &e.Watched, &e.CreatedAt, &e.UpdatedAt,
		&m.ID, &m.Title, &m.PosterPath, &m.ReleaseDate, &m.Overview, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Movie = &m
	return &e, nil
}

// GetMovie returns the cached movie with the provider's id.
func (db *DB) GetMovie(ctx context.Context, id int64) (*model.Movie, error) {
	var m model.Movie
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, title, poster_path, release_date, overview, created_at, updated_at
		 FROM movies WHERE id = ?`,
		id,
	).Scan(&m.ID, &m.Title, &m.PosterPath, &m.ReleaseDate, &m.Overview, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("movie", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting movie %d: %w", id, err)
	}
	return &m, nil
}

// AddEntry caches the movie (first writer wins) and adds it to the user's
// watchlist in a single transaction.
//
// IDEMPOTENCE:
// Both inserts use ON CONFLICT DO NOTHING, so a duplicate add is a no-op at
// the storage level even when two requests race. RowsAffected on the entry
// insert tells us which case we hit.
func (db *DB) AddEntry(ctx context.Context, userID string, movie *model.Movie) (*model.WatchlistEntry, bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: beginning add transaction: %w", err)
	}
	defer tx.Rollback() // no-op after Commit

	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO movies (id, title, poster_path, release_date, overview, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		movie.ID, movie.Title, movie.PosterPath, movie.ReleaseDate, movie.Overview, now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: caching movie %d: %w", movie.ID, err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO watchlist_entries (id, user_id, movie_id, watched, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)
		 ON CONFLICT(user_id, movie_id) DO NOTHING`,
		xid.New().String(), userID, movie.ID, now, now,
	)
	if err != nil {
		if msg, ok := constraintViolation(err); ok && isForeignKeyViolation(msg) {
			return nil, false, apperror.NotFound("user", userID)
		}
		return nil, false, fmt.Errorf("sqlite: inserting watchlist entry (movie=%d): %w", movie.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}

	entry, err := scanEntry(tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+`
		 FROM watchlist_entries w JOIN movies m ON m.id = w.movie_id
		 WHERE w.user_id = ? AND w.movie_id = ?`,
		userID, movie.ID,
	))
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: reading watchlist entry (movie=%d): %w", movie.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("sqlite: committing add: %w", err)
	}

	return entry, affected > 0, nil
}

// ListEntries returns the user's entries in insertion order.
//
// Always returns a non-nil slice so the JSON response is [] rather than null.
func (db *DB) ListEntries(ctx context.Context, userID string) ([]model.WatchlistEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+entryColumns+`
		 FROM watchlist_entries w JOIN movies m ON m.id = w.movie_id
		 WHERE w.user_id = ?
		 ORDER BY w.rowid ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing watchlist for %s: %w", userID, err)
	}
	defer rows.Close()

	entries := []model.WatchlistEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning watchlist row: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating watchlist rows: %w", err)
	}

	return entries, nil
}

// ToggleWatched flips the flag in one statement and returns the new value.
// Doing the negation in SQL avoids a read-modify-write race.
func (db *DB) ToggleWatched(ctx context.Context, userID string, movieID int64) (bool, error) {
	var watched bool
	err := db.conn.QueryRowContext(ctx,
		`UPDATE watchlist_entries
		 SET watched = NOT watched, updated_at = ?
		 WHERE user_id = ? AND movie_id = ?
		 RETURNING watched`,
		time.Now().UTC(), userID, movieID,
	).Scan(&watched)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, apperror.NotFound("watchlist entry", strconv.FormatInt(movieID, 10))
		}
		return false, fmt.Errorf("sqlite: toggling watched (movie=%d): %w", movieID, err)
	}
	return watched, nil
}

// RemoveEntry deletes the user's entry for movieID. The cached movie row is
// kept since other users may reference it.
func (db *DB) RemoveEntry(ctx context.Context, userID string, movieID int64) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM watchlist_entries WHERE user_id = ? AND movie_id = ?`,
		userID, movieID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: removing watchlist entry (movie=%d): %w", movieID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("watchlist entry", strconv.FormatInt(movieID, 10))
	}

	return nil
}
