// Package repository declares the persistence contracts the service layer
// depends on. Implementations live in subpackages (see repository/sqlite).
package repository

import (
	"context"

	"github.com/sakif/movie-watchlist/internal/model"
)

// UserRepository is the credential store.
type UserRepository interface {
	// Create assigns ID and timestamps. A duplicate email or username
	// yields an apperror.ErrConflict.
	Create(ctx context.Context, user *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
}

// WatchlistRepository stores cached movies and per-user watchlist entries.
// Every entry operation is scoped by userID.
type WatchlistRepository interface {
	GetMovie(ctx context.Context, id int64) (*model.Movie, error)

	// AddEntry inserts the movie if it is not cached yet, then the entry.
	// created is false when the (userID, movie.ID) pair already existed, in
	// which case the existing entry is returned.
	AddEntry(ctx context.Context, userID string, movie *model.Movie) (entry *model.WatchlistEntry, created bool, err error)
	ListEntries(ctx context.Context, userID string) ([]model.WatchlistEntry, error)
	ToggleWatched(ctx context.Context, userID string, movieID int64) (bool, error)
	RemoveEntry(ctx context.Context, userID string, movieID int64) error
}
