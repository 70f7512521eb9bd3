package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/movie-watchlist/internal/apperror"
	"github.com/sakif/movie-watchlist/internal/catalog"
	"github.com/sakif/movie-watchlist/internal/metrics"
	"github.com/sakif/movie-watchlist/internal/model"
	"github.com/sakif/movie-watchlist/internal/repository"
)

// MovieLookup is the part of the catalog gateway the watchlist needs.
// *catalog.Client satisfies it.
type MovieLookup interface {
	Details(ctx context.Context, id int64) (*catalog.MovieDetails, error)
}

// WatchlistService manages per-user watchlists.
//
// OWNERSHIP:
// Every method takes the userID from the caller, and the caller takes it
// from the verified token. Nothing here accepts a user id from a request
// body, so one user can never touch another user's entries.
type WatchlistService struct {
	repo    repository.WatchlistRepository
	catalog MovieLookup // optional; nil disables metadata hydration
	logger  *slog.Logger
}

// NewWatchlistService creates a WatchlistService. lookup may be nil.
func NewWatchlistService(repo repository.WatchlistRepository, lookup MovieLookup, logger *slog.Logger) *WatchlistService {
	return &WatchlistService{
		repo:    repo,
		catalog: lookup,
		logger:  logger,
	}
}

// AddInput is the movie metadata a client sends when adding to a watchlist.
type AddInput struct {
	MovieID     int64
	Title       string
	PosterPath  string
	ReleaseDate string
	Overview    string
}

// AddResult reports whether the entry was created by this call.
type AddResult struct {
	Entry          *model.WatchlistEntry
	AlreadyPresent bool
}

// Add puts a movie on the user's watchlist. Adding a movie that is already
// there is not an error: the existing entry comes back with AlreadyPresent.
//
// WHERE DOES THE MOVIE ROW COME FROM?
//   - Already cached: the cached row is kept. The first metadata wins.
//   - Not cached, title supplied: the client's metadata is stored.
//   - Not cached, no title: fetched from the catalog, when one is configured.
func (s *WatchlistService) Add(ctx context.Context, userID string, in AddInput) (*AddResult, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if in.MovieID <= 0 {
		return nil, apperror.ValidationFailed("movieId", "movieId is required")
	}

	movie := &model.Movie{
		ID:          in.MovieID,
		Title:       strings.TrimSpace(in.Title),
		PosterPath:  strings.TrimSpace(in.PosterPath),
		ReleaseDate: strings.TrimSpace(in.ReleaseDate),
		Overview:    strings.TrimSpace(in.Overview),
	}

	if movie.Title == "" {
		resolved, err := s.resolveMovie(ctx, in.MovieID)
		if err != nil {
			return nil, err
		}
		movie = resolved
	}

	entry, created, err := s.repo.AddEntry(ctx, userID, movie)
	if err != nil {
		return nil, fmt.Errorf("service/watchlist: adding movie %d: %w", in.MovieID, err)
	}

	if created {
		metrics.WatchlistChanges.WithLabelValues("add").Inc()
		s.logger.Info("movie added to watchlist",
			slog.String("userID", userID),
			slog.Int64("movieID", in.MovieID),
		)
	} else {
		metrics.WatchlistChanges.WithLabelValues("duplicate_add").Inc()
	}

	return &AddResult{Entry: entry, AlreadyPresent: !created}, nil
}

// resolveMovie finds metadata for a movie the client sent without a title.
func (s *WatchlistService) resolveMovie(ctx context.Context, id int64) (*model.Movie, error) {
	cached, err := s.repo.GetMovie(ctx, id)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/watchlist: loading movie %d: %w", id, err)
	}

	if s.catalog == nil {
		return nil, apperror.ValidationFailed("title", "title is required")
	}

	details, err := s.catalog.Details(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/watchlist: fetching movie %d: %w", id, err)
	}
	return &model.Movie{
		ID:          id,
		Title:       details.Title,
		PosterPath:  details.PosterPath,
		ReleaseDate: details.ReleaseDate,
		Overview:    details.Overview,
	}, nil
}

// List returns the user's entries in insertion order. Never nil.
func (s *WatchlistService) List(ctx context.Context, userID string) ([]model.WatchlistEntry, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListEntries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/watchlist: listing: %w", err)
	}
	return entries, nil
}

// ToggleResult is the flipped state of one entry.
type ToggleResult struct {
	MovieID int64 `json:"movieId"`
	Watched bool  `json:"watched"`
}

// ToggleWatched flips the watched flag and returns the new value.
func (s *WatchlistService) ToggleWatched(ctx context.Context, userID string, movieID int64) (*ToggleResult, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if movieID <= 0 {
		return nil, apperror.ValidationFailed("movieId", "movieId must be a positive integer")
	}

	watched, err := s.repo.ToggleWatched(ctx, userID, movieID)
	if err != nil {
		return nil, fmt.Errorf("service/watchlist: toggling movie %d: %w", movieID, err)
	}

	metrics.WatchlistChanges.WithLabelValues("toggle").Inc()
	return &ToggleResult{MovieID: movieID, Watched: watched}, nil
}

// Remove deletes the entry. The cached movie row stays for other users.
func (s *WatchlistService) Remove(ctx context.Context, userID string, movieID int64) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if movieID <= 0 {
		return apperror.ValidationFailed("movieId", "movieId must be a positive integer")
	}

	if err := s.repo.RemoveEntry(ctx, userID, movieID); err != nil {
		return fmt.Errorf("service/watchlist: removing movie %d: %w", movieID, err)
	}

	metrics.WatchlistChanges.WithLabelValues("remove").Inc()
	s.logger.Info("movie removed from watchlist",
		slog.String("userID", userID),
		slog.Int64("movieID", movieID),
	)
	return nil
}

func requireUser(userID string) error {
	if userID == "" {
		return apperror.Unauthorized("authentication required")
	}
	return nil
}
