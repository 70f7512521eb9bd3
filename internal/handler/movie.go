package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/movie-watchlist/internal/apperror"
	"github.com/sakif/movie-watchlist/internal/catalog"
)

// MovieCatalog is what the movie endpoints need from the catalog gateway.
// *catalog.Client satisfies it.
type MovieCatalog interface {
	Trending(ctx context.Context) ([]catalog.MovieSummary, error)
	Search(ctx context.Context, query string, page int) (*catalog.SearchPage, error)
	Details(ctx context.Context, id int64) (*catalog.MovieDetails, error)
}

// MovieHandler exposes the public, read-only movie endpoints. They need no
// authentication and never touch the database.
type MovieHandler struct {
	catalog MovieCatalog
	logger  *slog.Logger
}

// NewMovieHandler creates a MovieHandler.
func NewMovieHandler(c MovieCatalog, logger *slog.Logger) *MovieHandler {
	return &MovieHandler{catalog: c, logger: logger}
}

type trendingResponse struct {
	Results []catalog.MovieSummary `json:"results"`
}

// HandleTrending lists this week's trending movies.
//
// HTTP: GET /api/movies/trending
func (h *MovieHandler) HandleTrending(w http.ResponseWriter, r *http.Request) {
	movies, err := h.catalog.Trending(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, trendingResponse{Results: movies})
}

// HandleSearch searches by title.
//
// HTTP: GET /api/movies/search?query=matrix&page=2
func (h *MovieHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := 0
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, h.logger, apperror.ValidationFailed("page", "page must be a positive integer"))
			return
		}
		page = n
	}

	results, err := h.catalog.Search(r.Context(), q.Get("query"), page)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// HandleDetails returns one movie with its top-billed cast.
//
// HTTP: GET /api/movies/{id}
func (h *MovieHandler) HandleDetails(w http.ResponseWriter, r *http.Request) {
	id, err := positiveID(chi.URLParam(r, "id"), "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	details, err := h.catalog.Details(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// positiveID parses a path segment as a movie id.
func positiveID(raw, field string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed(field, field+" must be a positive integer")
	}
	return id, nil
}
