package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/movie-watchlist/internal/apperror"
	"github.com/sakif/movie-watchlist/internal/auth"
	"github.com/sakif/movie-watchlist/internal/model"
	"github.com/sakif/movie-watchlist/internal/service"
)

// Watchlist is the slice of service.WatchlistService the handler needs.
type Watchlist interface {
	Add(ctx context.Context, userID string, in service.AddInput) (*service.AddResult, error)
	List(ctx context.Context, userID string) ([]model.WatchlistEntry, error)
	ToggleWatched(ctx context.Context, userID string, movieID int64) (*service.ToggleResult, error)
	Remove(ctx context.Context, userID string, movieID int64) error
}

// WatchlistHandler serves /api/watchlist. Every route sits behind
// auth.RequireAuth, and the user id always comes from the token.
type WatchlistHandler struct {
	watchlist Watchlist
	logger    *slog.Logger
}

// NewWatchlistHandler creates a WatchlistHandler.
func NewWatchlistHandler(wl Watchlist, logger *slog.Logger) *WatchlistHandler {
	return &WatchlistHandler{watchlist: wl, logger: logger}
}

// addRequest is the add body. A user id in the body would be ignored,
// which is why there is no field for it.
type addRequest struct {
	MovieID     int64  `json:"movieId"`
	Title       string `json:"title"`
	PosterPath  string `json:"poster_path"`
	ReleaseDate string `json:"release_date"`
	Overview    string `json:"overview"`
	Description string `json:"description"` // older clients send this instead of overview
}

type removeResponse struct {
	Message string `json:"message"`
	MovieID int64  `json:"movieId"`
}

// HandleList returns the caller's watchlist, oldest first.
//
// HTTP: GET /api/watchlist → 200 [entries]
func (h *WatchlistHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("missing bearer token"))
		return
	}

	entries, err := h.watchlist.List(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleAdd puts a movie on the caller's watchlist.
//
// HTTP: POST /api/watchlist
//   - 201 Created with the new entry
//   - 200 OK with the existing entry when the movie was already there
func (h *WatchlistHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("missing bearer token"))
		return
	}

	var req addRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	overview := req.Overview
	if overview == "" {
		overview = req.Description
	}

	res, err := h.watchlist.Add(r.Context(), userID, service.AddInput{
		MovieID:     req.MovieID,
		Title:       req.Title,
		PosterPath:  req.PosterPath,
		ReleaseDate: req.ReleaseDate,
		Overview:    overview,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if res.AlreadyPresent {
		status = http.StatusOK
	}
	writeJSON(w, status, res.Entry)
}

// HandleToggle flips the watched flag.
//
// HTTP: PUT /api/watchlist/{movieId}/toggle → 200 {"movieId": 550, "watched": true}
func (h *WatchlistHandler) HandleToggle(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("missing bearer token"))
		return
	}

	movieID, err := positiveID(chi.URLParam(r, "movieId"), "movieId")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.watchlist.ToggleWatched(r.Context(), userID, movieID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleRemove deletes an entry.
//
// HTTP: DELETE /api/watchlist/{movieId} → 200, or 404 if it was not there
func (h *WatchlistHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("missing bearer token"))
		return
	}

	movieID, err := positiveID(chi.URLParam(r, "movieId"), "movieId")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.watchlist.Remove(r.Context(), userID, movieID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, removeResponse{
		Message: "Movie removed from watchlist",
		MovieID: movieID,
	})
}
