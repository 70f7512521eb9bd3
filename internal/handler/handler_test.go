package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sakif/movie-watchlist/internal/apperror"
	"github.com/sakif/movie-watchlist/internal/auth"
	"github.com/sakif/movie-watchlist/internal/catalog"
	"github.com/sakif/movie-watchlist/internal/handler"
	"github.com/sakif/movie-watchlist/internal/model"
	"github.com/sakif/movie-watchlist/internal/service"
)

// =========================================================================
// MOCKS AND HELPERS
// =========================================================================

type MockCatalog struct{ mock.Mock }

func (m *MockCatalog) Trending(ctx context.Context) ([]catalog.MovieSummary, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).([]catalog.MovieSummary)
	return res, args.Error(1)
}

func (m *MockCatalog) Search(ctx context.Context, query string, page int) (*catalog.SearchPage, error) {
	args := m.Called(ctx, query, page)
	res, _ := args.Get(0).(*catalog.SearchPage)
	return res, args.Error(1)
}

func (m *MockCatalog) Details(ctx context.Context, id int64) (*catalog.MovieDetails, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*catalog.MovieDetails)
	return res, args.Error(1)
}

type MockAuth struct{ mock.Mock }

func (m *MockAuth) Signup(ctx context.Context, in service.SignupInput) (*service.AuthResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*service.AuthResult)
	return res, args.Error(1)
}

func (m *MockAuth) Login(ctx context.Context, email, password string) (*service.AuthResult, error) {
	args := m.Called(ctx, email, password)
	res, _ := args.Get(0).(*service.AuthResult)
	return res, args.Error(1)
}

type MockWatchlist struct{ mock.Mock }

func (m *MockWatchlist) Add(ctx context.Context, userID string, in service.AddInput) (*service.AddResult, error) {
	args := m.Called(ctx, userID, in)
	res, _ := args.Get(0).(*service.AddResult)
	return res, args.Error(1)
}

func (m *MockWatchlist) List(ctx context.Context, userID string) ([]model.WatchlistEntry, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).([]model.WatchlistEntry)
	return res, args.Error(1)
}

func (m *MockWatchlist) ToggleWatched(ctx context.Context, userID string, movieID int64) (*service.ToggleResult, error) {
	args := m.Called(ctx, userID, movieID)
	res, _ := args.Get(0).(*service.ToggleResult)
	return res, args.Error(1)
}

func (m *MockWatchlist) Remove(ctx context.Context, userID string, movieID int64) error {
	args := m.Called(ctx, userID, movieID)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var body handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

// asUser injects an identity the way auth.RequireAuth would.
func asUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(auth.ContextWithIdentity(r.Context(), &auth.Identity{UserID: userID, Username: "alice"}))
}

// =========================================================================
// AUTH HANDLER
// =========================================================================

func TestAuthHandler_Signup(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		m := new(MockAuth)
		m.On("Signup", mock.Anything, service.SignupInput{Username: "alice", Email: "a@x.io", Password: "pw1"}).
			Return(&service.AuthResult{Token: "tok", User: model.PublicUser{ID: "u1", Username: "alice"}}, nil)
		h := handler.NewAuthHandler(m, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
			strings.NewReader(`{"username":"alice","email":"a@x.io","password":"pw1"}`))
		rr := httptest.NewRecorder()
		h.HandleSignup(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.JSONEq(t, `{"token":"tok","user":{"id":"u1","username":"alice"}}`, rr.Body.String())
		m.AssertExpectations(t)
	})

	t.Run("conflict", func(t *testing.T) {
		m := new(MockAuth)
		m.On("Signup", mock.Anything, mock.Anything).
			Return(nil, apperror.Conflict("email", "Email already in use."))
		h := handler.NewAuthHandler(m, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
			strings.NewReader(`{"username":"a","email":"a@x.io","password":"p"}`))
		rr := httptest.NewRecorder()
		h.HandleSignup(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
		body := decodeError(t, rr)
		assert.Equal(t, "Email already in use.", body.Error)
		assert.Equal(t, "conflict", body.Code)
		assert.Equal(t, "email", body.Field)
	})

	t.Run("malformed body", func(t *testing.T) {
		m := new(MockAuth)
		h := handler.NewAuthHandler(m, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader(`{"username":`))
		rr := httptest.NewRecorder()
		h.HandleSignup(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "Invalid JSON body", decodeError(t, rr).Error)
		m.AssertNotCalled(t, "Signup", mock.Anything, mock.Anything)
	})
}

func TestAuthHandler_Login(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		m := new(MockAuth)
		m.On("Login", mock.Anything, "a@x.io", "pw1").
			Return(&service.AuthResult{Token: "tok", User: model.PublicUser{ID: "u1", Username: "alice"}}, nil)
		h := handler.NewAuthHandler(m, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"a@x.io","password":"pw1"}`))
		rr := httptest.NewRecorder()
		h.HandleLogin(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("invalid credentials", func(t *testing.T) {
		m := new(MockAuth)
		m.On("Login", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, apperror.Unauthorized("Invalid credentials"))
		h := handler.NewAuthHandler(m, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"a@x.io","password":"x"}`))
		rr := httptest.NewRecorder()
		h.HandleLogin(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "Invalid credentials", decodeError(t, rr).Error)
	})

	t.Run("empty body", func(t *testing.T) {
		h := handler.NewAuthHandler(new(MockAuth), testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", http.NoBody)
		rr := httptest.NewRecorder()
		h.HandleLogin(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

// =========================================================================
// MOVIE HANDLER
// =========================================================================

func movieRouter(h *handler.MovieHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/movies/trending", h.HandleTrending)
	r.Get("/api/movies/search", h.HandleSearch)
	r.Get("/api/movies/{id}", h.HandleDetails)
	return r
}

func TestMovieHandler_Trending(t *testing.T) {
	m := new(MockCatalog)
	m.On("Trending", mock.Anything).Return([]catalog.MovieSummary{
		{ID: 550, Title: "Fight Club", PosterPath: "/fc.jpg", ReleaseDate: "1999-10-15"},
	}, nil)
	rr := httptest.NewRecorder()

	movieRouter(handler.NewMovieHandler(m, testLogger())).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/movies/trending", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t,
		`{"results":[{"id":550,"title":"Fight Club","poster_path":"/fc.jpg","release_date":"1999-10-15"}]}`,
		rr.Body.String())
}

func TestMovieHandler_TrendingUpstreamFailure(t *testing.T) {
	m := new(MockCatalog)
	m.On("Trending", mock.Anything).
		Return(nil, apperror.Upstream("movie catalog is unreachable", errors.New("dial tcp: refused")))
	rr := httptest.NewRecorder()

	movieRouter(handler.NewMovieHandler(m, testLogger())).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/movies/trending", nil))

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	body := decodeError(t, rr)
	assert.Equal(t, "upstream_error", body.Code)
	assert.NotContains(t, body.Error, "dial tcp", "the cause must not leak to clients")
}

func TestMovieHandler_Search(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		setup      func(m *MockCatalog)
		wantStatus int
	}{
		{
			name: "forwards query and page",
			url:  "/api/movies/search?query=matrix&page=2",
			setup: func(m *MockCatalog) {
				m.On("Search", mock.Anything, "matrix", 2).
					Return(&catalog.SearchPage{Results: []catalog.MovieSummary{}, CurrentPage: 2, TotalPages: 3}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "missing page means first",
			url:  "/api/movies/search?query=matrix",
			setup: func(m *MockCatalog) {
				m.On("Search", mock.Anything, "matrix", 0).
					Return(&catalog.SearchPage{Results: []catalog.MovieSummary{}, CurrentPage: 1}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "non-numeric page",
			url:        "/api/movies/search?query=matrix&page=two",
			setup:      func(m *MockCatalog) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing query",
			url:  "/api/movies/search",
			setup: func(m *MockCatalog) {
				m.On("Search", mock.Anything, "", 0).
					Return(nil, apperror.ValidationFailed("query", "Query parameter is required"))
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockCatalog)
			tt.setup(m)
			rr := httptest.NewRecorder()

			movieRouter(handler.NewMovieHandler(m, testLogger())).
				ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.url, nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			m.AssertExpectations(t)
		})
	}
}

func TestMovieHandler_Details(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		m := new(MockCatalog)
		m.On("Details", mock.Anything, int64(550)).
			Return(&catalog.MovieDetails{ID: 550, Title: "Fight Club", Cast: []string{"Edward Norton"}}, nil)
		rr := httptest.NewRecorder()

		movieRouter(handler.NewMovieHandler(m, testLogger())).
			ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/movies/550", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		var got catalog.MovieDetails
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, []string{"Edward Norton"}, got.Cast)
	})

	t.Run("unknown", func(t *testing.T) {
		m := new(MockCatalog)
		m.On("Details", mock.Anything, int64(999999999)).
			Return(nil, apperror.NotFound("movie", "999999999"))
		rr := httptest.NewRecorder()

		movieRouter(handler.NewMovieHandler(m, testLogger())).
			ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/movies/999999999", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		m := new(MockCatalog)
		rr := httptest.NewRecorder()

		movieRouter(handler.NewMovieHandler(m, testLogger())).
			ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/movies/abc", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		m.AssertNotCalled(t, "Details", mock.Anything, mock.Anything)
	})
}

// =========================================================================
// WATCHLIST HANDLER
// =========================================================================

func watchlistRouter(h *handler.WatchlistHandler, userID string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if userID != "" {
				req = asUser(req, userID)
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/api/watchlist", h.HandleList)
	r.Post("/api/watchlist", h.HandleAdd)
	r.Put("/api/watchlist/{movieId}/toggle", h.HandleToggle)
	r.Delete("/api/watchlist/{movieId}", h.HandleRemove)
	return r
}

func TestWatchlistHandler_Add(t *testing.T) {
	entry := &model.WatchlistEntry{ID: "e1", UserID: "u1", MovieID: 550}

	t.Run("new entry is 201", func(t *testing.T) {
		m := new(MockWatchlist)
		m.On("Add", mock.Anything, "u1", service.AddInput{MovieID: 550, Title: "Fight Club", Overview: "..."}).
			Return(&service.AddResult{Entry: entry}, nil)
		rr := httptest.NewRecorder()

		watchlistRouter(handler.NewWatchlistHandler(m, testLogger()), "u1").ServeHTTP(rr,
			httptest.NewRequest(http.MethodPost, "/api/watchlist",
				bytes.NewBufferString(`{"movieId":550,"title":"Fight Club","description":"..."}`)))

		assert.Equal(t, http.StatusCreated, rr.Code)
		m.AssertExpectations(t)
	})

	t.Run("already present is 200", func(t *testing.T) {
		m := new(MockWatchlist)
		m.On("Add", mock.Anything, "u1", mock.Anything).
			Return(&service.AddResult{Entry: entry, AlreadyPresent: true}, nil)
		rr := httptest.NewRecorder()

		watchlistRouter(handler.NewWatchlistHandler(m, testLogger()), "u1").ServeHTTP(rr,
			httptest.NewRequest(http.MethodPost, "/api/watchlist", bytes.NewBufferString(`{"movieId":550,"title":"Fight Club"}`)))

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("overview wins over description", func(t *testing.T) {
		m := new(MockWatchlist)
		m.On("Add", mock.Anything, "u1", service.AddInput{MovieID: 1, Title: "T", Overview: "real"}).
			Return(&service.AddResult{Entry: entry}, nil)
		rr := httptest.NewRecorder()

		watchlistRouter(handler.NewWatchlistHandler(m, testLogger()), "u1").ServeHTTP(rr,
			httptest.NewRequest(http.MethodPost, "/api/watchlist",
				bytes.NewBufferString(`{"movieId":1,"title":"T","overview":"real","description":"old"}`)))

		assert.Equal(t, http.StatusCreated, rr.Code)
		m.AssertExpectations(t)
	})

	t.Run("no identity is 401", func(t *testing.T) {
		m := new(MockWatchlist)
		rr := httptest.NewRecorder()

		watchlistRouter(handler.NewWatchlistHandler(m, testLogger()), "").ServeHTTP(rr,
			httptest.NewRequest(http.MethodPost, "/api/watchlist", bytes.NewBufferString(`{"movieId":550}`)))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		m.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestWatchlistHandler_ListEmptyIsArray(t *testing.T) {
	m := new(MockWatchlist)
	m.On("List", mock.Anything, "u1").Return([]model.WatchlistEntry{}, nil)
	rr := httptest.NewRecorder()

	watchlistRouter(handler.NewWatchlistHandler(m, testLogger()), "u1").
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/watchlist", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestWatchlistHandler_Toggle(t *testing.T) {
	m := new(MockWatchlist)
	m.On("ToggleWatched", mock.Anything, "u1", int64(550)).
		Return(&service.ToggleResult{MovieID: 550, Watched: true}, nil)
	rr := httptest.NewRecorder()

	watchlistRouter(handler.NewWatchlistHandler(m, testLogger()), "u1").
		ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/api/watchlist/550/toggle", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"movieId":550,"watched":true}`, rr.Body.String())
}

func TestWatchlistHandler_Remove(t *testing.T) {
	t.Run("removed", func(t *testing.T) {
		m := new(MockWatchlist)
		m.On("Remove", mock.Anything, "u1", int64(550)).Return(nil)
		rr := httptest.NewRecorder()

		watchlistRouter(handler.NewWatchlistHandler(m, testLogger()), "u1").
			ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/watchlist/550", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"message":"Movie removed from watchlist","movieId":550}`, rr.Body.String())
	})

	t.Run("missing", func(t *testing.T) {
		m := new(MockWatchlist)
		m.On("Remove", mock.Anything, "u1", int64(550)).Return(apperror.NotFound("watchlist entry", "550"))
		rr := httptest.NewRecorder()

		watchlistRouter(handler.NewWatchlistHandler(m, testLogger()), "u1").
			ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/watchlist/550", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		m := new(MockWatchlist)
		rr := httptest.NewRecorder()

		watchlistRouter(handler.NewWatchlistHandler(m, testLogger()), "u1").
			ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/watchlist/-1", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestWriteError_InternalIsOpaque(t *testing.T) {
	m := new(MockWatchlist)
	m.On("List", mock.Anything, "u1").Return(nil, errors.New("sqlite: SELECT * FROM secret_table"))
	rr := httptest.NewRecorder()

	watchlistRouter(handler.NewWatchlistHandler(m, testLogger()), "u1").
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/watchlist", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decodeError(t, rr)
	assert.Equal(t, "An internal error occurred", body.Error)
	assert.Equal(t, "internal_error", body.Code)
}

func TestWriteError_LogsOnHandlerLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil)).With(slog.String("component", "watchlist"))

	m := new(MockWatchlist)
	m.On("List", mock.Anything, "u1").Return(nil, errors.New("disk on fire"))
	rr := httptest.NewRecorder()

	watchlistRouter(handler.NewWatchlistHandler(m, logger), "u1").
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/watchlist", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	logged := buf.String()
	assert.Contains(t, logged, "internal error")
	assert.Contains(t, logged, "component=watchlist")
	assert.Contains(t, logged, "disk on fire")
	assert.NotContains(t, rr.Body.String(), "disk on fire")
}

// =========================================================================
// HEALTH / SPA / FALLBACKS
// =========================================================================

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	handler.NewHealthHandler(pinger{}, testLogger()).HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","database":"ok"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	handler.NewHealthHandler(pinger{err: errors.New("closed")}, testLogger()).HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestNotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	handler.NotFound(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Route not found", decodeError(t, rr).Error)
}

func TestSPAHandler(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	h, err := handler.NewSPAHandler(dir, testLogger())
	require.NoError(t, err)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/", http.StatusOK, "<html>app</html>"},
		{"/app.js", http.StatusOK, "console.log(1)"},
		{"/watchlist", http.StatusOK, "<html>app</html>"},
		{"/movie/550", http.StatusOK, "<html>app</html>"},
		{"/api/unknown", http.StatusNotFound, "Route not found"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.wantBody)
		})
	}
}

func TestSPAHandler_RequiresIndex(t *testing.T) {
	_, err := handler.NewSPAHandler(t.TempDir(), testLogger())
	assert.Error(t, err)
}
