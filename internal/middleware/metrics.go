package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/movie-watchlist/internal/metrics"
)

// Metrics records request count and latency per route.
//
// WHY THE ROUTE PATTERN AND NOT THE PATH?
// "/api/watchlist/{movieId}" is one series. The raw path would create a new
// series for every movie id and grow without bound. Unmatched requests are
// grouped under "unmatched" for the same reason.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := wrap(w)

		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		metrics.ObserveHTTP(route, r.Method, wrapped.statusCode, time.Since(start))
	})
}
