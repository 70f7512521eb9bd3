// Package catalog is the gateway to the external movie metadata provider
// (TMDB). It normalizes provider payloads into the shapes the API returns
// and translates provider failures into the apperror taxonomy:
//
//	provider 404               → apperror.ErrNotFound
//	provider 429 (after retry) → apperror.ErrUpstream
//	401/403, 5xx, timeouts     → apperror.ErrUpstream (no retry)
//
// RESILIENCE:
// Every call passes through, in order: the response cache, the circuit
// breaker, the retry loop (429 only), the client-side rate limiter and
// finally an http.Client with a bounded timeout.
package catalog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/sakif/movie-watchlist/internal/apperror"
	"github.com/sakif/movie-watchlist/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.themoviedb.org/3"
	// MaxPage is the highest page TMDB will serve for search results.
	MaxPage = 500
	// castLimit is how many top-billed cast names Details returns.
	castLimit = 5
)

// Config tunes the client. Zero values fall back to the defaults in
// withDefaults, except that one of APIKey or ReadToken is required.
type Config struct {
	BaseURL string
	// APIKey is the v3 key, sent as the api_key query parameter.
	APIKey string
	// ReadToken is the v4 read access token, sent as a bearer header.
	// Takes precedence over APIKey when both are set.
	ReadToken string
	Language  string

	Timeout        time.Duration
	MaxAttempts    int           // total attempts on 429, including the first
	RetryBaseDelay time.Duration // backoff base when Retry-After is absent
	MaxRetryWait   time.Duration // cap on any single wait

	RequestsPerSecond float64
	Burst             int

	CacheSize int
	CacheTTL  time.Duration // <= 0 disables caching

	BreakerFailures uint32        // consecutive failures that open the breaker
	BreakerTimeout  time.Duration // how long the breaker stays open
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.MaxRetryWait <= 0 {
		c.MaxRetryWait = 5 * time.Second
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 40
	}
	if c.Burst < 1 {
		c.Burst = 10
	}
	if c.CacheSize < 1 {
		c.CacheSize = 512
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}

// MovieSummary is one entry of a trending or search listing.
type MovieSummary struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	PosterPath  string `json:"poster_path"`
	ReleaseDate string `json:"release_date"`
}

// SearchPage is a page of search results.
type SearchPage struct {
	Results      []MovieSummary `json:"results"`
	CurrentPage  int            `json:"current_page"`
	TotalPages   int            `json:"total_pages"`
	TotalResults int            `json:"total_results"`
}

// MovieDetails is the full record for one movie.
type MovieDetails struct {
	ID           int64    `json:"id"`
	Title        string   `json:"title"`
	Overview     string   `json:"overview"`
	PosterPath   string   `json:"poster_path"`
	BackdropPath string   `json:"backdrop_path"`
	ReleaseDate  string   `json:"release_date"`
	Runtime      int      `json:"runtime"`
	VoteAverage  float64  `json:"vote_average"`
	Genres       []string `json:"genres"`
	Cast         []string `json:"cast"`
}

// Client talks to TMDB. It is safe for concurrent use.
type Client struct {
	cfg     Config
	baseURL *url.URL
	httpc   *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger

	trending *expirable.LRU[string, []MovieSummary]
	details  *expirable.LRU[int64, *MovieDetails]
}

// New builds a Client.
//
// AUTH:
// With a v4 read token, an oauth2.Transport adds "Authorization: Bearer"
// to every request from a static token source. Otherwise the v3 key goes
// into the query string.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" && cfg.ReadToken == "" {
		return nil, errors.New("catalog: an API key or read access token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("catalog: parsing base URL: %w", err)
	}

	var transport http.RoundTripper = http.DefaultTransport
	if cfg.ReadToken != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{
				AccessToken: cfg.ReadToken,
				TokenType:   "Bearer",
			}),
			Base: http.DefaultTransport,
		}
	}

	c := &Client{
		cfg:     cfg,
		baseURL: base,
		httpc:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger.With(slog.String("component", "catalog")),
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "tmdb",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// A missing movie is an answer, not an outage. So is a cancelled
		// request. A 404 on a list endpoint is a real failure and counts.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, errProviderNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	if cfg.CacheTTL > 0 {
		c.trending = expirable.NewLRU[string, []MovieSummary](1, nil, cfg.CacheTTL)
		c.details = expirable.NewLRU[int64, *MovieDetails](cfg.CacheSize, nil, cfg.CacheTTL)
	}

	return c, nil
}

// Trending returns this week's trending movies. An empty provider result
// is an empty slice, not an error.
func (c *Client) Trending(ctx context.Context) ([]MovieSummary, error) {
	const endpoint = endpointTrending
	if c.trending != nil {
		if cached, ok := c.trending.Get(c.cfg.Language); ok {
			metrics.CatalogCache.WithLabelValues(endpoint, "hit").Inc()
			return cached, nil
		}
		metrics.CatalogCache.WithLabelValues(endpoint, "miss").Inc()
	}

	var payload tmdbList
	if err := c.get(ctx, endpoint, []string{"trending", "movie", "week"}, nil, &payload); err != nil {
		return nil, err
	}

	results := summarize(payload.Results)
	if c.trending != nil {
		c.trending.Add(c.cfg.Language, results)
	}
	return results, nil
}

// Search runs a title search. page 0 means the first page.
func (c *Client) Search(ctx context.Context, query string, page int) (*SearchPage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperror.ValidationFailed("query", "Query parameter is required")
	}
	if page == 0 {
		page = 1
	}
	if page < 1 || page > MaxPage {
		return nil, apperror.ValidationFailed("page", fmt.Sprintf("page must be between 1 and %d", MaxPage))
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("page", strconv.Itoa(page))
	params.Set("include_adult", "false")

	var payload tmdbList
	if err := c.get(ctx, endpointSearch, []string{"search", "movie"}, params, &payload); err != nil {
		return nil, err
	}

	current := payload.Page
	if current == 0 {
		current = page
	}
	return &SearchPage{
		Results:      summarize(payload.Results),
		CurrentPage:  current,
		TotalPages:   payload.TotalPages,
		TotalResults: payload.TotalResults,
	}, nil
}

// Details fetches one movie with its top-billed cast.
func (c *Client) Details(ctx context.Context, id int64) (*MovieDetails, error) {
	const endpoint = endpointDetails
	if id <= 0 {
		return nil, apperror.ValidationFailed("id", "movie id must be a positive integer")
	}
	if c.details != nil {
		if cached, ok := c.details.Get(id); ok {
			metrics.CatalogCache.WithLabelValues(endpoint, "hit").Inc()
			return cached, nil
		}
		metrics.CatalogCache.WithLabelValues(endpoint, "miss").Inc()
	}

	params := url.Values{}
	params.Set("append_to_response", "credits")

	var payload tmdbDetails
	err := c.get(ctx, endpoint, []string{"movie", strconv.FormatInt(id, 10)}, params, &payload)
	if err != nil {
		if errors.Is(err, errProviderNotFound) {
			return nil, apperror.NotFound("movie", strconv.FormatInt(id, 10))
		}
		return nil, err
	}

	details := &MovieDetails{
		ID:           payload.ID,
		Title:        payload.Title,
		Overview:     payload.Overview,
		PosterPath:   payload.PosterPath,
		BackdropPath: payload.BackdropPath,
		ReleaseDate:  payload.ReleaseDate,
		Runtime:      payload.Runtime,
		VoteAverage:  payload.VoteAverage,
		Genres:       make([]string, 0, len(payload.Genres)),
		Cast:         topCast(payload.Credits.Cast, castLimit),
	}
	for _, g := range payload.Genres {
		details.Genres = append(details.Genres, g.Name)
	}

	if c.details != nil {
		c.details.Add(id, details)
	}
	return details, nil
}

func summarize(in []tmdbMovie) []MovieSummary {
	out := make([]MovieSummary, 0, len(in))
	for _, m := range in {
		out = append(out, MovieSummary{
			ID:          m.ID,
			Title:       m.Title,
			PosterPath:  m.PosterPath,
			ReleaseDate: m.ReleaseDate,
		})
	}
	return out
}

// topCast returns up to n names ordered by billing.
func topCast(cast []tmdbCastMember, n int) []string {
	sorted := slices.Clone(cast)
	slices.SortStableFunc(sorted, func(a, b tmdbCastMember) int {
		return cmp.Compare(a.Order, b.Order)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	names := make([]string, 0, len(sorted))
	for _, m := range sorted {
		names = append(names, m.Name)
	}
	return names
}
