package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/sakif/movie-watchlist/internal/apperror"
	"github.com/sakif/movie-watchlist/internal/metrics"
)

// maxBodyBytes bounds how much of a provider response we read.
const maxBodyBytes = 4 << 20

// Endpoint labels, used for metrics and logs. Only endpointDetails names a
// single resource, so only it treats a provider 404 as "no such movie".
const (
	endpointTrending = "trending"
	endpointSearch   = "search"
	endpointDetails  = "details"
)

// errProviderNotFound marks a provider 404 on a details lookup. Details
// turns it into apperror.NotFound.
var errProviderNotFound = errors.New("catalog: provider reported resource not found")

// rateLimitedError is a 429 response. RetryAfter is zero when the provider
// sent no usable hint.
type rateLimitedError struct {
	RetryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("catalog: rate limited, retry after %s", e.RetryAfter)
	}
	return "catalog: rate limited"
}

// statusError is any other unexpected provider status.
type statusError struct {
	Code    int
	Message string // provider's status_message, if any
}

func (e *statusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("catalog: provider returned %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("catalog: provider returned %d", e.Code)
}

// Wire formats. Only the fields we use are declared.

type tmdbMovie struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	Overview     string  `json:"overview"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
	ReleaseDate  string  `json:"release_date"`
	VoteAverage  float64 `json:"vote_average"`
}

type tmdbList struct {
	Page         int         `json:"page"`
	Results      []tmdbMovie `json:"results"`
	TotalPages   int         `json:"total_pages"`
	TotalResults int         `json:"total_results"`
}

type tmdbCastMember struct {
	Name  string `json:"name"`
	Order int    `json:"order"`
}

type tmdbDetails struct {
	tmdbMovie
	Runtime int `json:"runtime"`
	Genres  []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Credits struct {
		Cast []tmdbCastMember `json:"cast"`
	} `json:"credits"`
}

type tmdbErrorBody struct {
	StatusMessage string `json:"status_message"`
}

// get performs one logical provider call and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint string, path []string, params url.Values, out any) error {
	u := c.endpointURL(path, params)

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.fetchWithRetry(ctx, endpoint, u)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return apperror.Upstream("movie catalog is temporarily unavailable", err)
		case errors.Is(err, errProviderNotFound), errors.Is(err, apperror.ErrUpstream):
			return err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return apperror.Upstream("movie catalog request timed out", err)
		default:
			return apperror.Upstream("movie catalog request failed", err)
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error("decoding provider response",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return apperror.Upstream("movie catalog returned an unreadable response", err)
	}
	return nil
}

// fetchWithRetry retries only on 429. Every other failure returns at once.
//
// The wait before each retry is the provider's Retry-After when present,
// otherwise exponential backoff from RetryBaseDelay. Either way it is
// capped by MaxRetryWait, and the whole loop stops after MaxAttempts.
func (c *Client) fetchWithRetry(ctx context.Context, endpoint string, u string) ([]byte, error) {
	var body []byte

	err := retry.Do(
		func() error {
			b, err := c.fetchOnce(ctx, endpoint, u)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxAttempts)),
		retry.Delay(c.cfg.RetryBaseDelay),
		retry.MaxDelay(c.cfg.MaxRetryWait),
		retry.DelayType(c.retryDelay),
		retry.RetryIf(isRateLimited),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("provider rate limited, retrying",
				slog.String("endpoint", endpoint),
				slog.Uint64("attempt", uint64(n+1)),
				slog.Int("maxAttempts", c.cfg.MaxAttempts),
			)
		}),
	)
	if err != nil {
		if isRateLimited(err) {
			return nil, apperror.Upstream("movie catalog rate limit exceeded", err)
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) retryDelay(n uint, err error, config *retry.Config) time.Duration {
	var rl *rateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return min(rl.RetryAfter, c.cfg.MaxRetryWait)
	}
	return min(retry.BackOffDelay(n, err, config), c.cfg.MaxRetryWait)
}

func isRateLimited(err error) bool {
	var rl *rateLimitedError
	return errors.As(err, &rl)
}

// fetchOnce is a single HTTP round trip.
func (c *Client) fetchOnce(ctx context.Context, endpoint string, u string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperror.Upstream("movie catalog request cancelled", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		metrics.ObserveUpstream(endpoint, "error", time.Since(start))
		return nil, apperror.Upstream("movie catalog is unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.ObserveUpstream(endpoint, "error", time.Since(start))
		return nil, apperror.Upstream("movie catalog response was interrupted", err)
	}
	elapsed := time.Since(start)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		metrics.ObserveUpstream(endpoint, "ok", elapsed)
		return body, nil

	case resp.StatusCode == http.StatusNotFound && endpoint == endpointDetails:
		metrics.ObserveUpstream(endpoint, "not_found", elapsed)
		return nil, errProviderNotFound

	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.ObserveUpstream(endpoint, "rate_limited", elapsed)
		return nil, &rateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		metrics.ObserveUpstream(endpoint, "error", elapsed)
		c.logger.Error("provider rejected credentials", slog.Int("status", resp.StatusCode))
		return nil, apperror.Upstream("movie catalog rejected the server's credentials", newStatusError(resp.StatusCode, body))

	default:
		metrics.ObserveUpstream(endpoint, "error", elapsed)
		return nil, apperror.Upstream("movie catalog request failed", newStatusError(resp.StatusCode, body))
	}
}

func newStatusError(code int, body []byte) *statusError {
	var eb tmdbErrorBody
	_ = json.Unmarshal(body, &eb)
	return &statusError{Code: code, Message: eb.StatusMessage}
}

// parseRetryAfter accepts both forms of the header: delay-seconds and an
// HTTP-date. Anything unparseable or in the past yields zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func (c *Client) endpointURL(path []string, params url.Values) string {
	u := c.baseURL.JoinPath(path...)
	q := url.Values{}
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("language", c.cfg.Language)
	if c.cfg.ReadToken == "" {
		q.Set("api_key", c.cfg.APIKey)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
