package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//
//	{"error": "movie not found with id 550", "code": "not_found"}
//	{"error": "Email already in use.", "code": "conflict", "field": "email"}
//
// "error" is the human-readable message, "code" is stable and
// machine-readable, and "field" names the offending input when there is one.

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/sakif/movie-watchlist/internal/apperror"
)

// maxBodyBytes caps request bodies. Every body this API accepts is tiny.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error string `json:"error"`           // Human-readable description
	Code  string `json:"code"`            // Machine-readable kind (e.g. "not_found")
	Field string `json:"field,omitempty"` // Offending input field, if known
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status go out before the body. Once Encode writes, any
// header change is silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent, we can only log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
//
//	apperror.ErrValidation   → 400 validation_error
//	apperror.ErrUnauthorized → 401 unauthorized
//	apperror.ErrNotFound     → 404 not_found
//	apperror.ErrConflict     → 409 conflict
//	apperror.ErrUpstream     → 502 upstream_error
//	anything else            → 500 internal_error
//
// errors.Is walks the whole chain, so a service that wraps with
// fmt.Errorf("service/x: ...: %w", err) still maps correctly.
//
// Upstream and internal failures are logged on the handler's logger, which
// carries its component attribute. A nil logger falls back to slog.Default.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, code := classify(err)
		if status == http.StatusBadGateway {
			// The client gets the short message; the cause is for us.
			logger.Warn("upstream failure", slog.String("error", err.Error()))
		}
		if status != http.StatusInternalServerError {
			writeJSON(w, status, ErrorResponse{
				Error: appErr.Message,
				Code:  code,
				Field: appErr.Field,
			})
			return
		}
	}

	// Unknown error: return a generic 500.
	// NEVER expose internal error details to the client. The raw message
	// might contain SQL, file paths or other sensitive info.
	logger.Error("internal error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: "An internal error occurred",
		Code:  "internal_error",
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeJSON reads a JSON request body into dst.
//
// Any malformed, oversized or empty body is a validation error, so the
// client gets a 400 rather than a 500.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("", "Request body is required")
		}
		return apperror.ValidationFailed("", "Invalid JSON body")
	}
	return nil
}

// NotFound answers unknown routes with the standard error body.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Route not found", Code: "not_found"})
}

// MethodNotAllowed answers a known route hit with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Error: "Method not allowed",
		Code:  "method_not_allowed",
	})
}

// TooManyRequests is the body the auth rate limiter sends.
func TooManyRequests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error: "Too many requests, please try again later",
		Code:  "rate_limited",
	})
}
