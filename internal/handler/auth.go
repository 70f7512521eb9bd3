package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/movie-watchlist/internal/service"
)

// Authenticator is the slice of service.AuthService the handler needs.
type Authenticator interface {
	Signup(ctx context.Context, in service.SignupInput) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
}

// AuthHandler serves signup and login.
//
// Both endpoints answer with the same shape:
//
//	{"token": "<jwt>", "user": {"id": "...", "username": "alice"}}
//
// The client keeps the token and sends it back as
// "Authorization: Bearer <jwt>" on /api/watchlist calls.
type AuthHandler struct {
	auth   Authenticator
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(auth Authenticator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleSignup creates an account.
//
// HTTP: POST /api/auth/signup → 201 Created
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.auth.Signup(r.Context(), service.SignupInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// HandleLogin exchanges credentials for a token.
//
// HTTP: POST /api/auth/login → 200 OK
//
// Unknown email and wrong password produce the same 401 body.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}
