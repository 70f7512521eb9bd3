// Package service: authentication business logic.
//
// AuthService sits between the HTTP handlers and the credential store:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ PasswordService (bcrypt), TokenService (JWT)
//
// KEY RESPONSIBILITIES:
//   - Normalize and validate signup input
//   - Hash passwords before they reach the store
//   - Verify credentials without leaking which emails exist
//   - Issue the access token only after verification finished
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/movie-watchlist/internal/apperror"
	"github.com/sakif/movie-watchlist/internal/auth"
	"github.com/sakif/movie-watchlist/internal/metrics"
	"github.com/sakif/movie-watchlist/internal/model"
	"github.com/sakif/movie-watchlist/internal/repository"
	"github.com/sakif/movie-watchlist/internal/validation"
)

const (
	msgAllFieldsRequired   = "All fields are required."
	msgLoginFieldsRequired = "Email and password are required."
	msgInvalidCredentials  = "Invalid credentials"
)

// errInvalidCredentials is the single answer for unknown email and wrong
// password. Both paths must produce the same body.
var errInvalidCredentials = apperror.Unauthorized(msgInvalidCredentials)

// AuthService handles the authentication business logic.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository  → read/write user records
//   - tokens     *auth.TokenService         → issue JWTs
//   - passwords  *auth.PasswordService      → bcrypt hashing
//   - logger     *slog.Logger               → structured logging
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// AuthResult is what signup and login return to the client.
type AuthResult struct {
	Token string           `json:"token"`
	User  model.PublicUser `json:"user"`
}

// SignupInput is the normalized signup form. The validate tags run after
// trimming, so whitespace-only values count as missing.
type SignupInput struct {
	Username string `json:"username" validate:"required,max=50"`
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Signup registers a new account and logs it in.
//
// ORDER OF CHECKS:
//  1. Presence of all three fields ("All fields are required.")
//  2. Format rules (email address, username length, bcrypt byte limit)
//  3. Uniqueness pre-checks, for a friendly field-specific message
//  4. Insert. The UNIQUE constraints still decide races the pre-check lost;
//     the store maps those violations to the same conflict errors.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)

	if in.Username == "" || in.Email == "" || in.Password == "" {
		return nil, apperror.ValidationFailed("", msgAllFieldsRequired)
	}
	if err := validation.Struct(&in); err != nil {
		return nil, err
	}
	if len(in.Password) > auth.MaxPasswordBytes {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
	}

	taken, err := s.users.ExistsByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("service/auth: checking email: %w", err)
	}
	if taken {
		return nil, apperror.Conflict("email", "Email already in use.")
	}

	taken, err = s.users.ExistsByUsername(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("service/auth: checking username: %w", err)
	}
	if taken {
		return nil, apperror.Conflict("username", "Username already taken")
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	user := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	metrics.Signups.Inc()
	s.logger.Info("user signed up",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)

	return s.issue(user)
}

// Login verifies credentials and issues a token.
//
// TIMING:
// An unknown email still pays for one bcrypt comparison (VerifyDummy), so
// the response time does not reveal whether the address is registered.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("", msgLoginFieldsRequired)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("service/auth: looking up user: %w", err)
		}
		s.passwords.VerifyDummy(password)
		metrics.Logins.WithLabelValues("failure").Inc()
		return nil, errInvalidCredentials
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, fmt.Errorf("service/auth: verifying password: %w", err)
		}
		metrics.Logins.WithLabelValues("failure").Inc()
		return nil, errInvalidCredentials
	}

	metrics.Logins.WithLabelValues("success").Inc()
	s.logger.Info("user logged in", slog.String("userID", user.ID))

	return s.issue(user)
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{Token: token, User: user.Public()}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
