// Package auth provides password hashing, JWT issuance/validation and the
// bearer-token middleware for the watchlist API.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. Client POSTs /api/auth/signup or /api/auth/login with email + password
//  2. Server verifies the bcrypt hash (login) or stores a new one (signup)
//  3. Server issues a JWT access token and returns it in the JSON body
//  4. Client sends "Authorization: Bearer <token>" on /api/watchlist calls
//  5. RequireAuth validates the JWT and puts the user identity in the
//     request context; handlers scope every query by that id
//
// WHY JWT?
// JWT is stateless: everything needed to authenticate (user id, expiry) is
// inside the signed token, so no session table is consulted per request.
// The flip side is that there is no revocation. A token stays valid until
// it expires, which is why the lifetime is short (one hour by default).
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<userID>","username":"alice","exp":1234567890,...}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/movie-watchlist/internal/apperror"
)

const (
	// DefaultTokenTTL is how long an access token stays valid.
	DefaultTokenTTL = time.Hour
	// DefaultIssuer is written to "iss" and required on validation, so
	// tokens minted by other apps sharing the secret are rejected.
	DefaultIssuer = "movie-watchlist"
)

// ErrInvalidToken is returned (wrapped) for every validation failure. The
// client only ever sees its message; the wrapped cause is for logs.
var ErrInvalidToken = apperror.Unauthorized("invalid or expired token")

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption customises a TokenService.
type TokenOption func(*TokenService)

// WithTTL overrides the token lifetime.
func WithTTL(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithIssuer overrides the "iss" claim.
func WithIssuer(iss string) TokenOption {
	return func(s *TokenService) {
		if iss != "" {
			s.issuer = iss
		}
	}
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	s := &TokenService{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// claims is the JWT payload. "sub" carries the user id. Username is an
// optional convenience claim for clients; nothing secret goes in here,
// since the payload is only base64, not encrypted.
type claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Identity is what a valid token proves about its bearer.
type Identity struct {
	UserID   string
	Username string
}

// Generate signs a token for the user with the configured lifetime.
func (s *TokenService) Generate(userID, username string) (string, error) {
	return s.GenerateWithDuration(userID, username, s.ttl)
}

// GenerateWithDuration signs a token with a custom lifetime. Tests use a
// negative duration to mint already-expired tokens.
func (s *TokenService) GenerateWithDuration(userID, username string, d time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: cannot sign a token without a subject")
	}
	now := s.now()

	c := claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    s.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired, and carries an expiry at all
//   - Issuer matches
//   - Algorithm is HS256 (prevents "alg":"none" and RS/HS confusion attacks)
//
// Every failure wraps ErrInvalidToken.
func (s *TokenService) Validate(tokenStr string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	return &Identity{UserID: c.Subject, Username: c.Username}, nil
}
