// Package auth resolves the authenticated principal of a request and decides
// whether that principal is the designated operator.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. User visits /auth/github/login → redirected to GitHub
//  2. GitHub calls back /auth/github/callback with a code
//  3. Server exchanges the code for the GitHub identity (id + primary email)
//  4. Server issues a signed JWT carrying that principal, stored in an
//     HttpOnly cookie
//  5. On later requests the middleware validates the JWT and puts the
//     Principal in the request context
//
// Nothing about the principal is stored server-side: the token is the session.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"github:42","email":"a@b.c","exp":1234567890}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/docmeter/internal/model"
)

const (
	tokenIssuer = "docmeter"

	// DefaultTokenTTL is used when NewTokenService is given a non-positive TTL.
	DefaultTokenTTL = 15 * time.Minute
)

// TokenService handles JWT creation and validation.
//
// It holds the HMAC secret used to sign and verify tokens. The same secret
// must be used for both operations.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret and lifetime.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL reports how long issued tokens stay valid.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// claims is the JWT payload: "sub" carries the principal id and "email" the
// normalized address, omitted when the provider did not share one.
type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Generate signs a token for p that expires after the service TTL.
func (s *TokenService) Generate(p model.Principal) (string, error) {
	return s.GenerateWithDuration(p, s.ttl)
}

// GenerateWithDuration signs a token with a custom lifetime.
// Used in tests (negative d yields an already-expired token).
func (s *TokenService) GenerateWithDuration(p model.Principal, d time.Duration) (string, error) {
	if p.ID == "" {
		return "", errors.New("auth: principal has no id")
	}

	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    tokenIssuer,
		},
	}
	if email := model.NormalizeEmail(p.Email); email != nil {
		c.Email = *email
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string and returns the principal it
// carries.
//
// The library checks the signature, expiry, issuer and algorithm. Pinning the
// method to HS256 rejects "alg: none" and RS/HS confusion tokens.
func (s *TokenService) Validate(tokenStr string) (model.Principal, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Principal{}, fmt.Errorf("auth: token expired")
		}
		return model.Principal{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return model.Principal{}, fmt.Errorf("auth: invalid token claims")
	}

	if c.Subject == "" {
		return model.Principal{}, fmt.Errorf("auth: token has no subject")
	}

	return model.NewPrincipal(c.Subject, c.Email), nil
}
