package service

import (
	"fmt"
	"log/slog"

	"github.com/sakif/docmeter/internal/auth"
	"github.com/sakif/docmeter/internal/model"
)

// Profile is what the API reports about the signed-in caller.
type Profile struct {
	ID      string  `json:"id"`
	Email   *string `json:"email,omitempty"`
	IsAdmin bool    `json:"isAdmin"`
}

// AuthResult is returned after a successful sign-in.
type AuthResult struct {
	Profile Profile
	Token   string
}

// AuthService turns a principal confirmed by the identity provider into a
// session token. Principals are not stored; the token is the only state.
type AuthService struct {
	tokens *auth.TokenService
	admin  AdminChecker
	logger *slog.Logger
}

func NewAuthService(tokens *auth.TokenService, admin AdminChecker, logger *slog.Logger) *AuthService {
	return &AuthService{
		tokens: tokens,
		admin:  admin,
		logger: logger,
	}
}

// SignIn issues a token for p.
func (s *AuthService) SignIn(p model.Principal) (*AuthResult, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("service/auth: principal id must not be empty")
	}

	token, err := s.tokens.Generate(p)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for %s: %w", p.ID, err)
	}

	profile := s.Profile(p)
	s.logger.Info("principal signed in",
		slog.String("userID", p.ID),
		slog.Bool("admin", profile.IsAdmin),
	)

	return &AuthResult{Profile: profile, Token: token}, nil
}

// Profile describes p, including whether it is the operator.
func (s *AuthService) Profile(p model.Principal) Profile {
	return Profile{
		ID:      p.ID,
		Email:   p.Email,
		IsAdmin: s.admin != nil && s.admin.IsAdmin(p.Email),
	}
}

// TokenTTL is how long an issued token stays valid.
func (s *AuthService) TokenTTL() int {
	return int(s.tokens.TTL().Seconds())
}
