package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sakif/docmeter/internal/model"
)

// contextKey is unexported so only this package can set or read these values.
type contextKey string

const (
	principalKey contextKey = "principal"
	orgIDKey     contextKey = "orgID"
)

const (
	// TokenCookie is the HttpOnly cookie holding the session JWT.
	TokenCookie = "token"
	// OrgHeader optionally names the organization a request acts for.
	OrgHeader = "X-Org-ID"
)

var errNoToken = errors.New("auth: no token presented")

// RequireAuth rejects requests without a valid token with 401 and otherwise
// stores the Principal in the request context.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := extractPrincipal(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"unauthorized","message":"valid authentication required"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withRequestIdentity(r, p)))
		})
	}
}

// OptionalAuth resolves the principal when a valid token is present and lets
// the request through either way. Gates further down decide what an anonymous
// request may do.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p, err := extractPrincipal(r, tokens); err == nil {
				r = r.WithContext(withRequestIdentity(r, p))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the resolved principal, or false for an
// anonymous request.
func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(model.Principal)
	return p, ok && p.ID != ""
}

// WithOrgID returns a copy of ctx carrying orgID.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgIDKey, orgID)
}

// OrgIDFromContext returns the organization the request acts for, if any.
func OrgIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(orgIDKey).(string)
	return id, ok && id != ""
}

// ContextResolver resolves the principal placed in the context by
// OptionalAuth or RequireAuth. Unauthenticated is (zero, false), not an error.
type ContextResolver struct{}

func (ContextResolver) Resolve(ctx context.Context) (model.Principal, bool) {
	return PrincipalFromContext(ctx)
}

func withRequestIdentity(r *http.Request, p model.Principal) context.Context {
	ctx := WithPrincipal(r.Context(), p)
	if org := strings.TrimSpace(r.Header.Get(OrgHeader)); org != "" {
		ctx = WithOrgID(ctx, org)
	}
	return ctx
}

// extractPrincipal reads the JWT from the session cookie, falling back to an
// "Authorization: Bearer" header for API clients, and validates it.
func extractPrincipal(r *http.Request, tokens *TokenService) (model.Principal, error) {
	if tokens == nil {
		return model.Principal{}, errNoToken
	}

	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return tokens.Validate(cookie.Value)
	}

	header := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return tokens.Validate(token)
		}
	}

	return model.Principal{}, errNoToken
}
