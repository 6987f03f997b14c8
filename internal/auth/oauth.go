package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/sakif/docmeter/internal/model"
)

const defaultGitHubAPI = "https://api.github.com"

// githubUser is the portion of the GitHub /user response we read.
// Email is empty when the account hides its address.
type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Email string `json:"email"`
}

// githubEmail is one entry of the GitHub /user/emails response.
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub Authorization Code
// flow and turns the authenticated account into a Principal.
//
// The principal id is "github:<numeric id>". GitHub's numeric id never
// changes, unlike the login, so ledger rows stay attached to the same person
// across renames.
type GitHubProvider struct {
	config  *oauth2.Config
	apiBase string
}

// NewGitHubProvider creates a GitHubProvider with the given credentials.
// callbackURL must match the "Authorization callback URL" of the OAuth App.
//
// Scopes:
//   - "read:user" for the numeric id and login
//   - "user:email" so hidden addresses can still be read from /user/emails
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBase: defaultGitHubAPI,
	}
}

// AuthURL returns the URL to redirect the user to for authorization.
// state is echoed back on the callback and checked against a cookie.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for an access token and resolves
// the GitHub account behind it.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (model.Principal, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return model.Principal{}, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}
	return p.fetchPrincipal(ctx, p.config.Client(ctx, oauthToken))
}

// fetchPrincipal reads /user and, when the profile email is hidden, falls
// back to the primary verified address from /user/emails. A principal
// without any usable email is still valid; it just can never be the admin.
func (p *GitHubProvider) fetchPrincipal(ctx context.Context, client *http.Client) (model.Principal, error) {
	var user githubUser
	if err := p.getJSON(ctx, client, "/user", &user); err != nil {
		return model.Principal{}, err
	}
	if user.ID == 0 {
		return model.Principal{}, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}

	email := user.Email
	if email == "" {
		var emails []githubEmail
		if err := p.getJSON(ctx, client, "/user/emails", &emails); err != nil {
			return model.Principal{}, err
		}
		email = primaryVerifiedEmail(emails)
	}

	return model.NewPrincipal("github:"+strconv.FormatInt(user.ID, 10), email), nil
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("auth: building GitHub %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: calling GitHub %s API: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: GitHub %s API returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("auth: decoding GitHub %s response: %w", path, err)
	}
	return nil
}

func primaryVerifiedEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	return ""
}
