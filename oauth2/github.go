package oauth2

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	GithubUserInfoURL = "https://api.github.com/user"
	GithubEmailsURL   = "https://api.github.com/user/emails"
)

type GithubOAuth2 struct {
	*BaseOAuth2

	// EmailsURL lists the user's addresses, for accounts whose public
	// profile hides the email.
	EmailsURL string
}

func NewGithubOAuth2(clientID, clientSecret, redirectURL string) *GithubOAuth2 {
	base := NewBaseOAuth2("github", oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     github.Endpoint,
		Scopes:       []string{"read:user", "user:email"},
	}, GithubUserInfoURL)
	return &GithubOAuth2{BaseOAuth2: base, EmailsURL: GithubEmailsURL}
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// ResourceOwner reads the profile and, when it carries no email, falls back
// to the primary verified address from the emails endpoint.
func (g *GithubOAuth2) ResourceOwner(ctx context.Context, token *oauth2.Token) (ResourceOwner, error) {
	owner, err := g.BaseOAuth2.ResourceOwner(ctx, token)
	if err != nil || owner.Email != "" || g.EmailsURL == "" {
		return owner, err
	}

	body, err := g.getJSON(ctx, token, g.EmailsURL)
	if err != nil {
		return ResourceOwner{}, err
	}
	var emails []githubEmail
	if err := json.Unmarshal(body, &emails); err != nil {
		return ResourceOwner{}, fmt.Errorf("decoding github emails: %w", err)
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			owner.Email = e.Email
			break
		}
	}
	return owner, nil
}
