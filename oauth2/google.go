package oauth2

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// ErrUnverifiedEmail is returned when the provider reports that the address
// it returned has not been verified.
var ErrUnverifiedEmail = errors.New("provider email is not verified")

type GoogleOAuth2 struct {
	*BaseOAuth2
}

func NewGoogleOAuth2(clientID, clientSecret, redirectURL string) *GoogleOAuth2 {
	return &GoogleOAuth2{
		BaseOAuth2: NewBaseOAuth2("google", oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		}, GoogleUserInfoURL),
	}
}

// ResourceOwner refuses addresses Google has not verified, since the
// address is what links the account to a local user.
func (g *GoogleOAuth2) ResourceOwner(ctx context.Context, token *oauth2.Token) (ResourceOwner, error) {
	owner, err := g.BaseOAuth2.ResourceOwner(ctx, token)
	if err != nil {
		return owner, err
	}
	if verified, ok := owner.Profile["email_verified"].(bool); ok && !verified {
		return ResourceOwner{}, ErrUnverifiedEmail
	}
	return owner, nil
}
