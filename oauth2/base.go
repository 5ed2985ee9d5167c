// Package oauth2 resolves identities through an external OAuth2
// authorization code handshake, with state and PKCE kept in the session.
package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
)

// ResourceOwner is what a provider says about the user who approved the
// authorization request.
type ResourceOwner struct {
	Subject string
	Email   string
	Name    string
	Profile map[string]any
}

// Provider is the external party in the handshake.
type Provider interface {
	Name() string
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
	ResourceOwner(ctx context.Context, token *oauth2.Token) (ResourceOwner, error)
	SupportsPKCE() bool
}

// BaseOAuth2 is a Provider for any authorization server with a JSON user
// info endpoint. The google and github constructors preset it.
type BaseOAuth2 struct {
	ProviderName string
	Config       oauth2.Config
	UserInfoURL  string
	PKCE         bool

	// HTTPClient is used for the token exchange and user info calls.
	// nil means http.DefaultClient.
	HTTPClient *http.Client
}

var _ Provider = (*BaseOAuth2)(nil)

func NewBaseOAuth2(name string, config oauth2.Config, userInfoURL string) *BaseOAuth2 {
	return &BaseOAuth2{
		ProviderName: name,
		Config:       config,
		UserInfoURL:  userInfoURL,
		PKCE:         true,
	}
}

func (b *BaseOAuth2) Name() string       { return b.ProviderName }
func (b *BaseOAuth2) SupportsPKCE() bool { return b.PKCE }

func (b *BaseOAuth2) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	return b.Config.AuthCodeURL(state, opts...)
}

func (b *BaseOAuth2) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	return b.Config.Exchange(b.clientContext(ctx), code, opts...)
}

// ResourceOwner calls the user info endpoint with the access token and
// picks the subject, email and name out of the JSON document.
func (b *BaseOAuth2) ResourceOwner(ctx context.Context, token *oauth2.Token) (ResourceOwner, error) {
	profile, err := b.getJSON(ctx, token, b.UserInfoURL)
	if err != nil {
		return ResourceOwner{}, err
	}
	var info map[string]any
	if err := json.Unmarshal(profile, &info); err != nil {
		return ResourceOwner{}, fmt.Errorf("decoding user info: %w", err)
	}
	return ownerFromProfile(info), nil
}

func (b *BaseOAuth2) clientContext(ctx context.Context) context.Context {
	if b.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
}

func (b *BaseOAuth2) getJSON(ctx context.Context, token *oauth2.Token, url string) ([]byte, error) {
	client := b.Config.Client(b.clientContext(ctx), token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed getting %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed reading %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s answered with status %d", url, resp.StatusCode)
	}
	return body, nil
}

func ownerFromProfile(info map[string]any) ResourceOwner {
	owner := ResourceOwner{Profile: info}
	owner.Email, _ = info["email"].(string)
	owner.Name, _ = info["name"].(string)

	// OIDC style "sub", falling back to a numeric or string "id"
	switch {
	case info["sub"] != nil:
		owner.Subject = stringValue(info["sub"])
	case info["id"] != nil:
		owner.Subject = stringValue(info["id"])
	}
	return owner
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	return fmt.Sprint(v)
}
