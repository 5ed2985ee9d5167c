package oauth2

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	ag "github.com/panyam/authgate"
)

// ProviderConfig selects and configures the single identity provider.
// Provider is "google", "github" or "custom"; a custom provider needs the
// three endpoint URLs.
type ProviderConfig struct {
	Provider     string   `mapstructure:"provider"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	UserInfoURL  string   `mapstructure:"userinfo_url"`
	PKCE         bool     `mapstructure:"pkce"`

	// AutoProvision creates a local user on first login instead of failing
	// with ErrNoLocalAccount.
	AutoProvision bool `mapstructure:"auto_provision"`
}

// Enabled reports whether a provider is configured at all.
func (c ProviderConfig) Enabled() bool {
	return c.Provider != "" && c.ClientID != ""
}

// NewProvider builds the Provider described by cfg. Scopes and endpoint URLs
// given in cfg override the presets.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("oauth client_id is required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("oauth redirect_url is required")
	}

	var base *BaseOAuth2
	var provider Provider
	switch strings.ToLower(cfg.Provider) {
	case "google":
		g := NewGoogleOAuth2(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL)
		base, provider = g.BaseOAuth2, g
	case "github":
		g := NewGithubOAuth2(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL)
		base, provider = g.BaseOAuth2, g
	case "custom", "":
		if cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "" {
			return nil, errors.New("custom oauth provider needs auth_url, token_url and userinfo_url")
		}
		base = NewBaseOAuth2("custom", oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
		}, cfg.UserInfoURL)
		provider = base
	default:
		return nil, fmt.Errorf("unknown oauth provider %q", cfg.Provider)
	}

	if len(cfg.Scopes) > 0 {
		base.Config.Scopes = cfg.Scopes
	}
	if cfg.AuthURL != "" {
		base.Config.Endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		base.Config.Endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.UserInfoURL != "" {
		base.UserInfoURL = cfg.UserInfoURL
	}
	base.PKCE = cfg.PKCE
	return provider, nil
}

// Mount serves the flow entry at <prefix>/login and the callback at
// <prefix>/callback on gate, and records both paths on the coordinator.
func Mount(gate *ag.AuthGate, prefix string, c *Coordinator) {
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	c.LoginPath = prefix + "/login"
	c.CallbackPath = prefix + "/callback"
	gate.HandleFlow(c.LoginPath, c)
	gate.HandleFlow(c.CallbackPath, c)
}

// CreateUserProvisioner provisions a password-less local user from the
// provider's verified email and display name.
func CreateUserProvisioner(users ag.UserWriter) ProvisionFunc {
	return func(ctx context.Context, owner ResourceOwner) (ag.UserIdentity, error) {
		first, last, _ := strings.Cut(strings.TrimSpace(owner.Name), " ")
		return users.CreateUser(ctx, ag.NewUser{
			FirstName: first,
			LastName:  strings.TrimSpace(last),
			Email:     owner.Email,
		})
	}
}
