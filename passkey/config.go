package passkey

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// DevelopmentOrigin is added to the allowed origins in development mode.
const DevelopmentOrigin = "http://localhost:8080"

// Config holds the relying party settings for passkey ceremonies.
type Config struct {
	// RelyingPartyName is shown to the user by the authenticator.
	RelyingPartyName string `mapstructure:"relying_party_name"`

	// Host is the relying party id, a bare host name such as "example.com".
	Host string `mapstructure:"host"`

	// AllowedOrigins lists the origins responses may come from. Empty means
	// https://<Host> only.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// DevelopmentMode also allows DevelopmentOrigin. Never enable in production.
	DevelopmentMode bool `mapstructure:"development_mode"`

	// Timeout is the ceremony timeout handed to the client. Default: 60s
	Timeout time.Duration `mapstructure:"timeout"`
}

func (c *Config) Validate() error {
	if c.RelyingPartyName == "" {
		return fmt.Errorf("relying party name is required")
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if strings.ContainsAny(c.Host, "/:") {
		return fmt.Errorf("host must be a bare host name, got %q", c.Host)
	}
	for _, origin := range c.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid allowed origin %q", origin)
		}
	}
	return nil
}

// Origins returns the effective origin allow-list.
func (c *Config) Origins() []string {
	origins := slices.Clone(c.AllowedOrigins)
	if len(origins) == 0 {
		origins = []string{"https://" + c.Host}
	}
	if c.DevelopmentMode && !slices.Contains(origins, DevelopmentOrigin) {
		origins = append(origins, DevelopmentOrigin)
	}
	return origins
}

func (c *Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 60 * time.Second
	}
	return c.Timeout
}

// ToWebAuthnConfig converts to the go-webauthn configuration. Attestation is
// never requested: only the "none" trust model is supported.
func (c *Config) ToWebAuthnConfig() *webauthn.Config {
	timeout := webauthn.TimeoutConfig{Enforce: false, Timeout: c.timeout(), TimeoutUVD: c.timeout()}
	return &webauthn.Config{
		RPID:                  c.Host,
		RPDisplayName:         c.RelyingPartyName,
		RPOrigins:             c.Origins(),
		AttestationPreference: protocol.PreferNoAttestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		},
		Timeouts: webauthn.TimeoutsConfig{Login: timeout, Registration: timeout},
	}
}
