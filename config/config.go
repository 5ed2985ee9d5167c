// Package config loads the authgate server configuration with viper from an
// optional file, AUTHGATE_ prefixed environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/panyam/authgate/oauth2"
	"github.com/panyam/authgate/passkey"
)

// EnvPrefix prefixes every environment override, e.g. AUTHGATE_DATABASE_DSN.
const EnvPrefix = "AUTHGATE"

type Config struct {
	Server   ServerConfig          `mapstructure:"server"`
	Log      LogConfig             `mapstructure:"log"`
	Database DatabaseConfig        `mapstructure:"database"`
	Session  SessionConfig         `mapstructure:"session"`
	JWT      JWTConfig             `mapstructure:"jwt"`
	Passkey  passkey.Config        `mapstructure:"passkey"`
	OAuth    oauth2.ProviderConfig `mapstructure:"oauth"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr"`
	AppName  string `mapstructure:"app_name"`
	BasePath string `mapstructure:"base_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres or sqlite
	DSN    string `mapstructure:"dsn"`
}

type SessionConfig struct {
	Lifetime     time.Duration `mapstructure:"lifetime"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
	// StorePath selects the bbolt session store; empty keeps sessions in memory.
	StorePath string `mapstructure:"store_path"`
}

type JWTConfig struct {
	// Secret enables bearer tokens at login when set.
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

var defaults = map[string]any{
	"server.addr":                "127.0.0.1:8080",
	"server.app_name":            "authgate",
	"server.base_path":           "/auth",
	"log.level":                  "info",
	"log.format":                 "text",
	"database.driver":            "sqlite",
	"database.dsn":               "authgate.db",
	"session.lifetime":           24 * time.Hour,
	"session.idle_timeout":       2 * time.Hour,
	"session.cookie_secure":      true,
	"session.store_path":         "",
	"jwt.secret":                 "",
	"jwt.issuer":                 "authgate",
	"jwt.ttl":                    time.Hour,
	"passkey.relying_party_name": "authgate",
	"passkey.host":               "localhost",
	"passkey.allowed_origins":    []string{},
	"passkey.development_mode":   false,
	"passkey.timeout":            60 * time.Second,
	"oauth.provider":             "",
	"oauth.client_id":            "",
	"oauth.client_secret":        "",
	"oauth.redirect_url":         "",
	"oauth.scopes":               []string{},
	"oauth.auth_url":             "",
	"oauth.token_url":            "",
	"oauth.userinfo_url":         "",
	"oauth.pkce":                 true,
	"oauth.auto_provision":       false,
}

// New returns a viper instance with defaults and environment overrides set
// up. Commands bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path into v, then decodes and
// validates the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.AppName == "" {
		errs = append(errs, errors.New("server.app_name is required"))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path must start with /, got %q", c.Server.BasePath))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Session.Lifetime <= 0 {
		errs = append(errs, errors.New("session.lifetime must be positive"))
	}
	if c.JWT.Secret != "" && len(c.JWT.Secret) < 32 {
		errs = append(errs, errors.New("jwt.secret must be at least 32 bytes"))
	}
	if err := c.Passkey.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("passkey: %w", err))
	}
	if c.OAuth.Enabled() {
		if _, err := oauth2.NewProvider(c.OAuth); err != nil {
			errs = append(errs, fmt.Errorf("oauth: %w", err))
		}
	}
	return errors.Join(errs...)
}
