package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, "authgate", cfg.Server.AppName)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Session.Lifetime)
	assert.True(t, cfg.Session.CookieSecure)
	assert.Equal(t, time.Hour, cfg.JWT.TTL)
	assert.Equal(t, "localhost", cfg.Passkey.Host)
	assert.Equal(t, 60*time.Second, cfg.Passkey.Timeout)
	assert.False(t, cfg.OAuth.Enabled())
	assert.True(t, cfg.OAuth.PKCE)
}

func TestFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  app_name: shop
  base_path: /account
database:
  driver: postgres
  dsn: postgres://localhost/shop
session:
  lifetime: 30m
passkey:
  relying_party_name: Shop
  host: shop.example.com
  allowed_origins: [https://shop.example.com]
oauth:
  provider: google
  client_id: abc
  redirect_url: https://shop.example.com/account/oauth2/callback
`), 0600))

	t.Setenv("AUTHGATE_DATABASE_DSN", "postgres://db/override")
	t.Setenv("AUTHGATE_LOG_FORMAT", "json")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.Server.AppName)
	assert.Equal(t, "/account", cfg.Server.BasePath)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://db/override", cfg.Database.DSN)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 30*time.Minute, cfg.Session.Lifetime)
	assert.Equal(t, []string{"https://shop.example.com"}, cfg.Passkey.AllowedOrigins)
	assert.True(t, cfg.OAuth.Enabled())
	assert.Equal(t, "google", cfg.OAuth.Provider)
}

func TestMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"unknown driver", "database.driver", "mysql"},
		{"empty dsn", "database.dsn", ""},
		{"relative base path", "server.base_path", "auth"},
		{"bad log format", "log.format", "xml"},
		{"bad log level", "log.level", "loud"},
		{"short jwt secret", "jwt.secret", "short"},
		{"passkey host with scheme", "passkey.host", "https://example.com"},
		{"zero lifetime", "session.lifetime", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.Set(tt.key, tt.val)
			_, err := Load(v, "")
			assert.Error(t, err)
		})
	}

	t.Run("incomplete custom provider", func(t *testing.T) {
		v := New()
		v.Set("oauth.provider", "custom")
		v.Set("oauth.client_id", "abc")
		v.Set("oauth.redirect_url", "https://example.com/cb")
		_, err := Load(v, "")
		assert.ErrorContains(t, err, "oauth")
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}
