package cmd

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ag "github.com/panyam/authgate"
	"github.com/panyam/authgate/config"
)

func testConfig(t *testing.T, overrides map[string]any) *config.Config {
	t.Helper()
	dir := t.TempDir()
	v := config.New()
	v.Set("server.app_name", "apptest")
	v.Set("database.dsn", filepath.Join(dir, "authgate.db"))
	v.Set("session.cookie_secure", false)
	v.Set("session.store_path", filepath.Join(dir, "sessions.db"))
	v.Set("jwt.secret", strings.Repeat("k", 32))
	for key, value := range overrides {
		v.Set(key, value)
	}
	cfg, err := config.Load(v, "")
	require.NoError(t, err)
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) (*App, *httptest.Server) {
	t.Helper()
	app, err := NewApp(cfg)
	require.NoError(t, err)
	server := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		server.Close()
		app.Close()
	})
	return app, server
}

func newClient(t *testing.T) *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func readJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestServerPasswordLogin(t *testing.T) {
	app, server := startApp(t, testConfig(t, nil))
	_, err := app.Store.CreateUser(context.Background(), ag.NewUser{FirstName: "Ivy", LastName: "Chen", Email: "ivy@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	client := newClient(t)

	resp, err := client.Get(server.URL + "/auth/account")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = client.PostForm(server.URL+"/auth/login", url.Values{"username": {"ivy@example.com"}, "password": {"wrong"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp, err = client.PostForm(server.URL+"/auth/login", url.Values{"username": {"ivy@example.com"}, "password": {"s3cret-pass"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readJSON(t, resp)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "Ivy Chen", body["user_name"])
	token, _ := body["token"].(string)
	assert.NotEmpty(t, token)

	resp, err = client.Get(server.URL + "/auth/account")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ivy@example.com", readJSON(t, resp)["email"])

	resp, err = client.Get(server.URL + "/auth/passkey/register/options")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// the bearer token works without the session cookie
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, true, readJSON(t, resp)["authenticated"])

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(metrics), `authgate_attempts_total{method="password",outcome="success"}`)
}

func TestDisabledUserLosesSession(t *testing.T) {
	app, server := startApp(t, testConfig(t, nil))
	user, err := app.Store.CreateUser(context.Background(), ag.NewUser{Email: "jo@example.com", Password: "password1"})
	require.NoError(t, err)
	client := newClient(t)

	resp, err := client.PostForm(server.URL+"/auth/login", url.Values{"username": {"jo@example.com"}, "password": {"password1"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	require.NoError(t, app.Store.SetActive(context.Background(), user.ID, false))
	resp, err = client.Get(server.URL + "/auth/account")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}

// newIdentityProvider serves the token and userinfo endpoints of a custom
// provider that signs in email.
func newIdentityProvider(t *testing.T, email string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good-code" || r.PostForm.Get("code_verifier") == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "idp-token", "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer idp-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"sub": "idp-1", "email": email, "name": "Kim Park"})
	})
	idp := httptest.NewServer(mux)
	t.Cleanup(idp.Close)
	return idp
}

func TestServerOAuthRecovery(t *testing.T) {
	idp := newIdentityProvider(t, "kim@example.com")
	app, server := startApp(t, testConfig(t, map[string]any{
		"oauth.provider":     "custom",
		"oauth.client_id":    "client-1",
		"oauth.redirect_url": "http://localhost/auth/oauth2/callback",
		"oauth.auth_url":     idp.URL + "/authorize",
		"oauth.token_url":    idp.URL + "/token",
		"oauth.userinfo_url": idp.URL + "/userinfo",
	}))
	_, err := app.Store.CreateUser(context.Background(), ag.NewUser{Email: "kim@example.com"})
	require.NoError(t, err)
	client := newClient(t)

	resp, err := client.Get(server.URL + "/auth/account")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(location.String(), idp.URL+"/authorize"))
	state := location.Query().Get("state")
	assert.NotEmpty(t, state)
	assert.Equal(t, "S256", location.Query().Get("code_challenge_method"))

	resp, err = client.Get(server.URL + "/auth/oauth2/callback?code=good-code&state=" + url.QueryEscape(state))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	landing := resp.Header.Get("Location")
	assert.Equal(t, "/auth/account", landing)

	resp, err = client.Get(server.URL + landing)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "kim@example.com", readJSON(t, resp)["email"])

	// a second browser with a forged state is refused
	other := newClient(t)
	resp, err = other.Get(server.URL + "/auth/account")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	resp, err = other.Get(server.URL + "/auth/oauth2/callback?code=good-code&state=forged")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestServerOAuthLandsOnDefault(t *testing.T) {
	idp := newIdentityProvider(t, "lee@example.com")
	app, server := startApp(t, testConfig(t, map[string]any{
		"oauth.provider":     "custom",
		"oauth.client_id":    "client-1",
		"oauth.redirect_url": "http://localhost/auth/oauth2/callback",
		"oauth.auth_url":     idp.URL + "/authorize",
		"oauth.token_url":    idp.URL + "/token",
		"oauth.userinfo_url": idp.URL + "/userinfo",
	}))
	_, err := app.Store.CreateUser(context.Background(), ag.NewUser{Email: "lee@example.com"})
	require.NoError(t, err)
	client := newClient(t)

	resp, err := client.Get(server.URL + "/auth/oauth2/login")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)

	resp, err = client.Get(server.URL + "/auth/oauth2/callback?code=good-code&state=" + url.QueryEscape(location.Query().Get("state")))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/auth/account", resp.Header.Get("Location"))
}

func TestHealthz(t *testing.T) {
	_, server := startApp(t, testConfig(t, map[string]any{"session.store_path": ""}))
	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", readJSON(t, resp)["status"])
}

func TestOpenDatabaseRejectsUnknownDriver(t *testing.T) {
	_, err := openDatabase(config.DatabaseConfig{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}
