package passkey_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ag "github.com/panyam/authgate"
	"github.com/panyam/authgate/passkey"
)

func newPasskeyServer(t *testing.T) (*httptest.Server, *memCredentials) {
	t.Helper()
	users := newFakeUsers(t, "pw")
	credentials := &memCredentials{}
	gate := ag.New("PasskeyTest", nil, users, users)
	ceremony, err := passkey.New(testConfig, gate.Sessions, users, credentials)
	require.NoError(t, err)
	gate.AddAuth("/passkey", passkey.NewHandler(ceremony, gate.Sessions, gate.Middleware))

	app := httptest.NewServer(gate.Handler())
	t.Cleanup(app.Close)
	return app, credentials
}

func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func getBody(t *testing.T, client *http.Client, rawURL string) (int, string) {
	t.Helper()
	resp, err := client.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func postJSON(t *testing.T, client *http.Client, rawURL, body string) (int, map[string]any) {
	t.Helper()
	resp, err := client.Post(rawURL, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestPasskeyScenario(t *testing.T) {
	app, credentials := newPasskeyServer(t)
	browser := newBrowser(t)
	auth := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{UserHandle: carol.ExternalID()})
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	// registration needs a logged in user
	status, _ := getBody(t, browser, app.URL+"/passkey/register/options")
	assert.Equal(t, http.StatusForbidden, status)

	resp, err := browser.PostForm(app.URL+"/login", url.Values{"username": {carol.Email}, "password": {"pw"}})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status, options := getBody(t, browser, app.URL+"/passkey/register/options")
	require.Equal(t, http.StatusOK, status)
	parsed, err := virtualwebauthn.ParseAttestationOptions(options)
	require.NoError(t, err)
	attestation := virtualwebauthn.CreateAttestationResponse(testRP, auth, cred, *parsed)

	status, result := postJSON(t, browser, app.URL+"/passkey/register", attestation)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"verified": true}, result)
	assert.Equal(t, 1, credentials.count())
	auth.AddCredential(cred)

	// log out and come back with the passkey
	resp, err = browser.Post(app.URL+"/logout", "", nil)
	require.NoError(t, err)
	resp.Body.Close()

	status, options = getBody(t, browser, app.URL+"/passkey/login/options")
	require.Equal(t, http.StatusOK, status)
	parsedLogin, err := virtualwebauthn.ParseAssertionOptions(options)
	require.NoError(t, err)
	cred.Counter = 1
	assertion := virtualwebauthn.CreateAssertionResponse(testRP, auth, cred, *parsedLogin)

	status, result = postJSON(t, browser, app.URL+"/passkey/login", assertion)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, result["verified"])

	status, me := getBody(t, browser, app.URL+"/me")
	require.Equal(t, http.StatusOK, status)
	var identity map[string]any
	require.NoError(t, json.Unmarshal([]byte(me), &identity))
	assert.Equal(t, true, identity["authenticated"])
	assert.Equal(t, float64(carol.ID), identity["user_id"])
}

func TestPasskeyRejectionsAreNotServerErrors(t *testing.T) {
	app, credentials := newPasskeyServer(t)
	browser := newBrowser(t)

	status, result := postJSON(t, browser, app.URL+"/passkey/login", `{"id":"x","response":{}}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, result["verified"])
	assert.Equal(t, string(passkey.ReasonInvalidResponseType), result["reason"])

	// a well formed assertion without any challenge issued
	auth := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{UserHandle: carol.ExternalID()})
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	_, options := getBody(t, newBrowser(t), app.URL+"/passkey/login/options")
	parsed, err := virtualwebauthn.ParseAssertionOptions(options)
	require.NoError(t, err)
	assertion := virtualwebauthn.CreateAssertionResponse(testRP, auth, cred, *parsed)

	status, result = postJSON(t, browser, app.URL+"/passkey/login", assertion)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(passkey.ReasonNoChallenge), result["reason"])
	assert.Equal(t, 0, credentials.count())

	status, me := getBody(t, browser, app.URL+"/me")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, me, `"authenticated":false`)
}
