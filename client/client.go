// Package client is a Go client for the authgate endpoints. It keeps the
// session cookie in a jar and, when the server issues one, the bearer token,
// so the same client can call protected APIs after logging in.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"

	ag "github.com/panyam/authgate"
)

// Identity is the body of the login, logout and /me responses.
type Identity struct {
	Authenticated bool   `json:"authenticated"`
	UserID        int64  `json:"user_id"`
	UserName      string `json:"user_name"`
	Token         string `json:"token,omitempty"`
}

// Client talks to one authgate server.
type Client struct {
	mu         sync.Mutex
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient uses hc for requests. Its transport is wrapped so the bearer
// token is attached, and a cookie jar is added when it has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc == nil {
			return
		}
		copied := *hc
		c.httpClient = &copied
	}
}

// New returns a client for the gate mounted at baseURL, for example
// "https://example.com/auth".
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.httpClient.Jar = jar
	}
	c.httpClient.Transport = &AuthTransport{Base: c.httpClient.Transport, Token: c.Token}
	return c, nil
}

// HTTPClient returns the underlying client. Requests made with it carry the
// session cookie and the bearer token.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Token returns the bearer token from the last login, if any.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Login authenticates with an email and password. Rejected credentials come
// back as an *authgate.AuthError with status 401.
func (c *Client) Login(ctx context.Context, email, password string) (Identity, error) {
	body, err := json.Marshal(map[string]string{"username": email, "password": password})
	if err != nil {
		return Identity{}, err
	}
	identity, err := c.do(ctx, http.MethodPost, "/login", body)
	if err != nil {
		return Identity{}, err
	}
	c.setToken(identity.Token)
	return identity, nil
}

// Me reports who the client is logged in as.
func (c *Client) Me(ctx context.Context) (Identity, error) {
	return c.do(ctx, http.MethodGet, "/me", nil)
}

// Logout ends the server session and forgets the bearer token.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/logout", nil)
	c.setToken("")
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (Identity, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Identity{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Identity{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Identity{}, decodeError(resp.StatusCode, data)
	}
	var identity Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return Identity{}, fmt.Errorf("decoding %s response: %w", path, err)
	}
	return identity, nil
}

func decodeError(status int, data []byte) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
		Field string `json:"field"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return ag.NewAuthError(ag.ErrCodeInternal, fmt.Sprintf("unexpected status %d", status), "").WithStatus(status)
	}
	return ag.NewAuthError(body.Code, body.Error, body.Field).WithStatus(status)
}
