package client

import (
	"net/http"
)

// AuthTransport adds an Authorization header with the current bearer token.
type AuthTransport struct {
	Base http.RoundTripper

	// Token is called per request; an empty token sends no header.
	Token func() string
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Token != nil && req.Header.Get("Authorization") == "" {
		if token := t.Token(); token != "" {
			// Clone the request to avoid mutating the original
			req2 := req.Clone(req.Context())
			req2.Header.Set("Authorization", "Bearer "+token)
			req = req2
		}
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
