package authgate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// MaxBodySize caps how much of a request body is read into an InboundRequest.
const MaxBodySize = 1 << 20

// InboundRequest is the part of an HTTP request the authentication flows look
// at. Building one explicitly keeps the flows testable without a server.
type InboundRequest struct {
	Method string
	URL    *url.URL
	Query  url.Values
	Header http.Header
	Body   []byte
}

// NewInboundRequest captures method, URL, query and headers of r. The body is
// left untouched.
func NewInboundRequest(r *http.Request) *InboundRequest {
	u := *r.URL
	return &InboundRequest{
		Method: r.Method,
		URL:    &u,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	}
}

// ReadInboundRequest is NewInboundRequest plus the body, up to MaxBodySize bytes.
func ReadInboundRequest(r *http.Request) (*InboundRequest, error) {
	in := NewInboundRequest(r)
	if r.Body == nil {
		return in, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	if len(body) > MaxBodySize {
		return nil, NewAuthError(ErrCodeBadRequest, "Request body too large", "").WithStatus(http.StatusRequestEntityTooLarge)
	}
	in.Body = body
	return in, nil
}

// FlowOutcomeKind says what the caller of a RecoveryFlow has to do next.
type FlowOutcomeKind int

const (
	// FlowRedirect ends the current request with a redirect to Location. The
	// flow resumes on a later request.
	FlowRedirect FlowOutcomeKind = iota + 1

	// FlowResolved means User was authenticated. The caller records the
	// identity, regenerates the session and sends the client to Location.
	FlowResolved
)

// FlowOutcome is the terminal result of one leg of a recovery flow.
type FlowOutcome struct {
	Kind     FlowOutcomeKind
	Location string
	User     UserIdentity
}

func RedirectOutcome(location string) FlowOutcome {
	return FlowOutcome{Kind: FlowRedirect, Location: location}
}

func ResolvedOutcome(user UserIdentity, landing string) FlowOutcome {
	return FlowOutcome{Kind: FlowResolved, User: user, Location: landing}
}

// RecoveryFlow is a flow the middleware can start when an unauthenticated
// request hits a protected resource, such as an OAuth2 redirect handshake.
type RecoveryFlow interface {
	Run(ctx context.Context, req *InboundRequest) (FlowOutcome, error)
}

// ApplyOutcome carries out outcome on w. Resolved identities are written to
// the session (which is regenerated) before redirecting.
func ApplyOutcome(w http.ResponseWriter, r *http.Request, sessions SessionStore, outcome FlowOutcome) error {
	switch outcome.Kind {
	case FlowRedirect:
		http.Redirect(w, r, outcome.Location, http.StatusFound)
		return nil
	case FlowResolved:
		if err := LoginSession(r.Context(), sessions, outcome.User); err != nil {
			return err
		}
		landing := outcome.Location
		if landing == "" {
			landing = "/"
		}
		http.Redirect(w, r, landing, http.StatusFound)
		return nil
	}
	return fmt.Errorf("unknown flow outcome %d", outcome.Kind)
}
