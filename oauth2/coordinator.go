package oauth2

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	ag "github.com/panyam/authgate"
)

// ProvisionFunc creates a local user for an external identity that has no
// account yet. Without one, such identities fail with ErrNoLocalAccount.
type ProvisionFunc func(ctx context.Context, owner ResourceOwner) (ag.UserIdentity, error)

// Coordinator drives the authorization code handshake. It is an
// authgate.RecoveryFlow: Run starts the flow on a plain request and finishes
// it on the provider callback.
type Coordinator struct {
	Provider  Provider
	Sessions  ag.SessionStore
	Users     ag.UserDirectory
	Provision ProvisionFunc

	// Paths the flow itself is served on. They are never used as a landing
	// location, since landing there would start the flow again.
	LoginPath    string
	CallbackPath string

	// BasePath is the prefix the gate is mounted under when a parent mux
	// strips it. Locations taken from the request get it back; explicit
	// return_to values and DefaultLanding are used as given.
	BasePath string

	// DefaultLanding is where the user ends up when no return location was
	// recorded. Defaults to "/".
	DefaultLanding string

	Logger *slog.Logger
}

var _ ag.RecoveryFlow = (*Coordinator)(nil)

func NewCoordinator(provider Provider, sessions ag.SessionStore, users ag.UserDirectory) *Coordinator {
	return &Coordinator{
		Provider:       provider,
		Sessions:       sessions,
		Users:          users,
		DefaultLanding: "/",
		Logger:         slog.Default(),
	}
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Run begins the handshake, or completes it when the request carries a code
// or an error from the provider.
func (c *Coordinator) Run(ctx context.Context, req *ag.InboundRequest) (ag.FlowOutcome, error) {
	if req.Query.Has("code") || req.Query.Has("error") {
		return c.Callback(ctx, req)
	}
	return c.Begin(ctx, c.returnTo(req))
}

// Begin stores a fresh state (and PKCE verifier) in the session and returns
// the redirect to the provider's consent page. returnTo is kept when it is a
// safe local path.
func (c *Coordinator) Begin(ctx context.Context, returnTo string) (ag.FlowOutcome, error) {
	state, err := ag.RandomToken(ag.ChallengeSize)
	if err != nil {
		return ag.FlowOutcome{}, err
	}
	c.Sessions.Set(ctx, ag.SessionOAuthState, state)

	var opts []oauth2.AuthCodeOption
	if c.Provider.SupportsPKCE() {
		verifier := oauth2.GenerateVerifier()
		c.Sessions.Set(ctx, ag.SessionPKCEVerifier, verifier)
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	} else {
		c.Sessions.Delete(ctx, ag.SessionPKCEVerifier)
	}

	if safe := ag.SafeRedirectPath(returnTo); safe != "" && !c.isFlowPath(safe) {
		c.Sessions.Set(ctx, ag.SessionOAuthReturn, safe)
	} else {
		c.Sessions.Delete(ctx, ag.SessionOAuthReturn)
	}

	c.logger().Debug("redirecting to provider", "provider", c.Provider.Name())
	return ag.RedirectOutcome(c.Provider.AuthCodeURL(state, opts...)), nil
}

// Callback validates the returned state, exchanges the code and resolves the
// resource owner to a local user. The stored state and verifier are removed
// before anything else, so a callback can be processed at most once.
func (c *Coordinator) Callback(ctx context.Context, req *ag.InboundRequest) (ag.FlowOutcome, error) {
	stored, _ := ag.PopString(ctx, c.Sessions, ag.SessionOAuthState)
	verifier, _ := ag.PopString(ctx, c.Sessions, ag.SessionPKCEVerifier)
	returnTo, _ := ag.PopString(ctx, c.Sessions, ag.SessionOAuthReturn)

	if !stateMatches(stored, req.Query) {
		c.logger().Warn("oauth state mismatch", "provider", c.Provider.Name(), "had_state", stored != "")
		ag.RecordAttempt(ag.MethodOAuth, ag.OutcomeRejected)
		if err := c.Sessions.Regenerate(ctx); err != nil {
			return ag.FlowOutcome{}, fmt.Errorf("regenerating session: %w", err)
		}
		return ag.FlowOutcome{}, ag.ErrInvalidState
	}

	if reason := req.Query.Get("error"); reason != "" {
		ag.RecordAttempt(ag.MethodOAuth, ag.OutcomeRejected)
		return ag.FlowOutcome{}, fmt.Errorf("%w: %s", ag.ErrProviderDenied, reason)
	}
	code := req.Query.Get("code")
	if code == "" {
		ag.RecordAttempt(ag.MethodOAuth, ag.OutcomeRejected)
		return ag.FlowOutcome{}, ag.NewAuthError(ag.ErrCodeMissingField, "Missing authorization code", "code")
	}

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	token, err := c.Provider.Exchange(ctx, code, opts...)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			c.logger().Info("code exchange refused", "provider", c.Provider.Name(), "err", err)
			ag.RecordAttempt(ag.MethodOAuth, ag.OutcomeRejected)
			return ag.FlowOutcome{}, fmt.Errorf("%w: %s", ag.ErrProviderDenied, rerr.ErrorCode)
		}
		ag.RecordAttempt(ag.MethodOAuth, ag.OutcomeError)
		return ag.FlowOutcome{}, fmt.Errorf("exchanging authorization code: %w", err)
	}

	owner, err := c.Provider.ResourceOwner(ctx, token)
	if errors.Is(err, ErrUnverifiedEmail) {
		ag.RecordAttempt(ag.MethodOAuth, ag.OutcomeRejected)
		return ag.FlowOutcome{}, fmt.Errorf("%w: %v", ag.ErrNoLocalAccount, err)
	} else if err != nil {
		ag.RecordAttempt(ag.MethodOAuth, ag.OutcomeError)
		return ag.FlowOutcome{}, fmt.Errorf("loading resource owner: %w", err)
	}
	if owner.Email == "" {
		ag.RecordAttempt(ag.MethodOAuth, ag.OutcomeRejected)
		return ag.FlowOutcome{}, fmt.Errorf("%w: provider returned no email", ag.ErrNoLocalAccount)
	}

	user, err := c.resolve(ctx, owner)
	if err != nil {
		if errors.Is(err, ag.ErrNoLocalAccount) {
			ag.RecordAttempt(ag.MethodOAuth, ag.OutcomeRejected)
		} else {
			ag.RecordAttempt(ag.MethodOAuth, ag.OutcomeError)
		}
		return ag.FlowOutcome{}, err
	}

	ag.RecordAttempt(ag.MethodOAuth, ag.OutcomeSuccess)
	c.logger().Info("oauth login", "provider", c.Provider.Name(), "user_id", user.ID)
	return ag.ResolvedOutcome(user, c.landing(returnTo, req)), nil
}

func (c *Coordinator) resolve(ctx context.Context, owner ResourceOwner) (ag.UserIdentity, error) {
	user, err := c.Users.LoadUserByEmail(ctx, owner.Email)
	if err == nil && user.IsAuthenticated() {
		return user, nil
	}
	if err != nil && !errors.Is(err, ag.ErrUserNotFound) {
		return ag.Anonymous, fmt.Errorf("loading user by email: %w", err)
	}
	if c.Provision == nil {
		return ag.Anonymous, fmt.Errorf("%w: %s", ag.ErrNoLocalAccount, owner.Email)
	}
	user, err = c.Provision(ctx, owner)
	if err != nil {
		return ag.Anonymous, fmt.Errorf("provisioning user: %w", err)
	}
	if !user.IsAuthenticated() {
		return ag.Anonymous, fmt.Errorf("%w: %s", ag.ErrNoLocalAccount, owner.Email)
	}
	return user, nil
}

// stateMatches requires exactly one non-empty state parameter equal to the
// stored value.
func stateMatches(stored string, query url.Values) bool {
	values, present := query["state"]
	if stored == "" || !present || len(values) != 1 || values[0] == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(values[0])) == 1
}

// returnTo picks the location to come back to after the handshake: an
// explicit return_to parameter, or the request itself when the flow was
// started by a protected resource.
func (c *Coordinator) returnTo(req *ag.InboundRequest) string {
	if explicit := req.Query.Get("return_to"); explicit != "" {
		return explicit
	}
	if req.URL == nil || c.isFlowPath(req.URL.Path) {
		return ""
	}
	return c.external(StripTransientParams(req.URL))
}

func (c *Coordinator) landing(returnTo string, req *ag.InboundRequest) string {
	if returnTo != "" {
		return returnTo
	}
	if req.URL != nil && !c.isFlowPath(req.URL.Path) {
		if current := ag.SafeRedirectPath(c.external(StripTransientParams(req.URL))); current != "" {
			return current
		}
	}
	if c.DefaultLanding != "" {
		return c.DefaultLanding
	}
	return "/"
}

// external turns a path relative to the gate into one the browser can use.
func (c *Coordinator) external(path string) string {
	base := strings.TrimSuffix(c.BasePath, "/")
	if base == "" {
		return path
	}
	return base + path
}

// isFlowPath accepts both gate relative and external paths.
func (c *Coordinator) isFlowPath(path string) bool {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return false
	}
	if path == c.LoginPath || path == c.CallbackPath {
		return true
	}
	base := strings.TrimSuffix(c.BasePath, "/")
	return base != "" && (path == base+c.LoginPath || path == base+c.CallbackPath)
}

var transientParams = map[string]bool{
	"code":          true,
	"state":         true,
	"scope":         true,
	"authuser":      true,
	"prompt":        true,
	"hd":            true,
	"session_state": true,
	"iss":           true,
}

// StripTransientParams renders the path and query of u without the
// parameters a provider appends to a callback.
func StripTransientParams(u *url.URL) string {
	query := u.Query()
	for name := range query {
		if transientParams[name] || strings.HasPrefix(name, "error") {
			query.Del(name)
		}
	}
	out := u.EscapedPath()
	if out == "" {
		out = "/"
	}
	if encoded := query.Encode(); encoded != "" {
		out += "?" + encoded
	}
	return out
}
