package authgate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

type userContextKey struct{}

// HandlerFunc is a handler that can fail. Protected handlers return
// ErrForbidden when they need a logged in user and there is none.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Middleware resolves the logged in user of a request and guards protected
// handlers.
type Middleware struct {
	Sessions SessionStore
	Users    UserDirectory

	// Optional. Bearer tokens in AuthTokenHeaderName are accepted when the
	// session carries no identity.
	Tokens              *TokenIssuer
	AuthTokenHeaderName string

	// Optional flow started when a protected handler signals ErrForbidden for
	// an unauthenticated request.
	Recovery RecoveryFlow

	Logger *slog.Logger
}

func (m *Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// CurrentUser returns the identity of the request: the session entry first,
// then a bearer token. Anonymous means nobody is logged in; an error means
// the directory could not be consulted.
func (m *Middleware) CurrentUser(r *http.Request) (UserIdentity, error) {
	ctx := r.Context()
	if id := GetInt64(ctx, m.Sessions, SessionUserID); id != 0 {
		user, err := m.Users.LoadUserByID(ctx, id)
		if errors.Is(err, ErrUserNotFound) {
			// deactivated or deleted since login
			m.Sessions.Delete(ctx, SessionUserID)
			return Anonymous, nil
		}
		return user, err
	}

	if m.Tokens == nil {
		return Anonymous, nil
	}
	header := m.AuthTokenHeaderName
	if header == "" {
		header = "Authorization"
	}
	for _, value := range r.Header.Values(header) {
		token := strings.TrimSpace(strings.TrimPrefix(value, "Bearer "))
		if token == "" {
			continue
		}
		id, err := m.Tokens.Verify(token)
		if err != nil {
			m.logger().Debug("rejected bearer token", "err", err)
			continue
		}
		user, err := m.Users.LoadUserByID(ctx, id)
		if errors.Is(err, ErrUserNotFound) {
			continue
		}
		return user, err
	}
	return Anonymous, nil
}

// ExtractUser makes the current identity available to next through
// UserFromContext. It never rejects a request.
func (m *Middleware) ExtractUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.CurrentUser(r)
		if err != nil {
			WriteError(w, err)
			return
		}
		next.ServeHTTP(w, WithUser(r, user))
	})
}

// Protect runs next and handles the forbidden signal it may raise. The
// session identity is checked again since the signal can be stale. Only an
// unauthenticated request with a configured recovery flow starts that flow;
// otherwise the forbidden error reaches the client unchanged.
func (m *Middleware) Protect(next HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.CurrentUser(r)
		if err != nil {
			WriteError(w, err)
			return
		}
		r = WithUser(r, user)

		err = next(w, r)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrForbidden) {
			WriteError(w, err)
			return
		}

		user, lerr := m.CurrentUser(r)
		if lerr != nil {
			WriteError(w, lerr)
			return
		}
		if user.IsAuthenticated() || m.Recovery == nil {
			WriteError(w, err)
			return
		}

		outcome, ferr := m.Recovery.Run(r.Context(), NewInboundRequest(r))
		if ferr != nil {
			m.logger().Info("recovery flow failed", "path", r.URL.Path, "err", ferr)
			WriteError(w, ferr)
			return
		}
		if aerr := ApplyOutcome(w, r, m.Sessions, outcome); aerr != nil {
			WriteError(w, aerr)
		}
	})
}

// RequireUser returns the identity resolved for r, or ErrForbidden when the
// request is unauthenticated.
func RequireUser(r *http.Request) (UserIdentity, error) {
	user := UserFromContext(r.Context())
	if !user.IsAuthenticated() {
		return Anonymous, ErrForbidden
	}
	return user, nil
}

// WithUser returns r with user stored in its context.
func WithUser(r *http.Request, user UserIdentity) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userContextKey{}, user))
}

// UserFromContext returns the identity stored by the middleware, or Anonymous.
func UserFromContext(ctx context.Context) UserIdentity {
	user, _ := ctx.Value(userContextKey{}).(UserIdentity)
	return user
}
