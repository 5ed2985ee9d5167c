package authgate

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
)

// AuthGate wires the session manager, the password endpoints and any extra
// authentication handlers (passkeys, OAuth2) under one router.
type AuthGate struct {
	router *mux.Router

	Session    *scs.SessionManager
	Sessions   SessionStore
	Middleware *Middleware
	Local      *LocalAuth

	// Optional name used for the session cookie and token issuer
	AppName string

	Logger *slog.Logger
}

// New builds an AuthGate. Passing a nil session manager uses an in-memory
// scs manager with a one day lifetime.
func New(appName string, session *scs.SessionManager, users UserDirectory, passwords PasswordStore) *AuthGate {
	a := &AuthGate{AppName: appName, Session: session}
	a.EnsureDefaults()
	a.Middleware = &Middleware{Sessions: a.Sessions, Users: users, Logger: a.Logger}
	a.Local = &LocalAuth{
		Authenticator: NewPasswordAuthenticator(passwords),
		Sessions:      a.Sessions,
		Middleware:    a.Middleware,
		Logger:        a.Logger,
	}
	return a
}

func (a *AuthGate) EnsureDefaults() *AuthGate {
	if a.AppName == "" {
		a.AppName = "AuthGate"
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	if a.Session == nil {
		a.Session = scs.New()
		a.Session.Lifetime = 24 * time.Hour
		a.Session.Cookie.Name = strings.ToLower(a.AppName) + "_session"
		a.Session.Cookie.HttpOnly = true
		a.Session.Cookie.SameSite = http.SameSiteLaxMode
	}
	if a.Sessions == nil {
		a.Sessions = NewScsSessions(a.Session)
	}
	return a
}

// WithTokens enables bearer tokens at login and in the middleware.
func (a *AuthGate) WithTokens(tokens *TokenIssuer) *AuthGate {
	a.Middleware.Tokens = tokens
	a.Local.Tokens = tokens
	return a
}

// WithRecovery sets the flow protected handlers fall back to.
func (a *AuthGate) WithRecovery(flow RecoveryFlow) *AuthGate {
	a.Middleware.Recovery = flow
	return a
}

// Router returns the underlying router, creating the password routes on first use.
func (a *AuthGate) Router() *mux.Router {
	if a.router == nil {
		a.router = mux.NewRouter()
		a.router.HandleFunc("/login", a.Local.ServeLogin).Methods(http.MethodPost)
		a.router.HandleFunc("/logout", a.Local.ServeLogout).Methods(http.MethodPost)
		a.router.HandleFunc("/me", a.Local.ServeMe).Methods(http.MethodGet)
	}
	return a.router
}

// Handler returns the router wrapped in the session middleware.
func (a *AuthGate) Handler() http.Handler {
	return a.Session.LoadAndSave(a.Router())
}

// AddAuth mounts handler under prefix with the prefix stripped.
func (a *AuthGate) AddAuth(prefix string, handler http.Handler) *AuthGate {
	prefix = "/" + strings.Trim(prefix, "/")
	a.Logger.Info("adding auth handler", "prefix", prefix)
	a.Router().PathPrefix(prefix + "/").Handler(http.StripPrefix(prefix, handler))
	return a
}

// HandleFlow serves both legs of flow at path: the entry request and the
// provider callback.
func (a *AuthGate) HandleFlow(path string, flow RecoveryFlow) *AuthGate {
	a.Router().Handle(path, FlowHandler(a.Sessions, flow)).Methods(http.MethodGet)
	return a
}

// Protect registers a guarded handler at path.
func (a *AuthGate) Protect(path string, handler HandlerFunc) *mux.Route {
	return a.Router().Handle(path, a.Middleware.Protect(handler))
}

// FlowHandler runs flow for every request and applies its outcome.
func FlowHandler(sessions SessionStore, flow RecoveryFlow) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outcome, err := flow.Run(r.Context(), NewInboundRequest(r))
		if err != nil {
			WriteError(w, err)
			return
		}
		if err := ApplyOutcome(w, r, sessions, outcome); err != nil {
			WriteError(w, err)
		}
	})
}
