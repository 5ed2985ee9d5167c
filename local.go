package authgate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// LocalAuth serves username/password login, logout and the identity probe.
type LocalAuth struct {
	Authenticator *PasswordAuthenticator
	Sessions      SessionStore
	Middleware    *Middleware

	// Optional. When set a bearer token is included in login responses.
	Tokens *TokenIssuer

	// Form field names
	UsernameField string
	PasswordField string

	Logger *slog.Logger
}

func (a *LocalAuth) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// ServeLogin handles login requests. Bad credentials and unknown users get
// the same response so the client cannot tell which one it was.
func (a *LocalAuth) ServeLogin(w http.ResponseWriter, r *http.Request) {
	username, password, err := a.parseLoginForm(r)
	if err != nil {
		a.handleLoginError(w, r, NewAuthError(ErrCodeMissingField, err.Error(), a.getUsernameField()))
		return
	}

	user, err := a.Authenticator.Authenticate(r.Context(), username, password)
	if err != nil {
		RecordAttempt(MethodPassword, OutcomeError)
		WriteError(w, err)
		return
	}
	if !user.IsAuthenticated() {
		a.handleLoginError(w, r, NewAuthError(ErrCodeInvalidCreds, "Invalid credentials", "").WithStatus(http.StatusUnauthorized))
		return
	}

	if err := LoginSession(r.Context(), a.Sessions, user); err != nil {
		RecordAttempt(MethodPassword, OutcomeError)
		WriteError(w, fmt.Errorf("regenerating session: %w", err))
		return
	}
	RecordAttempt(MethodPassword, OutcomeSuccess)
	a.logger().Info("password login", "user_id", user.ID)
	WriteJSON(w, http.StatusOK, a.identityResponse(user, true))
}

// ServeLogout clears the session identity. A relative "to" query parameter
// turns the response into a redirect.
func (a *LocalAuth) ServeLogout(w http.ResponseWriter, r *http.Request) {
	if err := LogoutSession(r.Context(), a.Sessions); err != nil {
		WriteError(w, fmt.Errorf("regenerating session: %w", err))
		return
	}
	if to := SafeRedirectPath(r.URL.Query().Get("to")); to != "" {
		http.Redirect(w, r, to, http.StatusFound)
		return
	}
	WriteJSON(w, http.StatusOK, a.identityResponse(Anonymous, false))
}

// ServeMe reports who the request is authenticated as.
func (a *LocalAuth) ServeMe(w http.ResponseWriter, r *http.Request) {
	user, err := a.Middleware.CurrentUser(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, a.identityResponse(user, false))
}

func (a *LocalAuth) identityResponse(user UserIdentity, withToken bool) map[string]any {
	out := map[string]any{
		"authenticated": user.IsAuthenticated(),
		"user_id":       nil,
		"user_name":     "",
	}
	if !user.IsAuthenticated() {
		return out
	}
	out["user_id"] = user.ID
	out["user_name"] = user.DisplayName()
	if withToken && a.Tokens != nil {
		if token, err := a.Tokens.Issue(user); err != nil {
			slog.Info("error signing token", "err", err)
		} else {
			out["token"] = token
		}
	}
	return out
}

func (a *LocalAuth) parseLoginForm(r *http.Request) (username, password string, err error) {
	contentType := r.Header.Get("Content-Type")
	usernameField := a.getUsernameField()
	passwordField := a.getPasswordField()

	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") || strings.HasPrefix(contentType, "multipart/form-data") {
		if err = r.ParseForm(); err != nil {
			return "", "", fmt.Errorf("error parsing form")
		}
		username = r.FormValue(usernameField)
		if username == "" {
			username = r.FormValue("email")
		}
		password = r.FormValue(passwordField)
	} else {
		var data map[string]any
		if err = json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxBodySize)).Decode(&data); err != nil || data == nil {
			return "", "", fmt.Errorf("invalid post body")
		}
		if u, ok := data[usernameField].(string); ok {
			username = u
		} else if u, ok := data["email"].(string); ok {
			username = u
		}
		if p, ok := data[passwordField].(string); ok {
			password = p
		}
	}

	if username == "" || password == "" {
		return "", "", fmt.Errorf("username and password required")
	}
	return username, password, nil
}

func (a *LocalAuth) getUsernameField() string {
	if a.UsernameField != "" {
		return a.UsernameField
	}
	return "username"
}

func (a *LocalAuth) getPasswordField() string {
	if a.PasswordField != "" {
		return a.PasswordField
	}
	return "password"
}

// handleLoginError counts and logs a refused login before answering it. The
// submitted username is never logged.
func (a *LocalAuth) handleLoginError(w http.ResponseWriter, r *http.Request, err *AuthError) {
	RecordAttempt(MethodPassword, OutcomeRejected)
	a.logger().Info("password login rejected",
		"code", err.Code,
		"field", err.Field,
		"remote", r.RemoteAddr)
	WriteError(w, err)
}

// SafeRedirectPath returns target when it is a same-site absolute path and ""
// otherwise, so user supplied redirect targets cannot leave the site.
func SafeRedirectPath(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") {
		return ""
	}
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") || strings.ContainsAny(target, "\r\n") {
		return ""
	}
	return target
}
