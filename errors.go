package authgate

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

var (
	// ErrForbidden is the signal a protected handler returns when it needs an
	// authenticated identity and the request has none.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidState means the OAuth state returned by the provider was
	// missing, empty or did not match the one stored in the session.
	ErrInvalidState = errors.New("invalid state")

	// ErrChallengeNotFound is returned when no challenge has been issued for the session.
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrUserNotFound is returned by directories when no active user matches.
	ErrUserNotFound = errors.New("user not found")

	// ErrNoLocalAccount means an external identity resolved to no local user
	// and no provisioning policy was configured.
	ErrNoLocalAccount = errors.New("no local account for identity")

	// ErrProviderDenied means the identity provider reported an error on the callback.
	ErrProviderDenied = errors.New("identity provider denied the request")
)

// Error codes used in JSON error bodies
const (
	ErrCodeMissingField   = "missing_field"
	ErrCodeInvalidField   = "invalid_field"
	ErrCodeInvalidCreds   = "invalid_credentials"
	ErrCodeInvalidState   = "invalid_state"
	ErrCodeForbidden      = "forbidden"
	ErrCodeNoLocalAccount = "no_local_account"
	ErrCodeDenied         = "provider_denied"
	ErrCodeInternal       = "internal_error"
	ErrCodeBadRequest     = "bad_request"
)

// AuthError is a client facing error with a machine readable code and an
// optional form field it relates to.
type AuthError struct {
	Code    string
	Message string
	Field   string
	Status  int
}

func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field, Status: http.StatusBadRequest}
}

func (e *AuthError) Error() string {
	return e.Message
}

// WithStatus overrides the HTTP status the error is rendered with.
func (e *AuthError) WithStatus(status int) *AuthError {
	e.Status = status
	return e
}

// AsAuthError maps an error onto the client facing shape. Anything that is not
// one of the known authentication failures is reported as an internal error
// so storage details never leak to the client.
func AsAuthError(err error) *AuthError {
	var authErr *AuthError
	switch {
	case errors.As(err, &authErr):
		return authErr
	case errors.Is(err, ErrInvalidState):
		return NewAuthError(ErrCodeInvalidState, "Invalid state", "").WithStatus(http.StatusUnprocessableEntity)
	case errors.Is(err, ErrForbidden):
		return NewAuthError(ErrCodeForbidden, "Forbidden", "").WithStatus(http.StatusForbidden)
	case errors.Is(err, ErrNoLocalAccount):
		return NewAuthError(ErrCodeNoLocalAccount, "No account is registered for this identity", "").WithStatus(http.StatusForbidden)
	case errors.Is(err, ErrProviderDenied):
		return NewAuthError(ErrCodeDenied, "Sign in was cancelled or denied", "").WithStatus(http.StatusUnauthorized)
	default:
		return NewAuthError(ErrCodeInternal, "Internal error", "").WithStatus(http.StatusInternalServerError)
	}
}

// WriteError renders err as a JSON error body with the matching status code.
func WriteError(w http.ResponseWriter, err error) {
	authErr := AsAuthError(err)
	if authErr.Status >= http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
	}
	body := map[string]any{
		"error": authErr.Message,
		"code":  authErr.Code,
	}
	if authErr.Field != "" {
		body["field"] = authErr.Field
	}
	WriteJSON(w, authErr.Status, body)
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("error encoding response", "err", err)
	}
}
