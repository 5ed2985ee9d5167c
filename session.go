package authgate

import (
	"context"

	"github.com/alexedwards/scs/v2"
)

// SessionKey names a slot in the session. Keys used by this package are
// prefixed so they cannot collide with application session data.
type SessionKey string

const (
	SessionUserID       SessionKey = "authgate.user_id"
	SessionChallenge    SessionKey = "authgate.challenge"
	SessionOAuthState   SessionKey = "authgate.oauth2_state"
	SessionPKCEVerifier SessionKey = "authgate.oauth2_pkce"
	SessionOAuthReturn  SessionKey = "authgate.oauth2_return_to"
)

// SessionStore is a key/value store bound to the client session carried by ctx.
type SessionStore interface {
	Get(ctx context.Context, key SessionKey) (any, bool)
	Set(ctx context.Context, key SessionKey, value any)
	Has(ctx context.Context, key SessionKey) bool
	Delete(ctx context.Context, key SessionKey)

	// Pop returns the value and removes it from the session in one step.
	Pop(ctx context.Context, key SessionKey) (any, bool)

	// Regenerate issues a new session identifier, keeps the session contents
	// and invalidates the old identifier.
	Regenerate(ctx context.Context) error
}

// ScsSessions implements SessionStore on top of an scs.SessionManager. The
// context passed to every method must come from a request that went through
// the manager's LoadAndSave middleware.
type ScsSessions struct {
	Manager *scs.SessionManager
}

func NewScsSessions(manager *scs.SessionManager) *ScsSessions {
	return &ScsSessions{Manager: manager}
}

func (s *ScsSessions) Get(ctx context.Context, key SessionKey) (any, bool) {
	if !s.Manager.Exists(ctx, string(key)) {
		return nil, false
	}
	return s.Manager.Get(ctx, string(key)), true
}

func (s *ScsSessions) Set(ctx context.Context, key SessionKey, value any) {
	s.Manager.Put(ctx, string(key), value)
}

func (s *ScsSessions) Has(ctx context.Context, key SessionKey) bool {
	return s.Manager.Exists(ctx, string(key))
}

func (s *ScsSessions) Delete(ctx context.Context, key SessionKey) {
	s.Manager.Remove(ctx, string(key))
}

func (s *ScsSessions) Pop(ctx context.Context, key SessionKey) (any, bool) {
	// scs never stores nil, so a nil result means the key was absent
	v := s.Manager.Pop(ctx, string(key))
	return v, v != nil
}

func (s *ScsSessions) Regenerate(ctx context.Context) error {
	return s.Manager.RenewToken(ctx)
}

// GetString reads a string slot, returning "" when absent or of another type.
func GetString(ctx context.Context, store SessionStore, key SessionKey) string {
	v, ok := store.Get(ctx, key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// PopString is the string flavour of SessionStore.Pop.
func PopString(ctx context.Context, store SessionStore, key SessionKey) (string, bool) {
	v, ok := store.Pop(ctx, key)
	if !ok {
		return "", false
	}
	s, isString := v.(string)
	return s, isString
}

// GetInt64 reads an integer slot, returning 0 when absent.
func GetInt64(ctx context.Context, store SessionStore, key SessionKey) int64 {
	v, ok := store.Get(ctx, key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

// LoginSession records user as the authenticated identity and regenerates the
// session so an identifier issued before login cannot be reused.
func LoginSession(ctx context.Context, store SessionStore, user UserIdentity) error {
	if !user.IsAuthenticated() {
		return ErrForbidden
	}
	store.Set(ctx, SessionUserID, user.ID)
	return store.Regenerate(ctx)
}

// LogoutSession drops the authenticated identity and regenerates the session.
func LogoutSession(ctx context.Context, store SessionStore) error {
	store.Delete(ctx, SessionUserID)
	return store.Regenerate(ctx)
}
