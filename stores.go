package authgate

import (
	"context"
	"strconv"
	"strings"
)

// UserIdentity is an end user as seen by the authentication core. The zero
// value is the unauthenticated identity.
type UserIdentity struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Admin     bool   `json:"admin"`
}

// Anonymous is the identity of a request nobody has logged into.
var Anonymous = UserIdentity{}

func (u UserIdentity) IsAuthenticated() bool {
	return u.ID != 0
}

// DisplayName is the full name, or the email when no name is known.
func (u UserIdentity) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// ExternalID is the stable handle the user is known by outside this system
// (for example the WebAuthn user handle).
func (u UserIdentity) ExternalID() []byte {
	return []byte(strconv.FormatInt(u.ID, 10))
}

// UserDirectory looks up users. Only active users are ever returned.
type UserDirectory interface {
	// LoadUserByID returns Anonymous for id 0 and ErrUserNotFound when no
	// active user has the id.
	LoadUserByID(ctx context.Context, id int64) (UserIdentity, error)

	// LoadUserByEmail returns ErrUserNotFound on a miss.
	LoadUserByEmail(ctx context.Context, email string) (UserIdentity, error)
}

// PasswordStore gives the password authenticator access to stored hashes.
type PasswordStore interface {
	// LoadPasswordHash returns the user with the given email and its password
	// hash, or ErrUserNotFound.
	LoadPasswordHash(ctx context.Context, email string) (UserIdentity, []byte, error)
}

// NewUser holds the fields needed to create a user record.
type NewUser struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Admin     bool
}

// UserWriter creates users. It backs provisioning policies and the admin CLI.
type UserWriter interface {
	CreateUser(ctx context.Context, user NewUser) (UserIdentity, error)
}
