package passkey

import (
	"github.com/go-webauthn/webauthn/webauthn"

	ag "github.com/panyam/authgate"
)

// webauthnUser adapts a UserIdentity and its credentials to webauthn.User.
type webauthnUser struct {
	identity    ag.UserIdentity
	credentials []webauthn.Credential
}

var _ webauthn.User = (*webauthnUser)(nil)

func newWebauthnUser(identity ag.UserIdentity, records []CredentialRecord) *webauthnUser {
	creds := make([]webauthn.Credential, 0, len(records))
	for i := range records {
		creds = append(creds, records[i].ToWebAuthn())
	}
	return &webauthnUser{identity: identity, credentials: creds}
}

func (u *webauthnUser) WebAuthnID() []byte                         { return u.identity.ExternalID() }
func (u *webauthnUser) WebAuthnName() string                       { return u.identity.Email }
func (u *webauthnUser) WebAuthnDisplayName() string                { return u.identity.DisplayName() }
func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }
