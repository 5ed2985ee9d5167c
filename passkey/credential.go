package passkey

import (
	"context"
	"errors"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

var (
	// ErrCredentialNotFound is returned when no stored credential has the id.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialExists is returned when saving a credential id twice.
	ErrCredentialExists = errors.New("credential already exists")

	// ErrCounterConflict is returned by UpdateCounter when the stored counter
	// is no longer the expected previous value.
	ErrCounterConflict = errors.New("signature counter changed concurrently")
)

// CredentialRecord is a stored public key credential.
type CredentialRecord struct {
	ID              []byte
	Type            string
	Transports      []string
	AttestationType string
	TrustPath       []string
	AAGUID          []byte
	PublicKey       []byte
	UserID          int64
	Counter         uint32
	Flags           protocol.AuthenticatorFlags
	CreatedAt       time.Time
}

// CredentialRepository persists credential records. Records are immutable
// apart from the signature counter.
type CredentialRepository interface {
	// Save stores a new record, or fails with ErrCredentialExists.
	Save(ctx context.Context, record *CredentialRecord) error

	// FindByCredentialID fails with ErrCredentialNotFound on a miss.
	FindByCredentialID(ctx context.Context, id []byte) (*CredentialRecord, error)

	// FindByUser lists the credentials registered by a user.
	FindByUser(ctx context.Context, userID int64) ([]CredentialRecord, error)

	// UpdateCounter sets the counter to next only if it still equals previous,
	// and fails with ErrCounterConflict otherwise.
	UpdateCounter(ctx context.Context, id []byte, previous, next uint32) error
}

// NewCredentialRecord builds the record for a freshly verified credential.
func NewCredentialRecord(userID int64, cred *webauthn.Credential) *CredentialRecord {
	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	return &CredentialRecord{
		ID:              cred.ID,
		Type:            string(protocol.PublicKeyCredentialType),
		Transports:      transports,
		AttestationType: cred.AttestationType,
		TrustPath:       []string{},
		AAGUID:          cred.Authenticator.AAGUID,
		PublicKey:       cred.PublicKey,
		UserID:          userID,
		Counter:         cred.Authenticator.SignCount,
		Flags:           cred.Flags.ProtocolValue(),
		CreatedAt:       time.Now(),
	}
}

// ToWebAuthn converts the record into the shape go-webauthn verifies against.
func (r *CredentialRecord) ToWebAuthn() webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(r.Transports))
	for _, t := range r.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:              r.ID,
		PublicKey:       r.PublicKey,
		AttestationType: r.AttestationType,
		Transport:       transports,
		Flags:           webauthn.NewCredentialFlags(r.Flags),
		Authenticator: webauthn.Authenticator{
			AAGUID:    r.AAGUID,
			SignCount: r.Counter,
		},
	}
}
