//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"

	ag "github.com/panyam/authgate"
	"github.com/panyam/authgate/passkey"
)

// StringSlice is a helper type for storing string slices as JSON text
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringSlice) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return fmt.Errorf("cannot scan %T into StringSlice", value)
}

// UserModel is the GORM model for users
type UserModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	FirstName    string    `gorm:"size:128"`
	LastName     string    `gorm:"size:128"`
	Email        string    `gorm:"size:320;uniqueIndex;not null"`
	PasswordHash []byte    `gorm:"column:password_hash"`
	Admin        bool      `gorm:"default:false"`
	IsActive     bool      `gorm:"column:active;default:true"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToIdentity() ag.UserIdentity {
	return ag.UserIdentity{
		ID:        m.ID,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Email:     m.Email,
		Admin:     m.Admin,
	}
}

// PasskeyCredentialModel is the GORM model for WebAuthn credentials. The
// credential id is stored base64url encoded.
type PasskeyCredentialModel struct {
	CredentialID    string      `gorm:"primaryKey;size:1024"`
	Type            string      `gorm:"size:32"`
	Transports      StringSlice `gorm:"type:text"`
	AttestationType string      `gorm:"size:32"`
	TrustPath       StringSlice `gorm:"type:text"`
	AAGUID          string      `gorm:"column:aaguid;size:36"`
	PublicKey       []byte      `gorm:"not null"`
	UserID          int64       `gorm:"index;not null"`
	Counter         int64       `gorm:"not null;default:0"`
	Flags           int         `gorm:"not null;default:0"`
	CreatedAt       time.Time   `gorm:"autoCreateTime"`
}

func (PasskeyCredentialModel) TableName() string {
	return "passkey_credentials"
}

func EncodeCredentialID(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}

func (m *PasskeyCredentialModel) ToRecord() (*passkey.CredentialRecord, error) {
	id, err := base64.RawURLEncoding.DecodeString(m.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("corrupt credential id %q: %w", m.CredentialID, err)
	}
	var aaguid []byte
	if m.AAGUID != "" {
		parsed, err := uuid.Parse(m.AAGUID)
		if err != nil {
			return nil, fmt.Errorf("corrupt aaguid %q: %w", m.AAGUID, err)
		}
		aaguid = parsed[:]
	}
	return &passkey.CredentialRecord{
		ID:              id,
		Type:            m.Type,
		Transports:      []string(m.Transports),
		AttestationType: m.AttestationType,
		TrustPath:       []string(m.TrustPath),
		AAGUID:          aaguid,
		PublicKey:       m.PublicKey,
		UserID:          m.UserID,
		Counter:         uint32(m.Counter),
		Flags:           protocol.AuthenticatorFlags(m.Flags),
		CreatedAt:       m.CreatedAt,
	}, nil
}

func CredentialToModel(r *passkey.CredentialRecord) *PasskeyCredentialModel {
	aaguid := ""
	if parsed, err := uuid.FromBytes(r.AAGUID); err == nil {
		aaguid = parsed.String()
	}
	return &PasskeyCredentialModel{
		CredentialID:    EncodeCredentialID(r.ID),
		Type:            r.Type,
		Transports:      StringSlice(r.Transports),
		AttestationType: r.AttestationType,
		TrustPath:       StringSlice(r.TrustPath),
		AAGUID:          aaguid,
		PublicKey:       r.PublicKey,
		UserID:          r.UserID,
		Counter:         int64(r.Counter),
		Flags:           int(r.Flags),
		CreatedAt:       r.CreatedAt,
	}
}
