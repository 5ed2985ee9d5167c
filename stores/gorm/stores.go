//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	ag "github.com/panyam/authgate"
	"github.com/panyam/authgate/passkey"
)

// ErrEmailTaken is returned by CreateUser when the address is already registered.
var ErrEmailTaken = errors.New("email already registered")

// AutoMigrate creates or updates the users and passkey_credentials tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&PasskeyCredentialModel{},
	)
}

// Store implements the user directory, the password store and the passkey
// credential repository on one database.
type Store struct {
	db *gorm.DB
}

var (
	_ ag.UserDirectory             = (*Store)(nil)
	_ ag.PasswordStore             = (*Store)(nil)
	_ ag.UserWriter                = (*Store)(nil)
	_ passkey.CredentialRepository = (*Store)(nil)
)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =============================================================================
// Users
// =============================================================================

func (s *Store) LoadUserByID(ctx context.Context, id int64) (ag.UserIdentity, error) {
	if id == 0 {
		return ag.Anonymous, nil
	}
	var model UserModel
	err := s.db.WithContext(ctx).First(&model, "id = ? AND active = ?", id, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ag.Anonymous, ag.ErrUserNotFound
	} else if err != nil {
		return ag.Anonymous, fmt.Errorf("loading user %d: %w", id, err)
	}
	return model.ToIdentity(), nil
}

func (s *Store) LoadUserByEmail(ctx context.Context, email string) (ag.UserIdentity, error) {
	user, _, err := s.LoadPasswordHash(ctx, email)
	return user, err
}

func (s *Store) LoadPasswordHash(ctx context.Context, email string) (ag.UserIdentity, []byte, error) {
	email = normalizeEmail(email)
	if email == "" {
		return ag.Anonymous, nil, ag.ErrUserNotFound
	}
	var model UserModel
	err := s.db.WithContext(ctx).First(&model, "email = ? AND active = ?", email, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ag.Anonymous, nil, ag.ErrUserNotFound
	} else if err != nil {
		return ag.Anonymous, nil, fmt.Errorf("loading user %q: %w", email, err)
	}
	return model.ToIdentity(), model.PasswordHash, nil
}

// CreateUser adds an active user. An empty password leaves the account
// without one, so it can only sign in with a passkey or a provider.
func (s *Store) CreateUser(ctx context.Context, user ag.NewUser) (ag.UserIdentity, error) {
	if err := user.Validate(); err != nil {
		return ag.Anonymous, err
	}
	email := normalizeEmail(user.Email)
	model := &UserModel{
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     email,
		Admin:     user.Admin,
		IsActive:  true,
	}
	if user.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
		if err != nil {
			return ag.Anonymous, fmt.Errorf("failed to hash password: %w", err)
		}
		model.PasswordHash = hash
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrEmailTaken
		}
		return tx.Create(model).Error
	})
	if err != nil {
		return ag.Anonymous, err
	}
	return model.ToIdentity(), nil
}

// SetActive enables or disables a user. Disabled users are invisible to
// every lookup, which ends their sessions on the next request.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	res := s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ag.ErrUserNotFound
	}
	return nil
}

// SetPassword replaces the password hash of a user.
func (s *Store) SetPassword(ctx context.Context, id int64, password string) error {
	if err := ag.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", id).Update("password_hash", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ag.ErrUserNotFound
	}
	return nil
}

// =============================================================================
// Passkey credentials
// =============================================================================

func (s *Store) Save(ctx context.Context, record *passkey.CredentialRecord) error {
	model := CredentialToModel(record)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&PasskeyCredentialModel{}).Where("credential_id = ?", model.CredentialID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return passkey.ErrCredentialExists
		}
		return tx.Create(model).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return passkey.ErrCredentialExists
	}
	return err
}

func (s *Store) FindByCredentialID(ctx context.Context, id []byte) (*passkey.CredentialRecord, error) {
	var model PasskeyCredentialModel
	err := s.db.WithContext(ctx).First(&model, "credential_id = ?", EncodeCredentialID(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, passkey.ErrCredentialNotFound
	} else if err != nil {
		return nil, err
	}
	return model.ToRecord()
}

func (s *Store) FindByUser(ctx context.Context, userID int64) ([]passkey.CredentialRecord, error) {
	var models []PasskeyCredentialModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]passkey.CredentialRecord, 0, len(models))
	for i := range models {
		record, err := models[i].ToRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

// UpdateCounter is a conditional UPDATE on the previous counter value, so of
// two concurrent logins presenting the same counter only one can win.
func (s *Store) UpdateCounter(ctx context.Context, id []byte, previous, next uint32) error {
	key := EncodeCredentialID(id)
	res := s.db.WithContext(ctx).Model(&PasskeyCredentialModel{}).
		Where("credential_id = ? AND counter = ?", key, int64(previous)).
		Update("counter", int64(next))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&PasskeyCredentialModel{}).Where("credential_id = ?", key).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return passkey.ErrCredentialNotFound
	}
	return passkey.ErrCounterConflict
}

// DeleteCredential removes a credential of a user.
func (s *Store) DeleteCredential(ctx context.Context, userID int64, id []byte) error {
	res := s.db.WithContext(ctx).Delete(&PasskeyCredentialModel{}, "credential_id = ? AND user_id = ?", EncodeCredentialID(id), userID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return passkey.ErrCredentialNotFound
	}
	return nil
}
