package authgate

import (
	"regexp"
	"strings"
)

// Passwords shorter than this are refused when creating users.
const MinPasswordLength = 8

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Validate checks a user before it is created. The password may be empty for
// accounts that only sign in with a passkey or a provider.
func (u NewUser) Validate() error {
	email := strings.TrimSpace(u.Email)
	if email == "" {
		return NewAuthError(ErrCodeMissingField, "Email is required", "email")
	}
	if !emailPattern.MatchString(email) {
		return NewAuthError(ErrCodeInvalidField, "Invalid email format", "email")
	}
	if u.Password != "" {
		if err := ValidatePassword(u.Password); err != nil {
			return err
		}
	}
	if len(u.FirstName) > 128 || len(u.LastName) > 128 {
		return NewAuthError(ErrCodeInvalidField, "Name is too long", "name")
	}
	return nil
}

// ValidatePassword enforces the minimum length on a new password.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return NewAuthError(ErrCodeInvalidField, "Password must be at least 8 characters", "password")
	}
	return nil
}
