// Package user provides auth user management.
package user

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	apperrors "github.com/jazzmind/vibefunder/internal/platform/errors"
	"github.com/jazzmind/vibefunder/internal/platform/id"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodeLoginMissingField, "email is required")
	// ErrInvalidEmail indicates an email that does not parse as an address.
	ErrInvalidEmail = apperrors.New(apperrors.CodeLoginInvalidEmail, "email is invalid")
)

// Role describes the coarse authorization role attached to a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User represents an authenticated identity record.
//
// FailedLoginAttempts and LockedUntil are owned by the login state machine;
// other services treat them as opaque.
type User struct {
	ID                  string
	Email               string
	DisplayName         string
	PasswordHash        string
	Role                Role
	EmailVerified       bool
	Active              bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CreateUserInput describes the metadata needed to create a user.
type CreateUserInput struct {
	Email         string
	DisplayName   string
	Role          Role
	EmailVerified bool
}

// NormalizeEmail lowercases and validates an email address.
func NormalizeEmail(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", ErrEmptyEmail
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(parsed.Address), nil
}

// CreateUser creates a durable user identity from validated input.
//
// This is the canonical point where an untrusted email becomes a stable
// identity used by the login, passkey, and one-time-code paths.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	email, err := NormalizeEmail(input.Email)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	role := input.Role
	if role == "" {
		role = RoleUser
	}

	createdAt := now().UTC()
	return User{
		ID:            userID,
		Email:         email,
		DisplayName:   strings.TrimSpace(input.DisplayName),
		Role:          role,
		EmailVerified: input.EmailVerified,
		Active:        true,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}, nil
}

// HashPassword derives a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash.
// Comparison time does not depend on how close the guess is.
func (u User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Locked reports whether the user is locked out at the given instant.
func (u User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}
