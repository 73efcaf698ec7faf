package storage

import (
	"context"
	"time"

	"github.com/jazzmind/vibefunder/internal/platform/errors"
	"github.com/jazzmind/vibefunder/internal/services/auth/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrAlreadyExists indicates a uniqueness conflict on insert.
var ErrAlreadyExists = errors.New(errors.CodePasskeyDuplicateCredential, "record already exists")

// ErrCounterConflict indicates a conditional signature-counter update lost the
// race: the stored counter no longer matches the value read at verification
// time. Callers must treat this as a failed authentication, not retry it.
var ErrCounterConflict = errors.New(errors.CodePasskeyAuthenticationRejected, "signature counter conflict")

// UserStore persists auth user records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
}

// PasskeyCredential stores a WebAuthn credential for a user.
//
// CredentialJSON is the serialized go-webauthn credential (public key, flags,
// attestation metadata); SignCount mirrors the credential's signature counter
// so the store can guard updates with a compare-and-swap.
type PasskeyCredential struct {
	CredentialID   string
	UserID         string
	Label          string
	CredentialJSON string
	SignCount      uint32
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// PasskeySession stores a WebAuthn registration or login ceremony session.
type PasskeySession struct {
	ID          string
	Kind        string
	UserID      string
	SessionJSON string
	ExpiresAt   time.Time
}

// PasskeyStore persists WebAuthn credential and ceremony session data.
type PasskeyStore interface {
	// CreatePasskeyCredential inserts a new credential. The credential ID is
	// globally unique; a conflict returns ErrAlreadyExists.
	CreatePasskeyCredential(ctx context.Context, credential PasskeyCredential) error
	GetPasskeyCredential(ctx context.Context, credentialID string) (PasskeyCredential, error)
	// ListPasskeyCredentials returns a user's credentials, most recently used
	// first (never-used credentials sort last, newest registration first).
	ListPasskeyCredentials(ctx context.Context, userID string) ([]PasskeyCredential, error)
	// UpdatePasskeyCounter advances the signature counter and last-used
	// timestamp. The write only succeeds when the stored counter still equals
	// previousCount; otherwise it returns ErrCounterConflict.
	UpdatePasskeyCounter(ctx context.Context, credentialID string, previousCount, newCount uint32, credentialJSON string, usedAt time.Time) error
	DeletePasskeyCredential(ctx context.Context, credentialID string) error

	PutPasskeySession(ctx context.Context, session PasskeySession) error
	GetPasskeySession(ctx context.Context, id string) (PasskeySession, error)
	DeletePasskeySession(ctx context.Context, id string) error
	DeleteExpiredPasskeySessions(ctx context.Context, now time.Time) error
}

// WebSession stores a durable authenticated browser session.
type WebSession struct {
	ID        string
	UserID    string
	IP        string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// WebSessionStore persists authenticated web sessions.
type WebSessionStore interface {
	PutWebSession(ctx context.Context, session WebSession) error
	GetWebSession(ctx context.Context, id string) (WebSession, error)
	RevokeWebSession(ctx context.Context, id string, revokedAt time.Time) error
	// RevokeUserWebSessions revokes every live session owned by the user and
	// returns the IDs it revoked, so callers can evict derived copies such as
	// cache entries.
	RevokeUserWebSessions(ctx context.Context, userID string, revokedAt time.Time) ([]string, error)
	DeleteExpiredWebSessions(ctx context.Context, now time.Time) error
}

// LoginAttempt is an audit record for a password login attempt.
type LoginAttempt struct {
	ID         string
	Email      string
	IP         string
	UserAgent  string
	Successful bool
	CreatedAt  time.Time
}

// LoginAttemptStore persists login attempt audit records.
type LoginAttemptStore interface {
	RecordLoginAttempt(ctx context.Context, attempt LoginAttempt) error
	// CountFailedAttempts returns the number of failed attempts from the IP
	// since the given instant.
	CountFailedAttempts(ctx context.Context, ip string, since time.Time) (int, error)
	DeleteLoginAttemptsBefore(ctx context.Context, cutoff time.Time) error
}

// LoginCode is a single-use one-time login code delivered out-of-band.
type LoginCode struct {
	ID        string
	UserID    string
	Email     string
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// LoginCodeStore persists one-time login codes.
type LoginCodeStore interface {
	PutLoginCode(ctx context.Context, code LoginCode) error
	// GetLoginCode returns the newest code row matching email and code value,
	// used or not; callers decide how expired or consumed rows are reported.
	GetLoginCode(ctx context.Context, email string, code string) (LoginCode, error)
	// MarkLoginCodeUsed consumes a code. It only succeeds for a code that is
	// still unused, returning ErrNotFound when another request got there first.
	MarkLoginCodeUsed(ctx context.Context, id string, usedAt time.Time) error
	DeleteExpiredLoginCodes(ctx context.Context, now time.Time) error
}
