// Package login implements password and one-time-code authentication with
// per-account lockout and per-IP throttling.
package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	apperrors "github.com/jazzmind/vibefunder/internal/platform/errors"
	"github.com/jazzmind/vibefunder/internal/platform/id"
	"github.com/jazzmind/vibefunder/internal/services/auth/session"
	"github.com/jazzmind/vibefunder/internal/services/auth/storage"
	"github.com/jazzmind/vibefunder/internal/services/auth/user"
)

var (
	// ErrInvalidCredentials covers unknown emails and wrong passwords alike so
	// responses do not reveal which accounts exist.
	ErrInvalidCredentials = apperrors.New(apperrors.CodeLoginInvalidCredentials, "invalid credentials")
	// ErrAccountLocked indicates the account is temporarily locked. Instances
	// carry a lockedUntil metadata value in RFC 3339 form.
	ErrAccountLocked = apperrors.New(apperrors.CodeLoginAccountLocked, "account is temporarily locked")
	// ErrEmailUnverified indicates the account email has not been confirmed.
	ErrEmailUnverified = apperrors.New(apperrors.CodeLoginEmailUnverified, "email address is not verified")
	// ErrAccountInactive indicates a deactivated account.
	ErrAccountInactive = apperrors.New(apperrors.CodeLoginAccountInactive, "account is deactivated")
	// ErrTooManyAttempts indicates the caller's IP exceeded the failed-attempt
	// window and the attempt was rejected before credentials were evaluated.
	ErrTooManyAttempts = apperrors.New(apperrors.CodeLoginTooManyAttempts, "too many login attempts")
	// ErrMissingPassword indicates an empty password field.
	ErrMissingPassword = apperrors.New(apperrors.CodeLoginMissingField, "password is required")
)

// MetadataLockedUntil is the metadata key carrying the lockout expiry on
// ErrAccountLocked instances.
const MetadataLockedUntil = "lockedUntil"

// Config tunes lockout and throttling behavior.
type Config struct {
	MaxFailedAttempts int           `env:"VIBEFUNDER_LOGIN_MAX_FAILED_ATTEMPTS" envDefault:"5"`
	LockoutDuration   time.Duration `env:"VIBEFUNDER_LOGIN_LOCKOUT_DURATION"    envDefault:"15m"`
	AttemptWindow     time.Duration `env:"VIBEFUNDER_LOGIN_ATTEMPT_WINDOW"      envDefault:"15m"`
	MaxAttemptsPerIP  int           `env:"VIBEFUNDER_LOGIN_MAX_ATTEMPTS_PER_IP" envDefault:"10"`
	CodeTTL           time.Duration `env:"VIBEFUNDER_LOGIN_CODE_TTL"            envDefault:"10m"`
}

// LoadConfigFromEnv returns login configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			MaxFailedAttempts: 5,
			LockoutDuration:   15 * time.Minute,
			AttemptWindow:     15 * time.Minute,
			MaxAttemptsPerIP:  10,
			CodeTTL:           10 * time.Minute,
		}
	}
	return cfg
}

// SessionCreator mints authenticated sessions for users the machine has
// verified.
type SessionCreator interface {
	Create(ctx context.Context, userID string, opts session.CreateOptions) (session.Session, error)
}

// Machine evaluates login attempts.
type Machine struct {
	users       storage.UserStore
	attempts    storage.LoginAttemptStore
	codes       storage.LoginCodeStore
	sessions    SessionCreator
	config      Config
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewMachine builds a login machine over the given stores.
func NewMachine(users storage.UserStore, attempts storage.LoginAttemptStore, codes storage.LoginCodeStore, sessions SessionCreator, config Config) (*Machine, error) {
	if users == nil || attempts == nil || codes == nil {
		return nil, fmt.Errorf("user, attempt, and code stores are required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session creator is required")
	}
	if config.MaxFailedAttempts <= 0 {
		config.MaxFailedAttempts = 5
	}
	if config.LockoutDuration <= 0 {
		config.LockoutDuration = 15 * time.Minute
	}
	if config.AttemptWindow <= 0 {
		config.AttemptWindow = 15 * time.Minute
	}
	if config.MaxAttemptsPerIP <= 0 {
		config.MaxAttemptsPerIP = 10
	}
	if config.CodeTTL <= 0 {
		config.CodeTTL = 10 * time.Minute
	}
	return &Machine{
		users:       users,
		attempts:    attempts,
		codes:       codes,
		sessions:    sessions,
		config:      config,
		clock:       time.Now,
		idGenerator: id.NewID,
	}, nil
}

// PasswordInput carries one password login attempt.
type PasswordInput struct {
	Email                   string
	Password                string
	RememberMe              bool
	InvalidateOtherSessions bool
	IP                      string
	UserAgent               string
}

// Result is a successful login outcome.
type Result struct {
	User    user.User
	Session session.Session
}

// PasswordLogin evaluates a password attempt.
//
// Guards run in a fixed order: field validation, per-IP throttling, user
// lookup, lockout, email verification, account status, and only then the
// password comparison. The throttle check precedes the user lookup so a noisy
// IP learns nothing about which emails exist.
func (m *Machine) PasswordLogin(ctx context.Context, input PasswordInput) (Result, error) {
	if m == nil {
		return Result{}, fmt.Errorf("login machine is not configured")
	}
	email, err := user.NormalizeEmail(input.Email)
	if err != nil {
		return Result{}, err
	}
	if input.Password == "" {
		return Result{}, ErrMissingPassword
	}

	now := m.clock().UTC()
	if err := m.checkAttemptWindow(ctx, input.IP, now); err != nil {
		return Result{}, err
	}

	account, err := m.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.recordAttempt(ctx, email, input.IP, input.UserAgent, false, now)
			return Result{}, ErrInvalidCredentials
		}
		return Result{}, fmt.Errorf("look up user: %w", err)
	}

	if account.Locked(now) {
		m.recordAttempt(ctx, email, input.IP, input.UserAgent, false, now)
		return Result{}, lockedError(*account.LockedUntil)
	}
	if account.LockedUntil != nil {
		// The lockout has lapsed; the slate is clean before this attempt is
		// evaluated.
		account.LockedUntil = nil
		account.FailedLoginAttempts = 0
	}

	if !account.EmailVerified {
		m.recordAttempt(ctx, email, input.IP, input.UserAgent, false, now)
		return Result{}, ErrEmailUnverified
	}
	if !account.Active {
		m.recordAttempt(ctx, email, input.IP, input.UserAgent, false, now)
		return Result{}, ErrAccountInactive
	}

	if !account.CheckPassword(input.Password) {
		return Result{}, m.recordFailure(ctx, account, input, now)
	}

	account.FailedLoginAttempts = 0
	account.LockedUntil = nil
	account.UpdatedAt = now
	if err := m.users.PutUser(ctx, account); err != nil {
		return Result{}, fmt.Errorf("reset login state: %w", err)
	}
	m.recordAttempt(ctx, email, input.IP, input.UserAgent, true, now)

	sess, err := m.sessions.Create(ctx, account.ID, session.CreateOptions{
		RememberMe:              input.RememberMe,
		InvalidateOtherSessions: input.InvalidateOtherSessions,
		IP:                      input.IP,
		UserAgent:               input.UserAgent,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create session: %w", err)
	}
	return Result{User: account, Session: sess}, nil
}

// recordFailure books a wrong-password attempt against the account, locking
// it once the threshold is reached.
func (m *Machine) recordFailure(ctx context.Context, account user.User, input PasswordInput, now time.Time) error {
	account.FailedLoginAttempts++
	account.UpdatedAt = now

	var result error = ErrInvalidCredentials
	if account.FailedLoginAttempts >= m.config.MaxFailedAttempts {
		lockedUntil := now.Add(m.config.LockoutDuration)
		account.LockedUntil = &lockedUntil
		result = lockedError(lockedUntil)
	}

	if err := m.users.PutUser(ctx, account); err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	m.recordAttempt(ctx, account.Email, input.IP, input.UserAgent, false, now)
	return result
}

// checkAttemptWindow rejects the attempt when the IP has too many recent
// failures. Throttled attempts are not recorded; they were never evaluated.
func (m *Machine) checkAttemptWindow(ctx context.Context, ip string, now time.Time) error {
	if ip == "" {
		return nil
	}
	count, err := m.attempts.CountFailedAttempts(ctx, ip, now.Add(-m.config.AttemptWindow))
	if err != nil {
		return fmt.Errorf("count failed attempts: %w", err)
	}
	if count >= m.config.MaxAttemptsPerIP {
		return ErrTooManyAttempts
	}
	return nil
}

// recordAttempt writes the audit row. Audit failures never fail the login.
func (m *Machine) recordAttempt(ctx context.Context, email, ip, userAgent string, successful bool, now time.Time) {
	attemptID, err := m.idGenerator()
	if err != nil {
		return
	}
	_ = m.attempts.RecordLoginAttempt(ctx, storage.LoginAttempt{
		ID:         attemptID,
		Email:      email,
		IP:         ip,
		UserAgent:  userAgent,
		Successful: successful,
		CreatedAt:  now,
	})
}

// PruneAttempts deletes audit rows older than the throttle window.
func (m *Machine) PruneAttempts(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("login machine is not configured")
	}
	return m.attempts.DeleteLoginAttemptsBefore(ctx, m.clock().UTC().Add(-m.config.AttemptWindow))
}

func lockedError(until time.Time) error {
	return apperrors.WithMetadata(apperrors.CodeLoginAccountLocked, "account is temporarily locked",
		map[string]string{MetadataLockedUntil: until.UTC().Format(time.RFC3339)})
}
