package login

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	apperrors "github.com/jazzmind/vibefunder/internal/platform/errors"
	"github.com/jazzmind/vibefunder/internal/services/auth/session"
	"github.com/jazzmind/vibefunder/internal/services/auth/storage"
	"github.com/jazzmind/vibefunder/internal/services/auth/user"
)

var (
	// ErrCodeInvalid covers unknown, already-used, and mismatched one-time
	// codes.
	ErrCodeInvalid = apperrors.New(apperrors.CodeLoginCodeInvalid, "login code is invalid")
	// ErrCodeExpired indicates a correct code presented after its TTL.
	ErrCodeExpired = apperrors.New(apperrors.CodeLoginCodeExpired, "login code has expired")
)

const codeDigits = 6

// IssuedCode is a freshly issued one-time login code awaiting out-of-band
// delivery. The Code value goes to the user's email, never into a response.
type IssuedCode struct {
	Email     string
	Code      string
	ExpiresAt time.Time
}

// RequestCode issues a one-time login code for the email.
//
// The email does not need to belong to an existing user: verifying a code
// proves control of the mailbox, and the account is created on first
// successful verification. Issuing for unknown emails also keeps the request
// path from revealing which accounts exist.
func (m *Machine) RequestCode(ctx context.Context, email string) (IssuedCode, error) {
	if m == nil {
		return IssuedCode{}, fmt.Errorf("login machine is not configured")
	}
	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return IssuedCode{}, err
	}

	codeValue, err := generateCode()
	if err != nil {
		return IssuedCode{}, fmt.Errorf("generate login code: %w", err)
	}
	codeID, err := m.idGenerator()
	if err != nil {
		return IssuedCode{}, fmt.Errorf("generate login code id: %w", err)
	}

	var userID string
	if existing, err := m.users.GetUserByEmail(ctx, normalized); err == nil {
		userID = existing.ID
	} else if !errors.Is(err, storage.ErrNotFound) {
		return IssuedCode{}, fmt.Errorf("look up user: %w", err)
	}

	now := m.clock().UTC()
	issued := storage.LoginCode{
		ID:        codeID,
		UserID:    userID,
		Email:     normalized,
		Code:      codeValue,
		CreatedAt: now,
		ExpiresAt: now.Add(m.config.CodeTTL),
	}
	if err := m.codes.PutLoginCode(ctx, issued); err != nil {
		return IssuedCode{}, fmt.Errorf("store login code: %w", err)
	}
	return IssuedCode{Email: normalized, Code: codeValue, ExpiresAt: issued.ExpiresAt}, nil
}

// CodeInput carries one code verification attempt.
type CodeInput struct {
	Email                   string
	Code                    string
	RememberMe              bool
	InvalidateOtherSessions bool
	IP                      string
	UserAgent               string
}

// VerifyCode consumes a one-time code and signs the caller in.
//
// A verified code proves mailbox control, so a first-time email gets an
// account with the address already marked verified, and an existing
// unverified account is upgraded.
func (m *Machine) VerifyCode(ctx context.Context, input CodeInput) (Result, error) {
	if m == nil {
		return Result{}, fmt.Errorf("login machine is not configured")
	}
	email, err := user.NormalizeEmail(input.Email)
	if err != nil {
		return Result{}, err
	}
	if input.Code == "" {
		return Result{}, ErrCodeInvalid
	}

	now := m.clock().UTC()
	if err := m.checkAttemptWindow(ctx, input.IP, now); err != nil {
		return Result{}, err
	}

	code, err := m.codes.GetLoginCode(ctx, email, input.Code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.recordAttempt(ctx, email, input.IP, input.UserAgent, false, now)
			return Result{}, ErrCodeInvalid
		}
		return Result{}, fmt.Errorf("look up login code: %w", err)
	}
	if code.UsedAt != nil {
		m.recordAttempt(ctx, email, input.IP, input.UserAgent, false, now)
		return Result{}, ErrCodeInvalid
	}
	if code.ExpiresAt.Before(now) {
		m.recordAttempt(ctx, email, input.IP, input.UserAgent, false, now)
		return Result{}, ErrCodeExpired
	}
	if err := m.codes.MarkLoginCodeUsed(ctx, code.ID, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Another request consumed the code first.
			m.recordAttempt(ctx, email, input.IP, input.UserAgent, false, now)
			return Result{}, ErrCodeInvalid
		}
		return Result{}, fmt.Errorf("consume login code: %w", err)
	}

	account, err := m.resolveCodeUser(ctx, email, now)
	if err != nil {
		return Result{}, err
	}
	if !account.Active {
		m.recordAttempt(ctx, email, input.IP, input.UserAgent, false, now)
		return Result{}, ErrAccountInactive
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

// resolveCodeUser loads or creates the account behind a verified code.
func (m *Machine) resolveCodeUser(ctx context.Context, email string, now time.Time) (user.User, error) {
	account, err := m.users.GetUserByEmail(ctx, email)
	if err == nil {
		if account.EmailVerified && account.FailedLoginAttempts == 0 && account.LockedUntil == nil {
			return account, nil
		}
		account.EmailVerified = true
		account.FailedLoginAttempts = 0
		account.LockedUntil = nil
		account.UpdatedAt = now
		if err := m.users.PutUser(ctx, account); err != nil {
			return user.User{}, fmt.Errorf("update user: %w", err)
		}
		return account, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return user.User{}, fmt.Errorf("look up user: %w", err)
	}

	account, err = user.CreateUser(user.CreateUserInput{
		Email:         email,
		EmailVerified: true,
	}, m.clock, m.idGenerator)
	if err != nil {
		return user.User{}, err
	}
	if err := m.users.PutUser(ctx, account); err != nil {
		return user.User{}, fmt.Errorf("create user: %w", err)
	}
	return account, nil
}

// PruneCodes deletes expired one-time codes.
func (m *Machine) PruneCodes(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("login machine is not configured")
	}
	return m.codes.DeleteExpiredLoginCodes(ctx, m.clock().UTC())
}

// generateCode returns a uniformly random six digit code.
func generateCode() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
