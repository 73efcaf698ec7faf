// Package session mints and verifies authenticated web session tokens.
//
// A session token is an HS256-signed JWT naming a durable session row. The
// row, not the token, is the source of truth for revocation: verification
// always resolves the row and its owning user, so logout and deactivation
// take effect immediately even for unexpired tokens.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jazzmind/vibefunder/internal/platform/errors"
	"github.com/jazzmind/vibefunder/internal/platform/id"
	"github.com/jazzmind/vibefunder/internal/services/auth/storage"
	"github.com/jazzmind/vibefunder/internal/services/auth/user"
)

// ErrInvalidSession indicates an expired, malformed, revoked, or otherwise
// unusable session token. Routine invalid tokens are reported through this
// error, never through transport-level failures.
var ErrInvalidSession = apperrors.New(apperrors.CodeSessionInvalid, "session is invalid")

// Cache is an optional read-through store for session rows.
//
// Misses and cache failures are invisible to callers; the durable store
// always backs the cache.
type Cache interface {
	GetWebSession(ctx context.Context, sessionID string) (storage.WebSession, bool)
	PutWebSession(ctx context.Context, session storage.WebSession)
	DeleteWebSession(ctx context.Context, sessionID string)
}

// CreateOptions control session issuance.
type CreateOptions struct {
	RememberMe              bool
	InvalidateOtherSessions bool
	IP                      string
	UserAgent               string
}

// Session is a freshly minted session with its signed token.
type Session struct {
	Token     string
	ID        string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Identity is the resolved owner of a verified session.
type Identity struct {
	SessionID string
	UserID    string
	Email     string
	Role      user.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Manager issues and verifies web sessions.
type Manager struct {
	sessions    storage.WebSessionStore
	users       storage.UserStore
	cache       Cache
	config      Config
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewManager builds a session manager. The signing secret is required.
func NewManager(sessions storage.WebSessionStore, users storage.UserStore, cache Cache, config Config) (*Manager, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if strings.TrimSpace(config.Secret) == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if config.RememberMeTTL <= 0 {
		config.RememberMeTTL = 30 * 24 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "vibefunder"
	}
	return &Manager{
		sessions:    sessions,
		users:       users,
		cache:       cache,
		config:      config,
		clock:       time.Now,
		idGenerator: id.NewID,
	}, nil
}

// Create mints a session for the user and returns the signed token.
func (m *Manager) Create(ctx context.Context, userID string, opts CreateOptions) (Session, error) {
	if m == nil {
		return Session{}, fmt.Errorf("session manager is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return Session{}, fmt.Errorf("user id is required")
	}
	if _, err := m.users.GetUser(ctx, userID); err != nil {
		return Session{}, fmt.Errorf("resolve session user: %w", err)
	}

	now := m.clock().UTC()
	if opts.InvalidateOtherSessions {
		revoked, err := m.sessions.RevokeUserWebSessions(ctx, userID, now)
		if err != nil {
			return Session{}, fmt.Errorf("invalidate other sessions: %w", err)
		}
		m.evict(ctx, revoked)
	}

	sessionID, err := m.idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}
	ttl := m.config.TTL
	if opts.RememberMe {
		ttl = m.config.RememberMeTTL
	}
	expiresAt := now.Add(ttl)

	row := storage.WebSession{
		ID:        sessionID,
		UserID:    userID,
		IP:        opts.IP,
		UserAgent: opts.UserAgent,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if err := m.sessions.PutWebSession(ctx, row); err != nil {
		return Session{}, fmt.Errorf("put web session: %w", err)
	}
	if m.cache != nil {
		m.cache.PutWebSession(ctx, row)
	}

	claims := jwt.RegisteredClaims{
		ID:        sessionID,
		Subject:   userID,
		Issuer:    m.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.config.Secret))
	if err != nil {
		return Session{}, fmt.Errorf("sign session token: %w", err)
	}

	return Session{
		Token:     token,
		ID:        sessionID,
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify resolves a session token to its owning identity.
//
// Expired, malformed, revoked, and orphaned tokens all report
// ErrInvalidSession; storage failures surface separately.
func (m *Manager) Verify(ctx context.Context, token string) (Identity, error) {
	if m == nil {
		return Identity{}, fmt.Errorf("session manager is not configured")
	}
	claims, err := m.parseClaims(token, true)
	if err != nil {
		return Identity{}, ErrInvalidSession
	}

	row, err := m.loadSession(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Identity{}, ErrInvalidSession
		}
		return Identity{}, fmt.Errorf("load web session: %w", err)
	}

	now := m.clock().UTC()
	if row.RevokedAt != nil || !row.ExpiresAt.After(now) || row.UserID != claims.Subject {
		return Identity{}, ErrInvalidSession
	}

	owner, err := m.users.GetUser(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Identity{}, ErrInvalidSession
		}
		return Identity{}, fmt.Errorf("resolve session user: %w", err)
	}
	if !owner.Active {
		return Identity{}, ErrInvalidSession
	}

	return Identity{
		SessionID: row.ID,
		UserID:    owner.ID,
		Email:     owner.Email,
		Role:      owner.Role,
		IssuedAt:  row.CreatedAt,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

// Revoke ends the session named by the token.
//
// Revoke is idempotent: unknown, expired, malformed, and already-revoked
// tokens all succeed. Logging out an already-logged-out client is not an
// error.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if m == nil {
		return fmt.Errorf("session manager is not configured")
	}
	// Expired tokens still name a real session; skip claim validation so a
	// late logout can revoke it.
	claims, err := m.parseClaims(token, false)
	if err != nil {
		return nil
	}

	if err := m.sessions.RevokeWebSession(ctx, claims.ID, m.clock().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("revoke web session: %w", err)
	}
	if m.cache != nil {
		m.cache.DeleteWebSession(ctx, claims.ID)
	}
	return nil
}

// RevokeAll ends every live session owned by the user, evicting each revoked
// session from the cache so stale cached rows cannot outlive the revocation.
func (m *Manager) RevokeAll(ctx context.Context, userID string) error {
	if m == nil {
		return fmt.Errorf("session manager is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	revoked, err := m.sessions.RevokeUserWebSessions(ctx, userID, m.clock().UTC())
	if err != nil {
		return fmt.Errorf("revoke user web sessions: %w", err)
	}
	m.evict(ctx, revoked)
	return nil
}

// RevokeAllFromToken ends every live session owned by the token's user.
//
// Like Revoke, it skips claim validation so a logout-everywhere carrying an
// expired token still revokes the user's sessions; malformed tokens succeed
// without effect.
func (m *Manager) RevokeAllFromToken(ctx context.Context, token string) error {
	if m == nil {
		return fmt.Errorf("session manager is not configured")
	}
	claims, err := m.parseClaims(token, false)
	if err != nil {
		return nil
	}
	return m.RevokeAll(ctx, claims.Subject)
}

// DeleteExpired prunes sessions past their expiry.
func (m *Manager) DeleteExpired(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("session manager is not configured")
	}
	return m.sessions.DeleteExpiredWebSessions(ctx, m.clock().UTC())
}

func (m *Manager) parseClaims(token string, validate bool) (*jwt.RegisteredClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("token is required")
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return m.clock().UTC() }),
	}
	if !validate {
		options = append(options, jwt.WithoutClaimsValidation())
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(m.config.Secret), nil
	}, options...)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if strings.TrimSpace(claims.ID) == "" || strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("session token missing claims")
	}
	return claims, nil
}

func (m *Manager) evict(ctx context.Context, sessionIDs []string) {
	if m.cache == nil {
		return
	}
	for _, id := range sessionIDs {
		m.cache.DeleteWebSession(ctx, id)
	}
}

func (m *Manager) loadSession(ctx context.Context, sessionID string) (storage.WebSession, error) {
	if m.cache != nil {
		if row, ok := m.cache.GetWebSession(ctx, sessionID); ok {
			return row, nil
		}
	}
	row, err := m.sessions.GetWebSession(ctx, sessionID)
	if err != nil {
		return storage.WebSession{}, err
	}
	if m.cache != nil {
		m.cache.PutWebSession(ctx, row)
	}
	return row, nil
}
