// Package challenge issues and consumes single-use WebAuthn ceremony state.
//
// Ceremony state lives in the shared passkey store, not in process memory, so
// challenge issuance and ceremony completion may land on different server
// instances.
package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	apperrors "github.com/jazzmind/vibefunder/internal/platform/errors"
	"github.com/jazzmind/vibefunder/internal/platform/id"
	"github.com/jazzmind/vibefunder/internal/services/auth/passkey"
	"github.com/jazzmind/vibefunder/internal/services/auth/storage"
)

// ErrNoChallenge indicates a missing, expired, or already-consumed challenge.
// It is a normal flow signal, not a failure of the manager itself.
var ErrNoChallenge = apperrors.New(apperrors.CodePasskeyChallengeMissing, "no challenge found")

// Manager stores pending ceremony sessions keyed by an opaque random ID.
type Manager struct {
	store       storage.PasskeyStore
	ttl         time.Duration
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewManager builds a challenge manager over the passkey store.
func NewManager(store storage.PasskeyStore, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{
		store:       store,
		ttl:         ttl,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// Issue persists ceremony session data under a fresh challenge ID.
//
// userID may be empty for anonymous authentication ceremonies; registration
// ceremonies bind the challenge to the already-authenticated user.
func (m *Manager) Issue(ctx context.Context, kind passkey.SessionKind, userID string, data *webauthn.SessionData) (string, error) {
	if m == nil || m.store == nil {
		return "", fmt.Errorf("challenge store is not configured")
	}
	if data == nil {
		return "", fmt.Errorf("session data is required")
	}

	challengeID, err := m.idGenerator()
	if err != nil {
		return "", fmt.Errorf("generate challenge id: %w", err)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode session data: %w", err)
	}

	err = m.store.PutPasskeySession(ctx, storage.PasskeySession{
		ID:          challengeID,
		Kind:        string(kind),
		UserID:      userID,
		SessionJSON: string(payload),
		ExpiresAt:   m.clock().UTC().Add(m.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("store challenge: %w", err)
	}
	return challengeID, nil
}

// Consume removes and returns the ceremony session for a challenge ID.
//
// The stored row is deleted before any validation, so a second consume of the
// same ID always reports ErrNoChallenge regardless of how the first attempt
// went. Kind mismatches and expired challenges also report ErrNoChallenge;
// callers cannot distinguish them, which keeps the client-visible error
// uniform.
func (m *Manager) Consume(ctx context.Context, challengeID string, kind passkey.SessionKind) (webauthn.SessionData, string, error) {
	if m == nil || m.store == nil {
		return webauthn.SessionData{}, "", fmt.Errorf("challenge store is not configured")
	}
	challengeID = strings.TrimSpace(challengeID)
	if challengeID == "" {
		return webauthn.SessionData{}, "", ErrNoChallenge
	}

	stored, err := m.store.GetPasskeySession(ctx, challengeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return webauthn.SessionData{}, "", ErrNoChallenge
		}
		return webauthn.SessionData{}, "", fmt.Errorf("load challenge: %w", err)
	}
	if err := m.store.DeletePasskeySession(ctx, challengeID); err != nil {
		return webauthn.SessionData{}, "", fmt.Errorf("consume challenge: %w", err)
	}

	if stored.Kind != string(kind) {
		return webauthn.SessionData{}, "", ErrNoChallenge
	}
	if stored.ExpiresAt.Before(m.clock().UTC()) {
		return webauthn.SessionData{}, "", ErrNoChallenge
	}

	var data webauthn.SessionData
	if err := json.Unmarshal([]byte(stored.SessionJSON), &data); err != nil {
		return webauthn.SessionData{}, "", fmt.Errorf("decode challenge session: %w", err)
	}
	return data, stored.UserID, nil
}

// DeleteExpired prunes expired ceremony sessions.
func (m *Manager) DeleteExpired(ctx context.Context) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("challenge store is not configured")
	}
	return m.store.DeleteExpiredPasskeySessions(ctx, m.clock().UTC())
}
