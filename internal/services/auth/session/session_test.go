package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jazzmind/vibefunder/internal/services/auth/storage"
	"github.com/jazzmind/vibefunder/internal/services/auth/user"
)

type fakeWebSessionStore struct {
	sessions map[string]storage.WebSession
}

func newFakeWebSessionStore() *fakeWebSessionStore {
	return &fakeWebSessionStore{sessions: make(map[string]storage.WebSession)}
}

func (s *fakeWebSessionStore) PutWebSession(_ context.Context, session storage.WebSession) error {
	s.sessions[session.ID] = session
	return nil
}

func (s *fakeWebSessionStore) GetWebSession(_ context.Context, id string) (storage.WebSession, error) {
	session, ok := s.sessions[id]
	if !ok {
		return storage.WebSession{}, storage.ErrNotFound
	}
	return session, nil
}

func (s *fakeWebSessionStore) RevokeWebSession(_ context.Context, id string, revokedAt time.Time) error {
	session, ok := s.sessions[id]
	if !ok || session.RevokedAt != nil {
		return storage.ErrNotFound
	}
	session.RevokedAt = &revokedAt
	s.sessions[id] = session
	return nil
}

func (s *fakeWebSessionStore) RevokeUserWebSessions(_ context.Context, userID string, revokedAt time.Time) ([]string, error) {
	var revoked []string
	for id, session := range s.sessions {
		if session.UserID == userID && session.RevokedAt == nil {
			session.RevokedAt = &revokedAt
			s.sessions[id] = session
			revoked = append(revoked, id)
		}
	}
	return revoked, nil
}

func (s *fakeWebSessionStore) DeleteExpiredWebSessions(_ context.Context, now time.Time) error {
	for id, session := range s.sessions {
		if session.ExpiresAt.Before(now) {
			delete(s.sessions, id)
		}
	}
	return nil
}

type fakeUserStore struct {
	users map[string]user.User
}

func newFakeUserStore(users ...user.User) *fakeUserStore {
	store := &fakeUserStore{users: make(map[string]user.User)}
	for _, u := range users {
		store.users[u.ID] = u
	}
	return store
}

func (s *fakeUserStore) PutUser(_ context.Context, u user.User) error {
	s.users[u.ID] = u
	return nil
}

func (s *fakeUserStore) GetUser(_ context.Context, userID string) (user.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *fakeUserStore) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, storage.ErrNotFound
}

var testEpoch = time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, sessions storage.WebSessionStore, users storage.UserStore) *Manager {
	t.Helper()
	manager, err := NewManager(sessions, users, nil, Config{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	manager.clock = func() time.Time { return testEpoch }
	counter := 0
	manager.idGenerator = func() (string, error) {
		counter++
		return fmt.Sprintf("session-%d", counter), nil
	}
	return manager
}

func activeUser() user.User {
	return user.User{ID: "user-1", Email: "alice@example.com", Role: user.RoleUser, Active: true}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := NewManager(newFakeWebSessionStore(), newFakeUserStore(), nil, Config{})
	if err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestCreateAndVerify(t *testing.T) {
	sessions := newFakeWebSessionStore()
	manager := newTestManager(t, sessions, newFakeUserStore(activeUser()))

	created, err := manager.Create(context.Background(), "user-1", CreateOptions{IP: "203.0.113.9", UserAgent: "go-test"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Token == "" {
		t.Fatal("expected signed token")
	}
	if got, want := created.ExpiresAt, testEpoch.Add(24*time.Hour); !got.Equal(want) {
		t.Fatalf("expires at = %v, want %v", got, want)
	}
	row, ok := sessions.sessions[created.ID]
	if !ok {
		t.Fatal("expected stored session row")
	}
	if row.IP != "203.0.113.9" || row.UserAgent != "go-test" {
		t.Fatalf("unexpected row: %+v", row)
	}

	identity, err := manager.Verify(context.Background(), created.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.UserID != "user-1" || identity.Email != "alice@example.com" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if identity.SessionID != created.ID {
		t.Fatalf("session id = %q, want %q", identity.SessionID, created.ID)
	}
	if identity.Role != user.RoleUser {
		t.Fatalf("role = %q", identity.Role)
	}
}

func TestCreateRememberMeExtendsExpiry(t *testing.T) {
	manager := newTestManager(t, newFakeWebSessionStore(), newFakeUserStore(activeUser()))

	created, err := manager.Create(context.Background(), "user-1", CreateOptions{RememberMe: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got, want := created.ExpiresAt, testEpoch.Add(30*24*time.Hour); !got.Equal(want) {
		t.Fatalf("expires at = %v, want %v", got, want)
	}
}

func TestCreateInvalidatesOtherSessions(t *testing.T) {
	sessions := newFakeWebSessionStore()
	manager := newTestManager(t, sessions, newFakeUserStore(activeUser()))

	first, err := manager.Create(context.Background(), "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := manager.Create(context.Background(), "user-1", CreateOptions{InvalidateOtherSessions: true})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	if _, err := manager.Verify(context.Background(), first.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected first session invalid, got %v", err)
	}
	if _, err := manager.Verify(context.Background(), second.Token); err != nil {
		t.Fatalf("expected second session valid, got %v", err)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	manager := newTestManager(t, newFakeWebSessionStore(), newFakeUserStore(activeUser()))
	created, err := manager.Create(context.Background(), "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	other := newTestManager(t, newFakeWebSessionStore(), newFakeUserStore(activeUser()))
	other.config.Secret = "different-secret"
	if _, err := other.Verify(context.Background(), created.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected invalid session for foreign signature, got %v", err)
	}

	if _, err := manager.Verify(context.Background(), created.Token+"x"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected invalid session for mangled token, got %v", err)
	}
	if _, err := manager.Verify(context.Background(), ""); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected invalid session for empty token, got %v", err)
	}
}

func TestVerifyRejectsExpiredSession(t *testing.T) {
	manager := newTestManager(t, newFakeWebSessionStore(), newFakeUserStore(activeUser()))
	created, err := manager.Create(context.Background(), "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	manager.clock = func() time.Time { return testEpoch.Add(25 * time.Hour) }
	if _, err := manager.Verify(context.Background(), created.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected invalid session after expiry, got %v", err)
	}
}

func TestVerifyRejectsRevokedSession(t *testing.T) {
	manager := newTestManager(t, newFakeWebSessionStore(), newFakeUserStore(activeUser()))
	created, err := manager.Create(context.Background(), "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := manager.Revoke(context.Background(), created.Token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := manager.Verify(context.Background(), created.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected invalid session after revoke, got %v", err)
	}
}

func TestVerifyRejectsInactiveUser(t *testing.T) {
	users := newFakeUserStore(activeUser())
	manager := newTestManager(t, newFakeWebSessionStore(), users)
	created, err := manager.Create(context.Background(), "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deactivated := users.users["user-1"]
	deactivated.Active = false
	users.users["user-1"] = deactivated

	if _, err := manager.Verify(context.Background(), created.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected invalid session for inactive user, got %v", err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	manager := newTestManager(t, newFakeWebSessionStore(), newFakeUserStore(activeUser()))
	created, err := manager.Create(context.Background(), "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := manager.Revoke(context.Background(), created.Token); err != nil {
			t.Fatalf("revoke #%d: %v", i+1, err)
		}
	}
	if err := manager.Revoke(context.Background(), "not-a-token"); err != nil {
		t.Fatalf("revoke garbage: %v", err)
	}
}

func TestRevokeExpiredToken(t *testing.T) {
	sessions := newFakeWebSessionStore()
	manager := newTestManager(t, sessions, newFakeUserStore(activeUser()))
	created, err := manager.Create(context.Background(), "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// A logout that arrives after token expiry still revokes the row.
	manager.clock = func() time.Time { return testEpoch.Add(48 * time.Hour) }
	if err := manager.Revoke(context.Background(), created.Token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if sessions.sessions[created.ID].RevokedAt == nil {
		t.Fatal("expected row revoked")
	}
}

func TestRevokeAll(t *testing.T) {
	manager := newTestManager(t, newFakeWebSessionStore(), newFakeUserStore(activeUser()))

	first, err := manager.Create(context.Background(), "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := manager.Create(context.Background(), "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	if err := manager.RevokeAll(context.Background(), "user-1"); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	for _, token := range []string{first.Token, second.Token} {
		if _, err := manager.Verify(context.Background(), token); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("expected invalid session, got %v", err)
		}
	}
}

type recordingCache struct {
	rows    map[string]storage.WebSession
	hits    int
	deletes int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{rows: make(map[string]storage.WebSession)}
}

func (c *recordingCache) GetWebSession(_ context.Context, id string) (storage.WebSession, bool) {
	row, ok := c.rows[id]
	if ok {
		c.hits++
	}
	return row, ok
}

func (c *recordingCache) PutWebSession(_ context.Context, session storage.WebSession) {
	c.rows[session.ID] = session
}

func (c *recordingCache) DeleteWebSession(_ context.Context, id string) {
	c.deletes++
	delete(c.rows, id)
}

func TestVerifyUsesCache(t *testing.T) {
	cache := newRecordingCache()
	manager, err := NewManager(newFakeWebSessionStore(), newFakeUserStore(activeUser()), cache, Config{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	manager.clock = func() time.Time { return testEpoch }
	manager.idGenerator = func() (string, error) { return "session-1", nil }

	created, err := manager.Create(context.Background(), "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := manager.Verify(context.Background(), created.Token); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if cache.hits != 1 {
		t.Fatalf("cache hits = %d, want 1", cache.hits)
	}

	if err := manager.Revoke(context.Background(), created.Token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if cache.deletes != 1 {
		t.Fatalf("cache deletes = %d, want 1", cache.deletes)
	}
}

func newCachedTestManager(t *testing.T) (*Manager, *recordingCache) {
	t.Helper()
	cache := newRecordingCache()
	manager, err := NewManager(newFakeWebSessionStore(), newFakeUserStore(activeUser()), cache, Config{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	manager.clock = func() time.Time { return testEpoch }
	counter := 0
	manager.idGenerator = func() (string, error) {
		counter++
		return fmt.Sprintf("session-%d", counter), nil
	}
	return manager, cache
}

func TestRevokeAllEvictsCache(t *testing.T) {
	manager, cache := newCachedTestManager(t)

	first, err := manager.Create(context.Background(), "user-1", CreateOptions{RememberMe: true})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := manager.Create(context.Background(), "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	// Prime the cache the way a live deployment would.
	for _, token := range []string{first.Token, second.Token} {
		if _, err := manager.Verify(context.Background(), token); err != nil {
			t.Fatalf("verify before revoke: %v", err)
		}
	}

	if err := manager.RevokeAll(context.Background(), "user-1"); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if cache.deletes != 2 {
		t.Fatalf("cache deletes = %d, want 2", cache.deletes)
	}
	for _, token := range []string{first.Token, second.Token} {
		if _, err := manager.Verify(context.Background(), token); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("expected invalid session after revoke all, got %v", err)
		}
	}
}

func TestCreateInvalidateOtherSessionsEvictsCache(t *testing.T) {
	manager, cache := newCachedTestManager(t)

	first, err := manager.Create(context.Background(), "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := manager.Verify(context.Background(), first.Token); err != nil {
		t.Fatalf("verify first: %v", err)
	}

	second, err := manager.Create(context.Background(), "user-1", CreateOptions{InvalidateOtherSessions: true})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if cache.deletes != 1 {
		t.Fatalf("cache deletes = %d, want 1", cache.deletes)
	}
	if _, err := manager.Verify(context.Background(), first.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected first session invalid, got %v", err)
	}
	if _, err := manager.Verify(context.Background(), second.Token); err != nil {
		t.Fatalf("expected second session valid, got %v", err)
	}
}

func TestRevokeAllFromToken(t *testing.T) {
	sessions := newFakeWebSessionStore()
	manager := newTestManager(t, sessions, newFakeUserStore(activeUser()))

	first, err := manager.Create(context.Background(), "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := manager.Create(context.Background(), "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	// A logout-everywhere arriving after token expiry still revokes every row.
	manager.clock = func() time.Time { return testEpoch.Add(48 * time.Hour) }
	if err := manager.RevokeAllFromToken(context.Background(), first.Token); err != nil {
		t.Fatalf("revoke all from token: %v", err)
	}
	for _, id := range []string{first.ID, second.ID} {
		if sessions.sessions[id].RevokedAt == nil {
			t.Fatalf("expected %s revoked", id)
		}
	}
	if err := manager.RevokeAllFromToken(context.Background(), "not-a-token"); err != nil {
		t.Fatalf("revoke all garbage token: %v", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("VIBEFUNDER_SESSION_SECRET", "env-secret")
	t.Setenv("VIBEFUNDER_SESSION_TTL", "1h")

	cfg := LoadConfigFromEnv()
	if cfg.Secret != "env-secret" {
		t.Fatalf("secret = %q", cfg.Secret)
	}
	if cfg.TTL != time.Hour {
		t.Fatalf("ttl = %v", cfg.TTL)
	}
	if cfg.RememberMeTTL != 720*time.Hour {
		t.Fatalf("remember-me ttl = %v", cfg.RememberMeTTL)
	}
	if cfg.Issuer != "vibefunder" {
		t.Fatalf("issuer = %q", cfg.Issuer)
	}
}
