package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	restauth "github.com/jazzmind/vibefunder/internal/services/auth/api/rest/auth"
	"github.com/jazzmind/vibefunder/internal/services/auth/challenge"
	"github.com/jazzmind/vibefunder/internal/services/auth/login"
	"github.com/jazzmind/vibefunder/internal/services/auth/passkey"
	"github.com/jazzmind/vibefunder/internal/services/auth/session"
	"github.com/jazzmind/vibefunder/internal/services/auth/storage"
	"github.com/jazzmind/vibefunder/internal/services/auth/storage/rediscache"
	authsqlite "github.com/jazzmind/vibefunder/internal/services/auth/storage/sqlite"
	"github.com/jazzmind/vibefunder/internal/services/auth/user"
)

const cleanupInterval = 5 * time.Minute

// Server hosts the auth service over HTTP.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *authsqlite.Store
	cache      *rediscache.Cache
	challenges *challenge.Manager
	sessions   *session.Manager
	logins     *login.Machine
}

// New creates a configured auth server listening on the provided address.
func New(ctx context.Context, httpAddr string) (*Server, error) {
	path := strings.TrimSpace(os.Getenv("VIBEFUNDER_AUTH_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "auth.db")
	}
	store, err := openAuthStore(path)
	if err != nil {
		return nil, err
	}

	var cache *rediscache.Cache
	if redisConfig := rediscache.LoadConfigFromEnv(); redisConfig.Addr != "" {
		cache, err = rediscache.New(ctx, redisConfig)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connect session cache: %w", err)
		}
		log.Printf("session cache enabled at %s", redisConfig.Addr)
	}

	passkeyConfig := passkey.LoadConfigFromEnv()
	challenges := challenge.NewManager(store, passkeyConfig.SessionTTL)

	var sessionCache session.Cache
	if cache != nil {
		sessionCache = cache
	}
	sessions, err := session.NewManager(store, store, sessionCache, session.LoadConfigFromEnv())
	if err != nil {
		closeAll(store, cache)
		return nil, fmt.Errorf("configure session manager: %w", err)
	}
	logins, err := login.NewMachine(store, store, store, sessions, login.LoadConfigFromEnv())
	if err != nil {
		closeAll(store, cache)
		return nil, fmt.Errorf("configure login machine: %w", err)
	}

	authService, err := restauth.NewAuthService(store, store, challenges, sessions, logins, passkeyConfig, restauth.LoadConfigFromEnv())
	if err != nil {
		closeAll(store, cache)
		return nil, fmt.Errorf("configure auth service: %w", err)
	}

	if err := bootstrapAdminUser(ctx, store); err != nil {
		closeAll(store, cache)
		return nil, err
	}

	listener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		closeAll(store, cache)
		return nil, fmt.Errorf("listen on http addr %s: %w", httpAddr, err)
	}
	mux := http.NewServeMux()
	authService.RegisterRoutes(mux)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: mux},
		store:      store,
		cache:      cache,
		challenges: challenges,
		sessions:   sessions,
		logins:     logins,
	}, nil
}

// Addr returns the listener address for the auth server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an auth server until the context ends.
func Run(ctx context.Context, httpAddr string) error {
	server, err := New(ctx, httpAddr)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the auth server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.close()

	s.startCleanup(serverCtx, cleanupInterval)

	log.Printf("auth server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		_ = s.httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

// startCleanup starts periodic expiry cleanup for transient auth artifacts.
//
// This keeps ceremony sessions, expired web sessions, stale login codes, and
// old attempt records from accumulating without a separate maintenance
// process.
func (s *Server) startCleanup(ctx context.Context, interval time.Duration) {
	if s == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

func (s *Server) cleanupExpired(ctx context.Context) {
	if err := s.challenges.DeleteExpired(ctx); err != nil {
		log.Printf("cleanup ceremony sessions: %v", err)
	}
	if err := s.sessions.DeleteExpired(ctx); err != nil {
		log.Printf("cleanup web sessions: %v", err)
	}
	if err := s.logins.PruneCodes(ctx); err != nil {
		log.Printf("cleanup login codes: %v", err)
	}
	if err := s.logins.PruneAttempts(ctx); err != nil {
		log.Printf("cleanup login attempts: %v", err)
	}
}

func openAuthStore(path string) (*authsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

// bootstrapAdminUser seeds an admin account from the environment so a fresh
// deployment has a way in. Existing accounts are left untouched.
func bootstrapAdminUser(ctx context.Context, store *authsqlite.Store) error {
	email := strings.TrimSpace(os.Getenv("VIBEFUNDER_ADMIN_EMAIL"))
	password := strings.TrimSpace(os.Getenv("VIBEFUNDER_ADMIN_PASSWORD"))
	if email == "" || password == "" {
		return nil
	}

	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return fmt.Errorf("bootstrap admin email: %w", err)
	}
	if _, err := store.GetUserByEmail(ctx, normalized); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("lookup admin user: %w", err)
	}

	admin, err := user.CreateUser(user.CreateUserInput{
		Email:         normalized,
		DisplayName:   "Admin",
		Role:          user.RoleAdmin,
		EmailVerified: true,
	}, nil, nil)
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	admin.PasswordHash, err = user.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if err := store.PutUser(ctx, admin); err != nil {
		return fmt.Errorf("store admin user: %w", err)
	}
	log.Printf("bootstrapped admin user %s", normalized)
	return nil
}

func (s *Server) close() {
	if s == nil {
		return
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			log.Printf("close session cache: %v", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close auth store: %v", err)
		}
	}
}

func closeAll(store *authsqlite.Store, cache *rediscache.Cache) {
	if cache != nil {
		_ = cache.Close()
	}
	if store != nil {
		_ = store.Close()
	}
}
