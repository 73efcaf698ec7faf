// Package auth exposes the authentication service over HTTP JSON.
//
// AuthService is the single entry surface for password, one-time-code, and
// passkey login, session verification, and passkey device management. The
// WebAuthn library sits behind small provider/parser interfaces so handler
// tests can drive ceremonies without real authenticators.
package auth

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jazzmind/vibefunder/internal/services/auth/challenge"
	"github.com/jazzmind/vibefunder/internal/services/auth/login"
	"github.com/jazzmind/vibefunder/internal/services/auth/passkey"
	"github.com/jazzmind/vibefunder/internal/services/auth/session"
	"github.com/jazzmind/vibefunder/internal/services/auth/storage"
)

// Config controls the HTTP surface.
type Config struct {
	Environment string `env:"VIBEFUNDER_ENV" envDefault:"development"`
}

// LoadConfigFromEnv returns service configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{Environment: "development"}
	}
	return cfg
}

// Production reports whether the deployment serves real traffic, which
// controls the Secure flag on cookies.
func (c Config) Production() bool {
	return c.Environment == "production"
}

// passkeyProvider runs WebAuthn ceremonies.
type passkeyProvider interface {
	BeginRegistration(user webauthn.User) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	FinishRegistration(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin() (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	FinishLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// passkeyParser decodes authenticator responses from request bodies.
type passkeyParser interface {
	ParseCredentialCreation(body io.Reader) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialAssertion(body io.Reader) (*protocol.ParsedCredentialAssertionData, error)
}

// webauthnProvider adapts the go-webauthn library to the provider interface.
type webauthnProvider struct {
	webAuthn *webauthn.WebAuthn
}

func (p webauthnProvider) BeginRegistration(user webauthn.User) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	credentials := user.WebAuthnCredentials()
	exclusions := make([]protocol.CredentialDescriptor, 0, len(credentials))
	for _, credential := range credentials {
		exclusions = append(exclusions, credential.Descriptor())
	}
	return p.webAuthn.BeginRegistration(user, webauthn.WithExclusions(exclusions))
}

func (p webauthnProvider) FinishRegistration(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	return p.webAuthn.CreateCredential(user, session, response)
}

func (p webauthnProvider) BeginLogin() (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	return p.webAuthn.BeginDiscoverableLogin()
}

func (p webauthnProvider) FinishLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	// Discoverable sessions carry no user binding; the caller already
	// resolved the user from the submitted credential ID.
	if len(session.UserID) == 0 {
		return p.webAuthn.ValidateDiscoverableLogin(func(_, _ []byte) (webauthn.User, error) {
			return user, nil
		}, session, response)
	}
	return p.webAuthn.ValidateLogin(user, session, response)
}

// webauthnParser adapts the go-webauthn protocol decoders.
type webauthnParser struct{}

func (webauthnParser) ParseCredentialCreation(body io.Reader) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBody(body)
}

func (webauthnParser) ParseCredentialAssertion(body io.Reader) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBody(body)
}

// AuthService is the authentication facade behind the HTTP routes.
type AuthService struct {
	users      storage.UserStore
	passkeys   storage.PasskeyStore
	challenges *challenge.Manager
	sessions   *session.Manager
	logins     *login.Machine
	provider   passkeyProvider
	parser     passkeyParser
	config     Config
	limiter    *rateLimiter
	sendCode   func(ctx context.Context, issued login.IssuedCode) error
	clock      func() time.Time
}

// NewAuthService wires the facade over its collaborators.
func NewAuthService(users storage.UserStore, passkeys storage.PasskeyStore, challenges *challenge.Manager, sessions *session.Manager, logins *login.Machine, passkeyConfig passkey.Config, config Config) (*AuthService, error) {
	if users == nil || passkeys == nil {
		return nil, fmt.Errorf("user and passkey stores are required")
	}
	if challenges == nil || sessions == nil || logins == nil {
		return nil, fmt.Errorf("challenge, session, and login managers are required")
	}

	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: passkeyConfig.RPDisplayName,
		RPID:          passkeyConfig.RPID,
		RPOrigins:     passkeyConfig.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}

	return &AuthService{
		users:      users,
		passkeys:   passkeys,
		challenges: challenges,
		sessions:   sessions,
		logins:     logins,
		provider:   webauthnProvider{webAuthn: webAuthn},
		parser:     webauthnParser{},
		config:     config,
		limiter:    newRateLimiter(20, time.Minute),
		sendCode:   logCodeSender,
		clock:      time.Now,
	}, nil
}

// SetCodeSender replaces the login code delivery hook. The default sender
// only logs that a code was issued; deployments plug in their mailer here.
func (s *AuthService) SetCodeSender(sender func(ctx context.Context, issued login.IssuedCode) error) {
	if s == nil || sender == nil {
		return
	}
	s.sendCode = sender
}

// logCodeSender is the delivery hook of last resort. The code value itself
// never reaches the logs.
func logCodeSender(_ context.Context, issued login.IssuedCode) error {
	log.Printf("login code issued for %s (expires %s)", issued.Email, issued.ExpiresAt.Format(time.RFC3339))
	return nil
}
