package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/jazzmind/vibefunder/internal/platform/errors"
	"github.com/jazzmind/vibefunder/internal/services/auth/challenge"
	"github.com/jazzmind/vibefunder/internal/services/auth/login"
	"github.com/jazzmind/vibefunder/internal/services/auth/passkey"
	"github.com/jazzmind/vibefunder/internal/services/auth/session"
	"github.com/jazzmind/vibefunder/internal/services/auth/storage"
	"github.com/jazzmind/vibefunder/internal/services/auth/user"
)

var (
	// ErrPasskeyNotFound indicates the submitted credential is not registered.
	ErrPasskeyNotFound = apperrors.New(apperrors.CodePasskeyNotFound, "passkey not found")
	// ErrRegistrationRejected indicates the attestation did not verify.
	ErrRegistrationRejected = apperrors.New(apperrors.CodePasskeyRegistrationRejected, "passkey registration failed")
	// ErrAuthenticationRejected indicates an assertion that failed the
	// signature-counter checks, which is how cloned authenticators surface.
	ErrAuthenticationRejected = apperrors.New(apperrors.CodePasskeyAuthenticationRejected, "passkey authentication rejected")
)

// passkeyUser adapts a stored user and credentials to the WebAuthn user model.
type passkeyUser struct {
	id          string
	email       string
	displayName string
	credentials []webauthn.Credential
}

func (u passkeyUser) WebAuthnID() []byte { return []byte(u.id) }

func (u passkeyUser) WebAuthnName() string { return u.email }

func (u passkeyUser) WebAuthnDisplayName() string {
	if u.displayName != "" {
		return u.displayName
	}
	return u.email
}

func (u passkeyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// encodeCredentialID renders a raw credential ID in its stored form.
func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// BeginPasskeyRegistration starts a registration ceremony for a signed-in
// user. Existing credentials are excluded so the authenticator will not
// re-register one it already holds.
func (s *AuthService) BeginPasskeyRegistration(ctx context.Context, identity session.Identity) (*protocol.CredentialCreation, string, error) {
	account, err := s.users.GetUser(ctx, identity.UserID)
	if err != nil {
		return nil, "", fmt.Errorf("load user: %w", err)
	}
	webUser, err := s.loadPasskeyUser(ctx, account)
	if err != nil {
		return nil, "", err
	}

	options, sessionData, err := s.provider.BeginRegistration(webUser)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeInternal, "begin passkey registration", err)
	}
	challengeID, err := s.challenges.Issue(ctx, passkey.SessionKindRegistration, account.ID, sessionData)
	if err != nil {
		return nil, "", err
	}
	return options, challengeID, nil
}

// FinishPasskeyRegistration verifies the attestation and stores the new
// credential. The challenge is consumed before any validation, so retries
// with the same challenge fail regardless of the attestation's validity.
func (s *AuthService) FinishPasskeyRegistration(ctx context.Context, identity session.Identity, challengeID, label string, body io.Reader) error {
	sessionData, boundUserID, err := s.challenges.Consume(ctx, challengeID, passkey.SessionKindRegistration)
	if err != nil {
		return err
	}
	if boundUserID != identity.UserID {
		return challenge.ErrNoChallenge
	}

	parsed, err := s.parser.ParseCredentialCreation(body)
	if err != nil {
		return apperrors.Wrap(apperrors.CodePasskeyRegistrationRejected, "parse credential creation", err)
	}

	account, err := s.users.GetUser(ctx, identity.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	webUser, err := s.loadPasskeyUser(ctx, account)
	if err != nil {
		return err
	}

	credential, err := s.provider.FinishRegistration(webUser, sessionData, parsed)
	if err != nil {
		return apperrors.Wrap(apperrors.CodePasskeyRegistrationRejected, "verify attestation", err)
	}

	payload, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = "Passkey"
	}
	now := s.clock().UTC()
	err = s.passkeys.CreatePasskeyCredential(ctx, storage.PasskeyCredential{
		CredentialID:   encodeCredentialID(credential.ID),
		UserID:         account.ID,
		Label:          label,
		CredentialJSON: string(payload),
		SignCount:      credential.Authenticator.SignCount,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

// BeginPasskeyLogin starts an anonymous discoverable-credential ceremony.
func (s *AuthService) BeginPasskeyLogin(ctx context.Context) (*protocol.CredentialAssertion, string, error) {
	options, sessionData, err := s.provider.BeginLogin()
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeInternal, "begin passkey login", err)
	}
	challengeID, err := s.challenges.Issue(ctx, passkey.SessionKindLogin, "", sessionData)
	if err != nil {
		return nil, "", err
	}
	return options, challengeID, nil
}

// FinishPasskeyLogin verifies an assertion and signs the caller in.
//
// The checks run challenge first, then credential lookup, then assertion
// validation, then the counter guard; each failure mode keeps its own error
// so clients see "no challenge" and "passkey not found" distinctly.
func (s *AuthService) FinishPasskeyLogin(ctx context.Context, challengeID string, body io.Reader, opts session.CreateOptions) (login.Result, error) {
	sessionData, _, err := s.challenges.Consume(ctx, challengeID, passkey.SessionKindLogin)
	if err != nil {
		return login.Result{}, err
	}

	parsed, err := s.parser.ParseCredentialAssertion(body)
	if err != nil {
		return login.Result{}, apperrors.Wrap(apperrors.CodeInvalidRequest, "parse credential assertion", err)
	}

	credentialID := encodeCredentialID(parsed.RawID)
	stored, err := s.passkeys.GetPasskeyCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return login.Result{}, ErrPasskeyNotFound
		}
		return login.Result{}, fmt.Errorf("load credential: %w", err)
	}

	owner, err := s.users.GetUser(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return login.Result{}, ErrPasskeyNotFound
		}
		return login.Result{}, fmt.Errorf("load credential owner: %w", err)
	}
	if !owner.Active {
		return login.Result{}, login.ErrAccountInactive
	}

	var credential webauthn.Credential
	if err := json.Unmarshal([]byte(stored.CredentialJSON), &credential); err != nil {
		return login.Result{}, fmt.Errorf("decode stored credential: %w", err)
	}
	webUser := passkeyUser{
		id:          owner.ID,
		email:       owner.Email,
		displayName: owner.DisplayName,
		credentials: []webauthn.Credential{credential},
	}

	validated, err := s.provider.FinishLogin(webUser, sessionData, parsed)
	if err != nil {
		return login.Result{}, apperrors.Wrap(apperrors.CodeInternal, "failed to authenticate", err)
	}

	// An assertion counter that failed to advance points at a cloned
	// authenticator; never accept it, even though the signature verified.
	newCount := validated.Authenticator.SignCount
	if stored.SignCount > 0 && newCount <= stored.SignCount {
		return login.Result{}, ErrAuthenticationRejected
	}

	payload, err := json.Marshal(validated)
	if err != nil {
		return login.Result{}, fmt.Errorf("encode credential: %w", err)
	}
	err = s.passkeys.UpdatePasskeyCounter(ctx, credentialID, stored.SignCount, newCount, string(payload), s.clock().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrCounterConflict) {
			return login.Result{}, ErrAuthenticationRejected
		}
		if errors.Is(err, storage.ErrNotFound) {
			return login.Result{}, ErrPasskeyNotFound
		}
		return login.Result{}, fmt.Errorf("advance credential counter: %w", err)
	}

	sess, err := s.sessions.Create(ctx, owner.ID, opts)
	if err != nil {
		return login.Result{}, fmt.Errorf("create session: %w", err)
	}
	return login.Result{User: owner, Session: sess}, nil
}

// PasskeyDevice is a registered credential summary for device management.
type PasskeyDevice struct {
	ID         string     `json:"id"`
	Label      string     `json:"name"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// ListPasskeys returns the user's registered credentials, most recently used
// first.
func (s *AuthService) ListPasskeys(ctx context.Context, userID string) ([]PasskeyDevice, error) {
	credentials, err := s.passkeys.ListPasskeyCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	devices := make([]PasskeyDevice, 0, len(credentials))
	for _, credential := range credentials {
		devices = append(devices, PasskeyDevice{
			ID:         credential.CredentialID,
			Label:      credential.Label,
			CreatedAt:  credential.CreatedAt,
			LastUsedAt: credential.LastUsedAt,
		})
	}
	return devices, nil
}

// DeletePasskey removes one of the user's credentials. Credentials owned by
// other users are indistinguishable from missing ones.
func (s *AuthService) DeletePasskey(ctx context.Context, userID, credentialID string) error {
	stored, err := s.passkeys.GetPasskeyCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrPasskeyNotFound
		}
		return fmt.Errorf("load credential: %w", err)
	}
	if stored.UserID != userID {
		return ErrPasskeyNotFound
	}
	if err := s.passkeys.DeletePasskeyCredential(ctx, credentialID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrPasskeyNotFound
		}
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// loadPasskeyUser builds the WebAuthn view of an account with all of its
// stored credentials decoded.
func (s *AuthService) loadPasskeyUser(ctx context.Context, account user.User) (passkeyUser, error) {
	stored, err := s.passkeys.ListPasskeyCredentials(ctx, account.ID)
	if err != nil {
		return passkeyUser{}, fmt.Errorf("list credentials: %w", err)
	}
	credentials := make([]webauthn.Credential, 0, len(stored))
	for _, row := range stored {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(row.CredentialJSON), &credential); err != nil {
			return passkeyUser{}, fmt.Errorf("decode stored credential %s: %w", row.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return passkeyUser{
		id:          account.ID,
		email:       account.Email,
		displayName: account.DisplayName,
		credentials: credentials,
	}, nil
}
