// Package auth defines the identity boundary of the platform.
//
// It is the single place that owns user lifecycle, authentication factors,
// and session issuance so other services can depend on stable user IDs and
// verified identities instead of re-implementing login rules.
//
// Subpackages:
//   - app: auth server wiring and lifecycle
//   - api/rest/auth: HTTP JSON handlers and the AuthService facade
//   - challenge: single-use WebAuthn ceremony state
//   - login: password and one-time-code state machine
//   - passkey: WebAuthn relying-party configuration
//   - session: session token issuance and verification
//   - storage: persistence interfaces, SQLite implementation, Redis cache
//   - user: user domain model and helpers
package auth
