// Package passkey holds WebAuthn relying-party configuration shared by the
// ceremony endpoints and the challenge manager.
package passkey
