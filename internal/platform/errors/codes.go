package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeLoginMissingField Code = "LOGIN_MISSING_FIELD"
	CodeLoginInvalidEmail Code = "LOGIN_INVALID_EMAIL"
	CodeInvalidRequest    Code = "INVALID_REQUEST"

	// Login state machine errors
	CodeLoginInvalidCredentials Code = "LOGIN_INVALID_CREDENTIALS"
	CodeLoginAccountLocked      Code = "LOGIN_ACCOUNT_LOCKED"
	CodeLoginEmailUnverified    Code = "LOGIN_EMAIL_UNVERIFIED"
	CodeLoginAccountInactive    Code = "LOGIN_ACCOUNT_INACTIVE"
	CodeLoginTooManyAttempts    Code = "LOGIN_TOO_MANY_ATTEMPTS"

	// One-time code errors
	CodeLoginCodeInvalid Code = "LOGIN_CODE_INVALID"
	CodeLoginCodeExpired Code = "LOGIN_CODE_EXPIRED"

	// Session errors
	CodeSessionInvalid          Code = "SESSION_INVALID"
	CodeSessionNotAuthenticated Code = "SESSION_NOT_AUTHENTICATED"

	// Passkey errors
	CodePasskeyChallengeMissing       Code = "PASSKEY_CHALLENGE_MISSING"
	CodePasskeyNotFound               Code = "PASSKEY_NOT_FOUND"
	CodePasskeyRegistrationRejected   Code = "PASSKEY_REGISTRATION_REJECTED"
	CodePasskeyAuthenticationRejected Code = "PASSKEY_AUTHENTICATION_REJECTED"
	CodePasskeyDuplicateCredential    Code = "PASSKEY_DUPLICATE_CREDENTIAL"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Internal errors
	CodeInternal Code = "INTERNAL"
)

// HTTPStatus maps a code to the HTTP status the REST surface responds with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeLoginMissingField, CodeLoginInvalidEmail, CodeInvalidRequest,
		CodeLoginCodeInvalid, CodeLoginCodeExpired,
		CodePasskeyChallengeMissing, CodePasskeyNotFound,
		CodePasskeyRegistrationRejected, CodePasskeyAuthenticationRejected,
		CodePasskeyDuplicateCredential:
		return http.StatusBadRequest
	case CodeLoginInvalidCredentials, CodeSessionInvalid, CodeSessionNotAuthenticated:
		return http.StatusUnauthorized
	case CodeLoginEmailUnverified, CodeLoginAccountInactive:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeLoginAccountLocked:
		return http.StatusLocked
	case CodeLoginTooManyAttempts:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
