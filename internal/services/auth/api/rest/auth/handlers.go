package auth

import (
	"bytes"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/jazzmind/vibefunder/internal/platform/errors"
	"github.com/jazzmind/vibefunder/internal/services/auth/login"
	"github.com/jazzmind/vibefunder/internal/services/auth/session"
)

const (
	sessionCookieName           = "vibefunder_session"
	registrationChallengeCookie = "vibefunder_reg_challenge"
	loginChallengeCookie        = "vibefunder_login_challenge"

	challengeCookieTTL = 5 * time.Minute
)

// errNotAuthenticated is the uniform response for requests without a usable
// session.
var errNotAuthenticated = apperrors.New(apperrors.CodeSessionNotAuthenticated, "not authenticated")

// errorMessages are the client-facing strings per error code. Codes absent
// here render as an internal error so nothing unexpected leaks.
var errorMessages = map[apperrors.Code]string{
	apperrors.CodeLoginMissingField:             "Email and password are required",
	apperrors.CodeLoginInvalidEmail:             "Invalid email address",
	apperrors.CodeInvalidRequest:                "Invalid request",
	apperrors.CodeLoginInvalidCredentials:       "Invalid credentials",
	apperrors.CodeLoginAccountLocked:            "Account is temporarily locked",
	apperrors.CodeLoginEmailUnverified:          "Email not verified",
	apperrors.CodeLoginAccountInactive:          "Account has been deactivated",
	apperrors.CodeLoginTooManyAttempts:          "Too many login attempts",
	apperrors.CodeLoginCodeInvalid:              "Invalid code",
	apperrors.CodeLoginCodeExpired:              "Code has expired",
	apperrors.CodeSessionInvalid:                "Not authenticated",
	apperrors.CodeSessionNotAuthenticated:       "Not authenticated",
	apperrors.CodePasskeyChallengeMissing:       "No challenge found",
	apperrors.CodePasskeyNotFound:               "Passkey not found",
	apperrors.CodePasskeyRegistrationRejected:   "Passkey registration failed",
	apperrors.CodePasskeyAuthenticationRejected: "Failed to authenticate",
	apperrors.CodePasskeyDuplicateCredential:    "Passkey already registered",
	apperrors.CodeNotFound:                      "Not found",
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func userResponse(result login.Result) userPayload {
	return userPayload{
		ID:    result.User.ID,
		Email: result.User.Email,
		Role:  string(result.User.Role),
	}
}

// RegisterRoutes registers the auth HTTP endpoints on the provided mux.
func (s *AuthService) RegisterRoutes(mux *http.ServeMux) {
	if s == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/auth/login", s.withRateLimit(s.handleLogin))
	mux.HandleFunc("/api/auth/logout", s.handleLogout)
	mux.HandleFunc("/api/auth/session", s.handleSession)
	mux.HandleFunc("/api/auth/code/request", s.withRateLimit(s.handleCodeRequest))
	mux.HandleFunc("/api/auth/code/verify", s.withRateLimit(s.handleCodeVerify))
	mux.HandleFunc("/api/auth/passkeys/register/options", s.handlePasskeyRegisterOptions)
	mux.HandleFunc("/api/auth/passkeys/register/verify", s.handlePasskeyRegisterVerify)
	mux.HandleFunc("/api/auth/passkeys/login/options", s.handlePasskeyLoginOptions)
	mux.HandleFunc("/api/auth/passkeys/login/verify", s.handlePasskeyLoginVerify)
	mux.HandleFunc("/api/auth/passkeys", s.handlePasskeyList)
	mux.HandleFunc("/api/auth/passkeys/", s.handlePasskeyDelete)
	mux.HandleFunc("/up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func (s *AuthService) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var request struct {
		Email                   string `json:"email"`
		Password                string `json:"password"`
		RememberMe              bool   `json:"rememberMe"`
		InvalidateOtherSessions bool   `json:"invalidateOtherSessions"`
	}
	if err := decodeJSON(r, &request); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.logins.PasswordLogin(r.Context(), login.PasswordInput{
		Email:                   request.Email,
		Password:                request.Password,
		RememberMe:              request.RememberMe,
		InvalidateOtherSessions: request.InvalidateOtherSessions,
		IP:                      clientIP(r),
		UserAgent:               r.UserAgent(),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.setSessionCookie(w, result.Session)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   result.Session.Token,
		"user":    userResponse(result),
	})
}

func (s *AuthService) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var request struct {
		AllSessions bool `json:"allSessions"`
	}
	// The body is optional; an empty or malformed one means a plain logout.
	_ = json.NewDecoder(r.Body).Decode(&request)

	token := sessionToken(r)
	if token != "" {
		if request.AllSessions {
			// Resolved from unvalidated claims so an expired token can still
			// log out everywhere.
			if err := s.sessions.RevokeAllFromToken(r.Context(), token); err != nil {
				log.Printf("revoke all sessions: %v", err)
			}
		} else if err := s.sessions.Revoke(r.Context(), token); err != nil {
			log.Printf("revoke session: %v", err)
		}
	}

	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out successfully",
	})
}

func (s *AuthService) handleSession(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	identity, err := s.requireIdentity(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user": userPayload{
			ID:    identity.UserID,
			Email: identity.Email,
			Role:  string(identity.Role),
		},
		"expiresAt": identity.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *AuthService) handleCodeRequest(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var request struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &request); err != nil {
		s.writeError(w, err)
		return
	}

	issued, err := s.logins.RequestCode(r.Context(), request.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.sendCode(r.Context(), issued); err != nil {
		log.Printf("send login code: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "A login code has been sent",
	})
}

func (s *AuthService) handleCodeVerify(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var request struct {
		Email                   string `json:"email"`
		Code                    string `json:"code"`
		RememberMe              bool   `json:"rememberMe"`
		InvalidateOtherSessions bool   `json:"invalidateOtherSessions"`
	}
	if err := decodeJSON(r, &request); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.logins.VerifyCode(r.Context(), login.CodeInput{
		Email:                   request.Email,
		Code:                    request.Code,
		RememberMe:              request.RememberMe,
		InvalidateOtherSessions: request.InvalidateOtherSessions,
		IP:                      clientIP(r),
		UserAgent:               r.UserAgent(),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.setSessionCookie(w, result.Session)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   result.Session.Token,
		"user":    userResponse(result),
	})
}

func (s *AuthService) handlePasskeyRegisterOptions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	identity, err := s.requireIdentity(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	options, challengeID, err := s.BeginPasskeyRegistration(r.Context(), identity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.setChallengeCookie(w, registrationChallengeCookie, challengeID)
	writeJSON(w, http.StatusOK, options)
}

func (s *AuthService) handlePasskeyRegisterVerify(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	identity, err := s.requireIdentity(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var request struct {
		Credential json.RawMessage `json:"credential"`
		Name       string          `json:"name"`
	}
	if err := decodeJSON(r, &request); err != nil {
		s.writeError(w, err)
		return
	}

	challengeID := cookieValue(r, registrationChallengeCookie)
	s.clearChallengeCookie(w, registrationChallengeCookie)
	err = s.FinishPasskeyRegistration(r.Context(), identity, challengeID, request.Name, bytes.NewReader(request.Credential))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *AuthService) handlePasskeyLoginOptions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	options, challengeID, err := s.BeginPasskeyLogin(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.setChallengeCookie(w, loginChallengeCookie, challengeID)
	writeJSON(w, http.StatusOK, options)
}

func (s *AuthService) handlePasskeyLoginVerify(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var request struct {
		Credential json.RawMessage `json:"credential"`
		RememberMe bool            `json:"rememberMe"`
	}
	if err := decodeJSON(r, &request); err != nil {
		s.writeError(w, err)
		return
	}

	challengeID := cookieValue(r, loginChallengeCookie)
	s.clearChallengeCookie(w, loginChallengeCookie)
	result, err := s.FinishPasskeyLogin(r.Context(), challengeID, bytes.NewReader(request.Credential), session.CreateOptions{
		RememberMe: request.RememberMe,
		IP:         clientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeInternal {
			log.Printf("passkey login: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to authenticate"})
			return
		}
		s.writeError(w, err)
		return
	}

	s.setSessionCookie(w, result.Session)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   result.Session.Token,
		"user":    userResponse(result),
	})
}

func (s *AuthService) handlePasskeyList(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	identity, err := s.requireIdentity(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	devices, err := s.ListPasskeys(r.Context(), identity.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"passkeys": devices,
	})
}

func (s *AuthService) handlePasskeyDelete(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodDelete) {
		return
	}
	identity, err := s.requireIdentity(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	credentialID := strings.TrimPrefix(r.URL.Path, "/api/auth/passkeys/")
	if credentialID == "" || strings.Contains(credentialID, "/") {
		s.writeError(w, apperrors.New(apperrors.CodeNotFound, "unknown passkey path"))
		return
	}
	if err := s.DeletePasskey(r.Context(), identity.UserID, credentialID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// requireIdentity resolves the caller's session from cookie or bearer token.
func (s *AuthService) requireIdentity(r *http.Request) (session.Identity, error) {
	token := sessionToken(r)
	if token == "" {
		return session.Identity{}, errNotAuthenticated
	}
	identity, err := s.sessions.Verify(r.Context(), token)
	if err != nil {
		return session.Identity{}, errNotAuthenticated
	}
	return identity, nil
}

func sessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *AuthService) setSessionCookie(w http.ResponseWriter, sess session.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.config.Production(),
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *AuthService) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.Production(),
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *AuthService) setChallengeCookie(w http.ResponseWriter, name, challengeID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    challengeID,
		Path:     "/api/auth/passkeys",
		MaxAge:   int(challengeCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.config.Production(),
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *AuthService) clearChallengeCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/api/auth/passkeys",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.Production(),
		SameSite: http.SameSiteStrictMode,
	})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed"})
		return false
	}
	return true
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidRequest, "decode request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func (s *AuthService) writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Printf("auth api: %v", err)
	}

	message, ok := errorMessages[code]
	if !ok {
		message = "Internal server error"
	}
	body := map[string]any{"error": message}
	if lockedUntil := apperrors.GetMetadata(err)[login.MetadataLockedUntil]; lockedUntil != "" {
		body["lockedUntil"] = lockedUntil
	}
	writeJSON(w, status, body)
}

// clientIP prefers the first forwarded address so throttling keys on the real
// client behind a proxy.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
