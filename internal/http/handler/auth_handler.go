package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sustainage/admission-gate/internal/http/middleware"
	"github.com/sustainage/admission-gate/internal/http/response"
	"github.com/sustainage/admission-gate/internal/observability"
	"github.com/sustainage/admission-gate/internal/security"
	"github.com/sustainage/admission-gate/internal/service"
)

// loginSessionCookie tracks one browser's login attempts for CAPTCHA
// escalation. It is set before authentication and carries no authority.
const loginSessionCookie = "gate_login_sid"

const csrfCookie = "csrf_token"

type AuthHandler struct {
	guard         *service.LoginGuard
	sessions      *service.SessionService
	trail         *service.AuditTrail
	secureCookies bool
}

func NewAuthHandler(guard *service.LoginGuard, sessions *service.SessionService, trail *service.AuditTrail, secureCookies bool) *AuthHandler {
	return &AuthHandler{
		guard:         guard,
		sessions:      sessions,
		trail:         trail,
		secureCookies: secureCookies,
	}
}

type loginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	CaptchaCode string `json:"captcha_code,omitempty"`
}

// Login runs the full defense stack and establishes a session on success.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if req.Username == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "username and password are required", nil)
		return
	}

	challengeID, err := h.ensureLoginSession(w, r)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not start login session", nil)
		return
	}

	user, err := h.guard.Attempt(r.Context(), service.LoginRequest{
		Username:    req.Username,
		Password:    req.Password,
		CaptchaCode: req.CaptchaCode,
		ClientIP:    clientIP(r),
		ChallengeID: challengeID,
	})
	if err != nil {
		h.rejectLogin(w, r, req.Username, err)
		return
	}

	token, session, err := h.sessions.Establish(r.Context(), user, r.UserAgent(), clientIP(r))
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not establish session", nil)
		return
	}
	csrf, err := security.NewSessionToken()
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not establish session", nil)
		return
	}

	maxAge := int(h.sessions.TTL().Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     service.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	// Readable by the frontend for the double-submit header.
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookie,
		Value:    csrf,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	h.trail.Record(r.Context(), user.Username, "auth.login", "", "success", map[string]any{
		"session_id": session.ID,
		"ip":         clientIP(r),
	})
	response.JSON(w, r, http.StatusOK, map[string]any{
		"user_id":      user.ID,
		"username":     user.Username,
		"display_name": user.DisplayName,
		"company_id":   user.CompanyID,
		"is_admin":     user.IsAdmin,
		"expires_at":   session.ExpiresAt,
	})
}

func (h *AuthHandler) rejectLogin(w http.ResponseWriter, r *http.Request, username string, err error) {
	var limited *service.RateLimitedError
	var locked *service.AccountLockedError
	switch {
	case errors.As(err, &limited):
		h.trail.Record(r.Context(), username, "auth.login", "", "rate_limited", map[string]any{
			"ip": clientIP(r),
		})
		w.Header().Set("Retry-After", retryAfterSeconds(limited.Decision.ResetIn))
		response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many login attempts", map[string]any{
			"reset_in": limited.Decision.ResetIn.Seconds(),
		})
	case errors.As(err, &locked):
		h.trail.Record(r.Context(), username, "auth.login", "", "locked", nil)
		response.Error(w, r, http.StatusForbidden, "ACCOUNT_LOCKED", "account temporarily locked", map[string]any{
			"retry_in": locked.RetryIn.Seconds(),
		})
	case errors.Is(err, service.ErrCaptchaRequired):
		response.Error(w, r, http.StatusForbidden, "CAPTCHA_REQUIRED", "solve the captcha challenge and retry", nil)
	case errors.Is(err, service.ErrCaptchaMismatch):
		h.trail.Record(r.Context(), username, "auth.login", "", "captcha_mismatch", nil)
		response.Error(w, r, http.StatusForbidden, "CAPTCHA_INVALID", "captcha solution did not match", nil)
	case errors.Is(err, service.ErrInvalidCredentials):
		h.trail.Record(r.Context(), username, "auth.login", "", "invalid_credentials", map[string]any{
			"ip": clientIP(r),
		})
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "username or password incorrect", nil)
	default:
		observability.Audit(r, "login_backend_error", "error", err.Error())
		response.Error(w, r, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "login temporarily unavailable", nil)
	}
}

// Captcha issues a challenge for the current login session. Rendering it to
// the user is the frontend's job; the gate only stores the expected answer.
func (h *AuthHandler) Captcha(w http.ResponseWriter, r *http.Request) {
	challengeID, err := h.ensureLoginSession(w, r)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not start login session", nil)
		return
	}
	code, err := h.guard.IssueChallenge(r.Context(), challengeID)
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "captcha temporarily unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"challenge": code})
}

// Logout revokes the current session and clears both cookies. Logging out
// without a session still succeeds.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	raw := security.GetCookie(r, service.SessionCookieName)
	if err := h.sessions.Revoke(r.Context(), raw, "logout"); err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "logout temporarily unavailable", nil)
		return
	}
	for _, name := range []string{service.SessionCookieName, csrfCookie} {
		http.SetCookie(w, &http.Cookie{
			Name: name, Value: "", Path: "/", MaxAge: -1,
			HttpOnly: name == service.SessionCookieName,
			Secure:   h.secureCookies, SameSite: http.SameSiteLaxMode,
		})
	}
	if user, ok := middleware.UserFromContext(r.Context()); ok {
		h.trail.Record(r.Context(), user.Username, "auth.logout", "", "success", nil)
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandler) ensureLoginSession(w http.ResponseWriter, r *http.Request) (string, error) {
	if id := security.GetCookie(r, loginSessionCookie); id != "" {
		return id, nil
	}
	id, err := security.NewSessionToken()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     loginSessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   3600,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return id, nil
}
