package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/http/response"
	"github.com/sustainage/admission-gate/internal/observability"
	"github.com/sustainage/admission-gate/internal/repository"
	"github.com/sustainage/admission-gate/internal/security"
	"github.com/sustainage/admission-gate/internal/service"
)

// RequireSession resolves the session cookie and loads its user into the
// request context. Anything short of a live session and an active user is a
// 401.
func RequireSession(sessions *service.SessionService, users repository.UserRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := sessions.Resolve(r.Context(), security.GetCookie(r, service.SessionCookieName))
			if err != nil {
				if errors.Is(err, repository.ErrSessionNotFound) {
					response.Error(w, r, http.StatusUnauthorized, "SESSION_INVALID", "missing or expired session", nil)
					return
				}
				response.Error(w, r, http.StatusServiceUnavailable, "SESSION_UNAVAILABLE", "session check unavailable", nil)
				return
			}
			user, err := users.FindByID(r.Context(), session.UserID)
			if err != nil {
				if errors.Is(err, repository.ErrUserNotFound) {
					response.Error(w, r, http.StatusUnauthorized, "SESSION_INVALID", "session user no longer exists", nil)
					return
				}
				response.Error(w, r, http.StatusServiceUnavailable, "SESSION_UNAVAILABLE", "session check unavailable", nil)
				return
			}
			if !user.IsActive {
				response.Error(w, r, http.StatusUnauthorized, "SESSION_INVALID", "account deactivated", nil)
				return
			}
			ctx := context.WithValue(r.Context(), SessionContextKey, session)
			ctx = context.WithValue(ctx, UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin allows only admin accounts through. Must run after
// RequireSession.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			response.Error(w, r, http.StatusUnauthorized, "SESSION_INVALID", "missing auth context", nil)
			return
		}
		if !user.IsAdmin {
			observability.Audit(r, "admin_access_denied", "user_id", user.ID)
			response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "admin privileges required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func SessionFromContext(ctx context.Context) (*domain.Session, bool) {
	s, ok := ctx.Value(SessionContextKey).(*domain.Session)
	return s, ok
}

func UserFromContext(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(UserContextKey).(*domain.User)
	return u, ok
}
