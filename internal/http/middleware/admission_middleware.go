package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/sustainage/admission-gate/internal/http/response"
	"github.com/sustainage/admission-gate/internal/observability"
	"github.com/sustainage/admission-gate/internal/repository"
	"github.com/sustainage/admission-gate/internal/security"
	"github.com/sustainage/admission-gate/internal/service"
)

type contextKey string

const (
	LicenseContextKey contextKey = "license"
	SessionContextKey contextKey = "session"
	UserContextKey    contextKey = "user"
)

// LicenseHeader carries an explicit license token; requests without it fall
// back to the company bound to their session.
const LicenseHeader = "X-License-Key"

// Admission gates every tenant-scoped route on a usable license. Failures
// are explicit 403s per cause; an unanswerable store is a 503, never a pass.
func Admission(licenses *service.LicenseService, sessions *service.SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := r.Header.Get(LicenseHeader); raw != "" {
				verified, err := licenses.Verify(r.Context(), raw)
				if err != nil {
					denyAdmission(w, r, "header", err)
					return
				}
				observability.RecordAdmissionDecision(r.Context(), "admitted", "header")
				ctx := context.WithValue(r.Context(), LicenseContextKey, verified)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			session, err := sessions.Resolve(r.Context(), security.GetCookie(r, service.SessionCookieName))
			if err != nil {
				if errors.Is(err, repository.ErrSessionNotFound) {
					observability.RecordAdmissionDecision(r.Context(), "denied", "none")
					observability.Audit(r, "admission_denied", "reason", "no_license_no_session")
					response.Error(w, r, http.StatusForbidden, "LICENSE_MISSING", "no license key or session", nil)
					return
				}
				observability.RecordAdmissionDecision(r.Context(), "error", "session")
				response.Error(w, r, http.StatusServiceUnavailable, "ADMISSION_UNAVAILABLE", "admission check unavailable", nil)
				return
			}

			l, err := licenses.ActiveForCompany(r.Context(), session.CompanyID)
			if err != nil {
				denyAdmission(w, r, "session", err)
				return
			}
			observability.RecordAdmissionDecision(r.Context(), "admitted", "session")
			verified := &service.VerifiedLicense{
				LicenseID: l.ID,
				CompanyID: l.CompanyID,
				MaxUsers:  l.MaxUsers,
				ExpiresAt: l.ExpiresAt,
			}
			ctx := context.WithValue(r.Context(), LicenseContextKey, verified)
			ctx = context.WithValue(ctx, SessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func denyAdmission(w http.ResponseWriter, r *http.Request, source string, err error) {
	var code string
	switch {
	case errors.Is(err, security.ErrSignatureInvalid):
		code = "LICENSE_SIGNATURE_INVALID"
	case errors.Is(err, security.ErrLicenseExpired):
		code = "LICENSE_EXPIRED"
	case errors.Is(err, service.ErrLicenseRevoked):
		code = "LICENSE_REVOKED"
	case errors.Is(err, service.ErrLicenseUnknown):
		code = "LICENSE_UNKNOWN"
	case errors.Is(err, service.ErrLicenseNotActive):
		code = "LICENSE_NOT_ACTIVE"
	case errors.Is(err, service.ErrLicenseCompanyMismatch):
		code = "LICENSE_COMPANY_MISMATCH"
	case errors.Is(err, service.ErrNoActiveLicense):
		code = "LICENSE_MISSING"
	default:
		observability.RecordAdmissionDecision(r.Context(), "error", source)
		response.Error(w, r, http.StatusServiceUnavailable, "ADMISSION_UNAVAILABLE", "admission check unavailable", nil)
		return
	}
	observability.RecordAdmissionDecision(r.Context(), "denied", source)
	observability.Audit(r, "admission_denied", "reason", code, "source", source)
	response.Error(w, r, http.StatusForbidden, code, "license not admitted", map[string]string{"cause": code})
}

// LicenseFromContext returns the admitted license placed by Admission.
func LicenseFromContext(ctx context.Context) (*service.VerifiedLicense, bool) {
	l, ok := ctx.Value(LicenseContextKey).(*service.VerifiedLicense)
	return l, ok
}
