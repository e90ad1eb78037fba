package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sustainage/admission-gate/internal/http/middleware"
	"github.com/sustainage/admission-gate/internal/http/response"
	"github.com/sustainage/admission-gate/internal/service"
)

type LicenseHandler struct {
	licenses *service.LicenseService
	trail    *service.AuditTrail
}

func NewLicenseHandler(licenses *service.LicenseService, trail *service.AuditTrail) *LicenseHandler {
	return &LicenseHandler{licenses: licenses, trail: trail}
}

type issueLicenseRequest struct {
	CompanyID uint `json:"company_id"`
	MaxUsers  int  `json:"max_users"`
	TTLHours  int  `json:"ttl_hours"`
}

// Issue mints a signed license for a company. Admin only.
func (h *LicenseHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if req.CompanyID == 0 || req.MaxUsers <= 0 || req.TTLHours <= 0 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "company_id, max_users and ttl_hours must be positive", nil)
		return
	}

	token, license, err := h.licenses.Issue(r.Context(), req.CompanyID, req.MaxUsers, time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "LICENSE_UNAVAILABLE", "could not issue license", nil)
		return
	}
	h.trail.Record(r.Context(), actorName(r), "license.issue", license.Token[:min(12, len(license.Token))], "issued", map[string]any{
		"company_id": req.CompanyID,
		"max_users":  req.MaxUsers,
		"expires_at": license.ExpiresAt,
	})
	response.JSON(w, r, http.StatusCreated, map[string]any{
		"token":      token,
		"company_id": license.CompanyID,
		"max_users":  license.MaxUsers,
		"issued_at":  license.IssuedAt,
		"expires_at": license.ExpiresAt,
	})
}

type revokeLicenseRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

// Revoke takes a license out of service. Admin only.
func (h *LicenseHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req revokeLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if req.Token == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "token is required", nil)
		return
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}

	err := h.licenses.Revoke(r.Context(), req.Token, req.Reason)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrLicenseUnknown):
		response.Error(w, r, http.StatusNotFound, "LICENSE_UNKNOWN", "no such license", nil)
		return
	case errors.Is(err, service.ErrLicenseNotActive):
		response.Error(w, r, http.StatusConflict, "LICENSE_NOT_ACTIVE", "license already revoked or expired", nil)
		return
	default:
		response.Error(w, r, http.StatusServiceUnavailable, "LICENSE_UNAVAILABLE", "could not revoke license", nil)
		return
	}
	h.trail.Record(r.Context(), actorName(r), "license.revoke", req.Token[:min(12, len(req.Token))], "revoked", map[string]any{
		"reason": req.Reason,
	})
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "revoked"})
}

// Current echoes the admitted license for the calling request. It sits
// behind the admission middleware, so reaching it proves admission.
func (h *LicenseHandler) Current(w http.ResponseWriter, r *http.Request) {
	l, ok := middleware.LicenseFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusForbidden, "LICENSE_MISSING", "no admitted license on request", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"company_id": l.CompanyID,
		"max_users":  l.MaxUsers,
		"expires_at": l.ExpiresAt,
	})
}

func actorName(r *http.Request) string {
	if user, ok := middleware.UserFromContext(r.Context()); ok {
		return user.Username
	}
	return "anonymous"
}
