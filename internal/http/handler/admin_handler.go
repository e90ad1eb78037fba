package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sustainage/admission-gate/internal/clock"
	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/http/middleware"
	"github.com/sustainage/admission-gate/internal/http/response"
	"github.com/sustainage/admission-gate/internal/repository"
	"github.com/sustainage/admission-gate/internal/service"
)

type AdminHandler struct {
	users     repository.UserRepository
	sessions  *service.SessionService
	approvals *service.ApprovalService
	trail     *service.AuditTrail
	clock     clock.Clock
}

func NewAdminHandler(users repository.UserRepository, sessions *service.SessionService, approvals *service.ApprovalService, trail *service.AuditTrail, clk clock.Clock) *AdminHandler {
	if clk == nil {
		clk = clock.System()
	}
	return &AdminHandler{
		users:     users,
		sessions:  sessions,
		approvals: approvals,
		trail:     trail,
		clock:     clk,
	}
}

type createUserRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	CompanyID   uint   `json:"company_id"`
	IsAdmin     bool   `json:"is_admin"`
}

func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if req.Username == "" || len(req.Password) < 8 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "username and a password of at least 8 characters are required", nil)
		return
	}

	hash, err := service.HashPassword(req.Password)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not hash password", nil)
		return
	}
	user := &domain.User{
		Username:     req.Username,
		PasswordHash: hash,
		DisplayName:  req.DisplayName,
		CompanyID:    req.CompanyID,
		IsActive:     true,
		IsAdmin:      req.IsAdmin,
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		response.Error(w, r, http.StatusConflict, "USER_EXISTS", "username already taken", nil)
		return
	}
	h.trail.Record(r.Context(), actorName(r), "user.create", strconv.FormatUint(uint64(user.ID), 10), "created", map[string]any{
		"username":   user.Username,
		"company_id": user.CompanyID,
		"is_admin":   user.IsAdmin,
	})
	response.JSON(w, r, http.StatusCreated, map[string]any{
		"user_id":    user.ID,
		"username":   user.Username,
		"company_id": user.CompanyID,
	})
}

// DeleteUser runs the two-stage protocol: the first call opens a
// confirmation window and answers 409, a second call inside the window
// performs the delete.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil || id == 0 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid user id", nil)
		return
	}
	targetID := uint(id)

	actor, _ := middleware.UserFromContext(r.Context())
	if actor != nil && actor.ID == targetID {
		response.Error(w, r, http.StatusConflict, "SELF_DELETE", "cannot delete the calling account", nil)
		return
	}

	if _, err := h.users.FindByID(r.Context(), targetID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.Error(w, r, http.StatusNotFound, "USER_NOT_FOUND", "no such user", nil)
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "ADMIN_UNAVAILABLE", "user lookup unavailable", nil)
		return
	}

	outcome, err := h.approvals.RequestOrExecute(r.Context(), actorName(r), "user.delete", strconv.FormatUint(id, 10), func(ctx context.Context) error {
		changed, err := h.users.SoftDelete(ctx, targetID, h.clock.Now())
		if err != nil {
			return err
		}
		if !changed {
			return repository.ErrUserNotFound
		}
		return h.sessions.RevokeAllForUser(ctx, targetID, "account_deleted")
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.Error(w, r, http.StatusNotFound, "USER_NOT_FOUND", "user vanished before execution", nil)
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "ADMIN_UNAVAILABLE", "delete could not be processed", nil)
		return
	}

	if outcome.State == service.ApprovalStateConfirmationRequired {
		response.Error(w, r, http.StatusConflict, "CONFIRMATION_REQUIRED", "repeat the request within the window to confirm", map[string]any{
			"action_type": "user.delete",
			"target_id":   targetID,
			"expires_in":  outcome.ExpiresIn.Seconds(),
		})
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"status":  "deleted",
		"user_id": targetID,
	})
}
