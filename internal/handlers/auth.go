package handlers

import (
	"net/http"

	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/response"
	services "github.com/nikhil/projectdesk/internal/service/auth"
)

type AuthHandler struct {
	Service *services.AuthService
	Log     *logger.Logger
}

// NewAuthHandler creates a new instance of AuthHandler
func NewAuthHandler(service *services.AuthService) *AuthHandler {
	return &AuthHandler{Service: service, Log: service.Log}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles the user authentication request
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := response.Decode(r, &creds); err != nil {
		response.Fail(w, err)
		return
	}

	token, user, err := h.Service.Login(r.Context(), creds.Email, creds.Password)
	if err != nil {
		response.Failure(w, r, h.Log, "Login failed", err)
		return
	}

	h.Log.WithContext(r.Context()).WithUser(user.UserID).Info("User logged in")
	response.OK(w, map[string]interface{}{
		"token":                token,
		"user_details":         user,
		"must_change_password": user.MustChangePassword,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword lets the caller replace their own password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	if err := h.Service.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		response.Failure(w, r, h.Log, "Failed to change password", err)
		return
	}
	h.Log.WithContext(r.Context()).Audit("Password changed", "user_id", claims.UserID)
	response.OK(w, map[string]string{"message": "Password updated"})
}

type resetRequest struct {
	Email string `json:"email"`
}

// RequestPasswordReset always answers with the same message whether or not
// the email belongs to an account.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	if err := h.Service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.Log.WithContext(r.Context()).Error("Failed to record password reset request", "error", err)
	}
	response.OK(w, map[string]string{"message": "If the account exists, an administrator has been notified"})
}
