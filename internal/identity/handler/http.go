// Package handler exposes the auth flows over HTTP/JSON.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"account-auth/internal/identity/service"
	"account-auth/internal/server/middleware"
	userdomain "account-auth/internal/user/domain"
)

const maxBodyBytes = 1 << 20

// Response messages.
const (
	MsgRegistered       = "User registered successfully"
	MsgLoggedIn         = "Login successful"
	MsgOTPSent          = "OTP sent successfully"
	MsgOTPFallback      = "OTP generated (SMS failed – testing mode)"
	MsgOTPNotDelivered  = "OTP generated (SMS failed)"
	MsgOTPVerified      = "OTP verified, login successful"
	MsgResetLinkTesting = "Reset link generated (testing mode)"
	MsgResetSent        = "Reset email sent"
	MsgResetNotSent     = "Reset link generated (email not sent)"
	MsgResetDone        = "Password reset successful"
	MsgProfile          = "Profile accessed successfully"

	MsgInvalidBody     = "Invalid request body"
	MsgUserExists      = "User already exists"
	MsgUserNotFound    = "User not found"
	MsgInvalidPassword = "Invalid password"
	MsgInvalidOTP      = "Invalid or expired OTP"
	MsgInvalidToken    = "Invalid or expired token"
	MsgServerError     = "Server error"
)

// AuthHandler serves register, login, OTP, password reset and profile routes.
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

// NewAuthHandler returns a handler backed by auth. If logger is nil, slog.Default is used.
func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{auth: auth, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type mobileRequest struct {
	Mobile string `json:"mobile"`
	OTP    string `json:"otp"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type sessionResponse struct {
	Message   string    `json:"message"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type otpResponse struct {
	Message   string    `json:"message"`
	Delivered bool      `json:"delivered"`
	OTP       string    `json:"otp,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type resetLinkResponse struct {
	Message   string `json:"message"`
	Delivered bool   `json:"delivered"`
	ResetLink string `json:"resetLink,omitempty"`
}

type profileResponse struct {
	Message string              `json:"message"`
	User    *userdomain.Profile `json:"user"`
}

// Register handles POST /register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.auth.Register(r.Context(), req.Email, req.Password); err != nil {
		h.fail(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: MsgRegistered})
}

// Login handles POST /login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.auth.PasswordLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err, MsgInvalidPassword)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Message: MsgLoggedIn, Token: res.Token, ExpiresAt: res.ExpiresAt})
}

// SendOTP handles POST /send-otp.
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req mobileRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.auth.SendOTP(r.Context(), req.Mobile)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	out := otpResponse{Message: MsgOTPSent, Delivered: res.Delivered, ExpiresAt: res.ExpiresAt}
	switch {
	case res.OTP != "":
		out.Message = MsgOTPFallback
		out.OTP = res.OTP
	case !res.Delivered:
		out.Message = MsgOTPNotDelivered
	}
	writeJSON(w, http.StatusOK, out)
}

// VerifyOTP handles POST /verify-otp.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req mobileRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.auth.VerifyOTP(r.Context(), req.Mobile, req.OTP)
	if err != nil {
		h.fail(w, r, err, MsgInvalidOTP)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Message: MsgOTPVerified, Token: res.Token, ExpiresAt: res.ExpiresAt})
}

// ForgotPassword handles POST /forgot-password.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.auth.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	out := resetLinkResponse{Message: MsgResetSent, Delivered: res.Delivered}
	switch {
	case res.Link != "":
		out.Message = MsgResetLinkTesting
		out.ResetLink = res.Link
	case !res.Delivered:
		out.Message = MsgResetNotSent
	}
	writeJSON(w, http.StatusOK, out)
}

// ResetPassword handles POST /reset-password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.fail(w, r, err, MsgInvalidToken)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: MsgResetDone})
}

// Profile handles GET /profile. It runs behind middleware.RequireBearer; a request that reaches it
// without a user ID in context falls back to verifying the bearer token itself.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	var (
		profile *userdomain.Profile
		err     error
	)
	if userID, ok := middleware.GetUserID(r.Context()); ok {
		profile, err = h.auth.GetProfileByID(r.Context(), userID)
	} else {
		token := middleware.BearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, messageResponse{Message: middleware.MsgTokenMissing})
			return
		}
		profile, err = h.auth.GetProfile(r.Context(), token)
	}
	if err != nil {
		h.fail(w, r, err, MsgInvalidToken)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Message: MsgProfile, User: profile})
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: MsgInvalidBody})
		return false
	}
	return true
}

// fail maps a flow error to its status and message. credentialMsg is the message for
// ErrInvalidCredential and ErrInvalidOrExpired in the calling flow.
func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, err error, credentialMsg string) {
	status, msg := statusFor(err, credentialMsg)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "auth: request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	writeJSON(w, status, messageResponse{Message: msg})
}

func statusFor(err error, credentialMsg string) (int, string) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, MsgUserNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, MsgUserExists
	case errors.Is(err, service.ErrInvalidCredential):
		return http.StatusUnauthorized, credentialMsg
	case errors.Is(err, service.ErrInvalidOrExpired):
		return http.StatusBadRequest, credentialMsg
	default:
		return http.StatusInternalServerError, MsgServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
