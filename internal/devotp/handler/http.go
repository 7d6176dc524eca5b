// Package handler serves the dev-only OTP lookup (GET /dev/otp).
package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"account-auth/internal/devotp"
)

const devOTPNote = "DEV MODE ONLY"

// Server reads OTPs from the dev store. Only registered when testing mode is enabled.
type Server struct {
	store devotp.Store
}

// NewServer returns a dev OTP server that reads from the given store.
func NewServer(store devotp.Store) *Server {
	return &Server{store: store}
}

type otpResponse struct {
	OTP  string `json:"otp"`
	Note string `json:"note"`
}

// GetOTP returns the latest OTP issued to the mobile query parameter. Returns 404 if missing or expired.
func (s *Server) GetOTP(w http.ResponseWriter, r *http.Request) {
	mobile := strings.TrimSpace(r.URL.Query().Get("mobile"))
	if mobile == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "mobile is required"})
		return
	}
	otp, ok := s.store.Get(r.Context(), mobile)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "OTP not found or expired"})
		return
	}
	writeJSON(w, http.StatusOK, otpResponse{OTP: otp, Note: devOTPNote})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
