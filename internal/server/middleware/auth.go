// Package middleware holds the HTTP middleware of the API server: bearer authentication, CORS and
// access logging.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
)

const bearerPrefix = "bearer "

// Messages returned by RequireBearer.
const (
	MsgTokenMissing = "Access denied. Token missing"
	MsgTokenInvalid = "Invalid or expired token"
)

// SessionVerifier resolves a session token to the user ID it was issued for.
type SessionVerifier interface {
	VerifySession(token string) (string, error)
}

// RequireBearer returns middleware that validates the Bearer session token from the Authorization
// header and sets the user ID in the request context for protected routes.
func RequireBearer(verifier SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				writeMessage(w, http.StatusUnauthorized, MsgTokenMissing)
				return
			}
			userID, err := verifier.VerifySession(token)
			if err != nil {
				writeMessage(w, http.StatusUnauthorized, MsgTokenInvalid)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// BearerToken returns the Bearer token from the Authorization header, or "" if missing or malformed.
// The scheme is matched case-insensitively.
func BearerToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
