// Package server wires the HTTP API routes and the gRPC health server.
package server

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"account-auth/internal/devotp"
	devotphandler "account-auth/internal/devotp/handler"
	healthhandler "account-auth/internal/health/handler"
	identityhandler "account-auth/internal/identity/handler"
	identityservice "account-auth/internal/identity/service"
	"account-auth/internal/server/middleware"
)

// Deps holds the dependencies of the HTTP API.
type Deps struct {
	// Auth serves every auth route. Required.
	Auth *identityservice.AuthService
	// Health serves /healthz and /readyz. If nil, readiness is not checked.
	Health *healthhandler.Server
	// DevOTP, when set, registers GET /dev/otp. Set only in testing mode.
	DevOTP devotp.Store
	Logger *slog.Logger
	// CORSOrigin is the single front-end origin allowed to call the API with credentials.
	CORSOrigin string
}

// healthPaths are not access-logged.
var healthPaths = map[string]bool{"/healthz": true, "/readyz": true}

// NewHTTPHandler returns the API handler.
//
// Route → handler mapping:
//   - POST /register, /login, /send-otp, /verify-otp, /forgot-password, /reset-password → internal/identity/handler
//   - GET  /profile (Bearer)   → internal/identity/handler behind middleware.RequireBearer
//   - GET  /dev/otp            → internal/devotp/handler (testing mode only)
//   - GET  /healthz, /readyz   → internal/health/handler
func NewHTTPHandler(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	health := deps.Health
	if health == nil {
		health = healthhandler.NewServer(nil)
	}
	auth := identityhandler.NewAuthHandler(deps.Auth, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", auth.Register)
	mux.HandleFunc("POST /login", auth.Login)
	mux.HandleFunc("POST /send-otp", auth.SendOTP)
	mux.HandleFunc("POST /verify-otp", auth.VerifyOTP)
	mux.HandleFunc("POST /forgot-password", auth.ForgotPassword)
	mux.HandleFunc("POST /reset-password", auth.ResetPassword)
	mux.Handle("GET /profile", middleware.RequireBearer(deps.Auth)(http.HandlerFunc(auth.Profile)))
	mux.HandleFunc("GET /healthz", health.Live)
	mux.HandleFunc("GET /readyz", health.Ready)
	if deps.DevOTP != nil {
		mux.HandleFunc("GET /dev/otp", devotphandler.NewServer(deps.DevOTP).GetOTP)
	}

	var h http.Handler = mux
	h = middleware.AccessLog(logger, healthPaths)(h)
	h = middleware.CORS(deps.CORSOrigin)(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool { return !healthPaths[r.URL.Path] }),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string { return r.Method + " " + r.URL.Path }),
	)
	return h
}
