// Package handler implements liveness and readiness checks over HTTP and the standard gRPC health
// protocol (grpc.health.v1.Health).
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultCheckTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable (e.g. the credential store).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server answers health checks. Readiness follows the pinger; liveness is unconditional.
type Server struct {
	healthpb.UnimplementedHealthServer
	pinger  Pinger
	timeout time.Duration
}

// NewServer returns a health server. If pinger is nil, readiness always reports serving.
func NewServer(pinger Pinger) *Server {
	return &Server{pinger: pinger, timeout: defaultCheckTimeout}
}

func (s *Server) ready(ctx context.Context) error {
	if s.pinger == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.pinger.Ping(ctx)
}

// Check implements grpc.health.v1.Health/Check. A failed ping is reported as NOT_SERVING, not as an RPC error.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if err := s.ready(ctx); err != nil {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// Live handles GET /healthz.
func (s *Server) Live(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "ok")
}

// Ready handles GET /readyz: 200 when the store answers a ping, 503 otherwise.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	if err := s.ready(r.Context()); err != nil {
		writeStatus(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
