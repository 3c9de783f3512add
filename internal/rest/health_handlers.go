// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biokey.
//
// go-biokey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"net/http"

	"github.com/jeremyhahn/go-biokey/pkg/health"
)

// HealthCheckResponse is the body of every /health endpoint.
type HealthCheckResponse struct {
	// Status is the overall health status
	Status health.Status `json:"status"`
	// Message provides additional context
	Message string `json:"message,omitempty"`
	// Checks contains individual check results (readiness only)
	Checks []health.CheckResult `json:"checks,omitempty"`
}

// HealthHandler handles GET and HEAD /health. It reports the aggregate
// readiness without the per-check detail.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := health.AggregateStatus(s.checker.Ready(r.Context()))
	s.writeJSON(w, HealthCheckResponse{Status: status}, statusCode(status))
}

// LivenessHandler handles GET /health/live.
//
// Liveness fails only when the process is in an unrecoverable state.
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	result := s.checker.Live(r.Context())
	s.writeJSON(w, HealthCheckResponse{Status: result.Status, Message: result.Message}, statusCode(result.Status))
}

// ReadinessHandler handles GET /health/ready.
//
// A degraded biometric platform (nothing enrolled, sensor busy) still
// answers 200 so the listener stays in rotation while the user enrolls.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	results := s.checker.Ready(r.Context())
	status := health.AggregateStatus(results)

	resp := HealthCheckResponse{Status: status, Checks: results}
	switch status {
	case health.StatusHealthy:
		resp.Message = "Service is ready"
	case health.StatusDegraded:
		resp.Message = "Service is degraded"
	default:
		resp.Message = "Service is not ready"
	}
	s.writeJSON(w, resp, statusCode(status))
}

// StartupHandler handles GET /health/startup.
func (s *Server) StartupHandler(w http.ResponseWriter, r *http.Request) {
	result := s.checker.Startup(r.Context())
	s.writeJSON(w, HealthCheckResponse{Status: result.Status, Message: result.Message}, statusCode(result.Status))
}

func statusCode(status health.Status) int {
	if status == health.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
