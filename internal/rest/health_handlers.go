// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package rest

import (
	"net/http"

	"github.com/passkeyd/passkeyd/pkg/health"
)

// HealthCheckResponse represents the response for health check endpoints.
type HealthCheckResponse struct {
	// Status is the overall health status
	Status health.Status `json:"status"`
	// Message provides additional context
	Message string `json:"message,omitempty"`
	// Checks contains individual check results (for readiness)
	Checks []health.CheckResult `json:"checks,omitempty"`
}

// LivenessHandler handles GET /healthz requests.
//
// Liveness probes determine if the service is alive and should be
// restarted. This endpoint should ONLY fail if the service is in an
// unrecoverable state.
func (h *HandlerContext) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, HealthCheckResponse{
			Status:  health.StatusHealthy,
			Message: "Service is alive",
		}, http.StatusOK)
		return
	}

	result := h.health.Live(r.Context())

	statusCode := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, HealthCheckResponse{
		Status:  result.Status,
		Message: result.Message,
	}, statusCode)
}

// ReadinessHandler handles GET /readyz requests.
//
// Readiness probes determine if the service can accept traffic. The
// service may be alive but not ready, as while waiting for its
// repository.
func (h *HandlerContext) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, HealthCheckResponse{
			Status:  health.StatusHealthy,
			Message: "Service is ready",
		}, http.StatusOK)
		return
	}

	results := h.health.Ready(r.Context())
	overall := health.AggregateStatus(results)

	resp := HealthCheckResponse{
		Status: overall,
		Checks: results,
	}

	statusCode := http.StatusOK
	switch overall {
	case health.StatusHealthy:
		resp.Message = "All checks passed"
	case health.StatusUnhealthy:
		resp.Message = "One or more checks failed"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, resp, statusCode)
}
