// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package health implements liveness and readiness checks following
// Kubernetes probe semantics.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is operating normally.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a single health check.
type CheckResult struct {
	// Name is the identifier for this health check.
	Name string `json:"name"`
	// Status is the health status of the component.
	Status Status `json:"status"`
	// Message provides additional context about the status.
	Message string `json:"message,omitempty"`
	// Latency is how long the check took to execute.
	Latency time.Duration `json:"latency"`
}

// CheckFunc performs a health check. It should return quickly; slow
// dependencies belong behind their own timeout.
type CheckFunc func(ctx context.Context) CheckResult

// PingCheck adapts a ping-style dependency probe into a CheckFunc.
// The repository's Close/ping surface and any other error-returning
// probe fit this shape.
func PingCheck(name string, ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{
				Name:    name,
				Status:  StatusUnhealthy,
				Message: err.Error(),
			}
		}
		return CheckResult{Name: name, Status: StatusHealthy}
	}
}

// Checker manages the service's probes.
//
// Liveness answers "is the process alive"; readiness answers "can the
// service take traffic", gated on registered dependency checks and on
// MarkStarted having been called after initialization.
type Checker struct {
	mu        sync.RWMutex
	started   bool
	startTime time.Time
	checks    map[string]CheckFunc
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
	}
}

// RegisterCheck adds a readiness check under the given name, replacing
// any existing check with that name.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// MarkStarted marks the service as fully initialized. Readiness fails
// until this is called.
func (c *Checker) MarkStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

// MarkStopping marks the service as draining so readiness fails while
// in-flight requests complete.
func (c *Checker) MarkStopping() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
}

// Live performs a liveness check. It only reports on the process
// itself; dependency failures must not get the pod restarted.
func (c *Checker) Live(ctx context.Context) CheckResult {
	start := time.Now()
	return CheckResult{
		Name:    "liveness",
		Status:  StatusHealthy,
		Message: "service is alive",
		Latency: time.Since(start),
	}
}

// Ready runs all registered checks plus the startup gate.
func (c *Checker) Ready(ctx context.Context) []CheckResult {
	c.mu.RLock()
	started := c.started
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make([]CheckResult, 0, len(checks)+1)

	if !started {
		results = append(results, CheckResult{
			Name:    "startup",
			Status:  StatusUnhealthy,
			Message: "service initialization not complete",
		})
	}

	for name, check := range checks {
		start := time.Now()
		result := check(ctx)
		result.Latency = time.Since(start)
		if result.Name == "" {
			result.Name = name
		}
		results = append(results, result)
	}

	if len(results) == 0 {
		results = append(results, CheckResult{
			Name:    "default",
			Status:  StatusHealthy,
			Message: "no readiness checks configured",
		})
	}
	return results
}

// IsHealthy reports whether every readiness check passes.
func (c *Checker) IsHealthy(ctx context.Context) bool {
	for _, result := range c.Ready(ctx) {
		if result.Status != StatusHealthy {
			return false
		}
	}
	return true
}

// IsStarted reports whether MarkStarted has been called.
func (c *Checker) IsStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// Uptime returns how long the service has been running.
func (c *Checker) Uptime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.startTime)
}

// AggregateStatus folds check results into a single status.
func AggregateStatus(results []CheckResult) Status {
	for _, result := range results {
		if result.Status != StatusHealthy {
			return StatusUnhealthy
		}
	}
	return StatusHealthy
}
