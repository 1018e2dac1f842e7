// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package metrics provides Prometheus instrumentation for passkeyd.
// It exposes ceremony counters, HTTP request metrics, and resource
// gauges for monitoring the authentication service.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all passkeyd metrics.
	Namespace = "passkeyd"

	// Label names
	LabelCeremony   = "ceremony"
	LabelPhase      = "phase"
	LabelResult     = "result"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Result values
	ResultSuccess = "success"
	ResultFailure = "failure"

	// Ceremony names
	CeremonyRegistration   = "registration"
	CeremonySignup         = "signup"
	CeremonyAuthentication = "authentication"

	// Ceremony phases
	PhaseBegin  = "begin"
	PhaseFinish = "finish"
)

var (
	// CeremoniesTotal tracks ceremony phases by ceremony, phase, and result.
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Total number of ceremony phases by ceremony, phase, and result",
		},
		[]string{LabelCeremony, LabelPhase, LabelResult},
	)

	// CeremonyDuration tracks how long ceremony phases take server-side.
	CeremonyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ceremony_duration_seconds",
			Help:      "Server-side duration of ceremony phases in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelCeremony, LabelPhase},
	)

	// ChallengesPending tracks the number of pending ceremony challenges.
	ChallengesPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "challenges_pending",
			Help:      "Number of pending ceremony challenges awaiting their finish phase",
		},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// ActiveRequests tracks in-flight HTTP requests.
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of HTTP requests currently being served",
		},
	)

	// Goroutines tracks the current number of goroutines.
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// MemorySysBytes tracks the total bytes of memory obtained from the OS.
	MemorySysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_sys_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordCeremony records a ceremony phase with its duration and result.
//
// Example:
//
//	start := time.Now()
//	_, err := reg.Finish(ctx, sessionID, userID, body)
//	metrics.RecordCeremony(metrics.CeremonyRegistration, metrics.PhaseFinish, err == nil, time.Since(start).Seconds())
func RecordCeremony(ceremony, phase string, success bool, duration float64) {
	if !enabled.Load() {
		return
	}
	result := ResultFailure
	if success {
		result = ResultSuccess
	}
	CeremoniesTotal.WithLabelValues(ceremony, phase, result).Inc()
	CeremonyDuration.WithLabelValues(ceremony, phase).Observe(duration)
}

// RecordHTTPRequest records an HTTP request with its duration and
// status code.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// SetChallengesPending sets the pending challenge gauge.
func SetChallengesPending(count float64) {
	if !enabled.Load() {
		return
	}
	ChallengesPending.Set(count)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection. Useful for testing.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
