// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package rest exposes passkeyd over HTTP: the WebAuthn ceremony
// endpoints, the user and credential endpoints, and the operational
// surface (health probes, Prometheus metrics).
package rest

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/passkeyd/passkeyd/pkg/ceremony"
	"github.com/passkeyd/passkeyd/pkg/health"
	"github.com/passkeyd/passkeyd/pkg/logging"
	"github.com/passkeyd/passkeyd/pkg/metrics"
	"github.com/passkeyd/passkeyd/pkg/ratelimit"
	"github.com/passkeyd/passkeyd/pkg/session"
	"github.com/passkeyd/passkeyd/pkg/storage"
)

// Server represents the REST API server.
type Server struct {
	server   *http.Server
	handlers *HandlerContext
	addr     string
	logger   *logging.Logger
	limiter  *ratelimit.Limiter
	metrics  MetricsConfig
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Config holds the REST server configuration.
type Config struct {
	// Host is the interface to bind (default: all).
	Host string

	// Port is the HTTP port to listen on (default: 8080).
	Port int

	// Registration orchestrates registration and signup ceremonies
	// (required).
	Registration *ceremony.Registration

	// Authentication orchestrates authentication ceremonies (required).
	Authentication *ceremony.Authentication

	// Repository is the credential repository (required).
	Repository storage.Repository

	// Tokens issues and verifies session tokens (required).
	Tokens *session.TokenIssuer

	// Health is the health checker backing the probe endpoints
	// (optional).
	Health *health.Checker

	// Logger is the request logger (optional, defaults to the package
	// default).
	Logger *logging.Logger

	// RateLimiter throttles the anonymous ceremony endpoints (optional).
	RateLimiter *ratelimit.Limiter

	// TLS enables HTTPS when set (optional).
	TLS *tls.Config

	// Metrics controls the Prometheus endpoint.
	Metrics MetricsConfig

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Registration == nil || cfg.Authentication == nil {
		return nil, fmt.Errorf("ceremony orchestrators are required")
	}
	if cfg.Repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token issuer is required")
	}

	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	handlers := &HandlerContext{
		registration:   cfg.Registration,
		authentication: cfg.Authentication,
		repo:           cfg.Repository,
		tokens:         cfg.Tokens,
		health:         cfg.Health,
		logger:         logger,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &Server{
		handlers: handlers,
		addr:     addr,
		logger:   logger,
		limiter:  cfg.RateLimiter,
		metrics:  cfg.Metrics,
	}

	server.server = &http.Server{
		Addr:         addr,
		Handler:      server.setupRouter(),
		TLSConfig:    cfg.TLS,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return server, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(s.RecoveryMiddleware())
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)

	// Health probes (no auth required)
	r.Get("/healthz", s.handlers.LivenessHandler)
	r.Get("/readyz", s.handlers.ReadinessHandler)

	if s.metrics.Enabled {
		r.Handle(s.metrics.Path, promhttp.Handler())
	}

	r.Route("/webauthn", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(ratelimit.Middleware(s.limiter))
		}

		// Anonymous ceremonies
		r.Post("/signup/begin", s.handlers.SignupBeginHandler)
		r.Post("/signup/finish", s.handlers.SignupFinishHandler)
		r.Post("/authenticate/begin", s.handlers.AuthenticateBeginHandler)
		r.Post("/authenticate/finish", s.handlers.AuthenticateFinishHandler)

		// Ceremonies for signed-in users
		r.Group(func(r chi.Router) {
			r.Use(s.AuthenticationMiddleware())
			r.Post("/register/begin", s.handlers.RegisterBeginHandler)
			r.Post("/register/finish", s.handlers.RegisterFinishHandler)
			r.Post("/logout", s.handlers.LogoutHandler)
		})
	})

	// Explicit user creation signs the caller in before any credential
	// exists
	r.Post("/users", s.handlers.CreateUserHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.AuthenticationMiddleware())
		r.Get("/users/me", s.handlers.GetCurrentUserHandler)
		r.Get("/users/me/credentials", s.handlers.ListCredentialsHandler)
		r.Get("/users/me/credentials/current", s.handlers.GetCurrentCredentialHandler)
		r.Delete("/users/me/credentials/{id}", s.handlers.DeleteCredentialHandler)
		r.Get("/users/{id}", s.handlers.GetUserHandler)
		r.Put("/users/{id}", s.handlers.UpdateUserHandler)
	})

	return r
}

// Start starts the REST API server.
func (s *Server) Start() error {
	var err error
	if s.server.TLSConfig != nil {
		s.logger.Info("starting HTTPS server", "addr", s.addr)
		// Certificates come from TLSConfig, not file paths
		err = s.server.ListenAndServeTLS("", "")
	} else {
		s.logger.Info("starting HTTP server", "addr", s.addr)
		err = s.server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server", "error", err)
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the configured router. Used by tests to serve
// through httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
