// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package rest

import (
	"net/http"
	"strings"
	"time"

	"github.com/passkeyd/passkeyd/pkg/correlation"
)

// RequestIDMiddleware ensures every request carries an ID, honoring a
// client-supplied X-Request-ID header and generating one otherwise.
// The ID is stored in the request context and echoed on the response.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(correlation.RequestIDHeader)
			if id == "" {
				id = correlation.NewID()
			}
			w.Header().Set(correlation.RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(correlation.WithRequestID(r.Context(), id)))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// newResponseWriter creates a new responseWriter.
func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// LoggingMiddleware logs HTTP requests using the configured logger.
func (s *Server) LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			s.logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start).String(),
				"request_id", correlation.GetRequestID(r.Context()))
		})
	}
}

// RecoveryMiddleware recovers from panics and returns a 500 error.
func (s *Server) RecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					s.logger.Error("panic recovered",
						"method", r.Method,
						"path", r.URL.Path,
						"error", err)
					writeErrorWithMessage(w, ErrInternalError, "An unexpected error occurred", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// AuthenticationMiddleware verifies the bearer token and stores the
// session identity in the request context.
func (s *Server) AuthenticationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeErrorWithMessage(w, ErrUnauthorized, "missing bearer token", http.StatusUnauthorized)
				return
			}

			id, err := s.handlers.tokens.Parse(token)
			if err != nil {
				s.logger.Warn("token rejected",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr)
				writeErrorWithMessage(w, ErrUnauthorized, "invalid session token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
		})
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}
