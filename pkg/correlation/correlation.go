// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package correlation propagates request identifiers through contexts
// so every log line emitted while serving a request can be tied back
// to it.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for storing request IDs
	RequestIDKey contextKey = "request-id"

	// RequestIDHeader is the HTTP header for request IDs
	RequestIDHeader = "X-Request-ID"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID retrieves the request ID from context.
// Returns an empty string if no request ID is found.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// NewID generates a new UUID v4 request ID.
func NewID() string {
	return uuid.New().String()
}

// GetOrGenerate retrieves an existing request ID from context or
// generates a new one if none exists. Middleware uses this to ensure
// an ID is always present, whether or not the client supplied one.
func GetOrGenerate(ctx context.Context) string {
	if id := GetRequestID(ctx); id != "" {
		return id
	}
	return NewID()
}
