// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package rest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/passkeyd/passkeyd/pkg/identity"
)

// Common errors
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInternalError  = errors.New("internal server error")
)

// writeError writes an error response to the client.
func writeError(w http.ResponseWriter, err error, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error: err.Error(),
		Code:  statusCode,
	}

	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		log.Printf("Failed to encode error response: %v", encErr)
	}
}

// writeErrorWithMessage writes an error response with a custom message.
func writeErrorWithMessage(w http.ResponseWriter, err error, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   err.Error(),
		Message: message,
		Code:    statusCode,
	}

	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		log.Printf("Failed to encode error response: %v", encErr)
	}
}

// mapErrorToStatusCode maps taxonomy errors to HTTP status codes.
func mapErrorToStatusCode(err error) int {
	switch {
	case identity.IsValidation(err), errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case identity.IsCeremonyFailed(err), identity.IsReplaySuspected(err):
		return http.StatusUnauthorized
	case errors.Is(err, identity.ErrForbidden):
		return http.StatusForbidden
	case identity.IsNotFound(err):
		return http.StatusNotFound
	case identity.IsConflict(err):
		return http.StatusConflict
	case identity.IsChallengeExpired(err):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// clientError reduces err to what the caller is allowed to see: the
// ceremony message pair, or the bare taxonomy sentinel. Operation
// wrappers and call-site detail stay server-side.
func clientError(err error) error {
	var ce *identity.CeremonyError
	if errors.As(err, &ce) {
		return ce
	}

	sentinels := []error{
		identity.ErrValidation,
		identity.ErrReplaySuspected,
		identity.ErrForbidden,
		identity.ErrNotFound,
		identity.ErrConflict,
		identity.ErrChallengeExpired,
		ErrInvalidRequest,
		ErrUnauthorized,
	}
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return err
}

// handleError maps the error to a status code and writes the response.
// Internal failures are logged in full but reported generically.
func (h *HandlerContext) handleError(w http.ResponseWriter, err error) {
	statusCode := mapErrorToStatusCode(err)
	if statusCode == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		writeError(w, ErrInternalError, statusCode)
		return
	}
	writeError(w, clientError(err), statusCode)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}
