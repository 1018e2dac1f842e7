// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package identity

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the service-wide taxonomy. Every layer maps
// its failures into exactly one of these classes.
var (
	// ErrValidation is returned for malformed or over-length input.
	ErrValidation = errors.New("invalid input")

	// ErrForbidden is returned when an authenticated caller targets
	// another principal's resource.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned for unknown resources. It is deliberately
	// reused when a resource exists but belongs to someone else, so the
	// two cases cannot be told apart.
	ErrNotFound = errors.New("not found")

	// ErrChallengeExpired is returned when a ceremony challenge is
	// missing, expired, or already consumed.
	ErrChallengeExpired = errors.New("ceremony challenge expired")

	// ErrCeremonyFailed is returned when the verification engine rejects
	// an attestation or assertion.
	ErrCeremonyFailed = errors.New("ceremony failed")

	// ErrReplaySuspected is returned when an assertion's signature
	// counter did not increase, which indicates a cloned authenticator.
	ErrReplaySuspected = errors.New("signature counter did not increase")

	// ErrConflict is returned when a credential id hash already exists
	// or a concurrent counter update raced.
	ErrConflict = errors.New("conflict")

	// ErrInternal is returned for unexpected failures. The full cause is
	// logged server-side; callers only see a generic message.
	ErrInternal = errors.New("internal error")
)

// Error wraps a taxonomy error with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with the given operation and cause.
func NewError(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// WrapError wraps err with an operation name unless it is nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// CeremonyError carries the verification engine's message and inner
// message for a rejected ceremony. It never exposes raw engine
// internals or stack traces.
type CeremonyError struct {
	Message string
	Inner   string
}

func (e *CeremonyError) Error() string {
	if e.Inner == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Inner)
}

// Is reports ErrCeremonyFailed so callers can match the class without
// inspecting the message.
func (e *CeremonyError) Is(target error) bool {
	return target == ErrCeremonyFailed
}

// NewCeremonyError builds a CeremonyError from an engine message pair.
func NewCeremonyError(message, inner string) error {
	return &CeremonyError{Message: message, Inner: inner}
}

// CeremonyFailed builds a CeremonyError taking the inner message from
// the cause, which may be nil.
func CeremonyFailed(message string, cause error) error {
	inner := ""
	if cause != nil {
		inner = cause.Error()
	}
	return &CeremonyError{Message: message, Inner: inner}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound reports whether err indicates an unknown resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsChallengeExpired reports whether err indicates a missing, expired
// or consumed challenge.
func IsChallengeExpired(err error) bool {
	return errors.Is(err, ErrChallengeExpired)
}

// IsCeremonyFailed reports whether err indicates a rejected ceremony.
func IsCeremonyFailed(err error) bool {
	return errors.Is(err, ErrCeremonyFailed)
}

// IsReplaySuspected reports whether err indicates a non-increasing
// signature counter.
func IsReplaySuspected(err error) bool {
	return errors.Is(err, ErrReplaySuspected)
}

// IsConflict reports whether err indicates a uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
