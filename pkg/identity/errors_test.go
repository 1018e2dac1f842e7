// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package identity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorWrapping(t *testing.T) {
	err := NewError("get user", ErrNotFound)

	assert.EqualError(t, err, "get user: not found")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
}

func TestErrorNoOp(t *testing.T) {
	err := &Error{Err: ErrConflict}
	assert.EqualError(t, err, "conflict")
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("op", nil))

	cause := errors.New("disk full")
	err := WrapError("save credential", cause)
	assert.EqualError(t, err, "save credential: disk full")
	assert.ErrorIs(t, err, cause)
}

func TestCeremonyError(t *testing.T) {
	err := NewCeremonyError("registration rejected", "origin mismatch")

	assert.EqualError(t, err, "registration rejected (origin mismatch)")
	assert.ErrorIs(t, err, ErrCeremonyFailed)
	assert.True(t, IsCeremonyFailed(err))
}

func TestCeremonyErrorNoInner(t *testing.T) {
	err := NewCeremonyError("authentication failed", "")
	assert.EqualError(t, err, "authentication failed")
}

func TestCeremonyFailed(t *testing.T) {
	err := CeremonyFailed("authentication failed", errors.New("bad signature"))
	assert.EqualError(t, err, "authentication failed (bad signature)")
	assert.ErrorIs(t, err, ErrCeremonyFailed)

	err = CeremonyFailed("authentication failed", nil)
	assert.EqualError(t, err, "authentication failed")
}

func TestTaxonomyMatchers(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		matcher func(error) bool
	}{
		{"validation", ErrValidation, IsValidation},
		{"not found", ErrNotFound, IsNotFound},
		{"challenge expired", ErrChallengeExpired, IsChallengeExpired},
		{"ceremony failed", ErrCeremonyFailed, IsCeremonyFailed},
		{"replay suspected", ErrReplaySuspected, IsReplaySuspected},
		{"conflict", ErrConflict, IsConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.matcher(tt.err))
			assert.True(t, tt.matcher(NewError("op", tt.err)))
			assert.False(t, tt.matcher(ErrInternal))
		})
	}
}
