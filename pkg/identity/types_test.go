// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package identity

import (
	"crypto/sha512"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileValidate(t *testing.T) {
	long := strings.Repeat("x", NameMaxLength+1)

	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{"valid", Profile{DisplayName: "alice", FirstName: "Alice", LastName: "Doe"}, false},
		{"display name only", Profile{DisplayName: "alice"}, false},
		{"max length display name", Profile{DisplayName: strings.Repeat("x", NameMaxLength)}, false},
		{"missing display name", Profile{FirstName: "Alice"}, true},
		{"display name too long", Profile{DisplayName: long}, true},
		{"first name too long", Profile{DisplayName: "alice", FirstName: long}, true},
		{"last name too long", Profile{DisplayName: "alice", LastName: long}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewUserHandle(t *testing.T) {
	h1, err := NewUserHandle()
	require.NoError(t, err)
	assert.Len(t, h1, UserHandleLength)

	h2, err := NewUserHandle()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestHashCredentialID(t *testing.T) {
	rawID := []byte("credential-id-from-authenticator")

	hash := HashCredentialID(rawID)
	assert.Len(t, hash, CredentialIDHashLength)

	want := sha512.Sum512(rawID)
	assert.Equal(t, want[:], hash)

	// Stable across calls, distinct for distinct inputs
	assert.Equal(t, hash, HashCredentialID(rawID))
	assert.NotEqual(t, hash, HashCredentialID([]byte("another-id")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "", Truncate("", 3))
}
