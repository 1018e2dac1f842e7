// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passkeyd/passkeyd/pkg/identity"
)

func testProfile(name string) identity.Profile {
	return identity.Profile{
		DisplayName: name,
		FirstName:   "Test",
		LastName:    "User",
	}
}

func testCredential(id string) NewCredential {
	return NewCredential{
		CredentialID:        []byte(id),
		PublicKey:           []byte("cose-public-key-" + id),
		AttestationFormatID: "packed",
		AAGUID:              uuid.MustParse("01020304-0506-0708-090a-0b0c0d0e0f10"),
		DisplayName:         "Security Key",
		SignatureCounter:    0,
	}
}

func TestMemoryRepository_CreateUser(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, testProfile("alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "alice", user.DisplayName)
	assert.Len(t, user.UserHandle, identity.UserHandleLength)
	assert.False(t, user.Created.IsZero())

	// Handles are generated fresh per user.
	other, err := repo.CreateUser(ctx, testProfile("bob"))
	require.NoError(t, err)
	assert.NotEqual(t, user.UserHandle, other.UserHandle)
}

func TestMemoryRepository_CreateUser_Validation(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()
	ctx := context.Background()

	tests := []struct {
		name    string
		profile identity.Profile
	}{
		{"empty display name", identity.Profile{}},
		{"display name too long", identity.Profile{DisplayName: strings.Repeat("a", identity.NameMaxLength+1)}},
		{"first name too long", identity.Profile{DisplayName: "ok", FirstName: strings.Repeat("b", identity.NameMaxLength+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.CreateUser(ctx, tt.profile)
			assert.True(t, identity.IsValidation(err))
		})
	}
}

func TestMemoryRepository_GetUserByHandle(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, testProfile("alice"))
	require.NoError(t, err)

	found, err := repo.GetUserByHandle(ctx, user.UserHandle)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, err = repo.GetUserByHandle(ctx, []byte("no-such-handle"))
	assert.True(t, identity.IsNotFound(err))
}

func TestMemoryRepository_UpdateUser(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, testProfile("alice"))
	require.NoError(t, err)

	updated, err := repo.UpdateUser(ctx, user.ID, identity.Profile{
		DisplayName: "alice2",
		FirstName:   "Alice",
		LastName:    "Smith",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice2", updated.DisplayName)
	assert.Equal(t, "Alice", updated.FirstName)

	// Handle never changes on profile updates.
	assert.Equal(t, user.UserHandle, updated.UserHandle)

	_, err = repo.UpdateUser(ctx, 9999, testProfile("ghost"))
	assert.True(t, identity.IsNotFound(err))
}

func TestMemoryRepository_CreateUserWithCredential(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()
	ctx := context.Background()

	handle, err := identity.NewUserHandle()
	require.NoError(t, err)

	user, cred, err := repo.CreateUserWithCredential(ctx, testProfile("alice"), handle, testCredential("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, user.ID, cred.UserID)
	assert.Equal(t, handle, user.UserHandle)
	assert.Equal(t, identity.HashCredentialID([]byte("cred-1")), cred.CredentialIDHash)

	// Reusing either the handle or the credential id conflicts, and
	// the failed attempt must not create a user.
	_, _, err = repo.CreateUserWithCredential(ctx, testProfile("bob"), handle, testCredential("cred-2"))
	assert.True(t, identity.IsConflict(err))

	handle2, err := identity.NewUserHandle()
	require.NoError(t, err)
	_, _, err = repo.CreateUserWithCredential(ctx, testProfile("bob"), handle2, testCredential("cred-1"))
	assert.True(t, identity.IsConflict(err))

	_, err = repo.GetUser(ctx, user.ID+1)
	assert.True(t, identity.IsNotFound(err))
}

func TestMemoryRepository_AddCredential_Conflict(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()
	ctx := context.Background()

	alice, err := repo.CreateUser(ctx, testProfile("alice"))
	require.NoError(t, err)
	bob, err := repo.CreateUser(ctx, testProfile("bob"))
	require.NoError(t, err)

	_, err = repo.AddCredential(ctx, alice.ID, testCredential("shared"))
	require.NoError(t, err)

	// Dedup is global, not per user.
	_, err = repo.AddCredential(ctx, bob.ID, testCredential("shared"))
	assert.True(t, identity.IsConflict(err))

	_, err = repo.AddCredential(ctx, 9999, testCredential("orphan"))
	assert.True(t, identity.IsNotFound(err))
}

func TestMemoryRepository_ListCredentials_Order(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, testProfile("alice"))
	require.NoError(t, err)

	for _, id := range []string{"first", "second", "third"} {
		_, err := repo.AddCredential(ctx, user.ID, testCredential(id))
		require.NoError(t, err)
	}

	creds, err := repo.ListCredentials(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, creds, 3)
	assert.Equal(t, []byte("first"), creds[0].CredentialID)
	assert.Equal(t, []byte("second"), creds[1].CredentialID)
	assert.Equal(t, []byte("third"), creds[2].CredentialID)
}

func TestMemoryRepository_GetCredentialByOwnerAndRawID(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()
	ctx := context.Background()

	alice, err := repo.CreateUser(ctx, testProfile("alice"))
	require.NoError(t, err)
	bob, err := repo.CreateUser(ctx, testProfile("bob"))
	require.NoError(t, err)

	cred, err := repo.AddCredential(ctx, alice.ID, testCredential("cred-1"))
	require.NoError(t, err)

	found, err := repo.GetCredentialByOwnerAndRawID(ctx, alice.ID, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, cred.ID, found.ID)

	// Another user's credential is invisible.
	_, err = repo.GetCredentialByOwnerAndRawID(ctx, bob.ID, []byte("cred-1"))
	assert.True(t, identity.IsNotFound(err))
}

func TestMemoryRepository_DeleteCredential(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()
	ctx := context.Background()

	alice, err := repo.CreateUser(ctx, testProfile("alice"))
	require.NoError(t, err)
	bob, err := repo.CreateUser(ctx, testProfile("bob"))
	require.NoError(t, err)

	cred, err := repo.AddCredential(ctx, alice.ID, testCredential("cred-1"))
	require.NoError(t, err)

	// Cross-owner deletes are indistinguishable from missing rows.
	err = repo.DeleteCredential(ctx, bob.ID, cred.ID)
	assert.True(t, identity.IsNotFound(err))

	err = repo.DeleteCredential(ctx, alice.ID, cred.ID)
	require.NoError(t, err)

	err = repo.DeleteCredential(ctx, alice.ID, cred.ID)
	assert.True(t, identity.IsNotFound(err))

	// The raw id is free for registration again after deletion.
	exists, err := repo.HasCredentialID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryRepository_UpdateSignatureCounter(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, testProfile("alice"))
	require.NoError(t, err)
	cred, err := repo.AddCredential(ctx, user.ID, testCredential("cred-1"))
	require.NoError(t, err)

	require.NoError(t, repo.UpdateSignatureCounter(ctx, cred.ID, 5))

	got, err := repo.GetCredential(ctx, user.ID, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got.SignatureCounter)

	tests := []struct {
		name    string
		counter uint32
	}{
		{"equal counter", 5},
		{"lower counter", 4},
		{"zero counter", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.UpdateSignatureCounter(ctx, cred.ID, tt.counter)
			assert.True(t, identity.IsReplaySuspected(err))
		})
	}

	// A stored counter of zero still rejects a reported zero.
	fresh, err := repo.AddCredential(ctx, user.ID, testCredential("cred-2"))
	require.NoError(t, err)
	err = repo.UpdateSignatureCounter(ctx, fresh.ID, 0)
	assert.True(t, identity.IsReplaySuspected(err))

	err = repo.UpdateSignatureCounter(ctx, 9999, 10)
	assert.True(t, identity.IsNotFound(err))
}

func TestMemoryRepository_HasCredentialID(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, testProfile("alice"))
	require.NoError(t, err)
	_, err = repo.AddCredential(ctx, user.ID, testCredential("cred-1"))
	require.NoError(t, err)

	exists, err := repo.HasCredentialID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.HasCredentialID(ctx, []byte("cred-2"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryRepository_ContextCancelled(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.CreateUser(ctx, testProfile("alice"))
	assert.ErrorIs(t, err, context.Canceled)
}
