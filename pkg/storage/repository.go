// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package storage defines the credential repository: the single owner
// of user and credential persistence and of the invariants around user
// handles, credential id hashes, and signature counters. No caller may
// mutate user or credential state except through a Repository.
package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/passkeyd/passkeyd/pkg/identity"
)

// NewCredential is the input for registering a credential. The
// repository computes the credential id hash itself; callers never
// supply it.
type NewCredential struct {
	// CredentialID is the raw authenticator-issued identifier.
	CredentialID []byte

	// PublicKey is the credential public key in COSE form.
	PublicKey []byte

	// AttestationFormatID is the attestation statement format identifier.
	AttestationFormatID string

	// AAGUID identifies the authenticator model.
	AAGUID uuid.UUID

	// DisplayName is the human label derived at registration time.
	DisplayName string

	// SignatureCounter is the counter reported with the attestation.
	SignatureCounter uint32
}

// Repository persists users and their WebAuthn credentials.
//
// Implementations must enforce: user handles are unique and assigned
// exactly once; credential id hashes are unique across all users;
// signature counters only increase; and DeleteCredential returns
// identity.ErrNotFound both for missing credentials and for
// credentials owned by a different user.
type Repository interface {
	// CreateUser creates a user with a freshly generated user handle.
	// Returns identity.ErrValidation on field-length violations.
	CreateUser(ctx context.Context, profile identity.Profile) (identity.User, error)

	// CreateUserWithCredential creates a user with the supplied handle
	// and attaches the credential in the same transaction. Neither row
	// is written if either insert fails.
	CreateUserWithCredential(ctx context.Context, profile identity.Profile, userHandle []byte, cred NewCredential) (identity.User, identity.Credential, error)

	// GetUser retrieves a user by internal id.
	GetUser(ctx context.Context, id int64) (identity.User, error)

	// GetUserByHandle retrieves a user by WebAuthn user handle.
	GetUserByHandle(ctx context.Context, handle []byte) (identity.User, error)

	// UpdateUser replaces the user's profile fields.
	UpdateUser(ctx context.Context, id int64, profile identity.Profile) (identity.User, error)

	// AddCredential registers a credential for the user. Returns
	// identity.ErrConflict if the credential id hash already exists for
	// any user.
	AddCredential(ctx context.Context, userID int64, cred NewCredential) (identity.Credential, error)

	// ListCredentials returns the user's credentials ordered by
	// creation time ascending.
	ListCredentials(ctx context.Context, userID int64) ([]identity.Credential, error)

	// GetCredential retrieves one of the user's credentials by internal
	// id. Returns identity.ErrNotFound if it does not exist or belongs
	// to another user.
	GetCredential(ctx context.Context, userID, credentialID int64) (identity.Credential, error)

	// GetCredentialByOwnerAndRawID retrieves a credential by owner and
	// raw authenticator-issued id. Lookups are always scoped to a user
	// so the raw id never needs a cross-user index.
	GetCredentialByOwnerAndRawID(ctx context.Context, userID int64, rawID []byte) (identity.Credential, error)

	// DeleteCredential removes one of the user's credentials. Returns
	// identity.ErrNotFound both when the credential does not exist and
	// when it belongs to a different user.
	DeleteCredential(ctx context.Context, userID, credentialID int64) error

	// UpdateSignatureCounter applies a new signature counter. The
	// update is atomic with respect to concurrent updates of the same
	// credential and returns identity.ErrReplaySuspected when
	// newCounter does not exceed the stored counter.
	UpdateSignatureCounter(ctx context.Context, credentialID int64, newCounter uint32) error

	// HasCredentialID reports whether any user already holds a
	// credential with the given raw id.
	HasCredentialID(ctx context.Context, rawID []byte) (bool, error)

	// Close releases resources.
	Close() error
}
