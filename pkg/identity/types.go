// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package identity holds the domain model shared by the ceremony
// orchestrators, the credential repository, and the HTTP surface:
// users, their WebAuthn credentials, and the error taxonomy every
// layer maps into.
package identity

import (
	"crypto/rand"
	"crypto/sha512"
	"time"

	"github.com/google/uuid"
)

const (
	// NameMaxLength bounds the user display, first and last names.
	NameMaxLength = 255

	// CredentialDisplayNameMaxLength bounds the human label derived for
	// a credential at registration time.
	CredentialDisplayNameMaxLength = 255

	// AttestationFormatIDMaxLength bounds the attestation statement
	// format identifier.
	// https://www.w3.org/TR/webauthn/#attestation-statement-format-identifier
	AttestationFormatIDMaxLength = 32

	// UserHandleLength is the size of the random user handle handed to
	// authenticators in place of the internal user id.
	UserHandleLength = 64

	// CredentialIDHashLength is the size of the SHA-512 digest used as
	// the unique alternate key for authenticator-issued credential ids.
	CredentialIDHashLength = sha512.Size
)

// User is an account that authenticates with WebAuthn credentials.
//
// UserHandle is the externally visible WebAuthn user identifier. It is
// assigned exactly once at creation, is never reused across users, and
// deliberately carries no relation to the internal ID.
type User struct {
	ID          int64     `json:"id"`
	UserHandle  []byte    `json:"user_handle"`
	DisplayName string    `json:"display_name"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

// Credential is a registered WebAuthn credential.
//
// CredentialID is the raw authenticator-issued identifier and has no
// upper size bound, which makes it unsuitable for indexing;
// CredentialIDHash is its SHA-512 digest and is unique across all
// users. CredentialID, PublicKey, AttestationFormatID and AAGUID are
// immutable after creation. SignatureCounter only ever increases.
type Credential struct {
	ID                  int64     `json:"id"`
	UserID              int64     `json:"user_id"`
	CredentialID        []byte    `json:"credential_id"`
	CredentialIDHash    []byte    `json:"-"`
	PublicKey           []byte    `json:"-"`
	AttestationFormatID string    `json:"attestation_format_id"`
	AAGUID              uuid.UUID `json:"aaguid"`
	DisplayName         string    `json:"display_name"`
	SignatureCounter    uint32    `json:"signature_counter"`
	Created             time.Time `json:"created"`
	Updated             time.Time `json:"updated"`
}

// Profile is the caller-supplied portion of a user record.
type Profile struct {
	DisplayName string `json:"display_name"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
}

// Validate checks the profile's field lengths and presence.
func (p Profile) Validate() error {
	if p.DisplayName == "" {
		return NewError("validate profile", ErrValidation)
	}
	for _, name := range []string{p.DisplayName, p.FirstName, p.LastName} {
		if len(name) > NameMaxLength {
			return NewError("validate profile", ErrValidation)
		}
	}
	return nil
}

// NewUserHandle generates a fresh random user handle.
func NewUserHandle() ([]byte, error) {
	handle := make([]byte, UserHandleLength)
	if _, err := rand.Read(handle); err != nil {
		return nil, WrapError("generate user handle", err)
	}
	return handle, nil
}

// HashCredentialID computes the digest stored as the credential's
// unique alternate key.
func HashCredentialID(credentialID []byte) []byte {
	sum := sha512.Sum512(credentialID)
	return sum[:]
}

// Truncate caps s at max bytes.
func Truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
