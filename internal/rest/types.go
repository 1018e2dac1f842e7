// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package rest

import (
	"time"

	"github.com/google/uuid"

	"github.com/passkeyd/passkeyd/pkg/identity"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// ProfileRequest is the caller-supplied user profile for signup,
// explicit user creation, and profile updates.
type ProfileRequest struct {
	DisplayName string `json:"display_name"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
}

func (p ProfileRequest) toProfile() identity.Profile {
	return identity.Profile{
		DisplayName: p.DisplayName,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
	}
}

// RegisterBeginRequest optionally narrows the authenticator modality
// for a registration ceremony.
type RegisterBeginRequest struct {
	// AttachmentPreference is "platform", "cross-platform", or empty
	// for no restriction.
	AttachmentPreference string `json:"attachment_preference,omitempty"`
}

// UserResponse represents a user account. The user handle is never
// exposed over the API.
type UserResponse struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"display_name"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

func toUserResponse(u identity.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Created:     u.Created,
		Updated:     u.Updated,
	}
}

// CredentialResponse summarizes a registered credential. Key material
// and the raw credential id stay server-side.
type CredentialResponse struct {
	ID                  int64     `json:"id"`
	DisplayName         string    `json:"display_name"`
	AttestationFormatID string    `json:"attestation_format_id"`
	AAGUID              uuid.UUID `json:"aaguid"`
	SignatureCounter    uint32    `json:"signature_counter"`
	Created             time.Time `json:"created"`
	Updated             time.Time `json:"updated"`
}

func toCredentialResponse(c identity.Credential) CredentialResponse {
	return CredentialResponse{
		ID:                  c.ID,
		DisplayName:         c.DisplayName,
		AttestationFormatID: c.AttestationFormatID,
		AAGUID:              c.AAGUID,
		SignatureCounter:    c.SignatureCounter,
		Created:             c.Created,
		Updated:             c.Updated,
	}
}

func toCredentialResponses(creds []identity.Credential) []CredentialResponse {
	out := make([]CredentialResponse, len(creds))
	for i, c := range creds {
		out[i] = toCredentialResponse(c)
	}
	return out
}

// TokenResponse carries a freshly issued session token.
type TokenResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// SignupResponse is returned by a completed signup ceremony.
type SignupResponse struct {
	Token      string             `json:"token"`
	User       UserResponse       `json:"user"`
	Credential CredentialResponse `json:"credential"`
}
