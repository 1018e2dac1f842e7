// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package ceremony orchestrates WebAuthn registration and
// authentication. The orchestrators own the business rules: challenge
// lifecycle, credential uniqueness, counter enforcement, and display
// name derivation. Cryptographic verification is delegated to the
// Engine, backed by go-webauthn.
package ceremony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/passkeyd/passkeyd/pkg/identity"
)

// RelyingUser is the slice of user state the engine needs to build
// credential creation options.
type RelyingUser struct {
	// Handle is the WebAuthn user handle.
	Handle []byte

	// Name is used for both the name and display name fields of the
	// creation options.
	Name string

	// Exclusions lists raw credential ids the authenticator must not
	// reuse for this user.
	Exclusions [][]byte

	// Attachment optionally restricts the authenticator attachment
	// modality ("platform" or "cross-platform"). Empty means no
	// restriction.
	Attachment protocol.AuthenticatorAttachment
}

// RegistrationResult is the verified outcome of an attestation.
type RegistrationResult struct {
	// CredentialID is the raw authenticator-issued identifier.
	CredentialID []byte

	// PublicKey is the credential public key in COSE form.
	PublicKey []byte

	// AttestationFormatID is the attestation statement format.
	AttestationFormatID string

	// AAGUID identifies the authenticator model. Nil for anonymized
	// attestations.
	AAGUID uuid.UUID

	// SignatureCounter is the counter reported with the attestation.
	SignatureCounter uint32
}

// Assertion is a parsed but not yet verified authentication response.
// UserHandle and CredentialID are extracted up front so the
// orchestrator can resolve the account before verification runs.
type Assertion struct {
	// UserHandle identifies the account the authenticator asserts for.
	UserHandle []byte

	// CredentialID is the raw id of the credential that signed.
	CredentialID []byte

	parsed *protocol.ParsedCredentialAssertionData
}

// ExistsFunc reports whether a raw credential id is already registered
// to any user.
type ExistsFunc func(ctx context.Context, rawID []byte) (bool, error)

// Engine performs the cryptographic half of a ceremony.
type Engine interface {
	// RequestNewCredential builds credential creation options for the
	// user. Returns the client-facing options and opaque server state
	// to round-trip into the finish call.
	RequestNewCredential(ctx context.Context, user RelyingUser) (options json.RawMessage, state []byte, err error)

	// MakeNewCredential verifies an attestation response against the
	// stored state. The exists callback is consulted with the new raw
	// credential id; a true result fails the ceremony with
	// identity.ErrConflict.
	MakeNewCredential(ctx context.Context, user RelyingUser, state []byte, response []byte, exists ExistsFunc) (*RegistrationResult, error)

	// GetAssertionOptions builds assertion options for the
	// discoverable-credential flow.
	GetAssertionOptions(ctx context.Context) (options json.RawMessage, state []byte, err error)

	// ParseAssertion decodes an assertion response without verifying
	// it, exposing the user handle and raw credential id.
	ParseAssertion(response []byte) (*Assertion, error)

	// MakeAssertion verifies the assertion signature against the
	// stored credential and returns the authenticator's reported
	// signature counter.
	MakeAssertion(ctx context.Context, state []byte, assertion *Assertion, cred identity.Credential) (uint32, error)
}

// WebAuthnEngine implements Engine on top of go-webauthn.
type WebAuthnEngine struct {
	webauthn *webauthn.WebAuthn
	config   *Config
}

// NewWebAuthnEngine creates an engine from the given configuration.
func NewWebAuthnEngine(config *Config) (*WebAuthnEngine, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	wa, err := webauthn.New(config.toWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}

	return &WebAuthnEngine{webauthn: wa, config: config}, nil
}

// relyingUser adapts RelyingUser to the webauthn.User interface.
type relyingUser struct {
	user RelyingUser
}

func (u *relyingUser) WebAuthnID() []byte          { return u.user.Handle }
func (u *relyingUser) WebAuthnName() string        { return u.user.Name }
func (u *relyingUser) WebAuthnDisplayName() string { return u.user.Name }

func (u *relyingUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.user.Exclusions))
	for i, id := range u.user.Exclusions {
		creds[i] = webauthn.Credential{ID: id}
	}
	return creds
}

// RequestNewCredential builds credential creation options for the user.
func (e *WebAuthnEngine) RequestNewCredential(ctx context.Context, user RelyingUser) (json.RawMessage, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var regOpts []webauthn.RegistrationOption
	if len(user.Exclusions) > 0 {
		excludeList := make([]protocol.CredentialDescriptor, len(user.Exclusions))
		for i, id := range user.Exclusions {
			excludeList[i] = protocol.CredentialDescriptor{
				Type:         protocol.PublicKeyCredentialType,
				CredentialID: id,
			}
		}
		regOpts = append(regOpts, webauthn.WithExclusions(excludeList))
	}
	if user.Attachment != "" {
		selection := e.config.authenticatorSelection()
		selection.AuthenticatorAttachment = user.Attachment
		regOpts = append(regOpts, webauthn.WithAuthenticatorSelection(selection))
	}

	creation, session, err := e.webauthn.BeginRegistration(&relyingUser{user: user}, regOpts...)
	if err != nil {
		return nil, nil, identity.CeremonyFailed("failed to create registration options", err)
	}

	options, err := json.Marshal(creation)
	if err != nil {
		return nil, nil, identity.WrapError("ceremony.RequestNewCredential", err)
	}
	state, err := json.Marshal(session)
	if err != nil {
		return nil, nil, identity.WrapError("ceremony.RequestNewCredential", err)
	}
	return options, state, nil
}

// MakeNewCredential verifies an attestation response.
func (e *WebAuthnEngine) MakeNewCredential(ctx context.Context, user RelyingUser, state []byte, response []byte, exists ExistsFunc) (*RegistrationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(state, &session); err != nil {
		return nil, identity.WrapError("ceremony.MakeNewCredential", err)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return nil, identity.CeremonyFailed("failed to parse attestation response", err)
	}

	credential, err := e.webauthn.CreateCredential(&relyingUser{user: user}, session, parsed)
	if err != nil {
		return nil, identity.CeremonyFailed("attestation verification failed", err)
	}

	if exists != nil {
		taken, err := exists(ctx, credential.ID)
		if err != nil {
			return nil, identity.WrapError("ceremony.MakeNewCredential", err)
		}
		if taken {
			return nil, identity.NewError("ceremony.MakeNewCredential", identity.ErrConflict)
		}
	}

	result := &RegistrationResult{
		CredentialID:        credential.ID,
		PublicKey:           credential.PublicKey,
		AttestationFormatID: credential.AttestationType,
		SignatureCounter:    credential.Authenticator.SignCount,
	}
	if aaguid, err := uuid.FromBytes(credential.Authenticator.AAGUID); err == nil {
		result.AAGUID = aaguid
	}
	return result, nil
}

// GetAssertionOptions builds assertion options for discoverable login.
func (e *WebAuthnEngine) GetAssertionOptions(ctx context.Context) (json.RawMessage, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	assertion, session, err := e.webauthn.BeginDiscoverableLogin()
	if err != nil {
		return nil, nil, identity.CeremonyFailed("failed to create assertion options", err)
	}

	options, err := json.Marshal(assertion)
	if err != nil {
		return nil, nil, identity.WrapError("ceremony.GetAssertionOptions", err)
	}
	state, err := json.Marshal(session)
	if err != nil {
		return nil, nil, identity.WrapError("ceremony.GetAssertionOptions", err)
	}
	return options, state, nil
}

// ParseAssertion decodes an assertion response without verifying it.
func (e *WebAuthnEngine) ParseAssertion(response []byte) (*Assertion, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return nil, identity.CeremonyFailed("failed to parse assertion response", err)
	}
	return &Assertion{
		UserHandle:   parsed.Response.UserHandle,
		CredentialID: parsed.RawID,
		parsed:       parsed,
	}, nil
}

// MakeAssertion verifies the assertion signature against the stored
// credential.
func (e *WebAuthnEngine) MakeAssertion(ctx context.Context, state []byte, assertion *Assertion, cred identity.Credential) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if assertion == nil || assertion.parsed == nil {
		return 0, identity.CeremonyFailed("assertion was not parsed", nil)
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(state, &session); err != nil {
		return 0, identity.WrapError("ceremony.MakeAssertion", err)
	}

	// The single stored credential is what the signature must verify
	// against. The callback re-checks that the response still names the
	// credential and handle the orchestrator resolved.
	verifyUser := &assertionUser{cred: cred, handle: assertion.UserHandle}

	validated, err := e.webauthn.ValidateDiscoverableLogin(
		func(rawID, userHandle []byte) (webauthn.User, error) {
			if !bytes.Equal(rawID, cred.CredentialID) {
				return nil, fmt.Errorf("assertion names a different credential")
			}
			if !bytes.Equal(userHandle, assertion.UserHandle) {
				return nil, fmt.Errorf("assertion names a different user handle")
			}
			return verifyUser, nil
		},
		session,
		assertion.parsed,
	)
	if err != nil {
		return 0, identity.CeremonyFailed("assertion verification failed", err)
	}
	return validated.Authenticator.SignCount, nil
}

// assertionUser presents exactly one stored credential for signature
// verification.
type assertionUser struct {
	cred   identity.Credential
	handle []byte
}

func (u *assertionUser) WebAuthnID() []byte          { return u.handle }
func (u *assertionUser) WebAuthnName() string        { return u.cred.DisplayName }
func (u *assertionUser) WebAuthnDisplayName() string { return u.cred.DisplayName }

func (u *assertionUser) WebAuthnCredentials() []webauthn.Credential {
	return []webauthn.Credential{{
		ID:        u.cred.CredentialID,
		PublicKey: u.cred.PublicKey,
		Authenticator: webauthn.Authenticator{
			SignCount: u.cred.SignatureCounter,
		},
	}}
}
