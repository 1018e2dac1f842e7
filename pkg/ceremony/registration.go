// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package ceremony

import (
	"context"
	"encoding/json"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/passkeyd/passkeyd/pkg/challenge"
	"github.com/passkeyd/passkeyd/pkg/identity"
	"github.com/passkeyd/passkeyd/pkg/metadata"
	"github.com/passkeyd/passkeyd/pkg/storage"
)

// Registration orchestrates credential registration ceremonies: adding
// a credential to an existing account, and signup, which creates the
// account and its first credential together.
type Registration struct {
	engine     Engine
	repo       storage.Repository
	challenges challenge.Store
	metadata   metadata.Service
}

// NewRegistration creates a registration orchestrator.
func NewRegistration(engine Engine, repo storage.Repository, challenges challenge.Store, meta metadata.Service) *Registration {
	if meta == nil {
		meta = metadata.Noop{}
	}
	return &Registration{
		engine:     engine,
		repo:       repo,
		challenges: challenges,
		metadata:   meta,
	}
}

// Begin starts a registration ceremony for an existing user. The
// returned options are sent verbatim to the client; the pending state
// is stored under the ceremony session id. attachment optionally
// restricts the authenticator modality ("platform" or
// "cross-platform"); empty allows either.
func (r *Registration) Begin(ctx context.Context, sessionID string, userID int64, attachment string) (json.RawMessage, error) {
	attach, err := parseAttachment(attachment)
	if err != nil {
		return nil, err
	}

	user, err := r.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	exclusions, err := r.exclusionsFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	options, state, err := r.engine.RequestNewCredential(ctx, RelyingUser{
		Handle:     user.UserHandle,
		Name:       user.DisplayName,
		Exclusions: exclusions,
		Attachment: attach,
	})
	if err != nil {
		return nil, err
	}

	err = r.challenges.Put(ctx, sessionID, challenge.Challenge{
		Kind:    challenge.KindRegistration,
		Options: state,
		UserID:  user.ID,
	})
	if err != nil {
		return nil, err
	}
	return options, nil
}

// Finish completes a registration ceremony for an existing user. The
// challenge is consumed no matter how verification goes; a retry needs
// a fresh Begin.
func (r *Registration) Finish(ctx context.Context, sessionID string, userID int64, response []byte) (identity.Credential, error) {
	ch, err := r.challenges.TakeAndClear(ctx, sessionID)
	if err != nil {
		return identity.Credential{}, err
	}
	if ch.Kind != challenge.KindRegistration || ch.Profile != nil {
		return identity.Credential{}, identity.NewError("ceremony.Registration.Finish", identity.ErrChallengeExpired)
	}
	if ch.UserID != userID {
		return identity.Credential{}, identity.NewError("ceremony.Registration.Finish", identity.ErrForbidden)
	}

	user, err := r.repo.GetUser(ctx, userID)
	if err != nil {
		return identity.Credential{}, err
	}

	result, err := r.verify(ctx, RelyingUser{Handle: user.UserHandle, Name: user.DisplayName}, ch.Options, response)
	if err != nil {
		return identity.Credential{}, err
	}

	return r.repo.AddCredential(ctx, userID, r.toNewCredential(ctx, result))
}

// BeginSignup starts a signup ceremony for a prospective user. No rows
// are written: the profile and a provisional user handle ride along in
// the pending challenge until the attestation verifies.
func (r *Registration) BeginSignup(ctx context.Context, sessionID string, profile identity.Profile) (json.RawMessage, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	handle, err := identity.NewUserHandle()
	if err != nil {
		return nil, identity.WrapError("ceremony.Registration.BeginSignup", err)
	}

	options, state, err := r.engine.RequestNewCredential(ctx, RelyingUser{
		Handle: handle,
		Name:   profile.DisplayName,
	})
	if err != nil {
		return nil, err
	}

	err = r.challenges.Put(ctx, sessionID, challenge.Challenge{
		Kind:       challenge.KindRegistration,
		Options:    state,
		Profile:    &profile,
		UserHandle: handle,
	})
	if err != nil {
		return nil, err
	}
	return options, nil
}

// FinishSignup completes a signup ceremony, creating the user and
// their first credential in one repository transaction.
func (r *Registration) FinishSignup(ctx context.Context, sessionID string, response []byte) (identity.User, identity.Credential, error) {
	ch, err := r.challenges.TakeAndClear(ctx, sessionID)
	if err != nil {
		return identity.User{}, identity.Credential{}, err
	}
	if ch.Kind != challenge.KindRegistration || ch.Profile == nil {
		return identity.User{}, identity.Credential{}, identity.NewError("ceremony.Registration.FinishSignup", identity.ErrChallengeExpired)
	}

	result, err := r.verify(ctx, RelyingUser{Handle: ch.UserHandle, Name: ch.Profile.DisplayName}, ch.Options, response)
	if err != nil {
		return identity.User{}, identity.Credential{}, err
	}

	return r.repo.CreateUserWithCredential(ctx, *ch.Profile, ch.UserHandle, r.toNewCredential(ctx, result))
}

// verify runs attestation verification with the repository-backed
// uniqueness callback.
func (r *Registration) verify(ctx context.Context, user RelyingUser, state, response []byte) (*RegistrationResult, error) {
	return r.engine.MakeNewCredential(ctx, user, state, response, r.repo.HasCredentialID)
}

// toNewCredential derives the stored credential fields from a verified
// attestation. The display name comes from authenticator metadata when
// available, otherwise the attestation format id stands in.
func (r *Registration) toNewCredential(ctx context.Context, result *RegistrationResult) storage.NewCredential {
	displayName, ok := r.metadata.Describe(ctx, result.AAGUID)
	if !ok {
		displayName = result.AttestationFormatID
	}
	displayName = identity.Truncate(displayName, identity.CredentialDisplayNameMaxLength)
	if displayName == "" {
		displayName = "unknown authenticator"
	}

	return storage.NewCredential{
		CredentialID:        result.CredentialID,
		PublicKey:           result.PublicKey,
		AttestationFormatID: identity.Truncate(result.AttestationFormatID, identity.AttestationFormatIDMaxLength),
		AAGUID:              result.AAGUID,
		DisplayName:         displayName,
		SignatureCounter:    result.SignatureCounter,
	}
}

// parseAttachment maps a client-supplied attachment preference onto
// the protocol value. Empty means no restriction.
func parseAttachment(preference string) (protocol.AuthenticatorAttachment, error) {
	switch preference {
	case "":
		return "", nil
	case "platform":
		return protocol.Platform, nil
	case "cross-platform":
		return protocol.CrossPlatform, nil
	default:
		return "", identity.NewError("ceremony.Registration.Begin", identity.ErrValidation)
	}
}

// exclusionsFor lists the user's raw credential ids so the
// authenticator refuses to mint a duplicate for the same account.
func (r *Registration) exclusionsFor(ctx context.Context, userID int64) ([][]byte, error) {
	creds, err := r.repo.ListCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(creds))
	for i, cred := range creds {
		out[i] = cred.CredentialID
	}
	return out, nil
}
