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

	"github.com/passkeyd/passkeyd/pkg/challenge"
	"github.com/passkeyd/passkeyd/pkg/identity"
	"github.com/passkeyd/passkeyd/pkg/storage"
)

// AuthResult is the outcome of a successful authentication ceremony.
type AuthResult struct {
	// UserID is the authenticated account.
	UserID int64

	// CredentialID is the internal id of the credential that signed.
	CredentialID int64
}

// Authentication orchestrates the discoverable-credential assertion
// ceremony. The client never tells the server who it claims to be up
// front; the authenticator's user handle resolves the account.
type Authentication struct {
	engine     Engine
	repo       storage.Repository
	challenges challenge.Store
}

// NewAuthentication creates an authentication orchestrator.
func NewAuthentication(engine Engine, repo storage.Repository, challenges challenge.Store) *Authentication {
	return &Authentication{
		engine:     engine,
		repo:       repo,
		challenges: challenges,
	}
}

// Begin starts an authentication ceremony. The options carry an empty
// allow-list so any discoverable credential for this relying party may
// answer.
func (a *Authentication) Begin(ctx context.Context, sessionID string) (json.RawMessage, error) {
	options, state, err := a.engine.GetAssertionOptions(ctx)
	if err != nil {
		return nil, err
	}

	err = a.challenges.Put(ctx, sessionID, challenge.Challenge{
		Kind:    challenge.KindAuthentication,
		Options: state,
	})
	if err != nil {
		return nil, err
	}
	return options, nil
}

// Finish completes an authentication ceremony. Unknown user handles
// and unknown credentials are reported with the same ceremony failure
// so a probing client learns nothing about which accounts exist.
func (a *Authentication) Finish(ctx context.Context, sessionID string, response []byte) (AuthResult, error) {
	assertion, err := a.engine.ParseAssertion(response)
	if err != nil {
		return AuthResult{}, err
	}

	user, err := a.repo.GetUserByHandle(ctx, assertion.UserHandle)
	if err != nil {
		if identity.IsNotFound(err) {
			return AuthResult{}, identity.CeremonyFailed("authentication failed", nil)
		}
		return AuthResult{}, err
	}

	cred, err := a.repo.GetCredentialByOwnerAndRawID(ctx, user.ID, assertion.CredentialID)
	if err != nil {
		if identity.IsNotFound(err) {
			return AuthResult{}, identity.CeremonyFailed("authentication failed", nil)
		}
		return AuthResult{}, err
	}

	// A missing or mismatched challenge reports the same failure as a
	// bad assertion; finish responses never reveal ceremony state.
	ch, err := a.challenges.TakeAndClear(ctx, sessionID)
	if err != nil {
		if identity.IsChallengeExpired(err) {
			return AuthResult{}, identity.CeremonyFailed("authentication failed", nil)
		}
		return AuthResult{}, err
	}
	if ch.Kind != challenge.KindAuthentication {
		return AuthResult{}, identity.CeremonyFailed("authentication failed", nil)
	}

	newCounter, err := a.engine.MakeAssertion(ctx, ch.Options, assertion, cred)
	if err != nil {
		return AuthResult{}, err
	}

	// A non-increasing counter suggests a cloned authenticator; the
	// repository rejects it and the ceremony fails with it.
	if err := a.repo.UpdateSignatureCounter(ctx, cred.ID, newCounter); err != nil {
		return AuthResult{}, err
	}

	return AuthResult{UserID: user.ID, CredentialID: cred.ID}, nil
}
