// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package ceremony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passkeyd/passkeyd/pkg/challenge"
	"github.com/passkeyd/passkeyd/pkg/identity"
	"github.com/passkeyd/passkeyd/pkg/storage"
)

// integrationFixture wires real engine, repository and challenge store
// together with a virtual authenticator.
type integrationFixture struct {
	engine       *WebAuthnEngine
	repo         *storage.MemoryRepository
	challenges   *challenge.MemoryStore
	registration *Registration
	auth         *Authentication
	rp           virtualwebauthn.RelyingParty
}

func newIntegrationFixture(t *testing.T) *integrationFixture {
	t.Helper()

	cfg := &Config{
		RPID:          "example.com",
		RPDisplayName: "Example Corp",
		RPOrigins:     []string{"https://example.com"},
	}
	engine, err := NewWebAuthnEngine(cfg)
	require.NoError(t, err)

	repo := storage.NewMemoryRepository()
	challenges := challenge.NewMemoryStore()

	return &integrationFixture{
		engine:       engine,
		repo:         repo,
		challenges:   challenges,
		registration: NewRegistration(engine, repo, challenges, nil),
		auth:         NewAuthentication(engine, repo, challenges),
		rp: virtualwebauthn.RelyingParty{
			Name:   cfg.RPDisplayName,
			ID:     cfg.RPID,
			Origin: cfg.RPOrigins[0],
		},
	}
}

// attest drives the virtual authenticator through the attestation half
// of a ceremony.
func (f *integrationFixture) attest(t *testing.T, options []byte, auth virtualwebauthn.Authenticator, cred virtualwebauthn.Credential) []byte {
	t.Helper()
	parsed, err := virtualwebauthn.ParseAttestationOptions(string(options))
	require.NoError(t, err)
	return []byte(virtualwebauthn.CreateAttestationResponse(f.rp, auth, cred, *parsed))
}

// assert drives the virtual authenticator through the assertion half
// of a ceremony.
func (f *integrationFixture) assertWith(t *testing.T, options []byte, auth virtualwebauthn.Authenticator, cred virtualwebauthn.Credential) []byte {
	t.Helper()
	parsed, err := virtualwebauthn.ParseAssertionOptions(string(options))
	require.NoError(t, err)
	return []byte(virtualwebauthn.CreateAssertionResponse(f.rp, auth, cred, *parsed))
}

func TestIntegration_SignupFlow(t *testing.T) {
	f := newIntegrationFixture(t)
	ctx := context.Background()

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := f.registration.BeginSignup(ctx, "session-1", identity.Profile{
		DisplayName: "alice",
		FirstName:   "Alice",
		LastName:    "Smith",
	})
	require.NoError(t, err)

	response := f.attest(t, options, authenticator, credential)

	user, cred, err := f.registration.FinishSignup(ctx, "session-1", response)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.DisplayName)
	assert.Len(t, user.UserHandle, identity.UserHandleLength)
	assert.Equal(t, user.ID, cred.UserID)
	assert.NotEmpty(t, cred.PublicKey)
	assert.Equal(t, identity.HashCredentialID(cred.CredentialID), cred.CredentialIDHash)

	creds, err := f.repo.ListCredentials(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, creds, 1)
}

func TestIntegration_RegisterSecondCredential(t *testing.T) {
	f := newIntegrationFixture(t)
	ctx := context.Background()

	auth1 := virtualwebauthn.NewAuthenticator()
	cred1 := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := f.registration.BeginSignup(ctx, "session-1", identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)
	user, _, err := f.registration.FinishSignup(ctx, "session-1", f.attest(t, options, auth1, cred1))
	require.NoError(t, err)

	// A second key on the same account.
	auth2 := virtualwebauthn.NewAuthenticator()
	cred2 := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeRSA)

	options, err = f.registration.Begin(ctx, "session-2", user.ID, "")
	require.NoError(t, err)
	added, err := f.registration.Finish(ctx, "session-2", user.ID, f.attest(t, options, auth2, cred2))
	require.NoError(t, err)
	assert.Equal(t, user.ID, added.UserID)

	creds, err := f.repo.ListCredentials(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, creds, 2)
}

func TestIntegration_RegisterBeginExcludesExistingCredentials(t *testing.T) {
	f := newIntegrationFixture(t)
	ctx := context.Background()

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := f.registration.BeginSignup(ctx, "session-1", identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)
	user, stored, err := f.registration.FinishSignup(ctx, "session-1", f.attest(t, options, authenticator, credential))
	require.NoError(t, err)

	// A follow-up registration must tell the authenticator not to mint
	// a duplicate of the key the account already holds.
	options, err = f.registration.Begin(ctx, "session-2", user.ID, "")
	require.NoError(t, err)

	var creation struct {
		PublicKey struct {
			ExcludeCredentials []struct {
				Type string `json:"type"`
				ID   string `json:"id"`
			} `json:"excludeCredentials"`
		} `json:"publicKey"`
	}
	require.NoError(t, json.Unmarshal(options, &creation))
	require.Len(t, creation.PublicKey.ExcludeCredentials, 1)
	assert.Equal(t, "public-key", creation.PublicKey.ExcludeCredentials[0].Type)
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(stored.CredentialID),
		creation.PublicKey.ExcludeCredentials[0].ID)
}

func TestIntegration_RegisterBeginAttachmentPreference(t *testing.T) {
	f := newIntegrationFixture(t)
	ctx := context.Background()

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := f.registration.BeginSignup(ctx, "session-1", identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)
	user, _, err := f.registration.FinishSignup(ctx, "session-1", f.attest(t, options, authenticator, credential))
	require.NoError(t, err)

	options, err = f.registration.Begin(ctx, "session-2", user.ID, "platform")
	require.NoError(t, err)

	var creation struct {
		PublicKey struct {
			AuthenticatorSelection struct {
				AuthenticatorAttachment string `json:"authenticatorAttachment"`
			} `json:"authenticatorSelection"`
		} `json:"publicKey"`
	}
	require.NoError(t, json.Unmarshal(options, &creation))
	assert.Equal(t, "platform", creation.PublicKey.AuthenticatorSelection.AuthenticatorAttachment)

	_, err = f.registration.Begin(ctx, "session-3", user.ID, "usb")
	assert.True(t, identity.IsValidation(err))
}

func TestIntegration_DiscoverableAuthentication(t *testing.T) {
	f := newIntegrationFixture(t)
	ctx := context.Background()

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := f.registration.BeginSignup(ctx, "session-1", identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)
	user, stored, err := f.registration.FinishSignup(ctx, "session-1", f.attest(t, options, authenticator, credential))
	require.NoError(t, err)

	// The discoverable flow sends the user handle with the assertion.
	discoverable := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: user.UserHandle,
	})
	discoverable.AddCredential(credential)

	assertOptions, err := f.auth.Begin(ctx, "session-2")
	require.NoError(t, err)

	// A real authenticator advances its counter on every assertion.
	credential.Counter++

	result, err := f.auth.Finish(ctx, "session-2", f.assertWith(t, assertOptions, discoverable, credential))
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.UserID)
	assert.Equal(t, stored.ID, result.CredentialID)

	// The signature counter advanced past the registration value.
	after, err := f.repo.GetCredential(ctx, user.ID, stored.ID)
	require.NoError(t, err)
	assert.Greater(t, after.SignatureCounter, stored.SignatureCounter)
}

func TestIntegration_AuthenticationUnknownHandle(t *testing.T) {
	f := newIntegrationFixture(t)
	ctx := context.Background()

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := f.registration.BeginSignup(ctx, "session-1", identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)
	_, _, err = f.registration.FinishSignup(ctx, "session-1", f.attest(t, options, authenticator, credential))
	require.NoError(t, err)

	// An assertion with a handle no account owns fails the ceremony.
	strangerHandle, err := identity.NewUserHandle()
	require.NoError(t, err)
	stranger := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: strangerHandle,
	})
	stranger.AddCredential(credential)

	assertOptions, err := f.auth.Begin(ctx, "session-2")
	require.NoError(t, err)

	_, err = f.auth.Finish(ctx, "session-2", f.assertWith(t, assertOptions, stranger, credential))
	assert.True(t, identity.IsCeremonyFailed(err))
}

func TestIntegration_TamperedAssertionRejected(t *testing.T) {
	f := newIntegrationFixture(t)
	ctx := context.Background()

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := f.registration.BeginSignup(ctx, "session-1", identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)
	user, _, err := f.registration.FinishSignup(ctx, "session-1", f.attest(t, options, authenticator, credential))
	require.NoError(t, err)

	// Sign with a different key than the registered one.
	impostorKey := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	impostor := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: user.UserHandle,
	})
	impostor.AddCredential(impostorKey)

	assertOptions, err := f.auth.Begin(ctx, "session-2")
	require.NoError(t, err)

	_, err = f.auth.Finish(ctx, "session-2", f.assertWith(t, assertOptions, impostor, impostorKey))
	assert.True(t, identity.IsCeremonyFailed(err))
}

func TestIntegration_AssertionCredentialMismatchRejected(t *testing.T) {
	f := newIntegrationFixture(t)
	ctx := context.Background()

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := f.registration.BeginSignup(ctx, "session-1", identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)
	user, stored, err := f.registration.FinishSignup(ctx, "session-1", f.attest(t, options, authenticator, credential))
	require.NoError(t, err)

	discoverable := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: user.UserHandle,
	})
	discoverable.AddCredential(credential)

	assertOptions, state, err := f.engine.GetAssertionOptions(ctx)
	require.NoError(t, err)
	credential.Counter++
	assertion, err := f.engine.ParseAssertion(f.assertWith(t, assertOptions, discoverable, credential))
	require.NoError(t, err)

	// Verifying against a record whose raw id is not the one the
	// assertion names must fail even with a valid signature.
	other := stored
	other.CredentialID = []byte("some-other-credential")
	_, err = f.engine.MakeAssertion(ctx, state, assertion, other)
	assert.True(t, identity.IsCeremonyFailed(err))
}

func TestIntegration_MalformedAttestationRejected(t *testing.T) {
	f := newIntegrationFixture(t)
	ctx := context.Background()

	_, err := f.registration.BeginSignup(ctx, "session-1", identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)

	_, _, err = f.registration.FinishSignup(ctx, "session-1", []byte("not-a-webauthn-response"))
	assert.True(t, identity.IsCeremonyFailed(err))
}
