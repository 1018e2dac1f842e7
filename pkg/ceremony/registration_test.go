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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passkeyd/passkeyd/pkg/challenge"
	"github.com/passkeyd/passkeyd/pkg/identity"
	"github.com/passkeyd/passkeyd/pkg/metadata"
	"github.com/passkeyd/passkeyd/pkg/storage"
)

var testAAGUID = uuid.MustParse("01020304-0506-0708-090a-0b0c0d0e0f10")

// stubEngine satisfies Engine without any cryptography, returning the
// canned result for every verification.
type stubEngine struct {
	result    *RegistrationResult
	verifyErr error

	assertion  *Assertion
	parseErr   error
	newCounter uint32
	assertErr  error
}

func (s *stubEngine) RequestNewCredential(ctx context.Context, user RelyingUser) (json.RawMessage, []byte, error) {
	return json.RawMessage(`{"publicKey":{}}`), []byte("state"), nil
}

func (s *stubEngine) MakeNewCredential(ctx context.Context, user RelyingUser, state, response []byte, exists ExistsFunc) (*RegistrationResult, error) {
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	if exists != nil {
		taken, err := exists(ctx, s.result.CredentialID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, identity.NewError("stub", identity.ErrConflict)
		}
	}
	return s.result, nil
}

func (s *stubEngine) GetAssertionOptions(ctx context.Context) (json.RawMessage, []byte, error) {
	return json.RawMessage(`{"publicKey":{}}`), []byte("state"), nil
}

func (s *stubEngine) ParseAssertion(response []byte) (*Assertion, error) {
	if s.parseErr != nil {
		return nil, s.parseErr
	}
	return s.assertion, nil
}

func (s *stubEngine) MakeAssertion(ctx context.Context, state []byte, assertion *Assertion, cred identity.Credential) (uint32, error) {
	if s.assertErr != nil {
		return 0, s.assertErr
	}
	return s.newCounter, nil
}

func registrationResult(id string) *RegistrationResult {
	return &RegistrationResult{
		CredentialID:        []byte(id),
		PublicKey:           []byte("cose-public-key"),
		AttestationFormatID: "packed",
		AAGUID:              testAAGUID,
		SignatureCounter:    0,
	}
}

func newRegistrationFixture(t *testing.T, engine Engine, meta metadata.Service) (*Registration, *storage.MemoryRepository, *challenge.MemoryStore) {
	t.Helper()
	repo := storage.NewMemoryRepository()
	challenges := challenge.NewMemoryStore()
	return NewRegistration(engine, repo, challenges, meta), repo, challenges
}

func TestRegistration_BeginAndFinish(t *testing.T) {
	engine := &stubEngine{result: registrationResult("cred-1")}
	reg, repo, _ := newRegistrationFixture(t, engine, metadata.NewStaticService(map[uuid.UUID]string{
		testAAGUID: "YubiKey 5 Series",
	}))
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)

	options, err := reg.Begin(ctx, "session-1", user.ID, "")
	require.NoError(t, err)
	assert.NotEmpty(t, options)

	cred, err := reg.Finish(ctx, "session-1", user.ID, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, user.ID, cred.UserID)
	assert.Equal(t, []byte("cred-1"), cred.CredentialID)
	assert.Equal(t, "YubiKey 5 Series", cred.DisplayName)
	assert.Equal(t, "packed", cred.AttestationFormatID)
	assert.Equal(t, testAAGUID, cred.AAGUID)
}

func TestRegistration_DisplayNameFallsBackToFormat(t *testing.T) {
	engine := &stubEngine{result: registrationResult("cred-1")}
	reg, repo, _ := newRegistrationFixture(t, engine, nil)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)

	_, err = reg.Begin(ctx, "session-1", user.ID, "")
	require.NoError(t, err)

	cred, err := reg.Finish(ctx, "session-1", user.ID, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "packed", cred.DisplayName)
}

func TestRegistration_BeginUnknownUser(t *testing.T) {
	engine := &stubEngine{result: registrationResult("cred-1")}
	reg, _, _ := newRegistrationFixture(t, engine, nil)

	_, err := reg.Begin(context.Background(), "session-1", 42, "")
	assert.True(t, identity.IsNotFound(err))
}

func TestRegistration_FinishWithoutBegin(t *testing.T) {
	engine := &stubEngine{result: registrationResult("cred-1")}
	reg, repo, _ := newRegistrationFixture(t, engine, nil)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)

	_, err = reg.Finish(ctx, "never-began", user.ID, []byte(`{}`))
	assert.True(t, identity.IsChallengeExpired(err))
}

func TestRegistration_ChallengeIsSingleUse(t *testing.T) {
	engine := &stubEngine{result: registrationResult("cred-1")}
	reg, repo, _ := newRegistrationFixture(t, engine, nil)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)

	_, err = reg.Begin(ctx, "session-1", user.ID, "")
	require.NoError(t, err)

	_, err = reg.Finish(ctx, "session-1", user.ID, []byte(`{}`))
	require.NoError(t, err)

	_, err = reg.Finish(ctx, "session-1", user.ID, []byte(`{}`))
	assert.True(t, identity.IsChallengeExpired(err))
}

func TestRegistration_ChallengeConsumedOnFailure(t *testing.T) {
	engine := &stubEngine{
		result:    registrationResult("cred-1"),
		verifyErr: identity.CeremonyFailed("attestation verification failed", nil),
	}
	reg, repo, challenges := newRegistrationFixture(t, engine, nil)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)

	_, err = reg.Begin(ctx, "session-1", user.ID, "")
	require.NoError(t, err)

	_, err = reg.Finish(ctx, "session-1", user.ID, []byte(`{}`))
	assert.True(t, identity.IsCeremonyFailed(err))

	// The failed attempt burned the challenge.
	assert.Equal(t, 0, challenges.Count())
	_, err = reg.Finish(ctx, "session-1", user.ID, []byte(`{}`))
	assert.True(t, identity.IsChallengeExpired(err))
}

func TestRegistration_FinishWrongUser(t *testing.T) {
	engine := &stubEngine{result: registrationResult("cred-1")}
	reg, repo, _ := newRegistrationFixture(t, engine, nil)
	ctx := context.Background()

	alice, err := repo.CreateUser(ctx, identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)
	bob, err := repo.CreateUser(ctx, identity.Profile{DisplayName: "bob"})
	require.NoError(t, err)

	_, err = reg.Begin(ctx, "session-1", alice.ID, "")
	require.NoError(t, err)

	_, err = reg.Finish(ctx, "session-1", bob.ID, []byte(`{}`))
	assert.ErrorIs(t, err, identity.ErrForbidden)
}

func TestRegistration_DuplicateCredentialAcrossUsers(t *testing.T) {
	engine := &stubEngine{result: registrationResult("shared-cred")}
	reg, repo, _ := newRegistrationFixture(t, engine, nil)
	ctx := context.Background()

	alice, err := repo.CreateUser(ctx, identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)
	bob, err := repo.CreateUser(ctx, identity.Profile{DisplayName: "bob"})
	require.NoError(t, err)

	_, err = reg.Begin(ctx, "session-1", alice.ID, "")
	require.NoError(t, err)
	_, err = reg.Finish(ctx, "session-1", alice.ID, []byte(`{}`))
	require.NoError(t, err)

	// Bob's authenticator reporting the same raw credential id fails
	// the ceremony through the uniqueness callback.
	_, err = reg.Begin(ctx, "session-2", bob.ID, "")
	require.NoError(t, err)
	_, err = reg.Finish(ctx, "session-2", bob.ID, []byte(`{}`))
	assert.True(t, identity.IsConflict(err))
}

func TestRegistration_Signup(t *testing.T) {
	engine := &stubEngine{result: registrationResult("cred-1")}
	reg, repo, _ := newRegistrationFixture(t, engine, nil)
	ctx := context.Background()

	profile := identity.Profile{DisplayName: "alice", FirstName: "Alice", LastName: "Smith"}
	options, err := reg.BeginSignup(ctx, "session-1", profile)
	require.NoError(t, err)
	assert.NotEmpty(t, options)

	// Nothing persisted until the attestation verifies.
	_, err = repo.GetUser(ctx, 1)
	assert.True(t, identity.IsNotFound(err))

	user, cred, err := reg.FinishSignup(ctx, "session-1", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "alice", user.DisplayName)
	assert.Len(t, user.UserHandle, identity.UserHandleLength)
	assert.Equal(t, user.ID, cred.UserID)

	// The provisional handle minted at begin is the stored one.
	found, err := repo.GetUserByHandle(ctx, user.UserHandle)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
}

func TestRegistration_SignupValidation(t *testing.T) {
	engine := &stubEngine{result: registrationResult("cred-1")}
	reg, _, _ := newRegistrationFixture(t, engine, nil)

	_, err := reg.BeginSignup(context.Background(), "session-1", identity.Profile{})
	assert.True(t, identity.IsValidation(err))
}

func TestRegistration_SignupChallengeCannotFinishRegistration(t *testing.T) {
	engine := &stubEngine{result: registrationResult("cred-1")}
	reg, repo, _ := newRegistrationFixture(t, engine, nil)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)

	_, err = reg.BeginSignup(ctx, "session-1", identity.Profile{DisplayName: "bob"})
	require.NoError(t, err)

	// A signup challenge presented to the existing-user finish is
	// rejected and consumed.
	_, err = reg.Finish(ctx, "session-1", user.ID, []byte(`{}`))
	assert.True(t, identity.IsChallengeExpired(err))

	_, _, err = reg.FinishSignup(ctx, "session-1", []byte(`{}`))
	assert.True(t, identity.IsChallengeExpired(err))
}

func TestRegistration_FinishSignupWithRegistrationChallenge(t *testing.T) {
	engine := &stubEngine{result: registrationResult("cred-1")}
	reg, repo, _ := newRegistrationFixture(t, engine, nil)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)

	_, err = reg.Begin(ctx, "session-1", user.ID, "")
	require.NoError(t, err)

	_, _, err = reg.FinishSignup(ctx, "session-1", []byte(`{}`))
	assert.True(t, identity.IsChallengeExpired(err))
}

func TestRegistration_LongMetadataDescriptionTruncated(t *testing.T) {
	long := make([]byte, identity.CredentialDisplayNameMaxLength+100)
	for i := range long {
		long[i] = 'x'
	}
	engine := &stubEngine{result: registrationResult("cred-1")}
	reg, repo, _ := newRegistrationFixture(t, engine, metadata.NewStaticService(map[uuid.UUID]string{
		testAAGUID: string(long),
	}))
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, identity.Profile{DisplayName: "alice"})
	require.NoError(t, err)

	_, err = reg.Begin(ctx, "session-1", user.ID, "")
	require.NoError(t, err)

	cred, err := reg.Finish(ctx, "session-1", user.ID, []byte(`{}`))
	require.NoError(t, err)
	assert.Len(t, cred.DisplayName, identity.CredentialDisplayNameMaxLength)
}
