// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/passkeyd/passkeyd/pkg/identity"
)

// MemoryRepository is an in-memory Repository for development and
// tests. All state is lost on restart.
type MemoryRepository struct {
	mu       sync.RWMutex
	users    map[int64]*identity.User
	byHandle map[string]int64 // hex user handle -> user id
	creds    map[int64]*identity.Credential
	byHash   map[string]int64 // hex credential id hash -> credential id
	nextUser int64
	nextCred int64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[int64]*identity.User),
		byHandle: make(map[string]int64),
		creds:    make(map[int64]*identity.Credential),
		byHash:   make(map[string]int64),
		nextUser: 1,
		nextCred: 1,
	}
}

// CreateUser creates a user with a freshly generated user handle.
func (r *MemoryRepository) CreateUser(ctx context.Context, profile identity.Profile) (identity.User, error) {
	if err := ctx.Err(); err != nil {
		return identity.User{}, err
	}
	if err := profile.Validate(); err != nil {
		return identity.User{}, err
	}
	handle, err := identity.NewUserHandle()
	if err != nil {
		return identity.User{}, identity.WrapError("storage.CreateUser", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	user := r.insertUser(profile, handle)
	return *user, nil
}

// CreateUserWithCredential creates a user and their first credential
// atomically.
func (r *MemoryRepository) CreateUserWithCredential(ctx context.Context, profile identity.Profile, userHandle []byte, cred NewCredential) (identity.User, identity.Credential, error) {
	if err := ctx.Err(); err != nil {
		return identity.User{}, identity.Credential{}, err
	}
	if err := profile.Validate(); err != nil {
		return identity.User{}, identity.Credential{}, err
	}
	if err := validateNewCredential(cred); err != nil {
		return identity.User{}, identity.Credential{}, err
	}
	if len(userHandle) != identity.UserHandleLength {
		return identity.User{}, identity.Credential{}, identity.NewError("storage.CreateUserWithCredential", identity.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byHandle[hex.EncodeToString(userHandle)]; exists {
		return identity.User{}, identity.Credential{}, identity.NewError("storage.CreateUserWithCredential", identity.ErrConflict)
	}
	hash := identity.HashCredentialID(cred.CredentialID)
	if _, exists := r.byHash[hex.EncodeToString(hash)]; exists {
		return identity.User{}, identity.Credential{}, identity.NewError("storage.CreateUserWithCredential", identity.ErrConflict)
	}

	user := r.insertUser(profile, userHandle)
	credential := r.insertCredential(user.ID, cred, hash)
	return *user, *credential, nil
}

// GetUser retrieves a user by internal id.
func (r *MemoryRepository) GetUser(ctx context.Context, id int64) (identity.User, error) {
	if err := ctx.Err(); err != nil {
		return identity.User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return identity.User{}, identity.NewError("storage.GetUser", identity.ErrNotFound)
	}
	return *user, nil
}

// GetUserByHandle retrieves a user by WebAuthn user handle.
func (r *MemoryRepository) GetUserByHandle(ctx context.Context, handle []byte) (identity.User, error) {
	if err := ctx.Err(); err != nil {
		return identity.User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHandle[hex.EncodeToString(handle)]
	if !ok {
		return identity.User{}, identity.NewError("storage.GetUserByHandle", identity.ErrNotFound)
	}
	return *r.users[id], nil
}

// UpdateUser replaces the user's profile fields. The user handle is
// immutable and never touched.
func (r *MemoryRepository) UpdateUser(ctx context.Context, id int64, profile identity.Profile) (identity.User, error) {
	if err := ctx.Err(); err != nil {
		return identity.User{}, err
	}
	if err := profile.Validate(); err != nil {
		return identity.User{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return identity.User{}, identity.NewError("storage.UpdateUser", identity.ErrNotFound)
	}
	user.DisplayName = profile.DisplayName
	user.FirstName = profile.FirstName
	user.LastName = profile.LastName
	user.Updated = time.Now().UTC()
	return *user, nil
}

// AddCredential registers a credential for the user.
func (r *MemoryRepository) AddCredential(ctx context.Context, userID int64, cred NewCredential) (identity.Credential, error) {
	if err := ctx.Err(); err != nil {
		return identity.Credential{}, err
	}
	if err := validateNewCredential(cred); err != nil {
		return identity.Credential{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[userID]; !ok {
		return identity.Credential{}, identity.NewError("storage.AddCredential", identity.ErrNotFound)
	}
	hash := identity.HashCredentialID(cred.CredentialID)
	if _, exists := r.byHash[hex.EncodeToString(hash)]; exists {
		return identity.Credential{}, identity.NewError("storage.AddCredential", identity.ErrConflict)
	}
	return *r.insertCredential(userID, cred, hash), nil
}

// ListCredentials returns the user's credentials ordered by creation
// time ascending.
func (r *MemoryRepository) ListCredentials(ctx context.Context, userID int64) ([]identity.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []identity.Credential
	// Ids are monotonic, so ascending id order is creation order.
	for id := int64(1); id < r.nextCred; id++ {
		cred, ok := r.creds[id]
		if ok && cred.UserID == userID {
			out = append(out, *cred)
		}
	}
	return out, nil
}

// GetCredential retrieves one of the user's credentials by internal id.
func (r *MemoryRepository) GetCredential(ctx context.Context, userID, credentialID int64) (identity.Credential, error) {
	if err := ctx.Err(); err != nil {
		return identity.Credential{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	cred, ok := r.creds[credentialID]
	if !ok || cred.UserID != userID {
		return identity.Credential{}, identity.NewError("storage.GetCredential", identity.ErrNotFound)
	}
	return *cred, nil
}

// GetCredentialByOwnerAndRawID retrieves a credential by owner and raw
// authenticator-issued id.
func (r *MemoryRepository) GetCredentialByOwnerAndRawID(ctx context.Context, userID int64, rawID []byte) (identity.Credential, error) {
	if err := ctx.Err(); err != nil {
		return identity.Credential{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	hash := identity.HashCredentialID(rawID)
	id, ok := r.byHash[hex.EncodeToString(hash)]
	if !ok {
		return identity.Credential{}, identity.NewError("storage.GetCredentialByOwnerAndRawID", identity.ErrNotFound)
	}
	cred := r.creds[id]
	if cred.UserID != userID || !bytes.Equal(cred.CredentialID, rawID) {
		return identity.Credential{}, identity.NewError("storage.GetCredentialByOwnerAndRawID", identity.ErrNotFound)
	}
	return *cred, nil
}

// DeleteCredential removes one of the user's credentials. A credential
// owned by a different user is reported as not found.
func (r *MemoryRepository) DeleteCredential(ctx context.Context, userID, credentialID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[credentialID]
	if !ok || cred.UserID != userID {
		return identity.NewError("storage.DeleteCredential", identity.ErrNotFound)
	}
	delete(r.creds, credentialID)
	delete(r.byHash, hex.EncodeToString(cred.CredentialIDHash))
	return nil
}

// UpdateSignatureCounter applies a new signature counter, rejecting any
// value that does not exceed the stored one.
func (r *MemoryRepository) UpdateSignatureCounter(ctx context.Context, credentialID int64, newCounter uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[credentialID]
	if !ok {
		return identity.NewError("storage.UpdateSignatureCounter", identity.ErrNotFound)
	}
	if newCounter <= cred.SignatureCounter {
		return identity.NewError("storage.UpdateSignatureCounter", identity.ErrReplaySuspected)
	}
	cred.SignatureCounter = newCounter
	cred.Updated = time.Now().UTC()
	return nil
}

// HasCredentialID reports whether any user already holds a credential
// with the given raw id.
func (r *MemoryRepository) HasCredentialID(ctx context.Context, rawID []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	hash := identity.HashCredentialID(rawID)
	_, ok := r.byHash[hex.EncodeToString(hash)]
	return ok, nil
}

// Close releases resources. It is a no-op for the in-memory repository.
func (r *MemoryRepository) Close() error {
	return nil
}

// insertUser appends a user row. The caller must hold the write lock.
func (r *MemoryRepository) insertUser(profile identity.Profile, handle []byte) *identity.User {
	now := time.Now().UTC()
	user := &identity.User{
		ID:          r.nextUser,
		UserHandle:  append([]byte(nil), handle...),
		DisplayName: profile.DisplayName,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		Created:     now,
		Updated:     now,
	}
	r.nextUser++
	r.users[user.ID] = user
	r.byHandle[hex.EncodeToString(user.UserHandle)] = user.ID
	return user
}

// insertCredential appends a credential row. The caller must hold the
// write lock and have checked hash uniqueness.
func (r *MemoryRepository) insertCredential(userID int64, cred NewCredential, hash []byte) *identity.Credential {
	now := time.Now().UTC()
	credential := &identity.Credential{
		ID:                  r.nextCred,
		UserID:              userID,
		CredentialID:        append([]byte(nil), cred.CredentialID...),
		CredentialIDHash:    hash,
		PublicKey:           append([]byte(nil), cred.PublicKey...),
		AttestationFormatID: cred.AttestationFormatID,
		AAGUID:              cred.AAGUID,
		DisplayName:         cred.DisplayName,
		SignatureCounter:    cred.SignatureCounter,
		Created:             now,
		Updated:             now,
	}
	r.nextCred++
	r.creds[credential.ID] = credential
	r.byHash[hex.EncodeToString(hash)] = credential.ID
	return credential
}

// validateNewCredential enforces field constraints shared by every
// repository implementation.
func validateNewCredential(cred NewCredential) error {
	switch {
	case len(cred.CredentialID) == 0,
		len(cred.PublicKey) == 0,
		cred.DisplayName == "",
		len(cred.DisplayName) > identity.CredentialDisplayNameMaxLength,
		len(cred.AttestationFormatID) > identity.AttestationFormatIDMaxLength:
		return identity.NewError("storage.validateNewCredential", identity.ErrValidation)
	}
	return nil
}
