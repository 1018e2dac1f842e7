// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package sqlite implements the credential repository over a single
// SQLite file. One file backs both users and credentials so signup can
// create them in the same transaction.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/passkeyd/passkeyd/pkg/identity"
	"github.com/passkeyd/passkeyd/pkg/storage"
)

//go:embed schema.sql
var schema string

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements storage.Repository over SQLite.
type Store struct {
	db *sql.DB
}

// compile-time interface check
var _ storage.Repository = (*Store)(nil)

// Open opens a SQLite repository and applies the bundled schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	// Pragmas use the modernc.org/sqlite _pragma form; mattn-style
	// underscore parameters are silently ignored by this driver.
	dsn := cleanPath + "?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateUser creates a user with a freshly generated user handle.
func (s *Store) CreateUser(ctx context.Context, profile identity.Profile) (identity.User, error) {
	if err := ctx.Err(); err != nil {
		return identity.User{}, err
	}
	if err := profile.Validate(); err != nil {
		return identity.User{}, err
	}
	handle, err := identity.NewUserHandle()
	if err != nil {
		return identity.User{}, identity.WrapError("sqlite.CreateUser", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_handle, display_name, first_name, last_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		handle, profile.DisplayName, profile.FirstName, profile.LastName, toMillis(now), toMillis(now))
	if err != nil {
		return identity.User{}, mapSQLError("sqlite.CreateUser", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return identity.User{}, identity.WrapError("sqlite.CreateUser", err)
	}

	return identity.User{
		ID:          id,
		UserHandle:  handle,
		DisplayName: profile.DisplayName,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		Created:     fromMillis(toMillis(now)),
		Updated:     fromMillis(toMillis(now)),
	}, nil
}

// CreateUserWithCredential creates a user and their first credential in
// one transaction. Neither row lands if either insert fails.
func (s *Store) CreateUserWithCredential(ctx context.Context, profile identity.Profile, userHandle []byte, cred storage.NewCredential) (identity.User, identity.Credential, error) {
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
		return identity.User{}, identity.Credential{}, identity.NewError("sqlite.CreateUserWithCredential", identity.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return identity.User{}, identity.Credential{}, identity.WrapError("sqlite.CreateUserWithCredential", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (user_handle, display_name, first_name, last_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		userHandle, profile.DisplayName, profile.FirstName, profile.LastName, toMillis(now), toMillis(now))
	if err != nil {
		return identity.User{}, identity.Credential{}, mapSQLError("sqlite.CreateUserWithCredential", err)
	}
	userID, err := res.LastInsertId()
	if err != nil {
		return identity.User{}, identity.Credential{}, identity.WrapError("sqlite.CreateUserWithCredential", err)
	}

	credential, err := insertCredential(ctx, tx, userID, cred, now)
	if err != nil {
		return identity.User{}, identity.Credential{}, err
	}

	if err := tx.Commit(); err != nil {
		return identity.User{}, identity.Credential{}, identity.WrapError("sqlite.CreateUserWithCredential", err)
	}

	user := identity.User{
		ID:          userID,
		UserHandle:  append([]byte(nil), userHandle...),
		DisplayName: profile.DisplayName,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		Created:     fromMillis(toMillis(now)),
		Updated:     fromMillis(toMillis(now)),
	}
	return user, credential, nil
}

// GetUser retrieves a user by internal id.
func (s *Store) GetUser(ctx context.Context, id int64) (identity.User, error) {
	if err := ctx.Err(); err != nil {
		return identity.User{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_handle, display_name, first_name, last_name, created_at, updated_at
		 FROM users WHERE id = ?`, id)
	return scanUser("sqlite.GetUser", row)
}

// GetUserByHandle retrieves a user by WebAuthn user handle.
func (s *Store) GetUserByHandle(ctx context.Context, handle []byte) (identity.User, error) {
	if err := ctx.Err(); err != nil {
		return identity.User{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_handle, display_name, first_name, last_name, created_at, updated_at
		 FROM users WHERE user_handle = ?`, handle)
	return scanUser("sqlite.GetUserByHandle", row)
}

// UpdateUser replaces the user's profile fields. The user handle column
// is deliberately absent from the UPDATE.
func (s *Store) UpdateUser(ctx context.Context, id int64, profile identity.Profile) (identity.User, error) {
	if err := ctx.Err(); err != nil {
		return identity.User{}, err
	}
	if err := profile.Validate(); err != nil {
		return identity.User{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET display_name = ?, first_name = ?, last_name = ?, updated_at = ?
		 WHERE id = ?`,
		profile.DisplayName, profile.FirstName, profile.LastName, toMillis(time.Now()), id)
	if err != nil {
		return identity.User{}, mapSQLError("sqlite.UpdateUser", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return identity.User{}, identity.WrapError("sqlite.UpdateUser", err)
	}
	if affected == 0 {
		return identity.User{}, identity.NewError("sqlite.UpdateUser", identity.ErrNotFound)
	}
	return s.GetUser(ctx, id)
}

// AddCredential registers a credential for the user.
func (s *Store) AddCredential(ctx context.Context, userID int64, cred storage.NewCredential) (identity.Credential, error) {
	if err := ctx.Err(); err != nil {
		return identity.Credential{}, err
	}
	if err := validateNewCredential(cred); err != nil {
		return identity.Credential{}, err
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return identity.Credential{}, err
	}
	return insertCredential(ctx, s.db, userID, cred, time.Now().UTC())
}

// ListCredentials returns the user's credentials ordered by creation
// time ascending.
func (s *Store) ListCredentials(ctx context.Context, userID int64) ([]identity.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		credentialColumns+` FROM credentials WHERE user_id = ? ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, identity.WrapError("sqlite.ListCredentials", err)
	}
	defer rows.Close()

	var out []identity.Credential
	for rows.Next() {
		cred, err := scanCredential("sqlite.ListCredentials", rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, identity.WrapError("sqlite.ListCredentials", err)
	}
	return out, nil
}

// GetCredential retrieves one of the user's credentials by internal id.
func (s *Store) GetCredential(ctx context.Context, userID, credentialID int64) (identity.Credential, error) {
	if err := ctx.Err(); err != nil {
		return identity.Credential{}, err
	}
	row := s.db.QueryRowContext(ctx,
		credentialColumns+` FROM credentials WHERE id = ? AND user_id = ?`, credentialID, userID)
	return scanCredential("sqlite.GetCredential", row)
}

// GetCredentialByOwnerAndRawID retrieves a credential by owner and raw
// authenticator-issued id, using the hash index for the lookup.
func (s *Store) GetCredentialByOwnerAndRawID(ctx context.Context, userID int64, rawID []byte) (identity.Credential, error) {
	if err := ctx.Err(); err != nil {
		return identity.Credential{}, err
	}
	hash := identity.HashCredentialID(rawID)
	row := s.db.QueryRowContext(ctx,
		credentialColumns+` FROM credentials WHERE credential_id_hash = ? AND user_id = ?`, hash, userID)
	return scanCredential("sqlite.GetCredentialByOwnerAndRawID", row)
}

// DeleteCredential removes one of the user's credentials. A credential
// owned by a different user is reported as not found.
func (s *Store) DeleteCredential(ctx context.Context, userID, credentialID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE id = ? AND user_id = ?`, credentialID, userID)
	if err != nil {
		return identity.WrapError("sqlite.DeleteCredential", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return identity.WrapError("sqlite.DeleteCredential", err)
	}
	if affected == 0 {
		return identity.NewError("sqlite.DeleteCredential", identity.ErrNotFound)
	}
	return nil
}

// UpdateSignatureCounter applies a new signature counter. The guard
// lives in the WHERE clause so concurrent assertions for the same
// credential serialize on the row.
func (s *Store) UpdateSignatureCounter(ctx context.Context, credentialID int64, newCounter uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET signature_counter = ?, updated_at = ?
		 WHERE id = ? AND signature_counter < ?`,
		int64(newCounter), toMillis(time.Now()), credentialID, int64(newCounter))
	if err != nil {
		return identity.WrapError("sqlite.UpdateSignatureCounter", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return identity.WrapError("sqlite.UpdateSignatureCounter", err)
	}
	if affected == 1 {
		return nil
	}

	// Nothing updated: distinguish a stale counter from a missing row.
	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM credentials WHERE id = ?`, credentialID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.NewError("sqlite.UpdateSignatureCounter", identity.ErrNotFound)
	}
	if err != nil {
		return identity.WrapError("sqlite.UpdateSignatureCounter", err)
	}
	return identity.NewError("sqlite.UpdateSignatureCounter", identity.ErrReplaySuspected)
}

// HasCredentialID reports whether any user already holds a credential
// with the given raw id.
func (s *Store) HasCredentialID(ctx context.Context, rawID []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	hash := identity.HashCredentialID(rawID)
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM credentials WHERE credential_id_hash = ?`, hash).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, identity.WrapError("sqlite.HasCredentialID", err)
	}
	return true, nil
}

const credentialColumns = `SELECT id, user_id, credential_id, credential_id_hash, public_key,
	attestation_format_id, aaguid, display_name, signature_counter, created_at, updated_at`

type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertCredential writes a credential row through db or an open tx.
func insertCredential(ctx context.Context, db execContexter, userID int64, cred storage.NewCredential, now time.Time) (identity.Credential, error) {
	hash := identity.HashCredentialID(cred.CredentialID)
	res, err := db.ExecContext(ctx,
		`INSERT INTO credentials (user_id, credential_id, credential_id_hash, public_key,
		 attestation_format_id, aaguid, display_name, signature_counter, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, cred.CredentialID, hash, cred.PublicKey,
		cred.AttestationFormatID, cred.AAGUID.String(), cred.DisplayName,
		int64(cred.SignatureCounter), toMillis(now), toMillis(now))
	if err != nil {
		return identity.Credential{}, mapSQLError("sqlite.insertCredential", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return identity.Credential{}, identity.WrapError("sqlite.insertCredential", err)
	}
	return identity.Credential{
		ID:                  id,
		UserID:              userID,
		CredentialID:        append([]byte(nil), cred.CredentialID...),
		CredentialIDHash:    hash,
		PublicKey:           append([]byte(nil), cred.PublicKey...),
		AttestationFormatID: cred.AttestationFormatID,
		AAGUID:              cred.AAGUID,
		DisplayName:         cred.DisplayName,
		SignatureCounter:    cred.SignatureCounter,
		Created:             fromMillis(toMillis(now)),
		Updated:             fromMillis(toMillis(now)),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(op string, row rowScanner) (identity.User, error) {
	var user identity.User
	var created, updated int64
	err := row.Scan(&user.ID, &user.UserHandle, &user.DisplayName, &user.FirstName, &user.LastName, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, identity.NewError(op, identity.ErrNotFound)
	}
	if err != nil {
		return identity.User{}, identity.WrapError(op, err)
	}
	user.Created = fromMillis(created)
	user.Updated = fromMillis(updated)
	return user, nil
}

func scanCredential(op string, row rowScanner) (identity.Credential, error) {
	var cred identity.Credential
	var aaguid string
	var counter, created, updated int64
	err := row.Scan(&cred.ID, &cred.UserID, &cred.CredentialID, &cred.CredentialIDHash, &cred.PublicKey,
		&cred.AttestationFormatID, &aaguid, &cred.DisplayName, &counter, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Credential{}, identity.NewError(op, identity.ErrNotFound)
	}
	if err != nil {
		return identity.Credential{}, identity.WrapError(op, err)
	}
	if aaguid != "" {
		parsed, err := uuid.Parse(aaguid)
		if err != nil {
			return identity.Credential{}, identity.WrapError(op, err)
		}
		cred.AAGUID = parsed
	}
	cred.SignatureCounter = uint32(counter)
	cred.Created = fromMillis(created)
	cred.Updated = fromMillis(updated)
	return cred, nil
}

// mapSQLError converts SQLite unique-constraint failures into the
// repository's conflict error.
func mapSQLError(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return identity.NewError(op, identity.ErrConflict)
	}
	return identity.WrapError(op, err)
}

// validateNewCredential enforces field constraints before any write.
func validateNewCredential(cred storage.NewCredential) error {
	switch {
	case len(cred.CredentialID) == 0,
		len(cred.PublicKey) == 0,
		cred.DisplayName == "",
		len(cred.DisplayName) > identity.CredentialDisplayNameMaxLength,
		len(cred.AttestationFormatID) > identity.AttestationFormatIDMaxLength:
		return identity.NewError("sqlite.validateNewCredential", identity.ErrValidation)
	}
	return nil
}
