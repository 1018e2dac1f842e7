// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package session issues and verifies the bearer tokens handed out
// after a successful ceremony. Tokens are the only way a client proves
// who it is to the user and credential endpoints.
package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/passkeyd/passkeyd/pkg/identity"
)

// Method is the authentication method claim value for WebAuthn logins.
const Method = "webauthn"

// Identity is the verified content of a session token.
type Identity struct {
	// UserID is the authenticated account.
	UserID int64

	// CredentialID is the internal id of the credential the session
	// was established with. Zero when the session predates any
	// credential, as during signup's user-create flow.
	CredentialID int64

	// Method records how the session was established.
	Method string
}

// TokenIssuerConfig configures a TokenIssuer.
type TokenIssuerConfig struct {
	// Secret is the HMAC signing secret (required).
	Secret []byte

	// Issuer is the JWT issuer claim (default: "passkeyd").
	Issuer string

	// ExpiresIn is how long tokens are valid (default: 1 hour).
	ExpiresIn time.Duration
}

// TokenIssuer mints and verifies HS256 session tokens.
type TokenIssuer struct {
	secret    []byte
	issuer    string
	expiresIn time.Duration
}

// NewTokenIssuer creates a token issuer with the given configuration.
func NewTokenIssuer(config *TokenIssuerConfig) (*TokenIssuer, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if len(config.Secret) == 0 {
		return nil, fmt.Errorf("signing secret is required")
	}

	issuer := config.Issuer
	if issuer == "" {
		issuer = "passkeyd"
	}
	expiresIn := config.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	return &TokenIssuer{
		secret:    config.Secret,
		issuer:    issuer,
		expiresIn: expiresIn,
	}, nil
}

// Issue creates a session token for the user. credentialID may be zero
// for sessions established before any credential exists; the claim is
// omitted in that case.
func (t *TokenIssuer) Issue(userID, credentialID int64) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"iss": t.issuer,
		"sub": strconv.FormatInt(userID, 10),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(t.expiresIn).Unix(),
		"amr": Method,
	}
	if credentialID != 0 {
		claims["credential_id"] = strconv.FormatInt(credentialID, 10)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", identity.WrapError("session.Issue", err)
	}
	return signed, nil
}

// Parse verifies a session token and returns the identity it carries.
// Any verification failure, including expiry and a wrong issuer, maps
// to identity.ErrForbidden.
func (t *TokenIssuer) Parse(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return Identity{}, identity.NewError("session.Parse", identity.ErrForbidden)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, identity.NewError("session.Parse", identity.ErrForbidden)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, identity.NewError("session.Parse", identity.ErrForbidden)
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return Identity{}, identity.NewError("session.Parse", identity.ErrForbidden)
	}

	id := Identity{UserID: userID}
	if method, ok := claims["amr"].(string); ok {
		id.Method = method
	}
	if raw, ok := claims["credential_id"].(string); ok {
		credentialID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Identity{}, identity.NewError("session.Parse", identity.ErrForbidden)
		}
		id.CredentialID = credentialID
	}
	return id, nil
}
