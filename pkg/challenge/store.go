// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package challenge holds pending ceremony state between the begin and
// finish phases of a WebAuthn ceremony. Entries are single use and
// expire after a short TTL, so the store is the only thing standing
// between a stolen challenge and a replayed ceremony.
package challenge

import (
	"context"
	"time"

	"github.com/passkeyd/passkeyd/pkg/identity"
)

// DefaultTTL is how long a pending ceremony stays redeemable.
const DefaultTTL = 5 * time.Minute

// Kind discriminates what ceremony a stored challenge belongs to. A
// challenge issued for one kind can never finish a ceremony of the
// other.
type Kind string

const (
	// KindRegistration marks a pending credential registration.
	KindRegistration Kind = "registration"

	// KindAuthentication marks a pending assertion.
	KindAuthentication Kind = "authentication"
)

// Challenge is the server-side state of one pending ceremony.
type Challenge struct {
	// Kind is the ceremony this challenge was issued for.
	Kind Kind

	// Options is the engine's serialized session state.
	Options []byte

	// UserID is set for registrations bound to an existing user.
	UserID int64

	// Profile carries the prospective user's profile during signup.
	Profile *identity.Profile

	// UserHandle is the provisional handle minted for signup.
	UserHandle []byte
}

// Store keeps pending challenges keyed by ceremony session id.
type Store interface {
	// Put stores a challenge under the session id, overwriting any
	// pending one and resetting its expiry.
	Put(ctx context.Context, sessionID string, ch Challenge) error

	// TakeAndClear atomically retrieves and removes the challenge.
	// Missing or expired entries return identity.ErrChallengeExpired;
	// a second call for the same id always fails.
	TakeAndClear(ctx context.Context, sessionID string) (Challenge, error)
}
