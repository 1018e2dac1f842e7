// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package rest

import (
	"context"

	"github.com/passkeyd/passkeyd/pkg/session"
)

type contextKey int

const identityKey contextKey = iota

// withIdentity stores the verified session identity in the context.
func withIdentity(ctx context.Context, id session.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// identityFrom retrieves the session identity placed by the
// authentication middleware.
func identityFrom(ctx context.Context) (session.Identity, bool) {
	id, ok := ctx.Value(identityKey).(session.Identity)
	return id, ok
}
