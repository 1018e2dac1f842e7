// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package rest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/passkeyd/passkeyd/pkg/ceremony"
	"github.com/passkeyd/passkeyd/pkg/challenge"
	"github.com/passkeyd/passkeyd/pkg/health"
	"github.com/passkeyd/passkeyd/pkg/logging"
	"github.com/passkeyd/passkeyd/pkg/metrics"
	"github.com/passkeyd/passkeyd/pkg/session"
	"github.com/passkeyd/passkeyd/pkg/storage"
)

// ceremonyCookieName scopes pending ceremonies to a browser session.
const ceremonyCookieName = "passkeyd_ceremony"

// maxBodyBytes bounds request bodies. Attestation responses from real
// authenticators stay well under this.
const maxBodyBytes = 1 << 20

// HandlerContext holds the dependencies shared by all handlers.
type HandlerContext struct {
	registration   *ceremony.Registration
	authentication *ceremony.Authentication
	repo           storage.Repository
	tokens         *session.TokenIssuer
	health         *health.Checker
	logger         *logging.Logger
}

// ceremonySession returns the ceremony session id from the request
// cookie, minting a fresh one when absent. One ceremony may be in
// flight per session id; a new begin overwrites the previous one.
func (h *HandlerContext) ceremonySession(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(ceremonyCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	sid := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     ceremonyCookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(challenge.DefaultTTL.Seconds()),
	})
	return sid
}

// readBody reads a size-capped request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, ErrInvalidRequest
	}
	return body, nil
}

// decodeJSON decodes a size-capped JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return ErrInvalidRequest
	}
	return nil
}

// RegisterBeginHandler handles POST /webauthn/register/begin.
// Starts a registration ceremony adding a credential to the caller's
// account. The body may carry an attachment preference; an empty body
// allows any authenticator.
func (h *HandlerContext) RegisterBeginHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}

	var req RegisterBeginRequest
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, ErrInvalidRequest, http.StatusBadRequest)
			return
		}
	}

	start := time.Now()
	sid := h.ceremonySession(w, r)
	options, err := h.registration.Begin(r.Context(), sid, id.UserID, req.AttachmentPreference)
	metrics.RecordCeremony(metrics.CeremonyRegistration, metrics.PhaseBegin, err == nil, time.Since(start).Seconds())
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, json.RawMessage(options), http.StatusOK)
}

// RegisterFinishHandler handles POST /webauthn/register/finish.
func (h *HandlerContext) RegisterFinishHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	start := time.Now()
	sid := h.ceremonySession(w, r)
	cred, err := h.registration.Finish(r.Context(), sid, id.UserID, body)
	metrics.RecordCeremony(metrics.CeremonyRegistration, metrics.PhaseFinish, err == nil, time.Since(start).Seconds())
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, toCredentialResponse(cred), http.StatusCreated)
}

// SignupBeginHandler handles POST /webauthn/signup/begin.
// The profile rides along with the pending challenge; no account
// exists until the attestation verifies.
func (h *HandlerContext) SignupBeginHandler(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	start := time.Now()
	sid := h.ceremonySession(w, r)
	options, err := h.registration.BeginSignup(r.Context(), sid, req.toProfile())
	metrics.RecordCeremony(metrics.CeremonySignup, metrics.PhaseBegin, err == nil, time.Since(start).Seconds())
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, json.RawMessage(options), http.StatusOK)
}

// SignupFinishHandler handles POST /webauthn/signup/finish.
// Creates the user and first credential atomically, then signs the new
// user in.
func (h *HandlerContext) SignupFinishHandler(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	start := time.Now()
	sid := h.ceremonySession(w, r)
	user, cred, err := h.registration.FinishSignup(r.Context(), sid, body)
	metrics.RecordCeremony(metrics.CeremonySignup, metrics.PhaseFinish, err == nil, time.Since(start).Seconds())
	if err != nil {
		h.handleError(w, err)
		return
	}

	token, err := h.tokens.Issue(user.ID, cred.ID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, SignupResponse{
		Token:      token,
		User:       toUserResponse(user),
		Credential: toCredentialResponse(cred),
	}, http.StatusCreated)
}

// AuthenticateBeginHandler handles POST /webauthn/authenticate/begin.
// The options carry an empty allow-list; any discoverable credential
// for this relying party may answer.
func (h *HandlerContext) AuthenticateBeginHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sid := h.ceremonySession(w, r)
	options, err := h.authentication.Begin(r.Context(), sid)
	metrics.RecordCeremony(metrics.CeremonyAuthentication, metrics.PhaseBegin, err == nil, time.Since(start).Seconds())
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, json.RawMessage(options), http.StatusOK)
}

// AuthenticateFinishHandler handles POST /webauthn/authenticate/finish.
func (h *HandlerContext) AuthenticateFinishHandler(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	start := time.Now()
	sid := h.ceremonySession(w, r)
	result, err := h.authentication.Finish(r.Context(), sid, body)
	metrics.RecordCeremony(metrics.CeremonyAuthentication, metrics.PhaseFinish, err == nil, time.Since(start).Seconds())
	if err != nil {
		h.handleError(w, err)
		return
	}

	user, err := h.repo.GetUser(r.Context(), result.UserID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	token, err := h.tokens.Issue(result.UserID, result.CredentialID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, TokenResponse{Token: token, User: toUserResponse(user)}, http.StatusOK)
}

// LogoutHandler handles POST /webauthn/logout. It clears the ceremony
// session cookie; the bearer token simply expires.
func (h *HandlerContext) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     ceremonyCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}
