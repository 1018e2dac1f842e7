// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package rest

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/passkeyd/passkeyd/pkg/identity"
)

// CreateUserHandler handles POST /users. The new user is signed in
// immediately so they can register their first credential; the token
// carries no credential claim yet.
func (h *HandlerContext) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	user, err := h.repo.CreateUser(r.Context(), req.toProfile())
	if err != nil {
		h.handleError(w, err)
		return
	}

	token, err := h.tokens.Issue(user.ID, 0)
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, TokenResponse{Token: token, User: toUserResponse(user)}, http.StatusCreated)
}

// GetCurrentUserHandler handles GET /users/me.
func (h *HandlerContext) GetCurrentUserHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}

	user, err := h.repo.GetUser(r.Context(), id.UserID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, toUserResponse(user), http.StatusOK)
}

// GetUserHandler handles GET /users/{id}. Callers may only read their
// own record.
func (h *HandlerContext) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}

	targetID, err := pathID(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if targetID != id.UserID {
		h.handleError(w, identity.NewError("rest.GetUser", identity.ErrForbidden))
		return
	}

	user, err := h.repo.GetUser(r.Context(), targetID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, toUserResponse(user), http.StatusOK)
}

// UpdateUserHandler handles PUT /users/{id}. Callers may only update
// their own record; the user handle is immutable.
func (h *HandlerContext) UpdateUserHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}

	targetID, err := pathID(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if targetID != id.UserID {
		h.handleError(w, identity.NewError("rest.UpdateUser", identity.ErrForbidden))
		return
	}

	var req ProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	user, err := h.repo.UpdateUser(r.Context(), targetID, req.toProfile())
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, toUserResponse(user), http.StatusOK)
}

// ListCredentialsHandler handles GET /users/me/credentials. Results
// are ordered by creation time ascending.
func (h *HandlerContext) ListCredentialsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}

	creds, err := h.repo.ListCredentials(r.Context(), id.UserID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, toCredentialResponses(creds), http.StatusOK)
}

// GetCurrentCredentialHandler handles GET /users/me/credentials/current.
// It resolves the credential the session was established with. Sessions
// minted before any credential exists have none.
func (h *HandlerContext) GetCurrentCredentialHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}

	if id.CredentialID == 0 {
		h.handleError(w, identity.NewError("rest.GetCurrentCredential", identity.ErrNotFound))
		return
	}

	cred, err := h.repo.GetCredential(r.Context(), id.UserID, id.CredentialID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, toCredentialResponse(cred), http.StatusOK)
}

// DeleteCredentialHandler handles DELETE /users/me/credentials/{id}.
// Another owner's credential reports the same NotFound as a missing
// one.
func (h *HandlerContext) DeleteCredentialHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}

	credentialID, err := pathID(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	if err := h.repo.DeleteCredential(r.Context(), id.UserID, credentialID); err != nil {
		h.handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pathID parses the {id} route parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, ErrInvalidRequest
	}
	return id, nil
}
