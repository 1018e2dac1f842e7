// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package metadata resolves authenticator AAGUIDs to human-readable
// descriptions, typically backed by the FIDO Metadata Service. Lookups
// are best effort: callers fall back to the attestation format id when
// no description is available.
package metadata

import (
	"context"

	"github.com/go-webauthn/webauthn/metadata"
	"github.com/google/uuid"
)

// Service resolves an AAGUID to an authenticator description.
type Service interface {
	// Describe returns the authenticator description for the AAGUID.
	// The second return is false when no description is known.
	Describe(ctx context.Context, aaguid uuid.UUID) (string, bool)
}

// entrySource is the slice of metadata.Provider this package consumes.
type entrySource interface {
	GetEntry(ctx context.Context, aaguid uuid.UUID) (*metadata.Entry, error)
}

// ProviderService resolves descriptions through a FIDO MDS provider.
type ProviderService struct {
	provider entrySource
}

// NewProviderService wraps a go-webauthn metadata provider.
func NewProviderService(provider metadata.Provider) *ProviderService {
	return &ProviderService{provider: provider}
}

// Describe looks the AAGUID up in the MDS blob. Provider errors and
// unknown AAGUIDs both report no description; registration must not
// fail because the metadata service is unreachable.
func (s *ProviderService) Describe(ctx context.Context, aaguid uuid.UUID) (string, bool) {
	if s.provider == nil || aaguid == uuid.Nil {
		return "", false
	}
	entry, err := s.provider.GetEntry(ctx, aaguid)
	if err != nil || entry == nil {
		return "", false
	}
	if entry.MetadataStatement.Description == "" {
		return "", false
	}
	return entry.MetadataStatement.Description, true
}

// StaticService resolves descriptions from a fixed in-memory table.
// Useful for tests and air-gapped deployments.
type StaticService struct {
	descriptions map[uuid.UUID]string
}

// NewStaticService creates a service backed by the given table.
func NewStaticService(descriptions map[uuid.UUID]string) *StaticService {
	table := make(map[uuid.UUID]string, len(descriptions))
	for k, v := range descriptions {
		table[k] = v
	}
	return &StaticService{descriptions: table}
}

// Describe returns the table entry for the AAGUID.
func (s *StaticService) Describe(ctx context.Context, aaguid uuid.UUID) (string, bool) {
	desc, ok := s.descriptions[aaguid]
	if desc == "" {
		return "", false
	}
	return desc, ok
}

// Noop is a Service that never resolves anything.
type Noop struct{}

// Describe always reports no description.
func (Noop) Describe(ctx context.Context, aaguid uuid.UUID) (string, bool) {
	return "", false
}
