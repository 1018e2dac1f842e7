// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package challenge

import (
	"context"
	"sync"
	"time"

	"github.com/passkeyd/passkeyd/pkg/identity"
)

type entry struct {
	challenge Challenge
	createdAt time.Time
}

// MemoryStore is an in-memory challenge store. Pending ceremony state
// is short-lived by design, so process restarts invalidating it is an
// accepted property, not a defect.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
}

// NewMemoryStore creates a challenge store with the default TTL.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithTTL(DefaultTTL)
}

// NewMemoryStoreWithTTL creates a challenge store with a custom TTL.
func NewMemoryStoreWithTTL(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		ttl:     ttl,
	}
}

// Put stores a challenge under the session id, overwriting any pending
// one and resetting its expiry.
func (s *MemoryStore) Put(ctx context.Context, sessionID string, ch Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = &entry{
		challenge: ch,
		createdAt: time.Now(),
	}
	return nil
}

// TakeAndClear atomically retrieves and removes the challenge. Expired
// entries are removed and reported the same as missing ones.
func (s *MemoryStore) TakeAndClear(ctx context.Context, sessionID string) (Challenge, error) {
	if err := ctx.Err(); err != nil {
		return Challenge{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok {
		return Challenge{}, identity.NewError("challenge.TakeAndClear", identity.ErrChallengeExpired)
	}
	delete(s.entries, sessionID)

	if time.Since(e.createdAt) > s.ttl {
		return Challenge{}, identity.NewError("challenge.TakeAndClear", identity.ErrChallengeExpired)
	}
	return e.challenge, nil
}

// Count returns the number of pending challenges.
func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup removes expired challenges and returns how many were removed.
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, e := range s.entries {
		if now.Sub(e.createdAt) > s.ttl {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine sweeps expired challenges on the given interval
// until the context is cancelled.
func (s *MemoryStore) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}
