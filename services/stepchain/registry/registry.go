// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry holds immutable chain declarations and evicts them
// lazily by TTL. There is no background sweeper: eviction piggy-backs on
// registration calls, and lookups expire individual records in place.
package registry

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/StepChain/services/stepchain/datatypes"
)

// ErrChainNotFound is returned for unknown or expired chain identifiers.
// Handlers map it to a client error; the engine never creates sessions for
// chains that fail this lookup.
var ErrChainNotFound = errors.New("chain not found")

// DefaultTTL is how long an untouched chain survives. Every successful
// lookup refreshes the clock.
const DefaultTTL = time.Hour

// =============================================================================
// Store Interface
// =============================================================================

// ChainStore is the repository the registry drives. Implementations do not
// need their own locking: the registry serializes every access, which also
// keeps TTL sweeps and inserts mutually exclusive.
type ChainStore interface {
	// Get retrieves a chain by ID.
	Get(id string) (*datatypes.ChainRecord, bool)

	// Put stores a chain.
	Put(record *datatypes.ChainRecord)

	// Delete removes a chain.
	Delete(id string)

	// List returns all stored chain IDs.
	List() []string
}

// MemoryChainStore is the process-local ChainStore.
type MemoryChainStore struct {
	chains map[string]*datatypes.ChainRecord
}

// NewMemoryChainStore creates an empty in-memory store.
func NewMemoryChainStore() *MemoryChainStore {
	return &MemoryChainStore{chains: make(map[string]*datatypes.ChainRecord)}
}

func (m *MemoryChainStore) Get(id string) (*datatypes.ChainRecord, bool) {
	rec, ok := m.chains[id]
	return rec, ok
}

func (m *MemoryChainStore) Put(record *datatypes.ChainRecord) {
	m.chains[record.ChainID] = record
}

func (m *MemoryChainStore) Delete(id string) {
	delete(m.chains, id)
}

func (m *MemoryChainStore) List() []string {
	ids := make([]string, 0, len(m.chains))
	for id := range m.chains {
		ids = append(ids, id)
	}
	return ids
}

// =============================================================================
// Registry
// =============================================================================

// Registry is the chain registry.
//
// Thread Safety: Registry is safe for concurrent use. A single coarse mutex
// guards the store; lookups mutate UpdatedAt, so there is no read-only path.
type Registry struct {
	mu    sync.Mutex
	store ChainStore
	ttl   time.Duration
	clock func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL overrides the eviction horizon.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithStore injects a ChainStore implementation.
func WithStore(store ChainStore) Option {
	return func(r *Registry) {
		if store != nil {
			r.store = store
		}
	}
}

// New creates a Registry with the default in-memory store and a one hour TTL.
func New(opts ...Option) *Registry {
	r := &Registry{
		store: NewMemoryChainStore(),
		ttl:   DefaultTTL,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateChain registers an immutable chain declaration and returns its ID.
//
// Description:
//
//	Runs the lazy TTL sweep first, then inserts the new record under the
//	same lock so a sweep can never interleave with the insert.
func (r *Registry) CreateChain(topic string, kind datatypes.TaskKind, language string,
	steps []datatypes.StepDefinition, referenceSources []string, referenceMaterialIDs []string) string {

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	now := r.clock()
	record := &datatypes.ChainRecord{
		ChainID:              newChainID(),
		Topic:                topic,
		TaskKind:             kind,
		Language:             language,
		Steps:                append([]datatypes.StepDefinition(nil), steps...),
		ReferenceSources:     append([]string(nil), referenceSources...),
		ReferenceMaterialIDs: append([]string(nil), referenceMaterialIDs...),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	r.store.Put(record)

	slog.Info("registry: chain created",
		"chain_id", record.ChainID,
		"task_kind", record.TaskKind,
		"steps", len(record.Steps))
	return record.ChainID
}

// GetChain returns a copy of the chain and refreshes its TTL clock. Expired
// records are evicted in place and reported as not found.
func (r *Registry) GetChain(chainID string) (*datatypes.ChainRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.store.Get(chainID)
	if !ok {
		return nil, ErrChainNotFound
	}
	now := r.clock()
	if now.Sub(record.UpdatedAt) > r.ttl {
		r.store.Delete(chainID)
		slog.Info("registry: chain expired on lookup", "chain_id", chainID)
		return nil, ErrChainNotFound
	}
	record.UpdatedAt = now

	out := *record
	out.Steps = append([]datatypes.StepDefinition(nil), record.Steps...)
	out.ReferenceSources = append([]string(nil), record.ReferenceSources...)
	out.ReferenceMaterialIDs = append([]string(nil), record.ReferenceMaterialIDs...)
	return &out, nil
}

// DeleteChain removes a chain. Deleting an unknown chain is a no-op.
func (r *Registry) DeleteChain(chainID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.Delete(chainID)
}

// Len reports how many chains are live, expired or not. Metrics use it.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.store.List())
}

// sweepLocked evicts every record older than the TTL. Caller holds r.mu.
func (r *Registry) sweepLocked() {
	now := r.clock()
	removed := 0
	for _, id := range r.store.List() {
		record, ok := r.store.Get(id)
		if !ok {
			continue
		}
		if now.Sub(record.UpdatedAt) > r.ttl {
			r.store.Delete(id)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("registry: ttl sweep evicted chains", "removed", removed)
	}
}

// newChainID builds a chain_ prefixed 12-hex identifier.
func newChainID() string {
	return "chain_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
