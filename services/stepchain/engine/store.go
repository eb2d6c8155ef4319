// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

// SessionStore is where the engine keeps live sessions.
//
// Thread Safety:
//
//	Implementations do not need their own locking. The engine serializes
//	every store call behind its own mutex; a store is never reached from
//	two goroutines at once.
type SessionStore interface {
	// Get returns the session for id and whether it exists.
	Get(id string) (*Session, bool)

	// Put stores or replaces the session under its ID.
	Put(sess *Session)

	// Delete removes the session for id. Missing ids are a no-op.
	Delete(id string)

	// List returns the ids of every stored session, in no fixed order.
	List() []string
}

// MemorySessionStore is the default map-backed store.
type MemorySessionStore struct {
	sessions map[string]*Session
}

// NewMemorySessionStore returns an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

// Get implements SessionStore.
func (m *MemorySessionStore) Get(id string) (*Session, bool) {
	sess, ok := m.sessions[id]
	return sess, ok
}

// Put implements SessionStore.
func (m *MemorySessionStore) Put(sess *Session) {
	if sess == nil || sess.ID == "" {
		return
	}
	m.sessions[sess.ID] = sess
}

// Delete implements SessionStore.
func (m *MemorySessionStore) Delete(id string) {
	delete(m.sessions, id)
}

// List implements SessionStore.
func (m *MemorySessionStore) List() []string {
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
