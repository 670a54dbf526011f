// Package store provides in-memory generic.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/policy-billing/generic"
)

// =============================================================================
// MEMORY STORE - In-memory ledger (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	entries     map[generic.PolicyID][]generic.Entry
	idempotency map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[generic.PolicyID][]generic.Entry),
		idempotency: make(map[string]bool),
	}
}

// Append adds a single entry. Append-only.
func (m *Memory) Append(_ context.Context, e generic.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}
	m.appendLocked(e)
	return nil
}

// AppendBatch adds multiple entries atomically.
func (m *Memory) AppendBatch(_ context.Context, entries []generic.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all idempotency keys first (atomic check)
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[e.IdempotencyKey] || seen[e.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
	}

	for _, e := range entries {
		m.appendLocked(e)
	}
	return nil
}

func (m *Memory) appendLocked(e generic.Entry) {
	entries := m.entries[e.PolicyID]

	// Insert after every entry with EffectiveAt <= e.EffectiveAt so ties keep insertion order
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].EffectiveAt.After(e.EffectiveAt)
	})

	entries = append(entries, generic.Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	m.entries[e.PolicyID] = entries

	if e.IdempotencyKey != "" {
		m.idempotency[e.IdempotencyKey] = true
	}
}

func (m *Memory) Load(_ context.Context, policyID generic.PolicyID) ([]generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]generic.Entry, len(m.entries[policyID]))
	copy(result, m.entries[policyID])
	return result, nil
}

func (m *Memory) LoadRange(_ context.Context, policyID generic.PolicyID, from, to generic.TimePoint) ([]generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.Entry
	for _, e := range m.entries[policyID] {
		if from.BeforeOrEqual(e.EffectiveAt) && e.EffectiveAt.BeforeOrEqual(to) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// Reset drops every entry.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[generic.PolicyID][]generic.Entry)
	m.idempotency = make(map[string]bool)
}

// =============================================================================
// SNAPSHOT / RESTORE - Rollback support for transactional wrappers
// =============================================================================

// Snapshot is an opaque copy of the ledger state.
type Snapshot struct {
	entries     map[generic.PolicyID][]generic.Entry
	idempotency map[string]bool
}

// Snapshot copies the current state.
func (m *Memory) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entriesCopy := make(map[generic.PolicyID][]generic.Entry, len(m.entries))
	for k, v := range m.entries {
		entriesCopy[k] = append([]generic.Entry{}, v...)
	}
	idempCopy := make(map[string]bool, len(m.idempotency))
	for k, v := range m.idempotency {
		idempCopy[k] = v
	}
	return Snapshot{entries: entriesCopy, idempotency: idempCopy}
}

// Restore replaces the current state with s.
func (m *Memory) Restore(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = s.entries
	m.idempotency = s.idempotency
}
