// Package store provides Persister implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/warp/task-ledger/engine"
)

// ErrUnavailable is returned by Memory when a failure was injected.
var ErrUnavailable = errors.New("store unavailable")

// =============================================================================
// MEMORY PERSISTER - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.Mutex
	snapshot *engine.Snapshot
	saves    int
	failNext int
}

func NewMemory() *Memory {
	return &Memory{}
}

// NewMemoryWith starts with a previously saved snapshot.
func NewMemoryWith(snap *engine.Snapshot) *Memory {
	return &Memory{snapshot: snap.Clone()}
}

// Load returns a copy of the last saved snapshot, or nil.
func (m *Memory) Load(_ context.Context) (*engine.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot.Clone(), nil
}

// Save stores a copy of snap when it is one version ahead.
func (m *Memory) Save(_ context.Context, snap *engine.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext > 0 {
		m.failNext--
		return ErrUnavailable
	}
	if stored := m.version(); snap.Version != stored+1 {
		return fmt.Errorf("%w: stored version %d, saving %d", engine.ErrStaleSnapshot, stored, snap.Version)
	}
	m.snapshot = snap.Clone()
	m.saves++
	return nil
}

// StoredVersion implements engine.VersionReader.
func (m *Memory) StoredVersion(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version(), nil
}

func (m *Memory) version() int64 {
	if m.snapshot == nil {
		return 0
	}
	return m.snapshot.Version
}

// FailNext makes the next n saves fail with ErrUnavailable.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// Saves reports how many saves succeeded.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Snapshot returns a copy of what was last saved.
func (m *Memory) Snapshot() *engine.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot.Clone()
}
