package redstone

import (
	"sync"
)

// Metrics tracks per-chunk counters for observability.
type Metrics struct {
	mu sync.Mutex

	ops      map[ChunkID]uint64
	deferred map[ChunkID]uint64
	changes  map[ChunkID]uint64
}

// NewMetrics creates an empty metrics registry.
func NewMetrics() *Metrics {
	return &Metrics{
		ops:      make(map[ChunkID]uint64),
		deferred: make(map[ChunkID]uint64),
		changes:  make(map[ChunkID]uint64),
	}
}

// AddOps increments the operations counter for a chunk.
func (m *Metrics) AddOps(id ChunkID, value uint64) {
	if m == nil || value == 0 {
		return
	}
	m.mu.Lock()
	m.ops[id] += value
	m.mu.Unlock()
}

// IncDeferred increments the counter of changes deferred to a later tick
// for a chunk.
func (m *Metrics) IncDeferred(id ChunkID) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.deferred[id]++
	m.mu.Unlock()
}

// IncChanges increments the counter of blocks changed in a chunk.
func (m *Metrics) IncChanges(id ChunkID) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.changes[id]++
	m.mu.Unlock()
}

// Ops returns the operations counter of a chunk.
func (m *Metrics) Ops(id ChunkID) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops[id]
}

// Deferred returns the counter of deferred changes of a chunk.
func (m *Metrics) Deferred(id ChunkID) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deferred[id]
}

// Forget drops all counters of a chunk, for example when it is unloaded.
func (m *Metrics) Forget(id ChunkID) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.ops, id)
	delete(m.deferred, id)
	delete(m.changes, id)
	m.mu.Unlock()
}
