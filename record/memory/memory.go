// Package memory provides an in-process record.Store.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/warp/points-engine/record"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	tree *record.Tree

	reads  atomic.Int64
	writes atomic.Int64
}

var _ record.Store = (*Memory)(nil)

func New() *Memory {
	return &Memory{tree: record.NewTree()}
}

// Get returns the subtree at path.
func (m *Memory) Get(_ context.Context, path string) (json.RawMessage, error) {
	m.reads.Add(1)
	if err := record.CheckPath(path); err != nil {
		return nil, &record.ReadError{Path: path, Status: 400, Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, err := record.Encode(m.tree.Get(record.Split(path)))
	if err != nil {
		return nil, &record.ReadError{Path: path, Err: err}
	}
	return raw, nil
}

// Put replaces the subtree at path.
func (m *Memory) Put(_ context.Context, path string, value any) (json.RawMessage, error) {
	m.writes.Add(1)
	if err := record.CheckPath(path); err != nil {
		return nil, &record.WriteError{Op: "put", Path: path, Status: 400, Err: err}
	}
	n, err := record.Normalize(value)
	if err != nil {
		return nil, &record.WriteError{Op: "put", Path: path, Status: 400, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tree.Set(record.Split(path), n)
	raw, _ := record.Encode(n)
	return raw, nil
}

// Patch merges fields into the subtree at path.
func (m *Memory) Patch(_ context.Context, path string, fields map[string]any) (json.RawMessage, error) {
	m.writes.Add(1)
	if err := record.CheckPath(path); err != nil {
		return nil, &record.WriteError{Op: "patch", Path: path, Status: 400, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	applied, err := m.tree.Patch(record.Split(path), fields)
	if err != nil {
		return nil, &record.WriteError{Op: "patch", Path: path, Status: 400, Err: err}
	}
	raw, _ := record.Encode(applied)
	return raw, nil
}

// =============================================================================
// INSPECTION - Test helpers
// =============================================================================

// Reads returns the number of Get calls served.
func (m *Memory) Reads() int64 { return m.reads.Load() }

// Writes returns the number of Put and Patch calls served.
func (m *Memory) Writes() int64 { return m.writes.Load() }

// Snapshot returns a deep copy of the whole tree.
func (m *Memory) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return record.Clone(m.tree.Root()).(map[string]any)
}
