package datastore

import (
	"context"
	"sync"

	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
)

// Memory is an in-memory implementation of DataStore. It uses a map
// per data kind and a single RWMutex for thread-safe concurrent
// access, the same shape as a single-entity flag map, generalised to
// hold every DataKind side by side.
type Memory struct {
	mu          sync.RWMutex
	data        map[flagmodel.DataKind]map[string]flagmodel.ItemDescriptor
	initialized bool
}

// NewMemory creates a new, empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[flagmodel.DataKind]map[string]flagmodel.ItemDescriptor)}
}

// Get retrieves a single item by kind and key.
func (m *Memory) Get(ctx context.Context, kind flagmodel.DataKind, key string) (flagmodel.ItemDescriptor, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items, ok := m.data[kind]
	if !ok {
		return flagmodel.ItemDescriptor{}, false, nil
	}
	item, ok := items[key]
	return item, ok, nil
}

// All returns every non-deleted item of the given kind.
func (m *Memory) All(ctx context.Context, kind flagmodel.DataKind) (map[string]flagmodel.ItemDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := m.data[kind]
	result := make(map[string]flagmodel.ItemDescriptor, len(items))
	for k, v := range items {
		if !v.Deleted() {
			result[k] = v
		}
	}
	return result, nil
}

// Init replaces the entire contents of the store with data.
func (m *Memory) Init(ctx context.Context, data flagmodel.FullDataSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fresh := make(map[flagmodel.DataKind]map[string]flagmodel.ItemDescriptor, len(data))
	for kind, items := range data {
		kindMap := make(map[string]flagmodel.ItemDescriptor, len(items))
		for k, v := range items {
			kindMap[k] = v
		}
		fresh[kind] = kindMap
	}
	m.data = fresh
	m.initialized = true
	return nil
}

// Upsert writes item under kind/key only if its Version is newer than
// whatever is currently stored (monotonic versioning per spec.md §8's
// I-MONO invariant); stale writes are silently no-ops, not errors.
func (m *Memory) Upsert(ctx context.Context, kind flagmodel.DataKind, key string, item flagmodel.ItemDescriptor) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data[kind] == nil {
		m.data[kind] = make(map[string]flagmodel.ItemDescriptor)
	}
	if existing, ok := m.data[kind][key]; ok && existing.Version >= item.Version {
		return false, nil
	}
	m.data[kind][key] = item
	return true, nil
}

// Initialized reports whether Init has been called at least once.
func (m *Memory) Initialized(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized, nil
}

// Close is a no-op: there are no external resources to release.
func (m *Memory) Close() error {
	return nil
}
