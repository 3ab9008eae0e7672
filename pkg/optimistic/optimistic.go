// Package optimistic holds client-visible state that is changed before the
// backing write commits and restored if the write fails.
package optimistic

import (
	"context"
	"sync"
)

// Map is a concurrency-safe keyed view with optimistic updates.
type Map[K comparable, V any] struct {
	mu     sync.RWMutex
	values map[K]V
}

// NewMap returns an empty map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{values: make(map[K]V)}
}

// Get returns the current value for key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// Len reports the number of keys.
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Snapshot copies the current contents.
func (m *Map[K, V]) Snapshot() map[K]V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[K]V, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Replace swaps in authoritative contents, e.g. after a fresh read.
func (m *Map[K, V]) Replace(values map[K]V) {
	next := make(map[K]V, len(values))
	for k, v := range values {
		next[k] = v
	}
	m.mu.Lock()
	m.values = next
	m.mu.Unlock()
}

// Store writes values without any rollback, e.g. to confirm tentative entries.
func (m *Map[K, V]) Store(values map[K]V) {
	m.mu.Lock()
	for k, v := range values {
		m.values[k] = v
	}
	m.mu.Unlock()
}

// Apply writes changes to the map immediately, then runs commit. When commit
// fails every touched key is put back to the value it held before Apply, and
// keys that did not exist are removed again. The commit error is returned.
func (m *Map[K, V]) Apply(ctx context.Context, changes map[K]V, commit func(context.Context) error) error {
	type previous struct {
		value   V
		existed bool
	}

	m.mu.Lock()
	saved := make(map[K]previous, len(changes))
	for k, v := range changes {
		old, ok := m.values[k]
		saved[k] = previous{value: old, existed: ok}
		m.values[k] = v
	}
	m.mu.Unlock()

	if err := commit(ctx); err != nil {
		m.mu.Lock()
		for k, p := range saved {
			if p.existed {
				m.values[k] = p.value
			} else {
				delete(m.values, k)
			}
		}
		m.mu.Unlock()
		return err
	}
	return nil
}
