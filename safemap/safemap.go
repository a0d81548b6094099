// Package safemap provides a typed concurrent map over sync.Map, used for
// registries that many goroutines read while a few add and remove entries.
package safemap

import (
	"iter"
	"sync"
)

// SafeMap is a sync.Map with typed keys and values. The zero value is an
// empty map ready for use. A SafeMap must not be copied after first use.
type SafeMap[K comparable, V any] struct {
	m sync.Map
}

// New returns an empty SafeMap.
func New[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{}
}

// Store sets the value for k, replacing any previous value.
func (m *SafeMap[K, V]) Store(k K, v V) {
	m.m.Store(k, v)
}

// Load returns the value stored for k.
//
// Parameters:
//   - k: The key to look up
//
// Returns:
//   - The value, or the zero value of V when k is absent
//   - true if k was present
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	v, ok := m.m.Load(k)
	if !ok {
		var zero V
		return zero, false
	}

	return v.(V), true
}

// LoadAndDelete removes k and returns the value it held. Only one of
// several concurrent callers for the same key sees ok == true.
func (m *SafeMap[K, V]) LoadAndDelete(k K) (V, bool) {
	v, ok := m.m.LoadAndDelete(k)
	if !ok {
		var zero V
		return zero, false
	}

	return v.(V), true
}

// Delete removes k. Deleting an absent key does nothing.
func (m *SafeMap[K, V]) Delete(k K) {
	m.m.Delete(k)
}

// Has reports whether k is present.
func (m *SafeMap[K, V]) Has(k K) bool {
	_, ok := m.m.Load(k)
	return ok
}

// All returns an iterator over the entries. Like sync.Map.Range it sees
// each key at most once and may or may not see entries added during the
// iteration.
func (m *SafeMap[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		m.m.Range(func(k, v any) bool {
			return yield(k.(K), v.(V))
		})
	}
}

// Len counts the entries. It walks the whole map.
func (m *SafeMap[K, V]) Len() int {
	n := 0
	for range m.All() {
		n++
	}

	return n
}
