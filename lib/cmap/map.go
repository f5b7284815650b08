package cmap

import "sync"

// Map is a typed wrapper around sync.Map.
type Map[K comparable, V any] struct {
	cMap sync.Map
}

func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{}
}

func (m *Map[K, V]) Get(k K) (*V, bool) {
	v, exists := m.cMap.Load(k)
	if !exists {
		return nil, false
	}

	val := v.(V)
	return &val, true
}

func (m *Map[K, V]) Set(k K, v V) {
	m.cMap.Store(k, v)
}

// SetIfAbsent stores v unless k is already present. It reports whether v was stored.
func (m *Map[K, V]) SetIfAbsent(k K, v V) bool {
	_, loaded := m.cMap.LoadOrStore(k, v)
	return !loaded
}

// GetOrSet returns the value stored for k, storing v first if k is absent.
func (m *Map[K, V]) GetOrSet(k K, v V) V {
	actual, _ := m.cMap.LoadOrStore(k, v)
	return actual.(V)
}

func (m *Map[K, V]) Has(k K) bool {
	_, exists := m.cMap.Load(k)
	return exists
}

func (m *Map[K, V]) Delete(k K) {
	m.cMap.Delete(k)
}

// Pop deletes k and returns the value it held.
func (m *Map[K, V]) Pop(k K) (*V, bool) {
	v, loaded := m.cMap.LoadAndDelete(k)
	if !loaded {
		return nil, false
	}

	val := v.(V)
	return &val, true
}

func (m *Map[K, V]) Range(f func(k K, v V) bool) {
	m.cMap.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

func (m *Map[K, V]) Len() int {
	n := 0
	m.cMap.Range(func(_, _ any) bool {
		n++
		return true
	})

	return n
}
