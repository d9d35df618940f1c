package utils

import "fmt"

// BiMap is an immutable two-way lookup table. It backs the string forms of
// the enumerations exchanged with the query service, so both directions must
// stay unique.
type BiMap[K comparable, V comparable] struct {
	forward map[K]V
	reverse map[V]K
}

// NewBiMap copies input into a new BiMap. If two keys share a value, the
// reverse direction keeps whichever key is visited last.
func NewBiMap[K comparable, V comparable](input map[K]V) *BiMap[K, V] {
	forward := make(map[K]V, len(input))
	reverse := make(map[V]K, len(input))
	for k, v := range input {
		forward[k] = v
		reverse[v] = k
	}
	return &BiMap[K, V]{forward: forward, reverse: reverse}
}

// Lookup returns the value stored for key.
func (m *BiMap[K, V]) Lookup(key K) (V, bool) {
	value, ok := m.forward[key]
	return value, ok
}

// DirectLookup returns the value for key, or the zero value of V.
func (m *BiMap[K, V]) DirectLookup(key K) V {
	return m.forward[key]
}

// RLookup returns the key stored for value.
func (m *BiMap[K, V]) RLookup(value V) (K, bool) {
	key, ok := m.reverse[value]
	return key, ok
}

// Len reports the number of pairs.
func (m *BiMap[K, V]) Len() int {
	return len(m.forward)
}

// Format renders key through the map, failing with a message naming kind
// when the key has no registered value.
func (m *BiMap[K, V]) Format(kind string, key K) (V, error) {
	if value, ok := m.forward[key]; ok {
		return value, nil
	}
	var zero V
	return zero, fmt.Errorf("unknown %s %v", kind, key)
}

// Parse is the inverse of Format.
func (m *BiMap[K, V]) Parse(kind string, value V) (K, error) {
	if key, ok := m.reverse[value]; ok {
		return key, nil
	}
	var zero K
	return zero, fmt.Errorf("unknown %s %q", kind, fmt.Sprint(value))
}
