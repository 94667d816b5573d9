package types

import (
	"iter"
	"maps"
	"slices"
)

// Set is a generic hash set. It is not safe for concurrent use.
type Set[T comparable] map[T]struct{}

// NewSet creates a Set holding the given elements.
func NewSet[T comparable](data ...T) Set[T] {
	set := make(Set[T], len(data))
	set.Add(data...)
	return set
}

// Add inserts one or more elements into the set.
func (s Set[T]) Add(values ...T) {
	for _, val := range values {
		s[val] = struct{}{}
	}
}

// Has reports whether val is a member of the set.
func (s Set[T]) Has(val T) bool {
	_, ok := s[val]
	return ok
}

// Difference returns the elements of s that are not in other.
func (s Set[T]) Difference(other Set[T]) Set[T] {
	diff := NewSet[T]()
	for val := range s {
		if !other.Has(val) {
			diff.Add(val)
		}
	}
	return diff
}

// ToIter returns an iterator over all elements in the set, in no particular order.
func (s Set[T]) ToIter() iter.Seq[T] {
	return maps.Keys(s)
}

// ToSlice returns all elements in the set. The order is not guaranteed.
func (s Set[T]) ToSlice() []T {
	return slices.Collect(s.ToIter())
}
