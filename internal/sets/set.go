// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

// Package sets provides the set types used by the build graph and sandbox.
package sets

import (
	"iter"
	"maps"
	"slices"
)

// Set is an unordered set with O(1) lookup.
// The zero value is an empty set, but adding to it will panic.
type Set[T comparable] map[T]struct{}

// New returns a new set that contains the arguments passed to it.
func New[T comparable](elem ...T) Set[T] {
	s := make(Set[T], len(elem))
	s.Add(elem...)
	return s
}

// Add adds the arguments to the set.
func (s Set[T]) Add(elem ...T) {
	for _, x := range elem {
		s[x] = struct{}{}
	}
}

// Has reports whether the set contains x.
func (s Set[T]) Has(x T) bool {
	_, present := s[x]
	return present
}

// Len returns the number of elements in the set.
func (s Set[T]) Len() int {
	return len(s)
}

// All returns an iterator of the elements of s in unspecified order.
func (s Set[T]) All() iter.Seq[T] {
	return maps.Keys(s)
}

// Difference returns the elements of s that are not in other.
func (s Set[T]) Difference(other Set[T]) Set[T] {
	d := make(Set[T])
	for x := range s {
		if !other.Has(x) {
			d[x] = struct{}{}
		}
	}
	return d
}

// SortedFunc returns the elements of s in the order defined by cmp.
func SortedFunc[T comparable](s Set[T], cmp func(a, b T) int) []T {
	return slices.SortedFunc(s.All(), cmp)
}
