// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package sets

import (
	"cmp"
	"slices"
)

// Sorted is a sorted list of unique items.
// It doubles as a priority queue that yields its smallest element first.
// The zero value is an empty set.
type Sorted[T cmp.Ordered] struct {
	elems []T
}

// Add adds the arguments to the set.
func (s *Sorted[T]) Add(elem ...T) {
	for _, x := range elem {
		i, present := slices.BinarySearch(s.elems, x)
		if !present {
			s.elems = slices.Insert(s.elems, i, x)
		}
	}
}

// Len returns the number of elements in the set.
func (s *Sorted[T]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.elems)
}

// PopMin removes and returns the smallest element of the set.
// PopMin panics if the set is empty.
func (s *Sorted[T]) PopMin() T {
	x := s.elems[0]
	s.elems = slices.Delete(s.elems, 0, 1)
	return x
}
