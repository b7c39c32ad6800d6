// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package shrink removes unreachable table entries and class members.
//
// It is format independent: a Marker computes the set of live indices in
// each address space from caller-supplied roots, Plan and Rebuild turn a
// usage set into a dense old->new index map and a new table, and the
// hierarchy-aware MethodMarker decides which methods survive virtual
// dispatch. The container packages drive these pieces and rewrite their own
// structures.
package shrink

import (
	"slices"
)

// Usage is a monotone set of indices. Indices are never unmarked.
type Usage struct {
	used map[int]struct{}
}

func NewUsage() *Usage {
	return &Usage{used: make(map[int]struct{})}
}

// MarkUsed adds i and reports whether it was not already present.
func (u *Usage) MarkUsed(i int) bool {
	if _, ok := u.used[i]; ok {
		return false
	}
	u.used[i] = struct{}{}
	return true
}

func (u *Usage) IsUsed(i int) bool {
	_, ok := u.used[i]
	return ok
}

func (u *Usage) Len() int { return len(u.used) }

// Indices returns the marked indices in ascending order.
func (u *Usage) Indices() []int {
	out := make([]int, 0, len(u.used))
	for i := range u.used {
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}
