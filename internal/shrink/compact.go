// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package shrink

import (
	"iter"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/table"
)

// IndexMap maps surviving old indices to their new, dense positions.
type IndexMap struct {
	mapping  map[int]int
	order    []int
	identity bool
	dropped  int
}

// IdentityMap returns a map that sends every index to itself.
func IdentityMap() *IndexMap {
	return &IndexMap{identity: true}
}

// Lookup returns the new index of old. A missing mapping means the marker
// missed a reference, which is an internal consistency failure.
func (m *IndexMap) Lookup(old int) int {
	if m.identity {
		return old
	}
	n, ok := m.mapping[old]
	if !ok {
		errors.Invariant("no mapping for index %d: referenced entry was not marked", old)
	}
	return n
}

// Has reports whether old survives.
func (m *IndexMap) Has(old int) bool {
	if m.identity {
		return true
	}
	_, ok := m.mapping[old]
	return ok
}

// Identity reports whether the map changes nothing.
func (m *IndexMap) Identity() bool { return m.identity }

// Dropped returns how many entries did not survive.
func (m *IndexMap) Dropped() int { return m.dropped }

// Len returns the number of surviving entries of a non-identity map.
func (m *IndexMap) Len() int { return len(m.order) }

// All iterates old->new pairs in old-index order.
func (m *IndexMap) All() iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		for _, old := range m.order {
			if !yield(old, m.mapping[old]) {
				return
			}
		}
	}
}

// Plan assigns new indices to the used entries of t, keeping their order.
// Wide entries keep their second slot. When every entry is used the
// identity map is returned.
func Plan[E table.Entry](t *table.Table[E], usage *Usage) *IndexMap {
	m := &IndexMap{mapping: make(map[int]int)}
	next := t.First()
	for idx, e := range t.All() {
		if !usage.IsUsed(idx) {
			m.dropped++
			continue
		}
		m.mapping[idx] = next
		m.order = append(m.order, idx)
		next += table.Width(e)
	}
	if m.dropped == 0 {
		return IdentityMap()
	}
	return m
}

// Rebuild builds a new table from the surviving entries. rewrite, which may
// be nil, updates references an entry holds into this or other tables.
// Equal survivors stay separate entries so that the planned indices hold.
func Rebuild[E table.Entry](t *table.Table[E], m *IndexMap, rewrite func(E) E) (*table.Table[E], error) {
	if m.Identity() && rewrite == nil {
		return t, nil
	}
	nt := table.New[E](t.First()).WithLimit(t.Limit())
	for idx, e := range t.All() {
		if !m.Has(idx) {
			continue
		}
		if rewrite != nil {
			e = rewrite(e)
		}
		n, err := nt.Append(e)
		if err != nil {
			return nil, err
		}
		if want := m.Lookup(idx); n != want {
			errors.Invariant("entry %d rebuilt at %d, planned %d", idx, n, want)
		}
	}
	return nt, nil
}

// Compact drops the unused entries of t. Nothing dropped is a no-op that
// returns t itself with the identity map.
func Compact[E table.Entry](t *table.Table[E], usage *Usage, rewrite func(*IndexMap, E) E) (*table.Table[E], *IndexMap, error) {
	m := Plan(t, usage)
	if m.Identity() {
		return t, m, nil
	}
	var fn func(E) E
	if rewrite != nil {
		fn = func(e E) E { return rewrite(m, e) }
	}
	nt, err := Rebuild(t, m, fn)
	if err != nil {
		return nil, nil, err
	}
	return nt, m, nil
}
