// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package table implements the content-addressed, index-stable store that
// both container formats use for their constant and identifier tables.
//
// Indices are dense from First() to End()-1. A table created with first = 1
// reserves index 0, which is never valid. Entries are deduplicated by
// structural equality and are never removed: shrinking builds a new table.
package table

import (
	"iter"

	"github.com/dotandev/shrinkwrap/internal/errors"
)

// Kind identifies the variant of an entry.
type Kind uint8

// Entry is a table item. Equality of the value drives deduplication.
type Entry interface {
	comparable
	Kind() Kind
}

// wide is implemented by entries that occupy two consecutive slots. The
// second slot is a filler that can never be dereferenced.
type wide interface {
	Wide() bool
}

type slot[E Entry] struct {
	entry  E
	filler bool
}

// Table is an insertion-ordered, deduplicating sequence of entries.
type Table[E Entry] struct {
	first  int
	limit  int
	slots  []slot[E]
	lookup map[E]int
	count  int
}

// New returns an empty table whose first valid index is first.
func New[E Entry](first int) *Table[E] {
	return &Table[E]{
		first:  first,
		lookup: make(map[E]int),
	}
}

// WithLimit bounds the number of slots the table may hold. Zero means no
// bound.
func (t *Table[E]) WithLimit(slots int) *Table[E] {
	t.limit = slots
	return t
}

// Limit returns the slot bound, or 0.
func (t *Table[E]) Limit() int { return t.limit }

// Width reports how many slots e occupies.
func Width[E Entry](e E) int {
	if w, ok := any(e).(wide); ok && w.Wide() {
		return 2
	}
	return 1
}

// AddOrGet returns the index of an entry equal to e, appending e first when
// no such entry exists.
func (t *Table[E]) AddOrGet(e E) (int, error) {
	if idx, ok := t.lookup[e]; ok {
		return idx, nil
	}
	width := Width(e)
	if t.limit > 0 && len(t.slots)+width > t.limit {
		return 0, errors.WrapTableFull(t.limit)
	}
	idx := t.End()
	t.slots = append(t.slots, slot[E]{entry: e})
	if width == 2 {
		t.slots = append(t.slots, slot[E]{filler: true})
	}
	t.lookup[e] = idx
	t.count++
	return idx, nil
}

// Append adds e at the end even when an equal entry exists. Decoders use
// it so that a container with duplicate entries keeps its indices; lookups
// keep resolving to the first occurrence.
func (t *Table[E]) Append(e E) (int, error) {
	width := Width(e)
	if t.limit > 0 && len(t.slots)+width > t.limit {
		return 0, errors.WrapTableFull(t.limit)
	}
	idx := t.End()
	t.slots = append(t.slots, slot[E]{entry: e})
	if width == 2 {
		t.slots = append(t.slots, slot[E]{filler: true})
	}
	if _, ok := t.lookup[e]; !ok {
		t.lookup[e] = idx
	}
	t.count++
	return idx, nil
}

// Lookup returns the index of an entry equal to e without inserting it.
func (t *Table[E]) Lookup(e E) (int, bool) {
	idx, ok := t.lookup[e]
	return idx, ok
}

// Valid reports whether index refers to an entry.
func (t *Table[E]) Valid(index int) bool {
	pos := index - t.first
	return pos >= 0 && pos < len(t.slots) && !t.slots[pos].filler
}

// At returns the entry at index regardless of its kind.
func (t *Table[E]) At(index int) (E, error) {
	var zero E
	if index == 0 && t.first > 0 {
		return zero, errors.WrapReservedIndex(index)
	}
	if !t.Valid(index) {
		return zero, errors.WrapIndexOutOfRange(index, t.first, t.End())
	}
	return t.slots[index-t.first].entry, nil
}

// Get returns the entry at index, which must be of the expected kind.
func (t *Table[E]) Get(index int, kind Kind) (E, error) {
	e, err := t.At(index)
	if err != nil {
		return e, err
	}
	if e.Kind() != kind {
		var zero E
		return zero, errors.WrapTypeMismatch(index, kind, e.Kind())
	}
	return e, nil
}

// First returns the first valid index.
func (t *Table[E]) First() int { return t.first }

// End returns one past the last slot index.
func (t *Table[E]) End() int { return t.first + len(t.slots) }

// Len returns the number of slots, fillers included.
func (t *Table[E]) Len() int { return len(t.slots) }

// Count returns the number of entries.
func (t *Table[E]) Count() int { return t.count }

// All iterates entries in index order, skipping filler slots.
func (t *Table[E]) All() iter.Seq2[int, E] {
	return func(yield func(int, E) bool) {
		for pos, s := range t.slots {
			if s.filler {
				continue
			}
			if !yield(t.first+pos, s.entry) {
				return
			}
		}
	}
}

// Clone returns an independent copy of the table.
func (t *Table[E]) Clone() *Table[E] {
	c := &Table[E]{
		first:  t.first,
		limit:  t.limit,
		slots:  make([]slot[E], len(t.slots)),
		lookup: make(map[E]int, len(t.lookup)),
		count:  t.count,
	}
	copy(c.slots, t.slots)
	for k, v := range t.lookup {
		c.lookup[k] = v
	}
	return c
}

// Equal reports whether both tables hold the same entries at the same
// indices.
func (t *Table[E]) Equal(o *Table[E]) bool {
	if t.first != o.first || len(t.slots) != len(o.slots) {
		return false
	}
	for i := range t.slots {
		if t.slots[i] != o.slots[i] {
			return false
		}
	}
	return true
}
