// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package shrink

// Space names one index space of a container, such as the constant pool or
// the dex string table. Formats define their own values.
type Space int

// Ref addresses one entry.
type Ref struct {
	Space Space
	Index int
}

// ExpandFunc reports the entries that a newly marked entry refers to by
// calling visit for each of them.
type ExpandFunc func(ref Ref, visit func(Space, int)) error

// Marker computes reachable entries across address spaces. Marking is a
// plain set union, so the result does not depend on the order of roots.
type Marker struct {
	usage  map[Space]*Usage
	expand ExpandFunc
	queue  []Ref
}

// NewMarker returns a marker that follows references through expand. A nil
// expand marks roots only.
func NewMarker(expand ExpandFunc) *Marker {
	return &Marker{
		usage:  make(map[Space]*Usage),
		expand: expand,
	}
}

// Usage returns the usage set of space, creating it on first use.
func (m *Marker) Usage(space Space) *Usage {
	u, ok := m.usage[space]
	if !ok {
		u = NewUsage()
		m.usage[space] = u
	}
	return u
}

// MarkUsed marks an entry without following its references.
func (m *Marker) MarkUsed(space Space, index int) bool {
	return m.Usage(space).MarkUsed(index)
}

// IsUsed reports whether an entry has been marked.
func (m *Marker) IsUsed(space Space, index int) bool {
	return m.Usage(space).IsUsed(index)
}

// Visit marks an entry and everything reachable from it.
func (m *Marker) Visit(space Space, index int) error {
	m.enqueue(space, index)
	for len(m.queue) > 0 {
		ref := m.queue[len(m.queue)-1]
		m.queue = m.queue[:len(m.queue)-1]
		if m.expand == nil {
			continue
		}
		if err := m.expand(ref, m.enqueue); err != nil {
			m.queue = m.queue[:0]
			return err
		}
	}
	return nil
}

func (m *Marker) enqueue(space Space, index int) {
	if m.MarkUsed(space, index) {
		m.queue = append(m.queue, Ref{Space: space, Index: index})
	}
}
