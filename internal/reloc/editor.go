// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package reloc

import (
	"github.com/dotandev/shrinkwrap/internal/errors"
)

type slotEdit[I any] struct {
	origin  int
	insn    I
	before  []I
	after   []I
	replace []I
	// replaced is set by Replace and Remove; an empty replace list means
	// the instruction is gone.
	replaced bool
}

// Editor records insertions, replacements and removals against a decoded
// body and produces the item list for Relink. Edits address instructions by
// their position in the original slice, so earlier edits never shift the
// positions later edits refer to.
//
// Old-offset forwarding: code inserted before an instruction takes over its
// old offset, so jumps to it run the inserted code first. A replaced
// instruction's offset lands on the first replacement. A removed
// instruction's offset is forwarded to the next surviving item, or to the
// end of the code.
type Editor[I any] struct {
	slots    []*slotEdit[I]
	appended []I
}

// NewEditor starts an edit session. offset returns an instruction's old
// offset.
func NewEditor[I any](insns []I, offset func(I) int) *Editor[I] {
	e := &Editor[I]{slots: make([]*slotEdit[I], len(insns))}
	for i, insn := range insns {
		e.slots[i] = &slotEdit[I]{origin: offset(insn), insn: insn}
	}
	return e
}

func (e *Editor[I]) slot(i int) *slotEdit[I] {
	if i < 0 || i >= len(e.slots) {
		errors.Invariant("editor position %d outside [0, %d)", i, len(e.slots))
	}
	return e.slots[i]
}

// Len returns the number of original instructions.
func (e *Editor[I]) Len() int { return len(e.slots) }

// InsertBefore places insns ahead of instruction i, after anything already
// inserted there.
func (e *Editor[I]) InsertBefore(i int, insns ...I) {
	s := e.slot(i)
	s.before = append(s.before, insns...)
}

// InsertAfter places insns behind instruction i, after anything already
// inserted there.
func (e *Editor[I]) InsertAfter(i int, insns ...I) {
	s := e.slot(i)
	s.after = append(s.after, insns...)
}

// Replace substitutes insns for instruction i.
func (e *Editor[I]) Replace(i int, insns ...I) {
	s := e.slot(i)
	s.replace = append([]I(nil), insns...)
	s.replaced = true
}

// Remove deletes instruction i.
func (e *Editor[I]) Remove(i int) {
	e.Replace(i)
}

// Append adds insns after the last instruction.
func (e *Editor[I]) Append(insns ...I) {
	e.appended = append(e.appended, insns...)
}

// Items flattens the edits. The second result holds the old offsets that
// fell off the end and should map to the new code length.
func (e *Editor[I]) Items() ([]Item[I], []int) {
	var items []Item[I]
	var pending []int
	push := func(insn I, origins []int) {
		if len(pending) > 0 {
			origins = append(pending, origins...)
			pending = nil
		}
		items = append(items, Item[I]{Insn: insn, Origins: origins})
	}

	for _, s := range e.slots {
		body := []I{s.insn}
		if s.replaced {
			body = s.replace
		}
		carried := []int{s.origin}
		for _, insn := range s.before {
			push(insn, carried)
			carried = nil
		}
		for _, insn := range body {
			push(insn, carried)
			carried = nil
		}
		pending = append(pending, carried...)
		for _, insn := range s.after {
			push(insn, nil)
		}
	}
	for _, insn := range e.appended {
		push(insn, nil)
	}
	return items, pending
}
