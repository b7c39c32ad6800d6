// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package reloc resolves symbolic labels and old-code offsets to final
// positions after a body of code has been edited.
//
// A Context carries two kinds of bindings: named labels (bound to new
// offsets) and the bidirectional old/new offset map that the relinker
// records while laying out instructions. Offsets are expressed in the code
// unit of the format (bytes for class files, 16-bit units for dex).
package reloc

import (
	"github.com/dotandev/shrinkwrap/internal/errors"
)

// Mode selects how unresolved labels are reported.
type Mode int

const (
	// Strict fails on any unresolved label.
	Strict Mode = iota
	// Lenient reports NoOffset and lets codecs keep the operand they had.
	Lenient
)

func (m Mode) String() string {
	if m == Lenient {
		return "lenient"
	}
	return "strict"
}

// NoOffset is returned by Offset for an unbound label in lenient mode.
const NoOffset = -1

// Context holds label bindings and the old/new offset map of one body.
type Context struct {
	mode     Mode
	labels   map[string]int
	oldToNew map[int]int
	newToOld map[int]int
}

// NewContext returns an empty context.
func NewContext(mode Mode) *Context {
	return &Context{
		mode:     mode,
		labels:   make(map[string]int),
		oldToNew: make(map[int]int),
		newToOld: make(map[int]int),
	}
}

// Mode returns how unresolved labels are reported.
func (c *Context) Mode() Mode { return c.mode }

// Lenient reports whether unresolved labels yield NoOffset.
func (c *Context) Lenient() bool { return c.mode == Lenient }

// SetLabel binds name to a new-code offset, replacing any earlier binding.
func (c *Context) SetLabel(name string, offset int) {
	c.labels[name] = offset
}

// Resolved reports whether name is bound.
func (c *Context) Resolved(name string) bool {
	_, ok := c.labels[name]
	return ok
}

// Offset returns the offset bound to name.
func (c *Context) Offset(name string) (int, error) {
	off, ok := c.labels[name]
	if ok {
		return off, nil
	}
	if c.mode == Lenient {
		return NoOffset, nil
	}
	return 0, errors.WrapUnresolvedLabel(name)
}

// SetOldToNewOffsetMapping records that the instruction formerly at old now
// starts at new. Both directions are kept.
func (c *Context) SetOldToNewOffsetMapping(old, new int) {
	c.oldToNew[old] = new
	c.newToOld[new] = old
}

// NewOffset maps an old offset forward. Unregistered offsets map to
// themselves.
func (c *Context) NewOffset(old int) int {
	if n, ok := c.oldToNew[old]; ok {
		return n
	}
	return old
}

// OldOffset maps a new offset back. Unregistered offsets map to themselves.
func (c *Context) OldOffset(new int) int {
	if o, ok := c.newToOld[new]; ok {
		return o
	}
	return new
}

// Mapped reports whether old has a registered forward mapping.
func (c *Context) Mapped(old int) bool {
	_, ok := c.oldToNew[old]
	return ok
}

// OffsetDiffToTargetLabel returns the delta from current to the offset bound
// to label. An unbound label is an error in both modes; lenient callers
// check Resolved first and fall back to the operand they already hold.
func (c *Context) OffsetDiffToTargetLabel(current int, label string) (int, error) {
	target, ok := c.labels[label]
	if !ok {
		return 0, errors.WrapUnresolvedLabel(label)
	}
	return target - current, nil
}

// OffsetDiffToTargetOffset returns the delta from the new offset current to
// wherever oldTarget now lives. When nothing moved this is the delta the
// instruction was decoded with.
func (c *Context) OffsetDiffToTargetOffset(current, oldTarget int) int {
	return c.NewOffset(oldTarget) - current
}

// Jump resolves a control-flow reference for an instruction now at current.
// A non-empty label wins; otherwise, or when a lenient context cannot find
// the label, oldTarget is mapped through the offset table.
func (c *Context) Jump(current int, label string, oldTarget int) (int, error) {
	if label != "" {
		if c.Resolved(label) || c.mode == Strict {
			return c.OffsetDiffToTargetLabel(current, label)
		}
	}
	return c.OffsetDiffToTargetOffset(current, oldTarget), nil
}

// reset drops the bindings of a previous layout pass.
func (c *Context) reset() {
	clear(c.labels)
	clear(c.oldToNew)
	clear(c.newToOld)
}
