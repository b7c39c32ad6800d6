// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/logger"
	"github.com/dotandev/shrinkwrap/internal/shrink"
)

// PoolSpace is the only index space of a class file.
const PoolSpace shrink.Space = 0

// CompactResult describes one pool compaction.
type CompactResult struct {
	Before int
	After  int
	// PinnedBy names the attribute that prevented compaction, if any.
	PinnedBy string
	Map      *shrink.IndexMap
}

// Dropped returns how many constants were removed.
func (r *CompactResult) Dropped() int { return r.Before - r.After }

// structuralRefs calls fn for every pool index held outside instruction
// operands.
func (cf *ClassFile) structuralRefs(fn func(*uint16)) {
	fn(&cf.This)
	optional(fn, &cf.Super)
	for i := range cf.Interfaces {
		fn(&cf.Interfaces[i])
	}
	for _, members := range [][]*Member{cf.Fields, cf.Methods} {
		for _, m := range members {
			fn(&m.Name)
			fn(&m.Desc)
			attributeRefs(m.Attributes, fn)
		}
	}
	attributeRefs(cf.Attributes, fn)
}

// codes returns every method body in declaration order.
func (cf *ClassFile) codes() []*Code {
	var out []*Code
	for _, m := range cf.Methods {
		if c := m.Code(); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// pinnedBy returns the name of the first opaque attribute that may hold
// pool indices, or "".
func (cf *ClassFile) pinnedBy() string {
	var pinned string
	var walk func([]Attribute)
	walk = func(attrs []Attribute) {
		for _, a := range attrs {
			if pinned != "" {
				return
			}
			switch a := a.(type) {
			case *Opaque:
				if a.Pins(cf.Pool) {
					pinned, _ = cf.Pool.Utf8(a.NameIndex)
					if pinned == "" {
						pinned = "?"
					}
				}
			case *Code:
				walk(a.Attributes)
			}
		}
	}
	walk(cf.Attributes)
	for _, members := range [][]*Member{cf.Fields, cf.Methods} {
		for _, m := range members {
			walk(m.Attributes)
		}
	}
	return pinned
}

// Compact removes every constant that nothing in the class refers to.
// Roots are the structural owners and the operands of every instruction;
// constants are followed transitively. The rewrite is staged on a copy
// and committed only once every owner and instruction has been rewritten.
func Compact(cf *ClassFile) (*CompactResult, error) {
	res := &CompactResult{Before: cf.Pool.Count(), After: cf.Pool.Count(), Map: shrink.IdentityMap()}
	if name := cf.pinnedBy(); name != "" {
		logger.Logger.Debug("Constant pool pinned by opaque attribute", "attribute", name)
		res.PinnedBy = name
		return res, nil
	}

	codes := cf.codes()
	decoded := make([][]Instruction, len(codes))
	for i, c := range codes {
		insns, err := c.Instructions()
		if err != nil {
			return nil, err
		}
		decoded[i] = insns
	}

	marker := shrink.NewMarker(func(ref shrink.Ref, visit func(shrink.Space, int)) error {
		c, err := cf.Pool.At(ref.Index)
		if err != nil {
			return err
		}
		c.Refs(func(p *uint16) { visit(PoolSpace, int(*p)) })
		return nil
	})
	var err error
	visit := func(p *uint16) {
		if err == nil {
			err = marker.Visit(PoolSpace, int(*p))
		}
	}
	cf.structuralRefs(visit)
	for _, insns := range decoded {
		for _, insn := range insns {
			if insn.Op.UsesPool() {
				idx := insn.Index
				visit(&idx)
			}
		}
	}
	if err != nil {
		return nil, err
	}

	pool, m, err := shrink.Compact(cf.Pool.Table, marker.Usage(PoolSpace), func(m *shrink.IndexMap, c Constant) Constant {
		c.Refs(func(p *uint16) { *p = uint16(m.Lookup(int(*p))) })
		return c
	})
	if err != nil {
		return nil, err
	}
	if m.Identity() {
		return res, nil
	}

	staged := cf.Clone()
	staged.Pool = &Pool{Table: pool}
	remap := func(p *uint16) { *p = uint16(m.Lookup(int(*p))) }
	staged.structuralRefs(remap)
	for i, c := range staged.codes() {
		c.Bytecode = reencode(c.Bytecode, decoded[i], m)
	}

	*cf = *staged
	res.After = pool.Count()
	res.Map = m
	logger.Logger.Debug("Constant pool compacted", "before", res.Before, "after", res.After)
	return res, nil
}

// reencode rewrites the pool operands of insns in place of their original
// bytes. Each instruction keeps its concrete form, so the code length and
// every branch offset stay the same.
func reencode(code []byte, insns []Instruction, m *shrink.IndexMap) []byte {
	out := make([]byte, 0, len(code))
	for _, insn := range insns {
		if !insn.Op.UsesPool() {
			out = append(out, code[insn.Offset:insn.Offset+insn.Length]...)
			continue
		}
		insn.Index = uint16(m.Lookup(int(insn.Index)))
		out = EncodeAs(out, insn, insn.Form, insn.Offset)
		if len(out) != insn.Offset+insn.Length {
			errors.Invariant("%s at %d changed length while rewriting its pool index", insn.Op, insn.Offset)
		}
	}
	return out
}
