// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

import (
	"github.com/dotandev/shrinkwrap/internal/errors"
)

// Debug state machine opcodes. Values from DbgFirstSpecial up advance the
// address and the line together.
const (
	DbgEndSequence        uint8 = 0x00
	DbgAdvancePC          uint8 = 0x01
	DbgAdvanceLine        uint8 = 0x02
	DbgStartLocal         uint8 = 0x03
	DbgStartLocalExtended uint8 = 0x04
	DbgEndLocal           uint8 = 0x05
	DbgRestartLocal       uint8 = 0x06
	DbgSetPrologueEnd     uint8 = 0x07
	DbgSetEpilogueBegin   uint8 = 0x08
	DbgSetFile            uint8 = 0x09
	DbgFirstSpecial       uint8 = 0x0a
)

const (
	dbgLineBase  = -4
	dbgLineRange = 15
)

// DebugInfo is a debug_info_item. Ops excludes the final end sequence.
type DebugInfo struct {
	LineStart uint32
	// Params holds the string index of each parameter name, or NoIndex.
	Params []uint32
	Ops    []DebugOp
}

// DebugOp is one state machine instruction. Only the fields its opcode
// uses are set; absent string and type indices are NoIndex.
type DebugOp struct {
	Op       uint8
	AddrDiff uint32
	LineDiff int32
	Register uint32
	Name     uint32
	Type     uint32
	Sig      uint32
}

func newDebugOp(op uint8) DebugOp {
	return DebugOp{Op: op, Name: NoIndex, Type: NoIndex, Sig: NoIndex}
}

// special decodes a special opcode into its address and line advance.
func special(op uint8) (addr uint32, line int32) {
	adj := int(op - DbgFirstSpecial)
	return uint32(adj / dbgLineRange), int32(dbgLineBase + adj%dbgLineRange)
}

// makeSpecial encodes an address and line advance as a special opcode.
func makeSpecial(addr uint32, line int32) (uint8, bool) {
	if line < dbgLineBase || line >= dbgLineBase+dbgLineRange {
		return 0, false
	}
	adj := int64(line-dbgLineBase) + int64(addr)*dbgLineRange
	if adj > int64(0xff-DbgFirstSpecial) {
		return 0, false
	}
	return DbgFirstSpecial + uint8(adj), true
}

func readDebugInfo(r *reader) (*DebugInfo, error) {
	d := &DebugInfo{}
	var err error
	if d.LineStart, err = r.uleb(); err != nil {
		return nil, err
	}
	n, err := r.uleb()
	if err != nil {
		return nil, err
	}
	if int(n) > len(r.data)-r.pos {
		return nil, errors.WrapMalformedContainer("debug info with %d parameters overruns the file", n)
	}
	d.Params = make([]uint32, n)
	for i := range d.Params {
		if d.Params[i], err = r.ulebp1(); err != nil {
			return nil, err
		}
	}
	for {
		op, err := r.u8()
		if err != nil {
			return nil, err
		}
		if op == DbgEndSequence {
			return d, nil
		}
		o := newDebugOp(op)
		switch op {
		case DbgAdvancePC:
			o.AddrDiff, err = r.uleb()
		case DbgAdvanceLine:
			o.LineDiff, err = r.sleb()
		case DbgStartLocal, DbgStartLocalExtended:
			if o.Register, err = r.uleb(); err != nil {
				break
			}
			if o.Name, err = r.ulebp1(); err != nil {
				break
			}
			if o.Type, err = r.ulebp1(); err != nil {
				break
			}
			if op == DbgStartLocalExtended {
				o.Sig, err = r.ulebp1()
			}
		case DbgEndLocal, DbgRestartLocal:
			o.Register, err = r.uleb()
		case DbgSetFile:
			o.Name, err = r.ulebp1()
		}
		if err != nil {
			return nil, err
		}
		d.Ops = append(d.Ops, o)
	}
}

func writeDebugInfo(w *writer, d *DebugInfo) {
	w.uleb(d.LineStart)
	w.uleb(uint32(len(d.Params)))
	for _, p := range d.Params {
		w.ulebp1(p)
	}
	for _, o := range d.Ops {
		w.u8(o.Op)
		switch o.Op {
		case DbgAdvancePC:
			w.uleb(o.AddrDiff)
		case DbgAdvanceLine:
			w.sleb(o.LineDiff)
		case DbgStartLocal, DbgStartLocalExtended:
			w.uleb(o.Register)
			w.ulebp1(o.Name)
			w.ulebp1(o.Type)
			if o.Op == DbgStartLocalExtended {
				w.ulebp1(o.Sig)
			}
		case DbgEndLocal, DbgRestartLocal:
			w.uleb(o.Register)
		case DbgSetFile:
			w.ulebp1(o.Name)
		}
	}
	w.u8(DbgEndSequence)
}

// refs calls fn for every string and type index held by the debug info.
// NoIndex entries are skipped.
func (d *DebugInfo) refs(fn func(IndexKind, *uint32)) {
	opt := func(kind IndexKind, p *uint32) {
		if *p != NoIndex {
			fn(kind, p)
		}
	}
	for i := range d.Params {
		opt(IndexString, &d.Params[i])
	}
	for i := range d.Ops {
		o := &d.Ops[i]
		switch o.Op {
		case DbgStartLocal, DbgStartLocalExtended:
			opt(IndexString, &o.Name)
			opt(IndexType, &o.Type)
			if o.Op == DbgStartLocalExtended {
				opt(IndexString, &o.Sig)
			}
		case DbgSetFile:
			opt(IndexString, &o.Name)
		}
	}
}

func (d *DebugInfo) clone() *DebugInfo {
	if d == nil {
		return nil
	}
	return &DebugInfo{
		LineStart: d.LineStart,
		Params:    append([]uint32(nil), d.Params...),
		Ops:       append([]DebugOp(nil), d.Ops...),
	}
}

// positions returns the address each op takes effect at, after its own
// address advance.
func (d *DebugInfo) positions() []int {
	out := make([]int, len(d.Ops))
	addr := 0
	for i, o := range d.Ops {
		switch {
		case o.Op == DbgAdvancePC:
			addr += int(o.AddrDiff)
		case o.Op >= DbgFirstSpecial:
			a, _ := special(o.Op)
			addr += int(a)
		}
		out[i] = addr
	}
	return out
}

// Lines returns the address and line of every position entry.
func (d *DebugInfo) Lines() [][2]int {
	var out [][2]int
	line := int(d.LineStart)
	pos := d.positions()
	for i, o := range d.Ops {
		switch {
		case o.Op == DbgAdvanceLine:
			line += int(o.LineDiff)
		case o.Op >= DbgFirstSpecial:
			_, l := special(o.Op)
			line += int(l)
			out = append(out, [2]int{pos[i], line})
		}
	}
	return out
}

// relocate moves every address through newOffset and re-encodes the
// address advances. Events keep their order, so an address that would
// move before its predecessor or past end is clamped.
func (d *DebugInfo) relocate(newOffset func(int) int, end int) {
	pos := d.positions()
	var ops []DebugOp
	cur := 0
	advance := func(to int) uint32 {
		if to > end {
			to = end
		}
		if to < cur {
			to = cur
		}
		diff := uint32(to - cur)
		cur = to
		return diff
	}
	for i, o := range d.Ops {
		switch {
		case o.Op == DbgAdvancePC:
			// Folded into the next event that needs an address.
		case o.Op >= DbgFirstSpecial:
			_, line := special(o.Op)
			diff := advance(newOffset(pos[i]))
			if op, ok := makeSpecial(diff, line); ok {
				ops = append(ops, newDebugOp(op))
				continue
			}
			pc := newDebugOp(DbgAdvancePC)
			pc.AddrDiff = diff
			op, _ := makeSpecial(0, line)
			ops = append(ops, pc, newDebugOp(op))
		case o.Op == DbgAdvanceLine, o.Op == DbgSetFile:
			ops = append(ops, o)
		default:
			if diff := advance(newOffset(pos[i])); diff > 0 {
				pc := newDebugOp(DbgAdvancePC)
				pc.AddrDiff = diff
				ops = append(ops, pc)
			}
			ops = append(ops, o)
		}
	}
	d.Ops = ops
}
