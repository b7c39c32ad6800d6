// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

import (
	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/logger"
	"github.com/dotandev/shrinkwrap/internal/shrink"
)

// Index spaces of a dex file, in header order.
const (
	StringSpace shrink.Space = iota
	TypeSpace
	ProtoSpace
	FieldSpace
	MethodSpace
	numSpaces
)

var spaceNames = [numSpaces]string{"strings", "types", "protos", "fields", "methods"}

// SpaceName returns the section name of space.
func SpaceName(space shrink.Space) string {
	if space < 0 || space >= numSpaces {
		return "unknown"
	}
	return spaceNames[space]
}

func spaceOf(kind IndexKind) shrink.Space {
	switch kind {
	case IndexString:
		return StringSpace
	case IndexType:
		return TypeSpace
	case IndexProto:
		return ProtoSpace
	case IndexField:
		return FieldSpace
	case IndexMethod:
		return MethodSpace
	}
	errors.Invariant("index kind %d has no table", kind)
	return -1
}

// TableResult describes the compaction of one table.
type TableResult struct {
	Name   string
	Before int
	After  int
	Map    *shrink.IndexMap
}

// CompactResult describes one file compaction, one entry per space.
type CompactResult struct {
	Tables [numSpaces]TableResult
}

// Dropped returns how many entries were removed across all tables.
func (r *CompactResult) Dropped() int {
	n := 0
	for _, t := range r.Tables {
		n += t.Before - t.After
	}
	return n
}

func short(fn func(IndexKind, *uint32), kind IndexKind, p *uint16) {
	v := uint32(*p)
	fn(kind, &v)
	*p = uint16(v)
}

func (c *ClassDef) refs(fn func(IndexKind, *uint32)) {
	fn(IndexType, &c.Class)
	if c.Super != NoIndex {
		fn(IndexType, &c.Super)
	}
	for i := range c.Interfaces {
		short(fn, IndexType, &c.Interfaces[i])
	}
	if c.SourceFile != NoIndex {
		fn(IndexString, &c.SourceFile)
	}
	if c.Annotations != nil {
		c.Annotations.refs(fn)
	}
	for i := range c.StaticValues {
		valueRefs(&c.StaticValues[i], fn)
	}
	for _, fd := range c.Data.Fields() {
		fn(IndexField, &fd.Field)
	}
	for _, m := range c.Data.Methods() {
		fn(IndexMethod, &m.Method)
		if m.Code != nil {
			m.Code.refs(fn)
		}
	}
}

// refs covers the indices a code item holds outside its instructions.
func (c *Code) refs(fn func(IndexKind, *uint32)) {
	for i := range c.Handlers {
		for j := range c.Handlers[i].Catches {
			fn(IndexType, &c.Handlers[i].Catches[j].Type)
		}
	}
	if c.Debug != nil {
		c.Debug.refs(fn)
	}
}

// structuralRefs calls fn for every table index held outside instruction
// operands.
func (f *File) structuralRefs(fn func(IndexKind, *uint32)) {
	for _, c := range f.Classes {
		c.refs(fn)
	}
}

// codes returns every method body in declaration order.
func (f *File) codes() []*Code {
	var out []*Code
	for _, c := range f.Classes {
		for _, m := range c.Data.Methods() {
			if m.Code != nil {
				out = append(out, m.Code)
			}
		}
	}
	return out
}

// operandRefs calls fn for the index operands of insn.
func operandRefs(insn *Instruction, fn func(IndexKind, *uint32)) {
	if k := insn.Op.Index(); k != IndexNone {
		fn(k, &insn.Index)
	}
	switch insn.Form.Format() {
	case Format45cc, Format4rcc:
		short(fn, IndexProto, &insn.Proto)
	}
}

// expand follows the references an identifier entry holds.
func (f *File) expand(ref shrink.Ref, visit func(shrink.Space, int)) error {
	switch ref.Space {
	case StringSpace:
		if !f.Strings.Valid(ref.Index) {
			return errors.WrapIndexOutOfRange(ref.Index, f.Strings.First(), f.Strings.End())
		}
	case TypeSpace:
		t, err := f.Types.Get(ref.Index, KindType)
		if err != nil {
			return err
		}
		visit(StringSpace, int(t.Descriptor))
	case ProtoSpace:
		p, err := f.Protos.Get(ref.Index, KindProto)
		if err != nil {
			return err
		}
		visit(StringSpace, int(p.Shorty))
		visit(TypeSpace, int(p.Return))
		for _, t := range p.ParamTypes() {
			visit(TypeSpace, int(t))
		}
	case FieldSpace:
		fd, err := f.Fields.Get(ref.Index, KindField)
		if err != nil {
			return err
		}
		visit(TypeSpace, int(fd.Class))
		visit(TypeSpace, int(fd.Type))
		visit(StringSpace, int(fd.Name))
	case MethodSpace:
		m, err := f.Methods.Get(ref.Index, KindMethod)
		if err != nil {
			return err
		}
		visit(TypeSpace, int(m.Class))
		visit(ProtoSpace, int(m.Proto))
		visit(StringSpace, int(m.Name))
	}
	return nil
}

// Compact removes every string, type, prototype, field and method that
// nothing in the file refers to. Roots are the class definitions with
// everything they own and the operands of every instruction. The rewrite
// is staged on a copy and committed only once every owner and instruction
// has been rewritten.
func Compact(f *File) (*CompactResult, error) {
	res := &CompactResult{}
	counts := [numSpaces]int{f.Strings.Count(), f.Types.Count(), f.Protos.Count(), f.Fields.Count(), f.Methods.Count()}
	for s := range res.Tables {
		res.Tables[s] = TableResult{Name: spaceNames[s], Before: counts[s], After: counts[s], Map: shrink.IdentityMap()}
	}

	codes := f.codes()
	decoded := make([][]Instruction, len(codes))
	for i, c := range codes {
		insns, err := c.Instructions()
		if err != nil {
			return nil, err
		}
		decoded[i] = insns
	}

	marker := shrink.NewMarker(f.expand)
	var err error
	visit := func(kind IndexKind, p *uint32) {
		if err == nil {
			err = marker.Visit(spaceOf(kind), int(*p))
		}
	}
	f.structuralRefs(visit)
	for _, insns := range decoded {
		for i := range insns {
			operandRefs(&insns[i], visit)
		}
	}
	if err != nil {
		return nil, err
	}

	var maps [numSpaces]*shrink.IndexMap
	identity := true
	for s := range maps {
		var m *shrink.IndexMap
		switch shrink.Space(s) {
		case StringSpace:
			m = shrink.Plan(f.Strings, marker.Usage(StringSpace))
		case TypeSpace:
			m = shrink.Plan(f.Types, marker.Usage(TypeSpace))
		case ProtoSpace:
			m = shrink.Plan(f.Protos, marker.Usage(ProtoSpace))
		case FieldSpace:
			m = shrink.Plan(f.Fields, marker.Usage(FieldSpace))
		case MethodSpace:
			m = shrink.Plan(f.Methods, marker.Usage(MethodSpace))
		}
		maps[s] = m
		identity = identity && m.Identity()
	}
	if identity {
		return res, nil
	}

	str := func(v uint32) uint32 { return uint32(maps[StringSpace].Lookup(int(v))) }
	typ := func(v uint16) uint16 { return uint16(maps[TypeSpace].Lookup(int(v))) }
	remap := func(kind IndexKind, p *uint32) { *p = uint32(maps[spaceOf(kind)].Lookup(int(*p))) }

	staged := f.Clone()
	if staged.Strings, err = shrink.Rebuild(f.Strings, maps[StringSpace], nil); err != nil {
		return nil, err
	}
	if staged.Types, err = shrink.Rebuild(f.Types, maps[TypeSpace], func(t TypeID) TypeID {
		t.Descriptor = str(t.Descriptor)
		return t
	}); err != nil {
		return nil, err
	}
	if staged.Protos, err = shrink.Rebuild(f.Protos, maps[ProtoSpace], func(p ProtoID) ProtoID {
		p.Shorty = str(p.Shorty)
		p.Return = uint32(typ(uint16(p.Return)))
		return p.withParams(typ)
	}); err != nil {
		return nil, err
	}
	if staged.Fields, err = shrink.Rebuild(f.Fields, maps[FieldSpace], func(fd FieldID) FieldID {
		fd.Class, fd.Type, fd.Name = typ(fd.Class), typ(fd.Type), str(fd.Name)
		return fd
	}); err != nil {
		return nil, err
	}
	if staged.Methods, err = shrink.Rebuild(f.Methods, maps[MethodSpace], func(m MethodID) MethodID {
		m.Class, m.Name = typ(m.Class), str(m.Name)
		m.Proto = uint16(maps[ProtoSpace].Lookup(int(m.Proto)))
		return m
	}); err != nil {
		return nil, err
	}

	staged.structuralRefs(remap)
	for i, c := range staged.codes() {
		c.Insns = reencode(c.Insns, decoded[i], remap)
	}

	*f = *staged
	after := [numSpaces]int{f.Strings.Count(), f.Types.Count(), f.Protos.Count(), f.Fields.Count(), f.Methods.Count()}
	for s := range res.Tables {
		res.Tables[s].After = after[s]
		res.Tables[s].Map = maps[s]
	}
	logger.Logger.Debug("Dex tables compacted", "dropped", res.Dropped(), "strings", after[StringSpace], "methods", after[MethodSpace])
	return res, nil
}

// reencode rewrites the index operands of insns in place of their original
// code units. Each instruction keeps its concrete form, so the code length
// and every branch offset stay the same.
func reencode(code []uint16, insns []Instruction, remap func(IndexKind, *uint32)) []uint16 {
	out := make([]uint16, 0, len(code))
	for _, insn := range insns {
		if insn.Op.Index() == IndexNone {
			out = append(out, code[insn.Offset:insn.Offset+insn.Length]...)
			continue
		}
		operandRefs(&insn, remap)
		out = EncodeAs(out, insn, insn.Form, insn.Offset)
		if len(out) != insn.Offset+insn.Length {
			errors.Invariant("%s at %d changed length while rewriting its index", insn.Op, insn.Offset)
		}
	}
	return out
}
