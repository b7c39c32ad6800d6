// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

import (
	"github.com/dotandev/shrinkwrap/internal/errors"
)

// Access flags used by the shrinker.
const (
	AccPublic      uint32 = 0x0001
	AccPrivate     uint32 = 0x0002
	AccStatic      uint32 = 0x0008
	AccInterface   uint32 = 0x0200
	AccAbstract    uint32 = 0x0400
	AccConstructor uint32 = 0x10000
)

// ClassDef is a class_def_item together with the data it points to.
type ClassDef struct {
	Class      uint32
	Access     uint32
	Super      uint32
	Interfaces []uint16
	SourceFile uint32
	// Annotations is nil when the class has no annotations directory.
	Annotations *AnnotationsDirectory
	// Data is nil for classes without fields or methods.
	Data *ClassData
	// StaticValues initialise the leading static fields.
	StaticValues []EncodedValue
}

// ClassData is a class_data_item with absolute member indices. Each list is
// sorted by index.
type ClassData struct {
	StaticFields   []EncodedField
	InstanceFields []EncodedField
	DirectMethods  []EncodedMethod
	VirtualMethods []EncodedMethod
}

// EncodedField is a field declared by a class.
type EncodedField struct {
	Field  uint32
	Access uint32
}

// EncodedMethod is a method declared by a class. Code is nil for abstract
// and native methods.
type EncodedMethod struct {
	Method uint32
	Access uint32
	Code   *Code
}

// Code is a code_item.
type Code struct {
	Registers uint16
	Ins       uint16
	Outs      uint16
	Insns     []uint16
	Tries     []Try
	Handlers  []CatchHandler
	Debug     *DebugInfo
}

// Try covers Count code units from Start with the handler at index Handler
// of Code.Handlers.
type Try struct {
	Start   uint32
	Count   uint16
	Handler int
}

// CatchHandler is an encoded_catch_handler.
type CatchHandler struct {
	Catches     []Catch
	HasCatchAll bool
	CatchAll    uint32
}

// Catch sends exceptions of Type to Addr.
type Catch struct {
	Type uint32
	Addr uint32
}

func (c *Code) clone() *Code {
	if c == nil {
		return nil
	}
	n := *c
	n.Insns = append([]uint16(nil), c.Insns...)
	n.Tries = append([]Try(nil), c.Tries...)
	n.Handlers = cloneHandlers(c.Handlers)
	n.Debug = c.Debug.clone()
	return &n
}

func cloneHandlers(hs []CatchHandler) []CatchHandler {
	if hs == nil {
		return nil
	}
	out := make([]CatchHandler, len(hs))
	for i, h := range hs {
		h.Catches = append([]Catch(nil), h.Catches...)
		out[i] = h
	}
	return out
}

func (d *ClassData) clone() *ClassData {
	if d == nil {
		return nil
	}
	n := &ClassData{
		StaticFields:   append([]EncodedField(nil), d.StaticFields...),
		InstanceFields: append([]EncodedField(nil), d.InstanceFields...),
	}
	for _, ms := range []struct {
		src []EncodedMethod
		dst *[]EncodedMethod
	}{{d.DirectMethods, &n.DirectMethods}, {d.VirtualMethods, &n.VirtualMethods}} {
		if ms.src == nil {
			continue
		}
		*ms.dst = make([]EncodedMethod, len(ms.src))
		for i, m := range ms.src {
			m.Code = m.Code.clone()
			(*ms.dst)[i] = m
		}
	}
	return n
}

func (c *ClassDef) clone() *ClassDef {
	n := *c
	n.Interfaces = append([]uint16(nil), c.Interfaces...)
	n.Annotations = c.Annotations.clone()
	n.Data = c.Data.clone()
	if c.StaticValues != nil {
		n.StaticValues = make([]EncodedValue, len(c.StaticValues))
		for i, v := range c.StaticValues {
			n.StaticValues[i] = cloneValue(v)
		}
	}
	return &n
}

// Methods returns every declared method, direct ones first.
func (d *ClassData) Methods() []*EncodedMethod {
	if d == nil {
		return nil
	}
	out := make([]*EncodedMethod, 0, len(d.DirectMethods)+len(d.VirtualMethods))
	for i := range d.DirectMethods {
		out = append(out, &d.DirectMethods[i])
	}
	for i := range d.VirtualMethods {
		out = append(out, &d.VirtualMethods[i])
	}
	return out
}

// Fields returns every declared field, static ones first.
func (d *ClassData) Fields() []*EncodedField {
	if d == nil {
		return nil
	}
	out := make([]*EncodedField, 0, len(d.StaticFields)+len(d.InstanceFields))
	for i := range d.StaticFields {
		out = append(out, &d.StaticFields[i])
	}
	for i := range d.InstanceFields {
		out = append(out, &d.InstanceFields[i])
	}
	return out
}

func (p *parser) classData(off uint32) (*ClassData, error) {
	r, err := p.at(off, "class data")
	if err != nil {
		return nil, err
	}
	var sizes [4]uint32
	for i := range sizes {
		if sizes[i], err = r.uleb(); err != nil {
			return nil, err
		}
		if int(sizes[i]) > len(r.data)-r.pos {
			return nil, errors.WrapMalformedContainer("class data at 0x%x declares %d members", off, sizes[i])
		}
	}
	d := &ClassData{}
	if d.StaticFields, err = p.encodedFields(r, sizes[0]); err != nil {
		return nil, err
	}
	if d.InstanceFields, err = p.encodedFields(r, sizes[1]); err != nil {
		return nil, err
	}
	if d.DirectMethods, err = p.encodedMethods(r, sizes[2]); err != nil {
		return nil, err
	}
	if d.VirtualMethods, err = p.encodedMethods(r, sizes[3]); err != nil {
		return nil, err
	}
	return d, nil
}

func (p *parser) encodedFields(r *reader, n uint32) ([]EncodedField, error) {
	if n == 0 {
		return nil, nil
	}
	out := make([]EncodedField, n)
	var idx uint32
	for i := range out {
		diff, err := r.uleb()
		if err != nil {
			return nil, err
		}
		if i > 0 && diff == 0 {
			return nil, errors.WrapMalformedContainer("field %d listed twice", idx)
		}
		idx += diff
		out[i].Field = idx
		if out[i].Access, err = r.uleb(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *parser) encodedMethods(r *reader, n uint32) ([]EncodedMethod, error) {
	if n == 0 {
		return nil, nil
	}
	out := make([]EncodedMethod, n)
	var idx uint32
	for i := range out {
		diff, err := r.uleb()
		if err != nil {
			return nil, err
		}
		if i > 0 && diff == 0 {
			return nil, errors.WrapMalformedContainer("method %d listed twice", idx)
		}
		idx += diff
		out[i].Method = idx
		if out[i].Access, err = r.uleb(); err != nil {
			return nil, err
		}
		codeOff, err := r.uleb()
		if err != nil {
			return nil, err
		}
		if codeOff != 0 {
			if out[i].Code, err = p.code(codeOff); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (p *parser) code(off uint32) (*Code, error) {
	if off%4 != 0 {
		return nil, errors.WrapMalformedContainer("code item at 0x%x not 4-byte aligned", off)
	}
	r, err := p.at(off, "code item")
	if err != nil {
		return nil, err
	}
	c := &Code{}
	if c.Registers, err = r.u16(); err != nil {
		return nil, err
	}
	if c.Ins, err = r.u16(); err != nil {
		return nil, err
	}
	if c.Outs, err = r.u16(); err != nil {
		return nil, err
	}
	tries, err := r.u16()
	if err != nil {
		return nil, err
	}
	debugOff, err := r.u32()
	if err != nil {
		return nil, err
	}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(2 * int(n)); err != nil {
		return nil, err
	}
	c.Insns = make([]uint16, n)
	for i := range c.Insns {
		c.Insns[i], _ = r.u16()
	}
	if tries > 0 {
		if n%2 != 0 {
			r.pos += 2
		}
		if c.Tries, c.Handlers, err = readTries(r, int(tries), off); err != nil {
			return nil, err
		}
	}
	if debugOff != 0 {
		dr, err := p.at(debugOff, "debug info")
		if err != nil {
			return nil, err
		}
		if c.Debug, err = readDebugInfo(dr); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func readTries(r *reader, n int, codeOff uint32) ([]Try, []CatchHandler, error) {
	type rawTry struct {
		start uint32
		count uint16
		off   uint16
	}
	raw := make([]rawTry, n)
	var err error
	for i := range raw {
		if raw[i].start, err = r.u32(); err != nil {
			return nil, nil, err
		}
		if raw[i].count, err = r.u16(); err != nil {
			return nil, nil, err
		}
		if raw[i].off, err = r.u16(); err != nil {
			return nil, nil, err
		}
	}

	listStart := r.pos
	size, err := r.uleb()
	if err != nil {
		return nil, nil, err
	}
	if int(size) > len(r.data)-r.pos {
		return nil, nil, errors.WrapMalformedContainer("code item at 0x%x declares %d handlers", codeOff, size)
	}
	handlers := make([]CatchHandler, size)
	byOffset := make(map[int]int, size)
	for i := range handlers {
		byOffset[r.pos-listStart] = i
		if handlers[i], err = readHandler(r); err != nil {
			return nil, nil, err
		}
	}

	tries := make([]Try, n)
	for i, t := range raw {
		h, ok := byOffset[int(t.off)]
		if !ok {
			return nil, nil, errors.WrapMalformedContainer("try %d of code item at 0x%x points inside a handler", i, codeOff)
		}
		tries[i] = Try{Start: t.start, Count: t.count, Handler: h}
	}
	return tries, handlers, nil
}

func readHandler(r *reader) (CatchHandler, error) {
	var h CatchHandler
	size, err := r.sleb()
	if err != nil {
		return h, err
	}
	n := size
	if n <= 0 {
		n = -n
		h.HasCatchAll = true
	}
	if int(n) > len(r.data)-r.pos {
		return h, errors.WrapMalformedContainer("catch handler with %d types overruns the file", n)
	}
	h.Catches = make([]Catch, n)
	for i := range h.Catches {
		if h.Catches[i].Type, err = r.uleb(); err != nil {
			return h, err
		}
		if h.Catches[i].Addr, err = r.uleb(); err != nil {
			return h, err
		}
	}
	if h.HasCatchAll {
		if h.CatchAll, err = r.uleb(); err != nil {
			return h, err
		}
	}
	return h, nil
}

// writeCode appends a code item. debugOff is the offset of its debug info,
// or 0.
func writeCode(w *writer, c *Code, debugOff uint32) error {
	if len(c.Tries) > 0xffff {
		return errors.WrapMalformedContainer("%d try items", len(c.Tries))
	}
	w.u16(c.Registers)
	w.u16(c.Ins)
	w.u16(c.Outs)
	w.u16(uint16(len(c.Tries)))
	w.u32(debugOff)
	w.u32(uint32(len(c.Insns)))
	for _, u := range c.Insns {
		w.u16(u)
	}
	if len(c.Tries) == 0 {
		return nil
	}
	if len(c.Insns)%2 != 0 {
		w.u16(0)
	}

	var list writer
	list.uleb(uint32(len(c.Handlers)))
	offsets := make([]int, len(c.Handlers))
	for i, h := range c.Handlers {
		offsets[i] = list.len()
		size := int32(len(h.Catches))
		if h.HasCatchAll {
			size = -size
		}
		list.sleb(size)
		for _, ct := range h.Catches {
			list.uleb(ct.Type)
			list.uleb(ct.Addr)
		}
		if h.HasCatchAll {
			list.uleb(h.CatchAll)
		}
	}
	for i, t := range c.Tries {
		if t.Handler < 0 || t.Handler >= len(offsets) {
			return errors.WrapMalformedContainer("try %d uses handler %d of %d", i, t.Handler, len(offsets))
		}
		if offsets[t.Handler] > 0xffff {
			return errors.WrapMalformedContainer("catch handler list exceeds 64 KiB")
		}
		w.u32(t.Start)
		w.u16(t.Count)
		w.u16(uint16(offsets[t.Handler]))
	}
	w.bytes(list.buf)
	return nil
}

func writeClassData(w *writer, d *ClassData, codeOffsets map[*Code]uint32) error {
	w.uleb(uint32(len(d.StaticFields)))
	w.uleb(uint32(len(d.InstanceFields)))
	w.uleb(uint32(len(d.DirectMethods)))
	w.uleb(uint32(len(d.VirtualMethods)))
	for _, fs := range [][]EncodedField{d.StaticFields, d.InstanceFields} {
		prev := uint32(0)
		for i, f := range fs {
			if i > 0 && f.Field <= prev {
				return errors.WrapMalformedContainer("fields not sorted by index at %d", f.Field)
			}
			w.uleb(f.Field - prev)
			w.uleb(f.Access)
			prev = f.Field
		}
	}
	for _, ms := range [][]EncodedMethod{d.DirectMethods, d.VirtualMethods} {
		prev := uint32(0)
		for i, m := range ms {
			if i > 0 && m.Method <= prev {
				return errors.WrapMalformedContainer("methods not sorted by index at %d", m.Method)
			}
			w.uleb(m.Method - prev)
			w.uleb(m.Access)
			w.uleb(codeOffsets[m.Code])
			prev = m.Method
		}
	}
	return nil
}
