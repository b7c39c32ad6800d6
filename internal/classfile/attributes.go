// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"github.com/dotandev/shrinkwrap/internal/errors"
)

// AttrHeader carries the pool index of an attribute's name.
type AttrHeader struct {
	NameIndex uint16
}

func (h *AttrHeader) header() *AttrHeader { return h }

// Attribute is one of the attribute types below. The set is closed: an
// attribute whose layout is not modelled is kept as *Opaque.
type Attribute interface {
	header() *AttrHeader
}

// Code is the body of a method.
type Code struct {
	AttrHeader
	MaxStack   uint16
	MaxLocals  uint16
	Bytecode   []byte
	Handlers   []Handler
	Attributes []Attribute
}

// Handler is an exception table entry. CatchType 0 catches everything.
type Handler struct {
	Start     uint16
	End       uint16
	Handler   uint16
	CatchType uint16
}

// SingleRef is an attribute whose body is one pool index: ConstantValue,
// SourceFile, Signature, NestHost, ModuleMainClass.
type SingleRef struct {
	AttrHeader
	Ref uint16
}

// RefList is an attribute whose body is a counted list of pool indices:
// Exceptions, NestMembers, PermittedSubclasses.
type RefList struct {
	AttrHeader
	Refs []uint16
}

type InnerClass struct {
	Inner  uint16
	Outer  uint16
	Name   uint16
	Access uint16
}

type InnerClasses struct {
	AttrHeader
	Classes []InnerClass
}

type EnclosingMethod struct {
	AttrHeader
	Class  uint16
	Method uint16
}

type Bootstrap struct {
	Ref  uint16
	Args []uint16
}

type BootstrapMethods struct {
	AttrHeader
	Methods []Bootstrap
}

type LineNumber struct {
	Start uint16
	Line  uint16
}

type LineNumberTable struct {
	AttrHeader
	Lines []LineNumber
}

// LocalVar describes a local variable's live range. In a
// LocalVariableTypeTable Desc is the generic signature.
type LocalVar struct {
	Start  uint16
	Length uint16
	Name   uint16
	Desc   uint16
	Index  uint16
}

type LocalVariableTable struct {
	AttrHeader
	Vars []LocalVar
}

type MethodParameter struct {
	Name   uint16
	Access uint16
}

type MethodParameters struct {
	AttrHeader
	Params []MethodParameter
}

type Annotations struct {
	AttrHeader
	Annotations []Annotation
}

type ParameterAnnotations struct {
	AttrHeader
	Params [][]Annotation
}

type AnnotationDefault struct {
	AttrHeader
	Value ElementValue
}

// Opaque is an attribute kept byte for byte.
type Opaque struct {
	AttrHeader
	Data []byte
}

// reflessAttributes have bodies that never contain pool indices.
var reflessAttributes = map[string]bool{
	"Deprecated":           true,
	"Synthetic":            true,
	"SourceDebugExtension": true,
	"SourceID":             true,
	"CompilationID":        true,
}

// Pins reports whether the attribute might hold pool indices that cannot be
// rewritten, which rules out compacting the pool.
func (o *Opaque) Pins(pool *Pool) bool {
	if len(o.Data) == 0 {
		return false
	}
	name, err := pool.Utf8(o.NameIndex)
	if err != nil {
		return true
	}
	return !reflessAttributes[name]
}

type attrParser func(r *reader, p *parser, h AttrHeader) (Attribute, error)

var attrParsers map[string]attrParser

func init() {
	single := func(r *reader, _ *parser, h AttrHeader) (Attribute, error) {
		v, err := r.u16()
		return &SingleRef{AttrHeader: h, Ref: v}, err
	}
	list := func(r *reader, _ *parser, h AttrHeader) (Attribute, error) {
		v, err := r.u16s()
		return &RefList{AttrHeader: h, Refs: v}, err
	}
	annotations := func(r *reader, _ *parser, h AttrHeader) (Attribute, error) {
		as, err := readAnnotations(r)
		return &Annotations{AttrHeader: h, Annotations: as}, err
	}
	params := func(r *reader, _ *parser, h AttrHeader) (Attribute, error) {
		n, err := r.u8()
		if err != nil {
			return nil, err
		}
		a := &ParameterAnnotations{AttrHeader: h, Params: make([][]Annotation, n)}
		for i := range a.Params {
			if a.Params[i], err = readAnnotations(r); err != nil {
				return nil, err
			}
		}
		return a, nil
	}
	locals := func(r *reader, _ *parser, h AttrHeader) (Attribute, error) {
		n, err := r.u16()
		if err != nil {
			return nil, err
		}
		a := &LocalVariableTable{AttrHeader: h, Vars: make([]LocalVar, n)}
		for i := range a.Vars {
			v := &a.Vars[i]
			for _, f := range []*uint16{&v.Start, &v.Length, &v.Name, &v.Desc, &v.Index} {
				if *f, err = r.u16(); err != nil {
					return nil, err
				}
			}
		}
		return a, nil
	}
	attrParsers = map[string]attrParser{
		"Code":                                 parseCode,
		"ConstantValue":                        single,
		"SourceFile":                           single,
		"Signature":                            single,
		"NestHost":                             single,
		"ModuleMainClass":                      single,
		"Exceptions":                           list,
		"NestMembers":                          list,
		"PermittedSubclasses":                  list,
		"InnerClasses":                         parseInnerClasses,
		"EnclosingMethod":                      parseEnclosingMethod,
		"BootstrapMethods":                     parseBootstrapMethods,
		"LineNumberTable":                      parseLineNumbers,
		"LocalVariableTable":                   locals,
		"LocalVariableTypeTable":               locals,
		"MethodParameters":                     parseMethodParameters,
		"StackMapTable":                        parseStackMapTable,
		"RuntimeVisibleAnnotations":            annotations,
		"RuntimeInvisibleAnnotations":          annotations,
		"RuntimeVisibleParameterAnnotations":   params,
		"RuntimeInvisibleParameterAnnotations": params,
		"AnnotationDefault": func(r *reader, _ *parser, h AttrHeader) (Attribute, error) {
			v, err := readElementValue(r)
			return &AnnotationDefault{AttrHeader: h, Value: v}, err
		},
	}
}

func parseCode(r *reader, p *parser, h AttrHeader) (Attribute, error) {
	c := &Code{AttrHeader: h}
	var err error
	if c.MaxStack, err = r.u16(); err != nil {
		return nil, err
	}
	if c.MaxLocals, err = r.u16(); err != nil {
		return nil, err
	}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if n == 0 || n > 65535 {
		return nil, errors.WrapMalformedContainer("code length %d", n)
	}
	code, err := r.bytes(int(n))
	if err != nil {
		return nil, err
	}
	c.Bytecode = append([]byte(nil), code...)
	nh, err := r.u16()
	if err != nil {
		return nil, err
	}
	c.Handlers = make([]Handler, nh)
	for i := range c.Handlers {
		hd := &c.Handlers[i]
		for _, f := range []*uint16{&hd.Start, &hd.End, &hd.Handler, &hd.CatchType} {
			if *f, err = r.u16(); err != nil {
				return nil, err
			}
		}
	}
	c.Attributes, err = p.attributes(r)
	return c, err
}

func parseInnerClasses(r *reader, _ *parser, h AttrHeader) (Attribute, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	a := &InnerClasses{AttrHeader: h, Classes: make([]InnerClass, n)}
	for i := range a.Classes {
		c := &a.Classes[i]
		for _, f := range []*uint16{&c.Inner, &c.Outer, &c.Name, &c.Access} {
			if *f, err = r.u16(); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

func parseEnclosingMethod(r *reader, _ *parser, h AttrHeader) (Attribute, error) {
	a := &EnclosingMethod{AttrHeader: h}
	var err error
	if a.Class, err = r.u16(); err != nil {
		return nil, err
	}
	a.Method, err = r.u16()
	return a, err
}

func parseBootstrapMethods(r *reader, _ *parser, h AttrHeader) (Attribute, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	a := &BootstrapMethods{AttrHeader: h, Methods: make([]Bootstrap, n)}
	for i := range a.Methods {
		if a.Methods[i].Ref, err = r.u16(); err != nil {
			return nil, err
		}
		if a.Methods[i].Args, err = r.u16s(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func parseLineNumbers(r *reader, _ *parser, h AttrHeader) (Attribute, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	a := &LineNumberTable{AttrHeader: h, Lines: make([]LineNumber, n)}
	for i := range a.Lines {
		if a.Lines[i].Start, err = r.u16(); err != nil {
			return nil, err
		}
		if a.Lines[i].Line, err = r.u16(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func parseMethodParameters(r *reader, _ *parser, h AttrHeader) (Attribute, error) {
	n, err := r.u8()
	if err != nil {
		return nil, err
	}
	a := &MethodParameters{AttrHeader: h, Params: make([]MethodParameter, n)}
	for i := range a.Params {
		if a.Params[i].Name, err = r.u16(); err != nil {
			return nil, err
		}
		if a.Params[i].Access, err = r.u16(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// attributes reads a counted attribute list.
func (p *parser) attributes(r *reader) ([]Attribute, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	out := make([]Attribute, 0, n)
	for range n {
		name, err := r.u16()
		if err != nil {
			return nil, err
		}
		length, err := r.u32()
		if err != nil {
			return nil, err
		}
		body, err := r.bytes(int(length))
		if err != nil {
			return nil, err
		}
		a, err := p.attribute(AttrHeader{NameIndex: name}, body)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (p *parser) attribute(h AttrHeader, body []byte) (Attribute, error) {
	name, err := p.pool.Utf8(h.NameIndex)
	if err != nil {
		return nil, errors.WrapMalformedContainer("attribute name: %v", err)
	}
	parse, ok := attrParsers[name]
	if !ok {
		return &Opaque{AttrHeader: h, Data: append([]byte(nil), body...)}, nil
	}
	r := newReader(body, name+" attribute")
	a, err := parse(r, p, h)
	if err != nil {
		return nil, err
	}
	if !r.done() {
		return nil, errors.WrapMalformedContainer("%s attribute has %d trailing bytes", name, len(body)-r.pos)
	}
	return a, nil
}

func writeAttributes(w *writer, attrs []Attribute) error {
	w.u16(uint16(len(attrs)))
	for _, a := range attrs {
		if err := writeAttribute(w, a); err != nil {
			return err
		}
	}
	return nil
}

func writeAttribute(w *writer, a Attribute) error {
	w.u16(a.header().NameIndex)
	lenAt := w.len()
	w.u32(0)
	start := w.len()

	switch a := a.(type) {
	case *Code:
		w.u16(a.MaxStack)
		w.u16(a.MaxLocals)
		w.u32(uint32(len(a.Bytecode)))
		w.bytes(a.Bytecode)
		w.u16(uint16(len(a.Handlers)))
		for _, h := range a.Handlers {
			w.u16(h.Start)
			w.u16(h.End)
			w.u16(h.Handler)
			w.u16(h.CatchType)
		}
		if err := writeAttributes(w, a.Attributes); err != nil {
			return err
		}
	case *SingleRef:
		w.u16(a.Ref)
	case *RefList:
		w.u16s(a.Refs)
	case *InnerClasses:
		w.u16(uint16(len(a.Classes)))
		for _, c := range a.Classes {
			w.u16(c.Inner)
			w.u16(c.Outer)
			w.u16(c.Name)
			w.u16(c.Access)
		}
	case *EnclosingMethod:
		w.u16(a.Class)
		w.u16(a.Method)
	case *BootstrapMethods:
		w.u16(uint16(len(a.Methods)))
		for _, m := range a.Methods {
			w.u16(m.Ref)
			w.u16s(m.Args)
		}
	case *LineNumberTable:
		w.u16(uint16(len(a.Lines)))
		for _, l := range a.Lines {
			w.u16(l.Start)
			w.u16(l.Line)
		}
	case *LocalVariableTable:
		w.u16(uint16(len(a.Vars)))
		for _, v := range a.Vars {
			w.u16(v.Start)
			w.u16(v.Length)
			w.u16(v.Name)
			w.u16(v.Desc)
			w.u16(v.Index)
		}
	case *MethodParameters:
		w.u8(uint8(len(a.Params)))
		for _, p := range a.Params {
			w.u16(p.Name)
			w.u16(p.Access)
		}
	case *StackMapTable:
		if err := writeStackMapTable(w, a); err != nil {
			return err
		}
	case *Annotations:
		writeAnnotations(w, a.Annotations)
	case *ParameterAnnotations:
		w.u8(uint8(len(a.Params)))
		for _, as := range a.Params {
			writeAnnotations(w, as)
		}
	case *AnnotationDefault:
		writeElementValue(w, a.Value)
	case *Opaque:
		w.bytes(a.Data)
	default:
		errors.Invariant("unhandled attribute type %T", a)
	}
	w.patchU32(lenAt, uint32(w.len()-start))
	return nil
}

// optional calls fn only for a non-zero index; 0 means "absent" in the
// fields it is used for.
func optional(fn func(*uint16), p *uint16) {
	if *p != 0 {
		fn(p)
	}
}

// attributeRefs calls fn for every pool index held by the attribute
// structures, including nested Code attributes. Instruction operands are
// not visited.
func attributeRefs(attrs []Attribute, fn func(*uint16)) {
	for _, a := range attrs {
		fn(&a.header().NameIndex)
		switch a := a.(type) {
		case *Code:
			for i := range a.Handlers {
				optional(fn, &a.Handlers[i].CatchType)
			}
			attributeRefs(a.Attributes, fn)
		case *SingleRef:
			fn(&a.Ref)
		case *RefList:
			for i := range a.Refs {
				fn(&a.Refs[i])
			}
		case *InnerClasses:
			for i := range a.Classes {
				c := &a.Classes[i]
				fn(&c.Inner)
				optional(fn, &c.Outer)
				optional(fn, &c.Name)
			}
		case *EnclosingMethod:
			fn(&a.Class)
			optional(fn, &a.Method)
		case *BootstrapMethods:
			for i := range a.Methods {
				m := &a.Methods[i]
				fn(&m.Ref)
				for j := range m.Args {
					fn(&m.Args[j])
				}
			}
		case *LocalVariableTable:
			for i := range a.Vars {
				fn(&a.Vars[i].Name)
				fn(&a.Vars[i].Desc)
			}
		case *MethodParameters:
			for i := range a.Params {
				optional(fn, &a.Params[i].Name)
			}
		case *StackMapTable:
			a.refs(fn)
		case *Annotations:
			annotationRefs(a.Annotations, fn)
		case *ParameterAnnotations:
			for _, as := range a.Params {
				annotationRefs(as, fn)
			}
		case *AnnotationDefault:
			a.Value.refs(fn)
		case *LineNumberTable, *Opaque:
		}
	}
}

// cloneAttributes deep-copies attributes so that staged rewrites never
// touch the originals.
func cloneAttributes(attrs []Attribute) []Attribute {
	if attrs == nil {
		return nil
	}
	out := make([]Attribute, len(attrs))
	for i, a := range attrs {
		out[i] = cloneAttribute(a)
	}
	return out
}

func cloneAttribute(a Attribute) Attribute {
	switch a := a.(type) {
	case *Code:
		c := *a
		c.Bytecode = append([]byte(nil), a.Bytecode...)
		c.Handlers = append([]Handler(nil), a.Handlers...)
		c.Attributes = cloneAttributes(a.Attributes)
		return &c
	case *SingleRef:
		c := *a
		return &c
	case *RefList:
		c := *a
		c.Refs = append([]uint16(nil), a.Refs...)
		return &c
	case *InnerClasses:
		c := *a
		c.Classes = append([]InnerClass(nil), a.Classes...)
		return &c
	case *EnclosingMethod:
		c := *a
		return &c
	case *BootstrapMethods:
		c := *a
		c.Methods = make([]Bootstrap, len(a.Methods))
		for i, m := range a.Methods {
			c.Methods[i] = Bootstrap{Ref: m.Ref, Args: append([]uint16(nil), m.Args...)}
		}
		return &c
	case *LineNumberTable:
		c := *a
		c.Lines = append([]LineNumber(nil), a.Lines...)
		return &c
	case *LocalVariableTable:
		c := *a
		c.Vars = append([]LocalVar(nil), a.Vars...)
		return &c
	case *MethodParameters:
		c := *a
		c.Params = append([]MethodParameter(nil), a.Params...)
		return &c
	case *StackMapTable:
		return a.clone()
	case *Annotations:
		c := *a
		c.Annotations = cloneAnnotations(a.Annotations)
		return &c
	case *ParameterAnnotations:
		c := *a
		c.Params = make([][]Annotation, len(a.Params))
		for i, as := range a.Params {
			c.Params[i] = cloneAnnotations(as)
		}
		return &c
	case *AnnotationDefault:
		c := *a
		c.Value = a.Value.clone()
		return &c
	case *Opaque:
		c := *a
		c.Data = append([]byte(nil), a.Data...)
		return &c
	}
	errors.Invariant("unhandled attribute type %T", a)
	return nil
}
