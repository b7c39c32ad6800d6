// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

import (
	"github.com/dotandev/shrinkwrap/internal/errors"
)

// Encoded value types.
const (
	ValueByte         uint8 = 0x00
	ValueShort        uint8 = 0x02
	ValueChar         uint8 = 0x03
	ValueInt          uint8 = 0x04
	ValueLong         uint8 = 0x06
	ValueFloat        uint8 = 0x10
	ValueDouble       uint8 = 0x11
	ValueMethodType   uint8 = 0x15
	ValueMethodHandle uint8 = 0x16
	ValueString       uint8 = 0x17
	ValueType         uint8 = 0x18
	ValueField        uint8 = 0x19
	ValueMethod       uint8 = 0x1a
	ValueEnum         uint8 = 0x1b
	ValueArray        uint8 = 0x1c
	ValueAnnotation   uint8 = 0x1d
	ValueNull         uint8 = 0x1e
	ValueBoolean      uint8 = 0x1f
)

// Annotation visibilities.
const (
	VisibilityBuild   uint8 = 0x00
	VisibilityRuntime uint8 = 0x01
	VisibilitySystem  uint8 = 0x02
)

// EncodedValue is one encoded_value. Numbers keep their stored bytes in
// Bits with Arg as the byte count minus one, so they are written back
// unchanged. Index values hold the index in Bits and are written in the
// fewest bytes.
type EncodedValue struct {
	Type       uint8
	Arg        uint8
	Bits       uint64
	Array      []EncodedValue
	Annotation *EncodedAnnotation
}

// EncodedAnnotation is an encoded_annotation.
type EncodedAnnotation struct {
	Type     uint32
	Elements []AnnotationElement
}

// AnnotationElement is one name/value pair of an annotation.
type AnnotationElement struct {
	Name  uint32
	Value EncodedValue
}

// Annotation is an annotation_item.
type Annotation struct {
	Visibility uint8
	EncodedAnnotation
}

// MemberAnnotations attaches an annotation set to a field or method.
type MemberAnnotations struct {
	Index uint32
	Set   []Annotation
}

// ParamAnnotations holds one annotation set per parameter of a method. A
// nil set means the parameter has none.
type ParamAnnotations struct {
	Method uint32
	Sets   [][]Annotation
}

// AnnotationsDirectory is an annotations_directory_item. Class is nil when
// the class itself carries no annotation set.
type AnnotationsDirectory struct {
	Class   []Annotation
	Fields  []MemberAnnotations
	Methods []MemberAnnotations
	Params  []ParamAnnotations
}

// IntValue returns an int value stored in the fewest bytes.
func IntValue(v int32) EncodedValue {
	n := signedSize(int64(v))
	return EncodedValue{Type: ValueInt, Arg: uint8(n - 1), Bits: uint64(int64(v)) & (1<<(8*n) - 1)}
}

// IndexValue returns a string, type, field, method, enum or method type
// value.
func IndexValue(typ uint8, index uint32) EncodedValue {
	return EncodedValue{Type: typ, Bits: uint64(index)}
}

func signedSize(v int64) int {
	n := 1
	for n < 8 && (v < -(1<<(8*n-1)) || v >= 1<<(8*n-1)) {
		n++
	}
	return n
}

func unsignedSize(v uint64) int {
	n := 1
	for n < 8 && v >= 1<<(8*n) {
		n++
	}
	return n
}

// IsIndex reports whether the value refers to a table entry.
func (v EncodedValue) IsIndex() bool {
	switch v.Type {
	case ValueMethodType, ValueString, ValueType, ValueField, ValueMethod, ValueEnum:
		return true
	}
	return false
}

// Space returns the table an index value refers to.
func (v EncodedValue) Space() IndexKind {
	switch v.Type {
	case ValueString:
		return IndexString
	case ValueType:
		return IndexType
	case ValueField, ValueEnum:
		return IndexField
	case ValueMethod:
		return IndexMethod
	case ValueMethodType:
		return IndexProto
	}
	return IndexNone
}

func readValue(r *reader, depth int) (EncodedValue, error) {
	if depth > maxValueDepth {
		return EncodedValue{}, errors.WrapMalformedContainer("encoded values nested deeper than %d", maxValueDepth)
	}
	head, err := r.u8()
	if err != nil {
		return EncodedValue{}, err
	}
	v := EncodedValue{Type: head & 0x1f, Arg: head >> 5}
	switch v.Type {
	case ValueByte, ValueShort, ValueChar, ValueInt, ValueLong, ValueFloat, ValueDouble,
		ValueMethodType, ValueString, ValueType, ValueField, ValueMethod, ValueEnum:
		size := int(v.Arg) + 1
		if limit := valueMaxSize(v.Type); size > limit {
			return v, errors.WrapMalformedContainer("encoded value type 0x%02x with %d bytes", v.Type, size)
		}
		b, err := r.bytes(size)
		if err != nil {
			return v, err
		}
		for i, x := range b {
			v.Bits |= uint64(x) << (8 * i)
		}
		if v.IsIndex() {
			v.Arg = 0
		}
	case ValueMethodHandle:
		return v, errors.WrapUnsupportedFeature("method handle values")
	case ValueArray:
		if v.Array, err = readArray(r, depth+1); err != nil {
			return v, err
		}
	case ValueAnnotation:
		a, err := readAnnotation(r, depth+1)
		if err != nil {
			return v, err
		}
		v.Annotation = &a
	case ValueNull:
	case ValueBoolean:
		if v.Arg > 1 {
			return v, errors.WrapMalformedContainer("boolean value %d", v.Arg)
		}
	default:
		return v, errors.WrapMalformedContainer("unknown encoded value type 0x%02x", v.Type)
	}
	return v, nil
}

const maxValueDepth = 64

func valueMaxSize(typ uint8) int {
	switch typ {
	case ValueByte:
		return 1
	case ValueShort, ValueChar:
		return 2
	case ValueLong, ValueDouble:
		return 8
	}
	return 4
}

func readArray(r *reader, depth int) ([]EncodedValue, error) {
	n, err := r.uleb()
	if err != nil {
		return nil, err
	}
	if int(n) > len(r.data)-r.pos {
		return nil, errors.WrapMalformedContainer("encoded array of %d values overruns the file", n)
	}
	out := make([]EncodedValue, n)
	for i := range out {
		if out[i], err = readValue(r, depth); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readAnnotation(r *reader, depth int) (EncodedAnnotation, error) {
	var a EncodedAnnotation
	var err error
	if a.Type, err = r.uleb(); err != nil {
		return a, err
	}
	n, err := r.uleb()
	if err != nil {
		return a, err
	}
	if int(n) > len(r.data)-r.pos {
		return a, errors.WrapMalformedContainer("annotation with %d elements overruns the file", n)
	}
	a.Elements = make([]AnnotationElement, n)
	for i := range a.Elements {
		if a.Elements[i].Name, err = r.uleb(); err != nil {
			return a, err
		}
		if a.Elements[i].Value, err = readValue(r, depth); err != nil {
			return a, err
		}
	}
	return a, nil
}

func writeValue(w *writer, v EncodedValue) {
	switch {
	case v.IsIndex():
		n := unsignedSize(v.Bits)
		w.u8(v.Type | uint8(n-1)<<5)
		for i := range n {
			w.u8(uint8(v.Bits >> (8 * i)))
		}
	case v.Type == ValueArray:
		w.u8(v.Type)
		writeArray(w, v.Array)
	case v.Type == ValueAnnotation:
		w.u8(v.Type)
		if v.Annotation != nil {
			writeAnnotation(w, *v.Annotation)
		} else {
			writeAnnotation(w, EncodedAnnotation{})
		}
	case v.Type == ValueNull, v.Type == ValueBoolean:
		w.u8(v.Type | v.Arg<<5)
	default:
		w.u8(v.Type | v.Arg<<5)
		for i := 0; i <= int(v.Arg); i++ {
			w.u8(uint8(v.Bits >> (8 * i)))
		}
	}
}

func writeArray(w *writer, vs []EncodedValue) {
	w.uleb(uint32(len(vs)))
	for _, v := range vs {
		writeValue(w, v)
	}
}

func writeAnnotation(w *writer, a EncodedAnnotation) {
	w.uleb(a.Type)
	w.uleb(uint32(len(a.Elements)))
	for _, e := range a.Elements {
		w.uleb(e.Name)
		writeValue(w, e.Value)
	}
}

// valueRefs calls fn for every index held by v, by table.
func valueRefs(v *EncodedValue, fn func(IndexKind, *uint32)) {
	switch {
	case v.IsIndex():
		idx := uint32(v.Bits)
		fn(v.Space(), &idx)
		v.Bits = uint64(idx)
	case v.Type == ValueArray:
		for i := range v.Array {
			valueRefs(&v.Array[i], fn)
		}
	case v.Type == ValueAnnotation && v.Annotation != nil:
		annotationRefs(v.Annotation, fn)
	}
}

func annotationRefs(a *EncodedAnnotation, fn func(IndexKind, *uint32)) {
	fn(IndexType, &a.Type)
	for i := range a.Elements {
		fn(IndexString, &a.Elements[i].Name)
		valueRefs(&a.Elements[i].Value, fn)
	}
}

func setRefs(set []Annotation, fn func(IndexKind, *uint32)) {
	for i := range set {
		annotationRefs(&set[i].EncodedAnnotation, fn)
	}
}

func (d *AnnotationsDirectory) refs(fn func(IndexKind, *uint32)) {
	setRefs(d.Class, fn)
	for i := range d.Fields {
		fn(IndexField, &d.Fields[i].Index)
		setRefs(d.Fields[i].Set, fn)
	}
	for i := range d.Methods {
		fn(IndexMethod, &d.Methods[i].Index)
		setRefs(d.Methods[i].Set, fn)
	}
	for i := range d.Params {
		fn(IndexMethod, &d.Params[i].Method)
		for _, set := range d.Params[i].Sets {
			setRefs(set, fn)
		}
	}
}

func cloneValue(v EncodedValue) EncodedValue {
	if v.Array != nil {
		arr := make([]EncodedValue, len(v.Array))
		for i, x := range v.Array {
			arr[i] = cloneValue(x)
		}
		v.Array = arr
	}
	if v.Annotation != nil {
		a := cloneAnnotation(*v.Annotation)
		v.Annotation = &a
	}
	return v
}

func cloneAnnotation(a EncodedAnnotation) EncodedAnnotation {
	els := make([]AnnotationElement, len(a.Elements))
	for i, e := range a.Elements {
		els[i] = AnnotationElement{Name: e.Name, Value: cloneValue(e.Value)}
	}
	a.Elements = els
	return a
}

func cloneSet(set []Annotation) []Annotation {
	if set == nil {
		return nil
	}
	out := make([]Annotation, len(set))
	for i, a := range set {
		out[i] = Annotation{Visibility: a.Visibility, EncodedAnnotation: cloneAnnotation(a.EncodedAnnotation)}
	}
	return out
}

func (d *AnnotationsDirectory) clone() *AnnotationsDirectory {
	if d == nil {
		return nil
	}
	c := &AnnotationsDirectory{Class: cloneSet(d.Class)}
	for _, m := range d.Fields {
		c.Fields = append(c.Fields, MemberAnnotations{Index: m.Index, Set: cloneSet(m.Set)})
	}
	for _, m := range d.Methods {
		c.Methods = append(c.Methods, MemberAnnotations{Index: m.Index, Set: cloneSet(m.Set)})
	}
	for _, p := range d.Params {
		sets := make([][]Annotation, len(p.Sets))
		for i, s := range p.Sets {
			sets[i] = cloneSet(s)
		}
		c.Params = append(c.Params, ParamAnnotations{Method: p.Method, Sets: sets})
	}
	return c
}

// empty reports whether the directory annotates nothing.
func (d *AnnotationsDirectory) empty() bool {
	return d == nil || (d.Class == nil && len(d.Fields) == 0 && len(d.Methods) == 0 && len(d.Params) == 0)
}
