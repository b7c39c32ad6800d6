// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"github.com/dotandev/shrinkwrap/internal/errors"
)

type Annotation struct {
	Type  uint16
	Pairs []ElementPair
}

type ElementPair struct {
	Name  uint16
	Value ElementValue
}

// ElementValue is an annotation element. Const holds const_value_index,
// class_info_index or, for enums, type_name_index; Enum holds the enum
// const_name_index.
type ElementValue struct {
	Tag        byte
	Const      uint16
	Enum       uint16
	Annotation *Annotation
	Array      []ElementValue
}

// maxAnnotationDepth bounds nesting of annotation and array values.
const maxAnnotationDepth = 64

func readAnnotations(r *reader) ([]Annotation, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	out := make([]Annotation, n)
	for i := range out {
		if out[i], err = readAnnotation(r, 0); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readAnnotation(r *reader, depth int) (Annotation, error) {
	var a Annotation
	var err error
	if a.Type, err = r.u16(); err != nil {
		return a, err
	}
	n, err := r.u16()
	if err != nil {
		return a, err
	}
	a.Pairs = make([]ElementPair, n)
	for i := range a.Pairs {
		if a.Pairs[i].Name, err = r.u16(); err != nil {
			return a, err
		}
		if a.Pairs[i].Value, err = readElement(r, depth+1); err != nil {
			return a, err
		}
	}
	return a, nil
}

func readElementValue(r *reader) (ElementValue, error) {
	return readElement(r, 0)
}

func readElement(r *reader, depth int) (ElementValue, error) {
	if depth > maxAnnotationDepth {
		return ElementValue{}, errors.WrapMalformedContainer("annotation nesting deeper than %d", maxAnnotationDepth)
	}
	tag, err := r.u8()
	if err != nil {
		return ElementValue{}, err
	}
	v := ElementValue{Tag: tag}
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's', 'c':
		v.Const, err = r.u16()
	case 'e':
		if v.Const, err = r.u16(); err == nil {
			v.Enum, err = r.u16()
		}
	case '@':
		var a Annotation
		a, err = readAnnotation(r, depth+1)
		v.Annotation = &a
	case '[':
		var n uint16
		if n, err = r.u16(); err != nil {
			return v, err
		}
		v.Array = make([]ElementValue, n)
		for i := range v.Array {
			if v.Array[i], err = readElement(r, depth+1); err != nil {
				return v, err
			}
		}
	default:
		return v, errors.WrapMalformedContainer("element value tag %q", tag)
	}
	return v, err
}

func writeAnnotations(w *writer, as []Annotation) {
	w.u16(uint16(len(as)))
	for _, a := range as {
		writeAnnotation(w, a)
	}
}

func writeAnnotation(w *writer, a Annotation) {
	w.u16(a.Type)
	w.u16(uint16(len(a.Pairs)))
	for _, p := range a.Pairs {
		w.u16(p.Name)
		writeElementValue(w, p.Value)
	}
}

func writeElementValue(w *writer, v ElementValue) {
	w.u8(v.Tag)
	switch v.Tag {
	case 'e':
		w.u16(v.Const)
		w.u16(v.Enum)
	case '@':
		writeAnnotation(w, *v.Annotation)
	case '[':
		w.u16(uint16(len(v.Array)))
		for _, e := range v.Array {
			writeElementValue(w, e)
		}
	default:
		w.u16(v.Const)
	}
}

func annotationRefs(as []Annotation, fn func(*uint16)) {
	for i := range as {
		as[i].refs(fn)
	}
}

func (a *Annotation) refs(fn func(*uint16)) {
	fn(&a.Type)
	for i := range a.Pairs {
		fn(&a.Pairs[i].Name)
		a.Pairs[i].Value.refs(fn)
	}
}

func (v *ElementValue) refs(fn func(*uint16)) {
	switch v.Tag {
	case 'e':
		fn(&v.Const)
		fn(&v.Enum)
	case '@':
		v.Annotation.refs(fn)
	case '[':
		for i := range v.Array {
			v.Array[i].refs(fn)
		}
	default:
		fn(&v.Const)
	}
}

func cloneAnnotations(as []Annotation) []Annotation {
	if as == nil {
		return nil
	}
	out := make([]Annotation, len(as))
	for i, a := range as {
		out[i] = a.clone()
	}
	return out
}

func (a Annotation) clone() Annotation {
	c := Annotation{Type: a.Type, Pairs: make([]ElementPair, len(a.Pairs))}
	for i, p := range a.Pairs {
		c.Pairs[i] = ElementPair{Name: p.Name, Value: p.Value.clone()}
	}
	return c
}

func (v ElementValue) clone() ElementValue {
	c := v
	if v.Annotation != nil {
		a := v.Annotation.clone()
		c.Annotation = &a
	}
	if v.Array != nil {
		c.Array = make([]ElementValue, len(v.Array))
		for i, e := range v.Array {
			c.Array[i] = e.clone()
		}
	}
	return c
}
