// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

import (
	"encoding/binary"

	"github.com/dotandev/shrinkwrap/internal/table"
)

// Entry kinds. Each table holds a single kind.
const (
	KindString table.Kind = iota + 1
	KindType
	KindProto
	KindField
	KindMethod
)

// Types, prototypes, fields and methods are addressed by 16-bit operands
// in instructions and identifier items.
const maxShortIndex = 1 << 16

// String is a string_data_item. Data holds the modified UTF-8 bytes
// without the terminating zero.
type String struct {
	Data string
}

func (String) Kind() table.Kind { return KindString }

// utf16Len is the number of UTF-16 code units the string decodes to. In
// modified UTF-8 every code unit starts with exactly one non-continuation
// byte.
func (s String) utf16Len() uint32 {
	var n uint32
	for i := 0; i < len(s.Data); i++ {
		if s.Data[i]&0xc0 != 0x80 {
			n++
		}
	}
	return n
}

// TypeID is a type_id_item: the string index of a type descriptor.
type TypeID struct {
	Descriptor uint32
}

func (TypeID) Kind() table.Kind { return KindType }

// ProtoID is a proto_id_item. Params is the parameter type list packed as
// little-endian 16-bit type indices so that the entry stays comparable.
type ProtoID struct {
	Shorty uint32
	Return uint32
	Params string
}

func (ProtoID) Kind() table.Kind { return KindProto }

// PackTypeList packs type indices for ProtoID.Params.
func PackTypeList(types []uint16) string {
	b := make([]byte, 0, 2*len(types))
	for _, t := range types {
		b = binary.LittleEndian.AppendUint16(b, t)
	}
	return string(b)
}

// ParamTypes unpacks Params.
func (p ProtoID) ParamTypes() []uint16 {
	out := make([]uint16, len(p.Params)/2)
	for i := range out {
		out[i] = uint16(p.Params[2*i]) | uint16(p.Params[2*i+1])<<8
	}
	return out
}

// withParams returns p with every parameter type passed through fn.
func (p ProtoID) withParams(fn func(uint16) uint16) ProtoID {
	params := p.ParamTypes()
	for i := range params {
		params[i] = fn(params[i])
	}
	p.Params = PackTypeList(params)
	return p
}

// FieldID is a field_id_item.
type FieldID struct {
	Class uint16
	Type  uint16
	Name  uint32
}

func (FieldID) Kind() table.Kind { return KindField }

// MethodID is a method_id_item.
type MethodID struct {
	Class uint16
	Proto uint16
	Name  uint32
}

func (MethodID) Kind() table.Kind { return KindMethod }
