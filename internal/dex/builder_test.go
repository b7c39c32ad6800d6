// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

import (
	"encoding/binary"
	"hash/adler32"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// testDexBuilder assembles dex files for tests.
type testDexBuilder struct {
	t *testing.T
	f *File
}

func newTestDex(t *testing.T) *testDexBuilder {
	t.Helper()
	return &testDexBuilder{t: t, f: New(35)}
}

func (b *testDexBuilder) must(idx uint32, err error) uint32 {
	b.t.Helper()
	require.NoError(b.t, err)
	return idx
}

func (b *testDexBuilder) str(s string) uint32 { return b.must(b.f.AddString(s)) }
func (b *testDexBuilder) typ(d string) uint32 { return b.must(b.f.AddType(d)) }
func (b *testDexBuilder) field(class, name, typ string) uint32 {
	return b.must(b.f.AddField(class, name, typ))
}

func (b *testDexBuilder) method(class, name, ret string, params ...string) uint32 {
	proto := b.must(b.f.AddProto(ret, params...))
	return b.must(b.f.AddMethod(class, name, proto))
}

// class adds a class definition; super may be empty.
func (b *testDexBuilder) class(name, super string, interfaces ...string) *ClassDef {
	c := &ClassDef{Class: b.typ(name), Access: AccPublic, Super: NoIndex, SourceFile: NoIndex}
	if super != "" {
		c.Super = b.typ(super)
	}
	for _, i := range interfaces {
		c.Interfaces = append(c.Interfaces, uint16(b.typ(i)))
	}
	b.f.Classes = append(b.f.Classes, c)
	return c
}

// def declares method idx in c. Without instructions it is abstract.
func (b *testDexBuilder) def(c *ClassDef, idx, access uint32, insns ...Instruction) *EncodedMethod {
	b.t.Helper()
	if c.Data == nil {
		c.Data = &ClassData{}
	}
	m := EncodedMethod{Method: idx, Access: access}
	if len(insns) == 0 {
		m.Access |= AccAbstract
	} else {
		code, err := EncodeAll(insns, false)
		require.NoError(b.t, err)
		m.Code = &Code{Registers: 4, Ins: 1, Outs: 1, Insns: code}
	}
	_, name, _, err := b.f.MethodRef(idx)
	require.NoError(b.t, err)
	list := &c.Data.VirtualMethods
	if access&(AccStatic|AccPrivate) != 0 || name == "<init>" || name == "<clinit>" {
		list = &c.Data.DirectMethods
	}
	*list = append(*list, m)
	sort.Slice(*list, func(i, j int) bool { return (*list)[i].Method < (*list)[j].Method })
	for i := range *list {
		if (*list)[i].Method == idx {
			return &(*list)[i]
		}
	}
	return nil
}

// declare adds field idx to c.
func (b *testDexBuilder) declare(c *ClassDef, idx, access uint32) {
	if c.Data == nil {
		c.Data = &ClassData{}
	}
	list := &c.Data.InstanceFields
	if access&AccStatic != 0 {
		list = &c.Data.StaticFields
	}
	*list = append(*list, EncodedField{Field: idx, Access: access})
	sort.Slice(*list, func(i, j int) bool { return (*list)[i].Field < (*list)[j].Field })
}

func (b *testDexBuilder) build() *File { return b.f }

// reparse serialises and parses f again.
func reparse(t *testing.T, f *File) *File {
	t.Helper()
	data, err := f.Bytes()
	require.NoError(t, err)
	out, err := Parse(data)
	require.NoError(t, err)
	return out
}

// fixChecksum recomputes the checksum after a test has patched the bytes.
func fixChecksum(data []byte) {
	binary.LittleEndian.PutUint32(data[8:], adler32.Checksum(data[12:]))
}

func insn(op Opcode, a uint16) Instruction { return Instruction{Op: op, A: a} }

func ref(op Opcode, a uint16, index uint32) Instruction {
	return Instruction{Op: op, A: a, Index: index}
}

func invoke(op Opcode, index uint32, args ...uint16) Instruction {
	return Instruction{Op: op, Index: index, Args: args}
}

var returnVoid = Instruction{Op: OpReturnVoid}
