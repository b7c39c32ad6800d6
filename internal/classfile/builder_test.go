// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testClassBuilder assembles class files for tests.
type testClassBuilder struct {
	t  *testing.T
	cf *ClassFile
}

func newTestClass(t *testing.T, name, super string) *testClassBuilder {
	t.Helper()
	b := &testClassBuilder{t: t, cf: &ClassFile{Major: 52, Pool: NewPool(), Access: AccPublic}}
	b.cf.This = b.class(name)
	if super != "" {
		b.cf.Super = b.class(super)
	}
	return b
}

func (b *testClassBuilder) must(idx uint16, err error) uint16 {
	b.t.Helper()
	require.NoError(b.t, err)
	return idx
}

func (b *testClassBuilder) utf8(s string) uint16  { return b.must(b.cf.Pool.AddUtf8(s)) }
func (b *testClassBuilder) class(s string) uint16 { return b.must(b.cf.Pool.AddClass(s)) }

func (b *testClassBuilder) methodref(class, name, desc string) uint16 {
	return b.must(b.cf.Pool.AddMethodref(class, name, desc))
}

func (b *testClassBuilder) fieldref(class, name, desc string) uint16 {
	return b.must(b.cf.Pool.AddFieldref(class, name, desc))
}

func (b *testClassBuilder) implements(names ...string) *testClassBuilder {
	for _, n := range names {
		b.cf.Interfaces = append(b.cf.Interfaces, b.class(n))
	}
	return b
}

func (b *testClassBuilder) field(name, desc string, access uint16) *Member {
	m := &Member{Access: access, Name: b.utf8(name), Desc: b.utf8(desc)}
	b.cf.Fields = append(b.cf.Fields, m)
	return m
}

// method adds a method; without instructions it is abstract.
func (b *testClassBuilder) method(name, desc string, access uint16, insns ...Instruction) *Member {
	b.t.Helper()
	m := &Member{Access: access, Name: b.utf8(name), Desc: b.utf8(desc)}
	if len(insns) == 0 {
		m.Access |= AccAbstract
	} else {
		code, err := EncodeAll(insns, false)
		require.NoError(b.t, err)
		m.Attributes = []Attribute{&Code{
			AttrHeader: AttrHeader{NameIndex: b.utf8("Code")},
			MaxStack:   4,
			MaxLocals:  4,
			Bytecode:   code,
		}}
	}
	b.cf.Methods = append(b.cf.Methods, m)
	return m
}

func (b *testClassBuilder) build() *ClassFile { return b.cf }

// reparse serialises and parses cf again.
func reparse(t *testing.T, cf *ClassFile) *ClassFile {
	t.Helper()
	data, err := cf.Bytes()
	require.NoError(t, err)
	out, err := Parse(data)
	require.NoError(t, err)
	return out
}

func op(o Opcode) Instruction { return Instruction{Op: o} }

func ref(o Opcode, index uint16) Instruction { return Instruction{Op: o, Index: index} }

func load(o Opcode, local uint16) Instruction { return Instruction{Op: o, Local: local} }
