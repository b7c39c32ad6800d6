// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotandev/shrinkwrap/internal/classfile"
	"github.com/dotandev/shrinkwrap/internal/dex"
)

// classBuilder assembles a class file through the public pool helpers.
type classBuilder struct {
	t  *testing.T
	cf *classfile.ClassFile
}

func newClass(t *testing.T, name, super string) *classBuilder {
	t.Helper()
	b := &classBuilder{t: t, cf: &classfile.ClassFile{Major: 52, Pool: classfile.NewPool(), Access: classfile.AccPublic}}
	b.cf.This = b.must(b.cf.Pool.AddClass(name))
	if super != "" {
		b.cf.Super = b.must(b.cf.Pool.AddClass(super))
	}
	return b
}

func (b *classBuilder) must(idx uint16, err error) uint16 {
	b.t.Helper()
	require.NoError(b.t, err)
	return idx
}

// method adds a method whose body is built by body from this class's pool.
func (b *classBuilder) method(name, desc string, access uint16, body func(p *classfile.Pool) []byte) {
	b.t.Helper()
	m := &classfile.Member{
		Access: access,
		Name:   b.must(b.cf.Pool.AddUtf8(name)),
		Desc:   b.must(b.cf.Pool.AddUtf8(desc)),
	}
	m.Attributes = []classfile.Attribute{&classfile.Code{
		AttrHeader: classfile.AttrHeader{NameIndex: b.must(b.cf.Pool.AddUtf8("Code"))},
		MaxStack:   2,
		MaxLocals:  1,
		Bytecode:   body(b.cf.Pool),
	}}
	b.cf.Methods = append(b.cf.Methods, m)
}

func (b *classBuilder) input(path string) Input {
	b.t.Helper()
	data, err := b.cf.Bytes()
	require.NoError(b.t, err)
	return Input{Path: path, Data: data}
}

func encodeClass(t *testing.T, insns ...classfile.Instruction) []byte {
	t.Helper()
	code, err := classfile.EncodeAll(insns, false)
	require.NoError(t, err)
	return code
}

func returnOnly(*classfile.Pool) []byte { return []byte{byte(classfile.OpReturn)} }

// classProgram is Main.main calling Helper.help and loading a string with
// the wide ldc form, Helper.unused that nothing calls, and the unreferenced
// class Unused.
func classProgram(t *testing.T) []Input {
	main := newClass(t, "demo/Main", "java/lang/Object")
	main.method("main", "([Ljava/lang/String;)V", classfile.AccPublic|classfile.AccStatic, func(p *classfile.Pool) []byte {
		s, err := p.AddString("hello")
		require.NoError(t, err)
		help, err := p.AddMethodref("demo/Helper", "help", "()V")
		require.NoError(t, err)
		code := classfile.EncodeAs(nil, classfile.Instruction{Op: classfile.OpLdc, Index: s}, classfile.OpLdcW, 0)
		return append(code, encodeClass(t,
			classfile.Instruction{Op: classfile.OpPop},
			classfile.Instruction{Op: classfile.OpInvokestatic, Index: help},
			classfile.Instruction{Op: classfile.OpReturn})...)
	})

	helper := newClass(t, "demo/Helper", "java/lang/Object")
	helper.method("help", "()V", classfile.AccPublic|classfile.AccStatic, returnOnly)
	helper.method("unused", "()V", classfile.AccPublic|classfile.AccStatic, returnOnly)

	unused := newClass(t, "demo/Unused", "java/lang/Object")
	unused.method("foo", "()V", classfile.AccPublic|classfile.AccStatic, returnOnly)

	return []Input{
		main.input("demo/Main.class"),
		helper.input("demo/Helper.class"),
		unused.input("demo/Unused.class"),
	}
}

func objectLibrary(t *testing.T) Input {
	obj := newClass(t, "java/lang/Object", "")
	obj.method("<init>", "()V", classfile.AccPublic, returnOnly)
	return obj.input("rt/java/lang/Object.class")
}

// dexProgram mirrors classProgram in one dex file: Main.main loads a string
// with const-string/jumbo and calls Helper.help; Helper.unused is dead.
func dexProgram(t *testing.T) Input {
	t.Helper()
	f := dex.New(35)
	must := func(idx uint32, err error) uint32 {
		t.Helper()
		require.NoError(t, err)
		return idx
	}
	mainProto := must(f.AddProto("V", "[Ljava/lang/String;"))
	voidProto := must(f.AddProto("V"))
	mainMethod := must(f.AddMethod("Ldemo/Main;", "main", mainProto))
	help := must(f.AddMethod("Ldemo/Helper;", "help", voidProto))
	unused := must(f.AddMethod("Ldemo/Helper;", "unused", voidProto))
	hello := must(f.AddString("hello"))
	object := must(f.AddType("Ljava/lang/Object;"))

	code := dex.EncodeAs(nil, dex.Instruction{Op: dex.OpConstString, A: 0, Index: hello}, dex.OpConstStringJumbo, 0)
	code, err := dex.Encode(code, dex.Instruction{Op: dex.OpInvokeStatic, Index: help}, len(code))
	require.NoError(t, err)
	code, err = dex.Encode(code, dex.Instruction{Op: dex.OpReturnVoid}, len(code))
	require.NoError(t, err)
	ret, err := dex.EncodeAll([]dex.Instruction{{Op: dex.OpReturnVoid}}, false)
	require.NoError(t, err)

	static := dex.AccPublic | dex.AccStatic
	f.Classes = []*dex.ClassDef{
		{
			Class: must(f.AddType("Ldemo/Main;")), Access: dex.AccPublic, Super: object, SourceFile: dex.NoIndex,
			Data: &dex.ClassData{DirectMethods: []dex.EncodedMethod{
				{Method: mainMethod, Access: static, Code: &dex.Code{Registers: 2, Ins: 1, Insns: code}},
			}},
		},
		{
			Class: must(f.AddType("Ldemo/Helper;")), Access: dex.AccPublic, Super: object, SourceFile: dex.NoIndex,
			Data: &dex.ClassData{DirectMethods: []dex.EncodedMethod{
				{Method: help, Access: static, Code: &dex.Code{Registers: 1, Insns: ret}},
				{Method: unused, Access: static, Code: &dex.Code{Registers: 1, Insns: ret}},
			}},
		},
	}
	data, err := f.Bytes()
	require.NoError(t, err)
	return Input{Path: "classes.dex", Data: data}
}
