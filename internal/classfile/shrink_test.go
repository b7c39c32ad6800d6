// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/shrinkwrap/internal/shrink"
)

var testLibraries = []shrink.ClassInfo{
	{Name: "java/lang/Object", Library: true, Methods: []shrink.MemberInfo{
		{Name: "<init>", Desc: "()V"},
		{Name: "toString", Desc: "()Ljava/lang/String;"},
	}},
	{Name: "java/lang/Runnable", Interface: true, Library: true, Methods: []shrink.MemberInfo{
		{Name: "run", Desc: "()V"},
	}},
}

func memberNames(t *testing.T, cf *ClassFile, members []*Member) []string {
	var out []string
	for _, m := range members {
		n, _, err := cf.MemberName(m)
		require.NoError(t, err)
		out = append(out, n)
	}
	return out
}

func testProgram(t *testing.T) []*ClassFile {
	main := newTestClass(t, "demo/Main", "java/lang/Object")
	main.method("main", "([Ljava/lang/String;)V", AccPublic|AccStatic,
		ref(OpNew, main.class("demo/Used")),
		op(OpDup),
		ref(OpInvokespecial, main.methodref("demo/Used", "<init>", "()V")),
		ref(OpInvokevirtual, main.methodref("demo/Used", "run", "()V")),
		op(OpReturn))

	used := newTestClass(t, "demo/Used", "java/lang/Object")
	used.field("counter", "I", AccStatic)
	used.field("unusedField", "I", AccPrivate)
	used.method("<init>", "()V", AccPublic,
		load(OpAload, 0),
		ref(OpInvokespecial, used.methodref("java/lang/Object", "<init>", "()V")),
		op(OpReturn))
	used.method("run", "()V", AccPublic,
		ref(OpGetstatic, used.fieldref("demo/Used", "counter", "I")),
		op(OpPop),
		op(OpReturn))
	used.method("dead", "()V", AccPublic, op(OpReturn))
	used.method("toString", "()Ljava/lang/String;", AccPublic, op(OpAconstNull), op(OpAreturn))

	sub := newTestClass(t, "demo/Sub", "demo/Used")
	sub.method("run", "()V", AccPublic, op(OpReturn))

	task := newTestClass(t, "demo/Task", "java/lang/Object").implements("java/lang/Runnable")
	task.method("run", "()V", AccPublic, op(OpReturn))

	unused := newTestClass(t, "demo/Unused", "java/lang/Object")
	unused.method("foo", "()V", AccPublic|AccStatic, op(OpReturn))

	return []*ClassFile{main.build(), used.build(), sub.build(), task.build(), unused.build()}
}

func TestShrinkProgram(t *testing.T) {
	program := testProgram(t)
	keep, err := shrink.ParseKeepRules([]string{"demo.Main#main"})
	require.NoError(t, err)

	res, err := ShrinkProgram(program, testLibraries, keep)
	require.NoError(t, err)
	assert.Equal(t, []string{"demo/Unused"}, res.RemovedClasses)
	assert.Equal(t, 2, res.RemovedMethods)
	assert.Equal(t, 1, res.RemovedFields)
	require.Len(t, res.Classes, 4)

	used := res.Classes[1]
	// toString overrides a library method and survives through dispatch.
	assert.Equal(t, []string{"<init>", "run", "toString"}, memberNames(t, used, used.Methods))
	assert.Equal(t, []string{"counter"}, memberNames(t, used, used.Fields))

	// Sub.run is reachable through the virtual call on Used.run.
	sub := res.Classes[2]
	assert.Equal(t, []string{"run"}, memberNames(t, sub, sub.Methods))

	// Task.run is a callback from the library interface.
	task := res.Classes[3]
	assert.Equal(t, []string{"run"}, memberNames(t, task, task.Methods))

	// Removed members leave dead constants that compaction drops.
	cr, err := Compact(used)
	require.NoError(t, err)
	assert.Positive(t, cr.Dropped())
	_, ok := used.Pool.Lookup(Constant{Tag: TagUtf8, Text: "dead"})
	assert.False(t, ok)
	_, ok = used.Pool.Lookup(Constant{Tag: TagUtf8, Text: "unusedField"})
	assert.False(t, ok)
	reparse(t, used)
}

func TestShrinkProgramPhantomSuperKeepsOverrides(t *testing.T) {
	b := newTestClass(t, "demo/Plugin", "vendor/Base")
	b.method("hook", "()V", AccPublic, op(OpReturn))
	b.method("helper", "()V", AccPrivate, op(OpReturn))

	res, err := ShrinkProgram([]*ClassFile{b.build()}, testLibraries, nil)
	require.NoError(t, err)
	require.Len(t, res.Classes, 1)
	assert.Equal(t, []string{"hook"}, memberNames(t, res.Classes[0], res.Classes[0].Methods))
}

func TestShrinkProgramFollowsBootstrapHandles(t *testing.T) {
	b := newTestClass(t, "demo/Lambda", "java/lang/Object")
	target := b.methodref("demo/Lambda", "lambda$0", "()V")
	handle := b.must(b.cf.Pool.AddMethodHandle(6, target))
	nt := b.must(b.cf.Pool.AddNameAndType("run", "()Ljava/lang/Runnable;"))
	indy := b.must(b.cf.Pool.AddInvokeDynamic(0, nt))
	b.cf.Attributes = append(b.cf.Attributes, &BootstrapMethods{
		AttrHeader: AttrHeader{NameIndex: b.utf8("BootstrapMethods")},
		Methods:    []Bootstrap{{Ref: handle}},
	})
	b.method("main", "()V", AccPublic|AccStatic, ref(OpInvokedynamic, indy), op(OpPop), op(OpReturn))
	b.method("lambda$0", "()V", AccPrivate|AccStatic, op(OpReturn))
	b.method("other", "()V", AccPrivate|AccStatic, op(OpReturn))

	keep, err := shrink.ParseKeepRules([]string{"demo/Lambda#main()V"})
	require.NoError(t, err)
	res, err := ShrinkProgram([]*ClassFile{b.build()}, testLibraries, keep)
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "lambda$0"}, memberNames(t, res.Classes[0], res.Classes[0].Methods))
}
