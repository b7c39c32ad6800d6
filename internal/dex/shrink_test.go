// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

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

func methodNames(t *testing.T, f *File, c *ClassDef) []string {
	var out []string
	for _, m := range c.Data.Methods() {
		_, n, _, err := f.MethodRef(m.Method)
		require.NoError(t, err)
		out = append(out, n)
	}
	return out
}

func testProgram(t *testing.T) *testDexBuilder {
	b := newTestDex(t)
	objInit := b.method("Ljava/lang/Object;", "<init>", "V")

	main := b.class("Ldemo/Main;", "Ljava/lang/Object;")
	used := b.class("Ldemo/Used;", "Ljava/lang/Object;")
	sub := b.class("Ldemo/Sub;", "Ldemo/Used;")
	task := b.class("Ldemo/Task;", "Ljava/lang/Object;", "Ljava/lang/Runnable;")
	unused := b.class("Ldemo/Unused;", "Ljava/lang/Object;")

	usedInit := b.method("Ldemo/Used;", "<init>", "V")
	usedRun := b.method("Ldemo/Used;", "run", "V")
	dead := b.method("Ldemo/Used;", "dead", "V")
	toString := b.method("Ldemo/Used;", "toString", "Ljava/lang/String;")
	unusedStatic := b.field("Ldemo/Used;", "unusedStatic", "I")
	counter := b.field("Ldemo/Used;", "counter", "I")

	b.def(main, b.method("Ldemo/Main;", "main", "V", "[Ljava/lang/String;"), AccPublic|AccStatic,
		ref(OpNewInstance, 0, b.typ("Ldemo/Used;")),
		invoke(OpInvokeDirect, usedInit, 0),
		invoke(OpInvokeVirtual, usedRun, 0),
		returnVoid)

	b.def(used, usedInit, AccPublic|AccConstructor, invoke(OpInvokeDirect, objInit, 0), returnVoid)
	b.def(used, usedRun, AccPublic, ref(OpSget, 0, counter), returnVoid)
	b.def(used, dead, AccPublic, returnVoid)
	b.def(used, toString, AccPublic, insn(OpConst, 0), insn(OpReturnObject, 0))
	b.declare(used, unusedStatic, AccStatic)
	b.declare(used, counter, AccStatic)
	used.StaticValues = []EncodedValue{IntValue(7), IntValue(1)}
	used.Annotations = &AnnotationsDirectory{
		Methods: []MemberAnnotations{{Index: dead, Set: []Annotation{{
			Visibility:        VisibilityRuntime,
			EncodedAnnotation: EncodedAnnotation{Type: b.typ("Ldemo/Marker;")},
		}}}},
	}

	b.def(sub, b.method("Ldemo/Sub;", "run", "V"), AccPublic, returnVoid)
	b.def(task, b.method("Ldemo/Task;", "run", "V"), AccPublic, returnVoid)
	b.def(unused, b.method("Ldemo/Unused;", "foo", "V"), AccPublic|AccStatic, returnVoid)
	return b
}

func TestShrinkMembers(t *testing.T) {
	f := testProgram(t).build()
	keep, err := shrink.ParseKeepRules([]string{"demo.Main#main"})
	require.NoError(t, err)

	res, err := ShrinkMembers(f, testLibraries, keep)
	require.NoError(t, err)
	assert.Equal(t, []string{"demo/Unused"}, res.RemovedClasses)
	assert.Equal(t, 2, res.RemovedMethods)
	assert.Equal(t, 1, res.RemovedFields)
	require.Len(t, f.Classes, 4)

	used := f.Classes[1]
	// toString overrides a library method and survives through dispatch.
	assert.Equal(t, []string{"<init>", "run", "toString"}, methodNames(t, f, used))
	require.Len(t, used.Data.StaticFields, 1)
	assert.Equal(t, []EncodedValue{IntValue(1)}, used.StaticValues)
	assert.Nil(t, used.Annotations)

	// Sub.run is reachable through the virtual call on Used.run.
	assert.Equal(t, []string{"run"}, methodNames(t, f, f.Classes[2]))
	// Task.run is a callback from the library interface.
	assert.Equal(t, []string{"run"}, methodNames(t, f, f.Classes[3]))

	// Removed members leave dead identifiers that compaction drops.
	cr, err := Compact(f)
	require.NoError(t, err)
	assert.Positive(t, cr.Dropped())
	for _, s := range []string{"dead", "unusedStatic", "foo", "Ldemo/Unused;"} {
		_, ok := f.Strings.Lookup(String{Data: s})
		assert.False(t, ok, s)
	}
	parsed := reparse(t, f)
	assert.Equal(t, []EncodedValue{IntValue(1)}, parsed.Classes[1].StaticValues)
}

func TestShrinkMembersFollowsStaticValues(t *testing.T) {
	b := newTestDex(t)
	main := b.class("Ldemo/Main;", "Ljava/lang/Object;")
	helper := b.class("Ldemo/Helper;", "Ljava/lang/Object;")
	b.def(helper, b.method("Ldemo/Helper;", "help", "V"), AccPublic|AccStatic, returnVoid)
	holder := b.field("Ldemo/Main;", "HELPER", "Ljava/lang/Class;")
	b.declare(main, holder, AccPublic|AccStatic)
	main.StaticValues = []EncodedValue{IndexValue(ValueType, helper.Class)}

	keep, err := shrink.ParseKeepRules([]string{"demo.Main"})
	require.NoError(t, err)
	res, err := ShrinkMembers(b.f, testLibraries, keep)
	require.NoError(t, err)
	assert.Empty(t, res.RemovedClasses)
	// The class object is kept; its unreferenced method is not.
	assert.Equal(t, 1, res.RemovedMethods)
	require.Len(t, b.f.Classes, 2)
	assert.Nil(t, b.f.Classes[1].Data)
}

func TestShrinkMembersPhantomSuperKeepsOverrides(t *testing.T) {
	b := newTestDex(t)
	plugin := b.class("Ldemo/Plugin;", "Lvendor/Base;")
	b.def(plugin, b.method("Ldemo/Plugin;", "hook", "V"), AccPublic, returnVoid)
	b.def(plugin, b.method("Ldemo/Plugin;", "helper", "V"), AccPrivate, returnVoid)

	_, err := ShrinkMembers(b.f, testLibraries, nil)
	require.NoError(t, err)
	require.Len(t, b.f.Classes, 1)
	assert.Equal(t, []string{"hook"}, methodNames(t, b.f, b.f.Classes[0]))
}
