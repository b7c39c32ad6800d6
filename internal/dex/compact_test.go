// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/shrinkwrap/internal/errors"
)

// resolve renders the entry an index of the given kind names.
func resolve(t *testing.T, f *File, kind IndexKind, idx uint32) string {
	t.Helper()
	var (
		s   string
		err error
	)
	switch kind {
	case IndexString:
		s, err = f.Str(idx)
	case IndexType:
		s, err = f.TypeName(idx)
	case IndexProto:
		s, err = f.ProtoDescriptor(idx)
	case IndexField, IndexMethod:
		var class, name, desc string
		if kind == IndexField {
			class, name, desc, err = f.FieldRef(idx)
		} else {
			class, name, desc, err = f.MethodRef(idx)
		}
		s = class + "->" + name + ":" + desc
	}
	require.NoError(t, err)
	return s
}

// owners describes every reference in f by value, so two files that refer
// to the same things produce the same lines whatever their indices.
func owners(t *testing.T, f *File) []string {
	t.Helper()
	var out []string
	add := func(kind IndexKind, p *uint32) {
		out = append(out, resolve(t, f, kind, *p))
	}
	for _, c := range f.Classes {
		c.refs(add)
		for _, m := range c.Data.Methods() {
			if m.Code == nil {
				continue
			}
			insns, err := m.Code.Instructions()
			require.NoError(t, err)
			for i := range insns {
				out = append(out, fmt.Sprintf("%s@%d", insns[i].Op, insns[i].Offset))
				operandRefs(&insns[i], add)
			}
		}
	}
	return out
}

func TestCompactCorrectness(t *testing.T) {
	f, _ := helloDex(t)
	b := &testDexBuilder{t: t, f: f}
	b.method("Ldemo/Main;", "unused", "V")
	b.str("dead")
	want := owners(t, f)
	length := len(f.Classes[0].Data.DirectMethods[0].Code.Insns)

	res, err := Compact(f)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tables[StringSpace].Before-res.Tables[StringSpace].After)
	assert.Equal(t, 0, res.Tables[TypeSpace].Before-res.Tables[TypeSpace].After)
	assert.Equal(t, 1, res.Tables[ProtoSpace].Before-res.Tables[ProtoSpace].After)
	assert.Equal(t, 0, res.Tables[FieldSpace].Before-res.Tables[FieldSpace].After)
	assert.Equal(t, 1, res.Tables[MethodSpace].Before-res.Tables[MethodSpace].After)
	assert.Equal(t, 4, res.Dropped())
	assert.Equal(t, "methods", res.Tables[MethodSpace].Name)

	_, ok := f.Strings.Lookup(String{Data: "dead"})
	assert.False(t, ok)
	assert.Equal(t, want, owners(t, f))
	assert.Len(t, f.Classes[0].Data.DirectMethods[0].Code.Insns, length)

	parsed := reparse(t, f)
	assert.Equal(t, want, owners(t, parsed))
}

func TestCompactNoOp(t *testing.T) {
	f, _ := helloDex(t)
	strs, methods := f.Strings, f.Methods

	res, err := Compact(f)
	require.NoError(t, err)
	assert.Zero(t, res.Dropped())
	assert.True(t, res.Tables[StringSpace].Map.Identity())
	assert.Same(t, strs, f.Strings)
	assert.Same(t, methods, f.Methods)
}

func TestCompactKeepsInstructionForms(t *testing.T) {
	b := newTestDex(t)
	b.str("dead")
	c := b.class("Ldemo/Main;", "")
	run := b.method("Ldemo/Main;", "run", "V")
	m := b.def(c, run, AccPublic, returnVoid)
	s := b.str("kept")
	code := EncodeAs(nil, ref(OpConstString, 0, s), OpConstStringJumbo, 0)
	m.Code.Insns = EncodeAs(code, returnVoid, OpReturnVoid, len(code))
	require.Len(t, m.Code.Insns, 4)

	_, err := Compact(b.f)
	require.NoError(t, err)
	code = b.f.Classes[0].Data.VirtualMethods[0].Code.Insns
	require.Len(t, code, 4)
	insns, _, err := DecodeAll(code)
	require.NoError(t, err)
	assert.Equal(t, OpConstStringJumbo, insns[0].Form)
	assert.Equal(t, "kept", resolve(t, b.f, IndexString, insns[0].Index))
}

func TestCompactFailureLeavesFileUntouched(t *testing.T) {
	b := newTestDex(t)
	b.str("dead")
	c := b.class("Ldemo/Main;", "")
	run := b.method("Ldemo/Main;", "run", "V")
	b.def(c, run, AccPublic, ref(OpConstString, 0, 999), returnVoid)
	before := b.f.Clone()

	_, err := Compact(b.f)
	assert.ErrorIs(t, err, errors.ErrIndexOutOfRange)
	assert.True(t, before.Strings.Equal(b.f.Strings))
	assert.Equal(t, before.Classes, b.f.Classes)
}
