// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/shrinkwrap/internal/errors"
)

func lineOp(t *testing.T, addr uint32, line int32) DebugOp {
	t.Helper()
	op, ok := makeSpecial(addr, line)
	require.True(t, ok)
	return newDebugOp(op)
}

// helloDex builds a class whose main prints a greeting inside a try block,
// with debug info, annotations and a static value. Every table entry is
// in use.
func helloDex(t *testing.T) (*File, *EncodedMethod) {
	b := newTestDex(t)
	main := b.class("Ldemo/Main;", "Ljava/lang/Object;")
	main.SourceFile = b.str("Main.java")

	out := b.field("Ljava/lang/System;", "out", "Ljava/io/PrintStream;")
	printIdx := b.method("Ljava/io/PrintStream;", "println", "V", "Ljava/lang/String;")
	greeting := b.field("Ldemo/Main;", "GREETING", "Ljava/lang/String;")
	count := b.field("Ldemo/Main;", "count", "I")
	b.declare(main, greeting, AccPublic|AccStatic)
	b.declare(main, count, AccPrivate)

	mainIdx := b.method("Ldemo/Main;", "main", "V", "[Ljava/lang/String;")
	m := b.def(main, mainIdx, AccPublic|AccStatic,
		ref(OpSgetObject, 0, out),
		ref(OpConstString, 1, b.str("hello")),
		invoke(OpInvokeVirtual, printIdx, 0, 1),
		returnVoid)
	require.Len(t, m.Code.Insns, 8)
	m.Code.Tries = []Try{{Start: 0, Count: 7, Handler: 0}}
	m.Code.Handlers = []CatchHandler{{
		Catches:     []Catch{{Type: b.typ("Ljava/lang/Exception;"), Addr: 7}},
		HasCatchAll: true,
		CatchAll:    7,
	}}
	m.Code.Debug = &DebugInfo{
		LineStart: 3,
		Params:    []uint32{b.str("args")},
		Ops:       []DebugOp{lineOp(t, 0, 0), lineOp(t, 4, 1)},
	}

	main.StaticValues = []EncodedValue{IndexValue(ValueString, b.str("hi"))}
	marker := Annotation{Visibility: VisibilityRuntime, EncodedAnnotation: EncodedAnnotation{
		Type:     b.typ("Ldemo/Marker;"),
		Elements: []AnnotationElement{{Name: b.str("value"), Value: IntValue(42)}},
	}}
	main.Annotations = &AnnotationsDirectory{
		Class:   []Annotation{marker},
		Methods: []MemberAnnotations{{Index: mainIdx, Set: []Annotation{marker}}},
		Params:  []ParamAnnotations{{Method: mainIdx, Sets: [][]Annotation{{marker}}}},
	}
	return b.build(), m
}

func TestParseBytesRoundTrip(t *testing.T) {
	f, _ := helloDex(t)
	data, err := f.Bytes()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 35, parsed.Version)
	assert.True(t, f.Strings.Equal(parsed.Strings))
	assert.True(t, f.Types.Equal(parsed.Types))
	assert.True(t, f.Protos.Equal(parsed.Protos))
	assert.True(t, f.Fields.Equal(parsed.Fields))
	assert.True(t, f.Methods.Equal(parsed.Methods))
	assert.Equal(t, f.Classes, parsed.Classes)

	again, err := parsed.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestParseRejectsBadInput(t *testing.T) {
	f, _ := helloDex(t)
	good, err := f.Bytes()
	require.NoError(t, err)
	mapOff := binary.LittleEndian.Uint32(good[52:])

	tests := []struct {
		name  string
		patch func([]byte) []byte
		want  error
	}{
		{"bad magic", func(b []byte) []byte { b[0] = 'x'; return b }, errors.ErrBadMagic},
		{"empty", func([]byte) []byte { return nil }, errors.ErrTruncated},
		{"short header", func(b []byte) []byte { return b[:40] }, errors.ErrTruncated},
		{"newer version", func(b []byte) []byte { copy(b[4:7], "040"); return b }, errors.ErrUnsupportedVersion},
		{"big endian", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[40:], reverseEndianTag)
			return b
		}, errors.ErrUnsupportedFeature},
		{"truncated body", func(b []byte) []byte { return b[:len(b)-4] }, errors.ErrTruncated},
		{"trailing bytes", func(b []byte) []byte { return append(b, 0) }, errors.ErrMalformedContainer},
		{"checksum", func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b }, errors.ErrMalformedContainer},
		{"call sites", func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[mapOff+4:], typeCallSiteID)
			fixChecksum(b)
			return b
		}, errors.ErrUnsupportedFeature},
		{"unknown map item", func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[mapOff+4:], 0x3000)
			fixChecksum(b)
			return b
		}, errors.ErrMalformedContainer},
		{"linked", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[44:], 4)
			fixChecksum(b)
			return b
		}, errors.ErrUnsupportedFeature},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := tc.patch(append([]byte(nil), good...))
			_, err := Parse(data)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParseVersionConstraint(t *testing.T) {
	f := New(39)
	data, err := f.Bytes()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 39, parsed.Version)

	_, err = Parse(data, WithVersionConstraint("< 38"))
	assert.ErrorIs(t, err, errors.ErrUnsupportedVersion)

	_, err = Parse(data, WithVersionConstraint("not a constraint"))
	assert.ErrorIs(t, err, errors.ErrConfig)
}

func TestNoIndexIsDistinctFromZero(t *testing.T) {
	b := newTestDex(t)
	c := b.class("Ljava/lang/Object;", "")
	require.Equal(t, uint32(0), b.f.Strings.First())

	parsed := reparse(t, b.build())
	require.Len(t, parsed.Classes, 1)
	assert.Equal(t, NoIndex, parsed.Classes[0].Super)
	assert.Equal(t, NoIndex, parsed.Classes[0].SourceFile)
	assert.Equal(t, c.Class, parsed.Classes[0].Class)

	s, err := parsed.Str(0)
	require.NoError(t, err)
	assert.Equal(t, "Ljava/lang/Object;", s)
}

func TestRefs(t *testing.T) {
	f, m := helloDex(t)
	class, name, desc, err := f.MethodRef(m.Method)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ldemo/Main;", "main", "([Ljava/lang/String;)V"}, []string{class, name, desc})

	insns, err := m.Code.Instructions()
	require.NoError(t, err)
	class, name, desc, err = f.FieldRef(insns[0].Index)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ljava/lang/System;", "out", "Ljava/io/PrintStream;"}, []string{class, name, desc})

	_, err = f.TypeName(9999)
	assert.ErrorIs(t, err, errors.ErrIndexOutOfRange)
	assert.NotNil(t, f.Class("Ldemo/Main;"))
	assert.Nil(t, f.Class("Ldemo/Missing;"))
}

func TestDebugLines(t *testing.T) {
	_, m := helloDex(t)
	assert.Equal(t, [][2]int{{0, 3}, {4, 4}}, m.Code.Debug.Lines())
}

func TestCloneIsDeep(t *testing.T) {
	f, m := helloDex(t)
	c := f.Clone()

	c.Classes[0].Data.DirectMethods[0].Code.Insns[0] = 0
	c.Classes[0].Annotations.Class[0].Elements[0].Value = IntValue(1)
	c.Classes[0].StaticValues[0].Bits = 0
	_, err := c.AddString("only in the clone")
	require.NoError(t, err)

	assert.NotEqual(t, uint16(0), m.Code.Insns[0])
	assert.Equal(t, uint64(42), f.Classes[0].Annotations.Class[0].Elements[0].Value.Bits)
	assert.NotEqual(t, uint64(0), f.Classes[0].StaticValues[0].Bits)
	_, ok := f.Strings.Lookup(String{Data: "only in the clone"})
	assert.False(t, ok)
}
