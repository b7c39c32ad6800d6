// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/shrinkwrap/internal/errors"
)

func TestRoundTripWidthBoundaries(t *testing.T) {
	tests := []struct {
		name string
		insn Instruction
		form Opcode
	}{
		{"const/4 max", Instruction{Op: OpConst, A: 15, Literal: 7}, OpConst4},
		{"const/4 min", Instruction{Op: OpConst, A: 0, Literal: -8}, OpConst4},
		{"const/16 above nibble", Instruction{Op: OpConst, A: 0, Literal: 8}, OpConst16},
		{"const/4 register too wide", Instruction{Op: OpConst, A: 16, Literal: 1}, OpConst16},
		{"const/16 max", Instruction{Op: OpConst, A: 255, Literal: math.MaxInt16}, OpConst16},
		{"const/16 min", Instruction{Op: OpConst, A: 255, Literal: math.MinInt16}, OpConst16},
		{"const/high16", Instruction{Op: OpConst, A: 3, Literal: 0x10000}, OpConstHigh16},
		{"const/high16 negative", Instruction{Op: OpConst, A: 3, Literal: -0x10000}, OpConstHigh16},
		{"const above 16 bits", Instruction{Op: OpConst, A: 3, Literal: math.MaxInt16 + 1}, OpConst},
		{"const min", Instruction{Op: OpConst, A: 3, Literal: math.MinInt32 + 1}, OpConst},
		{"const-wide/16", Instruction{Op: OpConstWide, A: 2, Literal: math.MinInt16}, OpConstWide16},
		{"const-wide/32", Instruction{Op: OpConstWide, A: 2, Literal: math.MaxInt16 + 1}, OpConstWide32},
		{"const-wide/32 min", Instruction{Op: OpConstWide, A: 2, Literal: math.MinInt32}, OpConstWide32},
		{"const-wide/high16", Instruction{Op: OpConstWide, A: 2, Literal: 1 << 48}, OpConstWideHigh16},
		{"const-wide/high16 min", Instruction{Op: OpConstWide, A: 2, Literal: math.MinInt64}, OpConstWideHigh16},
		{"const-wide", Instruction{Op: OpConstWide, A: 255, Literal: 1<<40 | 1}, OpConstWide},
		{"const-string", ref(OpConstString, 255, math.MaxUint16), OpConstString},
		{"const-string/jumbo", ref(OpConstString, 255, math.MaxUint16+1), OpConstStringJumbo},
		{"move", Instruction{Op: OpMove, A: 15, B: 15}, OpMove},
		{"move/from16", Instruction{Op: OpMove, A: 255, B: math.MaxUint16}, OpMoveFrom16},
		{"move/16", Instruction{Op: OpMove, A: 256, B: 3}, OpMove16},
		{"move-wide/from16", Instruction{Op: OpMoveWide, A: 16, B: 2}, OpMoveWideFrom16},
		{"move-object/16", Instruction{Op: OpMoveObject, A: math.MaxUint16, B: math.MaxUint16}, OpMoveObject16},
		{"goto max", Instruction{Op: OpGoto, Jump: Jump{Delta: math.MaxInt8}}, OpGoto},
		{"goto min", Instruction{Op: OpGoto, Jump: Jump{Delta: math.MinInt8}}, OpGoto},
		{"goto/16", Instruction{Op: OpGoto, Jump: Jump{Delta: math.MaxInt8 + 1}}, OpGoto16},
		{"goto/16 min", Instruction{Op: OpGoto, Jump: Jump{Delta: math.MinInt16}}, OpGoto16},
		{"goto/32", Instruction{Op: OpGoto, Jump: Jump{Delta: math.MaxInt16 + 1}}, OpGoto32},
		{"goto self", Instruction{Op: OpGoto}, OpGoto32},
		{"if-eqz", Instruction{Op: OpIfEqz, A: 255, Jump: Jump{Delta: math.MinInt16}}, OpIfEqz},
		{"if-eq", Instruction{Op: OpIfEq, A: 15, B: 15, Jump: Jump{Delta: math.MaxInt16}}, OpIfEq},
		{"add-int/lit8", Instruction{Op: OpAddIntLit8, A: 255, B: 255, Literal: math.MaxInt8}, OpAddIntLit8},
		{"add-int/lit16", Instruction{Op: OpAddIntLit8, A: 1, B: 2, Literal: math.MaxInt8 + 1}, OpAddIntLit16},
		{"rsub-int", Instruction{Op: OpRsubIntLit8, A: 1, B: 2, Literal: math.MinInt16}, OpRsubInt},
		{"add-int", Instruction{Op: OpAddInt, A: 255, B: 255, C: 255}, OpAddInt},
		{"add-int/2addr", Instruction{Op: OpAddInt2addr, A: 15, B: 15}, OpAddInt2addr},
		{"sget-object", ref(OpSgetObject, 255, math.MaxUint16), OpSgetObject},
		{"iget", Instruction{Op: OpIget, A: 15, B: 15, Index: math.MaxUint16}, OpIget},
		{"const-method-type", ref(OpConstMethodType, 1, 4), OpConstMethodType},
		{"invoke-virtual five args", invoke(OpInvokeVirtual, math.MaxUint16, 1, 2, 3, 4, 15), OpInvokeVirtual},
		{"invoke-static no args", invoke(OpInvokeStatic, 7), OpInvokeStatic},
		{"invoke-static/range", Instruction{Op: OpInvokeStaticRange, A: 255, C: math.MaxUint16, Index: 7}, OpInvokeStaticRange},
		{"invoke-polymorphic", Instruction{Op: OpInvokePolymorphic, Args: []uint16{0, 1}, Index: 3, Proto: 9}, OpInvokePolymorphic},
		{"return-void", returnVoid, OpReturnVoid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, err := Encode(nil, tc.insn, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.form.Format().Units(), len(code))
			assert.Equal(t, len(code), tc.insn.Size(0))

			got, n, err := Decode(code, 0)
			require.NoError(t, err)
			assert.Equal(t, len(code), n)
			assert.Equal(t, tc.form, got.Form)
			assert.Equal(t, int(tc.insn.Jump.Delta), got.Jump.Target)
			got.Form, got.Offset, got.Length, got.Jump.Target = 0, 0, 0, 0
			assert.Equal(t, tc.insn, got)
		})
	}
}

func TestEncodeRejectsOperandsOutsideEveryForm(t *testing.T) {
	tests := []struct {
		name string
		insn Instruction
		want error
	}{
		{"const beyond 32 bits", Instruction{Op: OpConst, Literal: math.MaxInt32 + 1}, errors.ErrMalformedInstruction},
		{"lit16 with wide registers", Instruction{Op: OpAddIntLit8, A: 16, B: 1, Literal: 1000}, errors.ErrMalformedInstruction},
		{"if-eqz out of range", Instruction{Op: OpIfEqz, Jump: Jump{Delta: math.MaxInt16 + 1}}, errors.ErrBranchOutOfRange},
		{"concrete form", Instruction{Op: OpConst16, Literal: 1}, errors.ErrMalformedInstruction},
		{"invoke-custom", Instruction{Op: OpInvokeCustom}, errors.ErrMalformedInstruction},
		{"six arguments", invoke(OpInvokeVirtual, 1, 1, 2, 3, 4, 5, 6), errors.ErrMalformedInstruction},
		{"argument register above 15", invoke(OpInvokeVirtual, 1, 16), errors.ErrMalformedInstruction},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Encode(nil, tc.insn, 0)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		code []uint16
	}{
		{"unused opcode", []uint16{0x3e}},
		{"invoke-custom", []uint16{uint16(OpInvokeCustom), 0, 0}},
		{"const-method-handle", []uint16{uint16(OpConstMethodHandle), 0}},
		{"truncated const/16", []uint16{uint16(OpConst16)}},
		{"nop with operand", []uint16{0x0500}},
		{"return-void with operand", []uint16{uint16(OpReturnVoid) | 0x100}},
		{"misaligned payload", []uint16{0, uint16(OpPackedSwitchPayload), 0, 0, 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			off := 0
			if tc.name == "misaligned payload" {
				off = 1
			}
			_, _, err := Decode(tc.code, off)
			assert.ErrorIs(t, err, errors.ErrMalformedInstruction)
		})
	}
}

func TestSwitchPayloadIsAligned(t *testing.T) {
	// 0 packed-switch v0, payload at 4 (padding at 3)
	// payload targets are relative to the switch
	insns := []Instruction{
		{Op: OpPackedSwitch, A: 0, Jump: Jump{Delta: 4}},
		{Op: OpPackedSwitchPayload, Payload: &Payload{FirstKey: 10, Targets: []Jump{{Delta: 12}, {Delta: 13}}}},
		returnVoid,
		returnVoid,
	}
	code, err := EncodeAll(insns, false)
	require.NoError(t, err)
	// switch (3) + pad (1) + payload (4 + 2*2) + two returns
	require.Len(t, code, 14)
	assert.Equal(t, uint16(OpNop), code[3])
	assert.Equal(t, uint16(OpPackedSwitchPayload), code[4])

	decoded, n, err := DecodeAll(code)
	require.NoError(t, err)
	assert.Equal(t, len(code), n)
	require.Len(t, decoded, 5)
	assert.Equal(t, OpNop, decoded[1].Op)
	p := decoded[2].Payload
	require.NotNil(t, p)
	assert.Equal(t, 0, p.Base)
	assert.Equal(t, int32(10), p.FirstKey)
	assert.Equal(t, []int{12, 13}, []int{p.Targets[0].Target, p.Targets[1].Target})
	assert.Equal(t, decoded[0].Jump.Label, decoded[2].Labels[0])
	assert.Equal(t, p.BaseLabel, decoded[0].Labels[0])
}

func TestDecodeAllRejectsDanglingSwitch(t *testing.T) {
	code, err := EncodeAll([]Instruction{
		{Op: OpSparseSwitch, A: 0, Jump: Jump{Delta: 3}},
		returnVoid,
	}, false)
	require.NoError(t, err)
	_, _, err = DecodeAll(code)
	assert.ErrorIs(t, err, errors.ErrMalformedInstruction)
}

func TestFillArrayDataRoundTrip(t *testing.T) {
	insns := []Instruction{
		{Op: OpFillArrayData, A: 1, Jump: Jump{Delta: 4}},
		returnVoid,
		{Op: OpFillArrayDataPayload, Payload: &Payload{ElementWidth: 1, Data: []byte{1, 2, 3}}},
	}
	code, err := EncodeAll(insns, false)
	require.NoError(t, err)
	decoded, _, err := DecodeAll(code)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.Equal(t, []byte{1, 2, 3}, decoded[2].Payload.Data)
	assert.Equal(t, uint16(1), decoded[2].Payload.ElementWidth)
}

func TestEncodeAllStrictLength(t *testing.T) {
	insns, _, err := DecodeAll([]uint16{uint16(OpConst16), 5, uint16(OpReturnVoid)})
	require.NoError(t, err)

	_, err = EncodeAll(insns, true)
	require.ErrorIs(t, err, errors.ErrFixedLengthViolation)

	code, err := EncodeAll(insns, false)
	require.NoError(t, err)
	assert.Equal(t, []uint16{uint16(OpConst4) | 5<<12, uint16(OpReturnVoid)}, code)
}

func TestEncodeAsKeepsForm(t *testing.T) {
	insn := ref(OpConstString, 0, 3)
	code := EncodeAs(nil, insn, OpConstStringJumbo, 0)
	require.Len(t, code, 3)
	got, _, err := Decode(code, 0)
	require.NoError(t, err)
	assert.Equal(t, OpConstStringJumbo, got.Form)
	assert.Equal(t, uint32(3), got.Index)

	assert.Panics(t, func() { EncodeAs(nil, ref(OpConstString, 0, math.MaxUint16+1), OpConstString, 0) })
}
