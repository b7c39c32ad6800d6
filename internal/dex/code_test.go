// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/reloc"
)

// branchyCode is
//
//	0 if-eqz v0, +3
//	2 return-void
//	3 const/4 v0, 1
//	4 return v0
//
// with [0, 3) guarded by a catch-all at 3 and lines at 0 and 3.
func branchyCode(t *testing.T) *Code {
	code, err := EncodeAll([]Instruction{
		{Op: OpIfEqz, A: 0, Jump: Jump{Delta: 3}},
		returnVoid,
		{Op: OpConst, A: 0, Literal: 1},
		{Op: OpReturn, A: 0},
	}, false)
	require.NoError(t, err)
	require.Len(t, code, 5)
	return &Code{
		Registers: 1,
		Insns:     code,
		Tries:     []Try{{Start: 0, Count: 3, Handler: 0}},
		Handlers:  []CatchHandler{{HasCatchAll: true, CatchAll: 3}},
		Debug: &DebugInfo{
			LineStart: 1,
			Ops:       []DebugOp{lineOp(t, 0, 0), lineOp(t, 3, 1)},
		},
	}
}

func TestRewriteRelocatesOffsets(t *testing.T) {
	c := branchyCode(t)
	res, err := c.Edit(func(ed *reloc.Editor[Instruction]) error {
		ed.InsertBefore(0, Instruction{Op: OpConst, A: 1, Literal: 100})
		return nil
	}, reloc.Options{})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Length)
	assert.Len(t, c.Insns, 7)

	insns, err := c.Instructions()
	require.NoError(t, err)
	require.Len(t, insns, 5)
	assert.Equal(t, OpConst16, insns[0].Form)
	assert.Equal(t, OpIfEqz, insns[1].Op)
	assert.Equal(t, int32(3), insns[1].Jump.Delta)
	assert.Equal(t, 5, insns[1].Jump.Target)

	assert.Equal(t, []Try{{Start: 0, Count: 5, Handler: 0}}, c.Tries)
	assert.Equal(t, uint32(5), c.Handlers[0].CatchAll)
	assert.Equal(t, [][2]int{{0, 1}, {5, 2}}, c.Debug.Lines())
}

func TestRewriteForwardsRemovedOffsets(t *testing.T) {
	c := branchyCode(t)
	_, err := c.Edit(func(ed *reloc.Editor[Instruction]) error {
		ed.Remove(1)
		return nil
	}, reloc.Options{})
	require.NoError(t, err)

	insns, err := c.Instructions()
	require.NoError(t, err)
	require.Len(t, insns, 3)
	assert.Equal(t, int32(2), insns[0].Jump.Delta)
	assert.Equal(t, OpConst, insns[1].Op)

	assert.Equal(t, []Try{{Start: 0, Count: 2, Handler: 0}}, c.Tries)
	assert.Equal(t, uint32(2), c.Handlers[0].CatchAll)
	assert.Equal(t, [][2]int{{0, 1}, {2, 2}}, c.Debug.Lines())
}

func TestRewriteDropsEmptyTryRange(t *testing.T) {
	c := branchyCode(t)
	c.Tries = []Try{{Start: 2, Count: 1, Handler: 0}}
	_, err := c.Edit(func(ed *reloc.Editor[Instruction]) error {
		ed.Remove(1)
		return nil
	}, reloc.Options{})
	require.NoError(t, err)
	assert.Empty(t, c.Tries)
	assert.Nil(t, c.Handlers)
}

func TestRewriteKeepsPayloadAligned(t *testing.T) {
	// 0 packed-switch v0 -> payload at 4
	// 3 return-void
	// 4 payload with one target, relative to the switch, at 3
	code, err := EncodeAll([]Instruction{
		{Op: OpPackedSwitch, A: 0, Jump: Jump{Delta: 4}},
		returnVoid,
		{Op: OpPackedSwitchPayload, Payload: &Payload{Targets: []Jump{{Delta: 3}}}},
	}, false)
	require.NoError(t, err)
	require.Len(t, code, 10)
	c := &Code{Registers: 1, Insns: code}

	_, err = c.Edit(func(ed *reloc.Editor[Instruction]) error {
		ed.InsertBefore(0, Instruction{Op: OpNop})
		return nil
	}, reloc.Options{})
	require.NoError(t, err)
	// nop, switch at 1, return-void at 4, padding at 5, payload at 6
	require.Len(t, c.Insns, 12)
	assert.Equal(t, uint16(OpPackedSwitchPayload), c.Insns[6])

	insns, err := c.Instructions()
	require.NoError(t, err)
	require.Len(t, insns, 5)
	sw := insns[1]
	assert.Equal(t, OpPackedSwitch, sw.Op)
	assert.Equal(t, int32(5), sw.Jump.Delta)
	p := insns[4].Payload
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Base)
	assert.Equal(t, 4, p.Targets[0].Target)
	assert.Equal(t, OpReturnVoid, insns[2].Op)
	assert.Equal(t, 4, insns[2].Offset)
}

func TestRewriteStrictLength(t *testing.T) {
	c := branchyCode(t)
	before := append([]uint16(nil), c.Insns...)
	_, err := c.Edit(func(ed *reloc.Editor[Instruction]) error {
		ed.InsertBefore(0, Instruction{Op: OpNop})
		return nil
	}, reloc.Options{StrictLength: true, ExpectedLength: 5})
	assert.ErrorIs(t, err, errors.ErrFixedLengthViolation)
	assert.Equal(t, before, c.Insns)
	assert.Equal(t, uint32(3), c.Handlers[0].CatchAll)
}

func TestRewriteRejectsEmptyBody(t *testing.T) {
	code, err := EncodeAll([]Instruction{returnVoid}, false)
	require.NoError(t, err)
	c := &Code{Insns: code}
	_, err = c.Edit(func(ed *reloc.Editor[Instruction]) error {
		ed.Remove(0)
		return nil
	}, reloc.Options{})
	assert.ErrorIs(t, err, errors.ErrMalformedContainer)
	assert.Equal(t, code, c.Insns)
}
