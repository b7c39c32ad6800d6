// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package reloc

import (
	"testing"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// toyInsn is a byte-addressed instruction used to exercise the relinker
// without a real format. Branches are 3 bytes, or 5 when the delta does not
// fit a signed byte.
type toyInsn struct {
	offset  int
	size    int
	branch  bool
	label   string
	target  int
	delta   int
	defines []string
}

type toyCodec struct{}

func (toyCodec) Labels(i toyInsn) []string { return i.defines }

func (toyCodec) Size(i toyInsn, _ int) int {
	if i.branch {
		if i.delta < -128 || i.delta > 127 {
			return 5
		}
		return 3
	}
	return i.size
}

func (toyCodec) Resolve(i toyInsn, at int, ctx *Context) (toyInsn, error) {
	if !i.branch {
		return i, nil
	}
	d, err := ctx.Jump(at, i.label, i.target)
	if err != nil {
		return i, err
	}
	i.delta = d
	return i, nil
}

func (c toyCodec) Append(dst []byte, i toyInsn, at int) ([]byte, error) {
	n := c.Size(i, at)
	buf := make([]byte, n)
	if i.branch {
		buf[0] = byte(i.delta)
	}
	return append(dst, buf...), nil
}

func pad(offset, size int) toyInsn { return toyInsn{offset: offset, size: size} }

func relink(t *testing.T, items []Item[toyInsn], opts Options) *Result[toyInsn, byte] {
	t.Helper()
	res, err := Relink[toyInsn, byte](toyCodec{}, items, nil, opts)
	require.NoError(t, err)
	return res
}

func offsetOf(i toyInsn) int { return i.offset }

func TestContextMode(t *testing.T) {
	strict := NewContext(Strict)
	assert.Equal(t, Strict, strict.Mode())
	assert.False(t, strict.Lenient())

	lenient := NewContext(Lenient)
	assert.Equal(t, "lenient", lenient.Mode().String())
	assert.True(t, lenient.Lenient())
}

func TestContextIdentityAndMapping(t *testing.T) {
	ctx := NewContext(Strict)
	assert.Equal(t, 7, ctx.NewOffset(7))
	assert.Equal(t, 7, ctx.OldOffset(7))
	assert.Equal(t, 10, ctx.OffsetDiffToTargetOffset(10, 20))

	ctx.SetOldToNewOffsetMapping(20, 22)
	assert.Equal(t, 22, ctx.NewOffset(20))
	assert.Equal(t, 20, ctx.OldOffset(22))
	assert.True(t, ctx.Mapped(20))
	assert.Equal(t, 10, ctx.OffsetDiffToTargetOffset(12, 20))
}

func TestContextLabels(t *testing.T) {
	strict := NewContext(Strict)
	_, err := strict.Offset("missing")
	assert.ErrorIs(t, err, errors.ErrUnresolvedLabel)
	_, err = strict.Jump(0, "missing", 4)
	assert.ErrorIs(t, err, errors.ErrUnresolvedLabel)

	lenient := NewContext(Lenient)
	off, err := lenient.Offset("missing")
	require.NoError(t, err)
	assert.Equal(t, NoOffset, off)
	d, err := lenient.Jump(2, "missing", 6)
	require.NoError(t, err)
	assert.Equal(t, 4, d)

	lenient.SetLabel("L", 9)
	d, err = lenient.OffsetDiffToTargetLabel(3, "L")
	require.NoError(t, err)
	assert.Equal(t, 6, d)
}

func TestRelocationKeepsLogicalTarget(t *testing.T) {
	body := []toyInsn{
		pad(0, 10),
		{offset: 10, branch: true, label: "L1", target: 20, delta: 10},
		pad(13, 7),
		{offset: 20, size: 1, defines: []string{"L1"}},
	}
	ed := NewEditor(body, offsetOf)
	ed.InsertBefore(1, toyInsn{size: 2, offset: -1})
	items, end := ed.Items()
	assert.Empty(t, end)

	res := relink(t, items, Options{OldLength: 21})
	assert.Equal(t, []int{0, 10, 12, 15, 22}, res.Offsets)
	assert.Equal(t, 10, res.Insns[2].delta)
	assert.Equal(t, 23, res.Length)
	assert.Equal(t, 23, res.Context.NewOffset(21))
	assert.Equal(t, 1, res.Passes)

	// Without the label the old target is mapped through the offset table.
	body[1].label = ""
	ed = NewEditor(body, offsetOf)
	ed.InsertBefore(1, toyInsn{size: 2, offset: -1})
	items, _ = ed.Items()
	res = relink(t, items, Options{OldLength: 21})
	assert.Equal(t, 10, res.Insns[2].delta)
	assert.Equal(t, 22, res.Context.NewOffset(20))
}

func TestRelinkUnchangedBodyIsIdentity(t *testing.T) {
	body := []toyInsn{
		{offset: 0, branch: true, target: 5, delta: 5},
		pad(3, 2),
		pad(5, 1),
	}
	res := relink(t, Items(body, offsetOf), Options{OldLength: 6, StrictLength: true, ExpectedLength: 6})
	assert.Equal(t, []int{0, 3, 5}, res.Offsets)
	assert.Equal(t, 5, res.Insns[0].delta)
	assert.Equal(t, []byte{5, 0, 0, 0, 0, 0}, res.Code)
}

func TestIterativeRelaxation(t *testing.T) {
	body := []toyInsn{
		{offset: 0, branch: true, label: "far"},
		pad(3, 126),
		{offset: 129, size: 1, defines: []string{"far"}},
	}
	res := relink(t, Items(body, offsetOf), Options{OldLength: 130})
	assert.Equal(t, 2, res.Passes)
	assert.Equal(t, 131, res.Insns[0].delta)
	assert.Equal(t, []int{0, 5, 131}, res.Offsets)
	assert.Len(t, res.Code, 132)

	_, err := Relink[toyInsn, byte](toyCodec{}, Items(body, offsetOf), nil, Options{MaxPasses: 1})
	assert.ErrorIs(t, err, errors.ErrNotConverged)
}

func TestStrictLengthViolation(t *testing.T) {
	body := []toyInsn{pad(0, 4)}
	ed := NewEditor(body, offsetOf)
	ed.Append(pad(-1, 2))
	items, _ := ed.Items()

	_, err := Relink[toyInsn, byte](toyCodec{}, items, nil, Options{StrictLength: true, ExpectedLength: 4})
	assert.ErrorIs(t, err, errors.ErrFixedLengthViolation)

	res := relink(t, items, Options{})
	assert.Equal(t, 6, res.Length)
}

func TestUnresolvedLabelModes(t *testing.T) {
	body := []toyInsn{{offset: 0, branch: true, label: "nowhere", target: 3, delta: 3}, pad(3, 1)}

	_, err := Relink[toyInsn, byte](toyCodec{}, Items(body, offsetOf), nil, Options{Mode: Strict})
	assert.ErrorIs(t, err, errors.ErrUnresolvedLabel)

	res := relink(t, Items(body, offsetOf), Options{Mode: Lenient})
	assert.Equal(t, 3, res.Insns[0].delta)
}

func TestPresetLabelsSurvivePasses(t *testing.T) {
	ctx := NewContext(Strict)
	ctx.SetLabel("outside", 200)
	body := []toyInsn{{offset: 0, branch: true, label: "outside"}}
	res, err := Relink[toyInsn, byte](toyCodec{}, Items(body, offsetOf), ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 200, res.Insns[0].delta)
	assert.Equal(t, 2, res.Passes)
}

func TestPresetOffsetMappingsSurvivePasses(t *testing.T) {
	ctx := NewContext(Strict)
	ctx.SetOldToNewOffsetMapping(100, 140)
	body := []toyInsn{{offset: 0, branch: true, target: 100, delta: 100}}
	res, err := Relink[toyInsn, byte](toyCodec{}, Items(body, offsetOf), ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 140, res.Insns[0].delta)
	assert.Equal(t, 140, res.Context.NewOffset(100))
	assert.Equal(t, 100, res.Context.OldOffset(140))
	// The branch itself was laid out at 0.
	assert.Equal(t, 0, res.Context.NewOffset(0))
}

func TestLayoutOverridesPresetOffsetMapping(t *testing.T) {
	ctx := NewContext(Strict)
	ctx.SetOldToNewOffsetMapping(3, 50)
	body := []toyInsn{pad(0, 3), pad(3, 1)}
	res, err := Relink[toyInsn, byte](toyCodec{}, Items(body, offsetOf), ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Context.NewOffset(3))
}

func TestEditorForwarding(t *testing.T) {
	body := []toyInsn{pad(0, 1), pad(1, 1), pad(2, 1), pad(3, 1)}

	ed := NewEditor(body, offsetOf)
	ed.Remove(1)
	ed.Replace(2, pad(-1, 2), pad(-1, 3))
	ed.InsertAfter(0, pad(-1, 4))
	ed.Remove(3)
	items, end := ed.Items()

	require.Len(t, items, 4)
	assert.Equal(t, []int{0}, items[0].Origins)
	assert.Nil(t, items[1].Origins)
	assert.Equal(t, []int{1, 2}, items[2].Origins)
	assert.Nil(t, items[3].Origins)
	assert.Equal(t, []int{3}, end)

	res := relink(t, items, Options{OldLength: 4, EndOrigins: end})
	assert.Equal(t, 5, res.Context.NewOffset(1))
	assert.Equal(t, 5, res.Context.NewOffset(2))
	assert.Equal(t, 10, res.Context.NewOffset(3))
	assert.Equal(t, 10, res.Context.NewOffset(4))
}

func TestEditorOutOfRangePanics(t *testing.T) {
	ed := NewEditor([]toyInsn{pad(0, 1)}, offsetOf)
	assert.PanicsWithValue(t, &errors.InternalError{Msg: "editor position 3 outside [0, 1)"}, func() {
		ed.Remove(3)
	})
}
