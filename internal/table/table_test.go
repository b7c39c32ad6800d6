// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package table

import (
	"testing"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	kindText Kind = iota + 1
	kindBig
)

type testEntry struct {
	kind Kind
	text string
}

func (e testEntry) Kind() Kind { return e.kind }
func (e testEntry) Wide() bool { return e.kind == kindBig }

func text(s string) testEntry { return testEntry{kind: kindText, text: s} }

func TestAddOrGetDeduplicates(t *testing.T) {
	tb := New[testEntry](1)

	a, err := tb.AddOrGet(text("a"))
	require.NoError(t, err)
	b, err := tb.AddOrGet(text("b"))
	require.NoError(t, err)
	again, err := tb.AddOrGet(text("a"))
	require.NoError(t, err)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
	assert.Equal(t, a, again)
	assert.Equal(t, 2, tb.Count())
	assert.Equal(t, 3, tb.End())
}

func TestReservedIndexZero(t *testing.T) {
	tb := New[testEntry](1)
	_, err := tb.AddOrGet(text("x"))
	require.NoError(t, err)

	_, err = tb.Get(0, kindText)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrIndexOutOfRange)
	assert.ErrorIs(t, err, errors.ErrReservedIndex)
	assert.False(t, tb.Valid(0))
}

func TestDenseTableAcceptsZero(t *testing.T) {
	tb := New[testEntry](0)
	idx, err := tb.AddOrGet(text("first"))
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	e, err := tb.Get(0, kindText)
	require.NoError(t, err)
	assert.Equal(t, "first", e.text)
}

func TestWideEntriesTakeTwoSlots(t *testing.T) {
	tb := New[testEntry](1)
	big, err := tb.AddOrGet(testEntry{kind: kindBig, text: "9"})
	require.NoError(t, err)
	next, err := tb.AddOrGet(text("after"))
	require.NoError(t, err)

	assert.Equal(t, 1, big)
	assert.Equal(t, 3, next)
	assert.Equal(t, 3, tb.Len())
	assert.Equal(t, 2, tb.Count())

	_, err = tb.At(2)
	assert.ErrorIs(t, err, errors.ErrIndexOutOfRange)

	var seen []int
	for idx := range tb.All() {
		seen = append(seen, idx)
	}
	assert.Equal(t, []int{1, 3}, seen)
}

func TestGetKindMismatch(t *testing.T) {
	tb := New[testEntry](1)
	idx, err := tb.AddOrGet(text("a"))
	require.NoError(t, err)

	_, err = tb.Get(idx, kindBig)
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)

	_, err = tb.Get(99, kindText)
	assert.ErrorIs(t, err, errors.ErrIndexOutOfRange)
}

func TestLimit(t *testing.T) {
	tb := New[testEntry](1).WithLimit(2)
	_, err := tb.AddOrGet(text("a"))
	require.NoError(t, err)

	_, err = tb.AddOrGet(testEntry{kind: kindBig, text: "1"})
	assert.ErrorIs(t, err, errors.ErrTableFull)

	_, err = tb.AddOrGet(text("b"))
	require.NoError(t, err)
	_, err = tb.AddOrGet(text("c"))
	assert.ErrorIs(t, err, errors.ErrTableFull)

	// Existing entries still resolve once full.
	idx, err := tb.AddOrGet(text("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestCloneIsIndependent(t *testing.T) {
	tb := New[testEntry](1)
	_, _ = tb.AddOrGet(text("a"))
	c := tb.Clone()
	assert.True(t, tb.Equal(c))

	_, _ = c.AddOrGet(text("b"))
	assert.Equal(t, 1, tb.Count())
	assert.Equal(t, 2, c.Count())
	assert.False(t, tb.Equal(c))
	_, ok := tb.Lookup(text("b"))
	assert.False(t, ok)
}
