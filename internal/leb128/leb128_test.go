// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package leb128

import (
	"math"
	"testing"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnsignedKnownEncodings(t *testing.T) {
	tests := []struct {
		v   uint32
		enc []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{624485, []byte{0xe5, 0x8e, 0x26}},
		{math.MaxUint32, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	}
	for _, tt := range tests {
		got := AppendU32(nil, tt.v)
		assert.Equal(t, tt.enc, got, "encode %d", tt.v)
		assert.Equal(t, len(tt.enc), SizeU32(tt.v))

		v, n, err := ReadU32(tt.enc, 0)
		require.NoError(t, err)
		assert.Equal(t, tt.v, v)
		assert.Equal(t, len(tt.enc), n)
	}
}

func TestSignedBoundaries(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 63, 64, -64, -65, 8191, -8192, math.MaxInt32, math.MinInt32} {
		enc := AppendS32(nil, v)
		got, n, err := ReadS32(enc, 0)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(enc), n)
	}
	assert.Equal(t, []byte{0x7f}, AppendS32(nil, -1))
	assert.Equal(t, []byte{0xc0, 0x00}, AppendS32(nil, 64))
}

func TestU32p1EncodesNoIndexInOneByte(t *testing.T) {
	enc := AppendU32p1(nil, math.MaxUint32)
	assert.Equal(t, []byte{0x00}, enc)

	v, n, err := ReadU32p1(enc, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), v)
	assert.Equal(t, 1, n)

	v, _, err = ReadU32p1(AppendU32p1(nil, 41), 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(41), v)
}

func TestReadErrors(t *testing.T) {
	_, _, err := ReadU32([]byte{0x80, 0x80}, 0)
	assert.ErrorIs(t, err, errors.ErrTruncated)

	_, _, err = ReadU32([]byte{0xff, 0xff, 0xff, 0xff, 0x7f}, 0)
	assert.ErrorIs(t, err, errors.ErrMalformedContainer)

	_, _, err = ReadS32([]byte{0x80}, 0)
	assert.ErrorIs(t, err, errors.ErrTruncated)

	_, _, err = ReadU32([]byte{0x01}, 1)
	assert.ErrorIs(t, err, errors.ErrTruncated)
}
