// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package leb128 implements the variable-length integer encodings used by
// register-machine containers: unsigned and signed LEB128 limited to 32 bits,
// and uleb128p1, which stores value+1 so that -1 (NO_INDEX) fits in one byte.
package leb128

import (
	"github.com/dotandev/shrinkwrap/internal/errors"
)

// maxLen is the longest legal encoding of a 32-bit value.
const maxLen = 5

// ReadU32 decodes an unsigned LEB128 value starting at data[pos]. It returns
// the value and the number of bytes consumed.
func ReadU32(data []byte, pos int) (uint32, int, error) {
	var result uint32
	var shift uint
	for i := 0; i < maxLen; i++ {
		if pos+i >= len(data) {
			return 0, 0, errors.WrapTruncated("uleb128")
		}
		b := data[pos+i]
		if i == maxLen-1 && b&0xf0 != 0 {
			return 0, 0, errors.WrapMalformedContainer("uleb128 at %d overflows 32 bits", pos)
		}
		result |= uint32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
	}
	return 0, 0, errors.WrapMalformedContainer("uleb128 at %d longer than %d bytes", pos, maxLen)
}

// ReadS32 decodes a signed LEB128 value starting at data[pos].
func ReadS32(data []byte, pos int) (int32, int, error) {
	var result int64
	var shift uint
	for i := 0; i < maxLen; i++ {
		if pos+i >= len(data) {
			return 0, 0, errors.WrapTruncated("sleb128")
		}
		b := data[pos+i]
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -(1 << shift)
			}
			if result < -1<<31 || result > 1<<31-1 {
				return 0, 0, errors.WrapMalformedContainer("sleb128 at %d overflows 32 bits", pos)
			}
			return int32(result), i + 1, nil
		}
	}
	return 0, 0, errors.WrapMalformedContainer("sleb128 at %d longer than %d bytes", pos, maxLen)
}

// ReadU32p1 decodes a uleb128p1 value. The encoded 0 decodes to 0xffffffff.
func ReadU32p1(data []byte, pos int) (uint32, int, error) {
	v, n, err := ReadU32(data, pos)
	if err != nil {
		return 0, 0, err
	}
	return v - 1, n, nil
}

// AppendU32 appends the unsigned LEB128 encoding of v.
func AppendU32(dst []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// AppendS32 appends the signed LEB128 encoding of v.
func AppendS32(dst []byte, v int32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// AppendU32p1 appends the uleb128p1 encoding of v.
func AppendU32p1(dst []byte, v uint32) []byte {
	return AppendU32(dst, v+1)
}

// SizeU32 reports how many bytes AppendU32 would write for v.
func SizeU32(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
