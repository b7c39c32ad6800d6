// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

import (
	"encoding/binary"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/leb128"
)

// reader is a little-endian cursor over dex bytes.
type reader struct {
	data []byte
	pos  int
	what string
}

func (r *reader) need(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return errors.WrapTruncated(r.what)
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) uleb() (uint32, error) {
	v, n, err := leb128.ReadU32(r.data, r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *reader) sleb() (int32, error) {
	v, n, err := leb128.ReadS32(r.data, r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *reader) ulebp1() (uint32, error) {
	v, n, err := leb128.ReadU32p1(r.data, r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

// writer accumulates little-endian output. Offsets are positions in the
// finished file.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)      { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16)    { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32)    { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) bytes(b []byte)  { w.buf = append(w.buf, b...) }
func (w *writer) uleb(v uint32)   { w.buf = leb128.AppendU32(w.buf, v) }
func (w *writer) sleb(v int32)    { w.buf = leb128.AppendS32(w.buf, v) }
func (w *writer) ulebp1(v uint32) { w.buf = leb128.AppendU32p1(w.buf, v) }
func (w *writer) len() int        { return len(w.buf) }

// align pads with zeros up to a multiple of n.
func (w *writer) align(n int) {
	for len(w.buf)%n != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) patchU32(pos int, v uint32) {
	binary.LittleEndian.PutUint32(w.buf[pos:], v)
}
