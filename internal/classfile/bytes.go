// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"encoding/binary"

	"github.com/dotandev/shrinkwrap/internal/errors"
)

// reader is a big-endian cursor over class file bytes.
type reader struct {
	data []byte
	pos  int
	// what names the structure being read, for truncation errors.
	what string
}

func newReader(data []byte, what string) *reader {
	return &reader{data: data, what: what}
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
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
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

func (r *reader) u16s() ([]uint16, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	out := make([]uint16, n)
	for i := range out {
		if out[i], err = r.u16(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *reader) done() bool { return r.pos == len(r.data) }

// writer accumulates big-endian output.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }
func (w *writer) len() int { return len(w.buf) }
func (w *writer) u16s(vs []uint16) {
	w.u16(uint16(len(vs)))
	for _, v := range vs {
		w.u16(v)
	}
}

// patchU32 overwrites four bytes at pos, used for attribute lengths.
func (w *writer) patchU32(pos int, v uint32) {
	binary.BigEndian.PutUint32(w.buf[pos:], v)
}
