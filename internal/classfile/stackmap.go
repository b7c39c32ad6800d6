// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"github.com/dotandev/shrinkwrap/internal/errors"
)

// Verification type tags.
const (
	VerifyTop               uint8 = 0
	VerifyInteger           uint8 = 1
	VerifyFloat             uint8 = 2
	VerifyDouble            uint8 = 3
	VerifyLong              uint8 = 4
	VerifyNull              uint8 = 5
	VerifyUninitializedThis uint8 = 6
	VerifyObject            uint8 = 7
	VerifyUninitialized     uint8 = 8
)

// VerificationType is one stack map slot. Class is the pool index of an
// Object type; Offset is the code offset of the new instruction that
// created an Uninitialized value.
type VerificationType struct {
	Tag    uint8
	Class  uint16
	Offset uint16
}

// FrameKind is the family of a stack map frame.
type FrameKind uint8

const (
	FrameSame FrameKind = iota
	FrameSameLocals1
	FrameChop
	FrameAppend
	FrameFull
)

// Frame is one StackMapTable entry. Delta is the offset_delta as stored.
// Extended records that a same or same_locals_1 frame used the form with
// an explicit delta even though the short form would have fitted.
type Frame struct {
	Kind     FrameKind
	Delta    uint16
	Extended bool
	Chop     uint8
	Locals   []VerificationType
	Stack    []VerificationType
}

type StackMapTable struct {
	AttrHeader
	Frames []Frame
}

func readVerificationType(r *reader) (VerificationType, error) {
	tag, err := r.u8()
	if err != nil {
		return VerificationType{}, err
	}
	v := VerificationType{Tag: tag}
	switch tag {
	case VerifyObject:
		v.Class, err = r.u16()
	case VerifyUninitialized:
		v.Offset, err = r.u16()
	default:
		if tag > VerifyUninitialized {
			return v, errors.WrapMalformedContainer("verification type tag %d", tag)
		}
	}
	return v, err
}

func readVerificationTypes(r *reader, n int) ([]VerificationType, error) {
	out := make([]VerificationType, n)
	for i := range out {
		var err error
		if out[i], err = readVerificationType(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func parseStackMapTable(r *reader, _ *parser, h AttrHeader) (Attribute, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	a := &StackMapTable{AttrHeader: h, Frames: make([]Frame, n)}
	for i := range a.Frames {
		if a.Frames[i], err = readFrame(r); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func readFrame(r *reader) (Frame, error) {
	t, err := r.u8()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	switch {
	case t <= 63:
		f = Frame{Kind: FrameSame, Delta: uint16(t)}
	case t <= 127:
		f = Frame{Kind: FrameSameLocals1, Delta: uint16(t - 64)}
		f.Stack, err = readVerificationTypes(r, 1)
	case t < 247:
		return f, errors.WrapMalformedContainer("reserved stack map frame type %d", t)
	case t == 247:
		f = Frame{Kind: FrameSameLocals1, Extended: true}
		if f.Delta, err = r.u16(); err == nil {
			f.Stack, err = readVerificationTypes(r, 1)
		}
	case t <= 250:
		f = Frame{Kind: FrameChop, Chop: 251 - t}
		f.Delta, err = r.u16()
	case t == 251:
		f = Frame{Kind: FrameSame, Extended: true}
		f.Delta, err = r.u16()
	case t <= 254:
		f = Frame{Kind: FrameAppend}
		if f.Delta, err = r.u16(); err == nil {
			f.Locals, err = readVerificationTypes(r, int(t-251))
		}
	default:
		f = Frame{Kind: FrameFull}
		if f.Delta, err = r.u16(); err != nil {
			return f, err
		}
		var nl, ns uint16
		if nl, err = r.u16(); err != nil {
			return f, err
		}
		if f.Locals, err = readVerificationTypes(r, int(nl)); err != nil {
			return f, err
		}
		if ns, err = r.u16(); err != nil {
			return f, err
		}
		f.Stack, err = readVerificationTypes(r, int(ns))
	}
	return f, err
}

func writeVerificationType(w *writer, v VerificationType) {
	w.u8(v.Tag)
	switch v.Tag {
	case VerifyObject:
		w.u16(v.Class)
	case VerifyUninitialized:
		w.u16(v.Offset)
	}
}

func writeStackMapTable(w *writer, a *StackMapTable) error {
	w.u16(uint16(len(a.Frames)))
	for _, f := range a.Frames {
		switch f.Kind {
		case FrameSame:
			if !f.Extended && f.Delta <= 63 {
				w.u8(uint8(f.Delta))
			} else {
				w.u8(251)
				w.u16(f.Delta)
			}
		case FrameSameLocals1:
			if len(f.Stack) != 1 {
				return errors.WrapMalformedContainer("same_locals_1_stack_item frame with %d stack items", len(f.Stack))
			}
			if !f.Extended && f.Delta <= 63 {
				w.u8(64 + uint8(f.Delta))
			} else {
				w.u8(247)
				w.u16(f.Delta)
			}
			writeVerificationType(w, f.Stack[0])
		case FrameChop:
			if f.Chop < 1 || f.Chop > 3 {
				return errors.WrapMalformedContainer("chop frame removing %d locals", f.Chop)
			}
			w.u8(251 - f.Chop)
			w.u16(f.Delta)
		case FrameAppend:
			if len(f.Locals) < 1 || len(f.Locals) > 3 {
				return errors.WrapMalformedContainer("append frame adding %d locals", len(f.Locals))
			}
			w.u8(251 + uint8(len(f.Locals)))
			w.u16(f.Delta)
			for _, v := range f.Locals {
				writeVerificationType(w, v)
			}
		case FrameFull:
			w.u8(255)
			w.u16(f.Delta)
			w.u16(uint16(len(f.Locals)))
			for _, v := range f.Locals {
				writeVerificationType(w, v)
			}
			w.u16(uint16(len(f.Stack)))
			for _, v := range f.Stack {
				writeVerificationType(w, v)
			}
		}
	}
	return nil
}

func (a *StackMapTable) refs(fn func(*uint16)) {
	a.types(func(v *VerificationType) {
		if v.Tag == VerifyObject {
			fn(&v.Class)
		}
	})
}

func (a *StackMapTable) types(fn func(*VerificationType)) {
	for i := range a.Frames {
		f := &a.Frames[i]
		for j := range f.Locals {
			fn(&f.Locals[j])
		}
		for j := range f.Stack {
			fn(&f.Stack[j])
		}
	}
}

func (a *StackMapTable) clone() *StackMapTable {
	c := &StackMapTable{AttrHeader: a.AttrHeader, Frames: make([]Frame, len(a.Frames))}
	for i, f := range a.Frames {
		f.Locals = append([]VerificationType(nil), f.Locals...)
		f.Stack = append([]VerificationType(nil), f.Stack...)
		c.Frames[i] = f
	}
	return c
}

// Offsets returns the absolute code offset of every frame.
func (a *StackMapTable) Offsets() []int {
	out := make([]int, len(a.Frames))
	prev := -1
	for i, f := range a.Frames {
		prev += int(f.Delta) + 1
		out[i] = prev
	}
	return out
}

// relocate moves frames and Uninitialized offsets to new positions. Frames
// must stay strictly increasing.
func (a *StackMapTable) relocate(newOffset func(int) int) error {
	offsets := a.Offsets()
	prev := -1
	for i := range a.Frames {
		n := newOffset(offsets[i])
		if n <= prev {
			return errors.WrapMalformedContainer("stack map frame %d moved to %d, not after %d", i, n, prev)
		}
		d := n - prev - 1
		if d > 0xffff {
			return errors.WrapMalformedContainer("stack map frame %d delta %d overflows u16", i, d)
		}
		a.Frames[i].Delta = uint16(d)
		prev = n
	}
	a.types(func(v *VerificationType) {
		if v.Tag == VerifyUninitialized {
			v.Offset = uint16(newOffset(int(v.Offset)))
		}
	})
	return nil
}
