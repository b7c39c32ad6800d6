// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

import (
	"fmt"
	"math"
	"strings"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/reloc"
)

// Jump is a relative reference in code units. Target is the absolute
// offset in the code the instruction was decoded from; Label, when set,
// names the destination instead.
type Jump struct {
	Delta  int32
	Target int
	Label  string
}

// Payload is the body of a packed-switch, sparse-switch or fill-array-data
// payload.
type Payload struct {
	// FirstKey is the key of the first target of a packed switch.
	FirstKey int32
	// Keys are the sorted keys of a sparse switch, one per target.
	Keys    []int32
	Targets []Jump
	// ElementWidth and Data describe a fill-array-data table.
	ElementWidth uint16
	Data         []byte
	// Base is the offset of the switch that refers to this payload. Switch
	// targets are relative to it, not to the payload. BaseLabel, when set,
	// names the switch instead.
	Base      int
	BaseLabel string
}

func (p *Payload) clone() *Payload {
	c := *p
	c.Keys = append([]int32(nil), p.Keys...)
	c.Targets = append([]Jump(nil), p.Targets...)
	c.Data = append([]byte(nil), p.Data...)
	return &c
}

// Instruction is one decoded Dalvik instruction.
//
// Register operands use the letters of the format: A, B and C. For the
// 3rc and 4rcc range forms A is the register count and C the first
// register. 35c and 45cc list their argument registers in Args.
//
// Op is the instruction family. const/4, const/16, const/high16 and const
// decode to OpConst; the const-wide forms to OpConstWide; const-string/jumbo
// to OpConstString; the from16 and /16 moves to their 12x opcode;
// goto/16 and goto/32 to OpGoto; the lit16 binary operations to their lit8
// opcode. Form is the concrete opcode that was decoded.
type Instruction struct {
	Op     Opcode
	Form   Opcode
	Offset int
	Length int

	A, B, C uint16
	Args    []uint16
	Literal int64
	Index   uint32
	Proto   uint16

	Jump    Jump
	Payload *Payload
	Labels  []string
}

const (
	litOps  = 8 // binary operations with both a lit8 and a lit16 form
	maxArgs = 5
)

// family maps a concrete opcode to the instruction family it belongs to.
func family(form Opcode) Opcode {
	switch form {
	case OpConst4, OpConst16, OpConstHigh16:
		return OpConst
	case OpConstWide16, OpConstWide32, OpConstWideHigh16:
		return OpConstWide
	case OpConstStringJumbo:
		return OpConstString
	case OpMoveFrom16, OpMove16:
		return OpMove
	case OpMoveWideFrom16, OpMoveWide16:
		return OpMoveWide
	case OpMoveObjectFrom16, OpMoveObject16:
		return OpMoveObject
	case OpGoto16, OpGoto32:
		return OpGoto
	}
	if form >= OpAddIntLit16 && form < OpAddIntLit16+litOps {
		return form - OpAddIntLit16 + OpAddIntLit8
	}
	return form
}

// canonical reports whether op names a family rather than one of its
// concrete forms.
func canonical(op Opcode) bool {
	return op.Valid() && family(op) == op
}

func fitsInt4(v int64) bool  { return v >= -8 && v <= 7 }
func fitsInt8(v int64) bool  { return v >= math.MinInt8 && v <= math.MaxInt8 }
func fitsInt16(v int64) bool { return v >= math.MinInt16 && v <= math.MaxInt16 }
func fitsInt32(v int64) bool { return v >= math.MinInt32 && v <= math.MaxInt32 }

func payloadUnits(op Opcode, p *Payload) int {
	if p == nil {
		return 0
	}
	switch op {
	case OpPackedSwitchPayload:
		return 4 + 2*len(p.Targets)
	case OpSparseSwitchPayload:
		return 2 + 4*len(p.Targets)
	case OpFillArrayDataPayload:
		return 4 + (len(p.Data)+1)/2
	}
	return 0
}

// payloadPad is the number of nop units placed before a payload at offset
// so that it starts on a 4-byte boundary.
func payloadPad(offset int) int { return offset % 2 }

type units struct {
	code   []uint16
	offset int
}

func (u units) need(n int) error {
	if u.offset+n > len(u.code) {
		return errors.WrapMalformedInstruction(u.offset, "truncated %s", Opcode(u.code[u.offset]&0xff))
	}
	return nil
}

func (u units) at(i int) uint16 { return u.code[u.offset+i] }

func (u units) u32(i int) uint32 {
	return uint32(u.at(i)) | uint32(u.at(i+1))<<16
}

// Decode reads the instruction that starts at code[offset]. It returns the
// instruction and its length in code units.
func Decode(code []uint16, offset int) (Instruction, int, error) {
	if offset < 0 || offset >= len(code) {
		return Instruction{}, 0, errors.WrapMalformedInstruction(offset, "offset outside code of %d units", len(code))
	}
	u := units{code: code, offset: offset}
	u0 := u.at(0)
	form := Opcode(u0 & 0xff)
	if form == OpNop && u0 != 0 {
		return decodePayload(u)
	}
	if !form.Valid() {
		return Instruction{}, 0, errors.WrapMalformedInstruction(offset, "unused opcode 0x%02x", uint8(form))
	}
	if !form.Supported() {
		return Instruction{}, 0, errors.WrapMalformedInstruction(offset, "%s is not supported", form)
	}
	f := form.Format()
	if err := u.need(f.Units()); err != nil {
		return Instruction{}, 0, err
	}
	insn := Instruction{Op: family(form), Form: form, Offset: offset, Length: f.Units()}
	aa := u0 >> 8
	a, b := aa&0xf, aa>>4
	jump := func(d int32) Jump { return Jump{Delta: d, Target: offset + int(d)} }

	switch f {
	case Format10x:
		if aa != 0 {
			return Instruction{}, 0, errors.WrapMalformedInstruction(offset, "%s with non-zero operand byte", form)
		}
	case Format12x:
		insn.A, insn.B = a, b
	case Format11n:
		insn.A = a
		insn.Literal = int64(int16(u0) >> 12)
	case Format11x:
		insn.A = aa
	case Format10t:
		insn.Jump = jump(int32(int8(aa)))
	case Format20t:
		insn.Jump = jump(int32(int16(u.at(1))))
	case Format22x:
		insn.A, insn.B = aa, u.at(1)
	case Format21t:
		insn.A = aa
		insn.Jump = jump(int32(int16(u.at(1))))
	case Format21s:
		insn.A = aa
		insn.Literal = int64(int16(u.at(1)))
	case Format21h:
		insn.A = aa
		if form == OpConstHigh16 {
			insn.Literal = int64(int32(uint32(u.at(1)) << 16))
		} else {
			insn.Literal = int64(uint64(u.at(1)) << 48)
		}
	case Format21c:
		insn.A = aa
		insn.Index = uint32(u.at(1))
	case Format23x:
		insn.A, insn.B, insn.C = aa, u.at(1)&0xff, u.at(1)>>8
	case Format22b:
		insn.A, insn.B = aa, u.at(1)&0xff
		insn.Literal = int64(int8(u.at(1) >> 8))
	case Format22t:
		insn.A, insn.B = a, b
		insn.Jump = jump(int32(int16(u.at(1))))
	case Format22s:
		insn.A, insn.B = a, b
		insn.Literal = int64(int16(u.at(1)))
	case Format22c:
		insn.A, insn.B = a, b
		insn.Index = uint32(u.at(1))
	case Format30t:
		insn.Jump = jump(int32(u.u32(1)))
	case Format32x:
		insn.A, insn.B = u.at(1), u.at(2)
	case Format31i:
		insn.A = aa
		insn.Literal = int64(int32(u.u32(1)))
	case Format31t:
		insn.A = aa
		insn.Jump = jump(int32(u.u32(1)))
	case Format31c:
		insn.A = aa
		insn.Index = u.u32(1)
	case Format35c, Format45cc:
		n := int(b)
		if n > maxArgs {
			return Instruction{}, 0, errors.WrapMalformedInstruction(offset, "%s with %d arguments", form, n)
		}
		regs := u.at(2)
		all := [maxArgs]uint16{regs & 0xf, regs >> 4 & 0xf, regs >> 8 & 0xf, regs >> 12, a}
		insn.Args = append([]uint16(nil), all[:n]...)
		insn.Index = uint32(u.at(1))
		if f == Format45cc {
			insn.Proto = u.at(3)
		}
	case Format3rc, Format4rcc:
		insn.A = aa
		insn.Index = uint32(u.at(1))
		insn.C = u.at(2)
		if f == Format4rcc {
			insn.Proto = u.at(3)
		}
	case Format51l:
		insn.A = aa
		insn.Literal = int64(uint64(u.u32(1)) | uint64(u.u32(3))<<32)
	default:
		return Instruction{}, 0, errors.WrapMalformedInstruction(offset, "%s has no known format", form)
	}
	return insn, insn.Length, nil
}

func decodePayload(u units) (Instruction, int, error) {
	op := Opcode(u.at(0))
	if !op.IsPayload() {
		return Instruction{}, 0, errors.WrapMalformedInstruction(u.offset, "nop with operand 0x%04x", u.at(0))
	}
	if u.offset%2 != 0 {
		return Instruction{}, 0, errors.WrapMalformedInstruction(u.offset, "%s not 4-byte aligned", op)
	}
	if err := u.need(2); err != nil {
		return Instruction{}, 0, err
	}
	p := &Payload{}
	size := int(u.at(1))
	var n int
	switch op {
	case OpPackedSwitchPayload:
		n = 4 + 2*size
		if err := u.need(n); err != nil {
			return Instruction{}, 0, err
		}
		p.FirstKey = int32(u.u32(2))
		p.Targets = make([]Jump, size)
		for i := range p.Targets {
			d := int32(u.u32(4 + 2*i))
			p.Targets[i] = Jump{Delta: d, Target: int(d)}
		}
	case OpSparseSwitchPayload:
		n = 2 + 4*size
		if err := u.need(n); err != nil {
			return Instruction{}, 0, err
		}
		p.Keys = make([]int32, size)
		p.Targets = make([]Jump, size)
		for i := range size {
			p.Keys[i] = int32(u.u32(2 + 2*i))
			if i > 0 && p.Keys[i] <= p.Keys[i-1] {
				return Instruction{}, 0, errors.WrapMalformedInstruction(u.offset, "sparse-switch keys not sorted at %d", i)
			}
			d := int32(u.u32(2 + 2*size + 2*i))
			p.Targets[i] = Jump{Delta: d, Target: int(d)}
		}
	case OpFillArrayDataPayload:
		if err := u.need(4); err != nil {
			return Instruction{}, 0, err
		}
		p.ElementWidth = u.at(1)
		count := int64(u.u32(2))
		bytes := count * int64(p.ElementWidth)
		if bytes > int64(2*(len(u.code)-u.offset-4)) {
			return Instruction{}, 0, errors.WrapMalformedInstruction(u.offset, "fill-array-data of %d bytes overruns code", bytes)
		}
		n = 4 + int(bytes+1)/2
		p.Data = make([]byte, bytes)
		for i := range p.Data {
			w := u.at(4 + i/2)
			p.Data[i] = byte(w >> (8 * (i % 2)))
		}
	}
	insn := Instruction{Op: op, Form: op, Offset: u.offset, Length: n, Payload: p}
	return insn, n, nil
}

// DecodeAll decodes a whole instruction array and links every payload to
// the instruction that refers to it. The second result is the number of
// units consumed, which equals len(code) on success.
func DecodeAll(code []uint16) ([]Instruction, int, error) {
	var insns []Instruction
	at := make(map[int]int)
	pos := 0
	for pos < len(code) {
		insn, n, err := Decode(code, pos)
		if err != nil {
			return nil, pos, err
		}
		at[pos] = len(insns)
		insns = append(insns, insn)
		pos += n
	}
	linked := make(map[int]bool)
	for k := range insns {
		insn := &insns[k]
		if !insn.Op.RefersPayload() {
			continue
		}
		i, ok := at[insn.Jump.Target]
		if !ok || insns[i].Op != insn.Op.PayloadFor() {
			return nil, pos, errors.WrapMalformedInstruction(insn.Offset, "%s does not point at a %s", insn.Op, insn.Op.PayloadFor())
		}
		if linked[i] {
			return nil, pos, errors.WrapMalformedInstruction(insn.Offset, "payload at %d is shared", insn.Jump.Target)
		}
		linked[i] = true
		// Code inserted in front of either end takes over its old offset,
		// so the pair is bound by labels instead.
		switchLabel := fmt.Sprintf("switch@%d", insn.Offset)
		payloadLabel := fmt.Sprintf("payload@%d", insns[i].Offset)
		insn.Labels = append(insn.Labels, switchLabel)
		insn.Jump.Label = payloadLabel
		insns[i].Labels = append(insns[i].Labels, payloadLabel)
		p := insns[i].Payload
		p.Base = insn.Offset
		p.BaseLabel = switchLabel
		for j := range p.Targets {
			p.Targets[j].Target = p.Base + int(p.Targets[j].Delta)
		}
	}
	return insns, pos, nil
}

// SelectForm returns the narrowest concrete opcode that can encode insn.
func SelectForm(insn Instruction) (Opcode, error) {
	op := insn.Op
	if !canonical(op) {
		return 0, errors.WrapMalformedInstruction(insn.Offset, "%s is a concrete form, not an instruction family", op)
	}
	if !op.Supported() {
		return 0, errors.WrapMalformedInstruction(insn.Offset, "%s is not supported", op)
	}
	v := insn.Literal
	switch {
	case op == OpConst:
		switch {
		case !fitsInt32(v):
			return 0, errors.WrapMalformedInstruction(insn.Offset, "const %d does not fit 32 bits", v)
		case insn.A <= 0xf && fitsInt4(v):
			return OpConst4, nil
		case fitsInt16(v):
			return OpConst16, nil
		case v&0xffff == 0:
			return OpConstHigh16, nil
		}
		return OpConst, nil
	case op == OpConstWide:
		switch {
		case fitsInt16(v):
			return OpConstWide16, nil
		case fitsInt32(v):
			return OpConstWide32, nil
		case v&(1<<48-1) == 0:
			return OpConstWideHigh16, nil
		}
		return OpConstWide, nil
	case op == OpConstString:
		if insn.Index <= math.MaxUint16 {
			return OpConstString, nil
		}
		return OpConstStringJumbo, nil
	case op == OpMove, op == OpMoveWide, op == OpMoveObject:
		switch {
		case insn.A <= 0xf && insn.B <= 0xf:
			return op, nil
		case insn.A <= 0xff:
			return op + (OpMoveFrom16 - OpMove), nil
		}
		return op + (OpMove16 - OpMove), nil
	case op == OpGoto:
		d := int64(insn.Jump.Delta)
		switch {
		case d != 0 && fitsInt8(d):
			return OpGoto, nil
		case d != 0 && fitsInt16(d):
			return OpGoto16, nil
		}
		return OpGoto32, nil
	case op >= OpAddIntLit8 && op < OpAddIntLit8+litOps:
		if fitsInt8(v) && insn.A <= 0xff && insn.B <= 0xff {
			return op, nil
		}
		if fitsInt16(v) && insn.A <= 0xf && insn.B <= 0xf {
			return op - OpAddIntLit8 + OpAddIntLit16, nil
		}
		return 0, errors.WrapMalformedInstruction(insn.Offset, "%s literal %d does not fit", op, v)
	case op.Format() == Format21t, op.Format() == Format22t:
		if !fitsInt16(int64(insn.Jump.Delta)) {
			return 0, errors.WrapBranchOutOfRange(insn.Offset, int64(insn.Jump.Delta))
		}
	}
	return op, nil
}

// Size returns the length in code units of insn placed at offset, using
// the narrowest form. Payloads include their alignment padding.
func (insn Instruction) Size(offset int) int {
	if insn.Op.IsPayload() {
		return payloadPad(offset) + payloadUnits(insn.Op, insn.Payload)
	}
	form, err := SelectForm(insn)
	if err != nil {
		form = insn.Op
	}
	return form.Format().Units()
}

// Encode appends insn, placed at offset, in its narrowest form.
func Encode(dst []uint16, insn Instruction, offset int) ([]uint16, error) {
	if insn.Op.IsPayload() {
		return encodePayload(dst, insn, offset)
	}
	form, err := SelectForm(insn)
	if err != nil {
		return dst, err
	}
	return encodeForm(dst, insn, form, offset)
}

// EncodeAs appends insn in the given concrete form. It is used where the
// encoded length must not change, so an operand that no longer fits is an
// internal consistency failure.
func EncodeAs(dst []uint16, insn Instruction, form Opcode, offset int) []uint16 {
	var out []uint16
	var err error
	if form.IsPayload() {
		out, err = encodePayload(dst, insn, offset)
	} else {
		out, err = encodeForm(dst, insn, form, offset)
	}
	if err != nil {
		errors.Invariant("re-encoding %s as %s at %d: %v", insn.Op, form, offset, err)
	}
	return out
}

func formMismatch(insn Instruction, form Opcode) error {
	return errors.WrapMalformedInstruction(insn.Offset, "%s cannot be encoded as %s", insn.Op, form)
}

func unit0(form Opcode, hi uint16) uint16 { return uint16(form) | hi<<8 }

func nibbles(lo, hi uint16) uint16 { return lo | hi<<4 }

func encodeForm(dst []uint16, insn Instruction, form Opcode, offset int) ([]uint16, error) {
	if !form.Supported() || form.IsPayload() {
		return dst, errors.WrapMalformedInstruction(offset, "cannot encode %s", form)
	}
	if family(form) != insn.Op {
		return dst, formMismatch(insn, form)
	}
	a, b, c, v := insn.A, insn.B, insn.C, insn.Literal
	d := int64(insn.Jump.Delta)
	regs4 := a <= 0xf && b <= 0xf
	switch f := form.Format(); f {
	case Format10x:
		return append(dst, unit0(form, 0)), nil
	case Format12x:
		if !regs4 {
			return dst, formMismatch(insn, form)
		}
		return append(dst, unit0(form, nibbles(a, b))), nil
	case Format11n:
		if a > 0xf || !fitsInt4(v) {
			return dst, formMismatch(insn, form)
		}
		return append(dst, unit0(form, nibbles(a, uint16(v)&0xf))), nil
	case Format11x:
		if a > 0xff {
			return dst, formMismatch(insn, form)
		}
		return append(dst, unit0(form, a)), nil
	case Format10t:
		if !fitsInt8(d) {
			return dst, formMismatch(insn, form)
		}
		return append(dst, unit0(form, uint16(uint8(int8(d))))), nil
	case Format20t:
		if !fitsInt16(d) {
			return dst, formMismatch(insn, form)
		}
		return append(dst, unit0(form, 0), uint16(int16(d))), nil
	case Format22x:
		if a > 0xff {
			return dst, formMismatch(insn, form)
		}
		return append(dst, unit0(form, a), b), nil
	case Format21t:
		if a > 0xff {
			return dst, formMismatch(insn, form)
		}
		if !fitsInt16(d) {
			return dst, errors.WrapBranchOutOfRange(offset, d)
		}
		return append(dst, unit0(form, a), uint16(int16(d))), nil
	case Format21s:
		if a > 0xff || !fitsInt16(v) {
			return dst, formMismatch(insn, form)
		}
		return append(dst, unit0(form, a), uint16(int16(v))), nil
	case Format21h:
		if a > 0xff {
			return dst, formMismatch(insn, form)
		}
		if form == OpConstHigh16 {
			if !fitsInt32(v) || v&0xffff != 0 {
				return dst, formMismatch(insn, form)
			}
			return append(dst, unit0(form, a), uint16(uint32(int32(v))>>16)), nil
		}
		if v&(1<<48-1) != 0 {
			return dst, formMismatch(insn, form)
		}
		return append(dst, unit0(form, a), uint16(uint64(v)>>48)), nil
	case Format21c:
		if a > 0xff || insn.Index > math.MaxUint16 {
			return dst, formMismatch(insn, form)
		}
		return append(dst, unit0(form, a), uint16(insn.Index)), nil
	case Format23x:
		if a > 0xff || b > 0xff || c > 0xff {
			return dst, formMismatch(insn, form)
		}
		return append(dst, unit0(form, a), b|c<<8), nil
	case Format22b:
		if a > 0xff || b > 0xff || !fitsInt8(v) {
			return dst, formMismatch(insn, form)
		}
		return append(dst, unit0(form, a), b|uint16(uint8(int8(v)))<<8), nil
	case Format22t:
		if !regs4 {
			return dst, formMismatch(insn, form)
		}
		if !fitsInt16(d) {
			return dst, errors.WrapBranchOutOfRange(offset, d)
		}
		return append(dst, unit0(form, nibbles(a, b)), uint16(int16(d))), nil
	case Format22s:
		if !regs4 || !fitsInt16(v) {
			return dst, formMismatch(insn, form)
		}
		return append(dst, unit0(form, nibbles(a, b)), uint16(int16(v))), nil
	case Format22c:
		if !regs4 || insn.Index > math.MaxUint16 {
			return dst, formMismatch(insn, form)
		}
		return append(dst, unit0(form, nibbles(a, b)), uint16(insn.Index)), nil
	case Format30t:
		return append(dst, unit0(form, 0), uint16(uint32(d)), uint16(uint32(d)>>16)), nil
	case Format32x:
		return append(dst, unit0(form, 0), a, b), nil
	case Format31i:
		if a > 0xff || !fitsInt32(v) {
			return dst, formMismatch(insn, form)
		}
		return append(dst, unit0(form, a), uint16(uint32(v)), uint16(uint32(v)>>16)), nil
	case Format31t:
		if a > 0xff {
			return dst, formMismatch(insn, form)
		}
		return append(dst, unit0(form, a), uint16(uint32(d)), uint16(uint32(d)>>16)), nil
	case Format31c:
		if a > 0xff {
			return dst, formMismatch(insn, form)
		}
		return append(dst, unit0(form, a), uint16(insn.Index), uint16(insn.Index>>16)), nil
	case Format35c, Format45cc:
		if len(insn.Args) > maxArgs || insn.Index > math.MaxUint16 {
			return dst, formMismatch(insn, form)
		}
		var all [maxArgs]uint16
		for i, r := range insn.Args {
			if r > 0xf {
				return dst, formMismatch(insn, form)
			}
			all[i] = r
		}
		dst = append(dst,
			unit0(form, nibbles(all[4], uint16(len(insn.Args)))),
			uint16(insn.Index),
			all[0]|all[1]<<4|all[2]<<8|all[3]<<12)
		if f == Format45cc {
			dst = append(dst, insn.Proto)
		}
		return dst, nil
	case Format3rc, Format4rcc:
		if a > 0xff || insn.Index > math.MaxUint16 {
			return dst, formMismatch(insn, form)
		}
		dst = append(dst, unit0(form, a), uint16(insn.Index), c)
		if f == Format4rcc {
			dst = append(dst, insn.Proto)
		}
		return dst, nil
	case Format51l:
		if a > 0xff {
			return dst, formMismatch(insn, form)
		}
		w := uint64(v)
		return append(dst, unit0(form, a), uint16(w), uint16(w>>16), uint16(w>>32), uint16(w>>48)), nil
	}
	return dst, formMismatch(insn, form)
}

func encodePayload(dst []uint16, insn Instruction, offset int) ([]uint16, error) {
	p := insn.Payload
	if p == nil {
		return dst, errors.WrapMalformedInstruction(offset, "%s without a body", insn.Op)
	}
	for range payloadPad(offset) {
		dst = append(dst, uint16(OpNop))
	}
	u32 := func(v uint32) { dst = append(dst, uint16(v), uint16(v>>16)) }
	switch insn.Op {
	case OpPackedSwitchPayload:
		if len(p.Targets) > math.MaxUint16 {
			return dst, errors.WrapMalformedInstruction(offset, "packed-switch with %d targets", len(p.Targets))
		}
		dst = append(dst, uint16(insn.Op), uint16(len(p.Targets)))
		u32(uint32(p.FirstKey))
		for _, t := range p.Targets {
			u32(uint32(t.Delta))
		}
	case OpSparseSwitchPayload:
		if len(p.Keys) != len(p.Targets) || len(p.Keys) > math.MaxUint16 {
			return dst, errors.WrapMalformedInstruction(offset, "sparse-switch with %d keys and %d targets", len(p.Keys), len(p.Targets))
		}
		for i := 1; i < len(p.Keys); i++ {
			if p.Keys[i] <= p.Keys[i-1] {
				return dst, errors.WrapMalformedInstruction(offset, "sparse-switch keys not sorted at %d", i)
			}
		}
		dst = append(dst, uint16(insn.Op), uint16(len(p.Keys)))
		for _, k := range p.Keys {
			u32(uint32(k))
		}
		for _, t := range p.Targets {
			u32(uint32(t.Delta))
		}
	case OpFillArrayDataPayload:
		w := int(p.ElementWidth)
		if w == 0 || len(p.Data)%w != 0 {
			return dst, errors.WrapMalformedInstruction(offset, "fill-array-data of %d bytes with element width %d", len(p.Data), w)
		}
		dst = append(dst, uint16(insn.Op), p.ElementWidth)
		u32(uint32(len(p.Data) / w))
		for i := 0; i < len(p.Data); i += 2 {
			lo := uint16(p.Data[i])
			var hi uint16
			if i+1 < len(p.Data) {
				hi = uint16(p.Data[i+1])
			}
			dst = append(dst, lo|hi<<8)
		}
	default:
		return dst, formMismatch(insn, insn.Op)
	}
	return dst, nil
}

// EncodeAll encodes instructions back to back from offset 0. With
// strictLength every instruction must encode to its declared Length.
func EncodeAll(insns []Instruction, strictLength bool) ([]uint16, error) {
	var out []uint16
	for _, insn := range insns {
		start := len(out)
		var err error
		out, err = Encode(out, insn, start)
		if err != nil {
			return nil, err
		}
		if strictLength && len(out)-start != insn.Length {
			return nil, errors.WrapFixedLengthViolation(insn.Length, len(out)-start)
		}
	}
	return out, nil
}

func (insn Instruction) String() string {
	var b strings.Builder
	b.WriteString(insn.Op.String())
	switch f := insn.Op.Format(); {
	case insn.Op.IsPayload():
		if insn.Payload != nil {
			fmt.Fprintf(&b, " targets=%d bytes=%d", len(insn.Payload.Targets), len(insn.Payload.Data))
		}
	case f == Format35c || f == Format45cc:
		fmt.Fprintf(&b, " %v", insn.Args)
	case f == Format3rc || f == Format4rcc:
		fmt.Fprintf(&b, " v%d..v%d", insn.C, int(insn.C)+int(insn.A)-1)
	case f != Format10x && f != Format10t && f != Format20t && f != Format30t:
		fmt.Fprintf(&b, " v%d", insn.A)
	}
	switch {
	case insn.Op.Index() != IndexNone:
		fmt.Fprintf(&b, " #%d", insn.Index)
	case insn.Op.IsBranch() || insn.Op.RefersPayload():
		if insn.Jump.Label != "" {
			fmt.Fprintf(&b, " %s", insn.Jump.Label)
		} else {
			fmt.Fprintf(&b, " %+d", insn.Jump.Delta)
		}
	case insn.Literal != 0:
		fmt.Fprintf(&b, " %d", insn.Literal)
	}
	return b.String()
}

// Codec adapts the instruction set to reloc.Relink.
type Codec struct{}

var _ reloc.Codec[Instruction, uint16] = Codec{}

func (Codec) Labels(insn Instruction) []string { return insn.Labels }

func (Codec) Size(insn Instruction, at int) int { return insn.Size(at) }

func (Codec) Append(dst []uint16, insn Instruction, at int) ([]uint16, error) {
	return Encode(dst, insn, at)
}

func (Codec) Resolve(insn Instruction, at int, ctx *reloc.Context) (Instruction, error) {
	resolve := func(from int, j Jump) (Jump, error) {
		d, err := ctx.Jump(from, j.Label, j.Target)
		if err != nil {
			return j, err
		}
		if d < math.MinInt32 || d > math.MaxInt32 {
			return j, errors.WrapBranchOutOfRange(from, int64(d))
		}
		j.Delta = int32(d)
		j.Target = from + d
		return j, nil
	}
	var err error
	switch {
	case insn.Op.IsBranch():
		insn.Jump, err = resolve(at, insn.Jump)
	case insn.Op.RefersPayload():
		insn.Jump, err = resolve(at, insn.Jump)
		// The payload item may start with a padding unit.
		if err == nil && insn.Jump.Target%2 != 0 {
			insn.Jump.Delta++
			insn.Jump.Target++
		}
	case insn.Op.IsPayload() && insn.Payload != nil:
		p := insn.Payload.clone()
		base := ctx.NewOffset(p.Base)
		if p.BaseLabel != "" && (ctx.Resolved(p.BaseLabel) || !ctx.Lenient()) {
			if base, err = ctx.Offset(p.BaseLabel); err != nil {
				return insn, err
			}
		}
		p.Base = base
		for i := range p.Targets {
			if p.Targets[i], err = resolve(base, p.Targets[i]); err != nil {
				return insn, err
			}
		}
		insn.Payload = p
	}
	insn.Offset = at
	return insn, err
}

// InstructionOffset is the old-offset accessor used with reloc.Items and
// reloc.NewEditor.
func InstructionOffset(insn Instruction) int { return insn.Offset }
