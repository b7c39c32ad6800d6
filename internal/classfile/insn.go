// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/reloc"
)

// Jump is a relative control-flow reference. Delta is what gets encoded.
// Target is the absolute offset in the code the instruction was decoded
// from, and Label, when set, names the destination instead.
type Jump struct {
	Delta  int32
	Target int
	Label  string
}

// Switch holds the operands of tableswitch (Low, High) and lookupswitch
// (Keys). Cases has one jump per key or per value in Low..High.
type Switch struct {
	Default Jump
	Low     int32
	High    int32
	Keys    []int32
	Cases   []Jump
}

func (s *Switch) clone() *Switch {
	c := *s
	c.Keys = append([]int32(nil), s.Keys...)
	c.Cases = append([]Jump(nil), s.Cases...)
	return &c
}

// Instruction is one decoded JVM instruction.
//
// Op is the instruction family: iconst_n, bipush and sipush all decode to
// OpBipush with the constant in Value; ldc and ldc_w to OpLdc; xload_n,
// xload and wide xload to OpXload with Local; goto_w to OpGoto; jsr_w to
// OpJsr. Form is the concrete opcode that was decoded (OpWide for wide
// forms) and is informational only: Encode picks the narrowest form that
// fits, EncodeAs writes a given form.
type Instruction struct {
	Op     Opcode
	Form   Opcode
	Offset int
	Length int

	Index uint16
	Local uint16
	Value int32
	Count uint8

	Jump   Jump
	Switch *Switch
	Labels []string
}

// canonical reports whether op names a family rather than one of its
// concrete forms.
func canonical(op Opcode) bool {
	switch {
	case op >= OpIconstM1 && op <= OpIconst5,
		op >= OpIload0 && op <= OpAload3,
		op >= OpIstore0 && op <= OpAstore3,
		op == OpSipush, op == OpLdcW, op == OpGotoW, op == OpJsrW, op == OpWide:
		return false
	}
	return op.Valid()
}

func isLoad(op Opcode) bool  { return op >= OpIload && op <= OpAload }
func isStore(op Opcode) bool { return op >= OpIstore && op <= OpAstore }

func fitsInt8(v int64) bool  { return v >= math.MinInt8 && v <= math.MaxInt8 }
func fitsInt16(v int64) bool { return v >= math.MinInt16 && v <= math.MaxInt16 }

// switchPad is the number of zero bytes after a switch opcode at offset so
// that its operands start 4-byte aligned from the code start.
func switchPad(offset int) int {
	return (4 - (offset+1)%4) % 4
}

type operands struct {
	code   []byte
	offset int
	pos    int
}

func (o *operands) need(n int) error {
	if o.pos+n > len(o.code) {
		return errors.WrapMalformedInstruction(o.offset, "truncated operands of %s", Opcode(o.code[o.offset]))
	}
	return nil
}

func (o *operands) u8() (uint8, error) {
	if err := o.need(1); err != nil {
		return 0, err
	}
	v := o.code[o.pos]
	o.pos++
	return v, nil
}

func (o *operands) u16() (uint16, error) {
	if err := o.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(o.code[o.pos:])
	o.pos += 2
	return v, nil
}

func (o *operands) s32() (int32, error) {
	if err := o.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(o.code[o.pos:]))
	o.pos += 4
	return v, nil
}

func (o *operands) jump() (Jump, error) {
	d, err := o.s32()
	if err != nil {
		return Jump{}, err
	}
	return Jump{Delta: d, Target: o.offset + int(d)}, nil
}

// Decode reads the instruction that starts at code[offset]. It returns the
// instruction and its encoded length.
func Decode(code []byte, offset int) (Instruction, int, error) {
	if offset < 0 || offset >= len(code) {
		return Instruction{}, 0, errors.WrapMalformedInstruction(offset, "offset outside code of length %d", len(code))
	}
	form := Opcode(code[offset])
	if !form.Valid() {
		return Instruction{}, 0, errors.WrapMalformedInstruction(offset, "unknown opcode 0x%02x", uint8(form))
	}
	insn := Instruction{Op: form, Form: form, Offset: offset}
	o := &operands{code: code, offset: offset, pos: offset + 1}

	var err error
	switch form.operand() {
	case operandNone:
		switch {
		case form >= OpIconstM1 && form <= OpIconst5:
			insn.Op = OpBipush
			insn.Value = int32(form) - int32(OpIconst0)
		case form >= OpIload0 && form <= OpAload3:
			insn.Op = OpIload + (form-OpIload0)/4
			insn.Local = uint16(form-OpIload0) % 4
		case form >= OpIstore0 && form <= OpAstore3:
			insn.Op = OpIstore + (form-OpIstore0)/4
			insn.Local = uint16(form-OpIstore0) % 4
		}
	case operandS8:
		var b uint8
		b, err = o.u8()
		insn.Value = int32(int8(b))
	case operandS16:
		var v uint16
		v, err = o.u16()
		insn.Op = OpBipush
		insn.Value = int32(int16(v))
	case operandPool8:
		var b uint8
		b, err = o.u8()
		insn.Index = uint16(b)
	case operandPool16:
		insn.Index, err = o.u16()
		if form == OpLdcW {
			insn.Op = OpLdc
		}
	case operandLocal:
		var b uint8
		b, err = o.u8()
		insn.Local = uint16(b)
	case operandIinc:
		var l, v uint8
		if l, err = o.u8(); err == nil {
			v, err = o.u8()
		}
		insn.Local = uint16(l)
		insn.Value = int32(int8(v))
	case operandBranch16:
		var v uint16
		v, err = o.u16()
		insn.Jump = Jump{Delta: int32(int16(v)), Target: offset + int(int16(v))}
	case operandBranch32:
		insn.Jump, err = o.jump()
		insn.Op = OpGoto
		if form == OpJsrW {
			insn.Op = OpJsr
		}
	case operandTableSwitch:
		err = decodeTableSwitch(o, &insn)
	case operandLookupSwitch:
		err = decodeLookupSwitch(o, &insn)
	case operandInvokeInterface:
		if insn.Index, err = o.u16(); err == nil {
			if insn.Count, err = o.u8(); err == nil {
				_, err = o.u8()
			}
		}
	case operandInvokeDynamic:
		if insn.Index, err = o.u16(); err == nil {
			_, err = o.u16()
		}
	case operandNewArray:
		var b uint8
		b, err = o.u8()
		insn.Value = int32(b)
	case operandMultiANewArray:
		if insn.Index, err = o.u16(); err == nil {
			insn.Count, err = o.u8()
		}
	case operandWide:
		err = decodeWide(o, &insn)
	}
	if err != nil {
		return Instruction{}, 0, err
	}
	insn.Length = o.pos - offset
	return insn, insn.Length, nil
}

func decodeWide(o *operands, insn *Instruction) error {
	b, err := o.u8()
	if err != nil {
		return err
	}
	inner := Opcode(b)
	switch inner.operand() {
	case operandLocal:
		insn.Op = inner
		insn.Local, err = o.u16()
		return err
	case operandIinc:
		insn.Op = OpIinc
		if insn.Local, err = o.u16(); err != nil {
			return err
		}
		v, err := o.u16()
		insn.Value = int32(int16(v))
		return err
	}
	return errors.WrapMalformedInstruction(o.offset, "wide cannot modify %s", inner)
}

func decodeTableSwitch(o *operands, insn *Instruction) error {
	if err := o.need(switchPad(o.offset)); err != nil {
		return err
	}
	o.pos += switchPad(o.offset)
	def, err := o.jump()
	if err != nil {
		return err
	}
	low, err := o.s32()
	if err != nil {
		return err
	}
	high, err := o.s32()
	if err != nil {
		return err
	}
	if high < low {
		return errors.WrapMalformedInstruction(o.offset, "tableswitch high %d below low %d", high, low)
	}
	n := int64(high) - int64(low) + 1
	if n*4 > int64(len(o.code)-o.pos) {
		return errors.WrapMalformedInstruction(o.offset, "tableswitch with %d cases overruns code", n)
	}
	sw := &Switch{Default: def, Low: low, High: high, Cases: make([]Jump, n)}
	for i := range sw.Cases {
		if sw.Cases[i], err = o.jump(); err != nil {
			return err
		}
	}
	insn.Switch = sw
	return nil
}

func decodeLookupSwitch(o *operands, insn *Instruction) error {
	if err := o.need(switchPad(o.offset)); err != nil {
		return err
	}
	o.pos += switchPad(o.offset)
	def, err := o.jump()
	if err != nil {
		return err
	}
	npairs, err := o.s32()
	if err != nil {
		return err
	}
	if npairs < 0 || int64(npairs)*8 > int64(len(o.code)-o.pos) {
		return errors.WrapMalformedInstruction(o.offset, "lookupswitch with %d pairs overruns code", npairs)
	}
	sw := &Switch{Default: def, Keys: make([]int32, npairs), Cases: make([]Jump, npairs)}
	for i := range sw.Keys {
		if sw.Keys[i], err = o.s32(); err != nil {
			return err
		}
		if i > 0 && sw.Keys[i] <= sw.Keys[i-1] {
			return errors.WrapMalformedInstruction(o.offset, "lookupswitch keys not sorted at pair %d", i)
		}
		if sw.Cases[i], err = o.jump(); err != nil {
			return err
		}
	}
	insn.Switch = sw
	return nil
}

// DecodeAll decodes a whole code array. The second result is the number of
// bytes consumed, which equals len(code) on success.
func DecodeAll(code []byte) ([]Instruction, int, error) {
	var insns []Instruction
	pos := 0
	for pos < len(code) {
		insn, n, err := Decode(code, pos)
		if err != nil {
			return nil, pos, err
		}
		insns = append(insns, insn)
		pos += n
	}
	return insns, pos, nil
}

// SelectForm returns the narrowest concrete opcode that can encode insn.
func SelectForm(insn Instruction) (Opcode, error) {
	op := insn.Op
	if !canonical(op) {
		return 0, errors.WrapMalformedInstruction(insn.Offset, "%s is a concrete form, not an instruction family", op)
	}
	switch {
	case op == OpBipush:
		v := int64(insn.Value)
		switch {
		case v >= -1 && v <= 5:
			return Opcode(int64(OpIconst0) + v), nil
		case fitsInt8(v):
			return OpBipush, nil
		case fitsInt16(v):
			return OpSipush, nil
		}
		return 0, errors.WrapMalformedInstruction(insn.Offset, "constant %d does not fit sipush", v)
	case op == OpLdc:
		if insn.Index <= math.MaxUint8 {
			return OpLdc, nil
		}
		return OpLdcW, nil
	case isLoad(op), isStore(op):
		switch {
		case insn.Local <= 3 && isLoad(op):
			return OpIload0 + (op-OpIload)*4 + Opcode(insn.Local), nil
		case insn.Local <= 3:
			return OpIstore0 + (op-OpIstore)*4 + Opcode(insn.Local), nil
		case insn.Local <= math.MaxUint8:
			return op, nil
		}
		return OpWide, nil
	case op == OpRet:
		if insn.Local <= math.MaxUint8 {
			return OpRet, nil
		}
		return OpWide, nil
	case op == OpIinc:
		v := int64(insn.Value)
		if insn.Local <= math.MaxUint8 && fitsInt8(v) {
			return OpIinc, nil
		}
		if fitsInt16(v) {
			return OpWide, nil
		}
		return 0, errors.WrapMalformedInstruction(insn.Offset, "iinc increment %d does not fit wide iinc", v)
	case op == OpGoto, op == OpJsr:
		if fitsInt16(int64(insn.Jump.Delta)) {
			return op, nil
		}
		if op == OpGoto {
			return OpGotoW, nil
		}
		return OpJsrW, nil
	case op.conditional():
		if !fitsInt16(int64(insn.Jump.Delta)) {
			return 0, errors.WrapBranchOutOfRange(insn.Offset, int64(insn.Jump.Delta))
		}
	}
	return op, nil
}

// Size returns the encoded length of insn at offset, using the narrowest
// form. An instruction that cannot be encoded reports the length of its
// family's default form; Encode reports the error.
func (insn Instruction) Size(offset int) int {
	form, err := SelectForm(insn)
	if err != nil {
		form = insn.Op
	}
	return formSize(insn, form, offset)
}

func formSize(insn Instruction, form Opcode, offset int) int {
	switch form.operand() {
	case operandNone:
		return 1
	case operandS8, operandPool8, operandLocal, operandNewArray:
		return 2
	case operandS16, operandPool16, operandIinc, operandBranch16:
		return 3
	case operandMultiANewArray:
		return 4
	case operandBranch32, operandInvokeInterface, operandInvokeDynamic:
		return 5
	case operandWide:
		if insn.Op == OpIinc {
			return 6
		}
		return 4
	case operandTableSwitch:
		n := 0
		if insn.Switch != nil {
			n = len(insn.Switch.Cases)
		}
		return 1 + switchPad(offset) + 12 + 4*n
	case operandLookupSwitch:
		n := 0
		if insn.Switch != nil {
			n = len(insn.Switch.Cases)
		}
		return 1 + switchPad(offset) + 8 + 8*n
	}
	return 1
}

// Encode appends insn, placed at offset, in its narrowest form.
func Encode(dst []byte, insn Instruction, offset int) ([]byte, error) {
	form, err := SelectForm(insn)
	if err != nil {
		return dst, err
	}
	return encodeForm(dst, insn, form, offset)
}

// EncodeAs appends insn in the given concrete form. It is used where the
// encoded length must not change, so an operand that no longer fits is an
// internal consistency failure.
func EncodeAs(dst []byte, insn Instruction, form Opcode, offset int) []byte {
	out, err := encodeForm(dst, insn, form, offset)
	if err != nil {
		errors.Invariant("re-encoding %s as %s at %d: %v", insn.Op, form, offset, err)
	}
	return out
}

func formMismatch(insn Instruction, form Opcode) error {
	return errors.WrapMalformedInstruction(insn.Offset, "%s cannot be encoded as %s", insn.Op, form)
}

func encodeForm(dst []byte, insn Instruction, form Opcode, offset int) ([]byte, error) {
	if !form.Valid() {
		return dst, errors.WrapMalformedInstruction(offset, "unknown opcode 0x%02x", uint8(form))
	}
	be := binary.BigEndian
	switch form.operand() {
	case operandNone:
		switch {
		case form >= OpIconstM1 && form <= OpIconst5:
			if insn.Op != OpBipush || insn.Value != int32(form)-int32(OpIconst0) {
				return dst, formMismatch(insn, form)
			}
		case form >= OpIload0 && form <= OpAload3:
			if insn.Op != OpIload+(form-OpIload0)/4 || insn.Local != uint16(form-OpIload0)%4 {
				return dst, formMismatch(insn, form)
			}
		case form >= OpIstore0 && form <= OpAstore3:
			if insn.Op != OpIstore+(form-OpIstore0)/4 || insn.Local != uint16(form-OpIstore0)%4 {
				return dst, formMismatch(insn, form)
			}
		default:
			if insn.Op != form {
				return dst, formMismatch(insn, form)
			}
		}
		return append(dst, byte(form)), nil
	case operandS8:
		if insn.Op != OpBipush || !fitsInt8(int64(insn.Value)) {
			return dst, formMismatch(insn, form)
		}
		return append(dst, byte(form), byte(int8(insn.Value))), nil
	case operandS16:
		if insn.Op != OpBipush || !fitsInt16(int64(insn.Value)) {
			return dst, formMismatch(insn, form)
		}
		return be.AppendUint16(append(dst, byte(form)), uint16(int16(insn.Value))), nil
	case operandPool8:
		if insn.Op != OpLdc || insn.Index > math.MaxUint8 {
			return dst, formMismatch(insn, form)
		}
		return append(dst, byte(form), byte(insn.Index)), nil
	case operandPool16:
		if insn.Op != form && !(form == OpLdcW && insn.Op == OpLdc) {
			return dst, formMismatch(insn, form)
		}
		return be.AppendUint16(append(dst, byte(form)), insn.Index), nil
	case operandLocal:
		if insn.Op != form || insn.Local > math.MaxUint8 {
			return dst, formMismatch(insn, form)
		}
		return append(dst, byte(form), byte(insn.Local)), nil
	case operandIinc:
		if insn.Op != OpIinc || insn.Local > math.MaxUint8 || !fitsInt8(int64(insn.Value)) {
			return dst, formMismatch(insn, form)
		}
		return append(dst, byte(form), byte(insn.Local), byte(int8(insn.Value))), nil
	case operandBranch16:
		if insn.Op != form {
			return dst, formMismatch(insn, form)
		}
		if !fitsInt16(int64(insn.Jump.Delta)) {
			if form.conditional() {
				return dst, errors.WrapBranchOutOfRange(offset, int64(insn.Jump.Delta))
			}
			return dst, formMismatch(insn, form)
		}
		return be.AppendUint16(append(dst, byte(form)), uint16(int16(insn.Jump.Delta))), nil
	case operandBranch32:
		if (form == OpGotoW && insn.Op != OpGoto) || (form == OpJsrW && insn.Op != OpJsr) {
			return dst, formMismatch(insn, form)
		}
		return be.AppendUint32(append(dst, byte(form)), uint32(insn.Jump.Delta)), nil
	case operandTableSwitch:
		sw := insn.Switch
		if insn.Op != form || sw == nil || sw.High < sw.Low || int64(len(sw.Cases)) != int64(sw.High)-int64(sw.Low)+1 {
			return dst, formMismatch(insn, form)
		}
		dst = append(dst, byte(form))
		dst = append(dst, make([]byte, switchPad(offset))...)
		dst = be.AppendUint32(dst, uint32(sw.Default.Delta))
		dst = be.AppendUint32(dst, uint32(sw.Low))
		dst = be.AppendUint32(dst, uint32(sw.High))
		for _, c := range sw.Cases {
			dst = be.AppendUint32(dst, uint32(c.Delta))
		}
		return dst, nil
	case operandLookupSwitch:
		sw := insn.Switch
		if insn.Op != form || sw == nil || len(sw.Keys) != len(sw.Cases) {
			return dst, formMismatch(insn, form)
		}
		for i := 1; i < len(sw.Keys); i++ {
			if sw.Keys[i] <= sw.Keys[i-1] {
				return dst, errors.WrapMalformedInstruction(offset, "lookupswitch keys not sorted at pair %d", i)
			}
		}
		dst = append(dst, byte(form))
		dst = append(dst, make([]byte, switchPad(offset))...)
		dst = be.AppendUint32(dst, uint32(sw.Default.Delta))
		dst = be.AppendUint32(dst, uint32(len(sw.Keys)))
		for i, k := range sw.Keys {
			dst = be.AppendUint32(dst, uint32(k))
			dst = be.AppendUint32(dst, uint32(sw.Cases[i].Delta))
		}
		return dst, nil
	case operandInvokeInterface:
		if insn.Op != form {
			return dst, formMismatch(insn, form)
		}
		dst = be.AppendUint16(append(dst, byte(form)), insn.Index)
		return append(dst, insn.Count, 0), nil
	case operandInvokeDynamic:
		if insn.Op != form {
			return dst, formMismatch(insn, form)
		}
		dst = be.AppendUint16(append(dst, byte(form)), insn.Index)
		return append(dst, 0, 0), nil
	case operandNewArray:
		if insn.Op != form || insn.Value < 0 || insn.Value > math.MaxUint8 {
			return dst, formMismatch(insn, form)
		}
		return append(dst, byte(form), byte(insn.Value)), nil
	case operandMultiANewArray:
		if insn.Op != form {
			return dst, formMismatch(insn, form)
		}
		dst = be.AppendUint16(append(dst, byte(form)), insn.Index)
		return append(dst, insn.Count), nil
	case operandWide:
		switch {
		case insn.Op == OpIinc:
			if !fitsInt16(int64(insn.Value)) {
				return dst, formMismatch(insn, form)
			}
			dst = append(dst, byte(OpWide), byte(OpIinc))
			dst = be.AppendUint16(dst, insn.Local)
			return be.AppendUint16(dst, uint16(int16(insn.Value))), nil
		case insn.Op.operand() == operandLocal:
			dst = append(dst, byte(OpWide), byte(insn.Op))
			return be.AppendUint16(dst, insn.Local), nil
		}
		return dst, formMismatch(insn, form)
	}
	return dst, formMismatch(insn, form)
}

// EncodeAll encodes instructions back to back from offset 0. With
// strictLength every instruction must encode to its declared Length.
func EncodeAll(insns []Instruction, strictLength bool) ([]byte, error) {
	var out []byte
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
	switch {
	case insn.Op == OpBipush, insn.Op == OpNewarray:
		fmt.Fprintf(&b, " %d", insn.Value)
	case insn.Op == OpIinc:
		fmt.Fprintf(&b, " %d %d", insn.Local, insn.Value)
	case insn.Op.operand() == operandLocal:
		fmt.Fprintf(&b, " %d", insn.Local)
	case insn.Op.UsesPool():
		fmt.Fprintf(&b, " #%d", insn.Index)
	case insn.Op.IsBranch():
		if insn.Jump.Label != "" {
			fmt.Fprintf(&b, " %s", insn.Jump.Label)
		} else {
			fmt.Fprintf(&b, " %+d", insn.Jump.Delta)
		}
	case insn.Switch != nil:
		fmt.Fprintf(&b, " cases=%d default=%+d", len(insn.Switch.Cases), insn.Switch.Default.Delta)
	}
	return b.String()
}

// Codec adapts the instruction set to reloc.Relink.
type Codec struct{}

var _ reloc.Codec[Instruction, byte] = Codec{}

func (Codec) Labels(insn Instruction) []string { return insn.Labels }

func (Codec) Size(insn Instruction, at int) int { return insn.Size(at) }

func (Codec) Append(dst []byte, insn Instruction, at int) ([]byte, error) {
	return Encode(dst, insn, at)
}

func (Codec) Resolve(insn Instruction, at int, ctx *reloc.Context) (Instruction, error) {
	resolve := func(j Jump) (Jump, error) {
		d, err := ctx.Jump(at, j.Label, j.Target)
		if err != nil {
			return j, err
		}
		if d < math.MinInt32 || d > math.MaxInt32 {
			return j, errors.WrapBranchOutOfRange(at, int64(d))
		}
		j.Delta = int32(d)
		j.Target = at + d
		return j, nil
	}
	var err error
	switch {
	case insn.Op.IsBranch():
		insn.Jump, err = resolve(insn.Jump)
	case insn.Switch != nil:
		sw := insn.Switch.clone()
		if sw.Default, err = resolve(sw.Default); err != nil {
			return insn, err
		}
		for i := range sw.Cases {
			if sw.Cases[i], err = resolve(sw.Cases[i]); err != nil {
				return insn, err
			}
		}
		insn.Switch = sw
	}
	insn.Offset = at
	return insn, err
}

// InstructionOffset is the old-offset accessor used with reloc.Items and
// reloc.NewEditor.
func InstructionOffset(insn Instruction) int { return insn.Offset }
