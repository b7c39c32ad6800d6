// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"math"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/logger"
	"github.com/dotandev/shrinkwrap/internal/reloc"
)

// MaxCodeLength is the largest code array a method may have.
const MaxCodeLength = math.MaxUint16

// Instructions decodes the method body.
func (c *Code) Instructions() ([]Instruction, error) {
	insns, _, err := DecodeAll(c.Bytecode)
	return insns, err
}

// Editor returns an editor over the decoded body.
func (c *Code) Editor() (*reloc.Editor[Instruction], error) {
	insns, err := c.Instructions()
	if err != nil {
		return nil, err
	}
	return reloc.NewEditor(insns, InstructionOffset), nil
}

// Edit decodes the body, lets fn change it and rewrites the result.
func (c *Code) Edit(fn func(*reloc.Editor[Instruction]) error, opts reloc.Options) (*reloc.Result[Instruction, byte], error) {
	ed, err := c.Editor()
	if err != nil {
		return nil, err
	}
	if err := fn(ed); err != nil {
		return nil, err
	}
	items, ends := ed.Items()
	opts.EndOrigins = append(opts.EndOrigins, ends...)
	return c.Rewrite(items, opts)
}

// Rewrite relinks items into a new body and moves everything that holds a
// code offset: exception handlers, line numbers, local variable ranges and
// stack map frames. The Code is changed only when every step succeeds.
func (c *Code) Rewrite(items []reloc.Item[Instruction], opts reloc.Options) (*reloc.Result[Instruction, byte], error) {
	if opts.OldLength == 0 {
		opts.OldLength = len(c.Bytecode)
	}
	res, err := reloc.Relink[Instruction, byte](Codec{}, items, nil, opts)
	if err != nil {
		return nil, err
	}
	if res.Length == 0 || res.Length > MaxCodeLength {
		return nil, errors.WrapMalformedContainer("rewritten code length %d outside 1..%d", res.Length, MaxCodeLength)
	}
	ctx := res.Context
	to := func(old uint16) uint16 { return uint16(ctx.NewOffset(int(old))) }

	handlers := make([]Handler, 0, len(c.Handlers))
	for _, h := range c.Handlers {
		n := Handler{Start: to(h.Start), End: to(h.End), Handler: to(h.Handler), CatchType: h.CatchType}
		if n.Start >= n.End {
			logger.Logger.Debug("Dropping empty exception range", "start", h.Start, "end", h.End)
			continue
		}
		handlers = append(handlers, n)
	}

	attrs := cloneAttributes(c.Attributes)
	for _, a := range attrs {
		switch a := a.(type) {
		case *LineNumberTable:
			lines := a.Lines[:0]
			for _, l := range a.Lines {
				l.Start = to(l.Start)
				if int(l.Start) >= res.Length {
					continue
				}
				lines = append(lines, l)
			}
			a.Lines = lines
		case *LocalVariableTable:
			for i := range a.Vars {
				v := &a.Vars[i]
				start := ctx.NewOffset(int(v.Start))
				end := ctx.NewOffset(int(v.Start) + int(v.Length))
				if end < start {
					end = start
				}
				v.Start, v.Length = uint16(start), uint16(end-start)
			}
		case *StackMapTable:
			if err := a.relocate(ctx.NewOffset); err != nil {
				return nil, err
			}
		}
	}

	c.Bytecode = res.Code
	c.Handlers = handlers
	c.Attributes = attrs
	return res, nil
}
