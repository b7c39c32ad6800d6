// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

import (
	"math"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/logger"
	"github.com/dotandev/shrinkwrap/internal/reloc"
)

// Instructions decodes the method body with payloads linked to their
// switches.
func (c *Code) Instructions() ([]Instruction, error) {
	insns, _, err := DecodeAll(c.Insns)
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
func (c *Code) Edit(fn func(*reloc.Editor[Instruction]) error, opts reloc.Options) (*reloc.Result[Instruction, uint16], error) {
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

// Rewrite relinks items into a new body and moves try ranges, handler
// addresses and debug positions with it. The Code is changed only when
// every step succeeds.
func (c *Code) Rewrite(items []reloc.Item[Instruction], opts reloc.Options) (*reloc.Result[Instruction, uint16], error) {
	if opts.OldLength == 0 {
		opts.OldLength = len(c.Insns)
	}
	res, err := reloc.Relink[Instruction, uint16](Codec{}, items, nil, opts)
	if err != nil {
		return nil, err
	}
	if res.Length == 0 || res.Length > math.MaxInt32 {
		return nil, errors.WrapMalformedContainer("rewritten code length %d", res.Length)
	}
	ctx := res.Context
	to := func(old uint32) uint32 { return uint32(ctx.NewOffset(int(old))) }

	tries := make([]Try, 0, len(c.Tries))
	for _, t := range c.Tries {
		start := to(t.Start)
		end := to(t.Start + uint32(t.Count))
		if start >= end {
			logger.Logger.Debug("Dropping empty try range", "start", t.Start, "count", t.Count)
			continue
		}
		if end-start > math.MaxUint16 {
			return nil, errors.WrapMalformedContainer("try range at %d grew to %d code units", start, end-start)
		}
		tries = append(tries, Try{Start: start, Count: uint16(end - start), Handler: t.Handler})
	}

	handlers := cloneHandlers(c.Handlers)
	for i := range handlers {
		h := &handlers[i]
		for j := range h.Catches {
			h.Catches[j].Addr = to(h.Catches[j].Addr)
		}
		if h.HasCatchAll {
			h.CatchAll = to(h.CatchAll)
		}
	}

	debug := c.Debug.clone()
	if debug != nil {
		debug.relocate(ctx.NewOffset, res.Length)
	}

	c.Insns = res.Code
	c.Tries = tries
	if len(tries) == 0 {
		handlers = nil
	}
	c.Handlers = handlers
	c.Debug = debug
	return res, nil
}
