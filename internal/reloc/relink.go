// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package reloc

import (
	"maps"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/logger"
)

// DefaultMaxPasses bounds iterative relaxation when Options.MaxPasses is 0.
const DefaultMaxPasses = 8

// Codec is the format-specific half of relinking. I is the instruction type
// and U the code unit (byte or uint16).
type Codec[I any, U any] interface {
	// Labels returns the labels bound at the position of insn.
	Labels(insn I) []string
	// Size is the encoded length of insn at offset at, padding included.
	Size(insn I, at int) int
	// Resolve returns a copy of insn whose relative operands are computed
	// for position at using ctx.
	Resolve(insn I, at int, ctx *Context) (I, error)
	// Append encodes insn at offset at.
	Append(dst []U, insn I, at int) ([]U, error)
}

// Item is one instruction of an edited body together with the old offsets
// that should now point at it. New instructions have no origins.
type Item[I any] struct {
	Insn    I
	Origins []int
}

// Items wraps decoded instructions, each carrying its own old offset.
func Items[I any](insns []I, offset func(I) int) []Item[I] {
	items := make([]Item[I], len(insns))
	for i, insn := range insns {
		items[i] = Item[I]{Insn: insn, Origins: []int{offset(insn)}}
	}
	return items
}

// Options tune a relink.
type Options struct {
	// Mode is used when Relink is called without a context.
	Mode Mode
	// StrictLength requires the result to be exactly ExpectedLength units.
	StrictLength   bool
	ExpectedLength int
	// OldLength is the length of the code before editing. It maps to the
	// new length so that exclusive end offsets keep working.
	OldLength int
	// EndOrigins are further old offsets that map to the new length, such
	// as those of removed trailing instructions.
	EndOrigins []int
	// MaxPasses caps iterative relaxation.
	MaxPasses int
}

// Result is the outcome of a successful relink.
type Result[I any, U any] struct {
	Code    []U
	Insns   []I
	Offsets []int
	Length  int
	Passes  int
	Context *Context
}

// Relink lays out items, resolves every label and old-offset operand, and
// encodes the result. Resolution always starts from the caller's
// instructions; when a resolved instruction changes size the layout is
// recomputed until it is stable.
func Relink[I any, U any](codec Codec[I, U], items []Item[I], ctx *Context, opts Options) (*Result[I, U], error) {
	if ctx == nil {
		ctx = NewContext(opts.Mode)
	}
	maxPasses := opts.MaxPasses
	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses
	}
	// Bindings the caller made before relinking survive every pass. Offsets
	// recorded by layout take precedence over preset ones.
	preset := maps.Clone(ctx.labels)
	presetOld := maps.Clone(ctx.oldToNew)
	presetNew := maps.Clone(ctx.newToOld)

	cur := make([]I, len(items))
	for i, it := range items {
		cur[i] = it.Insn
	}
	offsets := make([]int, len(items))

	for pass := 1; pass <= maxPasses; pass++ {
		ctx.reset()
		maps.Copy(ctx.labels, preset)
		maps.Copy(ctx.oldToNew, presetOld)
		maps.Copy(ctx.newToOld, presetNew)
		length := layout(codec, items, cur, offsets, ctx, opts)

		next := make([]I, len(items))
		for i, it := range items {
			r, err := codec.Resolve(it.Insn, offsets[i], ctx)
			if err != nil {
				return nil, err
			}
			next[i] = r
		}

		if stable(codec, next, offsets, length) {
			if opts.StrictLength && length != opts.ExpectedLength {
				return nil, errors.WrapFixedLengthViolation(opts.ExpectedLength, length)
			}
			code, err := emit(codec, next, offsets, length)
			if err != nil {
				return nil, err
			}
			if pass > 1 {
				logger.Logger.Debug("Relaxation converged", "passes", pass, "length", length)
			}
			return &Result[I, U]{
				Code:    code,
				Insns:   next,
				Offsets: offsets,
				Length:  length,
				Passes:  pass,
				Context: ctx,
			}, nil
		}
		cur = next
	}
	return nil, errors.WrapNotConverged(maxPasses)
}

func layout[I any, U any](codec Codec[I, U], items []Item[I], cur []I, offsets []int, ctx *Context, opts Options) int {
	at := 0
	for i, it := range items {
		offsets[i] = at
		for _, o := range it.Origins {
			ctx.SetOldToNewOffsetMapping(o, at)
		}
		for _, l := range codec.Labels(cur[i]) {
			ctx.SetLabel(l, at)
		}
		at += codec.Size(cur[i], at)
	}
	if opts.OldLength > 0 || len(items) == 0 {
		ctx.SetOldToNewOffsetMapping(opts.OldLength, at)
	}
	for _, o := range opts.EndOrigins {
		ctx.SetOldToNewOffsetMapping(o, at)
	}
	return at
}

// stable reports whether the resolved instructions fit the layout they were
// resolved against.
func stable[I any, U any](codec Codec[I, U], next []I, offsets []int, length int) bool {
	at := 0
	for i, insn := range next {
		if offsets[i] != at {
			return false
		}
		at += codec.Size(insn, at)
	}
	return at == length
}

func emit[I any, U any](codec Codec[I, U], insns []I, offsets []int, length int) ([]U, error) {
	out := make([]U, 0, length)
	for i, insn := range insns {
		var err error
		out, err = codec.Append(out, insn, offsets[i])
		if err != nil {
			return nil, err
		}
		end := length
		if i+1 < len(insns) {
			end = offsets[i+1]
		}
		if len(out) != end {
			errors.Invariant("instruction %d encoded to end at %d, layout says %d", i, len(out), end)
		}
	}
	return out, nil
}
