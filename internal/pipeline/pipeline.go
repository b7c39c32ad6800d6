// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package pipeline shrinks a set of containers as one run: class file
// inputs form a single program, each dex file is its own program, and
// every container is then compacted and written independently.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dotandev/shrinkwrap/internal/classfile"
	"github.com/dotandev/shrinkwrap/internal/config"
	"github.com/dotandev/shrinkwrap/internal/dex"
	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/logger"
	"github.com/dotandev/shrinkwrap/internal/mapping"
	"github.com/dotandev/shrinkwrap/internal/reloc"
	"github.com/dotandev/shrinkwrap/internal/shrink"
	"github.com/dotandev/shrinkwrap/internal/telemetry"
)

// Input is one container and where it came from.
type Input struct {
	Path string
	Data []byte
}

// Pipeline runs shrink jobs with a fixed configuration.
type Pipeline struct {
	cfg  *config.Config
	keep []shrink.KeepRule
}

// New checks cfg and compiles its keep rules.
func New(cfg *config.Config) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	keep, err := shrink.ParseKeepRules(cfg.Keep)
	if err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, keep: keep}, nil
}

type container struct {
	in     Input
	format Format
	cf     *classfile.ClassFile
	dex    *dex.File
	report *ContainerReport
}

// Run shrinks inputs against libraries. Library containers are only read;
// they describe classes present at run time. A failing container does not
// stop the others; every failure is returned together.
func (p *Pipeline) Run(ctx context.Context, inputs, libraries []Input) (_ *Report, err error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.run", attribute.Int("inputs", len(inputs)))
	defer func() { telemetry.EndSpan(span, err) }()

	start := time.Now()
	report := &Report{RunID: uuid.NewString(), StartedAt: start}

	libs, err := p.libraryInfo(ctx, libraries)
	if err != nil {
		return nil, err
	}

	containers := make([]*container, len(inputs))
	if err := p.parallel(ctx, len(inputs), func(i int) error {
		c, err := p.parse(ctx, inputs[i])
		containers[i] = c
		return err
	}); err != nil {
		return nil, err
	}

	var program []*classfile.ClassFile
	for _, c := range containers {
		if c.format == FormatClass {
			program = append(program, c.cf)
		}
	}
	if len(program) > 0 {
		if err := p.shrinkProgram(ctx, program, libs, containers, report); err != nil {
			return nil, err
		}
	}

	var mu sync.Mutex
	runErr := p.parallel(ctx, len(containers), func(i int) error {
		c := containers[i]
		if c.report.Removed {
			return nil
		}
		res, err := p.process(ctx, c, libs)
		if err != nil {
			return fmt.Errorf("%s: %w", c.in.Path, err)
		}
		if res != nil {
			mu.Lock()
			report.RemovedClasses += len(res.RemovedClasses)
			report.RemovedMethods += res.RemovedMethods
			report.RemovedFields += res.RemovedFields
			mu.Unlock()
		}
		return nil
	})

	for _, c := range containers {
		report.Containers = append(report.Containers, *c.report)
	}
	report.Duration = time.Since(start)
	if runErr != nil {
		return report, runErr
	}
	logger.Logger.Info("Shrink complete",
		"containers", len(report.Containers),
		"bytes_before", report.BytesBefore(),
		"bytes_after", report.BytesAfter(),
		"duration", report.Duration)
	return report, nil
}

// parallel calls fn for 0..n-1 with at most Workers calls in flight.
func (p *Pipeline) parallel(ctx context.Context, n int, fn func(i int) error) error {
	workers := max(p.cfg.Workers, 1)
	sem := make(chan struct{}, workers)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = guarded(func() error { return fn(i) })
		}()
	}
	wg.Wait()

	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// guarded runs fn, turning an internal consistency panic into an error so
// that it does not escape the worker goroutine.
func guarded(fn func() error) (err error) {
	defer errors.Recover(&err)
	return fn()
}

func (p *Pipeline) parse(ctx context.Context, in Input) (*container, error) {
	_, span := telemetry.StartSpan(ctx, "pipeline.parse", attribute.String("path", in.Path))
	c, err := p.parseContainer(in)
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.Path, err)
	}
	return c, nil
}

func (p *Pipeline) parseContainer(in Input) (*container, error) {
	format, err := Detect(in.Data)
	if err != nil {
		return nil, err
	}
	c := &container{
		in:     in,
		format: format,
		report: &ContainerReport{Path: in.Path, Format: format.String(), BytesBefore: len(in.Data)},
	}
	switch format {
	case FormatClass:
		if c.cf, err = classfile.Parse(in.Data, classfile.WithVersionConstraint(p.cfg.ClassVersion)); err != nil {
			return nil, err
		}
		if c.report.Name, err = c.cf.Name(); err != nil {
			return nil, err
		}
	case FormatDex:
		if c.dex, err = dex.Parse(in.Data, dex.WithVersionConstraint(p.cfg.DexVersion)); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (p *Pipeline) libraryInfo(ctx context.Context, libraries []Input) ([]shrink.ClassInfo, error) {
	var infos []shrink.ClassInfo
	for _, in := range libraries {
		c, err := p.parse(ctx, in)
		if err != nil {
			return nil, err
		}
		switch c.format {
		case FormatClass:
			info, err := c.cf.Info(true)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", in.Path, err)
			}
			infos = append(infos, info)
		case FormatDex:
			for _, def := range c.dex.Classes {
				info, err := c.dex.Info(def, true)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", in.Path, err)
				}
				infos = append(infos, info)
			}
		}
	}
	logger.Logger.Debug("Loaded libraries", "containers", len(libraries), "classes", len(infos))
	return infos, nil
}

// shrinkProgram removes unreachable members across all class file inputs.
// Classes that do not survive are marked removed and produce no output.
func (p *Pipeline) shrinkProgram(ctx context.Context, program []*classfile.ClassFile, libs []shrink.ClassInfo, containers []*container, report *Report) (err error) {
	_, span := telemetry.StartSpan(ctx, "pipeline.shrink_program", attribute.Int("classes", len(program)))
	defer func() { telemetry.EndSpan(span, err) }()

	res, err := classfile.ShrinkProgram(program, libs, p.keep)
	if err != nil {
		return err
	}
	kept := make(map[*classfile.ClassFile]bool, len(res.Classes))
	for _, cf := range res.Classes {
		kept[cf] = true
	}
	for _, c := range containers {
		if c.format == FormatClass && !kept[c.cf] {
			c.report.Removed = true
		}
	}
	report.RemovedClasses += len(res.RemovedClasses)
	report.RemovedMethods += res.RemovedMethods
	report.RemovedFields += res.RemovedFields
	return nil
}

// process shrinks, compacts, narrows and encodes one container. For dex
// files it also returns what member shrinking removed.
func (p *Pipeline) process(ctx context.Context, c *container, libs []shrink.ClassInfo) (_ *dex.ShrinkResult, err error) {
	_, span := telemetry.StartSpan(ctx, "pipeline.container",
		attribute.String("path", c.in.Path), attribute.String("format", c.format.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	var shrunk *dex.ShrinkResult
	switch c.format {
	case FormatClass:
		err = p.processClass(c)
	case FormatDex:
		shrunk, err = p.processDex(c, libs)
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("bytes_before", c.report.BytesBefore),
		attribute.Int("bytes_after", c.report.BytesAfter),
		attribute.Int("entries_dropped", c.report.EntriesBefore-c.report.EntriesAfter))
	return shrunk, nil
}

func (p *Pipeline) processClass(c *container) error {
	res, err := classfile.Compact(c.cf)
	if err != nil {
		return err
	}
	r := c.report
	r.EntriesBefore, r.EntriesAfter = res.Before, res.After
	r.PinnedBy = res.PinnedBy
	r.Tables = []mapping.Table{mapping.FromIndexMap("pool", res.Before, res.After, res.Map)}
	if res.PinnedBy != "" {
		logger.Logger.Warn("Constant pool pinned", "path", c.in.Path, "attribute", res.PinnedBy)
	}

	if p.cfg.Narrow {
		for _, m := range c.cf.Methods {
			code := m.Code()
			if code == nil {
				continue
			}
			before := len(code.Bytecode)
			_, err := code.Edit(keepAll[classfile.Instruction], p.cfg.RelocOptions(before))
			if skipNarrow(err) {
				continue
			}
			if err != nil {
				return err
			}
			if len(code.Bytecode) < before {
				r.NarrowedMethods++
			}
		}
	}

	if r.Output, err = c.cf.Bytes(); err != nil {
		return err
	}
	r.BytesAfter = len(r.Output)
	return nil
}

func (p *Pipeline) processDex(c *container, libs []shrink.ClassInfo) (*dex.ShrinkResult, error) {
	shrunk, err := dex.ShrinkMembers(c.dex, libs, p.keep)
	if err != nil {
		return nil, err
	}
	res, err := dex.Compact(c.dex)
	if err != nil {
		return nil, err
	}
	r := c.report
	r.RemovedClasses = shrunk.RemovedClasses
	for _, t := range res.Tables {
		r.EntriesBefore += t.Before
		r.EntriesAfter += t.After
		r.Tables = append(r.Tables, mapping.FromIndexMap(t.Name, t.Before, t.After, t.Map))
	}

	if p.cfg.Narrow {
		for _, def := range c.dex.Classes {
			if def.Data == nil {
				continue
			}
			for _, m := range def.Data.Methods() {
				if m.Code == nil {
					continue
				}
				before := len(m.Code.Insns)
				_, err := m.Code.Edit(keepAll[dex.Instruction], p.cfg.RelocOptions(before))
				if skipNarrow(err) {
					continue
				}
				if err != nil {
					return nil, err
				}
				if len(m.Code.Insns) < before {
					r.NarrowedMethods++
				}
			}
		}
	}

	if r.Output, err = c.dex.Bytes(); err != nil {
		return nil, err
	}
	r.BytesAfter = len(r.Output)
	return shrunk, nil
}

// keepAll leaves the body as it is; relinking it picks the narrowest form
// of every instruction.
func keepAll[I any](*reloc.Editor[I]) error { return nil }

// skipNarrow reports whether a narrowing failure leaves the body usable as
// it was. Rewrites change nothing when they fail.
func skipNarrow(err error) bool {
	return stderrors.Is(err, errors.ErrFixedLengthViolation) ||
		stderrors.Is(err, errors.ErrNotConverged)
}
