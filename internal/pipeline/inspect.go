// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"

	"github.com/dotandev/shrinkwrap/internal/classfile"
	"github.com/dotandev/shrinkwrap/internal/dex"
)

// TableSummary is the size of one table.
type TableSummary struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Slots   int    `json:"slots"`
}

// ClassSummary describes one class of a container.
type ClassSummary struct {
	Name         string `json:"name"`
	Fields       int    `json:"fields"`
	Methods      int    `json:"methods"`
	Instructions int    `json:"instructions"`
	CodeUnits    int    `json:"code_units"`
}

// Summary describes a container without changing it.
type Summary struct {
	Path    string         `json:"path"`
	Format  string         `json:"format"`
	Version string         `json:"version"`
	Size    int            `json:"size"`
	Tables  []TableSummary `json:"tables"`
	Classes []ClassSummary `json:"classes"`
}

// Inspect parses in and summarises its tables and classes.
func (p *Pipeline) Inspect(in Input) (*Summary, error) {
	c, err := p.parseContainer(in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.Path, err)
	}
	s := &Summary{Path: in.Path, Format: c.format.String(), Size: len(in.Data)}
	switch c.format {
	case FormatClass:
		err = summariseClass(s, c.cf)
	case FormatDex:
		err = summariseDex(s, c.dex)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.Path, err)
	}
	return s, nil
}

func summariseClass(s *Summary, cf *classfile.ClassFile) error {
	s.Version = cf.Version()
	s.Tables = []TableSummary{{Name: "pool", Entries: cf.Pool.Count(), Slots: cf.Pool.Len()}}
	name, err := cf.Name()
	if err != nil {
		return err
	}
	cs := ClassSummary{Name: name, Fields: len(cf.Fields), Methods: len(cf.Methods)}
	for _, m := range cf.Methods {
		code := m.Code()
		if code == nil {
			continue
		}
		insns, err := code.Instructions()
		if err != nil {
			return err
		}
		cs.Instructions += len(insns)
		cs.CodeUnits += len(code.Bytecode)
	}
	s.Classes = []ClassSummary{cs}
	return nil
}

func summariseDex(s *Summary, f *dex.File) error {
	s.Version = fmt.Sprintf("%03d", f.Version)
	s.Tables = []TableSummary{
		{Name: dex.SpaceName(dex.StringSpace), Entries: f.Strings.Count(), Slots: f.Strings.Len()},
		{Name: dex.SpaceName(dex.TypeSpace), Entries: f.Types.Count(), Slots: f.Types.Len()},
		{Name: dex.SpaceName(dex.ProtoSpace), Entries: f.Protos.Count(), Slots: f.Protos.Len()},
		{Name: dex.SpaceName(dex.FieldSpace), Entries: f.Fields.Count(), Slots: f.Fields.Len()},
		{Name: dex.SpaceName(dex.MethodSpace), Entries: f.Methods.Count(), Slots: f.Methods.Len()},
	}
	for _, def := range f.Classes {
		name, err := f.ClassName(def)
		if err != nil {
			return err
		}
		cs := ClassSummary{Name: name, Fields: len(def.Data.Fields()), Methods: len(def.Data.Methods())}
		for _, m := range def.Data.Methods() {
			if m.Code == nil {
				continue
			}
			insns, err := m.Code.Instructions()
			if err != nil {
				return err
			}
			cs.Instructions += len(insns)
			cs.CodeUnits += len(m.Code.Insns)
		}
		s.Classes = append(s.Classes, cs)
	}
	return nil
}
