// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

import (
	"fmt"
	"strings"

	"github.com/dotandev/shrinkwrap/internal/logger"
	"github.com/dotandev/shrinkwrap/internal/shrink"
)

// ShrinkResult reports what ShrinkMembers removed.
type ShrinkResult struct {
	RemovedClasses []string
	RemovedMethods int
	RemovedFields  int
}

type dexClass struct {
	def     *ClassDef
	methods map[shrink.MemberKey]*EncodedMethod
	scanned bool
}

type memberShrinker struct {
	f       *File
	classes map[string]*dexClass
	marker  *shrink.MethodMarker
}

// ClassName returns the internal name of the class c defines.
func (f *File) ClassName(c *ClassDef) (string, error) {
	desc, err := f.TypeName(c.Class)
	if err != nil {
		return "", err
	}
	return shrink.InternalName(desc), nil
}

// Info describes c for the hierarchy marker.
func (f *File) Info(c *ClassDef, library bool) (shrink.ClassInfo, error) {
	name, err := f.ClassName(c)
	if err != nil {
		return shrink.ClassInfo{}, err
	}
	info := shrink.ClassInfo{Name: name, Interface: c.Access&AccInterface != 0, Library: library}
	if c.Super != NoIndex {
		super, err := f.TypeName(c.Super)
		if err != nil {
			return shrink.ClassInfo{}, err
		}
		info.Super = shrink.InternalName(super)
	}
	for _, t := range c.Interfaces {
		n, err := f.TypeName(uint32(t))
		if err != nil {
			return shrink.ClassInfo{}, err
		}
		info.Interfaces = append(info.Interfaces, shrink.InternalName(n))
	}
	for _, m := range c.Data.Methods() {
		_, n, d, err := f.MethodRef(m.Method)
		if err != nil {
			return shrink.ClassInfo{}, err
		}
		info.Methods = append(info.Methods, shrink.MemberInfo{
			Name:    n,
			Desc:    d,
			Static:  m.Access&AccStatic != 0,
			Private: m.Access&AccPrivate != 0,
		})
	}
	for _, fd := range c.Data.Fields() {
		_, n, d, err := f.FieldRef(fd.Field)
		if err != nil {
			return shrink.ClassInfo{}, err
		}
		info.Fields = append(info.Fields, shrink.MemberInfo{
			Name:    n,
			Desc:    d,
			Static:  fd.Access&AccStatic != 0,
			Private: fd.Access&AccPrivate != 0,
		})
	}
	return info, nil
}

// ShrinkMembers removes the classes, methods and fields of f that cannot be
// reached from the roots, along with their annotations and static values.
// libraries describe classes available at run time outside the file. The
// identifier tables still hold the removed members until Compact runs.
func ShrinkMembers(f *File, libraries []shrink.ClassInfo, keep []shrink.KeepRule) (*ShrinkResult, error) {
	s := &memberShrinker{f: f, classes: make(map[string]*dexClass, len(f.Classes))}
	infos := make([]shrink.ClassInfo, 0, len(f.Classes)+len(libraries))
	names := make([]string, len(f.Classes))
	for i, c := range f.Classes {
		info, err := f.Info(c, false)
		if err != nil {
			return nil, err
		}
		names[i] = info.Name
		infos = append(infos, info)
		dc := &dexClass{def: c, methods: make(map[shrink.MemberKey]*EncodedMethod)}
		for _, m := range c.Data.Methods() {
			_, n, d, err := f.MethodRef(m.Method)
			if err != nil {
				return nil, err
			}
			dc.methods[shrink.MemberKey{Name: n, Desc: d}] = m
		}
		if _, dup := s.classes[info.Name]; !dup {
			s.classes[info.Name] = dc
		}
	}
	infos = append(infos, libraries...)

	s.marker = shrink.NewMethodMarker(shrink.NewHierarchy(infos), s.scan)
	if err := s.marker.MarkRoots(keep); err != nil {
		return nil, err
	}
	if err := s.scanClassData(names); err != nil {
		return nil, err
	}

	res := &ShrinkResult{}
	kept := f.Classes[:0]
	for i, c := range f.Classes {
		name := names[i]
		if !s.marker.ClassUsed(name) {
			res.RemovedClasses = append(res.RemovedClasses, name)
			res.RemovedMethods += len(c.Data.Methods())
			res.RemovedFields += len(c.Data.Fields())
			continue
		}
		m, fl, err := s.filter(c, name)
		if err != nil {
			return nil, err
		}
		res.RemovedMethods += m
		res.RemovedFields += fl
		kept = append(kept, c)
	}
	clear(f.Classes[len(kept):])
	f.Classes = kept
	logger.Logger.Debug("Dex members shrunk",
		"classes_removed", len(res.RemovedClasses),
		"methods_removed", res.RemovedMethods,
		"fields_removed", res.RemovedFields)
	return res, nil
}

// scanClassData follows the annotations and static values of every used
// class until no new class becomes used.
func (s *memberShrinker) scanClassData(names []string) error {
	for changed := true; changed; {
		changed = false
		for _, name := range names {
			dc := s.classes[name]
			if dc.scanned || !s.marker.ClassUsed(name) {
				continue
			}
			dc.scanned = true
			changed = true
			var err error
			use := func(kind IndexKind, p *uint32) {
				if err == nil {
					err = s.useIndex(kind, *p)
				}
			}
			if d := dc.def.Annotations; d != nil {
				setRefs(d.Class, use)
				for _, m := range d.Fields {
					setRefs(m.Set, use)
				}
				for _, m := range d.Methods {
					setRefs(m.Set, use)
				}
				for _, p := range d.Params {
					for _, set := range p.Sets {
						setRefs(set, use)
					}
				}
			}
			for i := range dc.def.StaticValues {
				v := cloneValue(dc.def.StaticValues[i])
				valueRefs(&v, use)
			}
			if err != nil {
				return fmt.Errorf("class %s: %w", name, err)
			}
		}
	}
	return nil
}

// useIndex keeps what an annotation or encoded value refers to.
func (s *memberShrinker) useIndex(kind IndexKind, idx uint32) error {
	switch kind {
	case IndexType:
		desc, err := s.f.TypeName(idx)
		if err != nil {
			return err
		}
		return s.useDescriptor(desc)
	case IndexMethod:
		class, name, desc, err := s.f.MethodRef(idx)
		if err != nil {
			return err
		}
		return s.markMethod(class, name, desc)
	case IndexField:
		class, name, desc, err := s.f.FieldRef(idx)
		if err != nil {
			return err
		}
		return s.markField(class, name, desc)
	case IndexProto:
		desc, err := s.f.ProtoDescriptor(idx)
		if err != nil {
			return err
		}
		return s.useDescriptor(desc)
	}
	return nil
}

// filter drops the unused members of a kept class and returns how many
// methods and fields went.
func (s *memberShrinker) filter(c *ClassDef, name string) (int, int, error) {
	d := c.Data
	if d == nil {
		return 0, 0, nil
	}
	methodUsed := func(idx uint32) (bool, error) {
		_, n, desc, err := s.f.MethodRef(idx)
		if err != nil {
			return false, err
		}
		return s.marker.MethodUsed(name, n, desc), nil
	}
	fieldUsed := func(idx uint32) (bool, error) {
		_, n, desc, err := s.f.FieldRef(idx)
		if err != nil {
			return false, err
		}
		return s.marker.FieldUsed(name, n, desc), nil
	}

	removedMethods := 0
	gone := make(map[uint32]bool)
	for _, list := range []*[]EncodedMethod{&d.DirectMethods, &d.VirtualMethods} {
		out := (*list)[:0]
		for _, m := range *list {
			ok, err := methodUsed(m.Method)
			if err != nil {
				return 0, 0, err
			}
			if !ok {
				gone[m.Method] = true
				removedMethods++
				continue
			}
			out = append(out, m)
		}
		*list = out
	}

	removedFields := 0
	goneFields := make(map[uint32]bool)
	var values []EncodedValue
	statics := d.StaticFields[:0]
	for i, fd := range d.StaticFields {
		ok, err := fieldUsed(fd.Field)
		if err != nil {
			return 0, 0, err
		}
		if !ok {
			goneFields[fd.Field] = true
			removedFields++
			continue
		}
		if i < len(c.StaticValues) {
			values = append(values, c.StaticValues[i])
		}
		statics = append(statics, fd)
	}
	d.StaticFields = statics
	c.StaticValues = values
	instance := d.InstanceFields[:0]
	for _, fd := range d.InstanceFields {
		ok, err := fieldUsed(fd.Field)
		if err != nil {
			return 0, 0, err
		}
		if !ok {
			goneFields[fd.Field] = true
			removedFields++
			continue
		}
		instance = append(instance, fd)
	}
	d.InstanceFields = instance

	if a := c.Annotations; a != nil {
		a.Fields = dropMembers(a.Fields, goneFields)
		a.Methods = dropMembers(a.Methods, gone)
		params := a.Params[:0]
		for _, p := range a.Params {
			if !gone[p.Method] {
				params = append(params, p)
			}
		}
		a.Params = params
		if a.empty() {
			c.Annotations = nil
		}
	}
	if len(d.StaticFields)+len(d.InstanceFields)+len(d.DirectMethods)+len(d.VirtualMethods) == 0 {
		c.Data = nil
	}
	return removedMethods, removedFields, nil
}

func dropMembers(ms []MemberAnnotations, gone map[uint32]bool) []MemberAnnotations {
	out := ms[:0]
	for _, m := range ms {
		if !gone[m.Index] {
			out = append(out, m)
		}
	}
	return out
}

// scan follows the references in the code of a newly marked method.
func (s *memberShrinker) scan(ref shrink.MemberRef) error {
	dc := s.classes[ref.Class]
	if dc == nil {
		return nil
	}
	m := dc.methods[ref.MemberKey]
	if m == nil {
		return nil
	}
	if err := s.useDescriptor(ref.Desc); err != nil {
		return err
	}
	if m.Code == nil {
		return nil
	}
	for _, h := range m.Code.Handlers {
		for _, c := range h.Catches {
			if err := s.useIndex(IndexType, c.Type); err != nil {
				return err
			}
		}
	}
	insns, err := m.Code.Instructions()
	if err != nil {
		return err
	}
	for _, insn := range insns {
		if err := s.scanInsn(insn); err != nil {
			return fmt.Errorf("%s at %d: %w", insn.Op, insn.Offset, err)
		}
	}
	return nil
}

func (s *memberShrinker) scanInsn(insn Instruction) error {
	switch k := insn.Op.Index(); k {
	case IndexMethod:
		if err := s.useIndex(k, insn.Index); err != nil {
			return err
		}
		if f := insn.Form.Format(); f == Format45cc || f == Format4rcc {
			return s.useIndex(IndexProto, uint32(insn.Proto))
		}
	case IndexField, IndexType, IndexProto:
		return s.useIndex(k, insn.Index)
	}
	return nil
}

func (s *memberShrinker) markMethod(class, name, desc string) error {
	if strings.HasPrefix(class, "[") {
		// Methods of array types are inherited from java/lang/Object.
		return s.useDescriptor(class)
	}
	return s.marker.MarkMethod(shrink.InternalName(class), name, desc)
}

func (s *memberShrinker) markField(class, name, desc string) error {
	if err := s.useDescriptor(desc); err != nil {
		return err
	}
	return s.marker.MarkField(shrink.InternalName(class), name, desc)
}

func (s *memberShrinker) useDescriptor(desc string) error {
	for _, name := range shrink.DescriptorClasses(desc) {
		if err := s.marker.UseClass(name); err != nil {
			return err
		}
	}
	return nil
}
