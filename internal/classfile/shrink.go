// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"fmt"
	"strings"

	"github.com/dotandev/shrinkwrap/internal/logger"
	"github.com/dotandev/shrinkwrap/internal/shrink"
)

// ShrinkResult reports what ShrinkProgram removed.
type ShrinkResult struct {
	// Classes are the surviving classes in input order.
	Classes        []*ClassFile
	RemovedClasses []string
	RemovedMethods int
	RemovedFields  int
}

// Method handle reference kinds 1-4 address fields.
const lastFieldRefKind = 4

type programClass struct {
	cf      *ClassFile
	methods map[shrink.MemberKey]*Member
	boot    *BootstrapMethods
}

type programShrinker struct {
	classes map[string]*programClass
	marker  *shrink.MethodMarker
}

// ShrinkProgram removes the classes, methods and fields of program that
// cannot be reached from the roots. libraries describe classes that are
// available at run time but not part of the program; they and everything
// they might call back into are kept. Only the surviving member lists are
// changed; the constant pools still hold the removed members' constants
// until Compact runs.
func ShrinkProgram(program []*ClassFile, libraries []shrink.ClassInfo, keep []shrink.KeepRule) (*ShrinkResult, error) {
	s := &programShrinker{classes: make(map[string]*programClass, len(program))}
	infos := make([]shrink.ClassInfo, 0, len(program)+len(libraries))
	names := make([]string, len(program))
	for i, cf := range program {
		info, err := cf.Info(false)
		if err != nil {
			return nil, err
		}
		names[i] = info.Name
		infos = append(infos, info)
		pc := &programClass{cf: cf, methods: make(map[shrink.MemberKey]*Member, len(cf.Methods))}
		for _, m := range cf.Methods {
			n, d, err := cf.MemberName(m)
			if err != nil {
				return nil, err
			}
			pc.methods[shrink.MemberKey{Name: n, Desc: d}] = m
		}
		for _, a := range cf.Attributes {
			if b, ok := a.(*BootstrapMethods); ok {
				pc.boot = b
			}
		}
		if _, dup := s.classes[info.Name]; !dup {
			s.classes[info.Name] = pc
		}
	}
	infos = append(infos, libraries...)

	s.marker = shrink.NewMethodMarker(shrink.NewHierarchy(infos), s.scan)
	if err := s.marker.MarkRoots(keep); err != nil {
		return nil, err
	}

	res := &ShrinkResult{}
	for i, cf := range program {
		name := names[i]
		if !s.marker.ClassUsed(name) {
			res.RemovedClasses = append(res.RemovedClasses, name)
			res.RemovedMethods += len(cf.Methods)
			res.RemovedFields += len(cf.Fields)
			continue
		}
		methods, err := s.filter(cf, cf.Methods, func(n, d string) bool { return s.marker.MethodUsed(name, n, d) })
		if err != nil {
			return nil, err
		}
		fields, err := s.filter(cf, cf.Fields, func(n, d string) bool { return s.marker.FieldUsed(name, n, d) })
		if err != nil {
			return nil, err
		}
		res.RemovedMethods += len(cf.Methods) - len(methods)
		res.RemovedFields += len(cf.Fields) - len(fields)
		cf.Methods, cf.Fields = methods, fields
		res.Classes = append(res.Classes, cf)
	}
	logger.Logger.Debug("Program shrunk",
		"classes_removed", len(res.RemovedClasses),
		"methods_removed", res.RemovedMethods,
		"fields_removed", res.RemovedFields)
	return res, nil
}

func (s *programShrinker) filter(cf *ClassFile, members []*Member, used func(name, desc string) bool) ([]*Member, error) {
	out := make([]*Member, 0, len(members))
	for _, m := range members {
		n, d, err := cf.MemberName(m)
		if err != nil {
			return nil, err
		}
		if used(n, d) {
			out = append(out, m)
		}
	}
	return out, nil
}

// scan follows the references in the code of a newly marked method.
func (s *programShrinker) scan(ref shrink.MemberRef) error {
	pc := s.classes[ref.Class]
	if pc == nil {
		return nil
	}
	m := pc.methods[ref.MemberKey]
	if m == nil {
		return nil
	}
	if err := s.useDescriptor(ref.Desc); err != nil {
		return err
	}
	code := m.Code()
	if code == nil {
		return nil
	}
	pool := pc.cf.Pool
	for _, h := range code.Handlers {
		if h.CatchType == 0 {
			continue
		}
		if err := s.useClassConstant(pool, h.CatchType); err != nil {
			return err
		}
	}
	insns, err := code.Instructions()
	if err != nil {
		return err
	}
	for _, insn := range insns {
		if err := s.scanInsn(pc, insn); err != nil {
			return fmt.Errorf("%s at %d: %w", insn.Op, insn.Offset, err)
		}
	}
	return nil
}

func (s *programShrinker) scanInsn(pc *programClass, insn Instruction) error {
	pool := pc.cf.Pool
	switch insn.Op {
	case OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface:
		class, name, desc, err := pool.MemberRef(insn.Index)
		if err != nil {
			return err
		}
		return s.markMethod(class, name, desc)
	case OpGetstatic, OpPutstatic, OpGetfield, OpPutfield:
		class, name, desc, err := pool.MemberRef(insn.Index)
		if err != nil {
			return err
		}
		if err := s.useDescriptor(desc); err != nil {
			return err
		}
		return s.marker.MarkField(class, name, desc)
	case OpNew, OpCheckcast, OpInstanceof, OpAnewarray, OpMultianewarray:
		return s.useClassConstant(pool, insn.Index)
	case OpLdc:
		return s.useLoadable(pc, insn.Index)
	case OpInvokedynamic:
		c, err := pool.Entry(insn.Index, TagInvokeDynamic)
		if err != nil {
			return err
		}
		_, desc, err := pool.NameAndType(c.B)
		if err != nil {
			return err
		}
		if err := s.useDescriptor(desc); err != nil {
			return err
		}
		return s.useBootstrap(pc, c.A)
	}
	return nil
}

func (s *programShrinker) markMethod(class, name, desc string) error {
	if strings.HasPrefix(class, "[") {
		// Methods of array types are inherited from java/lang/Object.
		return s.useName(class)
	}
	return s.marker.MarkMethod(class, name, desc)
}

// useLoadable handles the constants ldc and bootstrap arguments can load.
func (s *programShrinker) useLoadable(pc *programClass, index uint16) error {
	pool := pc.cf.Pool
	c, err := pool.At(int(index))
	if err != nil {
		return err
	}
	switch c.Tag {
	case TagClass:
		return s.useClassConstant(pool, index)
	case TagMethodType:
		desc, err := pool.Utf8(c.A)
		if err != nil {
			return err
		}
		return s.useDescriptor(desc)
	case TagMethodHandle:
		class, name, desc, err := pool.MemberRef(c.A)
		if err != nil {
			return err
		}
		if c.RefKind <= lastFieldRefKind {
			return s.marker.MarkField(class, name, desc)
		}
		return s.markMethod(class, name, desc)
	case TagDynamic:
		return s.useBootstrap(pc, c.A)
	}
	return nil
}

func (s *programShrinker) useBootstrap(pc *programClass, index uint16) error {
	if pc.boot == nil || int(index) >= len(pc.boot.Methods) {
		return nil
	}
	b := pc.boot.Methods[index]
	if err := s.useLoadable(pc, b.Ref); err != nil {
		return err
	}
	for _, arg := range b.Args {
		if err := s.useLoadable(pc, arg); err != nil {
			return err
		}
	}
	return nil
}

func (s *programShrinker) useClassConstant(pool *Pool, index uint16) error {
	name, err := pool.ClassName(index)
	if err != nil {
		return err
	}
	return s.useName(name)
}

// useName keeps the class behind a class constant name, which may be an
// array descriptor.
func (s *programShrinker) useName(name string) error {
	if strings.HasPrefix(name, "[") {
		return s.useDescriptor(name)
	}
	return s.marker.UseClass(name)
}

func (s *programShrinker) useDescriptor(desc string) error {
	for _, name := range shrink.DescriptorClasses(desc) {
		if err := s.marker.UseClass(name); err != nil {
			return err
		}
	}
	return nil
}
