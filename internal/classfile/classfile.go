// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package classfile reads, edits and writes JVM class files.
//
// Parsing keeps every structure needed to write the file back byte for
// byte: the constant pool with its wide entries, attributes as typed values
// (or opaque bytes when their layout is not modelled) and method bodies as
// raw bytecode that can be decoded into instructions on demand.
package classfile

import (
	"fmt"

	"github.com/hashicorp/go-version"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/shrink"
	"github.com/dotandev/shrinkwrap/internal/table"
)

const Magic uint32 = 0xCAFEBABE

// DefaultVersionConstraint accepts every release from JDK 1.0.2 up to the
// newest major version this package knows about.
const DefaultVersionConstraint = ">= 45.3, < 70"

// Access flags used by the shrinker.
const (
	AccPublic    uint16 = 0x0001
	AccPrivate   uint16 = 0x0002
	AccStatic    uint16 = 0x0008
	AccInterface uint16 = 0x0200
	AccAbstract  uint16 = 0x0400
	AccNative    uint16 = 0x0100
)

// ClassFile is a parsed class.
type ClassFile struct {
	Minor      uint16
	Major      uint16
	Pool       *Pool
	Access     uint16
	This       uint16
	Super      uint16
	Interfaces []uint16
	Fields     []*Member
	Methods    []*Member
	Attributes []Attribute
}

// Member is a field or method.
type Member struct {
	Access     uint16
	Name       uint16
	Desc       uint16
	Attributes []Attribute
}

// Code returns the member's Code attribute, or nil.
func (m *Member) Code() *Code {
	for _, a := range m.Attributes {
		if c, ok := a.(*Code); ok {
			return c
		}
	}
	return nil
}

type options struct {
	constraint string
}

// Option configures Parse.
type Option func(*options)

// WithVersionConstraint replaces DefaultVersionConstraint. The constraint
// is matched against "major.minor".
func WithVersionConstraint(c string) Option {
	return func(o *options) {
		if c != "" {
			o.constraint = c
		}
	}
}

type parser struct {
	pool *Pool
}

// Parse decodes a class file.
func Parse(data []byte, opts ...Option) (*ClassFile, error) {
	o := options{constraint: DefaultVersionConstraint}
	for _, opt := range opts {
		opt(&o)
	}
	constraints, err := version.NewConstraint(o.constraint)
	if err != nil {
		return nil, errors.WrapConfigError(fmt.Sprintf("class version constraint %q", o.constraint), err)
	}

	r := newReader(data, "class file")
	magic, err := r.u32()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, errors.WrapBadMagic(fmt.Sprintf("0x%08X", magic))
	}
	cf := &ClassFile{}
	if cf.Minor, err = r.u16(); err != nil {
		return nil, err
	}
	if cf.Major, err = r.u16(); err != nil {
		return nil, err
	}
	v, err := version.NewVersion(cf.Version())
	if err != nil {
		return nil, errors.WrapUnsupportedVersion(cf.Version(), o.constraint)
	}
	if !constraints.Check(v) {
		return nil, errors.WrapUnsupportedVersion(cf.Version(), o.constraint)
	}

	if cf.Pool, err = readPool(r); err != nil {
		return nil, err
	}
	p := &parser{pool: cf.Pool}

	if cf.Access, err = r.u16(); err != nil {
		return nil, err
	}
	if cf.This, err = r.u16(); err != nil {
		return nil, err
	}
	if cf.Super, err = r.u16(); err != nil {
		return nil, err
	}
	if cf.Interfaces, err = r.u16s(); err != nil {
		return nil, err
	}
	if cf.Fields, err = p.members(r); err != nil {
		return nil, err
	}
	if cf.Methods, err = p.members(r); err != nil {
		return nil, err
	}
	if cf.Attributes, err = p.attributes(r); err != nil {
		return nil, err
	}
	if !r.done() {
		return nil, errors.WrapMalformedContainer("%d trailing bytes after class file", len(data)-r.pos)
	}
	if _, err := cf.Name(); err != nil {
		return nil, errors.WrapMalformedContainer("this_class: %v", err)
	}
	return cf, nil
}

func readPool(r *reader) (*Pool, error) {
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errors.WrapMalformedContainer("constant_pool_count is 0")
	}
	pool := NewPool()
	for pool.End() < int(count) {
		at := pool.End()
		c, err := readConstant(r)
		if err != nil {
			return nil, err
		}
		if _, err := pool.Append(c); err != nil {
			return nil, errors.WrapMalformedContainer("constant %d: %v", at, err)
		}
	}
	if pool.End() != int(count) {
		return nil, errors.WrapMalformedContainer("wide constant overruns constant_pool_count %d", count)
	}
	return pool, nil
}

func readConstant(r *reader) (Constant, error) {
	tag, err := r.u8()
	if err != nil {
		return Constant{}, err
	}
	c := Constant{Tag: table.Kind(tag)}
	switch c.Tag {
	case TagUtf8:
		var n uint16
		if n, err = r.u16(); err != nil {
			return c, err
		}
		var b []byte
		if b, err = r.bytes(int(n)); err != nil {
			return c, err
		}
		c.Text = string(b)
	case TagInteger, TagFloat:
		var v uint32
		v, err = r.u32()
		c.Bits = uint64(v)
	case TagLong, TagDouble:
		c.Bits, err = r.u64()
	case TagClass, TagString, TagMethodType, TagModule, TagPackage:
		c.A, err = r.u16()
	case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
		if c.A, err = r.u16(); err == nil {
			c.B, err = r.u16()
		}
	case TagMethodHandle:
		if c.RefKind, err = r.u8(); err == nil {
			c.A, err = r.u16()
		}
	default:
		return c, errors.WrapMalformedContainer("unknown constant tag %d at byte %d", tag, r.pos-1)
	}
	return c, err
}

func (p *parser) members(r *reader) ([]*Member, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	out := make([]*Member, n)
	for i := range out {
		m := &Member{}
		if m.Access, err = r.u16(); err != nil {
			return nil, err
		}
		if m.Name, err = r.u16(); err != nil {
			return nil, err
		}
		if m.Desc, err = r.u16(); err != nil {
			return nil, err
		}
		if m.Attributes, err = p.attributes(r); err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// Bytes serialises the class file.
func (cf *ClassFile) Bytes() ([]byte, error) {
	w := &writer{}
	w.u32(Magic)
	w.u16(cf.Minor)
	w.u16(cf.Major)
	w.u16(uint16(cf.Pool.End()))
	for _, c := range cf.Pool.All() {
		writeConstant(w, c)
	}
	w.u16(cf.Access)
	w.u16(cf.This)
	w.u16(cf.Super)
	w.u16s(cf.Interfaces)
	for _, members := range [][]*Member{cf.Fields, cf.Methods} {
		w.u16(uint16(len(members)))
		for _, m := range members {
			w.u16(m.Access)
			w.u16(m.Name)
			w.u16(m.Desc)
			if err := writeAttributes(w, m.Attributes); err != nil {
				return nil, err
			}
		}
	}
	if err := writeAttributes(w, cf.Attributes); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func writeConstant(w *writer, c Constant) {
	w.u8(uint8(c.Tag))
	switch c.Tag {
	case TagUtf8:
		w.u16(uint16(len(c.Text)))
		w.bytes([]byte(c.Text))
	case TagInteger, TagFloat:
		w.u32(uint32(c.Bits))
	case TagLong, TagDouble:
		w.u64(c.Bits)
	case TagClass, TagString, TagMethodType, TagModule, TagPackage:
		w.u16(c.A)
	case TagMethodHandle:
		w.u8(c.RefKind)
		w.u16(c.A)
	default:
		w.u16(c.A)
		w.u16(c.B)
	}
}

// Version returns "major.minor".
func (cf *ClassFile) Version() string {
	return fmt.Sprintf("%d.%d", cf.Major, cf.Minor)
}

// Name returns the internal name of the class.
func (cf *ClassFile) Name() (string, error) {
	return cf.Pool.ClassName(cf.This)
}

// SuperName returns the super class name, or "" for java/lang/Object and
// module-info.
func (cf *ClassFile) SuperName() (string, error) {
	if cf.Super == 0 {
		return "", nil
	}
	return cf.Pool.ClassName(cf.Super)
}

// MemberName returns the name and descriptor of a field or method.
func (cf *ClassFile) MemberName(m *Member) (string, string, error) {
	name, err := cf.Pool.Utf8(m.Name)
	if err != nil {
		return "", "", err
	}
	desc, err := cf.Pool.Utf8(m.Desc)
	if err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// Info describes the class for the hierarchy marker.
func (cf *ClassFile) Info(library bool) (shrink.ClassInfo, error) {
	name, err := cf.Name()
	if err != nil {
		return shrink.ClassInfo{}, err
	}
	super, err := cf.SuperName()
	if err != nil {
		return shrink.ClassInfo{}, err
	}
	info := shrink.ClassInfo{
		Name:      name,
		Super:     super,
		Interface: cf.Access&AccInterface != 0,
		Library:   library,
	}
	for _, i := range cf.Interfaces {
		n, err := cf.Pool.ClassName(i)
		if err != nil {
			return shrink.ClassInfo{}, err
		}
		info.Interfaces = append(info.Interfaces, n)
	}
	for _, group := range []struct {
		members []*Member
		out     *[]shrink.MemberInfo
	}{{cf.Methods, &info.Methods}, {cf.Fields, &info.Fields}} {
		for _, m := range group.members {
			n, d, err := cf.MemberName(m)
			if err != nil {
				return shrink.ClassInfo{}, err
			}
			*group.out = append(*group.out, shrink.MemberInfo{
				Name:    n,
				Desc:    d,
				Static:  m.Access&AccStatic != 0,
				Private: m.Access&AccPrivate != 0,
			})
		}
	}
	return info, nil
}

// Clone returns a deep copy.
func (cf *ClassFile) Clone() *ClassFile {
	c := *cf
	c.Pool = cf.Pool.Clone()
	c.Interfaces = append([]uint16(nil), cf.Interfaces...)
	c.Fields = cloneMembers(cf.Fields)
	c.Methods = cloneMembers(cf.Methods)
	c.Attributes = cloneAttributes(cf.Attributes)
	return &c
}

func cloneMembers(ms []*Member) []*Member {
	out := make([]*Member, len(ms))
	for i, m := range ms {
		c := *m
		c.Attributes = cloneAttributes(m.Attributes)
		out[i] = &c
	}
	return out
}
