// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"fmt"
	"math"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/table"
)

// Constant pool tags.
const (
	TagUtf8               table.Kind = 1
	TagInteger            table.Kind = 3
	TagFloat              table.Kind = 4
	TagLong               table.Kind = 5
	TagDouble             table.Kind = 6
	TagClass              table.Kind = 7
	TagString             table.Kind = 8
	TagFieldref           table.Kind = 9
	TagMethodref          table.Kind = 10
	TagInterfaceMethodref table.Kind = 11
	TagNameAndType        table.Kind = 12
	TagMethodHandle       table.Kind = 15
	TagMethodType         table.Kind = 16
	TagDynamic            table.Kind = 17
	TagInvokeDynamic      table.Kind = 18
	TagModule             table.Kind = 19
	TagPackage            table.Kind = 20
)

// MaxPoolSlots is the largest number of usable slots: constant_pool_count
// is a u16 and index 0 is reserved.
const MaxPoolSlots = math.MaxUint16 - 1

var tagNames = map[table.Kind]string{
	TagUtf8:               "Utf8",
	TagInteger:            "Integer",
	TagFloat:              "Float",
	TagLong:               "Long",
	TagDouble:             "Double",
	TagClass:              "Class",
	TagString:             "String",
	TagFieldref:           "Fieldref",
	TagMethodref:          "Methodref",
	TagInterfaceMethodref: "InterfaceMethodref",
	TagNameAndType:        "NameAndType",
	TagMethodHandle:       "MethodHandle",
	TagMethodType:         "MethodType",
	TagDynamic:            "Dynamic",
	TagInvokeDynamic:      "InvokeDynamic",
	TagModule:             "Module",
	TagPackage:            "Package",
}

// TagName returns the JVMS name of a tag.
func TagName(tag table.Kind) string {
	if n, ok := tagNames[tag]; ok {
		return n
	}
	return fmt.Sprintf("tag(%d)", tag)
}

// Constant is one constant pool entry. Which fields are meaningful depends
// on Tag:
//
//	Utf8                      Text (raw modified UTF-8)
//	Integer, Float            Bits (low 32 bits)
//	Long, Double              Bits
//	Class, String, MethodType A (name / string / descriptor index)
//	Module, Package           A (name index)
//	Field/Method/IMethodref   A (class index), B (name-and-type index)
//	NameAndType               A (name index), B (descriptor index)
//	MethodHandle              RefKind, A (reference index)
//	Dynamic, InvokeDynamic    A (bootstrap method attribute index, not a
//	                          pool index), B (name-and-type index)
type Constant struct {
	Tag     table.Kind
	Text    string
	Bits    uint64
	RefKind uint8
	A       uint16
	B       uint16
}

func (c Constant) Kind() table.Kind { return c.Tag }

// Wide reports whether the constant takes two pool slots.
func (c Constant) Wide() bool { return c.Tag == TagLong || c.Tag == TagDouble }

// Refs calls fn for every pool index the constant holds.
func (c *Constant) Refs(fn func(*uint16)) {
	switch c.Tag {
	case TagClass, TagString, TagMethodType, TagModule, TagPackage, TagMethodHandle:
		fn(&c.A)
	case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType:
		fn(&c.A)
		fn(&c.B)
	case TagDynamic, TagInvokeDynamic:
		fn(&c.B)
	}
}

func (c Constant) String() string {
	switch c.Tag {
	case TagUtf8:
		return fmt.Sprintf("Utf8 %q", c.Text)
	case TagInteger:
		return fmt.Sprintf("Integer %d", int32(c.Bits))
	case TagFloat:
		return fmt.Sprintf("Float %g", math.Float32frombits(uint32(c.Bits)))
	case TagLong:
		return fmt.Sprintf("Long %d", int64(c.Bits))
	case TagDouble:
		return fmt.Sprintf("Double %g", math.Float64frombits(c.Bits))
	case TagMethodHandle:
		return fmt.Sprintf("MethodHandle %d #%d", c.RefKind, c.A)
	case TagDynamic, TagInvokeDynamic:
		return fmt.Sprintf("%s bsm=%d #%d", TagName(c.Tag), c.A, c.B)
	case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType:
		return fmt.Sprintf("%s #%d #%d", TagName(c.Tag), c.A, c.B)
	}
	return fmt.Sprintf("%s #%d", TagName(c.Tag), c.A)
}

// Pool is a class file constant pool.
type Pool struct {
	*table.Table[Constant]
}

// NewPool returns an empty pool with index 0 reserved.
func NewPool() *Pool {
	return &Pool{Table: table.New[Constant](1).WithLimit(MaxPoolSlots)}
}

// Clone returns an independent copy.
func (p *Pool) Clone() *Pool {
	return &Pool{Table: p.Table.Clone()}
}

func (p *Pool) add(c Constant) (uint16, error) {
	idx, err := p.AddOrGet(c)
	if err != nil {
		return 0, err
	}
	return uint16(idx), nil
}

func (p *Pool) AddUtf8(s string) (uint16, error) {
	return p.add(Constant{Tag: TagUtf8, Text: s})
}

func (p *Pool) AddInteger(v int32) (uint16, error) {
	return p.add(Constant{Tag: TagInteger, Bits: uint64(uint32(v))})
}

func (p *Pool) AddFloat(v float32) (uint16, error) {
	return p.add(Constant{Tag: TagFloat, Bits: uint64(math.Float32bits(v))})
}

func (p *Pool) AddLong(v int64) (uint16, error) {
	return p.add(Constant{Tag: TagLong, Bits: uint64(v)})
}

func (p *Pool) AddDouble(v float64) (uint16, error) {
	return p.add(Constant{Tag: TagDouble, Bits: math.Float64bits(v)})
}

func (p *Pool) named(tag table.Kind, s string) (uint16, error) {
	name, err := p.AddUtf8(s)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Tag: tag, A: name})
}

// AddClass adds a Class constant for an internal name such as
// "java/lang/Object".
func (p *Pool) AddClass(name string) (uint16, error) { return p.named(TagClass, name) }

func (p *Pool) AddString(s string) (uint16, error) { return p.named(TagString, s) }

func (p *Pool) AddMethodType(desc string) (uint16, error) { return p.named(TagMethodType, desc) }

func (p *Pool) AddNameAndType(name, desc string) (uint16, error) {
	n, err := p.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	d, err := p.AddUtf8(desc)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Tag: TagNameAndType, A: n, B: d})
}

func (p *Pool) memberRef(tag table.Kind, class, name, desc string) (uint16, error) {
	c, err := p.AddClass(class)
	if err != nil {
		return 0, err
	}
	nt, err := p.AddNameAndType(name, desc)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Tag: tag, A: c, B: nt})
}

func (p *Pool) AddFieldref(class, name, desc string) (uint16, error) {
	return p.memberRef(TagFieldref, class, name, desc)
}

func (p *Pool) AddMethodref(class, name, desc string) (uint16, error) {
	return p.memberRef(TagMethodref, class, name, desc)
}

func (p *Pool) AddInterfaceMethodref(class, name, desc string) (uint16, error) {
	return p.memberRef(TagInterfaceMethodref, class, name, desc)
}

// AddMethodHandle adds a MethodHandle constant for an existing reference.
func (p *Pool) AddMethodHandle(kind uint8, ref uint16) (uint16, error) {
	if _, err := p.At(int(ref)); err != nil {
		return 0, err
	}
	return p.add(Constant{Tag: TagMethodHandle, RefKind: kind, A: ref})
}

// AddInvokeDynamic adds an InvokeDynamic constant. bootstrap indexes the
// class's BootstrapMethods attribute.
func (p *Pool) AddInvokeDynamic(bootstrap, nameAndType uint16) (uint16, error) {
	if _, err := p.Get(int(nameAndType), TagNameAndType); err != nil {
		return 0, err
	}
	return p.add(Constant{Tag: TagInvokeDynamic, A: bootstrap, B: nameAndType})
}

// Entry returns the constant at index, which must have the given tag.
func (p *Pool) Entry(index uint16, tag table.Kind) (Constant, error) {
	return p.Get(int(index), tag)
}

// Utf8 returns the text of a Utf8 constant.
func (p *Pool) Utf8(index uint16) (string, error) {
	c, err := p.Get(int(index), TagUtf8)
	if err != nil {
		return "", err
	}
	return c.Text, nil
}

// ClassName returns the internal name behind a Class constant.
func (p *Pool) ClassName(index uint16) (string, error) {
	c, err := p.Get(int(index), TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.A)
}

// NameAndType returns the name and descriptor of a NameAndType constant.
func (p *Pool) NameAndType(index uint16) (string, string, error) {
	c, err := p.Get(int(index), TagNameAndType)
	if err != nil {
		return "", "", err
	}
	name, err := p.Utf8(c.A)
	if err != nil {
		return "", "", err
	}
	desc, err := p.Utf8(c.B)
	if err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// MemberRef resolves a Fieldref, Methodref or InterfaceMethodref.
func (p *Pool) MemberRef(index uint16) (class, name, desc string, err error) {
	c, err := p.At(int(index))
	if err != nil {
		return "", "", "", err
	}
	switch c.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
	default:
		return "", "", "", errors.WrapTypeMismatch(int(index), "member reference", TagName(c.Tag))
	}
	if class, err = p.ClassName(c.A); err != nil {
		return "", "", "", err
	}
	name, desc, err = p.NameAndType(c.B)
	return class, name, desc, err
}
