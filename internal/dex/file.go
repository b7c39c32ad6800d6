// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package dex reads, edits and writes Dalvik executable files.
//
// The identifier sections (strings, types, prototypes, fields and methods)
// are held as index-stable tables. Class definitions own their class data,
// code items, static values and annotations directly, so the data section
// is regenerated on write together with the map list, the signature and
// the checksum.
package dex

import (
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"strconv"

	"github.com/hashicorp/go-version"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/table"
)

// NoIndex marks an absent optional reference.
const NoIndex uint32 = 0xffffffff

const (
	headerSize       = 0x70
	endianConstant   = 0x12345678
	reverseEndianTag = 0x78563412
)

// DefaultVersionConstraint accepts the dex versions written by Android 5
// through 15.
const DefaultVersionConstraint = ">= 35, <= 39"

// Map item types.
const (
	typeHeader            uint16 = 0x0000
	typeStringID          uint16 = 0x0001
	typeTypeID            uint16 = 0x0002
	typeProtoID           uint16 = 0x0003
	typeFieldID           uint16 = 0x0004
	typeMethodID          uint16 = 0x0005
	typeClassDef          uint16 = 0x0006
	typeCallSiteID        uint16 = 0x0007
	typeMethodHandle      uint16 = 0x0008
	typeMapList           uint16 = 0x1000
	typeTypeList          uint16 = 0x1001
	typeAnnotationSetRefs uint16 = 0x1002
	typeAnnotationSet     uint16 = 0x1003
	typeClassData         uint16 = 0x2000
	typeCode              uint16 = 0x2001
	typeStringData        uint16 = 0x2002
	typeDebugInfo         uint16 = 0x2003
	typeAnnotation        uint16 = 0x2004
	typeEncodedArray      uint16 = 0x2005
	typeAnnotationsDir    uint16 = 0x2006
	typeHiddenAPI         uint16 = 0xf000
)

// File is a parsed dex file.
type File struct {
	Version int
	Strings *table.Table[String]
	Types   *table.Table[TypeID]
	Protos  *table.Table[ProtoID]
	Fields  *table.Table[FieldID]
	Methods *table.Table[MethodID]
	Classes []*ClassDef
}

// New returns an empty file of the given version.
func New(version int) *File {
	return &File{
		Version: version,
		Strings: table.New[String](0),
		Types:   table.New[TypeID](0).WithLimit(maxShortIndex),
		Protos:  table.New[ProtoID](0).WithLimit(maxShortIndex),
		Fields:  table.New[FieldID](0).WithLimit(maxShortIndex),
		Methods: table.New[MethodID](0).WithLimit(maxShortIndex),
	}
}

type options struct {
	constraint string
}

// Option configures Parse.
type Option func(*options)

// WithVersionConstraint replaces DefaultVersionConstraint.
func WithVersionConstraint(c string) Option {
	return func(o *options) {
		if c != "" {
			o.constraint = c
		}
	}
}

type header struct {
	fileSize uint32
	linkSize uint32
	mapOff   uint32
	sizes    [6]uint32
	offsets  [6]uint32
}

// Sections in header order.
const (
	secStrings = iota
	secTypes
	secProtos
	secFields
	secMethods
	secClasses
)

type parser struct {
	data []byte
	f    *File
}

// at returns a reader positioned at off.
func (p *parser) at(off uint32, what string) (*reader, error) {
	if off < headerSize || int64(off) >= int64(len(p.data)) {
		return nil, errors.WrapMalformedContainer("%s offset 0x%x outside the file", what, off)
	}
	return &reader{data: p.data, pos: int(off), what: what}, nil
}

// Parse decodes a dex file.
func Parse(data []byte, opts ...Option) (*File, error) {
	o := options{constraint: DefaultVersionConstraint}
	for _, opt := range opts {
		opt(&o)
	}
	constraints, err := version.NewConstraint(o.constraint)
	if err != nil {
		return nil, errors.WrapConfigError(fmt.Sprintf("dex version constraint %q", o.constraint), err)
	}

	if len(data) < 8 {
		return nil, errors.WrapTruncated("dex magic")
	}
	magic := data[:8]
	if string(magic[:4]) != "dex\n" || magic[7] != 0 {
		return nil, errors.WrapBadMagic(fmt.Sprintf("%q", magic))
	}
	ver, err := strconv.Atoi(string(magic[4:7]))
	if err != nil {
		return nil, errors.WrapBadMagic(fmt.Sprintf("%q", magic))
	}
	v, err := version.NewVersion(strconv.Itoa(ver))
	if err != nil || !constraints.Check(v) {
		return nil, errors.WrapUnsupportedVersion(string(magic[4:7]), o.constraint)
	}
	if len(data) < headerSize {
		return nil, errors.WrapTruncated("dex header")
	}

	h, err := readHeader(data)
	if err != nil {
		return nil, err
	}
	if sum := adler32.Checksum(data[12:]); sum != binary.LittleEndian.Uint32(data[8:]) {
		return nil, errors.WrapMalformedContainer("checksum 0x%08x, computed 0x%08x", binary.LittleEndian.Uint32(data[8:]), sum)
	}
	if h.linkSize != 0 {
		return nil, errors.WrapUnsupportedFeature("statically linked dex files")
	}
	if err := checkMap(data, h); err != nil {
		return nil, err
	}

	f := New(ver)
	p := &parser{data: data, f: f}
	if err := p.strings(h); err != nil {
		return nil, err
	}
	if err := p.types(h); err != nil {
		return nil, err
	}
	if err := p.protos(h); err != nil {
		return nil, err
	}
	if err := p.fields(h); err != nil {
		return nil, err
	}
	if err := p.methods(h); err != nil {
		return nil, err
	}
	if err := p.classes(h); err != nil {
		return nil, err
	}
	return f, nil
}

func readHeader(data []byte) (*header, error) {
	r := &reader{data: data, pos: 32, what: "dex header"}
	h := &header{}
	h.fileSize, _ = r.u32()
	size, _ := r.u32()
	tag, _ := r.u32()
	h.linkSize, _ = r.u32()
	r.pos += 4
	h.mapOff, _ = r.u32()
	for i := range h.sizes {
		h.sizes[i], _ = r.u32()
		h.offsets[i], _ = r.u32()
	}

	switch {
	case tag == reverseEndianTag:
		return nil, errors.WrapUnsupportedFeature("big-endian dex files")
	case tag != endianConstant:
		return nil, errors.WrapMalformedContainer("endian tag 0x%08x", tag)
	case size != headerSize:
		return nil, errors.WrapMalformedContainer("header size 0x%x", size)
	case int64(h.fileSize) > int64(len(data)):
		return nil, errors.WrapTruncated(fmt.Sprintf("dex file of %d bytes, header says %d", len(data), h.fileSize))
	case int64(h.fileSize) < int64(len(data)):
		return nil, errors.WrapMalformedContainer("%d trailing bytes after dex file", len(data)-int(h.fileSize))
	}
	limits := [6]uint32{0, maxShortIndex, maxShortIndex, 0, maxShortIndex, 0}
	widths := [6]int{4, 4, 12, 8, 8, 32}
	for i := range h.sizes {
		if limits[i] != 0 && h.sizes[i] > limits[i] {
			return nil, errors.WrapMalformedContainer("section %d has %d entries", i, h.sizes[i])
		}
		if h.sizes[i] == 0 {
			continue
		}
		end := int64(h.offsets[i]) + int64(h.sizes[i])*int64(widths[i])
		if h.offsets[i] < headerSize || end > int64(len(data)) {
			return nil, errors.WrapMalformedContainer("section %d at 0x%x overruns the file", i, h.offsets[i])
		}
	}
	return h, nil
}

// checkMap rejects map items this package cannot carry through a rewrite.
func checkMap(data []byte, h *header) error {
	if h.mapOff == 0 {
		return errors.WrapMalformedContainer("missing map list")
	}
	if h.mapOff%4 != 0 || h.mapOff < headerSize {
		return errors.WrapMalformedContainer("map list at 0x%x", h.mapOff)
	}
	r := &reader{data: data, pos: int(h.mapOff), what: "map list"}
	n, err := r.u32()
	if err != nil {
		return err
	}
	if err := r.need(12 * int(n)); err != nil {
		return err
	}
	for range n {
		typ, _ := r.u16()
		r.pos += 10
		switch typ {
		case typeCallSiteID:
			return errors.WrapUnsupportedFeature("call site identifiers")
		case typeMethodHandle:
			return errors.WrapUnsupportedFeature("method handles")
		case typeHiddenAPI:
			return errors.WrapUnsupportedFeature("hidden API restrictions")
		case typeHeader, typeStringID, typeTypeID, typeProtoID, typeFieldID, typeMethodID,
			typeClassDef, typeMapList, typeTypeList, typeAnnotationSetRefs, typeAnnotationSet,
			typeClassData, typeCode, typeStringData, typeDebugInfo, typeAnnotation,
			typeEncodedArray, typeAnnotationsDir:
		default:
			return errors.WrapMalformedContainer("unknown map item type 0x%04x", typ)
		}
	}
	return nil
}

func (p *parser) section(h *header, sec int, what string) *reader {
	return &reader{data: p.data, pos: int(h.offsets[sec]), what: what}
}

func (p *parser) strings(h *header) error {
	r := p.section(h, secStrings, "string ids")
	for i := range h.sizes[secStrings] {
		off, _ := r.u32()
		sr, err := p.at(off, "string data")
		if err != nil {
			return err
		}
		if _, err := sr.uleb(); err != nil {
			return err
		}
		start := sr.pos
		for {
			b, err := sr.u8()
			if err != nil {
				return err
			}
			if b == 0 {
				break
			}
		}
		if _, err := p.f.Strings.Append(String{Data: string(p.data[start : sr.pos-1])}); err != nil {
			return errors.WrapMalformedContainer("string %d: %v", i, err)
		}
	}
	return nil
}

func (p *parser) types(h *header) error {
	r := p.section(h, secTypes, "type ids")
	for i := range h.sizes[secTypes] {
		d, _ := r.u32()
		if !p.f.Strings.Valid(int(d)) {
			return errors.WrapMalformedContainer("type %d names string %d", i, d)
		}
		if _, err := p.f.Types.Append(TypeID{Descriptor: d}); err != nil {
			return errors.WrapMalformedContainer("type %d: %v", i, err)
		}
	}
	return nil
}

func (p *parser) typeList(off uint32) ([]uint16, error) {
	if off == 0 {
		return nil, nil
	}
	if off%4 != 0 {
		return nil, errors.WrapMalformedContainer("type list at 0x%x not 4-byte aligned", off)
	}
	r, err := p.at(off, "type list")
	if err != nil {
		return nil, err
	}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(2 * int(n)); err != nil {
		return nil, err
	}
	out := make([]uint16, n)
	for i := range out {
		out[i], _ = r.u16()
		if !p.f.Types.Valid(int(out[i])) {
			return nil, errors.WrapMalformedContainer("type list at 0x%x names type %d", off, out[i])
		}
	}
	return out, nil
}

func (p *parser) protos(h *header) error {
	r := p.section(h, secProtos, "proto ids")
	for i := range h.sizes[secProtos] {
		shorty, _ := r.u32()
		ret, _ := r.u32()
		paramsOff, _ := r.u32()
		params, err := p.typeList(paramsOff)
		if err != nil {
			return err
		}
		if !p.f.Strings.Valid(int(shorty)) || !p.f.Types.Valid(int(ret)) {
			return errors.WrapMalformedContainer("proto %d has dangling references", i)
		}
		if _, err := p.f.Protos.Append(ProtoID{Shorty: shorty, Return: ret, Params: PackTypeList(params)}); err != nil {
			return errors.WrapMalformedContainer("proto %d: %v", i, err)
		}
	}
	return nil
}

func (p *parser) fields(h *header) error {
	r := p.section(h, secFields, "field ids")
	for i := range h.sizes[secFields] {
		class, _ := r.u16()
		typ, _ := r.u16()
		name, _ := r.u32()
		if !p.f.Types.Valid(int(class)) || !p.f.Types.Valid(int(typ)) || !p.f.Strings.Valid(int(name)) {
			return errors.WrapMalformedContainer("field %d has dangling references", i)
		}
		if _, err := p.f.Fields.Append(FieldID{Class: class, Type: typ, Name: name}); err != nil {
			return errors.WrapMalformedContainer("field %d: %v", i, err)
		}
	}
	return nil
}

func (p *parser) methods(h *header) error {
	r := p.section(h, secMethods, "method ids")
	for i := range h.sizes[secMethods] {
		class, _ := r.u16()
		proto, _ := r.u16()
		name, _ := r.u32()
		if !p.f.Types.Valid(int(class)) || !p.f.Protos.Valid(int(proto)) || !p.f.Strings.Valid(int(name)) {
			return errors.WrapMalformedContainer("method %d has dangling references", i)
		}
		if _, err := p.f.Methods.Append(MethodID{Class: class, Proto: proto, Name: name}); err != nil {
			return errors.WrapMalformedContainer("method %d: %v", i, err)
		}
	}
	return nil
}

func (p *parser) classes(h *header) error {
	r := p.section(h, secClasses, "class defs")
	for i := range h.sizes[secClasses] {
		var raw [8]uint32
		for j := range raw {
			raw[j], _ = r.u32()
		}
		c := &ClassDef{Class: raw[0], Access: raw[1], Super: raw[2], SourceFile: raw[4]}
		if !p.f.Types.Valid(int(c.Class)) {
			return errors.WrapMalformedContainer("class def %d names type %d", i, c.Class)
		}
		if c.Super != NoIndex && !p.f.Types.Valid(int(c.Super)) {
			return errors.WrapMalformedContainer("class def %d has superclass %d", i, c.Super)
		}
		if c.SourceFile != NoIndex && !p.f.Strings.Valid(int(c.SourceFile)) {
			return errors.WrapMalformedContainer("class def %d has source file %d", i, c.SourceFile)
		}
		var err error
		if c.Interfaces, err = p.typeList(raw[3]); err != nil {
			return err
		}
		if raw[5] != 0 {
			if c.Annotations, err = p.annotationsDirectory(raw[5]); err != nil {
				return err
			}
		}
		if raw[6] != 0 {
			if c.Data, err = p.classData(raw[6]); err != nil {
				return err
			}
		}
		if raw[7] != 0 {
			ar, err := p.at(raw[7], "static values")
			if err != nil {
				return err
			}
			if c.StaticValues, err = readArray(ar, 0); err != nil {
				return err
			}
			if len(c.StaticValues) == 0 {
				c.StaticValues = nil
			}
		}
		p.f.Classes = append(p.f.Classes, c)
	}
	return nil
}

func (p *parser) annotationsDirectory(off uint32) (*AnnotationsDirectory, error) {
	if off%4 != 0 {
		return nil, errors.WrapMalformedContainer("annotations directory at 0x%x not 4-byte aligned", off)
	}
	r, err := p.at(off, "annotations directory")
	if err != nil {
		return nil, err
	}
	var head [4]uint32
	for i := range head {
		if head[i], err = r.u32(); err != nil {
			return nil, err
		}
	}
	if err := r.need(8 * int(head[1]+head[2]+head[3])); err != nil {
		return nil, err
	}
	d := &AnnotationsDirectory{}
	if head[0] != 0 {
		if d.Class, err = p.annotationSet(head[0]); err != nil {
			return nil, err
		}
	}
	for range head[1] {
		idx, _ := r.u32()
		setOff, _ := r.u32()
		set, err := p.annotationSet(setOff)
		if err != nil {
			return nil, err
		}
		d.Fields = append(d.Fields, MemberAnnotations{Index: idx, Set: set})
	}
	for range head[2] {
		idx, _ := r.u32()
		setOff, _ := r.u32()
		set, err := p.annotationSet(setOff)
		if err != nil {
			return nil, err
		}
		d.Methods = append(d.Methods, MemberAnnotations{Index: idx, Set: set})
	}
	for range head[3] {
		idx, _ := r.u32()
		listOff, _ := r.u32()
		sets, err := p.annotationSetRefList(listOff)
		if err != nil {
			return nil, err
		}
		d.Params = append(d.Params, ParamAnnotations{Method: idx, Sets: sets})
	}
	return d, nil
}

func (p *parser) annotationSet(off uint32) ([]Annotation, error) {
	r, err := p.at(off, "annotation set")
	if err != nil {
		return nil, err
	}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(4 * int(n)); err != nil {
		return nil, err
	}
	set := make([]Annotation, n)
	for i := range set {
		itemOff, _ := r.u32()
		ar, err := p.at(itemOff, "annotation")
		if err != nil {
			return nil, err
		}
		if set[i].Visibility, err = ar.u8(); err != nil {
			return nil, err
		}
		if set[i].EncodedAnnotation, err = readAnnotation(ar, 0); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func (p *parser) annotationSetRefList(off uint32) ([][]Annotation, error) {
	r, err := p.at(off, "annotation set ref list")
	if err != nil {
		return nil, err
	}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(4 * int(n)); err != nil {
		return nil, err
	}
	sets := make([][]Annotation, n)
	for i := range sets {
		setOff, _ := r.u32()
		if setOff == 0 {
			continue
		}
		if sets[i], err = p.annotationSet(setOff); err != nil {
			return nil, err
		}
	}
	return sets, nil
}

// Str returns string idx.
func (f *File) Str(idx uint32) (string, error) {
	s, err := f.Strings.Get(int(idx), KindString)
	if err != nil {
		return "", err
	}
	return s.Data, nil
}

// TypeName returns the descriptor of type idx.
func (f *File) TypeName(idx uint32) (string, error) {
	t, err := f.Types.Get(int(idx), KindType)
	if err != nil {
		return "", err
	}
	return f.Str(t.Descriptor)
}

// ProtoDescriptor renders prototype idx as a JVM-style method descriptor.
func (f *File) ProtoDescriptor(idx uint32) (string, error) {
	p, err := f.Protos.Get(int(idx), KindProto)
	if err != nil {
		return "", err
	}
	desc := []byte{'('}
	for _, t := range p.ParamTypes() {
		name, err := f.TypeName(uint32(t))
		if err != nil {
			return "", err
		}
		desc = append(desc, name...)
	}
	ret, err := f.TypeName(p.Return)
	if err != nil {
		return "", err
	}
	return string(append(append(desc, ')'), ret...)), nil
}

// MethodRef resolves method idx into its class descriptor, name and
// method descriptor.
func (f *File) MethodRef(idx uint32) (class, name, desc string, err error) {
	m, err := f.Methods.Get(int(idx), KindMethod)
	if err != nil {
		return "", "", "", err
	}
	if class, err = f.TypeName(uint32(m.Class)); err != nil {
		return "", "", "", err
	}
	if name, err = f.Str(m.Name); err != nil {
		return "", "", "", err
	}
	if desc, err = f.ProtoDescriptor(uint32(m.Proto)); err != nil {
		return "", "", "", err
	}
	return class, name, desc, nil
}

// FieldRef resolves field idx into its class descriptor, name and type
// descriptor.
func (f *File) FieldRef(idx uint32) (class, name, desc string, err error) {
	fd, err := f.Fields.Get(int(idx), KindField)
	if err != nil {
		return "", "", "", err
	}
	if class, err = f.TypeName(uint32(fd.Class)); err != nil {
		return "", "", "", err
	}
	if name, err = f.Str(fd.Name); err != nil {
		return "", "", "", err
	}
	if desc, err = f.TypeName(uint32(fd.Type)); err != nil {
		return "", "", "", err
	}
	return class, name, desc, nil
}

// AddString returns the index of s, adding it when absent.
func (f *File) AddString(s string) (uint32, error) {
	i, err := f.Strings.AddOrGet(String{Data: s})
	return uint32(i), err
}

// AddType returns the index of the type with the given descriptor.
func (f *File) AddType(descriptor string) (uint32, error) {
	s, err := f.AddString(descriptor)
	if err != nil {
		return 0, err
	}
	i, err := f.Types.AddOrGet(TypeID{Descriptor: s})
	return uint32(i), err
}

// AddProto returns the index of the prototype with the given return and
// parameter type descriptors.
func (f *File) AddProto(ret string, params ...string) (uint32, error) {
	shorty := []byte{shortyChar(ret)}
	retIdx, err := f.AddType(ret)
	if err != nil {
		return 0, err
	}
	types := make([]uint16, len(params))
	for i, p := range params {
		t, err := f.AddType(p)
		if err != nil {
			return 0, err
		}
		types[i] = uint16(t)
		shorty = append(shorty, shortyChar(p))
	}
	s, err := f.AddString(string(shorty))
	if err != nil {
		return 0, err
	}
	i, err := f.Protos.AddOrGet(ProtoID{Shorty: s, Return: retIdx, Params: PackTypeList(types)})
	return uint32(i), err
}

func shortyChar(desc string) byte {
	if desc == "" {
		return 'V'
	}
	if desc[0] == '[' {
		return 'L'
	}
	return desc[0]
}

// AddField returns the index of the field class.name of type typ.
func (f *File) AddField(class, name, typ string) (uint32, error) {
	c, err := f.AddType(class)
	if err != nil {
		return 0, err
	}
	t, err := f.AddType(typ)
	if err != nil {
		return 0, err
	}
	n, err := f.AddString(name)
	if err != nil {
		return 0, err
	}
	i, err := f.Fields.AddOrGet(FieldID{Class: uint16(c), Type: uint16(t), Name: n})
	return uint32(i), err
}

// AddMethod returns the index of method class.name with prototype proto.
func (f *File) AddMethod(class, name string, proto uint32) (uint32, error) {
	c, err := f.AddType(class)
	if err != nil {
		return 0, err
	}
	n, err := f.AddString(name)
	if err != nil {
		return 0, err
	}
	i, err := f.Methods.AddOrGet(MethodID{Class: uint16(c), Proto: uint16(proto), Name: n})
	return uint32(i), err
}

// Class returns the definition of the class with the given descriptor.
func (f *File) Class(descriptor string) *ClassDef {
	for _, c := range f.Classes {
		if name, err := f.TypeName(c.Class); err == nil && name == descriptor {
			return c
		}
	}
	return nil
}

// Clone returns a deep copy of f.
func (f *File) Clone() *File {
	n := &File{
		Version: f.Version,
		Strings: f.Strings.Clone(),
		Types:   f.Types.Clone(),
		Protos:  f.Protos.Clone(),
		Fields:  f.Fields.Clone(),
		Methods: f.Methods.Clone(),
		Classes: make([]*ClassDef, len(f.Classes)),
	}
	for i, c := range f.Classes {
		n.Classes[i] = c.clone()
	}
	return n
}
