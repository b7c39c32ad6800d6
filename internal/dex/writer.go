// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"sort"

	"github.com/dotandev/shrinkwrap/internal/errors"
)

type mapItem struct {
	typ   uint16
	count uint32
	off   uint32
}

type layout struct {
	w     writer
	items []mapItem
}

// begin aligns the output and opens a map item of typ unless the previous
// item already has that type.
func (l *layout) begin(typ uint16, align int) uint32 {
	l.w.align(align)
	off := uint32(l.w.len())
	if n := len(l.items); n == 0 || l.items[n-1].typ != typ {
		l.items = append(l.items, mapItem{typ: typ, off: off})
	}
	l.items[len(l.items)-1].count++
	return off
}

// Bytes encodes the file. The data section is laid out afresh, so the
// output of a parsed file is equivalent but not always identical to its
// input.
func (f *File) Bytes() ([]byte, error) {
	l := &layout{}
	counts := [6]int{f.Strings.Count(), f.Types.Count(), f.Protos.Count(), f.Fields.Count(), f.Methods.Count(), len(f.Classes)}
	widths := [6]int{4, 4, 12, 8, 8, 32}
	kinds := [6]uint16{typeStringID, typeTypeID, typeProtoID, typeFieldID, typeMethodID, typeClassDef}

	l.items = append(l.items, mapItem{typ: typeHeader, count: 1})
	var offsets [6]uint32
	off := uint32(headerSize)
	for i, n := range counts {
		if n == 0 {
			continue
		}
		offsets[i] = off
		l.items = append(l.items, mapItem{typ: kinds[i], count: uint32(n), off: off})
		off += uint32(n * widths[i])
	}
	l.w.buf = make([]byte, off)
	dataOff := off

	typeLists := make(map[string]uint32)
	typeList := func(packed string) uint32 {
		if packed == "" {
			return 0
		}
		if o, ok := typeLists[packed]; ok {
			return o
		}
		o := l.begin(typeTypeList, 4)
		l.w.u32(uint32(len(packed) / 2))
		l.w.bytes([]byte(packed))
		typeLists[packed] = o
		return o
	}
	protoParams := make([]uint32, 0, counts[secProtos])
	for _, p := range f.Protos.All() {
		protoParams = append(protoParams, typeList(p.Params))
	}
	interfaces := make([]uint32, len(f.Classes))
	for i, c := range f.Classes {
		interfaces[i] = typeList(PackTypeList(c.Interfaces))
	}

	annotationDirs, err := l.annotations(f.Classes)
	if err != nil {
		return nil, err
	}

	debugOffsets := make(map[*Code]uint32)
	for _, c := range f.Classes {
		for _, m := range c.Data.Methods() {
			if m.Code != nil && m.Code.Debug != nil {
				debugOffsets[m.Code] = l.begin(typeDebugInfo, 1)
				writeDebugInfo(&l.w, m.Code.Debug)
			}
		}
	}
	codeOffsets := make(map[*Code]uint32)
	for _, c := range f.Classes {
		for _, m := range c.Data.Methods() {
			if m.Code == nil {
				continue
			}
			codeOffsets[m.Code] = l.begin(typeCode, 4)
			if err := writeCode(&l.w, m.Code, debugOffsets[m.Code]); err != nil {
				return nil, err
			}
		}
	}

	stringOffsets := make([]uint32, 0, counts[secStrings])
	for _, s := range f.Strings.All() {
		stringOffsets = append(stringOffsets, l.begin(typeStringData, 1))
		l.w.uleb(s.utf16Len())
		l.w.bytes([]byte(s.Data))
		l.w.u8(0)
	}

	staticOffsets := make([]uint32, len(f.Classes))
	for i, c := range f.Classes {
		if len(c.StaticValues) > 0 {
			staticOffsets[i] = l.begin(typeEncodedArray, 1)
			writeArray(&l.w, c.StaticValues)
		}
	}
	dataOffsets := make([]uint32, len(f.Classes))
	for i, c := range f.Classes {
		if c.Data == nil {
			continue
		}
		dataOffsets[i] = l.begin(typeClassData, 1)
		if err := writeClassData(&l.w, c.Data, codeOffsets); err != nil {
			return nil, fmt.Errorf("class def %d: %w", i, err)
		}
	}

	mapOff := l.begin(typeMapList, 4)
	sort.SliceStable(l.items, func(i, j int) bool { return l.items[i].off < l.items[j].off })
	l.w.u32(uint32(len(l.items)))
	for _, it := range l.items {
		l.w.u16(it.typ)
		l.w.u16(0)
		l.w.u32(it.count)
		l.w.u32(it.off)
	}

	out := l.w.buf
	ids := &writer{buf: out[:headerSize]}
	for _, o := range stringOffsets {
		ids.u32(o)
	}
	for _, t := range f.Types.All() {
		ids.u32(t.Descriptor)
	}
	i := 0
	for _, p := range f.Protos.All() {
		ids.u32(p.Shorty)
		ids.u32(p.Return)
		ids.u32(protoParams[i])
		i++
	}
	for _, fd := range f.Fields.All() {
		ids.u16(fd.Class)
		ids.u16(fd.Type)
		ids.u32(fd.Name)
	}
	for _, m := range f.Methods.All() {
		ids.u16(m.Class)
		ids.u16(m.Proto)
		ids.u32(m.Name)
	}
	for i, c := range f.Classes {
		ids.u32(c.Class)
		ids.u32(c.Access)
		ids.u32(c.Super)
		ids.u32(interfaces[i])
		ids.u32(c.SourceFile)
		ids.u32(annotationDirs[i])
		ids.u32(dataOffsets[i])
		ids.u32(staticOffsets[i])
	}
	if ids.len() != int(dataOff) {
		errors.Invariant("identifier sections end at 0x%x, data starts at 0x%x", ids.len(), dataOff)
	}

	h := &writer{buf: out[:0]}
	h.bytes([]byte(fmt.Sprintf("dex\n%03d\x00", f.Version)))
	h.u32(0)
	h.bytes(make([]byte, sha1.Size))
	h.u32(uint32(len(out)))
	h.u32(headerSize)
	h.u32(endianConstant)
	h.u32(0)
	h.u32(0)
	h.u32(mapOff)
	for i := range counts {
		h.u32(uint32(counts[i]))
		h.u32(offsets[i])
	}
	h.u32(uint32(len(out)) - dataOff)
	h.u32(dataOff)

	sig := sha1.Sum(out[32:])
	copy(out[12:32], sig[:])
	binary.LittleEndian.PutUint32(out[8:], adler32.Checksum(out[12:]))
	return out, nil
}

// annotations writes every annotation item, set, set ref list and
// directory, returning the directory offset of each class.
func (l *layout) annotations(classes []*ClassDef) ([]uint32, error) {
	dirs := make([]uint32, len(classes))
	var sets [][]Annotation
	var refLists [][][]Annotation
	for _, c := range classes {
		d := c.Annotations
		if d.empty() {
			continue
		}
		if d.Class != nil {
			sets = append(sets, d.Class)
		}
		for _, m := range d.Fields {
			sets = append(sets, m.Set)
		}
		for _, m := range d.Methods {
			sets = append(sets, m.Set)
		}
		for _, p := range d.Params {
			for _, s := range p.Sets {
				if s != nil {
					sets = append(sets, s)
				}
			}
			refLists = append(refLists, p.Sets)
		}
	}

	itemOffsets := make([][]uint32, len(sets))
	for i, set := range sets {
		itemOffsets[i] = make([]uint32, len(set))
		for j, a := range set {
			itemOffsets[i][j] = l.begin(typeAnnotation, 1)
			l.w.u8(a.Visibility)
			writeAnnotation(&l.w, a.EncodedAnnotation)
		}
	}
	setOffsets := make([]uint32, len(sets))
	for i := range sets {
		setOffsets[i] = l.begin(typeAnnotationSet, 4)
		l.w.u32(uint32(len(itemOffsets[i])))
		for _, o := range itemOffsets[i] {
			l.w.u32(o)
		}
	}

	// Sets are consumed in the order they were collected above.
	next := 0
	takeSet := func() uint32 {
		o := setOffsets[next]
		next++
		return o
	}
	type classSets struct {
		class   uint32
		fields  []uint32
		methods []uint32
	}
	collected := make([]classSets, len(classes))
	var paramSets [][]uint32
	for i, c := range classes {
		d := c.Annotations
		if d.empty() {
			continue
		}
		if d.Class != nil {
			collected[i].class = takeSet()
		}
		for range d.Fields {
			collected[i].fields = append(collected[i].fields, takeSet())
		}
		for range d.Methods {
			collected[i].methods = append(collected[i].methods, takeSet())
		}
		for _, p := range d.Params {
			offs := make([]uint32, len(p.Sets))
			for j, s := range p.Sets {
				if s != nil {
					offs[j] = takeSet()
				}
			}
			paramSets = append(paramSets, offs)
		}
	}

	refOffsets := make([]uint32, len(refLists))
	for i, offs := range paramSets {
		refOffsets[i] = l.begin(typeAnnotationSetRefs, 4)
		l.w.u32(uint32(len(offs)))
		for _, o := range offs {
			l.w.u32(o)
		}
	}

	nextRef := 0
	for i, c := range classes {
		d := c.Annotations
		if d.empty() {
			continue
		}
		dirs[i] = l.begin(typeAnnotationsDir, 4)
		l.w.u32(collected[i].class)
		l.w.u32(uint32(len(d.Fields)))
		l.w.u32(uint32(len(d.Methods)))
		l.w.u32(uint32(len(d.Params)))
		for j, m := range d.Fields {
			l.w.u32(m.Index)
			l.w.u32(collected[i].fields[j])
		}
		for j, m := range d.Methods {
			l.w.u32(m.Index)
			l.w.u32(collected[i].methods[j])
		}
		for _, p := range d.Params {
			l.w.u32(p.Method)
			l.w.u32(refOffsets[nextRef])
			nextRef++
		}
	}
	if next != len(setOffsets) || nextRef != len(refOffsets) {
		return nil, errors.WrapMalformedContainer("annotation layout out of step")
	}
	return dirs, nil
}
