// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package mapping records how compaction renumbered each table so that
// indices taken from the input can be translated to the output. Files are
// canonical CBOR, so equal runs produce equal bytes.
package mapping

import (
	"fmt"
	"os"
	"slices"

	"github.com/fxamacker/cbor/v2"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/shrink"
)

// Version is the current file layout.
const Version = 1

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("mapping: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Table is the renumbering of one table. Old[i] became New[i]; anything
// not listed was dropped. An identity table lists nothing.
type Table struct {
	Name     string   `cbor:"1,keyasint"`
	Before   int      `cbor:"2,keyasint"`
	After    int      `cbor:"3,keyasint"`
	Identity bool     `cbor:"4,keyasint,omitempty"`
	Old      []uint32 `cbor:"5,keyasint,omitempty"`
	New      []uint32 `cbor:"6,keyasint,omitempty"`
}

// Container holds the tables of one input.
type Container struct {
	Path    string   `cbor:"1,keyasint"`
	Format  string   `cbor:"2,keyasint"`
	Name    string   `cbor:"3,keyasint,omitempty"`
	Removed []string `cbor:"4,keyasint,omitempty"`
	Tables  []Table  `cbor:"5,keyasint"`
}

// File is a whole mapping file.
type File struct {
	Version    int         `cbor:"1,keyasint"`
	RunID      string      `cbor:"2,keyasint,omitempty"`
	Containers []Container `cbor:"3,keyasint"`
}

// FromIndexMap captures m.
func FromIndexMap(name string, before, after int, m *shrink.IndexMap) Table {
	t := Table{Name: name, Before: before, After: after}
	if m == nil || m.Identity() {
		t.Identity = true
		return t
	}
	t.Old = make([]uint32, 0, m.Len())
	t.New = make([]uint32, 0, m.Len())
	for o, n := range m.All() {
		t.Old = append(t.Old, uint32(o))
		t.New = append(t.New, uint32(n))
	}
	return t
}

// Lookup translates an old index. The second result is false when the
// entry was dropped.
func (t *Table) Lookup(old uint32) (uint32, bool) {
	if t.Identity {
		return old, true
	}
	if i, ok := slices.BinarySearch(t.Old, old); ok {
		return t.New[i], true
	}
	return 0, false
}

// Table returns the table called name, or nil.
func (c *Container) Table(name string) *Table {
	for i := range c.Tables {
		if c.Tables[i].Name == name {
			return &c.Tables[i]
		}
	}
	return nil
}

// Marshal encodes f as canonical CBOR.
func Marshal(f *File) ([]byte, error) {
	if f.Version == 0 {
		f.Version = Version
	}
	return encMode.Marshal(f)
}

// Unmarshal decodes a mapping file and checks its layout.
func Unmarshal(data []byte) (*File, error) {
	var f File
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, errors.WrapMalformedContainer("mapping file: %v", err)
	}
	if f.Version != Version {
		return nil, errors.WrapUnsupportedVersion(fmt.Sprint(f.Version), fmt.Sprint(Version))
	}
	for _, c := range f.Containers {
		for _, t := range c.Tables {
			if len(t.Old) != len(t.New) {
				return nil, errors.WrapMalformedContainer("mapping table %s/%s has %d old and %d new indices",
					c.Path, t.Name, len(t.Old), len(t.New))
			}
		}
	}
	return &f, nil
}

// Write stores f at path.
func Write(path string, f *File) error {
	data, err := Marshal(f)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Read loads the mapping file at path.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
