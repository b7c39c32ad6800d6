// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"bytes"
	"fmt"

	"github.com/dotandev/shrinkwrap/internal/errors"
)

// Format identifies a container layout.
type Format int

const (
	FormatUnknown Format = iota
	FormatClass
	FormatDex
)

func (f Format) String() string {
	switch f {
	case FormatClass:
		return "class"
	case FormatDex:
		return "dex"
	}
	return "unknown"
}

var (
	classMagic = []byte{0xca, 0xfe, 0xba, 0xbe}
	dexMagic   = []byte("dex\n")
)

// Detect reports the format of data from its magic number.
func Detect(data []byte) (Format, error) {
	switch {
	case bytes.HasPrefix(data, classMagic):
		return FormatClass, nil
	case bytes.HasPrefix(data, dexMagic):
		return FormatDex, nil
	}
	n := min(len(data), 4)
	return FormatUnknown, errors.WrapBadMagic(fmt.Sprintf("% x", data[:n]))
}
