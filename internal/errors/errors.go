// Copyright (c) 2026 dotandev
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison with errors.Is
var (
	// Input and format errors, detected while decoding.
	ErrBadMagic             = errors.New("bad magic")
	ErrTruncated            = errors.New("truncated input")
	ErrMalformedContainer   = errors.New("malformed container")
	ErrMalformedInstruction = errors.New("malformed instruction")
	ErrUnsupportedVersion   = errors.New("unsupported container version")
	ErrUnsupportedFeature   = errors.New("unsupported container feature")

	// Caller-contract errors.
	ErrTypeMismatch         = errors.New("entry kind mismatch")
	ErrIndexOutOfRange      = errors.New("index out of range")
	ErrReservedIndex        = errors.New("reserved index")
	ErrTableFull            = errors.New("table full")
	ErrFixedLengthViolation = errors.New("fixed length violation")
	ErrUnresolvedLabel      = errors.New("unresolved label")
	ErrBranchOutOfRange     = errors.New("branch offset out of range")
	ErrNotConverged         = errors.New("relinking did not converge")

	ErrConfig = errors.New("configuration error")
)

// Wrap functions for consistent error wrapping
func WrapBadMagic(got string) error {
	return fmt.Errorf("%w: %s", ErrBadMagic, got)
}

func WrapTruncated(what string) error {
	return fmt.Errorf("%w: %s", ErrTruncated, what)
}

func WrapMalformedContainer(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedContainer, fmt.Sprintf(format, args...))
}

func WrapMalformedInstruction(offset int, format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrMalformedInstruction, offset, fmt.Sprintf(format, args...))
}

func WrapUnsupportedVersion(version, constraint string) error {
	return fmt.Errorf("%w: %s does not satisfy %q", ErrUnsupportedVersion, version, constraint)
}

func WrapUnsupportedFeature(feature string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedFeature, feature)
}

func WrapTypeMismatch(index int, want, got any) error {
	return fmt.Errorf("%w: index %d holds kind %v, want %v", ErrTypeMismatch, index, got, want)
}

func WrapIndexOutOfRange(index, first, end int) error {
	return fmt.Errorf("%w: %d not in [%d, %d)", ErrIndexOutOfRange, index, first, end)
}

// WrapReservedIndex matches both ErrIndexOutOfRange and ErrReservedIndex.
func WrapReservedIndex(index int) error {
	return fmt.Errorf("%w: %w: index %d", ErrIndexOutOfRange, ErrReservedIndex, index)
}

func WrapTableFull(limit int) error {
	return fmt.Errorf("%w: limit of %d slots reached", ErrTableFull, limit)
}

func WrapFixedLengthViolation(want, got int) error {
	return fmt.Errorf("%w: encoded length %d, declared %d", ErrFixedLengthViolation, got, want)
}

func WrapUnresolvedLabel(label string) error {
	return fmt.Errorf("%w: %q", ErrUnresolvedLabel, label)
}

func WrapBranchOutOfRange(offset int, delta int64) error {
	return fmt.Errorf("%w: delta %d at offset %d", ErrBranchOutOfRange, delta, offset)
}

func WrapNotConverged(passes int) error {
	return fmt.Errorf("%w after %d passes", ErrNotConverged, passes)
}

func WrapConfigError(msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrConfig, msg)
	}
	return fmt.Errorf("%w: %s: %w", ErrConfig, msg, err)
}

// InternalError reports a broken marker or compactor invariant. It is raised
// with panic, never returned, because it is not something a caller can fix.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string {
	return "internal consistency failure: " + e.Msg
}

// Invariant panics with an *InternalError.
func Invariant(format string, args ...any) {
	panic(&InternalError{Msg: fmt.Sprintf(format, args...)})
}

// Recover turns an *InternalError panic into an error stored in *err. Other
// panics are re-raised. Only the outermost boundaries (CLI, daemon) use it.
func Recover(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if ie, ok := r.(*InternalError); ok {
		*err = ie
		return
	}
	panic(r)
}
