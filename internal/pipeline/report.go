// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"time"

	"github.com/dotandev/shrinkwrap/internal/history"
	"github.com/dotandev/shrinkwrap/internal/mapping"
)

// ContainerReport is the outcome for one input.
type ContainerReport struct {
	Path   string
	Format string
	// Name is the class a class file defines.
	Name string
	// Removed is set for class files whose class did not survive; they
	// have no output.
	Removed bool
	// RemovedClasses lists classes dropped from a dex file.
	RemovedClasses []string
	BytesBefore    int
	BytesAfter     int
	EntriesBefore  int
	EntriesAfter   int
	// PinnedBy names the attribute that kept a constant pool unchanged.
	PinnedBy        string
	NarrowedMethods int
	Tables          []mapping.Table
	Output          []byte
}

// Report is the outcome of one run.
type Report struct {
	RunID          string
	StartedAt      time.Time
	Duration       time.Duration
	Containers     []ContainerReport
	RemovedClasses int
	RemovedMethods int
	RemovedFields  int
}

// BytesBefore sums the input sizes.
func (r *Report) BytesBefore() int64 {
	var n int64
	for _, c := range r.Containers {
		n += int64(c.BytesBefore)
	}
	return n
}

// BytesAfter sums the output sizes. Removed containers count as zero.
func (r *Report) BytesAfter() int64 {
	var n int64
	for _, c := range r.Containers {
		n += int64(c.BytesAfter)
	}
	return n
}

// Entries sums the table sizes before and after compaction.
func (r *Report) Entries() (before, after int) {
	for _, c := range r.Containers {
		before += c.EntriesBefore
		after += c.EntriesAfter
	}
	return before, after
}

// Mapping returns the index maps of every container that has output.
func (r *Report) Mapping() *mapping.File {
	f := &mapping.File{Version: mapping.Version, RunID: r.RunID}
	for _, c := range r.Containers {
		if c.Removed {
			continue
		}
		f.Containers = append(f.Containers, mapping.Container{
			Path:    c.Path,
			Format:  c.Format,
			Name:    c.Name,
			Removed: c.RemovedClasses,
			Tables:  c.Tables,
		})
	}
	return f
}

// HistoryRun summarises the report for the run history. A nil report or
// a non-nil err records a failed run.
func (r *Report) HistoryRun(source string, inputs []string, err error) *history.Run {
	run := &history.Run{Source: source, Inputs: inputs, Status: history.StatusOK}
	if r != nil {
		run.ID = r.RunID
		run.StartedAt = r.StartedAt
		run.Duration = r.Duration
		run.Containers = len(r.Containers)
		run.BytesBefore = r.BytesBefore()
		run.BytesAfter = r.BytesAfter()
		run.EntriesBefore, run.EntriesAfter = r.Entries()
		run.RemovedClasses = r.RemovedClasses
		run.RemovedMethods = r.RemovedMethods
		run.RemovedFields = r.RemovedFields
	}
	if err != nil {
		run.Status = history.StatusFailed
		run.ErrorMsg = err.Error()
	}
	return run
}
