// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := &Run{
		Source:         "cli",
		Inputs:         []string{"app/classes.dex"},
		Containers:     1,
		BytesBefore:    4096,
		BytesAfter:     3000,
		EntriesBefore:  120,
		EntriesAfter:   90,
		RemovedMethods: 4,
		Duration:       1500 * time.Millisecond,
	}
	require.NoError(t, s.Save(ctx, run))
	_, err := uuid.Parse(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, run.Status)

	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Inputs, got.Inputs)
	assert.Equal(t, run.Duration, got.Duration)
	assert.Equal(t, int64(3000), got.BytesAfter)
	assert.Equal(t, 4, got.RemovedMethods)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))

	_, err = s.Get(ctx, "not-a-uuid")
	assert.Error(t, err)
	_, err = s.Get(ctx, uuid.NewString())
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runs := []*Run{
		{StartedAt: base, Source: "cli", Inputs: []string{"a/Main.class"}},
		{StartedAt: base.Add(time.Hour), Source: "daemon", Inputs: []string{"b.dex"}, Status: StatusFailed, ErrorMsg: "bad magic"},
		{StartedAt: base.Add(2 * time.Hour), Source: "cli", Inputs: []string{"c.dex", "d.dex"}},
	}
	for _, r := range runs {
		require.NoError(t, s.Save(ctx, r))
	}

	all, err := s.List(ctx, SearchParams{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, runs[2].ID, all[0].ID, "newest first")

	failed, err := s.List(ctx, SearchParams{Status: StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad magic", failed[0].ErrorMsg)

	dex, err := s.List(ctx, SearchParams{InputRegex: `\.dex$`, Limit: 1})
	require.NoError(t, err)
	require.Len(t, dex, 1)
	assert.Equal(t, runs[2].ID, dex[0].ID)

	recent, err := s.List(ctx, SearchParams{Since: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	_, err = s.List(ctx, SearchParams{InputRegex: "("})
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range 4 {
		require.NoError(t, s.Save(ctx, &Run{StartedAt: base.Add(time.Duration(i) * 24 * time.Hour), Source: "cli"}))
	}
	cutoff := base.Add(48 * time.Hour)

	n, err := s.Prune(ctx, cutoff, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	all, err := s.List(ctx, SearchParams{})
	require.NoError(t, err)
	assert.Len(t, all, 4, "dry run deletes nothing")

	n, err = s.Prune(ctx, cutoff, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	all, err = s.List(ctx, SearchParams{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), &Run{Source: "cli"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	all, err := s.List(context.Background(), SearchParams{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
