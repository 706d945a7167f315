/*
Copyright 2026 The jit-runner-manager Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retzero/jit-runner-manager/internal/runner"
)

func TestFakeEnqueuePeekRemove(t *testing.T) {
	ctx := context.Background()
	s := NewFake()

	job := runner.PendingJob{JobID: 1, Tenant: "acme", EnqueuedAt: 100}
	require.NoError(t, s.Enqueue(ctx, job))

	entries, err := s.PeekAllPending(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].Job.JobID)

	removed, err := s.RemovePending(ctx, []runner.PendingJob{job})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	entries, err = s.PeekAllPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFakePeekAllPendingSortsByEnqueuedAt(t *testing.T) {
	ctx := context.Background()
	s := NewFake()

	require.NoError(t, s.Enqueue(ctx, runner.PendingJob{JobID: 3, Tenant: "b", EnqueuedAt: 300}))
	require.NoError(t, s.Enqueue(ctx, runner.PendingJob{JobID: 1, Tenant: "a", EnqueuedAt: 100}))
	require.NoError(t, s.Enqueue(ctx, runner.PendingJob{JobID: 2, Tenant: "a", EnqueuedAt: 200}))

	entries, err := s.PeekAllPending(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{entries[0].Job.JobID, entries[1].Job.JobID, entries[2].Job.JobID})
}

func TestFakeDecrRunningClampsAtZero(t *testing.T) {
	ctx := context.Background()
	s := NewFake()

	require.NoError(t, s.DecrRunning(ctx, "acme"))
	n, err := s.GetRunning(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.IncrRunning(ctx, "acme"))
	require.NoError(t, s.DecrRunning(ctx, "acme"))
	require.NoError(t, s.DecrRunning(ctx, "acme"))
	n, err = s.GetRunning(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFakeEffectiveCapFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	s := NewFake()

	n, err := s.EffectiveCap(ctx, "acme", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	require.NoError(t, s.SetCap(ctx, "acme", 2))
	n, err = s.EffectiveCap(ctx, "acme", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := s.DeleteCap(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err = s.EffectiveCap(ctx, "acme", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestFakeRemovePendingPreservesOrderOfSurvivors(t *testing.T) {
	ctx := context.Background()
	s := NewFake()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.Enqueue(ctx, runner.PendingJob{JobID: i, Tenant: "acme", EnqueuedAt: float64(100 + i)}))
	}

	removed, err := s.RemovePending(ctx, []runner.PendingJob{
		{JobID: 2, Tenant: "acme"},
		{JobID: 4, Tenant: "acme"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries, err := s.PeekAllPending(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []int64{1, 3, 5}, []int64{entries[0].Job.JobID, entries[1].Job.JobID, entries[2].Job.JobID})
}

func TestFakeUnavailablePropagates(t *testing.T) {
	ctx := context.Background()
	s := NewFake()
	s.Unavail = true

	_, err := s.GetGlobal(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
}
