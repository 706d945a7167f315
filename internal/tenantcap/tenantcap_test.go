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

package tenantcap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retzero/jit-runner-manager/internal/store"
)

func writeCapFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "caps.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestBootstrapLoadsIntoEmptyStore(t *testing.T) {
	path := writeCapFile(t, "org_limits:\n  acme: 5\n  globex: 20\n")
	s := store.NewFake()
	m := New(s)

	require.NoError(t, m.Bootstrap(context.Background(), path, false))

	caps, err := s.GetAllCaps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"acme": 5, "globex": 20}, caps)
}

func TestBootstrapLeavesPopulatedStoreUntouched(t *testing.T) {
	path := writeCapFile(t, "org_limits:\n  acme: 5\n")
	s := store.NewFake()
	require.NoError(t, s.SetCap(context.Background(), "acme", 99))
	m := New(s)

	require.NoError(t, m.Bootstrap(context.Background(), path, false))

	n, ok, err := m.Get(context.Background(), "acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 99, n)
}

func TestBootstrapForceOverwritesPopulatedStore(t *testing.T) {
	path := writeCapFile(t, "org_limits:\n  acme: 5\n")
	s := store.NewFake()
	require.NoError(t, s.SetCap(context.Background(), "acme", 99))
	m := New(s)

	require.NoError(t, m.Bootstrap(context.Background(), path, true))

	n, ok, err := m.Get(context.Background(), "acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, n)
}

func TestDeleteReturnsFalseWhenAbsent(t *testing.T) {
	s := store.NewFake()
	m := New(s)

	existed, err := m.Delete(context.Background(), "acme")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestSetAndGetRoundTrip(t *testing.T) {
	s := store.NewFake()
	m := New(s)

	require.NoError(t, m.Set(context.Background(), "acme", 3))
	n, ok, err := m.Get(context.Background(), "acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, n)
}

func TestSetRejectsOutOfRangeCap(t *testing.T) {
	s := store.NewFake()
	m := New(s)

	for _, n := range []int{0, -5, 1001} {
		err := m.Set(context.Background(), "acme", n)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidCap))
	}

	_, ok, err := m.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.False(t, ok, "rejected write must not reach the store")
}

func TestSetBulkRejectsWholeBatchOnOneBadEntry(t *testing.T) {
	s := store.NewFake()
	m := New(s)

	err := m.SetBulk(context.Background(), map[string]int{"acme": 5, "globex": 0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCap))

	caps, err := s.GetAllCaps(context.Background())
	require.NoError(t, err)
	assert.Empty(t, caps, "a rejected batch must not partially land")
}

func TestLoadFileDropsOutOfRangeEntries(t *testing.T) {
	path := writeCapFile(t, "org_limits:\n  acme: 5\n  globex: 0\n  initech: -3\n  umbrella: 1001\n")

	caps, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"acme": 5}, caps)
}
