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

package admission

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retzero/jit-runner-manager/internal/store"
)

func newTestAdmitter(s store.Store) *Admitter {
	return New(s, []string{"code-linux", "gpu"}, logrus.New())
}

func TestAdmitAcceptsMatchingLabel(t *testing.T) {
	s := store.NewFake()
	a := newTestAdmitter(s)

	outcome, err := a.Admit(context.Background(), Event{
		Tenant: "acme", JobID: 1, RunID: 10, JobName: "build", RepoFullName: "acme/repo",
		Labels: []string{"self-hosted", "code-linux"},
	})
	require.NoError(t, err)
	assert.Equal(t, AcceptedQueued, outcome)

	entries, err := s.PeekAllPending(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].Job.JobID)
	assert.Equal(t, "acme", entries[0].Tenant)
}

func TestAdmitRejectsLabelMismatch(t *testing.T) {
	s := store.NewFake()
	a := newTestAdmitter(s)

	outcome, err := a.Admit(context.Background(), Event{
		Tenant: "acme", JobID: 1, Labels: []string{"windows"},
	})
	require.NoError(t, err)
	assert.Equal(t, IgnoredLabelMismatch, outcome)

	entries, err := s.PeekAllPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdmitRejectsEmptyLabels(t *testing.T) {
	s := store.NewFake()
	a := newTestAdmitter(s)

	outcome, err := a.Admit(context.Background(), Event{Tenant: "acme", JobID: 1, Labels: nil})
	require.NoError(t, err)
	assert.Equal(t, IgnoredLabelMismatch, outcome)
}

func TestAdmitRejectsNoTenant(t *testing.T) {
	s := store.NewFake()
	a := newTestAdmitter(s)

	outcome, err := a.Admit(context.Background(), Event{Tenant: "", JobID: 1, Labels: []string{"code-linux"}})
	require.NoError(t, err)
	assert.Equal(t, IgnoredNoTenant, outcome)
}

func TestAdmitPropagatesStoreFailure(t *testing.T) {
	s := store.NewFake()
	s.Unavail = true
	a := newTestAdmitter(s)

	_, err := a.Admit(context.Background(), Event{Tenant: "acme", JobID: 1, Labels: []string{"code-linux"}})
	assert.Error(t, err)
}
