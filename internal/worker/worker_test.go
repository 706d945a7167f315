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

package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retzero/jit-runner-manager/internal/cluster"
	"github.com/retzero/jit-runner-manager/internal/runner"
	"github.com/retzero/jit-runner-manager/internal/scm"
	"github.com/retzero/jit-runner-manager/internal/store"
)

type fakeCredentialer struct {
	mu         sync.Mutex
	groupID    int64
	groupErr   error
	issueErr   error
	issueCalls int
	groupCalls int
}

func (f *fakeCredentialer) ResolveRunnerGroupID(ctx context.Context, tenant string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupCalls++
	return f.groupID, f.groupErr
}

func (f *fakeCredentialer) IssueJITConfig(ctx context.Context, tenant, runnerName string, runnerGroupID int64, labels []string, workFolder string) (scm.JITConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issueCalls++
	if f.issueErr != nil {
		return scm.JITConfig{}, f.issueErr
	}
	return scm.JITConfig{RunnerID: 1, RunnerName: runnerName, EncodedJITConfig: "blob"}, nil
}

func testConfig() Config {
	return Config{
		ManagedAppLabel: "jit-runner",
		RunnerGroupName: "default",
		WorkFolder:      "_work",
		RunnerTTL:       time.Hour,
		Retry:           RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond},
		TaskTimeout:     time.Second,
	}
}

func TestProcessHappyPathUpdatesStoreAndCluster(t *testing.T) {
	s := store.NewFake()
	c := cluster.NewFake()
	cred := &fakeCredentialer{groupID: 42}
	p := NewPool(s, c, cred, testConfig(), 1, logrus.New())

	job := runner.PendingJob{JobID: 7, Tenant: "acme", Labels: []string{"self-hosted"}}
	outcome := p.process(context.Background(), logrus.New(), job)

	assert.Equal(t, Done, outcome)

	running, err := s.GetRunning(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, running)

	global, err := s.GetGlobal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, global)

	pods, err := c.ListManagedPods(context.Background())
	require.NoError(t, err)
	require.Len(t, pods, 1)
	assert.Equal(t, "jit-runner-7", pods[0].Name)

	runners, err := s.GetAllRunners(context.Background())
	require.NoError(t, err)
	_, ok := runners["jit-runner-7"]
	assert.True(t, ok)
}

func TestProcessGivesUpOnPermanentCredentialFailure(t *testing.T) {
	s := store.NewFake()
	c := cluster.NewFake()
	cred := &fakeCredentialer{groupErr: fmt.Errorf("wrap: %w", scm.ErrPermanent)}
	p := NewPool(s, c, cred, testConfig(), 1, logrus.New())

	job := runner.PendingJob{JobID: 7, Tenant: "acme"}
	outcome := p.process(context.Background(), logrus.New(), job)

	assert.Equal(t, Giveup, outcome)
	assert.Equal(t, 1, cred.groupCalls, "permanent failure should not retry")

	running, _ := s.GetRunning(context.Background(), "acme")
	assert.Equal(t, 0, running)
}

func TestProcessRetriesTransientFailureUntilGiveup(t *testing.T) {
	s := store.NewFake()
	c := cluster.NewFake()
	cred := &fakeCredentialer{groupID: 1, issueErr: fmt.Errorf("wrap: %w", scm.ErrTransient)}
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 3
	p := NewPool(s, c, cred, cfg, 1, logrus.New())

	job := runner.PendingJob{JobID: 9, Tenant: "acme"}
	outcome := p.process(context.Background(), logrus.New(), job)

	assert.Equal(t, Giveup, outcome)
	assert.Equal(t, 3, cred.issueCalls, "should exhaust all retry attempts before giving up")
}

func TestCreatePodAlreadyExistsIsTreatedAsSuccess(t *testing.T) {
	s := store.NewFake()
	c := cluster.NewFake()
	c.SeedPod(cluster.PodInfo{Name: "jit-runner-3", Tenant: "acme", Phase: cluster.PhaseRunning})
	cred := &fakeCredentialer{groupID: 1}
	p := NewPool(s, c, cred, testConfig(), 1, logrus.New())

	job := runner.PendingJob{JobID: 3, Tenant: "acme"}
	outcome := p.process(context.Background(), logrus.New(), job)

	assert.Equal(t, Done, outcome)
}

func TestSubmitDropsWhenBacklogFull(t *testing.T) {
	s := store.NewFake()
	c := cluster.NewFake()
	cred := &fakeCredentialer{groupID: 1}
	p := NewPool(s, c, cred, testConfig(), 1, logrus.New())

	p.backlog <- runner.PendingJob{JobID: 1}
	// Backlog capacity is 1; this Submit should not block.
	done := make(chan struct{})
	go func() {
		p.Submit(runner.PendingJob{JobID: 2})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full backlog")
	}
}
