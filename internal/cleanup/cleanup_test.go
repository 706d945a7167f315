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

package cleanup

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retzero/jit-runner-manager/internal/cluster"
)

func TestTickDeletesOnlyTerminalPods(t *testing.T) {
	c := cluster.NewFake()
	c.SeedPod(cluster.PodInfo{Name: "jit-runner-1", Tenant: "A", Phase: cluster.PhaseRunning})
	c.SeedPod(cluster.PodInfo{Name: "jit-runner-2", Tenant: "A", Phase: cluster.PhaseSucceeded})
	c.SeedPod(cluster.PodInfo{Name: "jit-runner-3", Tenant: "A", Phase: cluster.PhaseFailed})

	cl := New(c, logrus.New())
	cl.Tick(context.Background())

	pods, err := c.ListManagedPods(context.Background())
	require.NoError(t, err)
	require.Len(t, pods, 1)
	assert.Equal(t, "jit-runner-1", pods[0].Name)
}

func TestTickToleratesListFailure(t *testing.T) {
	c := &erroringCluster{}
	cl := New(c, logrus.New())
	cl.Tick(context.Background())
}

type erroringCluster struct{}

func (e *erroringCluster) ListManagedPods(context.Context) ([]cluster.PodInfo, error) {
	return nil, assertErr
}
func (e *erroringCluster) CreatePod(context.Context, cluster.PodSpec) error { return nil }
func (e *erroringCluster) DeletePod(context.Context, string) error          { return nil }

var assertErr = &cleanupTestError{}

type cleanupTestError struct{}

func (e *cleanupTestError) Error() string { return "list failed" }
