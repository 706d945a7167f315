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

// Package cleanup implements component F: periodically reaping pods in
// terminal phases. It never touches counters — the Reconciler corrects
// those on its own tick.
package cleanup

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/retzero/jit-runner-manager/internal/cluster"
	"github.com/retzero/jit-runner-manager/internal/metrics"
)

// Cleaner runs one reap pass.
type Cleaner struct {
	cluster cluster.Client
	log     logrus.FieldLogger
}

// New builds a Cleaner.
func New(c cluster.Client, log logrus.FieldLogger) *Cleaner {
	return &Cleaner{cluster: c, log: log.WithField("component", "cleanup")}
}

// Tick lists managed pods and deletes every one in a terminal phase. A
// 404 on delete (already gone) is treated as success. Failures to list
// abort the tick; the next tick retries.
func (c *Cleaner) Tick(ctx context.Context) {
	pods, err := c.cluster.ListManagedPods(ctx)
	if err != nil {
		c.log.WithError(err).Warn("cleanup tick aborted: could not list pods")
		return
	}

	for _, pod := range pods {
		if !pod.Phase.Terminal() {
			continue
		}
		if err := c.cluster.DeletePod(ctx, pod.Name); err != nil && !errors.Is(err, cluster.ErrNotFound) {
			c.log.WithError(err).WithField("pod", pod.Name).Warn("failed to delete terminal pod, will retry next tick")
			continue
		}
		metrics.PodsCleanedTotal.Inc()
		c.log.WithFields(logrus.Fields{"pod": pod.Name, "phase": pod.Phase}).Info("deleted terminal pod")
	}
}
