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

// Package reconciler implements component B: realigning the store's
// counters and pod-index with the cluster's observed pod population. It
// never touches queues and never creates or deletes pods; it is the
// system's source of truth, restoring counter and index consistency on
// every tick.
package reconciler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/retzero/jit-runner-manager/internal/cluster"
	"github.com/retzero/jit-runner-manager/internal/metrics"
	"github.com/retzero/jit-runner-manager/internal/store"
)

// Reconciler runs one tick of the reconcile loop.
type Reconciler struct {
	store   store.Store
	cluster cluster.Client
	log     logrus.FieldLogger
}

// New builds a Reconciler.
func New(s store.Store, c cluster.Client, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{store: s, cluster: c, log: log.WithField("component", "reconciler")}
}

// Tick performs one reconcile pass. If any store
// operation fails mid-tick, it logs and returns; the next tick retries
// from scratch — reconciliation is idempotent, so a partial tick never
// leaves counters further from the truth than before it ran.
func (r *Reconciler) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.ReconcileDuration.Observe(time.Since(start).Seconds()) }()

	if err := r.tick(ctx); err != nil {
		r.log.WithError(err).Warn("reconcile tick aborted")
	}
}

func (r *Reconciler) tick(ctx context.Context) error {
	pods, err := r.cluster.ListManagedPods(ctx)
	if err != nil {
		return err
	}

	activeSet := map[string]bool{}
	perTenant := map[string]int{}
	for _, pod := range pods {
		if !pod.Phase.Active() {
			continue
		}
		activeSet[pod.Name] = true
		if pod.Tenant != "" {
			perTenant[pod.Tenant]++
		}
	}
	totalActive := len(activeSet)

	currentGlobal, err := r.store.GetGlobal(ctx)
	if err != nil {
		return err
	}
	if currentGlobal != totalActive {
		if err := r.store.SetGlobal(ctx, totalActive); err != nil {
			return err
		}
		metrics.ReconcileDriftTotal.WithLabelValues("global").Inc()
		r.log.WithFields(logrus.Fields{"was": currentGlobal, "now": totalActive}).Info("corrected global running count")
	}

	runners, err := r.store.GetAllRunners(ctx)
	if err != nil {
		return err
	}

	tenants := map[string]bool{}
	for t := range perTenant {
		tenants[t] = true
	}
	for _, rec := range runners {
		if rec.Tenant != "" {
			tenants[rec.Tenant] = true
		}
	}
	for tenant := range tenants {
		want := perTenant[tenant]
		got, err := r.store.GetRunning(ctx, tenant)
		if err != nil {
			return err
		}
		if got != want {
			if err := r.store.SetRunning(ctx, tenant, want); err != nil {
				return err
			}
			metrics.ReconcileDriftTotal.WithLabelValues("tenant").Inc()
			r.log.WithFields(logrus.Fields{"tenant": tenant, "was": got, "now": want}).Info("corrected tenant running count")
		}
	}

	for name := range runners {
		if activeSet[name] {
			continue
		}
		if err := r.store.DeleteRunner(ctx, name); err != nil {
			return err
		}
		metrics.OrphanRunnerRecordsRemoved.Inc()
		r.log.WithField("runner_name", name).Info("removed orphan runner record")
	}

	return nil
}
