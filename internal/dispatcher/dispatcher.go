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

// Package dispatcher implements component D, the heart of the system: one
// tick scans every tenant's pending queue, selects a globally-FIFO-ordered
// batch respecting per-tenant and global caps, removes the chosen entries,
// and hands each off to a dispatch worker.
package dispatcher

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/retzero/jit-runner-manager/internal/metrics"
	"github.com/retzero/jit-runner-manager/internal/runner"
	"github.com/retzero/jit-runner-manager/internal/store"
)

// TickOutcome is the named end state of one dispatch tick.
type TickOutcome string

const (
	OutcomeSkippedTotalLimit TickOutcome = "skipped:total_limit"
	OutcomeNoAvailableSlots  TickOutcome = "no_available_slots"
	OutcomeDispatched        TickOutcome = "dispatched"
)

// Worker is the subset of the dispatch-worker pool the dispatcher depends
// on: handing off a selected job for asynchronous processing. Submit must not block the tick on the job's own completion —
// the pool owns its own backlog queue.
type Worker interface {
	Submit(job runner.PendingJob)
}

// Reconciler is the subset of component B the dispatcher invokes inline at
// the start of every tick, for minimum lag between observed cluster state
// and the admission decision.
type Reconciler interface {
	Tick(ctx context.Context)
}

// Dispatcher runs one batch-dispatch tick.
type Dispatcher struct {
	store      store.Store
	reconciler Reconciler
	worker     Worker
	maxTotal   int
	maxBatch   int
	defaultCap int
	log        logrus.FieldLogger
}

// New builds a Dispatcher. reconciler may be nil if the caller schedules
// reconciliation independently.
func New(s store.Store, reconciler Reconciler, w Worker, maxTotal, maxBatch, defaultCap int, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		store: s, reconciler: reconciler, worker: w,
		maxTotal: maxTotal, maxBatch: maxBatch, defaultCap: defaultCap,
		log: log.WithField("component", "dispatcher"),
	}
}

// Tick runs one dispatch pass and returns the outcome and the jobs handed
// to workers, for tests and logging.
func (d *Dispatcher) Tick(ctx context.Context) (TickOutcome, []runner.PendingJob) {
	start := time.Now()
	defer func() { metrics.DispatchTickDuration.Observe(time.Since(start).Seconds()) }()

	if d.reconciler != nil {
		d.reconciler.Tick(ctx)
	}

	global, err := d.store.GetGlobal(ctx)
	if err != nil {
		d.log.WithError(err).Warn("tick aborted: could not read global running count")
		return OutcomeSkippedTotalLimit, nil
	}
	if global >= d.maxTotal {
		d.log.WithFields(logrus.Fields{"global": global, "max_total": d.maxTotal}).Debug("skipped: total limit reached")
		return OutcomeSkippedTotalLimit, nil
	}

	availableSlots := d.maxTotal - global
	if d.maxBatch < availableSlots {
		availableSlots = d.maxBatch
	}

	entries, err := d.store.PeekAllPending(ctx)
	if err != nil {
		d.log.WithError(err).Warn("tick aborted: could not peek pending queues")
		return OutcomeSkippedTotalLimit, nil
	}

	var selected []runner.PendingJob
	runningSnapshot := map[string]int{}
	caps := map[string]int{}
	reserved := map[string]int{}
	known := map[string]bool{}

	for _, entry := range entries {
		if len(selected) == availableSlots {
			break
		}
		tenant := entry.Tenant
		if !known[tenant] {
			known[tenant] = true
			running, err := d.store.GetRunning(ctx, tenant)
			if err != nil {
				d.log.WithError(err).WithField("tenant", tenant).Warn("tick aborted: could not read tenant running count")
				return OutcomeSkippedTotalLimit, nil
			}
			tenantCap, err := d.store.EffectiveCap(ctx, tenant, d.defaultCap)
			if err != nil {
				d.log.WithError(err).WithField("tenant", tenant).Warn("tick aborted: could not read tenant cap")
				return OutcomeSkippedTotalLimit, nil
			}
			runningSnapshot[tenant] = running
			caps[tenant] = tenantCap
		}

		if runningSnapshot[tenant]+reserved[tenant] >= caps[tenant] {
			metrics.SkippedCapTotal.WithLabelValues(tenant).Inc()
			continue
		}

		selected = append(selected, entry.Job)
		reserved[tenant]++
	}

	if len(selected) == 0 {
		return OutcomeNoAvailableSlots, nil
	}

	removed, err := d.store.RemovePending(ctx, selected)
	if err != nil {
		d.log.WithError(err).Warn("tick aborted: could not remove selected jobs from pending queues")
		return OutcomeSkippedTotalLimit, nil
	}
	if removed != len(selected) {
		// Another dispatcher instance raced us and removed some of the
		// same entries first; only dispatch
		// what we actually own is not determinable from the count alone,
		// so we proceed — the worker's create_pod idempotency (job-id
		// derived pod name) absorbs any double-dispatch.
		d.log.WithFields(logrus.Fields{"selected": len(selected), "removed": removed}).Debug("partial removal, likely concurrent dispatcher tick")
	}

	for _, job := range selected {
		metrics.DispatchedTotal.WithLabelValues(job.Tenant).Inc()
		d.worker.Submit(job)
	}

	return OutcomeDispatched, selected
}
