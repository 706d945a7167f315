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

// Package metrics exposes Prometheus collectors for the dispatch/
// reconcile/cleanup loops, in addition to the plain-JSON /metrics
// endpoint served separately by internal/adminapi.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DispatchTickDuration observes how long one dispatcher tick takes.
	DispatchTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "jit_dispatch_tick_duration_seconds",
		Help:    "Time spent in one batch-dispatcher tick.",
		Buckets: prometheus.DefBuckets,
	})

	// DispatchedTotal counts jobs selected for dispatch, by tenant.
	DispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jit_dispatched_jobs_total",
		Help: "Jobs removed from the pending queue and handed to a dispatch worker.",
	}, []string{"tenant"})

	// SkippedCapTotal counts jobs skipped at peek time because their
	// tenant was at cap.
	SkippedCapTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jit_dispatch_skipped_cap_total",
		Help: "Pending jobs skipped during a dispatch tick because their tenant was at cap.",
	}, []string{"tenant"})

	// ReconcileDuration observes one reconciler tick.
	ReconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "jit_reconcile_tick_duration_seconds",
		Help:    "Time spent in one reconciler tick.",
		Buckets: prometheus.DefBuckets,
	})

	// ReconcileDriftTotal counts counter corrections made by the
	// reconciler (invariant 1 violations observed and fixed).
	ReconcileDriftTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jit_reconcile_drift_total",
		Help: "Counter corrections applied by the reconciler.",
	}, []string{"scope"})

	// OrphanRunnerRecordsRemoved counts RunnerRecords deleted because no
	// matching active pod was observed.
	OrphanRunnerRecordsRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jit_orphan_runner_records_removed_total",
		Help: "RunnerRecords removed by the reconciler because their pod was gone.",
	})

	// WorkerOutcomes counts dispatch-worker terminal outcomes.
	WorkerOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jit_worker_outcomes_total",
		Help: "Dispatch worker terminal outcomes by kind.",
	}, []string{"outcome"})

	// PodsCleanedTotal counts terminal-phase pods deleted by Cleanup.
	PodsCleanedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jit_pods_cleaned_total",
		Help: "Pods in a terminal phase deleted by the cleanup loop.",
	})

	// AdmissionOutcomes counts admission results by outcome code.
	AdmissionOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jit_admission_outcomes_total",
		Help: "Admission outcomes by code (accepted:queued, ignored:*).",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		DispatchTickDuration,
		DispatchedTotal,
		SkippedCapTotal,
		ReconcileDuration,
		ReconcileDriftTotal,
		OrphanRunnerRecordsRemoved,
		WorkerOutcomes,
		PodsCleanedTotal,
		AdmissionOutcomes,
	)
}
