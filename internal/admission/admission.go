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

// Package admission implements component C: validating an inbound
// job.queued event and appending it to its tenant's FIFO queue. Admission
// never consults caps or attempts to dispatch directly —
// the event path is unconditionally "enqueue then let the dispatcher
// decide."
package admission

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/retzero/jit-runner-manager/internal/metrics"
	"github.com/retzero/jit-runner-manager/internal/runner"
	"github.com/retzero/jit-runner-manager/internal/store"
)

// Outcome is the result code returned to the caller.
type Outcome string

const (
	AcceptedQueued       Outcome = "accepted:queued"
	IgnoredLabelMismatch Outcome = "ignored:label_mismatch"
	IgnoredNoTenant      Outcome = "ignored:no_tenant"
)

// Event is the subset of workflow_job.queued fields admission needs.
type Event struct {
	Tenant       string
	JobID        int64
	RunID        int64
	JobName      string
	RepoFullName string
	Labels       []string
}

// Admitter validates and enqueues job.queued events.
type Admitter struct {
	store          store.Store
	acceptedLabels map[string]bool
	log            logrus.FieldLogger
}

// New builds an Admitter. acceptedLabels is the configured set of labels
// this fleet serves; a job matches if any (not all) of its labels is in
// the set.
func New(s store.Store, acceptedLabels []string, log logrus.FieldLogger) *Admitter {
	set := make(map[string]bool, len(acceptedLabels))
	for _, l := range acceptedLabels {
		set[l] = true
	}
	return &Admitter{store: s, acceptedLabels: set, log: log.WithField("component", "admission")}
}

// Admit validates ev and, if accepted, enqueues a PendingJob.
func (a *Admitter) Admit(ctx context.Context, ev Event) (Outcome, error) {
	if !a.labelsMatch(ev.Labels) {
		metrics.AdmissionOutcomes.WithLabelValues(string(IgnoredLabelMismatch)).Inc()
		a.log.WithField("job_id", ev.JobID).Debug("rejected: no accepted label present")
		return IgnoredLabelMismatch, nil
	}
	if ev.Tenant == "" {
		metrics.AdmissionOutcomes.WithLabelValues(string(IgnoredNoTenant)).Inc()
		a.log.WithField("job_id", ev.JobID).Debug("rejected: tenant could not be determined")
		return IgnoredNoTenant, nil
	}

	job := runner.PendingJob{
		JobID:        ev.JobID,
		RunID:        ev.RunID,
		JobName:      ev.JobName,
		RepoFullName: ev.RepoFullName,
		Tenant:       ev.Tenant,
		Labels:       ev.Labels,
	}
	if err := a.store.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("admission: enqueue job %d for tenant %s: %w", ev.JobID, ev.Tenant, err)
	}

	metrics.AdmissionOutcomes.WithLabelValues(string(AcceptedQueued)).Inc()
	a.log.WithFields(logrus.Fields{"job_id": ev.JobID, "tenant": ev.Tenant}).Info("queued")
	return AcceptedQueued, nil
}

// labelsMatch reports whether any label is in the accepted set. An empty
// accepted set matches nothing, so a job carrying no labels at all is
// always rejected rather than admitted by default.
func (a *Admitter) labelsMatch(labels []string) bool {
	for _, l := range labels {
		if a.acceptedLabels[l] {
			return true
		}
	}
	return false
}
