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

// Package worker implements component E, the Dispatch Worker: the
// per-job async state machine issue_credential → create_pod →
// update_counters → save_record, with bounded retries.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/retzero/jit-runner-manager/internal/cluster"
	"github.com/retzero/jit-runner-manager/internal/metrics"
	"github.com/retzero/jit-runner-manager/internal/runner"
	"github.com/retzero/jit-runner-manager/internal/scm"
	"github.com/retzero/jit-runner-manager/internal/store"
)

// Outcome is the final result of one job's state machine.
type Outcome string

const (
	Done   Outcome = "done"
	Giveup Outcome = "giveup"
)

// RetryPolicy configures the bounded-retry behavior of issue_credential
// and create_pod.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Credentialer resolves the runner group and issues a JIT config blob.
// Implemented by *scm.Client; declared locally so Pool depends only on
// the behavior it needs (accept interfaces, return structs).
type Credentialer interface {
	ResolveRunnerGroupID(ctx context.Context, tenant string) (int64, error)
	IssueJITConfig(ctx context.Context, tenant, runnerName string, runnerGroupID int64, labels []string, workFolder string) (scm.JITConfig, error)
}

// Config carries the static per-pod build parameters the worker needs
// when it calls create_pod, plus the runner group name and work folder
// used when issuing credentials.
type Config struct {
	ManagedAppLabel string
	RunnerGroupName string
	WorkFolder      string
	RunnerTTL       time.Duration
	Retry           RetryPolicy
	TaskTimeout     time.Duration
}

// Pool is a bounded set of goroutines draining a backlog channel of
// PendingJobs, one state machine execution per job.
type Pool struct {
	store   store.Store
	cluster cluster.Client
	scm     Credentialer
	cfg     Config
	log     logrus.FieldLogger

	backlog chan runner.PendingJob
}

// NewPool builds a Pool with backlogSize queue capacity. Call Start to
// launch the draining goroutines.
func NewPool(s store.Store, c cluster.Client, credentialer Credentialer, cfg Config, backlogSize int, log logrus.FieldLogger) *Pool {
	return &Pool{
		store: s, cluster: c, scm: credentialer, cfg: cfg,
		log:     log.WithField("component", "worker"),
		backlog: make(chan runner.PendingJob, backlogSize),
	}
}

// Submit enqueues a job for asynchronous processing, satisfying the
// dispatcher.Worker interface. It never blocks the
// calling dispatch tick on the job's own completion; if the backlog is
// full it drops and logs, since the job was already dequeued from the
// durable pending list.
func (p *Pool) Submit(job runner.PendingJob) {
	select {
	case p.backlog <- job:
	default:
		p.log.WithFields(logrus.Fields{"tenant": job.Tenant, "job_id": job.JobID}).
			Error("backlog full, dropping dispatch task")
	}
}

// Start launches concurrency goroutines that drain the backlog until ctx
// is cancelled, and returns without waiting for them.
func (p *Pool) Start(ctx context.Context, concurrency int) {
	for i := 0; i < concurrency; i++ {
		go p.drain(ctx)
	}
}

func (p *Pool) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.backlog:
			p.run(ctx, job)
		}
	}
}

func (p *Pool) run(ctx context.Context, job runner.PendingJob) {
	taskCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
	defer cancel()

	correlationID := uuid.New().String()
	log := p.log.WithFields(logrus.Fields{
		"tenant": job.Tenant, "job_id": job.JobID, "task_id": correlationID,
	})

	outcome := p.process(taskCtx, log, job)
	metrics.WorkerOutcomes.WithLabelValues(string(outcome)).Inc()
	log.WithField("outcome", outcome).Info("dispatch task finished")
}

// process runs the issue_credential → create_pod → update_counters →
// save_record chain. On final giveup the job is not
// re-enqueued; the dispatcher already removed it from the pending list.
func (p *Pool) process(ctx context.Context, log logrus.FieldLogger, job runner.PendingJob) Outcome {
	name := runner.Name("jit-runner", job.JobID)

	var groupID int64
	err := p.retryLoop(ctx, log, "resolve_runner_group", func() error {
		var rerr error
		groupID, rerr = p.scm.ResolveRunnerGroupID(ctx, job.Tenant)
		return rerr
	})
	if err != nil {
		return Giveup
	}

	jit, err := p.issueCredential(ctx, log, job, name, groupID)
	if err != nil {
		return Giveup
	}

	if err := p.createPod(ctx, log, job, name, jit.EncodedJITConfig); err != nil {
		return Giveup
	}

	if err := p.store.IncrRunning(ctx, job.Tenant); err != nil {
		log.WithError(err).Warn("update_counters: incr_running failed, reconciler will correct")
	}
	if err := p.store.IncrGlobal(ctx); err != nil {
		log.WithError(err).Warn("update_counters: incr_global failed, reconciler will correct")
	}

	rec := runner.RunnerRecord{
		RunnerName: name, Tenant: job.Tenant, JobID: job.JobID, RunID: job.RunID, RepoFullName: job.RepoFullName,
	}
	if err := p.store.SaveRunner(ctx, rec, p.cfg.RunnerTTL); err != nil {
		log.WithError(err).Error("save_record failed; runner pod exists without bookkeeping until next reconcile")
		return Giveup
	}

	return Done
}

func (p *Pool) issueCredential(ctx context.Context, log logrus.FieldLogger, job runner.PendingJob, name string, groupID int64) (scm.JITConfig, error) {
	var jit scm.JITConfig
	err := p.retryLoop(ctx, log, "issue_credential", func() error {
		var cerr error
		jit, cerr = p.scm.IssueJITConfig(ctx, job.Tenant, name, groupID, job.Labels, p.cfg.WorkFolder)
		return cerr
	})
	return jit, err
}

func (p *Pool) createPod(ctx context.Context, log logrus.FieldLogger, job runner.PendingJob, name, encodedJITConfig string) error {
	spec := cluster.PodSpec{Name: name, Tenant: job.Tenant, JobID: job.JobID, EncodedJITConfig: encodedJITConfig}
	return p.retryLoop(ctx, log, "create_pod", func() error {
		err := p.cluster.CreatePod(ctx, spec)
		if errors.Is(err, cluster.ErrAlreadyExists) {
			return nil
		}
		return err
	})
}

// retryLoop runs fn up to Retry.MaxAttempts times, sleeping Retry.Backoff
// between attempts, unless fn's error is scm.ErrPermanent. Every other
// error, including any cluster error, is retried.
func (p *Pool) retryLoop(ctx context.Context, log logrus.FieldLogger, step string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.Retry.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, scm.ErrPermanent) {
			log.WithError(lastErr).WithField("step", step).Warn("permanent failure, giving up")
			return lastErr
		}
		log.WithError(lastErr).WithFields(logrus.Fields{"step": step, "attempt": attempt}).Warn("transient failure, retrying")
		if attempt == p.cfg.Retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: task context cancelled: %w", step, ctx.Err())
		case <-time.After(p.cfg.Retry.Backoff):
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", step, p.cfg.Retry.MaxAttempts, lastErr)
}
