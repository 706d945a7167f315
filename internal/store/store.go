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

// Package store is the typed façade over the shared key-value store,
// component A. No other component talks to the KV store directly;
// every counter, cap override, FIFO queue, and pod-index operation the
// rest of the system needs is declared here.
package store

import (
	"context"
	"time"

	"github.com/retzero/jit-runner-manager/internal/runner"
)

// PendingEntry is one element of the global FIFO view peek_all_pending
// returns: the tenant and slot index it currently lives at, paired with its
// payload.
type PendingEntry struct {
	Tenant string
	Index  int
	Job    runner.PendingJob
}

// Store is the complete vocabulary components use against the shared
// state. Every method either returns a value or fails with
// ErrUnavailable.
type Store interface {
	// Counters.
	GetRunning(ctx context.Context, tenant string) (int, error)
	GetGlobal(ctx context.Context) (int, error)
	IncrRunning(ctx context.Context, tenant string) error
	DecrRunning(ctx context.Context, tenant string) error
	IncrGlobal(ctx context.Context) error
	DecrGlobal(ctx context.Context) error
	SetRunning(ctx context.Context, tenant string, n int) error
	SetGlobal(ctx context.Context, n int) error

	// Tenant caps.
	GetCap(ctx context.Context, tenant string) (int, bool, error)
	SetCap(ctx context.Context, tenant string, n int) error
	DeleteCap(ctx context.Context, tenant string) (bool, error)
	GetAllCaps(ctx context.Context) (map[string]int, error)
	SetCapsBulk(ctx context.Context, caps map[string]int) error
	EffectiveCap(ctx context.Context, tenant string, defaultCap int) (int, error)

	// Pending-job queues.
	Enqueue(ctx context.Context, job runner.PendingJob) error
	PeekAllPending(ctx context.Context) ([]PendingEntry, error)
	RemovePending(ctx context.Context, jobs []runner.PendingJob) (int, error)
	PendingCount(ctx context.Context, tenant string) (int, error)

	// Runner records.
	SaveRunner(ctx context.Context, rec runner.RunnerRecord, ttl time.Duration) error
	DeleteRunner(ctx context.Context, runnerName string) error
	GetAllRunners(ctx context.Context) (map[string]runner.RunnerRecord, error)

	// Ping checks connectivity for health reporting.
	Ping(ctx context.Context) error
}
