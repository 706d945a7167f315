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

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/retzero/jit-runner-manager/internal/runner"
)

// Fake is an in-memory Store used by unit tests across the other
// components, the same minimal-struct-implementing-the-interface pattern
// prow/plank's fakeKubeClient uses instead of a mocking framework.
type Fake struct {
	mu       sync.Mutex
	running  map[string]int
	global   int
	caps     map[string]int
	pending  map[string][]runner.PendingJob
	runners  map[string]runner.RunnerRecord
	Unavail  bool
}

// NewFake returns an empty Fake store.
func NewFake() *Fake {
	return &Fake{
		running: map[string]int{},
		caps:    map[string]int{},
		pending: map[string][]runner.PendingJob{},
		runners: map[string]runner.RunnerRecord{},
	}
}

func (f *Fake) unavailable() error {
	if f.Unavail {
		return ErrUnavailable
	}
	return nil
}

func (f *Fake) GetRunning(_ context.Context, tenant string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return 0, err
	}
	return f.running[tenant], nil
}

func (f *Fake) GetGlobal(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return 0, err
	}
	return f.global, nil
}

func (f *Fake) IncrRunning(_ context.Context, tenant string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	f.running[tenant]++
	return nil
}

func (f *Fake) DecrRunning(_ context.Context, tenant string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	f.running[tenant]--
	if f.running[tenant] < 0 {
		f.running[tenant] = 0
	}
	return nil
}

func (f *Fake) IncrGlobal(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	f.global++
	return nil
}

func (f *Fake) DecrGlobal(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	f.global--
	if f.global < 0 {
		f.global = 0
	}
	return nil
}

func (f *Fake) SetRunning(_ context.Context, tenant string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	f.running[tenant] = n
	return nil
}

func (f *Fake) SetGlobal(_ context.Context, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	f.global = n
	return nil
}

func (f *Fake) GetCap(_ context.Context, tenant string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return 0, false, err
	}
	n, ok := f.caps[tenant]
	return n, ok, nil
}

func (f *Fake) SetCap(_ context.Context, tenant string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	f.caps[tenant] = n
	return nil
}

func (f *Fake) DeleteCap(_ context.Context, tenant string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return false, err
	}
	_, ok := f.caps[tenant]
	delete(f.caps, tenant)
	return ok, nil
}

func (f *Fake) GetAllCaps(_ context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(f.caps))
	for k, v := range f.caps {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) SetCapsBulk(_ context.Context, caps map[string]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	for k, v := range caps {
		f.caps[k] = v
	}
	return nil
}

func (f *Fake) EffectiveCap(ctx context.Context, tenant string, defaultCap int) (int, error) {
	n, ok, err := f.GetCap(ctx, tenant)
	if err != nil {
		return 0, err
	}
	if !ok {
		return defaultCap, nil
	}
	return n, nil
}

func (f *Fake) Enqueue(_ context.Context, job runner.PendingJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	if job.EnqueuedAt == 0 {
		job.EnqueuedAt = nowMonotonicSeconds()
	}
	f.pending[job.Tenant] = append(f.pending[job.Tenant], job)
	return nil
}

func (f *Fake) PendingCount(_ context.Context, tenant string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return 0, err
	}
	return len(f.pending[tenant]), nil
}

func (f *Fake) PeekAllPending(_ context.Context) ([]PendingEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return nil, err
	}
	var all []PendingEntry
	for tenant, jobs := range f.pending {
		for idx, job := range jobs {
			all = append(all, PendingEntry{Tenant: tenant, Index: idx, Job: job})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Job.EnqueuedAt < all[j].Job.EnqueuedAt
	})
	return all, nil
}

func (f *Fake) RemovePending(_ context.Context, jobs []runner.PendingJob) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return 0, err
	}
	byTenant := map[string]map[int64]bool{}
	for _, j := range jobs {
		set, ok := byTenant[j.Tenant]
		if !ok {
			set = map[int64]bool{}
			byTenant[j.Tenant] = set
		}
		set[j.JobID] = true
	}
	removed := 0
	for tenant, ids := range byTenant {
		existing := f.pending[tenant]
		var keep []runner.PendingJob
		for _, job := range existing {
			if ids[job.JobID] {
				removed++
				continue
			}
			keep = append(keep, job)
		}
		f.pending[tenant] = keep
	}
	return removed, nil
}

func (f *Fake) SaveRunner(_ context.Context, rec runner.RunnerRecord, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	f.runners[rec.RunnerName] = rec
	return nil
}

func (f *Fake) DeleteRunner(_ context.Context, runnerName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	delete(f.runners, runnerName)
	return nil
}

func (f *Fake) GetAllRunners(_ context.Context) (map[string]runner.RunnerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return nil, err
	}
	out := make(map[string]runner.RunnerRecord, len(f.runners))
	for k, v := range f.runners {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) Ping(_ context.Context) error {
	return f.unavailable()
}

var _ Store = (*Fake)(nil)
