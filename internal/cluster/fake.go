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

package cluster

import (
	"context"
	"strconv"
	"sync"
)

// Fake is an in-memory Client for unit tests of the reconciler, cleanup,
// and dispatch worker.
type Fake struct {
	mu     sync.Mutex
	Pods   map[string]PodInfo
	Exists map[string]bool
}

// NewFake returns an empty Fake client.
func NewFake() *Fake {
	return &Fake{Pods: map[string]PodInfo{}, Exists: map[string]bool{}}
}

// SeedPod injects a pod directly, bypassing CreatePod, for reconciler/
// cleanup test setup.
func (f *Fake) SeedPod(p PodInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pods[p.Name] = p
	f.Exists[p.Name] = true
}

func (f *Fake) ListManagedPods(_ context.Context) ([]PodInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PodInfo, 0, len(f.Pods))
	for _, p := range f.Pods {
		out = append(out, p)
	}
	return out, nil
}

func (f *Fake) CreatePod(_ context.Context, spec PodSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Exists[spec.Name] {
		return ErrAlreadyExists
	}
	f.Exists[spec.Name] = true
	f.Pods[spec.Name] = PodInfo{Name: spec.Name, Tenant: spec.Tenant, JobID: strconv.FormatInt(spec.JobID, 10), Phase: PhasePending}
	return nil
}

func (f *Fake) DeletePod(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Exists[name] {
		return ErrNotFound
	}
	delete(f.Exists, name)
	delete(f.Pods, name)
	return nil
}

var _ Client = (*Fake)(nil)
