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

// Package tenantcap implements component G: loading per-tenant cap
// overrides from a declarative file on boot, and exposing CRUD over
// them. It is not in the core dispatch critical path.
package tenantcap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/retzero/jit-runner-manager/internal/store"
)

// MinCap and MaxCap bound a tenant's cap override; a PUT or file entry
// outside this range is rejected rather than silently throttling a
// tenant to zero or unbounding it.
const (
	MinCap = 1
	MaxCap = 1000
)

// ErrInvalidCap is returned when a cap override falls outside [MinCap, MaxCap].
var ErrInvalidCap = errors.New("tenantcap: cap out of range")

// file is the declarative cap file's shape.
type file struct {
	OrgLimits map[string]int `yaml:"org_limits"`
}

func validCap(n int) bool {
	return n >= MinCap && n <= MaxCap
}

// Manager exposes CRUD over the store's cap hash.
type Manager struct {
	store store.Store
}

// New builds a Manager.
func New(s store.Store) *Manager {
	return &Manager{store: s}
}

// LoadFile parses path and returns the tenant→cap map it declares.
// Entries outside [MinCap, MaxCap] are dropped rather than failing the
// whole load.
func LoadFile(path string) (map[string]int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tenantcap: reading %s: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("tenantcap: parsing %s: %w", path, err)
	}
	caps := make(map[string]int, len(f.OrgLimits))
	for tenant, n := range f.OrgLimits {
		if !validCap(n) {
			continue
		}
		caps[tenant] = n
	}
	return caps, nil
}

// Bootstrap loads path and bulk-writes it to the store, but only if the
// store's cap hash is currently empty — an operator's live edits persist
// across restarts unless force is set.
func (m *Manager) Bootstrap(ctx context.Context, path string, force bool) error {
	if !force {
		existing, err := m.store.GetAllCaps(ctx)
		if err != nil {
			return fmt.Errorf("tenantcap: reading existing caps: %w", err)
		}
		if len(existing) > 0 {
			return nil
		}
	}

	caps, err := LoadFile(path)
	if err != nil {
		return err
	}
	if len(caps) == 0 {
		return nil
	}
	return m.store.SetCapsBulk(ctx, caps)
}

// Get returns the override for tenant, and whether one is set.
func (m *Manager) Get(ctx context.Context, tenant string) (int, bool, error) {
	return m.store.GetCap(ctx, tenant)
}

// Set writes an override for tenant. n must be in [MinCap, MaxCap].
func (m *Manager) Set(ctx context.Context, tenant string, n int) error {
	if !validCap(n) {
		return fmt.Errorf("%w: %d (want %d-%d)", ErrInvalidCap, n, MinCap, MaxCap)
	}
	return m.store.SetCap(ctx, tenant, n)
}

// Delete removes tenant's override, reverting it to the configured
// default.
func (m *Manager) Delete(ctx context.Context, tenant string) (bool, error) {
	return m.store.DeleteCap(ctx, tenant)
}

// All returns every tenant→cap override currently stored.
func (m *Manager) All(ctx context.Context) (map[string]int, error) {
	return m.store.GetAllCaps(ctx)
}

// SetBulk replaces the given tenant→cap entries in one call. Every
// entry must be in [MinCap, MaxCap]; one out-of-range entry rejects
// the whole batch so a partial write never leaves the hash inconsistent.
func (m *Manager) SetBulk(ctx context.Context, caps map[string]int) error {
	for tenant, n := range caps {
		if !validCap(n) {
			return fmt.Errorf("%w: tenant %s cap %d (want %d-%d)", ErrInvalidCap, tenant, n, MinCap, MaxCap)
		}
	}
	return m.store.SetCapsBulk(ctx, caps)
}
