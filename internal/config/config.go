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

// Package config assembles the immutable configuration every component is
// constructed with. Flags are declared by the entrypoint that needs them;
// this package only defines the shape and its environment-variable
// defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// GitHub holds upstream source-control connection settings.
type GitHub struct {
	APIURL        string
	PAT           string
	WebhookSecret string
	APIVersion    string
}

// Redis holds state-store connection settings.
type Redis struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Cluster holds container-cluster settings for the runner pod spec.
type Cluster struct {
	Namespace          string
	ManagedAppLabel    string
	RunnerImage        string
	SidecarImage       string
	RunnerCPURequest   string
	RunnerCPULimit     string
	RunnerMemRequest   string
	RunnerMemLimit     string
	SidecarCPURequest  string
	SidecarCPULimit    string
	SidecarMemRequest  string
	SidecarMemLimit    string
	PodDeleteGrace    time.Duration
	InCluster         bool
}

// Runner holds dispatch policy defaults.
type Runner struct {
	DefaultCapPerTenant int
	MaxTotal            int
	MaxBatchSize        int
	AcceptedLabels      []string
	RunnerGroup         string
	NamePrefix          string
	WorkFolder          string
}

// Periods holds the tick intervals for the background actors.
type Periods struct {
	Dispatch  time.Duration
	Reconcile time.Duration
	Cleanup   time.Duration
}

// Worker holds dispatch-worker retry policy.
type Worker struct {
	MaxAttempts int
	Backoff     time.Duration
	SoftTimeout time.Duration
	HardTimeout time.Duration
	PoolSize    int
}

// Admin holds the admin HTTP surface settings.
type Admin struct {
	APIKey        string
	OrgLimitsFile string
}

// Config is the fully assembled, immutable process configuration.
type Config struct {
	GitHub   GitHub
	Redis    Redis
	Cluster  Cluster
	Runner   Runner
	Periods  Periods
	Worker   Worker
	Admin    Admin
	LogLevel string
	Debug    bool
}

// Default returns a Config populated with the system's baseline policy
// (max_per_tenant=10, max_total=200, max_batch_size=10, 60s reconcile/
// cleanup, 5s dispatch, 3 attempts/30s backoff).
func Default() Config {
	return Config{
		GitHub: GitHub{
			APIURL:        envOr("JIT_GITHUB_API_URL", "https://api.github.com"),
			PAT:           os.Getenv("JIT_GITHUB_PAT"),
			WebhookSecret: os.Getenv("JIT_WEBHOOK_SECRET"),
			APIVersion:    "2022-11-28",
		},
		Redis: Redis{
			Addr: envOr("JIT_REDIS_ADDR", "localhost:6379"),
			DB:   0,
			TTL:  24 * time.Hour,
		},
		Cluster: Cluster{
			Namespace:         envOr("JIT_RUNNER_NAMESPACE", "jit-runners"),
			ManagedAppLabel:   "jit-runner",
			RunnerImage:       envOr("JIT_RUNNER_IMAGE", "ghcr.io/actions/actions-runner:latest"),
			SidecarImage:      envOr("JIT_SIDECAR_IMAGE", "docker:dind"),
			RunnerCPURequest:  "500m",
			RunnerCPULimit:    "2",
			RunnerMemRequest:  "1Gi",
			RunnerMemLimit:    "4Gi",
			SidecarCPURequest: "500m",
			SidecarCPULimit:   "2",
			SidecarMemRequest: "1Gi",
			SidecarMemLimit:   "4Gi",
			PodDeleteGrace:    30 * time.Second,
			InCluster:         os.Getenv("KUBERNETES_SERVICE_HOST") != "",
		},
		Runner: Runner{
			DefaultCapPerTenant: envOrInt("JIT_MAX_PER_TENANT", 10),
			MaxTotal:            envOrInt("JIT_MAX_TOTAL", 200),
			MaxBatchSize:        envOrInt("JIT_MAX_BATCH_SIZE", 10),
			AcceptedLabels:      envOrList("JIT_RUNNER_LABELS", []string{"code-linux"}),
			RunnerGroup:         envOr("JIT_RUNNER_GROUP", "default"),
			NamePrefix:          "jit-runner",
			WorkFolder:          "_work",
		},
		Periods: Periods{
			Dispatch:  5 * time.Second,
			Reconcile: 60 * time.Second,
			Cleanup:   60 * time.Second,
		},
		Worker: Worker{
			MaxAttempts: 3,
			Backoff:     30 * time.Second,
			SoftTimeout: 9 * time.Minute,
			HardTimeout: 10 * time.Minute,
			PoolSize:    envOrInt("JIT_WORKER_POOL_SIZE", 16),
		},
		Admin: Admin{
			APIKey:        os.Getenv("JIT_ADMIN_API_KEY"),
			OrgLimitsFile: envOr("JIT_ORG_LIMITS_FILE", "config/org-limits.yaml"),
		},
		LogLevel: envOr("JIT_LOG_LEVEL", "info"),
		Debug:    envOr("JIT_DEBUG", "false") == "true",
	}
}

// Validate checks the invariants the process cannot run without.
func (c Config) Validate() error {
	if c.GitHub.PAT == "" {
		return fmt.Errorf("config: JIT_GITHUB_PAT is required")
	}
	if c.Runner.MaxTotal <= 0 {
		return fmt.Errorf("config: max_total must be positive, got %d", c.Runner.MaxTotal)
	}
	if c.Runner.MaxBatchSize <= 0 {
		return fmt.Errorf("config: max_batch_size must be positive, got %d", c.Runner.MaxBatchSize)
	}
	return nil
}

// Secrets returns the values that must never appear in logs, for wiring
// into the censoring log formatter.
func (c Config) Secrets() []string {
	var s []string
	for _, v := range []string{c.GitHub.PAT, c.GitHub.WebhookSecret, c.Redis.Password, c.Admin.APIKey} {
		if v != "" {
			s = append(s, v)
		}
	}
	return s
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
