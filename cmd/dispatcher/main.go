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

// Command dispatcher runs the background actors: the batch dispatcher,
// reconciler, cleanup, and the dispatch-worker pool that backs them
// (components B, D, E, F). It carries no HTTP ingress; that lives in
// cmd/hook.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"golang.org/x/oauth2"
	cron "gopkg.in/robfig/cron.v2"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/google/go-github/github"

	"github.com/retzero/jit-runner-manager/internal/cleanup"
	"github.com/retzero/jit-runner-manager/internal/cluster"
	"github.com/retzero/jit-runner-manager/internal/config"
	"github.com/retzero/jit-runner-manager/internal/dispatcher"
	"github.com/retzero/jit-runner-manager/internal/interrupts"
	"github.com/retzero/jit-runner-manager/internal/logutil"
	"github.com/retzero/jit-runner-manager/internal/reconciler"
	"github.com/retzero/jit-runner-manager/internal/scm"
	"github.com/retzero/jit-runner-manager/internal/store"
	"github.com/retzero/jit-runner-manager/internal/tenantcap"
	"github.com/retzero/jit-runner-manager/internal/worker"
)

func main() {
	cfg := config.Default()

	flag.StringVar(&cfg.Redis.Addr, "redis-addr", cfg.Redis.Addr, "Address of the Redis state store.")
	flag.StringVar(&cfg.Cluster.Namespace, "runner-namespace", cfg.Cluster.Namespace, "Namespace the dispatcher creates runner pods in.")
	flag.BoolVar(&cfg.Cluster.InCluster, "in-cluster", cfg.Cluster.InCluster, "Load the in-cluster kube config instead of the default kubeconfig loading rules.")
	flag.IntVar(&cfg.Runner.MaxTotal, "max-total", cfg.Runner.MaxTotal, "Global concurrency cap across all tenants.")
	flag.IntVar(&cfg.Runner.MaxBatchSize, "max-batch-size", cfg.Runner.MaxBatchSize, "Maximum number of jobs dispatched per tick.")
	flag.IntVar(&cfg.Worker.PoolSize, "worker-pool-size", cfg.Worker.PoolSize, "Number of concurrent dispatch-worker goroutines.")
	flag.DurationVar(&cfg.Periods.Dispatch, "dispatch-period", cfg.Periods.Dispatch, "Interval between dispatcher ticks.")
	flag.DurationVar(&cfg.Periods.Cleanup, "cleanup-period", cfg.Periods.Cleanup, "Interval between cleanup ticks.")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Logrus level (debug, info, warn, error).")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	log := logutil.New("dispatcher", cfg.LogLevel, cfg.Secrets())

	pool := store.NewRedisPool(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	st := store.NewRedisStore(pool)

	kubeClient, err := buildKubeClient(cfg.Cluster.InCluster)
	if err != nil {
		log.WithError(err).Fatal("could not build cluster client")
	}
	clusterClient := cluster.NewClientsetClient(kubeClient, cfg.Cluster.Namespace, cfg.Cluster.ManagedAppLabel, cluster.PodBuildConfig{
		RunnerImage:       cfg.Cluster.RunnerImage,
		SidecarImage:      cfg.Cluster.SidecarImage,
		RunnerCPURequest:  cfg.Cluster.RunnerCPURequest,
		RunnerCPULimit:    cfg.Cluster.RunnerCPULimit,
		RunnerMemRequest:  cfg.Cluster.RunnerMemRequest,
		RunnerMemLimit:    cfg.Cluster.RunnerMemLimit,
		SidecarCPURequest: cfg.Cluster.SidecarCPURequest,
		SidecarCPULimit:   cfg.Cluster.SidecarCPULimit,
		SidecarMemRequest: cfg.Cluster.SidecarMemRequest,
		SidecarMemLimit:   cfg.Cluster.SidecarMemLimit,
		WorkFolder:        cfg.Runner.WorkFolder,
		Labels:            cfg.Runner.AcceptedLabels,
	})

	ghClient := github.NewClient(oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: cfg.GitHub.PAT},
	)))
	scmClient := scm.New(ghClient, cfg.Runner.RunnerGroup)

	tenantCapMgr := tenantcap.New(st)
	if err := tenantCapMgr.Bootstrap(context.Background(), cfg.Admin.OrgLimitsFile, false); err != nil {
		log.WithError(err).Warn("tenant-cap bootstrap failed; continuing with defaults")
	}

	workerPool := worker.NewPool(st, clusterClient, scmClient, worker.Config{
		ManagedAppLabel: cfg.Cluster.ManagedAppLabel,
		RunnerGroupName: cfg.Runner.RunnerGroup,
		WorkFolder:      cfg.Runner.WorkFolder,
		RunnerTTL:       cfg.Redis.TTL,
		Retry:           worker.RetryPolicy{MaxAttempts: cfg.Worker.MaxAttempts, Backoff: cfg.Worker.Backoff},
		TaskTimeout:     cfg.Worker.HardTimeout,
	}, cfg.Worker.PoolSize*4, log)
	workerPool.Start(interrupts.Context(), cfg.Worker.PoolSize)

	rec := reconciler.New(st, clusterClient, log)
	disp := dispatcher.New(st, rec, workerPool, cfg.Runner.MaxTotal, cfg.Runner.MaxBatchSize, cfg.Runner.DefaultCapPerTenant, log)
	cleaner := cleanup.New(clusterClient, log)

	// The two periodic actors run on a cron.v2 schedule, expressed as
	// "@every" descriptors rather than raw time.Ticker loops. Component
	// B's reconcile pass runs inline on the dispatch entry, so
	// Periods.Reconcile has no schedule of its own.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(everySpec(cfg.Periods.Dispatch), func() { disp.Tick(interrupts.Context()) }); err != nil {
		log.WithError(err).Fatal("could not schedule dispatcher tick")
	}
	if _, err := scheduler.AddFunc(everySpec(cfg.Periods.Cleanup), func() { cleaner.Tick(interrupts.Context()) }); err != nil {
		log.WithError(err).Fatal("could not schedule cleanup tick")
	}
	scheduler.Start()
	interrupts.OnInterrupt(func() { scheduler.Stop() })

	log.Info("dispatcher started")
	interrupts.WaitForGracefulShutdown()
}

// everySpec renders a time.Duration as a cron.v2 "@every" descriptor.
func everySpec(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// buildKubeClient loads an in-cluster config when running inside the
// runner namespace's cluster, else falls back to the default kubeconfig
// loading rules — a two-branch switch, not a pluggable loader.
func buildKubeClient(inCluster bool) (kubernetes.Interface, error) {
	var restCfg *rest.Config
	var err error
	if inCluster {
		restCfg, err = rest.InClusterConfig()
	} else {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		restCfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("loading kube config: %w", err)
	}
	return kubernetes.NewForConfig(restCfg)
}
