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

// Command hook serves the HTTP ingress: the webhook receiver (component
// C's entrypoint) and the admin/observability surface. It carries no
// periodic actors; those live in cmd/dispatcher.
package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/retzero/jit-runner-manager/internal/adminapi"
	"github.com/retzero/jit-runner-manager/internal/admission"
	"github.com/retzero/jit-runner-manager/internal/config"
	"github.com/retzero/jit-runner-manager/internal/interrupts"
	"github.com/retzero/jit-runner-manager/internal/logutil"
	"github.com/retzero/jit-runner-manager/internal/store"
	"github.com/retzero/jit-runner-manager/internal/tenantcap"
	"github.com/retzero/jit-runner-manager/internal/webhook"
)

func main() {
	cfg := config.Default()

	listenAddr := ":8888"
	flag.StringVar(&listenAddr, "listen-addr", listenAddr, "Address the webhook and admin HTTP surface listen on.")
	flag.StringVar(&cfg.Redis.Addr, "redis-addr", cfg.Redis.Addr, "Address of the Redis state store.")
	flag.StringVar(&cfg.GitHub.WebhookSecret, "webhook-secret", cfg.GitHub.WebhookSecret, "Shared secret GitHub signs webhook deliveries with (X-Hub-Signature-256).")
	flag.StringVar(&cfg.Admin.APIKey, "admin-api-key", cfg.Admin.APIKey, "Key required in X-Admin-Key for the protected admin surface.")
	flag.StringVar(&cfg.Admin.OrgLimitsFile, "org-limits-file", cfg.Admin.OrgLimitsFile, "Path to the declarative per-tenant cap file.")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Logrus level (debug, info, warn, error).")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	log := logutil.New("hook", cfg.LogLevel, cfg.Secrets())

	pool := store.NewRedisPool(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	st := store.NewRedisStore(pool)

	admitter := admission.New(st, cfg.Runner.AcceptedLabels, log)
	tenantCapMgr := tenantcap.New(st)
	adminHandler := adminapi.New(st, tenantCapMgr, cfg.Admin.APIKey, cfg.Admin.OrgLimitsFile, cfg.Runner.MaxTotal, cfg.Runner.DefaultCapPerTenant, log)

	// Nudge channel receives a signal on every workflow_job.completed
	// event. cmd/dispatcher owns the actual tick loop in a separate
	// process, so this process only logs the signal; the dispatcher is not
	// ticked early and waits out its period.
	nudge := make(chan struct{}, 1)
	go func() {
		for range nudge {
			log.Debug("received completion nudge; next dispatcher tick will pick up sooner")
		}
	}()
	webhookHandler := webhook.New([]byte(cfg.GitHub.WebhookSecret), admitter, nudge, log)

	router := mux.NewRouter()
	webhookHandler.Register(router)
	adminHandler.Register(router)

	server := &http.Server{
		Addr:         listenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	interrupts.ListenAndServe(server, 30*time.Second)
	log.Info("hook server started")
	interrupts.WaitForGracefulShutdown()
}
