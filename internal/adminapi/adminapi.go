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

// Package adminapi is the administrative and observability HTTP surface
//: tenant-cap CRUD protected by X-Admin-Key, plus
// /health, /metrics, and /orgs/{T}/status.
package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/retzero/jit-runner-manager/internal/store"
	"github.com/retzero/jit-runner-manager/internal/tenantcap"
)

// Handler serves the admin and observability HTTP surface.
type Handler struct {
	store      store.Store
	tenantcap  *tenantcap.Manager
	adminKey   string
	capPath    string
	maxTotal   int
	defaultCap int
	log        logrus.FieldLogger
}

// New builds a Handler.
func New(s store.Store, tc *tenantcap.Manager, adminKey, capPath string, maxTotal, defaultCap int, log logrus.FieldLogger) *Handler {
	return &Handler{
		store: s, tenantcap: tc, adminKey: adminKey, capPath: capPath,
		maxTotal: maxTotal, defaultCap: defaultCap, log: log.WithField("component", "adminapi"),
	}
}

// Register wires every route into r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/metrics", h.metricsJSON).Methods(http.MethodGet)
	r.HandleFunc("/orgs/{tenant}/status", h.orgStatus).Methods(http.MethodGet)

	admin := r.PathPrefix("/org-limits").Subrouter()
	admin.Use(h.requireAdminKey)
	admin.HandleFunc("", h.getAllCaps).Methods(http.MethodGet)
	admin.HandleFunc("", h.putAllCaps).Methods(http.MethodPut)
	admin.HandleFunc("/reload", h.reload).Methods(http.MethodPost)
	admin.HandleFunc("/{tenant}", h.getCap).Methods(http.MethodGet)
	admin.HandleFunc("/{tenant}", h.putCap).Methods(http.MethodPut)
	admin.HandleFunc("/{tenant}", h.deleteCap).Methods(http.MethodDelete)
}

func (h *Handler) requireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminKey == "" || r.Header.Get("X-Admin-Key") != h.adminKey {
			http.Error(w, "missing or invalid X-Admin-Key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("adminapi: failed to encode response")
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	status := "connected"
	if err := h.store.Ping(r.Context()); err != nil {
		status = "disconnected"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"store":  status,
		"config": map[string]interface{}{"max_total": h.maxTotal, "max_per_tenant": h.defaultCap},
	})
}

func (h *Handler) metricsJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	total, err := h.store.GetGlobal(ctx)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	entries, err := h.store.PeekAllPending(ctx)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	pendingByTenant := map[string]int{}
	for _, e := range entries {
		pendingByTenant[e.Tenant]++
	}

	caps, err := h.store.GetAllCaps(ctx)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	tenants := map[string]bool{}
	for t := range pendingByTenant {
		tenants[t] = true
	}
	for t := range caps {
		tenants[t] = true
	}

	perTenant := map[string]map[string]int{}
	for t := range tenants {
		running, err := h.store.GetRunning(ctx, t)
		if err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		perTenant[t] = map[string]int{"running": running, "pending": pendingByTenant[t]}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_running":  total,
		"max_total":      h.maxTotal,
		"max_per_tenant": h.defaultCap,
		"tenants":        perTenant,
	})
}

func (h *Handler) orgStatus(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	ctx := r.Context()

	running, err := h.store.GetRunning(ctx, tenant)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	pending, err := h.store.PendingCount(ctx, tenant)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"running": running, "pending": pending})
}

func (h *Handler) getAllCaps(w http.ResponseWriter, r *http.Request) {
	caps, err := h.tenantcap.All(r.Context())
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

func (h *Handler) putAllCaps(w http.ResponseWriter, r *http.Request) {
	var caps map[string]int
	if err := json.NewDecoder(r.Body).Decode(&caps); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if err := h.tenantcap.SetBulk(r.Context(), caps); err != nil {
		if errors.Is(err, tenantcap.ErrInvalidCap) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reload(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	if err := h.tenantcap.Bootstrap(r.Context(), h.capPath, force); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getCap(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	n, ok, err := h.tenantcap.Get(r.Context(), tenant)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"tenant": tenant, "cap": h.defaultCap, "override": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tenant": tenant, "cap": n, "override": true})
}

func (h *Handler) putCap(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	var body struct {
		Cap int `json:"cap"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if err := h.tenantcap.Set(r.Context(), tenant, body.Cap); err != nil {
		if errors.Is(err, tenantcap.ErrInvalidCap) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteCap(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	existed, err := h.tenantcap.Delete(r.Context(), tenant)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if !existed {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
