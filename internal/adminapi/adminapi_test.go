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

package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retzero/jit-runner-manager/internal/runner"
	"github.com/retzero/jit-runner-manager/internal/store"
	"github.com/retzero/jit-runner-manager/internal/tenantcap"
)

func newTestRouter(s store.Store) *mux.Router {
	tc := tenantcap.New(s)
	h := New(s, tc, "secret-key", "/nonexistent.yaml", 200, 10, logrus.New())
	r := mux.NewRouter()
	h.Register(r)
	return r
}

func TestHealthReportsStoreConnected(t *testing.T) {
	s := store.NewFake()
	r := newTestRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "connected", body["store"])
}

func TestOrgLimitsRequiresAdminKey(t *testing.T) {
	s := store.NewFake()
	r := newTestRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/org-limits", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPutAndGetCapRoundTrip(t *testing.T) {
	s := store.NewFake()
	r := newTestRouter(s)

	body, _ := json.Marshal(map[string]int{"cap": 7})
	req := httptest.NewRequest(http.MethodPut, "/org-limits/acme", bytes.NewReader(body))
	req.Header.Set("X-Admin-Key", "secret-key")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/org-limits/acme", nil)
	req2.Header.Set("X-Admin-Key", "secret-key")
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &got))
	assert.Equal(t, float64(7), got["cap"])
	assert.Equal(t, true, got["override"])
}

func TestPutCapRejectsOutOfRangeValue(t *testing.T) {
	s := store.NewFake()
	r := newTestRouter(s)

	body, _ := json.Marshal(map[string]int{"cap": 0})
	req := httptest.NewRequest(http.MethodPut, "/org-limits/acme", bytes.NewReader(body))
	req.Header.Set("X-Admin-Key", "secret-key")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	_, ok, err := tenantcap.New(s).Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.False(t, ok, "rejected cap must not reach the store")
}

func TestDeleteCapNotFoundReturns404(t *testing.T) {
	s := store.NewFake()
	r := newTestRouter(s)

	req := httptest.NewRequest(http.MethodDelete, "/org-limits/acme", nil)
	req.Header.Set("X-Admin-Key", "secret-key")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrgStatusReturnsRunningAndPending(t *testing.T) {
	s := store.NewFake()
	require.NoError(t, s.SetRunning(context.Background(), "acme", 2))
	require.NoError(t, s.Enqueue(context.Background(), runner.PendingJob{JobID: 1, Tenant: "acme"}))
	r := newTestRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/orgs/acme/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, float64(2), got["running"])
	assert.Equal(t, float64(1), got["pending"])
}
