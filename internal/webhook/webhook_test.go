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

package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retzero/jit-runner-manager/internal/admission"
	"github.com/retzero/jit-runner-manager/internal/store"
)

var testSecret = []byte("s3cr3t")

func sign(body []byte) string {
	mac := hmac.New(sha256.New, testSecret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestValidatePayloadAcceptsCorrectSignature(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	assert.True(t, ValidatePayload(body, sign(body), testSecret))
}

func TestValidatePayloadRejectsWrongSignature(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	assert.False(t, ValidatePayload(body, "sha256=deadbeef", testSecret))
}

func TestValidatePayloadRejectsMissingPrefix(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	assert.False(t, ValidatePayload(body, "deadbeef", testSecret))
}

func newHandler() (*Handler, store.Store) {
	s := store.NewFake()
	admitter := admission.New(s, []string{"self-hosted"}, logrus.New())
	h := New(testSecret, admitter, nil, logrus.New())
	return h, s
}

func postWebhook(t *testing.T, h *Handler, body []byte, eventType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	req.Header.Set("X-GitHub-Event", eventType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServeHTTPRejectsBadSignature(t *testing.T) {
	h, _ := newHandler()
	body := []byte(`{"action":"queued"}`)
	req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	req.Header.Set("X-GitHub-Event", "workflow_job")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeHTTPRejectsMalformedPayload(t *testing.T) {
	h, _ := newHandler()
	rec := postWebhook(t, h, []byte(`not json`), "workflow_job")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTPQueuedAdmitsMatchingLabel(t *testing.T) {
	h, s := newHandler()
	body := []byte(`{"action":"queued","workflow_job":{"id":7,"run_id":1,"name":"build","labels":["self-hosted"]},"repository":{"full_name":"acme/repo","owner":{"login":"acme"}}}`)
	rec := postWebhook(t, h, body, "workflow_job")
	assert.Equal(t, http.StatusOK, rec.Code)

	entries, err := s.PeekAllPending(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].Job.JobID)
}

func TestServeHTTPIgnoresNonWorkflowJobEvents(t *testing.T) {
	h, _ := newHandler()
	rec := postWebhook(t, h, []byte(`{}`), "ping")
	assert.Equal(t, http.StatusOK, rec.Code)
}
