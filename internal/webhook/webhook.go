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

// Package webhook is the HTTP ingress for workflow_job events: signature verification, payload parsing, and routing queued
// events into Admission. in_progress/completed are log-only — pod
// lifecycle is self-terminating — except completed also sends a
// non-blocking signal on the nudge channel.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/retzero/jit-runner-manager/internal/admission"
)

// ValidatePayload verifies an X-Hub-Signature-256 HMAC-SHA256 signature
// against payload, the way prow/github's ValidatePayload checks its
// HMAC-SHA1 signatures against a token list.
func ValidatePayload(payload []byte, sig string, secret []byte) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(sig, prefix) {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(sig, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	got := mac.Sum(nil)
	return hmac.Equal(got, want)
}

type workflowJobPayload struct {
	Action      string `json:"action"`
	WorkflowJob struct {
		ID         int64    `json:"id"`
		RunID      int64    `json:"run_id"`
		Name       string   `json:"name"`
		Labels     []string `json:"labels"`
		RunnerName string   `json:"runner_name"`
		Conclusion string   `json:"conclusion"`
	} `json:"workflow_job"`
	Repository struct {
		FullName string `json:"full_name"`
		Owner    struct {
			Login string `json:"login"`
			Type  string `json:"type"`
		} `json:"owner"`
	} `json:"repository"`
	Organization *struct {
		Login string `json:"login"`
	} `json:"organization"`
}

// tenant resolves the owning tenant: the organization login when
// present, else the repository owner's login.
func (p workflowJobPayload) tenant() string {
	if p.Organization != nil && p.Organization.Login != "" {
		return p.Organization.Login
	}
	return p.Repository.Owner.Login
}

// Handler serves the webhook ingress endpoint.
type Handler struct {
	secret   []byte
	admitter *admission.Admitter
	nudge    chan<- struct{}
	log      logrus.FieldLogger
}

// New builds a Handler. nudge, if non-nil, receives a non-blocking signal
// on every workflow_job.completed event; what happens next is up to the
// receiver. It may be nil in tests.
func New(secret []byte, admitter *admission.Admitter, nudge chan<- struct{}, log logrus.FieldLogger) *Handler {
	return &Handler{secret: secret, admitter: admitter, nudge: nudge, log: log.WithField("component", "webhook")}
}

// Register wires the handler into a gorilla/mux router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/hook", h.ServeHTTP).Methods(http.MethodPost)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}

	sig := r.Header.Get("X-Hub-Signature-256")
	if !ValidatePayload(body, sig, h.secret) {
		h.log.Warn("rejected webhook: signature mismatch")
		http.Error(w, "signature mismatch", http.StatusUnauthorized)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType != "workflow_job" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var payload workflowJobPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.WithError(err).Warn("rejected webhook: malformed payload")
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	switch payload.Action {
	case "queued":
		h.handleQueued(r.Context(), payload)
	case "in_progress":
		h.log.WithFields(logrus.Fields{"job_id": payload.WorkflowJob.ID, "tenant": payload.tenant()}).Info("job in progress")
	case "completed":
		h.log.WithFields(logrus.Fields{
			"job_id": payload.WorkflowJob.ID, "tenant": payload.tenant(), "conclusion": payload.WorkflowJob.Conclusion,
		}).Info("job completed")
		h.nudgeDispatcher()
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleQueued(ctx context.Context, payload workflowJobPayload) {
	ev := admission.Event{
		Tenant:       payload.tenant(),
		JobID:        payload.WorkflowJob.ID,
		RunID:        payload.WorkflowJob.RunID,
		JobName:      payload.WorkflowJob.Name,
		RepoFullName: payload.Repository.FullName,
		Labels:       payload.WorkflowJob.Labels,
	}
	outcome, err := h.admitter.Admit(ctx, ev)
	if err != nil {
		h.log.WithError(err).WithField("job_id", ev.JobID).Warn("admission failed")
		return
	}
	h.log.WithFields(logrus.Fields{"job_id": ev.JobID, "outcome": outcome}).Info("admission decision")
}

// nudgeDispatcher sends a non-blocking signal; a full channel means a
// tick is already pending, so the nudge is simply dropped.
func (h *Handler) nudgeDispatcher() {
	if h.nudge == nil {
		return
	}
	select {
	case h.nudge <- struct{}{}:
	default:
	}
}
