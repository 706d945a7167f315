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

// Package scm is the client for the upstream source-control service's
// runner-lifecycle endpoints: JIT configuration issuance and
// runner-group resolution. It classifies failures as transient or
// permanent so the dispatch worker knows whether to retry.
package scm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/github"
)

// ErrPermanent wraps upstream failures the worker must not retry: auth
// errors, missing runner group, or any other 4xx response.
var ErrPermanent = errors.New("scm: permanent failure")

// ErrTransient wraps failures the worker should retry with backoff:
// network errors and 5xx responses.
var ErrTransient = errors.New("scm: transient failure")

// JITConfig is the result of a successful generate-jitconfig call.
type JITConfig struct {
	RunnerID         int64
	RunnerName       string
	EncodedJITConfig string
}

// Client issues just-in-time runner credentials against the upstream
// source-control API.
type Client struct {
	gh               *github.Client
	defaultGroupName string
}

// New builds a Client around an already-authenticated *github.Client (an
// oauth2 static-token HTTP client per cmd/dispatcher's wiring).
func New(gh *github.Client, defaultGroupName string) *Client {
	return &Client{gh: gh, defaultGroupName: defaultGroupName}
}

type runnerGroup struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

type runnerGroupsResponse struct {
	RunnerGroups []runnerGroup `json:"runner_groups"`
}

// ResolveRunnerGroupID looks up the configured runner group by name,
// falling back to whichever group is marked default:true if no name
// matches. The go-github v17 API predates runner-group
// support, so this issues a manual request the way prow/github's client
// escapes to raw requests for endpoints its vendored version lacks.
func (c *Client) ResolveRunnerGroupID(ctx context.Context, tenant string) (int64, error) {
	u := fmt.Sprintf("orgs/%s/actions/runner-groups", tenant)
	req, err := c.gh.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: building runner-groups request: %v", ErrPermanent, err)
	}

	var out runnerGroupsResponse
	resp, err := c.gh.Do(ctx, req, &out)
	if classified := classify(resp, err); classified != nil {
		return 0, classified
	}

	var fallback *runnerGroup
	for i := range out.RunnerGroups {
		g := out.RunnerGroups[i]
		if g.Name == c.defaultGroupName {
			return g.ID, nil
		}
		if g.Default {
			fallback = &out.RunnerGroups[i]
		}
	}
	if fallback != nil {
		return fallback.ID, nil
	}
	return 0, fmt.Errorf("%w: no runner group named %q and no default group", ErrPermanent, c.defaultGroupName)
}

type generateJITConfigRequest struct {
	Name          string   `json:"name"`
	RunnerGroupID int64    `json:"runner_group_id"`
	Labels        []string `json:"labels"`
	WorkFolder    string   `json:"work_folder,omitempty"`
}

type generateJITConfigResponse struct {
	Runner struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"runner"`
	EncodedJITConfig string `json:"encoded_jit_config"`
}

// IssueJITConfig calls generate-jitconfig for the synthesized runner name.
func (c *Client) IssueJITConfig(ctx context.Context, tenant, runnerName string, runnerGroupID int64, labels []string, workFolder string) (JITConfig, error) {
	u := fmt.Sprintf("orgs/%s/actions/runners/generate-jitconfig", tenant)
	body := generateJITConfigRequest{
		Name: runnerName, RunnerGroupID: runnerGroupID, Labels: labels, WorkFolder: workFolder,
	}
	req, err := c.gh.NewRequest(http.MethodPost, u, body)
	if err != nil {
		return JITConfig{}, fmt.Errorf("%w: building generate-jitconfig request: %v", ErrPermanent, err)
	}

	var out generateJITConfigResponse
	resp, err := c.gh.Do(ctx, req, &out)
	if classified := classify(resp, err); classified != nil {
		return JITConfig{}, classified
	}

	return JITConfig{
		RunnerID:         out.Runner.ID,
		RunnerName:       out.Runner.Name,
		EncodedJITConfig: out.EncodedJITConfig,
	}, nil
}

// DeleteRunner removes a runner registration. Used only by manual cleanup
// paths; ephemeral runners self-deregister on job completion.
func (c *Client) DeleteRunner(ctx context.Context, tenant string, runnerID int64) error {
	u := fmt.Sprintf("orgs/%s/actions/runners/%d", tenant, runnerID)
	req, err := c.gh.NewRequest(http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("%w: building delete-runner request: %v", ErrPermanent, err)
	}
	resp, err := c.gh.Do(ctx, req, nil)
	return classify(resp, err)
}

// classify turns a go-github response/error pair into nil, ErrTransient,
// or ErrPermanent: network errors and 5xx are transient; 4xx (auth,
// not-found runner group, bad request) is permanent.
func classify(resp *github.Response, err error) error {
	if err == nil {
		return nil
	}
	if resp == nil || resp.Response == nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	status := resp.StatusCode
	if status >= 500 {
		return fmt.Errorf("%w: upstream status %d: %v", ErrTransient, status, err)
	}
	if status >= 400 {
		return fmt.Errorf("%w: upstream status %d: %v", ErrPermanent, status, err)
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
