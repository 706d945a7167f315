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

// Package cluster is the container-cluster client contract:
// namespaced pod CRUD against the runner namespace, labeled so the
// reconciler and cleanup loops can list exactly the pods this fleet
// manages. The interface is what the core subsystem depends on;
// ClientsetClient is the concrete client-go-backed implementation wired
// at the entrypoints.
package cluster

import (
	"context"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/pointer"
)

// Phase mirrors the pod phases the reconciler and cleanup care about.
type Phase string

const (
	PhasePending   Phase = "Pending"
	PhaseRunning   Phase = "Running"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
	PhaseUnknown   Phase = "Unknown"
)

// Active reports whether the phase counts toward a tenant's running
// total.
func (p Phase) Active() bool {
	return p == PhasePending || p == PhaseRunning
}

// Terminal reports whether Cleanup should reap a pod in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// PodInfo is the minimal view of a managed pod the core subsystem needs.
type PodInfo struct {
	Name   string
	Tenant string
	JobID  string
	Phase  Phase
}

// PodSpec describes a runner pod to create: two
// containers (runner + privileged sidecar) sharing two empty-dir volumes.
type PodSpec struct {
	Name             string
	Tenant           string
	JobID            int64
	EncodedJITConfig string
}

var (
	// ErrAlreadyExists mirrors a 409 from the cluster API: pod creation is
	// idempotent because names are derived from job_id.
	ErrAlreadyExists = errors.New("cluster: pod already exists")
	// ErrNotFound mirrors a 404 on delete, also treated as success.
	ErrNotFound = errors.New("cluster: pod not found")
)

// Client is the cluster contract the reconciler, cleanup, and dispatch
// worker depend on.
type Client interface {
	ListManagedPods(ctx context.Context) ([]PodInfo, error)
	CreatePod(ctx context.Context, spec PodSpec) error
	DeletePod(ctx context.Context, name string) error
}

// ClientsetClient implements Client against a real k8s.io/client-go
// clientset, namespaced and label-selected by the managed-app label
// ("app=<managed>").
type ClientsetClient struct {
	clientset       kubernetes.Interface
	namespace       string
	managedAppLabel string
	cfg             PodBuildConfig
}

// PodBuildConfig carries the runner and sidecar image/resource settings
// the pod template needs.
type PodBuildConfig struct {
	RunnerImage       string
	SidecarImage      string
	RunnerCPURequest  string
	RunnerCPULimit    string
	RunnerMemRequest  string
	RunnerMemLimit    string
	SidecarCPURequest string
	SidecarCPULimit   string
	SidecarMemRequest string
	SidecarMemLimit   string
	WorkFolder        string
	Labels            []string
}

// NewClientsetClient builds a Client backed by clientset.
func NewClientsetClient(clientset kubernetes.Interface, namespace, managedAppLabel string, cfg PodBuildConfig) *ClientsetClient {
	return &ClientsetClient{clientset: clientset, namespace: namespace, managedAppLabel: managedAppLabel, cfg: cfg}
}

// ListManagedPods lists all pods in the runner namespace carrying the
// managed-app label.
func (c *ClientsetClient) ListManagedPods(ctx context.Context) ([]PodInfo, error) {
	list, err := c.clientset.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("app=%s", c.managedAppLabel),
	})
	if err != nil {
		return nil, fmt.Errorf("cluster: list pods: %w", err)
	}
	out := make([]PodInfo, 0, len(list.Items))
	for _, pod := range list.Items {
		out = append(out, PodInfo{
			Name:   pod.Name,
			Tenant: pod.Labels["tenant"],
			JobID:  pod.Labels["job-id"],
			Phase:  Phase(pod.Status.Phase),
		})
	}
	return out, nil
}

// CreatePod submits the runner pod spec. A 409 (AlreadyExists) is
// translated into ErrAlreadyExists, which callers treat as success.
func (c *ClientsetClient) CreatePod(ctx context.Context, spec PodSpec) error {
	pod := c.buildPod(spec)
	_, err := c.clientset.CoreV1().Pods(c.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("cluster: create pod %s: %w", spec.Name, err)
	}
	return nil
}

// DeletePod deletes a pod by name. A 404 is translated into ErrNotFound,
// which callers treat as success.
func (c *ClientsetClient) DeletePod(ctx context.Context, name string) error {
	err := c.clientset.CoreV1().Pods(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("cluster: delete pod %s: %w", name, err)
	}
	return nil
}

func (c *ClientsetClient) buildPod(spec PodSpec) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: c.namespace,
			Labels: map[string]string{
				"app":          c.managedAppLabel,
				"tenant":       spec.Tenant,
				"job-id":       fmt.Sprintf("%d", spec.JobID),
				"runner-name":  spec.Name,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Volumes: []corev1.Volume{
				{Name: "work", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
				{Name: "ipc", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
			},
			Containers: []corev1.Container{
				{
					Name:  "runner",
					Image: c.cfg.RunnerImage,
					Env: []corev1.EnvVar{
						{Name: "ACTIONS_RUNNER_INPUT_JITCONFIG", Value: spec.EncodedJITConfig},
					},
					VolumeMounts: []corev1.VolumeMount{
						{Name: "work", MountPath: "/" + c.cfg.WorkFolder},
						{Name: "ipc", MountPath: "/run/runner-ipc"},
					},
					Resources: resourceRequirements(c.cfg.RunnerCPURequest, c.cfg.RunnerCPULimit, c.cfg.RunnerMemRequest, c.cfg.RunnerMemLimit),
				},
				{
					Name:  "sidecar",
					Image: c.cfg.SidecarImage,
					SecurityContext: &corev1.SecurityContext{
						Privileged: pointer.Bool(true),
					},
					VolumeMounts: []corev1.VolumeMount{
						{Name: "work", MountPath: "/" + c.cfg.WorkFolder},
						{Name: "ipc", MountPath: "/run/runner-ipc"},
					},
					Resources: resourceRequirements(c.cfg.SidecarCPURequest, c.cfg.SidecarCPULimit, c.cfg.SidecarMemRequest, c.cfg.SidecarMemLimit),
				},
			},
		},
	}
}

func resourceRequirements(cpuReq, cpuLim, memReq, memLim string) corev1.ResourceRequirements {
	return corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(cpuReq),
			corev1.ResourceMemory: resource.MustParse(memReq),
		},
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(cpuLim),
			corev1.ResourceMemory: resource.MustParse(memLim),
		},
	}
}
