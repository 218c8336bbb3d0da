// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

// DockerSandbox acquires a fresh container per call. Every call's
// container is torn down in Release, so concurrent calls never share
// mutable state regardless of session; a long-lived session container
// leased to one concurrent call at a time is left to a higher layer that
// would call Acquire once and pass the same Handle to repeated Exec calls
// serialized by its own lock.
type DockerSandbox struct {
	cli *client.Client
}

func NewDockerSandbox() (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: failed to create docker client: %w", err)
	}
	return &DockerSandbox{cli: cli}, nil
}

func (s *DockerSandbox) Acquire(ctx context.Context, spec SandboxSpec) (Handle, error) {
	netMode := container.NetworkMode("none")
	if spec.AllowNetwork {
		netMode = "bridge"
	}

	resp, err := s.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      spec.Image,
			Cmd:        []string{"sleep", "infinity"},
			Tty:        false,
			OpenStdin:  true,
			WorkingDir: "/workspace",
		},
		&container.HostConfig{
			NetworkMode: netMode,
			Resources: container.Resources{
				Memory:   spec.MemoryBytes,
				NanoCPUs: spec.NanoCPUs,
			},
			AutoRemove: false,
		},
		&network.NetworkingConfig{},
		nil,
		"",
	)
	if err != nil {
		return "", fmt.Errorf("sandbox: failed to create container: %w", err)
	}

	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = s.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("sandbox: failed to start container: %w", err)
	}

	return Handle(resp.ID), nil
}

func (s *DockerSandbox) Exec(ctx context.Context, h Handle, command string, stdin string) (ExecResult, error) {
	execCfg := container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  stdin != "",
	}

	created, err := s.cli.ContainerExecCreate(ctx, string(h), execCfg)
	if err != nil {
		return ExecResult{}, fmt.Errorf("sandbox: failed to create exec: %w", err)
	}

	attach, err := s.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("sandbox: failed to attach exec: %w", err)
	}
	defer attach.Close()

	if stdin != "" {
		if _, err := attach.Conn.Write([]byte(stdin)); err != nil {
			return ExecResult{}, fmt.Errorf("sandbox: failed to write stdin: %w", err)
		}
		attach.CloseWrite()
	}

	var stdout, stderr bytes.Buffer
	if _, err := io.Copy(&stdout, attach.Reader); err != nil && err != io.EOF {
		return ExecResult{}, fmt.Errorf("sandbox: failed to read exec output: %w", err)
	}

	inspect, err := s.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("sandbox: failed to inspect exec: %w", err)
	}

	return ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

func (s *DockerSandbox) Release(ctx context.Context, h Handle) error {
	// Best-effort stop; a failure here still falls through to a forced
	// remove, which is a worse leak to avoid than a remove against an
	// already-stopped container.
	_ = s.cli.ContainerStop(ctx, string(h), container.StopOptions{})
	return s.cli.ContainerRemove(ctx, string(h), container.RemoveOptions{Force: true})
}

var _ Sandbox = (*DockerSandbox)(nil)
