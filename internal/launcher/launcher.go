// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package launcher builds and starts the container invocation a session
// runs inside. It carries no state of its own so the supervisor can be
// exercised in isolation against a fake.
package launcher

import (
	"fmt"
	"io"
	"os/exec"

	"sandbox-runner/internal/logutil"
)

var logger = logutil.GetLogger("launcher")

// Config is the subset of session configuration the launcher needs to
// build a runtime invocation. It is immutable for the lifetime of the
// host process.
type Config struct {
	Workspace    string
	PythonImage  string
	DockerUser   string
	DockerCPUs   string
	DockerMemory string
	TmpfsSize    string
}

// Process wraps a started child and its three byte streams.
type Process struct {
	Cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// SpawnError wraps a failure to start the runtime binary itself.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn error: %v", e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// Launcher starts a command inside an isolated container and returns its
// handle and pipes. Implementations carry no session state.
type Launcher interface {
	Launch(cfg Config, command string) (*Process, error)
}

// DockerLauncher invokes the `docker` binary as an opaque external
// command, exactly the way a host administrator would from a shell. The
// container runtime is never linked into this process as an SDK.
type DockerLauncher struct{}

// buildArgs constructs the docker argv bit-for-bit in the order spec'd:
// remove-on-exit, interactive stdin, no network, non-root user, cpu and
// memory caps, memory-swap equal to memory, pids limit, read-only root,
// drop all capabilities, no-new-privileges, label-based MAC disabled, a
// sized tmpfs at /tmp, and the workspace bind-mounted read-only at both
// /workspace and /code.
func buildArgs(cfg Config, command string) []string {
	innerCmd := fmt.Sprintf(
		"cd /workspace && HOME=/tmp LANG=C.UTF-8 PYTHONDONTWRITEBYTECODE=1 PYTHONUNBUFFERED=1 %s",
		command,
	)

	return []string{
		"run", "--rm", "-i", "--network=none",
		"--user", cfg.DockerUser,
		"--cpus", cfg.DockerCPUs,
		"--memory", cfg.DockerMemory,
		"--memory-swap", cfg.DockerMemory,
		"--pids-limit", "128",
		"--read-only",
		"--cap-drop=ALL",
		"--security-opt", "no-new-privileges",
		"--security-opt", "label=disable",
		"--mount", fmt.Sprintf("type=tmpfs,destination=/tmp,tmpfs-size=%s", cfg.TmpfsSize),
		"-v", fmt.Sprintf("%s:/workspace:ro", cfg.Workspace),
		"-v", fmt.Sprintf("%s:/code:ro", cfg.Workspace),
		cfg.PythonImage, "bash", "-lc", innerCmd,
	}
}

// Launch starts `docker run ...` with the given command executed inside
// the container via a login shell, and returns its pipes. The returned
// error is always a *SpawnError.
func (DockerLauncher) Launch(cfg Config, command string) (*Process, error) {
	args := buildArgs(cfg, command)

	logger.WithField("workspace", cfg.Workspace).Debugf("launching: docker %v", args)

	cmd := exec.Command("docker", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Err: err}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Err: err}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Err: err}
	}

	return &Process{Cmd: cmd, Stdin: stdin, Stdout: stdout, Stderr: stderr}, nil
}
