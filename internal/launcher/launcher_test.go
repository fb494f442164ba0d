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

package launcher

import (
	"strings"
	"testing"
)

func testConfig() Config {
	return Config{
		Workspace:    "/tmp/work",
		PythonImage:  "python:3.11",
		DockerUser:   "65534:65534",
		DockerCPUs:   "0.5",
		DockerMemory: "256m",
		TmpfsSize:    "32m",
	}
}

func TestBuildArgsIncludesIsolationFlags(t *testing.T) {
	args := buildArgs(testConfig(), "python -u main.py")
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"--network=none",
		"--read-only",
		"--cap-drop=ALL",
		"--security-opt no-new-privileges",
		"--pids-limit 128",
		"--user 65534:65534",
		"--cpus 0.5",
		"--memory 256m",
		"--memory-swap 256m",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected args to contain %q, got: %s", want, joined)
		}
	}
}

func TestBuildArgsMountsWorkspaceReadOnly(t *testing.T) {
	args := buildArgs(testConfig(), "python -u main.py")
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "/tmp/work:/workspace:ro") {
		t.Errorf("expected workspace mounted read-only at /workspace, got: %s", joined)
	}
	if !strings.Contains(joined, "/tmp/work:/code:ro") {
		t.Errorf("expected workspace mounted read-only at /code, got: %s", joined)
	}
}

func TestBuildArgsEmbedsCommandInsideLoginShell(t *testing.T) {
	args := buildArgs(testConfig(), "python -u main.py")

	last := args[len(args)-1]
	if !strings.Contains(last, "python -u main.py") {
		t.Errorf("expected inner command to appear in the shell invocation, got: %s", last)
	}
	if args[len(args)-3] != "bash" || args[len(args)-2] != "-lc" {
		t.Errorf("expected trailing bash -lc <cmd>, got: %v", args[len(args)-3:])
	}
}

func TestBuildArgsUsesConfiguredImage(t *testing.T) {
	cfg := testConfig()
	cfg.PythonImage = "python:3.12-slim"
	args := buildArgs(cfg, "python -u main.py")

	if args[len(args)-4] != "python:3.12-slim" {
		t.Errorf("expected configured image as the run target, got: %v", args[len(args)-4:])
	}
}
