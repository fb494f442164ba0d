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

package registry

import (
	"os/exec"
	"strings"
	"testing"

	"sandbox-runner/internal/launcher"
	"sandbox-runner/internal/supervisor"
)

type shellLauncher struct{}

func (shellLauncher) Launch(cfg launcher.Config, command string) (*launcher.Process, error) {
	cmd := exec.Command("sh", "-c", command)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &launcher.Process{Cmd: cmd, Stdin: stdin, Stdout: stdout, Stderr: stderr}, nil
}

type failingLauncher struct{}

func (failingLauncher) Launch(cfg launcher.Config, command string) (*launcher.Process, error) {
	return nil, exec.ErrNotFound
}

func TestCreateAssignsPrefixedID(t *testing.T) {
	r := New()
	sup, err := r.Create(launcher.Config{}, supervisor.Config{}, shellLauncher{}, "exit 0")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer sup.Stop(true)

	if !strings.HasPrefix(sup.ID, "sess-") {
		t.Fatalf("expected session id to start with sess-, got %q", sup.ID)
	}
	if len(sup.ID) != len("sess-")+12 {
		t.Fatalf("expected a 12-character suffix, got %q", sup.ID)
	}
}

func TestGetReturnsCreatedSession(t *testing.T) {
	r := New()
	sup, err := r.Create(launcher.Config{}, supervisor.Config{}, shellLauncher{}, "exit 0")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer sup.Stop(true)

	got, ok := r.Get(sup.ID)
	if !ok || got != sup {
		t.Fatalf("expected Get to return the created supervisor")
	}
}

func TestGetUnknownSession(t *testing.T) {
	r := New()
	if _, ok := r.Get("sess-doesnotexist"); ok {
		t.Fatalf("expected unknown session to report not ok")
	}
}

func TestCreateFailurePropagatesError(t *testing.T) {
	r := New()
	if _, err := r.Create(launcher.Config{}, supervisor.Config{}, failingLauncher{}, "exit 0"); err == nil {
		t.Fatalf("expected launch failure to propagate")
	}
	if r.Count() != 0 {
		t.Fatalf("expected no session registered after a launch failure")
	}
}

func TestRemoveDropsSession(t *testing.T) {
	r := New()
	sup, err := r.Create(launcher.Config{}, supervisor.Config{}, shellLauncher{}, "exit 0")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer sup.Stop(true)

	r.Remove(sup.ID)
	if _, ok := r.Get(sup.ID); ok {
		t.Fatalf("expected session to be gone after Remove")
	}
}

func TestAllReturnsEverySession(t *testing.T) {
	r := New()
	a, err := r.Create(launcher.Config{}, supervisor.Config{}, shellLauncher{}, "exit 0")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	b, err := r.Create(launcher.Config{}, supervisor.Config{}, shellLauncher{}, "exit 0")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer a.Stop(true)
	defer b.Stop(true)

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(all))
	}
}
