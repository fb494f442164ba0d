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

package dispatcher

import (
	"os/exec"
	"testing"
	"time"

	"sandbox-runner/internal/eventqueue"
	"sandbox-runner/internal/launcher"
	"sandbox-runner/internal/registry"
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

func newTestDispatcher() *Dispatcher {
	reg := registry.New()
	return New(reg, shellLauncher{}, launcher.Config{}, supervisor.Config{}, "cat")
}

func TestStartProgramUsesDefaultCommand(t *testing.T) {
	d := newTestDispatcher()
	result := d.startProgram(map[string]any{})

	if result["command"] != "cat" {
		t.Fatalf("expected default command to be used, got %+v", result)
	}
	if result["session_id"] == "" {
		t.Fatalf("expected a session_id to be assigned")
	}
}

func TestStartProgramOverridesCommand(t *testing.T) {
	d := newTestDispatcher()
	result := d.startProgram(map[string]any{"command": "echo hi"})

	if result["command"] != "echo hi" {
		t.Fatalf("expected overridden command, got %+v", result)
	}
}

func TestSendInputUnknownSession(t *testing.T) {
	d := newTestDispatcher()
	result := d.sendInput(map[string]any{"session_id": "sess-nope", "text": "x"})

	if result["ok"] != false || result["error"] != "unknown session" {
		t.Fatalf("unexpected result for unknown session: %+v", result)
	}
}

func TestReadOutputUnknownSession(t *testing.T) {
	d := newTestDispatcher()
	result := d.readOutput(map[string]any{"session_id": "sess-nope"})

	if result["alive"] != false || result["error"] != "unknown session" {
		t.Fatalf("unexpected result for unknown session: %+v", result)
	}
}

func TestStopSessionUnknownSession(t *testing.T) {
	d := newTestDispatcher()
	result := d.stopSession(map[string]any{"session_id": "sess-nope"})

	if result["ok"] != false || result["error"] != "unknown session" {
		t.Fatalf("unexpected result for unknown session: %+v", result)
	}
}

func TestFullLifecycleThroughCall(t *testing.T) {
	d := newTestDispatcher()

	started, err := d.Call("start_program", map[string]any{"command": "read line; echo \"$line\""})
	if err != nil {
		t.Fatalf("Call start_program failed: %v", err)
	}
	sessionID := started.(map[string]any)["session_id"].(string)

	sent, err := d.Call("send_input", map[string]any{"session_id": sessionID, "text": "ping"})
	if err != nil {
		t.Fatalf("Call send_input failed: %v", err)
	}
	if sent.(map[string]any)["ok"] != true {
		t.Fatalf("expected send_input to succeed, got %+v", sent)
	}

	deadline := time.Now().Add(2 * time.Second)
	var sawEcho bool
	for time.Now().Before(deadline) {
		read, err := d.Call("read_output", map[string]any{"session_id": sessionID, "wait_ms": 50})
		if err != nil {
			t.Fatalf("Call read_output failed: %v", err)
		}
		events, _ := read.(map[string]any)["events"].([]eventqueue.Event)
		if len(events) > 0 {
			sawEcho = true
			break
		}
	}
	if !sawEcho {
		t.Fatalf("expected to observe echoed output before the deadline")
	}

	stopped, err := d.Call("stop_session", map[string]any{"session_id": sessionID, "kill": true})
	if err != nil {
		t.Fatalf("Call stop_session failed: %v", err)
	}
	if stopped.(map[string]any)["ok"] != true {
		t.Fatalf("expected stop_session to succeed, got %+v", stopped)
	}
}

func TestCallUnknownTool(t *testing.T) {
	d := newTestDispatcher()
	if _, err := d.Call("not_a_tool", nil); err == nil {
		t.Fatalf("expected an error for an unrecognized tool name")
	}
}

