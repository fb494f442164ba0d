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

// Package dispatcher validates tool arguments against the declared
// catalogue, routes calls to the registry and supervisors, and shapes
// results into structured payloads. It never lets a per-session failure
// escape as a transport-level error.
package dispatcher

import (
	"fmt"
	"strings"

	"sandbox-runner/internal/eventqueue"
	"sandbox-runner/internal/launcher"
	"sandbox-runner/internal/logutil"
	"sandbox-runner/internal/registry"
	"sandbox-runner/internal/supervisor"
)

var logger = logutil.GetLogger("dispatcher")

const (
	defaultWaitMS = 250
	minWaitMS     = 0
	maxWaitMS     = 10000
)

// Dispatcher wires the tool catalogue to a registry of sessions.
type Dispatcher struct {
	registry       *registry.Registry
	launcher       launcher.Launcher
	launchCfg      launcher.Config
	sessCfg        supervisor.Config
	defaultCommand string
}

// New builds a Dispatcher. defaultCommand is used by start_program when
// the caller supplies no command of its own.
func New(reg *registry.Registry, l launcher.Launcher, launchCfg launcher.Config, sessCfg supervisor.Config, defaultCommand string) *Dispatcher {
	return &Dispatcher{
		registry:       reg,
		launcher:       l,
		launchCfg:      launchCfg,
		sessCfg:        sessCfg,
		defaultCommand: defaultCommand,
	}
}

// Tools returns the static tool catalogue advertised by list_tools.
func (d *Dispatcher) Tools() []ToolDef {
	return catalogue()
}

// Call routes a call_tool request by name. An error is returned only for
// an unrecognized tool name; every other failure is shaped into the
// tool's own payload.
func (d *Dispatcher) Call(name string, args map[string]any) (any, error) {
	switch name {
	case "start_program":
		return d.startProgram(args), nil
	case "send_input":
		return d.sendInput(args), nil
	case "read_output":
		return d.readOutput(args), nil
	case "stop_session":
		return d.stopSession(args), nil
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

func (d *Dispatcher) startProgram(args map[string]any) map[string]any {
	command := strings.TrimSpace(stringArg(args, "command"))
	if command == "" {
		command = d.defaultCommand
	}

	label := stringArg(args, "session_label")
	if label == "" {
		label = "session"
	}

	sup, err := d.registry.Create(d.launchCfg, d.sessCfg, d.launcher, command)
	if err != nil {
		logger.WithError(err).Warn("start_program failed to launch")
		return map[string]any{"ok": false, "error": err.Error()}
	}

	logger.Debugf("tool start_program label=%s command=%s session=%s", label, command, sup.ID)

	return map[string]any{
		"session_id": sup.ID,
		"command":    sup.Command,
		"label":      label,
	}
}

func (d *Dispatcher) sendInput(args map[string]any) map[string]any {
	sessionID := stringArg(args, "session_id")
	text := stringArg(args, "text")

	sup, ok := d.registry.Get(sessionID)
	if !ok {
		return map[string]any{"ok": false, "error": "unknown session"}
	}

	sent, errMsg := sup.Send(text)
	result := map[string]any{"ok": sent}
	if errMsg != "" {
		result["error"] = errMsg
	}

	logger.Debugf("tool send_input session=%s -> %v", sessionID, result)
	return result
}

func (d *Dispatcher) readOutput(args map[string]any) map[string]any {
	sessionID := stringArg(args, "session_id")
	waitMS := intArg(args, "wait_ms", defaultWaitMS)
	if waitMS < minWaitMS {
		waitMS = minWaitMS
	}
	if waitMS > maxWaitMS {
		waitMS = maxWaitMS
	}

	sup, ok := d.registry.Get(sessionID)
	if !ok {
		return map[string]any{
			"events": []eventqueue.Event{},
			"alive":  false,
			"error":  "unknown session",
		}
	}

	result := sup.Read(waitMS)

	return map[string]any{
		"events":       result.Events,
		"alive":        result.Alive,
		"stdout_bytes": result.StdoutBytes,
		"stderr_bytes": result.StderrBytes,
	}
}

func (d *Dispatcher) stopSession(args map[string]any) map[string]any {
	sessionID := stringArg(args, "session_id")
	kill := boolArg(args, "kill")

	sup, ok := d.registry.Get(sessionID)
	if !ok {
		return map[string]any{"ok": false, "error": "unknown session"}
	}

	okRes, message := sup.Stop(kill)
	logger.Debugf("tool stop_session session=%s kill=%v -> ok=%v", sessionID, kill, okRes)

	return map[string]any{"ok": okRes, "message": message}
}
