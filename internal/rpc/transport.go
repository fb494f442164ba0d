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

// Package rpc implements the line-delimited JSON request/response framing
// over the host-provided stdio pair: the initialization handshake, tool
// catalogue advertisement, and call_tool dispatch.
package rpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"sandbox-runner/internal/dispatcher"
	"sandbox-runner/internal/logutil"
	"sandbox-runner/internal/registry"
)

var logger = logutil.GetLogger("rpc")

// ServerName and Version identify this tool server in the initialize
// handshake.
const (
	ServerName = "sandbox-runner"
	Version    = "1.0.0"
)

// state is the transport's position in its lifecycle: Handshaking until
// an initialize request arrives, Ready after it, and Closed once the input
// stream has ended and the shutdown cascade has begun. There is no
// separate shutting-down state, and handleLine does not consult the
// state: requests are answered the same way before initialize as after.
type state int

const (
	stateHandshaking state = iota
	stateReady
	stateClosed
)

// request is the line-delimited envelope received from the host.
type request struct {
	ID     any             `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// response is the line-delimited envelope sent back. Exactly one is
// written per request received.
type response struct {
	ID     any       `json:"id,omitempty"`
	Result any       `json:"result,omitempty"`
	Error  *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Transport owns the request loop over a single stdio pair.
type Transport struct {
	in         *bufio.Scanner
	out        io.Writer
	dispatcher *dispatcher.Dispatcher
	registry   *registry.Registry
	state      state
}

// New builds a Transport reading framed requests from in and writing
// framed responses to out.
func New(in io.Reader, out io.Writer, d *dispatcher.Dispatcher, reg *registry.Registry) *Transport {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	return &Transport{
		in:         scanner,
		out:        out,
		dispatcher: d,
		registry:   reg,
		state:      stateHandshaking,
	}
}

// Run processes frames until the input stream closes, then cascades
// shutdown to every live session. It returns any scanning error; EOF is
// not an error.
func (t *Transport) Run() error {
	for t.in.Scan() {
		line := bytes.TrimSpace(t.in.Bytes())
		if len(line) == 0 {
			continue
		}
		t.handleLine(line)
	}

	t.shutdown()
	return t.in.Err()
}

func (t *Transport) handleLine(line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		t.writeError(nil, 1, "malformed request: "+err.Error())
		return
	}

	switch req.Method {
	case "initialize":
		t.state = stateReady
		t.writeResult(req.ID, map[string]any{
			"serverInfo": map[string]any{
				"name":    ServerName,
				"version": Version,
			},
			"capabilities": map[string]any{
				"tools": true,
			},
		})
	case "list_tools":
		t.writeResult(req.ID, map[string]any{"tools": t.dispatcher.Tools()})
	case "call_tool":
		t.handleCallTool(req)
	default:
		t.writeError(req.ID, 4, "unknown method: "+req.Method)
	}
}

func (t *Transport) handleCallTool(req request) {
	var params callToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.writeError(req.ID, 2, "malformed call_tool params: "+err.Error())
		return
	}

	result, err := t.dispatcher.Call(params.Name, params.Arguments)
	if err != nil {
		t.writeError(req.ID, 3, err.Error())
		return
	}

	text, err := json.Marshal(result)
	if err != nil {
		t.writeError(req.ID, 5, "failed to encode result: "+err.Error())
		return
	}

	t.writeResult(req.ID, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(text)},
		},
		"structuredContent": result,
	})
}

func (t *Transport) writeResult(id any, result any) {
	t.write(response{ID: id, Result: result})
}

func (t *Transport) writeError(id any, code int, message string) {
	t.write(response{ID: id, Error: &rpcError{Code: code, Message: message}})
}

func (t *Transport) write(resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		logger.WithError(err).Error("failed to encode response")
		return
	}
	data = append(data, '\n')
	if _, err := t.out.Write(data); err != nil {
		logger.WithError(err).Error("failed to write response")
	}
}

// shutdown force-kills every live session; it is the transport's half of
// the shutdown cascade described by the state machine.
func (t *Transport) shutdown() {
	t.state = stateClosed
	for _, sup := range t.registry.All() {
		sup.Stop(true)
	}
}
