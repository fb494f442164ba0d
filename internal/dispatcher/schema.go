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

// Property is a single JSON Schema property declaration.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Default     any      `json:"default,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

// Schema is a minimal JSON Schema object, covering exactly what the four
// tools here declare.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDef is one catalogue entry advertised by list_tools.
type ToolDef struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	InputSchema  Schema `json:"inputSchema"`
	OutputSchema Schema `json:"outputSchema"`
}

func floatPtr(f float64) *float64 { return &f }

// catalogue returns the static four-tool catalogue. Schemas mirror the
// original runner's tool declarations field for field.
func catalogue() []ToolDef {
	return []ToolDef{
		{
			Name: "start_program",
			Description: "Start the student's program inside the sandbox. Returns a " +
				"session_id used for subsequent send/read/stop calls.",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"command": {
						Type:        "string",
						Description: "Shell command to execute. Defaults to the provided main script.",
					},
					"session_label": {
						Type:        "string",
						Description: "Optional friendly label for logging purposes.",
					},
				},
			},
			OutputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"session_id": {Type: "string"},
					"command":    {Type: "string"},
				},
				Required: []string{"session_id", "command"},
			},
		},
		{
			Name:        "send_input",
			Description: "Send a single line of input (appends newline automatically).",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"session_id": {Type: "string"},
					"text":       {Type: "string"},
				},
				Required: []string{"session_id", "text"},
			},
			OutputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"ok":    {Type: "boolean"},
					"error": {Type: "string"},
				},
				Required: []string{"ok"},
			},
		},
		{
			Name:        "read_output",
			Description: "Retrieve new stdout/stderr events from a session.",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"session_id": {Type: "string"},
					"wait_ms": {
						Type:        "integer",
						Description: "Maximum milliseconds to wait for new events.",
						Default:     250,
						Minimum:     floatPtr(0),
						Maximum:     floatPtr(10000),
					},
				},
				Required: []string{"session_id"},
			},
			OutputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"events":       {Type: "array"},
					"alive":        {Type: "boolean"},
					"stdout_bytes": {Type: "integer"},
					"stderr_bytes": {Type: "integer"},
				},
				Required: []string{"events", "alive"},
			},
		},
		{
			Name:        "stop_session",
			Description: "Terminate a running session.",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"session_id": {Type: "string"},
					"kill": {
						Type:        "boolean",
						Description: "Force kill immediately (default false).",
						Default:     false,
					},
				},
				Required: []string{"session_id"},
			},
			OutputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"ok":      {Type: "boolean"},
					"message": {Type: "string"},
				},
				Required: []string{"ok"},
			},
		},
	}
}
