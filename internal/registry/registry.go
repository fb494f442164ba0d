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

// Package registry maps opaque session identifiers to live supervisors.
// It never recycles identifiers during the lifetime of the host process;
// destroyed sessions may be removed lazily, never a correctness
// requirement.
package registry

import (
	"sync"

	"github.com/google/uuid"

	"sandbox-runner/internal/launcher"
	"sandbox-runner/internal/metrics"
	"sandbox-runner/internal/supervisor"
)

// Registry is a concurrency-safe map from session id to supervisor.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*supervisor.Supervisor
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*supervisor.Supervisor)}
}

// Create allocates a fresh session id, launches a supervisor for command,
// inserts it, and returns it. On launch failure no session is registered.
func (r *Registry) Create(
	launchCfg launcher.Config,
	sessCfg supervisor.Config,
	l launcher.Launcher,
	command string,
) (*supervisor.Supervisor, error) {
	id := "sess-" + uuid.New().String()[:12]

	sup, err := supervisor.Start(id, command, launchCfg, sessCfg, l)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[id] = sup
	r.mu.Unlock()

	metrics.SessionsActive.Set(float64(r.Count()))

	return sup, nil
}

// Get returns the supervisor for id, or false if unknown.
func (r *Registry) Get(id string) (*supervisor.Supervisor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sup, ok := r.sessions[id]
	return sup, ok
}

// Remove drops a session from the registry. It is never required for
// correctness: stop on an already-stopped session is idempotent whether
// or not it has been removed here.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	count := len(r.sessions)
	r.mu.Unlock()

	metrics.SessionsActive.Set(float64(count))
}

// Count returns the number of sessions currently tracked.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns every tracked supervisor, used by the transport's shutdown
// cascade to stop every live session.
func (r *Registry) All() []*supervisor.Supervisor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*supervisor.Supervisor, 0, len(r.sessions))
	for _, sup := range r.sessions {
		out = append(out, sup)
	}
	return out
}
