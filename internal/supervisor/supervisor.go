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

// Package supervisor owns one running child per session: it drains both
// output streams concurrently into a bounded event queue, enforces
// wall-clock and idle timeouts, mediates input, and guarantees that every
// exit path releases the process and its pipes.
package supervisor

import (
	"io"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"sandbox-runner/internal/eventqueue"
	"sandbox-runner/internal/launcher"
	"sandbox-runner/internal/logutil"
	"sandbox-runner/internal/metrics"
)

const (
	watchInterval  = 200 * time.Millisecond
	readChunk      = 1024
	stopWaitWindow = 2 * time.Second
)

// State is a Session's position in its Starting -> Running -> Stopping ->
// Exited lifecycle.
type State int

const (
	Starting State = iota
	Running
	Stopping
	Exited
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// Config is the per-session resource policy: immutable for the session's
// lifetime.
type Config struct {
	OutputLimit    int
	SessionTimeout time.Duration // 0 = unlimited
	IdleTimeout    time.Duration // 0 = unlimited
}

// ReadResult is the shape returned by Read, matching the read_output tool
// output schema.
type ReadResult struct {
	Events      []eventqueue.Event `json:"events"`
	Alive       bool               `json:"alive"`
	StdoutBytes int                `json:"stdout_bytes"`
	StderrBytes int                `json:"stderr_bytes"`
}

// Supervisor owns one child process and its event queue.
type Supervisor struct {
	ID      string
	Command string

	cfg  Config
	proc *launcher.Process
	log  *logrus.Entry

	queue *eventqueue.Queue

	mu           sync.Mutex
	state        State
	stdoutBytes  int
	stderrBytes  int
	lastActivity time.Time
	hasDeadline  bool
	deadline     time.Time
	limitFired   bool

	waitDone      chan struct{}
	terminateOnce sync.Once
}

// Start launches a child via l and begins supervising it. The returned
// Supervisor is already in the Running state; there is no readiness
// probe.
func Start(id, command string, launchCfg launcher.Config, sessCfg Config, l launcher.Launcher) (*Supervisor, error) {
	proc, err := l.Launch(launchCfg, command)
	if err != nil {
		metrics.SessionsSpawnErrors.Inc()
		return nil, err
	}

	now := time.Now()
	s := &Supervisor{
		ID:           id,
		Command:      command,
		cfg:          sessCfg,
		proc:         proc,
		state:        Running,
		lastActivity: now,
		queue:        eventqueue.New(),
		waitDone:     make(chan struct{}),
		log:          logutil.GetLogger("supervisor").WithField("session_id", id),
	}

	if sessCfg.SessionTimeout > 0 {
		s.hasDeadline = true
		s.deadline = now.Add(sessCfg.SessionTimeout)
	}

	metrics.SessionsStarted.Inc()
	s.log.WithField("command", command).Debug("session started")

	go s.reap()
	go s.drain(proc.Stdout, eventqueue.Stdout, eventqueue.StdoutClosed, &s.stdoutBytes)
	go s.drain(proc.Stderr, eventqueue.Stderr, eventqueue.StderrClosed, &s.stderrBytes)
	go s.watch()

	return s, nil
}

// reap calls Wait exactly once, as Go requires, and closes waitDone so
// every other goroutine can observe child exit without blocking.
func (s *Supervisor) reap() {
	_ = s.proc.Cmd.Wait()
	close(s.waitDone)
}

// drain reads one stream in chunks, decoding permissively, publishing a
// chunk event per read and a closed event exactly once at EOF. If the
// combined byte count crosses the output limit, the chunk that crossed it
// is still delivered, then exactly one limit event is published and the
// child is force-killed.
func (s *Supervisor) drain(r io.Reader, kind, closedKind eventqueue.Type, counter *int) {
	buf := make([]byte, readChunk)

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			text := strings.ToValidUTF8(string(buf[:n]), "�")

			s.mu.Lock()
			*counter += n
			s.lastActivity = time.Now()
			total := s.stdoutBytes + s.stderrBytes
			fireLimit := s.cfg.OutputLimit > 0 && total > s.cfg.OutputLimit && !s.limitFired
			if fireLimit {
				s.limitFired = true
			}
			s.mu.Unlock()

			s.queue.Push(eventqueue.Event{Type: kind, Data: text})

			if fireLimit {
				s.queue.Push(eventqueue.Event{Type: eventqueue.Limit, Limit: s.cfg.OutputLimit})
				s.log.Warnf("output limit %d exceeded, killing session", s.cfg.OutputLimit)
				s.setStopping()
				s.requestTerminate(true)
			}
		}

		if readErr != nil {
			s.queue.Push(eventqueue.Event{Type: closedKind})
			return
		}
	}
}

// watch wakes roughly every 200ms and checks, in order: the wall-clock
// deadline, the idle deadline, then whether the child has already
// exited. The first condition met publishes the single terminal event
// this loop is responsible for, and the loop returns. A child killed for
// exceeding the output limit is recorded with the limit event drain
// already published; no exit event follows it.
func (s *Supervisor) watch() {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		hasDeadline := s.hasDeadline
		deadline := s.deadline
		idleTimeout := s.cfg.IdleTimeout
		lastActivity := s.lastActivity
		s.mu.Unlock()

		now := time.Now()

		if hasDeadline && !now.Before(deadline) {
			s.queue.Push(eventqueue.Event{Type: eventqueue.Timeout, Seconds: s.cfg.SessionTimeout.Seconds()})
			s.setStopping()
			s.requestTerminate(true)
			s.finish(eventqueue.Timeout)
			return
		}

		if idleTimeout > 0 && now.Sub(lastActivity) > idleTimeout {
			s.queue.Push(eventqueue.Event{Type: eventqueue.IdleTimeout, Seconds: idleTimeout.Seconds()})
			s.setStopping()
			s.requestTerminate(true)
			s.finish(eventqueue.IdleTimeout)
			return
		}

		select {
		case <-s.waitDone:
			s.mu.Lock()
			limited := s.limitFired
			s.mu.Unlock()
			if limited {
				// drain already published the limit event as this
				// session's terminal event.
				s.finish(eventqueue.Limit)
				return
			}
			code := s.exitCode()
			s.queue.Push(eventqueue.Event{Type: eventqueue.Exit, Code: code})
			s.finish(eventqueue.Exit)
			return
		default:
		}
	}
}

func (s *Supervisor) finish(reason eventqueue.Type) {
	s.mu.Lock()
	s.state = Exited
	stdoutBytes, stderrBytes := s.stdoutBytes, s.stderrBytes
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"event":        string(reason),
		"stdout_bytes": stdoutBytes,
		"stderr_bytes": stderrBytes,
	}).Info("session reached terminal event")

	metrics.SessionsTerminal.WithLabelValues(string(reason)).Inc()
}

func (s *Supervisor) setStopping() {
	s.mu.Lock()
	if s.state != Exited {
		s.state = Stopping
	}
	s.mu.Unlock()
}

func (s *Supervisor) exitCode() *int {
	state := s.proc.Cmd.ProcessState
	if state == nil {
		return nil
	}
	code := state.ExitCode()
	return &code
}

// requestTerminate sends the signal and waits for reap exactly once per
// session, regardless of how many callers (the limit-triggered drain, the
// watcher, or an explicit Stop) ask for it concurrently. Later callers
// simply wait for the first call to finish.
func (s *Supervisor) requestTerminate(kill bool) {
	s.terminateOnce.Do(func() {
		s.terminate(kill)
	})
}

// terminate signals the child, waits up to two seconds, escalates to the
// strongest signal if it hasn't exited, and returns after at most two
// more seconds regardless.
func (s *Supervisor) terminate(kill bool) {
	sig := syscall.SIGTERM
	if kill {
		sig = syscall.SIGKILL
	}

	if proc := s.proc.Cmd.Process; proc != nil {
		_ = proc.Signal(sig)
	}

	if s.waitFor(stopWaitWindow) {
		return
	}

	if proc := s.proc.Cmd.Process; proc != nil {
		_ = proc.Signal(syscall.SIGKILL)
	}
	s.waitFor(stopWaitWindow)
}

func (s *Supervisor) waitFor(d time.Duration) bool {
	select {
	case <-s.waitDone:
		return true
	case <-time.After(d):
		return false
	}
}

// Alive reports whether the child is still executing.
func (s *Supervisor) Alive() bool {
	select {
	case <-s.waitDone:
		return false
	default:
		return true
	}
}

// Send appends text to the child's stdin, adding a trailing newline iff
// text does not already end in one. It never blocks on the transport and
// always returns synchronously.
func (s *Supervisor) Send(text string) (ok bool, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Running {
		return false, "process not running"
	}
	if !s.Alive() {
		return false, "process already exited"
	}

	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	if _, err := io.WriteString(s.proc.Stdin, text); err != nil {
		return false, err.Error()
	}

	s.lastActivity = time.Now()
	return true, ""
}

// Read returns every event queued right now, waiting up to waitMS for the
// first one if the queue is empty. waitMS is assumed already clamped by
// the caller.
func (s *Supervisor) Read(waitMS int) ReadResult {
	events := s.queue.Drain(time.Duration(waitMS) * time.Millisecond)
	if events == nil {
		events = []eventqueue.Event{}
	}

	s.mu.Lock()
	stdoutBytes, stderrBytes := s.stdoutBytes, s.stderrBytes
	s.mu.Unlock()

	return ReadResult{
		Events:      events,
		Alive:       s.Alive(),
		StdoutBytes: stdoutBytes,
		StderrBytes: stderrBytes,
	}
}

// Stop requests termination. If kill is true it signals immediately with
// the strongest available signal; otherwise it starts with a polite
// terminate and escalates per terminate's own rules. It is idempotent: a
// session already Exited returns ok:true immediately.
func (s *Supervisor) Stop(kill bool) (ok bool, message string) {
	s.mu.Lock()
	if s.state == Exited {
		s.mu.Unlock()
		return true, "already stopped"
	}
	s.state = Stopping
	s.mu.Unlock()

	s.requestTerminate(kill)
	return true, "stopped"
}

// State returns the session's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
