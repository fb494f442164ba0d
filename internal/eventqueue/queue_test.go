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

package eventqueue

import (
	"testing"
	"time"
)

func TestDrainReturnsQueuedEventsImmediately(t *testing.T) {
	q := New()
	q.Push(Event{Type: Stdout, Data: "hello"})
	q.Push(Event{Type: Stderr, Data: "oops"})

	got := q.Drain(0)
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != Stdout || got[1].Type != Stderr {
		t.Fatalf("unexpected event order: %+v", got)
	}
}

func TestDrainEmptyNonBlockingReturnsNil(t *testing.T) {
	q := New()
	if got := q.Drain(0); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestDrainWaitsForFirstEvent(t *testing.T) {
	q := New()

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(Event{Type: Exit})
	}()

	start := time.Now()
	got := q.Drain(500 * time.Millisecond)
	elapsed := time.Since(start)

	if len(got) != 1 || got[0].Type != Exit {
		t.Fatalf("expected a single exit event, got %+v", got)
	}
	if elapsed >= 500*time.Millisecond {
		t.Fatalf("Drain should have returned as soon as the event arrived, took %v", elapsed)
	}
}

func TestDrainTimesOutWithNoEvents(t *testing.T) {
	q := New()

	start := time.Now()
	got := q.Drain(30 * time.Millisecond)
	elapsed := time.Since(start)

	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
	if elapsed < 30*time.Millisecond {
		t.Fatalf("Drain returned before its wait elapsed: %v", elapsed)
	}
}

func TestDrainAfterWaitCollectsEverythingQueuedSoFar(t *testing.T) {
	q := New()
	bothPushed := make(chan struct{})

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(Event{Type: Stdout, Data: "a"})
		q.Push(Event{Type: Stdout, Data: "b"})
		close(bothPushed)
	}()

	<-bothPushed
	got := q.Drain(500 * time.Millisecond)
	if len(got) != 2 {
		t.Fatalf("expected 2 events collected after the wake, got %d", len(got))
	}
}
