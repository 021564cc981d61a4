// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package yardmaster

import (
	"sync"
	"time"
)

const (
	// BackoffBase is the wait applied after the first crash following a
	// healthy run.
	BackoffBase = time.Second
	// BackoffCap bounds how long Backoff will ever ask the loop to wait.
	BackoffCap = time.Second * 64
	// BackoffFlapWindow is how recently a listener must have started for
	// its death to count as "too quick" and double the wait.
	BackoffFlapWindow = time.Second * 60
)

// Backoff throttles listener restarts after crashes.  It is the
// systems-rewrite of the rate-limit cooldown that service.go's
// tooQuickly implemented as a fixed starts-per-period counter; Backoff
// instead tracks a single wait duration that doubles on rapid reflapping
// and resets after a stable run, which is the shape spec.md §4.1 asks
// for rather than a fixed N-per-period threshold.
type Backoff struct {
	base   time.Duration
	cap    time.Duration
	window time.Duration

	mu        sync.Mutex
	wait      time.Duration
	startedAt time.Time
	deadline  time.Time
	started   bool
}

// NewBackoff returns a Backoff using the package's default base/cap/flap
// window, which permits an immediate start.
func NewBackoff() *Backoff {
	return NewBackoffWithParams(BackoffBase, BackoffCap, BackoffFlapWindow)
}

// NewBackoffWithParams is NewBackoff with explicit tuning, mainly so
// tests can exercise the doubling/decay shape without waiting on
// real-world minute-scale windows.
func NewBackoffWithParams(base, cap, window time.Duration) *Backoff {
	return &Backoff{base: base, cap: cap, window: window}
}

// Started records that a listener was just spawned.  It clears any
// pending deadline, since the new listener is presumed healthy until it
// dies; the last wait duration is kept so a quick death can double it.
func (b *Backoff) Started() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startedAt = time.Now()
	b.started = true
	b.deadline = time.Time{}
}

// Died records that the current listener exited unexpectedly.  If the
// prior Started happened within BackoffFlapWindow, the wait doubles
// (capped at BackoffCap); otherwise it resets to BackoffBase.
func (b *Backoff) Died() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started && time.Since(b.startedAt) < b.window {
		if b.wait == 0 {
			b.wait = b.base
		} else {
			b.wait *= 2
			if b.wait > b.cap {
				b.wait = b.cap
			}
		}
	} else {
		b.wait = b.base
	}
	b.started = false
	b.deadline = time.Now().Add(b.wait)
}

// HowLong returns the remaining wait before a restart is permitted, and
// true if a wait is still pending. Once the deadline has passed it
// reports no pending wait, the same as if Died had never been called,
// so the main loop is free to start a listener immediately.
func (b *Backoff) HowLong() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deadline.IsZero() {
		return 0, false
	}
	remain := time.Until(b.deadline)
	if remain <= 0 {
		return 0, false
	}
	return remain, true
}
