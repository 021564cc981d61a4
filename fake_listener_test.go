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
	"errors"
	"os"
	"sort"
	"sync"
)

// fakeListener is the in-memory listenerHandle spec.md §8 asks tests to
// exercise the master's state machine against, instead of forking real
// processes. It never touches the OS.
type fakeListener struct {
	pid int
	id  int64

	mu      sync.Mutex
	state   listenerState
	workers map[int]bool
	signals []os.Signal
}

func (f *fakeListener) Pid() int  { return f.pid }
func (f *fakeListener) ID() int64 { return f.id }

func (f *fakeListener) Kill(sig os.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return nil
}

func (f *fakeListener) Dispose() error { return nil }

func (f *fakeListener) WorkerStarted(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workers[pid] = true
}

func (f *fakeListener) WorkerFinished(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	had := f.workers[pid]
	delete(f.workers, pid)
	return had
}

func (f *fakeListener) HasWorker(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workers[pid]
}

func (f *fakeListener) Workers() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.workers))
	for pid := range f.workers {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}

func (f *fakeListener) State() listenerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeListener) setState(s listenerState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeListener) signaled() []os.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]os.Signal{}, f.signals...)
}

// fakeFleet is the test harness around fakeListener: it supplies a
// spawnFunc to a Master and lets the test simulate the listener side of
// the IPC contract (ipc lines, exits) by pushing directly onto the
// Master's event channel.
type fakeFleet struct {
	mu       sync.Mutex
	nextPid  int
	byPid    map[int]*fakeListener
	failNext bool
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{nextPid: 10001, byPid: make(map[int]*fakeListener)}
}

func (f *fakeFleet) spawn(m *Master, id int64, oldWorkers []int) (listenerHandle, error) {
	f.mu.Lock()
	if f.failNext {
		f.failNext = false
		f.mu.Unlock()
		return nil, errors.New("fake fork failure")
	}
	pid := f.nextPid
	f.nextPid++
	l := &fakeListener{pid: pid, id: id, state: booting, workers: make(map[int]bool)}
	f.byPid[pid] = l
	f.mu.Unlock()
	return l, nil
}

func (f *fakeFleet) get(pid int) *fakeListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byPid[pid]
}

func (f *fakeFleet) line(m *Master, pid int, line string) {
	m.events <- event{kind: evIPCLine, pid: pid, line: line}
}

func (f *fakeFleet) exit(m *Master, pid int, err error) {
	m.events <- event{kind: evExit, pid: pid, err: err}
}
