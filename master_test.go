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
	"log"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// testWriter relays log output to t.Log, the same idea process_test.go's
// SetTestLogger applied to a *Manager, adapted to a *Master.
type testWriter struct {
	mu sync.Mutex
	t  *testing.T
}

func (w *testWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.t.Logf("%s", b)
	return len(b), nil
}

func setTestLogger(t *testing.T, m *Master) {
	m.mlog.AddLogger(log.New(&testWriter{t: t}, "", log.Lmicroseconds))
}

func newTestMaster(t *testing.T) (*Master, *fakeFleet) {
	m, err := NewMaster(Config{ConfigPaths: []string{"test.conf"}, IdleTimeout: 50 * time.Millisecond})
	So(err, ShouldBeNil)
	setTestLogger(t, m)
	fleet := newFakeFleet()
	m.spawn = fleet.spawn
	m.backoff = NewBackoffWithParams(20*time.Millisecond, 200*time.Millisecond, 150*time.Millisecond)
	return m, fleet
}

func waitUntil(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

func runInBackground(m *Master) <-chan error {
	done := make(chan error, 1)
	go func() { done <- m.Run(nil) }()
	return done
}

func kill(sig os.Signal) {
	syscall.Kill(os.Getpid(), sig.(syscall.Signal))
}

func TestCleanBoot(t *testing.T) {
	Convey("Scenario: clean boot and graceful TERM", t, func() {
		m, fleet := newTestMaster(t)
		done := runInBackground(m)

		var l1 *fakeListener
		So(waitUntil(func() bool {
			_, _, infos := m.Snapshot()
			if len(infos) == 1 {
				l1 = fleet.get(infos[0].Pid)
				return l1 != nil
			}
			return false
		}), ShouldBeTrue)
		So(l1.id, ShouldEqual, 1)

		fleet.line(m, l1.pid, "running\n")
		So(waitUntil(func() bool { return l1.State() == ready }), ShouldBeTrue)

		kill(syscall.SIGTERM)
		So(waitUntil(func() bool { return len(l1.signaled()) > 0 }), ShouldBeTrue)
		So(l1.signaled()[0], ShouldEqual, syscall.SIGTERM)

		fleet.exit(m, l1.pid, nil)
		select {
		case err := <-done:
			So(err, ShouldBeNil)
		case <-time.After(2 * time.Second):
			t.Fatal("master did not shut down")
		}

		_, _, infos := m.Snapshot()
		So(infos, ShouldBeEmpty)
	})
}

func TestWorkerLifecycle(t *testing.T) {
	Convey("Scenario: worker start/stop with a single listener", t, func() {
		m, fleet := newTestMaster(t)
		done := runInBackground(m)
		defer func() {
			kill(syscall.SIGTERM)
			<-done
		}()

		var l1 *fakeListener
		So(waitUntil(func() bool {
			_, _, infos := m.Snapshot()
			if len(infos) == 1 {
				l1 = fleet.get(infos[0].Pid)
				return true
			}
			return false
		}), ShouldBeTrue)
		fleet.line(m, l1.pid, "running\n")
		So(waitUntil(func() bool { return l1.State() == ready }), ShouldBeTrue)

		fleet.line(m, l1.pid, "worker 100 start\n")
		So(waitUntil(func() bool { return l1.HasWorker(100) }), ShouldBeTrue)

		fleet.line(m, l1.pid, "worker 100 stop\n")
		So(waitUntil(func() bool { return !l1.HasWorker(100) }), ShouldBeTrue)
	})
}

func TestGracefulRotation(t *testing.T) {
	Convey("Scenario: HUP rotates to a new listener once it is ready", t, func() {
		m, fleet := newTestMaster(t)
		done := runInBackground(m)
		defer func() {
			kill(syscall.SIGTERM)
			<-done
		}()

		var l1 *fakeListener
		So(waitUntil(func() bool {
			_, _, infos := m.Snapshot()
			if len(infos) == 1 {
				l1 = fleet.get(infos[0].Pid)
				return true
			}
			return false
		}), ShouldBeTrue)
		fleet.line(m, l1.pid, "running\n")
		So(waitUntil(func() bool { return l1.State() == ready }), ShouldBeTrue)
		fleet.line(m, l1.pid, "worker 100 start\n")
		So(waitUntil(func() bool { return l1.HasWorker(100) }), ShouldBeTrue)

		kill(syscall.SIGHUP)

		var l2 *fakeListener
		So(waitUntil(func() bool {
			_, _, infos := m.Snapshot()
			if len(infos) == 2 {
				for _, info := range infos {
					if info.Pid != l1.pid {
						l2 = fleet.get(info.Pid)
					}
				}
				return l2 != nil
			}
			return false
		}), ShouldBeTrue)
		So(l2.id, ShouldEqual, 2)

		// l1 must not have been told to quit yet: it is still last-good.
		So(l1.signaled(), ShouldBeEmpty)

		fleet.line(m, l2.pid, "running\n")
		So(waitUntil(func() bool { return len(l1.signaled()) > 0 }), ShouldBeTrue)
		So(l1.signaled()[0], ShouldEqual, syscall.SIGQUIT)

		fleet.exit(m, l1.pid, nil)
		So(waitUntil(func() bool {
			_, _, infos := m.Snapshot()
			return len(infos) == 1
		}), ShouldBeTrue)
	})
}

func TestDoubleHUP(t *testing.T) {
	Convey("Scenario: two HUPs in rapid succession leave exactly one survivor", t, func() {
		m, fleet := newTestMaster(t)
		done := runInBackground(m)
		defer func() {
			kill(syscall.SIGTERM)
			<-done
		}()

		var l1 *fakeListener
		So(waitUntil(func() bool {
			_, _, infos := m.Snapshot()
			if len(infos) == 1 {
				l1 = fleet.get(infos[0].Pid)
				return true
			}
			return false
		}), ShouldBeTrue)
		fleet.line(m, l1.pid, "running\n")
		So(waitUntil(func() bool { return l1.State() == ready }), ShouldBeTrue)

		kill(syscall.SIGHUP)
		var l2 *fakeListener
		So(waitUntil(func() bool {
			_, _, infos := m.Snapshot()
			if len(infos) == 2 {
				for _, info := range infos {
					if info.Pid != l1.pid {
						l2 = fleet.get(info.Pid)
					}
				}
				return l2 != nil
			}
			return false
		}), ShouldBeTrue)

		// Second HUP before l2 reports ready: l2 is killed (it was
		// booting), current cleared, last-good remains l1.
		kill(syscall.SIGHUP)
		So(waitUntil(func() bool { return len(l2.signaled()) > 0 }), ShouldBeTrue)
		So(l2.signaled()[0], ShouldEqual, syscall.SIGQUIT)
		fleet.exit(m, l2.pid, nil)

		var l3 *fakeListener
		So(waitUntil(func() bool {
			_, _, infos := m.Snapshot()
			if len(infos) == 2 {
				for _, info := range infos {
					if info.Pid != l1.pid && info.Pid != l2.pid {
						l3 = fleet.get(info.Pid)
					}
				}
				return l3 != nil
			}
			return false
		}), ShouldBeTrue)
		So(l3.id, ShouldEqual, 3)

		fleet.line(m, l3.pid, "running\n")
		So(waitUntil(func() bool { return len(l1.signaled()) > 0 }), ShouldBeTrue)
		fleet.exit(m, l1.pid, nil)

		So(waitUntil(func() bool {
			_, _, infos := m.Snapshot()
			return len(infos) == 1
		}), ShouldBeTrue)
	})
}

func TestPauseResume(t *testing.T) {
	Convey("Scenario: USR2 pauses, CONT spawns a fresh listener", t, func() {
		m, fleet := newTestMaster(t)
		done := runInBackground(m)
		defer func() {
			kill(syscall.SIGTERM)
			<-done
		}()

		var l1 *fakeListener
		So(waitUntil(func() bool {
			_, _, infos := m.Snapshot()
			if len(infos) == 1 {
				l1 = fleet.get(infos[0].Pid)
				return true
			}
			return false
		}), ShouldBeTrue)

		kill(syscall.SIGUSR2)
		So(waitUntil(func() bool { return len(l1.signaled()) > 0 }), ShouldBeTrue)
		So(l1.signaled()[0], ShouldEqual, syscall.SIGQUIT)
		_, paused, _ := m.Snapshot()
		So(paused, ShouldBeTrue)

		fleet.exit(m, l1.pid, nil)
		// No replacement while paused.
		time.Sleep(60 * time.Millisecond)
		_, _, infos := m.Snapshot()
		So(infos, ShouldBeEmpty)

		kill(syscall.SIGCONT)
		var l2 *fakeListener
		So(waitUntil(func() bool {
			_, _, infos := m.Snapshot()
			if len(infos) == 1 {
				l2 = fleet.get(infos[0].Pid)
				return true
			}
			return false
		}), ShouldBeTrue)
		So(l2.id, ShouldEqual, l1.id+1)
	})
}

func TestCrashBackoff(t *testing.T) {
	Convey("Scenario: a listener that keeps crashing is respawned after each crash", t, func() {
		m, fleet := newTestMaster(t)
		done := runInBackground(m)
		defer func() {
			kill(syscall.SIGTERM)
			<-done
		}()

		var last *fakeListener
		for i := 0; i < 3; i++ {
			So(waitUntil(func() bool {
				_, _, infos := m.Snapshot()
				for _, info := range infos {
					if last == nil || info.Pid != last.pid {
						last = fleet.get(info.Pid)
						return true
					}
				}
				return false
			}), ShouldBeTrue)
			fleet.exit(m, last.pid, errors.New("boom"))
		}
	})
}

func TestForkFailureAdvancesBackoffAndLeavesNoneCurrent(t *testing.T) {
	Convey("A fork failure is logged, bumps backoff, and current stays none", t, func() {
		m, fleet := newTestMaster(t)
		fleet.failNext = true
		m.backoff = NewBackoffWithParams(300*time.Millisecond, time.Second, time.Minute)
		done := runInBackground(m)
		defer func() {
			kill(syscall.SIGTERM)
			<-done
		}()

		time.Sleep(30 * time.Millisecond)
		_, _, infos := m.Snapshot()
		So(infos, ShouldBeEmpty)

		So(waitUntil(func() bool {
			_, _, infos := m.Snapshot()
			return len(infos) == 1
		}), ShouldBeTrue)
	})
}

func TestUnknownWorkerStopIsDroppedNotFatal(t *testing.T) {
	Convey("A worker stop for a pid nobody knows about is logged and dropped", t, func() {
		m, fleet := newTestMaster(t)
		done := runInBackground(m)
		defer func() {
			kill(syscall.SIGTERM)
			<-done
		}()

		var l1 *fakeListener
		So(waitUntil(func() bool {
			_, _, infos := m.Snapshot()
			if len(infos) == 1 {
				l1 = fleet.get(infos[0].Pid)
				return true
			}
			return false
		}), ShouldBeTrue)

		fleet.line(m, l1.pid, "worker 9999 stop\n")
		// Must not crash the loop or the listener; a further running
		// event still works fine afterward.
		fleet.line(m, l1.pid, "running\n")
		So(waitUntil(func() bool { return l1.State() == ready }), ShouldBeTrue)
	})
}
