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
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/dierickx/yardmaster/ipc"
)

// Master is the supervisor described by spec.md §3/§4: a single-threaded
// cooperative loop (one control goroutine; see spawn.go for the
// per-listener goroutines that feed it events) that keeps one listener
// current, rotates it on HUP, and propagates operator signals.
//
// Go's os/signal already performs the self-pipe trick internally, so the
// "async-signal-safe handler + wakeup pipe" constraint of spec.md §4.2 is
// satisfied by construction: the channel select below is the multi-way
// wait spec.md describes, translated from poll(2) on file descriptors to
// select on channels.
type Master struct {
	cfg Config

	log    *Log
	mlog   *MultiLogger
	logger *log.Logger

	statusWriter     io.Writer
	statusWriteError bool

	spawn spawnFunc

	current  listenerHandle
	lastGood listenerHandle
	byPid    map[int]listenerHandle
	created  int64
	paused   bool

	backoff    *Backoff
	census     *censusCounts
	quitSentAt map[int]time.Time

	serial int64
	cvs    map[*sync.Cond]bool
	mu     sync.Mutex

	events chan event
	sigCh  chan os.Signal
}

// NewMaster allocates a Master ready to Run. cfg.ConfigPaths must be
// non-empty.
func NewMaster(cfg Config) (*Master, error) {
	if len(cfg.ConfigPaths) == 0 {
		return nil, ErrNoConfigPaths
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	m := &Master{
		cfg:        cfg,
		log:        NewLog(),
		mlog:       NewMultiLogger(),
		byPid:      make(map[int]listenerHandle),
		backoff:    NewBackoff(),
		quitSentAt: make(map[int]time.Time),
		cvs:        make(map[*sync.Cond]bool),
		events:     make(chan event, 64),
		spawn:      spawnListener,
	}
	m.mlog.AddLogger(log.New(m.log, "", 0))
	m.logger = m.mlog.Logger()
	return m, nil
}

// SetStatusWriter installs the optional outward status pipe of spec.md
// §6. Writes are best-effort: a failure is logged once, then silently
// dropped (spec.md §7).
func (m *Master) SetStatusWriter(w io.Writer) {
	m.statusWriter = w
}

// Logger returns the logger every subsystem should write through.
func (m *Master) Logger() *log.Logger {
	return m.logger
}

// AddLogger registers an additional destination for every line the master
// logs, e.g. a rotating file logger, alongside the in-memory ring buffer
// that is always present.
func (m *Master) AddLogger(l *log.Logger) {
	m.mlog.AddLogger(l)
}

// Log returns the in-memory ring-buffered log, for the status API and
// the monitor TUI.
func (m *Master) Log() *Log {
	return m.log
}

func (m *Master) emitStatus(kind ipc.StatusKind, pid int, state ipc.StatusState) {
	m.logger.Printf("%s,%d,%s", kind, pid, state)
	if m.statusWriter == nil || m.statusWriteError {
		return
	}
	if _, err := io.WriteString(m.statusWriter, ipc.FormatStatus(kind, pid, state)); err != nil {
		m.logger.Printf("status pipe write failed, disabling: %v", err)
		m.statusWriteError = true
	}
}

// bumpSerial increments the watch serial and wakes any Watch callers,
// the same sync.Cond fan-out manager.go used for WatchSerial/
// WatchServices, generalized here to a single serial covering every
// observable piece of master state.
func (m *Master) bumpSerial() {
	m.serial++
	for cv := range m.cvs {
		cv.Broadcast()
	}
}

// Watch blocks until the serial has changed from old, or expire elapses
// (0 polls once). It powers the status API's long-poll endpoint.
func (m *Master) Watch(old int64, expire time.Duration) int64 {
	expired := expire <= 0
	var timer *time.Timer
	cv := sync.NewCond(&m.mu)
	if !expired {
		timer = time.AfterFunc(expire, func() {
			m.mu.Lock()
			expired = true
			cv.Broadcast()
			m.mu.Unlock()
		})
	}
	m.mu.Lock()
	m.cvs[cv] = true
	for m.serial == old && !expired {
		cv.Wait()
	}
	rv := m.serial
	delete(m.cvs, cv)
	m.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// ListenerInfo is a read-only snapshot of one listener proxy, for the
// status API and the monitor TUI.
type ListenerInfo struct {
	Pid     int
	ID      int64
	State   string
	Current bool
	Running bool // "last good", retained during a rotation
	Workers []int
}

// Snapshot returns the master's current serial and a stable, sorted view
// of every listener it still holds (i.e. not yet reaped). Safe to call
// concurrently with Run.
func (m *Master) Snapshot() (serial int64, paused bool, listeners []ListenerInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	serial = m.serial
	paused = m.paused
	for pid, l := range m.byPid {
		listeners = append(listeners, ListenerInfo{
			Pid:     pid,
			ID:      l.ID(),
			State:   l.State().String(),
			Current: m.current != nil && m.current.Pid() == pid,
			Running: m.lastGood != nil && m.lastGood.Pid() == pid,
			Workers: l.Workers(),
		})
	}
	sort.Slice(listeners, func(i, j int) bool { return listeners[i].ID < listeners[j].ID })
	return
}

// Run is the master's entry point (spec.md §4.3). If readyPipe is
// non-nil, the master's pid is written to it and it is closed, which is
// how a daemonizing wrapper learns the master is up.
func (m *Master) Run(readyPipe io.WriteCloser) error {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("$EXIT: unexpected panic: %v", r)
			panic(r)
		}
	}()

	if readyPipe != nil {
		fmt.Fprintf(readyPipe, "%d", os.Getpid())
		readyPipe.Close()
	}

	sigs := []os.Signal{
		syscall.SIGHUP, syscall.SIGUSR2, syscall.SIGCONT,
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	}
	if infoSignal != nil {
		sigs = append(sigs, infoSignal)
	}
	sigCh := make(chan os.Signal, 64)
	signal.Notify(sigCh, sigs...)
	defer signal.Stop(sigCh)
	m.sigCh = sigCh

	m.setTitle()

	for {
		if m.drainReady() {
			return nil
		}

		m.mu.Lock()
		curNil, paused := m.current == nil, m.paused
		m.mu.Unlock()
		if curNil && !paused {
			if _, pending := m.backoff.HowLong(); !pending {
				m.startListener()
			}
		}

		var backoffC <-chan time.Time
		if d, pending := m.backoff.HowLong(); pending {
			backoffC = time.After(d)
		}

		select {
		case sig := <-sigCh:
			if m.handleSignal(sig) {
				return nil
			}
		case ev := <-m.events:
			m.dispatch(ev)
		case <-backoffC:
		case <-time.After(m.cfg.IdleTimeout):
		}
	}
}

// drainReady processes every signal and event already queued, without
// blocking, before the loop re-evaluates whether to start a listener.
// This is the channel-select translation of spec.md §4.3 steps 1-2
// (drain pipes, reap non-blockingly): everything that is "already
// readable" is handled in one sweep instead of once-per-fd.
func (m *Master) drainReady() (terminal bool) {
	for {
		select {
		case sig := <-m.sigCh:
			if m.handleSignal(sig) {
				return true
			}
		case ev := <-m.events:
			m.dispatch(ev)
		default:
			return false
		}
	}
}

func (m *Master) handleSignal(sig os.Signal) (terminal bool) {
	switch sig {
	case syscall.SIGHUP:
		m.rotate()
	case syscall.SIGUSR2:
		m.pause()
	case syscall.SIGCONT:
		m.resume()
	case syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
		m.shutdown(sig)
		return true
	default:
		if infoSignal != nil && sig == infoSignal {
			c := runCensus(m.logger, m.census)
			m.census = &c
		}
		return false
	}
	m.mu.Lock()
	m.bumpSerial()
	m.mu.Unlock()
	return false
}

// quitting sends QUIT to l, marks it dying, and stamps the time so a
// later reap can tell whether it quiesced within cfg.StopGrace. Callers
// must hold m.mu.
func (m *Master) quitting(l listenerHandle) {
	l.Kill(syscall.SIGQUIT)
	l.setState(dying)
	m.quitSentAt[l.Pid()] = time.Now()
}

// rotate implements the HUP row of the spec.md §4.4 state table.
func (m *Master) rotate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastGood == nil {
		m.lastGood = m.current
		m.current = nil
	} else {
		if m.current != nil {
			m.quitting(m.current)
		}
		m.current = nil
	}
}

// pause implements USR2.
func (m *Master) pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	if m.current != nil {
		m.quitting(m.current)
		m.current = nil
	}
}

// resume implements CONT: leave paused state and forward CONT to every
// listener still alive. It does not itself spawn a replacement; the next
// iteration's "start a listener" step does that once current is none.
func (m *Master) resume() {
	m.mu.Lock()
	m.paused = false
	listeners := make([]listenerHandle, 0, len(m.byPid))
	for _, l := range m.byPid {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()
	for _, l := range listeners {
		l.Kill(syscall.SIGCONT)
	}
}

// shutdown implements INT/TERM/QUIT: forward sig to every listener, then
// block until all have exited (spec.md §4.3 step 5).
func (m *Master) shutdown(sig os.Signal) {
	m.mu.Lock()
	listeners := make([]listenerHandle, 0, len(m.byPid))
	for _, l := range m.byPid {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()
	for _, l := range listeners {
		l.Kill(sig)
	}
	m.waitForWorkers()
}

// waitForWorkers is the one unbounded blocking wait spec.md permits: a
// reap loop with no WNOHANG equivalent, run only during terminal
// shutdown.
func (m *Master) waitForWorkers() {
	for {
		m.mu.Lock()
		empty := len(m.byPid) == 0
		m.mu.Unlock()
		if empty {
			return
		}
		ev := <-m.events
		m.dispatch(ev)
	}
}

func (m *Master) dispatch(ev event) {
	switch ev.kind {
	case evIPCLine:
		m.dispatchIPC(ev.pid, ev.line)
	case evIPCEOF:
		// Nothing to do yet: the proxy becomes reapable once its exit
		// is observed (the evExit below), matching spec.md §4.6's rule
		// that EOF alone does not close the pipe or remove the proxy.
	case evExit:
		m.dispatchExit(ev.pid, ev.err)
	}
}

func (m *Master) dispatchIPC(pid int, line string) {
	evt, err := ipc.Parse(line)
	if err != nil {
		m.logger.Printf("malformed ipc line from pid %d: %v", pid, err)
		return
	}
	m.mu.Lock()
	l := m.byPid[pid]
	m.mu.Unlock()
	if l == nil {
		m.logger.Printf("ipc line from unknown pid %d: %q", pid, line)
		return
	}

	switch evt.Kind {
	case ipc.Running:
		m.handleReady(l)
	case ipc.WorkerStart:
		l.WorkerStarted(evt.Pid)
		m.emitStatus(ipc.StatusWorker, evt.Pid, ipc.StateStart)
		m.mu.Lock()
		m.bumpSerial()
		m.mu.Unlock()
	case ipc.WorkerStop:
		m.mu.Lock()
		found := false
		for _, other := range m.byPid {
			if other.WorkerFinished(evt.Pid) {
				found = true
			}
		}
		m.bumpSerial()
		m.mu.Unlock()
		if !found {
			m.logger.Printf("worker stop for unknown pid %d dropped", evt.Pid)
		}
		m.emitStatus(ipc.StatusWorker, evt.Pid, ipc.StateStop)
	}
}

// handleReady implements the "current reports ready" and the stale-ready
// rows of spec.md §4.4's table: the race where a listener we already
// retired later announces readiness is covered by re-signalling QUIT
// rather than adopting it (spec.md §9's preserved-timing decision).
func (m *Master) handleReady(l listenerHandle) {
	m.mu.Lock()
	isCurrent := m.current != nil && m.current.Pid() == l.Pid()
	m.mu.Unlock()

	if !isCurrent {
		m.mu.Lock()
		m.quitting(l)
		m.mu.Unlock()
		return
	}

	l.setState(ready)
	m.emitStatus(ipc.StatusListener, l.Pid(), ipc.StateReady)

	m.mu.Lock()
	last := m.lastGood
	m.lastGood = nil
	if last != nil {
		m.quitting(last)
	}
	m.bumpSerial()
	m.mu.Unlock()
}

func (m *Master) dispatchExit(pid int, err error) {
	m.mu.Lock()
	l := m.byPid[pid]
	if l == nil {
		m.mu.Unlock()
		return
	}
	delete(m.byPid, pid)
	wasCurrent := m.current != nil && m.current.Pid() == pid
	if wasCurrent {
		m.current = nil
	}
	if m.lastGood != nil && m.lastGood.Pid() == pid {
		m.lastGood = nil
	}
	var quitElapsed time.Duration
	var sentQuit bool
	if sentAt, ok := m.quitSentAt[pid]; ok {
		quitElapsed = time.Since(sentAt)
		sentQuit = true
		delete(m.quitSentAt, pid)
	}
	m.bumpSerial()
	m.mu.Unlock()

	m.emitStatus(ipc.StatusListener, pid, ipc.StateStop)
	if err != nil {
		m.logger.Printf("listener %d exited: %v", pid, err)
	}
	if sentQuit && m.cfg.StopGrace > 0 && quitElapsed > m.cfg.StopGrace {
		m.logger.Printf("listener %d took %s to exit after QUIT, exceeding the %s stop grace", pid, quitElapsed, m.cfg.StopGrace)
	}
	if cerr := l.Dispose(); cerr != nil {
		m.logger.Printf("listener %d dispose: %v", pid, cerr)
	}
	// Backoff is bumped only when the listener that died was current,
	// per spec.md §4.4's state table; a dying last-good or a stale
	// listener exiting cleanly during rotation is not a crash.
	if wasCurrent {
		m.backoff.Died()
	}
}

// oldWorkersRoster collects the union of worker pids announced by every
// listener still in byPid, handed to a newly spawned listener so it can
// adopt them instead of respawning them (spec.md §4.4).
func (m *Master) oldWorkersRoster() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int]bool)
	for _, l := range m.byPid {
		for _, pid := range l.Workers() {
			seen[pid] = true
		}
	}
	out := make([]int, 0, len(seen))
	for pid := range seen {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}

// startListener implements spec.md §4.5.
func (m *Master) startListener() {
	m.mu.Lock()
	m.created++
	id := m.created
	m.mu.Unlock()

	roster := m.oldWorkersRoster()
	l, err := m.spawn(m, id, roster)
	if err != nil {
		m.logger.Printf("fork listener failed: %v", err)
		m.backoff.Died()
		return
	}

	m.mu.Lock()
	m.byPid[l.Pid()] = l
	m.current = l
	m.bumpSerial()
	m.mu.Unlock()

	m.backoff.Started()
	m.emitStatus(ipc.StatusListener, l.Pid(), ipc.StateStart)
	m.setTitle()
}

func (m *Master) setTitle() {
	m.mu.Lock()
	id := m.created
	paused := m.paused
	m.mu.Unlock()
	state := "running"
	if paused {
		state = "paused"
	}
	setProcTitle("yardmasterd: %s, listener #%d", state, id)
}
