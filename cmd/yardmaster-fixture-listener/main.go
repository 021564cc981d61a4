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

// Command yardmaster-fixture-listener is a minimal, listener-contract
// compliant stand-in for a real listener, used only by the package
// yardmaster integration test to exercise the real fork/exec and
// status-pipe path (spec.md §8's OS-level test) without depending on
// whatever queueing system a real listener would drain.
//
// It accepts the same flags spawnListener (spawn.go) invokes a listener
// with: a list of config paths, -listener-id, -status-fd and
// -old-workers. It reports "running" on the status fd, adopts the old
// workers it was handed, fakes forking two fresh workers a moment
// later, and on SIGQUIT reports every worker it still holds as stopped
// before exiting 0.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dierickx/yardmaster/ipc"
)

func main() {
	listenerID := flag.Int64("listener-id", 0, "")
	statusFD := flag.Int("status-fd", 3, "")
	oldWorkers := flag.String("old-workers", "", "")
	flag.Parse()

	status := os.NewFile(uintptr(*statusFD), "status")
	if status == nil {
		fmt.Fprintln(os.Stderr, "fixture-listener: no status fd")
		os.Exit(1)
	}

	var mu sync.Mutex
	workers := map[int]bool{}

	emit := func(e ipc.Event) {
		status.WriteString(ipc.Format(e))
	}

	if *oldWorkers != "" {
		for _, f := range strings.Split(*oldWorkers, ",") {
			if f == "" {
				continue
			}
			pid, err := strconv.Atoi(f)
			if err == nil {
				mu.Lock()
				workers[pid] = true
				mu.Unlock()
			}
		}
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGQUIT, syscall.SIGCONT)

	emit(ipc.Event{Kind: ipc.Running})

	go func() {
		time.Sleep(20 * time.Millisecond)
		base := int(*listenerID)*1000 + os.Getpid()%1000
		for i := 0; i < 2; i++ {
			pid := base + i
			mu.Lock()
			workers[pid] = true
			mu.Unlock()
			emit(ipc.Event{Kind: ipc.WorkerStart, Pid: pid})
		}
	}()

	for sig := range sigCh {
		if sig == syscall.SIGQUIT {
			mu.Lock()
			for pid := range workers {
				emit(ipc.Event{Kind: ipc.WorkerStop, Pid: pid})
			}
			mu.Unlock()
			status.Close()
			os.Exit(0)
		}
		// SIGCONT: nothing to do, fixture never pauses on its own.
	}
}
