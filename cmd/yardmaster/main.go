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

// Command yardmaster is a client of yardmasterd's status API. It uses
// subcommands, grounded on the teacher's govisor/main.go, pared down to
// the read-only verbs yardmasterd actually exposes (no enable/disable/
// restart: this supervisor's only operator interface is Unix signals
// sent directly to the master, per spec.md §4.2).
//
// Subcommands are
//
//	info                - show the master's serial and paused state
//	listeners           - list every listener proxy and its workers
//	log [<id>]          - print every buffered log line (none if id is
//	                      the log's current id)
//	monitor             - a live terminal view (see package monitor)
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/dierickx/yardmaster/monitor"
	"github.com/dierickx/yardmaster/statusapi"
)

var addr = "http://127.0.0.1:8321"
var auth = ""

func usage() {
	log.Fatalf("usage: %s [-a <address>] [-u <user:pass>] <info|listeners|log|monitor>", os.Args[0])
}

func main() {
	flag.StringVar(&addr, "a", addr, "yardmasterd status API address")
	flag.StringVar(&auth, "u", auth, "user:pass authentication")
	flag.Parse()

	client := statusapi.NewClient(addr)
	if auth != "" {
		parts := strings.SplitN(auth, ":", 2)
		if len(parts) != 2 {
			log.Fatalf("bad user:pass supplied")
		}
		client.SetAuth(parts[0], parts[1])
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	switch args[0] {
	case "info":
		info, err := client.Info()
		if err != nil {
			log.Fatalf("failed: %v", err)
		}
		fmt.Printf("serial:  %d\n", info.Serial)
		fmt.Printf("paused:  %v\n", info.Paused)

	case "listeners":
		listeners, err := client.Listeners()
		if err != nil {
			log.Fatalf("failed: %v", err)
		}
		for _, l := range listeners {
			role := ""
			if l.Current {
				role = "current"
			} else if l.Running {
				role = "last-good"
			}
			fmt.Printf("%-6d id=%-4d %-9s %-9s workers=%v\n", l.Pid, l.ID, l.State, role, l.Workers)
		}

	case "log":
		var since int64
		if len(args) > 1 {
			n, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				log.Fatalf("bad log id %q: %v", args[1], err)
			}
			since = n
		}
		recs, err := client.Log(since)
		if err != nil {
			log.Fatalf("failed: %v", err)
		}
		for _, r := range recs {
			fmt.Printf("%d %s %s\n", r.Id, r.Time.Format("15:04:05.000"), r.Text)
		}

	case "monitor":
		if err := monitor.Run(client, addr); err != nil {
			log.Fatalf("monitor: %v", err)
		}

	default:
		usage()
	}
}
