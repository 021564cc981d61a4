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

// Package monitor is a live terminal view of the master's listener/worker
// tree and a tail of its ring-buffered log, polling the status API's
// watch endpoint (spec.md §4.9, supplemental).
//
// It is grounded on the teacher's govisor/mpanel.go and govisor/ui.go,
// but deliberately does not reuse their multi-panel tcell v1 + topsl
// widget stack: the pack's own UI snapshots mix inconsistent tcell
// v1/v2 and topsl/views APIs (not a single coherent framework to
// imitate faithfully, see DESIGN.md), and a process tree has no need
// for the dependency-graph navigation those panels exist to support.
// This renders directly against tcell/v2's Screen instead.
package monitor

import (
	"fmt"
	"sort"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/dierickx/yardmaster/statusapi"
)

// Run draws a single-screen view of server's listeners and recent log
// lines until the user presses q, Ctrl-C, or Escape.
func Run(client *statusapi.Client, server string) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()

	events := make(chan tcell.Event, 8)
	go screen.ChannelEvents(events, nil)

	refresh := make(chan struct{}, 1)
	go pollWatch(client, refresh)

	draw(screen, client, server)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				switch ev.Key() {
				case tcell.KeyEscape, tcell.KeyCtrlC:
					return nil
				case tcell.KeyRune:
					if ev.Rune() == 'q' || ev.Rune() == 'Q' {
						return nil
					}
				}
			case *tcell.EventResize:
				screen.Sync()
			}
			draw(screen, client, server)
		case <-refresh:
			draw(screen, client, server)
		case <-ticker.C:
			draw(screen, client, server)
		}
	}
}

// pollWatch long-polls the status API's watch endpoint and nudges refresh
// whenever the master's serial advances, mirroring manager.go's
// WatchSerial loop on the client side instead of the server side.
func pollWatch(client *statusapi.Client, refresh chan<- struct{}) {
	var serial int64
	for {
		s, err := client.Watch(serial)
		if err != nil {
			time.Sleep(time.Second)
			continue
		}
		serial = s
		select {
		case refresh <- struct{}{}:
		default:
		}
	}
}

var stateStyle = map[string]tcell.Style{
	"ready":   tcell.StyleDefault.Foreground(tcell.ColorGreen),
	"booting": tcell.StyleDefault.Foreground(tcell.ColorYellow),
	"dying":   tcell.StyleDefault.Foreground(tcell.ColorRed),
}

func draw(screen tcell.Screen, client *statusapi.Client, server string) {
	screen.Clear()
	w, h := screen.Size()

	title := fmt.Sprintf("yardmaster monitor - %s", server)
	putLine(screen, 0, 0, w, title, tcell.StyleDefault.Bold(true))

	info, err := client.Info()
	if err != nil {
		putLine(screen, 0, 2, w, fmt.Sprintf("error: %v", err), tcell.StyleDefault.Foreground(tcell.ColorRed))
		screen.Show()
		return
	}
	status := "running"
	if info.Paused {
		status = "paused"
	}
	putLine(screen, 0, 1, w, fmt.Sprintf("serial=%d status=%s", info.Serial, status), tcell.StyleDefault)

	listeners, _ := client.Listeners()
	sort.Slice(listeners, func(i, j int) bool { return listeners[i].ID < listeners[j].ID })

	row := 3
	putLine(screen, 0, row, w, "  ID    PID  STATE     ROLE        WORKERS", tcell.StyleDefault.Bold(true))
	row++
	for _, l := range listeners {
		if row >= h-2 {
			break
		}
		role := ""
		if l.Current {
			role = "current"
		} else if l.Running {
			role = "last-good"
		}
		line := fmt.Sprintf("  %-5d %-6d %-9s %-11s %v", l.ID, l.Pid, l.State, role, l.Workers)
		putLine(screen, 0, row, w, line, stateStyle[l.State])
		row++
	}

	// Fill the rows left above the footer with the newest log lines.
	row++
	if recs, err := client.Log(0); err == nil {
		n := h - 2 - row
		if n > len(recs) {
			n = len(recs)
		}
		if n > 0 {
			for _, r := range recs[len(recs)-n:] {
				putLine(screen, 0, row, w, r.Text, tcell.StyleDefault)
				row++
			}
		}
	}

	putLine(screen, 0, h-1, w, "[Q]uit", tcell.StyleDefault.Reverse(true))
	screen.Show()
}

func putLine(screen tcell.Screen, x, y, maxW int, s string, style tcell.Style) {
	for i, r := range []rune(s) {
		if x+i >= maxW {
			break
		}
		screen.SetContent(x+i, y, r, nil, style)
	}
}
