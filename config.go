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

import "time"

// Config holds the master's own tuning knobs.  These are the master's
// private configuration; the contents of the config files it forwards to
// the listener (ConfigPaths) stay opaque strings, per spec.md §3.
type Config struct {
	// ConfigPaths are handed to every listener verbatim, in order.
	ConfigPaths []string

	// ListenerCmd is the path to the listener executable to fork. It is
	// run as given; there is no built-in fallback, so when it is empty
	// every fork attempt fails.
	ListenerCmd string

	// IdleTimeout bounds how long the main loop will block with nothing
	// to do before it wakes up on its own (spec.md §4.3 step 4c).
	IdleTimeout time.Duration

	// StopGrace is how long a listener is given to exit cleanly after
	// QUIT before the master considers it stuck. The master itself never
	// escalates past QUIT (spec.md §5); this is purely informational,
	// logged if exceeded.
	StopGrace time.Duration
}

// DefaultConfig returns a Config with the tuning defaults used throughout
// spec.md's examples.
func DefaultConfig() Config {
	return Config{
		IdleTimeout: 30 * time.Second,
		StopGrace:   10 * time.Second,
	}
}
