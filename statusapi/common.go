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

// Package statusapi is the master's optional, read-only HTTP status
// surface (spec.md §4.8, supplemental). It merges the teacher's rest and
// rpc packages, which served the same Manager twice over nearly
// identical gorilla/mux routers, into a single implementation over a
// *yardmaster.Master. It can start, stop, pause or rotate nothing: the
// master's control surface stays signal-only, per spec.md.
package statusapi

import "time"

const mimeJson = "application/json; charset=UTF-8"

// Error is the JSON body returned for non-2xx responses.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// MasterInfo is the body of GET /info.
type MasterInfo struct {
	Serial int64 `json:"serial"`
	Paused bool  `json:"paused"`
}

// ListenerInfo is one element of the body of GET /listeners.
type ListenerInfo struct {
	Pid     int    `json:"pid"`
	ID      int64  `json:"id"`
	State   string `json:"state"`
	Current bool   `json:"current"`
	Running bool   `json:"running"` // last-good, retained during rotation
	Workers []int  `json:"workers"`
}

// LogRecord mirrors yardmaster.LogRecord for the wire.
type LogRecord struct {
	Id   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}
