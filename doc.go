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

// Package yardmaster implements the master process of a worker-pool
// supervisor.  The master owns a tree of child processes: it keeps exactly
// one listener child running at a time, and the listener in turn forks and
// manages the workers that drain job queues.  The master never touches a
// queue or a job directly; its entire job is to keep the right listener
// alive, rotate listeners across configuration reloads, hand workers off
// during that rotation without killing them needlessly, and propagate
// operator signals.
//
// The listener and worker programs are external collaborators.  This
// package only defines the contract it expects of a listener (see Listener
// and the ipc subpackage) and supervises its lifecycle; it never forks a
// worker itself.
package yardmaster
