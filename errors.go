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
)

var (
	ErrAlreadyRunning = errors.New("pidfile held by a live master")
	ErrNoConfigPaths  = errors.New("no configuration paths given")
	ErrNoListener     = errors.New("no listener is currently running")
	ErrPaused         = errors.New("master is paused")
	ErrBackoff        = errors.New("restarting too quickly")
	ErrShutdown       = errors.New("master is shutting down")
	ErrUnknownWorker  = errors.New("worker pid unknown to any listener")
)
