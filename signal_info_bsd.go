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

// +build darwin dragonfly freebsd netbsd openbsd

package yardmaster

import (
	"os"
	"syscall"
)

// infoSignal is SIGINFO where the platform defines it. Dumping the
// object census on INFO is best-effort and platform-gated, per
// spec.md §4.2 ("INFO (where supported)").
var infoSignal os.Signal = syscall.SIGINFO
