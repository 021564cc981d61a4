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

	"github.com/erikdubbelboer/gspt"
)

// setProcTitle rewrites argv[0] so `ps` shows the master's role and
// current listener, the Go analogue of the Ruby source's "procline"
// mixin (spec.md §9).
func setProcTitle(format string, args ...interface{}) {
	gspt.SetProcTitle(fmt.Sprintf(format, args...))
}
