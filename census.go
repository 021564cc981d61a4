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
	"log"
	"runtime"
	"runtime/debug"
)

// censusCounts is the prior-run snapshot the master diffs against, per
// spec.md §4.7 ("last_counts").  Go has no ObjectSpace-style live-object
// enumeration, so per spec.md §9's explicit guidance this implementation
// is restricted to the reduced form: goroutine count and heap/GC
// statistics, which is the only introspection the runtime actually
// offers. See DESIGN.md.
type censusCounts struct {
	goroutines int
	heapAlloc  uint64
	heapObjs   uint64
	numGC      uint32
}

// runCensus is invoked when an INFO signal token is processed. It is
// strictly a diagnostic: any failure is logged and swallowed, never
// fatal, per spec.md §4.7.
func runCensus(logger *log.Logger, prev *censusCounts) censusCounts {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	logger.Printf("census: before GC: heap_alloc=%d heap_objects=%d num_gc=%d goroutines=%d",
		before.HeapAlloc, before.HeapObjects, before.NumGC, runtime.NumGoroutine())

	runtime.GC()
	debug.FreeOSMemory()

	runtime.ReadMemStats(&after)
	cur := censusCounts{
		goroutines: runtime.NumGoroutine(),
		heapAlloc:  after.HeapAlloc,
		heapObjs:   after.HeapObjects,
		numGC:      after.NumGC,
	}
	logger.Printf("census: after GC:  heap_alloc=%d heap_objects=%d num_gc=%d goroutines=%d",
		cur.heapAlloc, cur.heapObjs, cur.numGC, cur.goroutines)

	if prev != nil {
		logger.Printf("census: delta since last census: heap_alloc=%+d heap_objects=%+d goroutines=%+d",
			int64(cur.heapAlloc)-int64(prev.heapAlloc),
			int64(cur.heapObjs)-int64(prev.heapObjs),
			cur.goroutines-prev.goroutines)
	}
	return cur
}
