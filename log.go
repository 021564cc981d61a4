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
	"strings"
	"sync"
	"time"
)

const (
	MaxLogRecords = 1000
)

// LogRecord is a single line captured by Log.
type LogRecord struct {
	Id   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Log is a ring buffer of the most recent lines written to it, suitable
// for use as the Writer backing a log.Logger.  It is also watchable: a
// caller can block until the log has changed since a given id, which is
// how the status API's long-poll endpoint stays cheap.
type Log struct {
	records    []LogRecord
	numRecords int
	maxRecords int
	id         int64
	cvs        map[*sync.Cond]bool
	mx         sync.Mutex
}

func (l *Log) lock() {
	l.mx.Lock()
}

func (l *Log) unlock() {
	l.mx.Unlock()
}

// Write implements io.Writer, so a Log can back a log.Logger directly.
func (l *Log) Write(b []byte) (int, error) {
	if l.maxRecords == 0 {
		l.maxRecords = MaxLogRecords
	}
	if l.records == nil {
		l.records = make([]LogRecord, l.maxRecords)
		l.numRecords = 0
	}
	str := strings.Trim(string(b), "\n")
	l.lock()
	for _, line := range strings.Split(str, "\n") {
		idx := l.numRecords % l.maxRecords
		l.id++
		l.records[idx].Text = line
		l.records[idx].Id = l.id
		l.records[idx].Time = time.Now()
		// numRecords may exceed maxRecords; we only use it to
		// track the next index to overwrite.
		l.numRecords++
	}
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.unlock()
	return len(b), nil
}

// Clear discards all buffered records.
func (l *Log) Clear() {
	l.lock()
	l.numRecords = 0
	// Records cannot arrive faster than once per nanosecond.
	l.id = time.Now().UnixNano()
	l.unlock()
}

// GetRecords returns the records currently buffered and an id suitable
// for use as an Etag / poll cursor.  If last equals the current id, nil
// is returned immediately without duplicating any records.
func (l *Log) GetRecords(last int64) ([]LogRecord, int64) {
	l.lock()
	if l.id == last {
		l.unlock()
		return nil, last
	}
	var recs []LogRecord
	cnt := l.numRecords
	cur := l.numRecords
	if l.numRecords > l.maxRecords {
		recs = make([]LogRecord, 0, l.maxRecords)
		cnt = l.maxRecords
	} else {
		recs = make([]LogRecord, 0, l.numRecords)
	}
	if cnt > cur {
		cnt = cur
	}
	index := cur - cnt
	for j := 0; j < cnt; j++ {
		recs = append(recs, l.records[index%l.maxRecords])
		index++
	}
	id := l.id
	l.unlock()
	return recs, id
}

// Watch blocks until the log id has changed from last, or expire elapses
// (0 means poll once and return immediately).  It returns the id observed
// when it woke.
func (l *Log) Watch(last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&l.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			l.lock()
			expired = true
			cv.Broadcast()
			l.unlock()
		})
	} else {
		expired = true
	}

	l.lock()
	l.cvs[cv] = true
	for {
		if l.id != last || expired {
			break
		}
		cv.Wait()
	}
	delete(l.cvs, cv)
	if l.id != last {
		last = l.id
	}
	l.unlock()
	if timer != nil {
		timer.Stop()
	}
	return last
}

// NewLog allocates an empty, ready-to-use Log.
func NewLog() *Log {
	l := &Log{
		maxRecords: MaxLogRecords,
		id:         time.Now().UnixNano(),
		cvs:        make(map[*sync.Cond]bool),
	}
	return l
}
