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
	"os"
	"strconv"

	"github.com/gofrs/flock"
)

// Pidfile is the scoped guard of spec.md §4.3 step 2 / §7: acquired once
// at startup, its release is guaranteed on every exit path.  It is
// backed by an flock(2) advisory lock rather than the PID-liveness probe
// the Ruby original used, which closes the race where a stale but
// still-numbered pid happens to have been reused by an unrelated process.
type Pidfile struct {
	path string
	fl   *flock.Flock
}

// AcquirePidfile locks path exclusively and writes the current pid into
// it.  If the file is already locked by a live process, it returns
// ErrAlreadyRunning without touching the file.
func AcquirePidfile(path string) (*Pidfile, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("pidfile %s: %w", path, err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}
	if err := os.Truncate(path, 0); err != nil && !os.IsNotExist(err) {
		fl.Unlock()
		return nil, fmt.Errorf("pidfile %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("pidfile %s: %w", path, err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	cerr := f.Close()
	if werr != nil {
		fl.Unlock()
		return nil, fmt.Errorf("pidfile %s: %w", path, werr)
	}
	if cerr != nil {
		fl.Unlock()
		return nil, fmt.Errorf("pidfile %s: %w", path, cerr)
	}
	return &Pidfile{path: path, fl: fl}, nil
}

// Release unlocks and removes the pidfile. It is safe to call more than
// once.
func (p *Pidfile) Release() error {
	if p == nil || p.fl == nil {
		return nil
	}
	err := p.fl.Unlock()
	_ = os.Remove(p.path)
	p.fl = nil
	return err
}
