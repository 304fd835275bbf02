// Copyright 2026 The Kernsim Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

import (
	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/log"
)

// WNOHANG makes WaitPID return immediately if no child has exited.
const WNOHANG = 1

// Exit terminates the current process with status. Its user regions and
// file descriptor table are released at once; the rest goes when the
// scheduler reaps it. Live children are handed to the idle process. Exit
// does not return.
func (k *Kernel) Exit(status int32) {
	p := k.current
	if p == nil || p == k.idle {
		panic(k.m.Panicf(nil, "exit outside a process"))
	}
	k.EnterCritical()
	if !p.kernel {
		// Free the user half before the directory goes away with the
		// process; the directory stays loaded until the next switch.
		for _, r := range p.regions {
			if err := r.Free(); err != nil {
				log.Warningf("%v: freeing region %v on exit: %v", p, r, err)
			}
		}
		p.regions = nil
	}
	if p.fds != nil {
		p.fds.DecRef()
		p.fds = nil
	}
	for pid := range p.children {
		if c, ok := k.ProcessByPID(pid); ok {
			c.ppid = k.idle.pid
			k.idle.children[pid] = struct{}{}
		}
	}
	p.children = make(map[PID]struct{})
	p.childStatus = make(map[PID]int32)
	p.exitStatus = status
	p.state = Dead
	k.alive--
	log.Debugf("%v exited with status %d", p, status)
	k.schedule()
	panic(k.m.Panicf(nil, "dead process %v resumed", p))
}

// WaitPID waits for a child of the current process to exit and returns its
// pid and exit status. pid -1 (or any pid <= 0) matches any child. With
// WNOHANG, WaitPID returns pid 0 if no matching child has exited yet. It
// returns ECHILD if no matching child exists.
func (k *Kernel) WaitPID(pid PID, options int) (PID, int32, error) {
	p := k.current
	if p == nil || p == k.idle {
		return 0, 0, kernerr.ECHILD
	}
	match := func(c PID) bool { return pid <= 0 || c == pid }
	exited := func() (PID, bool) {
		found, ok := PID(0), false
		for c := range p.childStatus {
			if match(c) && (!ok || c < found) {
				found, ok = c, true
			}
		}
		return found, ok
	}
	live := func() bool {
		for c := range p.children {
			if match(c) {
				return true
			}
		}
		return false
	}
	for {
		k.EnterCritical()
		if c, ok := exited(); ok {
			status := p.childStatus[c]
			delete(p.childStatus, c)
			k.ExitCritical()
			return c, status, nil
		}
		if !live() {
			k.ExitCritical()
			return 0, 0, kernerr.ECHILD
		}
		if options&WNOHANG != 0 {
			k.ExitCritical()
			return 0, 0, nil
		}
		k.ExitCritical()
		k.Block(&p.childQueue, func() bool {
			_, ok := exited()
			return ok || !live()
		})
	}
}
