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
	"fmt"
	"sort"

	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/mm/pagetables"
	"github.com/jsnal/os-sub000/pkg/mm/region"
	"github.com/jsnal/os-sub000/pkg/slotmap"
	"github.com/jsnal/os-sub000/pkg/waiter"
)

// PID is a process identifier. The idle process is pid 0.
type PID int32

// State is the scheduling state of a process.
type State int

const (
	// Created processes are being built and cannot run yet.
	Created State = iota

	// Ready processes are waiting for the CPU.
	Ready

	// Running is the process holding the CPU.
	Running

	// Waiting processes are blocked until a condition holds.
	Waiting

	// Dead processes have exited and wait to be reaped.
	Dead
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Dead:
		return "dead"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// User is the identity a process runs as. The zero value is root.
type User struct {
	UID uint32
	GID uint32
}

// String implements fmt.Stringer.String.
func (u User) String() string {
	return fmt.Sprintf("%d:%d", u.UID, u.GID)
}

// Process is a schedulable context with its own kernel stack. User processes
// also own an address space, a list of user regions and a file descriptor
// table.
type Process struct {
	k      *Kernel
	handle slotmap.Handle
	pid    PID
	ppid   PID
	name   string
	state  State
	kernel bool

	// user is inherited from the parent at creation and kept across exec.
	user User

	// dir is the process's page directory: the kernel directory for kernel
	// processes.
	dir    *pagetables.Directory
	kstack *region.KernelRegion

	// savedESP is the kernel stack pointer while the process does not hold
	// the CPU.
	savedESP uint32

	// critDepth and savedIF hold the critical section state while the
	// process does not hold the CPU.
	critDepth int
	savedIF   bool

	// regions are the user regions mapped in dir, in creation order.
	regions []*region.UserRegion

	fds *FDTable
	cwd []string

	exitStatus int32

	// children are the live children. childStatus holds the exit status of
	// children that exited and have not been waited for.
	children    map[PID]struct{}
	childStatus map[PID]int32
	childQueue  waiter.Queue

	// blocker is the condition a Waiting process waits for. waitEntry wakes
	// it from a wait queue.
	blocker   func() bool
	waitEntry waiter.Entry

	// budget is the number of ticks left in the current quantum.
	budget int

	// runs counts how many times the process was switched to. ticks counts
	// timer ticks taken while it held the CPU.
	runs  uint64
	ticks uint64

	// body is the entry point of a kernel process.
	body func(p *Process)

	// exec is the executable a user process loads when it first runs.
	exec *execArgs
}

type execArgs struct {
	path string
	argv []string
}

// PID returns the process identifier.
func (p *Process) PID() PID { return p.pid }

// PPID returns the parent's pid. Orphans have parent 0.
func (p *Process) PPID() PID { return p.ppid }

// Name returns the process name.
func (p *Process) Name() string { return p.name }

// User returns the identity p runs as.
func (p *Process) User() User { return p.user }

// SetUser changes the identity p runs as. Children created afterwards
// inherit it.
func (p *Process) SetUser(u User) {
	log.Debugf("%v: user %v -> %v", p, p.user, u)
	p.user = u
}

// State returns the scheduling state.
func (p *Process) State() State { return p.state }

// IsKernel returns true for kernel processes.
func (p *Process) IsKernel() bool { return p.kernel }

// Directory returns the page directory.
func (p *Process) Directory() *pagetables.Directory { return p.dir }

// Regions returns the user regions.
func (p *Process) Regions() []*region.UserRegion {
	return append([]*region.UserRegion(nil), p.regions...)
}

// FDTable returns the file descriptor table. It is nil for kernel
// processes.
func (p *Process) FDTable() *FDTable { return p.fds }

// ExitStatus returns the status passed to Exit.
func (p *Process) ExitStatus() int32 { return p.exitStatus }

// Runs returns the number of times the process was scheduled.
func (p *Process) Runs() uint64 { return p.runs }

// TicksRun returns the number of timer ticks taken while the process held
// the CPU.
func (p *Process) TicksRun() uint64 { return p.ticks }

// Kernel returns the kernel that owns p.
func (p *Process) Kernel() *Kernel { return p.k }

// Children returns the pids of live children in ascending order.
func (p *Process) Children() []PID {
	pids := make([]PID, 0, len(p.children))
	for pid := range p.children {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// String implements fmt.Stringer.String.
func (p *Process) String() string {
	return fmt.Sprintf("%s[%d]", p.name, p.pid)
}

// kernelStackTop returns one past the highest byte of the kernel stack.
func (p *Process) kernelStackTop() uint32 {
	return uint32(p.kstack.Upper())
}
