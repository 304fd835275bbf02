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

// Package kernel implements processes and the scheduler.
//
// The Kernel owns every process and the run queue. It runs on one simulated
// CPU: exactly one process holds the CPU at a time, and shared kernel state
// is only mutated with interrupts disabled, either inside an interrupt gate
// or inside a critical section (see EnterCritical).
//
// Each process has its own kernel stack. A context switch saves the running
// process's stack pointer and resumes the process parked at the next one's,
// loading its page directory. Processes that have never run start at a
// registered kernel entry point: kernel processes at their body, user
// processes at a trampoline that loads their executable and drops to ring 3.
//
// Lock order: there are no locks held across a context switch. Paths that
// may switch (Block, Yield, Exit, schedule) must not defer, because a process
// that is reaped while parked unwinds its stack.
package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/jsnal/os-sub000/pkg/fs"
	"github.com/jsnal/os-sub000/pkg/interrupts"
	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/mem"
	"github.com/jsnal/os-sub000/pkg/metric"
	"github.com/jsnal/os-sub000/pkg/mm"
	"github.com/jsnal/os-sub000/pkg/refs"
	"github.com/jsnal/os-sub000/pkg/slotmap"
)

const (
	// DefaultKernelStackSize is the size of each process's kernel stack.
	DefaultKernelStackSize = 4 * mem.PageSize

	// DefaultUserStackSize is the size of a user process's initial stack.
	DefaultUserStackSize = 16 * mem.PageSize

	// DefaultQuantum is the number of timer ticks a process may run before
	// it is preempted.
	DefaultQuantum = 2

	// DefaultMaxFDs is the size limit of a file descriptor table.
	DefaultMaxFDs = 64

	// MaxCriticalDepth is the deepest critical section nesting allowed.
	// Anything deeper is a runaway and panics.
	MaxCriticalDepth = 255

	// UserStackTop is one past the highest byte of the initial user stack.
	// The page below the kernel half stays unmapped.
	UserStackTop = mem.KernelBase - mem.PageSize
)

// ErrTickLimit is returned by Run when Options.MaxTicks elapsed with
// processes still alive.
var ErrTickLimit = errors.New("tick limit reached with processes still running")

var (
	contextSwitches  = metric.MustCreateNewUint64Metric("/kernel/context_switches", "Number of context switches.")
	ticksMetric      = metric.MustCreateNewUint64Metric("/kernel/ticks", "Number of timer ticks handled by the scheduler.")
	processesCreated = metric.MustCreateNewUint64Metric("/kernel/processes/created", "Number of processes created, by kind.", metric.NewField("kind", []string{"kernel", "user", "fork"}))
	processesReaped  = metric.MustCreateNewUint64Metric("/kernel/processes/reaped", "Number of dead processes reaped.")
)

// Options configures a Kernel.
type Options struct {
	// KernelStackSize is the size of each kernel stack. Zero means
	// DefaultKernelStackSize.
	KernelStackSize uint32

	// UserStackSize is the size of the initial user stack. Zero means
	// DefaultUserStackSize.
	UserStackSize uint32

	// Quantum is the preemption period in ticks. Zero means DefaultQuantum.
	Quantum int

	// MaxTicks stops Run after this many ticks. Zero means no limit.
	MaxTicks uint64

	// MaxFDs bounds each file descriptor table. Zero means DefaultMaxFDs.
	MaxFDs int

	// Stdio is installed as fds 0, 1 and 2 of every user process created
	// with CreateUserProcess. It may be nil.
	Stdio fs.File

	// OnSwitch, if set, is called on every context switch with interrupts
	// disabled, before the switch. prev is nil on the first switch.
	OnSwitch func(prev, next *Process)
}

func (o *Options) setDefaults() {
	if o.KernelStackSize == 0 {
		o.KernelStackSize = DefaultKernelStackSize
	}
	if o.UserStackSize == 0 {
		o.UserStackSize = DefaultUserStackSize
	}
	if o.Quantum <= 0 {
		o.Quantum = DefaultQuantum
	}
	if o.MaxFDs <= 0 {
		o.MaxFDs = DefaultMaxFDs
	}
}

// Kernel is the process manager of one machine.
type Kernel struct {
	m    *machine.Machine
	mm   *mm.MemoryManager
	fs   fs.FileSystem
	opts Options

	// procs owns every process that has not been reaped. pids maps a pid
	// to its slot.
	procs slotmap.Map[*Process]
	pids  map[PID]slotmap.Handle

	// runQueue is the round-robin order. The idle process is always at
	// index 0 and is never picked while another process is runnable.
	runQueue []*Process
	nextPID  PID
	idle     *Process
	current  *Process

	// alive counts processes other than idle that have not exited.
	alive int

	// depth is the critical section nesting of the current process.
	// savedIF is IF as it was when depth left zero.
	depth   int
	savedIF bool

	ticks    uint64
	ctx      context.Context
	running  bool
	bootESP  uint32
	tickStop bool

	// Kernel text addresses of the shared entry points.
	kernelEntry uint32
	userEntry   uint32
	forkEntry   uint32

	// objects tracks reference counted objects for leak checking.
	objects refs.Registry
}

// New creates a kernel with its idle process and installs the timer
// handler on ic.
func New(m *machine.Machine, mman *mm.MemoryManager, ic *interrupts.Controller, fsys fs.FileSystem, opts Options) (*Kernel, error) {
	opts.setDefaults()
	k := &Kernel{
		m:    m,
		mm:   mman,
		fs:   fsys,
		opts: opts,
		pids: make(map[PID]slotmap.Handle),
	}
	k.kernelEntry = m.Code.Register("kernel_process_start", k.kernelProcessStart)
	k.userEntry = m.Code.Register("user_process_start", k.userProcessStart)
	k.forkEntry = m.Code.Register("fork_return", k.forkReturn)

	idle, err := k.CreateKernelProcess("idle", k.idleLoop)
	if err != nil {
		return nil, fmt.Errorf("creating idle process: %w", err)
	}
	k.idle = idle
	k.alive--
	ic.RegisterIRQ(machine.IRQTimer, k)
	log.Infof("Process manager started, quantum %d ticks", opts.Quantum)
	return k, nil
}

// Machine returns the machine the kernel runs on.
func (k *Kernel) Machine() *machine.Machine { return k.m }

// MemoryManager returns the kernel's memory manager.
func (k *Kernel) MemoryManager() *mm.MemoryManager { return k.mm }

// FileSystem returns the root filesystem.
func (k *Kernel) FileSystem() fs.FileSystem { return k.fs }

// Current returns the process holding the CPU, or nil before Run.
func (k *Kernel) Current() *Process { return k.current }

// Idle returns the idle process.
func (k *Kernel) Idle() *Process { return k.idle }

// Ticks returns the number of timer ticks handled.
func (k *Kernel) Ticks() uint64 { return k.ticks }

// Alive returns the number of processes, other than idle, that have not
// exited.
func (k *Kernel) Alive() int { return k.alive }

// ProcessByPID returns the live or dead-but-unreaped process with the given
// pid.
func (k *Kernel) ProcessByPID(pid PID) (*Process, bool) {
	h, ok := k.pids[pid]
	if !ok {
		return nil, false
	}
	return k.procs.Get(h)
}

// Processes returns every process that has not been reaped, in run queue
// order, idle first.
func (k *Kernel) Processes() []*Process {
	return append([]*Process(nil), k.runQueue...)
}

// Run hands the CPU to the processes and returns when every process other
// than idle has exited, ctx is done, the tick limit is reached or the
// machine panics. It may be called once.
func (k *Kernel) Run(ctx context.Context) error {
	if k.running {
		return errors.New("kernel already ran")
	}
	k.running = true
	k.ctx = ctx
	if k.alive > 0 {
		k.m.DisableInterrupts()
		next := k.pickNext()
		k.switchTo(nil, next, &k.bootESP)
	}
	if err := k.m.Failure(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if k.tickStop && k.alive > 0 {
		return ErrTickLimit
	}
	return nil
}

// stopDue returns true if Run should return at this tick.
func (k *Kernel) stopDue() bool {
	if k.ctx != nil && k.ctx.Err() != nil {
		return true
	}
	if k.opts.MaxTicks != 0 && k.ticks >= k.opts.MaxTicks {
		k.tickStop = true
		return true
	}
	return k.alive == 0
}

// halt parks the running process and resumes Run on the boot stack.
func (k *Kernel) halt() {
	cur := k.current
	cur.critDepth, cur.savedIF = k.depth, k.savedIF
	log.Debugf("Stopping at tick %d with %d processes alive", k.ticks, k.alive)
	k.m.SwitchStacks(&cur.savedESP, k.bootESP, k.mm.KernelDirectory().Phys())
	panic(k.m.Panicf(nil, "kernel resumed after halt"))
}

// Shutdown destroys every process and releases its memory. It returns the
// messages of reference counted objects that were leaked.
func (k *Kernel) Shutdown() []string {
	k.m.KillAll()
	k.mm.Tables().Activate(k.mm.KernelDirectory())
	for _, p := range k.Processes() {
		k.release(p)
	}
	k.current = nil
	k.m.Code.Unregister(k.kernelEntry)
	k.m.Code.Unregister(k.userEntry)
	k.m.Code.Unregister(k.forkEntry)
	return k.objects.DoLeakCheck()
}
