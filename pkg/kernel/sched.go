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
	"slices"

	"github.com/jsnal/os-sub000/pkg/interrupts"
	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/waiter"
)

// allEvents wakes a blocked process on any event of its queue.
const allEvents = waiter.EventMask(0xffff)

// pickNext reaps dead processes and returns the process to run next: the
// first runnable one after the current process in run queue order, or idle.
// Waiting processes whose condition holds are made Ready on the way.
//
// Preconditions: interrupts are disabled.
func (k *Kernel) pickNext() *Process {
	k.reapDead()
	procs := k.runQueue[1:]
	if len(procs) == 0 {
		return k.idle
	}
	start := 0
	if cur := k.current; cur != nil && cur != k.idle {
		if i := slices.Index(procs, cur); i >= 0 {
			start = i + 1
		}
	}
	for n := range procs {
		p := procs[(start+n)%len(procs)]
		if p.state == Waiting && p.blocker != nil && p.blocker() {
			p.state = Ready
		}
		if p.state == Ready || p.state == Running {
			return p
		}
	}
	return k.idle
}

// reapDead reaps every dead process other than the current one.
func (k *Kernel) reapDead() {
	var dead []*Process
	for _, p := range k.runQueue[1:] {
		if p.state == Dead && p != k.current {
			dead = append(dead, p)
		}
	}
	for _, p := range dead {
		k.reap(p)
	}
}

// reap destroys a dead process and posts its exit status to its parent.
func (k *Kernel) reap(p *Process) {
	k.m.Kill(p.savedESP)
	k.release(p)
	processesReaped.Increment()
	log.Debugf("Reaped %v, status %d", p, p.exitStatus)

	parent, ok := k.ProcessByPID(p.ppid)
	if !ok || parent == k.idle {
		return
	}
	parent.childStatus[p.pid] = p.exitStatus
	parent.childQueue.Notify(waiter.EventChild)
}

// release returns everything p owns and forgets it. p must not hold the CPU
// or be parked.
func (k *Kernel) release(p *Process) {
	for _, r := range p.regions {
		if err := r.Free(); err != nil {
			log.Warningf("Freeing region %v of %v: %v", r, p, err)
		}
	}
	p.regions = nil
	if p.fds != nil {
		p.fds.DecRef()
		p.fds = nil
	}
	if !p.kernel && p.dir != nil && !p.dir.Destroyed() {
		if err := k.mm.DestroyDirectory(p.dir); err != nil {
			log.Warningf("Destroying directory of %v: %v", p, err)
		}
	}
	if p.kstack != nil {
		if err := k.mm.FreeKernelRegion(p.kstack); err != nil {
			log.Warningf("Freeing kernel stack of %v: %v", p, err)
		}
		p.kstack = nil
	}
	if parent, ok := k.ProcessByPID(p.ppid); ok && parent != p {
		delete(parent.children, p.pid)
	}
	k.procs.Remove(p.handle)
	delete(k.pids, p.pid)
	if i := slices.Index(k.runQueue, p); i >= 0 {
		k.runQueue = slices.Delete(k.runQueue, i, i+1)
	}
}

// schedule gives the CPU to the next runnable process. It returns when the
// calling process is scheduled again, which for a dead process is never.
//
// Preconditions: interrupts are disabled.
func (k *Kernel) schedule() {
	if k.m.InterruptsEnabled() {
		panic(k.m.Panicf(nil, "schedule with interrupts enabled"))
	}
	prev := k.current
	next := k.pickNext()
	if next == prev {
		prev.state = Running
		prev.budget = k.opts.Quantum
		return
	}
	k.switchTo(prev, next, &prev.savedESP)
}

// switchTo saves the running context in *save and resumes next. prev is nil
// when switching away from the boot stack.
func (k *Kernel) switchTo(prev, next *Process, save *uint32) {
	if prev != nil {
		if prev.state == Running {
			prev.state = Ready
		}
		prev.critDepth, prev.savedIF = k.depth, k.savedIF
	}
	k.depth, k.savedIF = next.critDepth, next.savedIF
	next.state = Running
	next.runs++
	next.budget = k.opts.Quantum
	k.current = next
	k.m.TSS.ESP0 = next.kernelStackTop()
	contextSwitches.Increment()
	if k.opts.OnSwitch != nil {
		k.opts.OnSwitch(prev, next)
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("Switching %v -> %v at tick %d", prev, next, k.ticks)
	}
	k.m.SwitchStacks(save, next.savedESP, next.dir.Phys())
}

// Tick accounts one timer tick to the current process and preempts it once
// its quantum is used up. The idle process is preempted on every tick so
// blocked processes are polled.
//
// Preconditions: interrupts are disabled.
func (k *Kernel) Tick() {
	k.ticks++
	ticksMetric.Increment()
	cur := k.current
	if cur == nil {
		return
	}
	cur.ticks++
	if k.stopDue() {
		k.halt()
	}
	cur.budget--
	if cur == k.idle || cur.budget <= 0 {
		k.schedule()
	}
}

// HandleIRQ implements interrupts.IRQHandler.HandleIRQ for the timer. The
// EOI is sent before scheduling because the handler may not return to this
// context for a while.
func (k *Kernel) HandleIRQ(irq *interrupts.IRQ) {
	irq.EOI()
	k.Tick()
}

// Yield gives up the rest of the current quantum.
func (k *Kernel) Yield() {
	k.EnterCritical()
	k.schedule()
	k.ExitCritical()
}

// Block suspends the current process until ready returns true. ready is
// checked on every scheduling pass; if q is not nil, any notification on q
// also makes the process runnable so it rechecks ready without waiting for
// a pass.
//
// Block implements console.Blocker.
func (k *Kernel) Block(q *waiter.Queue, ready func() bool) {
	p := k.current
	if p == nil || p == k.idle {
		panic(k.m.Panicf(nil, "blocking outside a process"))
	}
	k.EnterCritical()
	for !ready() {
		if q != nil {
			q.EventRegister(&p.waitEntry, allEvents)
		}
		p.blocker = ready
		p.state = Waiting
		k.schedule()
		p.blocker = nil
		if q != nil {
			q.EventUnregister(&p.waitEntry)
		}
	}
	k.ExitCritical()
}

func (k *Kernel) idleLoop(*Process) {
	for {
		k.m.Halt()
	}
}
