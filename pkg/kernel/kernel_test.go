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
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/fs/memfs"
	"github.com/jsnal/os-sub000/pkg/interrupts"
	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/mem"
	"github.com/jsnal/os-sub000/pkg/mm"
	"github.com/jsnal/os-sub000/pkg/multiboot"
	"github.com/jsnal/os-sub000/pkg/waiter"
)

const infoAddr = 0x9000

// newTestKernel boots a machine with 16 MiB of RAM at 1 MiB and starts a
// kernel on it. The kernel is shut down when the test ends.
func newTestKernel(t *testing.T, opts Options) (*Kernel, *memfs.FileSystem) {
	t.Helper()
	m := machine.New(machine.Config{MemoryLimit: 32 * mem.MiB, CyclesPerTick: 16})
	(&multiboot.Builder{
		MemoryMap: []multiboot.MemoryMapEntry{
			{PhysAddress: 0, Length: 0x9FC00, Type: multiboot.MemAvailable},
			{PhysAddress: mem.MiB, Length: 16 * mem.MiB, Type: multiboot.MemAvailable},
		},
	}).Write(m.Mem, infoAddr)
	info, err := multiboot.Parse(m.Mem, infoAddr)
	if err != nil {
		t.Fatalf("multiboot.Parse: %v", err)
	}
	mman, err := mm.Boot(m, info, mm.Options{KernelImage: mem.PhysRange{Start: mem.MiB, End: 2 * mem.MiB}})
	if err != nil {
		t.Fatalf("mm.Boot: %v", err)
	}
	ic := interrupts.New(m)
	ic.Load()
	fsys := memfs.New()
	k, err := New(m, mman, ic, fsys, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if leaks := k.Shutdown(); len(leaks) != 0 {
			t.Errorf("Shutdown leaked objects: %v", leaks)
		}
	})
	return k, fsys
}

// spin runs kernel code forever, taking timer interrupts.
func spin(p *Process) {
	for {
		p.Kernel().Machine().Step()
	}
}

// switchLog records the names of processes switched to.
type switchLog struct {
	names []string
}

func (l *switchLog) record(_, next *Process) {
	l.names = append(l.names, next.Name())
}

func TestIdleOnly(t *testing.T) {
	k, _ := newTestKernel(t, Options{})
	if got := k.Idle().PID(); got != 0 {
		t.Errorf("idle PID: got %d, want 0", got)
	}
	if got := k.Alive(); got != 0 {
		t.Errorf("Alive: got %d, want 0", got)
	}
	if err := k.Run(context.Background()); err != nil {
		t.Errorf("Run: got %v, want nil", err)
	}
}

func TestRoundRobin(t *testing.T) {
	var sw switchLog
	k, _ := newTestKernel(t, Options{Quantum: 2, MaxTicks: 30, OnSwitch: sw.record})
	names := []string{"a", "b", "c"}
	var procs []*Process
	for _, name := range names {
		p, err := k.CreateKernelProcess(name, spin)
		if err != nil {
			t.Fatalf("CreateKernelProcess(%q): %v", name, err)
		}
		procs = append(procs, p)
	}
	if err := k.Run(context.Background()); !errors.Is(err, ErrTickLimit) {
		t.Fatalf("Run: got %v, want %v", err, ErrTickLimit)
	}
	if len(sw.names) < 2*len(names) {
		t.Fatalf("got %d switches, want at least %d", len(sw.names), 2*len(names))
	}
	for i, got := range sw.names {
		if want := names[i%len(names)]; got != want {
			t.Fatalf("switch %d: got %q, want %q (switches %v)", i, got, want, sw.names)
		}
	}
	for _, p := range procs {
		if d := int(p.Runs()) - int(procs[0].Runs()); d < -1 || d > 1 {
			t.Errorf("%v ran %d times, %v ran %d times", p, p.Runs(), procs[0], procs[0].Runs())
		}
	}
	if got := k.Idle().Runs(); got != 0 {
		t.Errorf("idle ran %d times, want 0", got)
	}
}

func TestTwoProcessesShareTheCPU(t *testing.T) {
	k, _ := newTestKernel(t, Options{Quantum: 1, MaxTicks: 2})
	a, err := k.CreateKernelProcess("a", spin)
	if err != nil {
		t.Fatalf("CreateKernelProcess: %v", err)
	}
	b, err := k.CreateKernelProcess("b", spin)
	if err != nil {
		t.Fatalf("CreateKernelProcess: %v", err)
	}
	if err := k.Run(context.Background()); !errors.Is(err, ErrTickLimit) {
		t.Fatalf("Run: got %v, want %v", err, ErrTickLimit)
	}
	if got := k.Ticks(); got != 2 {
		t.Errorf("Ticks: got %d, want 2", got)
	}
	if a.Runs() == 0 || b.Runs() == 0 {
		t.Errorf("runs: a %d, b %d, want both nonzero", a.Runs(), b.Runs())
	}
	if got := k.Idle().Runs(); got != 0 {
		t.Errorf("idle ran %d times while a and b were ready", got)
	}
}

func TestExitAndReap(t *testing.T) {
	k, _ := newTestKernel(t, Options{})
	var (
		shortPID PID
		reaped   bool
	)
	short, err := k.CreateKernelProcess("short", func(*Process) {})
	if err != nil {
		t.Fatalf("CreateKernelProcess: %v", err)
	}
	shortPID = short.PID()
	if _, err := k.CreateKernelProcess("long", func(p *Process) {
		for i := 0; i < 10 && !reaped; i++ {
			p.Kernel().Yield()
			_, found := p.Kernel().ProcessByPID(shortPID)
			reaped = !found
		}
	}); err != nil {
		t.Fatalf("CreateKernelProcess: %v", err)
	}
	if err := k.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reaped {
		t.Errorf("exited process %d was never reaped", shortPID)
	}
	if got := k.Alive(); got != 0 {
		t.Errorf("Alive: got %d, want 0", got)
	}
}

func TestWaitPID(t *testing.T) {
	k, _ := newTestKernel(t, Options{})
	type result struct {
		pid    PID
		status int32
		err    error
	}
	var (
		childPID PID
		got      []result
	)
	if _, err := k.CreateKernelProcess("parent", func(p *Process) {
		k := p.Kernel()
		_, _, err := k.WaitPID(-1, WNOHANG)
		got = append(got, result{err: err})

		child, err := k.CreateKernelProcess("child", func(c *Process) {
			for i := 0; i < 3; i++ {
				c.Kernel().Yield()
			}
			c.Kernel().Exit(7)
		})
		if err != nil {
			t.Errorf("CreateKernelProcess: %v", err)
			return
		}
		childPID = child.PID()
		pid, status, err := k.WaitPID(-1, WNOHANG)
		got = append(got, result{pid, status, err})
		pid, status, err = k.WaitPID(childPID, 0)
		got = append(got, result{pid, status, err})
		_, _, err = k.WaitPID(-1, 0)
		got = append(got, result{err: err})
	}); err != nil {
		t.Fatalf("CreateKernelProcess: %v", err)
	}
	if err := k.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []result{
		{err: kernerr.ECHILD},
		{},
		{pid: childPID, status: 7},
		{err: kernerr.ECHILD},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(result{}), cmp.Comparer(func(a, b error) bool { return errors.Is(a, b) })); diff != "" {
		t.Errorf("WaitPID results mismatch (-want +got):\n%s", diff)
	}
}

func TestBlockWakesOnNotify(t *testing.T) {
	k, _ := newTestKernel(t, Options{})
	var (
		q     waiter.Queue
		ready bool
		order []string
	)
	if _, err := k.CreateKernelProcess("consumer", func(p *Process) {
		order = append(order, "block")
		p.Kernel().Block(&q, func() bool { return ready })
		order = append(order, "woke")
	}); err != nil {
		t.Fatalf("CreateKernelProcess: %v", err)
	}
	if _, err := k.CreateKernelProcess("producer", func(p *Process) {
		order = append(order, "produce")
		ready = true
		q.Notify(waiter.EventIn)
	}); err != nil {
		t.Fatalf("CreateKernelProcess: %v", err)
	}
	if err := k.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"block", "produce", "woke"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if !q.IsEmpty() {
		t.Errorf("wait queue not empty after wake")
	}
}

func TestBlockWakesOnSchedulingPass(t *testing.T) {
	k, _ := newTestKernel(t, Options{})
	var (
		ready bool
		order []string
	)
	if _, err := k.CreateKernelProcess("consumer", func(p *Process) {
		order = append(order, "block")
		p.Kernel().Block(nil, func() bool { return ready })
		order = append(order, "woke")
	}); err != nil {
		t.Fatalf("CreateKernelProcess: %v", err)
	}
	if _, err := k.CreateKernelProcess("producer", func(p *Process) {
		order = append(order, "produce")
		ready = true
	}); err != nil {
		t.Fatalf("CreateKernelProcess: %v", err)
	}
	if err := k.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"block", "produce", "woke"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestOrphanReparentedToIdle(t *testing.T) {
	k, _ := newTestKernel(t, Options{})
	var (
		parentPID, orphanPID PID
		ppidAfter            PID = -1
		adopted              bool
	)
	parent, err := k.CreateKernelProcess("parent", func(p *Process) {
		orphan, err := p.Kernel().CreateKernelProcess("orphan", func(c *Process) {
			k := c.Kernel()
			for i := 0; i < 10; i++ {
				if _, ok := k.ProcessByPID(parentPID); !ok {
					break
				}
				k.Yield()
			}
			ppidAfter = c.PPID()
			_, adopted = k.Idle().children[c.PID()]
			k.Exit(3)
		})
		if err != nil {
			t.Errorf("CreateKernelProcess: %v", err)
			return
		}
		orphanPID = orphan.PID()
		if got := orphan.PPID(); got != parentPID {
			t.Errorf("orphan PPID before exit: got %d, want %d", got, parentPID)
		}
	})
	if err != nil {
		t.Fatalf("CreateKernelProcess: %v", err)
	}
	parentPID = parent.PID()

	// The watcher outlives the orphan and looks at idle once the orphan is
	// reaped.
	var (
		reaped       bool
		idleStatuses int
		stillChild   bool
	)
	if _, err := k.CreateKernelProcess("watcher", func(p *Process) {
		k := p.Kernel()
		for i := 0; i < 50; i++ {
			if orphanPID != 0 {
				if _, ok := k.ProcessByPID(orphanPID); !ok {
					reaped = true
					break
				}
			}
			k.Yield()
		}
		idleStatuses = len(k.Idle().childStatus)
		_, stillChild = k.Idle().children[orphanPID]
	}); err != nil {
		t.Fatalf("CreateKernelProcess: %v", err)
	}

	if err := k.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ppidAfter != k.Idle().PID() {
		t.Errorf("orphan PPID after parent exit: got %d, want %d", ppidAfter, k.Idle().PID())
	}
	if !adopted {
		t.Errorf("idle does not list orphan %d as a child", orphanPID)
	}
	if !reaped {
		t.Fatalf("orphan %d was never reaped", orphanPID)
	}
	if idleStatuses != 0 {
		t.Errorf("idle holds %d exit statuses, want 0", idleStatuses)
	}
	if stillChild {
		t.Errorf("reaped orphan %d still listed as a child of idle", orphanPID)
	}
}

func TestChildInheritsUser(t *testing.T) {
	k, _ := newTestKernel(t, Options{})
	want := User{UID: 1000, GID: 100}
	var got User
	parent, err := k.CreateKernelProcess("parent", func(p *Process) {
		child, err := p.Kernel().CreateKernelProcess("child", func(*Process) {})
		if err != nil {
			t.Errorf("CreateKernelProcess: %v", err)
			return
		}
		got = child.User()
	})
	if err != nil {
		t.Fatalf("CreateKernelProcess: %v", err)
	}
	if u := parent.User(); u != (User{}) {
		t.Errorf("User of a child of idle: got %v, want root", u)
	}
	parent.SetUser(want)
	if err := k.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != want {
		t.Errorf("child User: got %v, want %v", got, want)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	k, _ := newTestKernel(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := k.CreateKernelProcess("spin", func(p *Process) {
		cancel()
		spin(p)
	}); err != nil {
		t.Fatalf("CreateKernelProcess: %v", err)
	}
	if err := k.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run: got %v, want %v", err, context.Canceled)
	}
}

func TestKernelPanicStopsRun(t *testing.T) {
	k, _ := newTestKernel(t, Options{})
	if _, err := k.CreateKernelProcess("bad", func(p *Process) {
		p.Kernel().ExitCritical()
	}); err != nil {
		t.Fatalf("CreateKernelProcess: %v", err)
	}
	err := k.Run(context.Background())
	var kp *machine.Panic
	if !errors.As(err, &kp) {
		t.Fatalf("Run: got %v, want a *machine.Panic", err)
	}
}
