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
	"path"

	"github.com/jsnal/os-sub000/pkg/cleanup"
	"github.com/jsnal/os-sub000/pkg/fs"
	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/mm/pagetables"
	"github.com/jsnal/os-sub000/pkg/waiter"
)

// newProcess allocates a child of the current process with a fresh kernel
// stack. The child runs as its parent's user. The process is Created and not yet on the run queue.
func (k *Kernel) newProcess(name string, dir *pagetables.Directory, kernel bool) (*Process, error) {
	kstack, err := k.mm.AllocateKernelRegion(k.opts.KernelStackSize)
	if err != nil {
		return nil, err
	}
	p := &Process{
		k:           k,
		pid:         k.nextPID,
		name:        name,
		state:       Created,
		kernel:      kernel,
		dir:         dir,
		kstack:      kstack,
		critDepth:   1,
		savedIF:     true,
		children:    make(map[PID]struct{}),
		childStatus: make(map[PID]int32),
	}
	p.waitEntry = waiter.NewFunctionEntry(p, func(*waiter.Entry, waiter.EventMask) {
		if p.state == Waiting {
			p.state = Ready
		}
	})
	k.nextPID++
	if parent := k.parentForNew(); parent != nil {
		p.ppid = parent.pid
		p.user = parent.user
		parent.children[p.pid] = struct{}{}
	}
	p.handle = k.procs.Insert(p)
	k.pids[p.pid] = p.handle
	return p, nil
}

// parentForNew returns the parent of a process created now: the current
// process, or idle when called from outside any process.
func (k *Kernel) parentForNew() *Process {
	if k.current != nil {
		return k.current
	}
	return k.idle
}

// start makes p runnable at the kernel entry point eip. New processes begin
// inside one critical section, which their entry point leaves.
func (k *Kernel) start(p *Process, eip uint32) error {
	esp, err := k.m.BuildSwitchFrame(p.kernelStackTop(), eip)
	if err != nil {
		return err
	}
	k.enqueue(p, esp)
	return nil
}

// enqueue appends p, parked at esp, to the run queue.
func (k *Kernel) enqueue(p *Process, esp uint32) {
	p.savedESP = esp
	p.state = Ready
	k.runQueue = append(k.runQueue, p)
	k.alive++
}

// CreateKernelProcess starts a process running body in ring 0 on the kernel
// directory. The process exits with status 0 when body returns. It is a
// child of the calling process.
func (k *Kernel) CreateKernelProcess(name string, body func(p *Process)) (*Process, error) {
	defer k.Critical()()
	p, err := k.newProcess(name, k.mm.KernelDirectory(), true)
	if err != nil {
		return nil, err
	}
	p.body = body
	if err := k.start(p, k.kernelEntry); err != nil {
		k.release(p)
		return nil, err
	}
	processesCreated.Increment("kernel")
	log.Debugf("Created kernel process %v", p)
	return p, nil
}

// CreateUserProcess starts a process that loads the executable at the
// absolute path filename with arguments argv and runs it in ring 3. Errors
// loading the executable are reported when the process first runs, by its
// exit status 127.
func (k *Kernel) CreateUserProcess(filename string, argv []string) (*Process, error) {
	defer k.Critical()()
	dir, err := k.mm.NewUserDirectory()
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(func() { k.mm.DestroyDirectory(dir) })
	defer cu.Clean()

	p, err := k.newProcess(path.Base(filename), dir, false)
	if err != nil {
		return nil, err
	}
	cu.Release()
	cu = cleanup.Make(func() { k.release(p) })
	defer cu.Clean()

	p.fds = k.NewFDTable()
	if k.opts.Stdio != nil {
		stdio := k.NewFileDescription(k.opts.Stdio, fs.O_RDWR, "/dev/console")
		for fd := int32(0); fd < 3; fd++ {
			p.fds.NewFDAt(fd, stdio)
		}
		stdio.DecRef()
	}
	p.exec = &execArgs{path: filename, argv: argv}
	if err := k.start(p, k.userEntry); err != nil {
		return nil, err
	}
	cu.Release()
	processesCreated.Increment("user")
	log.Debugf("Created user process %v for %s", p, filename)
	return p, nil
}

// kernelProcessStart is the first code run by a kernel process.
func (k *Kernel) kernelProcessStart() {
	p := k.current
	k.ExitCritical()
	p.body(p)
	k.Exit(0)
}

// userProcessStart is the first code run by a user process: it loads the
// executable into the process's address space and enters ring 3.
func (k *Kernel) userProcessStart() {
	p := k.current
	args := p.exec
	p.exec = nil
	img, err := k.load(p.dir, args.path, args.argv)
	if err != nil {
		log.Warningf("%v: cannot execute %s: %v", p, args.path, err)
		k.Exit(127)
	}
	p.regions = img.regions
	tf := machine.NewUserFrame(img.entry, img.stack)
	k.enterUser(&tf)
}

// forkReturn is the first code run by a forked child. Its trap frame is
// already on the stack.
func (k *Kernel) forkReturn() {
	k.enterUser(nil)
}

// enterUser leaves the initial critical section and irets to ring 3 through
// tf, or through the frame at the stack pointer if tf is nil. IF stays clear
// until iret loads the user flags.
func (k *Kernel) enterUser(tf *machine.TrapFrame) {
	if k.depth != 1 {
		panic(k.m.Panicf(tf, "entering user mode at critical depth %d", k.depth))
	}
	k.depth = 0
	if tf != nil {
		esp := k.m.Regs.ESP() - machine.TrapFrameSize
		if err := k.m.WriteTrapFrame(esp, tf); err != nil {
			panic(k.m.Panicf(tf, "writing initial trap frame: %v", err))
		}
		k.m.Regs.SetESP(esp)
	}
	k.m.Iret()
}
