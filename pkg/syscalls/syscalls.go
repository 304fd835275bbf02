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

// Package syscalls is the interface from user programs to the kernel.
//
// A system call is int 0x80 with the call number in eax and up to three
// arguments in ebx, ecx and edx. The result, or a negated errno, is returned
// in eax. Arguments come from untrusted code: no handler may panic on them.
package syscalls

import (
	"fmt"
	"time"

	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/interrupts"
	"github.com/jsnal/os-sub000/pkg/kernel"
	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/mem"
	"github.com/jsnal/os-sub000/pkg/metric"
)

// Sysno is a system call number.
type Sysno uint32

// System call numbers, in declaration order.
const (
	SysChdir Sysno = iota
	SysDbgWrite
	SysExecve
	SysExit
	SysFork
	SysFstat
	SysGetcwd
	SysGetdirentries
	SysGetpid
	SysGetppid
	SysGetuid
	SysIoctl
	SysIsatty
	SysMmap
	SysMunmap
	SysOpen
	SysRead
	SysWaitpid
	SysWrite
	numSyscalls
)

var sysnoNames = [numSyscalls]string{
	"chdir", "dbgwrite", "execve", "exit", "fork", "fstat", "getcwd",
	"getdirentries", "getpid", "getppid", "getuid", "ioctl", "isatty", "mmap",
	"munmap", "open", "read", "waitpid", "write",
}

// String implements fmt.Stringer.String.
func (s Sysno) String() string {
	if s >= numSyscalls {
		return fmt.Sprintf("sys_%d", uint32(s))
	}
	return sysnoNames[s]
}

// SysnoByName returns the number of the named system call.
func SysnoByName(name string) (Sysno, bool) {
	for i, n := range sysnoNames {
		if n == name {
			return Sysno(i), true
		}
	}
	return 0, false
}

// Limits on arguments copied from user memory.
const (
	// MaxPathLen is the longest path accepted, without the terminator.
	MaxPathLen = 1024

	// MaxArgs is the most argv strings execve accepts.
	MaxArgs = 64
)

var callsMetric = metric.MustCreateNewUint64Metric("/syscalls/calls", "Number of system calls, by name.", metric.NewField("name", append(sysnoNames[:], "unknown")))

// Argument is a system call argument.
type Argument struct {
	Value uint32
}

// Int returns the argument as a signed integer.
func (a Argument) Int() int32 { return int32(a.Value) }

// Uint returns the argument as an unsigned integer.
func (a Argument) Uint() uint32 { return a.Value }

// Pointer returns the argument as a user address.
func (a Argument) Pointer() mem.VirtAddr { return mem.VirtAddr(a.Value) }

// SizeT returns the argument as a byte count.
func (a Argument) SizeT() uint32 { return a.Value }

// Arguments are the arguments of one system call.
type Arguments [3]Argument

// Fn implements a system call for the calling process p. tf is the caller's
// trap frame; handlers that change the user context edit it.
type Fn func(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error)

// Syscall is a table entry.
type Syscall struct {
	Name string
	Fn   Fn
}

// Table dispatches system calls for one kernel.
type Table struct {
	k       *kernel.Kernel
	calls   [numSyscalls]Syscall
	unknown log.Logger
}

// NewTable returns the system call table of k.
func NewTable(k *kernel.Kernel) *Table {
	t := &Table{
		k:       k,
		unknown: log.BasicRateLimitedLogger(time.Second),
	}
	for sysno, fn := range map[Sysno]Fn{
		SysChdir:         Chdir,
		SysDbgWrite:      DbgWrite,
		SysExecve:        Execve,
		SysExit:          Exit,
		SysFork:          Fork,
		SysFstat:         Fstat,
		SysGetcwd:        Getcwd,
		SysGetdirentries: Getdirentries,
		SysGetpid:        Getpid,
		SysGetppid:       Getppid,
		SysGetuid:        Getuid,
		SysIoctl:         Ioctl,
		SysIsatty:        Isatty,
		SysMmap:          Mmap,
		SysMunmap:        Munmap,
		SysOpen:          Open,
		SysRead:          Read,
		SysWaitpid:       Waitpid,
		SysWrite:         Write,
	} {
		t.calls[sysno] = Syscall{Name: sysno.String(), Fn: fn}
	}
	return t
}

// Register installs t as the handler of int 0x80.
func (t *Table) Register(ic *interrupts.Controller) {
	ic.RegisterSyscall(t.Handle)
}

// Lookup returns the table entry for sysno.
func (t *Table) Lookup(sysno Sysno) (Syscall, bool) {
	if sysno >= numSyscalls {
		return Syscall{}, false
	}
	return t.calls[sysno], true
}

// Handle implements interrupts.SyscallHandler. Unknown calls are logged and
// return 0.
func (t *Table) Handle(tf *machine.TrapFrame) {
	p := t.k.Current()
	sysno := Sysno(tf.EAX)
	args := Arguments{{tf.EBX}, {tf.ECX}, {tf.EDX}}
	s, ok := t.Lookup(sysno)
	if !ok || p == nil || p.IsKernel() {
		callsMetric.Increment("unknown")
		t.unknown.Warningf("%v: unknown system call %d", p, uint32(sysno))
		tf.EAX = 0
		return
	}
	callsMetric.Increment(s.Name)
	rv, err := s.Fn(p, tf, args)
	if log.IsLogging(log.Debug) {
		log.Debugf("%v: %s(%#x, %#x, %#x) = %#x, %v", p, s.Name, args[0].Value, args[1].Value, args[2].Value, rv, err)
	}
	if err != nil {
		tf.EAX = kernerr.ToErrno(err).Negate()
		return
	}
	tf.EAX = rv
}
