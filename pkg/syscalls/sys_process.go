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

package syscalls

import (
	"github.com/jsnal/os-sub000/pkg/kernel"
	"github.com/jsnal/os-sub000/pkg/machine"
)

// Exit implements exit(2). It does not return.
func Exit(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	p.Kernel().Exit(args[0].Int())
	return 0, nil
}

// Fork implements fork(2). The child resumes from the same trap with eax
// set to 0; the parent gets the child's pid.
func Fork(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	child, err := p.Fork(tf)
	if err != nil {
		return 0, err
	}
	return uint32(child.PID()), nil
}

// Execve implements execve(2). The environment argument is ignored.
func Execve(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	pathAddr := args[0].Pointer()
	argvAddr := args[1].Pointer()

	pathname, err := p.CopyInString(pathAddr, MaxPathLen)
	if err != nil {
		return 0, err
	}
	var argv []string
	if argvAddr != 0 {
		if argv, err = p.CopyInVector(argvAddr, MaxArgs, MaxPathLen); err != nil {
			return 0, err
		}
	}
	abs, err := p.ResolvePath(pathname)
	if err != nil {
		return 0, err
	}
	if len(argv) == 0 {
		argv = []string{pathname}
	}
	if err := p.Exec(tf, abs, argv); err != nil {
		return 0, err
	}
	return 0, nil
}

// Waitpid implements waitpid(2). The exit status is stored as passed to
// exit, without encoding.
func Waitpid(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	pid := kernel.PID(args[0].Int())
	statusAddr := args[1].Pointer()
	options := int(args[2].Uint())

	if statusAddr != 0 {
		if err := p.CheckRange(statusAddr, 4, true); err != nil {
			return 0, err
		}
	}
	child, status, err := p.Kernel().WaitPID(pid, options)
	if err != nil {
		return 0, err
	}
	if child != 0 && statusAddr != 0 {
		if err := p.CopyOutUint32(statusAddr, uint32(status)); err != nil {
			return 0, err
		}
	}
	return uint32(child), nil
}

// Getpid implements getpid(2).
func Getpid(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	return uint32(p.PID()), nil
}

// Getppid implements getppid(2).
func Getppid(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	return uint32(p.PPID()), nil
}

// Getuid implements getuid(2).
func Getuid(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	return p.User().UID, nil
}
