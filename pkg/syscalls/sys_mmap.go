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
	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/kernel"
	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/mem"
)

// Memory protection bits. Values match Linux.
const (
	ProtRead  = 0x1
	ProtWrite = 0x2
	ProtExec  = 0x4
)

// Mmap implements an anonymous mmap(addr, length, prot). The new region is
// zero filled.
func Mmap(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	addr := args[0].Pointer()
	length := args[1].SizeT()
	prot := args[2].Uint()

	if prot&^(ProtRead|ProtWrite|ProtExec) != 0 || prot == 0 {
		return 0, kernerr.EINVAL
	}
	access := mem.AccessType{
		Read:    prot&ProtRead != 0,
		Write:   prot&ProtWrite != 0,
		Execute: prot&ProtExec != 0,
	}
	va, err := p.Mmap(addr, length, access)
	if err != nil {
		return 0, err
	}
	return uint32(va), nil
}

// Munmap implements munmap(2). Only whole regions returned by Mmap can be
// unmapped.
func Munmap(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	return 0, p.Munmap(args[0].Pointer(), args[1].SizeT())
}
