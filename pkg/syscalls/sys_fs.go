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
)

// Chdir implements chdir(2).
func Chdir(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	pathname, err := p.CopyInString(args[0].Pointer(), MaxPathLen)
	if err != nil {
		return 0, err
	}
	return 0, p.Chdir(pathname)
}

// Getcwd implements getcwd(2). It returns the length of the path including
// its terminator.
func Getcwd(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	addr := args[0].Pointer()
	size := args[1].SizeT()

	if err := p.CheckRange(addr, size, true); err != nil {
		return 0, err
	}
	cwd := p.WorkingDirectory()
	buf := append([]byte(cwd), 0)
	if uint32(len(buf)) > size {
		return 0, kernerr.ERANGE
	}
	if err := p.CopyOut(addr, buf); err != nil {
		return 0, err
	}
	return uint32(len(buf)), nil
}
