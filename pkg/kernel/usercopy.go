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
	"bytes"

	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/mem"
	"github.com/jsnal/os-sub000/pkg/mm/region"
)

// regionFor returns the user region holding all of [addr, addr+n), or nil.
// A range spanning two adjacent regions is rejected.
func (p *Process) regionFor(addr mem.VirtAddr, n uint32) *region.UserRegion {
	for _, r := range p.regions {
		if r.ContainsRange(addr, n) {
			return r
		}
	}
	return nil
}

// CheckRange returns EFAULT unless [addr, addr+n) lies inside one of p's
// regions and, if write is set, that region is writable. It never touches
// the memory.
func (p *Process) CheckRange(addr mem.VirtAddr, n uint32, write bool) error {
	if n == 0 {
		return nil
	}
	r := p.regionFor(addr, n)
	if r == nil || (write && !r.Access().Write) {
		return kernerr.EFAULT
	}
	return nil
}

func (p *Process) readUser(addr mem.VirtAddr, b []byte) error {
	if p.k.mm.Tables().IsActive(p.dir) {
		return p.k.mm.ReadVirtual(addr, b)
	}
	return p.k.mm.ReadFromDirectory(p.dir, addr, b)
}

func (p *Process) writeUser(addr mem.VirtAddr, b []byte) error {
	if p.k.mm.Tables().IsActive(p.dir) {
		return p.k.mm.WriteVirtual(addr, b)
	}
	return p.k.mm.WriteToDirectory(p.dir, addr, b)
}

// CopyIn copies n bytes at addr out of p's address space.
func (p *Process) CopyIn(addr mem.VirtAddr, n uint32) ([]byte, error) {
	if err := p.CheckRange(addr, n, false); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if err := p.readUser(addr, b); err != nil {
		return nil, kernerr.EFAULT
	}
	return b, nil
}

// CopyOut copies b to addr in p's address space.
func (p *Process) CopyOut(addr mem.VirtAddr, b []byte) error {
	if err := p.CheckRange(addr, uint32(len(b)), true); err != nil {
		return err
	}
	if err := p.writeUser(addr, b); err != nil {
		return kernerr.EFAULT
	}
	return nil
}

// CopyInUint32 reads a word at addr.
func (p *Process) CopyInUint32(addr mem.VirtAddr) (uint32, error) {
	b, err := p.CopyIn(addr, 4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// CopyOutUint32 writes a word at addr.
func (p *Process) CopyOutUint32(addr mem.VirtAddr, v uint32) error {
	return p.CopyOut(addr, []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// CopyInString copies a NUL terminated string at addr. The string, without
// its terminator, may be at most maxLen bytes long; a longer one is
// ERANGE. The string must end inside the region it starts in.
func (p *Process) CopyInString(addr mem.VirtAddr, maxLen int) (string, error) {
	var r *region.UserRegion
	if r = p.regionFor(addr, 1); r == nil {
		return "", kernerr.EFAULT
	}
	avail := uint32(r.Upper() - addr)
	n := uint32(maxLen) + 1
	if avail < n {
		n = avail
	}
	b := make([]byte, n)
	if err := p.readUser(addr, b); err != nil {
		return "", kernerr.EFAULT
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i]), nil
	}
	if n <= uint32(maxLen) {
		return "", kernerr.EFAULT
	}
	return "", kernerr.ERANGE
}

// CopyInVector copies a NULL terminated array of string pointers at addr,
// such as argv. At most maxCount strings of at most maxLen bytes each are
// accepted.
func (p *Process) CopyInVector(addr mem.VirtAddr, maxCount, maxLen int) ([]string, error) {
	var v []string
	for {
		ptr, err := p.CopyInUint32(addr)
		if err != nil {
			return nil, err
		}
		if ptr == 0 {
			return v, nil
		}
		if len(v) == maxCount {
			return nil, kernerr.E2BIG
		}
		s, err := p.CopyInString(mem.VirtAddr(ptr), maxLen)
		if err != nil {
			return nil, err
		}
		v = append(v, s)
		addr += 4
	}
}
