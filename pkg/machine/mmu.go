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

package machine

import (
	"fmt"

	"github.com/jsnal/os-sub000/pkg/mem"
)

// Page directory and page table entry bits.
const (
	PTEPresent  = 1 << 0
	PTEWritable = 1 << 1
	PTEUser     = 1 << 2
	PTEAccessed = 1 << 5
	PTEDirty    = 1 << 6

	// PTEAddressMask selects the frame address of an entry.
	PTEAddressMask = ^uint32(mem.PageSize - 1)
)

// Page fault error code bits.
const (
	PFProtection = 1 << 0
	PFWrite      = 1 << 1
	PFUser       = 1 << 2
)

// PageFault describes a failed translation.
type PageFault struct {
	Addr mem.VirtAddr
	Code uint32
}

// Error implements error.Error.
func (f *PageFault) Error() string {
	kind := "not-present"
	if f.Code&PFProtection != 0 {
		kind = "protection"
	}
	op := "read"
	if f.Code&PFWrite != 0 {
		op = "write"
	}
	mode := "supervisor"
	if f.Code&PFUser != 0 {
		mode = "user"
	}
	return fmt.Sprintf("page fault at %v: %s %s %s", f.Addr, mode, kind, op)
}

type tlbEntry struct {
	frame    mem.PhysAddr
	writable bool
	user     bool
}

// MMU walks two-level page tables rooted at CR3 and caches translations in a
// TLB. The TLB is only invalidated by Invlpg and LoadCR3.
type MMU struct {
	mem     *PhysicalMemory
	cr3     mem.PhysAddr
	paging  bool
	tlb     map[uint32]tlbEntry
	flushes uint64
}

func newMMU(m *PhysicalMemory) *MMU {
	return &MMU{mem: m, tlb: make(map[uint32]tlbEntry)}
}

// CR3 returns the physical address of the active page directory.
func (u *MMU) CR3() mem.PhysAddr {
	return u.cr3
}

// PagingEnabled returns true once a directory has been loaded.
func (u *MMU) PagingEnabled() bool {
	return u.paging
}

// LoadCR3 switches to the directory at dir, enables paging and flushes the
// TLB.
func (u *MMU) LoadCR3(dir mem.PhysAddr) {
	u.cr3 = dir
	u.paging = true
	u.FlushTLB()
}

// Invlpg drops the cached translation for v.
func (u *MMU) Invlpg(v mem.VirtAddr) {
	delete(u.tlb, uint32(v)>>mem.PageShift)
}

// FlushTLB drops every cached translation.
func (u *MMU) FlushTLB() {
	clear(u.tlb)
	u.flushes++
}

// Flushes returns the number of full TLB flushes.
func (u *MMU) Flushes() uint64 {
	return u.flushes
}

// TLBSize returns the number of cached translations.
func (u *MMU) TLBSize() int {
	return len(u.tlb)
}

// Translate resolves v for an access of the given kind. Supervisor writes
// ignore the writable bit.
func (u *MMU) Translate(v mem.VirtAddr, write, user bool) (mem.PhysAddr, error) {
	if !u.paging {
		return mem.PhysAddr(v), nil
	}
	code := uint32(0)
	if write {
		code |= PFWrite
	}
	if user {
		code |= PFUser
	}
	vpn := uint32(v) >> mem.PageShift
	e, ok := u.tlb[vpn]
	if !ok {
		pde := u.mem.Read32(u.cr3.Add(uint32(v.DirectoryIndex()) * 4))
		if pde&PTEPresent == 0 {
			return 0, &PageFault{Addr: v, Code: code}
		}
		table := mem.PhysAddr(pde & PTEAddressMask)
		pte := u.mem.Read32(table.Add(uint32(v.TableIndex()) * 4))
		if pte&PTEPresent == 0 {
			return 0, &PageFault{Addr: v, Code: code}
		}
		e = tlbEntry{
			frame:    mem.PhysAddr(pte & PTEAddressMask),
			writable: pde&pte&PTEWritable != 0,
			user:     pde&pte&PTEUser != 0,
		}
		u.tlb[vpn] = e
	}
	if user && (!e.user || (write && !e.writable)) {
		return 0, &PageFault{Addr: v, Code: code | PFProtection}
	}
	return e.frame.Add(v.PageOffset()), nil
}

func (u *MMU) access(v mem.VirtAddr, b []byte, write, user bool) error {
	for len(b) > 0 {
		p, err := u.Translate(v, write, user)
		if err != nil {
			return err
		}
		n := min(len(b), int(mem.PageSize-v.PageOffset()))
		if write {
			u.mem.Write(p, b[:n])
		} else {
			u.mem.Read(p, b[:n])
		}
		b = b[n:]
		v += mem.VirtAddr(n)
	}
	return nil
}
