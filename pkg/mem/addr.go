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

// Package mem defines the address types shared by the memory subsystems.
//
// Physical and virtual addresses are distinct types. The only sanctioned
// conversions between them are KernelVirtToPhys and PhysToKernelVirt, which
// are valid inside the kernel window where physical memory is mapped at a
// fixed offset.
package mem

import "fmt"

const (
	// PageShift is the binary log of PageSize.
	PageShift = 12

	// PageSize is the size of a page and of a physical frame.
	PageSize = 1 << PageShift

	// EntriesPerTable is the number of entries in a page directory or page
	// table.
	EntriesPerTable = 1024

	// TableSpan is the amount of virtual memory covered by one page table
	// (one page directory entry).
	TableSpan = EntriesPerTable * PageSize

	// KernelBase is the first virtual address of the kernel half.
	KernelBase VirtAddr = 0xC0000000

	// KernelFirstPDE is the index of the first directory entry of the kernel
	// half.
	KernelFirstPDE = int(KernelBase >> 22)

	// UserBase is the lowest virtual address user regions may occupy. The
	// first 4 MiB stay reserved for the kernel's identity map.
	UserBase VirtAddr = TableSpan

	// TemporaryMapAddr is the single kernel slot used by the temporary
	// mapping mechanism.
	TemporaryMapAddr VirtAddr = 0xFFFFF000

	// MiB is one mebibyte.
	MiB = 1 << 20
)

// PhysAddr is a physical address.
type PhysAddr uint32

// VirtAddr is a virtual address.
type VirtAddr uint32

// String implements fmt.Stringer.String.
func (p PhysAddr) String() string {
	return fmt.Sprintf("P%#08x", uint32(p))
}

// IsPageAligned returns true if p is aligned to a page boundary.
func (p PhysAddr) IsPageAligned() bool {
	return p&(PageSize-1) == 0
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (p PhysAddr) RoundDown() PhysAddr {
	return p &^ (PageSize - 1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (p PhysAddr) RoundUp() (addr PhysAddr, ok bool) {
	addr = PhysAddr(p + PageSize - 1).RoundDown()
	ok = addr >= p
	return
}

// PageOffset returns the offset of p into its page.
func (p PhysAddr) PageOffset() uint32 {
	return uint32(p & (PageSize - 1))
}

// Frame returns the frame number containing p.
func (p PhysAddr) Frame() uint32 {
	return uint32(p) >> PageShift
}

// Add returns p + n.
func (p PhysAddr) Add(n uint32) PhysAddr {
	return p + PhysAddr(n)
}

// String implements fmt.Stringer.String.
func (v VirtAddr) String() string {
	return fmt.Sprintf("V%#08x", uint32(v))
}

// IsPageAligned returns true if v is aligned to a page boundary.
func (v VirtAddr) IsPageAligned() bool {
	return v&(PageSize-1) == 0
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v VirtAddr) RoundDown() VirtAddr {
	return v &^ (PageSize - 1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v VirtAddr) RoundUp() (addr VirtAddr, ok bool) {
	addr = VirtAddr(v + PageSize - 1).RoundDown()
	ok = addr >= v
	return
}

// PageOffset returns the offset of v into its page.
func (v VirtAddr) PageOffset() uint32 {
	return uint32(v & (PageSize - 1))
}

// AddLength adds the given length to v and returns the result. ok is true
// iff adding the length did not overflow.
func (v VirtAddr) AddLength(length uint32) (end VirtAddr, ok bool) {
	end = v + VirtAddr(length)
	ok = end >= v
	return
}

// ToRange returns [v, v+length).
func (v VirtAddr) ToRange(length uint32) (VirtRange, bool) {
	end, ok := v.AddLength(length)
	return VirtRange{v, end}, ok
}

// DirectoryIndex returns the index of the page directory entry covering v.
func (v VirtAddr) DirectoryIndex() int {
	return int(v >> 22)
}

// TableIndex returns the index of the page table entry covering v.
func (v VirtAddr) TableIndex() int {
	return int(v>>PageShift) & (EntriesPerTable - 1)
}

// IsKernel returns true if v lies in the kernel half.
func (v VirtAddr) IsKernel() bool {
	return v >= KernelBase
}

// KernelVirtToPhys converts an address inside the kernel window to the
// physical address it aliases. ok is false outside the window.
func KernelVirtToPhys(v VirtAddr, window uint32) (PhysAddr, bool) {
	if v < KernelBase || uint32(v-KernelBase) >= window {
		return 0, false
	}
	return PhysAddr(v - KernelBase), true
}

// PhysToKernelVirt converts a physical address to its alias inside the kernel
// window. ok is false if p lies beyond the window.
func PhysToKernelVirt(p PhysAddr, window uint32) (VirtAddr, bool) {
	if uint32(p) >= window {
		return 0, false
	}
	return KernelBase + VirtAddr(p), true
}

// PagesFor returns the number of pages needed to hold length bytes.
func PagesFor(length uint32) uint32 {
	return uint32((uint64(length) + PageSize - 1) >> PageShift)
}
