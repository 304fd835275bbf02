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

package pagetables

import (
	"fmt"

	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/mem"
)

// Entry is a page directory or page table entry.
type Entry uint32

// Present returns true if the entry is present.
func (e Entry) Present() bool { return e&machine.PTEPresent != 0 }

// Writable returns true if the entry allows writes.
func (e Entry) Writable() bool { return e&machine.PTEWritable != 0 }

// User returns true if the entry is accessible from ring 3.
func (e Entry) User() bool { return e&machine.PTEUser != 0 }

// Address returns the frame the entry points to.
func (e Entry) Address() mem.PhysAddr { return mem.PhysAddr(uint32(e) & machine.PTEAddressMask) }

// String implements fmt.Stringer.String.
func (e Entry) String() string {
	flags := []byte("---")
	if e.Present() {
		flags[0] = 'p'
	}
	if e.Writable() {
		flags[1] = 'w'
	}
	if e.User() {
		flags[2] = 'u'
	}
	return fmt.Sprintf("%#08x %s", uint32(e.Address()), flags)
}

// makeEntry builds a present entry for p.
func makeEntry(p mem.PhysAddr, writable, user bool) Entry {
	e := Entry(uint32(p)&machine.PTEAddressMask) | machine.PTEPresent
	if writable {
		e |= machine.PTEWritable
	}
	if user {
		e |= machine.PTEUser
	}
	return e
}

// PTE locates one leaf entry.
type PTE struct {
	// Table is the page table holding the entry.
	Table mem.PhysAddr

	// Index is the entry's index inside Table.
	Index int

	// Value is the entry as it was when the PTE was fetched.
	Value Entry
}

func (p PTE) addr() mem.PhysAddr {
	return p.Table.Add(uint32(p.Index) * 4)
}
