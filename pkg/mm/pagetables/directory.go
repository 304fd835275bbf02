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

	"github.com/jsnal/os-sub000/pkg/cleanup"
	"github.com/jsnal/os-sub000/pkg/mem"
	"github.com/jsnal/os-sub000/pkg/mm/addrspace"
	"github.com/jsnal/os-sub000/pkg/mm/frames"
)

// Kind distinguishes the kernel directory from user directories.
type Kind int

const (
	// KernelDirectory is the one directory owned by the memory manager.
	KernelDirectory Kind = iota

	// UserDirectory is owned by one process.
	UserDirectory
)

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	if k == KernelDirectory {
		return "kernel"
	}
	return "user"
}

// Directory is a page directory frame plus the allocator for the part of the
// address space it owns.
type Directory struct {
	kind      Kind
	phys      mem.PhysAddr
	alloc     *addrspace.Allocator
	destroyed bool
}

// Kind returns the directory flavour.
func (d *Directory) Kind() Kind { return d.kind }

// Phys returns the directory frame, the value loaded into CR3.
func (d *Directory) Phys() mem.PhysAddr { return d.phys }

// Allocator returns the virtual range allocator of the directory.
func (d *Directory) Allocator() *addrspace.Allocator { return d.alloc }

// Destroyed returns true once DestroyDirectory has run.
func (d *Directory) Destroyed() bool { return d.destroyed }

// String implements fmt.Stringer.String.
func (d *Directory) String() string {
	return fmt.Sprintf("%v directory at %v", d.kind, d.phys)
}

// sharedEntries lists the directory entries copied from the kernel directory
// into every user directory: the low identity table and the kernel half.
func sharedEntries() []int {
	idx := []int{0}
	for i := mem.KernelFirstPDE; i < mem.EntriesPerTable; i++ {
		idx = append(idx, i)
	}
	return idx
}

// NewUserDirectory creates a user directory sharing the kernel's identity
// table and kernel half. Its allocator covers [UserBase, KernelBase).
func (pm *Manager) NewUserDirectory() (*Directory, error) {
	phys, err := pm.allocateTable()
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(func() { pm.tables.FreePage(frames.KernelFrame(phys)) })
	defer cu.Clean()

	alloc, err := addrspace.New(mem.VirtRange{Start: mem.UserBase, End: mem.KernelBase})
	if err != nil {
		return nil, err
	}
	dir := &Directory{kind: UserDirectory, phys: phys, alloc: alloc}
	var writes []write
	for _, i := range sharedEntries() {
		off := uint32(i) * 4
		if e := pm.readEntry(pm.kernel.phys.Add(off)); e.Present() {
			writes = append(writes, write{phys.Add(off), e})
		}
	}
	pm.bulkUpdate(writes)
	pm.users[phys] = dir
	cu.Release()
	return dir, nil
}

// DestroyDirectory frees a user directory and the page tables of its user
// half. The directory must not be loaded in CR3.
func (pm *Manager) DestroyDirectory(dir *Directory) error {
	if dir.kind == KernelDirectory {
		return ErrKernelDirectory
	}
	if dir.destroyed {
		return ErrDirectoryDestroyed
	}
	if pm.IsActive(dir) {
		return ErrDirectoryActive
	}
	for i := 1; i < mem.KernelFirstPDE; i++ {
		pde := pm.readEntry(dir.phys.Add(uint32(i) * 4))
		if !pde.Present() {
			continue
		}
		if err := pm.tables.FreePage(frames.KernelFrame(pde.Address())); err != nil {
			return err
		}
	}
	if err := pm.tables.FreePage(frames.KernelFrame(dir.phys)); err != nil {
		return err
	}
	delete(pm.users, dir.phys)
	dir.destroyed = true
	return nil
}

// MappedPages returns the number of present user-half leaf entries of dir.
func (pm *Manager) MappedPages(dir *Directory) int {
	n := 0
	for i := 1; i < mem.KernelFirstPDE; i++ {
		pde := pm.readEntry(dir.phys.Add(uint32(i) * 4))
		if !pde.Present() {
			continue
		}
		for j := 0; j < mem.EntriesPerTable; j++ {
			if pm.readEntry(pde.Address().Add(uint32(j)*4)).Present() {
				n++
			}
		}
	}
	return n
}
