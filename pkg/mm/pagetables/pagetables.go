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

// Package pagetables builds and mutates two-level i386 page tables.
//
// Every entry write goes through Manager.update or Manager.bulkUpdate, which
// invalidate the TLB as part of the same operation. Page tables and
// directories are kernel frames and are always read and written through the
// kernel window once paging is on.
package pagetables

import (
	"github.com/jsnal/os-sub000/pkg/abi/errno"
	"github.com/jsnal/os-sub000/pkg/errors"
	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/mem"
	"github.com/jsnal/os-sub000/pkg/metric"
	"github.com/jsnal/os-sub000/pkg/mm/addrspace"
	"github.com/jsnal/os-sub000/pkg/mm/frames"
)

// Errors returned by the manager.
var (
	ErrNotMapped          = errors.New(errno.EINVAL, "virtual page not mapped")
	ErrAlreadyMapped      = errors.New(errno.EEXIST, "virtual page already mapped")
	ErrTemporaryMapBusy   = errors.New(errno.EBUSY, "temporary mapping already in use")
	ErrTemporaryMapIdle   = errors.New(errno.EINVAL, "no temporary mapping active")
	ErrDirectoryActive    = errors.New(errno.EBUSY, "page directory is loaded in CR3")
	ErrKernelDirectory    = errors.New(errno.EINVAL, "operation not allowed on the kernel directory")
	ErrDirectoryDestroyed = errors.New(errno.EINVAL, "page directory destroyed")
	ErrWindowTooSmall     = errors.New(errno.EINVAL, "kernel window must be a non-zero multiple of 4 MiB")
)

var (
	tablesAllocated = metric.MustCreateNewUint64Metric("/mm/pagetables/tables", "Number of page tables allocated, by half.", metric.NewField("half", []string{"kernel", "user"}))
	invalidations   = metric.MustCreateNewUint64Metric("/mm/pagetables/invalidations", "Number of TLB invalidations, by kind.", metric.NewField("kind", []string{"page", "full"}))
)

// TableSource provides frames for directories and tables.
type TableSource interface {
	AllocatePage() (frames.KernelFrame, error)
	FreePage(frames.KernelFrame) error
}

// Manager owns the kernel directory and every live user directory.
type Manager struct {
	m      *machine.Machine
	tables TableSource

	// window is the size of the kernel window at mem.KernelBase.
	window uint32

	kernel *Directory

	// users holds the live user directories, keyed by directory frame.
	users map[mem.PhysAddr]*Directory

	// tempTable is the page table covering mem.TemporaryMapAddr.
	tempTable mem.PhysAddr
	tempBusy  bool
}

// New builds the kernel directory. It maps the kernel window
// [KernelBase, KernelBase+window) onto physical [0, window) and preallocates
// the table holding the temporary mapping slot. Every frame tables hands out
// must lie inside the window.
func New(m *machine.Machine, tables TableSource, window uint32) (*Manager, error) {
	if window == 0 || window%mem.TableSpan != 0 || uint64(window) > uint64(mem.TemporaryMapAddr-mem.KernelBase) {
		return nil, ErrWindowTooSmall
	}
	pm := &Manager{
		m:      m,
		tables: tables,
		window: window,
		users:  make(map[mem.PhysAddr]*Directory),
	}
	dirFrame, err := pm.allocateTable()
	if err != nil {
		return nil, err
	}
	alloc, err := addrspace.New(mem.VirtRange{Start: mem.KernelBase + mem.VirtAddr(window), End: mem.TemporaryMapAddr})
	if err != nil {
		return nil, err
	}
	pm.kernel = &Directory{kind: KernelDirectory, phys: dirFrame, alloc: alloc}

	var writes []write
	for off := uint32(0); off < window; off += mem.PageSize {
		v := mem.KernelBase + mem.VirtAddr(off)
		pte, err := pm.GetPageTableEntry(pm.kernel, v, false)
		if err != nil {
			return nil, err
		}
		writes = append(writes, write{pte.addr(), makeEntry(mem.PhysAddr(off), true, false)})
	}
	pm.bulkUpdate(writes)

	tmp, err := pm.GetPageTableEntry(pm.kernel, mem.TemporaryMapAddr, false)
	if err != nil {
		return nil, err
	}
	pm.tempTable = tmp.Table
	return pm, nil
}

// Kernel returns the kernel directory.
func (pm *Manager) Kernel() *Directory {
	return pm.kernel
}

// Window returns the size of the kernel window.
func (pm *Manager) Window() uint32 {
	return pm.window
}

// UserDirectories returns the number of live user directories.
func (pm *Manager) UserDirectories() int {
	return len(pm.users)
}

// Activate loads dir into CR3.
func (pm *Manager) Activate(dir *Directory) {
	pm.m.MMU.LoadCR3(dir.phys)
	invalidations.Increment("full")
}

// IsActive returns true if dir is loaded in CR3.
func (pm *Manager) IsActive(dir *Directory) bool {
	return pm.m.MMU.PagingEnabled() && pm.m.MMU.CR3() == dir.phys
}

// entryVirt returns the kernel window address of physical table memory.
func (pm *Manager) entryVirt(p mem.PhysAddr) mem.VirtAddr {
	v, ok := mem.PhysToKernelVirt(p, pm.window)
	if !ok {
		panic(pm.m.Panicf(nil, "page table memory %v outside the kernel window", p))
	}
	return v
}

func (pm *Manager) readEntry(p mem.PhysAddr) Entry {
	if !pm.m.MMU.PagingEnabled() {
		return Entry(pm.m.Mem.Read32(p))
	}
	w, err := pm.m.Read32Virtual(pm.entryVirt(p))
	if err != nil {
		panic(pm.m.Panicf(nil, "reading page table entry %v: %v", p, err))
	}
	return Entry(w)
}

func (pm *Manager) writeEntry(p mem.PhysAddr, e Entry) {
	if !pm.m.MMU.PagingEnabled() {
		pm.m.Mem.Write32(p, uint32(e))
		return
	}
	if err := pm.m.Write32Virtual(pm.entryVirt(p), uint32(e)); err != nil {
		panic(pm.m.Panicf(nil, "writing page table entry %v: %v", p, err))
	}
}

// zeroTable clears a freshly allocated directory or table.
func (pm *Manager) zeroTable(p mem.PhysAddr) {
	if !pm.m.MMU.PagingEnabled() {
		pm.m.Mem.ZeroFrame(p)
		return
	}
	if err := pm.m.WriteVirtual(pm.entryVirt(p), make([]byte, mem.PageSize)); err != nil {
		panic(pm.m.Panicf(nil, "clearing page table %v: %v", p, err))
	}
}

// update writes one entry and invalidates the translation of v.
func (pm *Manager) update(at mem.PhysAddr, e Entry, v mem.VirtAddr) {
	pm.writeEntry(at, e)
	pm.m.MMU.Invlpg(v)
	invalidations.Increment("page")
}

type write struct {
	at mem.PhysAddr
	e  Entry
}

// bulkUpdate writes several entries and flushes the whole TLB.
func (pm *Manager) bulkUpdate(writes []write) {
	for _, w := range writes {
		pm.writeEntry(w.at, w.e)
	}
	pm.m.MMU.FlushTLB()
	invalidations.Increment("full")
}

func (pm *Manager) allocateTable() (mem.PhysAddr, error) {
	f, err := pm.tables.AllocatePage()
	if err != nil {
		return 0, err
	}
	p := frames.Addr(f)
	if uint32(p) >= pm.window {
		pm.tables.FreePage(f)
		panic(pm.m.Panicf(nil, "page table frame %v outside the kernel window", p))
	}
	pm.zeroTable(p)
	return p, nil
}

// target returns the directory that holds mappings for v: kernel-half
// addresses always live in the kernel directory.
func (pm *Manager) target(dir *Directory, v mem.VirtAddr) *Directory {
	if v.IsKernel() {
		return pm.kernel
	}
	return dir
}

// GetPageTableEntry returns the leaf entry for v, creating its page table if
// the covering directory entry is not present. The new table's directory
// entry is user-accessible iff user is set.
func (pm *Manager) GetPageTableEntry(dir *Directory, v mem.VirtAddr, user bool) (PTE, error) {
	if dir.destroyed {
		return PTE{}, ErrDirectoryDestroyed
	}
	dir = pm.target(dir, v)
	pdeAddr := dir.phys.Add(uint32(v.DirectoryIndex()) * 4)
	pde := pm.readEntry(pdeAddr)
	if !pde.Present() {
		table, err := pm.allocateTable()
		if err != nil {
			return PTE{}, err
		}
		pde = makeEntry(table, true, user)
		if dir.kind == KernelDirectory {
			tablesAllocated.Increment("kernel")
			pm.setKernelPDE(v, pde)
		} else {
			tablesAllocated.Increment("user")
			pm.update(pdeAddr, pde, v)
		}
	} else if user && !pde.User() {
		pde |= machine.PTEUser
		pm.update(pdeAddr, pde, v)
	}
	pte := PTE{Table: pde.Address(), Index: v.TableIndex()}
	pte.Value = pm.readEntry(pte.addr())
	return pte, nil
}

// setKernelPDE installs a kernel directory entry. Entries shared with user
// directories are copied into every live one.
func (pm *Manager) setKernelPDE(v mem.VirtAddr, pde Entry) {
	off := uint32(v.DirectoryIndex()) * 4
	pm.update(pm.kernel.phys.Add(off), pde, v)
	if !v.IsKernel() && v.DirectoryIndex() != 0 {
		return
	}
	for _, d := range pm.users {
		pm.update(d.phys.Add(off), pde, v)
	}
}

// Map maps the page at v to the frame p in dir.
func (pm *Manager) Map(dir *Directory, v mem.VirtAddr, p mem.PhysAddr, at mem.AccessType, user bool) error {
	if !v.IsPageAligned() || !p.IsPageAligned() {
		return addrspace.ErrNotPageAligned
	}
	if v.IsKernel() {
		user = false
	}
	pte, err := pm.GetPageTableEntry(dir, v, user)
	if err != nil {
		return err
	}
	if pte.Value.Present() {
		return ErrAlreadyMapped
	}
	pm.update(pte.addr(), makeEntry(p, at.Write, user), v)
	return nil
}

// lookup returns the leaf entry for v without creating tables.
func (pm *Manager) lookup(dir *Directory, v mem.VirtAddr) (PTE, bool) {
	dir = pm.target(dir, v)
	pde := pm.readEntry(dir.phys.Add(uint32(v.DirectoryIndex()) * 4))
	if !pde.Present() {
		return PTE{}, false
	}
	pte := PTE{Table: pde.Address(), Index: v.TableIndex()}
	pte.Value = pm.readEntry(pte.addr())
	return pte, true
}

// RemovePageTableEntry clears the leaf entry for v. The page table itself is
// kept.
func (pm *Manager) RemovePageTableEntry(dir *Directory, v mem.VirtAddr) error {
	if dir.destroyed {
		return ErrDirectoryDestroyed
	}
	pte, ok := pm.lookup(dir, v.RoundDown())
	if !ok || !pte.Value.Present() {
		return ErrNotMapped
	}
	pm.update(pte.addr(), pte.Value&^(machine.PTEPresent|machine.PTEWritable), v)
	return nil
}

// Unmap is RemovePageTableEntry.
func (pm *Manager) Unmap(dir *Directory, v mem.VirtAddr) error {
	return pm.RemovePageTableEntry(dir, v)
}

// Translate walks dir in software and returns the frame mapped at v and its
// leaf entry.
func (pm *Manager) Translate(dir *Directory, v mem.VirtAddr) (mem.PhysAddr, Entry, error) {
	if dir.destroyed {
		return 0, 0, ErrDirectoryDestroyed
	}
	pte, ok := pm.lookup(dir, v)
	if !ok || !pte.Value.Present() {
		return 0, 0, ErrNotMapped
	}
	return pte.Value.Address().Add(v.PageOffset()), pte.Value, nil
}

// IdentityMap maps every page of [r.Start, r.End) onto the same physical
// address, writable and supervisor only.
func (pm *Manager) IdentityMap(dir *Directory, r mem.VirtRange) error {
	if !r.IsPageAligned() {
		return addrspace.ErrNotPageAligned
	}
	var writes []write
	for v := r.Start; v < r.End; v += mem.PageSize {
		pte, err := pm.GetPageTableEntry(dir, v, false)
		if err != nil {
			return err
		}
		writes = append(writes, write{pte.addr(), makeEntry(mem.PhysAddr(v), true, false)})
	}
	pm.bulkUpdate(writes)
	return nil
}

// ProtectedMap makes every page of r not present, so any access faults.
func (pm *Manager) ProtectedMap(dir *Directory, r mem.VirtRange) error {
	if !r.IsPageAligned() {
		return addrspace.ErrNotPageAligned
	}
	var writes []write
	for v := r.Start; v < r.End; v += mem.PageSize {
		pte, err := pm.GetPageTableEntry(dir, v, false)
		if err != nil {
			return err
		}
		writes = append(writes, write{pte.addr(), 0})
	}
	pm.bulkUpdate(writes)
	return nil
}

// TemporaryMap maps p at mem.TemporaryMapAddr in every address space. Only
// one temporary mapping may be active.
func (pm *Manager) TemporaryMap(p mem.PhysAddr) (mem.VirtAddr, error) {
	if pm.tempBusy {
		return 0, ErrTemporaryMapBusy
	}
	if !p.IsPageAligned() {
		return 0, addrspace.ErrNotPageAligned
	}
	pm.tempBusy = true
	pm.update(pm.tempTable.Add(uint32(mem.TemporaryMapAddr.TableIndex())*4), makeEntry(p, true, false), mem.TemporaryMapAddr)
	return mem.TemporaryMapAddr, nil
}

// TemporaryUnmap tears down the temporary mapping.
func (pm *Manager) TemporaryUnmap() error {
	if !pm.tempBusy {
		return ErrTemporaryMapIdle
	}
	pm.update(pm.tempTable.Add(uint32(mem.TemporaryMapAddr.TableIndex())*4), 0, mem.TemporaryMapAddr)
	pm.tempBusy = false
	return nil
}

// TemporaryMapped returns true while a temporary mapping is active.
func (pm *Manager) TemporaryMapped() bool {
	return pm.tempBusy
}
