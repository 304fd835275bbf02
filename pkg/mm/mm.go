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

// Package mm is the memory manager: it partitions physical memory at boot,
// owns the frame pools and the kernel directory, and creates the virtual
// regions used by the rest of the kernel.
//
// The memory manager is constructed once per machine by Boot and passed
// explicitly to its users.
package mm

import (
	"github.com/jsnal/os-sub000/pkg/cleanup"
	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/mem"
	"github.com/jsnal/os-sub000/pkg/metric"
	"github.com/jsnal/os-sub000/pkg/mm/addrspace"
	"github.com/jsnal/os-sub000/pkg/mm/frames"
	"github.com/jsnal/os-sub000/pkg/mm/pagetables"
	"github.com/jsnal/os-sub000/pkg/mm/region"
	"github.com/jsnal/os-sub000/pkg/multiboot"
)

var regionsCreated = metric.MustCreateNewUint64Metric("/mm/regions/created", "Number of virtual regions created, by kind.", metric.NewField("kind", []string{"kernel", "dma", "fixed", "user"}))

// Options configures Boot.
type Options struct {
	// KernelImage is the physical extent of the loaded kernel.
	KernelImage mem.PhysRange

	// KernelPoolSize is the size of the kernel pool. Zero means
	// DefaultKernelPoolSize.
	KernelPoolSize uint32
}

// MemoryManager owns physical memory and the kernel address space.
type MemoryManager struct {
	m      *machine.Machine
	layout Layout
	kernel *frames.Pool[frames.KernelFrame]
	user   *frames.Pool[frames.UserFrame]
	tables *pagetables.Manager
}

// Boot partitions memory, commits the pools, builds the kernel directory and
// turns paging on. The low 4 MiB stay identity mapped, except page 0 which
// always faults.
func Boot(m *machine.Machine, info *multiboot.Info, opts Options) (*MemoryManager, error) {
	layout, err := Partition(info, opts.KernelImage, opts.KernelPoolSize, m.Mem.Limit())
	if err != nil {
		return nil, err
	}
	mm := &MemoryManager{
		m:      m,
		layout: layout,
		kernel: frames.NewKernelPool(),
		user:   frames.NewUserPool(),
	}
	for _, r := range layout.Kernel {
		if err := addRegion(mm.kernel, r); err != nil {
			return nil, err
		}
	}
	for _, r := range layout.User {
		if err := addRegion(mm.user, r); err != nil {
			return nil, err
		}
	}

	tables, err := pagetables.New(m, mm.kernel, layout.Window)
	if err != nil {
		return nil, err
	}
	mm.tables = tables
	kdir := tables.Kernel()
	if err := tables.IdentityMap(kdir, mem.VirtRange{Start: mem.PageSize, End: mem.TableSpan}); err != nil {
		return nil, err
	}
	if err := tables.ProtectedMap(kdir, mem.VirtRange{Start: 0, End: mem.PageSize}); err != nil {
		return nil, err
	}
	tables.Activate(kdir)

	ks, us := mm.kernel.Stats(), mm.user.Stats()
	log.Infof("Memory: kernel pool %d KiB in %d regions, user pool %d KiB in %d regions, window %d MiB",
		ks.Total*mem.PageSize/1024, ks.Regions, us.Total*mem.PageSize/1024, us.Regions, layout.Window/mem.MiB)
	return mm, nil
}

func addRegion[F frames.Frame](p *frames.Pool[F], r mem.PhysRange) error {
	reg, err := frames.NewRegion(r.Start, r.End)
	if err != nil {
		return err
	}
	reg.Commit()
	return p.AddRegion(reg)
}

// Machine returns the machine the manager runs on.
func (mm *MemoryManager) Machine() *machine.Machine { return mm.m }

// Layout returns the boot partition.
func (mm *MemoryManager) Layout() Layout { return mm.layout }

// Tables returns the page table manager.
func (mm *MemoryManager) Tables() *pagetables.Manager { return mm.tables }

// KernelDirectory returns the kernel directory.
func (mm *MemoryManager) KernelDirectory() *pagetables.Directory { return mm.tables.Kernel() }

// Env returns the environment regions operate in.
func (mm *MemoryManager) Env() region.Env {
	return region.Env{Machine: mm.m, Tables: mm.tables}
}

// AllocatePhysicalKernelPage allocates one kernel frame.
func (mm *MemoryManager) AllocatePhysicalKernelPage() (frames.KernelFrame, error) {
	return mm.kernel.AllocatePage()
}

// FreePhysicalKernelPage frees one kernel frame.
func (mm *MemoryManager) FreePhysicalKernelPage(f frames.KernelFrame) error {
	return mm.kernel.FreePage(f)
}

// AllocatePhysicalUserPage allocates one user frame.
func (mm *MemoryManager) AllocatePhysicalUserPage() (frames.UserFrame, error) {
	return mm.user.AllocatePage()
}

// FreePhysicalUserPage frees one user frame.
func (mm *MemoryManager) FreePhysicalUserPage(f frames.UserFrame) error {
	return mm.user.FreePage(f)
}

// allocatePages allocates n frames one at a time, freeing them all on
// failure.
func allocatePages[F frames.Frame](p *frames.Pool[F], n uint32) ([]F, error) {
	out := make([]F, 0, n)
	for i := uint32(0); i < n; i++ {
		f, err := p.AllocatePage()
		if err != nil {
			for _, g := range out {
				p.FreePage(g)
			}
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// newMapped wraps backing in a region over rng, clears it if owned and maps
// it into dir. On failure the frames go back to pool and the span to alloc.
func newMapped[F frames.Frame](mm *MemoryManager, dir *pagetables.Directory, alloc *addrspace.Allocator, rng mem.VirtRange, backing []F, pool *frames.Pool[F], access mem.AccessType, user bool) (*region.Region[F], error) {
	cu := cleanup.Make(func() {
		alloc.Free(rng)
		if pool != nil {
			for _, f := range backing {
				pool.FreePage(f)
			}
		}
	})
	defer cu.Clean()

	r, err := region.New(mm.Env(), region.Opts[F]{
		Range:     rng,
		Frames:    backing,
		Pool:      pool,
		Allocator: alloc,
		Access:    access,
		User:      user,
	})
	if err != nil {
		return nil, err
	}
	if pool != nil {
		if err := r.Zero(); err != nil {
			return nil, err
		}
	}
	if err := r.Map(dir); err != nil {
		return nil, err
	}
	cu.Release()
	return r, nil
}

// AllocateKernelRegion allocates and maps a zeroed kernel region of at least
// size bytes.
func (mm *MemoryManager) AllocateKernelRegion(size uint32) (*region.KernelRegion, error) {
	alloc := mm.tables.Kernel().Allocator()
	rng, err := alloc.Allocate(size)
	if err != nil {
		return nil, err
	}
	backing, err := allocatePages(mm.kernel, rng.Pages())
	if err != nil {
		alloc.Free(rng)
		return nil, err
	}
	r, err := newMapped(mm, mm.tables.Kernel(), alloc, rng, backing, mm.kernel, mem.ReadWrite, false)
	if err == nil {
		regionsCreated.Increment("kernel")
	}
	return r, err
}

// AllocateKernelDMARegion is AllocateKernelRegion with physically contiguous
// backing.
func (mm *MemoryManager) AllocateKernelDMARegion(size uint32) (*region.KernelRegion, error) {
	alloc := mm.tables.Kernel().Allocator()
	rng, err := alloc.Allocate(size)
	if err != nil {
		return nil, err
	}
	first, err := mm.kernel.AllocateContiguous(rng.Pages())
	if err != nil {
		alloc.Free(rng)
		return nil, err
	}
	backing := make([]frames.KernelFrame, rng.Pages())
	for i := range backing {
		backing[i] = first + frames.KernelFrame(uint32(i)*mem.PageSize)
	}
	r, err := newMapped(mm, mm.tables.Kernel(), alloc, rng, backing, mm.kernel, mem.ReadWrite, false)
	if err == nil {
		regionsCreated.Increment("dma")
	}
	return r, err
}

// AllocateKernelRegionAt maps size bytes of fixed physical memory starting
// at phys, such as a device's registers. The frames are not owned by the
// region and are not cleared.
func (mm *MemoryManager) AllocateKernelRegionAt(phys mem.PhysAddr, size uint32) (*region.KernelRegion, error) {
	if !phys.IsPageAligned() {
		return nil, frames.ErrNotPageAligned
	}
	alloc := mm.tables.Kernel().Allocator()
	rng, err := alloc.Allocate(size)
	if err != nil {
		return nil, err
	}
	backing := make([]frames.KernelFrame, rng.Pages())
	for i := range backing {
		backing[i] = frames.KernelFrame(phys.Add(uint32(i) * mem.PageSize))
	}
	r, err := newMapped(mm, mm.tables.Kernel(), alloc, rng, backing, nil, mem.ReadWrite, false)
	if err == nil {
		regionsCreated.Increment("fixed")
	}
	return r, err
}

// FreeKernelRegion unmaps and frees a kernel region.
func (mm *MemoryManager) FreeKernelRegion(r *region.KernelRegion) error {
	return r.Free()
}

// CreateUserRegion allocates a zeroed user region of at least size bytes in
// dir and maps it there.
func (mm *MemoryManager) CreateUserRegion(dir *pagetables.Directory, size uint32, access mem.AccessType) (*region.UserRegion, error) {
	rng, err := dir.Allocator().Allocate(size)
	if err != nil {
		return nil, err
	}
	return mm.createUserRegion(dir, rng, access)
}

// CreateUserRegionAt is CreateUserRegion at a fixed virtual address.
func (mm *MemoryManager) CreateUserRegionAt(dir *pagetables.Directory, v mem.VirtAddr, size uint32, access mem.AccessType) (*region.UserRegion, error) {
	rng, err := dir.Allocator().AllocateAt(v, size)
	if err != nil {
		return nil, err
	}
	return mm.createUserRegion(dir, rng, access)
}

func (mm *MemoryManager) createUserRegion(dir *pagetables.Directory, rng mem.VirtRange, access mem.AccessType) (*region.UserRegion, error) {
	backing, err := allocatePages(mm.user, rng.Pages())
	if err != nil {
		dir.Allocator().Free(rng)
		return nil, err
	}
	r, err := newMapped(mm, dir, dir.Allocator(), rng, backing, mm.user, access, true)
	if err == nil {
		regionsCreated.Increment("user")
	}
	return r, err
}

// NewUserDirectory creates a directory for a new address space.
func (mm *MemoryManager) NewUserDirectory() (*pagetables.Directory, error) {
	return mm.tables.NewUserDirectory()
}

// DestroyDirectory frees a user directory.
func (mm *MemoryManager) DestroyDirectory(dir *pagetables.Directory) error {
	return mm.tables.DestroyDirectory(dir)
}

// ReadVirtual reads through the MMU in the active address space.
func (mm *MemoryManager) ReadVirtual(v mem.VirtAddr, b []byte) error {
	return mm.m.ReadVirtual(v, b)
}

// WriteVirtual writes through the MMU in the active address space.
func (mm *MemoryManager) WriteVirtual(v mem.VirtAddr, b []byte) error {
	return mm.m.WriteVirtual(v, b)
}

// copyDirectory moves bytes between b and [v, v+len(b)) of dir, one page at
// a time through the temporary mapping.
func (mm *MemoryManager) copyDirectory(dir *pagetables.Directory, v mem.VirtAddr, b []byte, write bool) error {
	for len(b) > 0 {
		p, _, err := mm.tables.Translate(dir, v)
		if err != nil {
			return err
		}
		n := min(len(b), int(mem.PageSize-v.PageOffset()))
		tmp, err := mm.tables.TemporaryMap(p.RoundDown())
		if err != nil {
			return err
		}
		at := tmp + mem.VirtAddr(v.PageOffset())
		if write {
			err = mm.m.WriteVirtual(at, b[:n])
		} else {
			err = mm.m.ReadVirtual(at, b[:n])
		}
		if uerr := mm.tables.TemporaryUnmap(); err == nil {
			err = uerr
		}
		if err != nil {
			return err
		}
		b = b[n:]
		v += mem.VirtAddr(n)
	}
	return nil
}

// WriteToDirectory writes b at v in dir, which need not be active.
func (mm *MemoryManager) WriteToDirectory(dir *pagetables.Directory, v mem.VirtAddr, b []byte) error {
	return mm.copyDirectory(dir, v, b, true)
}

// ReadFromDirectory reads [v, v+len(b)) of dir, which need not be active.
func (mm *MemoryManager) ReadFromDirectory(dir *pagetables.Directory, v mem.VirtAddr, b []byte) error {
	return mm.copyDirectory(dir, v, b, false)
}

// CopyBetween copies n bytes from src in dir srcDir to dst in dir dstDir.
func (mm *MemoryManager) CopyBetween(dstDir *pagetables.Directory, dst mem.VirtAddr, srcDir *pagetables.Directory, src mem.VirtAddr, n uint32) error {
	buf := make([]byte, mem.PageSize)
	for n > 0 {
		c := min(n, uint32(len(buf)))
		if err := mm.ReadFromDirectory(srcDir, src, buf[:c]); err != nil {
			return err
		}
		if err := mm.WriteToDirectory(dstDir, dst, buf[:c]); err != nil {
			return err
		}
		src += mem.VirtAddr(c)
		dst += mem.VirtAddr(c)
		n -= c
	}
	return nil
}

// Stats summarizes memory use.
type Stats struct {
	Kernel          frames.Stats
	User            frames.Stats
	Window          uint32
	UserDirectories int
	KernelFreeBytes uint64
}

// Stats returns the current memory use.
func (mm *MemoryManager) Stats() Stats {
	return Stats{
		Kernel:          mm.kernel.Stats(),
		User:            mm.user.Stats(),
		Window:          mm.layout.Window,
		UserDirectories: mm.tables.UserDirectories(),
		KernelFreeBytes: mm.tables.Kernel().Allocator().FreeBytes(),
	}
}
