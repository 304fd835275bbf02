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

// Package region implements virtual regions: spans of an address space
// backed by one physical frame per page.
//
// A region moves through Unmapped, Mapped and Freed. Map and Unmap may
// alternate; Free is final and returns the frames to their pool and the span
// to its allocator.
package region

import (
	"fmt"

	"github.com/jsnal/os-sub000/pkg/abi/errno"
	"github.com/jsnal/os-sub000/pkg/errors"
	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/mem"
	"github.com/jsnal/os-sub000/pkg/mm/addrspace"
	"github.com/jsnal/os-sub000/pkg/mm/frames"
	"github.com/jsnal/os-sub000/pkg/mm/pagetables"
)

// Errors returned by regions.
var (
	ErrAlreadyMapped   = errors.New(errno.EINVAL, "region already mapped")
	ErrNotMapped       = errors.New(errno.EINVAL, "region not mapped")
	ErrFreed           = errors.New(errno.EINVAL, "region already freed")
	ErrNotUserRegion   = errors.New(errno.EINVAL, "only user regions can be cloned")
	ErrSourceNotActive = errors.New(errno.EINVAL, "region is not mapped in the active address space")
	ErrOutOfRange      = errors.New(errno.EFAULT, "access outside region")
	ErrBackingMismatch = errors.New(errno.EINVAL, "backing frames do not cover the region")
)

// State is the lifecycle state of a region.
type State int

const (
	// Unmapped regions own their frames but have no page table entries.
	Unmapped State = iota

	// Mapped regions have one present entry per page in their directory.
	Mapped

	// Freed regions have returned their frames and span.
	Freed
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case Unmapped:
		return "unmapped"
	case Mapped:
		return "mapped"
	case Freed:
		return "freed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Env is the memory hardware and page table manager regions operate on.
type Env struct {
	Machine *machine.Machine
	Tables  *pagetables.Manager
}

// Region is a span of virtual memory backed by frames of type F.
type Region[F frames.Frame] struct {
	env    Env
	rng    mem.VirtRange
	frames []F

	// pool receives the frames on Free. It is nil for regions over fixed
	// physical memory, whose frames are not owned.
	pool *frames.Pool[F]

	// alloc receives the span on Free.
	alloc *addrspace.Allocator

	access mem.AccessType
	user   bool
	state  State

	// dir is the directory the region was last mapped into.
	dir *pagetables.Directory
}

// KernelRegion is a region backed by kernel frames.
type KernelRegion = Region[frames.KernelFrame]

// UserRegion is a region backed by user frames.
type UserRegion = Region[frames.UserFrame]

// Opts describes a new region.
type Opts[F frames.Frame] struct {
	// Range is the span, already allocated from Allocator.
	Range mem.VirtRange

	// Frames back the span, one per page.
	Frames []F

	// Pool owns Frames. Nil means the frames are fixed physical memory.
	Pool *frames.Pool[F]

	Allocator *addrspace.Allocator
	Access    mem.AccessType
	User      bool
}

// New wraps an allocated span and its backing frames in an unmapped region.
func New[F frames.Frame](env Env, opts Opts[F]) (*Region[F], error) {
	if !opts.Range.IsPageAligned() || uint32(len(opts.Frames)) != opts.Range.Pages() {
		return nil, ErrBackingMismatch
	}
	return &Region[F]{
		env:    env,
		rng:    opts.Range,
		frames: opts.Frames,
		pool:   opts.Pool,
		alloc:  opts.Allocator,
		access: opts.Access,
		user:   opts.User,
	}, nil
}

// Range returns the span of the region.
func (r *Region[F]) Range() mem.VirtRange { return r.rng }

// Lower returns the first address of the region.
func (r *Region[F]) Lower() mem.VirtAddr { return r.rng.Start }

// Upper returns one past the last address of the region.
func (r *Region[F]) Upper() mem.VirtAddr { return r.rng.End }

// Frames returns the backing frames in page order.
func (r *Region[F]) Frames() []F { return r.frames }

// Access returns the access the region is mapped with.
func (r *Region[F]) Access() mem.AccessType { return r.access }

// IsUser returns true for user regions.
func (r *Region[F]) IsUser() bool { return r.user }

// State returns the lifecycle state.
func (r *Region[F]) State() State { return r.state }

// Directory returns the directory the region was last mapped into.
func (r *Region[F]) Directory() *pagetables.Directory { return r.dir }

// Contains returns true if v lies in the region.
func (r *Region[F]) Contains(v mem.VirtAddr) bool {
	return r.rng.Contains(v)
}

// ContainsRange returns true if [v, v+length) lies in the region.
func (r *Region[F]) ContainsRange(v mem.VirtAddr, length uint32) bool {
	want, ok := v.ToRange(length)
	return ok && r.rng.IsSupersetOf(want)
}

// String implements fmt.Stringer.String.
func (r *Region[F]) String() string {
	kind := "kernel"
	if r.user {
		kind = "user"
	}
	return fmt.Sprintf("%s region %v %v %v", kind, r.rng, r.access, r.state)
}

// Map installs one entry per page into dir.
func (r *Region[F]) Map(dir *pagetables.Directory) error {
	switch r.state {
	case Mapped:
		return ErrAlreadyMapped
	case Freed:
		return ErrFreed
	}
	for i, f := range r.frames {
		v := r.rng.Start + mem.VirtAddr(i)*mem.PageSize
		if err := r.env.Tables.Map(dir, v, frames.Addr(f), r.access, r.user); err != nil {
			for j := 0; j < i; j++ {
				r.env.Tables.Unmap(dir, r.rng.Start+mem.VirtAddr(j)*mem.PageSize)
			}
			return err
		}
	}
	r.dir = dir
	r.state = Mapped
	return nil
}

// Unmap removes the region's entries from the directory it is mapped into.
func (r *Region[F]) Unmap() error {
	if r.state != Mapped {
		if r.state == Freed {
			return ErrFreed
		}
		return ErrNotMapped
	}
	for i := range r.frames {
		if err := r.env.Tables.Unmap(r.dir, r.rng.Start+mem.VirtAddr(i)*mem.PageSize); err != nil {
			return err
		}
	}
	r.state = Unmapped
	return nil
}

// Free unmaps the region if needed, then returns its frames to their pool
// and its span to its allocator. Once unmapped, the region is Freed even if
// returning a frame or the span fails; the first such error is returned
// after everything else has been returned.
func (r *Region[F]) Free() error {
	switch r.state {
	case Freed:
		return ErrFreed
	case Mapped:
		if err := r.Unmap(); err != nil {
			return err
		}
	}
	var firstErr error
	if r.pool != nil {
		for _, f := range r.frames {
			if err := r.pool.FreePage(f); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if r.alloc != nil {
		if err := r.alloc.Free(r.rng); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.frames = nil
	r.state = Freed
	return firstErr
}

// pageAccess calls fn for each page piece of [off, off+n) with the frame
// mapped at the temporary slot.
func (r *Region[F]) pageAccess(off uint32, n int, fn func(tmp mem.VirtAddr, done, count int) error) error {
	if r.state == Freed {
		return ErrFreed
	}
	if uint64(off)+uint64(n) > uint64(r.rng.Length()) {
		return ErrOutOfRange
	}
	done := 0
	for done < n {
		page := (off + uint32(done)) >> mem.PageShift
		pageOff := (off + uint32(done)) & (mem.PageSize - 1)
		count := min(n-done, int(mem.PageSize-pageOff))
		tmp, err := r.env.Tables.TemporaryMap(frames.Addr(r.frames[page]))
		if err != nil {
			return err
		}
		err = fn(tmp+mem.VirtAddr(pageOff), done, count)
		if uerr := r.env.Tables.TemporaryUnmap(); err == nil {
			err = uerr
		}
		if err != nil {
			return err
		}
		done += count
	}
	return nil
}

// WriteAt copies b into the region's frames at offset off. It works whether
// or not the region is mapped in the active address space.
func (r *Region[F]) WriteAt(off uint32, b []byte) error {
	return r.pageAccess(off, len(b), func(tmp mem.VirtAddr, done, count int) error {
		return r.env.Machine.WriteVirtual(tmp, b[done:done+count])
	})
}

// ReadAt copies from the region's frames at offset off into b.
func (r *Region[F]) ReadAt(off uint32, b []byte) error {
	return r.pageAccess(off, len(b), func(tmp mem.VirtAddr, done, count int) error {
		return r.env.Machine.ReadVirtual(tmp, b[done:done+count])
	})
}

// Zero clears every frame of the region.
func (r *Region[F]) Zero() error {
	return r.WriteAt(0, make([]byte, r.rng.Length()))
}

// Clone copies a user region into the same span of dir, backed by fresh
// frames from the same pool. The source is read through the active address
// space, so it must be mapped in the directory loaded in CR3; the copy is
// written through the temporary mapping. The clone is returned unmapped.
func (r *Region[F]) Clone(dir *pagetables.Directory) (*Region[F], error) {
	if !r.user || r.pool == nil {
		return nil, ErrNotUserRegion
	}
	if r.state == Freed {
		return nil, ErrFreed
	}
	if r.state != Mapped || !r.env.Tables.IsActive(r.dir) {
		return nil, ErrSourceNotActive
	}
	rng, err := dir.Allocator().AllocateAt(r.rng.Start, r.rng.Length())
	if err != nil {
		return nil, err
	}
	backing := make([]F, 0, len(r.frames))
	undo := func() {
		for _, f := range backing {
			r.pool.FreePage(f)
		}
		dir.Allocator().Free(rng)
	}
	page := make([]byte, mem.PageSize)
	for i := range r.frames {
		f, err := r.pool.AllocatePage()
		if err != nil {
			undo()
			return nil, err
		}
		backing = append(backing, f)
		if err := r.env.Machine.ReadVirtual(r.rng.Start+mem.VirtAddr(i)*mem.PageSize, page); err != nil {
			undo()
			return nil, err
		}
		tmp, err := r.env.Tables.TemporaryMap(frames.Addr(f))
		if err != nil {
			undo()
			return nil, err
		}
		err = r.env.Machine.WriteVirtual(tmp, page)
		r.env.Tables.TemporaryUnmap()
		if err != nil {
			undo()
			return nil, err
		}
	}
	return &Region[F]{
		env:    r.env,
		rng:    rng,
		frames: backing,
		pool:   r.pool,
		alloc:  dir.Allocator(),
		access: r.access,
		user:   true,
	}, nil
}
