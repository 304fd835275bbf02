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

// Package frames allocates physical page frames.
//
// A Region tracks one contiguous run of frames with a bitmap, one bit per
// frame, set when the frame is in use. Regions are grouped into pools; the
// kernel pool and the user pool hand out distinct frame types so a frame can
// never be returned to the wrong pool.
package frames

import (
	"fmt"

	"github.com/jsnal/os-sub000/pkg/abi/errno"
	"github.com/jsnal/os-sub000/pkg/bitmap"
	"github.com/jsnal/os-sub000/pkg/errors"
	"github.com/jsnal/os-sub000/pkg/mem"
)

// Errors returned by regions and pools.
var (
	ErrOutOfMemory       = errors.New(errno.ENOMEM, "out of physical memory")
	ErrAddressOutOfRange = errors.New(errno.EINVAL, "physical address out of range")
	ErrNotPageAligned    = errors.New(errno.EINVAL, "physical address not page aligned")
	ErrDoubleFree        = errors.New(errno.EINVAL, "frame already free")
	ErrNotCommitted      = errors.New(errno.EINVAL, "region not committed")
)

// Region is a contiguous run of physical frames [Lower, Upper).
type Region struct {
	lower mem.PhysAddr
	upper mem.PhysAddr

	// bits has one bit per frame, set when the frame is allocated.
	bits bitmap.Bitmap

	// last is the index the next single-frame scan starts from.
	last uint32

	committed bool
}

// NewRegion returns an uncommitted region over [lower, upper). Both bounds
// must be page aligned.
func NewRegion(lower, upper mem.PhysAddr) (*Region, error) {
	if !lower.IsPageAligned() || !upper.IsPageAligned() {
		return nil, ErrNotPageAligned
	}
	if upper <= lower {
		return nil, ErrAddressOutOfRange
	}
	return &Region{lower: lower, upper: upper}, nil
}

// Commit sizes and allocates the bitmap. No frame may be allocated before the
// region is committed.
func (r *Region) Commit() {
	if r.committed {
		return
	}
	r.bits = bitmap.New(r.Total())
	r.committed = true
}

// Committed returns true once Commit has been called.
func (r *Region) Committed() bool {
	return r.committed
}

// Lower returns the first address of the region.
func (r *Region) Lower() mem.PhysAddr { return r.lower }

// Upper returns one past the last address of the region.
func (r *Region) Upper() mem.PhysAddr { return r.upper }

// Total returns the number of frames in the region.
func (r *Region) Total() uint32 {
	return uint32(r.upper-r.lower) >> mem.PageShift
}

// Used returns the number of allocated frames.
func (r *Region) Used() uint32 {
	return r.bits.Count()
}

// Free returns the number of free frames.
func (r *Region) Free() uint32 {
	return r.Total() - r.Used()
}

// Contains returns true if p lies inside the region.
func (r *Region) Contains(p mem.PhysAddr) bool {
	return r.lower <= p && p < r.upper
}

// String implements fmt.Stringer.String.
func (r *Region) String() string {
	return fmt.Sprintf("[%#x, %#x) %d/%d used", uint32(r.lower), uint32(r.upper), r.Used(), r.Total())
}

func (r *Region) address(i uint32) mem.PhysAddr {
	return r.lower.Add(i << mem.PageShift)
}

// AllocatePage allocates one frame with a next-fit scan starting at the last
// allocated frame and wrapping around.
func (r *Region) AllocatePage() (mem.PhysAddr, error) {
	if !r.committed {
		return 0, ErrNotCommitted
	}
	i, ok := r.bits.FirstZero(r.last)
	if !ok {
		if i, ok = r.bits.FirstZero(0); !ok {
			return 0, ErrOutOfMemory
		}
	}
	r.bits.Set(i)
	r.last = i
	return r.address(i), nil
}

// AllocateContiguous allocates n physically contiguous frames and returns the
// first. The search is first fit from the last allocated frame, then from the
// start of the region. On failure the bitmap is unchanged.
func (r *Region) AllocateContiguous(n uint32) (mem.PhysAddr, error) {
	if !r.committed {
		return 0, ErrNotCommitted
	}
	if n == 0 || n > r.Total() {
		return 0, ErrOutOfMemory
	}
	i, ok := r.bits.FirstZeroRun(r.last, n)
	if !ok {
		if i, ok = r.bits.FirstZeroRun(0, n); !ok {
			return 0, ErrOutOfMemory
		}
	}
	r.bits.SetRange(i, i+n)
	r.last = i + n - 1
	return r.address(i), nil
}

// FreePage returns the frame at p to the region. A freed frame below the scan
// position becomes the next frame handed out.
func (r *Region) FreePage(p mem.PhysAddr) error {
	if !r.committed {
		return ErrNotCommitted
	}
	if !r.Contains(p) {
		return ErrAddressOutOfRange
	}
	if !p.IsPageAligned() {
		return ErrNotPageAligned
	}
	i := uint32(p-r.lower) >> mem.PageShift
	if !r.bits.Clear(i) {
		return ErrDoubleFree
	}
	if i < r.last {
		r.last = i
	}
	return nil
}

// Reserve marks the frames of [lower, upper) that lie in the region as used.
// It is used at boot for frames that are already occupied.
func (r *Region) Reserve(lower, upper mem.PhysAddr) {
	if !r.committed {
		return
	}
	lower, upper = max(lower, r.lower), min(upper, r.upper)
	for p := lower.RoundDown(); p < upper; p = p.Add(mem.PageSize) {
		r.bits.Set(uint32(p-r.lower) >> mem.PageShift)
	}
}

// IsAllocated returns true if the frame containing p is in use.
func (r *Region) IsAllocated(p mem.PhysAddr) bool {
	return r.committed && r.Contains(p) && r.bits.IsSet(uint32(p-r.lower)>>mem.PageShift)
}
