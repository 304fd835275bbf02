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

// Package addrspace tracks the free virtual address ranges of one address
// space.
//
// Free ranges are kept in a btree ordered by start address. The tree never
// holds two overlapping or two adjacent ranges: Free coalesces with both
// neighbours before inserting.
package addrspace

import (
	"fmt"
	"strings"

	"github.com/google/btree"
	"github.com/jsnal/os-sub000/pkg/abi/errno"
	"github.com/jsnal/os-sub000/pkg/errors"
	"github.com/jsnal/os-sub000/pkg/mem"
)

// Errors returned by the allocator.
var (
	ErrNoSpace        = errors.New(errno.ENOMEM, "no free virtual range large enough")
	ErrNotFree        = errors.New(errno.EINVAL, "requested virtual range is not free")
	ErrDoubleFree     = errors.New(errno.EINVAL, "virtual range overlaps a free range")
	ErrOutOfSpan      = errors.New(errno.EINVAL, "virtual range outside the address space")
	ErrInvalidLength  = errors.New(errno.EINVAL, "invalid virtual range length")
	ErrNotPageAligned = errors.New(errno.EINVAL, "virtual address not page aligned")
)

const btreeDegree = 8

func lessRange(a, b mem.VirtRange) bool {
	return a.Start < b.Start
}

// Allocator hands out page-aligned ranges from a fixed span.
type Allocator struct {
	span mem.VirtRange
	free *btree.BTreeG[mem.VirtRange]
}

// New returns an allocator whose whole span is free. span must be page
// aligned and non-empty.
func New(span mem.VirtRange) (*Allocator, error) {
	if !span.WellFormed() || span.Length() == 0 {
		return nil, ErrInvalidLength
	}
	if !span.IsPageAligned() {
		return nil, ErrNotPageAligned
	}
	a := &Allocator{
		span: span,
		free: btree.NewG(btreeDegree, lessRange),
	}
	a.free.ReplaceOrInsert(span)
	return a, nil
}

// Span returns the range the allocator manages.
func (a *Allocator) Span() mem.VirtRange {
	return a.span
}

// roundLength rounds length up to whole pages.
func roundLength(length uint32) (uint32, error) {
	if length == 0 {
		return 0, ErrInvalidLength
	}
	rounded, ok := mem.VirtAddr(length).RoundUp()
	if !ok {
		return 0, ErrInvalidLength
	}
	return uint32(rounded), nil
}

// Allocate returns the head of the first free range at least length bytes
// long, after rounding length up to whole pages.
func (a *Allocator) Allocate(length uint32) (mem.VirtRange, error) {
	length, err := roundLength(length)
	if err != nil {
		return mem.VirtRange{}, err
	}
	var found mem.VirtRange
	ok := false
	a.free.Ascend(func(r mem.VirtRange) bool {
		if r.Length() >= length {
			found, ok = r, true
			return false
		}
		return true
	})
	if !ok {
		return mem.VirtRange{}, ErrNoSpace
	}
	got := mem.VirtRange{Start: found.Start, End: found.Start + mem.VirtAddr(length)}
	a.carve(found, got)
	return got, nil
}

// AllocateAt allocates [addr, addr+length) after rounding length up to whole
// pages. The range must lie entirely inside one free range.
func (a *Allocator) AllocateAt(addr mem.VirtAddr, length uint32) (mem.VirtRange, error) {
	if !addr.IsPageAligned() {
		return mem.VirtRange{}, ErrNotPageAligned
	}
	length, err := roundLength(length)
	if err != nil {
		return mem.VirtRange{}, err
	}
	want, ok := addr.ToRange(length)
	if !ok {
		return mem.VirtRange{}, ErrInvalidLength
	}
	if !a.span.IsSupersetOf(want) {
		return mem.VirtRange{}, ErrOutOfSpan
	}
	found, ok := a.containing(addr)
	if !ok || !found.IsSupersetOf(want) {
		return mem.VirtRange{}, ErrNotFree
	}
	a.carve(found, want)
	return want, nil
}

// containing returns the free range that contains addr.
func (a *Allocator) containing(addr mem.VirtAddr) (mem.VirtRange, bool) {
	var found mem.VirtRange
	ok := false
	a.free.DescendLessOrEqual(mem.VirtRange{Start: addr}, func(r mem.VirtRange) bool {
		found, ok = r, r.Contains(addr)
		return false
	})
	return found, ok
}

// carve removes sub from the free range r, leaving zero, one or two
// fragments.
func (a *Allocator) carve(r, sub mem.VirtRange) {
	a.free.Delete(r)
	if r.Start < sub.Start {
		a.free.ReplaceOrInsert(mem.VirtRange{Start: r.Start, End: sub.Start})
	}
	if sub.End < r.End {
		a.free.ReplaceOrInsert(mem.VirtRange{Start: sub.End, End: r.End})
	}
}

// Free returns r to the allocator and merges it with adjacent free ranges. r
// must not overlap any range that is already free.
func (a *Allocator) Free(r mem.VirtRange) error {
	if !r.WellFormed() || r.Length() == 0 {
		return ErrInvalidLength
	}
	if !r.IsPageAligned() {
		return ErrNotPageAligned
	}
	if !a.span.IsSupersetOf(r) {
		return ErrOutOfSpan
	}

	var prev, next mem.VirtRange
	hasPrev, hasNext := false, false
	a.free.DescendLessOrEqual(mem.VirtRange{Start: r.Start}, func(p mem.VirtRange) bool {
		prev, hasPrev = p, true
		return false
	})
	a.free.AscendGreaterOrEqual(mem.VirtRange{Start: r.Start}, func(n mem.VirtRange) bool {
		next, hasNext = n, true
		return false
	})
	if (hasPrev && prev.Overlaps(r)) || (hasNext && next.Overlaps(r)) {
		return ErrDoubleFree
	}

	merged := r
	if hasPrev && prev.End == r.Start {
		a.free.Delete(prev)
		merged.Start = prev.Start
	}
	if hasNext && next.Start == r.End {
		a.free.Delete(next)
		merged.End = next.End
	}
	a.free.ReplaceOrInsert(merged)
	return nil
}

// FreeRanges returns the free ranges in ascending order.
func (a *Allocator) FreeRanges() []mem.VirtRange {
	out := make([]mem.VirtRange, 0, a.free.Len())
	a.free.Ascend(func(r mem.VirtRange) bool {
		out = append(out, r)
		return true
	})
	return out
}

// FreeBytes returns the total length of the free ranges.
func (a *Allocator) FreeBytes() uint64 {
	var n uint64
	a.free.Ascend(func(r mem.VirtRange) bool {
		n += uint64(r.Length())
		return true
	})
	return n
}

// IsFree returns true if r lies inside one free range.
func (a *Allocator) IsFree(r mem.VirtRange) bool {
	found, ok := a.containing(r.Start)
	return ok && found.IsSupersetOf(r)
}

// String implements fmt.Stringer.String.
func (a *Allocator) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "span %v free:", a.span)
	a.free.Ascend(func(r mem.VirtRange) bool {
		fmt.Fprintf(&b, " %v", r)
		return true
	})
	return b.String()
}
