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

package mm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jsnal/os-sub000/pkg/abi/errno"
	"github.com/jsnal/os-sub000/pkg/errors"
	"github.com/jsnal/os-sub000/pkg/mem"
	"github.com/jsnal/os-sub000/pkg/multiboot"
)

// DefaultKernelPoolSize is the amount of memory past the kernel image given
// to the kernel pool.
const DefaultKernelPoolSize = 4 * mem.MiB

const (
	// lowMemory is the end of the memory the kernel never allocates from.
	lowMemory = mem.MiB

	// maxPhys is the highest usable physical address, exclusive. The last
	// page of the 32-bit space is dropped so range ends fit in a PhysAddr.
	maxPhys = 1<<32 - mem.PageSize
)

// Errors returned while partitioning memory.
var (
	ErrNoMemoryMap     = errors.New(errno.EINVAL, "boot loader did not provide a memory map")
	ErrNoKernelMemory  = errors.New(errno.ENOMEM, "no usable memory for the kernel pool")
	ErrBadKernelImage  = errors.New(errno.EINVAL, "kernel image bounds are invalid")
	ErrWindowExhausted = errors.New(errno.ENOMEM, "kernel pool does not fit the kernel window")
)

// Layout is the partition of physical memory decided at boot.
type Layout struct {
	// Usable are the available spans after filtering and alignment.
	Usable []mem.PhysRange

	// Kernel and User are the spans handed to the two pools.
	Kernel []mem.PhysRange
	User   []mem.PhysRange

	// Window is the size of the kernel window: the end of the kernel pool
	// rounded up to a page table span.
	Window uint32
}

// String implements fmt.Stringer.String.
func (l Layout) String() string {
	var b strings.Builder
	write := func(name string, rs []mem.PhysRange) {
		var total uint64
		for _, r := range rs {
			total += uint64(r.Length())
		}
		fmt.Fprintf(&b, "%-7s %6d KiB", name, total/1024)
		for _, r := range rs {
			fmt.Fprintf(&b, " %v", r)
		}
		b.WriteByte('\n')
	}
	write("usable", l.Usable)
	write("kernel", l.Kernel)
	write("user", l.User)
	fmt.Fprintf(&b, "window  [%#x, %#x)\n", uint32(mem.KernelBase), uint64(mem.KernelBase)+uint64(l.Window))
	return b.String()
}

// Partition filters the memory map and splits it into the kernel and user
// pools. Only available entries are used; everything below 1 MiB, past
// limit or inside the kernel image is discarded and spans are page aligned
// inward. The first kernelPoolSize bytes past the kernel image, in address
// order, go to the kernel pool. Everything else, including memory below the
// image, goes to the user pool.
func Partition(info *multiboot.Info, image mem.PhysRange, kernelPoolSize uint32, limit uint64) (Layout, error) {
	var l Layout
	if !info.HasMemoryMap() {
		return l, ErrNoMemoryMap
	}
	if image.End < image.Start {
		return l, ErrBadKernelImage
	}
	if kernelPoolSize == 0 {
		kernelPoolSize = DefaultKernelPoolSize
	}
	imageEnd, ok := image.End.RoundUp()
	if !ok {
		return l, ErrBadKernelImage
	}

	info.VisitMemRegions(func(e *multiboot.MemoryMapEntry) bool {
		if e.Type != multiboot.MemAvailable {
			return true
		}
		start, end := e.PhysAddress, e.PhysAddress+e.Length
		start = max(start, lowMemory)
		end = min(end, limit, maxPhys)
		// Page align inward.
		start = (start + mem.PageSize - 1) &^ (mem.PageSize - 1)
		end &^= mem.PageSize - 1
		if end <= start {
			return true
		}
		l.Usable = append(l.Usable, mem.PhysRange{Start: mem.PhysAddr(start), End: mem.PhysAddr(end)})
		return true
	})

	sort.Slice(l.Usable, func(i, j int) bool { return l.Usable[i].Start < l.Usable[j].Start })

	imageStart := image.Start.RoundDown()
	remaining := kernelPoolSize
	for _, r := range l.Usable {
		// The kernel pool starts past the image so the window stays as
		// small as possible; memory below the image is user memory.
		if r.Start < imageStart {
			l.User = append(l.User, mem.PhysRange{Start: r.Start, End: min(r.End, imageStart)})
		}
		start := max(r.Start, imageEnd)
		if start >= r.End {
			continue
		}
		if remaining > 0 {
			n := min(remaining, uint32(r.End-start))
			l.Kernel = append(l.Kernel, mem.PhysRange{Start: start, End: start.Add(n)})
			remaining -= n
			start = start.Add(n)
		}
		if start < r.End {
			l.User = append(l.User, mem.PhysRange{Start: start, End: r.End})
		}
	}
	if len(l.Kernel) == 0 {
		return l, ErrNoKernelMemory
	}
	kernelEnd := uint64(l.Kernel[len(l.Kernel)-1].End)
	window := (kernelEnd + mem.TableSpan - 1) &^ (mem.TableSpan - 1)
	if window > uint64(mem.TemporaryMapAddr-mem.KernelBase) {
		return l, ErrWindowExhausted
	}
	l.Window = uint32(window)
	return l, nil
}
