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

type frame [mem.PageSize]byte

// PhysicalMemory is sparse, page-granular RAM. Frames that were never written
// read as zero.
type PhysicalMemory struct {
	limit  uint64
	frames map[uint32]*frame
}

func newPhysicalMemory(limit uint64) *PhysicalMemory {
	return &PhysicalMemory{
		limit:  limit,
		frames: make(map[uint32]*frame),
	}
}

// Limit returns one past the highest physical address backed by RAM.
func (pm *PhysicalMemory) Limit() uint64 {
	return pm.limit
}

func (pm *PhysicalMemory) check(p mem.PhysAddr, n int) {
	if uint64(p)+uint64(n) > pm.limit {
		panic(&Panic{Message: fmt.Sprintf("bus error: physical access [%#x, %#x) beyond %#x", uint32(p), uint64(p)+uint64(n), pm.limit)})
	}
}

func (pm *PhysicalMemory) lookup(p mem.PhysAddr, create bool) *frame {
	f := pm.frames[p.Frame()]
	if f == nil && create {
		f = new(frame)
		pm.frames[p.Frame()] = f
	}
	return f
}

// Read copies len(b) bytes starting at p into b.
func (pm *PhysicalMemory) Read(p mem.PhysAddr, b []byte) {
	pm.check(p, len(b))
	for len(b) > 0 {
		off := p.PageOffset()
		var n int
		if f := pm.lookup(p, false); f != nil {
			n = copy(b, f[off:])
		} else {
			n = min(len(b), int(mem.PageSize-off))
			clear(b[:n])
		}
		b = b[n:]
		p = p.Add(uint32(n))
	}
}

// Write copies b into memory starting at p.
func (pm *PhysicalMemory) Write(p mem.PhysAddr, b []byte) {
	pm.check(p, len(b))
	for len(b) > 0 {
		f := pm.lookup(p, true)
		n := copy(f[p.PageOffset():], b)
		b = b[n:]
		p = p.Add(uint32(n))
	}
}

// Read32 reads a little-endian word at p.
func (pm *PhysicalMemory) Read32(p mem.PhysAddr) uint32 {
	var b [4]byte
	pm.Read(p, b[:])
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Write32 writes a little-endian word at p.
func (pm *PhysicalMemory) Write32(p mem.PhysAddr, v uint32) {
	pm.Write(p, []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// ZeroFrame clears the frame containing p.
func (pm *PhysicalMemory) ZeroFrame(p mem.PhysAddr) {
	pm.check(p.RoundDown(), mem.PageSize)
	delete(pm.frames, p.Frame())
}

// ResidentFrames returns the number of frames holding data.
func (pm *PhysicalMemory) ResidentFrames() int {
	return len(pm.frames)
}
