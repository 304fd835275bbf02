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

package multiboot

import (
	"encoding/binary"

	"github.com/jsnal/os-sub000/pkg/mem"
)

// Writer is the physical memory a block is written to.
type Writer interface {
	Write(p mem.PhysAddr, b []byte)
}

// Builder lays out an information block the way a boot loader would.
type Builder struct {
	MemoryMap      []MemoryMapEntry
	BootLoaderName string
	CommandLine    string
}

// Write stores the block at addr, followed by the memory map and strings. It
// returns one past the last byte written.
func (b *Builder) Write(w Writer, addr mem.PhysAddr) mem.PhysAddr {
	le := binary.LittleEndian
	info := make([]byte, InfoSize)
	next := addr.Add(InfoSize)
	flags := uint32(0)

	if len(b.MemoryMap) > 0 {
		flags |= FlagMemoryMap
		mmap := make([]byte, 0, len(b.MemoryMap)*(4+entrySize))
		for _, e := range b.MemoryMap {
			var rec [4 + entrySize]byte
			le.PutUint32(rec[0:], entrySize)
			le.PutUint64(rec[4:], e.PhysAddress)
			le.PutUint64(rec[12:], e.Length)
			le.PutUint32(rec[20:], uint32(e.Type))
			mmap = append(mmap, rec[:]...)
		}
		le.PutUint32(info[offMmapLength:], uint32(len(mmap)))
		le.PutUint32(info[offMmapAddr:], uint32(next))
		w.Write(next, mmap)
		next = next.Add(uint32(len(mmap)))

		lower, upper := memorySizes(b.MemoryMap)
		flags |= FlagMemory
		le.PutUint32(info[offMemLower:], lower)
		le.PutUint32(info[offMemUpper:], upper)
	}
	if b.CommandLine != "" {
		flags |= FlagCommandLine
		le.PutUint32(info[offCommandLine:], uint32(next))
		next = writeString(w, next, b.CommandLine)
	}
	if b.BootLoaderName != "" {
		flags |= FlagBootLoaderName
		le.PutUint32(info[offBootLoaderName:], uint32(next))
		next = writeString(w, next, b.BootLoaderName)
	}
	le.PutUint32(info[offFlags:], flags)
	w.Write(addr, info)
	return next
}

// memorySizes derives mem_lower and mem_upper, in KiB, from the available
// entries that start at 0 and at 1 MiB.
func memorySizes(entries []MemoryMapEntry) (lower, upper uint32) {
	for _, e := range entries {
		if e.Type != MemAvailable {
			continue
		}
		switch e.PhysAddress {
		case 0:
			lower = uint32(min(e.Length, 640*1024) / 1024)
		case mem.MiB:
			upper = uint32(e.Length / 1024)
		}
	}
	return lower, upper
}

func writeString(w Writer, p mem.PhysAddr, s string) mem.PhysAddr {
	b := append([]byte(s), 0)
	w.Write(p, b)
	return p.Add(uint32(len(b)))
}
