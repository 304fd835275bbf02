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

// Package multiboot reads the multiboot (version 1) information block a boot
// loader leaves in physical memory, and builds such blocks for machines
// booted without one.
package multiboot

import (
	"encoding/binary"
	"fmt"

	"github.com/jsnal/os-sub000/pkg/abi/errno"
	"github.com/jsnal/os-sub000/pkg/errors"
	"github.com/jsnal/os-sub000/pkg/mem"
)

// BootloaderMagic is the value a compliant boot loader leaves in eax.
const BootloaderMagic = 0x2BADB002

// Info flags.
const (
	FlagMemory         = 1 << 0
	FlagBootDevice     = 1 << 1
	FlagCommandLine    = 1 << 2
	FlagModules        = 1 << 3
	FlagMemoryMap      = 1 << 6
	FlagBootLoaderName = 1 << 9
)

// Field offsets inside the information block.
const (
	offFlags          = 0
	offMemLower       = 4
	offMemUpper       = 8
	offCommandLine    = 16
	offMmapLength     = 44
	offMmapAddr       = 48
	offBootLoaderName = 64

	// InfoSize is the size of the fixed part of the information block.
	InfoSize = 88

	// entrySize is the size of a memory map entry, excluding the leading
	// size field.
	entrySize = 20

	// maxString bounds the strings read from the block.
	maxString = 256
)

// Errors returned by Parse.
var (
	ErrBadMagic       = errors.New(errno.EINVAL, "bad multiboot magic")
	ErrMalformedEntry = errors.New(errno.EINVAL, "malformed memory map entry")
)

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// String implements fmt.Stringer.String.
func (e MemoryMapEntry) String() string {
	return fmt.Sprintf("[%#010x - %#010x] %s", e.PhysAddress, e.PhysAddress+e.Length, e.Type)
}

// Memory is the physical memory the block is read from.
type Memory interface {
	Read(p mem.PhysAddr, b []byte)
}

// Info is a parsed information block.
type Info struct {
	Flags uint32

	// MemLower and MemUpper are the KiB of memory below 1 MiB and above
	// 1 MiB, valid with FlagMemory.
	MemLower uint32
	MemUpper uint32

	CommandLine    string
	BootLoaderName string
	MemoryMap      []MemoryMapEntry
}

// HasMemoryMap returns true if the boot loader provided a memory map.
func (i *Info) HasMemoryMap() bool {
	return i.Flags&FlagMemoryMap != 0
}

// MemRegionVisitor defies a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the boot loader. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// VisitMemRegions invokes visitor for each memory region in the map.
func (i *Info) VisitMemRegions(visitor MemRegionVisitor) {
	for k := range i.MemoryMap {
		if !visitor(&i.MemoryMap[k]) {
			return
		}
	}
}

// CheckMagic validates the value the boot loader passed in eax.
func CheckMagic(magic uint32) error {
	if magic != BootloaderMagic {
		return ErrBadMagic
	}
	return nil
}

// Parse reads the information block at addr.
func Parse(m Memory, addr mem.PhysAddr) (*Info, error) {
	raw := make([]byte, InfoSize)
	m.Read(addr, raw)
	le := binary.LittleEndian
	info := &Info{Flags: le.Uint32(raw[offFlags:])}
	if info.Flags&FlagMemory != 0 {
		info.MemLower = le.Uint32(raw[offMemLower:])
		info.MemUpper = le.Uint32(raw[offMemUpper:])
	}
	if info.Flags&FlagCommandLine != 0 {
		info.CommandLine = readString(m, mem.PhysAddr(le.Uint32(raw[offCommandLine:])))
	}
	if info.Flags&FlagBootLoaderName != 0 {
		info.BootLoaderName = readString(m, mem.PhysAddr(le.Uint32(raw[offBootLoaderName:])))
	}
	if info.Flags&FlagMemoryMap != 0 {
		entries, err := parseMemoryMap(m, mem.PhysAddr(le.Uint32(raw[offMmapAddr:])), le.Uint32(raw[offMmapLength:]))
		if err != nil {
			return nil, err
		}
		info.MemoryMap = entries
	}
	return info, nil
}

// parseMemoryMap walks entries of the form {size u32, base u64, length u64,
// type u32}, where size counts the bytes after the size field.
func parseMemoryMap(m Memory, addr mem.PhysAddr, length uint32) ([]MemoryMapEntry, error) {
	var entries []MemoryMapEntry
	le := binary.LittleEndian
	var hdr [4]byte
	for off := uint32(0); off < length; {
		m.Read(addr.Add(off), hdr[:])
		size := le.Uint32(hdr[:])
		if size < entrySize || uint64(off)+4+uint64(size) > uint64(length) {
			return nil, ErrMalformedEntry
		}
		b := make([]byte, entrySize)
		m.Read(addr.Add(off+4), b)
		entries = append(entries, MemoryMapEntry{
			PhysAddress: le.Uint64(b[0:]),
			Length:      le.Uint64(b[8:]),
			Type:        MemoryEntryType(le.Uint32(b[16:])),
		})
		off += 4 + size
	}
	return entries, nil
}

func readString(m Memory, p mem.PhysAddr) string {
	var out []byte
	b := []byte{0}
	for i := 0; i < maxString; i++ {
		m.Read(p.Add(uint32(i)), b)
		if b[0] == 0 {
			break
		}
		out = append(out, b[0])
	}
	return string(out)
}
