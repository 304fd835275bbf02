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

package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/jsnal/os-sub000/pkg/mem"
)

const (
	ehdrSize = 52
	phdrSize = 32
)

// BuildSegment is a segment to lay out with Build.
type BuildSegment struct {
	Vaddr   uint32
	Data    []byte
	MemSize uint32
	Flags   elf.ProgFlag
}

// Build lays out a static ELF32 i386 executable. Segment data starts at page
// aligned file offsets. A MemSize smaller than the data is raised to it.
func Build(entry uint32, segs []BuildSegment) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian

	hdr := elf.Header32{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_386),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(segs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	binary.Write(&buf, le, &hdr)

	off := uint32(mem.PageSize)
	offsets := make([]uint32, len(segs))
	for i, s := range segs {
		offsets[i] = off
		memsz := max(s.MemSize, uint32(len(s.Data)))
		binary.Write(&buf, le, &elf.Prog32{
			Type:   uint32(elf.PT_LOAD),
			Off:    off,
			Vaddr:  s.Vaddr,
			Paddr:  s.Vaddr,
			Filesz: uint32(len(s.Data)),
			Memsz:  memsz,
			Flags:  uint32(s.Flags),
			Align:  mem.PageSize,
		})
		n, _ := mem.VirtAddr(len(s.Data)).RoundUp()
		off += max(uint32(n), mem.PageSize)
	}
	out := buf.Bytes()
	for i, s := range segs {
		if need := int(offsets[i]) + len(s.Data); len(out) < need {
			out = append(out, make([]byte, need-len(out))...)
		}
		copy(out[offsets[i]:], s.Data)
	}
	return out
}
