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

// Package loader parses the ELF32 executables run as user processes.
package loader

import (
	"debug/elf"
	"io"

	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/mem"
)

// Segment is one PT_LOAD segment.
type Segment struct {
	// Vaddr is the address of the first byte of the segment.
	Vaddr mem.VirtAddr

	// Range is [Vaddr, Vaddr+MemSize) rounded out to pages.
	Range mem.VirtRange

	// Offset and FileSize locate the segment's bytes in the file.
	Offset   uint32
	FileSize uint32

	// MemSize is the size in memory. Bytes past FileSize are zero.
	MemSize uint32

	Access mem.AccessType
}

// Image is a parsed executable.
type Image struct {
	Entry    mem.VirtAddr
	Segments []Segment
}

// Parse reads and validates the ELF headers of an executable. Only PT_LOAD
// segments are kept. Any malformed or unsupported file is ENOEXEC.
func Parse(r io.ReaderAt) (*Image, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		log.Infof("Unable to parse ELF header: %v", err)
		return nil, kernerr.ENOEXEC
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 || f.Data != elf.ELFDATA2LSB {
		log.Warningf("Not a little-endian ELF32 file: %v %v", f.Class, f.Data)
		return nil, kernerr.ENOEXEC
	}
	if f.Machine != elf.EM_386 {
		log.Warningf("Unsupported ELF machine %v", f.Machine)
		return nil, kernerr.ENOEXEC
	}
	if f.Type != elf.ET_EXEC {
		log.Warningf("Unsupported ELF type %v", f.Type)
		return nil, kernerr.ENOEXEC
	}

	img := &Image{Entry: mem.VirtAddr(f.Entry)}
	userSpace := mem.VirtRange{Start: mem.UserBase, End: mem.KernelBase}
	var prevEnd mem.VirtAddr
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if p.Memsz == 0 {
			continue
		}
		if p.Filesz > p.Memsz {
			log.Warningf("PT_LOAD segment filesz %#x > memsz %#x", p.Filesz, p.Memsz)
			return nil, kernerr.ENOEXEC
		}
		if p.Vaddr+p.Memsz >= 1<<32 || p.Off+p.Filesz >= 1<<32 {
			log.Warningf("PT_LOAD segment size overflows: %#x + %#x", p.Vaddr, p.Memsz)
			return nil, kernerr.ENOEXEC
		}
		start := mem.VirtAddr(p.Vaddr)
		end := start + mem.VirtAddr(p.Memsz)
		roundedEnd, ok := end.RoundUp()
		if !ok {
			log.Warningf("PT_LOAD segment end %#x overflows", end)
			return nil, kernerr.ENOEXEC
		}
		rng := mem.VirtRange{Start: start.RoundDown(), End: roundedEnd}
		if !userSpace.IsSupersetOf(rng) {
			log.Warningf("PT_LOAD segment %v outside user space", rng)
			return nil, kernerr.ENOEXEC
		}
		// Each segment gets its own pages.
		if len(img.Segments) > 0 && rng.Start < prevEnd {
			log.Warningf("PT_LOAD segments out of order or share a page: %v", rng)
			return nil, kernerr.ENOEXEC
		}
		img.Segments = append(img.Segments, Segment{
			Vaddr:    start,
			Range:    rng,
			Offset:   uint32(p.Off),
			FileSize: uint32(p.Filesz),
			MemSize:  uint32(p.Memsz),
			Access: mem.AccessType{
				Read:    p.Flags&elf.PF_R != 0,
				Write:   p.Flags&elf.PF_W != 0,
				Execute: p.Flags&elf.PF_X != 0,
			},
		})
		prevEnd = rng.End
	}
	if len(img.Segments) == 0 {
		log.Warningf("ELF file has no loadable segments")
		return nil, kernerr.ENOEXEC
	}
	inText := false
	for _, s := range img.Segments {
		if s.Range.Contains(img.Entry) {
			inText = true
		}
	}
	if !inText {
		log.Warningf("ELF entry %v outside loadable segments", img.Entry)
		return nil, kernerr.ENOEXEC
	}
	return img, nil
}

// Data reads the file-backed bytes of s. The result is MemSize long; the
// tail past FileSize is zero.
func (s Segment) Data(r io.ReaderAt) ([]byte, error) {
	b := make([]byte, s.MemSize)
	if s.FileSize == 0 {
		return b, nil
	}
	n, err := r.ReadAt(b[:s.FileSize], int64(s.Offset))
	if uint32(n) != s.FileSize {
		if err == nil || err == io.EOF {
			log.Warningf("PT_LOAD segment truncated: read %d of %d bytes", n, s.FileSize)
		}
		return nil, kernerr.ENOEXEC
	}
	return b, nil
}

// Size returns the bytes of memory the image occupies.
func (img *Image) Size() uint32 {
	var n uint32
	for _, s := range img.Segments {
		n += s.Range.Length()
	}
	return n
}
