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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/mem"
)

const (
	textBase = 0x08048000
	dataBase = 0x08049000
)

func testImage() []byte {
	return Build(textBase+8, []BuildSegment{
		{Vaddr: textBase, Data: bytes.Repeat([]byte{0xAA}, 24), Flags: elf.PF_R | elf.PF_X},
		{Vaddr: dataBase + 0x10, Data: []byte("hello"), MemSize: 0x2000, Flags: elf.PF_R | elf.PF_W},
	})
}

func TestBuildAndParse(t *testing.T) {
	b := testImage()
	img, err := Parse(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if img.Entry != textBase+8 {
		t.Errorf("Entry: got %v, want %#x", img.Entry, textBase+8)
	}
	want := []Segment{
		{
			Vaddr:    textBase,
			Range:    mem.VirtRange{Start: textBase, End: textBase + mem.PageSize},
			Offset:   mem.PageSize,
			FileSize: 24,
			MemSize:  24,
			Access:   mem.AccessType{Read: true, Execute: true},
		},
		{
			Vaddr:    dataBase + 0x10,
			Range:    mem.VirtRange{Start: dataBase, End: dataBase + 3*mem.PageSize},
			Offset:   2 * mem.PageSize,
			FileSize: 5,
			MemSize:  0x2000,
			Access:   mem.ReadWrite,
		},
	}
	if diff := cmp.Diff(want, img.Segments); diff != "" {
		t.Errorf("Segments mismatch (-want +got):\n%s", diff)
	}
	if got, want := img.Size(), uint32(4*mem.PageSize); got != want {
		t.Errorf("Size: got %#x, want %#x", got, want)
	}

	data, err := img.Segments[1].Data(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if len(data) != 0x2000 {
		t.Fatalf("len(Data): got %#x, want %#x", len(data), 0x2000)
	}
	if got := string(data[:5]); got != "hello" {
		t.Errorf("Data prefix: got %q, want %q", got, "hello")
	}
	if data[5] != 0 || data[0x1fff] != 0 {
		t.Errorf("Data tail is not zero")
	}
}

// patch returns a copy of b with v written little-endian at off.
func patch(b []byte, off int, v any) []byte {
	c := append([]byte(nil), b...)
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, v)
	copy(c[off:], buf.Bytes())
	return c
}

func TestParseRejects(t *testing.T) {
	// Offsets into the ELF32 header and the first program header.
	const (
		eMachine = 18
		eType    = 16
		eEntry   = 24
		pVaddr   = ehdrSize + 8
		pFilesz  = ehdrSize + 16
		pMemsz   = ehdrSize + 20
		p2Vaddr  = ehdrSize + phdrSize + 8
	)
	good := testImage()
	for _, tc := range []struct {
		name string
		file []byte
	}{
		{name: "garbage", file: []byte("#!/bin/sh\necho hi\n")},
		{name: "empty", file: nil},
		{name: "64-bit class", file: patch(good, elf.EI_CLASS, uint8(elf.ELFCLASS64))},
		{name: "big endian", file: patch(good, elf.EI_DATA, uint8(elf.ELFDATA2MSB))},
		{name: "wrong machine", file: patch(good, eMachine, uint16(elf.EM_ARM))},
		{name: "shared object", file: patch(good, eType, uint16(elf.ET_DYN))},
		{name: "entry outside segments", file: patch(good, eEntry, uint32(0x10000000))},
		{name: "kernel address", file: patch(good, pVaddr, uint32(0xC0001000))},
		{name: "below user base", file: patch(good, pVaddr, uint32(0x1000))},
		{name: "filesz beyond memsz", file: patch(good, pFilesz, uint32(0x100))},
		{name: "address overflow", file: patch(patch(good, pVaddr, uint32(0xBFFFF000)), pMemsz, uint32(0x50000000))},
		{name: "shared page", file: patch(good, p2Vaddr, uint32(textBase+0x800))},
		{name: "no segments", file: Build(textBase, nil)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(bytes.NewReader(tc.file))
			if !errors.Is(err, kernerr.ENOEXEC) {
				t.Errorf("Parse: got %v, want %v", err, kernerr.ENOEXEC)
			}
		})
	}
}

func TestDataTruncated(t *testing.T) {
	b := testImage()
	img, err := Parse(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	short := b[:2*mem.PageSize+2]
	if _, err := img.Segments[1].Data(bytes.NewReader(short)); !errors.Is(err, kernerr.ENOEXEC) {
		t.Errorf("Data: got %v, want %v", err, kernerr.ENOEXEC)
	}
}
