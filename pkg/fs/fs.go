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

// Package fs defines the filesystem contract the kernel consumes: a
// FileSystem that opens canonical absolute paths into Files.
package fs

import (
	"encoding/binary"
	"io"

	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
)

// OpenFlags are the flags accepted by FileSystem.Open. Values match Linux
// i386.
type OpenFlags uint32

// Open flags.
const (
	O_RDONLY    OpenFlags = 0x0
	O_WRONLY    OpenFlags = 0x1
	O_RDWR      OpenFlags = 0x2
	O_ACCMODE   OpenFlags = 0x3
	O_CREAT     OpenFlags = 0x40
	O_TRUNC     OpenFlags = 0x200
	O_APPEND    OpenFlags = 0x400
	O_DIRECTORY OpenFlags = 0x10000
)

// Readable returns true if the access mode allows reading.
func (f OpenFlags) Readable() bool {
	return f&O_ACCMODE == O_RDONLY || f&O_ACCMODE == O_RDWR
}

// Writable returns true if the access mode allows writing.
func (f OpenFlags) Writable() bool {
	return f&O_ACCMODE == O_WRONLY || f&O_ACCMODE == O_RDWR
}

// FileType is the type of a file.
type FileType uint8

// File types. Values match the DT_* constants used in directory entries.
const (
	CharacterDevice FileType = 2
	Directory       FileType = 4
	RegularFile     FileType = 8
)

// Mode returns the S_IFMT bits for t.
func (t FileType) Mode() uint32 {
	switch t {
	case CharacterDevice:
		return 0o020000
	case Directory:
		return 0o040000
	default:
		return 0o100000
	}
}

// String implements fmt.Stringer.String.
func (t FileType) String() string {
	switch t {
	case CharacterDevice:
		return "chr"
	case Directory:
		return "dir"
	case RegularFile:
		return "reg"
	default:
		return "unknown"
	}
}

// StatSize is the size of an encoded Stat.
const StatSize = 20

// Stat describes a file.
type Stat struct {
	Ino   uint32
	Mode  uint32
	Nlink uint32
	Size  uint32
	Rdev  uint32
}

// Encode returns the layout written to user memory by fstat: five
// little-endian words in field order.
func (s *Stat) Encode() []byte {
	b := make([]byte, StatSize)
	binary.LittleEndian.PutUint32(b[0:], s.Ino)
	binary.LittleEndian.PutUint32(b[4:], s.Mode)
	binary.LittleEndian.PutUint32(b[8:], s.Nlink)
	binary.LittleEndian.PutUint32(b[12:], s.Size)
	binary.LittleEndian.PutUint32(b[16:], s.Rdev)
	return b
}

// Dirent is a directory entry.
type Dirent struct {
	Ino  uint32
	Type FileType
	Name string
}

// direntHeader is ino (4), reclen (2) and type (1).
const direntHeader = 7

// RecordLength returns the size of the encoded entry: the header, the name
// and its NUL terminator, padded to four bytes.
func (d *Dirent) RecordLength() int {
	return (direntHeader + len(d.Name) + 1 + 3) &^ 3
}

// Encode appends the encoded entry to b.
func (d *Dirent) Encode(b []byte) []byte {
	n := d.RecordLength()
	rec := make([]byte, n)
	binary.LittleEndian.PutUint32(rec[0:], d.Ino)
	binary.LittleEndian.PutUint16(rec[4:], uint16(n))
	rec[6] = byte(d.Type)
	copy(rec[direntHeader:], d.Name)
	return append(b, rec...)
}

// File is an open file.
type File interface {
	io.ReaderAt
	io.WriterAt

	// Stat describes the file.
	Stat() (Stat, error)

	// ReadDir lists a directory. Other files return ENOTDIR.
	ReadDir() ([]Dirent, error)

	// IsTTY returns true if the file is a terminal.
	IsTTY() bool

	// Ioctl performs a device control request.
	Ioctl(request, arg uint32) (uint32, error)
}

// FileSystem opens files by canonical absolute path.
type FileSystem interface {
	Open(path string, flags OpenFlags, mode uint32) (File, error)
}

// FileDefaults implements the optional parts of File for files that do not
// support them.
type FileDefaults struct{}

// ReadDir implements File.ReadDir.
func (FileDefaults) ReadDir() ([]Dirent, error) {
	return nil, kernerr.ENOTDIR
}

// IsTTY implements File.IsTTY.
func (FileDefaults) IsTTY() bool {
	return false
}

// Ioctl implements File.Ioctl.
func (FileDefaults) Ioctl(request, arg uint32) (uint32, error) {
	return 0, kernerr.ENOTTY
}

