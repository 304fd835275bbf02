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

package kernel

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/fs"
	"github.com/jsnal/os-sub000/pkg/refs"
	"github.com/jsnal/os-sub000/pkg/sync"
)

// FileDescription is an open file: the file, its open flags and the file
// offset. Descriptors that refer to the same description share the offset.
type FileDescription struct {
	refs.AtomicRefCount
	k *Kernel

	file   fs.File
	flags  fs.OpenFlags
	path   string
	offset int64
}

// NewFileDescription returns a description of f holding one reference.
func (k *Kernel) NewFileDescription(f fs.File, flags fs.OpenFlags, path string) *FileDescription {
	fd := &FileDescription{k: k, file: f, flags: flags, path: path}
	k.objects.Register(fd)
	return fd
}

// DecRef implements refs.RefCounter.DecRef.
func (fd *FileDescription) DecRef() {
	fd.DecRefWithDestructor(func() {
		fd.k.objects.Unregister(fd)
	})
}

// RefType implements refs.CheckedObject.RefType.
func (fd *FileDescription) RefType() string { return "FileDescription" }

// LeakMessage implements refs.CheckedObject.LeakMessage.
func (fd *FileDescription) LeakMessage() string {
	return fmt.Sprintf("file description %q with %d references", fd.path, fd.ReadRefs())
}

// File returns the underlying file.
func (fd *FileDescription) File() fs.File { return fd.file }

// Flags returns the open flags.
func (fd *FileDescription) Flags() fs.OpenFlags { return fd.flags }

// Path returns the path the file was opened with.
func (fd *FileDescription) Path() string { return fd.path }

// Offset returns the file offset.
func (fd *FileDescription) Offset() int64 { return fd.offset }

// SetOffset sets the file offset.
func (fd *FileDescription) SetOffset(off int64) { fd.offset = off }

// Read reads into b at the file offset and advances it. End of file is a
// zero count, not an error.
func (fd *FileDescription) Read(b []byte) (int, error) {
	if !fd.flags.Readable() {
		return 0, kernerr.EBADF
	}
	n, err := fd.file.ReadAt(b, fd.offset)
	fd.offset += int64(n)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

// Write writes b at the file offset and advances it.
func (fd *FileDescription) Write(b []byte) (int, error) {
	if !fd.flags.Writable() {
		return 0, kernerr.EBADF
	}
	n, err := fd.file.WriteAt(b, fd.offset)
	fd.offset += int64(n)
	return n, err
}

// FDTable maps descriptor numbers to file descriptions. A table is shared
// by a process and the children it forks.
type FDTable struct {
	refs.AtomicRefCount
	k *Kernel

	// mu protects below.
	mu    sync.Mutex
	max   int
	files []*FileDescription

	// used is the number of non-nil entries.
	used int
}

// NewFDTable allocates an empty table holding one reference.
func (k *Kernel) NewFDTable() *FDTable {
	f := &FDTable{k: k, max: k.opts.MaxFDs}
	k.objects.Register(f)
	return f
}

// RefType implements refs.CheckedObject.RefType.
func (f *FDTable) RefType() string { return "FDTable" }

// LeakMessage implements refs.CheckedObject.LeakMessage.
func (f *FDTable) LeakMessage() string {
	return fmt.Sprintf("fd table with %d references:\n%s", f.ReadRefs(), f)
}

// destroy removes all of the file descriptors from the table.
func (f *FDTable) destroy() {
	f.mu.Lock()
	files := f.files
	f.files, f.used = nil, 0
	f.mu.Unlock()
	for _, fd := range files {
		if fd != nil {
			fd.DecRef()
		}
	}
	f.k.objects.Unregister(f)
}

// DecRef implements refs.RefCounter.DecRef with destructor f.destroy.
func (f *FDTable) DecRef() {
	f.DecRefWithDestructor(f.destroy)
}

// Size returns the number of descriptors in use.
func (f *FDTable) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.used
}

// String is a stringer for FDTable.
func (f *FDTable) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b bytes.Buffer
	for n, fd := range f.files {
		if fd != nil {
			fmt.Fprintf(&b, "\tfd:%d => name %s\n", n, fd.path)
		}
	}
	return b.String()
}

// set installs fd at n, taking a reference, and drops the reference of the
// description it replaces. Callers hold f.mu.
func (f *FDTable) set(n int32, fd *FileDescription) *FileDescription {
	for int(n) >= len(f.files) {
		f.files = append(f.files, nil)
	}
	old := f.files[n]
	if fd != nil {
		fd.IncRef()
		f.used++
	}
	if old != nil {
		f.used--
	}
	f.files[n] = fd
	return old
}

// NewFD installs fd at the lowest free descriptor greater than or equal to
// minfd and returns it.
func (f *FDTable) NewFD(minfd int32, fd *FileDescription) (int32, error) {
	if minfd < 0 {
		return -1, kernerr.EINVAL
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for n := minfd; int(n) < f.max; n++ {
		if int(n) >= len(f.files) || f.files[n] == nil {
			f.set(n, fd)
			return n, nil
		}
	}
	return -1, kernerr.EMFILE
}

// NewFDAt installs fd at n. The description previously at n, if any, loses
// the table's reference.
func (f *FDTable) NewFDAt(n int32, fd *FileDescription) error {
	if n < 0 || int(n) >= f.max {
		return kernerr.EBADF
	}
	f.mu.Lock()
	old := f.set(n, fd)
	f.mu.Unlock()
	if old != nil {
		old.DecRef()
	}
	return nil
}

// Get returns a reference to the description at n. Callers must DecRef it.
func (f *FDTable) Get(n int32) (*FileDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n < 0 || int(n) >= len(f.files) || f.files[n] == nil {
		return nil, kernerr.EBADF
	}
	fd := f.files[n]
	fd.IncRef()
	return fd, nil
}

// Remove removes the descriptor n and drops the table's reference.
func (f *FDTable) Remove(n int32) error {
	f.mu.Lock()
	if n < 0 || int(n) >= len(f.files) || f.files[n] == nil {
		f.mu.Unlock()
		return kernerr.EBADF
	}
	old := f.set(n, nil)
	f.mu.Unlock()
	old.DecRef()
	return nil
}

// GetFDs returns the descriptors in use in ascending order.
func (f *FDTable) GetFDs() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	fds := make([]int32, 0, f.used)
	for n, fd := range f.files {
		if fd != nil {
			fds = append(fds, int32(n))
		}
	}
	return fds
}
