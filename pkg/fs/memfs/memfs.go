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

// Package memfs is an in-memory filesystem of regular files, directories
// and device nodes.
package memfs

import (
	"io"
	"sort"

	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/fs"
	"github.com/jsnal/os-sub000/pkg/fspath"
	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/sync"
)

// maxFileSize bounds regular file growth.
const maxFileSize = 1 << 30

type inode struct {
	ino    uint32
	typ    fs.FileType
	parent *inode

	// data is the content of a regular file.
	data []byte

	// children is the content of a directory.
	children map[string]*inode

	// dev backs a device node.
	dev fs.File
}

// FileSystem is an in-memory filesystem. It is safe for concurrent use.
type FileSystem struct {
	// mu protects the whole tree.
	mu sync.Mutex

	root    *inode
	nextIno uint32
}

var _ fs.FileSystem = (*FileSystem)(nil)

// New returns a filesystem containing only the root directory.
func New() *FileSystem {
	fsys := &FileSystem{nextIno: 1}
	fsys.root = fsys.newInode(fs.Directory, nil)
	fsys.root.parent = fsys.root
	return fsys
}

// Preconditions: fsys.mu is locked or fsys is under construction.
func (fsys *FileSystem) newInode(typ fs.FileType, parent *inode) *inode {
	n := &inode{ino: fsys.nextIno, typ: typ, parent: parent}
	fsys.nextIno++
	if typ == fs.Directory {
		n.children = make(map[string]*inode)
	}
	return n
}

// walk resolves components from the root.
//
// Preconditions: fsys.mu is locked.
func (fsys *FileSystem) walk(components []string) (*inode, error) {
	n := fsys.root
	for _, pc := range components {
		if n.typ != fs.Directory {
			return nil, kernerr.ENOTDIR
		}
		child, ok := n.children[pc]
		if !ok {
			return nil, kernerr.ENOENT
		}
		n = child
	}
	return n, nil
}

func components(path string) (fspath.Path, []string, error) {
	p, err := fspath.Parse(path)
	if err != nil {
		return p, nil, err
	}
	if !p.Absolute {
		return p, nil, kernerr.EINVAL
	}
	return p, fspath.Resolve(nil, p), nil
}

// create makes the node at components, creating missing parent
// directories when parents is set.
//
// Preconditions: fsys.mu is locked.
func (fsys *FileSystem) create(comps []string, typ fs.FileType, parents bool) (*inode, error) {
	if len(comps) == 0 {
		return nil, kernerr.EEXIST
	}
	dir := fsys.root
	for _, pc := range comps[:len(comps)-1] {
		child, ok := dir.children[pc]
		if !ok {
			if !parents {
				return nil, kernerr.ENOENT
			}
			child = fsys.newInode(fs.Directory, dir)
			dir.children[pc] = child
		}
		if child.typ != fs.Directory {
			return nil, kernerr.ENOTDIR
		}
		dir = child
	}
	name := comps[len(comps)-1]
	if _, ok := dir.children[name]; ok {
		return nil, kernerr.EEXIST
	}
	n := fsys.newInode(typ, dir)
	dir.children[name] = n
	return n, nil
}

// MkdirAll creates the directory at path and any missing parents.
func (fsys *FileSystem) MkdirAll(path string) error {
	_, comps, err := components(path)
	if err != nil {
		return err
	}
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if n, err := fsys.walk(comps); err == nil {
		if n.typ != fs.Directory {
			return kernerr.ENOTDIR
		}
		return nil
	}
	_, err = fsys.create(comps, fs.Directory, true)
	return err
}

// WriteFile creates or replaces the regular file at path, creating missing
// parent directories.
func (fsys *FileSystem) WriteFile(path string, data []byte) error {
	_, comps, err := components(path)
	if err != nil {
		return err
	}
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	n, err := fsys.walk(comps)
	switch {
	case err == nil && n.typ != fs.RegularFile:
		return kernerr.EISDIR
	case err != nil:
		if n, err = fsys.create(comps, fs.RegularFile, true); err != nil {
			return err
		}
	}
	n.data = append([]byte(nil), data...)
	log.Debugf("memfs: wrote %s (%d bytes)", path, len(data))
	return nil
}

// AddDevice installs dev as a character device node at path.
func (fsys *FileSystem) AddDevice(path string, dev fs.File) error {
	_, comps, err := components(path)
	if err != nil {
		return err
	}
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	n, err := fsys.create(comps, fs.CharacterDevice, true)
	if err != nil {
		return err
	}
	n.dev = dev
	return nil
}

// Open implements fs.FileSystem.Open.
func (fsys *FileSystem) Open(path string, flags fs.OpenFlags, mode uint32) (fs.File, error) {
	p, comps, err := components(path)
	if err != nil {
		return nil, err
	}
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	n, err := fsys.walk(comps)
	if err == kernerr.ENOENT && flags&fs.O_CREAT != 0 && !p.Dir {
		n, err = fsys.create(comps, fs.RegularFile, false)
	}
	if err != nil {
		return nil, err
	}
	switch n.typ {
	case fs.Directory:
		if flags.Writable() {
			return nil, kernerr.EISDIR
		}
	case fs.CharacterDevice:
		if flags&fs.O_DIRECTORY != 0 || p.Dir {
			return nil, kernerr.ENOTDIR
		}
		return n.dev, nil
	default:
		if flags&fs.O_DIRECTORY != 0 || p.Dir {
			return nil, kernerr.ENOTDIR
		}
		if flags&fs.O_TRUNC != 0 && flags.Writable() {
			n.data = nil
		}
	}
	return &file{fsys: fsys, n: n, flags: flags}, nil
}

// file is an open regular file or directory.
type file struct {
	fs.FileDefaults
	fsys  *FileSystem
	n     *inode
	flags fs.OpenFlags
}

// ReadAt implements io.ReaderAt.ReadAt.
func (f *file) ReadAt(b []byte, off int64) (int, error) {
	if !f.flags.Readable() {
		return 0, kernerr.EBADF
	}
	if f.n.typ == fs.Directory {
		return 0, kernerr.EISDIR
	}
	if off < 0 {
		return 0, kernerr.EINVAL
	}
	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()
	if off >= int64(len(f.n.data)) {
		return 0, io.EOF
	}
	n := copy(b, f.n.data[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt.WriteAt. Files opened with O_APPEND ignore
// off and write at the end.
func (f *file) WriteAt(b []byte, off int64) (int, error) {
	if !f.flags.Writable() {
		return 0, kernerr.EBADF
	}
	if off < 0 {
		return 0, kernerr.EINVAL
	}
	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()
	if f.flags&fs.O_APPEND != 0 {
		off = int64(len(f.n.data))
	}
	end := off + int64(len(b))
	if end > maxFileSize {
		return 0, kernerr.EFBIG
	}
	if end > int64(len(f.n.data)) {
		if end > int64(cap(f.n.data)) {
			grown := make([]byte, end, 2*end)
			copy(grown, f.n.data)
			f.n.data = grown
		} else {
			f.n.data = f.n.data[:end]
		}
	}
	return copy(f.n.data[off:], b), nil
}

// Stat implements fs.File.Stat.
func (f *file) Stat() (fs.Stat, error) {
	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()
	s := fs.Stat{
		Ino:   f.n.ino,
		Mode:  f.n.typ.Mode() | 0o644,
		Nlink: 1,
		Size:  uint32(len(f.n.data)),
	}
	if f.n.typ == fs.Directory {
		s.Mode = f.n.typ.Mode() | 0o755
		s.Nlink = 2
		s.Size = uint32(len(f.n.children))
	}
	return s, nil
}

// ReadDir implements fs.File.ReadDir. Entries are sorted by name, after "."
// and "..".
func (f *file) ReadDir() ([]fs.Dirent, error) {
	if f.n.typ != fs.Directory {
		return nil, kernerr.ENOTDIR
	}
	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()
	names := make([]string, 0, len(f.n.children))
	for name := range f.n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	ents := []fs.Dirent{
		{Ino: f.n.ino, Type: fs.Directory, Name: "."},
		{Ino: f.n.parent.ino, Type: fs.Directory, Name: ".."},
	}
	for _, name := range names {
		c := f.n.children[name]
		ents = append(ents, fs.Dirent{Ino: c.ino, Type: c.typ, Name: name})
	}
	return ents, nil
}
