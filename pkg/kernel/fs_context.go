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
	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/fs"
	"github.com/jsnal/os-sub000/pkg/fspath"
)

// ResolvePath returns the canonical absolute form of pathname, looked up
// from p's working directory.
func (p *Process) ResolvePath(pathname string) (string, error) {
	pth, err := fspath.Parse(pathname)
	if err != nil {
		return "", err
	}
	return fspath.Join(fspath.Resolve(p.cwd, pth)), nil
}

// WorkingDirectory returns the absolute path of p's working directory.
func (p *Process) WorkingDirectory() string {
	return fspath.Join(p.cwd)
}

// Chdir changes p's working directory to pathname, which must name a
// directory.
func (p *Process) Chdir(pathname string) error {
	pth, err := fspath.Parse(pathname)
	if err != nil {
		return err
	}
	cwd := fspath.Resolve(p.cwd, pth)
	if _, err := p.k.fs.Open(fspath.Join(cwd), fs.O_RDONLY|fs.O_DIRECTORY, 0); err != nil {
		return err
	}
	p.cwd = cwd
	return nil
}

// Open opens pathname relative to p's working directory and installs it at
// the lowest free descriptor.
func (p *Process) Open(pathname string, flags fs.OpenFlags, mode uint32) (int32, error) {
	if p.fds == nil {
		return -1, kernerr.EBADF
	}
	abs, err := p.ResolvePath(pathname)
	if err != nil {
		return -1, err
	}
	f, err := p.k.fs.Open(abs, flags, mode)
	if err != nil {
		return -1, err
	}
	fd := p.k.NewFileDescription(f, flags, abs)
	n, err := p.fds.NewFD(0, fd)
	fd.DecRef()
	return n, err
}

// GetFile returns a reference to the description at fd, or nil if fd is not
// open. Callers must DecRef it.
func (p *Process) GetFile(fd int32) *FileDescription {
	if p.fds == nil {
		return nil
	}
	file, err := p.fds.Get(fd)
	if err != nil {
		return nil
	}
	return file
}
