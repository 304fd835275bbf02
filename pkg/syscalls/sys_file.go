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

package syscalls

import (
	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/fs"
	"github.com/jsnal/os-sub000/pkg/kernel"
	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/machine"
)

// Read implements read(2).
//
// The buffer is validated against the caller's regions before the file is
// touched, so a bad pointer consumes no input.
func Read(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()

	if err := p.CheckRange(addr, size, true); err != nil {
		return 0, err
	}
	file := p.GetFile(fd)
	if file == nil {
		return 0, kernerr.EBADF
	}
	defer file.DecRef()

	if size == 0 {
		return 0, nil
	}
	buf := make([]byte, size)
	n, err := file.Read(buf)
	if n > 0 {
		if cerr := p.CopyOut(addr, buf[:n]); cerr != nil {
			return 0, cerr
		}
	}
	if err != nil && n == 0 {
		return 0, err
	}
	return uint32(n), nil
}

// Write implements write(2).
//
// As with Read, a buffer outside the caller's regions fails with EFAULT
// before anything reaches the file.
func Write(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()

	if err := p.CheckRange(addr, size, false); err != nil {
		return 0, err
	}
	file := p.GetFile(fd)
	if file == nil {
		return 0, kernerr.EBADF
	}
	defer file.DecRef()

	buf, err := p.CopyIn(addr, size)
	if err != nil {
		return 0, err
	}
	n, err := file.Write(buf)
	if err != nil && n == 0 {
		return 0, err
	}
	return uint32(n), nil
}

// Open implements open(2).
func Open(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	addr := args[0].Pointer()
	flags := fs.OpenFlags(args[1].Uint())
	mode := args[2].Uint()

	pathname, err := p.CopyInString(addr, MaxPathLen)
	if err != nil {
		return 0, err
	}
	fd, err := p.Open(pathname, flags, mode)
	if err != nil {
		return 0, err
	}
	return uint32(fd), nil
}

// Fstat implements fstat(2). The result is the five word fs.Stat layout.
func Fstat(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	fd := args[0].Int()
	statAddr := args[1].Pointer()

	if err := p.CheckRange(statAddr, fs.StatSize, true); err != nil {
		return 0, err
	}
	file := p.GetFile(fd)
	if file == nil {
		return 0, kernerr.EBADF
	}
	defer file.DecRef()

	stat, err := file.File().Stat()
	if err != nil {
		return 0, err
	}
	return 0, p.CopyOut(statAddr, stat.Encode())
}

// Ioctl implements ioctl(2). The request's result is returned directly.
func Ioctl(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	fd := args[0].Int()
	request := args[1].Uint()
	arg := args[2].Uint()

	file := p.GetFile(fd)
	if file == nil {
		return 0, kernerr.EBADF
	}
	defer file.DecRef()
	return file.File().Ioctl(request, arg)
}

// Isatty returns 1 if fd refers to a terminal and 0 otherwise.
func Isatty(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	file := p.GetFile(args[0].Int())
	if file == nil {
		return 0, kernerr.EBADF
	}
	defer file.DecRef()
	if file.File().IsTTY() {
		return 1, nil
	}
	return 0, nil
}

// Getdirentries fills buf with as many directory entries of fd as fit and
// returns the number of bytes used, or 0 at the end of the directory. The
// description's offset counts entries, not bytes.
func Getdirentries(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()

	if err := p.CheckRange(addr, size, true); err != nil {
		return 0, err
	}
	file := p.GetFile(fd)
	if file == nil {
		return 0, kernerr.EBADF
	}
	defer file.DecRef()

	ents, err := file.File().ReadDir()
	if err != nil {
		return 0, err
	}
	idx := file.Offset()
	var buf []byte
	for ; idx < int64(len(ents)); idx++ {
		d := &ents[idx]
		if len(buf)+d.RecordLength() > int(size) {
			break
		}
		buf = d.Encode(buf)
	}
	if len(buf) == 0 {
		if idx < int64(len(ents)) {
			// The next entry alone does not fit.
			return 0, kernerr.EINVAL
		}
		return 0, nil
	}
	if err := p.CopyOut(addr, buf); err != nil {
		return 0, err
	}
	file.SetOffset(idx)
	return uint32(len(buf)), nil
}

// DbgWrite writes a buffer to the kernel log.
func DbgWrite(p *kernel.Process, tf *machine.TrapFrame, args Arguments) (uint32, error) {
	addr := args[0].Pointer()
	size := args[1].SizeT()

	buf, err := p.CopyIn(addr, size)
	if err != nil {
		return 0, err
	}
	log.Infof("%v: %s", p, buf)
	return size, nil
}
