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

// Package errno holds the error numbers returned to user programs. The
// values match include/uapi/asm-generic/errno-base.h so the C library shipped
// with user programs can share its headers with Linux.
package errno

// Errno is a system call error number.
type Errno uint32

// Errno values from include/uapi/asm-generic/errno-base.h.
const (
	NOERRNO Errno = iota
	EPERM
	ENOENT
	ESRCH
	EINTR
	EIO
	ENXIO
	E2BIG
	ENOEXEC
	EBADF
	ECHILD
	EAGAIN
	ENOMEM
	EACCES
	EFAULT
	ENOTBLK
	EBUSY
	EEXIST
	EXDEV
	ENODEV
	ENOTDIR
	EISDIR
	EINVAL
	ENFILE
	EMFILE
	ENOTTY
	ETXTBSY
	EFBIG
	ENOSPC
	ESPIPE
	EROFS
	EMLINK
	EPIPE
	EDOM
	ERANGE
)

// ENOSYS is from include/uapi/asm-generic/errno.h.
const ENOSYS Errno = 38

// MaxErrno is one past the largest errno known to the kernel.
const MaxErrno = ENOSYS + 1

// Negate returns the value placed in the accumulator when a system call
// fails with e.
func (e Errno) Negate() uint32 {
	return uint32(-int32(e))
}

// FromReturn decodes a system call return value. ok is false if v does not
// encode an error.
func FromReturn(v uint32) (e Errno, ok bool) {
	n := int32(v)
	if n >= 0 || -n >= int32(MaxErrno) {
		return NOERRNO, false
	}
	return Errno(-n), true
}
