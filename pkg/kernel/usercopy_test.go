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
	"testing"

	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/mem"
)

// newUnstartedUserProcess returns a user process that never runs, with one
// read-write and one read-only region.
func newUnstartedUserProcess(t *testing.T, k *Kernel) (p *Process, rw, ro mem.VirtAddr) {
	t.Helper()
	p, err := k.CreateUserProcess("/bin/none", nil)
	if err != nil {
		t.Fatalf("CreateUserProcess: %v", err)
	}
	if rw, err = p.Mmap(0, 2*mem.PageSize, mem.ReadWrite); err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	if ro, err = p.Mmap(0, mem.PageSize, mem.Read); err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	return p, rw, ro
}

func TestCopyInOut(t *testing.T) {
	k, _ := newTestKernel(t, Options{})
	p, rw, _ := newUnstartedUserProcess(t, k)

	msg := []byte("across a page boundary")
	at := rw + mem.PageSize - 5
	if err := p.CopyOut(at, msg); err != nil {
		t.Fatalf("CopyOut: %v", err)
	}
	got, err := p.CopyIn(at, uint32(len(msg)))
	if err != nil {
		t.Fatalf("CopyIn: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("CopyIn: got %q, want %q", got, msg)
	}
	if err := p.CopyOut(rw+100, []byte("name\x00junk")); err != nil {
		t.Fatalf("CopyOut: %v", err)
	}
	if s, err := p.CopyInString(rw+100, 16); err != nil || s != "name" {
		t.Errorf("CopyInString: got (%q, %v), want (\"name\", nil)", s, err)
	}
	if _, err := p.CopyInString(rw+100, 3); !errors.Is(err, kernerr.ERANGE) {
		t.Errorf("CopyInString too long: got %v, want %v", err, kernerr.ERANGE)
	}
}

func TestCopyFaults(t *testing.T) {
	k, _ := newTestKernel(t, Options{})
	p, rw, ro := newUnstartedUserProcess(t, k)
	for _, tc := range []struct {
		name  string
		addr  mem.VirtAddr
		n     uint32
		write bool
	}{
		{name: "null", addr: 0, n: 1},
		{name: "kernel half", addr: mem.KernelBase, n: 4},
		{name: "past the end", addr: rw + 2*mem.PageSize - 2, n: 4},
		{name: "unmapped", addr: rw - mem.PageSize, n: 1},
		{name: "write read-only", addr: ro, n: 1, write: true},
		{name: "wraps", addr: rw, n: 0xFFFFFFFF},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := p.CheckRange(tc.addr, tc.n, tc.write); !errors.Is(err, kernerr.EFAULT) {
				t.Errorf("CheckRange: got %v, want %v", err, kernerr.EFAULT)
			}
			var err error
			if tc.write {
				err = p.CopyOut(tc.addr, make([]byte, tc.n))
			} else if tc.n < mem.PageSize {
				_, err = p.CopyIn(tc.addr, tc.n)
			} else {
				return
			}
			if !errors.Is(err, kernerr.EFAULT) {
				t.Errorf("copy: got %v, want %v", err, kernerr.EFAULT)
			}
		})
	}
	if err := p.CheckRange(ro, mem.PageSize, false); err != nil {
		t.Errorf("CheckRange(read-only, read): got %v, want nil", err)
	}
	if _, err := p.CopyInString(0, 8); !errors.Is(err, kernerr.EFAULT) {
		t.Errorf("CopyInString(0): got %v, want %v", err, kernerr.EFAULT)
	}
}

func TestMunmap(t *testing.T) {
	k, _ := newTestKernel(t, Options{})
	p, rw, _ := newUnstartedUserProcess(t, k)
	if err := p.Munmap(rw, mem.PageSize); !errors.Is(err, kernerr.EINVAL) {
		t.Errorf("Munmap of a partial region: got %v, want %v", err, kernerr.EINVAL)
	}
	if err := p.Munmap(rw, 2*mem.PageSize-1); err != nil {
		t.Fatalf("Munmap: %v", err)
	}
	if err := p.CheckRange(rw, 1, false); !errors.Is(err, kernerr.EFAULT) {
		t.Errorf("CheckRange after Munmap: got %v, want %v", err, kernerr.EFAULT)
	}
	if got, want := len(p.Regions()), 1; got != want {
		t.Errorf("len(Regions): got %d, want %d", got, want)
	}
}
