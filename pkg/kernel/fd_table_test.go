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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/fs"
)

func TestFDTable(t *testing.T) {
	k, fsys := newTestKernel(t, Options{MaxFDs: 4})
	if err := fsys.WriteFile("/etc/motd", []byte("hello")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f, err := fsys.Open("/etc/motd", fs.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fd := k.NewFileDescription(f, fs.O_RDONLY, "/etc/motd")
	defer fd.DecRef()

	table := k.NewFDTable()
	defer table.DecRef()
	for want := int32(0); want < 4; want++ {
		got, err := table.NewFD(0, fd)
		if err != nil || got != want {
			t.Fatalf("NewFD: got (%d, %v), want (%d, nil)", got, err, want)
		}
	}
	if _, err := table.NewFD(0, fd); !errors.Is(err, kernerr.EMFILE) {
		t.Errorf("NewFD on a full table: got %v, want %v", err, kernerr.EMFILE)
	}
	if err := table.Remove(1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := table.Remove(1); !errors.Is(err, kernerr.EBADF) {
		t.Errorf("second Remove: got %v, want %v", err, kernerr.EBADF)
	}
	if got, err := table.NewFD(0, fd); err != nil || got != 1 {
		t.Errorf("NewFD after Remove: got (%d, %v), want (1, nil)", got, err)
	}
	if got, want := fd.ReadRefs(), int64(5); got != want {
		t.Errorf("references: got %d, want %d", got, want)
	}
	if diff := cmp.Diff([]int32{0, 1, 2, 3}, table.GetFDs()); diff != "" {
		t.Errorf("GetFDs mismatch (-want +got):\n%s", diff)
	}
	if _, err := table.Get(7); !errors.Is(err, kernerr.EBADF) {
		t.Errorf("Get(7): got %v, want %v", err, kernerr.EBADF)
	}
}

func TestFileDescriptionOffset(t *testing.T) {
	k, fsys := newTestKernel(t, Options{})
	if err := fsys.WriteFile("/data", []byte("abcdef")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f, err := fsys.Open("/data", fs.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fd := k.NewFileDescription(f, fs.O_RDONLY, "/data")
	defer fd.DecRef()

	buf := make([]byte, 4)
	var got []string
	for i := 0; i < 3; i++ {
		n, err := fd.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got = append(got, string(buf[:n]))
	}
	if diff := cmp.Diff([]string{"abcd", "ef", ""}, got); diff != "" {
		t.Errorf("reads mismatch (-want +got):\n%s", diff)
	}
	if _, err := fd.Write([]byte("x")); !errors.Is(err, kernerr.EBADF) {
		t.Errorf("Write on a read-only description: got %v, want %v", err, kernerr.EBADF)
	}
}
