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

package mem

import "testing"

func TestRounding(t *testing.T) {
	for _, tc := range []struct {
		in        VirtAddr
		down, up  VirtAddr
		upOK      bool
		isAligned bool
	}{
		{in: 0, down: 0, up: 0, upOK: true, isAligned: true},
		{in: 1, down: 0, up: PageSize, upOK: true},
		{in: 0x1000, down: 0x1000, up: 0x1000, upOK: true, isAligned: true},
		{in: 0x1fff, down: 0x1000, up: 0x2000, upOK: true},
		{in: 0xfffff001, down: 0xfffff000, up: 0, upOK: false},
	} {
		if got := tc.in.RoundDown(); got != tc.down {
			t.Errorf("%v.RoundDown(): got %v, want %v", tc.in, got, tc.down)
		}
		got, ok := tc.in.RoundUp()
		if ok != tc.upOK || (ok && got != tc.up) {
			t.Errorf("%v.RoundUp(): got (%v, %t), want (%v, %t)", tc.in, got, ok, tc.up, tc.upOK)
		}
		if got := tc.in.IsPageAligned(); got != tc.isAligned {
			t.Errorf("%v.IsPageAligned(): got %t, want %t", tc.in, got, tc.isAligned)
		}
	}
}

func TestIndices(t *testing.T) {
	v := VirtAddr(0xC0403123)
	if got, want := v.DirectoryIndex(), 769; got != want {
		t.Errorf("DirectoryIndex: got %d, want %d", got, want)
	}
	if got, want := v.TableIndex(), 3; got != want {
		t.Errorf("TableIndex: got %d, want %d", got, want)
	}
	if got, want := v.PageOffset(), uint32(0x123); got != want {
		t.Errorf("PageOffset: got %#x, want %#x", got, want)
	}
	if !v.IsKernel() {
		t.Errorf("IsKernel: got false")
	}
}

func TestKernelWindow(t *testing.T) {
	const window = 8 * MiB
	v, ok := PhysToKernelVirt(0x200000, window)
	if !ok || v != 0xC0200000 {
		t.Fatalf("PhysToKernelVirt(0x200000): got (%v, %t)", v, ok)
	}
	p, ok := KernelVirtToPhys(v, window)
	if !ok || p != 0x200000 {
		t.Fatalf("KernelVirtToPhys(%v): got (%v, %t)", v, p, ok)
	}
	if _, ok := PhysToKernelVirt(window, window); ok {
		t.Errorf("PhysToKernelVirt(window end): got ok")
	}
	if _, ok := KernelVirtToPhys(0x1000, window); ok {
		t.Errorf("KernelVirtToPhys(user address): got ok")
	}
}

func TestRanges(t *testing.T) {
	r := VirtRange{0x1000, 0x3000}
	if r.Length() != 0x2000 || r.Pages() != 2 {
		t.Errorf("%v: got length %#x pages %d", r, r.Length(), r.Pages())
	}
	if !r.Contains(0x2fff) || r.Contains(0x3000) {
		t.Errorf("%v.Contains: wrong bounds", r)
	}
	if !r.Overlaps(VirtRange{0x2000, 0x4000}) || r.Overlaps(VirtRange{0x3000, 0x4000}) {
		t.Errorf("%v.Overlaps: wrong result", r)
	}
	if !r.IsSupersetOf(VirtRange{0x1000, 0x2000}) || r.IsSupersetOf(VirtRange{0, 0x2000}) {
		t.Errorf("%v.IsSupersetOf: wrong result", r)
	}
	if got := PagesFor(PageSize + 1); got != 2 {
		t.Errorf("PagesFor(PageSize+1): got %d, want 2", got)
	}
}

func TestAccessType(t *testing.T) {
	if got := ReadWrite.String(); got != "rw-" {
		t.Errorf("ReadWrite.String(): got %q", got)
	}
	if !AnyAccess.SupersetOf(ReadWrite) || Read.SupersetOf(Write) {
		t.Errorf("SupersetOf: wrong result")
	}
}
