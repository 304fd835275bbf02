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

package addrspace

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jsnal/os-sub000/pkg/mem"
)

var testSpan = mem.VirtRange{Start: 0x400000, End: 0x800000}

func newAllocator(t *testing.T) *Allocator {
	t.Helper()
	a, err := New(testSpan)
	if err != nil {
		t.Fatalf("New(%v): %v", testSpan, err)
	}
	return a
}

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		name string
		span mem.VirtRange
		want error
	}{
		{"empty", mem.VirtRange{Start: 0x1000, End: 0x1000}, ErrInvalidLength},
		{"inverted", mem.VirtRange{Start: 0x2000, End: 0x1000}, ErrInvalidLength},
		{"unaligned", mem.VirtRange{Start: 0x1000, End: 0x1800}, ErrNotPageAligned},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.span); err != tc.want {
				t.Errorf("New(%v): got %v, want %v", tc.span, err, tc.want)
			}
		})
	}
}

func TestAllocateFirstFit(t *testing.T) {
	a := newAllocator(t)
	r1, err := a.Allocate(1)
	if err != nil {
		t.Fatalf("Allocate(1): %v", err)
	}
	if want := (mem.VirtRange{Start: 0x400000, End: 0x401000}); r1 != want {
		t.Errorf("Allocate(1): got %v, want %v", r1, want)
	}
	r2, err := a.Allocate(0x2001)
	if err != nil {
		t.Fatalf("Allocate(0x2001): %v", err)
	}
	if want := (mem.VirtRange{Start: 0x401000, End: 0x404000}); r2 != want {
		t.Errorf("Allocate(0x2001): got %v, want %v", r2, want)
	}

	// A hole that is too small is skipped.
	if err := a.Free(r1); err != nil {
		t.Fatalf("Free(%v): %v", r1, err)
	}
	r3, err := a.Allocate(0x2000)
	if err != nil {
		t.Fatalf("Allocate(0x2000): %v", err)
	}
	if want := (mem.VirtRange{Start: 0x404000, End: 0x406000}); r3 != want {
		t.Errorf("Allocate(0x2000): got %v, want %v", r3, want)
	}
	want := []mem.VirtRange{{Start: 0x400000, End: 0x401000}, {Start: 0x406000, End: 0x800000}}
	if diff := cmp.Diff(want, a.FreeRanges()); diff != "" {
		t.Errorf("FreeRanges mismatch (-want +got):\n%s", diff)
	}
}

func TestAllocateErrors(t *testing.T) {
	a := newAllocator(t)
	if _, err := a.Allocate(0); err != ErrInvalidLength {
		t.Errorf("Allocate(0): got %v, want %v", err, ErrInvalidLength)
	}
	if _, err := a.Allocate(0xFFFFFFFF); err != ErrInvalidLength {
		t.Errorf("Allocate(max): got %v, want %v", err, ErrInvalidLength)
	}
	if _, err := a.Allocate(testSpan.Length() + 1); err != ErrNoSpace {
		t.Errorf("Allocate(too big): got %v, want %v", err, ErrNoSpace)
	}
	if _, err := a.Allocate(testSpan.Length()); err != nil {
		t.Fatalf("Allocate(whole span): %v", err)
	}
	if _, err := a.Allocate(mem.PageSize); err != ErrNoSpace {
		t.Errorf("Allocate on exhausted allocator: got %v, want %v", err, ErrNoSpace)
	}
}

func TestAllocateAt(t *testing.T) {
	for _, tc := range []struct {
		name   string
		addr   mem.VirtAddr
		length uint32
		want   []mem.VirtRange
	}{
		{
			name:   "head",
			addr:   0x400000,
			length: 0x1000,
			want:   []mem.VirtRange{{Start: 0x401000, End: 0x800000}},
		},
		{
			name:   "tail",
			addr:   0x7FF000,
			length: 0x1000,
			want:   []mem.VirtRange{{Start: 0x400000, End: 0x7FF000}},
		},
		{
			name:   "middle",
			addr:   0x500000,
			length: 0x1800,
			want:   []mem.VirtRange{{Start: 0x400000, End: 0x500000}, {Start: 0x502000, End: 0x800000}},
		},
		{
			name:   "whole",
			addr:   0x400000,
			length: 0x400000,
			want:   []mem.VirtRange{},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := newAllocator(t)
			got, err := a.AllocateAt(tc.addr, tc.length)
			if err != nil {
				t.Fatalf("AllocateAt(%v, %#x): %v", tc.addr, tc.length, err)
			}
			if got.Start != tc.addr || got.Length()%mem.PageSize != 0 || got.Length() < tc.length {
				t.Errorf("AllocateAt(%v, %#x): got %v", tc.addr, tc.length, got)
			}
			if diff := cmp.Diff(tc.want, a.FreeRanges()); diff != "" {
				t.Errorf("FreeRanges mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAllocateAtErrors(t *testing.T) {
	a := newAllocator(t)
	if _, err := a.AllocateAt(0x500000, 0x2000); err != nil {
		t.Fatalf("AllocateAt: %v", err)
	}
	for _, tc := range []struct {
		name   string
		addr   mem.VirtAddr
		length uint32
		want   error
	}{
		{"unaligned", 0x400800, 0x1000, ErrNotPageAligned},
		{"zero length", 0x400000, 0, ErrInvalidLength},
		{"below span", 0x3FF000, 0x2000, ErrOutOfSpan},
		{"above span", 0x7FF000, 0x2000, ErrOutOfSpan},
		{"taken", 0x501000, 0x1000, ErrNotFree},
		{"straddles", 0x4FF000, 0x2000, ErrNotFree},
		{"wraps", 0xFFFFF000, 0x2000, ErrInvalidLength},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := a.AllocateAt(tc.addr, tc.length); err != tc.want {
				t.Errorf("AllocateAt(%v, %#x): got %v, want %v", tc.addr, tc.length, err, tc.want)
			}
		})
	}
}

func TestFreeCoalesces(t *testing.T) {
	a := newAllocator(t)
	var rs []mem.VirtRange
	for i := 0; i < 3; i++ {
		r, err := a.Allocate(mem.PageSize)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		rs = append(rs, r)
	}
	// Free the outer two first, then the middle one bridges them.
	for _, i := range []int{0, 2, 1} {
		if err := a.Free(rs[i]); err != nil {
			t.Fatalf("Free(%v): %v", rs[i], err)
		}
	}
	if diff := cmp.Diff([]mem.VirtRange{testSpan}, a.FreeRanges()); diff != "" {
		t.Errorf("FreeRanges mismatch (-want +got):\n%s", diff)
	}
}

func TestFreeErrors(t *testing.T) {
	a := newAllocator(t)
	r, err := a.AllocateAt(0x600000, 0x4000)
	if err != nil {
		t.Fatalf("AllocateAt: %v", err)
	}
	for _, tc := range []struct {
		name string
		r    mem.VirtRange
		want error
	}{
		{"empty", mem.VirtRange{Start: 0x600000, End: 0x600000}, ErrInvalidLength},
		{"unaligned", mem.VirtRange{Start: 0x600000, End: 0x600800}, ErrNotPageAligned},
		{"out of span", mem.VirtRange{Start: 0x800000, End: 0x801000}, ErrOutOfSpan},
		{"already free", mem.VirtRange{Start: 0x400000, End: 0x401000}, ErrDoubleFree},
		{"overlaps prev", mem.VirtRange{Start: 0x5FF000, End: 0x601000}, ErrDoubleFree},
		{"overlaps next", mem.VirtRange{Start: 0x603000, End: 0x605000}, ErrDoubleFree},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := a.Free(tc.r); err != tc.want {
				t.Errorf("Free(%v): got %v, want %v", tc.r, err, tc.want)
			}
		})
	}
	if err := a.Free(r); err != nil {
		t.Fatalf("Free(%v): %v", r, err)
	}
	if err := a.Free(r); err != ErrDoubleFree {
		t.Errorf("second Free(%v): got %v, want %v", r, err, ErrDoubleFree)
	}
}

// TestRoundTrip checks that allocating a range and freeing it again restores
// the exact free list, starting from many fragmented states.
func TestRoundTrip(t *testing.T) {
	a := newAllocator(t)
	rng := rand.New(rand.NewSource(7))
	var live []mem.VirtRange
	for step := 0; step < 500; step++ {
		if len(live) > 0 && rng.Intn(2) == 0 {
			i := rng.Intn(len(live))
			if err := a.Free(live[i]); err != nil {
				t.Fatalf("step %d: Free(%v): %v", step, live[i], err)
			}
			live = append(live[:i], live[i+1:]...)
			continue
		}

		before := a.FreeRanges()
		length := uint32(1+rng.Intn(8)) * mem.PageSize
		r, err := a.Allocate(length)
		if err == ErrNoSpace {
			continue
		}
		if err != nil {
			t.Fatalf("step %d: Allocate(%#x): %v", step, length, err)
		}
		if err := a.Free(r); err != nil {
			t.Fatalf("step %d: Free(%v): %v", step, r, err)
		}
		if diff := cmp.Diff(before, a.FreeRanges()); diff != "" {
			t.Fatalf("step %d: round trip of %v changed free list (-before +after):\n%s", step, r, diff)
		}
		if r, err = a.Allocate(length); err != nil {
			t.Fatalf("step %d: Allocate(%#x): %v", step, length, err)
		}
		live = append(live, r)
	}
	for _, r := range live {
		if err := a.Free(r); err != nil {
			t.Fatalf("Free(%v): %v", r, err)
		}
	}
	if diff := cmp.Diff([]mem.VirtRange{testSpan}, a.FreeRanges()); diff != "" {
		t.Errorf("final FreeRanges mismatch (-want +got):\n%s", diff)
	}
	if got := a.FreeBytes(); got != uint64(testSpan.Length()) {
		t.Errorf("FreeBytes: got %#x, want %#x", got, testSpan.Length())
	}
}
