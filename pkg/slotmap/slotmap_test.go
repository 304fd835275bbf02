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

package slotmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestInsertGetRemove(t *testing.T) {
	var m Map[string]
	a := m.Insert("a")
	b := m.Insert("b")
	if got, ok := m.Get(b); !ok || got != "b" {
		t.Errorf("Get(b): got (%q, %v), want (\"b\", true)", got, ok)
	}
	if v, ok := m.Remove(a); !ok || v != "a" {
		t.Fatalf("Remove(a): got (%q, %v), want (\"a\", true)", v, ok)
	}
	if _, ok := m.Get(a); ok {
		t.Errorf("Get(a) after Remove succeeded")
	}
	if _, ok := m.Remove(a); ok {
		t.Errorf("second Remove(a) succeeded")
	}

	// The slot is reused, but the stale handle stays dead.
	c := m.Insert("c")
	if c.Index() != a.Index() {
		t.Errorf("Insert after Remove: got index %d, want reused index %d", c.Index(), a.Index())
	}
	if _, ok := m.Get(a); ok {
		t.Errorf("stale handle %v resolves after slot reuse", a)
	}
	if got, _ := m.Get(c); got != "c" {
		t.Errorf("Get(c): got %q, want %q", got, "c")
	}
	if m.Len() != 2 {
		t.Errorf("Len: got %d, want 2", m.Len())
	}
}

func TestZeroHandle(t *testing.T) {
	var m Map[int]
	m.Insert(1)
	var h Handle
	if h.Valid() {
		t.Errorf("zero handle is valid")
	}
	if _, ok := m.Get(h); ok {
		t.Errorf("zero handle resolves")
	}
}

func TestRange(t *testing.T) {
	var m Map[int]
	hs := []Handle{m.Insert(10), m.Insert(20), m.Insert(30)}
	m.Remove(hs[1])
	var got []int
	m.Range(func(h Handle, v int) bool {
		got = append(got, v)
		return true
	})
	if diff := cmp.Diff([]int{10, 30}, got); diff != "" {
		t.Errorf("Range mismatch (-want +got):\n%s", diff)
	}
	n := 0
	m.Range(func(Handle, int) bool {
		n++
		return false
	})
	if n != 1 {
		t.Errorf("Range after false: got %d calls, want 1", n)
	}
}
