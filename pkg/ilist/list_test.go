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


package ilist

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type testEntry struct {
	Entry[*testEntry]
	value int
}

func values(l *List[*testEntry]) []int {
	var got []int
	for e := l.Front(); e != nil; e = e.Next() {
		got = append(got, e.value)
	}
	return got
}

func newEntries(n int) []*testEntry {
	es := make([]*testEntry, n)
	for i := range es {
		es[i] = &testEntry{value: i}
	}
	return es
}

func TestPushAndRemove(t *testing.T) {
	es := newEntries(4)
	var l List[*testEntry]
	if !l.Empty() {
		t.Fatalf("new list is not empty")
	}
	l.PushBack(es[1])
	l.PushBack(es[2])
	l.PushFront(es[0])
	l.PushBack(es[3])
	if diff := cmp.Diff([]int{0, 1, 2, 3}, values(&l)); diff != "" {
		t.Errorf("after push (-want +got):\n%s", diff)
	}
	if got, want := l.Len(), 4; got != want {
		t.Errorf("Len() got %d, want %d", got, want)
	}

	l.Remove(es[0])
	l.Remove(es[3])
	if diff := cmp.Diff([]int{1, 2}, values(&l)); diff != "" {
		t.Errorf("after remove (-want +got):\n%s", diff)
	}
	if l.Front() != es[1] || l.Back() != es[2] {
		t.Errorf("Front/Back got %v/%v, want 1/2", l.Front().value, l.Back().value)
	}
	if es[0].Next() != nil || es[0].Prev() != nil {
		t.Errorf("removed entry still linked")
	}

	l.Remove(es[1])
	l.Remove(es[2])
	if !l.Empty() {
		t.Errorf("list not empty after removing everything")
	}
}

func TestInsert(t *testing.T) {
	es := newEntries(4)
	var l List[*testEntry]
	l.PushBack(es[1])
	l.InsertBefore(es[1], es[0])
	l.InsertAfter(es[1], es[3])
	l.InsertAfter(es[1], es[2])
	if diff := cmp.Diff([]int{0, 1, 2, 3}, values(&l)); diff != "" {
		t.Errorf("after insert (-want +got):\n%s", diff)
	}
	if l.Back() != es[3] {
		t.Errorf("Back() got %d, want 3", l.Back().value)
	}
}

func TestPushBackList(t *testing.T) {
	es := newEntries(4)
	var l, m List[*testEntry]
	l.PushBack(es[0])
	l.PushBack(es[1])
	m.PushBack(es[2])
	m.PushBack(es[3])
	l.PushBackList(&m)
	if diff := cmp.Diff([]int{0, 1, 2, 3}, values(&l)); diff != "" {
		t.Errorf("after PushBackList (-want +got):\n%s", diff)
	}
	if !m.Empty() {
		t.Errorf("source list not empty")
	}
	l.Reset()
	if !l.Empty() {
		t.Errorf("list not empty after Reset")
	}
}
