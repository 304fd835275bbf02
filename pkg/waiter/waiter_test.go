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

package waiter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNotifyMatchesMask(t *testing.T) {
	var q Queue
	var got []string
	record := func(name string) Entry {
		return NewFunctionEntry(name, func(e *Entry, mask EventMask) {
			got = append(got, e.Context.(string))
		})
	}
	in, child, both := record("in"), record("child"), record("both")
	q.EventRegister(&in, EventIn)
	q.EventRegister(&child, EventChild)
	q.EventRegister(&both, EventIn|EventChild)

	if n := q.Notify(EventIn); n != 2 {
		t.Errorf("Notify(EventIn): got %d, want 2", n)
	}
	q.Notify(EventChild)
	q.Notify(EventOut)
	want := []string{"in", "both", "child", "both"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
	if ev := q.Events(); ev != EventIn|EventChild {
		t.Errorf("Events: got %#x, want %#x", ev, EventIn|EventChild)
	}
}

func TestUnregisterFromCallback(t *testing.T) {
	var q Queue
	calls := 0
	e := NewFunctionEntry(nil, func(e *Entry, mask EventMask) {
		calls++
		q.EventUnregister(e)
	})
	q.EventRegister(&e, EventIn)
	q.Notify(EventIn)
	q.Notify(EventIn)
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
	if !q.IsEmpty() || e.Queued() {
		t.Errorf("entry still registered after unregistering itself")
	}
}

func TestRegisterTwiceUpdatesMask(t *testing.T) {
	var q Queue
	e := NewFunctionEntry(nil, func(*Entry, EventMask) {})
	q.EventRegister(&e, EventIn)
	q.EventRegister(&e, EventHUp)
	if n := q.Notify(EventIn); n != 0 {
		t.Errorf("Notify(EventIn) after re-register: got %d, want 0", n)
	}
	if n := q.Notify(EventHUp); n != 1 {
		t.Errorf("Notify(EventHUp): got %d, want 1", n)
	}
	q.EventUnregister(&e)
	q.EventUnregister(&e)
	if !q.IsEmpty() {
		t.Errorf("queue not empty")
	}
}
