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

package cleanup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCleanOrder(t *testing.T) {
	var order []string
	cu := Make(func() { order = append(order, "directory") })
	cu.Add(func() { order = append(order, "kernel stack") })
	cu.Add(func() { order = append(order, "user stack") })
	cu.Clean()

	want := []string{"user stack", "kernel stack", "directory"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("cleanup order mismatch (-want +got):\n%s", diff)
	}

	// A second Clean is a no-op.
	cu.Clean()
	if len(order) != len(want) {
		t.Errorf("second Clean ran cleaners again: %v", order)
	}
}

func TestRelease(t *testing.T) {
	called := false
	cu := Make(func() { called = true })
	release := cu.Release()
	cu.Clean()
	if called {
		t.Fatalf("cleanup function was called after Release")
	}
	release()
	if !called {
		t.Fatalf("function returned by Release did not run the cleaner")
	}
}
