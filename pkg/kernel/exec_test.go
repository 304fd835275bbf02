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
	"encoding/binary"
	"testing"
)

func TestArgumentBlock(t *testing.T) {
	const top = 0x1000
	b, sp := argumentBlock(top, []string{"sh", "-c"})
	if sp%4 != 0 {
		t.Errorf("stack pointer %#x is not word aligned", sp)
	}
	if got, want := uint32(len(b)), top-sp; got != want {
		t.Fatalf("len: got %d, want %d", got, want)
	}
	word := func(addr uint32) uint32 { return binary.LittleEndian.Uint32(b[addr-sp:]) }
	cstr := func(addr uint32) string {
		s := b[addr-sp:]
		for i, c := range s {
			if c == 0 {
				return string(s[:i])
			}
		}
		t.Fatalf("string at %#x is not terminated", addr)
		return ""
	}
	if got := word(sp); got != 2 {
		t.Errorf("argc: got %d, want 2", got)
	}
	argv := word(sp + 4)
	for i, want := range []string{"sh", "-c"} {
		if got := cstr(word(argv + 4*uint32(i))); got != want {
			t.Errorf("argv[%d]: got %q, want %q", i, got, want)
		}
	}
	if got := word(argv + 8); got != 0 {
		t.Errorf("argv[2]: got %#x, want NULL", got)
	}
}

func TestArgumentBlockEmpty(t *testing.T) {
	b, sp := argumentBlock(0x2000, nil)
	if got, want := sp, uint32(0x2000-12); got != want {
		t.Errorf("sp: got %#x, want %#x", got, want)
	}
	if got := binary.LittleEndian.Uint32(b); got != 0 {
		t.Errorf("argc: got %d, want 0", got)
	}
}
