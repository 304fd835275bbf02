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

package machine

import "sort"

// KernelTextBase is the address of the first kernel entry point.
const KernelTextBase = 0xC0100000

// resumeEIP is the return address pushed by SwitchStacks. Popping it resumes
// the context parked on that stack.
const resumeEIP = KernelTextBase

const entryStride = 0x10

type codeEntry struct {
	name string
	fn   func()
}

// CodeTable assigns kernel-text addresses to ring-0 entry points, so a saved
// eip on a kernel stack names a function.
type CodeTable struct {
	next    uint32
	entries map[uint32]codeEntry
}

func newCodeTable() *CodeTable {
	return &CodeTable{
		next:    KernelTextBase + entryStride,
		entries: make(map[uint32]codeEntry),
	}
}

// Register places fn in kernel text and returns its address.
func (c *CodeTable) Register(name string, fn func()) uint32 {
	addr := c.next
	c.next += entryStride
	c.entries[addr] = codeEntry{name: name, fn: fn}
	return addr
}

// Unregister removes the entry point at addr.
func (c *CodeTable) Unregister(addr uint32) {
	delete(c.entries, addr)
}

// Lookup returns the entry point at addr.
func (c *CodeTable) Lookup(addr uint32) (fn func(), name string, ok bool) {
	e, ok := c.entries[addr]
	return e.fn, e.name, ok
}

// Symbolize names the entry point at addr for register dumps.
func (c *CodeTable) Symbolize(addr uint32) string {
	if addr == resumeEIP {
		return "switch_return"
	}
	if e, ok := c.entries[addr]; ok {
		return e.name
	}
	return "?"
}

// Names returns the registered entry points in address order.
func (c *CodeTable) Names() []string {
	addrs := make([]uint32, 0, len(c.entries))
	for a := range c.entries {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	names := make([]string, len(addrs))
	for i, a := range addrs {
		names[i] = c.entries[a].name
	}
	return names
}
