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

// Package slotmap is an arena of values addressed by generation-checked
// handles. A removed slot is reused, but handles to its previous occupant
// stay invalid.
package slotmap

import "fmt"

// Handle names a slot occupant.
type Handle struct {
	index uint32
	gen   uint32
}

// Index returns the slot index of h.
func (h Handle) Index() int { return int(h.index) }

// Valid returns false for the zero Handle, which never names an occupant.
func (h Handle) Valid() bool { return h.gen != 0 }

// String implements fmt.Stringer.String.
func (h Handle) String() string {
	return fmt.Sprintf("%d@%d", h.index, h.gen)
}

type slot[T any] struct {
	gen      uint32
	occupied bool
	val      T
}

// Map is a slot map. The zero value is empty and ready to use.
type Map[T any] struct {
	slots []slot[T]
	free  []uint32
	len   int
}

// Insert stores v in a free slot and returns its handle.
func (m *Map[T]) Insert(v T) Handle {
	var idx uint32
	if n := len(m.free); n > 0 {
		idx = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		idx = uint32(len(m.slots))
		m.slots = append(m.slots, slot[T]{})
	}
	s := &m.slots[idx]
	s.gen++
	s.occupied = true
	s.val = v
	m.len++
	return Handle{index: idx, gen: s.gen}
}

func (m *Map[T]) lookup(h Handle) *slot[T] {
	if int(h.index) >= len(m.slots) {
		return nil
	}
	s := &m.slots[h.index]
	if !s.occupied || s.gen != h.gen {
		return nil
	}
	return s
}

// Get returns the value named by h.
func (m *Map[T]) Get(h Handle) (T, bool) {
	if s := m.lookup(h); s != nil {
		return s.val, true
	}
	var zero T
	return zero, false
}

// Remove removes the value named by h and returns it.
func (m *Map[T]) Remove(h Handle) (T, bool) {
	var zero T
	s := m.lookup(h)
	if s == nil {
		return zero, false
	}
	v := s.val
	s.val = zero
	s.occupied = false
	m.free = append(m.free, h.index)
	m.len--
	return v, true
}

// Len returns the number of occupied slots.
func (m *Map[T]) Len() int { return m.len }

// Range calls fn for each occupant in slot order until fn returns false.
func (m *Map[T]) Range(fn func(h Handle, v T) bool) {
	for i := range m.slots {
		s := &m.slots[i]
		if !s.occupied {
			continue
		}
		if !fn(Handle{index: uint32(i), gen: s.gen}, s.val) {
			return
		}
	}
}
