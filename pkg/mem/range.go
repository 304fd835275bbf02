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

import "fmt"

// VirtRange is a half-open range of virtual addresses [Start, End).
type VirtRange struct {
	Start VirtAddr
	End   VirtAddr
}

// WellFormed returns true if r.Start <= r.End.
func (r VirtRange) WellFormed() bool {
	return r.Start <= r.End
}

// Length returns the length of the range.
func (r VirtRange) Length() uint32 {
	return uint32(r.End - r.Start)
}

// Pages returns the number of pages spanned by a page-aligned range.
func (r VirtRange) Pages() uint32 {
	return r.Length() >> PageShift
}

// Contains returns true if r contains x.
func (r VirtRange) Contains(x VirtAddr) bool {
	return r.Start <= x && x < r.End
}

// Overlaps returns true if r and r2 overlap.
func (r VirtRange) Overlaps(r2 VirtRange) bool {
	return r.Start < r2.End && r2.Start < r.End
}

// IsSupersetOf returns true if r is a superset of r2; that is, the range r2 is
// contained within r.
func (r VirtRange) IsSupersetOf(r2 VirtRange) bool {
	return r.Start <= r2.Start && r.End >= r2.End
}

// IsPageAligned returns true if both bounds are page aligned.
func (r VirtRange) IsPageAligned() bool {
	return r.Start.IsPageAligned() && r.End.IsPageAligned()
}

// String implements fmt.Stringer.String.
func (r VirtRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint32(r.Start), uint32(r.End))
}

// PhysRange is a half-open range of physical addresses [Start, End).
type PhysRange struct {
	Start PhysAddr
	End   PhysAddr
}

// Length returns the length of the range.
func (r PhysRange) Length() uint32 {
	return uint32(r.End - r.Start)
}

// Pages returns the number of whole pages in the range.
func (r PhysRange) Pages() uint32 {
	return r.Length() >> PageShift
}

// Contains returns true if r contains x.
func (r PhysRange) Contains(x PhysAddr) bool {
	return r.Start <= x && x < r.End
}

// String implements fmt.Stringer.String.
func (r PhysRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint32(r.Start), uint32(r.End))
}
