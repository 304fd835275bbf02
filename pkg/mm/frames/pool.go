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

package frames

import (
	"github.com/jsnal/os-sub000/pkg/mem"
	"github.com/jsnal/os-sub000/pkg/metric"
)

// KernelFrame is a frame owned by the kernel pool.
type KernelFrame mem.PhysAddr

// UserFrame is a frame owned by the user pool.
type UserFrame mem.PhysAddr

// Frame is the set of pool frame types.
type Frame interface {
	KernelFrame | UserFrame
}

// Addr returns the physical address of f.
func Addr[F Frame](f F) mem.PhysAddr {
	return mem.PhysAddr(f)
}

var (
	allocatedFrames = metric.MustCreateNewUint64Metric("/mm/frames/allocated", "Number of physical frames allocated, by pool.", metric.NewField("pool", []string{"kernel", "user"}))
	freedFrames     = metric.MustCreateNewUint64Metric("/mm/frames/freed", "Number of physical frames freed, by pool.", metric.NewField("pool", []string{"kernel", "user"}))
)

// Pool is a set of regions handing out frames of type F.
type Pool[F Frame] struct {
	name    string
	regions []*Region
}

// NewKernelPool returns an empty kernel pool.
func NewKernelPool() *Pool[KernelFrame] {
	return &Pool[KernelFrame]{name: "kernel"}
}

// NewUserPool returns an empty user pool.
func NewUserPool() *Pool[UserFrame] {
	return &Pool[UserFrame]{name: "user"}
}

// Name returns the pool name.
func (p *Pool[F]) Name() string {
	return p.name
}

// AddRegion adds a committed region to the pool.
func (p *Pool[F]) AddRegion(r *Region) error {
	if !r.Committed() {
		return ErrNotCommitted
	}
	p.regions = append(p.regions, r)
	return nil
}

// Regions returns the pool's regions.
func (p *Pool[F]) Regions() []*Region {
	return p.regions
}

// AllocatePage allocates one frame from the first region with space.
func (p *Pool[F]) AllocatePage() (F, error) {
	for _, r := range p.regions {
		if r.Free() == 0 {
			continue
		}
		addr, err := r.AllocatePage()
		if err != nil {
			return 0, err
		}
		allocatedFrames.Increment(p.name)
		return F(addr), nil
	}
	return 0, ErrOutOfMemory
}

// AllocateContiguous allocates n contiguous frames from a single region.
func (p *Pool[F]) AllocateContiguous(n uint32) (F, error) {
	for _, r := range p.regions {
		addr, err := r.AllocateContiguous(n)
		if err == ErrOutOfMemory {
			continue
		}
		if err != nil {
			return 0, err
		}
		allocatedFrames.IncrementBy(uint64(n), p.name)
		return F(addr), nil
	}
	return 0, ErrOutOfMemory
}

// FreePage returns f to the region that owns it.
func (p *Pool[F]) FreePage(f F) error {
	addr := mem.PhysAddr(f)
	for _, r := range p.regions {
		if r.Contains(addr) {
			if err := r.FreePage(addr); err != nil {
				return err
			}
			freedFrames.Increment(p.name)
			return nil
		}
	}
	return ErrAddressOutOfRange
}

// Contains returns true if addr belongs to one of the pool's regions.
func (p *Pool[F]) Contains(addr mem.PhysAddr) bool {
	for _, r := range p.regions {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// Stats summarizes a pool.
type Stats struct {
	Name    string
	Regions int
	Total   uint32
	Used    uint32
}

// Stats returns the pool's usage.
func (p *Pool[F]) Stats() Stats {
	s := Stats{Name: p.name, Regions: len(p.regions)}
	for _, r := range p.regions {
		s.Total += r.Total()
		s.Used += r.Used()
	}
	return s
}
