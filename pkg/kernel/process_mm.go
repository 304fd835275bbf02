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
	"slices"

	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/mem"
	"github.com/jsnal/os-sub000/pkg/mm/region"
)

// Mmap creates a zeroed user region of at least length bytes and returns
// its address. A nonzero addr asks for that exact page aligned address.
func (p *Process) Mmap(addr mem.VirtAddr, length uint32, access mem.AccessType) (mem.VirtAddr, error) {
	if p.kernel || length == 0 || !addr.IsPageAligned() {
		return 0, kernerr.EINVAL
	}
	k := p.k
	defer k.Critical()()
	var (
		r   *region.UserRegion
		err error
	)
	if addr != 0 {
		r, err = k.mm.CreateUserRegionAt(p.dir, addr, length, access)
	} else {
		r, err = k.mm.CreateUserRegion(p.dir, length, access)
	}
	if err != nil {
		return 0, err
	}
	p.regions = append(p.regions, r)
	log.Debugf("%v: mapped %v", p, r)
	return r.Lower(), nil
}

// Munmap frees the region that starts at addr and spans exactly length
// bytes, rounded up to pages.
func (p *Process) Munmap(addr mem.VirtAddr, length uint32) error {
	k := p.k
	defer k.Critical()()
	i := slices.IndexFunc(p.regions, func(r *region.UserRegion) bool {
		return r.Lower() == addr && r.Range().Length() == mem.PagesFor(length)*mem.PageSize
	})
	if i < 0 || length == 0 {
		return kernerr.EINVAL
	}
	r := p.regions[i]
	if err := r.Free(); err != nil {
		return err
	}
	p.regions = slices.Delete(p.regions, i, i+1)
	return nil
}
