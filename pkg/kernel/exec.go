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
	"path"

	"github.com/jsnal/os-sub000/pkg/cleanup"
	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/fs"
	"github.com/jsnal/os-sub000/pkg/loader"
	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/mem"
	"github.com/jsnal/os-sub000/pkg/mm/pagetables"
	"github.com/jsnal/os-sub000/pkg/mm/region"
)

// loadedImage is an executable mapped into an address space.
type loadedImage struct {
	// regions holds one region per loadable segment, then the stack.
	regions []*region.UserRegion
	entry   uint32
	stack   uint32
}

// load maps the executable at filename into dir, one region per loadable
// segment, and builds the initial stack holding argv.
func (k *Kernel) load(dir *pagetables.Directory, filename string, argv []string) (*loadedImage, error) {
	f, err := k.fs.Open(filename, fs.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	img, err := loader.Parse(f)
	if err != nil {
		return nil, err
	}

	li := &loadedImage{entry: uint32(img.Entry)}
	cu := cleanup.Make(func() {
		for _, r := range li.regions {
			r.Free()
		}
	})
	defer cu.Clean()

	for _, seg := range img.Segments {
		r, err := k.mm.CreateUserRegionAt(dir, seg.Range.Start, seg.Range.Length(), seg.Access)
		if err != nil {
			return nil, err
		}
		li.regions = append(li.regions, r)
		data, err := seg.Data(f)
		if err != nil {
			return nil, err
		}
		if err := r.WriteAt(uint32(seg.Vaddr-seg.Range.Start), data[:seg.FileSize]); err != nil {
			return nil, err
		}
	}

	stack, sp, err := k.setupStack(dir, argv)
	if err != nil {
		return nil, err
	}
	li.regions = append(li.regions, stack)
	li.stack = sp
	cu.Release()
	log.Debugf("Loaded %s: entry %#x, %d segments, stack %#x", filename, li.entry, len(img.Segments), sp)
	return li, nil
}

// setupStack creates the initial user stack below UserStackTop and writes
// the argument block to its top. It returns the region and the initial
// stack pointer.
func (k *Kernel) setupStack(dir *pagetables.Directory, argv []string) (*region.UserRegion, uint32, error) {
	size := k.opts.UserStackSize
	block, sp := argumentBlock(uint32(UserStackTop), argv)
	if uint32(len(block)) > size/2 {
		return nil, 0, kernerr.E2BIG
	}
	r, err := k.mm.CreateUserRegionAt(dir, UserStackTop-mem.VirtAddr(size), size, mem.ReadWrite)
	if err != nil {
		return nil, 0, err
	}
	if err := r.WriteAt(size-uint32(len(block)), block); err != nil {
		r.Free()
		return nil, 0, err
	}
	return r, sp, nil
}

// argumentBlock lays out argv for a stack whose top is top. From the
// returned stack pointer up, the block holds argc, a pointer to the argv
// array, the NULL terminated argv array and the NUL terminated strings.
func argumentBlock(top uint32, argv []string) ([]byte, uint32) {
	strs := uint32(0)
	for _, a := range argv {
		strs += uint32(len(a)) + 1
	}
	strStart := top - strs
	array := (strStart &^ 3) - 4*uint32(len(argv)+1)
	sp := array - 8

	b := make([]byte, top-sp)
	le := binary.LittleEndian
	le.PutUint32(b[0:], uint32(len(argv)))
	le.PutUint32(b[4:], array)
	ptr := strStart
	for i, a := range argv {
		le.PutUint32(b[array-sp+4*uint32(i):], ptr)
		copy(b[ptr-sp:], a)
		ptr += uint32(len(a)) + 1
	}
	return b, sp
}

// Exec replaces the image of the current process, which must be p, with
// the executable at filename. On success tf is rewritten to enter the new
// image; on failure the old image is untouched.
func (p *Process) Exec(tf *machine.TrapFrame, filename string, argv []string) error {
	k := p.k
	if p.kernel {
		return kernerr.EINVAL
	}
	defer k.Critical()()
	dir, err := k.mm.NewUserDirectory()
	if err != nil {
		return err
	}
	img, err := k.load(dir, filename, argv)
	if err != nil {
		k.mm.DestroyDirectory(dir)
		return err
	}
	for _, r := range p.regions {
		if err := r.Free(); err != nil {
			log.Warningf("%v: freeing region %v on exec: %v", p, r, err)
		}
	}
	old := p.dir
	p.dir, p.regions = dir, img.regions
	k.mm.Tables().Activate(dir)
	if err := k.mm.DestroyDirectory(old); err != nil {
		log.Warningf("%v: destroying old directory on exec: %v", p, err)
	}
	p.name = path.Base(filename)
	*tf = machine.NewUserFrame(img.entry, img.stack)
	return nil
}
