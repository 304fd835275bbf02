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
	"github.com/jsnal/os-sub000/pkg/cleanup"
	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/mm/region"
)

// Fork creates a child of p, which must be the current user process. The
// child gets a deep copy of every user region, shares p's file descriptor
// table and resumes from tf with eax cleared. tf's eax is set to the child's
// pid.
func (p *Process) Fork(tf *machine.TrapFrame) (*Process, error) {
	k := p.k
	if p.kernel || p != k.current {
		return nil, kernerr.EINVAL
	}
	defer k.Critical()()

	dir, err := k.mm.NewUserDirectory()
	if err != nil {
		return nil, err
	}
	var regions []*region.UserRegion
	cu := cleanup.Make(func() {
		for _, r := range regions {
			r.Free()
		}
		k.mm.DestroyDirectory(dir)
	})
	defer cu.Clean()

	for _, r := range p.regions {
		c, err := r.Clone(dir)
		if err != nil {
			return nil, err
		}
		regions = append(regions, c)
		if err := c.Map(dir); err != nil {
			return nil, err
		}
	}

	child, err := k.newProcess(p.name, dir, false)
	if err != nil {
		return nil, err
	}
	cu.Release()
	child.user = p.user
	child.regions = regions
	cu = cleanup.Make(func() { k.release(child) })
	defer cu.Clean()

	frame := *tf
	frame.EAX = 0
	at := child.kernelStackTop() - machine.TrapFrameSize
	if err := k.m.WriteTrapFrame(at, &frame); err != nil {
		return nil, err
	}
	esp, err := k.m.BuildSwitchFrame(at, k.forkEntry)
	if err != nil {
		return nil, err
	}
	cu.Release()

	p.fds.IncRef()
	child.fds = p.fds
	child.cwd = append([]string(nil), p.cwd...)
	k.enqueue(child, esp)
	tf.EAX = uint32(child.pid)
	processesCreated.Increment("fork")
	log.Debugf("%v forked %v", p, child)
	return child, nil
}
