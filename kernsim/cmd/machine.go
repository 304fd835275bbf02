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

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jsnal/os-sub000/kernsim/config"
	"github.com/jsnal/os-sub000/pkg/boot"
	"github.com/jsnal/os-sub000/pkg/fs/memfs"
	"github.com/jsnal/os-sub000/pkg/kernel"
	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/machine/asm"
	"github.com/jsnal/os-sub000/pkg/mem"
	"github.com/jsnal/os-sub000/pkg/mm"
	"github.com/jsnal/os-sub000/pkg/multiboot"
)

// memoryMap converts the machine file's map, or returns nil for the
// default one.
func memoryMap(mc *config.Machine) []multiboot.MemoryMapEntry {
	var entries []multiboot.MemoryMapEntry
	for _, r := range mc.MemoryMap {
		typ := multiboot.MemAvailable
		if r.Type == "reserved" {
			typ = multiboot.MemReserved
		}
		entries = append(entries, multiboot.MemoryMapEntry{PhysAddress: r.Start, Length: r.Length, Type: typ})
	}
	return entries
}

// fileData returns the contents of a preloaded file.
func fileData(mc *config.Machine, f config.File) ([]byte, error) {
	switch {
	case f.Source != "":
		return os.ReadFile(mc.HostPath(f.Source))
	case f.Asm != "":
		src, err := os.ReadFile(mc.HostPath(f.Asm))
		if err != nil {
			return nil, err
		}
		prog, err := asm.Assemble(string(src), asm.Options{})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Asm, err)
		}
		return prog.ELF(), nil
	default:
		return []byte(f.Contents), nil
	}
}

// newFileSystem builds the root filesystem of mc.
func newFileSystem(mc *config.Machine) (*memfs.FileSystem, error) {
	fsys := memfs.New()
	for _, f := range mc.Files {
		data, err := fileData(mc, f)
		if err != nil {
			return nil, err
		}
		if err := fsys.WriteFile(f.Path, data); err != nil {
			return nil, fmt.Errorf("preloading %s: %w", f.Path, err)
		}
	}
	return fsys, nil
}

// bootConfig translates a machine file into the configuration of a boot.
func bootConfig(mc *config.Machine, out io.Writer) (boot.Config, error) {
	fsys, err := newFileSystem(mc)
	if err != nil {
		return boot.Config{}, err
	}
	return boot.Config{
		Machine: machine.Config{
			MemoryLimit:   uint64(mc.MemoryMiB) * mem.MiB,
			CyclesPerTick: mc.CyclesPerTick,
		},
		MemoryMap:      memoryMap(mc),
		BootLoaderName: mc.BootLoaderName,
		CommandLine:    mc.CommandLine,
		Options: boot.Options{
			Memory: mm.Options{
				KernelImage:    mem.PhysRange{Start: mem.PhysAddr(mc.KernelImageStart), End: mem.PhysAddr(mc.KernelImageEnd)},
				KernelPoolSize: mc.KernelPoolMiB * mem.MiB,
			},
			Kernel: kernel.Options{
				KernelStackSize: mc.KernelStackPages * mem.PageSize,
				UserStackSize:   mc.UserStackPages * mem.PageSize,
				Quantum:         int(mc.Quantum),
				MaxTicks:        mc.MaxTicks,
				MaxFDs:          mc.MaxFDs,
			},
			ConsoleOutput: out,
			FileSystem:    fsys,
		},
	}, nil
}

// Result is the outcome of running one machine.
type Result struct {
	Name  string
	Ticks uint64

	// Statuses holds the exit status of each started process that exited.
	Statuses map[string]int32
}

// runMachine boots mc, starts its processes and runs it until they exit,
// ctx is cancelled or the tick limit is reached.
func runMachine(ctx context.Context, mc *config.Machine, out io.Writer) (res Result, err error) {
	res.Name = mc.Name
	bc, err := bootConfig(mc, out)
	if err != nil {
		return res, err
	}
	k, err := boot.Boot(bc)
	if err != nil {
		return res, err
	}
	defer func() {
		if leaks := k.Shutdown(); len(leaks) != 0 {
			log.Warningf("%s: leaked objects at shutdown: %v", mc.Name, leaks)
		}
	}()

	k.Machine().Keyboard.Type([]byte(mc.Input))
	k.Console.CloseInput()

	procs := make([]*kernel.Process, 0, len(mc.Processes))
	for _, p := range mc.Processes {
		argv := p.Args
		if len(argv) == 0 {
			argv = []string{p.Path}
		}
		proc, err := k.CreateUserProcess(p.Path, argv)
		if err != nil {
			return res, fmt.Errorf("starting %s: %w", p.Path, err)
		}
		proc.SetUser(kernel.User{UID: p.UID, GID: p.GID})
		procs = append(procs, proc)
	}

	err = k.Run(ctx)
	res.Ticks = k.Ticks()
	res.Statuses = make(map[string]int32, len(procs))
	for _, p := range procs {
		if p.State() == kernel.Dead {
			res.Statuses[p.String()] = p.ExitStatus()
		}
	}
	log.Infof("%s: stopped after %d ticks: %v", mc.Name, res.Ticks, err)
	return res, err
}
