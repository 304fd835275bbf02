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
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/jsnal/os-sub000/kernsim/config"
	"github.com/jsnal/os-sub000/pkg/boot"
	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/mem"
	"github.com/jsnal/os-sub000/pkg/mm"
	"github.com/jsnal/os-sub000/pkg/multiboot"
)

// Memmap implements subcommands.Command for the "memmap" command.
type Memmap struct{}

// Name implements subcommands.Command.Name.
func (*Memmap) Name() string {
	return "memmap"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Memmap) Synopsis() string {
	return "print how a machine's memory is split between the kernel and user pools"
}

// Usage implements subcommands.Command.Usage.
func (*Memmap) Usage() string {
	return `memmap <machine file> - print the memory map and its partition.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Memmap) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Memmap) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	mc, err := config.LoadMachine(f.Arg(0))
	if err != nil {
		return failure("loading machine: %v", err)
	}
	limit := uint64(mc.MemoryMiB) * mem.MiB
	entries := memoryMap(mc)
	if len(entries) == 0 {
		entries = boot.DefaultMemoryMap(limit)
	}

	// Play the boot loader so the map goes through the same parser as a
	// real boot.
	m := machine.New(machine.Config{MemoryLimit: limit})
	(&multiboot.Builder{MemoryMap: entries}).Write(m.Mem, boot.InfoAddr)
	info, err := multiboot.Parse(m.Mem, boot.InfoAddr)
	if err != nil {
		return failure("parsing memory map: %v", err)
	}
	for _, e := range info.MemoryMap {
		fmt.Fprintf(os.Stdout, "%v\n", e)
	}
	image := mem.PhysRange{Start: mem.PhysAddr(mc.KernelImageStart), End: mem.PhysAddr(mc.KernelImageEnd)}
	layout, err := mm.Partition(info, image, mc.KernelPoolMiB*mem.MiB, limit)
	if err != nil {
		return failure("partitioning memory: %v", err)
	}
	fmt.Fprint(os.Stdout, layout)
	return subcommands.ExitSuccess
}
