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

// Package boot is the kernel entry point. Kmain takes a machine as a boot
// loader leaves it and brings up memory management, the interrupt table,
// the console and the process manager.
package boot

import (
	"io"

	"github.com/jsnal/os-sub000/pkg/cleanup"
	"github.com/jsnal/os-sub000/pkg/devices/console"
	"github.com/jsnal/os-sub000/pkg/fs"
	"github.com/jsnal/os-sub000/pkg/fs/memfs"
	"github.com/jsnal/os-sub000/pkg/interrupts"
	"github.com/jsnal/os-sub000/pkg/kernel"
	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/mem"
	"github.com/jsnal/os-sub000/pkg/mm"
	"github.com/jsnal/os-sub000/pkg/multiboot"
	"github.com/jsnal/os-sub000/pkg/syscalls"
)

// InfoAddr is where Boot places the multiboot information block.
const InfoAddr mem.PhysAddr = 0x9000

// Options configures Kmain.
type Options struct {
	// Memory configures the memory manager.
	Memory mm.Options

	// Kernel configures the process manager. Its Stdio is replaced by the
	// console.
	Kernel kernel.Options

	// ConsoleOutput receives console output. Nil discards it.
	ConsoleOutput io.Writer

	// FileSystem is the root filesystem. Nil means an empty memfs; /dev
	// and /dev/console are always added to a memfs.
	FileSystem fs.FileSystem
}

// Kernel is a booted kernel and the devices wired to it.
type Kernel struct {
	*kernel.Kernel

	Interrupts *interrupts.Controller
	Console    *console.Console
	Syscalls   *syscalls.Table
	Info       *multiboot.Info
}

// Kmain boots the kernel on m. magic and infoAddr are the values a
// multiboot loader passes in eax and ebx.
func Kmain(m *machine.Machine, magic uint32, infoAddr mem.PhysAddr, opts Options) (*Kernel, error) {
	if err := multiboot.CheckMagic(magic); err != nil {
		return nil, m.Panicf(nil, "bad multiboot magic %#x: %v", magic, err)
	}
	info, err := multiboot.Parse(m.Mem, infoAddr)
	if err != nil {
		return nil, err
	}
	if info.BootLoaderName != "" {
		log.Infof("Booted by %s", info.BootLoaderName)
	}
	if info.CommandLine != "" {
		log.Infof("Command line: %s", info.CommandLine)
	}
	if !info.HasMemoryMap() {
		return nil, m.Panicf(nil, "boot loader provided no memory map")
	}
	if log.IsLogging(log.Debug) {
		info.VisitMemRegions(func(e *multiboot.MemoryMapEntry) bool {
			log.Debugf("Memory map: %v", e)
			return true
		})
	}

	mman, err := mm.Boot(m, info, opts.Memory)
	if err != nil {
		return nil, err
	}

	ic := interrupts.New(m)
	ic.RegisterException(machine.VectorPageFault, func(tf *machine.TrapFrame) bool {
		log.Warningf("Page fault at %#x, eip %s: %v", m.CR2(), m.Code.Symbolize(tf.EIP), &machine.PageFault{Addr: mem.VirtAddr(m.CR2()), Code: tf.ErrCode})
		return false
	})
	ic.Load()

	out := opts.ConsoleOutput
	if out == nil {
		out = io.Discard
	}
	cons := console.New(out, m.Keyboard)
	cons.Register(ic)

	fsys := opts.FileSystem
	if fsys == nil {
		fsys = memfs.New()
	}
	if mfs, ok := fsys.(*memfs.FileSystem); ok {
		if err := mfs.AddDevice("/dev/console", cons); err != nil {
			return nil, err
		}
	}

	kopts := opts.Kernel
	kopts.Stdio = cons
	k, err := kernel.New(m, mman, ic, fsys, kopts)
	if err != nil {
		return nil, err
	}
	cons.SetBlocker(k)

	table := syscalls.NewTable(k)
	table.Register(ic)

	stats := mman.Stats()
	log.Infof("Kernel up: %d KiB of user memory free", (stats.User.Total-stats.User.Used)*mem.PageSize/1024)
	return &Kernel{
		Kernel:     k,
		Interrupts: ic,
		Console:    cons,
		Syscalls:   table,
		Info:       info,
	}, nil
}

// Config describes a machine to boot.
type Config struct {
	// Machine configures the hardware.
	Machine machine.Config

	// MemoryMap is the map the simulated boot loader reports.
	MemoryMap []multiboot.MemoryMapEntry

	// BootLoaderName and CommandLine are passed in the information block.
	BootLoaderName string
	CommandLine    string

	Options
}

// DefaultMemoryMap is a PC with ram bytes of RAM: conventional memory
// below the EBDA and everything from 1 MiB up.
func DefaultMemoryMap(ram uint64) []multiboot.MemoryMapEntry {
	return []multiboot.MemoryMapEntry{
		{PhysAddress: 0, Length: 0x9FC00, Type: multiboot.MemAvailable},
		{PhysAddress: 0x9FC00, Length: 0x400, Type: multiboot.MemReserved},
		{PhysAddress: 0xF0000, Length: 0x10000, Type: multiboot.MemReserved},
		{PhysAddress: mem.MiB, Length: ram - mem.MiB, Type: multiboot.MemAvailable},
	}
}

// Boot powers on a machine described by cfg, plays the boot loader and
// calls Kmain.
func Boot(cfg Config) (*Kernel, error) {
	m := machine.New(cfg.Machine)
	cu := cleanup.Make(m.KillAll)
	defer cu.Clean()

	mmap := cfg.MemoryMap
	if len(mmap) == 0 {
		mmap = DefaultMemoryMap(cfg.Machine.MemoryLimit)
	}
	(&multiboot.Builder{
		MemoryMap:      mmap,
		BootLoaderName: cfg.BootLoaderName,
		CommandLine:    cfg.CommandLine,
	}).Write(m.Mem, InfoAddr)

	k, err := Kmain(m, multiboot.BootloaderMagic, InfoAddr, cfg.Options)
	if err != nil {
		return nil, err
	}
	cu.Release()
	return k, nil
}
