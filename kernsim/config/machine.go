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

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v3"
)

// Defaults for machine files.
const (
	DefaultMemoryMiB     = 32
	DefaultCyclesPerTick = 1000
	DefaultMaxTicks      = 100000
)

// MemoryRegion is one memory map entry reported by the boot loader.
type MemoryRegion struct {
	Start  uint64 `toml:"start" yaml:"start"`
	Length uint64 `toml:"length" yaml:"length"`

	// Type is "available" or "reserved".
	Type string `toml:"type" yaml:"type"`
}

// File is a file preloaded into the machine's filesystem. Exactly one of
// Contents, Source and Asm is set.
type File struct {
	// Path is the absolute path inside the machine.
	Path string `toml:"path" yaml:"path"`

	// Contents is the literal file data.
	Contents string `toml:"contents" yaml:"contents"`

	// Source is a host file copied verbatim. Relative paths are resolved
	// from the machine file's directory.
	Source string `toml:"source" yaml:"source"`

	// Asm is a host assembly file, assembled into an executable.
	Asm string `toml:"asm" yaml:"asm"`
}

// Process is a user process started at boot.
type Process struct {
	Path string   `toml:"path" yaml:"path"`
	Args []string `toml:"args" yaml:"args"`

	// UID and GID are the identity the process runs as. Both default to
	// root.
	UID uint32 `toml:"uid" yaml:"uid"`
	GID uint32 `toml:"gid" yaml:"gid"`
}

// Machine is a machine file.
type Machine struct {
	// Name identifies the machine in logs. It defaults to the file name.
	Name string `toml:"name" yaml:"name"`

	// MemoryMiB is the amount of RAM.
	MemoryMiB uint32 `toml:"memory_mib" yaml:"memory_mib"`

	// MemoryMap replaces the default PC memory map.
	MemoryMap []MemoryRegion `toml:"memory_map" yaml:"memory_map"`

	// KernelImageStart and KernelImageEnd bound the loaded kernel.
	KernelImageStart uint32 `toml:"kernel_image_start" yaml:"kernel_image_start"`
	KernelImageEnd   uint32 `toml:"kernel_image_end" yaml:"kernel_image_end"`

	// KernelPoolMiB is the size of the kernel frame pool.
	KernelPoolMiB uint32 `toml:"kernel_pool_mib" yaml:"kernel_pool_mib"`

	CyclesPerTick    uint32 `toml:"cycles_per_tick" yaml:"cycles_per_tick"`
	Quantum          uint32 `toml:"quantum" yaml:"quantum"`
	MaxTicks         uint64 `toml:"max_ticks" yaml:"max_ticks"`
	KernelStackPages uint32 `toml:"kernel_stack_pages" yaml:"kernel_stack_pages"`
	UserStackPages   uint32 `toml:"user_stack_pages" yaml:"user_stack_pages"`
	MaxFDs           int    `toml:"max_fds" yaml:"max_fds"`

	BootLoaderName string `toml:"boot_loader_name" yaml:"boot_loader_name"`
	CommandLine    string `toml:"command_line" yaml:"command_line"`

	// Input is typed at the console before the machine starts. The console
	// reports end of file once it is consumed.
	Input string `toml:"input" yaml:"input"`

	Files     []File    `toml:"files" yaml:"files"`
	Processes []Process `toml:"processes" yaml:"processes"`

	// Dir is the directory of the machine file.
	Dir string `toml:"-" yaml:"-"`
}

// LoadMachine reads a machine file. The format follows the extension:
// .toml, or .yaml and .yml.
func LoadMachine(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseMachine(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Dir = filepath.Dir(path)
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return m, nil
}

// ParseMachine decodes a machine file in the format named by ext, sets
// defaults and validates it.
func ParseMachine(data []byte, ext string) (*Machine, error) {
	m := &Machine{}
	switch strings.ToLower(ext) {
	case ".toml":
		md, err := toml.Decode(string(data), m)
		if err != nil {
			return nil, err
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return nil, fmt.Errorf("unknown keys %v", undec)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(m); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown machine file format %q", ext)
	}
	m.setDefaults()
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Machine) setDefaults() {
	if m.MemoryMiB == 0 {
		m.MemoryMiB = DefaultMemoryMiB
	}
	if m.CyclesPerTick == 0 {
		m.CyclesPerTick = DefaultCyclesPerTick
	}
	if m.MaxTicks == 0 {
		m.MaxTicks = DefaultMaxTicks
	}
	if m.BootLoaderName == "" {
		m.BootLoaderName = "kernsim"
	}
}

func (m *Machine) validate() error {
	if m.MemoryMiB < 4 || m.MemoryMiB > 3072 {
		return fmt.Errorf("memory_mib %d out of range [4, 3072]", m.MemoryMiB)
	}
	if m.KernelImageEnd < m.KernelImageStart {
		return fmt.Errorf("kernel image end %#x before start %#x", m.KernelImageEnd, m.KernelImageStart)
	}
	for _, r := range m.MemoryMap {
		if r.Type != "available" && r.Type != "reserved" {
			return fmt.Errorf("memory region at %#x: unknown type %q", r.Start, r.Type)
		}
	}
	for _, f := range m.Files {
		if !strings.HasPrefix(f.Path, "/") {
			return fmt.Errorf("file path %q is not absolute", f.Path)
		}
		n := 0
		for _, s := range []string{f.Contents, f.Source, f.Asm} {
			if s != "" {
				n++
			}
		}
		if n > 1 {
			return fmt.Errorf("file %q: only one of contents, source and asm may be set", f.Path)
		}
	}
	for _, p := range m.Processes {
		if p.Path == "" {
			return fmt.Errorf("process with no path")
		}
	}
	return nil
}

// HostPath resolves a host path named in the machine file.
func (m *Machine) HostPath(p string) string {
	if filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// WithOverrides returns a copy of m with the flag overrides of conf
// applied. m is not modified.
func (m *Machine) WithOverrides(conf *Config) *Machine {
	c := deepcopy.Copy(m).(*Machine)
	if conf.MaxTicks != 0 {
		c.MaxTicks = conf.MaxTicks
	}
	if conf.Quantum != 0 {
		c.Quantum = conf.Quantum
	}
	return c
}
