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
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const tomlMachine = `
name = "small"
memory_mib = 16
quantum = 3
input = "hi"

[[files]]
path = "/etc/motd"
contents = "hello"

[[files]]
path = "/bin/init"
asm = "init.s"

[[processes]]
path = "/bin/init"
args = ["init", "-v"]
`

const yamlMachine = `
name: small
memory_mib: 16
quantum: 3
input: hi
files:
  - path: /etc/motd
    contents: hello
  - path: /bin/init
    asm: init.s
processes:
  - path: /bin/init
    args: [init, -v]
`

func TestParseMachineFormats(t *testing.T) {
	want := &Machine{
		Name:           "small",
		MemoryMiB:      16,
		CyclesPerTick:  DefaultCyclesPerTick,
		Quantum:        3,
		MaxTicks:       DefaultMaxTicks,
		BootLoaderName: "kernsim",
		Input:          "hi",
		Files: []File{
			{Path: "/etc/motd", Contents: "hello"},
			{Path: "/bin/init", Asm: "init.s"},
		},
		Processes: []Process{{Path: "/bin/init", Args: []string{"init", "-v"}}},
	}
	for _, tc := range []struct {
		ext  string
		data string
	}{
		{".toml", tomlMachine},
		{".yaml", yamlMachine},
		{".yml", yamlMachine},
	} {
		t.Run(tc.ext, func(t *testing.T) {
			got, err := ParseMachine([]byte(tc.data), tc.ext)
			if err != nil {
				t.Fatalf("ParseMachine: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("machine mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseMachineErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		ext  string
		data string
		want string
	}{
		{name: "unknown format", ext: ".json", data: "{}", want: "unknown machine file format"},
		{name: "unknown toml key", ext: ".toml", data: "memroy_mib = 4", want: "unknown keys"},
		{name: "unknown yaml key", ext: ".yaml", data: "memroy_mib: 4", want: "memroy_mib"},
		{name: "too little memory", ext: ".toml", data: "memory_mib = 2", want: "out of range"},
		{name: "relative file", ext: ".toml", data: "[[files]]\npath = \"etc\"", want: "not absolute"},
		{name: "two sources", ext: ".toml", data: "[[files]]\npath = \"/a\"\ncontents = \"x\"\nsource = \"y\"", want: "only one"},
		{name: "bad region", ext: ".toml", data: "[[memory_map]]\nstart = 0\nlength = 4096\ntype = \"acpi\"", want: "unknown type"},
		{name: "image bounds", ext: ".toml", data: "kernel_image_start = 2\nkernel_image_end = 1", want: "before start"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseMachine([]byte(tc.data), tc.ext)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("ParseMachine: got %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestLoadMachine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "box.toml")
	if err := os.WriteFile(path, []byte("memory_mib = 8\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadMachine(path)
	if err != nil {
		t.Fatalf("LoadMachine: %v", err)
	}
	if m.Name != "box" {
		t.Errorf("Name: got %q, want %q", m.Name, "box")
	}
	if got, want := m.HostPath("init.s"), filepath.Join(dir, "init.s"); got != want {
		t.Errorf("HostPath: got %q, want %q", got, want)
	}
	if got := m.HostPath("/abs/init.s"); got != "/abs/init.s" {
		t.Errorf("HostPath: got %q, want %q", got, "/abs/init.s")
	}
}

func TestWithOverrides(t *testing.T) {
	base, err := ParseMachine([]byte(tomlMachine), ".toml")
	if err != nil {
		t.Fatalf("ParseMachine: %v", err)
	}
	m := base.WithOverrides(&Config{MaxTicks: 50})
	if m.MaxTicks != 50 {
		t.Errorf("MaxTicks: got %d, want 50", m.MaxTicks)
	}
	if m.Quantum != 3 {
		t.Errorf("Quantum: got %d, want 3", m.Quantum)
	}
	m.Processes[0].Args[0] = "changed"
	if got := base.Processes[0].Args[0]; got != "init" {
		t.Errorf("base args changed through the copy: got %q, want %q", got, "init")
	}
	if base.MaxTicks != DefaultMaxTicks {
		t.Errorf("base MaxTicks: got %d, want %d", base.MaxTicks, DefaultMaxTicks)
	}
}

func TestFromFlags(t *testing.T) {
	flagSet := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(flagSet)
	if err := flagSet.Parse([]string{"--debug", "--max-ticks=7", "--quantum=2", "--log-format=json"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, err := NewFromFlags(flagSet)
	if err != nil {
		t.Fatalf("NewFromFlags: %v", err)
	}
	want := &Config{LogFormat: "json", Debug: true, MaxTicks: 7, Quantum: 2}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"--log-format=json", "--debug=true", "--max-ticks=7", "--quantum=2"}, c.ToFlags()); diff != "" {
		t.Errorf("ToFlags mismatch (-want +got):\n%s", diff)
	}
}

func TestBadLogFormat(t *testing.T) {
	flagSet := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(flagSet)
	if err := flagSet.Parse([]string{"--log-format=xml"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := NewFromFlags(flagSet); err == nil {
		t.Errorf("NewFromFlags: got nil, want error")
	}
}
