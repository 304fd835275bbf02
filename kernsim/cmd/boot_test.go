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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jsnal/os-sub000/kernsim/config"
)

const catSource = `
; Copy standard input to standard output, then exit with the pid.
.text
loop:
	movi eax, 16
	movi ebx, 0
	movi ecx, buf
	movi edx, 16
	int 0x80
	cmpi eax, 0
	jz done
	mov edx, eax
	movi eax, 18
	movi ebx, 1
	movi ecx, buf
	int 0x80
	jmp loop
done:
	movi eax, 8
	int 0x80
	mov ebx, eax
	movi eax, 3
	int 0x80
.data
buf:	.space 16
`

func TestRunMachine(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cat.s"), []byte(catSource), 0644); err != nil {
		t.Fatal(err)
	}
	machineFile := filepath.Join(dir, "box.toml")
	if err := os.WriteFile(machineFile, []byte(`
memory_mib = 16
cycles_per_tick = 200
input = "typed at the console\n"

[[files]]
path = "/bin/cat"
asm = "cat.s"

[[processes]]
path = "/bin/cat"
`), 0644); err != nil {
		t.Fatal(err)
	}
	mc, err := config.LoadMachine(machineFile)
	if err != nil {
		t.Fatalf("LoadMachine: %v", err)
	}

	var out bytes.Buffer
	res, err := runMachine(context.Background(), mc, &out)
	if err != nil {
		t.Fatalf("runMachine: %v", err)
	}
	if got, want := out.String(), "typed at the console\n"; got != want {
		t.Errorf("console output: got %q, want %q", got, want)
	}
	if diff := cmp.Diff(map[string]int32{"cat[1]": 1}, res.Statuses); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if res.Name != "box" {
		t.Errorf("Name: got %q, want %q", res.Name, "box")
	}
}

func TestRunMachineMissingProgram(t *testing.T) {
	mc, err := config.ParseMachine([]byte(`
[[processes]]
path = "/bin/nothing"
`), ".toml")
	if err != nil {
		t.Fatalf("ParseMachine: %v", err)
	}
	mc.Name = "empty"
	res, err := runMachine(context.Background(), mc, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("runMachine: %v", err)
	}
	if diff := cmp.Diff(map[string]int32{"nothing[1]": 127}, res.Statuses); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestRunMachineUser(t *testing.T) {
	dir := t.TempDir()
	src := `
.text
	movi eax, 10
	int 0x80
	mov ebx, eax
	movi eax, 3
	int 0x80
`
	if err := os.WriteFile(filepath.Join(dir, "uid.s"), []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	machineFile := filepath.Join(dir, "users.yaml")
	if err := os.WriteFile(machineFile, []byte(`
files:
  - path: /bin/uid
    asm: uid.s
processes:
  - path: /bin/uid
  - path: /bin/uid
    uid: 42
    gid: 7
`), 0644); err != nil {
		t.Fatal(err)
	}
	mc, err := config.LoadMachine(machineFile)
	if err != nil {
		t.Fatalf("LoadMachine: %v", err)
	}
	res, err := runMachine(context.Background(), mc, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("runMachine: %v", err)
	}
	if diff := cmp.Diff(map[string]int32{"uid[1]": 0, "uid[2]": 42}, res.Statuses); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestPrefixWriter(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	a := &prefixWriter{prefix: "[a] ", w: &buf, mu: &mu, bol: true}
	b := &prefixWriter{prefix: "[b] ", w: &buf, mu: &mu, bol: true}
	for _, step := range []struct {
		w *prefixWriter
		s string
	}{
		{a, "one\ntw"},
		{a, "o\n"},
		{b, "three\n"},
	} {
		if n, err := step.w.Write([]byte(step.s)); n != len(step.s) || err != nil {
			t.Fatalf("Write(%q): got (%d, %v), want (%d, nil)", step.s, n, err, len(step.s))
		}
	}
	if got, want := buf.String(), "[a] one\n[a] two\n[b] three\n"; got != want {
		t.Errorf("output: got %q, want %q", got, want)
	}
}
