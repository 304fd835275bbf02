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
	"os"

	"github.com/google/subcommands"
	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/machine/asm"
)

// Asm implements subcommands.Command for the "asm" command.
type Asm struct {
	output   string
	textBase uint
}

// Name implements subcommands.Command.Name.
func (*Asm) Name() string {
	return "asm"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Asm) Synopsis() string {
	return "assemble a user program into an ELF executable"
}

// Usage implements subcommands.Command.Usage.
func (*Asm) Usage() string {
	return `asm [-o <output>] <source> - assemble a user program.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (a *Asm) SetFlags(f *flag.FlagSet) {
	f.StringVar(&a.output, "o", "a.out", "output file.")
	f.UintVar(&a.textBase, "text-base", asm.DefaultTextBase, "load address of the text section.")
}

// Execute implements subcommands.Command.Execute.
func (a *Asm) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	src, err := os.ReadFile(f.Arg(0))
	if err != nil {
		return failure("%v", err)
	}
	prog, err := asm.Assemble(string(src), asm.Options{TextBase: uint32(a.textBase)})
	if err != nil {
		return failure("%s: %v", f.Arg(0), err)
	}
	if err := os.WriteFile(a.output, prog.ELF(), 0755); err != nil {
		return failure("%v", err)
	}
	log.Infof("Wrote %s: %d bytes of text, %d bytes of data, entry %#x", a.output, len(prog.Text), len(prog.Data), prog.Entry)
	return subcommands.ExitSuccess
}
