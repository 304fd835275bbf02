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
	"io"
	"os"
	"sort"
	"sync"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"github.com/jsnal/os-sub000/kernsim/config"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	// quiet discards console output.
	quiet bool
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot machines and run them until their processes exit"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] <machine file>... - boot each machine file concurrently.

The command fails if any machine panics, hits its tick limit or is
interrupted.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&b.quiet, "quiet", false, "discard console output.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	var machines []*config.Machine
	for _, path := range f.Args() {
		mc, err := config.LoadMachine(path)
		if err != nil {
			return failure("loading machine: %v", err)
		}
		machines = append(machines, mc.WithOverrides(conf))
	}

	results := make([]Result, len(machines))
	g, ctx := errgroup.WithContext(ctx)
	var outMu sync.Mutex
	for i, mc := range machines {
		i, mc := i, mc
		out := b.consoleWriter(mc.Name, len(machines) > 1, &outMu)
		g.Go(func() error {
			res, err := runMachine(ctx, mc, out)
			results[i] = res
			if err != nil {
				return fmt.Errorf("%s: %w", mc.Name, err)
			}
			return nil
		})
	}
	err := g.Wait()

	for _, res := range results {
		printResult(os.Stdout, res)
	}
	if merr := writeMetrics(conf); merr != nil {
		return failure("writing metrics: %v", merr)
	}
	if err != nil {
		return failure("%v", err)
	}
	return subcommands.ExitSuccess
}

// consoleWriter returns where the console of the named machine writes.
// With several machines, each line is prefixed with the machine name.
func (b *Boot) consoleWriter(name string, prefix bool, mu *sync.Mutex) io.Writer {
	if b.quiet {
		return io.Discard
	}
	if !prefix {
		return os.Stdout
	}
	return &prefixWriter{prefix: "[" + name + "] ", w: os.Stdout, mu: mu, bol: true}
}

func printResult(w io.Writer, res Result) {
	if res.Name == "" {
		return
	}
	fmt.Fprintf(w, "%s: %d ticks\n", res.Name, res.Ticks)
	names := make([]string, 0, len(res.Statuses))
	for n := range res.Statuses {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %s exited with status %d\n", n, res.Statuses[n])
	}
}

// prefixWriter prefixes each line written to w. Writers for different
// machines share mu so lines do not interleave.
type prefixWriter struct {
	prefix string
	w      io.Writer
	mu     *sync.Mutex

	// bol is set at the beginning of a line.
	bol bool
}

// Write implements io.Writer.Write.
func (p *prefixWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []byte
	for _, c := range b {
		if p.bol {
			out = append(out, p.prefix...)
		}
		out = append(out, c)
		p.bol = c == '\n'
	}
	if _, err := p.w.Write(out); err != nil {
		return 0, err
	}
	return len(b), nil
}
