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

// Package console implements the terminal device behind file descriptors
// 0, 1 and 2. Output goes to an io.Writer; input arrives from the keyboard
// controller on IRQ1.
package console

import (
	"io"

	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/fs"
	"github.com/jsnal/os-sub000/pkg/interrupts"
	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/metric"
	"github.com/jsnal/os-sub000/pkg/waiter"
)

// Terminal ioctl requests. Values match Linux.
const (
	TCGETS   = 0x5401
	FIONREAD = 0x541B
)

// Major and minor device numbers of the console, as /dev/console on Linux.
const (
	Major = 5
	Minor = 1
)

var bytesMetric = metric.MustCreateNewUint64Metric("/devices/console/bytes", "Bytes moved through the console.", metric.NewField("direction", []string{"in", "out"}))

// Blocker suspends the calling process until ready returns true. It
// registers with q so producers can wake it early.
type Blocker interface {
	Block(q *waiter.Queue, ready func() bool)
}

// Console is a TTY file.
type Console struct {
	out     io.Writer
	kb      *machine.Keyboard
	blocker Blocker

	// input holds bytes received from the keyboard and not yet read.
	input []byte

	// eof is set once no more input will arrive.
	eof bool

	queue waiter.Queue
}

var _ fs.File = (*Console)(nil)

// New returns a console writing to out and reading from kb.
func New(out io.Writer, kb *machine.Keyboard) *Console {
	return &Console{out: out, kb: kb}
}

// SetBlocker installs the blocker used by reads that find no input. Without
// one such reads return EAGAIN.
func (c *Console) SetBlocker(b Blocker) {
	c.blocker = b
}

// Register installs c as the keyboard IRQ handler.
func (c *Console) Register(ic *interrupts.Controller) {
	ic.RegisterIRQ(machine.IRQKeyboard, c)
}

// HandleIRQ implements interrupts.IRQHandler.HandleIRQ. It drains the
// keyboard controller and wakes readers.
func (c *Console) HandleIRQ(irq *interrupts.IRQ) {
	n := 0
	for {
		b, ok := c.kb.Pop()
		if !ok {
			break
		}
		c.input = append(c.input, b)
		n++
	}
	irq.EOI()
	if n > 0 {
		bytesMetric.IncrementBy(uint64(n), "in")
		c.queue.Notify(waiter.EventIn)
	}
}

// CloseInput marks the end of input. Bytes still held by the keyboard
// controller are taken first; reads drain what is buffered and then return
// end of file.
func (c *Console) CloseInput() {
	for {
		b, ok := c.kb.Pop()
		if !ok {
			break
		}
		c.input = append(c.input, b)
	}
	c.eof = true
	c.queue.Notify(waiter.EventIn | waiter.EventHUp)
}

// Buffered returns the number of bytes waiting to be read.
func (c *Console) Buffered() int {
	return len(c.input)
}

func (c *Console) readable() bool {
	return len(c.input) > 0 || c.eof
}

// ReadAt implements io.ReaderAt.ReadAt. off is ignored. It blocks until at
// least one byte is available.
func (c *Console) ReadAt(b []byte, off int64) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for !c.readable() {
		if c.blocker == nil {
			return 0, kernerr.EAGAIN
		}
		c.blocker.Block(&c.queue, c.readable)
	}
	if len(c.input) == 0 {
		return 0, io.EOF
	}
	n := copy(b, c.input)
	c.input = c.input[n:]
	return n, nil
}

// WriteAt implements io.WriterAt.WriteAt. off is ignored.
func (c *Console) WriteAt(b []byte, off int64) (int, error) {
	n, err := c.out.Write(b)
	bytesMetric.IncrementBy(uint64(n), "out")
	if err != nil {
		return n, kernerr.EIO
	}
	return n, nil
}

// Stat implements fs.File.Stat.
func (c *Console) Stat() (fs.Stat, error) {
	return fs.Stat{
		Ino:   1,
		Mode:  fs.CharacterDevice.Mode() | 0o620,
		Nlink: 1,
		Rdev:  Major<<8 | Minor,
	}, nil
}

// ReadDir implements fs.File.ReadDir.
func (c *Console) ReadDir() ([]fs.Dirent, error) {
	return nil, kernerr.ENOTDIR
}

// IsTTY implements fs.File.IsTTY.
func (c *Console) IsTTY() bool {
	return true
}

// Ioctl implements fs.File.Ioctl.
func (c *Console) Ioctl(request, arg uint32) (uint32, error) {
	switch request {
	case TCGETS:
		return 0, nil
	case FIONREAD:
		return uint32(len(c.input)), nil
	default:
		return 0, kernerr.ENOTTY
	}
}
