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

package console

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/jsnal/os-sub000/pkg/errors/kernerr"
	"github.com/jsnal/os-sub000/pkg/interrupts"
	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/mem"
	"github.com/jsnal/os-sub000/pkg/waiter"
)

func newTestConsole(t *testing.T) (*machine.Machine, *Console, *bytes.Buffer) {
	t.Helper()
	m := machine.New(machine.Config{MemoryLimit: 4 * mem.MiB, CyclesPerTick: 100})
	ic := interrupts.New(m)
	ic.Load()
	var out bytes.Buffer
	c := New(&out, m.Keyboard)
	c.Register(ic)
	return m, c, &out
}

func TestWrite(t *testing.T) {
	_, c, out := newTestConsole(t)
	n, err := c.WriteAt([]byte("hi\n"), 123)
	if n != 3 || err != nil {
		t.Fatalf("WriteAt: got (%d, %v), want (3, nil)", n, err)
	}
	if got, want := out.String(), "hi\n"; got != want {
		t.Errorf("output: got %q, want %q", got, want)
	}
}

func TestKeyboardIRQ(t *testing.T) {
	m, c, _ := newTestConsole(t)
	woken := 0
	e := waiter.NewFunctionEntry(nil, func(*waiter.Entry, waiter.EventMask) { woken++ })
	c.queue.EventRegister(&e, waiter.EventIn)
	defer c.queue.EventUnregister(&e)

	m.EnableInterrupts()
	m.Keyboard.Type([]byte("abc"))
	m.Step()
	if got := c.Buffered(); got != 3 {
		t.Fatalf("Buffered: got %d, want 3", got)
	}
	if woken != 1 {
		t.Errorf("waiters woken: got %d, want 1", woken)
	}
	if n, err := c.Ioctl(FIONREAD, 0); n != 3 || err != nil {
		t.Errorf("FIONREAD: got (%d, %v), want (3, nil)", n, err)
	}

	b := make([]byte, 2)
	if n, err := c.ReadAt(b, 0); n != 2 || err != nil || string(b) != "ab" {
		t.Errorf("ReadAt: got (%d, %v, %q), want (2, nil, %q)", n, err, b[:n], "ab")
	}
	if m.PIC.InService(machine.IRQKeyboard) {
		t.Errorf("keyboard IRQ still in service")
	}
}

func TestReadWithoutBlocker(t *testing.T) {
	_, c, _ := newTestConsole(t)
	if _, err := c.ReadAt(make([]byte, 1), 0); !errors.Is(err, kernerr.EAGAIN) {
		t.Errorf("ReadAt: got %v, want %v", err, kernerr.EAGAIN)
	}
	if n, err := c.ReadAt(nil, 0); n != 0 || err != nil {
		t.Errorf("empty ReadAt: got (%d, %v), want (0, nil)", n, err)
	}
}

func TestCloseInput(t *testing.T) {
	m, c, _ := newTestConsole(t)
	// The IRQ is never delivered: CloseInput takes the bytes directly.
	m.Keyboard.Type([]byte("xy"))
	c.CloseInput()
	b := make([]byte, 8)
	if n, err := c.ReadAt(b, 0); n != 2 || err != nil || string(b[:n]) != "xy" {
		t.Errorf("ReadAt: got (%d, %v, %q), want (2, nil, %q)", n, err, b[:n], "xy")
	}
	if _, err := c.ReadAt(b, 0); err != io.EOF {
		t.Errorf("ReadAt after drain: got %v, want EOF", err)
	}
}

func TestTerminal(t *testing.T) {
	_, c, _ := newTestConsole(t)
	if !c.IsTTY() {
		t.Errorf("IsTTY: got false, want true")
	}
	if _, err := c.Ioctl(TCGETS, 0); err != nil {
		t.Errorf("TCGETS: got %v, want nil", err)
	}
	if _, err := c.Ioctl(0x1234, 0); !errors.Is(err, kernerr.ENOTTY) {
		t.Errorf("unknown ioctl: got %v, want %v", err, kernerr.ENOTTY)
	}
	if _, err := c.ReadDir(); !errors.Is(err, kernerr.ENOTDIR) {
		t.Errorf("ReadDir: got %v, want %v", err, kernerr.ENOTDIR)
	}
	st, err := c.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if got, want := st.Rdev, uint32(Major<<8|Minor); got != want {
		t.Errorf("Rdev: got %#x, want %#x", got, want)
	}
}
