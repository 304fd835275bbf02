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

package interrupts

import (
	"errors"
	"testing"

	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/mem"
)

func newTestController(t *testing.T) (*machine.Machine, *Controller) {
	t.Helper()
	m := machine.New(machine.Config{MemoryLimit: 4 * mem.MiB, CyclesPerTick: 100})
	c := New(m)
	c.Load()
	return m, c
}

func TestGateLayout(t *testing.T) {
	m, c := newTestController(t)
	if got := m.PIC.Vector(machine.IRQTimer); got != IRQBase {
		t.Errorf("timer vector: got %d, want %d", got, IRQBase)
	}
	if got := m.PIC.Vector(8); got != SlaveIRQBase {
		t.Errorf("IRQ8 vector: got %d, want %d", got, SlaveIRQBase)
	}
	for v := 0; v < IRQBase+machine.NumIRQs; v++ {
		g := c.idt[v]
		if g.Handler == nil || g.Trap || g.DPL != 0 {
			t.Errorf("gate %d: got present=%v trap=%v dpl=%d, want present ring-0 interrupt gate", v, g.Handler != nil, g.Trap, g.DPL)
		}
	}
	sys := c.idt[machine.VectorSyscall]
	if sys.Handler == nil || !sys.Trap || sys.DPL != 3 {
		t.Errorf("syscall gate: got present=%v trap=%v dpl=%d, want present trap gate with DPL 3", sys.Handler != nil, sys.Trap, sys.DPL)
	}
	for line := uint8(0); line < machine.NumIRQs; line++ {
		if !m.PIC.Masked(line) {
			t.Errorf("IRQ %d unmasked before registration", line)
		}
	}
}

func TestIRQSendsOneEOI(t *testing.T) {
	m, c := newTestController(t)
	calls := 0
	c.RegisterIRQ(machine.IRQTimer, IRQFunc(func(irq *IRQ) {
		calls++
		irq.EOI()
		irq.EOI()
	}))
	m.EnableInterrupts()
	for i := 0; i < 250; i++ {
		m.Step()
	}
	if calls != 2 {
		t.Fatalf("handler calls: got %d, want 2", calls)
	}
	if got := m.PIC.EOICount(); got != 2 {
		t.Errorf("EOIs: got %d, want 2", got)
	}
}

func TestIRQEOIWhenHandlerForgets(t *testing.T) {
	m, c := newTestController(t)
	var got []byte
	c.RegisterIRQ(machine.IRQKeyboard, IRQFunc(func(irq *IRQ) {
		for {
			b, ok := m.Keyboard.Pop()
			if !ok {
				break
			}
			got = append(got, b)
		}
	}))
	m.EnableInterrupts()
	m.Keyboard.Type([]byte("ab"))
	m.Step()
	m.Keyboard.Type([]byte("c"))
	m.Step()
	if string(got) != "abc" {
		t.Errorf("keyboard input: got %q, want %q", got, "abc")
	}
	if eois := m.PIC.EOICount(); eois != 2 {
		t.Errorf("EOIs: got %d, want 2", eois)
	}
	if m.PIC.InService(machine.IRQKeyboard) {
		t.Errorf("keyboard IRQ still in service")
	}
}

func TestExceptions(t *testing.T) {
	_, c := newTestController(t)
	tf := &machine.TrapFrame{IntNo: machine.VectorPageFault, ErrCode: machine.PFWrite}

	resolved := false
	c.RegisterException(machine.VectorGeneralProtection, func(*machine.TrapFrame) bool {
		resolved = true
		return true
	})
	c.exception(machine.VectorGeneralProtection, tf)
	if !resolved {
		t.Errorf("registered handler not called")
	}

	logged := false
	c.RegisterException(machine.VectorPageFault, func(*machine.TrapFrame) bool {
		logged = true
		return false
	})
	for _, vector := range []uint8{machine.VectorPageFault, machine.VectorInvalidOpcode} {
		func() {
			defer func() {
				var p *machine.Panic
				if err, _ := recover().(error); !errors.As(err, &p) {
					t.Errorf("exception %d: got recover() = %v, want *machine.Panic", vector, err)
				} else if p.Frame != tf {
					t.Errorf("exception %d: panic does not carry the trap frame", vector)
				}
			}()
			c.exception(vector, tf)
		}()
	}
	if !logged {
		t.Errorf("page fault handler not called before panicking")
	}
}

func TestSyscallGate(t *testing.T) {
	_, c := newTestController(t)
	var got uint32
	c.RegisterSyscall(func(tf *machine.TrapFrame) {
		got = tf.EAX
		tf.EAX = 42
	})
	tf := &machine.TrapFrame{EAX: 7}
	c.syscallGate(tf)
	if got != 7 || tf.EAX != 42 {
		t.Errorf("syscall: got number %d result %d, want 7 and 42", got, tf.EAX)
	}
}

func TestExceptionName(t *testing.T) {
	if got, want := ExceptionName(machine.VectorPageFault), "#PF page fault"; got != want {
		t.Errorf("ExceptionName(14): got %q, want %q", got, want)
	}
	if got, want := ExceptionName(21), "exception 21"; got != want {
		t.Errorf("ExceptionName(21): got %q, want %q", got, want)
	}
}
