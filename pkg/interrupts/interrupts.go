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

// Package interrupts builds the interrupt descriptor table and dispatches
// CPU exceptions, hardware IRQs and the system call gate.
package interrupts

import (
	"fmt"
	"time"

	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/metric"
)

// Vector layout. The PIC is remapped so IRQs follow the CPU exceptions.
const (
	IRQBase      = machine.NumExceptions
	SlaveIRQBase = IRQBase + 8
)

var (
	exceptionsMetric = metric.MustCreateNewUint64Metric("/interrupts/exceptions", "CPU exceptions raised.")
	irqsMetric       = metric.MustCreateNewUint64Metric("/interrupts/irqs", "Hardware interrupts serviced.", metric.NewField("line", irqLineNames()))
)

func irqLineNames() []string {
	names := make([]string, machine.NumIRQs)
	for i := range names {
		names[i] = fmt.Sprint(i)
	}
	return names
}

// ExceptionHandler services a CPU exception. It returns true if the
// exception was resolved; an unresolved exception is fatal.
type ExceptionHandler func(tf *machine.TrapFrame) bool

// IRQ is one invocation of an IRQ handler.
type IRQ struct {
	// Line is the IRQ line being serviced.
	Line uint8

	// Frame is the interrupted context.
	Frame *machine.TrapFrame

	pic  *machine.PIC
	sent bool
}

// EOI acknowledges the interrupt at the PIC. Only the first call per
// invocation reaches the PIC; the dispatcher calls it after the handler
// returns in case the handler did not.
func (i *IRQ) EOI() {
	if i.sent {
		return
	}
	i.sent = true
	i.pic.EOI(i.Line)
}

// IRQHandler services a hardware interrupt line.
type IRQHandler interface {
	HandleIRQ(irq *IRQ)
}

// IRQFunc adapts a function to IRQHandler.
type IRQFunc func(irq *IRQ)

// HandleIRQ implements IRQHandler.HandleIRQ.
func (f IRQFunc) HandleIRQ(irq *IRQ) { f(irq) }

// SyscallHandler services int 0x80. Results are returned in tf.
type SyscallHandler func(tf *machine.TrapFrame)

// Controller owns the IDT and the handler tables.
type Controller struct {
	m          *machine.Machine
	idt        machine.IDT
	exceptions [machine.NumExceptions]ExceptionHandler
	irqs       [machine.NumIRQs]IRQHandler
	syscall    SyscallHandler
	unhandled  log.Logger
}

// New builds the IDT for m and remaps the PIC. Every IRQ line starts masked.
// The table is not loaded until Load.
func New(m *machine.Machine) *Controller {
	c := &Controller{
		m:         m,
		unhandled: log.BasicRateLimitedLogger(time.Second),
	}
	m.PIC.Remap(IRQBase, SlaveIRQBase)
	for v := 0; v < machine.NumExceptions; v++ {
		vector := uint8(v)
		c.idt[v] = machine.Gate{Handler: func(tf *machine.TrapFrame) { c.exception(vector, tf) }}
	}
	for line := 0; line < machine.NumIRQs; line++ {
		irq := uint8(line)
		c.idt[m.PIC.Vector(irq)] = machine.Gate{Handler: func(tf *machine.TrapFrame) { c.irq(irq, tf) }}
	}
	c.idt[machine.VectorSyscall] = machine.Gate{Trap: true, DPL: 3, Handler: c.syscallGate}
	return c
}

// Load installs the IDT on the CPU.
func (c *Controller) Load() {
	c.m.LoadIDT(&c.idt)
}

// RegisterException installs h for vector. A nil h restores the default,
// which treats the exception as fatal.
func (c *Controller) RegisterException(vector uint8, h ExceptionHandler) {
	if int(vector) >= machine.NumExceptions {
		panic(fmt.Sprintf("vector %d is not an exception", vector))
	}
	c.exceptions[vector] = h
}

// RegisterIRQ installs h for line and unmasks it.
func (c *Controller) RegisterIRQ(line uint8, h IRQHandler) {
	if int(line) >= machine.NumIRQs {
		panic(fmt.Sprintf("IRQ line %d out of range", line))
	}
	c.irqs[line] = h
	c.m.PIC.Unmask(line)
}

// UnregisterIRQ removes the handler for line and masks it.
func (c *Controller) UnregisterIRQ(line uint8) {
	c.irqs[line] = nil
	c.m.PIC.Mask(line)
}

// RegisterSyscall installs the handler for int 0x80.
func (c *Controller) RegisterSyscall(h SyscallHandler) {
	c.syscall = h
}

func (c *Controller) exception(vector uint8, tf *machine.TrapFrame) {
	exceptionsMetric.Increment()
	if h := c.exceptions[vector]; h != nil && h(tf) {
		return
	}
	panic(c.m.Panicf(tf, "unhandled exception %s (error code %#x)", ExceptionName(vector), tf.ErrCode))
}

func (c *Controller) irq(line uint8, tf *machine.TrapFrame) {
	irqsMetric.Increment(fmt.Sprint(line))
	irq := &IRQ{Line: line, Frame: tf, pic: c.m.PIC}
	if h := c.irqs[line]; h != nil {
		h.HandleIRQ(irq)
	} else {
		c.unhandled.Warningf("Unhandled IRQ %d", line)
	}
	irq.EOI()
}

func (c *Controller) syscallGate(tf *machine.TrapFrame) {
	if c.syscall == nil {
		panic(c.m.Panicf(tf, "system call with no handler installed"))
	}
	c.syscall(tf)
}

var exceptionNames = map[uint8]string{
	0:  "#DE divide error",
	1:  "#DB debug",
	2:  "NMI",
	3:  "#BP breakpoint",
	4:  "#OF overflow",
	5:  "#BR bound range exceeded",
	6:  "#UD invalid opcode",
	7:  "#NM device not available",
	8:  "#DF double fault",
	10: "#TS invalid TSS",
	11: "#NP segment not present",
	12: "#SS stack-segment fault",
	13: "#GP general protection fault",
	14: "#PF page fault",
	16: "#MF x87 floating-point exception",
	17: "#AC alignment check",
	18: "#MC machine check",
	19: "#XM SIMD floating-point exception",
}

// ExceptionName returns a human readable name for an exception vector.
func ExceptionName(vector uint8) string {
	if name, ok := exceptionNames[vector]; ok {
		return name
	}
	return fmt.Sprintf("exception %d", vector)
}
