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

// Package machine is a single-CPU i386 board: sparse physical memory, a
// paging MMU with a TLB, an interrupt descriptor table, a cascaded 8259 PIC,
// an interval timer and a keyboard controller.
//
// Ring-0 code is Go. Every kernel stack with a live execution context is
// backed by one goroutine and exactly one goroutine holds the CPU at a time;
// SwitchStacks hands the CPU to the context parked on another stack. Ring-3
// code is interpreted instruction by instruction through the MMU (see
// Instruction).
//
// Interrupts are delivered only at instruction boundaries: after a user
// instruction, in Step, in Halt and when EnableInterrupts sets IF.
package machine

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/mem"
)

// Exception and software interrupt vectors.
const (
	VectorDivideError       = 0
	VectorInvalidOpcode     = 6
	VectorDoubleFault       = 8
	VectorGeneralProtection = 13
	VectorPageFault         = 14
	NumExceptions           = 32
	VectorSyscall           = 0x80
	NumVectors              = 256
)

// DefaultCyclesPerTick is the timer period used when Config leaves it unset.
const DefaultCyclesPerTick = 1000

// BootStackTop is the stack pointer handed to the kernel by the boot loader.
// It lies in the identity mapped boot region.
const BootStackTop = 0x90000

// SwitchFrameSize is the size of the callee-saved frame pushed by
// SwitchStacks: edi, esi, ebx, ebp and the return eip, from the lowest
// address.
const SwitchFrameSize = 5 * 4

// Config configures a Machine.
type Config struct {
	// MemoryLimit is one past the highest physical address backed by RAM.
	MemoryLimit uint64

	// CyclesPerTick is the timer period in cycles.
	CyclesPerTick uint32
}

// Gate is an IDT entry.
type Gate struct {
	// Handler is the ring-0 service routine. A nil handler is a not-present
	// gate.
	Handler func(tf *TrapFrame)

	// Trap gates leave IF untouched; interrupt gates clear it.
	Trap bool

	// DPL is the lowest privilege allowed to raise the gate with INT.
	DPL uint8
}

// IDT is an interrupt descriptor table.
type IDT [NumVectors]Gate

// TSS holds the ring-0 stack loaded on a transition from ring 3.
type TSS struct {
	ESP0 uint32
	SS0  uint16
}

type thread struct {
	name string
	wake chan bool
	done chan struct{}
}

func newThread(name string) *thread {
	return &thread{
		name: name,
		wake: make(chan bool, 1),
		done: make(chan struct{}),
	}
}

// Machine is the board. It is driven by one goroutine at a time.
type Machine struct {
	Mem      *PhysicalMemory
	MMU      *MMU
	PIC      *PIC
	Timer    *Timer
	Keyboard *Keyboard
	Code     *CodeTable
	Regs     Registers
	TSS      TSS

	cpl          uint8
	cr2          uint32
	idt          *IDT
	tr           uint16
	cycles       uint64
	instructions uint64

	current *thread
	boot    *thread
	parked  map[uint32]*thread
	failure *Panic
}

// New returns a powered-on machine in ring 0 with paging and interrupts
// disabled, running on the boot stack.
func New(cfg Config) *Machine {
	if cfg.CyclesPerTick == 0 {
		cfg.CyclesPerTick = DefaultCyclesPerTick
	}
	pm := newPhysicalMemory(cfg.MemoryLimit)
	pic := newPIC()
	boot := newThread("boot")
	m := &Machine{
		Mem:      pm,
		MMU:      newMMU(pm),
		PIC:      pic,
		Timer:    &Timer{CyclesPerTick: cfg.CyclesPerTick},
		Keyboard: &Keyboard{pic: pic},
		Code:     newCodeTable(),
		boot:     boot,
		current:  boot,
		parked:   make(map[uint32]*thread),
	}
	m.Regs.CS = KernelCS
	m.Regs.SS, m.Regs.DS, m.Regs.ES, m.Regs.FS, m.Regs.GS = KernelDS, KernelDS, KernelDS, KernelDS, KernelDS
	m.Regs.EFLAGS = FlagReserved
	m.Regs.SetESP(BootStackTop)
	return m
}

// CPL returns the current privilege level.
func (m *Machine) CPL() uint8 { return m.cpl }

// CR2 returns the address of the last page fault.
func (m *Machine) CR2() uint32 { return m.cr2 }

// Cycles returns the number of elapsed cycles.
func (m *Machine) Cycles() uint64 { return m.cycles }

// Instructions returns the number of retired user instructions.
func (m *Machine) Instructions() uint64 { return m.instructions }

// LoadIDT installs idt.
func (m *Machine) LoadIDT(idt *IDT) { m.idt = idt }

// LoadTR loads the task register.
func (m *Machine) LoadTR(sel uint16) { m.tr = sel }

// TR returns the task register.
func (m *Machine) TR() uint16 { return m.tr }

// InterruptsEnabled returns IF.
func (m *Machine) InterruptsEnabled() bool {
	return m.Regs.EFLAGS&FlagIF != 0
}

// DisableInterrupts is cli.
func (m *Machine) DisableInterrupts() {
	m.Regs.EFLAGS &^= FlagIF
}

// EnableInterrupts is sti. A pending interrupt is delivered immediately.
func (m *Machine) EnableInterrupts() {
	m.Regs.EFLAGS |= FlagIF
	m.checkInterrupts()
}

// Panicf builds a kernel panic from the current register state.
func (m *Machine) Panicf(tf *TrapFrame, format string, v ...any) *Panic {
	return &Panic{
		Message: fmt.Sprintf(format, v...),
		Regs:    m.Regs,
		CR2:     m.cr2,
		CR3:     uint32(m.MMU.CR3()),
		CPL:     m.cpl,
		Frame:   tf,
	}
}

// Failure returns the panic that stopped the machine, if any.
func (m *Machine) Failure() error {
	if m.failure == nil {
		return nil
	}
	return m.failure
}

// ReadVirtual reads through the MMU with supervisor privilege.
func (m *Machine) ReadVirtual(v mem.VirtAddr, b []byte) error {
	return m.MMU.access(v, b, false, false)
}

// WriteVirtual writes through the MMU with supervisor privilege.
func (m *Machine) WriteVirtual(v mem.VirtAddr, b []byte) error {
	return m.MMU.access(v, b, true, false)
}

// Read32Virtual reads a word through the MMU with supervisor privilege.
func (m *Machine) Read32Virtual(v mem.VirtAddr) (uint32, error) {
	var b [4]byte
	if err := m.ReadVirtual(v, b[:]); err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// Write32Virtual writes a word through the MMU with supervisor privilege.
func (m *Machine) Write32Virtual(v mem.VirtAddr, w uint32) error {
	return m.WriteVirtual(v, []byte{byte(w), byte(w >> 8), byte(w >> 16), byte(w >> 24)})
}

// WriteTrapFrame stores tf at the kernel stack address at.
func (m *Machine) WriteTrapFrame(at uint32, tf *TrapFrame) error {
	return m.WriteVirtual(mem.VirtAddr(at), tf.Encode())
}

// ReadTrapFrame loads the trap frame stored at at.
func (m *Machine) ReadTrapFrame(at uint32) (TrapFrame, error) {
	var tf TrapFrame
	b := make([]byte, TrapFrameSize)
	if err := m.ReadVirtual(mem.VirtAddr(at), b); err != nil {
		return tf, err
	}
	tf.Decode(b)
	return tf, nil
}

// BuildSwitchFrame writes a switch frame that returns to eip just below top
// and returns the stack pointer to hand to SwitchStacks.
func (m *Machine) BuildSwitchFrame(top, eip uint32) (uint32, error) {
	esp := top - SwitchFrameSize
	b := make([]byte, SwitchFrameSize)
	putWord(b[16:], eip)
	if err := m.WriteVirtual(mem.VirtAddr(esp), b); err != nil {
		return 0, err
	}
	return esp, nil
}

func putWord(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}

func getWord(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// SwitchStacks saves the callee-saved registers on the current stack, stores
// the resulting stack pointer in *save, loads cr3 and resumes the context at
// esp. The caller's context stays parked until another SwitchStacks resumes
// it, or is killed.
//
// Deferred calls on a parked context run if it is killed, so kernel paths
// that may switch must not defer.
func (m *Machine) SwitchStacks(save *uint32, esp uint32, cr3 mem.PhysAddr) {
	cur := m.current
	frame := m.Regs.ESP() - SwitchFrameSize
	b := make([]byte, SwitchFrameSize)
	putWord(b[0:], m.Regs.GPR[EDI])
	putWord(b[4:], m.Regs.GPR[ESI])
	putWord(b[8:], m.Regs.GPR[EBX])
	putWord(b[12:], m.Regs.GPR[EBP])
	putWord(b[16:], resumeEIP)
	if err := m.WriteVirtual(mem.VirtAddr(frame), b); err != nil {
		panic(m.Panicf(nil, "switch: saving context at %#x: %v", frame, err))
	}
	*save = frame
	m.parked[frame] = cur
	m.MMU.LoadCR3(cr3)
	m.enter(esp)
	if killed := <-cur.wake; killed {
		runtime.Goexit()
	}
}

// enter pops the switch frame at esp and transfers the CPU to it.
func (m *Machine) enter(esp uint32) {
	b := make([]byte, SwitchFrameSize)
	if err := m.ReadVirtual(mem.VirtAddr(esp), b); err != nil {
		panic(m.Panicf(nil, "switch: loading context at %#x: %v", esp, err))
	}
	m.Regs.GPR[EDI] = getWord(b[0:])
	m.Regs.GPR[ESI] = getWord(b[4:])
	m.Regs.GPR[EBX] = getWord(b[8:])
	m.Regs.GPR[EBP] = getWord(b[12:])
	eip := getWord(b[16:])
	m.Regs.EIP = eip
	m.Regs.SetESP(esp + SwitchFrameSize)

	if eip == resumeEIP {
		t, ok := m.parked[esp]
		if !ok {
			panic(m.Panicf(nil, "switch: no context parked at %#x", esp))
		}
		delete(m.parked, esp)
		m.current = t
		t.wake <- false
		return
	}
	fn, name, ok := m.Code.Lookup(eip)
	if !ok {
		panic(m.Panicf(nil, "switch: return to unknown kernel address %#x", eip))
	}
	t := newThread(name)
	m.current = t
	m.spawn(t, fn)
}

func (m *Machine) spawn(t *thread, fn func()) {
	go func() {
		defer m.exitThread(t)
		fn()
		panic(m.Panicf(nil, "kernel entry point %s returned", t.name))
	}()
}

func (m *Machine) exitThread(t *thread) {
	r := recover()
	close(t.done)
	if r != nil {
		m.fail(r)
	}
}

// fail stops the machine and hands the CPU back to the boot context.
func (m *Machine) fail(r any) {
	p, ok := r.(*Panic)
	if !ok {
		p = m.Panicf(nil, "%v\n%s", r, debug.Stack())
	}
	m.failure = p
	log.Warningf("%v", p)
	m.current = m.boot
	m.boot.wake <- false
}

// Kill destroys the context parked at esp. It is a no-op if no context is
// parked there.
func (m *Machine) Kill(esp uint32) {
	t, ok := m.parked[esp]
	if !ok || t == m.current || t == m.boot {
		return
	}
	delete(m.parked, esp)
	t.wake <- true
	<-t.done
}

// KillAll destroys every parked context except the boot context.
func (m *Machine) KillAll() {
	for esp, t := range m.parked {
		if t == m.boot {
			delete(m.parked, esp)
			continue
		}
		m.Kill(esp)
	}
}

// Parked returns the number of parked contexts.
func (m *Machine) Parked() int {
	return len(m.parked)
}

// Step runs one cycle of kernel code.
func (m *Machine) Step() {
	if m.cpl != 0 {
		panic(m.Panicf(nil, "Step outside ring 0"))
	}
	m.advance()
	m.checkInterrupts()
}

// Halt waits for the next interrupt and services it.
func (m *Machine) Halt() {
	if !m.InterruptsEnabled() {
		panic(m.Panicf(nil, "halt with interrupts disabled"))
	}
	for i := uint32(0); !m.PIC.Pending(); i++ {
		if i > 2*m.Timer.CyclesPerTick {
			panic(m.Panicf(nil, "halt with no interrupt source"))
		}
		m.advance()
	}
	m.checkInterrupts()
}

func (m *Machine) advance() {
	m.cycles++
	if m.cycles%uint64(m.Timer.CyclesPerTick) == 0 {
		m.Timer.ticks++
		m.PIC.Raise(IRQTimer)
	}
}

func (m *Machine) checkInterrupts() {
	if !m.InterruptsEnabled() {
		return
	}
	if vector, ok := m.PIC.Acknowledge(); ok {
		m.deliver(vector, 0, false)
	}
}

// deliver pushes a trap frame, runs the gate's handler and returns from it.
func (m *Machine) deliver(vector uint8, errCode uint32, software bool) {
	if m.idt == nil || m.idt[vector].Handler == nil {
		if software {
			m.deliver(VectorGeneralProtection, uint32(vector)*8+2, false)
			return
		}
		panic(m.Panicf(nil, "triple fault: no gate for vector %d", vector))
	}
	gate := &m.idt[vector]
	if software && gate.DPL < m.cpl {
		m.deliver(VectorGeneralProtection, uint32(vector)*8+2, false)
		return
	}

	var tf TrapFrame
	tf.save(&m.Regs)
	tf.IntNo, tf.ErrCode = uint32(vector), errCode
	esp := m.Regs.ESP()
	if m.cpl == 3 {
		esp = m.TSS.ESP0
	}
	esp -= TrapFrameSize
	m.cpl = 0
	if err := m.WriteTrapFrame(esp, &tf); err != nil {
		panic(m.Panicf(&tf, "double fault: pushing trap frame at %#x: %v", esp, err))
	}
	m.Regs.SetESP(esp)
	m.Regs.CS = KernelCS
	m.Regs.SS, m.Regs.DS, m.Regs.ES, m.Regs.FS, m.Regs.GS = KernelDS, KernelDS, KernelDS, KernelDS, KernelDS
	if !gate.Trap {
		m.Regs.EFLAGS &^= FlagIF
	}

	gate.Handler(&tf)

	if got := m.Regs.ESP(); got != esp {
		panic(m.Panicf(&tf, "unbalanced kernel stack after vector %d: esp %#x, want %#x", vector, got, esp))
	}
	if err := m.WriteTrapFrame(esp, &tf); err != nil {
		panic(m.Panicf(&tf, "storing trap frame at %#x: %v", esp, err))
	}
	m.iret()
}

// iret restores the context saved in the trap frame at the stack pointer.
func (m *Machine) iret() {
	esp := m.Regs.ESP()
	tf, err := m.ReadTrapFrame(esp)
	if err != nil {
		panic(m.Panicf(nil, "iret: %v", err))
	}
	tf.restore(&m.Regs)
	if tf.FromUser() {
		m.cpl = 3
		return
	}
	m.cpl = 0
	m.Regs.SetESP(esp + TrapFrameSize)
}

// Iret returns to ring 3 through the trap frame at the stack pointer. It is
// how kernel entry points start or resume user code, and it does not return.
func (m *Machine) Iret() {
	m.iret()
	if m.cpl != 3 {
		panic(m.Panicf(nil, "iret from a kernel entry point must return to ring 3"))
	}
	m.runUser()
}

func (m *Machine) runUser() {
	for {
		if m.cpl != 3 {
			panic(m.Panicf(nil, "user loop entered in ring %d", m.cpl))
		}
		m.execute()
		m.advance()
		m.checkInterrupts()
	}
}

// fault raises the exception matching a failed user access.
func (m *Machine) fault(err error) {
	var pf *PageFault
	if errors.As(err, &pf) {
		m.cr2 = uint32(pf.Addr)
		m.deliver(VectorPageFault, pf.Code, false)
		return
	}
	panic(m.Panicf(nil, "user access: %v", err))
}
