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

package machine

import "math/bits"

// IRQ lines wired on the board.
const (
	IRQTimer    = 0
	IRQKeyboard = 1
	IRQCascade  = 2
	NumIRQs     = 16
)

// PIC models a cascaded pair of 8259 interrupt controllers in fully nested
// mode. Lower IRQ numbers have higher priority.
type PIC struct {
	irr  uint16
	isr  uint16
	imr  uint16
	base [2]uint8
	eois uint64
}

func newPIC() *PIC {
	// BIOS defaults overlap the CPU exceptions until the kernel remaps.
	return &PIC{imr: 0xffff, base: [2]uint8{0x08, 0x70}}
}

// Remap sets the vector offsets of the master and slave controllers.
func (p *PIC) Remap(master, slave uint8) {
	p.base = [2]uint8{master, slave}
}

// Vector returns the vector raised for irq.
func (p *PIC) Vector(irq uint8) uint8 {
	return p.base[irq/8] + irq%8
}

// IRQForVector returns the IRQ line delivered on vector v.
func (p *PIC) IRQForVector(v uint8) (uint8, bool) {
	for i := range p.base {
		if v >= p.base[i] && v < p.base[i]+8 {
			return uint8(i*8) + v - p.base[i], true
		}
	}
	return 0, false
}

// Mask disables irq.
func (p *PIC) Mask(irq uint8) {
	p.imr |= 1 << irq
}

// Unmask enables irq. Unmasking a slave line also unmasks the cascade.
func (p *PIC) Unmask(irq uint8) {
	p.imr &^= 1 << irq
	if irq >= 8 {
		p.imr &^= 1 << IRQCascade
	}
}

// Masked returns true if irq is masked.
func (p *PIC) Masked(irq uint8) bool {
	return p.imr&(1<<irq) != 0
}

// Raise asserts irq.
func (p *PIC) Raise(irq uint8) {
	p.irr |= 1 << irq
}

// InService returns true if irq has been acknowledged but not yet ended.
func (p *PIC) InService(irq uint8) bool {
	return p.isr&(1<<irq) != 0
}

// Requested returns true if irq is waiting to be acknowledged.
func (p *PIC) Requested(irq uint8) bool {
	return p.irr&(1<<irq) != 0
}

func (p *PIC) highest() (uint8, bool) {
	req := p.irr &^ p.imr
	if req == 0 {
		return 0, false
	}
	irq := uint8(bits.TrailingZeros16(req))
	if p.isr != 0 && uint8(bits.TrailingZeros16(p.isr)) <= irq {
		return 0, false
	}
	return irq, true
}

// Pending returns true if an interrupt would be presented to the CPU.
func (p *PIC) Pending() bool {
	_, ok := p.highest()
	return ok
}

// Acknowledge moves the highest priority request into service and returns its
// vector.
func (p *PIC) Acknowledge() (uint8, bool) {
	irq, ok := p.highest()
	if !ok {
		return 0, false
	}
	p.irr &^= 1 << irq
	p.isr |= 1 << irq
	return p.Vector(irq), true
}

// EOI issues a non-specific end of interrupt for irq's controller chain.
func (p *PIC) EOI(irq uint8) {
	p.eois++
	if p.isr == 0 {
		return
	}
	p.isr &^= 1 << uint8(bits.TrailingZeros16(p.isr))
}

// EOICount returns the number of EOI commands received.
func (p *PIC) EOICount() uint64 {
	return p.eois
}

// Timer is the programmable interval timer. Every CyclesPerTick cycles it
// raises IRQ0.
type Timer struct {
	CyclesPerTick uint32
	ticks         uint64
}

// Ticks returns the number of timer interrupts raised.
func (t *Timer) Ticks() uint64 {
	return t.ticks
}

// Keyboard is a controller holding bytes typed at the console.
type Keyboard struct {
	pic *PIC
	buf []byte
}

// Type queues input and raises IRQ1.
func (k *Keyboard) Type(data []byte) {
	if len(data) == 0 {
		return
	}
	k.buf = append(k.buf, data...)
	k.pic.Raise(IRQKeyboard)
}

// Pop reads the data port. ok is false when the buffer is empty.
func (k *Keyboard) Pop() (b byte, ok bool) {
	if len(k.buf) == 0 {
		return 0, false
	}
	b, k.buf = k.buf[0], k.buf[1:]
	return b, true
}
