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

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// EFLAGS bits.
const (
	FlagCF       = 1 << 0
	FlagReserved = 1 << 1
	FlagZF       = 1 << 6
	FlagSF       = 1 << 7
	FlagIF       = 1 << 9
	FlagOF       = 1 << 11
)

// Segment selectors of the fixed GDT.
const (
	KernelCS    = 0x08
	KernelDS    = 0x10
	UserCS      = 0x1B
	UserDS      = 0x23
	TSSSelector = 0x28
)

// Register indices, in the order the instruction encoding uses.
const (
	EAX = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
	NumRegisters
)

var registerNames = [NumRegisters]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}

// RegisterName returns the assembler name of register r.
func RegisterName(r uint8) string {
	if r >= NumRegisters {
		return fmt.Sprintf("r%d", r)
	}
	return registerNames[r]
}

// RegisterByName returns the index of the named register.
func RegisterByName(name string) (uint8, bool) {
	for i, n := range registerNames {
		if n == name {
			return uint8(i), true
		}
	}
	return 0, false
}

// Registers is the architectural register file.
type Registers struct {
	GPR    [NumRegisters]uint32
	EIP    uint32
	EFLAGS uint32

	CS, SS, DS, ES, FS, GS uint16
}

// ESP returns the stack pointer.
func (r *Registers) ESP() uint32 { return r.GPR[ESP] }

// SetESP sets the stack pointer.
func (r *Registers) SetESP(v uint32) { r.GPR[ESP] = v }

// String formats the register dump printed on kernel panics.
func (r *Registers) String() string {
	var b strings.Builder
	for i, v := range r.GPR {
		fmt.Fprintf(&b, "%s=%#08x ", registerNames[i], v)
		if i == 3 {
			b.WriteByte('\n')
		}
	}
	fmt.Fprintf(&b, "\neip=%#08x eflags=%#08x cs=%#04x ss=%#04x ds=%#04x", r.EIP, r.EFLAGS, r.CS, r.SS, r.DS)
	return b.String()
}

// TrapFrameSize is the size of a TrapFrame on a kernel stack.
const TrapFrameSize = 19 * 4

// TrapFrame is the register state saved on a kernel stack when an interrupt is
// taken. Fields are listed from the lowest address. The CPU always pushes
// UserESP and SS, including for interrupts taken in ring 0.
type TrapFrame struct {
	EDI, ESI, EBP, ESP, EBX, EDX, ECX, EAX uint32
	GS, FS, ES, DS                         uint32
	IntNo, ErrCode                         uint32
	EIP, CS, EFLAGS, UserESP, SS           uint32
}

// FromUser returns true if the frame was pushed on a transition from ring 3.
func (tf *TrapFrame) FromUser() bool {
	return tf.CS&3 == 3
}

// Encode serializes the frame.
func (tf *TrapFrame) Encode() []byte {
	b := make([]byte, TrapFrameSize)
	for i, v := range tf.words() {
		binary.LittleEndian.PutUint32(b[i*4:], *v)
	}
	return b
}

// Decode fills the frame from b.
func (tf *TrapFrame) Decode(b []byte) {
	for i, v := range tf.words() {
		*v = binary.LittleEndian.Uint32(b[i*4:])
	}
}

func (tf *TrapFrame) words() []*uint32 {
	return []*uint32{
		&tf.EDI, &tf.ESI, &tf.EBP, &tf.ESP, &tf.EBX, &tf.EDX, &tf.ECX, &tf.EAX,
		&tf.GS, &tf.FS, &tf.ES, &tf.DS,
		&tf.IntNo, &tf.ErrCode,
		&tf.EIP, &tf.CS, &tf.EFLAGS, &tf.UserESP, &tf.SS,
	}
}

func (tf *TrapFrame) save(r *Registers) {
	tf.EAX, tf.ECX, tf.EDX, tf.EBX = r.GPR[EAX], r.GPR[ECX], r.GPR[EDX], r.GPR[EBX]
	tf.ESP, tf.EBP, tf.ESI, tf.EDI = r.GPR[ESP], r.GPR[EBP], r.GPR[ESI], r.GPR[EDI]
	tf.GS, tf.FS, tf.ES, tf.DS = uint32(r.GS), uint32(r.FS), uint32(r.ES), uint32(r.DS)
	tf.EIP, tf.CS, tf.EFLAGS = r.EIP, uint32(r.CS), r.EFLAGS
	tf.UserESP, tf.SS = r.GPR[ESP], uint32(r.SS)
}

func (tf *TrapFrame) restore(r *Registers) {
	r.GPR[EAX], r.GPR[ECX], r.GPR[EDX], r.GPR[EBX] = tf.EAX, tf.ECX, tf.EDX, tf.EBX
	r.GPR[EBP], r.GPR[ESI], r.GPR[EDI] = tf.EBP, tf.ESI, tf.EDI
	r.GS, r.FS, r.ES, r.DS = uint16(tf.GS), uint16(tf.FS), uint16(tf.ES), uint16(tf.DS)
	r.EIP, r.CS, r.EFLAGS = tf.EIP, uint16(tf.CS), tf.EFLAGS|FlagReserved
	r.GPR[ESP], r.SS = tf.UserESP, uint16(tf.SS)
}

// NewUserFrame returns the frame used to enter ring 3 for the first time.
func NewUserFrame(entry, stack uint32) TrapFrame {
	return TrapFrame{
		GS: UserDS, FS: UserDS, ES: UserDS, DS: UserDS,
		EIP:     entry,
		CS:      UserCS,
		EFLAGS:  FlagIF | FlagReserved,
		UserESP: stack,
		SS:      UserDS,
	}
}

// Panic is a kernel panic: a violated kernel invariant or an unrecoverable
// hardware fault. It carries the register state at the time of the panic.
type Panic struct {
	Message string
	Regs    Registers
	CR2     uint32
	CR3     uint32
	CPL     uint8
	Frame   *TrapFrame
}

// Error implements error.Error.
func (p *Panic) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "kernel panic: %s\n", p.Message)
	fmt.Fprintf(&b, "cpl=%d cr2=%#08x cr3=%#08x\n", p.CPL, p.CR2, p.CR3)
	b.WriteString(p.Regs.String())
	if tf := p.Frame; tf != nil {
		fmt.Fprintf(&b, "\ntrap: int=%d err=%#x eip=%#08x cs=%#x eflags=%#x esp=%#08x", tf.IntNo, tf.ErrCode, tf.EIP, tf.CS, tf.EFLAGS, tf.UserESP)
	}
	return b.String()
}
