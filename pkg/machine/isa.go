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

	"github.com/jsnal/os-sub000/pkg/mem"
)

// InstructionSize is the fixed width of a user instruction.
const InstructionSize = 8

// Opcode is a user instruction opcode.
type Opcode uint8

// Opcodes of the user instruction set. Loads and stores address [r2+imm] and
// [r1+imm] respectively; jumps and calls take absolute targets in imm.
const (
	OpNOP Opcode = iota
	OpMOVI
	OpMOV
	OpLD
	OpLDB
	OpST
	OpSTB
	OpADD
	OpADDI
	OpSUB
	OpSUBI
	OpCMP
	OpCMPI
	OpJMP
	OpJZ
	OpJNZ
	OpJL
	OpJGE
	OpCALL
	OpRET
	OpPUSH
	OpPOP
	OpINT
	OpHLT
	OpCLI
	OpSTI
	numOpcodes
)

var opcodeNames = [numOpcodes]string{
	"nop", "movi", "mov", "ld", "ldb", "st", "stb", "add", "addi", "sub", "subi",
	"cmp", "cmpi", "jmp", "jz", "jnz", "jl", "jge", "call", "ret", "push", "pop",
	"int", "hlt", "cli", "sti",
}

// String implements fmt.Stringer.String.
func (o Opcode) String() string {
	if o >= numOpcodes {
		return fmt.Sprintf("op%#x", uint8(o))
	}
	return opcodeNames[o]
}

// OpcodeByName returns the opcode with the given mnemonic.
func OpcodeByName(name string) (Opcode, bool) {
	for i, n := range opcodeNames {
		if n == name {
			return Opcode(i), true
		}
	}
	return 0, false
}

// Instruction is a decoded user instruction. The encoding is
// [op][r1][r2][reserved][imm32 little endian].
type Instruction struct {
	Op  Opcode
	R1  uint8
	R2  uint8
	Imm uint32
}

// Encode returns the machine encoding of i.
func (i Instruction) Encode() []byte {
	b := make([]byte, InstructionSize)
	b[0], b[1], b[2] = byte(i.Op), i.R1, i.R2
	binary.LittleEndian.PutUint32(b[4:], i.Imm)
	return b
}

// DecodeInstruction decodes the instruction at the start of b.
func DecodeInstruction(b []byte) Instruction {
	return Instruction{
		Op:  Opcode(b[0]),
		R1:  b[1],
		R2:  b[2],
		Imm: binary.LittleEndian.Uint32(b[4:]),
	}
}

// String implements fmt.Stringer.String.
func (i Instruction) String() string {
	return fmt.Sprintf("%v %s, %s, %#x", i.Op, RegisterName(i.R1), RegisterName(i.R2), i.Imm)
}

func (m *Machine) userRead(addr uint32, b []byte) error {
	return m.MMU.access(mem.VirtAddr(addr), b, false, true)
}

func (m *Machine) userWrite(addr uint32, b []byte) error {
	return m.MMU.access(mem.VirtAddr(addr), b, true, true)
}

func (m *Machine) setResultFlags(v uint32) {
	m.Regs.EFLAGS &^= FlagZF | FlagSF | FlagOF | FlagCF
	if v == 0 {
		m.Regs.EFLAGS |= FlagZF
	}
	if int32(v) < 0 {
		m.Regs.EFLAGS |= FlagSF
	}
}

func (m *Machine) compare(a, b uint32) {
	r := a - b
	m.setResultFlags(r)
	if ((a^b)&(a^r))>>31 != 0 {
		m.Regs.EFLAGS |= FlagOF
	}
	if a < b {
		m.Regs.EFLAGS |= FlagCF
	}
}

func (m *Machine) less() bool {
	sf := m.Regs.EFLAGS&FlagSF != 0
	of := m.Regs.EFLAGS&FlagOF != 0
	return sf != of
}

func (m *Machine) push(v uint32) error {
	sp := m.Regs.ESP() - 4
	var b [4]byte
	putWord(b[:], v)
	if err := m.userWrite(sp, b[:]); err != nil {
		return err
	}
	m.Regs.SetESP(sp)
	return nil
}

func (m *Machine) pop() (uint32, error) {
	var b [4]byte
	if err := m.userRead(m.Regs.ESP(), b[:]); err != nil {
		return 0, err
	}
	m.Regs.SetESP(m.Regs.ESP() + 4)
	return getWord(b[:]), nil
}

// execute runs the user instruction at eip. A faulting instruction raises
// its exception with eip still pointing at it.
func (m *Machine) execute() {
	eip := m.Regs.EIP
	raw := make([]byte, InstructionSize)
	if err := m.userRead(eip, raw); err != nil {
		m.fault(err)
		return
	}
	in := DecodeInstruction(raw)
	if in.Op >= numOpcodes || in.R1 >= NumRegisters || in.R2 >= NumRegisters {
		m.deliver(VectorInvalidOpcode, 0, false)
		return
	}
	r := &m.Regs.GPR
	next := eip + InstructionSize
	var err error
	switch in.Op {
	case OpNOP:
	case OpMOVI:
		r[in.R1] = in.Imm
	case OpMOV:
		r[in.R1] = r[in.R2]
	case OpLD:
		var b [4]byte
		if err = m.userRead(r[in.R2]+in.Imm, b[:]); err == nil {
			r[in.R1] = getWord(b[:])
		}
	case OpLDB:
		var b [1]byte
		if err = m.userRead(r[in.R2]+in.Imm, b[:]); err == nil {
			r[in.R1] = uint32(b[0])
		}
	case OpST:
		var b [4]byte
		putWord(b[:], r[in.R2])
		err = m.userWrite(r[in.R1]+in.Imm, b[:])
	case OpSTB:
		err = m.userWrite(r[in.R1]+in.Imm, []byte{byte(r[in.R2])})
	case OpADD:
		r[in.R1] += r[in.R2]
		m.setResultFlags(r[in.R1])
	case OpADDI:
		r[in.R1] += in.Imm
		m.setResultFlags(r[in.R1])
	case OpSUB:
		m.compare(r[in.R1], r[in.R2])
		r[in.R1] -= r[in.R2]
	case OpSUBI:
		m.compare(r[in.R1], in.Imm)
		r[in.R1] -= in.Imm
	case OpCMP:
		m.compare(r[in.R1], r[in.R2])
	case OpCMPI:
		m.compare(r[in.R1], in.Imm)
	case OpJMP:
		next = in.Imm
	case OpJZ:
		if m.Regs.EFLAGS&FlagZF != 0 {
			next = in.Imm
		}
	case OpJNZ:
		if m.Regs.EFLAGS&FlagZF == 0 {
			next = in.Imm
		}
	case OpJL:
		if m.less() {
			next = in.Imm
		}
	case OpJGE:
		if !m.less() {
			next = in.Imm
		}
	case OpCALL:
		if err = m.push(next); err == nil {
			next = in.Imm
		}
	case OpRET:
		next, err = m.pop()
	case OpPUSH:
		err = m.push(r[in.R1])
	case OpPOP:
		var v uint32
		if v, err = m.pop(); err == nil {
			r[in.R1] = v
		}
	case OpINT:
		m.Regs.EIP = next
		m.instructions++
		m.deliver(uint8(in.Imm), 0, true)
		return
	case OpHLT, OpCLI, OpSTI:
		m.deliver(VectorGeneralProtection, 0, false)
		return
	}
	if err != nil {
		m.fault(err)
		return
	}
	m.Regs.EIP = next
	m.instructions++
}
