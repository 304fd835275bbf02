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

// Package asm assembles user programs for the machine's ring-3 instruction
// set.
//
// A source file is a sequence of lines. Each line holds an optional label
// ("name:"), then an instruction or directive, then an optional comment
// starting with ';' or '#'. The .text and .data directives switch sections;
// .asciz, .ascii, .byte, .word and .space emit data. Immediates may be
// decimal, hexadecimal, character literals or symbols with an optional
// +/- offset. Memory operands are written [reg], [reg+imm] or [reg-imm].
//
//	.text
//	_start:
//		movi eax, 18       ; write
//		movi ebx, 1
//		movi ecx, msg
//		movi edx, 6
//		int 0x80
//	.data
//	msg: .asciz "hello"
package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jsnal/os-sub000/pkg/machine"
	"github.com/jsnal/os-sub000/pkg/mem"
)

// DefaultTextBase is where text is placed when Options.TextBase is zero.
const DefaultTextBase = 0x08048000

// Options control layout.
type Options struct {
	// TextBase is the load address of the text section.
	TextBase uint32
}

// Program is an assembled program. Data starts on the page after text.
type Program struct {
	TextBase uint32
	Text     []byte
	DataBase uint32
	Data     []byte
	Entry    uint32
	Symbols  map[string]uint32
}

// Error is an assembly error at a source line.
type Error struct {
	Line int
	Msg  string
}

// Error implements error.Error.
func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

type section int

const (
	text section = iota
	data
)

type statement struct {
	line     int
	section  section
	mnemonic string
	operands []string
	raw      string
}

// Assemble assembles src.
func Assemble(src string, opts Options) (*Program, error) {
	if opts.TextBase == 0 {
		opts.TextBase = DefaultTextBase
	}
	if !mem.VirtAddr(opts.TextBase).IsPageAligned() {
		return nil, fmt.Errorf("text base %#x is not page aligned", opts.TextBase)
	}

	// Pass one: sizes and label offsets.
	stmts, labels, err := parse(src)
	if err != nil {
		return nil, err
	}
	var size [2]uint32
	offsets := make(map[string]struct {
		sec section
		off uint32
	})
	for _, s := range stmts {
		for _, l := range labels[s.line] {
			if _, dup := offsets[l.name]; dup {
				return nil, &Error{Line: s.line, Msg: fmt.Sprintf("duplicate label %q", l.name)}
			}
			offsets[l.name] = struct {
				sec section
				off uint32
			}{l.section, size[l.section]}
		}
		if s.mnemonic == "" {
			continue
		}
		n, err := s.size()
		if err != nil {
			return nil, err
		}
		size[s.section] += n
	}

	p := &Program{
		TextBase: opts.TextBase,
		Symbols:  make(map[string]uint32),
	}
	dataBase, ok := mem.VirtAddr(opts.TextBase + size[text]).RoundUp()
	if !ok {
		return nil, fmt.Errorf("text section too large")
	}
	if size[text] == 0 {
		dataBase = mem.VirtAddr(opts.TextBase)
	}
	p.DataBase = uint32(dataBase)
	for name, o := range offsets {
		base := p.TextBase
		if o.sec == data {
			base = p.DataBase
		}
		p.Symbols[name] = base + o.off
	}

	// Pass two: emit.
	for _, s := range stmts {
		if s.mnemonic == "" {
			continue
		}
		b, err := s.emit(p.Symbols)
		if err != nil {
			return nil, err
		}
		if s.section == text {
			p.Text = append(p.Text, b...)
		} else {
			p.Data = append(p.Data, b...)
		}
	}

	p.Entry = p.TextBase
	for _, name := range []string{"_start", "start"} {
		if addr, ok := p.Symbols[name]; ok {
			p.Entry = addr
			break
		}
	}
	return p, nil
}

type label struct {
	name    string
	section section
}

func parse(src string) ([]statement, map[int][]label, error) {
	var stmts []statement
	labels := make(map[int][]label)
	sec := text
	for i, line := range strings.Split(src, "\n") {
		lineno := i + 1
		line = stripComment(line)
		for {
			line = strings.TrimSpace(line)
			colon := strings.IndexByte(line, ':')
			if colon < 0 || strings.ContainsAny(line[:colon], " \t\"'") {
				break
			}
			name := line[:colon]
			if !isIdent(name) {
				return nil, nil, &Error{Line: lineno, Msg: fmt.Sprintf("bad label %q", name)}
			}
			labels[lineno] = append(labels[lineno], label{name: name, section: sec})
			line = line[colon+1:]
		}
		s := statement{line: lineno, section: sec}
		if line != "" {
			fields := strings.Fields(line)
			s.mnemonic = strings.ToLower(fields[0])
			s.raw = strings.TrimSpace(line[len(fields[0]):])
			switch s.mnemonic {
			case ".text":
				sec = text
				s.mnemonic = ""
			case ".data":
				sec = data
				s.mnemonic = ""
			case ".asciz", ".ascii":
			default:
				if s.raw != "" {
					for _, op := range strings.Split(s.raw, ",") {
						s.operands = append(s.operands, strings.TrimSpace(op))
					}
				}
			}
		}
		stmts = append(stmts, s)
	}
	return stmts, labels, nil
}

func stripComment(line string) string {
	inString := false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '\\' && inString:
			i++
		case c == '"':
			inString = !inString
		case (c == ';' || c == '#') && !inString:
			return line[:i]
		}
	}
	return line
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || c == '.' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func (s *statement) errorf(format string, v ...any) error {
	return &Error{Line: s.line, Msg: fmt.Sprintf(format, v...)}
}

func (s *statement) size() (uint32, error) {
	switch s.mnemonic {
	case ".asciz", ".ascii":
		str, err := s.stringOperand()
		if err != nil {
			return 0, err
		}
		n := uint32(len(str))
		if s.mnemonic == ".asciz" {
			n++
		}
		return n, nil
	case ".byte":
		return uint32(len(s.operands)), nil
	case ".word":
		return 4 * uint32(len(s.operands)), nil
	case ".space":
		if len(s.operands) != 1 {
			return 0, s.errorf(".space takes one operand")
		}
		n, err := parseNumber(s.operands[0])
		if err != nil {
			return 0, s.errorf("%v", err)
		}
		return n, nil
	}
	if strings.HasPrefix(s.mnemonic, ".") {
		return 0, s.errorf("unknown directive %s", s.mnemonic)
	}
	if s.section != text {
		return 0, s.errorf("instruction %s outside .text", s.mnemonic)
	}
	return machine.InstructionSize, nil
}

func (s *statement) stringOperand() (string, error) {
	str, err := strconv.Unquote(s.raw)
	if err != nil {
		return "", s.errorf("bad string literal %s", s.raw)
	}
	return str, nil
}

func (s *statement) emit(symbols map[string]uint32) ([]byte, error) {
	switch s.mnemonic {
	case ".asciz", ".ascii":
		str, err := s.stringOperand()
		if err != nil {
			return nil, err
		}
		b := []byte(str)
		if s.mnemonic == ".asciz" {
			b = append(b, 0)
		}
		return b, nil
	case ".byte", ".word":
		var b []byte
		for _, op := range s.operands {
			v, err := immediate(op, symbols)
			if err != nil {
				return nil, s.errorf("%v", err)
			}
			if s.mnemonic == ".byte" {
				b = append(b, byte(v))
			} else {
				b = append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
			}
		}
		return b, nil
	case ".space":
		n, _ := parseNumber(s.operands[0])
		return make([]byte, n), nil
	}
	in, err := s.instruction(symbols)
	if err != nil {
		return nil, err
	}
	return in.Encode(), nil
}

func (s *statement) want(n int) error {
	if len(s.operands) != n {
		return s.errorf("%s takes %d operand(s), got %d", s.mnemonic, n, len(s.operands))
	}
	return nil
}

func (s *statement) register(i int) (uint8, error) {
	r, ok := machine.RegisterByName(strings.ToLower(s.operands[i]))
	if !ok {
		return 0, s.errorf("%s: operand %d: want register, got %q", s.mnemonic, i+1, s.operands[i])
	}
	return r, nil
}

func (s *statement) memory(i int, symbols map[string]uint32) (uint8, uint32, error) {
	op := s.operands[i]
	if !strings.HasPrefix(op, "[") || !strings.HasSuffix(op, "]") {
		return 0, 0, s.errorf("%s: operand %d: want memory operand, got %q", s.mnemonic, i+1, op)
	}
	inner := strings.TrimSpace(op[1 : len(op)-1])
	base, off := inner, ""
	if j := strings.IndexAny(inner, "+-"); j >= 0 {
		base, off = strings.TrimSpace(inner[:j]), strings.TrimSpace(inner[j:])
	}
	r, ok := machine.RegisterByName(strings.ToLower(base))
	if !ok {
		return 0, 0, s.errorf("%s: bad base register %q", s.mnemonic, base)
	}
	if off == "" {
		return r, 0, nil
	}
	neg := off[0] == '-'
	v, err := immediate(strings.TrimSpace(off[1:]), symbols)
	if err != nil {
		return 0, 0, s.errorf("%v", err)
	}
	if neg {
		v = -v
	}
	return r, v, nil
}

func (s *statement) imm(i int, symbols map[string]uint32) (uint32, error) {
	v, err := immediate(s.operands[i], symbols)
	if err != nil {
		return 0, s.errorf("%s: %v", s.mnemonic, err)
	}
	return v, nil
}

// immediateForms maps register-register mnemonics to their immediate form.
var immediateForms = map[string]machine.Opcode{
	"mov": machine.OpMOVI,
	"add": machine.OpADDI,
	"sub": machine.OpSUBI,
	"cmp": machine.OpCMPI,
}

func (s *statement) instruction(symbols map[string]uint32) (machine.Instruction, error) {
	op, ok := machine.OpcodeByName(s.mnemonic)
	if !ok {
		return machine.Instruction{}, s.errorf("unknown instruction %q", s.mnemonic)
	}
	in := machine.Instruction{Op: op}
	var err error
	switch op {
	case machine.OpNOP, machine.OpRET, machine.OpHLT, machine.OpCLI, machine.OpSTI:
		err = s.want(0)
	case machine.OpMOV, machine.OpADD, machine.OpSUB, machine.OpCMP:
		if err = s.want(2); err != nil {
			break
		}
		if in.R1, err = s.register(0); err != nil {
			break
		}
		if r, ok := machine.RegisterByName(strings.ToLower(s.operands[1])); ok {
			in.R2 = r
			break
		}
		in.Op = immediateForms[s.mnemonic]
		in.Imm, err = s.imm(1, symbols)
	case machine.OpMOVI, machine.OpADDI, machine.OpSUBI, machine.OpCMPI:
		if err = s.want(2); err != nil {
			break
		}
		if in.R1, err = s.register(0); err != nil {
			break
		}
		in.Imm, err = s.imm(1, symbols)
	case machine.OpLD, machine.OpLDB:
		if err = s.want(2); err != nil {
			break
		}
		if in.R1, err = s.register(0); err != nil {
			break
		}
		in.R2, in.Imm, err = s.memory(1, symbols)
	case machine.OpST, machine.OpSTB:
		if err = s.want(2); err != nil {
			break
		}
		if in.R1, in.Imm, err = s.memory(0, symbols); err != nil {
			break
		}
		in.R2, err = s.register(1)
	case machine.OpJMP, machine.OpJZ, machine.OpJNZ, machine.OpJL, machine.OpJGE, machine.OpCALL, machine.OpINT:
		if err = s.want(1); err != nil {
			break
		}
		in.Imm, err = s.imm(0, symbols)
	case machine.OpPUSH, machine.OpPOP:
		if err = s.want(1); err != nil {
			break
		}
		in.R1, err = s.register(0)
	}
	return in, err
}

func parseNumber(s string) (uint32, error) {
	if len(s) == 3 && s[0] == '\'' && s[2] == '\'' {
		return uint32(s[1]), nil
	}
	if strings.HasPrefix(s, "'") {
		r, err := strconv.Unquote(s)
		if err != nil || len(r) != 1 {
			return 0, fmt.Errorf("bad character literal %s", s)
		}
		return uint32(r[0]), nil
	}
	neg := strings.HasPrefix(s, "-")
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "-"), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	if neg {
		return uint32(-int64(v)), nil
	}
	return uint32(v), nil
}

func immediate(s string, symbols map[string]uint32) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing immediate")
	}
	if c := s[0]; (c >= '0' && c <= '9') || c == '-' || c == '\'' {
		return parseNumber(s)
	}
	name, off := s, ""
	if j := strings.IndexAny(s, "+-"); j > 0 {
		name, off = strings.TrimSpace(s[:j]), strings.TrimSpace(s[j:])
	}
	v, ok := symbols[name]
	if !ok {
		return 0, fmt.Errorf("undefined symbol %q", name)
	}
	if off != "" {
		d, err := parseNumber(strings.TrimSpace(off[1:]))
		if err != nil {
			return 0, err
		}
		if off[0] == '-' {
			d = -d
		}
		v += d
	}
	return v, nil
}
