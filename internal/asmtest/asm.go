// Package asmtest is a small RV32I text assembler used only to build
// byte-image fixtures for this module's tests. Production input is a
// raw binary image, never assembly text; this package exists purely
// so test cases can write "beq a0, a1, loop" instead of hand-encoding
// 32-bit words. Adapted from the label/preprocess-line idiom of the
// teacher's text-assembly compiler: collect label addresses in a first
// pass, then encode one instruction per line in a second, resolving
// label operands as each line is encoded.
package asmtest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var labelLine = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*:$`)

// Assemble turns newline-separated RV32I assembly text into a raw
// little-endian byte image, with code starting at offset 0. Labels are
// declared on their own line ("loop:") and referenced by name in a
// branch or jump operand ("bne a0, zero, loop"); the assembler resolves
// them to the pc-relative or absolute immediate the instruction expects.
func Assemble(src string) ([]byte, error) {
	var instrLines []string
	labels := make(map[string]uint32)

	addr := uint32(0)
	for _, raw := range strings.Split(src, "\n") {
		line := stripComment(raw)
		if line == "" {
			continue
		}
		if labelLine.MatchString(line) {
			labels[strings.TrimSuffix(line, ":")] = addr
			continue
		}
		instrLines = append(instrLines, line)
		addr += 4
	}

	out := make([]byte, 0, len(instrLines)*4)
	for i, line := range instrLines {
		word, err := encode(uint32(i*4), line, labels)
		if err != nil {
			return nil, fmt.Errorf("line %d (%q): %w", i+1, line, err)
		}
		out = append(out, byte(word), byte(word>>8), byte(word>>16), byte(word>>24))
	}
	return out, nil
}

func stripComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

var regNames = map[string]uint8{
	"zero": 0, "ra": 1, "sp": 2, "gp": 3, "tp": 4,
	"t0": 5, "t1": 6, "t2": 7, "s0": 8, "fp": 8, "s1": 9,
	"a0": 10, "a1": 11, "a2": 12, "a3": 13, "a4": 14, "a5": 15, "a6": 16, "a7": 17,
	"s2": 18, "s3": 19, "s4": 20, "s5": 21, "s6": 22, "s7": 23, "s8": 24, "s9": 25, "s10": 26, "s11": 27,
	"t3": 28, "t4": 29, "t5": 30, "t6": 31,
}

func reg(tok string) (uint8, error) {
	tok = strings.TrimSpace(tok)
	if r, ok := regNames[tok]; ok {
		return r, nil
	}
	if strings.HasPrefix(tok, "x") {
		n, err := strconv.Atoi(tok[1:])
		if err == nil && n >= 0 && n < 32 {
			return uint8(n), nil
		}
	}
	return 0, fmt.Errorf("unknown register %q", tok)
}

func fields(operands string) []string {
	parts := strings.Split(operands, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// memOperand parses "imm(reg)" loads/store syntax.
func memOperand(tok string) (imm int32, base uint8, err error) {
	open := strings.IndexByte(tok, '(')
	if open < 0 || !strings.HasSuffix(tok, ")") {
		return 0, 0, fmt.Errorf("expected imm(reg), got %q", tok)
	}
	immStr := strings.TrimSpace(tok[:open])
	regStr := tok[open+1 : len(tok)-1]
	v, err := strconv.ParseInt(immStr, 0, 32)
	if err != nil {
		return 0, 0, err
	}
	r, err := reg(regStr)
	if err != nil {
		return 0, 0, err
	}
	return int32(v), r, nil
}

func immOrLabel(tok string, here uint32, labels map[string]uint32, pcRelative bool) (int32, error) {
	tok = strings.TrimSpace(tok)
	if target, ok := labels[tok]; ok {
		if pcRelative {
			return int32(target - here), nil
		}
		return int32(target), nil
	}
	v, err := strconv.ParseInt(tok, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown label or immediate %q", tok)
	}
	return int32(v), nil
}

func encode(here uint32, line string, labels map[string]uint32) (uint32, error) {
	sp := strings.SplitN(line, " ", 2)
	mnemonic := strings.ToLower(sp[0])
	operands := ""
	if len(sp) == 2 {
		operands = sp[1]
	}

	switch mnemonic {
	case "nop":
		return encodeI(0x13, 0, 0, 0, 0), nil
	case "ecall":
		return 0x73, nil
	case "ebreak":
		return (1 << 20) | 0x73, nil

	case "lui", "auipc":
		f := fields(operands)
		rd, err := reg(f[0])
		if err != nil {
			return 0, err
		}
		imm, err := immOrLabel(f[1], here, labels, false)
		if err != nil {
			return 0, err
		}
		op := uint32(0x37)
		if mnemonic == "auipc" {
			op = 0x17
		}
		return (uint32(imm) & 0xfffff000) | uint32(rd)<<7 | op, nil

	case "jal":
		f := fields(operands)
		rd, err := reg(f[0])
		if err != nil {
			return 0, err
		}
		imm, err := immOrLabel(f[1], here, labels, true)
		if err != nil {
			return 0, err
		}
		return encodeJ(uint32(rd), imm), nil

	case "jalr":
		f := fields(operands)
		rd, err := reg(f[0])
		if err != nil {
			return 0, err
		}
		imm, rs1, err := memOperand(f[1])
		if err != nil {
			return 0, err
		}
		return encodeI(0x67, 0, uint32(rd), uint32(rs1), imm), nil

	case "beq", "bne", "blt", "bge", "bltu", "bgeu":
		f := fields(operands)
		rs1, err := reg(f[0])
		if err != nil {
			return 0, err
		}
		rs2, err := reg(f[1])
		if err != nil {
			return 0, err
		}
		imm, err := immOrLabel(f[2], here, labels, true)
		if err != nil {
			return 0, err
		}
		funct3 := map[string]uint32{"beq": 0, "bne": 1, "blt": 4, "bge": 5, "bltu": 6, "bgeu": 7}[mnemonic]
		return encodeB(funct3, uint32(rs1), uint32(rs2), imm), nil

	case "lb", "lh", "lw", "lbu", "lhu":
		f := fields(operands)
		rd, err := reg(f[0])
		if err != nil {
			return 0, err
		}
		imm, rs1, err := memOperand(f[1])
		if err != nil {
			return 0, err
		}
		funct3 := map[string]uint32{"lb": 0, "lh": 1, "lw": 2, "lbu": 4, "lhu": 5}[mnemonic]
		return encodeI(0x03, funct3, uint32(rd), uint32(rs1), imm), nil

	case "sb", "sh", "sw":
		f := fields(operands)
		rs2, err := reg(f[0])
		if err != nil {
			return 0, err
		}
		imm, rs1, err := memOperand(f[1])
		if err != nil {
			return 0, err
		}
		funct3 := map[string]uint32{"sb": 0, "sh": 1, "sw": 2}[mnemonic]
		return encodeS(funct3, uint32(rs1), uint32(rs2), imm), nil

	case "addi", "slti", "sltiu", "xori", "ori", "andi":
		f := fields(operands)
		rd, err := reg(f[0])
		if err != nil {
			return 0, err
		}
		rs1, err := reg(f[1])
		if err != nil {
			return 0, err
		}
		imm, err := immOrLabel(f[2], here, labels, false)
		if err != nil {
			return 0, err
		}
		funct3 := map[string]uint32{"addi": 0, "slti": 2, "sltiu": 3, "xori": 4, "ori": 6, "andi": 7}[mnemonic]
		return encodeI(0x13, funct3, uint32(rd), uint32(rs1), imm), nil

	case "slli", "srli", "srai":
		f := fields(operands)
		rd, err := reg(f[0])
		if err != nil {
			return 0, err
		}
		rs1, err := reg(f[1])
		if err != nil {
			return 0, err
		}
		shamt, err := immOrLabel(f[2], here, labels, false)
		if err != nil {
			return 0, err
		}
		funct7 := uint32(0)
		funct3 := uint32(1)
		if mnemonic == "srli" {
			funct3 = 5
		} else if mnemonic == "srai" {
			funct3 = 5
			funct7 = 0x20
		}
		return encodeR(0x13, funct3, funct7, uint32(rd), uint32(rs1), uint32(shamt)&0x1f), nil

	case "add", "sub", "sll", "slt", "sltu", "xor", "srl", "sra", "or", "and":
		f := fields(operands)
		rd, err := reg(f[0])
		if err != nil {
			return 0, err
		}
		rs1, err := reg(f[1])
		if err != nil {
			return 0, err
		}
		rs2, err := reg(f[2])
		if err != nil {
			return 0, err
		}
		funct3, funct7 := map[string][2]uint32{
			"add": {0, 0}, "sub": {0, 0x20}, "sll": {1, 0}, "slt": {2, 0}, "sltu": {3, 0},
			"xor": {4, 0}, "srl": {5, 0}, "sra": {5, 0x20}, "or": {6, 0}, "and": {7, 0},
		}[mnemonic][0], map[string][2]uint32{
			"add": {0, 0}, "sub": {0, 0x20}, "sll": {1, 0}, "slt": {2, 0}, "sltu": {3, 0},
			"xor": {4, 0}, "srl": {5, 0}, "sra": {5, 0x20}, "or": {6, 0}, "and": {7, 0},
		}[mnemonic][1]
		return encodeR(0x33, funct3, funct7, uint32(rd), uint32(rs1), uint32(rs2)), nil

	default:
		return 0, fmt.Errorf("unknown mnemonic %q", mnemonic)
	}
}

func encodeR(opcode, funct3, funct7, rd, rs1, rs2 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeI(opcode, funct3, rd, rs1 uint32, imm int32) uint32 {
	return (uint32(imm)&0xfff)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeS(funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7f)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (u&0x1f)<<7 | 0x23
}

func encodeB(funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	bit12 := (u >> 12) & 1
	bit11 := (u >> 11) & 1
	bits10_5 := (u >> 5) & 0x3f
	bits4_1 := (u >> 1) & 0xf
	return bit12<<31 | bits10_5<<25 | rs2<<20 | rs1<<15 | funct3<<12 | bits4_1<<8 | bit11<<7 | 0x63
}

func encodeJ(rd uint32, imm int32) uint32 {
	u := uint32(imm)
	bit20 := (u >> 20) & 1
	bits10_1 := (u >> 1) & 0x3ff
	bit11 := (u >> 11) & 1
	bits19_12 := (u >> 12) & 0xff
	return bit20<<31 | bits10_1<<21 | bit11<<20 | bits19_12<<12 | rd<<7 | 0x6f
}
