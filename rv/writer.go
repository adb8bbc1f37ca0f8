package rv

import (
	"fmt"
	"strings"
)

// Preamble is the file-level header every generated source file opens
// with: the includes and CPU-state type alias spec.md §4.2 requires.
// It names the runtime support library (rv_runtime.h) explicitly so
// the compiler invocation's dependency on it (spec.md §6) is visible
// in the generated source itself, not just on the command line.
const Preamble = `#include <stdint.h>
#include "rv_runtime.h"

`

// BlockSymbol formats the exported symbol name for a block, per
// spec.md §4.2: "block_{start:08x}_{end:08x}" lower-case zero-padded.
func BlockSymbol(b Block) string {
	return fmt.Sprintf("block_%08x_%08x", b.Start, b.End)
}

// BlockWriter implements Visitor to emit one block's body as a
// self-contained C function of signature (rv_cpu_t*) -> void.
type BlockWriter struct {
	img reader
	buf strings.Builder

	block     Block
	setNextPC bool // whether the last emitted statement assigned next_pc
}

// NewBlockWriter builds a writer over the given instruction reader.
func NewBlockWriter(img reader) *BlockWriter {
	return &BlockWriter{img: img}
}

// EmitBlock writes one block's function body into w and returns the
// generated C source for it. It walks the block exactly as discovery
// did: decode, dispatch, advance by width, stopping at End.
func (w *BlockWriter) EmitBlock(b Block) (string, error) {
	w.buf.Reset()
	w.block = b
	w.setNextPC = false

	fmt.Fprintf(&w.buf, "void %s(rv_cpu_t *cpu) {\n", BlockSymbol(b))

	addr := b.Start
	for addr < b.End {
		raw, err := w.img.FetchWord(addr)
		if err != nil {
			return "", err
		}
		ins, err := Decode(raw)
		if err != nil {
			fmt.Fprintf(&w.buf, "    rv_raise_illegal(cpu, 0x%08xu);\n", addr)
			w.setNextPC = true
			break
		}
		if err := Dispatch(w, addr, ins); err != nil {
			return "", err
		}
		addr += ins.Width
	}

	if !w.setNextPC {
		fmt.Fprintf(&w.buf, "    cpu->next_pc = 0x%08xu;\n", b.End)
	}
	w.buf.WriteString("}\n\n")
	return w.buf.String(), nil
}

func (w *BlockWriter) reg(r uint8) string {
	if r == 0 {
		return "0u"
	}
	return fmt.Sprintf("cpu->regs[%d]", r)
}

func (w *BlockWriter) storeReg(r uint8, expr string) {
	if r == 0 {
		return
	}
	fmt.Fprintf(&w.buf, "    cpu->regs[%d] = %s;\n", r, expr)
}

func (w *BlockWriter) StraightLine(addr uint32, ins Instruction) error {
	switch ins.Op {
	case OpLui:
		w.storeReg(ins.Rd, fmt.Sprintf("%duL", uint32(ins.Imm)))
	case OpAuipc:
		// PC-relative resolution happens here, at emit time: addr is
		// known now, so the result is folded into a literal.
		w.storeReg(ins.Rd, fmt.Sprintf("%duL", addr+uint32(ins.Imm)))
	case OpAddi:
		w.storeReg(ins.Rd, fmt.Sprintf("%s + (int32_t)%d", w.reg(ins.Rs1), ins.Imm))
	case OpSlti:
		w.storeReg(ins.Rd, fmt.Sprintf("((int32_t)%s < %d) ? 1u : 0u", w.reg(ins.Rs1), ins.Imm))
	case OpSltiu:
		w.storeReg(ins.Rd, fmt.Sprintf("(%s < %duL) ? 1u : 0u", w.reg(ins.Rs1), uint32(ins.Imm)))
	case OpXori:
		w.storeReg(ins.Rd, fmt.Sprintf("%s ^ %duL", w.reg(ins.Rs1), uint32(ins.Imm)))
	case OpOri:
		w.storeReg(ins.Rd, fmt.Sprintf("%s | %duL", w.reg(ins.Rs1), uint32(ins.Imm)))
	case OpAndi:
		w.storeReg(ins.Rd, fmt.Sprintf("%s & %duL", w.reg(ins.Rs1), uint32(ins.Imm)))
	case OpSlli:
		w.storeReg(ins.Rd, fmt.Sprintf("%s << %d", w.reg(ins.Rs1), ins.Imm&0x1f))
	case OpSrli:
		w.storeReg(ins.Rd, fmt.Sprintf("%s >> %d", w.reg(ins.Rs1), ins.Imm&0x1f))
	case OpSrai:
		w.storeReg(ins.Rd, fmt.Sprintf("(uint32_t)((int32_t)%s >> %d)", w.reg(ins.Rs1), ins.Imm&0x1f))
	case OpAdd:
		w.storeReg(ins.Rd, fmt.Sprintf("%s + %s", w.reg(ins.Rs1), w.reg(ins.Rs2)))
	case OpSub:
		w.storeReg(ins.Rd, fmt.Sprintf("%s - %s", w.reg(ins.Rs1), w.reg(ins.Rs2)))
	case OpSll:
		w.storeReg(ins.Rd, fmt.Sprintf("%s << (%s & 0x1fu)", w.reg(ins.Rs1), w.reg(ins.Rs2)))
	case OpSlt:
		w.storeReg(ins.Rd, fmt.Sprintf("((int32_t)%s < (int32_t)%s) ? 1u : 0u", w.reg(ins.Rs1), w.reg(ins.Rs2)))
	case OpSltu:
		w.storeReg(ins.Rd, fmt.Sprintf("(%s < %s) ? 1u : 0u", w.reg(ins.Rs1), w.reg(ins.Rs2)))
	case OpXor:
		w.storeReg(ins.Rd, fmt.Sprintf("%s ^ %s", w.reg(ins.Rs1), w.reg(ins.Rs2)))
	case OpSrl:
		w.storeReg(ins.Rd, fmt.Sprintf("%s >> (%s & 0x1fu)", w.reg(ins.Rs1), w.reg(ins.Rs2)))
	case OpSra:
		w.storeReg(ins.Rd, fmt.Sprintf("(uint32_t)((int32_t)%s >> (%s & 0x1fu))", w.reg(ins.Rs1), w.reg(ins.Rs2)))
	case OpOr:
		w.storeReg(ins.Rd, fmt.Sprintf("%s | %s", w.reg(ins.Rs1), w.reg(ins.Rs2)))
	case OpAnd:
		w.storeReg(ins.Rd, fmt.Sprintf("%s & %s", w.reg(ins.Rs1), w.reg(ins.Rs2)))
	case OpFence:
		// no memory model to enforce ordering in; straight-line no-op.
	case OpLb:
		fmt.Fprintf(&w.buf, "    { uint32_t a = %s + (int32_t)%d; int8_t v; if (!rv_load8(cpu, a, (uint8_t*)&v)) return; %s }\n",
			w.reg(ins.Rs1), ins.Imm, w.assignIfRd(ins.Rd, "(uint32_t)(int32_t)v"))
	case OpLbu:
		fmt.Fprintf(&w.buf, "    { uint32_t a = %s + (int32_t)%d; uint8_t v; if (!rv_load8(cpu, a, &v)) return; %s }\n",
			w.reg(ins.Rs1), ins.Imm, w.assignIfRd(ins.Rd, "(uint32_t)v"))
	case OpLh:
		fmt.Fprintf(&w.buf, "    { uint32_t a = %s + (int32_t)%d; int16_t v; if (!rv_load16(cpu, a, (uint16_t*)&v)) return; %s }\n",
			w.reg(ins.Rs1), ins.Imm, w.assignIfRd(ins.Rd, "(uint32_t)(int32_t)v"))
	case OpLhu:
		fmt.Fprintf(&w.buf, "    { uint32_t a = %s + (int32_t)%d; uint16_t v; if (!rv_load16(cpu, a, &v)) return; %s }\n",
			w.reg(ins.Rs1), ins.Imm, w.assignIfRd(ins.Rd, "(uint32_t)v"))
	case OpLw:
		fmt.Fprintf(&w.buf, "    { uint32_t a = %s + (int32_t)%d; uint32_t v; if (!rv_load32(cpu, a, &v)) return; %s }\n",
			w.reg(ins.Rs1), ins.Imm, w.assignIfRd(ins.Rd, "v"))
	case OpSb:
		fmt.Fprintf(&w.buf, "    { uint32_t a = %s + (int32_t)%d; if (!rv_store8(cpu, a, (uint8_t)%s)) return; }\n",
			w.reg(ins.Rs1), ins.Imm, w.reg(ins.Rs2))
	case OpSh:
		fmt.Fprintf(&w.buf, "    { uint32_t a = %s + (int32_t)%d; if (!rv_store16(cpu, a, (uint16_t)%s)) return; }\n",
			w.reg(ins.Rs1), ins.Imm, w.reg(ins.Rs2))
	case OpSw:
		fmt.Fprintf(&w.buf, "    { uint32_t a = %s + (int32_t)%d; if (!rv_store32(cpu, a, %s)) return; }\n",
			w.reg(ins.Rs1), ins.Imm, w.reg(ins.Rs2))
	default:
		fmt.Fprintf(&w.buf, "    rv_raise_illegal(cpu, 0x%08xu);\n", addr)
		w.setNextPC = true
	}
	return nil
}

// assignIfRd returns the register-store statement for a load result,
// or nothing when the destination is register 0 (writes discarded).
func (w *BlockWriter) assignIfRd(rd uint8, expr string) string {
	if rd == 0 {
		return ""
	}
	return fmt.Sprintf("cpu->regs[%d] = %s;", rd, expr)
}

func (w *BlockWriter) ConditionalBranch(addr uint32, ins Instruction) error {
	target := addr + uint32(ins.Imm)
	fallthroughAddr := addr + ins.Width
	cond := w.branchCond(ins)
	fmt.Fprintf(&w.buf, "    if (%s) { cpu->next_pc = 0x%08xu; } else { cpu->next_pc = 0x%08xu; }\n",
		cond, target, fallthroughAddr)
	w.setNextPC = true
	return nil
}

func (w *BlockWriter) branchCond(ins Instruction) string {
	a, b := w.reg(ins.Rs1), w.reg(ins.Rs2)
	switch ins.Op {
	case OpBeq:
		return fmt.Sprintf("%s == %s", a, b)
	case OpBne:
		return fmt.Sprintf("%s != %s", a, b)
	case OpBlt:
		return fmt.Sprintf("(int32_t)%s < (int32_t)%s", a, b)
	case OpBge:
		return fmt.Sprintf("(int32_t)%s >= (int32_t)%s", a, b)
	case OpBltu:
		return fmt.Sprintf("%s < %s", a, b)
	case OpBgeu:
		return fmt.Sprintf("%s >= %s", a, b)
	default:
		return "0"
	}
}

func (w *BlockWriter) DirectJump(addr uint32, ins Instruction) error {
	target := addr + uint32(ins.Imm)
	if ins.HasLink {
		w.storeReg(ins.Rd, fmt.Sprintf("%duL", addr+ins.Width))
	}
	fmt.Fprintf(&w.buf, "    cpu->next_pc = 0x%08xu;\n", target)
	w.setNextPC = true
	return nil
}

func (w *BlockWriter) IndirectJump(addr uint32, ins Instruction) error {
	// rs1 must be read into a local before the link register is
	// written: rd and rs1 can be the same register (jalr x1, x1, 0, or
	// any compressed c.jalr/c.jr on x1), and writing cpu->regs[rd]
	// first would corrupt the target this statement computes.
	fmt.Fprintf(&w.buf, "    uint32_t target = (%s + (int32_t)%d) & ~1u;\n", w.reg(ins.Rs1), ins.Imm)
	if ins.HasLink {
		w.storeReg(ins.Rd, fmt.Sprintf("%duL", addr+ins.Width))
	}
	w.buf.WriteString("    cpu->next_pc = target;\n")
	w.setNextPC = true
	return nil
}

func (w *BlockWriter) EnvironmentTrap(addr uint32, ins Instruction) error {
	switch ins.Op {
	case OpEcall:
		fmt.Fprintf(&w.buf, "    cpu->next_pc = 0x%08xu;\n    rv_raise_ecall(cpu);\n    return;\n", addr+ins.Width)
	case OpEbreak:
		fmt.Fprintf(&w.buf, "    cpu->next_pc = 0x%08xu;\n    rv_raise_ebreak(cpu);\n    return;\n", addr)
	}
	w.setNextPC = true
	return nil
}
